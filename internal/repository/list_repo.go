package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"familytasks/internal/database"
	"familytasks/internal/models"
)

// ListRepository handles database operations for family lists and their items
type ListRepository struct {
	db database.DBTX
}

// NewListRepository creates a new list repository
func NewListRepository(db database.DBTX) *ListRepository {
	return &ListRepository{db: db}
}

// CreateList inserts a new list for a family
func (r *ListRepository) CreateList(ctx context.Context, familyID int64, name string, kind models.ListKind, createdBy int64) (*models.List, error) {
	now := time.Now().UTC()
	query := `
		INSERT INTO lists (family_id, name, kind, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	id, err := r.db.ExecReturningID(ctx, query, familyID, name, string(kind), createdBy, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create list: %w", err)
	}

	return &models.List{
		ID:        id,
		FamilyID:  familyID,
		Name:      name,
		Kind:      kind,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

const listSelect = `
	SELECT l.id, l.family_id, l.name, l.kind, l.created_by, COUNT(i.id), l.created_at, l.updated_at
	FROM lists l
	LEFT JOIN list_items i ON i.list_id = l.id
`

const listGroupBy = " GROUP BY l.id, l.family_id, l.name, l.kind, l.created_by, l.created_at, l.updated_at "

// GetList retrieves a list by ID, scoped to a family
func (r *ListRepository) GetList(ctx context.Context, familyID, listID int64) (*models.List, error) {
	query := listSelect + "WHERE l.id = ? AND l.family_id = ?" + listGroupBy
	list, err := scanList(r.db.QueryRowContext(ctx, query, listID, familyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get list: %w", err)
	}
	return list, nil
}

// GetFamilyLists returns all lists of a family, most recently updated first
func (r *ListRepository) GetFamilyLists(ctx context.Context, familyID int64) ([]models.List, error) {
	query := listSelect + "WHERE l.family_id = ?" + listGroupBy + "ORDER BY l.updated_at DESC, l.id DESC"
	rows, err := r.db.QueryContext(ctx, query, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lists: %w", err)
	}
	defer rows.Close()

	lists := []models.List{}
	for rows.Next() {
		list, err := scanList(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan list: %w", err)
		}
		lists = append(lists, *list)
	}
	return lists, rows.Err()
}

// RenameList updates a list's name
func (r *ListRepository) RenameList(ctx context.Context, familyID, listID int64, name string) (bool, error) {
	query := "UPDATE lists SET name = ?, updated_at = ? WHERE id = ? AND family_id = ?"
	res, err := r.db.ExecContext(ctx, query, name, time.Now().UTC(), listID, familyID)
	if err != nil {
		return false, fmt.Errorf("failed to rename list: %w", err)
	}
	return affected(res)
}

// DeleteList removes a list; its items cascade
func (r *ListRepository) DeleteList(ctx context.Context, familyID, listID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM lists WHERE id = ? AND family_id = ?", listID, familyID)
	if err != nil {
		return false, fmt.Errorf("failed to delete list: %w", err)
	}
	return affected(res)
}

// CreateItem adds an item to a list
func (r *ListRepository) CreateItem(ctx context.Context, listID int64, title string, createdBy int64) (*models.Item, error) {
	now := time.Now().UTC()
	query := `
		INSERT INTO list_items (list_id, title, completed, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	id, err := r.db.ExecReturningID(ctx, query, listID, title, false, createdBy, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}
	if err := r.touchList(ctx, listID, now); err != nil {
		return nil, err
	}

	return &models.Item{
		ID:        id,
		ListID:    listID,
		Title:     title,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

const itemColumns = "i.id, i.list_id, i.title, i.completed, i.created_by, i.created_at, i.updated_at"

// GetListItems returns the items of a list, open items first
func (r *ListRepository) GetListItems(ctx context.Context, listID int64) ([]models.Item, error) {
	query := "SELECT " + itemColumns + " FROM list_items i WHERE i.list_id = ? ORDER BY i.completed, i.id"
	rows, err := r.db.QueryContext(ctx, query, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	items := []models.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// GetItem retrieves an item by ID, scoped through its list to a family
func (r *ListRepository) GetItem(ctx context.Context, familyID, itemID int64) (*models.Item, error) {
	query := "SELECT " + itemColumns + `
		FROM list_items i
		INNER JOIN lists l ON l.id = i.list_id
		WHERE i.id = ? AND l.family_id = ?
	`
	item, err := scanItem(r.db.QueryRowContext(ctx, query, itemID, familyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// UpdateItem stores an item's title and completion state
func (r *ListRepository) UpdateItem(ctx context.Context, item *models.Item) error {
	now := time.Now().UTC()
	query := "UPDATE list_items SET title = ?, completed = ?, updated_at = ? WHERE id = ?"
	if _, err := r.db.ExecContext(ctx, query, item.Title, item.Completed, now, item.ID); err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	item.UpdatedAt = now
	return r.touchList(ctx, item.ListID, now)
}

// DeleteItem removes an item
func (r *ListRepository) DeleteItem(ctx context.Context, item *models.Item) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM list_items WHERE id = ?", item.ID); err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return r.touchList(ctx, item.ListID, time.Now().UTC())
}

// touchList bumps a list's updated_at so recently changed lists sort first
func (r *ListRepository) touchList(ctx context.Context, listID int64, now time.Time) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE lists SET updated_at = ? WHERE id = ?", now, listID); err != nil {
		return fmt.Errorf("failed to touch list: %w", err)
	}
	return nil
}

func scanList(row rowScanner) (*models.List, error) {
	list := &models.List{}
	var kind string
	err := row.Scan(
		&list.ID,
		&list.FamilyID,
		&list.Name,
		&kind,
		&list.CreatedBy,
		&list.ItemCount,
		&list.CreatedAt,
		&list.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	list.Kind = models.ListKind(kind)
	return list, nil
}

func scanItem(row rowScanner) (*models.Item, error) {
	item := &models.Item{}
	err := row.Scan(
		&item.ID,
		&item.ListID,
		&item.Title,
		&item.Completed,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return item, nil
}
