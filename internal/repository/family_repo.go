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

// FamilyRepository handles database operations for families and their members
type FamilyRepository struct {
	db database.DBTX
}

// NewFamilyRepository creates a new family repository
func NewFamilyRepository(db database.DBTX) *FamilyRepository {
	return &FamilyRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *FamilyRepository) WithTx(tx *database.Tx) *FamilyRepository {
	return &FamilyRepository{db: tx}
}

// CreateFamily inserts a new family
func (r *FamilyRepository) CreateFamily(ctx context.Context, name string) (*models.Family, error) {
	now := time.Now().UTC()
	query := "INSERT INTO families (name, created_at, updated_at) VALUES (?, ?, ?)"
	id, err := r.db.ExecReturningID(ctx, query, name, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create family: %w", err)
	}

	return &models.Family{
		ID:        id,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetFamily retrieves a family by ID
func (r *FamilyRepository) GetFamily(ctx context.Context, familyID int64) (*models.Family, error) {
	query := "SELECT id, name, created_at, updated_at FROM families WHERE id = ?"
	family := &models.Family{}
	err := r.db.QueryRowContext(ctx, query, familyID).Scan(
		&family.ID,
		&family.Name,
		&family.CreatedAt,
		&family.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get family: %w", err)
	}

	return family, nil
}

// RenameFamily updates a family's name
func (r *FamilyRepository) RenameFamily(ctx context.Context, familyID int64, name string) (bool, error) {
	query := "UPDATE families SET name = ?, updated_at = ? WHERE id = ?"
	res, err := r.db.ExecContext(ctx, query, name, time.Now().UTC(), familyID)
	if err != nil {
		return false, fmt.Errorf("failed to rename family: %w", err)
	}
	return affected(res)
}

// CreateAppUser adds an identity to a family with a role
func (r *FamilyRepository) CreateAppUser(ctx context.Context, userID, familyID int64, role models.Role, displayName string) (*models.AppUser, error) {
	now := time.Now().UTC()
	query := `
		INSERT INTO app_users (user_id, family_id, role, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	id, err := r.db.ExecReturningID(ctx, query, userID, familyID, string(role), displayName, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create app user: %w", err)
	}

	return &models.AppUser{
		ID:          id,
		UserID:      userID,
		FamilyID:    familyID,
		Role:        role,
		DisplayName: displayName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

const appUserSelect = `
	SELECT a.id, a.user_id, a.family_id, a.role, a.display_name, u.email, a.created_at, a.updated_at
	FROM app_users a
	INNER JOIN users u ON u.id = a.user_id
`

// GetAppUser retrieves an app user by ID
func (r *FamilyRepository) GetAppUser(ctx context.Context, appUserID int64) (*models.AppUser, error) {
	return r.getAppUser(ctx, appUserSelect+"WHERE a.id = ?", appUserID)
}

// GetAppUserByUserID retrieves the app user of an identity
func (r *FamilyRepository) GetAppUserByUserID(ctx context.Context, userID int64) (*models.AppUser, error) {
	return r.getAppUser(ctx, appUserSelect+"WHERE a.user_id = ?", userID)
}

func (r *FamilyRepository) getAppUser(ctx context.Context, query string, arg int64) (*models.AppUser, error) {
	user, err := scanAppUser(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get app user: %w", err)
	}
	return user, nil
}

// ListMembers returns the members of a family ordered by role then name
func (r *FamilyRepository) ListMembers(ctx context.Context, familyID int64) ([]models.AppUser, error) {
	query := appUserSelect + `
		WHERE a.family_id = ?
		ORDER BY CASE a.role WHEN 'ADMIN' THEN 0 WHEN 'ADULT' THEN 1 ELSE 2 END, a.display_name, a.id
	`
	rows, err := r.db.QueryContext(ctx, query, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var members []models.AppUser
	for rows.Next() {
		member, err := scanAppUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, *member)
	}
	return members, rows.Err()
}

// UpdateRole changes a member's role within a family
func (r *FamilyRepository) UpdateRole(ctx context.Context, familyID, appUserID int64, role models.Role) (bool, error) {
	query := "UPDATE app_users SET role = ?, updated_at = ? WHERE id = ? AND family_id = ?"
	res, err := r.db.ExecContext(ctx, query, string(role), time.Now().UTC(), appUserID, familyID)
	if err != nil {
		return false, fmt.Errorf("failed to update role: %w", err)
	}
	return affected(res)
}

// LockFamily touches the family row so concurrent membership changes in the same family
// run one at a time. Call it first inside a transaction; the lock is held until commit.
func (r *FamilyRepository) LockFamily(ctx context.Context, familyID int64) (bool, error) {
	query := "UPDATE families SET updated_at = ? WHERE id = ?"
	res, err := r.db.ExecContext(ctx, query, time.Now().UTC(), familyID)
	if err != nil {
		return false, fmt.Errorf("failed to lock family: %w", err)
	}
	return affected(res)
}

// CountAdmins returns how many ADMIN members a family has
func (r *FamilyRepository) CountAdmins(ctx context.Context, familyID int64) (int, error) {
	query := "SELECT COUNT(*) FROM app_users WHERE family_id = ? AND role = ?"
	var count int
	if err := r.db.QueryRowContext(ctx, query, familyID, string(models.RoleAdmin)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count admins: %w", err)
	}
	return count, nil
}

func scanAppUser(row rowScanner) (*models.AppUser, error) {
	user := &models.AppUser{}
	var role string
	err := row.Scan(
		&user.ID,
		&user.UserID,
		&user.FamilyID,
		&role,
		&user.DisplayName,
		&user.Email,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Role = models.Role(role)
	return user, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}
