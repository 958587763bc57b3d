package service

import (
	"context"
	"fmt"
	"strings"

	"familytasks/internal/models"
	"familytasks/internal/repository"
	"familytasks/internal/security"
	"familytasks/internal/validation"
)

// ListDetail is a list together with its items
type ListDetail struct {
	models.List
	Items []models.Item `json:"items"`
}

// UpdateItemInput holds optional item changes
type UpdateItemInput struct {
	Title     *string
	Completed *bool
}

// ListService handles family shopping and task lists
type ListService struct {
	lists *repository.ListRepository
}

// NewListService creates a new list service
func NewListService(lists *repository.ListRepository) *ListService {
	return &ListService{lists: lists}
}

// GetLists returns every list of the caller's family
func (s *ListService) GetLists(ctx context.Context, actor *security.SessionClaims) ([]models.List, error) {
	if !actor.Role.HasAtLeast(models.RoleChild) {
		return nil, ErrForbidden
	}
	lists, err := s.lists.GetFamilyLists(ctx, actor.FamilyID)
	if err != nil {
		return nil, fmt.Errorf("failed to get lists: %w", err)
	}
	return lists, nil
}

// CreateList adds a list to the caller's family. ADULT or above.
func (s *ListService) CreateList(ctx context.Context, actor *security.SessionClaims, name, kind string) (*models.List, error) {
	if !actor.Role.HasAtLeast(models.RoleAdult) {
		return nil, ErrForbidden
	}
	name = strings.TrimSpace(name)
	if err := validation.ValidateTitle("name", name); err != nil {
		return nil, err
	}
	listKind, ok := models.ParseListKind(kind)
	if !ok {
		return nil, validation.ValidationError{Field: "kind", Message: "kind must be SHOPPING or TASKS"}
	}

	return s.lists.CreateList(ctx, actor.FamilyID, name, listKind, actor.AppUserID)
}

// GetList returns a list of the caller's family with its items
func (s *ListService) GetList(ctx context.Context, actor *security.SessionClaims, listID int64) (*ListDetail, error) {
	list, err := s.familyList(ctx, actor, listID)
	if err != nil {
		return nil, err
	}
	items, err := s.lists.GetListItems(ctx, list.ID)
	if err != nil {
		return nil, err
	}
	return &ListDetail{List: *list, Items: items}, nil
}

// RenameList changes a list's name. ADULT or above.
func (s *ListService) RenameList(ctx context.Context, actor *security.SessionClaims, listID int64, name string) (*models.List, error) {
	if _, err := s.familyList(ctx, actor, listID); err != nil {
		return nil, err
	}
	if !actor.Role.HasAtLeast(models.RoleAdult) {
		return nil, ErrForbidden
	}
	name = strings.TrimSpace(name)
	if err := validation.ValidateTitle("name", name); err != nil {
		return nil, err
	}

	if _, err := s.lists.RenameList(ctx, actor.FamilyID, listID, name); err != nil {
		return nil, err
	}
	return s.familyList(ctx, actor, listID)
}

// DeleteList removes a list. Admins may delete any list, adults only their own.
func (s *ListService) DeleteList(ctx context.Context, actor *security.SessionClaims, listID int64) error {
	list, err := s.familyList(ctx, actor, listID)
	if err != nil {
		return err
	}
	if !isOwnerOrAdmin(actor, list.CreatedBy) {
		return ErrForbidden
	}
	_, err = s.lists.DeleteList(ctx, actor.FamilyID, listID)
	return err
}

// GetItems returns the items of a list in the caller's family
func (s *ListService) GetItems(ctx context.Context, actor *security.SessionClaims, listID int64) ([]models.Item, error) {
	list, err := s.familyList(ctx, actor, listID)
	if err != nil {
		return nil, err
	}
	return s.lists.GetListItems(ctx, list.ID)
}

// AddItem adds an item to a list. Any family member may add items.
func (s *ListService) AddItem(ctx context.Context, actor *security.SessionClaims, listID int64, title string) (*models.Item, error) {
	list, err := s.familyList(ctx, actor, listID)
	if err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if err := validation.ValidateTitle("title", title); err != nil {
		return nil, err
	}
	return s.lists.CreateItem(ctx, list.ID, title, actor.AppUserID)
}

// UpdateItem toggles completion (any member) or edits the title (ADULT or above, or the
// member who created the item)
func (s *ListService) UpdateItem(ctx context.Context, actor *security.SessionClaims, itemID int64, in UpdateItemInput) (*models.Item, error) {
	item, err := s.familyItem(ctx, actor, itemID)
	if err != nil {
		return nil, err
	}

	if in.Title != nil {
		if !actor.Role.HasAtLeast(models.RoleAdult) && item.CreatedBy != actor.AppUserID {
			return nil, ErrForbidden
		}
		title := strings.TrimSpace(*in.Title)
		if err := validation.ValidateTitle("title", title); err != nil {
			return nil, err
		}
		item.Title = title
	}
	if in.Completed != nil {
		item.Completed = *in.Completed
	}

	if err := s.lists.UpdateItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// DeleteItem removes an item. ADULT or above.
func (s *ListService) DeleteItem(ctx context.Context, actor *security.SessionClaims, itemID int64) error {
	item, err := s.familyItem(ctx, actor, itemID)
	if err != nil {
		return err
	}
	if !actor.Role.HasAtLeast(models.RoleAdult) {
		return ErrForbidden
	}
	return s.lists.DeleteItem(ctx, item)
}

// familyList loads a list of the caller's family; lists of other families do not exist
func (s *ListService) familyList(ctx context.Context, actor *security.SessionClaims, listID int64) (*models.List, error) {
	if !actor.Role.HasAtLeast(models.RoleChild) {
		return nil, ErrForbidden
	}
	list, err := s.lists.GetList(ctx, actor.FamilyID, listID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		return nil, ErrNotFound
	}
	return list, nil
}

func (s *ListService) familyItem(ctx context.Context, actor *security.SessionClaims, itemID int64) (*models.Item, error) {
	if !actor.Role.HasAtLeast(models.RoleChild) {
		return nil, ErrForbidden
	}
	item, err := s.lists.GetItem(ctx, actor.FamilyID, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrNotFound
	}
	return item, nil
}

func isOwnerOrAdmin(actor *security.SessionClaims, createdBy int64) bool {
	if actor.Role.HasAtLeast(models.RoleAdmin) {
		return true
	}
	return actor.Role.HasAtLeast(models.RoleAdult) && createdBy == actor.AppUserID
}
