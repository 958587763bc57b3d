package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"familytasks/internal/models"
	"familytasks/internal/repository"
)

const backupVersion = "1.0"

// BackupData is the export of one family. Password hashes are never included.
type BackupData struct {
	Version    string         `json:"version"`
	ExportedAt time.Time      `json:"exported_at"`
	Family     FamilyBackup   `json:"family"`
	Members    []MemberBackup `json:"members"`
	Lists      []ListBackup   `json:"lists"`
}

// FamilyBackup represents a family record for backup
type FamilyBackup struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// MemberBackup represents a family member record
type MemberBackup struct {
	ID          int64       `json:"id"`
	Email       string      `json:"email"`
	DisplayName string      `json:"display_name"`
	Role        models.Role `json:"role"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ListBackup represents a list and its items
type ListBackup struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Kind      models.ListKind `json:"kind"`
	CreatedBy int64           `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
	Items     []ItemBackup    `json:"items"`
}

// ItemBackup represents a list item for backup
type ItemBackup struct {
	Title     string    `json:"title"`
	Completed bool      `json:"completed"`
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// BackupService exports family data
type BackupService struct {
	families *repository.FamilyRepository
	lists    *repository.ListRepository
	now      func() time.Time
}

// NewBackupService creates a new backup service
func NewBackupService(families *repository.FamilyRepository, lists *repository.ListRepository) *BackupService {
	return &BackupService{families: families, lists: lists, now: time.Now}
}

// Export collects a family with its members, lists and items
func (s *BackupService) Export(ctx context.Context, familyID int64) (*BackupData, error) {
	family, err := s.families.GetFamily(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to get family: %w", err)
	}
	if family == nil {
		return nil, ErrNotFound
	}

	backup := &BackupData{
		Version:    backupVersion,
		ExportedAt: s.now().UTC(),
		Family:     FamilyBackup{ID: family.ID, Name: family.Name, CreatedAt: family.CreatedAt},
		Members:    []MemberBackup{},
		Lists:      []ListBackup{},
	}

	if err := s.exportMembers(ctx, backup); err != nil {
		return nil, fmt.Errorf("failed to export members: %w", err)
	}
	if err := s.exportLists(ctx, backup); err != nil {
		return nil, fmt.Errorf("failed to export lists: %w", err)
	}
	return backup, nil
}

// ExportToWriter writes the family export as indented JSON
func (s *BackupService) ExportToWriter(ctx context.Context, familyID int64, w io.Writer) error {
	backup, err := s.Export(ctx, familyID)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(backup)
}

func (s *BackupService) exportMembers(ctx context.Context, backup *BackupData) error {
	members, err := s.families.ListMembers(ctx, backup.Family.ID)
	if err != nil {
		return err
	}
	for _, m := range members {
		backup.Members = append(backup.Members, MemberBackup{
			ID:          m.ID,
			Email:       m.Email,
			DisplayName: m.DisplayName,
			Role:        m.Role,
			CreatedAt:   m.CreatedAt,
		})
	}
	return nil
}

func (s *BackupService) exportLists(ctx context.Context, backup *BackupData) error {
	lists, err := s.lists.GetFamilyLists(ctx, backup.Family.ID)
	if err != nil {
		return err
	}
	for _, l := range lists {
		items, err := s.lists.GetListItems(ctx, l.ID)
		if err != nil {
			return fmt.Errorf("list %d: %w", l.ID, err)
		}

		lb := ListBackup{
			ID:        l.ID,
			Name:      l.Name,
			Kind:      l.Kind,
			CreatedBy: l.CreatedBy,
			CreatedAt: l.CreatedAt,
			Items:     make([]ItemBackup, 0, len(items)),
		}
		for _, item := range items {
			lb.Items = append(lb.Items, ItemBackup{
				Title:     item.Title,
				Completed: item.Completed,
				CreatedBy: item.CreatedBy,
				CreatedAt: item.CreatedAt,
			})
		}
		backup.Lists = append(backup.Lists, lb)
	}
	return nil
}
