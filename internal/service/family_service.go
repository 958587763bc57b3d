package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"familytasks/internal/database"
	"familytasks/internal/models"
	"familytasks/internal/repository"
	"familytasks/internal/security"
	"familytasks/internal/validation"
)

// SetupInviter emails a password-setup link to a new identity
type SetupInviter interface {
	SendPasswordSetup(ctx context.Context, identity *models.Identity, name string) error
}

// AddMemberInput describes a new family member. An empty password sends a setup email instead.
type AddMemberInput struct {
	Email    string
	Name     string
	Role     string
	Password string
}

// FamilyService handles family membership administration. Every call is scoped to the
// caller's family.
type FamilyService struct {
	db         *database.DB
	identities *repository.IdentityRepository
	families   *repository.FamilyRepository
	inviter    SetupInviter
}

// NewFamilyService creates a new family service
func NewFamilyService(db *database.DB, identities *repository.IdentityRepository, families *repository.FamilyRepository, inviter SetupInviter) *FamilyService {
	return &FamilyService{
		db:         db,
		identities: identities,
		families:   families,
		inviter:    inviter,
	}
}

// GetFamily returns the caller's family
func (s *FamilyService) GetFamily(ctx context.Context, actor *security.SessionClaims) (*models.Family, error) {
	family, err := s.families.GetFamily(ctx, actor.FamilyID)
	if err != nil {
		return nil, fmt.Errorf("failed to get family: %w", err)
	}
	if family == nil {
		return nil, ErrNotFound
	}
	return family, nil
}

// ListMembers returns the members of the caller's family
func (s *FamilyService) ListMembers(ctx context.Context, actor *security.SessionClaims) ([]models.AppUser, error) {
	members, err := s.families.ListMembers(ctx, actor.FamilyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

// RenameFamily changes the family's name. ADMIN only.
func (s *FamilyService) RenameFamily(ctx context.Context, actor *security.SessionClaims, name string) (*models.Family, error) {
	if !actor.Role.HasAtLeast(models.RoleAdmin) {
		return nil, ErrForbidden
	}
	name = strings.TrimSpace(name)
	if err := validation.ValidateFamilyName(name); err != nil {
		return nil, err
	}

	ok, err := s.families.RenameFamily(ctx, actor.FamilyID, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return s.GetFamily(ctx, actor)
}

// AddMember creates an identity and joins it to the caller's family. Admins may add any role;
// adults may only add children.
func (s *FamilyService) AddMember(ctx context.Context, actor *security.SessionClaims, in AddMemberInput) (*models.AppUser, error) {
	role, ok := models.ParseRole(in.Role)
	if !ok {
		return nil, validation.ValidationError{Field: "role", Message: "role must be ADMIN, ADULT or CHILD"}
	}
	if !canAddRole(actor.Role, role) {
		return nil, ErrForbidden
	}

	email := validation.NormalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)
	if err := validation.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := validation.ValidateName(name); err != nil {
		return nil, err
	}

	var passwordHash string
	if in.Password != "" {
		if err := validation.ValidatePassword(in.Password); err != nil {
			return nil, err
		}
		hash, err := security.HashPassword(in.Password)
		if err != nil {
			return nil, err
		}
		passwordHash = hash
	}

	var identity *models.Identity
	var member *models.AppUser
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		var err error
		identity, err = s.identities.WithTx(tx).CreateIdentity(ctx, email, passwordHash)
		if err != nil {
			return err
		}
		member, err = s.families.WithTx(tx).CreateAppUser(ctx, identity.ID, actor.FamilyID, role, name)
		return err
	})
	if errors.Is(err, repository.ErrEmailExists) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to add member: %w", err)
	}
	member.Email = email

	if passwordHash == "" {
		if err := s.inviter.SendPasswordSetup(ctx, identity, name); err != nil {
			log.Ctx(ctx).Warn().Err(err).Int64("user_id", identity.ID).Msg("Failed to send member setup email")
		}
	}

	log.Ctx(ctx).Info().
		Int64("family_id", actor.FamilyID).
		Int64("member_id", member.ID).
		Str("role", string(role)).
		Msg("Family member added")
	return member, nil
}

func canAddRole(actor, role models.Role) bool {
	if actor.HasAtLeast(models.RoleAdmin) {
		return true
	}
	return actor.HasAtLeast(models.RoleAdult) && role == models.RoleChild
}

// UpdateRole changes a member's role. ADMIN only; the last admin cannot be demoted.
func (s *FamilyService) UpdateRole(ctx context.Context, actor *security.SessionClaims, memberID int64, roleName string) (*models.AppUser, error) {
	if !actor.Role.HasAtLeast(models.RoleAdmin) {
		return nil, ErrForbidden
	}
	role, ok := models.ParseRole(roleName)
	if !ok {
		return nil, validation.ValidationError{Field: "role", Message: "role must be ADMIN, ADULT or CHILD"}
	}

	var member *models.AppUser
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		families := s.families.WithTx(tx)
		var err error
		member, err = lockedMember(ctx, families, actor.FamilyID, memberID)
		if err != nil {
			return err
		}
		if member.Role == models.RoleAdmin && role != models.RoleAdmin {
			if err := ensureAnotherAdmin(ctx, families, actor.FamilyID); err != nil {
				return err
			}
		}

		if _, err := families.UpdateRole(ctx, actor.FamilyID, memberID, role); err != nil {
			return err
		}
		member.Role = role
		return nil
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

// SetRoleByEmail changes the role of the account with the given email without a caller
// check. Used by operator tooling; the last-admin rule still applies.
func (s *FamilyService) SetRoleByEmail(ctx context.Context, email, roleName string) (*models.AppUser, error) {
	identity, err := s.identities.GetIdentityByEmail(ctx, validation.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, ErrNotFound
	}
	member, err := s.families.GetAppUserByUserID(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrAppUserNotFound
	}

	operator := &security.SessionClaims{FamilyID: member.FamilyID, Role: models.RoleAdmin}
	return s.UpdateRole(ctx, operator, member.ID, roleName)
}

// RemoveMember deletes a member and their login. ADMIN only, never the caller, and never the
// last admin.
func (s *FamilyService) RemoveMember(ctx context.Context, actor *security.SessionClaims, memberID int64) error {
	if !actor.Role.HasAtLeast(models.RoleAdmin) {
		return ErrForbidden
	}
	if memberID == actor.AppUserID {
		return ErrCannotRemoveSelf
	}

	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		families := s.families.WithTx(tx)
		member, err := lockedMember(ctx, families, actor.FamilyID, memberID)
		if err != nil {
			return err
		}
		if member.Role == models.RoleAdmin {
			if err := ensureAnotherAdmin(ctx, families, actor.FamilyID); err != nil {
				return err
			}
		}
		return s.identities.WithTx(tx).DeleteIdentity(ctx, member.UserID)
	})
	if err != nil {
		return err
	}

	log.Ctx(ctx).Info().Int64("family_id", actor.FamilyID).Int64("member_id", memberID).Msg("Family member removed")
	return nil
}

// lockedMember takes the family lock and loads a member of that family
func lockedMember(ctx context.Context, families *repository.FamilyRepository, familyID, memberID int64) (*models.AppUser, error) {
	found, err := families.LockFamily(ctx, familyID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}

	member, err := families.GetAppUser(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member == nil || member.FamilyID != familyID {
		return nil, ErrNotFound
	}
	return member, nil
}

func ensureAnotherAdmin(ctx context.Context, families *repository.FamilyRepository, familyID int64) error {
	admins, err := families.CountAdmins(ctx, familyID)
	if err != nil {
		return err
	}
	if admins <= 1 {
		return ErrLastAdmin
	}
	return nil
}
