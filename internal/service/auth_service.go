package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"familytasks/internal/database"
	"familytasks/internal/models"
	"familytasks/internal/repository"
	"familytasks/internal/security"
	"familytasks/internal/validation"
)

const (
	passwordResetTTL = time.Hour
	passwordSetupTTL = 72 * time.Hour
	// a legacy account gets at most one setup email per interval
	setupEmailInterval = 15 * time.Minute
)

// Session is the result of a successful sign-in
type Session struct {
	Token   string
	Claims  *security.SessionClaims
	AppUser *models.AppUser
}

// RegisterInput holds the fields of a new account
type RegisterInput struct {
	Email      string
	Password   string
	Name       string
	FamilyName string
}

// AuthService handles credential verification, token issuance and account flows
type AuthService struct {
	db         *database.DB
	identities *repository.IdentityRepository
	families   *repository.FamilyRepository
	issuer     *security.TokenIssuer
	mailer     Mailer
	now        func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService creates a new auth service
func NewAuthService(db *database.DB, identities *repository.IdentityRepository, families *repository.FamilyRepository, issuer *security.TokenIssuer, mailer Mailer) *AuthService {
	return &AuthService{
		db:         db,
		identities: identities,
		families:   families,
		issuer:     issuer,
		mailer:     mailer,
		now:        time.Now,
	}
}

// Verify checks an email and password against the stored bcrypt hash. Accounts without a
// stored hash are never accepted.
func (s *AuthService) Verify(ctx context.Context, email, password string) (*models.Identity, error) {
	email = validation.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	identity, err := s.identities.GetIdentityByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	if identity == nil {
		// Spend the same bcrypt time as a real comparison
		security.CheckPassword(password, s.timingHash())
		log.Ctx(ctx).Debug().Str("reason", "unknown_email").Msg("Credential check failed")
		return nil, ErrInvalidCredentials
	}

	if !identity.HasPassword() {
		log.Ctx(ctx).Debug().Int64("user_id", identity.ID).Str("reason", "no_password").Msg("Credential check failed")
		return nil, ErrPasswordSetupRequired
	}

	if !security.CheckPassword(password, identity.PasswordHash) {
		log.Ctx(ctx).Debug().Int64("user_id", identity.ID).Str("reason", "mismatch").Msg("Credential check failed")
		return nil, ErrInvalidCredentials
	}

	return identity, nil
}

func (s *AuthService) timingHash() string {
	s.dummyOnce.Do(func() {
		hash, err := security.HashPassword(security.GenerateStateID())
		if err == nil {
			s.dummyHash = hash
		}
	})
	return s.dummyHash
}

// IssueFor resolves the identity's family membership and signs a session token for it
func (s *AuthService) IssueFor(ctx context.Context, identity *models.Identity) (*Session, error) {
	appUser, err := s.families.GetAppUserByUserID(ctx, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get app user: %w", err)
	}
	if appUser == nil {
		return nil, ErrAppUserNotFound
	}
	return s.issue(appUser)
}

func (s *AuthService) issue(appUser *models.AppUser) (*Session, error) {
	token, claims, err := s.issuer.Issue(appUser)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	return &Session{Token: token, Claims: claims, AppUser: appUser}, nil
}

// Login verifies credentials and issues a session. Legacy accounts without a password are
// sent a password-setup email and still fail with ErrPasswordSetupRequired.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	identity, err := s.Verify(ctx, email, password)
	if errors.Is(err, ErrPasswordSetupRequired) {
		s.sendSetupForEmail(ctx, email)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	return s.IssueFor(ctx, identity)
}

func (s *AuthService) sendSetupForEmail(ctx context.Context, email string) {
	identity, err := s.identities.GetIdentityByEmail(ctx, validation.NormalizeEmail(email))
	if err != nil || identity == nil {
		return
	}

	recent, err := s.identities.HasRecentResetToken(ctx, identity.ID, s.now().Add(-setupEmailInterval))
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("Failed to check recent setup tokens")
		return
	}
	if recent {
		return
	}

	if err := s.SendPasswordSetup(ctx, identity, ""); err != nil {
		log.Ctx(ctx).Warn().Err(err).Int64("user_id", identity.ID).Msg("Failed to send password setup email")
	}
}

// SendPasswordSetup creates a setup token for an identity without a password and emails it
func (s *AuthService) SendPasswordSetup(ctx context.Context, identity *models.Identity, name string) error {
	if name == "" {
		if appUser, err := s.families.GetAppUserByUserID(ctx, identity.ID); err == nil && appUser != nil {
			name = appUser.DisplayName
		} else {
			name, _, _ = strings.Cut(identity.Email, "@")
		}
	}

	token, err := s.createResetToken(ctx, identity.ID, passwordSetupTTL)
	if err != nil {
		return err
	}
	if err := s.mailer.SendPasswordSetupEmail(ctx, identity.Email, name, token); err != nil {
		return fmt.Errorf("failed to send setup email: %w", err)
	}
	return nil
}

func (s *AuthService) createResetToken(ctx context.Context, userID int64, ttl time.Duration) (string, error) {
	token, err := security.GenerateSecureToken(32)
	if err != nil {
		return "", err
	}
	if err := s.identities.CreateResetToken(ctx, token, userID, s.now().Add(ttl)); err != nil {
		return "", err
	}
	return token, nil
}

// Register creates an identity, a new family and an ADMIN membership in one transaction
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	email := validation.NormalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)
	familyName := strings.TrimSpace(in.FamilyName)
	if familyName == "" {
		familyName = name + "'s family"
	}

	if err := validation.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := validation.ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	if err := validation.ValidateName(name); err != nil {
		return nil, err
	}
	if err := validation.ValidateFamilyName(familyName); err != nil {
		return nil, err
	}

	passwordHash, err := security.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	var appUser *models.AppUser
	err = s.db.WithTx(ctx, func(tx *database.Tx) error {
		identity, err := s.identities.WithTx(tx).CreateIdentity(ctx, email, passwordHash)
		if err != nil {
			return err
		}
		families := s.families.WithTx(tx)
		family, err := families.CreateFamily(ctx, familyName)
		if err != nil {
			return err
		}
		appUser, err = families.CreateAppUser(ctx, identity.ID, family.ID, models.RoleAdmin, name)
		return err
	})
	if errors.Is(err, repository.ErrEmailExists) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to register: %w", err)
	}
	appUser.Email = email

	log.Ctx(ctx).Info().Int64("user_id", appUser.UserID).Int64("family_id", appUser.FamilyID).Msg("Account registered")
	return s.issue(appUser)
}

// RequestPasswordReset emails a reset link when the address belongs to an account. It never
// reveals whether the account exists.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	email = validation.NormalizeEmail(email)
	if validation.ValidateEmail(email) != nil {
		return nil
	}

	identity, err := s.identities.GetIdentityByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to get identity: %w", err)
	}
	if identity == nil {
		return nil
	}

	recent, err := s.identities.HasRecentResetToken(ctx, identity.ID, s.now().Add(-setupEmailInterval))
	if err != nil {
		return fmt.Errorf("failed to check recent reset tokens: %w", err)
	}
	if recent {
		log.Ctx(ctx).Debug().Int64("user_id", identity.ID).Msg("Password reset already sent recently")
		return nil
	}

	token, err := s.createResetToken(ctx, identity.ID, passwordResetTTL)
	if err != nil {
		return err
	}

	name, _, _ := strings.Cut(identity.Email, "@")
	if appUser, err := s.families.GetAppUserByUserID(ctx, identity.ID); err == nil && appUser != nil {
		name = appUser.DisplayName
	}
	if err := s.mailer.SendPasswordResetEmail(ctx, identity.Email, name, token); err != nil {
		log.Ctx(ctx).Warn().Err(err).Int64("user_id", identity.ID).Msg("Failed to send password reset email")
	}
	return nil
}

// ResetPassword sets a new password using a single-use reset or setup token
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := validation.ValidatePassword(newPassword); err != nil {
		return err
	}

	resetToken, err := s.identities.GetResetToken(ctx, token)
	if err != nil {
		return err
	}
	if resetToken == nil || resetToken.Used || resetToken.IsExpired(s.now()) {
		return ErrInvalidResetToken
	}

	passwordHash, err := security.HashPassword(newPassword)
	if err != nil {
		return err
	}

	err = s.db.WithTx(ctx, func(tx *database.Tx) error {
		identities := s.identities.WithTx(tx)
		consumed, err := identities.MarkResetTokenUsed(ctx, token)
		if err != nil {
			return err
		}
		if !consumed {
			return ErrInvalidResetToken
		}
		return identities.UpdatePassword(ctx, resetToken.UserID, passwordHash)
	})
	if err != nil {
		return err
	}

	log.Ctx(ctx).Info().Int64("user_id", resetToken.UserID).Msg("Password reset")
	return nil
}

// OAuthLogin signs in an existing account whose email a provider has verified. Accounts are
// never created here because every account needs a family.
func (s *AuthService) OAuthLogin(ctx context.Context, provider, email string) (*Session, error) {
	email = validation.NormalizeEmail(email)
	if email == "" {
		return nil, ErrInvalidCredentials
	}

	identity, err := s.identities.GetIdentityByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	if identity == nil {
		log.Ctx(ctx).Debug().Str("provider", provider).Msg("OAuth sign-in for unknown account")
		return nil, ErrInvalidCredentials
	}

	return s.IssueFor(ctx, identity)
}

// SetPassword sets a password directly. Used by operator tooling.
func (s *AuthService) SetPassword(ctx context.Context, email, password string) error {
	if err := validation.ValidatePassword(password); err != nil {
		return err
	}
	identity, err := s.identities.GetIdentityByEmail(ctx, validation.NormalizeEmail(email))
	if err != nil {
		return err
	}
	if identity == nil {
		return ErrNotFound
	}
	passwordHash, err := security.HashPassword(password)
	if err != nil {
		return err
	}
	return s.identities.UpdatePassword(ctx, identity.ID, passwordHash)
}

// LegacyAccounts lists identities that have never set a password
func (s *AuthService) LegacyAccounts(ctx context.Context) ([]models.Identity, error) {
	return s.identities.ListIdentitiesWithoutPassword(ctx)
}

// InviteLegacyAccounts sends a password-setup email to every legacy identity and returns how
// many were sent
func (s *AuthService) InviteLegacyAccounts(ctx context.Context) (int, error) {
	identities, err := s.LegacyAccounts(ctx)
	if err != nil {
		return 0, err
	}
	if !s.mailer.IsEnabled() {
		log.Ctx(ctx).Warn().Int("accounts", len(identities)).Msg("Email is disabled; setup links are only written to the log")
	}

	sent := 0
	for i := range identities {
		if err := s.SendPasswordSetup(ctx, &identities[i], ""); err != nil {
			log.Ctx(ctx).Warn().Err(err).Int64("user_id", identities[i].ID).Msg("Failed to invite legacy account")
			continue
		}
		sent++
	}
	return sent, nil
}

// CleanupExpiredResetTokens removes expired reset tokens
func (s *AuthService) CleanupExpiredResetTokens(ctx context.Context) (int64, error) {
	return s.identities.DeleteExpiredResetTokens(ctx, s.now())
}
