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

// ErrEmailExists is returned when an identity with the same email already exists
var ErrEmailExists = errors.New("email already exists")

// IdentityRepository handles database operations for login identities and reset tokens
type IdentityRepository struct {
	db database.DBTX
}

// NewIdentityRepository creates a new identity repository
func NewIdentityRepository(db database.DBTX) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *IdentityRepository) WithTx(tx *database.Tx) *IdentityRepository {
	return &IdentityRepository{db: tx}
}

const identityColumns = "id, email, password_hash, created_at, updated_at"

// CreateIdentity inserts a new identity. An empty hash stores NULL.
func (r *IdentityRepository) CreateIdentity(ctx context.Context, email, passwordHash string) (*models.Identity, error) {
	now := time.Now().UTC()
	query := `
		INSERT INTO users (email, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`
	id, err := r.db.ExecReturningID(ctx, query, email, nullString(passwordHash), now, now)
	if err != nil {
		if r.db.GetDialect().IsUniqueViolation(err) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	return &models.Identity{
		ID:           id,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// GetIdentityByEmail retrieves an identity by email address
func (r *IdentityRepository) GetIdentityByEmail(ctx context.Context, email string) (*models.Identity, error) {
	query := "SELECT " + identityColumns + " FROM users WHERE email = ?"
	return r.getIdentity(ctx, query, email)
}

func (r *IdentityRepository) getIdentity(ctx context.Context, query string, arg interface{}) (*models.Identity, error) {
	identity, err := scanIdentity(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return identity, nil
}

// UpdatePassword stores a new password hash for an identity
func (r *IdentityRepository) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	query := "UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?"
	res, err := r.db.ExecContext(ctx, query, passwordHash, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to update password: identity %d not found", userID)
	}
	return nil
}

// DeleteIdentity removes an identity; memberships and reset tokens cascade
func (r *IdentityRepository) DeleteIdentity(ctx context.Context, userID int64) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", userID); err != nil {
		return fmt.Errorf("failed to delete identity: %w", err)
	}
	return nil
}

// ListIdentitiesWithoutPassword returns legacy identities that never set a password
func (r *IdentityRepository) ListIdentitiesWithoutPassword(ctx context.Context) ([]models.Identity, error) {
	query := "SELECT " + identityColumns + " FROM users WHERE password_hash IS NULL OR password_hash = '' ORDER BY id"
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query identities: %w", err)
	}
	defer rows.Close()

	var identities []models.Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		identities = append(identities, *identity)
	}
	return identities, rows.Err()
}

// CreateResetToken stores a password reset or setup token
func (r *IdentityRepository) CreateResetToken(ctx context.Context, token string, userID int64, expiresAt time.Time) error {
	query := `
		INSERT INTO password_reset_tokens (token, user_id, expires_at, used, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, token, userID, expiresAt.UTC(), false, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create reset token: %w", err)
	}
	return nil
}

// GetResetToken retrieves a reset token
func (r *IdentityRepository) GetResetToken(ctx context.Context, token string) (*models.PasswordResetToken, error) {
	query := `
		SELECT token, user_id, expires_at, used, created_at
		FROM password_reset_tokens
		WHERE token = ?
	`
	t := &models.PasswordResetToken{}
	err := r.db.QueryRowContext(ctx, query, token).Scan(&t.Token, &t.UserID, &t.ExpiresAt, &t.Used, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reset token: %w", err)
	}
	return t, nil
}

// MarkResetTokenUsed consumes a token. It reports false when the token was already used.
func (r *IdentityRepository) MarkResetTokenUsed(ctx context.Context, token string) (bool, error) {
	query := "UPDATE password_reset_tokens SET used = ? WHERE token = ? AND used = ?"
	res, err := r.db.ExecContext(ctx, query, true, token, false)
	if err != nil {
		return false, fmt.Errorf("failed to mark reset token used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark reset token used: %w", err)
	}
	return n == 1, nil
}

// HasRecentResetToken reports whether an unused token was created for the user after since
func (r *IdentityRepository) HasRecentResetToken(ctx context.Context, userID int64, since time.Time) (bool, error) {
	query := "SELECT COUNT(*) FROM password_reset_tokens WHERE user_id = ? AND used = ? AND created_at > ?"
	var count int
	if err := r.db.QueryRowContext(ctx, query, userID, false, since.UTC()).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check reset tokens: %w", err)
	}
	return count > 0, nil
}

// DeleteExpiredResetTokens removes tokens that expired before now
func (r *IdentityRepository) DeleteExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM password_reset_tokens WHERE expires_at < ?", now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired reset tokens: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIdentity(row rowScanner) (*models.Identity, error) {
	identity := &models.Identity{}
	var hash sql.NullString
	if err := row.Scan(&identity.ID, &identity.Email, &hash, &identity.CreatedAt, &identity.UpdatedAt); err != nil {
		return nil, err
	}
	identity.PasswordHash = hash.String
	return identity, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
