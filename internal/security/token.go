package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"familytasks/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// MinSecretLength is the shortest accepted HS256 secret
const MinSecretLength = 32

// SessionClaims is the verified content of a session token
type SessionClaims struct {
	UserID    int64
	AppUserID int64
	FamilyID  int64
	Role      models.Role
	Name      string
	Email     string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// tokenClaims is the wire form. Other services read the ids by exact key, so both the
// camelCase and snake_case spellings are written.
type tokenClaims struct {
	AppUserID      int64  `json:"appUserId,omitempty"`
	AppUserIDSnake int64  `json:"app_user_id,omitempty"`
	FamilyID       int64  `json:"familyId,omitempty"`
	FamilyIDSnake  int64  `json:"family_id,omitempty"`
	Role           string `json:"role"`
	Name           string `json:"name,omitempty"`
	Email          string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenConfig is the startup-time configuration shared by issuer and validator
type TokenConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
	// Now overrides the clock; nil means time.Now
	Now func() time.Time
}

func (c TokenConfig) check() error {
	if len(c.Secret) < MinSecretLength {
		return fmt.Errorf("token secret must be at least %d bytes", MinSecretLength)
	}
	if c.Issuer == "" || c.Audience == "" {
		return errors.New("token issuer and audience are required")
	}
	return nil
}

func (c TokenConfig) clock() func() time.Time {
	if c.Now != nil {
		return c.Now
	}
	return time.Now
}

// TokenIssuer mints HS256 session tokens. It is immutable after construction.
type TokenIssuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenIssuer creates an issuer from startup configuration
func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("token TTL must be positive")
	}
	return &TokenIssuer{
		secret:   append([]byte(nil), cfg.Secret...),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TTL,
		now:      cfg.clock(),
	}, nil
}

// TTL returns the lifetime of issued tokens
func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a token for the given application user
func (i *TokenIssuer) Issue(user *models.AppUser) (string, *SessionClaims, error) {
	if user == nil || user.ID == 0 || user.UserID == 0 || user.FamilyID == 0 {
		return "", nil, errors.New("cannot issue token for incomplete app user")
	}
	if !user.Role.Valid() {
		return "", nil, fmt.Errorf("cannot issue token for role %q", user.Role)
	}

	now := i.now()
	issuedAt := jwt.NewNumericDate(now)
	expiresAt := jwt.NewNumericDate(now.Add(i.ttl))

	wire := tokenClaims{
		AppUserID:      user.ID,
		AppUserIDSnake: user.ID,
		FamilyID:       user.FamilyID,
		FamilyIDSnake:  user.FamilyID,
		Role:           string(user.Role),
		Name:           user.DisplayName,
		Email:          user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.UserID, 10),
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  issuedAt,
			NotBefore: issuedAt,
			ExpiresAt: expiresAt,
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, wire).SignedString(i.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, &SessionClaims{
		UserID:    user.UserID,
		AppUserID: user.ID,
		FamilyID:  user.FamilyID,
		Role:      user.Role,
		Name:      user.DisplayName,
		Email:     user.Email,
		TokenID:   wire.ID,
		IssuedAt:  issuedAt.Time,
		ExpiresAt: expiresAt.Time,
	}, nil
}

// TokenValidator verifies session tokens. Validate does no I/O and never mutates state.
type TokenValidator struct {
	secret []byte
	parser *jwt.Parser
}

// NewTokenValidator creates a validator that accepts only HS256 tokens for the configured
// issuer and audience
func NewTokenValidator(cfg TokenConfig) (*TokenValidator, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &TokenValidator{
		secret: append([]byte(nil), cfg.Secret...),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithTimeFunc(cfg.clock()),
		),
	}, nil
}

// Validate restores the claims of a token or fails with ErrInvalidToken or ErrExpiredToken
func (v *TokenValidator) Validate(token string) (*SessionClaims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	wire := &tokenClaims{}
	_, err := v.parser.ParseWithClaims(token, wire, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		// The signature is checked before the claims, so an expired token here is authentic
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return wire.sessionClaims()
}

func (c *tokenClaims) sessionClaims() (*SessionClaims, error) {
	userID, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}

	appUserID := c.AppUserID
	if appUserID == 0 {
		appUserID = c.AppUserIDSnake
	}
	familyID := c.FamilyID
	if familyID == 0 {
		familyID = c.FamilyIDSnake
	}
	if appUserID <= 0 || familyID <= 0 {
		return nil, fmt.Errorf("%w: missing app user or family", ErrInvalidToken)
	}

	if c.ID == "" {
		return nil, fmt.Errorf("%w: missing token id", ErrInvalidToken)
	}

	role := models.Role(c.Role)
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role", ErrInvalidToken)
	}

	claims := &SessionClaims{
		UserID:    userID,
		AppUserID: appUserID,
		FamilyID:  familyID,
		Role:      role,
		Name:      c.Name,
		Email:     c.Email,
		TokenID:   c.ID,
	}
	if c.IssuedAt != nil {
		claims.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		claims.ExpiresAt = c.ExpiresAt.Time
	}
	return claims, nil
}
