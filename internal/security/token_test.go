package security

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"familytasks/internal/models"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func testTokenConfig() TokenConfig {
	return TokenConfig{
		Secret:   testSecret,
		Issuer:   "familytasks",
		Audience: "familytasks-api",
		TTL:      24 * time.Hour,
	}
}

func newTestTokens(t *testing.T, cfg TokenConfig) (*TokenIssuer, *TokenValidator) {
	t.Helper()
	issuer, err := NewTokenIssuer(cfg)
	require.NoError(t, err)
	validator, err := NewTokenValidator(cfg)
	require.NoError(t, err)
	return issuer, validator
}

func testAppUser(role models.Role) *models.AppUser {
	return &models.AppUser{
		ID:          7,
		UserID:      3,
		FamilyID:    11,
		Role:        role,
		DisplayName: "Sam",
		Email:       "a@b.com",
	}
}

func TestIssueValidateRoundTrip(t *testing.T) {
	issuer, validator := newTestTokens(t, testTokenConfig())

	for _, role := range []models.Role{models.RoleAdmin, models.RoleAdult, models.RoleChild} {
		t.Run(string(role), func(t *testing.T) {
			user := testAppUser(role)
			token, issued, err := issuer.Issue(user)
			require.NoError(t, err)
			assert.Len(t, strings.Split(token, "."), 3)

			claims, err := validator.Validate(token)
			require.NoError(t, err)
			assert.Equal(t, user.UserID, claims.UserID)
			assert.Equal(t, user.ID, claims.AppUserID)
			assert.Equal(t, user.FamilyID, claims.FamilyID)
			assert.Equal(t, role, claims.Role)
			assert.Equal(t, "Sam", claims.Name)
			assert.Equal(t, issued.TokenID, claims.TokenID)
			assert.Equal(t, 24*time.Hour, claims.ExpiresAt.Sub(claims.IssuedAt))
		})
	}
}

func TestTokenClaimKeysAreStable(t *testing.T) {
	issuer, _ := newTestTokens(t, testTokenConfig())
	token, _, err := issuer.Issue(testAppUser(models.RoleAdult))
	require.NoError(t, err)

	payload := decodeSegment(t, strings.Split(token, ".")[1])
	for _, key := range []string{"sub", "appUserId", "app_user_id", "familyId", "family_id", "role", "iss", "aud", "iat", "exp", "jti"} {
		assert.Contains(t, payload, key)
	}
	assert.Equal(t, "3", payload["sub"])
	assert.Equal(t, "ADULT", payload["role"])
	assert.EqualValues(t, 11, payload["family_id"])

	header := decodeSegment(t, strings.Split(token, ".")[0])
	assert.Equal(t, "HS256", header["alg"])
}

func TestValidateAcceptsSnakeCaseOnlyClaims(t *testing.T) {
	_, validator := newTestTokens(t, testTokenConfig())

	now := time.Now()
	token := signMapClaims(t, jwt.MapClaims{
		"sub":         "3",
		"app_user_id": 7,
		"family_id":   11,
		"role":        "CHILD",
		"iss":         "familytasks",
		"aud":         "familytasks-api",
		"iat":         now.Unix(),
		"exp":         now.Add(time.Hour).Unix(),
		"jti":         "snake-1",
	})

	claims, err := validator.Validate(token)
	require.NoError(t, err)
	assert.EqualValues(t, 7, claims.AppUserID)
	assert.EqualValues(t, 11, claims.FamilyID)
	assert.Equal(t, models.RoleChild, claims.Role)
}

func TestValidateRejectsTamperedPayload(t *testing.T) {
	issuer, validator := newTestTokens(t, testTokenConfig())
	token, _, err := issuer.Issue(testAppUser(models.RoleChild))
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	payload := parts[1]
	for i := range payload {
		replacement := byte('A')
		if payload[i] == 'A' {
			replacement = 'B'
		}
		tampered := payload[:i] + string(replacement) + payload[i+1:]
		forged := parts[0] + "." + tampered + "." + parts[2]

		_, err := validator.Validate(forged)
		require.ErrorIs(t, err, ErrInvalidToken, "position %d", i)
	}
}

func TestValidateRejectsForgedRole(t *testing.T) {
	issuer, validator := newTestTokens(t, testTokenConfig())
	token, _, err := issuer.Issue(testAppUser(models.RoleChild))
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	forgedPayload := strings.Replace(string(raw), `"role":"CHILD"`, `"role":"ADMIN"`, 1)
	require.NotEqual(t, string(raw), forgedPayload)

	forged := parts[0] + "." + base64.RawURLEncoding.EncodeToString([]byte(forgedPayload)) + "." + parts[2]
	_, err = validator.Validate(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateExpiredToken(t *testing.T) {
	cfg := testTokenConfig()
	cfg.Now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	issuer, err := NewTokenIssuer(cfg)
	require.NoError(t, err)
	_, validator := newTestTokens(t, testTokenConfig())

	token, _, err := issuer.Issue(testAppUser(models.RoleAdmin))
	require.NoError(t, err)

	_, err = validator.Validate(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
	assert.NotErrorIs(t, err, ErrInvalidToken)
}

func TestValidateExpiredAndTamperedIsInvalid(t *testing.T) {
	cfg := testTokenConfig()
	cfg.Now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	issuer, err := NewTokenIssuer(cfg)
	require.NoError(t, err)
	_, validator := newTestTokens(t, testTokenConfig())

	token, _, err := issuer.Issue(testAppUser(models.RoleAdmin))
	require.NoError(t, err)

	_, err = validator.Validate(token[:len(token)-2] + "xx")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejects(t *testing.T) {
	issuer, validator := newTestTokens(t, testTokenConfig())
	good, _, err := issuer.Issue(testAppUser(models.RoleAdult))
	require.NoError(t, err)

	otherCfg := testTokenConfig()
	otherCfg.Secret = []byte("ffffffffffffffffffffffffffffffff")
	otherIssuer, _ := newTestTokens(t, otherCfg)
	otherSecret, _, err := otherIssuer.Issue(testAppUser(models.RoleAdult))
	require.NoError(t, err)

	wrongAudienceCfg := testTokenConfig()
	wrongAudienceCfg.Audience = "someone-else"
	audIssuer, _ := newTestTokens(t, wrongAudienceCfg)
	wrongAudience, _, err := audIssuer.Issue(testAppUser(models.RoleAdult))
	require.NoError(t, err)

	now := time.Now()
	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "3", "appUserId": 7, "familyId": 11, "role": "ADMIN",
		"iss": "familytasks", "aud": "familytasks-api", "exp": now.Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	unknownRole := signMapClaims(t, jwt.MapClaims{
		"sub": "3", "appUserId": 7, "familyId": 11, "role": "OWNER", "jti": "a",
		"iss": "familytasks", "aud": "familytasks-api", "exp": now.Add(time.Hour).Unix(),
	})
	missingExp := signMapClaims(t, jwt.MapClaims{
		"sub": "3", "appUserId": 7, "familyId": 11, "role": "ADMIN", "jti": "b",
		"iss": "familytasks", "aud": "familytasks-api",
	})
	missingFamily := signMapClaims(t, jwt.MapClaims{
		"sub": "3", "appUserId": 7, "role": "ADMIN", "jti": "c",
		"iss": "familytasks", "aud": "familytasks-api", "exp": now.Add(time.Hour).Unix(),
	})
	missingID := signMapClaims(t, jwt.MapClaims{
		"sub": "3", "appUserId": 7, "familyId": 11, "role": "ADMIN",
		"iss": "familytasks", "aud": "familytasks-api", "exp": now.Add(time.Hour).Unix(),
	})

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not-a-token"},
		{name: "two segments", token: strings.Join(strings.Split(good, ".")[:2], ".")},
		{name: "other secret", token: otherSecret},
		{name: "wrong audience", token: wrongAudience},
		{name: "alg none", token: noneAlg},
		{name: "unknown role", token: unknownRole},
		{name: "missing exp", token: missingExp},
		{name: "missing family", token: missingFamily},
		{name: "missing jti", token: missingID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validator.Validate(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestNewTokenIssuerRejectsBadConfig(t *testing.T) {
	cfg := testTokenConfig()
	cfg.Secret = []byte("short")
	_, err := NewTokenIssuer(cfg)
	assert.Error(t, err)

	cfg = testTokenConfig()
	cfg.TTL = 0
	_, err = NewTokenIssuer(cfg)
	assert.Error(t, err)

	issuer, _ := newTestTokens(t, testTokenConfig())
	_, _, err = issuer.Issue(&models.AppUser{ID: 1, UserID: 1, FamilyID: 1, Role: "OWNER"})
	assert.Error(t, err)
}

func signMapClaims(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return token
}

func decodeSegment(t *testing.T, segment string) map[string]any {
	t.Helper()
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}
