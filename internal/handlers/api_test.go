package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"familytasks/internal/models"
	"familytasks/internal/repository"
	"familytasks/internal/security"
	"familytasks/internal/service"
	"familytasks/internal/testutil"
)

type recordingMailer struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (m *recordingMailer) IsEnabled() bool { return true }

func (m *recordingMailer) SendPasswordResetEmail(_ context.Context, to, _, token string) error {
	return m.record(to, token)
}

func (m *recordingMailer) SendPasswordSetupEmail(_ context.Context, to, _, token string) error {
	return m.record(to, token)
}

func (m *recordingMailer) record(to, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[to] = token
	return nil
}

func (m *recordingMailer) last(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[to]
}

type apiFixture struct {
	handler http.Handler
	mailer  *recordingMailer
	status  *StartupStatus
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	db := testutil.NewDB(t)
	identities := repository.NewIdentityRepository(db)
	families := repository.NewFamilyRepository(db)
	lists := repository.NewListRepository(db)

	issuer, err := security.NewTokenIssuer(testTokenConfig)
	require.NoError(t, err)
	validator, err := security.NewTokenValidator(testTokenConfig)
	require.NoError(t, err)
	csrf := security.NewCSRFGenerator(testTokenConfig.Secret)
	limiter := security.NewLimiter(map[string]security.RateRule{
		security.RuleAuth:  {Limit: 1000, Window: time.Minute},
		security.RuleRead:  {Limit: 1000, Window: time.Minute},
		security.RuleWrite: {Limit: 1000, Window: time.Minute},
	})

	mailer := &recordingMailer{tokens: map[string]string{}}
	authService := service.NewAuthService(db, identities, families, issuer, mailer)
	familyService := service.NewFamilyService(db, identities, families, authService)
	listService := service.NewListService(lists)

	status := NewStartupStatus("Database connection")
	router := &Router{
		Middleware: NewMiddleware(validator, limiter, csrf, families, MiddlewareConfig{StoreTimeout: 5 * time.Second}),
		Auth:       NewAuthHandler(authService, csrf, nil, ""),
		Family:     NewFamilyHandler(familyService, service.NewBackupService(families, lists)),
		Lists:      NewListHandler(listService),
		Health:     NewHealthHandler(status, db),
	}

	return &apiFixture{handler: router.Handler(), mailer: mailer, status: status}
}

type call struct {
	method string
	path   string
	body   interface{}
	token  string
	cookie string
	csrf   string
}

func (f *apiFixture) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.cookie != "" {
		req.AddCookie(&http.Cookie{Name: security.SessionCookieName, Value: c.cookie})
	}
	if c.csrf != "" {
		req.Header.Set(security.CSRFHeader, c.csrf)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) login(t *testing.T, email, password string) sessionResponse {
	t.Helper()
	rec := f.do(t, call{method: http.MethodPost, path: "/api/auth/login", body: loginRequest{Email: email, Password: password}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func (f *apiFixture) registerAdmin(t *testing.T, email string) sessionResponse {
	t.Helper()
	rec := f.do(t, call{method: http.MethodPost, path: "/api/auth/register", body: registerRequest{
		Email:      email,
		Password:   "password123",
		Name:       "Pat Parent",
		FamilyName: "The Parents",
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func (f *apiFixture) addMember(t *testing.T, adminToken, email string, role models.Role) models.AppUser {
	t.Helper()
	rec := f.do(t, call{method: http.MethodPost, path: "/api/family/members", token: adminToken, body: addMemberRequest{
		Email:    email,
		Name:     "Member " + string(role),
		Role:     string(role),
		Password: "password123",
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var member models.AppUser
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &member))
	return member
}

// forgeRole rewrites the role in a token's payload and keeps the original signature
func forgeRole(t *testing.T, token string, role models.Role) string {
	t.Helper()
	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var claims map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &claims))
	claims["role"] = string(role)
	forged, err := json.Marshal(claims)
	require.NoError(t, err)

	parts[1] = base64.RawURLEncoding.EncodeToString(forged)
	return strings.Join(parts, ".")
}

func TestAPILoginAndRoleGates(t *testing.T) {
	f := newAPIFixture(t)
	f.registerAdmin(t, "admin@example.com")
	admin := f.login(t, "admin@example.com", "password123")
	assert.Equal(t, models.RoleAdmin, admin.User.Role)
	assert.NotEmpty(t, admin.CSRFToken)

	f.addMember(t, admin.Token, "child@example.com", models.RoleChild)
	child := f.login(t, "child@example.com", "password123")

	t.Run("admin reaches admin endpoint", func(t *testing.T) {
		rec := f.do(t, call{method: http.MethodPatch, path: "/api/family", token: admin.Token, body: renameRequest{Name: "The Smiths"}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var family models.Family
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &family))
		assert.Equal(t, "The Smiths", family.Name)
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := f.do(t, call{method: http.MethodPost, path: "/api/auth/login", body: loginRequest{Email: "admin@example.com", Password: "password124"}})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, CodeInvalidCredentials, decodeError(t, rec).Code)
	})

	t.Run("unknown email looks the same", func(t *testing.T) {
		rec := f.do(t, call{method: http.MethodPost, path: "/api/auth/login", body: loginRequest{Email: "ghost@example.com", Password: "password123"}})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, CodeInvalidCredentials, decodeError(t, rec).Code)
	})

	t.Run("forged child to admin token", func(t *testing.T) {
		forged := forgeRole(t, child.Token, models.RoleAdmin)
		rec := f.do(t, call{method: http.MethodPatch, path: "/api/family", token: forged, body: renameRequest{Name: "Kid Land"}})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, CodeInvalidToken, decodeError(t, rec).Code)
	})

	t.Run("child is forbidden from admin endpoint", func(t *testing.T) {
		rec := f.do(t, call{method: http.MethodPatch, path: "/api/family", token: child.Token, body: renameRequest{Name: "Kid Land"}})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, CodeForbidden, decodeError(t, rec).Code)
	})

	t.Run("child can read the family", func(t *testing.T) {
		rec := f.do(t, call{method: http.MethodGet, path: "/api/family", token: child.Token})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Name    string           `json:"name"`
			Members []models.AppUser `json:"members"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "The Smiths", resp.Name)
		assert.Len(t, resp.Members, 2)
	})

	t.Run("unsupported method", func(t *testing.T) {
		rec := f.do(t, call{method: http.MethodPut, path: "/api/family", token: admin.Token})
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, "GET, PATCH", rec.Header().Get("Allow"))
	})
}

func TestAPISessionEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.registerAdmin(t, "admin@example.com")

	rec := f.do(t, call{method: http.MethodGet, path: "/api/auth/session", token: admin.Token})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp claimsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, admin.User.ID, resp.AppUserID)
	assert.Equal(t, admin.User.FamilyID, resp.FamilyID)
	assert.Equal(t, models.RoleAdmin, resp.Role)
	assert.Equal(t, admin.CSRFToken, resp.CSRFToken, "csrf token is bound to the session")

	rec = f.do(t, call{method: http.MethodGet, path: "/api/auth/session"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeUnauthorized, decodeError(t, rec).Code)
}

func TestAPIRegisterRejectsDuplicateAndInvalid(t *testing.T) {
	f := newAPIFixture(t)
	f.registerAdmin(t, "admin@example.com")

	rec := f.do(t, call{method: http.MethodPost, path: "/api/auth/register", body: registerRequest{Email: "ADMIN@example.com", Password: "password123", Name: "Dup"}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeEmailTaken, decodeError(t, rec).Code)

	rec = f.do(t, call{method: http.MethodPost, path: "/api/auth/register", body: registerRequest{Email: "new@example.com", Password: "short", Name: "New"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	detail := decodeError(t, rec)
	assert.Equal(t, CodeValidationFailed, detail.Code)
	assert.Equal(t, "password", detail.Field)
}

func TestAPICookieSessionNeedsCSRF(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.registerAdmin(t, "admin@example.com")
	newList := createListRequest{Name: "Groceries"}

	rec := f.do(t, call{method: http.MethodPost, path: "/api/lists", cookie: admin.Token, body: newList})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, CodeCSRFInvalid, decodeError(t, rec).Code)

	rec = f.do(t, call{method: http.MethodPost, path: "/api/lists", cookie: admin.Token, csrf: admin.CSRFToken, body: newList})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, call{method: http.MethodGet, path: "/api/lists", cookie: admin.Token})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIListsAreFamilyScoped(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.registerAdmin(t, "admin@example.com")
	other := f.registerAdmin(t, "other@example.com")
	f.addMember(t, admin.Token, "child@example.com", models.RoleChild)
	child := f.login(t, "child@example.com", "password123")

	rec := f.do(t, call{method: http.MethodPost, path: "/api/lists", token: admin.Token, body: createListRequest{Name: "Groceries"}})
	require.Equal(t, http.StatusCreated, rec.Code)
	var list models.List
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	listPath := fmt.Sprintf("/api/lists/%d", list.ID)

	rec = f.do(t, call{method: http.MethodPost, path: listPath + "/items", token: child.Token, body: addItemRequest{Title: "Apples"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var item models.Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))

	rec = f.do(t, call{method: http.MethodPatch, path: fmt.Sprintf("/api/items/%d", item.ID), token: child.Token, body: map[string]bool{"completed": true}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, call{method: http.MethodDelete, path: fmt.Sprintf("/api/items/%d", item.ID), token: child.Token})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, call{method: http.MethodPost, path: "/api/lists", token: child.Token, body: createListRequest{Name: "Toys"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	for _, c := range []call{
		{method: http.MethodGet, path: listPath},
		{method: http.MethodGet, path: listPath + "/items"},
		{method: http.MethodDelete, path: listPath},
		{method: http.MethodPatch, path: fmt.Sprintf("/api/items/%d", item.ID), body: map[string]bool{"completed": false}},
	} {
		c.token = other.Token
		rec := f.do(t, c)
		assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", c.method, c.path)
	}

	rec = f.do(t, call{method: http.MethodGet, path: "/api/lists/abc", token: admin.Token})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, call{method: http.MethodGet, path: listPath, token: admin.Token})
	require.Equal(t, http.StatusOK, rec.Code)
	var detail service.ListDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	require.Len(t, detail.Items, 1)
	assert.True(t, detail.Items[0].Completed)
}

func TestAPIDemotionTakesEffectOnSensitiveEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.registerAdmin(t, "admin@example.com")
	second := f.addMember(t, admin.Token, "second@example.com", models.RoleAdmin)
	secondSession := f.login(t, "second@example.com", "password123")

	rec := f.do(t, call{method: http.MethodPatch, path: fmt.Sprintf("/api/family/members/%d", second.ID), token: admin.Token, body: updateRoleRequest{Role: "CHILD"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, call{method: http.MethodPatch, path: "/api/family", token: secondSession.Token, body: renameRequest{Name: "Mine now"}})
	assert.Equal(t, http.StatusForbidden, rec.Code, "token still says ADMIN but the live role is CHILD")

	rec = f.do(t, call{method: http.MethodDelete, path: fmt.Sprintf("/api/family/members/%d", second.ID), token: admin.Token})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, call{method: http.MethodPatch, path: "/api/family", token: secondSession.Token, body: renameRequest{Name: "Mine now"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "removed members are rejected")

	rec = f.do(t, call{method: http.MethodDelete, path: fmt.Sprintf("/api/family/members/%d", admin.User.ID), token: admin.Token})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeCannotRemoveSelf, decodeError(t, rec).Code)
}

func TestAPIPasswordReset(t *testing.T) {
	f := newAPIFixture(t)
	f.registerAdmin(t, "admin@example.com")

	rec := f.do(t, call{method: http.MethodPost, path: "/api/auth/password/forgot", body: forgotPasswordRequest{Email: "nobody@example.com"}})
	assert.Equal(t, http.StatusAccepted, rec.Code, "unknown accounts are not revealed")

	rec = f.do(t, call{method: http.MethodPost, path: "/api/auth/password/forgot", body: forgotPasswordRequest{Email: "admin@example.com"}})
	require.Equal(t, http.StatusAccepted, rec.Code)
	token := f.mailer.last("admin@example.com")
	require.NotEmpty(t, token)

	rec = f.do(t, call{method: http.MethodPost, path: "/api/auth/password/reset", body: resetPasswordRequest{Token: token, Password: "newpassword1"}})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = f.do(t, call{method: http.MethodPost, path: "/api/auth/password/reset", body: resetPasswordRequest{Token: token, Password: "newpassword2"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidResetToken, decodeError(t, rec).Code)

	f.login(t, "admin@example.com", "newpassword1")
}

func TestAPILogoutClearsCookie(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, call{method: http.MethodPost, path: "/api/auth/logout"})

	require.Equal(t, http.StatusNoContent, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, security.SessionCookieName, cookies[0].Name)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestAPIHealthz(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, call{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	f.status.CompleteStep("Database connection")
	f.status.MarkReady()

	rec = f.do(t, call{method: http.MethodGet, path: "/healthz"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestAPIProvidersOmitsUnconfigured(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, call{method: http.MethodGet, path: "/api/auth/providers"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = f.do(t, call{method: http.MethodGet, path: "/auth/google/start"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIFamilyExport(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.registerAdmin(t, "admin@example.com")
	f.addMember(t, admin.Token, "adult@example.com", models.RoleAdult)
	adult := f.login(t, "adult@example.com", "password123")

	rec := f.do(t, call{method: http.MethodPost, path: "/api/lists", token: admin.Token, body: createListRequest{Name: "Groceries"}})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, call{method: http.MethodGet, path: "/api/family/export", token: adult.Token})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, call{method: http.MethodGet, path: "/api/family/export", token: admin.Token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

	var backup service.BackupData
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &backup))
	assert.Equal(t, admin.User.FamilyID, backup.Family.ID)
	assert.Len(t, backup.Members, 2)
	require.Len(t, backup.Lists, 1)
	assert.Equal(t, "Groceries", backup.Lists[0].Name)
	assert.NotContains(t, rec.Body.String(), "$2a$", "password hashes are never exported")
}
