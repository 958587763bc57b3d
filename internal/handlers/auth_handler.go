package handlers

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/hlog"

	"familytasks/internal/models"
	"familytasks/internal/security"
	"familytasks/internal/service"
)

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	authService          *service.AuthService
	csrf                 *security.CSRFGenerator
	oauthProviders       map[string]OAuthProvider
	oauthRedirectBaseURL string
	oauthSuccessPath     string
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *service.AuthService, csrf *security.CSRFGenerator, oauthProviders map[string]OAuthProvider, oauthRedirectBaseURL string) *AuthHandler {
	return &AuthHandler{
		authService:          authService,
		csrf:                 csrf,
		oauthProviders:       oauthProviders,
		oauthRedirectBaseURL: oauthRedirectBaseURL,
		oauthSuccessPath:     "/",
	}
}

type sessionResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
	CSRFToken string          `json:"csrfToken"`
	User      *models.AppUser `json:"user"`
}

type claimsResponse struct {
	UserID    int64       `json:"userId"`
	AppUserID int64       `json:"appUserId"`
	FamilyID  int64       `json:"familyId"`
	Role      models.Role `json:"role"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	ExpiresAt time.Time   `json:"expiresAt"`
	CSRFToken string      `json:"csrfToken"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Name       string `json:"name"`
	FamilyName string `json:"familyName"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// Register creates an account with a new family and signs it in
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, http.StatusBadRequest, CodeBadRequest, ErrInvalidBody, err)
		return
	}

	session, err := h.authService.Register(r.Context(), service.RegisterInput{
		Email:      req.Email,
		Password:   req.Password,
		Name:       req.Name,
		FamilyName: req.FamilyName,
	})
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	h.startSession(w, r, http.StatusCreated, session)
}

// Login handles credential sign-in
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, http.StatusBadRequest, CodeBadRequest, ErrInvalidBody, err)
		return
	}

	session, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	h.startSession(w, r, http.StatusOK, session)
}

// Logout clears the session cookie. Tokens are stateless and stay valid until they expire.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, security.CreateDeleteCookie(r, security.SessionCookieName))
	w.WriteHeader(http.StatusNoContent)
}

// Session returns the caller's validated claims
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	csrfToken, err := h.csrf.GenerateToken(claims.TokenID)
	if err != nil {
		respondWithError(w, r, http.StatusInternalServerError, CodeInternal, ErrInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, claimsResponse{
		UserID:    claims.UserID,
		AppUserID: claims.AppUserID,
		FamilyID:  claims.FamilyID,
		Role:      claims.Role,
		Name:      claims.Name,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt,
		CSRFToken: csrfToken,
	})
}

// ForgotPassword starts a password reset. The response never reveals whether the account exists.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, http.StatusBadRequest, CodeBadRequest, ErrInvalidBody, err)
		return
	}

	if err := h.authService.RequestPasswordReset(r.Context(), req.Email); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Failed to start password reset")
	}
	w.WriteHeader(http.StatusAccepted)
}

// ResetPassword sets a new password from a reset or setup token
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, http.StatusBadRequest, CodeBadRequest, ErrInvalidBody, err)
		return
	}

	if err := h.authService.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// startSession sets the session cookie and writes the token for API clients
func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, status int, session *service.Session) {
	csrfToken, err := h.csrf.GenerateToken(session.Claims.TokenID)
	if err != nil {
		respondWithError(w, r, http.StatusInternalServerError, CodeInternal, ErrInternalServerError, err)
		return
	}

	http.SetCookie(w, security.CreateSessionCookie(r, security.SessionCookieName, session.Token, session.Claims.ExpiresAt))
	writeJSON(w, status, sessionResponse{
		Token:     session.Token,
		ExpiresAt: session.Claims.ExpiresAt,
		CSRFToken: csrfToken,
		User:      session.AppUser,
	})
}
