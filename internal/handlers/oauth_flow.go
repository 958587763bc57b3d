package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/hlog"
	"golang.org/x/oauth2"

	"familytasks/internal/security"
)

// OAuthProvider defines provider configuration and metadata
type OAuthProvider struct {
	Name        string
	Label       string
	Config      *oauth2.Config
	UserInfoURL string
	AuthParams  map[string]string
	// VerifiedEmailField names the user info flag that confirms the email. When set, a
	// missing or false flag rejects the sign-in.
	VerifiedEmailField string
}

var errUnverifiedEmail = errors.New("provider email is not verified")

func (p OAuthProvider) configured() bool {
	return p.Config != nil && p.Config.ClientID != "" && p.Config.ClientSecret != ""
}

type oauthProviderView struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	URL   string `json:"url"`
}

type oauthUserInfo struct {
	Subject string
	Email   string
	Name    string
}

// Providers lists the configured OAuth providers and their start URLs
func (h *AuthHandler) Providers(w http.ResponseWriter, r *http.Request) {
	views := []oauthProviderView{}
	for key, provider := range h.oauthProviders {
		if !provider.configured() {
			continue
		}
		views = append(views, oauthProviderView{
			Name:  key,
			Label: provider.Label,
			URL:   fmt.Sprintf("/auth/%s/start", key),
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })

	writeJSON(w, http.StatusOK, views)
}

// StartOAuth initiates the OAuth flow for a provider
func (h *AuthHandler) StartOAuth(w http.ResponseWriter, r *http.Request) {
	providerKey := r.PathValue("provider")
	provider, ok := h.oauthProviders[providerKey]
	if !ok || !provider.configured() {
		respondWithError(w, r, http.StatusNotFound, CodeNotFound, "OAuth provider not configured", nil)
		return
	}

	state := security.GenerateStateID()
	h.setTempCookie(w, r, oauthStateCookieName, state)
	h.setTempCookie(w, r, oauthProviderCookieName, providerKey)

	config := *provider.Config
	config.RedirectURL = h.oauthRedirectURL(r, providerKey)

	options := []oauth2.AuthCodeOption{oauth2.AccessTypeOnline}
	for key, value := range provider.AuthParams {
		options = append(options, oauth2.SetAuthURLParam(key, value))
	}

	http.Redirect(w, r, config.AuthCodeURL(state, options...), http.StatusFound)
}

// OAuthCallback completes the OAuth flow and signs in the matching account
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	providerKey := r.PathValue("provider")
	provider, ok := h.oauthProviders[providerKey]
	if !ok || !provider.configured() {
		respondWithError(w, r, http.StatusNotFound, CodeNotFound, "OAuth provider not configured", nil)
		return
	}

	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if code == "" {
		respondWithError(w, r, http.StatusBadRequest, CodeBadRequest, "Missing authorization code", nil)
		return
	}

	stateCookie, err := r.Cookie(oauthStateCookieName)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != state {
		respondWithError(w, r, http.StatusBadRequest, CodeBadRequest, "Invalid OAuth state", nil)
		return
	}
	if providerCookie, err := r.Cookie(oauthProviderCookieName); err == nil && providerCookie.Value != providerKey {
		respondWithError(w, r, http.StatusBadRequest, CodeBadRequest, "OAuth provider mismatch", nil)
		return
	}

	h.clearTempCookie(w, r, oauthStateCookieName)
	h.clearTempCookie(w, r, oauthProviderCookieName)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	config := *provider.Config
	config.RedirectURL = h.oauthRedirectURL(r, providerKey)

	token, err := config.Exchange(ctx, code)
	if err != nil {
		respondWithError(w, r, http.StatusBadRequest, CodeBadRequest, "Failed to exchange OAuth code", err)
		return
	}

	userInfo, err := fetchOAuthUser(ctx, provider, token)
	if errors.Is(err, errUnverifiedEmail) {
		respondWithError(w, r, http.StatusForbidden, CodeForbidden, "Email address is not verified with the provider", err)
		return
	}
	if err != nil {
		respondWithError(w, r, http.StatusBadGateway, CodeBadRequest, "Failed to fetch OAuth profile", err)
		return
	}

	session, err := h.authService.OAuthLogin(r.Context(), providerKey, userInfo.Email)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	hlog.FromRequest(r).Info().Str("provider", providerKey).Int64("app_user_id", session.AppUser.ID).Msg("OAuth sign-in")
	http.SetCookie(w, security.CreateSessionCookie(r, security.SessionCookieName, session.Token, session.Claims.ExpiresAt))
	http.Redirect(w, r, h.oauthSuccessPath, http.StatusSeeOther)
}

// fetchOAuthUser reads the profile from the provider's user info endpoint. Google and Facebook
// both answer with id, email and name fields; Google also reports verified_email.
func fetchOAuthUser(ctx context.Context, provider OAuthProvider, token *oauth2.Token) (oauthUserInfo, error) {
	if provider.UserInfoURL == "" {
		return oauthUserInfo{}, errors.New("unsupported OAuth provider")
	}

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	resp, err := client.Get(provider.UserInfoURL)
	if err != nil {
		return oauthUserInfo{}, fmt.Errorf("failed to fetch %s user info: %w", provider.Label, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return oauthUserInfo{}, fmt.Errorf("failed to fetch %s user info: status %d", provider.Label, resp.StatusCode)
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return oauthUserInfo{}, fmt.Errorf("failed to parse %s user info: %w", provider.Label, err)
	}

	var info oauthUserInfo
	for field, dst := range map[string]*string{"id": &info.Subject, "email": &info.Email, "name": &info.Name} {
		if value, ok := raw[field]; ok {
			if err := json.Unmarshal(value, dst); err != nil {
				return oauthUserInfo{}, fmt.Errorf("failed to parse %s user info %s: %w", provider.Label, field, err)
			}
		}
	}
	if info.Email == "" {
		return oauthUserInfo{}, fmt.Errorf("%s did not return an email", provider.Label)
	}

	if provider.VerifiedEmailField != "" {
		var verified bool
		if value, ok := raw[provider.VerifiedEmailField]; ok {
			if err := json.Unmarshal(value, &verified); err != nil {
				return oauthUserInfo{}, fmt.Errorf("failed to parse %s user info %s: %w", provider.Label, provider.VerifiedEmailField, err)
			}
		}
		if !verified {
			return oauthUserInfo{}, fmt.Errorf("%s: %w", provider.Label, errUnverifiedEmail)
		}
	}

	return info, nil
}

func (h *AuthHandler) oauthRedirectURL(r *http.Request, providerKey string) string {
	baseURL := strings.TrimSpace(h.oauthRedirectBaseURL)
	if baseURL == "" {
		scheme := "http"
		if security.IsSecureRequest(r) {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, r.Host)
	}
	return fmt.Sprintf("%s/auth/%s/callback", strings.TrimRight(baseURL, "/"), providerKey)
}

func (h *AuthHandler) setTempCookie(w http.ResponseWriter, r *http.Request, name, value string) {
	ttl := oauthCookieTTLMinutes * time.Minute
	cookie := security.CreateSessionCookie(r, name, value, time.Now().Add(ttl))
	cookie.MaxAge = int(ttl.Seconds())
	http.SetCookie(w, cookie)
}

func (h *AuthHandler) clearTempCookie(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, security.CreateDeleteCookie(r, name))
}
