package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"familytasks/internal/models"
	"familytasks/internal/security"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const ClaimsContextKey ContextKey = "claims"

// AppUserLoader loads the live membership record for revalidation
type AppUserLoader interface {
	GetAppUser(ctx context.Context, id int64) (*models.AppUser, error)
}

// Endpoint describes how a route is guarded
type Endpoint struct {
	RequireAuth bool
	Methods     []string
	// RateLimit names a limiter rule. Empty picks read for GET/HEAD and write otherwise.
	RateLimit string
	// Revalidate reloads the member on state-changing requests so a demotion or removal takes
	// effect before the token expires
	Revalidate bool
}

// Methods maps an HTTP method to its handler for one path
type Methods map[string]http.HandlerFunc

// MiddlewareConfig holds request guard settings
type MiddlewareConfig struct {
	TrustProxy   bool
	StoreTimeout time.Duration
}

// Middleware holds dependencies for middleware functions
type Middleware struct {
	validator *security.TokenValidator
	limiter   *security.Limiter
	csrf      *security.CSRFGenerator
	members   AppUserLoader
	cfg       MiddlewareConfig
}

// NewMiddleware creates a new middleware instance
func NewMiddleware(validator *security.TokenValidator, limiter *security.Limiter, csrf *security.CSRFGenerator, members AppUserLoader, cfg MiddlewareConfig) *Middleware {
	return &Middleware{
		validator: validator,
		limiter:   limiter,
		csrf:      csrf,
		members:   members,
		cfg:       cfg,
	}
}

// Route guards a set of per-method handlers with ep. The allowed methods are the keys of handlers.
func (m *Middleware) Route(ep Endpoint, handlers Methods) http.HandlerFunc {
	ep.Methods = ep.Methods[:0:0]
	for method := range handlers {
		ep.Methods = append(ep.Methods, method)
	}
	sort.Strings(ep.Methods)

	return m.Wrap(ep, func(w http.ResponseWriter, r *http.Request) {
		handlers[r.Method](w, r)
	})
}

// Wrap runs the request guards in order: method, rate limit, authentication, CSRF,
// revalidation. Role gates are applied by handlers with requireRole.
func (m *Middleware) Wrap(ep Endpoint, next http.HandlerFunc) http.HandlerFunc {
	allow := strings.Join(ep.Methods, ", ")

	return func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(ep.Methods, r.Method) {
			w.Header().Set("Allow", allow)
			respondWithError(w, r, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method not allowed", nil)
			return
		}

		rule := ep.RateLimit
		if rule == "" {
			rule = defaultRule(r.Method)
		}
		clientIP := security.GetClientIP(r, m.cfg.TrustProxy)
		if ok, retryAfter := m.limiter.Check(clientIP, rule); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(retryAfter)))
			hlog.FromRequest(r).Info().Str("rule", rule).Str("ip", clientIP).Msg("Rate limited")
			respondWithError(w, r, http.StatusTooManyRequests, CodeRateLimited, "Too many requests", nil)
			return
		}

		ctx := r.Context()
		if m.cfg.StoreTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.cfg.StoreTimeout)
			defer cancel()
		}

		if !ep.RequireAuth {
			next(w, r.WithContext(ctx))
			return
		}

		token, source := security.ExtractToken(r)
		if source == security.TokenSourceNone {
			respondWithError(w, r, http.StatusUnauthorized, CodeUnauthorized, ErrUnauthorized, nil)
			return
		}

		claims, err := m.validator.Validate(token)
		if err != nil {
			if source == security.TokenSourceCookie {
				http.SetCookie(w, security.CreateDeleteCookie(r, security.SessionCookieName))
			}
			hlog.FromRequest(r).Debug().Err(err).Msg("Rejected session token")
			respondWithServiceError(w, r, err)
			return
		}

		if source == security.TokenSourceCookie && security.RequiresCSRF(r.Method) {
			if !m.csrf.ValidateToken(claims.TokenID, r.Header.Get(security.CSRFHeader)) {
				respondWithError(w, r, http.StatusForbidden, CodeCSRFInvalid, "Missing or invalid CSRF token", nil)
				return
			}
		}

		if ep.Revalidate && security.RequiresCSRF(r.Method) {
			claims, err = m.revalidate(ctx, claims)
			if err != nil {
				if errors.Is(err, errStaleMembership) {
					respondWithError(w, r, http.StatusUnauthorized, CodeUnauthorized, "Membership changed, sign in again", nil)
					return
				}
				respondWithServiceError(w, r, err)
				return
			}
		}

		ctx = context.WithValue(ctx, ClaimsContextKey, claims)
		ctx = zerolog.Ctx(ctx).With().
			Int64("app_user_id", claims.AppUserID).
			Int64("family_id", claims.FamilyID).
			Logger().WithContext(ctx)
		next(w, r.WithContext(ctx))
	}
}

var errStaleMembership = errors.New("membership no longer matches token")

// revalidate reloads the member and returns claims carrying the live role
func (m *Middleware) revalidate(ctx context.Context, claims *security.SessionClaims) (*security.SessionClaims, error) {
	member, err := m.members.GetAppUser(ctx, claims.AppUserID)
	if err != nil {
		return nil, err
	}
	if member == nil || member.FamilyID != claims.FamilyID || member.UserID != claims.UserID {
		return nil, errStaleMembership
	}

	live := *claims
	live.Role = member.Role
	return &live, nil
}

// ClaimsFromContext retrieves the validated session claims from the request context
func ClaimsFromContext(ctx context.Context) *security.SessionClaims {
	claims, ok := ctx.Value(ClaimsContextKey).(*security.SessionClaims)
	if !ok {
		return nil
	}
	return claims
}

// requireRole writes 403 and returns false unless the caller has at least minimum
func requireRole(w http.ResponseWriter, r *http.Request, minimum models.Role) bool {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		respondWithError(w, r, http.StatusUnauthorized, CodeUnauthorized, ErrUnauthorized, nil)
		return false
	}
	if !claims.Role.HasAtLeast(minimum) {
		respondWithError(w, r, http.StatusForbidden, CodeForbidden, "Insufficient role", nil)
		return false
	}
	return true
}

// AccessLog adds a request logger, a request id and one access log line per request
func AccessLog(next http.Handler) http.Handler {
	h := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})(next)
	h = hlog.RequestIDHandler("req_id", requestIDHeader)(h)
	return hlog.NewHandler(log.Logger)(h)
}

func methodAllowed(methods []string, method string) bool {
	for _, m := range methods {
		if m == method {
			return true
		}
	}
	return false
}

func defaultRule(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return security.RuleRead
	}
	return security.RuleWrite
}

func retrySeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}
