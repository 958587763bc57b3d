package handlers

import (
	"net/http"

	"familytasks/internal/security"
)

// Router bundles the handlers served by the API
type Router struct {
	Middleware *Middleware
	Auth       *AuthHandler
	Family     *FamilyHandler
	Lists      *ListHandler
	Health     *HealthHandler
}

// Register adds every route to mux. Paths carry no method pattern so unsupported methods get
// the JSON 405 from the middleware.
func (rt *Router) Register(mux *http.ServeMux) {
	m := rt.Middleware
	public := Endpoint{RateLimit: security.RuleAuth}
	authed := Endpoint{RequireAuth: true}
	sensitive := Endpoint{RequireAuth: true, Revalidate: true}

	mux.HandleFunc("/api/auth/register", m.Route(public, Methods{http.MethodPost: rt.Auth.Register}))
	mux.HandleFunc("/api/auth/login", m.Route(public, Methods{http.MethodPost: rt.Auth.Login}))
	mux.HandleFunc("/api/auth/logout", m.Route(public, Methods{http.MethodPost: rt.Auth.Logout}))
	mux.HandleFunc("/api/auth/session", m.Route(authed, Methods{http.MethodGet: rt.Auth.Session}))
	mux.HandleFunc("/api/auth/providers", m.Route(Endpoint{}, Methods{http.MethodGet: rt.Auth.Providers}))
	mux.HandleFunc("/api/auth/password/forgot", m.Route(public, Methods{http.MethodPost: rt.Auth.ForgotPassword}))
	mux.HandleFunc("/api/auth/password/reset", m.Route(public, Methods{http.MethodPost: rt.Auth.ResetPassword}))
	mux.HandleFunc("/auth/{provider}/start", m.Route(public, Methods{http.MethodGet: rt.Auth.StartOAuth}))
	mux.HandleFunc("/auth/{provider}/callback", m.Route(public, Methods{http.MethodGet: rt.Auth.OAuthCallback}))

	mux.HandleFunc("/api/family", m.Route(sensitive, Methods{
		http.MethodGet:   rt.Family.GetFamily,
		http.MethodPatch: rt.Family.RenameFamily,
	}))
	mux.HandleFunc("/api/family/export", m.Route(sensitive, Methods{http.MethodGet: rt.Family.ExportFamily}))
	mux.HandleFunc("/api/family/members", m.Route(sensitive, Methods{
		http.MethodGet:  rt.Family.ListMembers,
		http.MethodPost: rt.Family.AddMember,
	}))
	mux.HandleFunc("/api/family/members/{id}", m.Route(sensitive, Methods{
		http.MethodPatch:  rt.Family.UpdateMember,
		http.MethodDelete: rt.Family.RemoveMember,
	}))

	mux.HandleFunc("/api/lists", m.Route(authed, Methods{
		http.MethodGet:  rt.Lists.GetLists,
		http.MethodPost: rt.Lists.CreateList,
	}))
	mux.HandleFunc("/api/lists/{id}", m.Route(authed, Methods{
		http.MethodGet:    rt.Lists.GetList,
		http.MethodPatch:  rt.Lists.RenameList,
		http.MethodDelete: rt.Lists.DeleteList,
	}))
	mux.HandleFunc("/api/lists/{id}/items", m.Route(authed, Methods{
		http.MethodGet:  rt.Lists.GetItems,
		http.MethodPost: rt.Lists.AddItem,
	}))
	mux.HandleFunc("/api/items/{id}", m.Route(authed, Methods{
		http.MethodPatch:  rt.Lists.UpdateItem,
		http.MethodDelete: rt.Lists.DeleteItem,
	}))

	if rt.Health != nil {
		mux.HandleFunc("GET /healthz", rt.Health.Healthz)
	}
}

// Handler returns the routed API wrapped with the access log
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	rt.Register(mux)
	return AccessLog(mux)
}
