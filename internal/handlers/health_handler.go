package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Pinger checks that a backing store is reachable
type Pinger interface {
	PingContext(ctx context.Context) error
}

// StartupStatus tracks initialization progress until the server is ready to take traffic
type StartupStatus struct {
	mu      sync.RWMutex
	ready   bool
	current string
	steps   []StartupStep
}

type StartupStep struct {
	Name      string `json:"name"`
	Completed bool   `json:"completed"`
}

// NewStartupStatus creates a status with the given pending steps
func NewStartupStatus(steps ...string) *StartupStatus {
	s := &StartupStatus{current: "Initializing"}
	for _, name := range steps {
		s.steps = append(s.steps, StartupStep{Name: name})
	}
	return s
}

// CompleteStep marks a step as completed
func (s *StartupStatus) CompleteStep(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.steps {
		if s.steps[i].Name == name {
			s.steps[i].Completed = true
			break
		}
	}
	s.current = name
}

// MarkReady marks the server as fully initialized
func (s *StartupStatus) MarkReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = true
	s.current = "Server ready"
}

// IsReady returns whether the server is fully initialized
func (s *StartupStatus) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

func (s *StartupStatus) progress() int {
	if len(s.steps) == 0 {
		return 100
	}
	completed := 0
	for _, step := range s.steps {
		if step.Completed {
			completed++
		}
	}
	return completed * 100 / len(s.steps)
}

type healthResponse struct {
	Status   string        `json:"status"`
	Current  string        `json:"current,omitempty"`
	Progress int           `json:"progress"`
	Steps    []StartupStep `json:"steps,omitempty"`
}

// HealthHandler reports readiness and database reachability
type HealthHandler struct {
	status *StartupStatus
	db     Pinger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(status *StartupStatus, db Pinger) *HealthHandler {
	return &HealthHandler{status: status, db: db}
}

// Healthz answers 200 once startup has finished and the database responds, 503 otherwise
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	h.status.mu.RLock()
	resp := healthResponse{
		Status:   "starting",
		Current:  h.status.current,
		Progress: h.status.progress(),
		Steps:    append([]StartupStep(nil), h.status.steps...),
	}
	ready := h.status.ready
	h.status.mu.RUnlock()

	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		respondWithError(w, r, http.StatusServiceUnavailable, CodeStoreTimeout, "Database unavailable", err)
		return
	}

	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Progress: 100})
}
