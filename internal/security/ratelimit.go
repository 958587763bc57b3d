package security

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Named rate limit rules used by endpoints
const (
	RuleAuth  = "auth"
	RuleWrite = "write"
	RuleRead  = "read"
)

// RateRule allows Limit requests per Window for each key
type RateRule struct {
	Limit  int
	Window time.Duration
}

// Limiter is a fixed-window rate limiter keyed by (rule, key)
type Limiter struct {
	rules   map[string]RateRule
	buckets map[bucketKey]*bucket
	mu      sync.Mutex
	now     func() time.Time
}

type bucketKey struct {
	rule string
	key  string
}

type bucket struct {
	remaining   int
	windowStart time.Time
	window      time.Duration
	mu          sync.Mutex
}

// NewLimiter creates a limiter for the given named rules
func NewLimiter(rules map[string]RateRule) *Limiter {
	return newLimiterWithClock(rules, time.Now)
}

func newLimiterWithClock(rules map[string]RateRule, now func() time.Time) *Limiter {
	copied := make(map[string]RateRule, len(rules))
	for name, rule := range rules {
		copied[name] = rule
	}
	return &Limiter{
		rules:   copied,
		buckets: make(map[bucketKey]*bucket),
		now:     now,
	}
}

// Check consumes one request for key under the named rule. When the request is denied it
// returns how long until the window resets.
func (l *Limiter) Check(key, rule string) (bool, time.Duration) {
	r, ok := l.rules[rule]
	if !ok || r.Limit <= 0 || r.Window <= 0 {
		log.Error().Str("rule", rule).Msg("Unknown rate limit rule, denying request")
		return false, time.Minute
	}

	bk := bucketKey{rule: rule, key: key}
	l.mu.Lock()
	b, exists := l.buckets[bk]
	if !exists {
		b = &bucket{
			remaining:   r.Limit,
			windowStart: l.now(),
			window:      r.Window,
		}
		l.buckets[bk] = b
	}
	// take the bucket lock before releasing the map so reap cannot detach it in between
	b.mu.Lock()
	l.mu.Unlock()
	defer b.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(b.windowStart)
	if elapsed >= r.Window {
		b.remaining = r.Limit
		b.windowStart = now
		elapsed = 0
	}

	if b.remaining > 0 {
		b.remaining--
		return true, 0
	}

	return false, r.Window - elapsed
}

// Run reaps stale buckets every interval until ctx is cancelled
func (l *Limiter) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := l.reap(); n > 0 {
				log.Debug().Int("buckets", n).Msg("Reaped rate limit buckets")
			}
		}
	}
}

// reap removes buckets whose window ended more than one window ago
func (l *Limiter) reap() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for k, b := range l.buckets {
		b.mu.Lock()
		if now.Sub(b.windowStart) > b.window*2 {
			delete(l.buckets, k)
			removed++
		}
		b.mu.Unlock()
	}
	return removed
}

// GetClientIP extracts the client IP from the request. Forwarding headers are only honoured
// when the server sits behind a trusted proxy.
func GetClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
			return realIP
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
