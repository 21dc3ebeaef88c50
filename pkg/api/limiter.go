package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tillerlabs/tiller/pkg/identity"
)

// Limit is a per-client request budget.
type Limit struct {
	RPS   float64
	Burst int
}

// LimiterStore abstracts the storage for rate limiting buckets.
// Implementations hold one bucket per client key.
type LimiterStore interface {
	// Allow reports whether the client has budget for one more request.
	Allow(ctx context.Context, clientID string, l Limit) (bool, error)
}

// visitor tracks the rate limiter and last seen time for a client.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalLimiterStore keeps token buckets in process memory. Suited to
// single-instance deployments; multi-instance deployments share buckets
// through Redis instead.
type LocalLimiterStore struct {
	mu       sync.Mutex
	visitors map[string]*visitor
}

// NewLocalLimiterStore creates an in-memory limiter store and starts its
// background cleanup.
func NewLocalLimiterStore() *LocalLimiterStore {
	s := &LocalLimiterStore{visitors: make(map[string]*visitor)}
	go s.cleanupVisitors()
	return s
}

// Allow consumes one token from the client's bucket, creating the bucket
// on first sight.
func (s *LocalLimiterStore) Allow(_ context.Context, clientID string, l Limit) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, exists := s.visitors[clientID]
	if !exists {
		rps := l.RPS
		if rps <= 0 {
			rps = 1
		}
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(rps), l.Burst)}
		s.visitors[clientID] = v
	}
	v.lastSeen = time.Now()
	return v.limiter.Allow(), nil
}

// cleanupVisitors removes stale visitor entries to prevent unbounded
// growth. Checks every minute, removes entries idle for 3 minutes.
func (s *LocalLimiterStore) cleanupVisitors() {
	for {
		time.Sleep(1 * time.Minute)
		s.mu.Lock()
		for id, v := range s.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(s.visitors, id)
			}
		}
		s.mu.Unlock()
	}
}

// clientKey picks the rate limiting key: the authenticated principal when
// one is on the context, the remote IP otherwise.
func clientKey(r *http.Request) string {
	if p, ok := identity.FromContext(r.Context()); ok && p.Subject != "" {
		return "principal:" + p.Subject
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = strings.TrimSuffix(strings.TrimPrefix(r.RemoteAddr, "["), "]")
	}
	return "ip:" + ip
}

// NewRateLimitMiddleware enforces the limit per client. Store errors deny
// the request.
func NewRateLimitMiddleware(store LimiterStore, l Limit) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := store.Allow(r.Context(), clientKey(r), l)
			if err != nil {
				WriteInternal(w, err)
				return
			}
			if !allowed {
				WriteTooManyRequests(w, 5)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
