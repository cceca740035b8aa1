package ratelimit

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ms-rentals/internal/auth"
	"ms-rentals/internal/logger"
	"ms-rentals/internal/utils"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Store holds one token bucket per client key. Idle buckets are dropped by
// Sweep so the map stays bounded.
type Store struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

func NewStore(requestsPerMinute, burst int) *Store {
	return &Store{
		limiters: make(map[string]*entry),
		limit:    rate.Every(time.Minute / time.Duration(max(requestsPerMinute, 1))),
		burst:    max(burst, 1),
		now:      time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Allow reports whether key may make a request now, and if not how long it
// should wait.
func (s *Store) Allow(key string) (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[key] = e
	}
	e.lastSeen = now

	r := e.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	r.CancelAt(now)
	return false, delay
}

// Sweep removes buckets not used for idle and returns how many were removed.
func (s *Store) Sweep(idle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-idle)
	removed := 0
	for key, e := range s.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(s.limiters, key)
			removed++
		}
	}
	return removed
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// Run sweeps idle buckets every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval, idle time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(idle); n > 0 {
				log.Debug("RATELIMIT", fmt.Sprintf("Dropped %d idle limiters", n))
			}
		}
	}
}

// ClientKey identifies the caller by profile when authenticated and by
// remote address otherwise.
func ClientKey(r *http.Request) string {
	if actor := auth.ActorFrom(r.Context()); !actor.IsAnonymous() {
		return "profile:" + actor.ProfileID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// Middleware rejects requests over the limit with 429 and a Retry-After hint.
func Middleware(store *Store, key func(*http.Request) string, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			ok, wait := store.Allow(k)
			if !ok {
				log.LogSecurity("RATE_LIMITED", fmt.Sprintf("%s %s %s", k, r.Method, r.URL.Path))
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				utils.WriteJSON(w, http.StatusTooManyRequests,
					utils.ErrorResponse("Rate limit exceeded", "Rate limit exceeded. Try again later."))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
