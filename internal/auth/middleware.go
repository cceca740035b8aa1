package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ms-rentals/internal/cache"
	"ms-rentals/internal/logger"
	"ms-rentals/internal/models"
	"ms-rentals/internal/utils"
)

type contextKey string

const actorKey contextKey = "actor"

// Authenticator resolves bearer tokens to actors. Verified tokens are cached
// until they expire or ttl passes, whichever comes first.
type Authenticator struct {
	verifier Verifier
	cache    cache.Cache
	ttl      time.Duration
	log      *logger.Logger
	now      func() time.Time
}

func NewAuthenticator(verifier Verifier, c cache.Cache, ttl time.Duration, log *logger.Logger) *Authenticator {
	return &Authenticator{verifier: verifier, cache: c, ttl: ttl, log: log, now: time.Now}
}

// Authenticate verifies rawToken, consulting the cache first.
func (a *Authenticator) Authenticate(ctx context.Context, rawToken string) (models.Actor, error) {
	key := cacheKey(rawToken)

	if a.cache != nil {
		if raw, ok, err := a.cache.Get(ctx, key); err != nil {
			a.log.Warn("AUTH", fmt.Sprintf("Token cache read failed: %v", err))
		} else if ok {
			var actor models.Actor
			if err := json.Unmarshal(raw, &actor); err == nil && !actor.IsAnonymous() {
				return actor, nil
			}
		}
	}

	id, err := a.verifier.Verify(ctx, rawToken)
	if err != nil {
		return models.Actor{}, err
	}

	if a.cache != nil {
		ttl := a.ttl
		if !id.ExpiresAt.IsZero() {
			if left := id.ExpiresAt.Sub(a.now()); left < ttl {
				ttl = left
			}
		}
		if raw, err := json.Marshal(id.Actor); err == nil {
			if err := a.cache.Set(ctx, key, raw, ttl); err != nil {
				a.log.Warn("AUTH", fmt.Sprintf("Token cache write failed: %v", err))
			}
		}
	}
	return id.Actor, nil
}

// Required rejects requests without a valid bearer token.
func (a *Authenticator) Required(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawToken, err := ExtractTokenFromRequest(r)
		if err != nil {
			unauthorized(w, err.Error())
			return
		}
		actor, err := a.Authenticate(r.Context(), rawToken)
		if err != nil {
			a.log.LogSecurity("AUTH_REJECTED", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
			unauthorized(w, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// Optional lets anonymous requests through. A token that is present but
// invalid is still rejected.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawToken, err := ExtractTokenFromRequest(r)
		if errors.Is(err, ErrMissingToken) {
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			unauthorized(w, err.Error())
			return
		}
		actor, err := a.Authenticate(r.Context(), rawToken)
		if err != nil {
			a.log.LogSecurity("AUTH_REJECTED", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
			unauthorized(w, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// RequireAdmin must run after Required.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := ActorFrom(r.Context())
		if actor.IsAnonymous() {
			unauthorized(w, ErrMissingToken.Error())
			return
		}
		if !actor.IsAdmin() {
			utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse("Forbidden", "admin role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFrom returns the caller stored on ctx, or the anonymous actor.
func ActorFrom(ctx context.Context) models.Actor {
	if actor, ok := ctx.Value(actorKey).(models.Actor); ok {
		return actor
	}
	return models.Actor{}
}

func cacheKey(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return "auth:token:" + hex.EncodeToString(sum[:])
}

func unauthorized(w http.ResponseWriter, reason string) {
	utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", reason))
}
