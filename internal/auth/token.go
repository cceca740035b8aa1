package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"

	"ms-rentals/internal/models"
)

var (
	ErrMissingToken = errors.New("authorization header is missing")
	ErrMalformed    = errors.New("authorization header format must be 'Bearer {token}'")
)

// Identity is a verified token: who the caller is and until when.
type Identity struct {
	Actor     models.Actor
	ExpiresAt time.Time
}

// Verifier checks a bearer token and resolves the caller behind it.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (Identity, error)
}

// Claims is the subset of token claims the service reads. Keycloak carries
// roles under realm_access, other issuers use a flat role claim.
type Claims struct {
	Email       string `json:"email,omitempty"`
	Role        string `json:"role,omitempty"`
	RealmAccess struct {
		Roles []string `json:"roles,omitempty"`
	} `json:"realm_access,omitempty"`
	jwt.RegisteredClaims
}

func (c Claims) actor() models.Actor {
	role := c.Role
	if role == "" && lo.Contains(c.RealmAccess.Roles, models.RoleAdmin) {
		role = models.RoleAdmin
	}
	return models.Actor{ProfileID: c.Subject, Email: c.Email, Role: role}
}

// ExtractTokenFromRequest extracts a JWT token from an HTTP request's Authorization header
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrMissingToken
	}

	// Bearer token format: "Bearer {token}"
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrMalformed
	}

	return parts[1], nil
}

// HMACVerifier validates HS256 tokens signed with a shared secret. It serves
// deployments without an identity provider and the test suites.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(_ context.Context, rawToken string) (Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(rawToken, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return Identity{}, errors.New("subject claim not found in token")
	}

	id := Identity{Actor: claims.actor()}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}
