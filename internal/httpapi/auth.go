package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const actorKey contextKey = "actor"

// Authenticator verifies HS256 bearer tokens and extracts the staff actor.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

type staffClaims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func (a *Authenticator) Parse(token string) (models.Actor, error) {
	claims := &staffClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return models.Actor{}, jwt.ErrTokenUnverifiable
	}
	return models.Actor{
		ID:   claims.Subject,
		Name: claims.Name,
		Role: claims.Role,
	}, nil
}

func (h *Handler) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		actor, err := h.auth.Parse(strings.TrimPrefix(header, "Bearer "))
		if err != nil || actor.IsZero() {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
	})
}

func (h *Handler) requireRole(role string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if actorFrom(r).Role != role {
			writeError(w, http.StatusForbidden, "forbidden", "insufficient role")
			return
		}
		next(w, r)
	}
}

func actorFrom(r *http.Request) models.Actor {
	actor, _ := r.Context().Value(actorKey).(models.Actor)
	return actor
}
