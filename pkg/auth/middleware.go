package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Middleware extracts the caller identity from trusted gateway headers and
// attaches it to the request context. warehouse-engine runs behind an
// authenticating proxy; token validation happens there, not here.
type Middleware struct {
	logger *zap.Logger
}

// NewMiddleware creates a new identity middleware.
func NewMiddleware(logger *zap.Logger) *Middleware {
	return &Middleware{logger: logger}
}

// RequireIdentity reads X-Org-ID, X-User-ID and X-User-Role headers and
// requires a valid organization scope. Sets the identity in context for
// downstream handlers.
func (m *Middleware) RequireIdentity(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgHeader := r.Header.Get("X-Org-ID")
		if orgHeader == "" {
			m.unauthorized(w, "Authentication required")
			return
		}

		org, err := uuid.Parse(orgHeader)
		if err != nil {
			m.unauthorized(w, "Invalid organization ID")
			return
		}

		role := Role(strings.ToLower(r.Header.Get("X-User-Role")))
		switch role {
		case RoleAdmin, RoleAnalyst, RoleReadonly:
		case "":
			role = RoleReadonly
		default:
			m.unauthorized(w, "Unknown role")
			return
		}

		id := &Identity{
			Organization: org,
			UserID:       r.Header.Get("X-User-ID"),
			Role:         role,
		}
		next(w, r.WithContext(WithIdentity(r.Context(), id)))
	}
}

// unauthorized returns a 401 response with JSON error body.
func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		m.logger.Error("failed to encode unauthorized response", zap.Error(err))
	}
}
