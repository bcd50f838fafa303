package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apperrors "hashlic/internal/errors"
)

// AdminGate guards the administrative surface with a shared secret
// supplied either in the X-Admin-Secret header or the admin query
// parameter. Every failure yields the same uniform 401; when no secret
// is configured the gate never opens.
type AdminGate struct {
	secret string
	logger *slog.Logger
}

// NewAdminGate creates the gate middleware.
func NewAdminGate(secret string, logger *slog.Logger) *AdminGate {
	return &AdminGate{secret: secret, logger: logger}
}

// Handler returns the gate's middleware handler.
func (g *AdminGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.allowed(r) {
			g.logger.WarnContext(r.Context(), "admin request rejected",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			render.Render(w, r, apperrors.Unauthorized())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *AdminGate) allowed(r *http.Request) bool {
	if g.secret == "" {
		return false
	}
	supplied := r.Header.Get("X-Admin-Secret")
	if supplied == "" {
		supplied = r.URL.Query().Get("admin")
	}
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(g.secret)) == 1
}
