package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/maruel/ksid"

	apierrors "github.com/maruel/gitwiki/internal/errors"
	"github.com/maruel/gitwiki/internal/metrics"
	"github.com/maruel/gitwiki/internal/models"
	"github.com/maruel/gitwiki/internal/storage/identity"
)

// publicPaths are the API endpoints reachable without a token.
var publicPaths = map[string]bool{
	"/api/health":        true,
	"/api/auth/login":    true,
	"/api/auth/register": true,
	"/api/schema":        true,
}

// AuthMiddleware validates JWT tokens and adds the user to the context.
func AuthMiddleware(users *identity.UserService, jwtSecret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] || !strings.HasPrefix(r.URL.Path, "/api/") {
				next.ServeHTTP(w, r)
				return
			}

			tokenString, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || tokenString == "" {
				unauthorized(w, "Missing or invalid authorization header")
				return
			}
			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
				return jwtSecret, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
			if err != nil || !token.Valid {
				unauthorized(w, "Invalid token")
				return
			}
			sub, err := token.Claims.GetSubject()
			if err != nil || sub == "" {
				unauthorized(w, "Invalid user ID in token")
				return
			}
			id, err := ksid.Parse(sub)
			if err != nil {
				unauthorized(w, "Invalid user ID in token")
				return
			}
			user, err := users.GetUser(r.Context(), id)
			if err != nil {
				unauthorized(w, "User not found")
				return
			}
			next.ServeHTTP(w, r.WithContext(models.WithUser(r.Context(), user)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	writeErrorResponseWithCode(w, http.StatusUnauthorized, apierrors.ErrUnauthorized, msg, nil)
}

// RequireRole ensures the authenticated user has at least the required role.
func RequireRole(requiredRole models.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := models.UserFromContext(r.Context())
			if user == nil {
				unauthorized(w, "Unauthorized")
				return
			}
			if !user.Role.Allows(requiredRole) {
				writeErrorResponseWithCode(w, http.StatusForbidden, apierrors.ErrForbidden, "Forbidden: insufficient permissions", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// LoggingMiddleware tags each request with an id, logs it and records its
// metrics.
func LoggingMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			done := m.TrackInFlight()
			defer done()
			id := ksid.NewID()
			w.Header().Set("X-Request-Id", id.String())
			rec := &statusRecorder{ResponseWriter: w}
			ctx := r.Context()
			next.ServeHTTP(rec, r)
			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			d := time.Since(start)
			m.RecordHTTPRequest(r.Method, strconv.Itoa(rec.status), d)
			slog.InfoContext(ctx, "HTTP request", "id", id, "method", r.Method, "path", r.URL.Path,
				"status", rec.status, "dur", d.Round(time.Microsecond))
		})
	}
}
