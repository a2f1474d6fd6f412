package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/safar/grocery-store/internal/auth"
	"github.com/safar/grocery-store/internal/database"
	"github.com/safar/grocery-store/internal/logging"
	"github.com/safar/grocery-store/internal/store"
)

// requestLogger tags a per-request logger with the chi request id, stores it
// in the context and logs one line per request. It must run after middleware.RequestID.
func requestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqLog := base.With("request_id", middleware.GetReqID(r.Context()))
			r = r.WithContext(logging.WithContext(r.Context(), reqLog))

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			reqLog.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
				"ip", r.RemoteAddr,
			)
		})
	}
}

// requireUser authenticates the bearer token and records the identity it
// carries before handing the user to the next handler through the context.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, r, database.ErrUnauthenticated)
			return
		}

		claims, err := s.tokens.ValidateToken(raw)
		if err != nil {
			logging.FromContext(r.Context()).Debug("token rejected", "error", err)
			writeError(w, r, database.ErrUnauthenticated)
			return
		}

		user, err := store.UpsertUser(r.Context(), s.db, claims.User())
		if err != nil {
			writeError(w, r, err)
			return
		}

		ctx := auth.WithUser(r.Context(), user)
		ctx = logging.WithContext(ctx, logging.FromContext(ctx).With("user_id", user.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.UserFromContext(r.Context())
		if !ok {
			writeError(w, r, database.ErrUnauthenticated)
			return
		}
		if !user.IsAdmin() {
			writeError(w, r, database.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
