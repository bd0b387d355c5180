package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"

	"github.com/Wanchah/EcoEdu/internal/logger"
)

const (
	userIDKey = "user_id"

	// HookTokenHeader carries the shared secret of content services calling the hooks.
	HookTokenHeader = "X-Hook-Token"
)

type contextKey struct{}

// Sessions resolves the signed-in user from the session cookie issued by the
// account service. Both sides share the cookie secret and name.
type Sessions struct {
	store *sessions.CookieStore
	name  string
}

func NewSessions(secret, name string) *Sessions {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options.HttpOnly = true
	store.Options.SameSite = http.SameSiteLaxMode
	return &Sessions{store: store, name: name}
}

// UserID returns the user id stored in the request's session, if any.
func (s *Sessions) UserID(r *http.Request) (string, bool) {
	session, err := s.store.Get(r, s.name)
	if err != nil {
		return "", false
	}
	id, ok := session.Values[userIDKey].(string)
	return id, ok && id != ""
}

// SignIn stores userID in the session cookie.
func (s *Sessions) SignIn(w http.ResponseWriter, r *http.Request, userID string) error {
	session, _ := s.store.Get(r, s.name)
	session.Values[userIDKey] = userID
	return session.Save(r, w)
}

// SignOut clears the user from the session and expires the cookie.
func (s *Sessions) SignOut(w http.ResponseWriter, r *http.Request) error {
	session, _ := s.store.Get(r, s.name)
	delete(session.Values, userIDKey)
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// Middleware rejects requests without a signed-in user and exposes the user id
// to handlers through the request context.
func (s *Sessions) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := s.UserID(r)
		if !ok {
			unauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// HookTokenMiddleware admits only callers presenting token. An empty token
// disables the hooks entirely.
func HookTokenMiddleware(token string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(HookTokenHeader)
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				logger.New().With("path", r.URL.Path).Warn("Rejected hook call")
				unauthorized(w, "invalid hook token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
