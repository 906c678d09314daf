package auth

import (
	"context"
	"net/http"
	"time"
)

type contextKey string

const userIDKey contextKey = "user_id"

// UserID returns the verified user id bound to the request context by the
// middleware. Handlers must use this, never a client-supplied id.
func UserID(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(userIDKey).(int)
	return id, ok
}

// Verifier is the identity oracle: credential in, verified user id or error
// out. Tokens implements it; tests substitute their own.
type Verifier interface {
	Verify(ctx context.Context, credential string) (int, error)
}

type Middleware struct {
	verifier Verifier
	timeout  time.Duration
}

func NewMiddleware(v Verifier, timeout time.Duration) *Middleware {
	return &Middleware{verifier: v, timeout: timeout}
}

// Handle verifies the request credential exactly once, before any protected
// handler runs, and rejects with a generic 401 on failure.
func (m *Middleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential := Credential(r)
		if credential == "" {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), m.timeout)
		defer cancel()

		userID, err := m.verifier.Verify(ctx, credential)
		if err != nil {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}
