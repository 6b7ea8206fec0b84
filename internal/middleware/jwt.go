package myMiddleware

import (
	"context"
	"net/http"
	"strings"

	"crisisflow/internal/respond"
	"crisisflow/internal/user"
)

type contextKey string

const SessionKey contextKey = "session"

// TokenValidator is what we need from the user service.
type TokenValidator interface {
	ValidateToken(tokenString string) (*user.Session, error)
}

type AuthMiddleware struct {
	validator  TokenValidator
	cookieName string
}

func NewAuthMiddleware(v TokenValidator, cookieName string) *AuthMiddleware {
	return &AuthMiddleware{validator: v, cookieName: cookieName}
}

// TokenFromRequest looks for a session token in the Authorization header,
// then the session cookie, then the "token" query parameter.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	return r.URL.Query().Get("token")
}

// Resolve validates the request's token, if any.
func (am *AuthMiddleware) Resolve(r *http.Request) (*user.Session, error) {
	tokenString := TokenFromRequest(r, am.cookieName)
	if tokenString == "" {
		return nil, user.ErrInvalidSession
	}
	return am.validator.ValidateToken(tokenString)
}

func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := am.Resolve(r)
		if err != nil {
			respond.Error(w, http.StatusUnauthorized, "Session is invalid")
			return
		}

		ctx := context.WithValue(r.Context(), SessionKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func SessionFromContext(ctx context.Context) (*user.Session, bool) {
	session, ok := ctx.Value(SessionKey).(*user.Session)
	return session, ok && session != nil
}

// WithSession is used by tests and by handlers that resolve sessions themselves.
func WithSession(ctx context.Context, session *user.Session) context.Context {
	return context.WithValue(ctx, SessionKey, session)
}
