package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/AdamBeresnev/op-tournament/internal/httputil"
	users "github.com/AdamBeresnev/op-tournament/internal/user"
	"github.com/alexedwards/scs/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

type ContextKey string

const (
	CallerKey ContextKey = "caller"
	ClaimsKey ContextKey = "claims"
)

const (
	sessionUserIDKey = "userID"
	sessionRoleKey   = "role"
)

// Claims carried by bearer tokens. The subject is the user id.
type Claims struct {
	Role     users.Role `json:"role"`
	Username string     `json:"username,omitempty"`
	Email    string     `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type Auth struct {
	secret   []byte
	sessions *scs.SessionManager
}

func NewAuth(secret string, sessions *scs.SessionManager) *Auth {
	return &Auth{secret: []byte(secret), sessions: sessions}
}

// IssueToken signs an HS256 token for the given identity.
func (a *Auth) IssueToken(claims Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Auth) ParseToken(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, fmt.Errorf("invalid subject claim: %w", err)
	}
	if claims.Role == "" {
		claims.Role = users.RolePlayer
	}
	if !claims.Role.Valid() {
		return nil, fmt.Errorf("invalid role claim %q", claims.Role)
	}
	return claims, nil
}

func (c *Claims) Caller() users.Caller {
	return users.Caller{ID: uuid.MustParse(c.Subject), Role: c.Role}
}

// Authenticate resolves the caller from a bearer token, falling back to the session.
// Requests without credentials pass through anonymously; a bad token is rejected.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if header := r.Header.Get("Authorization"); header != "" {
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				httputil.Unauthorized(w, "authorization header must be a bearer token", nil)
				return
			}
			claims, err := a.ParseToken(strings.TrimSpace(raw))
			if err != nil {
				httputil.Unauthorized(w, "invalid token", err)
				return
			}
			ctx = context.WithValue(ctx, ClaimsKey, claims)
			ctx = WithCaller(ctx, claims.Caller())
		} else if caller, ok := a.sessionCaller(ctx); ok {
			ctx = WithCaller(ctx, caller)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Auth) sessionCaller(ctx context.Context) (users.Caller, bool) {
	if a.sessions == nil {
		return users.Caller{}, false
	}
	userIDStr := a.sessions.GetString(ctx, sessionUserIDKey)
	if userIDStr == "" {
		return users.Caller{}, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		a.sessions.Remove(ctx, sessionUserIDKey)
		return users.Caller{}, false
	}
	role := users.Role(a.sessions.GetString(ctx, sessionRoleKey))
	if !role.Valid() {
		role = users.RolePlayer
	}
	return users.Caller{ID: userID, Role: role}, true
}

// StartSession binds the caller to the request's session, rotating the session token.
func (a *Auth) StartSession(ctx context.Context, caller users.Caller) error {
	if a.sessions == nil {
		return errors.New("sessions are not configured")
	}
	if err := a.sessions.RenewToken(ctx); err != nil {
		return err
	}
	a.sessions.Put(ctx, sessionUserIDKey, caller.ID.String())
	a.sessions.Put(ctx, sessionRoleKey, string(caller.Role))
	return nil
}

func (a *Auth) EndSession(ctx context.Context) error {
	if a.sessions == nil {
		return nil
	}
	return a.sessions.Destroy(ctx)
}

func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetCaller(r.Context()); !ok {
			httputil.Unauthorized(w, "authentication required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := GetCaller(r.Context())
		if !ok {
			httputil.Unauthorized(w, "authentication required", nil)
			return
		}
		if !caller.IsAdmin() {
			httputil.Forbidden(w, "admin role required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func WithCaller(ctx context.Context, caller users.Caller) context.Context {
	return context.WithValue(ctx, CallerKey, caller)
}

func GetCaller(ctx context.Context) (users.Caller, bool) {
	caller, ok := ctx.Value(CallerKey).(users.Caller)
	return caller, ok
}

// GetClaims returns the bearer token claims, if the request carried one.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}
