// Package auth provides middleware and helpers for JWT-based session
// authentication. Tokens are carried in a cookie or the Authorization
// header. Anonymous callers pass through with no principal: the policy
// layer treats them as their own principal kind, so authentication failure
// here never blocks a request that is allowed anonymously.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/quicklnk/quicklnk/internal/logger"
	"github.com/quicklnk/quicklnk/internal/user"
)

const sessionLifetime = 30 * 24 * time.Hour

type userKeeper interface {
	GetUserByID(ctx context.Context, userID string) (*user.User, bool, error)
}

// Auth handles session token management and principal resolution.
type Auth struct {
	db userKeeper

	// authCookieName is the name of the cookie used to store the JWT.
	authCookieName string

	// signingSecretKey is the key used to sign JWTs.
	signingSecretKey []byte
}

// Claims represents the JWT claims used by the system.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// ContextKey is a custom type for storing values in context to avoid
// collisions.
type ContextKey string

// UserKey is the context key under which the resolved principal is stored.
const UserKey ContextKey = "currentUser"

// New creates a new Auth handler.
func New(db userKeeper, authCookieName string, signingSecretKey []byte) *Auth {
	return &Auth{
		db:               db,
		authCookieName:   authCookieName,
		signingSecretKey: signingSecretKey,
	}
}

// BuildJWTString signs a session token for the user.
func (a *Auth) BuildJWTString(userID string, now time.Time) (string, error) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionLifetime)),
		},
		UserID: userID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(a.signingSecretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// SetSessionCookie issues the session token on a response.
func (a *Auth) SetSessionCookie(response http.ResponseWriter, userID string, now time.Time) error {
	tokenString, err := a.BuildJWTString(userID, now)
	if err != nil {
		return err
	}

	response.Header().Set("Authorization", tokenString)
	http.SetCookie(
		response,
		&http.Cookie{
			Name:     a.authCookieName,
			Value:    tokenString,
			Path:     "/",
			HttpOnly: true,
		},
	)

	return nil
}

// ClearSessionCookie drops the session on a response.
func (a *Auth) ClearSessionCookie(response http.ResponseWriter) {
	http.SetCookie(
		response,
		&http.Cookie{
			Name:   a.authCookieName,
			Value:  "",
			Path:   "/",
			MaxAge: -1,
		},
	)
}

// WithUser is an HTTP middleware that resolves the optional principal from
// the Authorization header or cookie and stores the loaded user in the
// request context. Requests without a valid session proceed anonymously.
func (a *Auth) WithUser(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		userID := a.getUserIDFromAuthorizationHeaderOrCookie(request)
		if userID == "" {
			h.ServeHTTP(response, request)

			return
		}

		usr, found, err := a.db.GetUserByID(request.Context(), userID)
		if err != nil {
			logger.Log.Debugln("Error calling the `a.db.GetUserByID()`: ", zap.Error(err))
			response.WriteHeader(http.StatusInternalServerError)

			return
		}
		if !found {
			h.ServeHTTP(response, request)

			return
		}

		ctx := context.WithValue(request.Context(), UserKey, usr)
		h.ServeHTTP(response, request.WithContext(ctx))
	}

	return http.HandlerFunc(middleware)
}

// RequireUser is an HTTP middleware that rejects anonymous callers.
func (a *Auth) RequireUser(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		if UserFromContext(request.Context()) == nil {
			response.WriteHeader(http.StatusUnauthorized)

			return
		}
		h.ServeHTTP(response, request)
	}

	return http.HandlerFunc(middleware)
}

// RequireAdmin is an HTTP middleware that rejects non-admin callers.
func (a *Auth) RequireAdmin(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		usr := UserFromContext(request.Context())
		if usr == nil {
			response.WriteHeader(http.StatusUnauthorized)

			return
		}
		if !usr.IsAdmin {
			response.WriteHeader(http.StatusForbidden)

			return
		}
		h.ServeHTTP(response, request)
	}

	return http.HandlerFunc(middleware)
}

// UserFromContext returns the resolved principal, or nil for anonymous
// requests.
func UserFromContext(ctx context.Context) *user.User {
	usr, ok := ctx.Value(UserKey).(*user.User)
	if !ok {
		return nil
	}

	return usr
}

func (a *Auth) getTokenStringFromAuthorizationHeaderOrCookie(request *http.Request) string {
	tokenString := request.Header.Get("Authorization")
	if tokenString != "" {
		return tokenString
	}
	cookie, err := request.Cookie(a.authCookieName)
	if err == nil {
		tokenString = cookie.Value
	}

	return tokenString
}

func (a *Auth) getUserIDFromAuthorizationHeaderOrCookie(request *http.Request) string {
	tokenString := a.getTokenStringFromAuthorizationHeaderOrCookie(request)
	if tokenString == "" {
		return ""
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return a.signingSecretKey, nil
		},
	)
	if err != nil || !token.Valid {
		return ""
	}

	return claims.UserID
}
