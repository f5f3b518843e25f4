package httpserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ruteri/groupshare/interfaces"
	"github.com/ruteri/groupshare/transfer"
)

const (
	// ProxyTokenHeader authenticates a trusted proxy that asserts the caller in UserHeader.
	ProxyTokenHeader = "X-Proxy-Token"

	// TokenIssuer is the issuer of user tokens.
	TokenIssuer = "groupshare"

	minAdminTokenLen      = 16
	minProxyTokenLen      = 16
	minUserTokenSecretLen = 32
)

// AuthConfig selects how callers are authenticated.
//
// Management routes accept only AdminToken and are disabled when it is empty.
// User routes accept an HS256 token signed with UserTokenSecret whose subject
// is the user, or UserHeader set by a proxy presenting TrustedProxyToken.
type AuthConfig struct {
	AdminToken        string
	UserTokenSecret   string
	TrustedProxyToken string
}

// Validate rejects credentials too short to be secret.
func (c AuthConfig) Validate() error {
	if c.AdminToken != "" && len(c.AdminToken) < minAdminTokenLen {
		return fmt.Errorf("%w: admin token must be at least %d characters", interfaces.ErrInvalidCredentials, minAdminTokenLen)
	}
	if c.UserTokenSecret != "" && len(c.UserTokenSecret) < minUserTokenSecretLen {
		return fmt.Errorf("%w: user token secret must be at least %d characters", interfaces.ErrInvalidCredentials, minUserTokenSecretLen)
	}
	if c.TrustedProxyToken != "" && len(c.TrustedProxyToken) < minProxyTokenLen {
		return fmt.Errorf("%w: trusted proxy token must be at least %d characters", interfaces.ErrInvalidCredentials, minProxyTokenLen)
	}
	return nil
}

// Authenticator is the authentication middleware of the group routes.
type Authenticator struct {
	adminToken []byte
	userSecret []byte
	proxyToken []byte
}

// NewAuthenticator validates cfg and creates the middleware.
func NewAuthenticator(cfg AuthConfig) (*Authenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Authenticator{
		adminToken: []byte(cfg.AdminToken),
		userSecret: []byte(cfg.UserTokenSecret),
		proxyToken: []byte(cfg.TrustedProxyToken),
	}, nil
}

// AdminEnabled reports whether management routes can be used.
func (a *Authenticator) AdminEnabled() bool {
	return len(a.adminToken) > 0
}

// UserAuthEnabled reports whether any user authentication mode is configured.
func (a *Authenticator) UserAuthEnabled() bool {
	return len(a.userSecret) > 0 || len(a.proxyToken) > 0
}

// RequireAdmin admits requests bearing the admin token.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.AdminEnabled() {
			writeAuthError(w, http.StatusForbidden, "management API is disabled")
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			writeAuthError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if !equalSecret([]byte(token), a.adminToken) {
			writeAuthError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUser resolves the caller and stores it in the request context.
func (a *Authenticator) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.authenticateUser(r)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

func (a *Authenticator) authenticateUser(r *http.Request) (string, error) {
	if proxy := r.Header.Get(ProxyTokenHeader); proxy != "" && len(a.proxyToken) > 0 {
		if !equalSecret([]byte(proxy), a.proxyToken) {
			return "", errors.New("invalid proxy token")
		}
		user := r.Header.Get(UserHeader)
		if user == "" {
			return "", errors.New("missing " + UserHeader + " header")
		}
		return user, nil
	}

	if token, ok := bearerToken(r); ok && len(a.userSecret) > 0 {
		return a.verifyUserToken(token)
	}
	return "", errors.New("missing user credentials")
}

func (a *Authenticator) verifyUserToken(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return a.userSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("invalid user token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("invalid user token: no subject")
	}
	return claims.Subject, nil
}

// IssueUserToken signs a token identifying user for ttl.
func IssueUserToken(secret []byte, user string, ttl time.Duration) (string, error) {
	if len(secret) < minUserTokenSecretLen {
		return "", fmt.Errorf("%w: user token secret must be at least %d characters", interfaces.ErrInvalidCredentials, minUserTokenSecretLen)
	}
	if user == "" {
		return "", errors.New("user is required")
	}
	if ttl <= 0 {
		return "", errors.New("token lifetime must be positive")
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    TokenIssuer,
		Subject:   user,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString(secret)
}

type userKey struct{}

func withUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the authenticated caller of a user route.
func UserFromContext(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(userKey{}).(string)
	return user, ok && user != ""
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	return token, token != ""
}

func equalSecret(got, want []byte) bool {
	return subtle.ConstantTimeCompare(got, want) == 1
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="`+TokenIssuer+`"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg, Class: string(transfer.ClassAuthorization)})
}
