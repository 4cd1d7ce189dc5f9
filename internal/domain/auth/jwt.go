package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultCookieName is the cookie the storefront session is read from.
const DefaultCookieName = "token"

// Claims is the session token payload.
type Claims struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies HS256 session tokens from a cookie or an
// Authorization bearer header.
type JWTAuthenticator struct {
	secret []byte
	cookie string
	now    func() time.Time
}

var _ Authenticator = (*JWTAuthenticator)(nil)

// NewJWTAuthenticator creates a JWTAuthenticator. An empty cookie name
// selects DefaultCookieName.
func NewJWTAuthenticator(secret, cookie string) *JWTAuthenticator {
	if cookie == "" {
		cookie = DefaultCookieName
	}
	return &JWTAuthenticator{
		secret: []byte(secret),
		cookie: cookie,
		now:    time.Now,
	}
}

// Authenticate implements Authenticator.
func (a *JWTAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	raw := bearer(r.Header.Get("Authorization"))
	if raw == "" {
		if c, err := r.Cookie(a.cookie); err == nil {
			raw = c.Value
		}
	}
	if raw == "" {
		return Identity{}, ErrUnauthorized
	}
	return a.Verify(raw)
}

// Verify parses and validates a signed token.
func (a *JWTAuthenticator) Verify(raw string) (Identity, error) {
	if len(a.secret) == 0 {
		return Identity{}, ErrUnauthorized
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return Identity{}, errors.Wrap(ErrUnauthorized, err.Error())
	}
	if claims.ID <= 0 {
		return Identity{}, errors.Wrap(ErrUnauthorized, "token has no user id")
	}

	return Identity{
		UserID:  claims.ID,
		Email:   claims.Email,
		IsAdmin: claims.IsAdmin,
	}, nil
}

// Issue signs a token for id valid for ttl.
func (a *JWTAuthenticator) Issue(id Identity, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		ID:      id.UserID,
		Email:   id.Email,
		IsAdmin: id.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return s, nil
}

func bearer(h string) string {
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}
