package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-signing-secret"

func TestIssueAndAuthenticate(t *testing.T) {
	a := NewJWTAuthenticator(testSecret, "")
	tok, err := a.Issue(Identity{UserID: 12, Email: "ana@example.com", IsAdmin: true}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "token", Value: tok}) }},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }},
		{"bearer lowercase", func(r *http.Request) { r.Header.Set("Authorization", "bearer "+tok) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
			tt.setup(r)

			id, err := a.Authenticate(r)
			require.NoError(t, err)
			assert.Equal(t, int64(12), id.UserID)
			assert.Equal(t, "ana@example.com", id.Email)
			assert.True(t, id.IsAdmin)
		})
	}
}

func TestAuthenticate_Rejects(t *testing.T) {
	a := NewJWTAuthenticator(testSecret, "session")
	valid, err := a.Issue(Identity{UserID: 1}, time.Hour)
	require.NoError(t, err)

	other, err := NewJWTAuthenticator("another-secret", "").Issue(Identity{UserID: 1}, time.Hour)
	require.NoError(t, err)

	expired, err := a.Issue(Identity{UserID: 1}, -time.Minute)
	require.NoError(t, err)

	noUser, err := a.Issue(Identity{}, time.Hour)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{ID: 1}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{"missing", func(*http.Request) {}},
		{"wrong cookie name", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "token", Value: valid}) }},
		{"garbage", func(r *http.Request) { r.Header.Set("Authorization", "Bearer not.a.jwt") }},
		{"wrong secret", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+other) }},
		{"expired", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "session", Value: expired}) }},
		{"no user id", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "session", Value: noUser}) }},
		{"alg none", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+none) }},
		{"basic scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic "+valid) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(r)

			_, err := a.Authenticate(r)
			require.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestVerify_EmptySecret(t *testing.T) {
	tok, err := NewJWTAuthenticator(testSecret, "").Issue(Identity{UserID: 1}, time.Hour)
	require.NoError(t, err)

	_, err = NewJWTAuthenticator("", "").Verify(tok)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestIdentityContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), Identity{UserID: 3})
	id, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(3), id.UserID)

	assert.ErrorIs(t, id.RequireAdmin(), ErrForbidden)
	assert.NoError(t, Identity{IsAdmin: true}.RequireAdmin())
}
