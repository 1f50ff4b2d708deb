package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-account-portal/internal/model"
)

type stubVerifier struct {
	claims *model.AuthClaims
	err    error
}

func (s stubVerifier) VerifyAccess(string) (*model.AuthClaims, error) {
	return s.claims, s.err
}

func okHandler(sawClaims *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, *sawClaims = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuthAcceptsBearerToken(t *testing.T) {
	mw := NewAuthMiddleware(stubVerifier{claims: &model.AuthClaims{UserID: "u1", Role: "user"}})

	var sawClaims bool
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	rec := httptest.NewRecorder()

	mw.RequireAuth(okHandler(&sawClaims)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, sawClaims)
}

func TestRequireAuthRejectsMissingOrMalformedHeader(t *testing.T) {
	mw := NewAuthMiddleware(stubVerifier{claims: &model.AuthClaims{UserID: "u1"}})

	for _, header := range []string{"", "Basic abc", "Bearer", "token-without-scheme"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()

		var sawClaims bool
		mw.RequireAuth(okHandler(&sawClaims)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
		assert.False(t, sawClaims)
	}
}

func TestRequireAuthRejectsBadToken(t *testing.T) {
	mw := NewAuthMiddleware(stubVerifier{err: model.ErrInvalidToken})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer expired-token")
	rec := httptest.NewRecorder()

	var sawClaims bool
	mw.RequireAuth(okHandler(&sawClaims)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp model.APIResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "UNAUTHORIZED", resp.Error.Code)
}

func TestRequireRoles(t *testing.T) {
	mw := NewAuthMiddleware(stubVerifier{claims: &model.AuthClaims{UserID: "u1", Role: "user"}})
	adminOnly := mw.RequireRoles("admin")

	var sawClaims bool
	chain := mw.RequireAuth(adminOnly(okHandler(&sawClaims)))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := NewAuthMiddleware(stubVerifier{claims: &model.AuthClaims{UserID: "u2", Role: "admin"}})
	chain = admin.RequireAuth(admin.RequireRoles("admin")(okHandler(&sawClaims)))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	rec = httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, sawClaims)
}

func TestRequireRolesWithoutClaims(t *testing.T) {
	mw := NewAuthMiddleware(stubVerifier{})

	var sawClaims bool
	handler := mw.RequireRoles("admin")(okHandler(&sawClaims))

	// No RequireAuth in front, so no claims in context.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, sawClaims)
}
