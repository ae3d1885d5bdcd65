package auth

import (
	"c4chat/internal/repository/db"
	"c4chat/internal/testutil"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuth(t *testing.T) (*Auth, *testutil.MemoryDB) {
	t.Helper()
	memDB := testutil.NewMemoryDB()
	cfg := testutil.NewMockConfig(memDB, testutil.NewMemoryBlobStore())
	return New(cfg), memDB
}

func TestGenerateAndValidateToken(t *testing.T) {
	a, _ := newTestAuth(t)

	token, err := a.GenerateToken(&db.User{ID: "user-1", Username: "alice"})
	require.NoError(t, err)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
}

func TestValidateToken_Rejections(t *testing.T) {
	a, _ := newTestAuth(t)

	expired := New(a.config)
	expired.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	expiredToken, err := expired.GenerateToken(&db.User{ID: "user-1"})
	require.NoError(t, err)

	otherSecret := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "user-1"})
	forged, err := otherSecret.SignedString([]byte("a-completely-different-secret-value!!"))
	require.NoError(t, err)

	noUser, err := a.GenerateToken(&db.User{})
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-token"},
		{name: "expired", token: expiredToken},
		{name: "wrong secret", token: forged},
		{name: "missing user id", token: noUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.ValidateToken(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestMiddleware(t *testing.T) {
	a, _ := newTestAuth(t)
	token, err := a.GenerateToken(&db.User{ID: "user-1", Username: "alice"})
	require.NoError(t, err)

	var seen string
	handler := a.Middleware(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantUser   string
	}{
		{name: "valid bearer", header: "Bearer " + token, wantStatus: http.StatusNoContent, wantUser: "user-1"},
		{name: "missing header", header: "", wantStatus: http.StatusForbidden},
		{name: "wrong scheme", header: "Basic " + token, wantStatus: http.StatusForbidden},
		{name: "invalid token", header: "Bearer nope", wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodPost, "/postMessage", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantUser, seen)
			if tt.wantStatus == http.StatusForbidden {
				assert.Equal(t, NotAuthenticatedMessage, rec.Body.String())
				assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
			}
		})
	}
}

func TestRegisterHandler(t *testing.T) {
	a, memDB := newTestAuth(t)

	body := `{"username":"alice","email":"alice@example.com","password":"secret123"}`
	rec := httptest.NewRecorder()
	a.RegisterHandler(rec, httptest.NewRequest(http.MethodPost, "/api/register", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "alice", resp.Username)

	user, err := memDB.GetUserByUsername(t.Context(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 25, user.FreeRequestsLeft)
	assert.Equal(t, int64(100000), user.AccountCredits)
	assert.Equal(t, a.config.Ledger.CurrentPeriod(), user.FreeRequestsBillingCycle)
	assert.True(t, VerifyPassword(user, "secret123"))
	assert.NotEqual(t, "secret123", user.PasswordHash)

	rec = httptest.NewRecorder()
	a.RegisterHandler(rec, httptest.NewRequest(http.MethodPost, "/api/register", strings.NewReader(body)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegisterHandler_InvalidRequest(t *testing.T) {
	a, _ := newTestAuth(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"username":`},
		{name: "short password", body: `{"username":"alice","email":"alice@example.com","password":"123"}`},
		{name: "bad username", body: `{"username":"a b","email":"alice@example.com","password":"secret123"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			a.RegisterHandler(rec, httptest.NewRequest(http.MethodPost, "/api/register", strings.NewReader(tt.body)))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error":"invalid_request"`)
		})
	}
}

func TestLoginHandler(t *testing.T) {
	a, memDB := newTestAuth(t)
	hash, err := HashPassword("secret123")
	require.NoError(t, err)
	user := memDB.AddUser(db.User{Username: "alice", Email: "alice@example.com", PasswordHash: hash})

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "valid credentials", body: `{"username":"alice","password":"secret123"}`, wantStatus: http.StatusOK},
		{name: "wrong password", body: `{"username":"alice","password":"nope"}`, wantStatus: http.StatusUnauthorized},
		{name: "unknown user", body: `{"username":"bob","password":"secret123"}`, wantStatus: http.StatusUnauthorized},
		{name: "missing password", body: `{"username":"alice"}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			a.LoginHandler(rec, httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(tt.body)))

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp LoginResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			claims, err := a.ValidateToken(resp.Token)
			require.NoError(t, err)
			assert.Equal(t, user.ID, claims.UserID)
		})
	}
}
