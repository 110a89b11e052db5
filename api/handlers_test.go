package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"snap/config"
	"snap/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRegister(t *testing.T) {
	f := newFixture(t, nil)
	h := f.handler(t, config.ProfileProduction)
	body := `{"username":"grace","email":"grace@example.com","password":"Corr3ct-Horse","display_name":"Grace Hopper"}`

	rr := do(t, h, http.MethodPost, "/api/accounts/register", "", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var dto UserDTO
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &dto))
	assert.Equal(t, "grace", dto.Username)
	assert.Equal(t, "Grace Hopper", dto.DisplayName)
	assert.Equal(t, []string{storage.RoleMember}, dto.Roles)
	assert.NotZero(t, dto.ID)
	assert.NotContains(t, rr.Body.String(), "Corr3ct-Horse")

	select {
	case msg := <-f.sent:
		assert.Equal(t, "grace@example.com", msg.To)
		assert.Equal(t, welcomeSubject, msg.Subject)
		assert.Contains(t, msg.Body, "Grace Hopper")
	case <-time.After(5 * time.Second):
		t.Fatal("welcome mail was not sent")
	}

	rr = do(t, h, http.MethodPost, "/api/accounts/register", "", body)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestRegister_ValidationShortCircuits(t *testing.T) {
	f := newFixture(t, nil)
	h := f.handler(t, config.ProfileProduction)

	rr := do(t, h, http.MethodPost, "/api/accounts/register", "", `{"username":"x","email":"nope","password":"Corr3ct-Horse"}`)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Len(t, decodeValidation(t, rr), 2)
	_, err := f.users.GetUserByUsername(context.Background(), "x")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestLogin(t *testing.T) {
	f := newFixture(t, nil)
	h := f.handler(t, config.ProfileProduction)
	f.createUser(t, "linus", storage.RoleMember)

	rr := do(t, h, http.MethodPost, "/api/accounts/login", "", `{"username":"linus","password":"Corr3ct-Horse"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var login LoginResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &login))
	require.NotEmpty(t, login.Token)
	assert.True(t, login.ExpiresAt.After(time.Now()))

	rr = do(t, h, http.MethodGet, "/api/accounts/me", login.Token, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var me UserDTO
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &me))
	assert.Equal(t, "linus", me.Username)
	require.NotNil(t, me.LastLoginAt, "login is recorded")

	rr = do(t, h, http.MethodPost, "/api/accounts/login", "", `{"username":"linus","password":"wrong-password"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, h, http.MethodPost, "/api/accounts/login", "", `{"username":"nobody","password":"Corr3ct-Horse"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLogin_WithExpiredToken(t *testing.T) {
	f := newFixture(t, nil)
	h := f.handler(t, config.ProfileProduction)
	user, _ := f.createUser(t, "grace", storage.RoleMember)

	auth := f.cfg.Auth
	auth.JWTExpiry = time.Minute
	past, err := NewTokenIssuer(auth)
	require.NoError(t, err)
	past.now = func() time.Time { return time.Now().Add(-time.Hour) }
	stale, _, err := past.Issue(user)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/accounts/me", stale, "").Code)

	rr := do(t, h, http.MethodPost, "/api/accounts/login", stale, `{"username":"grace","password":"Corr3ct-Horse"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var login LoginResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &login))
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/accounts/me", login.Token, "").Code)
}

func TestLogin_RateLimited(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Auth.LoginLimit.RequestsPerMinute = 1
		c.Auth.LoginLimit.Burst = 2
	})
	h := f.handler(t, config.ProfileProduction)

	body := `{"username":"nobody","password":"whatever"}`
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/api/accounts/login", "", body).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/api/accounts/login", "", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodPost, "/api/accounts/login", "", body).Code)
}

func TestAbouts(t *testing.T) {
	f := newFixture(t, nil)
	h := f.handler(t, config.ProfileProduction)
	_, ada := f.createUser(t, "ada", storage.RoleMember)
	_, bob := f.createUser(t, "bob", storage.RoleMember)
	_, admin := f.createUser(t, "root", storage.RoleAdmin)

	rr := do(t, h, http.MethodPost, "/api/abouts", ada, `{"full_name":"Ada Lovelace","bio":"Analyst","gender":"female","birth_date":"1815-12-10"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created AboutDTO
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, "Female", created.Gender)
	assert.Equal(t, "1815-12-10", created.BirthDate)
	assert.Equal(t, "/api/abouts/"+created.ID, rr.Header().Get("Location"))

	rr = do(t, h, http.MethodGet, "/api/abouts/"+created.ID, ada, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodGet, "/api/abouts/"+created.ID, bob, "")
	assert.Equal(t, http.StatusNotFound, rr.Code, "other members cannot see the profile")

	var list []AboutDTO
	rr = do(t, h, http.MethodGet, "/api/abouts", bob, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Empty(t, list)

	rr = do(t, h, http.MethodGet, "/api/abouts", admin, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Ada Lovelace", list[0].FullName)

	rr = do(t, h, http.MethodDelete, "/api/abouts/"+created.ID, bob, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodDelete, "/api/abouts/"+created.ID, ada, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, h, http.MethodGet, "/api/abouts/"+created.ID, admin, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHealth_ReportsBootStages(t *testing.T) {
	f := newFixture(t, nil)
	h := f.handler(t, config.ProfileProduction, WithBootStatus(func() []StageStatus {
		return []StageStatus{
			{Stage: "migrations", Outcome: "failed", Error: "unable to open database file"},
			{Stage: "seed", Outcome: "failed", Error: "unable to open database file"},
		}
	}))

	rr := do(t, h, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	assert.Equal(t, "serving", health.Status)
	require.Len(t, health.Boot, 2)
	assert.Equal(t, "migrations", health.Boot[0].Stage)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	h := f.handler(t, config.ProfileProduction)

	do(t, h, http.MethodGet, "/health", "", "")
	rr := do(t, h, http.MethodGet, "/metrics", "", "")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `snap_http_requests_total{code="2xx",route="/health"}`)
}
