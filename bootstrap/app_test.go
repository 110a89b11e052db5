package bootstrap

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"snap/api"
	"snap/config"
	"snap/registry"
	"snap/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

const prodSecret = "0123456789abcdef0123456789abcdef-prod"

func testConfig(t *testing.T, profile config.Profile, dbPath string) *config.Config {
	t.Helper()
	cfg := &config.Config{Environment: profile, DataDir: t.TempDir()}
	cfg.ConnectionStrings.Default = dbPath
	cfg.API.Host = "127.0.0.1"
	cfg.API.Port = 8080
	cfg.Auth.BcryptCost = bcrypt.MinCost
	cfg.Auth.JWTExpiry = time.Hour
	cfg.Auth.JWTIssuer = "snap"
	cfg.Seed.Enabled = true
	if !profile.IsDevelopment() {
		cfg.Auth.JWTSecret = prodSecret
	}
	return cfg
}

type booted struct {
	app    *App
	logs   *observer.ObservedLogs
	stderr *bytes.Buffer
}

func boot(t *testing.T, cfg *config.Config) booted {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	var stderr bytes.Buffer

	app, err := NewApp(context.Background(), Options{Config: cfg, Logger: zap.New(core), Stderr: &stderr})
	require.NoError(t, err)
	t.Cleanup(func() { app.Shutdown(context.Background()) })
	return booted{app: app, logs: logs, stderr: &stderr}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func usernames(t *testing.T, app *App) []string {
	t.Helper()
	users, err := registry.Resolve[storage.UserStorage](app.Runtime, registry.KeyCredentialManager)
	require.NoError(t, err)
	list, err := users.ListUsers(context.Background())
	require.NoError(t, err)
	var out []string
	for _, u := range list {
		out = append(out, u.Username+"|"+u.Password)
	}
	sort.Strings(out)
	return out
}

func TestNewApp_DevelopmentEmptyStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "store", "snap.db")
	b := boot(t, testConfig(t, config.ProfileDevelopment, dbPath))

	require.Len(t, b.app.Boot, 2)
	for _, r := range b.app.Boot {
		assert.NoError(t, r.Err, r.Stage)
		assert.Equal(t, OutcomeSucceeded, r.Outcome())
	}

	assert.Equal(t, []string{
		api.StageErrorTranslation,
		api.StageExceptionPage,
		api.StageDocumentation,
		api.StageTransportSecurity,
		api.StageAuthentication,
		api.StageAuthorization,
		api.StageDispatch,
	}, api.Names(b.app.Pipeline))

	users, err := registry.Resolve[storage.UserStorage](b.app.Runtime, registry.KeyCredentialManager)
	require.NoError(t, err)
	admin, err := users.GetUserByUsername(context.Background(), "admin")
	require.NoError(t, err)
	assert.True(t, admin.HasRole(storage.RoleAdmin))
	_, err = users.GetUserByUsername(context.Background(), "demo")
	assert.NoError(t, err)

	assert.Contains(t, b.stderr.String(), "Username: admin")
	assert.Equal(t, 1, b.logs.FilterMessage("Seeding default users...").Len())
	assert.Equal(t, 1, b.logs.FilterMessage("User seeding completed.").Len())
	assert.Equal(t, 1, b.logs.FilterMessage("No JWT secret configured, using an ephemeral development secret").Len())

	rec := get(t, b.app.Handler(), "/swagger/doc.json")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"swagger": "2.0"`)

	rec = get(t, b.app.Handler(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var health api.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "serving", health.Status)
	assert.Equal(t, "reachable", health.Store)
	require.Len(t, health.Boot, 2)
	assert.Equal(t, StageMigrations, health.Boot[0].Stage)
	assert.Equal(t, "succeeded", health.Boot[1].Outcome)
}

func TestNewApp_SecondBootHasNoSideEffects(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "snap.db")
	cfg := testConfig(t, config.ProfileDevelopment, dbPath)

	first := boot(t, cfg)
	before := usernames(t, first.app)
	first.app.Shutdown(context.Background())

	second := boot(t, cfg)
	assert.Equal(t, before, usernames(t, second.app))
	assert.Empty(t, second.stderr.String(), "credentials are printed only when created")

	require.Len(t, second.app.Boot, 2)
	assert.Equal(t, "applied 0 of 0 pending migrations", second.app.Boot[0].Detail)
	assert.Equal(t, "created 0, existing 2, failed 0", second.app.Boot[1].Detail)
	assert.Equal(t, 1, second.logs.FilterMessage("Schema is up to date").Len())
}

func TestNewApp_UnreachableStoreStillServes(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	b := boot(t, testConfig(t, config.ProfileProduction, filepath.Join(blocker, "snap.db")))

	require.Len(t, b.app.Boot, 2)
	assert.Equal(t, OutcomeFailed, b.app.Boot[0].Outcome())
	assert.Equal(t, OutcomeFailed, b.app.Boot[1].Outcome(), "seeding reports its own failure")

	failures := b.logs.FilterMessage("Boot stage failed, continuing startup").All()
	require.Len(t, failures, 2)
	assert.Equal(t, StageMigrations, failures[0].ContextMap()["stage"])
	assert.Equal(t, StageSeed, failures[1].ContextMap()["stage"])

	assert.Equal(t, []string{
		api.StageErrorTranslation,
		api.StageTransportSecurity,
		api.StageAuthentication,
		api.StageAuthorization,
		api.StageDispatch,
	}, api.Names(b.app.Pipeline))

	rec := get(t, b.app.Handler(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var health api.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "serving", health.Status)
	assert.Equal(t, "unreachable", health.Store)
	assert.Equal(t, "failed", health.Boot[0].Outcome)
	assert.NotEmpty(t, health.Boot[0].Error)

	assert.Equal(t, http.StatusNotFound, get(t, b.app.Handler(), "/swagger/index.html").Code)
}

func TestNewApp_MigrationFailureDoesNotStopSeeding(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "snap.db")

	// A leftover table makes the third migration fail
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE abouts_new (id TEXT)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	b := boot(t, testConfig(t, config.ProfileStaging, dbPath))

	require.Len(t, b.app.Boot, 2)
	assert.Equal(t, OutcomeFailed, b.app.Boot[0].Outcome())
	assert.Contains(t, b.app.Boot[0].Detail, "applied 2 of")
	assert.Equal(t, StageSeed, b.app.Boot[1].Stage)
	assert.False(t, b.app.Boot[1].Skipped)
	assert.Equal(t, 1, b.logs.FilterMessage("Seeding default users...").Len())
	assert.Equal(t, http.StatusOK, get(t, b.app.Handler(), "/health").Code)
}

func TestNewApp_PanickingReporterDoesNotStopBoot(t *testing.T) {
	core, _ := observer.New(zap.InfoLevel)
	var stderr bytes.Buffer
	cfg := testConfig(t, config.ProfileProduction, filepath.Join(t.TempDir(), "snap.db"))

	var app *App
	var err error
	require.NotPanics(t, func() {
		app, err = NewApp(context.Background(), Options{
			Config:   cfg,
			Logger:   zap.New(core),
			Stderr:   &stderr,
			Reporter: brokenReporter{},
		})
	})
	require.NoError(t, err)
	t.Cleanup(func() { app.Shutdown(context.Background()) })

	require.Len(t, app.Boot, 2)
	assert.Equal(t, OutcomeSucceeded, app.Boot[0].Outcome())
	assert.Equal(t, OutcomeSucceeded, app.Boot[1].Outcome())
	assert.Contains(t, stderr.String(), "failed for stage migrations: sink down")
	assert.Contains(t, stderr.String(), "failed for stage seed: sink down")
	assert.Equal(t, http.StatusOK, get(t, app.Handler(), "/health").Code)
}

func TestNewApp_SeedDisabled(t *testing.T) {
	cfg := testConfig(t, config.ProfileProduction, filepath.Join(t.TempDir(), "snap.db"))
	cfg.Seed.Enabled = false
	b := boot(t, cfg)

	require.Len(t, b.app.Boot, 2)
	assert.Equal(t, OutcomeSkipped, b.app.Boot[1].Outcome())
	assert.Empty(t, usernames(t, b.app))
}

func TestNewApp_ConfigurationFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		target error
	}{
		{"missing connection string", func(c *config.Config) { c.ConnectionStrings.Default = "" }, config.ErrMissingConnectionString},
		{"malformed connection string", func(c *config.Config) { c.ConnectionStrings.Default = "postgres://db/snap" }, config.ErrMalformedConnectionString},
		{"no signing secret outside development", func(c *config.Config) { c.Auth.JWTSecret = "" }, api.ErrNoSigningSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, config.ProfileProduction, filepath.Join(t.TempDir(), "snap.db"))
			tt.mutate(cfg)

			core, _ := observer.New(zap.InfoLevel)
			app, err := NewApp(context.Background(), Options{Config: cfg, Logger: zap.New(core), Stderr: &bytes.Buffer{}})
			require.Error(t, err)
			assert.Nil(t, app)
			assert.ErrorIs(t, err, ErrConfiguration)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestAssemble_RequiresComposedRegistry(t *testing.T) {
	err := Assemble(registry.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "config is not registered")
}

func TestNewApp_MissingConfigFile(t *testing.T) {
	var stderr bytes.Buffer
	_, err := NewApp(context.Background(), Options{ConfigFile: filepath.Join(t.TempDir(), "absent.yaml"), Stderr: &stderr})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, stderr.String(), "FATAL: Failed to load config")
}

func TestApp_StartAndShutdown(t *testing.T) {
	core, _ := observer.New(zap.InfoLevel)
	cfg := testConfig(t, config.ProfileProduction, filepath.Join(t.TempDir(), "snap.db"))

	app, err := NewApp(context.Background(), Options{Config: cfg, Logger: zap.New(core), Stderr: &bytes.Buffer{}, Addr: "127.0.0.1:0"})
	require.NoError(t, err)
	require.NoError(t, app.Start(context.Background()))

	resp, err := http.Get("http://" + app.Addr() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	app.Shutdown(context.Background())
	_, err = http.Get("http://" + app.Addr() + "/health")
	assert.Error(t, err)
}
