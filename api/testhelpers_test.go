package api

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"snap/config"
	"snap/dispatch"
	"snap/mail"
	"snap/mapping"
	"snap/registry"
	"snap/storage"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret-with-enough-entropy-0123456789"

type fixture struct {
	cfg     *config.Config
	users   *storage.SQLiteUserStorage
	roles   *storage.SQLiteRoleStorage
	abouts  *storage.SQLiteAboutStorage
	tokens  *TokenIssuer
	sent    chan mail.SendEmailCommand
	runtime *registry.Runtime
}

func testConfig() *config.Config {
	cfg := &config.Config{Environment: config.ProfileProduction}
	cfg.Auth.JWTSecret = testSecret
	cfg.Auth.JWTIssuer = "snap"
	cfg.Auth.JWTExpiry = time.Hour
	cfg.API.HSTSMaxAge = 31536000
	return cfg
}

// newFixture builds a runtime over a migrated temp store. mutate may adjust the config.
func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t).Sugar()

	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	db, err := storage.Open(config.ConnectionString{Path: filepath.Join(t.TempDir(), "api.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Prepare(ctx))
	runner := storage.NewMigrationRunner(db.DB, logger)
	storage.RegisterSQLiteMigrations(runner)
	_, err = runner.RunMigrations(ctx)
	require.NoError(t, err)

	f := &fixture{
		cfg:    cfg,
		users:  storage.NewSQLiteUserStorage(db, bcrypt.MinCost, logger),
		roles:  storage.NewSQLiteRoleStorage(db, logger),
		abouts: storage.NewSQLiteAboutStorage(db, logger),
		sent:   make(chan mail.SendEmailCommand, 4),
	}
	require.NoError(t, f.roles.SeedDefaultRoles(ctx))

	f.tokens, err = NewTokenIssuer(cfg.Auth)
	require.NoError(t, err)

	mapper := mapping.New()
	require.NoError(t, MappingProfile(mapper))

	v, err := NewValidator()
	require.NoError(t, err)

	d := dispatch.New(logger)
	require.NoError(t, d.Apply(AccountRegistrations(f.users, mapper, logger)...))
	require.NoError(t, dispatch.Handle(d, func(_ context.Context, cmd mail.SendEmailCommand) (mail.SendEmailResult, error) {
		f.sent <- cmd
		return mail.SendEmailResult{MessageID: "<test@snap>"}, nil
	}))
	d.Seal()
	t.Cleanup(d.Wait)

	reg := registry.New()
	instances := map[registry.Key]any{
		registry.KeyConfig:            cfg,
		registry.KeyLogger:            logger,
		registry.KeyCredentialManager: f.users,
		registry.KeyRoleStore:         f.roles,
		registry.KeyAboutStore:        f.abouts,
		registry.KeyCommandDispatcher: d,
		registry.KeyObjectMapper:      mapper,
		registry.KeyRequestBinder:     NewBinder(v, logger),
		registry.KeyTokenIssuer:       f.tokens,
		registry.KeyAPIDocs: http.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"swagger":"2.0"}`))
		})),
	}
	for _, key := range []registry.Key{
		registry.KeyConfig, registry.KeyLogger, registry.KeyCredentialManager, registry.KeyRoleStore,
		registry.KeyAboutStore, registry.KeyCommandDispatcher, registry.KeyObjectMapper,
		registry.KeyRequestBinder, registry.KeyTokenIssuer, registry.KeyAPIDocs,
	} {
		require.NoError(t, reg.RegisterInstance(key, instances[key]))
	}
	f.runtime, err = reg.Build()
	require.NoError(t, err)
	return f
}

// handler composes the full pipeline for profile
func (f *fixture) handler(t *testing.T, profile config.Profile, opts ...Option) http.Handler {
	t.Helper()
	stages, err := BuildPipeline(f.runtime, profile, opts...)
	require.NoError(t, err)
	return Compose(stages)
}

// createUser stores an account and returns it with a bearer token
func (f *fixture) createUser(t *testing.T, username, role string) (*storage.User, string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.users.CreateUser(ctx, &storage.User{
		Username: username,
		Email:    username + "@example.com",
		Password: "Corr3ct-Horse",
		Roles:    []string{role},
		Active:   true,
	}))
	user, err := f.users.GetUserByUsername(ctx, username)
	require.NoError(t, err)
	token, _, err := f.tokens.Issue(user)
	require.NoError(t, err)
	return user, token
}
