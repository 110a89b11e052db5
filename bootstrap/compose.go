package bootstrap

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"snap/api"
	"snap/config"
	"snap/dispatch"
	"snap/docs"
	"snap/mail"
	"snap/mapping"
	"snap/registry"
	"snap/storage"

	"github.com/go-playground/validator/v10"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
)

// ErrConfiguration marks failures that must stop the process before it serves
var ErrConfiguration = errors.New("configuration error")

const (
	// ephemeralSecretLength is the length of the signing secret generated for development
	ephemeralSecretLength = 48

	// Roles are read on every authorized request
	roleCacheSize = 64
	roleCacheTTL  = time.Minute
)

// Compose validates the connection string and registers the configuration-bound
// services: config, logger, the lazily opened store and the stores built on it.
// Nothing here touches the database.
func Compose(cfg *config.Config, logger *zap.SugaredLogger) (*registry.Registry, error) {
	cs, err := cfg.ConnectionString()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	reg := registry.New()
	registrations := []struct {
		key     registry.Key
		factory registry.Factory
	}{
		{registry.KeyConfig, instance(cfg)},
		{registry.KeyLogger, instance(logger)},
		{registry.KeyDataStore, func(registry.Resolver) (any, error) {
			return storage.Open(cs, logger)
		}},
		{registry.KeyCredentialManager, func(r registry.Resolver) (any, error) {
			db, err := registry.Resolve[*storage.SQLite](r, registry.KeyDataStore)
			if err != nil {
				return nil, err
			}
			return storage.UserStorage(storage.NewSQLiteUserStorage(db, cfg.Auth.BcryptCost, logger)), nil
		}},
		{registry.KeyRoleStore, func(r registry.Resolver) (any, error) {
			db, err := registry.Resolve[*storage.SQLite](r, registry.KeyDataStore)
			if err != nil {
				return nil, err
			}
			roles := storage.NewSQLiteRoleStorage(db, logger)
			return storage.RoleStorage(storage.NewCachedRoleStorage(roles, roleCacheSize, roleCacheTTL)), nil
		}},
		{registry.KeyAboutStore, func(r registry.Resolver) (any, error) {
			db, err := registry.Resolve[*storage.SQLite](r, registry.KeyDataStore)
			if err != nil {
				return nil, err
			}
			return storage.AboutStorage(storage.NewSQLiteAboutStorage(db, logger)), nil
		}},
		{registry.KeyMigrations, func(r registry.Resolver) (any, error) {
			db, err := registry.Resolve[*storage.SQLite](r, registry.KeyDataStore)
			if err != nil {
				return nil, err
			}
			runner := storage.NewMigrationRunner(db.DB, logger)
			storage.RegisterSQLiteMigrations(runner)
			return runner, nil
		}},
	}
	for _, e := range registrations {
		if err := reg.Register(e.key, e.factory); err != nil {
			return nil, err
		}
	}

	logger.Infow("Services composed", "store", cs.Redacted())
	return reg, nil
}

// Assemble registers the request-processing services on top of a composed registry:
// object mapper, validator, request binder, mailer, token issuer, API documentation
// and the command dispatcher with every handler applied.
func Assemble(reg *registry.Registry) error {
	for _, key := range []registry.Key{registry.KeyConfig, registry.KeyLogger, registry.KeyCredentialManager} {
		if !reg.Has(key) {
			return fmt.Errorf("%w: %s is not registered, compose the services first", ErrConfiguration, key)
		}
	}

	registrations := []struct {
		key     registry.Key
		factory registry.Factory
	}{
		{registry.KeyObjectMapper, func(registry.Resolver) (any, error) {
			m := mapping.New()
			if err := api.MappingProfile(m); err != nil {
				return nil, fmt.Errorf("failed to register mappings: %w", err)
			}
			return m, nil
		}},
		{registry.KeyValidator, func(registry.Resolver) (any, error) {
			return api.NewValidator()
		}},
		{registry.KeyRequestBinder, func(r registry.Resolver) (any, error) {
			v, err := registry.Resolve[*validator.Validate](r, registry.KeyValidator)
			if err != nil {
				return nil, err
			}
			logger, err := registry.Resolve[*zap.SugaredLogger](r, registry.KeyLogger)
			if err != nil {
				return nil, err
			}
			return api.NewBinder(v, logger), nil
		}},
		{registry.KeyMailer, func(r registry.Resolver) (any, error) {
			cfg, err := registry.Resolve[*config.Config](r, registry.KeyConfig)
			if err != nil {
				return nil, err
			}
			logger, err := registry.Resolve[*zap.SugaredLogger](r, registry.KeyLogger)
			if err != nil {
				return nil, err
			}
			return mail.NewHandler(cfg.Mail, logger), nil
		}},
		{registry.KeyTokenIssuer, newTokenIssuer},
		{registry.KeyAPIDocs, func(registry.Resolver) (any, error) {
			return http.Handler(httpSwagger.Handler(
				httpSwagger.URL("/swagger/doc.json"),
				httpSwagger.InstanceName(docs.SwaggerInfo.InstanceName()),
			)), nil
		}},
		{registry.KeyCommandDispatcher, newDispatcher},
	}
	for _, r := range registrations {
		if err := reg.Register(r.key, r.factory); err != nil {
			return err
		}
	}
	return nil
}

func instance(v any) registry.Factory {
	return func(registry.Resolver) (any, error) { return v, nil }
}

// newTokenIssuer requires a signing secret outside development. Development boots
// get a random per-process secret so tokens do not survive a restart.
func newTokenIssuer(r registry.Resolver) (any, error) {
	cfg, err := registry.Resolve[*config.Config](r, registry.KeyConfig)
	if err != nil {
		return nil, err
	}
	logger, err := registry.Resolve[*zap.SugaredLogger](r, registry.KeyLogger)
	if err != nil {
		return nil, err
	}

	auth := cfg.Auth
	if auth.JWTSecret == "" {
		if !cfg.Profile().IsDevelopment() {
			return nil, fmt.Errorf("%w: %w (set SNAP_JWT_SECRET)", ErrConfiguration, api.ErrNoSigningSecret)
		}
		secret, err := GenerateSecurePassword(ephemeralSecretLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing secret: %w", err)
		}
		auth.JWTSecret = secret
		logger.Warn("No JWT secret configured, using an ephemeral development secret")
	}
	return api.NewTokenIssuer(auth)
}

func newDispatcher(r registry.Resolver) (any, error) {
	logger, err := registry.Resolve[*zap.SugaredLogger](r, registry.KeyLogger)
	if err != nil {
		return nil, err
	}
	mailer, err := registry.Resolve[*mail.Handler](r, registry.KeyMailer)
	if err != nil {
		return nil, err
	}
	users, err := registry.Resolve[storage.UserStorage](r, registry.KeyCredentialManager)
	if err != nil {
		return nil, err
	}
	mapper, err := registry.Resolve[*mapping.Mapper](r, registry.KeyObjectMapper)
	if err != nil {
		return nil, err
	}

	d := dispatch.New(logger)
	if err := d.Apply(mail.Registrations(mailer)...); err != nil {
		return nil, err
	}
	if err := d.Apply(api.AccountRegistrations(users, mapper, logger)...); err != nil {
		return nil, err
	}
	d.Seal()
	logger.Debugw("Command dispatcher ready", "handlers", d.Handlers())
	return d, nil
}
