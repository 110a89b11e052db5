// Package api Snap API
//
//	@title			Snap API
//	@version		1.0
//	@description	Account and profile service
//
// @license.name	MIT
// @license.url	https://opensource.org/licenses/MIT
//
// @host		localhost:8080
// @BasePath	/
// @securityDefinitions.apikey	BearerAuth
// @in							header
// @name						Authorization
// @description				Type "Bearer" followed by a space and the token.
package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"snap/config"
	"snap/dispatch"
	"snap/mapping"
	"snap/registry"
	"snap/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Route names double as authorization policy keys
const (
	RouteRegister    = "accounts.register"
	RouteLogin       = "accounts.login"
	RouteMe          = "accounts.me"
	RouteListUsers   = "users.list"
	RouteListAbouts  = "abouts.list"
	RouteCreateAbout = "abouts.create"
	RouteGetAbout    = "abouts.get"
	RouteDeleteAbout = "abouts.delete"
	RouteHealth      = "system.health"
	RouteMetrics     = "system.metrics"
)

// Dependencies are the services the HTTP layer needs, resolved once from the runtime
type Dependencies struct {
	Config     *config.Config
	Logger     *zap.SugaredLogger
	Users      storage.UserStorage
	Roles      storage.RoleStorage
	Abouts     storage.AboutStorage
	Dispatcher *dispatch.Dispatcher
	Mapper     *mapping.Mapper
	Binder     *Binder
	Tokens     *TokenIssuer
	// Docs serves the API documentation; nil when not registered
	Docs http.Handler
	// Store is probed by the health endpoint; nil when not registered
	Store *storage.SQLite
}

// DependenciesFrom resolves every HTTP dependency from rt
func DependenciesFrom(rt *registry.Runtime) (*Dependencies, error) {
	var (
		deps Dependencies
		err  error
	)
	if deps.Config, err = registry.Resolve[*config.Config](rt, registry.KeyConfig); err != nil {
		return nil, err
	}
	if deps.Logger, err = registry.Resolve[*zap.SugaredLogger](rt, registry.KeyLogger); err != nil {
		return nil, err
	}
	if deps.Users, err = registry.Resolve[storage.UserStorage](rt, registry.KeyCredentialManager); err != nil {
		return nil, err
	}
	if deps.Roles, err = registry.Resolve[storage.RoleStorage](rt, registry.KeyRoleStore); err != nil {
		return nil, err
	}
	if deps.Abouts, err = registry.Resolve[storage.AboutStorage](rt, registry.KeyAboutStore); err != nil {
		return nil, err
	}
	if deps.Dispatcher, err = registry.Resolve[*dispatch.Dispatcher](rt, registry.KeyCommandDispatcher); err != nil {
		return nil, err
	}
	if deps.Mapper, err = registry.Resolve[*mapping.Mapper](rt, registry.KeyObjectMapper); err != nil {
		return nil, err
	}
	if deps.Binder, err = registry.Resolve[*Binder](rt, registry.KeyRequestBinder); err != nil {
		return nil, err
	}
	if deps.Tokens, err = registry.Resolve[*TokenIssuer](rt, registry.KeyTokenIssuer); err != nil {
		return nil, err
	}

	deps.Docs, err = registry.Resolve[http.Handler](rt, registry.KeyAPIDocs)
	if err != nil && !errors.Is(err, registry.ErrUnknownKey) {
		return nil, err
	}
	deps.Store, err = registry.Resolve[*storage.SQLite](rt, registry.KeyDataStore)
	if err != nil && !errors.Is(err, registry.ErrUnknownKey) {
		return nil, err
	}
	return &deps, nil
}

// rateLimiterEntry holds a rate limiter with last seen time
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// API holds the router and handlers
type API struct {
	deps       *Dependencies
	router     *mux.Router
	logger     *zap.SugaredLogger
	bootStatus func() []StageStatus

	loginLimiters   map[string]*rateLimiterEntry
	loginLimitersMu sync.Mutex
}

// NewAPI creates the router and registers every route
func NewAPI(deps *Dependencies, opts ...Option) *API {
	o := collectOptions(opts)
	a := &API{
		deps:          deps,
		router:        mux.NewRouter(),
		logger:        deps.Logger,
		bootStatus:    o.bootStatus,
		loginLimiters: make(map[string]*rateLimiterEntry),
	}
	a.setupRoutes()
	return a
}

// Router returns the route table
func (a *API) Router() *mux.Router {
	return a.router
}

func (a *API) setupRoutes() {
	a.router.Use(a.requestMetricsMiddleware)
	a.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "Resource not found", nil, nil)
	})
	a.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil, nil)
	})

	b := a.deps.Binder
	a.router.Handle("/api/accounts/register", Validated(b, a.register)).Methods("POST").Name(RouteRegister)
	a.router.Handle("/api/accounts/login", Validated(b, a.login)).Methods("POST").Name(RouteLogin)
	a.router.HandleFunc("/api/accounts/me", a.me).Methods("GET").Name(RouteMe)
	a.router.HandleFunc("/api/users", a.listUsers).Methods("GET").Name(RouteListUsers)
	a.router.HandleFunc("/api/abouts", a.listAbouts).Methods("GET").Name(RouteListAbouts)
	a.router.Handle("/api/abouts", Validated(b, a.createAbout)).Methods("POST").Name(RouteCreateAbout)
	a.router.HandleFunc("/api/abouts/{id}", a.getAbout).Methods("GET").Name(RouteGetAbout)
	a.router.HandleFunc("/api/abouts/{id}", a.deleteAbout).Methods("DELETE").Name(RouteDeleteAbout)
	a.router.HandleFunc("/health", a.healthCheck).Methods("GET").Name(RouteHealth)
	a.router.Handle("/metrics", promhttp.Handler()).Methods("GET").Name(RouteMetrics)
}

// Option customizes the HTTP layer
type Option func(*options)

type options struct {
	bootStatus func() []StageStatus
}

func collectOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithBootStatus exposes the startup stage results on the health endpoint
func WithBootStatus(fn func() []StageStatus) Option {
	return func(o *options) { o.bootStatus = fn }
}
