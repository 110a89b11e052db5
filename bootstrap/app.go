package bootstrap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"snap/api"
	"snap/config"
	"snap/dispatch"
	"snap/registry"
	"snap/seed"
	"snap/storage"
	"snap/util/goroutine"

	"go.uber.org/zap"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// Options control how NewApp obtains its configuration and where it writes.
// Zero values mean: load config.yaml / environment, build the logger from config,
// print first-run credentials to os.Stderr.
type Options struct {
	ConfigFile string
	Config     *config.Config
	Logger     *zap.Logger
	Stderr     io.Writer
	// Addr overrides the plain HTTP listen address (host:port)
	Addr string
	// Reporter receives boot stage results in addition to the log
	Reporter Reporter
}

// App represents the Snap service with all its components.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Sugar   *zap.SugaredLogger
	Runtime *registry.Runtime
	Store   *storage.SQLite
	// Boot holds the migration and seed stage results in the order they ran
	Boot []StageResult
	// Pipeline is the ordered list of request stages
	Pipeline []api.Stage

	handler    http.Handler
	dispatcher *dispatch.Dispatcher
	addr       string
	stderr     io.Writer

	mu         sync.Mutex
	servers    []*http.Server
	listeners  []net.Listener
	serviceWg  sync.WaitGroup
	serveErrCh chan error
}

// NewApp composes the service, runs the boot stages and assembles the request pipeline.
// It returns an error only for configuration failures; a failed migration or seed stage
// is logged and recorded on App.Boot and the service still comes up.
func NewApp(ctx context.Context, opts Options) (*App, error) {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = InitConfig(opts.ConfigFile, stderr); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		var err error
		if logger, _, err = InitLogger(cfg.Logging.Format, cfg.Logging.Level); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	}
	sugar := logger.Sugar()

	app := &App{
		Config:     cfg,
		Logger:     logger,
		Sugar:      sugar,
		addr:       opts.Addr,
		stderr:     stderr,
		serveErrCh: make(chan error, 2),
	}

	sugar.Infow("Snap starting...", "environment", cfg.Profile())

	cs, err := cfg.ConnectionString()
	if err != nil {
		sugar.Errorw("Invalid connection string", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	logConfig(cfg, cs, sugar)

	// An unusable data directory shows up again when the store is opened
	if err := EnsureDataDirectories(DataDirectoriesFromConfig(cfg, cs), sugar); err != nil {
		sugar.Warnw("Pre-flight check failed", "error", err)
	}

	reg, err := Compose(cfg, sugar)
	if err != nil {
		return nil, err
	}
	if err := Assemble(reg); err != nil {
		return nil, err
	}
	rt, err := reg.Build()
	if err != nil {
		if errors.Is(err, ErrConfiguration) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: failed to build services: %w", ErrConfiguration, err)
	}
	app.Runtime = rt
	app.Sugar.Debugw("Services built", "services", rt.SortedKeys())

	if app.Store, err = registry.Resolve[*storage.SQLite](rt, registry.KeyDataStore); err != nil {
		return nil, err
	}
	if app.dispatcher, err = registry.Resolve[*dispatch.Dispatcher](rt, registry.KeyCommandDispatcher); err != nil {
		return nil, err
	}

	reporters := Reporters{NewZapReporter(sugar)}
	if opts.Reporter != nil {
		reporters = append(reporters, opts.Reporter)
	}
	app.runBootStages(ctx, rt, reporters, stderr)

	stages, err := api.BuildPipeline(rt, cfg.Profile(), api.WithBootStatus(app.bootStatus))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	app.Pipeline = stages
	app.handler = api.Compose(stages)
	sugar.Infow("Request pipeline assembled", "stages", api.Names(stages))

	return app, nil
}

// runBootStages runs migrations then seeding. Each stage is isolated: the seed
// stage still runs after a failed migration and reports its own failure.
func (a *App) runBootStages(ctx context.Context, rt *registry.Runtime, reporters Reporters, stderr io.Writer) {
	migrations, err := registry.Resolve[*storage.MigrationRunner](rt, registry.KeyMigrations)
	if err != nil {
		a.record(reporters, StageResult{Stage: StageMigrations, Critical: true, Err: err})
	} else {
		a.record(reporters, RunMigrationStage(ctx, a.Store, migrations, a.Sugar))
	}

	if !a.Config.Seed.Enabled {
		a.record(reporters, StageResult{Stage: StageSeed, Skipped: true, Detail: "seeding disabled"})
		return
	}

	specs, err := a.seedSpecs()
	if err != nil {
		a.record(reporters, StageResult{Stage: StageSeed, Err: err})
		return
	}
	users, err := registry.Resolve[storage.UserStorage](rt, registry.KeyCredentialManager)
	if err != nil {
		a.record(reporters, StageResult{Stage: StageSeed, Err: err})
		return
	}
	roles, err := registry.Resolve[storage.RoleStorage](rt, registry.KeyRoleStore)
	if err != nil {
		a.record(reporters, StageResult{Stage: StageSeed, Err: err})
		return
	}

	runner := seed.NewRunner(users, roles, func() (string, error) { return GenerateSecurePassword(24) }, a.Sugar)
	a.record(reporters, RunSeedStage(ctx, runner, specs, stderr, a.Sugar))
}

// seedSpecs returns the baseline accounts: the administrator, a demo member in
// development, and whatever the optional seed file adds.
func (a *App) seedSpecs() ([]seed.Spec, error) {
	specs := seed.DefaultSpecs(a.Config.Seed)
	if a.Config.Profile().IsDevelopment() {
		specs = seed.Merge(specs, []seed.Spec{{
			Username:         "demo",
			Email:            "demo@snap.local",
			DisplayName:      "Demo User",
			Role:             storage.RoleMember,
			GeneratePassword: true,
		}})
	}
	if a.Config.Seed.File != "" {
		extra, err := seed.LoadSpecs(a.Config.Seed.File)
		if err != nil {
			return nil, err
		}
		specs = seed.Merge(specs, extra)
	}
	return specs, nil
}

// record keeps result and hands it to every reporter; a reporter that panics
// never reaches the boot sequence
func (a *App) record(reporters Reporters, result StageResult) {
	a.mu.Lock()
	a.Boot = append(a.Boot, result)
	a.mu.Unlock()
	for _, r := range reporters {
		reportIsolated(r, result, a.stderr)
	}
}

func (a *App) bootStatus() []api.StageStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]api.StageStatus, 0, len(a.Boot))
	for _, r := range a.Boot {
		s := api.StageStatus{
			Stage:      r.Stage,
			Outcome:    string(r.Outcome()),
			DurationMS: r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			s.Error, _, _ = strings.Cut(r.Detail, "\n")
			if s.Error == "" {
				s.Error = "stage failed"
			}
		}
		out = append(out, s)
	}
	return out
}

// Handler returns the composed request pipeline
func (a *App) Handler() http.Handler {
	return a.handler
}

// Addr returns the bound plain HTTP address once Start has run
func (a *App) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.listeners) == 0 {
		return ""
	}
	return a.listeners[0].Addr().String()
}

// Start binds the listeners and serves in the background. With TLS enabled a second
// listener on the HTTPS port serves the same pipeline.
func (a *App) Start(ctx context.Context) error {
	addr := a.addr
	if addr == "" {
		addr = net.JoinHostPort(a.Config.API.Host, strconv.Itoa(a.Config.API.Port))
	}
	if err := a.serve(ctx, addr, nil); err != nil {
		return err
	}

	if a.Config.API.TLS && a.Config.API.HTTPSPort > 0 {
		cert, err := tls.LoadX509KeyPair(a.Config.API.CertFile, a.Config.API.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		tlsConfig := &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
		httpsAddr := net.JoinHostPort(a.Config.API.Host, strconv.Itoa(a.Config.API.HTTPSPort))
		if err := a.serve(ctx, httpsAddr, tlsConfig); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) serve(ctx context.Context, addr string, tlsConfig *tls.Config) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}

	server := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          zap.NewStdLog(a.Logger),
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	a.mu.Lock()
	a.servers = append(a.servers, server)
	a.listeners = append(a.listeners, ln)
	a.mu.Unlock()

	name := "http-server"
	if tlsConfig != nil {
		name = "https-server"
	}
	a.Sugar.Infow("API server started", "addr", ln.Addr().String(), "tls", tlsConfig != nil)
	goroutine.Go(&a.serviceWg, name, a.Sugar, func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Sugar.Errorw("API server error", "addr", addr, "error", err)
			a.serveErrCh <- err
		}
	}, nil)
	return nil
}

// WaitForShutdown blocks until a shutdown signal is received, ctx is done or a
// server stops on its own.
func (a *App) WaitForShutdown(ctx context.Context) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		a.Sugar.Infow("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	case err := <-a.serveErrCh:
		a.Sugar.Errorw("API server stopped unexpectedly", "error", err)
	}
}

// Shutdown stops the servers, waits for in-flight notifications, closes the store
// and flushes the log.
func (a *App) Shutdown(ctx context.Context) {
	a.Sugar.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	a.mu.Lock()
	servers := append([]*http.Server(nil), a.servers...)
	a.mu.Unlock()

	a.Sugar.Info("Phase 1: Stopping API servers...")
	for _, s := range servers {
		if err := s.Shutdown(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop API server", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer goroutine.Recover("shutdown:services", a.Sugar)
		a.serviceWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.Sugar.Warn("Service goroutine shutdown timed out")
	}

	a.Sugar.Info("Phase 2: Draining command dispatcher...")
	if a.dispatcher != nil {
		if err := a.dispatcher.Drain(ctx); err != nil {
			a.Sugar.Warnw("Dispatcher drain incomplete", "error", err)
		}
	}

	a.Sugar.Info("Phase 3: Closing database connections...")
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Sugar.Errorw("Failed to close store", "error", err)
		}
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
