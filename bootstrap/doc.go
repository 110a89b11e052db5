// Package bootstrap composes the Snap service and manages its lifecycle.
//
// Boot runs in a fixed order: configuration, service composition, pipeline
// services, registry build, the migration and seed stages, then the request
// pipeline. Only configuration failures stop the process; a failed stage is
// logged, recorded on App.Boot and shown on /health.
//
// Usage:
//
//	app, err := bootstrap.NewApp(ctx, bootstrap.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Shutdown(context.Background())
//
//	if err := app.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Wait for shutdown signal
//	app.WaitForShutdown(ctx)
package bootstrap
