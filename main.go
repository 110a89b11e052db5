// Package main is the entry point for the Snap service.
package main

import (
	"context"
	"fmt"
	"os"

	"snap/bootstrap"
	"snap/cmd"

	"github.com/spf13/cobra"
)

// run initializes and starts the Snap service.
func run() error {
	ctx := context.Background()

	app, err := bootstrap.NewApp(ctx, bootstrap.Options{ConfigFile: os.Getenv("SNAP_CONFIG_FILE")})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		app.Shutdown(ctx)
		return fmt.Errorf("failed to start application: %w", err)
	}

	app.WaitForShutdown(ctx)
	app.Shutdown(ctx)
	return nil
}

// subcommand returns the CLI command named by args[0], if any
func subcommand(args []string) *cobra.Command {
	if len(args) == 0 {
		return nil
	}
	switch args[0] {
	case "migrate":
		return cmd.NewMigrateCmd()
	case "seed":
		return cmd.NewSeedCmd()
	}
	return nil
}

// main is the entry point.
func main() {
	if c := subcommand(os.Args[1:]); c != nil {
		c.SetArgs(os.Args[2:])
		if err := c.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}

	if len(os.Args) > 1 {
		fmt.Fprintf(os.Stderr, "Error: unknown command %q (expected migrate or seed)\n", os.Args[1])
		os.Exit(2)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
