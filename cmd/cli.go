// Package cmd provides the command-line interface for operating a Snap store.
package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"snap/bootstrap"
	"snap/config"
	"snap/registry"
	"snap/storage"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags shared by every command
var (
	outputJSON bool
	configFile string
	noColor    bool
	quiet      bool
	verbose    bool
)

const defaultTimeout = 5 * time.Minute

func addPersistentFlags(c *cobra.Command) {
	c.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	c.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default: ./config.yaml or ./config/config.yaml)")
	c.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	c.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")
	c.PersistentFlags().BoolVar(&verbose, "verbose", false, "Show store log output")
	c.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	}
	c.SilenceUsage = true
}

// session is an opened store with the services the CLI works with
type session struct {
	cfg    *config.Config
	sugar  *zap.SugaredLogger
	store  *storage.SQLite
	runner *storage.MigrationRunner
	users  storage.UserStorage
	roles  storage.RoleStorage
}

// openSession loads configuration, composes the store services the same way
// the server does and connects to the store.
func openSession(ctx context.Context) (*session, func(), error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	logger, sugar, err := bootstrap.InitLogger(cfg.Logging.Format, level)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	reg, err := bootstrap.Compose(cfg, sugar)
	if err != nil {
		return nil, nil, err
	}
	rt, err := reg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build services: %w", err)
	}

	s := &session{cfg: cfg, sugar: sugar}
	if s.store, err = registry.Resolve[*storage.SQLite](rt, registry.KeyDataStore); err != nil {
		return nil, nil, err
	}
	if s.runner, err = registry.Resolve[*storage.MigrationRunner](rt, registry.KeyMigrations); err != nil {
		return nil, nil, err
	}
	if s.users, err = registry.Resolve[storage.UserStorage](rt, registry.KeyCredentialManager); err != nil {
		return nil, nil, err
	}
	if s.roles, err = registry.Resolve[storage.RoleStorage](rt, registry.KeyRoleStore); err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		if err := s.store.Close(); err != nil {
			sugar.Warnf("Failed to close SQLite connection during cleanup: %v", err)
		}
		_ = logger.Sync()
	}

	if err := s.store.Prepare(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("%w\n%s", err, bootstrap.ClassifySQLiteError(err, s.store.Path))
	}
	return s, cleanup, nil
}

func outputAsJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// promptYesNo asks a yes/no question; empty input or a read error yields defaultValue
func promptYesNo(in *bufio.Reader, out io.Writer, prompt string, defaultValue bool) bool {
	defaultStr := "N"
	if defaultValue {
		defaultStr = "Y"
	}

	for {
		fmt.Fprintf(out, "%s [y/N] (default: %s): ", prompt, defaultStr)
		input, err := in.ReadString('\n')
		input = strings.TrimSpace(strings.ToLower(input))
		if err != nil && input == "" {
			return defaultValue
		}

		switch input {
		case "":
			return defaultValue
		case "y", "yes":
			return true
		case "n", "no":
			return false
		}
		if err != nil {
			return defaultValue
		}
		errorColor.Fprintln(out, "Please enter 'y' or 'n'")
	}
}
