package cmd

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"snap/metrics"
	"snap/storage"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// migrationJSON is the machine-readable form of one migration
type migrationJSON struct {
	Version    string     `json:"version"`
	Name       string     `json:"name"`
	State      string     `json:"state"`
	AppliedAt  *time.Time `json:"applied_at,omitempty"`
	DurationMS int64      `json:"duration_ms,omitempty"`
}

type statusJSON struct {
	Registered      int             `json:"registered"`
	LatestApplied   string          `json:"latest_applied"`
	Migrations      []migrationJSON `json:"migrations"`
	IntegrityIssues []string        `json:"integrity_issues"`
}

func statusView(status *storage.MigrationStatus) statusJSON {
	view := statusJSON{
		Registered:      status.Registered,
		LatestApplied:   status.LatestApplied,
		Migrations:      []migrationJSON{},
		IntegrityIssues: append([]string{}, status.IntegrityIssues...),
	}
	for _, rec := range status.Applied {
		at := rec.AppliedAt
		view.Migrations = append(view.Migrations, migrationJSON{
			Version: rec.Version, Name: rec.Name, State: "applied", AppliedAt: &at, DurationMS: rec.Duration,
		})
	}
	for _, m := range status.Pending {
		view.Migrations = append(view.Migrations, migrationJSON{Version: m.Version, Name: m.Name, State: "pending"})
	}
	return view
}

// NewMigrateCmd creates the migrate command with its subcommands
func NewMigrateCmd() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage store schema migrations",
		Long: `Inspect and apply the schema migrations of the configured store.

Migrations are ordered by their creation timestamp and each one is applied in its
own transaction together with its ledger row.`,
	}
	addPersistentFlags(migrateCmd)

	migrateCmd.AddCommand(newMigrateStatusCmd())
	migrateCmd.AddCommand(newMigrateUpCmd())
	migrateCmd.AddCommand(newMigrateDownCmd())
	migrateCmd.AddCommand(newMigrateVerifyCmd())
	return migrateCmd
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Aliases: []string{"ls"},
		Short:   "Show applied and pending migrations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			s, cleanup, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			status, err := s.runner.GetMigrationStatus(ctx)
			if err != nil {
				return fmt.Errorf("failed to read migration status: %w", err)
			}

			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), statusView(status))
			}
			renderMigrationStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

func newMigrateUpCmd() *cobra.Command {
	var showProgress bool

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			s, cleanup, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			var sp *spinner.Spinner
			if showProgress && !outputJSON && !quiet {
				sp = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
				sp.Suffix = " Applying migrations..."
				sp.Start()
			}

			report, runErr := s.runner.RunMigrations(ctx)

			if sp != nil {
				sp.Stop()
			}
			if report != nil {
				metrics.MigrationsApplied.Add(float64(len(report.Applied)))
				if outputJSON {
					if err := outputAsJSON(cmd.OutOrStdout(), report); err != nil {
						return err
					}
				} else if !quiet || runErr != nil {
					renderMigrationReport(cmd.OutOrStdout(), report)
				}
			}
			if runErr != nil {
				return fmt.Errorf("migration failed: %w", runErr)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showProgress, "progress", true, "Show a progress spinner")
	return cmd
}

func newMigrateDownCmd() *cobra.Command {
	var (
		force  bool
		reason string
	)

	cmd := &cobra.Command{
		Use:   "down <version>",
		Short: "Roll back one applied migration",
		Long:  "Roll back a single applied migration by version. The migration must define a down step.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			version := args[0]
			if !force {
				in := bufio.NewReader(cmd.InOrStdin())
				if !promptYesNo(in, cmd.OutOrStdout(), fmt.Sprintf("Roll back migration %s?", version), false) {
					fmt.Fprintln(cmd.OutOrStdout(), "Rollback cancelled")
					return nil
				}
			}

			s, cleanup, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := s.runner.RollbackMigration(ctx, version, reason); err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}
			if !quiet {
				successColor.Fprintf(cmd.OutOrStdout(), "✓ Rolled back %s\n", version)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")
	cmd.Flags().StringVar(&reason, "reason", "manual rollback", "Reason recorded in the log")
	return cmd
}

func newMigrateVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check applied migrations against the registered ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			s, cleanup, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			issues, err := s.runner.VerifyIntegrity(ctx)
			if err != nil {
				return fmt.Errorf("failed to verify migrations: %w", err)
			}

			if outputJSON {
				if issues == nil {
					issues = []string{}
				}
				if err := outputAsJSON(cmd.OutOrStdout(), map[string][]string{"issues": issues}); err != nil {
					return err
				}
			} else if len(issues) == 0 {
				successColor.Fprintln(cmd.OutOrStdout(), "✓ Migration ledger is consistent")
			} else {
				for _, issue := range issues {
					errorColor.Fprintf(cmd.OutOrStdout(), "✗ %s\n", issue)
				}
			}

			if len(issues) > 0 {
				return fmt.Errorf("%d migration integrity issue(s)", len(issues))
			}
			return nil
		},
	}
}
