package cmd

import (
	"context"
	"fmt"

	"snap/bootstrap"
	"snap/seed"

	"github.com/spf13/cobra"
)

type seedResultJSON struct {
	Username string `json:"username"`
	Outcome  string `json:"outcome"`
	Error    string `json:"error,omitempty"`
	Password string `json:"password,omitempty"`
}

// NewSeedCmd creates the seed command. It ensures the configured baseline
// accounts exist and never modifies an account that is already there.
func NewSeedCmd() *cobra.Command {
	var file string

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the baseline accounts",
		Long: `Create the default roles, the administrator account and any accounts listed
in the seed file. Existing accounts are left untouched, so the command can be run
any number of times. Generated passwords are printed once.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			s, cleanup, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			specs := seed.DefaultSpecs(s.cfg.Seed)
			if file == "" {
				file = s.cfg.Seed.File
			}
			if file != "" {
				extra, err := seed.LoadSpecs(file)
				if err != nil {
					return err
				}
				specs = seed.Merge(specs, extra)
			}

			generate := func() (string, error) { return bootstrap.GenerateSecurePassword(24) }
			report := seed.NewRunner(s.users, s.roles, generate, s.sugar).Seed(ctx, specs)

			out := cmd.OutOrStdout()
			if outputJSON {
				view := make([]seedResultJSON, 0, len(report.Results))
				for _, res := range report.Results {
					r := seedResultJSON{Username: res.Username, Outcome: string(res.Outcome), Password: res.Password}
					if res.Err != nil {
						r.Error = res.Err.Error()
					}
					view = append(view, r)
				}
				if err := outputAsJSON(out, view); err != nil {
					return err
				}
			} else {
				if !quiet || report.Err() != nil {
					renderSeedReport(out, report)
				}
				for _, res := range report.Results {
					if res.Password != "" {
						printCredentials(out, res.Username, res.Password)
					}
				}
			}

			if err := report.Err(); err != nil {
				return fmt.Errorf("seeding incomplete: %w", err)
			}
			return nil
		},
	}

	addPersistentFlags(seedCmd)
	seedCmd.Flags().StringVar(&file, "file", "", "YAML file with additional accounts (default: seed.file from config)")
	return seedCmd
}
