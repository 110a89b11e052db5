package bootstrap

import (
	"context"
	"fmt"
	"io"
	"time"

	"snap/metrics"
	"snap/seed"
	"snap/storage"

	"go.uber.org/zap"
)

// Boot stage names
const (
	StageMigrations = "migrations"
	StageSeed       = "seed"
)

// RunMigrationStage connects to the store and applies pending migrations.
// It never returns an error: failures, panics included, are carried in the result.
func RunMigrationStage(ctx context.Context, db *storage.SQLite, runner *storage.MigrationRunner, sugar *zap.SugaredLogger) (result StageResult) {
	result = StageResult{Stage: StageMigrations, Critical: true}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("migration stage panicked: %v", r)
		}
		result.Duration = time.Since(start)
	}()

	if err := db.Prepare(ctx); err != nil {
		result.Err = err
		result.Detail = ClassifySQLiteError(err, db.Path)
		return result
	}

	report, err := runner.RunMigrations(ctx)
	if report != nil {
		metrics.MigrationsApplied.Add(float64(len(report.Applied)))
		result.Detail = fmt.Sprintf("applied %d of %d pending migrations", len(report.Applied), report.Pending)
		if report.Failed != "" {
			result.Detail += ", failed at " + report.Failed
		}
	}
	if err != nil {
		result.Err = err
		return result
	}

	if report.Pending == 0 {
		sugar.Info("Schema is up to date")
	}
	return result
}

// RunSeedStage ensures the baseline accounts exist. Generated passwords are written
// to out once, when the account is created.
func RunSeedStage(ctx context.Context, runner *seed.Runner, specs []seed.Spec, out io.Writer, sugar *zap.SugaredLogger) (result StageResult) {
	result = StageResult{Stage: StageSeed}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("seed stage panicked: %v", r)
		}
		result.Duration = time.Since(start)
	}()

	sugar.Info("Seeding default users...")
	report := runner.Seed(ctx, specs)

	result.Detail = fmt.Sprintf("created %d, existing %d, failed %d",
		report.Created(), report.Existing(), len(report.Failed()))
	result.Err = report.Err()

	for _, res := range report.Results {
		if res.Outcome == seed.OutcomeCreated && res.Password != "" {
			printCredentials(out, res.Username, res.Password)
		}
	}

	if result.Err != nil {
		sugar.Warnw("User seeding finished with errors", "detail", result.Detail)
		return result
	}
	sugar.Infow("User seeding completed.", "detail", result.Detail)
	return result
}

func printCredentials(out io.Writer, username, password string) {
	if out == nil {
		return
	}
	fmt.Fprintf(out, "\n")
	fmt.Fprintf(out, "========================================\n")
	fmt.Fprintf(out, "     DEFAULT ACCOUNT CREDENTIALS\n")
	fmt.Fprintf(out, "========================================\n")
	fmt.Fprintf(out, "  Username: %s\n", username)
	fmt.Fprintf(out, "  Password: %s\n", password)
	fmt.Fprintf(out, "========================================\n")
	fmt.Fprintf(out, "  IMPORTANT: This password will NOT be\n")
	fmt.Fprintf(out, "  shown again! Store it securely now.\n")
	fmt.Fprintf(out, "========================================\n\n")
}
