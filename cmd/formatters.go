package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"snap/seed"
	"snap/storage"
)

// renderMigrationStatus displays applied and pending migrations
func renderMigrationStatus(w io.Writer, status *storage.MigrationStatus) {
	headerColor.Fprintln(w, "MIGRATIONS")
	headerColor.Fprintln(w, strings.Repeat("=", 90))
	fmt.Fprintf(w, "%-16s %-34s %-10s %-20s %s\n", "Version", "Name", "State", "Applied At", "Duration")
	fmt.Fprintln(w, strings.Repeat("-", 90))

	for _, rec := range status.Applied {
		fmt.Fprintf(w, "%-16s %-34s %-10s %-20s %dms\n",
			rec.Version, truncate(rec.Name, 33), successColor.Sprint("applied"), formatTime(rec.AppliedAt), rec.Duration)
	}
	for _, m := range status.Pending {
		fmt.Fprintf(w, "%-16s %-34s %-10s %-20s %s\n",
			m.Version, truncate(m.Name, 33), warningColor.Sprint("pending"), "-", "-")
	}
	fmt.Fprintln(w, strings.Repeat("=", 90))

	printField(w, "Registered", fmt.Sprintf("%d", status.Registered))
	printField(w, "Latest applied", status.LatestApplied)
	if len(status.IntegrityIssues) == 0 {
		printField(w, "Integrity", successColor.Sprint("ok"))
		return
	}
	printField(w, "Integrity", errorColor.Sprintf("%d issue(s)", len(status.IntegrityIssues)))
	for _, issue := range status.IntegrityIssues {
		fmt.Fprintf(w, "  - %s\n", issue)
	}
}

// renderMigrationReport displays the outcome of one migrate up run
func renderMigrationReport(w io.Writer, report *storage.MigrationReport) {
	if report.Pending == 0 {
		infoColor.Fprintln(w, "Schema is up to date")
		return
	}
	for _, v := range report.Applied {
		successColor.Fprintf(w, "✓ Applied %s\n", v)
	}
	if report.Failed != "" {
		errorColor.Fprintf(w, "✗ Failed at %s\n", report.Failed)
	}
	fmt.Fprintf(w, "%d of %d pending migration(s) applied\n", len(report.Applied), report.Pending)
}

// renderSeedReport displays one line per seed spec
func renderSeedReport(w io.Writer, report *seed.Report) {
	if report.RolesErr != nil {
		errorColor.Fprintf(w, "✗ Default roles: %v\n", report.RolesErr)
	}
	for _, res := range report.Results {
		switch res.Outcome {
		case seed.OutcomeCreated:
			successColor.Fprintf(w, "✓ Created %s\n", res.Username)
		case seed.OutcomeExisting:
			infoColor.Fprintf(w, "- Exists  %s\n", res.Username)
		default:
			errorColor.Fprintf(w, "✗ Failed  %s: %v\n", res.Username, res.Err)
		}
	}
	fmt.Fprintf(w, "created %d, existing %d, failed %d\n", report.Created(), report.Existing(), len(report.Failed()))
}

// printCredentials shows a generated password once
func printCredentials(w io.Writer, username, password string) {
	headerColor.Fprintln(w, strings.Repeat("═", 40))
	fmt.Fprintf(w, "  Username: %s\n", username)
	fmt.Fprintf(w, "  Password: %s\n", password)
	warningColor.Fprintln(w, "  This password will NOT be shown again!")
	headerColor.Fprintln(w, strings.Repeat("═", 40))
}

// printField prints a key-value field
func printField(w io.Writer, key, value string) {
	if value == "" {
		value = "(not set)"
	}
	fmt.Fprintf(w, "  %-25s %s\n", key+":", value)
}

// formatTime formats a timestamp
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}
	return t.Format("2006-01-02 15:04:05")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
