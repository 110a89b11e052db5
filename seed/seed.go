// Package seed makes sure baseline accounts exist after the schema is in place.
//
// Seeding is keyed on the login identifier: a spec whose username already exists
// is left alone, so the runner can be invoked on every process start.
package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"snap/config"
	"snap/metrics"
	"snap/storage"

	"go.uber.org/zap"
)

// Spec declares one baseline account
type Spec struct {
	Username           string `yaml:"username"`
	Email              string `yaml:"email"`
	DisplayName        string `yaml:"display_name"`
	Role               string `yaml:"role"`
	Password           string `yaml:"password"`
	MustChangePassword bool   `yaml:"must_change_password"`
	// GeneratePassword creates a random password at creation time when Password is empty
	GeneratePassword bool `yaml:"generate_password"`
}

// Outcome of seeding one spec
type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeExisting Outcome = "existing"
	OutcomeFailed   Outcome = "failed"
)

// Result records what happened to one spec
type Result struct {
	Username string
	Outcome  Outcome
	Err      error
	// Password is set only when the runner generated it for a newly created account
	Password string
}

// Report aggregates a seeding run
type Report struct {
	RolesErr error
	Results  []Result
}

func (r *Report) count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Created is the number of accounts inserted by this run
func (r *Report) Created() int { return r.count(OutcomeCreated) }

// Existing is the number of specs skipped because the account was already there
func (r *Report) Existing() int { return r.count(OutcomeExisting) }

// Failed returns the failed results
func (r *Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			failed = append(failed, res)
		}
	}
	return failed
}

// Err joins every failure of the run, or returns nil
func (r *Report) Err() error {
	var errs []error
	if r.RolesErr != nil {
		errs = append(errs, fmt.Errorf("roles: %w", r.RolesErr))
	}
	for _, res := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", res.Username, res.Err))
	}
	return errors.Join(errs...)
}

// Runner seeds roles and accounts
type Runner struct {
	users    storage.UserStorage
	roles    storage.RoleStorage
	logger   *zap.SugaredLogger
	generate func() (string, error)
}

// NewRunner creates a runner. generate supplies passwords for specs that ask for one;
// it may be nil when no spec does.
func NewRunner(users storage.UserStorage, roles storage.RoleStorage, generate func() (string, error), logger *zap.SugaredLogger) *Runner {
	return &Runner{users: users, roles: roles, generate: generate, logger: logger}
}

// Seed ensures the default roles and every spec exist. It never returns early:
// a failing spec is recorded and the next one is attempted.
func (r *Runner) Seed(ctx context.Context, specs []Spec) *Report {
	report := &Report{}

	if r.roles != nil {
		if err := r.roles.SeedDefaultRoles(ctx); err != nil {
			r.logger.Errorw("Failed to seed default roles", "error", err)
			report.RolesErr = err
		}
	}

	for _, spec := range specs {
		res := r.seedOne(ctx, spec)
		report.Results = append(report.Results, res)
		metrics.SeedRecords.WithLabelValues(string(res.Outcome)).Inc()

		switch res.Outcome {
		case OutcomeCreated:
			r.logger.Infow("Seeded account", "username", res.Username, "role", spec.Role)
		case OutcomeExisting:
			r.logger.Debugw("Account already present, leaving untouched", "username", res.Username)
		case OutcomeFailed:
			r.logger.Errorw("Failed to seed account", "username", res.Username, "error", res.Err)
		}
	}

	return report
}

func (r *Runner) seedOne(ctx context.Context, spec Spec) (res Result) {
	res = Result{Username: spec.Username}

	defer func() {
		if p := recover(); p != nil {
			res.Outcome = OutcomeFailed
			res.Password = ""
			res.Err = fmt.Errorf("seed panicked: %v", p)
		}
	}()

	fail := func(err error) Result {
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}

	if strings.TrimSpace(spec.Username) == "" {
		return fail(errors.New("username is required"))
	}

	_, err := r.users.GetUserByUsername(ctx, spec.Username)
	if err == nil {
		res.Outcome = OutcomeExisting
		return res
	}
	if !errors.Is(err, storage.ErrUserNotFound) {
		return fail(fmt.Errorf("lookup: %w", err))
	}

	password := spec.Password
	generated := false
	if password == "" {
		if !spec.GeneratePassword || r.generate == nil {
			return fail(errors.New("no password configured"))
		}
		password, err = r.generate()
		if err != nil {
			return fail(fmt.Errorf("generate password: %w", err))
		}
		generated = true
	}

	role := spec.Role
	if role == "" {
		role = storage.RoleMember
	}
	if r.roles != nil {
		if _, err := r.roles.GetRoleByName(ctx, role); err != nil {
			return fail(fmt.Errorf("role %s: %w", role, err))
		}
	}

	user := &storage.User{
		Username:           spec.Username,
		Email:              spec.Email,
		DisplayName:        spec.DisplayName,
		Password:           password,
		Roles:              []string{role},
		MustChangePassword: spec.MustChangePassword || generated,
	}
	if err := r.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			// created concurrently between lookup and insert
			res.Outcome = OutcomeExisting
			return res
		}
		return fail(fmt.Errorf("create: %w", err))
	}

	res.Outcome = OutcomeCreated
	if generated {
		res.Password = password
	}
	return res
}

// DefaultSpecs returns the accounts every installation needs. The admin password comes
// from configuration; when unset it is generated on first creation.
func DefaultSpecs(cfg config.SeedConfig) []Spec {
	admin := Spec{
		Username:         cfg.AdminUsername,
		Email:            cfg.AdminEmail,
		DisplayName:      "Administrator",
		Role:             storage.RoleAdmin,
		Password:         cfg.AdminPassword,
		GeneratePassword: cfg.AdminPassword == "",
	}
	if admin.Username == "" {
		admin.Username = "admin"
	}
	return []Spec{admin}
}

// Merge appends extra specs whose usernames are not already in base
func Merge(base []Spec, extra []Spec) []Spec {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]Spec, 0, len(base)+len(extra))
	for _, group := range [][]Spec{base, extra} {
		for _, s := range group {
			key := strings.ToLower(strings.TrimSpace(s.Username))
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, s)
		}
	}
	return out
}
