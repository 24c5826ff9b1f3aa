package migration

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/davidthor/bundlefix/pkg/bundle"
	"github.com/davidthor/bundlefix/pkg/logging"
	"github.com/davidthor/bundlefix/pkg/store"
)

// Options controls a Runner.
type Options struct {
	// Migrations names the migrations to apply. Empty means every registered one.
	Migrations []string

	// DryRun computes and reports without writing.
	DryRun bool

	// Force re-applies migrations already recorded in a bundle.
	Force bool

	// Concurrency bounds how many projects RunAll processes at once. Values
	// below 2 process projects one after another.
	Concurrency int

	// Who is recorded in project locks.
	Who string

	// Registry defaults to DefaultRegistry.
	Registry *Registry
}

// Report describes what a run did to one project.
type Report struct {
	ProjectID    string   `json:"projectId" yaml:"projectId"`
	FromRevision int      `json:"fromRevision" yaml:"fromRevision"`
	Revision     int      `json:"revision" yaml:"revision"`
	Applied      []string `json:"applied,omitempty" yaml:"applied,omitempty"`
	Skipped      []string `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Changed      bool     `json:"changed" yaml:"changed"`
	Written      bool     `json:"written" yaml:"written"`

	MergedSettings    int `json:"mergedSettings" yaml:"mergedSettings"`
	RemovedVariants   int `json:"removedVariants" yaml:"removedVariants"`
	RewrittenSettings int `json:"rewrittenSettings" yaml:"rewrittenSettings"`
	RewrittenColumns  int `json:"rewrittenColumns" yaml:"rewrittenColumns"`

	Warnings []Warning `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Result pairs a project with its report or the error that stopped it.
type Result struct {
	ProjectID string
	Report    *Report
	Err       error
}

// Runner applies migrations to projects in a store.
type Runner struct {
	store      store.Manager
	log        *logging.Logger
	opts       Options
	migrations []*Migration
}

// NewRunner creates a runner. It fails when Options names an unknown migration.
func NewRunner(m store.Manager, log *logging.Logger, opts Options) (*Runner, error) {
	if log == nil {
		log = logging.Nop()
	}
	registry := opts.Registry
	if registry == nil {
		registry = DefaultRegistry
	}
	migrations, err := registry.Select(opts.Migrations)
	if err != nil {
		return nil, err
	}
	if opts.Who == "" {
		opts.Who = "bundlefix"
	}
	return &Runner{store: m, log: log, opts: opts, migrations: migrations}, nil
}

// Migrations returns the migrations the runner applies, in order.
func (r *Runner) Migrations() []*Migration {
	return append([]*Migration(nil), r.migrations...)
}

// Run migrates one project under its lock. Nothing is written unless a
// migration changed the site and every step up to the save succeeded.
func (r *Runner) Run(ctx context.Context, projectID string) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	log := r.log.With("project_id", projectID)

	lock, err := r.store.Lock(ctx, store.LockScope{
		Project:   projectID,
		Operation: "migrate",
		Who:       r.opts.Who,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		// Unlock must run even when ctx was cancelled mid-run.
		if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
			log.Error(err, "failed to release lock")
		}
	}()

	b, state, err := r.store.LoadBundle(ctx, projectID, 0)
	if err != nil {
		return nil, err
	}

	report := &Report{
		ProjectID:    projectID,
		FromRevision: state.Revision,
		Revision:     state.Revision,
	}

	var pending []*Migration
	for _, m := range r.migrations {
		if b.HasMigration(m.Name) && !r.opts.Force {
			report.Skipped = append(report.Skipped, m.Name)
			continue
		}
		pending = append(pending, m)
	}
	if len(pending) == 0 {
		log.Debug("no pending migrations")
		report.Duration = time.Since(start)
		return report, nil
	}

	site, handle, err := bundle.Decode(b, projectID)
	if err != nil {
		return nil, err
	}

	total := &Outcome{}
	doc := &Document{ProjectID: projectID, Site: site, Log: r.log}
	for _, m := range pending {
		out, err := m.Apply(doc)
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", m.Name, err)
		}
		total.add(out)
		report.Applied = append(report.Applied, m.Name)
		handle.RecordMigration(m.Name)
	}
	for from, to := range total.Removed {
		handle.Redirect(from, to)
	}

	report.Changed = total.Changed
	report.MergedSettings = total.MergedSettings
	report.RemovedVariants = len(total.Removed)
	report.RewrittenSettings = total.RewrittenSettings
	report.RewrittenColumns = total.RewrittenColumns
	report.Warnings = total.Warnings

	if !total.Changed || r.opts.DryRun {
		report.Duration = time.Since(start)
		log.WithFields(map[string]interface{}{
			"changed": total.Changed,
			"dry_run": r.opts.DryRun,
		}).Debug("nothing written")
		return report, nil
	}

	out, err := bundle.Encode(site, handle)
	if err != nil {
		return nil, err
	}
	saved, err := r.store.SaveRevision(ctx, projectID, out, state.Revision)
	if err != nil {
		return nil, err
	}

	report.Revision = saved.Revision
	report.Written = true
	report.Duration = time.Since(start)
	log.WithFields(map[string]interface{}{
		"revision":         saved.Revision,
		"merged_settings":  report.MergedSettings,
		"removed_variants": report.RemovedVariants,
	}).Info("project migrated")
	return report, nil
}

// RunAll migrates every project and returns one result per project in input
// order. A failed project does not stop the others.
func (r *Runner) RunAll(ctx context.Context, projectIDs []string) []Result {
	results := make([]Result, len(projectIDs))

	run := func(i int) {
		id := projectIDs[i]
		report, err := r.Run(ctx, id)
		results[i] = Result{ProjectID: id, Report: report, Err: err}
		if err != nil {
			r.log.With("project_id", id).Error(err, "migration failed")
		}
	}

	if r.opts.Concurrency < 2 {
		for i := range projectIDs {
			run(i)
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for i := range projectIDs {
		i := i
		g.Go(func() error {
			run(i)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Check inspects the current revision of a project without taking its lock
// or writing anything.
func (r *Runner) Check(ctx context.Context, projectID string) (*Inspection, error) {
	b, state, err := r.store.LoadBundle(ctx, projectID, 0)
	if err != nil {
		return nil, err
	}
	site, _, err := bundle.Decode(b, projectID)
	if err != nil {
		return nil, err
	}
	inspection, err := Inspect(projectID, site)
	if err != nil {
		return nil, err
	}
	inspection.Revision = state.Revision
	inspection.Migrations = append([]string{}, b.Migrations...)
	return inspection, nil
}
