package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"warden/pkg/dispatcher"
	"warden/pkg/eventlog"
	"warden/pkg/executor"
	"warden/pkg/governor"
	"warden/pkg/health"
	"warden/pkg/review"
	"warden/pkg/topology"
	"warden/pkg/worktracker"
)

// app wires the packages together for commands that dispatch.
type app struct {
	paths   *Paths
	cfg     Config
	db      *sql.DB
	topo    *topology.Topology
	gov     *governor.Governor
	store   *governor.SQLiteStore
	exec    *executor.ProcessExecutor
	tracker *worktracker.GitHubCLI
	rec     *eventlog.Writer
	disp    *dispatcher.Dispatcher
}

// openApp loads the topology and state database and builds a dispatcher.
func openApp(ctx context.Context, g *globalFlags) (*app, error) {
	paths, cfg, err := g.resolve()
	if err != nil {
		return nil, err
	}
	topo, err := topology.Load(paths.TopologyPath)
	if err != nil {
		return nil, err
	}
	db, err := openDB(ctx, paths.StateDBPath)
	if err != nil {
		return nil, err
	}

	a := &app{
		paths:   paths,
		cfg:     cfg,
		db:      db,
		topo:    topo,
		store:   governor.NewSQLiteStore(db),
		exec:    executor.NewProcessExecutor(cfg.executorConfig(), &executor.ExecSpawner{}),
		tracker: worktracker.NewGitHubCLI(&worktracker.ExecCommandRunner{}, cfg.Tracker.Repo),
		rec:     eventlog.NewWriter(db),
	}
	a.gov = governor.New(a.store)
	a.disp = dispatcher.New(
		dispatcher.Config{
			InboxDir:       paths.InboxDir,
			DefaultTimeout: cfg.executorConfig().Timeout,
		},
		topo, a.gov, a.exec,
		&dispatcher.TrackerConditions{Tracker: a.tracker},
		a.rec,
	)
	return a, nil
}

// Close waits for launched invocations, so their leases are released, and
// closes the database.
func (a *app) Close() error {
	a.disp.Wait()
	return a.db.Close()
}

// reviewController builds a review controller whose fix-needed events go
// through the dispatcher.
func (a *app) reviewController() *review.Controller {
	return review.New(review.NewSQLiteStore(a.db), a.disp, a.tracker, a.topo.ReviewRoundsMax())
}

// healthRouter builds the remediation router from configuration.
func (a *app) healthRouter() (*health.Router, error) {
	return buildHealthRouter(a.cfg, a.topo, a.disp, a.exec, a.rec)
}

// buildHealthRouter builds a router whose escalations are emitted through
// emitter ("event" mode) or invoked on exec ("direct" mode). topo, emitter,
// exec and rec may be nil when the mode does not need them.
func buildHealthRouter(cfg Config, topo *topology.Topology, emitter health.Emitter, exec executor.Executor, rec eventlog.Recorder) (*health.Router, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	playbooks, err := health.BuildPlaybooks(cfg.Health.Playbooks, &worktracker.ExecCommandRunner{}, client)
	if err != nil {
		return nil, fmt.Errorf("health playbooks: %w", err)
	}

	var esc health.Escalator
	ec := cfg.Health.Escalation
	switch {
	case ec.Mode == "direct" && exec != nil:
		x := &health.ExecutorEscalator{Executor: exec, Role: ec.Role, Job: ec.Job, Capability: executor.CapMultiJob}
		if topo != nil {
			key := ec.Role
			if ec.Job != "" {
				key += "/" + ec.Job
			}
			n, err := topo.Node(key)
			if err != nil {
				return nil, fmt.Errorf("health.escalation: %w", err)
			}
			x.Capability = executor.Capability(n.Capability)
		}
		esc = x
	case ec.Mode != "direct" && emitter != nil:
		esc = &health.EventEscalator{Emitter: emitter}
	}

	r := health.NewRouter(cfg.Health.Routes, playbooks, esc)
	if rec != nil {
		r.SetRecorder(rec)
	}
	return r, nil
}
