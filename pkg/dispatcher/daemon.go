package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"warden/pkg/protocol"
	"warden/pkg/topology"
)

// Run starts the daemon loop. It:
//  1. Schedules every cron node to fire a schedule trigger (UTC)
//  2. Watches the inbox for wire events, with a fallback poll
//
// Run blocks until ctx is cancelled, then stops the scheduler and waits for
// in-flight invocations to finish.
func (d *Dispatcher) Run(ctx context.Context) error {
	sched, err := d.newScheduler(ctx)
	if err != nil {
		return err
	}
	sched.Start()
	slog.Info("dispatcher running", "scheduled", len(sched.Entries()), "inbox", d.cfg.InboxDir)

	done := make(chan struct{})
	if d.cfg.InboxDir != "" {
		if err := d.prepareInbox(); err != nil {
			<-sched.Stop().Done()
			return err
		}
		go func() {
			defer close(done)
			d.inboxLoop(ctx)
		}()
	} else {
		close(done)
	}

	<-ctx.Done()
	<-sched.Stop().Done()
	<-done
	d.Wait()
	return nil
}

// newScheduler registers one cron entry per scheduled node.
func (d *Dispatcher) newScheduler(ctx context.Context) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(time.UTC), cron.WithLogger(cronLogger{}))
	for _, n := range d.topo.Scheduled() {
		s, err := topology.ParseSchedule(n.Schedule)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", n.Key(), err)
		}
		key := n.Key()
		c.Schedule(s, cron.FuncJob(func() {
			if _, err := d.Trigger(ctx, key); err != nil {
				slog.Error("scheduled trigger failed", "node", key, "error", err)
			}
		}))
	}
	return c, nil
}

// cronLogger routes cron's own diagnostics to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

// --- Inbox ---

// The inbox holds one wire event per *.json file. Writers should create the
// file under another name and rename it into place so a partial write is
// never read.
func (d *Dispatcher) prepareInbox() error {
	for _, dir := range []string{d.cfg.InboxDir, d.processedDir(), d.failedDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create inbox dir %s: %w", dir, err)
		}
	}
	return nil
}

func (d *Dispatcher) processedDir() string {
	return filepath.Join(d.cfg.InboxDir, protocol.ProcessedDir)
}

func (d *Dispatcher) failedDir() string {
	return filepath.Join(d.cfg.InboxDir, protocol.FailedDir)
}

// inboxLoop watches the inbox and dispatches new files. Falls back to
// polling when fsnotify is unavailable.
func (d *Dispatcher) inboxLoop(ctx context.Context) {
	d.DrainInbox(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("inbox watcher unavailable, polling", "error", err)
		d.inboxPoll(ctx)
		return
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(d.cfg.InboxDir); err != nil {
		slog.Warn("inbox watch failed, polling", "dir", d.cfg.InboxDir, "error", err)
		d.inboxPoll(ctx)
		return
	}

	fallbackTicker := time.NewTicker(d.cfg.FallbackPollInterval)
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				d.processFile(ctx, ev.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("inbox watcher error", "error", err)
		case <-fallbackTicker.C:
			d.DrainInbox(ctx)
		}
	}
}

func (d *Dispatcher) inboxPoll(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.FallbackPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.DrainInbox(ctx)
		}
	}
}

// DrainInbox dispatches every pending inbox file in name order and returns
// how many were handled.
func (d *Dispatcher) DrainInbox(ctx context.Context) int {
	entries, err := os.ReadDir(d.cfg.InboxDir)
	if err != nil {
		slog.Warn("read inbox", "dir", d.cfg.InboxDir, "error", err)
		return 0
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	n := 0
	for _, name := range names {
		if d.processFile(ctx, filepath.Join(d.cfg.InboxDir, name)) {
			n++
		}
	}
	return n
}

// processFile dispatches one inbox file and moves it to processed/, or to
// failed/ when it does not decode.
func (d *Dispatcher) processFile(ctx context.Context, path string) bool {
	if filepath.Dir(path) != filepath.Clean(d.cfg.InboxDir) || !strings.HasSuffix(path, ".json") {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("read inbox file", "path", path, "error", err)
		}
		return false
	}

	ev, err := protocol.DecodeEvent(data)
	if err != nil {
		slog.Warn("malformed inbox event", "path", path, "error", err)
		d.logEvent(ctx, "inbox_malformed", "", "", map[string]any{"file": filepath.Base(path), "error": err.Error()})
		d.moveTo(path, d.failedDir())
		return true
	}

	res := d.Dispatch(ctx, ev)
	slog.Info("inbox event dispatched", "file", filepath.Base(path), "event", ev.Type, "accepted", res.Accepted, "reason", res.Reason)
	d.moveTo(path, d.processedDir())
	return true
}

func (d *Dispatcher) moveTo(path, dir string) {
	if err := os.Rename(path, filepath.Join(dir, filepath.Base(path))); err != nil {
		slog.Error("move inbox file", "path", path, "dir", dir, "error", err)
	}
}
