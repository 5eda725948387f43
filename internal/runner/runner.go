// Package runner is the trigger boundary of the engine. HTTP handlers and
// CLI commands go through a Runner to deploy a target, inspect it or reset it;
// the Runner owns the per-target locks, builds the pipeline, runs it and
// records the result in the history.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"gitdeployer/internal/deployment"
	"gitdeployer/internal/history"
	"gitdeployer/internal/marker"
	"gitdeployer/internal/processor"
	"gitdeployer/internal/target"
)

var (
	// ErrUnknownTarget is returned for target IDs missing from the registry.
	ErrUnknownTarget = errors.New("unknown target")

	// ErrDeploymentInProgress is returned when a non-waiting trigger finds
	// the target busy.
	ErrDeploymentInProgress = errors.New("deployment already in progress")
)

// RecentHistoryLimit is the number of runs Status returns.
const RecentHistoryLimit = 10

// Options configures a single trigger.
type Options struct {
	// DryRun previews the run: nothing is pulled, executed or recorded as
	// processed.
	DryRun bool

	// ReprocessAll diffs from the empty revision, so every file is created.
	ReprocessAll bool

	// Wait blocks until the target is free instead of rejecting the trigger.
	Wait bool

	// Trigger is stored in the history, history.TriggerCLI when empty.
	Trigger string

	// ID overrides the generated deployment ID.
	ID string

	// Params are extra run parameters visible to every stage.
	Params map[string]any
}

// Runner deploys targets from the registry.
type Runner struct {
	Targets *target.Registry
	Markers marker.Store
	Locks   *deployment.LockManager
	Logger  *slog.Logger

	// History is optional; without it runs are only logged.
	History *history.History

	// Publisher overrides the amqp publisher of amqp-notify stages.
	Publisher processor.Publisher

	executor *deployment.Executor
	wg       sync.WaitGroup
}

// New creates a Runner. hist may be nil.
func New(targets *target.Registry, markers marker.Store, hist *history.History, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Targets:  targets,
		Markers:  markers,
		Locks:    deployment.NewLockManager(),
		Logger:   logger,
		History:  hist,
		executor: deployment.NewExecutor(markers, logger),
	}
}

// Deploy runs the target's pipeline and returns the finalized deployment.
// A failed run is reported on the deployment, not as an error; errors mean
// the run never started.
func (r *Runner) Deploy(ctx context.Context, targetID string, opts Options) (*deployment.Deployment, error) {
	t, err := r.lookup(targetID)
	if err != nil {
		return nil, err
	}

	pipeline, err := r.pipeline(t)
	if err != nil {
		return nil, err
	}

	if opts.Wait {
		if err := r.Locks.Lock(ctx, t.ID); err != nil {
			return nil, fmt.Errorf("waiting for target '%s': %w", t.ID, err)
		}
	} else if !r.Locks.TryLock(t.ID) {
		return nil, r.reject(ctx, t.ID, opts)
	}
	defer r.Locks.Unlock(t.ID)

	return r.run(ctx, t, pipeline, opts)
}

// Start acquires the target without waiting and runs the deployment in the
// background. It returns the deployment ID right away. ctx bounds the run
// itself, so callers pass a server-lifetime context, not a request one.
func (r *Runner) Start(ctx context.Context, targetID string, opts Options) (string, error) {
	t, err := r.lookup(targetID)
	if err != nil {
		return "", err
	}

	pipeline, err := r.pipeline(t)
	if err != nil {
		return "", err
	}

	if !r.Locks.TryLock(t.ID) {
		return "", r.reject(ctx, t.ID, opts)
	}

	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.Locks.Unlock(t.ID)

		if _, err := r.run(ctx, t, pipeline, opts); err != nil {
			r.Logger.Error("deployment could not start", "target", t.ID, "deployment_id", opts.ID, "error", err)
		}
	}()

	return opts.ID, nil
}

// Wait blocks until every deployment started with Start has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Status returns the processed revision of a target and its recent runs.
func (r *Runner) Status(ctx context.Context, targetID string) (*history.TargetStatus, error) {
	t, err := r.lookup(targetID)
	if err != nil {
		return nil, err
	}

	status := &history.TargetStatus{
		Target:        t.ID,
		RecentHistory: []history.DeploymentRecord{},
	}

	rev, err := r.Markers.Get(ctx, t.ID)
	switch {
	case err == nil:
		status.ProcessedRevision = rev
	case !errors.Is(err, marker.ErrNotFound):
		return nil, fmt.Errorf("failed to read processed commit marker: %w", err)
	}

	if r.History == nil {
		return status, nil
	}

	if status.LatestDeployment, err = r.History.GetLatestDeployment(ctx, t.ID); err != nil {
		return nil, err
	}
	if status.RecentHistory, err = r.History.GetDeploymentHistory(ctx, t.ID, RecentHistoryLimit); err != nil {
		return nil, err
	}
	return status, nil
}

// Reset forgets the processed revision of a target so the next run
// processes every file. With purgeMirror the mirror is removed as well and
// the next run clones again. Reset waits for a running deployment.
func (r *Runner) Reset(ctx context.Context, targetID string, purgeMirror bool) error {
	t, err := r.lookup(targetID)
	if err != nil {
		return err
	}

	if err := r.Locks.Lock(ctx, t.ID); err != nil {
		return fmt.Errorf("waiting for target '%s': %w", t.ID, err)
	}
	defer r.Locks.Unlock(t.ID)

	if err := r.Markers.Delete(ctx, t.ID); err != nil {
		return fmt.Errorf("failed to delete processed commit marker: %w", err)
	}

	if purgeMirror {
		if t.MirrorPath == "" {
			return fmt.Errorf("target '%s' has no mirror path", t.ID)
		}
		if err := os.RemoveAll(t.MirrorPath); err != nil {
			return fmt.Errorf("failed to remove mirror %s: %w", t.MirrorPath, err)
		}
	}

	r.Logger.Info("target reset", "target", t.ID, "purge_mirror", purgeMirror)
	return nil
}

func (r *Runner) lookup(targetID string) (*target.Target, error) {
	t, err := r.Targets.Get(targetID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, targetID)
	}
	return t, nil
}

func (r *Runner) pipeline(t *target.Target) (deployment.Pipeline, error) {
	return processor.BuildPipeline(t, processor.Deps{
		Markers:   r.Markers,
		Logger:    r.Logger,
		Publisher: r.Publisher,
	})
}

func (r *Runner) reject(ctx context.Context, targetID string, opts Options) error {
	r.Logger.Warn("Deployment already in progress, rejecting", "target", targetID)

	if r.History != nil {
		if _, err := r.History.RecordRejected(context.WithoutCancel(ctx), targetID, trigger(opts), "Deployment already in progress"); err != nil {
			r.Logger.Error("Failed to record rejection in history", "error", err, "target", targetID)
		}
	}
	return fmt.Errorf("target '%s': %w", targetID, ErrDeploymentInProgress)
}

// run executes the pipeline. The caller holds the target lock.
func (r *Runner) run(ctx context.Context, t *target.Target, pipeline deployment.Pipeline, opts Options) (*deployment.Deployment, error) {
	params := make(map[string]any, len(opts.Params)+1)
	for k, v := range opts.Params {
		params[k] = v
	}
	if opts.ReprocessAll {
		params[processor.ReprocessAllParam] = true
	}

	runOpts := deployment.RunOptions{
		ID:     opts.ID,
		DryRun: opts.DryRun,
		Params: params,
	}

	// A dry run never pulls, so it previews what the mirror already holds.
	if opts.DryRun {
		cs, err := processor.NewGitPull(t, r.Markers, r.Logger).Preview(ctx, r.Logger.With("target", t.ID), opts.ReprocessAll)
		if err != nil {
			return nil, fmt.Errorf("failed to preview target '%s': %w", t.ID, err)
		}
		runOpts.ChangeSet = cs
	}

	d := r.executor.Run(ctx, t.ID, pipeline, runOpts)

	if r.History != nil {
		if err := r.History.RecordDeployment(context.WithoutCancel(ctx), d, trigger(opts)); err != nil {
			r.Logger.Error("Failed to record deployment history", "error", err, "target", t.ID, "deployment_id", d.ID)
		}
	}

	return d, nil
}

func trigger(opts Options) string {
	if opts.Trigger == "" {
		return history.TriggerCLI
	}
	return opts.Trigger
}
