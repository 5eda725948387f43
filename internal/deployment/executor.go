package deployment

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"gitdeployer/internal/changeset"
	"gitdeployer/internal/marker"
)

// RunOptions configures a single Executor.Run.
type RunOptions struct {
	// ID overrides the generated deployment ID.
	ID string

	// DryRun starts the deployment not running: gated processors skip and
	// the marker is never written.
	DryRun bool

	// Params are visible to every stage and override stage parameters.
	Params map[string]any

	// ChangeSet seeds the deployment before the first stage.
	ChangeSet changeset.ChangeSet
}

// Executor runs pipelines and records the processed-commit marker of
// successful deployments.
type Executor struct {
	Markers marker.Store
	Logger  *slog.Logger

	now func() time.Time
}

// NewExecutor creates a new executor
func NewExecutor(markers marker.Store, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		Markers: markers,
		Logger:  logger,
		now:     time.Now,
	}
}

// Run executes the pipeline for the target and returns the finalized
// deployment. Failures are reported on the deployment, never as a panic.
func (e *Executor) Run(ctx context.Context, targetID string, p Pipeline, opts RunOptions) *Deployment {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	d := &Deployment{
		ID:        id,
		TargetID:  targetID,
		Running:   !opts.DryRun,
		DryRun:    opts.DryRun,
		Status:    StatusInProgress,
		Start:     e.now(),
		ChangeSet: opts.ChangeSet,
		Params:    opts.Params,
		Logger:    e.Logger.With("target", targetID, "deployment_id", id),
	}

	d.Logger.Info("deployment started", "dry_run", opts.DryRun, "pipeline", p.Names())

	for _, stage := range p {
		name := stage.Processor.Name()

		if err := ctx.Err(); err != nil {
			d.fail(fmt.Errorf("%w before processor %s: %v", ErrCancelled, name, err))
			break
		}

		cs := stage.Filter.Apply(d.ChangeSet)
		if !stage.Processor.ShouldExecute(d, cs) {
			d.Logger.Debug("processor skipped", "processor", name)
			continue
		}

		exec := d.startExecution(name, e.now())
		d.Logger.Info("processor started", "processor", name, "changes", cs.Len())

		res, err := e.invoke(ctx, stage, d, cs)
		if err != nil {
			perr := &ProcessorError{Processor: name, Err: err}
			exec.finish(ExecutionFailure, perr.Error(), e.now())

			if stage.Processor.FailsDeploymentOnError() {
				d.Logger.Error("processor failed, aborting deployment", "processor", name, "error", err)
				d.fail(perr)
				break
			}

			d.Logger.Warn("processor failed, continuing", "processor", name, "error", err)
			continue
		}

		exec.finish(ExecutionSuccess, res.Detail(), e.now())
		if next, ok := res.ChangeSet(); ok {
			d.ChangeSet = next
		}
		d.Logger.Info("processor finished", "processor", name, "duration", exec.Duration().String())
	}

	if d.Err == nil && d.Running && d.ToRevision != "" && e.Markers != nil {
		// Every stage completed, so the revision is processed even if the
		// caller gives up now.
		if err := e.Markers.Put(context.WithoutCancel(ctx), targetID, d.ToRevision); err != nil {
			d.fail(fmt.Errorf("failed to record processed revision %s: %w", d.ToRevision, err))
		}
	}

	d.finalize(e.now())

	if d.Err != nil {
		d.Logger.Error("deployment failed", "error", d.Err, "duration", d.Duration().String())
	} else {
		d.Logger.Info("deployment finished",
			"status", d.Status,
			"revision", d.ToRevision,
			"created", len(d.ChangeSet.Created()),
			"updated", len(d.ChangeSet.Updated()),
			"deleted", len(d.ChangeSet.Deleted()),
			"duration", d.Duration().String(),
		)
	}

	return d
}

// invoke calls the processor, converting a panic into an error.
func (e *Executor) invoke(ctx context.Context, stage Stage, d *Deployment, cs changeset.ChangeSet) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.Logger.Error("processor panicked", "processor", stage.Processor.Name(), "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return stage.Processor.Execute(ctx, d, cs, mergeParams(stage.Params, d.Params))
}

func mergeParams(stage, run map[string]any) map[string]any {
	params := make(map[string]any, len(stage)+len(run))
	for k, v := range stage {
		params[k] = v
	}
	for k, v := range run {
		params[k] = v
	}
	return params
}
