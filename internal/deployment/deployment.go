package deployment

import (
	"log/slog"
	"time"

	"gitdeployer/internal/changeset"
)

// Status is the overall state of a deployment.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusFailure    Status = "failure"
)

// ExecutionStatus is the outcome of one processor invocation.
type ExecutionStatus string

const (
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailure ExecutionStatus = "failure"
)

// ProcessorExecution records one processor invocation that passed its gate.
type ProcessorExecution struct {
	Processor string          `json:"processor"`
	Status    ExecutionStatus `json:"status"`
	Detail    string          `json:"detail,omitempty"`
	Start     time.Time       `json:"start"`
	End       time.Time       `json:"end"`
}

// Duration is how long the processor ran.
func (e *ProcessorExecution) Duration() time.Duration {
	if e.End.IsZero() {
		return 0
	}
	return e.End.Sub(e.Start)
}

// Deployment is a single run of a target's pipeline. It is created by the
// Executor at the start of a run and finalized at its end.
type Deployment struct {
	ID       string `json:"id"`
	TargetID string `json:"target"`

	// Running is true while stages may still do work. Dry runs start with it
	// false, and it is cleared when the deployment is finalized.
	Running bool   `json:"running"`
	DryRun  bool   `json:"dry_run"`
	Status  Status `json:"status"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	ChangeSet    changeset.ChangeSet `json:"change_set"`
	FromRevision string              `json:"from_revision,omitempty"`
	ToRevision   string              `json:"to_revision,omitempty"`

	Executions []*ProcessorExecution `json:"executions"`
	Params     map[string]any        `json:"params,omitempty"`

	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`

	Logger *slog.Logger `json:"-"`
}

// SetRevisions publishes the revision range the deployment covers. The
// executor records ToRevision as processed when the deployment succeeds.
func (d *Deployment) SetRevisions(from, to string) {
	d.FromRevision = from
	d.ToRevision = to
}

// Duration is the wall time of the deployment.
func (d *Deployment) Duration() time.Duration {
	if d.End.IsZero() {
		return time.Since(d.Start)
	}
	return d.End.Sub(d.Start)
}

// Succeeded reports whether the finalized deployment succeeded.
func (d *Deployment) Succeeded() bool {
	return d.Status == StatusSuccess
}

func (d *Deployment) startExecution(name string, now time.Time) *ProcessorExecution {
	exec := &ProcessorExecution{
		Processor: name,
		Status:    ExecutionRunning,
		Start:     now,
	}
	d.Executions = append(d.Executions, exec)
	return exec
}

func (e *ProcessorExecution) finish(status ExecutionStatus, detail string, now time.Time) {
	e.Status = status
	e.Detail = detail
	e.End = now
}

func (d *Deployment) fail(err error) {
	if d.Err == nil {
		d.Err = err
	}
	d.Running = false
}

func (d *Deployment) finalize(now time.Time) {
	d.Running = false
	d.End = now
	if d.Err != nil {
		d.Status = StatusFailure
		d.Error = d.Err.Error()
		return
	}
	d.Status = StatusSuccess
}
