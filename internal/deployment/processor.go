package deployment

import (
	"context"

	"gitdeployer/internal/changeset"
)

// Processor is one step of a target's deployment pipeline.
type Processor interface {
	// Name identifies the processor in executions, logs and history.
	Name() string

	// ShouldExecute is the gate evaluated against the stage's filtered
	// ChangeSet. A false result skips the processor without an execution
	// record.
	ShouldExecute(d *Deployment, cs changeset.ChangeSet) bool

	// Execute does the work. params holds the stage parameters overlaid with
	// the run parameters.
	Execute(ctx context.Context, d *Deployment, cs changeset.ChangeSet, params map[string]any) (Result, error)

	// FailsDeploymentOnError reports whether an error from this processor
	// aborts the pipeline and fails the deployment.
	FailsDeploymentOnError() bool
}

// Result is the outcome of a successful Execute: either the incoming
// ChangeSet is kept, or it is replaced for the remaining stages.
type Result struct {
	changeSet changeset.ChangeSet
	replaced  bool
	detail    string
}

// Unchanged keeps the deployment's current ChangeSet.
func Unchanged(detail string) Result {
	return Result{detail: detail}
}

// Replaced substitutes cs for the deployment's current ChangeSet.
func Replaced(cs changeset.ChangeSet, detail string) Result {
	return Result{changeSet: cs, replaced: true, detail: detail}
}

// ChangeSet returns the replacement and true, or false for Unchanged results.
func (r Result) ChangeSet() (changeset.ChangeSet, bool) {
	return r.changeSet, r.replaced
}

// Detail is the human readable status recorded on the execution.
func (r Result) Detail() string {
	return r.detail
}

// Stage binds a processor to its per-stage path filter and parameters.
type Stage struct {
	Processor Processor
	Filter    *changeset.Filter
	Params    map[string]any
}

// Pipeline is the ordered list of stages run for a target.
type Pipeline []Stage

// Names returns the processor names in execution order.
func (p Pipeline) Names() []string {
	names := make([]string, len(p))
	for i, s := range p {
		names[i] = s.Processor.Name()
	}
	return names
}
