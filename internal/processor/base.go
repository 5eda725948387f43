// Package processor implements the pipeline stages a target can configure,
// and the git-pull stage that always runs first.
package processor

import (
	"log/slog"

	"gitdeployer/internal/changeset"
	"gitdeployer/internal/deployment"
)

// AlwaysRunParam makes a stage run even when its ChangeSet is empty.
const AlwaysRunParam = "always_run"

// Base holds what every processor shares: its name, its failure policy and
// the default gate.
type Base struct {
	name        string
	failOnError bool
	alwaysRun   bool
}

// NewBase returns a Base.
func NewBase(name string, failOnError, alwaysRun bool) Base {
	return Base{name: name, failOnError: failOnError, alwaysRun: alwaysRun}
}

func (b Base) Name() string { return b.name }

func (b Base) FailsDeploymentOnError() bool { return b.failOnError }

// ShouldExecute runs the processor while the deployment is running and
// there is something to process.
func (b Base) ShouldExecute(d *deployment.Deployment, cs changeset.ChangeSet) bool {
	return d.Running && (b.alwaysRun || !cs.IsEmpty())
}

func loggerFor(d *deployment.Deployment) *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func shortRev(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	if rev == "" {
		return "(none)"
	}
	return rev
}
