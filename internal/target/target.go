// Package target loads, validates and serves the deployment targets: a
// mirrored git branch plus the processor pipeline run against it.
package target

import (
	"fmt"
	"log/slog"

	"gitdeployer/internal/changeset"
	"gitdeployer/internal/gitsync"
)

// Processor types understood by the pipeline factory. The source sync stage
// is always first and cannot be configured explicitly.
const (
	TypeGitPull      = "git-pull"
	TypeFilter       = "filter"
	TypeCommand      = "command"
	TypeFileOutput   = "file-output"
	TypeGitHubStatus = "github-status"
	TypeAMQPNotify   = "amqp-notify"
)

// ProcessorTypes lists the configurable processor types.
var ProcessorTypes = []string{
	TypeFilter,
	TypeCommand,
	TypeFileOutput,
	TypeGitHubStatus,
	TypeAMQPNotify,
}

// Target represents a validated deployment target.
type Target struct {
	ID         string
	MirrorPath string
	Remote     gitsync.Remote
	Git        gitsync.Options
	Secret     string

	// Filter is built from the target-level include/exclude globs and
	// applied to every diff of the mirror.
	Filter   *changeset.Filter
	Include  []string
	Exclude  []string
	Pipeline []Stage
}

// Stage is a validated pipeline entry.
type Stage struct {
	Type string
	Name string

	// FailDeploymentOnError overrides the processor type's default when set.
	FailDeploymentOnError *bool

	Filter *changeset.Filter
	Params map[string]any
}

// DisplayName returns the stage name, falling back to its type.
func (s Stage) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Type
}

// MatchesRef checks if a git ref matches the target's branch
func (t *Target) MatchesRef(ref string) bool {
	return ref == fmt.Sprintf("refs/heads/%s", t.Remote.Branch)
}

// NewMirror returns the git mirror managed for this target.
func (t *Target) NewMirror(logger *slog.Logger) *gitsync.Mirror {
	return gitsync.NewMirror(t.MirrorPath, t.Remote, t.Git, logger)
}
