package processor

import (
	"context"
	"fmt"

	"gitdeployer/internal/changeset"
	"gitdeployer/internal/deployment"
)

// Filter narrows the deployment's ChangeSet for every later stage. The
// narrowing itself is the stage filter built from the stage's include and
// exclude globs; this processor makes it stick.
type Filter struct {
	Base
}

// ShouldExecute also runs in dry runs, so that they report the narrowed
// ChangeSet.
func (f *Filter) ShouldExecute(_ *deployment.Deployment, _ changeset.ChangeSet) bool {
	return true
}

func (f *Filter) Execute(_ context.Context, d *deployment.Deployment, cs changeset.ChangeSet, _ map[string]any) (deployment.Result, error) {
	before := d.ChangeSet.Len()
	return deployment.Replaced(cs, fmt.Sprintf("Kept %d of %d changes", cs.Len(), before)), nil
}
