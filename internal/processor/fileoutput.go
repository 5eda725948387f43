package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"gitdeployer/internal/changeset"
	"gitdeployer/internal/deployment"
	"gitdeployer/internal/security"
)

// FileOutput appends one JSON Event line per deployment to
// <Dir>/<target>.jsonl.
type FileOutput struct {
	Base

	Dir string
	now func() time.Time
}

// NewFileOutput validates the dir param.
func NewFileOutput(base Base, params map[string]any) (*FileOutput, error) {
	dir, err := stringParam(params, "dir")
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return nil, errors.New("param \"dir\" is required")
	}
	if !filepath.IsAbs(dir) {
		return nil, fmt.Errorf("param \"dir\" must be an absolute path, got %q", dir)
	}
	return &FileOutput{Base: base, Dir: filepath.Clean(dir), now: time.Now}, nil
}

func (f *FileOutput) Execute(ctx context.Context, d *deployment.Deployment, cs changeset.ChangeSet, _ map[string]any) (deployment.Result, error) {
	if err := ctx.Err(); err != nil {
		return deployment.Result{}, err
	}

	line, err := json.Marshal(newEvent(f.now(), d, cs))
	if err != nil {
		return deployment.Result{}, fmt.Errorf("failed to encode output record: %w", err)
	}

	if err := security.CreateSecureDir(f.Dir, security.PermDirectory); err != nil {
		return deployment.Result{}, err
	}

	path := filepath.Join(f.Dir, d.TargetID+".jsonl")
	file, err := security.OpenAppendFile(path, security.PermLogFile)
	if err != nil {
		return deployment.Result{}, err
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return deployment.Result{}, fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return deployment.Result{}, fmt.Errorf("failed to close %s: %w", path, err)
	}

	return deployment.Unchanged(fmt.Sprintf("Wrote %d changes to %s", cs.Len(), path)), nil
}
