package marker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/moby/sys/atomicwriter"
)

const fileSuffix = ".commit"

// FileStore keeps one <targetID>.commit file per target in Dir.
type FileStore struct {
	Dir string
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create marker directory: %w", err)
	}
	return &FileStore{Dir: dir}, nil
}

func (s *FileStore) path(targetID string) string {
	return filepath.Join(s.Dir, targetID+fileSuffix)
}

func (s *FileStore) Get(ctx context.Context, targetID string) (string, error) {
	if err := validateTargetID(targetID); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := os.ReadFile(s.path(targetID))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("target %q: %w", targetID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read marker: %w", err)
	}

	rev := strings.TrimSpace(string(data))
	if rev == "" {
		return "", fmt.Errorf("target %q: %w", targetID, ErrNotFound)
	}
	return rev, nil
}

func (s *FileStore) Put(ctx context.Context, targetID, revision string) error {
	if err := validateTargetID(targetID); err != nil {
		return err
	}
	if err := validateRevision(revision); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := atomicwriter.WriteFile(s.path(targetID), []byte(revision+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write marker: %w", err)
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, targetID string) error {
	if err := validateTargetID(targetID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(s.path(targetID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete marker: %w", err)
	}
	return nil
}
