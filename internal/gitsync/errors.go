package gitsync

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedMerge is returned when a pull ends in a merge outcome other
	// than already-up-to-date, fast-forward or a clean merge commit. The mirror
	// is left at its pre-pull revision.
	ErrUnsupportedMerge = errors.New("unsupported merge outcome")

	// ErrUnknownRevision is returned when a revision is not present in the
	// mirror, e.g. after the remote history was rewritten.
	ErrUnknownRevision = errors.New("unknown revision")
)

// SyncError reports a clone, open or pull failure against a mirror directory.
type SyncError struct {
	Op  string
	Dir string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("git %s failed for %s: %v", e.Op, e.Dir, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
