package security

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// Safe patterns for validation
	branchPattern   = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)
	targetIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	scpLikePattern  = regexp.MustCompile(`^[a-zA-Z0-9_.-]+@[a-zA-Z0-9_.-]+:[a-zA-Z0-9_./~-]+$`)
)

var allowedRemoteSchemes = map[string]bool{
	"https": true,
	"http":  true,
	"ssh":   true,
	"git":   true,
	"file":  true,
}

// ValidateRemoteURL ensures a remote repository address is safe to hand to
// git. Accepted forms are URLs with a known scheme, scp-like SSH addresses
// (git@host:owner/repo.git) and absolute local paths.
func ValidateRemoteURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("remote URL cannot be empty")
	}
	if strings.HasPrefix(rawURL, "-") {
		return fmt.Errorf("remote URL cannot start with '-'")
	}
	if strings.IndexFunc(rawURL, func(r rune) bool { return r <= ' ' || r == 0x7f }) >= 0 {
		return fmt.Errorf("remote URL contains whitespace or control characters")
	}

	if filepath.IsAbs(rawURL) {
		return nil
	}
	if scpLikePattern.MatchString(rawURL) {
		return nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if !allowedRemoteSchemes[u.Scheme] {
		return fmt.Errorf("unsupported remote URL scheme %q", u.Scheme)
	}
	if u.Scheme != "file" && u.Host == "" {
		return fmt.Errorf("remote URL has no host")
	}

	return nil
}

// ValidateBranchName ensures branch name is safe for git operations.
// Prevents command injection through branch names.
func ValidateBranchName(branch string) error {
	if branch == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("branch name cannot start with '-'")
	}
	if strings.Contains(branch, "..") {
		return fmt.Errorf("branch name cannot contain '..'")
	}
	if !branchPattern.MatchString(branch) {
		return fmt.Errorf("branch name contains invalid characters")
	}
	return nil
}

// ValidateTargetID ensures a target ID is safe for use in paths, marker file
// names and URLs.
func ValidateTargetID(id string) error {
	if id == "" {
		return fmt.Errorf("target id cannot be empty")
	}
	if strings.HasPrefix(id, "-") {
		return fmt.Errorf("target id cannot start with '-'")
	}
	if !targetIDPattern.MatchString(id) {
		return fmt.Errorf("target id contains invalid characters (only a-z, A-Z, 0-9, _, - allowed)")
	}
	return nil
}

// WithinRoot reports an error unless path lies inside root. Both are compared
// lexically after cleaning, so neither has to exist yet.
func WithinRoot(root, path string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve root path: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected: '%s' is outside root '%s'", absPath, absRoot)
	}
	return nil
}

// SanitizePath ensures a path is absolute and doesn't contain traversal attempts.
func SanitizePath(path string) (string, error) {
	// Must be absolute
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("path must be absolute: %s", path)
	}

	// Check for .. before cleaning (filepath.Clean removes them)
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return "", fmt.Errorf("path contains traversal elements: %s", path)
		}
	}

	return filepath.Clean(path), nil
}
