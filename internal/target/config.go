package target

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"gitdeployer/internal/changeset"
	"gitdeployer/internal/gitsync"
	"gitdeployer/internal/security"
)

const (
	DefaultBranch = "main"

	// MirrorsRootEnv restricts mirror paths to a directory when set.
	MirrorsRootEnv = "GITDEPLOYER_MIRRORS_ROOT"
)

// Config represents the root of a targets file
type Config struct {
	Targets map[string]TargetConfig `yaml:"targets"`
}

// TargetConfig represents the YAML configuration for a target
type TargetConfig struct {
	MirrorPath   string            `yaml:"mirror_path"`
	Remote       RemoteConfig      `yaml:"remote"`
	IncludeFiles []string          `yaml:"include_files"`
	ExcludeFiles []string          `yaml:"exclude_files"`
	Git          GitConfig         `yaml:"git"`
	Secret       string            `yaml:"secret"`
	Pipeline     []ProcessorConfig `yaml:"pipeline"`
}

// RemoteConfig is the remote repository of a target.
type RemoteConfig struct {
	URL      string `yaml:"url"`
	Branch   string `yaml:"branch"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// GitConfig tunes the mirror's git configuration.
type GitConfig struct {
	BigFileThreshold string `yaml:"big_file_threshold"`
	Compression      *int   `yaml:"compression"`
}

// ProcessorConfig is one pipeline entry.
type ProcessorConfig struct {
	Type                  string         `yaml:"type"`
	Name                  string         `yaml:"name"`
	IncludeFiles          []string       `yaml:"include_files"`
	ExcludeFiles          []string       `yaml:"exclude_files"`
	FailDeploymentOnError *bool          `yaml:"fail_deployment_on_error"`
	Params                map[string]any `yaml:"params"`
}

// Check is an extra validation applied to every target after the built-in
// rules pass. It returns one message per problem.
type Check func(t *Target) []string

// LoadConfig loads and validates the targets file. All problems of all
// targets are reported together in one error.
func LoadConfig(configPath string, checks ...Check) (map[string]*Target, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data, checks...)
}

// ParseConfig validates a targets file already read into memory.
func ParseConfig(data []byte, checks ...Check) (map[string]*Target, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	// Initialize Targets map if it's nil (happens with empty YAML files)
	if config.Targets == nil {
		config.Targets = make(map[string]TargetConfig)
	}

	ids := make([]string, 0, len(config.Targets))
	for id := range config.Targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	targets := make(map[string]*Target, len(ids))
	var problems []string
	for _, id := range ids {
		t, errs := BuildTarget(id, config.Targets[id])
		if len(errs) == 0 {
			for _, check := range checks {
				errs = append(errs, check(t)...)
			}
		}
		if len(errs) > 0 {
			for _, e := range errs {
				problems = append(problems, fmt.Sprintf("  - Target '%s': %s", id, e))
			}
			continue
		}
		targets[id] = t
	}

	problems = append(problems, overlappingMirrors(ids, targets)...)

	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid targets configuration:\n%s", strings.Join(problems, "\n"))
	}

	return targets, nil
}

// overlappingMirrors reports targets whose mirror directories are equal or
// nested. Locks are per target, so two such targets could run on one tree.
func overlappingMirrors(ids []string, targets map[string]*Target) []string {
	var problems []string
	for i, a := range ids {
		ta, ok := targets[a]
		if !ok {
			continue
		}
		for _, b := range ids[i+1:] {
			tb, ok := targets[b]
			if !ok {
				continue
			}
			if security.WithinRoot(ta.MirrorPath, tb.MirrorPath) == nil || security.WithinRoot(tb.MirrorPath, ta.MirrorPath) == nil {
				problems = append(problems, fmt.Sprintf("  - Target '%s': mirror_path '%s' overlaps target '%s' mirror_path '%s'",
					b, tb.MirrorPath, a, ta.MirrorPath))
			}
		}
	}
	return problems
}

// BuildTarget validates a single target configuration and applies defaults.
func BuildTarget(id string, config TargetConfig) (*Target, []string) {
	errors := ValidateTargetConfig(id, config)
	if len(errors) > 0 {
		return nil, errors
	}

	branch := config.Remote.Branch
	if branch == "" {
		branch = DefaultBranch
	}

	// Patterns were validated above.
	filter, _ := changeset.NewFilter(config.IncludeFiles, config.ExcludeFiles)

	stages := make([]Stage, 0, len(config.Pipeline))
	for _, pc := range config.Pipeline {
		stageFilter, _ := changeset.NewFilter(pc.IncludeFiles, pc.ExcludeFiles)
		params := pc.Params
		if params == nil {
			params = map[string]any{}
		}
		stages = append(stages, Stage{
			Type:                  pc.Type,
			Name:                  pc.Name,
			FailDeploymentOnError: pc.FailDeploymentOnError,
			Filter:                stageFilter,
			Params:                params,
		})
	}

	return &Target{
		ID:         id,
		MirrorPath: filepath.Clean(config.MirrorPath),
		Remote: gitsync.Remote{
			URL:      config.Remote.URL,
			Branch:   branch,
			Username: config.Remote.Username,
			Password: config.Remote.Password,
		},
		Git: gitsync.Options{
			BigFileThreshold: config.Git.BigFileThreshold,
			Compression:      config.Git.Compression,
		},
		Secret:   config.Secret,
		Filter:   filter,
		Include:  config.IncludeFiles,
		Exclude:  config.ExcludeFiles,
		Pipeline: stages,
	}, nil
}

// ValidateTargetConfig validates a single target configuration
func ValidateTargetConfig(id string, config TargetConfig) []string {
	var errors []string

	if err := security.ValidateTargetID(id); err != nil {
		errors = append(errors, err.Error())
	}

	// Validate mirror path
	if config.MirrorPath == "" {
		errors = append(errors, "missing required 'mirror_path' field")
	} else if _, err := security.SanitizePath(config.MirrorPath); err != nil {
		errors = append(errors, fmt.Sprintf("invalid mirror_path: %v", err))
	} else if root := os.Getenv(MirrorsRootEnv); root != "" {
		if err := security.WithinRoot(root, config.MirrorPath); err != nil {
			errors = append(errors, fmt.Sprintf("mirror_path '%s' is outside allowed root '%s'", config.MirrorPath, root))
		}
	}

	// Validate remote
	if config.Remote.URL == "" {
		errors = append(errors, "missing required 'remote.url' field")
	} else if err := security.ValidateRemoteURL(config.Remote.URL); err != nil {
		errors = append(errors, fmt.Sprintf("invalid remote.url: %v", err))
	}

	branch := config.Remote.Branch
	if branch == "" {
		branch = DefaultBranch
	}
	if err := security.ValidateBranchName(branch); err != nil {
		errors = append(errors, fmt.Sprintf("invalid remote.branch '%s': %v", branch, err))
	}

	if config.Remote.Password != "" && config.Remote.Username == "" {
		errors = append(errors, "remote.password requires remote.username")
	}

	// Validate globs
	if _, err := changeset.NewFilter(config.IncludeFiles, config.ExcludeFiles); err != nil {
		errors = append(errors, err.Error())
	}

	if config.Git.Compression != nil && (*config.Git.Compression < -1 || *config.Git.Compression > 9) {
		errors = append(errors, fmt.Sprintf("git.compression must be between -1 and 9, got %d", *config.Git.Compression))
	}

	// Validate secret (optional)
	if config.Secret != "" {
		if err := security.ValidateSecret(config.Secret); err != nil {
			errors = append(errors, fmt.Sprintf("invalid secret: %v", err))
		}
	}

	// Validate pipeline
	for i, pc := range config.Pipeline {
		switch {
		case pc.Type == "":
			errors = append(errors, fmt.Sprintf("pipeline[%d]: missing required 'type' field", i))
		case pc.Type == TypeGitPull:
			errors = append(errors, fmt.Sprintf("pipeline[%d]: '%s' is always the first stage and cannot be configured", i, TypeGitPull))
		case !slices.Contains(ProcessorTypes, pc.Type):
			errors = append(errors, fmt.Sprintf("pipeline[%d]: unknown processor type '%s'", i, pc.Type))
		}

		if _, err := changeset.NewFilter(pc.IncludeFiles, pc.ExcludeFiles); err != nil {
			errors = append(errors, fmt.Sprintf("pipeline[%d]: %v", i, err))
		}
	}

	return errors
}
