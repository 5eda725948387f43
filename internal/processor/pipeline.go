package processor

import (
	"fmt"
	"log/slog"

	"gitdeployer/internal/deployment"
	"gitdeployer/internal/marker"
	"gitdeployer/internal/target"
)

// Deps are the shared services processors are built with.
type Deps struct {
	Markers marker.Store
	Logger  *slog.Logger

	// Publisher overrides the amqp publisher, for tests.
	Publisher Publisher
}

type factory struct {
	failOnError bool
	build       func(t *target.Target, s target.Stage, base Base, deps Deps) (deployment.Processor, error)
}

var factories = map[string]factory{
	target.TypeFilter: {
		failOnError: true,
		build: func(t *target.Target, s target.Stage, base Base, _ Deps) (deployment.Processor, error) {
			if s.Filter == nil {
				return nil, fmt.Errorf("a filter stage needs include_files or exclude_files")
			}
			return &Filter{Base: base}, nil
		},
	},
	target.TypeCommand: {
		failOnError: true,
		build: func(t *target.Target, s target.Stage, base Base, _ Deps) (deployment.Processor, error) {
			c, err := NewCommand(base, t.MirrorPath, s.Params)
			if err != nil {
				return nil, err
			}
			c.Secrets = []string{t.Remote.Password, t.Secret}
			return c, nil
		},
	},
	target.TypeFileOutput: {
		build: func(_ *target.Target, s target.Stage, base Base, _ Deps) (deployment.Processor, error) {
			return NewFileOutput(base, s.Params)
		},
	},
	target.TypeGitHubStatus: {
		build: func(t *target.Target, s target.Stage, base Base, _ Deps) (deployment.Processor, error) {
			return NewGitHubStatus(base, t.Remote.URL, s.Params)
		},
	},
	target.TypeAMQPNotify: {
		build: func(_ *target.Target, s target.Stage, base Base, deps Deps) (deployment.Processor, error) {
			return NewAMQPNotify(base, s.Params, deps.Publisher)
		},
	},
}

// BuildPipeline returns the target's pipeline with the git-pull stage in
// front of the configured stages.
func BuildPipeline(t *target.Target, deps Deps) (deployment.Pipeline, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	pipeline := deployment.Pipeline{
		{Processor: NewGitPull(t, deps.Markers, deps.Logger)},
	}

	for i, s := range t.Pipeline {
		p, err := buildStage(t, s, deps)
		if err != nil {
			return nil, fmt.Errorf("target '%s' pipeline[%d] (%s): %w", t.ID, i, s.DisplayName(), err)
		}
		pipeline = append(pipeline, deployment.Stage{
			Processor: p,
			Filter:    s.Filter,
			Params:    s.Params,
		})
	}

	return pipeline, nil
}

// ValidateParams checks every stage's params. It is meant to be passed to
// target.LoadConfig.
func ValidateParams(t *target.Target) []string {
	var errors []string
	for i, s := range t.Pipeline {
		if _, err := buildStage(t, s, Deps{}); err != nil {
			errors = append(errors, fmt.Sprintf("pipeline[%d] (%s): %v", i, s.DisplayName(), err))
		}
	}
	return errors
}

func buildStage(t *target.Target, s target.Stage, deps Deps) (deployment.Processor, error) {
	f, ok := factories[s.Type]
	if !ok {
		return nil, fmt.Errorf("unknown processor type %q", s.Type)
	}

	failOnError := f.failOnError
	if s.FailDeploymentOnError != nil {
		failOnError = *s.FailDeploymentOnError
	}
	alwaysRun, err := boolParam(s.Params, AlwaysRunParam)
	if err != nil {
		return nil, err
	}

	return f.build(t, s, NewBase(s.DisplayName(), failOnError, alwaysRun), deps)
}
