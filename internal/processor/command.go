package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cbroglie/mustache"

	"gitdeployer/internal/changeset"
	"gitdeployer/internal/deployment"
	"gitdeployer/pkg/cmdutil"
)

const (
	defaultCommandTimeout = 5 * time.Minute
	outputTailBytes       = 2000
)

// Command runs commands in the mirror directory. Each argument is a
// mustache template over the deployment (see templateVars), rendered after
// the command is split, so file names can never inject extra arguments.
type Command struct {
	Base

	Dir      string
	Commands [][]string
	Timeout  time.Duration
	Env      map[string]string

	// Secrets are redacted from command output before it is logged or
	// recorded.
	Secrets []string
}

// NewCommand validates the stage params: commands (a list of command
// strings or argv lists), timeout in seconds and env.
func NewCommand(base Base, dir string, params map[string]any) (*Command, error) {
	raw, ok := params["commands"]
	if !ok {
		return nil, errors.New("param \"commands\" is required")
	}

	var list []any
	switch v := raw.(type) {
	case []any:
		list = v
	case []string:
		for _, s := range v {
			list = append(list, s)
		}
	case string:
		list = []any{v}
	default:
		return nil, fmt.Errorf("param \"commands\" must be a list, got %T", raw)
	}
	if len(list) == 0 {
		return nil, errors.New("param \"commands\" must not be empty")
	}

	commands := make([][]string, 0, len(list))
	for i, item := range list {
		parts, err := cmdutil.ParseCommandList(item)
		if err != nil {
			return nil, fmt.Errorf("commands[%d]: %w", i, err)
		}
		for _, part := range parts {
			if _, err := mustache.ParseString(part); err != nil {
				return nil, fmt.Errorf("commands[%d]: invalid template %q: %w", i, part, err)
			}
		}
		commands = append(commands, parts)
	}

	timeout, err := secondsParam(params, "timeout", defaultCommandTimeout)
	if err != nil {
		return nil, err
	}
	env, err := stringMapParam(params, "env")
	if err != nil {
		return nil, err
	}

	return &Command{
		Base:     base,
		Dir:      dir,
		Commands: commands,
		Timeout:  timeout,
		Env:      env,
	}, nil
}

func (c *Command) Execute(ctx context.Context, d *deployment.Deployment, cs changeset.ChangeSet, _ map[string]any) (deployment.Result, error) {
	logger := loggerFor(d).With("processor", c.Name())
	vars := templateVars(d, cs)

	env := []string{
		"GITDEPLOYER_TARGET=" + d.TargetID,
		"GITDEPLOYER_DEPLOYMENT_ID=" + d.ID,
		"GITDEPLOYER_FROM_REVISION=" + d.FromRevision,
		"GITDEPLOYER_TO_REVISION=" + d.ToRevision,
	}
	for k, v := range c.Env {
		rendered, err := mustache.RenderRaw(v, true, vars)
		if err != nil {
			return deployment.Result{}, fmt.Errorf("failed to render env %s: %w", k, err)
		}
		env = append(env, k+"="+rendered)
	}

	opts := cmdutil.ExecOptions{
		Dir:            c.Dir,
		Timeout:        c.Timeout,
		Env:            env,
		CombinedOutput: true,
	}

	for i, tmpl := range c.Commands {
		argv, err := renderArgs(tmpl, vars)
		if err != nil {
			return deployment.Result{}, fmt.Errorf("command %d: %w", i+1, err)
		}
		display := c.sanitize([]byte(cmdutil.FormatCommand(argv)))

		logger.Info("running command", "command", display)
		result, err := cmdutil.Run(ctx, opts, argv)

		var output []byte
		if result != nil {
			output = c.sanitizeBytes(result.Output)
		}
		if err != nil {
			return deployment.Result{}, fmt.Errorf("%s: %w: %s", display, err, cmdutil.Tail(output, outputTailBytes))
		}
		logger.Debug("command finished", "command", display, "duration", result.Duration.String(), "output", cmdutil.Tail(output, outputTailBytes))
	}

	return deployment.Unchanged(fmt.Sprintf("Ran %d command(s)", len(c.Commands))), nil
}

func (c *Command) sanitizeBytes(b []byte) []byte {
	return cmdutil.SanitizeOutput(b, c.Secrets)
}

func (c *Command) sanitize(b []byte) string {
	return string(c.sanitizeBytes(b))
}

func renderArgs(tmpl []string, vars map[string]any) ([]string, error) {
	argv := make([]string, len(tmpl))
	for i, part := range tmpl {
		rendered, err := mustache.RenderRaw(part, true, vars)
		if err != nil {
			return nil, fmt.Errorf("failed to render %q: %w", part, err)
		}
		argv[i] = rendered
	}
	if strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("command renders to an empty program name")
	}
	return argv, nil
}

// templateVars is the data available to command templates. The path lists
// are meant for sections, e.g. {{#created}}{{.}} {{/created}}.
func templateVars(d *deployment.Deployment, cs changeset.ChangeSet) map[string]any {
	return map[string]any{
		"target":        d.TargetID,
		"deployment_id": d.ID,
		"from_revision": d.FromRevision,
		"to_revision":   d.ToRevision,
		"created":       cs.Created(),
		"updated":       cs.Updated(),
		"deleted":       cs.Deleted(),
		"created_count": len(cs.Created()),
		"updated_count": len(cs.Updated()),
		"deleted_count": len(cs.Deleted()),
	}
}
