package processor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Parameters come from YAML (bool, int, []any), JSON (float64) and HTTP query
// strings (string), so the readers below accept every form.

func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return "", nil
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case fmt.Stringer:
		return s.String(), nil
	case int, int64, float64, bool:
		return fmt.Sprint(s), nil
	default:
		return "", fmt.Errorf("param %q must be a string, got %T", key, v)
	}
}

func boolParam(params map[string]any, key string) (bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return false, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		if b == "" {
			return false, nil
		}
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf("param %q must be a boolean, got %q", key, b)
		}
		return parsed, nil
	default:
		return false, fmt.Errorf("param %q must be a boolean, got %T", key, v)
	}
}

func intParam(params map[string]any, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("param %q must be an integer, got %v", key, n)
		}
		return int(n), nil
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("param %q must be an integer, got %q", key, n)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("param %q must be an integer, got %T", key, v)
	}
}

// secondsParam reads a positive number of seconds.
func secondsParam(params map[string]any, key string, def time.Duration) (time.Duration, error) {
	n, err := intParam(params, key, int(def/time.Second))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("param %q must be a positive number of seconds", key)
	}
	return time.Duration(n) * time.Second, nil
}

func stringMapParam(params map[string]any, key string) (map[string]string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("param %q must be a mapping, got %T", key, v)
	}
	out := make(map[string]string, len(m))
	for k := range m {
		s, err := stringParam(m, k)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", key, err)
		}
		out[k] = s
	}
	return out, nil
}

// secretParam returns the value of key, or else of the environment variable
// named by key+"_env", or else of defaultEnv.
func secretParam(params map[string]any, key, defaultEnv string) (string, error) {
	v, err := stringParam(params, key)
	if err != nil || v != "" {
		return v, err
	}
	env, err := stringParam(params, key+"_env")
	if err != nil {
		return "", err
	}
	if env == "" {
		env = defaultEnv
	}
	return os.Getenv(env), nil
}
