package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"gitdeployer/pkg/fileutil"
)

const (
	settingsFileName = "gitdeployer.yaml"
	targetsFileName  = "targets.yaml"
	envPrefix        = "GITDEPLOYER"
)

// Settings are the process settings. Targets live in their own file.
type Settings struct {
	Server   ServerSettings   `mapstructure:"server"`
	Database DatabaseSettings `mapstructure:"database"`
	Markers  MarkerSettings   `mapstructure:"markers"`
	Log      LogSettings      `mapstructure:"log"`
	Targets  TargetsSettings  `mapstructure:"targets"`
}

type ServerSettings struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type DatabaseSettings struct {
	Path string `mapstructure:"path"`
}

// MarkerSettings selects where processed revisions are kept: "sqlite"
// shares the history database, "file" writes one file per target to Dir.
type MarkerSettings struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type TargetsSettings struct {
	File  string `mapstructure:"file"`
	Watch bool   `mapstructure:"watch"`
}

// LoadSettings reads settings from the optional settings file and the
// GITDEPLOYER_* environment. An explicit path must exist; otherwise the
// default locations are searched and defaults apply when none is found.
func LoadSettings(path string, v *viper.Viper) (*Settings, error) {
	if v == nil {
		v = viper.New()
	}

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 5000)
	v.SetDefault("database.path", "./gitdeployer.db")
	v.SetDefault("markers.backend", "sqlite")
	v.SetDefault("markers.dir", "./markers")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "./gitdeployer.log")
	v.SetDefault("targets.file", "")
	v.SetDefault("targets.watch", true)

	if path == "" {
		path = fileutil.FindConfigOptional(settingsFileName)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) validate() error {
	var errs []error
	switch s.Markers.Backend {
	case "sqlite":
	case "file":
		if s.Markers.Dir == "" {
			errs = append(errs, errors.New("markers.dir is required for the file backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("markers.backend must be sqlite or file, got %q", s.Markers.Backend))
	}
	if s.Server.Port < 1 || s.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", s.Server.Port))
	}
	if s.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	return errors.Join(errs...)
}

// TargetsFile returns the configured targets file or the first one found in
// the default locations.
func (s *Settings) TargetsFile() (string, error) {
	if s.Targets.File != "" {
		return s.Targets.File, nil
	}
	path, err := fileutil.FindConfig(targetsFileName)
	if err != nil {
		return "", fmt.Errorf("no %s found, use --targets to specify one: %w", targetsFileName, err)
	}
	return path, nil
}
