package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/jmoiron/sqlx"

	"gitdeployer/internal/history"
	"gitdeployer/internal/marker"
	"gitdeployer/internal/processor"
	"gitdeployer/internal/runner"
	"gitdeployer/internal/security"
	"gitdeployer/internal/sqlite"
	"gitdeployer/internal/target"
)

// app holds the services shared by the commands.
type app struct {
	Settings    *Settings
	Logger      *slog.Logger
	TargetsFile string
	Registry    *target.Registry
	Runner      *runner.Runner

	db      *sqlx.DB
	logFile io.Closer
}

// newApp loads settings and targets and opens the state stores.
func newApp(settingsPath, targetsPath string) (*app, error) {
	settings, err := LoadSettings(settingsPath, nil)
	if err != nil {
		return nil, err
	}
	if targetsPath != "" {
		settings.Targets.File = targetsPath
	}

	logger, logFile, err := setupLogging(settings.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}

	a := &app{Settings: settings, Logger: logger, logFile: logFile}
	if err := a.init(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init() error {
	var err error
	if a.TargetsFile, err = a.Settings.TargetsFile(); err != nil {
		return err
	}

	a.Logger.Info("Loading targets", "config", a.TargetsFile)
	targets, err := target.LoadConfig(a.TargetsFile, processor.ValidateParams)
	if err != nil {
		return fmt.Errorf("failed to load targets: %w", err)
	}
	if err := security.ValidateSecurePermissions(a.TargetsFile); err != nil {
		a.Logger.Warn("Targets file may expose secrets", "error", err)
	}
	if len(targets) == 0 {
		a.Logger.Warn("No targets configured", "config", a.TargetsFile)
	}
	a.Registry = target.NewRegistry(targets)

	if err := security.CreateSecureDir(filepath.Dir(a.Settings.Database.Path), security.PermDirectory); err != nil {
		return err
	}
	if a.db, err = sqlite.Open(a.Settings.Database.Path); err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	var markers marker.Store
	switch a.Settings.Markers.Backend {
	case "file":
		if err := security.CreateSecureDir(a.Settings.Markers.Dir, security.PermDirectory); err != nil {
			return err
		}
		if markers, err = marker.NewFileStore(a.Settings.Markers.Dir); err != nil {
			return err
		}
	default:
		markers = &marker.SQLiteStore{DB: a.db}
	}

	a.Runner = runner.New(a.Registry, markers, history.NewHistory(a.db), a.Logger)
	return nil
}

// Close releases the database and the log file.
func (a *app) Close() error {
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.logFile != nil {
		errs = append(errs, a.logFile.Close())
	}
	return errors.Join(errs...)
}
