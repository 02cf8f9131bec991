package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/markumedium/loading-server/internal/adapters/metrics"
	"github.com/markumedium/loading-server/internal/adapters/storage/jsonfile"
	"github.com/markumedium/loading-server/internal/adapters/storage/postgres"
	"github.com/markumedium/loading-server/internal/adapters/storage/sqlite"
	"github.com/markumedium/loading-server/internal/app"
	"github.com/markumedium/loading-server/internal/config"
	"github.com/markumedium/loading-server/internal/platform"
	"github.com/spf13/cobra"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	dbPath     string
	driver     string
	appName    string
	devMode    bool
}

// appRuntime is the opened application stack for one command.
type appRuntime struct {
	paths      platform.Paths
	configPath string
	cfg        config.Config
	loc        *time.Location
	logger     *runtimeLogger
	repo       app.Repository
	collector  *metrics.Collector
	svc        *app.Service
	closers    []func() error
}

// cliState carries IO, flags and the lazily opened runtime across commands.
type cliState struct {
	stdout io.Writer
	stderr io.Writer
	opts   globalOptions
	rt     *appRuntime
	// now is the wall clock used for new services and log file names.
	now func() time.Time
	// lookupEnv reads the process environment.
	lookupEnv func(string) (string, bool)
}

func newCLIState(stdout, stderr io.Writer) *cliState {
	return &cliState{
		stdout:    stdout,
		stderr:    stderr,
		now:       time.Now,
		lookupEnv: os.LookupEnv,
	}
}

// bindGlobalFlags registers the persistent flags on root.
func (s *cliState) bindGlobalFlags(root *cobra.Command) {
	defaultDevMode := version == "dev"
	if envDev, ok := parseBoolEnv(s.lookupEnv, "YARD_DEV_MODE"); ok {
		defaultDevMode = envDev
	}
	appName := platform.DefaultAppName
	if envApp, ok := s.lookupEnv("YARD_APP_NAME"); ok && strings.TrimSpace(envApp) != "" {
		appName = strings.TrimSpace(envApp)
	}

	flags := root.PersistentFlags()
	flags.StringVar(&s.opts.configPath, "config", "", "path to config TOML")
	flags.StringVar(&s.opts.dbPath, "db", "", "path to sqlite database")
	flags.StringVar(&s.opts.driver, "driver", "", "storage driver override (sqlite|jsonfile|postgres)")
	flags.StringVar(&s.opts.appName, "app", appName, "application name for config/data path resolution")
	flags.BoolVar(&s.opts.devMode, "dev", defaultDevMode, "use dev mode paths (<app>-dev)")
}

// resolvePaths resolves per-user paths for the current flags.
func (s *cliState) resolvePaths() (platform.Paths, error) {
	return platform.DefaultPathsWithOptions(platform.Options{
		AppName: s.opts.appName,
		DevMode: s.opts.devMode,
	})
}

// open loads configuration and opens storage once per process.
func (s *cliState) open(ctx context.Context, command string, consoleLogs bool) (*appRuntime, error) {
	if s.rt != nil {
		return s.rt, nil
	}
	paths, err := s.resolvePaths()
	if err != nil {
		return nil, err
	}

	// Files never override variables that are already set.
	for _, envPath := range []string{".env", paths.EnvPath} {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %q: %w", envPath, err)
		}
	}

	configPath := strings.TrimSpace(s.opts.configPath)
	if configPath == "" {
		if envPath, ok := s.lookupEnv("YARD_CONFIG"); ok && strings.TrimSpace(envPath) != "" {
			configPath = strings.TrimSpace(envPath)
		} else {
			configPath = paths.ConfigPath
		}
	}
	dbPath := paths.DBPath
	if strings.TrimSpace(s.opts.dbPath) != "" {
		dbPath = strings.TrimSpace(s.opts.dbPath)
	}

	cfg, err := config.Load(configPath, config.Default(dbPath))
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", configPath, err)
	}
	if err := cfg.ApplyEnv(s.lookupEnv); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}
	if strings.TrimSpace(s.opts.dbPath) != "" {
		cfg.Database.Path = dbPath
	}
	if strings.TrimSpace(s.opts.driver) != "" {
		cfg.Database.Driver = config.DatabaseDriver(strings.ToLower(strings.TrimSpace(s.opts.driver)))
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validate config: %w", err)
		}
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	logger, err := newRuntimeLogger(s.stderr, s.opts.appName, s.opts.devMode, cfg.Logging, s.now)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	logger.SetConsoleEnabled(consoleLogs)
	rt := &appRuntime{
		paths:      paths,
		configPath: configPath,
		cfg:        cfg,
		loc:        loc,
		logger:     logger,
		closers:    []func() error{logger.Close},
	}

	logger.Info("startup configuration resolved", "app", s.opts.appName, "dev_mode", s.opts.devMode, "command", command)
	logger.Debug("runtime paths resolved", "config_path", configPath, "data_dir", paths.DataDir, "db_path", cfg.Database.Path)
	logger.Info("configuration loaded", "config_path", configPath, "driver", cfg.Database.Driver, "timezone", loc.String(), "log_level", cfg.Logging.Level)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Info("dev file logging enabled", "path", devPath)
	}

	repo, closeRepo, err := openRepository(ctx, cfg.Database, logger)
	if err != nil {
		_ = rt.close()
		return nil, err
	}
	rt.repo = repo
	rt.closers = append(rt.closers, closeRepo)

	rt.collector = metrics.NewCollector()
	rt.svc = app.NewService(repo, uuid.NewString, s.now, app.ServiceConfig{
		Location: loc,
		Logger:   logger,
		Metrics:  rt.collector,
	})
	logger.Debug("application service initialized", "timezone", loc.String())

	s.rt = rt
	return rt, nil
}

// Close releases the runtime in reverse open order.
func (s *cliState) Close() error {
	if s == nil || s.rt == nil {
		return nil
	}
	err := s.rt.close()
	s.rt = nil
	return err
}

func (rt *appRuntime) close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// runCommand opens the runtime and wraps fn with flow logs.
func (s *cliState) runCommand(cmd *cobra.Command, name string, fn func(context.Context, *appRuntime) error) error {
	// Keep board rendering clean: runtime logs stay in the dev-file sink while it is active.
	consoleLogs := name != "board"
	rt, err := s.open(cmd.Context(), name, consoleLogs)
	if err != nil {
		return err
	}
	rt.logger.Info("command flow start", "command", name)
	if err := fn(cmd.Context(), rt); err != nil {
		rt.logger.Error("command flow failed", "command", name, "err", err)
		return fmt.Errorf("run %s command: %w", name, err)
	}
	rt.logger.Info("command flow complete", "command", name)
	return nil
}

// openRepository opens the configured storage backend.
func openRepository(ctx context.Context, cfg config.DatabaseConfig, logger *runtimeLogger) (app.Repository, func() error, error) {
	switch cfg.Driver {
	case config.DriverJSONFile:
		logger.Info("opening json history store", "dir", cfg.Dir)
		store, err := jsonfile.Open(cfg.Dir)
		if err != nil {
			logger.Error("json history store open failed", "dir", cfg.Dir, "err", err)
			return nil, nil, fmt.Errorf("open json history store: %w", err)
		}
		logger.Info("json history store ready", "dir", store.Dir())
		return store, store.Close, nil
	case config.DriverPostgres:
		logger.Info("opening postgres repository")
		repo, err := postgres.Open(ctx, cfg.URL)
		if err != nil {
			logger.Error("postgres open failed", "err", err)
			return nil, nil, fmt.Errorf("open postgres repository: %w", err)
		}
		logger.Info("postgres repository ready", "migrations", "ensured")
		return repo, repo.Close, nil
	default:
		logger.Info("opening sqlite repository", "db_path", cfg.Path)
		repo, err := sqlite.Open(cfg.Path)
		if err != nil {
			logger.Error("sqlite open failed", "db_path", cfg.Path, "err", err)
			return nil, nil, fmt.Errorf("open sqlite repository: %w", err)
		}
		logger.Info("sqlite repository ready", "db_path", cfg.Path, "migrations", "ensured")
		return repo, repo.Close, nil
	}
}

// parseBoolEnv reads a boolean environment variable.
func parseBoolEnv(lookup func(string) (string, bool), name string) (bool, bool) {
	raw, ok := lookup(name)
	if !ok || strings.TrimSpace(raw) == "" {
		return false, false
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, false
	}
	return v, true
}

// writeFileOrStdout writes content to path, or to stdout when path is "-".
func writeFileOrStdout(stdout io.Writer, path string, content []byte) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(content)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return os.WriteFile(path, content, 0o644)
}
