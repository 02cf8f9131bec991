package main

import (
	"context"
	"fmt"

	"github.com/markumedium/loading-server/internal/adapters/alertstate/redisset"
	"github.com/markumedium/loading-server/internal/adapters/notify"
	serveradapter "github.com/markumedium/loading-server/internal/adapters/server"
	"github.com/markumedium/loading-server/internal/adapters/server/common"
	"github.com/markumedium/loading-server/internal/app"
	"github.com/markumedium/loading-server/internal/config"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// serveOptions holds serve flag overrides.
type serveOptions struct {
	httpBind    string
	apiEndpoint string
	mcpEndpoint string
	noScheduler bool
}

// newServeCommand runs the HTTP, MCP and metrics endpoints plus background jobs.
func newServeCommand(state *cliState) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and MCP tools and run scheduled jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return state.runCommand(cmd, "serve", func(ctx context.Context, rt *appRuntime) error {
				return state.runServe(ctx, rt, opts)
			})
		},
	}
	cmd.Flags().StringVar(&opts.httpBind, "http", "", "HTTP listen address (overrides server.http_bind)")
	cmd.Flags().StringVar(&opts.apiEndpoint, "api-endpoint", "", "HTTP API base endpoint")
	cmd.Flags().StringVar(&opts.mcpEndpoint, "mcp-endpoint", "", "MCP streamable HTTP endpoint")
	cmd.Flags().BoolVar(&opts.noScheduler, "no-scheduler", false, "disable alert scans, nightly rollover and daily reports")
	return cmd
}

// runServe wires notifiers and jobs, then blocks until ctx ends or the server stops.
func (s *cliState) runServe(ctx context.Context, rt *appRuntime, opts serveOptions) error {
	cfg := rt.cfg
	serverCfg := serveradapter.Config{
		HTTPBind:        firstNonEmpty(opts.httpBind, cfg.Server.HTTPBind),
		APIEndpoint:     firstNonEmpty(opts.apiEndpoint, cfg.Server.APIEndpoint),
		MCPEndpoint:     firstNonEmpty(opts.mcpEndpoint, cfg.Server.MCPEndpoint),
		MetricsEndpoint: cfg.Server.MetricsEndpoint,
		ServerName:      s.opts.appName,
		ServerVersion:   version,
	}
	deps := serveradapter.Dependencies{
		Yard:    common.NewAppServiceAdapter(rt.svc, cfg.Rollover.Secret),
		Metrics: rt.collector.Handler(),
	}
	if checker, ok := rt.repo.(common.ReadinessChecker); ok {
		deps.Readiness = checker
	}
	if cfg.Rollover.Secret == "" {
		rt.logger.Info("remote rollover disabled", "reason", "no secret configured")
	}

	var scheduler *app.Scheduler
	if !opts.noScheduler {
		built, err := s.buildScheduler(ctx, rt)
		if err != nil {
			return err
		}
		scheduler = built
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		// The scheduler stops when the server does.
		defer cancel()
		rt.logger.Info("serving", "http", serverCfg.HTTPBind, "api", serverCfg.APIEndpoint, "mcp", serverCfg.MCPEndpoint)
		return serveCommandRunner(gctx, serverCfg, deps)
	})
	if scheduler != nil {
		g.Go(func() error {
			return scheduler.Run(gctx)
		})
	}
	return g.Wait()
}

// buildScheduler assembles the enabled background jobs.
func (s *cliState) buildScheduler(ctx context.Context, rt *appRuntime) (*app.Scheduler, error) {
	cfg := rt.cfg
	notifier, err := buildNotifier(cfg.Notify, rt.logger)
	if err != nil {
		return nil, err
	}

	var jobs []app.Job
	if cfg.Alerts.Enabled {
		notified, err := openNotifiedSet(ctx, cfg.Alerts, rt)
		if err != nil {
			return nil, err
		}
		monitor := app.NewAlertMonitor(rt.svc, notifier, notified, app.AlertMonitorConfig{
			Threshold: cfg.Alerts.LoadingThreshold.Std(),
			Logger:    rt.logger,
			Metrics:   rt.collector,
		})
		jobs = append(jobs, app.AlertScanJob(monitor, cfg.Alerts.ScanInterval.Std()))
		rt.logger.Info("alert scan scheduled", "threshold", monitor.Threshold(), "every", cfg.Alerts.ScanInterval.Std(), "store", cfg.Alerts.Store)
	}
	if cfg.Rollover.Enabled {
		at, err := app.ParseClockTime(cfg.Rollover.At)
		if err != nil {
			return nil, fmt.Errorf("rollover.at: %w", err)
		}
		jobs = append(jobs, app.NightlyRolloverJob(rt.svc, at))
		rt.logger.Info("nightly rollover scheduled", "at", at.String(), "mode", app.RolloverCascade)
	}
	if cfg.Report.DailyEnabled {
		at, err := app.ParseClockTime(cfg.Report.DailyAt)
		if err != nil {
			return nil, fmt.Errorf("report.daily_at: %w", err)
		}
		jobs = append(jobs, app.DailyReportJob(app.NewReportDispatcher(rt.svc, notifier), at))
		rt.logger.Info("daily report scheduled", "at", at.String())
	}
	return app.NewScheduler(s.now, rt.logger, jobs...), nil
}

// buildNotifier always logs and optionally posts to a webhook.
func buildNotifier(cfg config.NotifyConfig, logger app.Logger) (app.Notifier, error) {
	fanout := notify.Fanout{notify.NewLogNotifier(logger)}
	if cfg.WebhookURL != "" {
		webhook, err := notify.NewWebhookNotifier(cfg.WebhookURL, nil)
		if err != nil {
			return nil, fmt.Errorf("configure webhook notifier: %w", err)
		}
		fanout = append(fanout, webhook)
	}
	return fanout, nil
}

// openNotifiedSet returns the configured alert dedup store.
func openNotifiedSet(ctx context.Context, cfg config.AlertsConfig, rt *appRuntime) (app.NotifiedSet, error) {
	if cfg.Store != config.AlertStoreRedis {
		return app.NewMemoryNotifiedSet(), nil
	}
	set, err := redisset.Dial(ctx, cfg.RedisAddr, cfg.RedisKey)
	if err != nil {
		return nil, fmt.Errorf("open redis alert store: %w", err)
	}
	rt.closers = append(rt.closers, set.Close)
	rt.logger.Info("redis alert store ready", "addr", cfg.RedisAddr, "key", cfg.RedisKey)
	return set, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
