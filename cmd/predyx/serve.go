package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/predyx-ai/predyx/pkg/audit"
	"github.com/predyx-ai/predyx/pkg/backend"
	"github.com/predyx-ai/predyx/pkg/cache"
	"github.com/predyx-ai/predyx/pkg/cache/memory"
	redistier "github.com/predyx-ai/predyx/pkg/cache/redis"
	sqlitetier "github.com/predyx-ai/predyx/pkg/cache/sqlite"
	"github.com/predyx-ai/predyx/pkg/config"
	"github.com/predyx-ai/predyx/pkg/gateway"
	"github.com/predyx-ai/predyx/pkg/history"
	"github.com/predyx-ai/predyx/pkg/metrics"
	"github.com/predyx-ai/predyx/pkg/router"
	"github.com/predyx-ai/predyx/pkg/server"
	"github.com/predyx-ai/predyx/pkg/validate"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the prediction gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			m := metrics.New()

			var tiers []cache.Tier
			if cfg.Cache.L1.Enabled {
				tiers = append(tiers, memory.New(cfg.Cache.L1.Capacity, cfg.Cache.L1.TTL))
			}
			if cfg.Cache.L2.Enabled {
				tiers = append(tiers, redistier.New(cfg.Cache.L2.Config))
			}
			if cfg.Cache.L3.Enabled {
				dbPath := cfg.Cache.L3.DBPath
				if dbPath == "" {
					dbPath = cfg.DBPath
				}
				l3, err := sqlitetier.New(dbPath, cfg.Cache.L3.TTL)
				if err != nil {
					return fmt.Errorf("init l3 cache: %w", err)
				}
				tiers = append(tiers, l3)
			}
			tiered := cache.NewTiered(tiers, logger, m)
			defer func() { _ = tiered.Close() }()

			registry := backend.Registry{}
			for _, bc := range cfg.Backends {
				registry.Add(backend.NewHTTP(bc))
			}

			rt, err := router.New(cfg.Router, cfg.Backends, registry, logger, m)
			if err != nil {
				return fmt.Errorf("init router: %w", err)
			}

			hist, err := history.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("init history store: %w", err)
			}
			defer func() { _ = hist.Close() }()

			evaluator := validate.New(cfg.Validation, hist, logger, m)

			var auditor *audit.Recorder
			if cfg.Audit.Enabled {
				auditCfg := cfg.Audit
				if auditCfg.DBPath == "" {
					auditCfg.DBPath = cfg.DBPath
				}
				auditor, err = audit.New(auditCfg, logger)
				if err != nil {
					return fmt.Errorf("init audit recorder: %w", err)
				}
				defer func() { _ = auditor.Close() }()
			}

			var auditSink gateway.Auditor
			if auditor != nil {
				auditSink = auditor
			}
			gw := gateway.New(tiered, rt, evaluator, hist, auditSink, logger, m)

			srv := server.New(cfg.Listen, gw, tiered, rt, evaluator, m, logger)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("starting predyx gateway", zap.String("config", configPath))
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "predyx.yaml", "path to config file")
	return cmd
}
