package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/any-hub/xk6-cache/internal/cache"
	"github.com/any-hub/xk6-cache/internal/config"
	"github.com/any-hub/xk6-cache/internal/logging"
	"github.com/any-hub/xk6-cache/internal/server"
	"github.com/any-hub/xk6-cache/internal/server/routes"
	"github.com/any-hub/xk6-cache/internal/version"
)

func newServeCmd(opts *cliOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the cache file as a module mirror over HTTP",
		Long: `Serve vendored modules under /<scheme>/<host>/<path>.

In hybrid mode misses are fetched from upstream and recorded; the cache
file is saved when the server shuts down. Diagnostics are exposed under /-/cache.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.loadWithLogger()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.ListenPort = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "监听端口，覆盖 XK6_CACHE_LISTEN_PORT")
	return cmd
}

// serve 遵循“配置 → 缓存文件 → Resolver → Fiber server”顺序启动，ctx 结束后关闭服务并保存新增条目。
func serve(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	metrics := cache.NewMetrics()
	if err := metrics.Enable(cfg.EffectivePrefix()); err != nil {
		return err
	}
	store, err := openStore(cfg, metrics)
	if err != nil {
		return err
	}

	mode := cfg.CacheMode()
	fetcher := server.NewHTTPFetcher(server.NewUpstreamClient(cfg), logger, cfg.MaxContentSize)
	resolver, err := cache.NewResolver(cache.ResolverOptions{
		Store:   store,
		Fetcher: cache.FetcherForMode(mode, fetcher),
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:   logger,
		Resolver: resolver,
		Mode:     mode,
	})
	if err != nil {
		return err
	}
	routes.RegisterCacheRoutes(app, store, metrics, routes.CacheInfo{Mode: mode, CachePath: cfg.CachePath})

	fields := logging.BaseFields("startup", cfg.CachePath)
	fields["mode"] = string(mode)
	fields["entries"] = store.Size()
	fields["listen_port"] = cfg.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("module mirror starting")

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", cfg.ListenPort))
	}()

	var listenErr error
	select {
	case listenErr = <-errCh:
	case <-ctx.Done():
		if err := app.Shutdown(); err != nil {
			logger.WithError(err).Warn("shutdown_failed")
		}
		<-errCh
	}

	if store.Dirty() {
		if err := store.Save(cfg.CachePath); err != nil {
			return fmt.Errorf("保存缓存文件失败: %w", err)
		}
		saved := logging.BaseFields("cache_save", cfg.CachePath)
		saved["entries"] = store.Size()
		logger.WithFields(saved).Info("cache_saved")
	}
	return listenErr
}
