// Command reactord serves static files over HTTP/1.1 GET using a
// single-reactor, multi-worker epoll event loop (spec.md §6).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/yourusername/reactord/internal/config"
	"github.com/yourusername/reactord/internal/filecache"
	"github.com/yourusername/reactord/internal/logging"
	"github.com/yourusername/reactord/internal/metrics"
	"github.com/yourusername/reactord/internal/reactor"
)

func main() {
	cfg, err := config.Load(os.Args)
	if err != nil {
		if errors.Is(err, config.ErrUsage) {
			fmt.Fprintln(os.Stderr, config.Usage(os.Args[0]))
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	var metricsSrv *metrics.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = metrics.NewServer(cfg.MetricsAddr, registry)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	cache := filecache.New(cfg.FileCacheCapacity)

	r := reactor.New(cfg, logger, m, cache)

	// The reactor's own self-pipe already turns SIGINT/SIGTERM into an
	// epoll-readable event (see internal/reactor/selfpipe.go); an
	// external context is only needed by callers embedding reactord as
	// a library, so a background context is correct here.
	if err := r.Run(context.Background()); err != nil {
		logger.Error("reactor exited with error", zap.Error(err))
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(context.Background())
		}
		os.Exit(1)
	}

	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(context.Background())
	}
}
