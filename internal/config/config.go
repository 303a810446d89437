// Package config loads reactord's startup configuration: the two
// required positional CLI arguments from spec.md §6, plus optional
// environment overrides for the ambient knobs spec.md leaves external
// (worker count, queue capacity, idle timeout, metrics, logging).
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
)

// Config holds reactord's resolved startup configuration.
type Config struct {
	// Addr is "ip:port", built from the two required positional args.
	Addr string

	// DocumentRoot is the fixed root files are resolved under.
	// Default: "/var/www/html" (spec.md §4.3, §6).
	DocumentRoot string

	// WorkerCount is the number of worker goroutines in the pool.
	// Default: runtime.NumCPU().
	WorkerCount int

	// QueueCapacity is the bounded work queue's capacity.
	// Default: 4096, matching the reactor's maxEventsPerWake (spec.md §4.4).
	QueueCapacity int

	// IdleTimeout is how long a connection may sit idle before the
	// timer heap reaps it. Default: 15s (= 3 * TIMESLOT, spec.md §4.5).
	IdleTimeout time.Duration

	// TimerTick is the cadence of the periodic alarm that ticks the
	// timer heap. Default: 5s (spec.md §4.5).
	TimerTick time.Duration

	// MaxConnections bounds the fd table. Default: 100000 (spec.md §3).
	MaxConnections int

	// MetricsAddr, if non-empty, serves Prometheus metrics on this
	// address over an ordinary net/http listener outside the reactor's
	// epoll loop. Default: "" (disabled).
	MetricsAddr string

	// LogLevel is one of "debug", "info", "warn", "error".
	// Default: "info".
	LogLevel string

	// FileCacheCapacity bounds the number of mmap'd files kept resident
	// across requests. Default: 1024.
	FileCacheCapacity int
}

const (
	defaultDocumentRoot      = "/var/www/html"
	defaultQueueCapacity     = 4096
	defaultIdleTimeout       = 15 * time.Second
	defaultTimerTick         = 5 * time.Second
	defaultMaxConnections    = 100000
	defaultLogLevel          = "info"
	defaultFileCacheCapacity = 1024
)

// Usage is the exact usage string spec.md §6 specifies, including the
// program name.
func Usage(progName string) string {
	return fmt.Sprintf("usage: %s ip_address port_number", progName)
}

// ErrUsage is returned when fewer than two positional arguments are
// supplied; callers print Usage(args[0]) and exit non-zero.
var ErrUsage = errors.New("config: missing ip_address/port_number")

// Load resolves Config from CLI args (argv, including argv[0]) and the
// process environment. It returns ErrUsage if args names fewer than two
// positional arguments.
func Load(args []string) (*Config, error) {
	if len(args) < 3 {
		return nil, ErrUsage
	}

	ip, port := args[1], args[2]
	if _, err := strconv.Atoi(port); err != nil {
		return nil, fmt.Errorf("config: invalid port_number %q: %w", port, err)
	}

	cfg := &Config{
		Addr:              fmt.Sprintf("%s:%s", ip, port),
		DocumentRoot:      defaultDocumentRoot,
		WorkerCount:       runtime.NumCPU(),
		QueueCapacity:     defaultQueueCapacity,
		IdleTimeout:       defaultIdleTimeout,
		TimerTick:         defaultTimerTick,
		MaxConnections:    defaultMaxConnections,
		LogLevel:          defaultLogLevel,
		FileCacheCapacity: defaultFileCacheCapacity,
	}

	applyEnvOverrides(cfg)

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REACTORD_DOCROOT"); v != "" {
		cfg.DocumentRoot = v
	}
	if v := os.Getenv("REACTORD_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerCount = n
		}
	}
	if v := os.Getenv("REACTORD_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueCapacity = n
		}
	}
	if v := os.Getenv("REACTORD_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.IdleTimeout = d
		}
	}
	if v := os.Getenv("REACTORD_TIMER_TICK"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.TimerTick = d
		}
	}
	if v := os.Getenv("REACTORD_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConnections = n
		}
	}
	if v := os.Getenv("REACTORD_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("REACTORD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("REACTORD_FILE_CACHE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FileCacheCapacity = n
		}
	}
}
