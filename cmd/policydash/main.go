// Command policydash is a terminal client for the policy analysis backend.
//
// Usage:
//
//	policydash [flags] <command> [args]
//
// Settings come from the environment (optionally a .env file); see
// internal/config. Run with -demo to talk to an in-process fake backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http/httptest"
	"os"
	"os/signal"
	"syscall"

	"github.com/Keksclan/policydash"
	"github.com/Keksclan/policydash/breaker"
	"github.com/Keksclan/policydash/cache"
	"github.com/Keksclan/policydash/internal/config"
	"github.com/Keksclan/policydash/internal/fakebackend"
	"github.com/Keksclan/policydash/session"
	"github.com/Keksclan/policydash/tracing"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	demoEmail    = "demo@example.com"
	demoPassword = "demo"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: policydash [flags] <command> [args]

commands:
  login -email E -password P   obtain an access token
  me                           show the current user
  documents                    list analysed documents
  analysis <id>                show one document's analysis
  dashboard [-refresh]         load analytics and tables
  analyze -file F | -url U     submit a document for analysis
  ask <id> <question>          ask a question about a document
  merge <id> <id>...           merge several analyses
  clear [filter]               drop cached responses
  stats                        show cache statistics
  ping                         check backend and cache reachability
  watch [-interval D]          refresh the dashboard periodically and serve metrics

flags:
`)
	flag.PrintDefaults()
}

func main() {
	envFile := flag.String("env", ".env", "dotenv file to load")
	demo := flag.Bool("demo", false, "run against an in-process fake backend")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *demo, flag.Arg(0), flag.Args()[1:]); err != nil {
		if policydash.IsSessionExpired(err) {
			logger.Error("session expired, run `policydash login` and export POLICYDASH_TOKEN")
		} else {
			logger.WithError(err).Errorf("%s failed", flag.Arg(0))
		}
		stop()
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger, demo bool, name string, args []string) error {
	cmd, ok := commands[name]
	if !ok {
		usage()
		return fmt.Errorf("unknown command %q", name)
	}

	if demo {
		stopDemo, err := startDemo(cfg, logger)
		if err != nil {
			return fmt.Errorf("demo backend: %w", err)
		}
		defer stopDemo()
	}

	store, closeStore, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	opts := append(policydash.DefaultOptions(),
		policydash.WithStore(store),
		policydash.WithSession(session.NewMemoryWithToken(cfg.Backend.Token)),
		policydash.WithLogger(logger),
		policydash.WithTimeout(cfg.Backend.Timeout),
		policydash.WithCircuitBreaker(breaker.DefaultConfig()),
	)
	if cfg.RateLimit.RPS > 0 {
		opts = append(opts, policydash.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}
	if cfg.Trace {
		tp, err := newTracerProvider()
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		defer func() { _ = tp.Shutdown(context.WithoutCancel(ctx)) }()
		opts = append(opts, policydash.WithTracing(tracing.TracingConfig{TracerProvider: tp}))
	}

	client, err := policydash.NewClient(cfg.Backend.BaseURL, opts...)
	if err != nil {
		return err
	}

	return cmd(ctx, &env{
		cfg:    cfg,
		client: client,
		store:  store,
		logger: logger,
		out:    os.Stdout,
	}, args)
}

// newStore builds the cache store selected by POLICYDASH_CACHE. The returned
// func releases it.
func newStore(cfg *config.Config) (cache.Store, func(), error) {
	switch cfg.Cache.Mode {
	case config.CacheBounded:
		b, err := cache.NewBounded(cfg.Cache.MaxEntries)
		if err != nil {
			return nil, nil, fmt.Errorf("bounded cache: %w", err)
		}
		return b, b.Close, nil
	case config.CacheRedis:
		r := cache.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Cache.Prefix)
		return cache.NewTiered(cache.NewMemory(), r), func() { _ = r.Close() }, nil
	case config.CacheMemory:
		return cache.NewMemory(), func() {}, nil
	}
	return nil, nil, errors.New("unknown cache mode " + cfg.Cache.Mode)
}

func newTracerProvider() (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithPrettyPrint(),
		stdouttrace.WithWriter(os.Stderr),
	)
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter)), nil
}

// startDemo serves a fake backend on a loopback port, points the config at
// it and logs in the demo account.
func startDemo(cfg *config.Config, logger *logrus.Logger) (func(), error) {
	backend := fakebackend.New(logger)
	if err := backend.AddUser(demoEmail, demoPassword, "Demo", "User"); err != nil {
		return nil, err
	}
	token, err := backend.IssueToken(demoEmail, fakebackend.TokenTTL)
	if err != nil {
		return nil, err
	}
	srv := httptest.NewServer(backend)
	cfg.Backend.BaseURL = srv.URL
	if cfg.Backend.Token == "" {
		cfg.Backend.Token = token
	}
	logger.WithField("url", srv.URL).Infof("demo backend running, account %s / %s", demoEmail, demoPassword)
	return srv.Close, nil
}
