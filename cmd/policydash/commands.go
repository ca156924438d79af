package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Keksclan/policydash"
	"github.com/Keksclan/policydash/cache"
	"github.com/Keksclan/policydash/internal/config"
	"github.com/Keksclan/policydash/ping"
	"github.com/Keksclan/policydash/retry"
	"github.com/Keksclan/policydash/server"
	"github.com/Keksclan/policydash/session"
	"github.com/sirupsen/logrus"
)

// env is what every command gets to work with.
type env struct {
	cfg    *config.Config
	client *policydash.Client
	store  cache.Store
	logger *logrus.Logger
	out    io.Writer
}

type command func(ctx context.Context, e *env, args []string) error

var commands = map[string]command{
	"login":     cmdLogin,
	"me":        cmdMe,
	"documents": cmdDocuments,
	"analysis":  cmdAnalysis,
	"dashboard": cmdDashboard,
	"analyze":   cmdAnalyze,
	"ask":       cmdAsk,
	"merge":     cmdMerge,
	"clear":     cmdClear,
	"stats":     cmdStats,
	"ping":      cmdPing,
	"watch":     cmdWatch,
}

func (e *env) print(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// load runs a read with retries on gateway errors. The retries only ever
// repeat a failed call; successful reads are cached by the client.
func load[T any](ctx context.Context, e *env, fn func(context.Context) (T, error)) (T, error) {
	cfg := retry.DefaultConfig()
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay.Round(time.Millisecond),
		}).Warn("retrying")
	}
	return retry.Do(ctx, cfg, fn)
}

func parseIDs(args []string) ([]int, error) {
	ids := make([]int, 0, len(args))
	for _, a := range args {
		id, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("invalid document id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func cmdLogin(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return errors.New("login: -email and -password are required")
	}

	tok, err := e.client.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	if exp, ok := session.ExpiresAt(tok.AccessToken); ok {
		e.logger.WithField("expires", exp.Format(time.RFC3339)).Info("logged in")
	}
	_, err = fmt.Fprintf(e.out, "export POLICYDASH_TOKEN=%s\n", tok.AccessToken)
	return err
}

// requireToken fails early when the configured token has already expired.
func requireToken(e *env) error {
	tok := e.client.Session().Token()
	if tok == "" {
		return policydash.ErrNoToken
	}
	if session.Expired(tok, time.Now()) {
		return policydash.ErrSessionExpired
	}
	return nil
}

func cmdMe(ctx context.Context, e *env, _ []string) error {
	if err := requireToken(e); err != nil {
		return err
	}
	u, err := load(ctx, e, e.client.CurrentUser)
	if err != nil {
		return err
	}
	return e.print(u)
}

func cmdDocuments(ctx context.Context, e *env, _ []string) error {
	if err := requireToken(e); err != nil {
		return err
	}
	docs, err := load(ctx, e, e.client.Documents)
	if err != nil {
		return err
	}
	return e.print(docs)
}

func cmdAnalysis(ctx context.Context, e *env, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: analysis <id>")
	}
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	if err := requireToken(e); err != nil {
		return err
	}
	a, err := load(ctx, e, func(ctx context.Context) (policydash.Analysis, error) {
		return e.client.Analysis(ctx, ids[0])
	})
	if err != nil {
		return err
	}
	return e.print(a)
}

func cmdDashboard(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("dashboard", flag.ContinueOnError)
	refresh := fs.Bool("refresh", false, "drop cached analytics first")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireToken(e); err != nil {
		return err
	}
	if *refresh {
		if err := e.client.ClearCache(ctx, policydash.DashboardFamily); err != nil {
			return err
		}
	}
	d, err := load(ctx, e, e.client.LoadDashboard)
	if err != nil {
		return err
	}
	return e.print(d)
}

func cmdAnalyze(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	path := fs.String("file", "", "document to upload")
	url := fs.String("url", "", "document URL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	in := policydash.AnalyzeInput{URL: *url}
	if *path != "" {
		f, err := os.Open(*path)
		if err != nil {
			return err
		}
		defer f.Close()
		in.FileName = filepath.Base(*path)
		in.File = f
	}

	a, err := e.client.AnalyzeDocument(ctx, in)
	if err != nil {
		return err
	}
	return e.print(a)
}

func cmdAsk(ctx context.Context, e *env, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: ask <id> <question>")
	}
	ids, err := parseIDs(args[:1])
	if err != nil {
		return err
	}
	ans, err := e.client.AskQuestion(ctx, ids[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	return e.print(ans)
}

func cmdMerge(ctx context.Context, e *env, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: merge <id> <id>...")
	}
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	m, err := e.client.MergeAnalysis(ctx, ids)
	if err != nil {
		return err
	}
	return e.print(m)
}

func cmdClear(ctx context.Context, e *env, args []string) error {
	filter := strings.Join(args, " ")
	if err := e.client.ClearCache(ctx, filter); err != nil {
		return err
	}
	e.logger.WithField("filter", filter).Info("cache cleared")
	return nil
}

func cmdStats(ctx context.Context, e *env, _ []string) error {
	st, err := e.client.CacheStats(ctx)
	if err != nil {
		return err
	}
	return e.print(st)
}

func cmdPing(ctx context.Context, e *env, _ []string) error {
	targets := []ping.Target{{Name: "backend", Pinger: e.client}}
	if e.cfg.Cache.Mode == config.CacheRedis {
		r := cache.NewRedis(e.cfg.Redis.Addr, e.cfg.Redis.Password, e.cfg.Redis.DB, e.cfg.Cache.Prefix)
		defer r.Close()
		targets = append(targets, ping.Target{Name: "redis", Pinger: r})
	}

	results := ping.Run(ctx, 5*time.Second, targets...)
	for _, r := range results {
		entry := e.logger.WithFields(logrus.Fields{"target": r.Name, "latency": r.Latency.Round(time.Millisecond)})
		if r.OK() {
			entry.Info("reachable")
		} else {
			entry.WithError(r.Err).Warn("unreachable")
		}
	}
	if !ping.Healthy(results) {
		return errors.New("one or more targets unreachable")
	}
	return nil
}

func cmdWatch(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	interval := fs.Duration("interval", time.Minute, "refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *interval <= 0 {
		return errors.New("watch: -interval must be positive")
	}
	if err := requireToken(e); err != nil {
		return err
	}

	srv := server.New(e.cfg.Metrics.Addr,
		server.WithHandler("/metrics", e.client.MetricsHandler()),
		server.WithLogger(e.logger),
	)
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(ctx) }()

	refresh := func() error {
		a, err := load(ctx, e, e.client.RefreshDashboard)
		if err != nil {
			return err
		}
		st, _ := e.client.CacheStats(ctx)
		e.logger.WithFields(logrus.Fields{
			"topics":  len(a.Topics),
			"sectors": len(a.Sectors),
			"cached":  st.Size,
		}).Info("dashboard refreshed")
		return nil
	}
	if err := refresh(); err != nil {
		return err
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return <-errc
		case err := <-errc:
			return err
		case <-ticker.C:
			if err := refresh(); err != nil {
				if policydash.IsSessionExpired(err) {
					return err
				}
				e.logger.WithError(err).Warn("refresh failed")
			}
		}
	}
}
