// Command pgwire-cli is a small demonstration client for the pgwire
// library: it can run a single query against a server and print the
// result, or run as a background liveness monitor over a set of
// configured profiles.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeelkantaria/pgwire"
	"github.com/jeelkantaria/pgwire/internal/config"
	"github.com/jeelkantaria/pgwire/internal/debugapi"
	"github.com/jeelkantaria/pgwire/internal/metrics"
	"github.com/jeelkantaria/pgwire/internal/monitor"
	"github.com/jeelkantaria/pgwire/internal/profile"
)

func main() {
	configPath := flag.String("config", "", "path to a profiles config file; enables -monitor and -profile")
	profileName := flag.String("profile", "", "profile name to query (requires -config)")
	host := flag.String("host", envOr("PGHOST", "localhost"), "server host (ignored with -config)")
	port := flag.Int("port", envOrInt("PGPORT", 5432), "server port (ignored with -config)")
	user := flag.String("user", envOr("PGUSER", ""), "username (ignored with -config)")
	password := flag.String("password", os.Getenv("PGPASSWORD"), "password (ignored with -config)")
	database := flag.String("dbname", envOr("PGDATABASE", ""), "database name (ignored with -config)")
	query := flag.String("query", "SELECT 1", "SQL to run")
	timeout := flag.Duration("timeout", 10*time.Second, "connect and query timeout")
	monitorMode := flag.Bool("monitor", false, "run as a background liveness monitor (requires -config)")
	apiPort := flag.Int("api-port", 9090, "debug HTTP port when -monitor is set")
	flag.Parse()

	if *monitorMode {
		if *configPath == "" {
			fmt.Fprintln(os.Stderr, "-monitor requires -config")
			os.Exit(2)
		}
		runMonitor(*configPath, *apiPort)
		return
	}

	var cc pgwire.Config
	if *configPath != "" {
		if *profileName == "" {
			fmt.Fprintln(os.Stderr, "-config requires -profile")
			os.Exit(2)
		}
		cfg, err := config.Load(*configPath)
		if err != nil {
			slog.Error("loading config", "error", err)
			os.Exit(1)
		}
		r := profile.New(cfg)
		cc, err = r.ConnConfig(*profileName)
		if err != nil {
			slog.Error("resolving profile", "profile", *profileName, "error", err)
			os.Exit(1)
		}
	} else {
		cc = pgwire.Config{
			Host:           *host,
			Port:           *port,
			User:           *user,
			Password:       *password,
			Database:       *database,
			ConnectTimeout: *timeout,
		}
	}

	connectCtx, cancelConnect := pgwire.WithTimeout(context.Background(), *timeout)
	defer cancelConnect()

	conn, err := pgwire.Open(connectCtx, cc)
	if err != nil {
		slog.Error("connecting", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	queryCtx, cancelQuery := pgwire.WithTimeout(context.Background(), *timeout)
	defer cancelQuery()

	result, err := conn.Query(queryCtx, *query)
	if err != nil {
		slog.Error("query failed", "error", err)
		os.Exit(1)
	}

	printResult(result)
}

func runMonitor(configPath string, apiPort int) {
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	resolver := profile.New(cfg)
	resolver.SetMetrics(m)

	mon := monitor.New(resolver, m, monitor.Config{})
	mon.Start()

	debugServer := debugapi.NewServer(resolver, mon, promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	if err := debugServer.Start(apiPort); err != nil {
		slog.Error("starting debug api", "error", err)
		os.Exit(1)
	}

	watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		resolver.Reload(newCfg)
	})
	if err != nil {
		slog.Warn("config hot-reload not available", "error", err)
	}

	slog.Info("pgwire-cli monitor ready", "profiles", len(cfg.Profiles), "api_port", apiPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig.String())

	if watcher != nil {
		watcher.Stop()
	}
	debugServer.Stop()
	mon.Stop()
}

func printResult(r *pgwire.Result) {
	type row map[string]string

	rows := make([]row, 0, len(r.Rows))
	for _, values := range r.Rows {
		rr := make(row, len(r.Fields))
		for i, f := range values {
			if i >= len(r.Fields) {
				break
			}
			if f.Null {
				rr[r.Fields[i].Name] = "<null>"
				continue
			}
			rr[r.Fields[i].Name] = string(f.Bytes)
		}
		rows = append(rows, rr)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(map[string]interface{}{
		"command_tag": r.CommandTag,
		"rows":        rows,
	})
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
