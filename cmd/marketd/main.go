// marketd is a market data and news aggregation daemon: it polls REST and
// RSS sources, holds streaming exchange connections, persists normalized
// records to SQLite, and serves snapshots over HTTP and a unix socket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/marketdeck/marketd/internal/api/httpapi"
	"github.com/marketdeck/marketd/internal/api/unixapi"
	"github.com/marketdeck/marketd/internal/config"
	"github.com/marketdeck/marketd/internal/fetch"
	"github.com/marketdeck/marketd/internal/scheduler"
	"github.com/marketdeck/marketd/internal/store/sqlite"
)

const version = "0.1.0"

var (
	flagConfig string
	flagPort   int
	flagNoHTTP bool
	flagNoUnix bool
)

func main() {
	root := &cobra.Command{
		Use:     "marketd",
		Short:   "Market data and news aggregation daemon",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.Flags().StringVarP(&flagConfig, "config", "c", "", "path to config file")
	root.Flags().IntVarP(&flagPort, "port", "p", 0, "override HTTP API port")
	root.Flags().BoolVar(&flagNoHTTP, "no-http", false, "disable the HTTP API")
	root.Flags().BoolVar(&flagNoUnix, "no-unix", false, "disable the unix socket API")

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("Startup failed")
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	if flagPort > 0 {
		cfg.API.HTTPPort = flagPort
	}
	initLogging(cfg.General.LogLevel)

	log.Info().Str("version", version).
		Int("rest_sources", len(cfg.Sources.REST)).
		Int("rss_sources", len(cfg.Sources.RSS)).
		Int("stream_sources", len(cfg.Sources.WebSocket)).
		Msg("marketd starting")

	for _, p := range []string{cfg.General.DBPath, cfg.API.UnixSocket} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("create dir for %s: %w", p, err)
		}
	}

	st, err := sqlite.Open(cfg.General.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	client := fetch.NewClient(8, 10)
	sched := scheduler.New(&cfg, st, client)
	sched.Start()

	var httpSrv *httpapi.Server
	if !flagNoHTTP {
		httpSrv = httpapi.NewServer(cfg.API.HTTPPort, sched.Snapshot(), st, sched, version)
		if err := httpSrv.Start(); err != nil {
			log.Warn().Err(err).Msg("HTTP API unavailable")
			httpSrv = nil
		}
	}

	var unixSrv *unixapi.Server
	if !flagNoUnix {
		unixSrv = unixapi.NewServer(cfg.API.UnixSocket, sched.Snapshot(), st, sched)
		if err := unixSrv.Start(); err != nil {
			log.Warn().Err(err).Msg("Unix API unavailable")
			unixSrv = nil
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	if unixSrv != nil {
		unixSrv.Shutdown()
	}
	if httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		httpSrv.Shutdown(ctx)
		cancel()
	}
	sched.Stop()

	log.Info().Msg("marketd stopped")
	return nil
}

// loadConfig falls back to defaults when no usable file is present; a
// missing file is a warning, not a startup failure.
func loadConfig() config.Config {
	path := flagConfig
	if path == "" {
		path = config.ExpandTilde("~/.marketd/config.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Config not loaded, using defaults")
		return config.Defaults()
	}
	return cfg
}

func initLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
