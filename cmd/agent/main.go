package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"peer-sync/pkg/agent"
	"peer-sync/pkg/config"
	"peer-sync/pkg/logs"
	"peer-sync/pkg/store"
	"peer-sync/pkg/version"
)

func main() {
	configFile := flag.String("config", "", "config file (default: ./config.yaml or PEERSYNC_CONFIG)")
	addr := flag.String("addr", "", "listen address (overrides agent.addr)")
	showVersion := flag.Bool("v", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		logs.Logger.Infof("agent version=%s", version.Build)
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logs.Logger.Fatalf("config load failed: %v", err)
	}
	if err := logs.Init(logs.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Component: "agent"}); err != nil {
		logs.Logger.Warnf("%v; using info", err)
	}
	if *addr != "" {
		cfg.Agent.Addr = *addr
	}

	var peers store.PeerStore
	switch cfg.Agent.DB {
	case "sqlite":
		db, err := agent.OpenPeerDB(cfg.Agent.DBPath)
		if err != nil {
			logs.Logger.Fatalf("peer db open failed: %v", err)
		}
		defer db.Close()
		peers = db
	default:
		peers = store.NewMemoryStore()
	}

	var stats agent.StatsSource
	if cfg.Agent.Interface != "" {
		stats = agent.DeviceStats{Interface: cfg.Agent.Interface}
	}
	if cfg.Agent.Secret == "" {
		logs.Logger.Warnf("agent.secret is empty; /peers is unauthenticated")
	}

	srv := &http.Server{
		Addr:              cfg.Agent.Addr,
		Handler:           agent.NewServer(peers, cfg.Agent.Secret, stats).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		logs.Logger.Infof("agent version=%s listening on %s db=%s iface=%q", version.Build, cfg.Agent.Addr, cfg.Agent.DB, cfg.Agent.Interface)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Logger.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logs.Logger.Errorf("shutdown: %v", err)
	}
	logs.Logger.Infof("agent stopped")
}
