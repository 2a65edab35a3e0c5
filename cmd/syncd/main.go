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

	"peer-sync/pkg/api"
	"peer-sync/pkg/auth"
	"peer-sync/pkg/cloud"
	"peer-sync/pkg/config"
	"peer-sync/pkg/db"
	"peer-sync/pkg/kv"
	"peer-sync/pkg/localclient"
	"peer-sync/pkg/logs"
	"peer-sync/pkg/model"
	"peer-sync/pkg/syncer"
	"peer-sync/pkg/version"
)

func main() {
	configFile := flag.String("config", "", "config file (default: ./config.yaml or PEERSYNC_CONFIG)")
	addr := flag.String("addr", "", "listen address (overrides server.addr)")
	showVersion := flag.Bool("v", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		logs.Logger.Infof("syncd version=%s", version.Build)
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logs.Logger.Fatalf("config load failed: %v", err)
	}
	if err := logs.Init(logs.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Component: "syncd"}); err != nil {
		logs.Logger.Warnf("%v; using info", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	gdb, err := db.Open(cfg.Cloud.Driver, cfg.Cloud.DSN)
	if err != nil {
		logs.Logger.Fatalf("cloud db open failed: %v", err)
	}
	cloudStore, err := cloud.New(gdb)
	if err != nil {
		logs.Logger.Fatalf("cloud store init failed: %v", err)
	}

	timeout, err := time.ParseDuration(cfg.Local.Timeout)
	if err != nil {
		logs.Logger.Fatalf("local.timeout: %v", err)
	}
	local := localclient.New(cfg.Local.BaseURL, cfg.Local.Secret, timeout)
	if cfg.Local.TLSCA != "" {
		hc, err := localclient.HTTPClientWithCA(cfg.Local.TLSCA, timeout)
		if err != nil {
			logs.Logger.Fatalf("local.tls_ca: %v", err)
		}
		local.WithHTTPClient(hc)
	}
	if !local.Configured() {
		logs.Logger.Warnf("local.base_url is empty; every pass will fail until it is set")
	}

	state, err := kv.Open(cfg.State.Backend, cfg.State.Path, cfg.State.ConsulAddr)
	if err != nil {
		logs.Logger.Fatalf("state store open failed: %v", err)
	}
	if c, ok := state.(interface{ Close() error }); ok {
		defer c.Close()
	}

	initial, err := cfg.SyncConfig()
	if err != nil {
		logs.Logger.Fatalf("sync config: %v", err)
	}
	settings := syncer.NewSettings(state, initial)
	engine := syncer.New(cloudStore, local, syncer.NewStatusStore(state), settings)
	defer engine.Close()

	if sc, err := settings.SyncConfig(); err != nil {
		logs.Logger.Errorf("persisted sync config unreadable, auto-sync left off: %v", err)
	} else {
		engine.StartAutoSync(sc)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// With a shared consul state store another replica may edit the config.
	if w, ok := state.(interface {
		Watch(context.Context, string, func([]byte)) error
	}); ok {
		go func() {
			err := w.Watch(ctx, syncer.ConfigKey, func(b []byte) {
				sc, err := model.DecodeSyncConfig(b)
				if err != nil {
					logs.Logger.Errorf("watched sync config invalid: %v", err)
					return
				}
				logs.Logger.Infof("sync config changed in state store; reinstalling auto-sync")
				engine.StartAutoSync(sc)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logs.Logger.Errorf("sync config watch stopped: %v", err)
			}
		}()
	}

	issuer := auth.NewIssuer(cfg.Server.JWTSecret, 24*time.Hour)
	if issuer.Insecure() {
		logs.Logger.Warnf("server.jwt_secret is empty; using the development secret")
	}
	apiSrv := api.NewServer(api.Deps{
		Engine:   engine,
		Settings: settings,
		Local:    local,
		DB:       gdb,
		Issuer:   issuer,
		Token:    cfg.Server.Token,
	})
	defer apiSrv.Close()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           apiSrv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if cfg.Server.TLSCert != "" {
		tlsCfg, err := api.ServerTLSConfig(cfg.Server.TLSCert, cfg.Server.TLSKey, cfg.Server.ClientCA)
		if err != nil {
			logs.Logger.Fatalf("failed to build TLS config: %v", err)
		}
		srv.TLSConfig = tlsCfg
	}

	go func() {
		logs.Logger.Infof("syncd version=%s listening on %s cloud=%s state=%s tls=%v",
			version.Build, cfg.Server.Addr, cfg.Cloud.Driver, cfg.State.Backend, srv.TLSConfig != nil)
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Logger.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	logs.Logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logs.Logger.Errorf("shutdown: %v", err)
	}
}
