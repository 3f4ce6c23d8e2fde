// 程序入口：仅负责读取配置、初始化依赖并启动服务；路由注册在 internal/api
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"tz-api/internal/api"
	"tz-api/internal/config"
	"tz-api/internal/geo"
	"tz-api/internal/logger"
	"tz-api/internal/metrics"
	"tz-api/internal/migrate"
	"tz-api/internal/store"
	"tz-api/internal/utils"
	"tz-api/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L().Error("config_error", "err", err)
		os.Exit(1)
	}
	l := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	l.Info("starting", "commit", version.Commit)
	l.Debug("config_geoip", "path", cfg.GeoIPPath, "shared", cfg.GeoIPSharedHandle)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 默认每次请求重新打开数据集；共享句柄模式下通过 SIGHUP 重新加载
	var locator geo.Locator = geo.NewFileLocator(cfg.GeoIPPath)
	if cfg.GeoIPSharedHandle {
		shared, err := geo.NewSharedLocator(cfg.GeoIPPath)
		if err != nil {
			l.Error("geoip_open_error", "path", cfg.GeoIPPath, "err", err)
			os.Exit(1)
		}
		locator = shared
		go reloadOnHangup(ctx, shared)
	} else if _, err := os.Stat(cfg.GeoIPPath); err != nil {
		l.Warn("geoip_not_found", "path", cfg.GeoIPPath, "err", err)
	}

	h := &api.OffsetHandler{Locator: locator}
	if cfg.StatsEnable {
		st, err := openStats(ctx, cfg.Postgres)
		if err != nil {
			l.Error("stats_open_error", "err", err)
			os.Exit(1)
		}
		defer st.Close()
		h.Stats = st
	} else {
		l.Info("stats_disabled")
	}

	mux := http.NewServeMux()
	mux.Handle(api.OffsetPath, api.BuildRoutes(h))
	if cfg.MetricsPath != "" {
		mux.Handle(cfg.MetricsPath, metrics.Handler())
	}

	s := &http.Server{Addr: cfg.Addr, Handler: logger.AccessMiddleware(l)(mux)}
	errc := make(chan error, 1)
	go func() {
		if cfg.TLSEnable {
			if err := utils.EnsureSelfSignedCert(cfg.TLSCertPath, cfg.TLSKeyPath, "tz-api.local"); err != nil {
				errc <- err
				return
			}
			l.Info("listening_tls", "addr", cfg.Addr, "cert", cfg.TLSCertPath)
			errc <- s.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
			return
		}
		l.Info("listening", "addr", cfg.Addr)
		errc <- s.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("server_error", "err", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		l.Info("shutdown_begin")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := s.Shutdown(sctx); err != nil {
			l.Error("shutdown_error", "err", err)
		}
		h.WaitStats()
		l.Info("shutdown_done")
	}
}

// openStats：连接统计库并确保表结构
func openStats(ctx context.Context, pg config.Postgres) (*store.Store, error) {
	db, err := utils.OpenPostgres(pg)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate.EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	st := store.AttachDB(db)
	if t, err := st.GetTotals(ctx); err == nil {
		logger.L().Info("stats_ready", "total", t.Total, "today", t.Today)
	}
	return st, nil
}

func reloadOnHangup(ctx context.Context, s *geo.SharedLocator) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := s.Reload(); err != nil {
				logger.L().Error("geoip_reload_error", "err", err)
			}
		}
	}
}
