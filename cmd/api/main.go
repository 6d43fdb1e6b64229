package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"authix.org/internal/auth"
	"authix.org/internal/config"
	"authix.org/internal/httpapi"
	"authix.org/internal/obs"
	"authix.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("AUTHIX_CONFIG"), "Path to YAML config (optional)")
	flag.Parse()

	log := obs.Logger()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	obs.SetLevel(cfg.Log.Level)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	store, err := pg.Open(cfg.Database.URL, pg.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer store.Close()

	tokens, err := auth.NewTokens(cfg.Tokens.AccessSecret, cfg.Tokens.RefreshSecret,
		auth.WithIssuer(cfg.Tokens.Issuer),
		auth.WithAccessTTL(cfg.Tokens.AccessTTL),
		auth.WithRefreshTTL(cfg.Tokens.RefreshTTL),
	)
	if err != nil {
		log.WithError(err).Fatal("token issuer")
	}
	authSvc, err := auth.NewService(store, tokens,
		auth.WithDefaultRole(cfg.Auth.DefaultRole),
		auth.WithRefreshRotation(cfg.Tokens.RotateRefresh),
	)
	if err != nil {
		log.WithError(err).Fatal("auth service")
	}
	rbacSvc, err := auth.NewRBACService(store)
	if err != nil {
		log.WithError(err).Fatal("rbac service")
	}

	proxies, err := httpapi.ParseTrustedProxies(cfg.HTTP.TrustedProxies)
	if err != nil {
		log.WithError(err).Fatal("trusted proxies")
	}

	opts := []httpapi.Option{
		httpapi.WithTrustedProxies(proxies),
		httpapi.WithCookie(httpapi.CookieSettings{
			Name:     cfg.Cookie.Name,
			Domain:   cfg.Cookie.Domain,
			Path:     cfg.Cookie.Path,
			SameSite: httpapi.ParseSameSite(cfg.Cookie.SameSite),
			Secure:   cfg.SecureCookies(),
		}),
		httpapi.WithCORSOrigins(cfg.HTTP.CORSOrigins),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
	}
	if cfg.HTTP.RateLimit.Enabled {
		opts = append(opts, httpapi.WithRateLimit(cfg.HTTP.RateLimit.RPS, cfg.HTTP.RateLimit.Burst))
	}
	api := httpapi.New(httpapi.ReadyProbe{DB: store}, version, authSvc, rbacSvc, opts...)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	log.WithFields(logrus.Fields{
		"version":        version,
		"addr":           srv.Addr,
		"env":            cfg.Env,
		"rotate_refresh": cfg.Tokens.RotateRefresh,
	}).Info("starting authix")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("shutdown")
	}
	log.Info("stopped")
}
