//go:build !no_web

package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"gpio-go-home/internal/device"
	"gpio-go-home/internal/metrics"
	"gpio-go-home/internal/web"
)

type webStopper struct {
	http   *http.Server
	server *web.Server
	logger *slog.Logger
}

func (w *webStopper) Stop() {
	if w.http == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.http.Shutdown(ctx); err != nil {
		w.logger.Error("http server shutdown", "err", err)
	}
	w.server.Stop()
}

func initWeb(dev *device.Device, bus *device.EventBus, met *metrics.Metrics, cfg *Config, logger *slog.Logger) *webStopper {
	if cfg.Web.Listen == "off" {
		return &webStopper{}
	}

	webOpts := []web.ServerOption{
		web.WithMetrics(met.Handler()),
		web.WithVersion(version),
	}
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webServer := web.NewServer(dev, bus, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()
	return &webStopper{http: httpServer, server: webServer, logger: logger}
}
