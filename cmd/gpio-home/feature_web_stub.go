//go:build no_web

package main

import (
	"log/slog"

	"gpio-go-home/internal/device"
	"gpio-go-home/internal/metrics"
)

type webStopper struct{}

func (w *webStopper) Stop() {}

func initWeb(_ *device.Device, _ *device.EventBus, _ *metrics.Metrics, _ *Config, _ *slog.Logger) *webStopper {
	return &webStopper{}
}
