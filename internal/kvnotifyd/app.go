// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package kvnotifyd

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/innovationmech/kvnotify/internal/kvnotifyd/server"
	"github.com/innovationmech/kvnotify/pkg/discovery"
	"github.com/innovationmech/kvnotify/pkg/kvnotify"
	"github.com/innovationmech/kvnotify/pkg/logger"
	"github.com/innovationmech/kvnotify/pkg/metrics"
	"github.com/innovationmech/kvnotify/pkg/tracing"
)

// ServiceOptions maps cfg onto kvnotify options. collector, reporter and
// tracer may be nil.
func ServiceOptions(cfg *Config, collector metrics.Collector, reporter *Reporter, tracer *tracing.Provider) []kvnotify.Option {
	opts := []kvnotify.Option{
		kvnotify.WithFlushPolicy(cfg.FlushPolicy()),
		kvnotify.WithQueueSize(cfg.Dispatch.QueueSize),
		kvnotify.WithLogger(logger.GetLogger()),
		kvnotify.WithPanicHandler(reporter.PanicHandler()),
		kvnotify.WithTracerProvider(tracer.TracerProvider()),
	}
	if collector != nil {
		opts = append(opts, kvnotify.WithMetrics(collector))
	}
	return opts
}

// Deps are the collaborators of an App. Only Service is required.
type Deps struct {
	Service   *kvnotify.Service
	Collector *metrics.PrometheusCollector
	Reporter  *Reporter
	Registrar *discovery.Registrar
	Tracing   *tracing.Provider
	Out       io.Writer
}

// App prints the changes of the watched keys and serves the status
// endpoints until its context ends.
type App struct {
	config    *Config
	service   *kvnotify.Service
	reporter  *Reporter
	registrar *discovery.Registrar
	tracing   *tracing.Provider
	printer   *Printer
	status    *server.Server
}

// NewApp wires an App around a running service.
func NewApp(cfg *Config, deps Deps) *App {
	out := deps.Out
	if out == nil {
		out = io.Discard
	}
	a := &App{
		config:    cfg,
		service:   deps.Service,
		reporter:  deps.Reporter,
		registrar: deps.Registrar,
		tracing:   deps.Tracing,
		printer:   NewPrinter(out, cfg.Watch.Color),
	}
	if cfg.HTTP.Enabled {
		var metricsHandler http.Handler
		if deps.Collector != nil {
			metricsHandler = deps.Collector.Handler()
		}
		statusConfig := server.DefaultConfig()
		statusConfig.Address = cfg.HTTP.Address
		statusConfig.CORSOrigins = cfg.HTTP.CORSOrigins
		statusConfig.StoreName = deps.Service.Store().Name()
		statusConfig.TracerProvider = deps.Tracing.TracerProvider()
		a.status = server.New(statusConfig, deps.Service, metricsHandler)
	}
	return a
}

// StatusAddr returns the status server address, or "" when it is disabled.
func (a *App) StatusAddr() string {
	if a.status == nil {
		return ""
	}
	return a.status.Addr()
}

// Run registers the watch callbacks and blocks until ctx is done. The
// service and its store are closed on return.
func (a *App) Run(ctx context.Context) error {
	log := logger.GetLogger()

	for _, key := range a.config.Watch.Keys {
		a.service.RegisterUpdateCallback(key, a.printer.Callback(key))
	}
	log.Info("watching keys",
		zap.Strings("keys", a.config.Watch.Keys),
		zap.String("store", a.service.Store().Name()))

	if a.status != nil {
		if err := a.status.Start(); err != nil {
			a.shutdown()
			return err
		}
		a.register()
	}

	var tick <-chan time.Time
	if a.config.Watch.SyncInterval > 0 {
		ticker := time.NewTicker(a.config.Watch.SyncInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received, stopping")
			return a.shutdown()
		case <-tick:
			if err := a.service.Synchronize(ctx); err != nil {
				log.Error("periodic synchronize failed", zap.Error(err))
				a.reporter.CaptureError("synchronize", err)
			}
		}
	}
}

// register announces the status server. A failure is reported but does
// not stop the dispatcher.
func (a *App) register() {
	if a.registrar == nil {
		return
	}
	log := logger.GetLogger()
	_, portStr, err := net.SplitHostPort(a.status.Addr())
	if err == nil {
		var port int
		port, err = strconv.Atoi(portStr)
		if err == nil {
			err = a.registrar.Register(port, server.HealthPath)
		}
	}
	if err != nil {
		log.Warn("service registration failed", zap.Error(err))
		a.reporter.CaptureError("register", err)
		return
	}
	log.Info("registered status endpoint", zap.String("id", a.registrar.Registered()))
}

func (a *App) shutdown() error {
	log := logger.GetLogger()
	if a.registrar != nil {
		if err := a.registrar.Deregister(); err != nil {
			log.Warn("service deregistration failed", zap.Error(err))
		}
	}
	if a.status != nil {
		if err := a.status.Stop(context.Background()); err != nil {
			log.Warn("status server shutdown failed", zap.Error(err))
		}
	}
	err := a.service.Close()
	if cerr := CloseStore(a.service.Store()); cerr != nil && err == nil {
		err = cerr
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if terr := a.tracing.Shutdown(ctx); terr != nil {
		log.Warn("tracer shutdown failed", zap.Error(terr))
	}
	a.reporter.Flush(2 * time.Second)
	return err
}
