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

// Package kvnotify delivers change notifications of an external key-value
// store to callbacks registered per key, including changes that arrived
// before the callback was registered.
//
// Construct a Service explicitly:
//
//	svc, err := kvnotify.New(ctx, store)
//	if err != nil {
//		return err
//	}
//	defer svc.Close()
//
//	svc.RegisterUpdateCallback("theme", func(reason kvstore.Reason) error {
//		return applyTheme(reason)
//	})
//
// or use the process-wide instance returned by Shared after installing a
// store factory with SetStoreFactory.
package kvnotify

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/innovationmech/kvnotify/pkg/bridge"
	"github.com/innovationmech/kvnotify/pkg/dispatch"
	"github.com/innovationmech/kvnotify/pkg/kvstore"
	"github.com/innovationmech/kvnotify/pkg/logger"
	"github.com/innovationmech/kvnotify/pkg/metrics"
)

// UpdateCallback handles a change of one key. Returning an error keeps the
// reason cached for the next registration of the key.
type UpdateCallback = dispatch.Callback

// Options configures a Service.
type Options struct {
	FlushPolicy    dispatch.FlushPolicy
	QueueSize      int
	Metrics        metrics.Collector
	Logger         *zap.Logger
	OnPanic        dispatch.PanicHandler
	TracerProvider trace.TracerProvider
}

// Option mutates Options.
type Option func(*Options)

// WithFlushPolicy selects what happens to reasons that fail while being replayed.
func WithFlushPolicy(p dispatch.FlushPolicy) Option {
	return func(o *Options) { o.FlushPolicy = p }
}

// WithQueueSize sets the capacity of the dispatcher queue.
func WithQueueSize(n int) Option {
	return func(o *Options) { o.QueueSize = n }
}

// WithMetrics sets the metrics collector shared by the dispatcher and the bridge.
func WithMetrics(m metrics.Collector) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithPanicHandler sets a handler for panics recovered from callbacks.
func WithPanicHandler(h dispatch.PanicHandler) Option {
	return func(o *Options) { o.OnPanic = h }
}

// WithTracerProvider sets the provider used for notification and callback
// spans. The global provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Options) { o.TracerProvider = tp }
}

// Service ties a dispatcher to one external store.
type Service struct {
	store  kvstore.Store
	core   *dispatch.Core
	bridge *bridge.Bridge
	log    *zap.Logger
}

// New builds a Service, subscribes to store and runs the initial
// synchronize. A store that cannot synchronize yields an error matching
// bridge.ErrSynchronizeUnsupported.
func New(ctx context.Context, store kvstore.Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("kvnotify: store must not be nil")
	}

	o := Options{FlushPolicy: dispatch.FlushDropFailures}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = logger.GetLogger()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NoopCollector{}
	}

	core := dispatch.NewCore(
		dispatch.WithFlushPolicy(o.FlushPolicy),
		dispatch.WithQueueSize(o.QueueSize),
		dispatch.WithMetrics(o.Metrics),
		dispatch.WithLogger(o.Logger),
		dispatch.WithPanicHandler(o.OnPanic),
		dispatch.WithTracerProvider(o.TracerProvider),
	)
	b := bridge.New(store, core,
		bridge.WithMetrics(o.Metrics),
		bridge.WithLogger(o.Logger),
		bridge.WithTracerProvider(o.TracerProvider))

	if err := b.Initialize(ctx); err != nil {
		_ = b.Close()
		_ = core.Close()
		return nil, err
	}

	o.Logger.Info("kvnotify service started",
		zap.String("store", store.Name()),
		zap.String("flush_policy", o.FlushPolicy.String()))

	return &Service{store: store, core: core, bridge: b, log: o.Logger}, nil
}

// RegisterUpdateCallback registers callback for key, replacing any earlier
// one, and replays the changes cached for key before returning.
func (s *Service) RegisterUpdateCallback(forKey string, callback UpdateCallback) {
	s.core.Register(forKey, callback)
}

// Synchronize asks the store to flush and pull changes.
func (s *Service) Synchronize(ctx context.Context) error {
	return s.bridge.Synchronize(ctx)
}

// Pending returns the reasons cached for key.
func (s *Service) Pending(key string) []kvstore.Reason {
	return s.core.Pending(key)
}

// PendingKeys returns the keys with cached reasons.
func (s *Service) PendingKeys() []string {
	return s.core.PendingKeys()
}

// Stats returns dispatcher statistics.
func (s *Service) Stats() dispatch.Stats {
	return s.core.Stats()
}

// Store returns the external store.
func (s *Service) Store() kvstore.Store {
	return s.store
}

// Close unsubscribes from the store and stops the dispatcher.
func (s *Service) Close() error {
	err := s.bridge.Close()
	if cerr := s.core.Close(); err == nil {
		err = cerr
	}
	s.log.Info("kvnotify service stopped", zap.String("store", s.store.Name()))
	return err
}
