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

// Package bridge adapts the change notifications of an external store into
// deliveries on a dispatch.Dispatcher.
package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/innovationmech/kvnotify/pkg/dispatch"
	"github.com/innovationmech/kvnotify/pkg/kvstore"
	"github.com/innovationmech/kvnotify/pkg/logger"
	"github.com/innovationmech/kvnotify/pkg/metrics"
)

const (
	tracerName           = "github.com/innovationmech/kvnotify/pkg/bridge"
	notificationSpanName = "kvnotify.notification"
)

// ContextDispatcher is implemented by dispatchers that parent their callback
// spans to the notification span.
type ContextDispatcher interface {
	DeliverBatchContext(ctx context.Context, keys []string, reason kvstore.Reason)
}

// Bridge subscribes to a store once and forwards every well-formed change
// notification to a dispatcher.
type Bridge struct {
	store      kvstore.Store
	dispatcher dispatch.Dispatcher
	metrics    metrics.Collector
	log        *zap.Logger
	tracer     trace.Tracer

	mu             sync.Mutex
	subscribed     bool
	subscriptionID string
	subscription   kvstore.Subscription
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(b *Bridge) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}

// WithTracerProvider sets the provider of the tracer that records one span
// per notification. The global provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(b *Bridge) {
		if tp != nil {
			b.tracer = tp.Tracer(tracerName)
		}
	}
}

// New creates a Bridge. It does not subscribe until Initialize is called.
func New(store kvstore.Store, dispatcher dispatch.Dispatcher, opts ...Option) *Bridge {
	b := &Bridge{
		store:      store,
		dispatcher: dispatcher,
		metrics:    metrics.NoopCollector{},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logger.GetLogger()
	}
	if b.tracer == nil {
		b.tracer = otel.Tracer(tracerName)
	}
	b.log = b.log.With(zap.String("component", "bridge"), zap.String("store", store.Name()))
	return b
}

// Initialize subscribes to the store on the first successful call and then
// asks the store to synchronize. Later calls only synchronize.
func (b *Bridge) Initialize(ctx context.Context) error {
	if err := b.subscribe(ctx); err != nil {
		return err
	}
	return b.Synchronize(ctx)
}

func (b *Bridge) subscribe(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribed {
		return nil
	}

	id := uuid.NewString()
	sub, err := b.store.Subscribe(ctx, b.OnExternalChange)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.store.Name(), err)
	}
	b.subscribed = true
	b.subscriptionID = id
	b.subscription = sub
	b.log.Info("subscribed to external changes", zap.String("subscription_id", id))
	return nil
}

// Synchronize asks the store to flush and pull changes. A store that cannot
// synchronize yields a *ConfigurationError; transient failures are logged
// and otherwise ignored.
func (b *Bridge) Synchronize(ctx context.Context) error {
	ok, err := b.store.Synchronize(ctx)
	if err != nil {
		b.metrics.IncrementCounter("bridge_synchronize_errors_total", nil)
		b.log.Warn("synchronize failed", zap.Error(err))
		return nil
	}
	if !ok {
		capability := "synchronize support"
		if d, isDescriber := b.store.(CapabilityDescriber); isDescriber {
			capability = d.RequiredCapability()
		}
		return &ConfigurationError{Store: b.store.Name(), Capability: capability}
	}
	return nil
}

// OnExternalChange handles one notification from the store. Malformed
// notifications are ignored.
func (b *Bridge) OnExternalChange(n kvstore.Notification) {
	ctx, span := b.tracer.Start(context.Background(), notificationSpanName,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("kvnotify.store", b.store.Name())))
	defer span.End()

	keys, reason, ok := kvstore.ParseNotification(n)
	if !ok {
		b.metrics.IncrementCounter("bridge_notifications_total", map[string]string{"status": "malformed"})
		span.SetStatus(codes.Error, "malformed notification")
		return
	}
	b.metrics.IncrementCounter("bridge_notifications_total", map[string]string{"status": "accepted"})
	span.SetAttributes(
		attribute.Int("kvnotify.keys", len(keys)),
		attribute.Int("kvnotify.reason", int(reason)),
	)

	if d, isContext := b.dispatcher.(ContextDispatcher); isContext {
		d.DeliverBatchContext(ctx, keys, reason)
		return
	}
	b.dispatcher.DeliverBatch(keys, reason)
}

// Subscribed reports whether the bridge holds a subscription.
func (b *Bridge) Subscribed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribed
}

// SubscriptionID returns the id assigned to the subscription, if any.
func (b *Bridge) SubscriptionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscriptionID
}

// Close cancels the store subscription. The bridge does not subscribe again.
func (b *Bridge) Close() error {
	b.mu.Lock()
	sub := b.subscription
	b.subscription = nil
	b.mu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}
