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

package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/innovationmech/kvnotify/pkg/kvstore"
	"github.com/innovationmech/kvnotify/pkg/logger"
	"github.com/innovationmech/kvnotify/pkg/metrics"
)

var (
	// ErrCallbackPanic wraps the value recovered from a panicking callback.
	ErrCallbackPanic = errors.New("dispatch: callback panicked")
	// ErrClosed is reported for operations that arrive after Close.
	ErrClosed = errors.New("dispatch: core is closed")
	// ErrReentrantCall is reported when a callback calls into the Core
	// that is running it.
	ErrReentrantCall = errors.New("dispatch: call from inside a callback")
)

const (
	tracerName       = "github.com/innovationmech/kvnotify/pkg/dispatch"
	callbackSpanName = "kvnotify.callback"
)

// Callback handles a change of one key. A non-nil error marks the reason
// as not handled.
type Callback func(reason kvstore.Reason) error

// Dispatcher routes change reasons to per-key callbacks.
type Dispatcher interface {
	// Register stores cb for key, replacing any previous callback, and
	// replays the reasons cached for key before returning.
	Register(key string, cb Callback)
	// Deliver hands reason to the callback of key, or caches it.
	Deliver(key string, reason kvstore.Reason)
	// DeliverBatch delivers the same reason to every key in one turn.
	DeliverBatch(keys []string, reason kvstore.Reason)
}

// Stats is a snapshot of the Core state and counters.
type Stats struct {
	Callbacks      int    `json:"callbacks"`
	PendingKeys    int    `json:"pending_keys"`
	PendingReasons int    `json:"pending_reasons"`
	Delivered      uint64 `json:"delivered"`
	Failed         uint64 `json:"failed"`
	Cached         uint64 `json:"cached"`
	Dropped        uint64 `json:"dropped"`
}

// Core is the Dispatcher implementation. The callback and pending maps are
// only touched by the worker goroutine. Callbacks run on that goroutine; a
// callback that calls back into the same Core is logged and ignored.
type Core struct {
	policy    FlushPolicy
	queueSize int
	metrics   metrics.Collector
	log       *zap.Logger
	tracer    trace.Tracer
	onPanic   PanicHandler

	ops       chan func()
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	workerID atomic.Uint64
	invoking atomic.Bool

	callbacks map[string]Callback
	pending   map[string][]kvstore.Reason
	stats     Stats
}

var _ Dispatcher = (*Core)(nil)

// NewCore creates a Core and starts its worker.
func NewCore(opts ...Option) *Core {
	c := &Core{
		policy:    FlushDropFailures,
		queueSize: defaultQueueSize,
		metrics:   metrics.NoopCollector{},
		callbacks: make(map[string]Callback),
		pending:   make(map[string][]kvstore.Reason),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.GetLogger()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	c.log = c.log.With(zap.String("component", "dispatch"))
	c.ops = make(chan func(), c.queueSize)

	go c.loop()
	return c
}

func (c *Core) loop() {
	defer close(c.stopped)
	c.workerID.Store(goroutineID())
	for {
		select {
		case op := <-c.ops:
			op()
		case <-c.quit:
			// Run whatever was accepted before Close.
			for {
				select {
				case op := <-c.ops:
					op()
				default:
					return
				}
			}
		}
	}
}

// goroutineID reads the id from the "goroutine N [" header of the current
// stack.
func goroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}

// reentrant reports whether the caller is a callback running on the worker.
func (c *Core) reentrant() bool {
	return c.invoking.Load() && goroutineID() == c.workerID.Load()
}

// do runs fn on the worker and waits for it. It fails with ErrClosed when
// the Core was closed before fn could run and with ErrReentrantCall when
// called from a callback.
func (c *Core) do(fn func()) error {
	if c.reentrant() {
		c.log.Error("callback called back into the dispatcher; call ignored",
			zap.Error(ErrReentrantCall),
			zap.Stack("stack"))
		return ErrReentrantCall
	}

	done := make(chan struct{})
	op := func() {
		defer close(done)
		fn()
	}

	select {
	case <-c.quit:
		return ErrClosed
	default:
	}

	select {
	case c.ops <- op:
	case <-c.quit:
		return ErrClosed
	}

	select {
	case <-done:
		return nil
	case <-c.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrClosed
		}
	}
}

// Close stops the worker after it has run every operation already queued.
// Later operations are ignored. Calling Close from a callback returns
// ErrReentrantCall and leaves the Core running.
func (c *Core) Close() error {
	if c.reentrant() {
		c.log.Error("callback tried to close the dispatcher; call ignored", zap.Error(ErrReentrantCall))
		return ErrReentrantCall
	}
	c.closeOnce.Do(func() {
		close(c.quit)
	})
	<-c.stopped
	return nil
}

// Register implements Dispatcher.
func (c *Core) Register(key string, cb Callback) {
	if cb == nil {
		c.log.Warn("ignoring nil callback", zap.String("key", key))
		return
	}
	if err := c.do(func() { c.register(context.Background(), key, cb) }); errors.Is(err, ErrClosed) {
		c.log.Warn("dispatcher closed; registration ignored", zap.String("key", key))
	}
}

// Deliver implements Dispatcher.
func (c *Core) Deliver(key string, reason kvstore.Reason) {
	c.DeliverContext(context.Background(), key, reason)
}

// DeliverContext is Deliver with the callback span parented to the span in
// ctx.
func (c *Core) DeliverContext(ctx context.Context, key string, reason kvstore.Reason) {
	if err := c.do(func() { c.deliver(ctx, key, reason) }); errors.Is(err, ErrClosed) {
		c.log.Warn("dispatcher closed; delivery ignored",
			zap.String("key", key),
			zap.Int("reason", int(reason)))
	}
}

// DeliverBatch implements Dispatcher.
func (c *Core) DeliverBatch(keys []string, reason kvstore.Reason) {
	c.DeliverBatchContext(context.Background(), keys, reason)
}

// DeliverBatchContext is DeliverBatch with every callback span parented to
// the span in ctx.
func (c *Core) DeliverBatchContext(ctx context.Context, keys []string, reason kvstore.Reason) {
	if len(keys) == 0 {
		return
	}
	batch := make([]string, len(keys))
	copy(batch, keys)
	err := c.do(func() {
		for _, key := range batch {
			c.deliver(ctx, key, reason)
		}
	})
	if errors.Is(err, ErrClosed) {
		c.log.Warn("dispatcher closed; batch delivery ignored",
			zap.Int("keys", len(batch)),
			zap.Int("reason", int(reason)))
	}
}

// Pending returns the cached reasons for key in replay order.
func (c *Core) Pending(key string) []kvstore.Reason {
	var out []kvstore.Reason
	c.do(func() {
		if reasons, ok := c.pending[key]; ok {
			out = make([]kvstore.Reason, len(reasons))
			copy(out, reasons)
		}
	})
	return out
}

// PendingKeys returns the keys that have cached reasons, sorted.
func (c *Core) PendingKeys() []string {
	var out []string
	c.do(func() {
		out = make([]string, 0, len(c.pending))
		for key := range c.pending {
			out = append(out, key)
		}
	})
	sort.Strings(out)
	return out
}

// HasCallback reports whether a callback is registered for key.
func (c *Core) HasCallback(key string) bool {
	var ok bool
	c.do(func() {
		_, ok = c.callbacks[key]
	})
	return ok
}

// Stats returns a snapshot of the Core state.
func (c *Core) Stats() Stats {
	var s Stats
	c.do(func() {
		s = c.stats
		s.Callbacks = len(c.callbacks)
		s.PendingKeys = len(c.pending)
	})
	return s
}

func (c *Core) register(ctx context.Context, key string, cb Callback) {
	c.callbacks[key] = cb
	c.metrics.IncrementCounter("dispatch_registrations_total", nil)

	reasons, ok := c.pending[key]
	if !ok {
		return
	}
	delete(c.pending, key)
	c.stats.PendingReasons -= len(reasons)

	var requeue []kvstore.Reason
	for _, reason := range reasons {
		err := c.invoke(ctx, key, cb, reason)
		if err == nil {
			continue
		}
		if c.policy == FlushRequeueFailures {
			requeue = append(requeue, reason)
			continue
		}
		c.stats.Dropped++
		c.metrics.IncrementCounter("dispatch_reasons_dropped_total", nil)
		c.log.Warn("callback failed during replay; reason dropped",
			zap.String("key", key),
			zap.Int("reason", int(reason)),
			zap.Error(err))
	}

	if len(requeue) > 0 {
		c.pending[key] = requeue
		c.stats.PendingReasons += len(requeue)
		c.stats.Cached += uint64(len(requeue))
		c.metrics.AddToCounter("dispatch_reasons_cached_total", float64(len(requeue)), nil)
	}
	c.publishPending()
}

func (c *Core) deliver(ctx context.Context, key string, reason kvstore.Reason) {
	cb, ok := c.callbacks[key]
	if !ok {
		c.cache(key, reason)
		return
	}
	if err := c.invoke(ctx, key, cb, reason); err != nil {
		c.log.Debug("callback failed; reason cached",
			zap.String("key", key),
			zap.Int("reason", int(reason)),
			zap.Error(err))
		c.cache(key, reason)
	}
}

func (c *Core) cache(key string, reason kvstore.Reason) {
	c.pending[key] = append(c.pending[key], reason)
	c.stats.PendingReasons++
	c.stats.Cached++
	c.metrics.IncrementCounter("dispatch_reasons_cached_total", nil)
	c.publishPending()
}

func (c *Core) invoke(ctx context.Context, key string, cb Callback, reason kvstore.Reason) (err error) {
	_, span := c.tracer.Start(ctx, callbackSpanName,
		trace.WithAttributes(
			attribute.String("kvnotify.key", key),
			attribute.Int("kvnotify.reason", int(reason)),
		))
	start := time.Now()
	c.invoking.Store(true)
	defer func() {
		c.invoking.Store(false)
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrCallbackPanic, p)
			c.log.Warn("callback panicked", zap.String("key", key), zap.Any("panic", p))
			if c.onPanic != nil {
				c.onPanic(key, p)
			}
		}
		outcome := "ok"
		if err != nil {
			outcome = "failed"
			c.stats.Failed++
		} else {
			c.stats.Delivered++
		}
		c.metrics.IncrementCounter("dispatch_callbacks_total", map[string]string{"outcome": outcome})
		c.metrics.ObserveHistogram("dispatch_callback_duration_seconds", time.Since(start).Seconds(), nil)

		span.SetAttributes(attribute.String("kvnotify.outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	return cb(reason)
}

func (c *Core) publishPending() {
	c.metrics.SetGauge("dispatch_pending_reasons", float64(c.stats.PendingReasons), nil)
}
