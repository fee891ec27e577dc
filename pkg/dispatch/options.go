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
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/innovationmech/kvnotify/pkg/metrics"
)

// FlushPolicy decides what happens to a cached reason whose callback fails
// while the cache is being replayed by Register.
type FlushPolicy int

const (
	// FlushDropFailures drops reasons that fail during replay.
	FlushDropFailures FlushPolicy = iota
	// FlushRequeueFailures puts reasons that fail during replay back into
	// the pending cache, in their original order.
	FlushRequeueFailures
)

// String returns the configuration name of the policy.
func (p FlushPolicy) String() string {
	switch p {
	case FlushRequeueFailures:
		return "requeue"
	default:
		return "drop"
	}
}

// ParseFlushPolicy parses "drop" or "requeue". An empty string selects the default.
func ParseFlushPolicy(s string) (FlushPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop":
		return FlushDropFailures, nil
	case "requeue":
		return FlushRequeueFailures, nil
	default:
		return FlushDropFailures, fmt.Errorf("unknown flush policy %q", s)
	}
}

const defaultQueueSize = 256

// Option configures a Core.
type Option func(*Core)

// WithFlushPolicy sets the replay failure policy.
func WithFlushPolicy(p FlushPolicy) Option {
	return func(c *Core) { c.policy = p }
}

// WithQueueSize sets the capacity of the operation queue.
func WithQueueSize(n int) Option {
	return func(c *Core) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(c *Core) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithLogger sets the logger. The global logger is used by default.
func WithLogger(l *zap.Logger) Option {
	return func(c *Core) {
		if l != nil {
			c.log = l
		}
	}
}

// PanicHandler observes a value recovered from a callback. It runs on the
// dispatch worker and must not call back into the Core.
type PanicHandler func(key string, recovered interface{})

// WithPanicHandler sets a handler for recovered callback panics.
func WithPanicHandler(h PanicHandler) Option {
	return func(c *Core) { c.onPanic = h }
}

// WithTracerProvider sets the provider of the tracer that records one span
// per callback run. The global provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Core) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}
