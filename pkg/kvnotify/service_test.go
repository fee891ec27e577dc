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

package kvnotify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/innovationmech/kvnotify/pkg/bridge"
	"github.com/innovationmech/kvnotify/pkg/dispatch"
	"github.com/innovationmech/kvnotify/pkg/kvstore"
	"github.com/innovationmech/kvnotify/pkg/kvstore/memory"
	"github.com/innovationmech/kvnotify/pkg/metrics"
)

func newService(t *testing.T, store kvstore.Store, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithLogger(zap.NewNop())}, opts...)
	svc, err := New(context.Background(), store, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestNew_NilStore(t *testing.T) {
	svc, err := New(context.Background(), nil)
	assert.Error(t, err)
	assert.Nil(t, svc)
}

func TestNew_ConfigurationFault(t *testing.T) {
	store := memory.New()
	store.SetSynchronizeSupported(false)

	svc, err := New(context.Background(), store, WithLogger(zap.NewNop()))
	require.Error(t, err)
	assert.Nil(t, svc)
	assert.ErrorIs(t, err, bridge.ErrSynchronizeUnsupported)
	assert.Equal(t, 0, store.SubscriberCount(), "failed start releases the subscription")
}

func TestService_ChangeBeforeRegistration(t *testing.T) {
	store := memory.New()
	svc := newService(t, store)

	store.Set("theme", []byte("dark"))
	assert.Equal(t, []string{"theme"}, svc.PendingKeys())

	var got []kvstore.Reason
	svc.RegisterUpdateCallback("theme", func(r kvstore.Reason) error {
		got = append(got, r)
		return nil
	})

	assert.Equal(t, []kvstore.Reason{kvstore.ServerChange}, got)
	assert.Nil(t, svc.Pending("theme"))
	assert.Equal(t, uint64(1), svc.Stats().Delivered)
	assert.Same(t, store, svc.Store())
}

func TestService_ChangeAfterRegistration(t *testing.T) {
	store := memory.New()
	svc := newService(t, store)

	var got []kvstore.Reason
	svc.RegisterUpdateCallback("volume", func(r kvstore.Reason) error {
		got = append(got, r)
		return nil
	})
	store.Set("volume", []byte("3"))
	store.Set("volume", []byte("4"))

	assert.Equal(t, []kvstore.Reason{kvstore.ServerChange, kvstore.ServerChange}, got)
}

func TestService_FailedCallbackKeepsReason(t *testing.T) {
	store := memory.New()
	svc := newService(t, store)

	svc.RegisterUpdateCallback("k", func(kvstore.Reason) error { return errors.New("not ready") })
	store.Set("k", nil)

	assert.Equal(t, []kvstore.Reason{kvstore.ServerChange}, svc.Pending("k"))
}

func TestService_RequeuePolicy(t *testing.T) {
	store := memory.New()
	svc := newService(t, store, WithFlushPolicy(dispatch.FlushRequeueFailures), WithQueueSize(4))

	store.Set("k", nil)
	svc.RegisterUpdateCallback("k", func(kvstore.Reason) error { return errors.New("not ready") })

	assert.Equal(t, []kvstore.Reason{kvstore.ServerChange}, svc.Pending("k"))
}

func TestService_SynchronizeAgain(t *testing.T) {
	store := memory.New()
	svc := newService(t, store, WithMetrics(metrics.NewPrometheusCollector(nil)))

	store.Seed("late", []byte("x"))
	require.NoError(t, svc.Synchronize(context.Background()))
	assert.Equal(t, []kvstore.Reason{kvstore.InitialSyncChange}, svc.Pending("late"))

	store.SetSynchronizeSupported(false)
	assert.ErrorIs(t, svc.Synchronize(context.Background()), bridge.ErrSynchronizeUnsupported)
}

func TestService_Close(t *testing.T) {
	store := memory.New()
	svc, err := New(context.Background(), store, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	require.Equal(t, 1, store.SubscriberCount())

	require.NoError(t, svc.Close())
	assert.Equal(t, 0, store.SubscriberCount())

	assert.NotPanics(t, func() {
		svc.RegisterUpdateCallback("k", func(kvstore.Reason) error { return nil })
	})
}

func TestService_TracerProvider(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	store := memory.New()
	svc := newService(t, store, WithTracerProvider(tp))

	svc.RegisterUpdateCallback("theme", func(kvstore.Reason) error { return nil })
	store.Set("theme", []byte("dark"))

	byName := make(map[string][]sdktrace.ReadOnlySpan)
	for _, span := range rec.Ended() {
		byName[span.Name()] = append(byName[span.Name()], span)
	}
	require.Len(t, byName["kvnotify.callback"], 1)
	require.NotEmpty(t, byName["kvnotify.notification"])

	callback := byName["kvnotify.callback"][0]
	last := byName["kvnotify.notification"][len(byName["kvnotify.notification"])-1]
	assert.Equal(t, last.SpanContext().SpanID(), callback.Parent().SpanID())
}
