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

package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/innovationmech/kvnotify/pkg/dispatch"
	"github.com/innovationmech/kvnotify/pkg/kvstore"
	"github.com/innovationmech/kvnotify/pkg/kvstore/memory"
)

// MockStore is a testify mock of kvstore.Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Name() string { return "mock" }

func (m *MockStore) Synchronize(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) Subscribe(ctx context.Context, handler kvstore.NotificationHandler) (kvstore.Subscription, error) {
	args := m.Called(ctx, handler)
	sub, _ := args.Get(0).(kvstore.Subscription)
	return sub, args.Error(1)
}

// MockDispatcher is a testify mock of dispatch.Dispatcher.
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Register(key string, cb dispatch.Callback) { m.Called(key, cb) }

func (m *MockDispatcher) Deliver(key string, reason kvstore.Reason) { m.Called(key, reason) }

func (m *MockDispatcher) DeliverBatch(keys []string, reason kvstore.Reason) {
	m.Called(keys, reason)
}

func newTestBridge(t *testing.T, store kvstore.Store) (*Bridge, *dispatch.Core) {
	t.Helper()
	core := dispatch.NewCore(dispatch.WithLogger(zap.NewNop()))
	t.Cleanup(func() { _ = core.Close() })
	return New(store, core, WithLogger(zap.NewNop())), core
}

func TestBridge_InitializeSubscribesOnce(t *testing.T) {
	store := memory.New()
	b, core := newTestBridge(t, store)

	require.NoError(t, b.Initialize(context.Background()))
	require.NoError(t, b.Initialize(context.Background()))

	assert.Equal(t, 1, store.SubscriberCount())
	assert.Equal(t, 2, store.SynchronizeCalls())
	assert.True(t, b.Subscribed())
	assert.NotEmpty(t, b.SubscriptionID())

	var calls int
	core.Register("k", func(kvstore.Reason) error {
		calls++
		return nil
	})
	store.Set("k", []byte("v"))
	assert.Equal(t, 1, calls, "one external event is delivered once")
}

func TestBridge_ForwardsNotificationWithSharedReason(t *testing.T) {
	d := &MockDispatcher{}
	d.On("DeliverBatch", []string{"a", "b"}, kvstore.QuotaViolationChange).Return().Once()

	b := New(memory.New(), d, WithLogger(zap.NewNop()))
	b.OnExternalChange(kvstore.NewChangeNotification("test", []string{"a", "b"}, kvstore.QuotaViolationChange))

	d.AssertExpectations(t)
}

func TestBridge_IgnoresMalformedNotifications(t *testing.T) {
	d := &MockDispatcher{}
	b := New(memory.New(), d, WithLogger(zap.NewNop()))

	notifications := []kvstore.Notification{
		{},
		{UserInfo: map[string]interface{}{kvstore.ChangedKeysKey: []string{"k"}}},
		{UserInfo: map[string]interface{}{kvstore.ChangeReasonKey: 1}},
		{UserInfo: map[string]interface{}{kvstore.ChangeReasonKey: 1, kvstore.ChangedKeysKey: []interface{}{1}}},
	}
	for _, n := range notifications {
		assert.NotPanics(t, func() { b.OnExternalChange(n) })
	}

	d.AssertNotCalled(t, "DeliverBatch", mock.Anything, mock.Anything)
	d.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
}

func TestBridge_MalformedNotificationLeavesStateUnchanged(t *testing.T) {
	store := memory.New()
	b, core := newTestBridge(t, store)
	require.NoError(t, b.Initialize(context.Background()))

	store.Emit(kvstore.Notification{Source: "memory", UserInfo: map[string]interface{}{kvstore.ChangeReasonKey: 0}})

	assert.Empty(t, core.PendingKeys())
	assert.Equal(t, dispatch.Stats{}, core.Stats())
}

func TestBridge_SynchronizeUnsupportedIsConfigurationError(t *testing.T) {
	store := memory.New()
	store.SetSynchronizeSupported(false)
	b, _ := newTestBridge(t, store)

	err := b.Initialize(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSynchronizeUnsupported)

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "memory", cfgErr.Store)
	assert.Equal(t, "memory store synchronize support", cfgErr.Capability)
	assert.Contains(t, err.Error(), "memory store synchronize support")
}

func TestBridge_SynchronizeTransientErrorIsNotFatal(t *testing.T) {
	store := &MockStore{}
	store.On("Subscribe", mock.Anything, mock.Anything).Return(kvstore.SubscriptionFunc(func() error { return nil }), nil).Once()
	store.On("Synchronize", mock.Anything).Return(false, errors.New("timeout")).Once()

	b, _ := newTestBridge(t, store)
	assert.NoError(t, b.Initialize(context.Background()))
	store.AssertExpectations(t)
}

func TestBridge_DefaultCapabilityName(t *testing.T) {
	store := &MockStore{}
	store.On("Synchronize", mock.Anything).Return(false, nil).Once()

	b, _ := newTestBridge(t, store)
	err := b.Synchronize(context.Background())

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "synchronize support", cfgErr.Capability)
}

func TestBridge_FailedSubscribeCanBeRetried(t *testing.T) {
	store := &MockStore{}
	store.On("Subscribe", mock.Anything, mock.Anything).Return(nil, errors.New("refused")).Once()
	store.On("Subscribe", mock.Anything, mock.Anything).Return(kvstore.SubscriptionFunc(func() error { return nil }), nil).Once()
	store.On("Synchronize", mock.Anything).Return(true, nil).Once()

	b, _ := newTestBridge(t, store)

	err := b.Initialize(context.Background())
	require.Error(t, err)
	assert.False(t, b.Subscribed())

	require.NoError(t, b.Initialize(context.Background()))
	assert.True(t, b.Subscribed())
	store.AssertExpectations(t)
}

func TestBridge_CloseUnsubscribesAndNeverResubscribes(t *testing.T) {
	store := memory.New()
	b, _ := newTestBridge(t, store)
	require.NoError(t, b.Initialize(context.Background()))

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, 0, store.SubscriberCount())

	require.NoError(t, b.Initialize(context.Background()))
	assert.Equal(t, 0, store.SubscriberCount())
}

func TestBridge_InitialSyncReachesLateRegistration(t *testing.T) {
	store := memory.New()
	store.Seed("volume", []byte("11"))
	b, core := newTestBridge(t, store)

	require.NoError(t, b.Initialize(context.Background()))

	var got []kvstore.Reason
	core.Register("volume", func(r kvstore.Reason) error {
		got = append(got, r)
		return nil
	})
	assert.Equal(t, []kvstore.Reason{kvstore.InitialSyncChange}, got)
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	return attrs
}

func TestBridge_TracesNotificationAndCallbacks(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	core := dispatch.NewCore(dispatch.WithLogger(zap.NewNop()), dispatch.WithTracerProvider(tp))
	t.Cleanup(func() { _ = core.Close() })

	core.Register("theme", func(kvstore.Reason) error { return nil })
	core.Register("volume", func(kvstore.Reason) error { return nil })

	b := New(memory.New(), core, WithLogger(zap.NewNop()), WithTracerProvider(tp))
	b.OnExternalChange(kvstore.NewChangeNotification("memory", []string{"theme", "volume"}, kvstore.ServerChange))

	spans := rec.Ended()
	require.Len(t, spans, 3)

	// Callback spans end before the notification span.
	root := spans[2]
	assert.Equal(t, notificationSpanName, root.Name())
	assert.Equal(t, trace.SpanKindConsumer, root.SpanKind())
	assert.False(t, root.Parent().IsValid())

	attrs := spanAttrs(root)
	assert.Equal(t, "memory", attrs["kvnotify.store"].AsString())
	assert.Equal(t, int64(2), attrs["kvnotify.keys"].AsInt64())
	assert.Equal(t, int64(kvstore.ServerChange), attrs["kvnotify.reason"].AsInt64())

	for _, child := range spans[:2] {
		assert.Equal(t, "kvnotify.callback", child.Name())
		assert.Equal(t, root.SpanContext().SpanID(), child.Parent().SpanID())
	}
}

func TestBridge_MalformedNotificationSpanIsError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	d := &MockDispatcher{}

	b := New(memory.New(), d, WithLogger(zap.NewNop()), WithTracerProvider(tp))
	b.OnExternalChange(kvstore.Notification{})

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.NotContains(t, spanAttrs(spans[0]), attribute.Key("kvnotify.keys"))
	d.AssertNotCalled(t, "DeliverBatch", mock.Anything, mock.Anything)
}
