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

package amqpfeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/innovationmech/kvnotify/pkg/kvstore"
)

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	s, err := New(Config{Exchange: "kv.changes"})
	require.NoError(t, err)
	assert.Equal(t, "amqp", s.Name())
	assert.Equal(t, amqp.ExchangeTopic, s.config.ExchangeType)
	assert.Equal(t, "#", s.config.RoutingKey)
	assert.Contains(t, s.RequiredCapability(), "kv.changes")
	assert.Equal(t, 500*time.Millisecond, s.config.ReconnectDelay)
	assert.Equal(t, 30*time.Second, s.config.MaxReconnectDelay)
	assert.NoError(t, s.Close())
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(&amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no exchange"}))
	assert.True(t, IsNotFound(fmt.Errorf("inspect: %w", &amqp.Error{Code: amqp.NotFound})))
	assert.False(t, IsNotFound(&amqp.Error{Code: amqp.AccessRefused}))
	assert.False(t, IsNotFound(nil))
}

func TestConsume(t *testing.T) {
	deliveries := make(chan amqp.Delivery, 3)
	body, err := kvstore.EncodeEvent([]string{"theme"}, kvstore.InitialSyncChange)
	require.NoError(t, err)
	deliveries <- amqp.Delivery{DeliveryTag: 1, Body: body}
	deliveries <- amqp.Delivery{DeliveryTag: 2, Body: []byte("{")}
	deliveries <- amqp.Delivery{DeliveryTag: 3, Body: []byte(`{"changedKeys":["x"]}`)}
	close(deliveries)

	var got []kvstore.Notification
	consume(zap.NewNop(), deliveries, func(n kvstore.Notification) { got = append(got, n) })

	require.Len(t, got, 2)
	keys, reason, ok := kvstore.ParseNotification(got[0])
	require.True(t, ok)
	assert.Equal(t, []string{"theme"}, keys)
	assert.Equal(t, kvstore.InitialSyncChange, reason)

	// Undecodable bodies are dropped here; malformed payloads are left to
	// the bridge.
	_, _, ok = kvstore.ParseNotification(got[1])
	assert.False(t, ok)
}

type fakeConsumer struct {
	deliveries chan amqp.Delivery
	closed     chan *amqp.Error
	mu         sync.Mutex
	stopped    bool
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{
		deliveries: make(chan amqp.Delivery, 4),
		closed:     make(chan *amqp.Error, 1),
	}
}

func (f *fakeConsumer) consumer(tag string) *consumer {
	return &consumer{
		queue:      "amq.gen-test",
		tag:        tag,
		deliveries: f.deliveries,
		closed:     f.closed,
		stop: func() error {
			f.mu.Lock()
			defer f.mu.Unlock()
			if !f.stopped {
				f.stopped = true
				close(f.deliveries)
			}
			return nil
		},
	}
}

// drop simulates the broker closing the channel.
func (f *fakeConsumer) drop(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed <- &amqp.Error{Code: amqp.ConnectionForced, Reason: reason}
	f.stopped = true
	close(f.deliveries)
}

func (f *fakeConsumer) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func encode(t *testing.T, key string) []byte {
	t.Helper()
	body, err := kvstore.EncodeEvent([]string{key}, kvstore.ServerChange)
	require.NoError(t, err)
	return body
}

func TestSubscribe_ReconnectsAfterChannelLoss(t *testing.T) {
	s, err := New(Config{Exchange: "kv.changes", ReconnectDelay: time.Millisecond, MaxReconnectDelay: 4 * time.Millisecond})
	require.NoError(t, err)
	core, logs := observer.New(zapcore.InfoLevel)
	s.log = zap.New(core)

	first, second := newFakeConsumer(), newFakeConsumer()
	var (
		mu    sync.Mutex
		opens int
	)
	s.open = func() (*consumer, error) {
		mu.Lock()
		defer mu.Unlock()
		opens++
		switch opens {
		case 1:
			return first.consumer("first"), nil
		case 2, 3:
			return nil, errors.New("connection refused")
		default:
			return second.consumer("second"), nil
		}
	}

	received := make(chan []string, 4)
	sub, err := s.Subscribe(context.Background(), func(n kvstore.Notification) {
		keys, _, ok := kvstore.ParseNotification(n)
		if ok {
			received <- keys
		}
	})
	require.NoError(t, err)

	first.deliveries <- amqp.Delivery{Body: encode(t, "theme")}
	assert.Equal(t, []string{"theme"}, <-received)

	first.drop("CONNECTION_FORCED - broker restart")
	second.deliveries <- amqp.Delivery{Body: encode(t, "volume")}

	select {
	case keys := <-received:
		assert.Equal(t, []string{"volume"}, keys)
	case <-time.After(2 * time.Second):
		t.Fatal("consumption did not resume")
	}

	lost := logs.FilterMessage("change event consumer lost; reconnecting").All()
	require.Len(t, lost, 1)
	assert.Equal(t, zapcore.WarnLevel, lost[0].Level)
	assert.Contains(t, lost[0].ContextMap()["cause"], "broker restart")
	assert.Equal(t, 2, logs.FilterMessage("reconnect failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("change event consumer restored").Len())

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	assert.True(t, second.isStopped())
}

func TestSubscribe_UnsubscribeWhileReconnecting(t *testing.T) {
	s, err := New(Config{Exchange: "kv.changes", ReconnectDelay: time.Millisecond, MaxReconnectDelay: time.Millisecond})
	require.NoError(t, err)
	s.log = zap.NewNop()

	first := newFakeConsumer()
	failing := make(chan struct{}, 1)
	var opened bool
	s.open = func() (*consumer, error) {
		if !opened {
			opened = true
			return first.consumer("first"), nil
		}
		select {
		case failing <- struct{}{}:
		default:
		}
		return nil, errors.New("connection refused")
	}

	sub, err := s.Subscribe(context.Background(), func(kvstore.Notification) {})
	require.NoError(t, err)

	first.drop("CONNECTION_FORCED")
	select {
	case <-failing:
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect attempt")
	}

	done := make(chan error, 1)
	go func() { done <- sub.Unsubscribe() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Unsubscribe hung while reconnecting")
	}
}

func TestSubscribe_OpenFailure(t *testing.T) {
	s, err := New(Config{Exchange: "kv.changes"})
	require.NoError(t, err)
	s.open = func() (*consumer, error) { return nil, errors.New("dial amqp: refused") }

	_, err = s.Subscribe(context.Background(), func(kvstore.Notification) {})
	assert.ErrorContains(t, err, "refused")
}

func TestStore_Integration(t *testing.T) {
	s, err := New(Config{Exchange: "kvnotify.test", DialTimeout: 500 * time.Millisecond})
	require.NoError(t, err)
	conn, err := s.connection()
	if err != nil {
		t.Skipf("RabbitMQ not available: %v", err)
	}
	defer s.Close()

	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()
	require.NoError(t, ch.ExchangeDeclare("kvnotify.test", amqp.ExchangeTopic, false, true, false, false, nil))

	ok, err := s.Synchronize(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	received := make(chan kvstore.Notification, 1)
	sub, err := s.Subscribe(context.Background(), func(n kvstore.Notification) { received <- n })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	body, _ := kvstore.EncodeEvent([]string{"theme"}, kvstore.ServerChange)
	require.NoError(t, ch.Publish("kvnotify.test", "settings.theme", false, false, amqp.Publishing{Body: body}))

	select {
	case n := <-received:
		keys, _, ok := kvstore.ParseNotification(n)
		require.True(t, ok)
		assert.Equal(t, []string{"theme"}, keys)
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}

	missing, err := New(Config{Exchange: "kvnotify.missing"})
	require.NoError(t, err)
	defer missing.Close()
	ok, err = missing.Synchronize(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
