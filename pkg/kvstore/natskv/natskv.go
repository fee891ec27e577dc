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

// Package natskv adapts a NATS JetStream key-value bucket to kvstore.Store.
// Values present when the watch starts are reported as one
// kvstore.InitialSyncChange notification, later updates one by one as
// kvstore.ServerChange.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/innovationmech/kvnotify/pkg/kvstore"
	"github.com/innovationmech/kvnotify/pkg/logger"
)

const storeName = "nats"

// Config holds the NATS connection settings.
type Config struct {
	URL     string        `mapstructure:"url" yaml:"url" json:"url"`
	Bucket  string        `mapstructure:"bucket" yaml:"bucket" json:"bucket"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
}

// Store watches one JetStream key-value bucket.
type Store struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	config Config
	log    *zap.Logger
}

var _ kvstore.Store = (*Store)(nil)

// Open connects to NATS.
func Open(config Config) (*Store, error) {
	config.ApplyDefaults()
	if config.Bucket == "" {
		return nil, errors.New("natskv: bucket is required")
	}
	conn, err := nats.Connect(config.URL, nats.Name("kvnotify"), nats.Timeout(config.Timeout))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	return &Store{
		conn:   conn,
		js:     js,
		config: config,
		log:    logger.GetLogger().With(zap.String("store", storeName), zap.String("bucket", config.Bucket)),
	}, nil
}

// Name implements kvstore.Store.
func (s *Store) Name() string { return storeName }

// RequiredCapability names what Synchronize checks.
func (s *Store) RequiredCapability() string {
	return fmt.Sprintf("JetStream key-value bucket %q", s.config.Bucket)
}

// Synchronize flushes the connection and checks that the bucket exists.
func (s *Store) Synchronize(ctx context.Context) (bool, error) {
	if err := s.conn.FlushWithContext(ctx); err != nil {
		return false, fmt.Errorf("nats flush: %w", err)
	}
	_, err := s.js.KeyValue(s.config.Bucket)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, nats.ErrBucketNotFound), errors.Is(err, nats.ErrJetStreamNotEnabled):
		return false, nil
	default:
		return false, fmt.Errorf("lookup bucket %s: %w", s.config.Bucket, err)
	}
}

// Subscribe implements kvstore.Store.
func (s *Store) Subscribe(_ context.Context, handler kvstore.NotificationHandler) (kvstore.Subscription, error) {
	kv, err := s.js.KeyValue(s.config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("lookup bucket %s: %w", s.config.Bucket, err)
	}
	w, err := kv.WatchAll()
	if err != nil {
		return nil, fmt.Errorf("watch bucket %s: %w", s.config.Bucket, err)
	}
	return watch(w, handler), nil
}

// Close drains and closes the connection.
func (s *Store) Close() error {
	return s.conn.Drain()
}

// watch pumps the watcher updates into handler until the subscription is
// cancelled or the watcher closes its channel.
func watch(w nats.KeyWatcher, handler kvstore.NotificationHandler) kvstore.Subscription {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		initial := true
		var batch []string
		for entry := range w.Updates() {
			if entry == nil {
				// End of the values present when the watch started.
				if len(batch) > 0 {
					handler(kvstore.NewChangeNotification(storeName, batch, kvstore.InitialSyncChange))
				}
				initial, batch = false, nil
				continue
			}
			if initial {
				batch = append(batch, entry.Key())
				continue
			}
			handler(kvstore.NewChangeNotification(storeName, []string{entry.Key()}, kvstore.ServerChange))
		}
	}()

	var once sync.Once
	return kvstore.SubscriptionFunc(func() error {
		var err error
		once.Do(func() {
			err = w.Stop()
			wg.Wait()
		})
		return err
	})
}
