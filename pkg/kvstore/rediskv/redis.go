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

// Package rediskv adapts Redis keyspace notifications to kvstore.Store.
//
// Redis only publishes keyspace events when notify-keyspace-events enables
// them, for example:
//
//	CONFIG SET notify-keyspace-events K$gxe
//
// Synchronize reports false when they are disabled.
package rediskv

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/innovationmech/kvnotify/pkg/kvstore"
	"github.com/innovationmech/kvnotify/pkg/logger"
)

const storeName = "redis"

// Config holds the Redis connection settings.
type Config struct {
	Addr        string        `mapstructure:"addr" yaml:"addr" json:"addr"`
	Password    string        `mapstructure:"password" yaml:"password" json:"password"`
	DB          int           `mapstructure:"db" yaml:"db" json:"db"`
	KeyPrefix   string        `mapstructure:"key_prefix" yaml:"key_prefix" json:"key_prefix"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout" json:"dial_timeout"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
}

// Store watches the keys under Config.KeyPrefix. Keys are reported without
// the prefix.
type Store struct {
	client *redis.Client
	config Config
	owned  bool
	log    *zap.Logger
}

var _ kvstore.Store = (*Store)(nil)

// New connects to Redis lazily using config.
func New(config Config) *Store {
	config.ApplyDefaults()
	client := redis.NewClient(&redis.Options{
		Addr:        config.Addr,
		Password:    config.Password,
		DB:          config.DB,
		DialTimeout: config.DialTimeout,
		ClientName:  "kvnotify-" + uuid.NewString()[:8],
	})
	s := NewWithClient(client, config)
	s.owned = true
	return s
}

// NewWithClient wraps an existing client. The client's DB must match config.DB.
func NewWithClient(client *redis.Client, config Config) *Store {
	return &Store{
		client: client,
		config: config,
		log:    logger.GetLogger().With(zap.String("store", storeName)),
	}
}

// Name implements kvstore.Store.
func (s *Store) Name() string { return storeName }

// RequiredCapability names the server setting Synchronize checks.
func (s *Store) RequiredCapability() string {
	return "keyspace notifications (notify-keyspace-events must contain K and an event class)"
}

// Synchronize checks connectivity and that keyspace notifications are enabled.
func (s *Store) Synchronize(ctx context.Context) (bool, error) {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return false, fmt.Errorf("redis ping: %w", err)
	}
	settings, err := s.client.ConfigGet(ctx, "notify-keyspace-events").Result()
	if err != nil {
		return false, fmt.Errorf("redis config get: %w", err)
	}
	return KeyspaceEventsEnabled(settings["notify-keyspace-events"]), nil
}

// Subscribe implements kvstore.Store.
func (s *Store) Subscribe(ctx context.Context, handler kvstore.NotificationHandler) (kvstore.Subscription, error) {
	pattern := fmt.Sprintf("%s%s*", s.channelPrefix(), s.config.KeyPrefix)
	ps := s.client.PSubscribe(ctx, pattern)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("psubscribe %s: %w", pattern, err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range ps.Channel() {
			key, ok := s.keyFromChannel(msg.Channel)
			if !ok {
				continue
			}
			handler(kvstore.NewChangeNotification(storeName, []string{key}, ReasonForEvent(msg.Payload)))
		}
	}()

	s.log.Debug("watching keyspace", zap.String("pattern", pattern))

	var once sync.Once
	return kvstore.SubscriptionFunc(func() error {
		var err error
		once.Do(func() {
			err = ps.Close()
			wg.Wait()
		})
		return err
	}), nil
}

// Close releases the client if the store created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func (s *Store) channelPrefix() string {
	return fmt.Sprintf("__keyspace@%d__:", s.config.DB)
}

func (s *Store) keyFromChannel(channel string) (string, bool) {
	rest := strings.TrimPrefix(channel, s.channelPrefix())
	if rest == channel {
		return "", false
	}
	if !strings.HasPrefix(rest, s.config.KeyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(rest, s.config.KeyPrefix), true
}

// ReasonForEvent maps a keyspace event name to a change reason. Keys that
// Redis removed to honour maxmemory or a TTL count as quota violations.
func ReasonForEvent(event string) kvstore.Reason {
	switch event {
	case "expired", "evicted":
		return kvstore.QuotaViolationChange
	default:
		return kvstore.ServerChange
	}
}

// KeyspaceEventsEnabled reports whether a notify-keyspace-events value
// publishes keyspace events for at least one event class.
func KeyspaceEventsEnabled(flags string) bool {
	return strings.Contains(flags, "K") && strings.ContainsAny(flags, "Ag$lshzxetmdn")
}
