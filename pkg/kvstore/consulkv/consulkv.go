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

// Package consulkv adapts a Consul KV prefix to kvstore.Store using
// blocking queries.
package consulkv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/consul/api"
	"go.uber.org/zap"

	"github.com/innovationmech/kvnotify/pkg/kvstore"
	"github.com/innovationmech/kvnotify/pkg/logger"
)

const storeName = "consul"

// Config holds the Consul settings.
type Config struct {
	Address    string        `mapstructure:"address" yaml:"address" json:"address"`
	Prefix     string        `mapstructure:"prefix" yaml:"prefix" json:"prefix"`
	Token      string        `mapstructure:"token" yaml:"token" json:"token"`
	WaitTime   time.Duration `mapstructure:"wait_time" yaml:"wait_time" json:"wait_time"`
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" json:"retry_delay"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.WaitTime == 0 {
		c.WaitTime = 5 * time.Minute
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
}

// Store watches the keys under Config.Prefix. Keys are reported without the prefix.
type Store struct {
	client *api.Client
	config Config
	log    *zap.Logger
}

var _ kvstore.Store = (*Store)(nil)

// New creates a Consul client. If no address is configured the Consul
// defaults (including CONSUL_HTTP_ADDR) apply.
func New(config Config) (*Store, error) {
	config.ApplyDefaults()
	apiConfig := api.DefaultConfig()
	if config.Address != "" {
		apiConfig.Address = config.Address
	}
	if config.Token != "" {
		apiConfig.Token = config.Token
	}
	client, err := api.NewClient(apiConfig)
	if err != nil {
		return nil, fmt.Errorf("create consul client: %w", err)
	}
	return &Store{
		client: client,
		config: config,
		log:    logger.GetLogger().With(zap.String("store", storeName), zap.String("prefix", config.Prefix)),
	}, nil
}

// Name implements kvstore.Store.
func (s *Store) Name() string { return storeName }

// RequiredCapability names what Synchronize checks.
func (s *Store) RequiredCapability() string { return "an elected Consul leader" }

// Synchronize reports false when the cluster has no leader.
func (s *Store) Synchronize(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	leader, err := s.client.Status().Leader()
	if err != nil {
		return false, fmt.Errorf("consul leader: %w", err)
	}
	return leader != "", nil
}

// Subscribe implements kvstore.Store. The first query reports the existing
// keys with kvstore.InitialSyncChange. The watch runs until the
// subscription is cancelled.
func (s *Store) Subscribe(_ context.Context, handler kvstore.NotificationHandler) (kvstore.Subscription, error) {
	watchCtx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.watch(watchCtx, handler)
	}()

	var once sync.Once
	return kvstore.SubscriptionFunc(func() error {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
		return nil
	}), nil
}

func (s *Store) watch(ctx context.Context, handler kvstore.NotificationHandler) {
	var (
		index   uint64
		known   map[string]uint64
		initial = true
	)
	for {
		opts := (&api.QueryOptions{WaitIndex: index, WaitTime: s.config.WaitTime}).WithContext(ctx)
		pairs, meta, err := s.client.KV().List(s.config.Prefix, opts)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			s.log.Warn("consul kv query failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.config.RetryDelay):
			}
			continue
		}

		next, changed := Diff(known, pairs, s.config.Prefix)
		known = next
		if len(changed) > 0 {
			reason := kvstore.ServerChange
			if initial {
				reason = kvstore.InitialSyncChange
			}
			handler(kvstore.NewChangeNotification(storeName, changed, reason))
		}
		initial = false

		// The index can go backwards after a snapshot restore.
		if meta.LastIndex < index {
			index = 0
		} else {
			index = meta.LastIndex
		}
	}
}

// Diff compares the previous ModifyIndex of each key with the current
// listing and returns the new state and the keys that were added, changed
// or removed, sorted and without prefix.
func Diff(previous map[string]uint64, pairs api.KVPairs, prefix string) (map[string]uint64, []string) {
	next := make(map[string]uint64, len(pairs))
	var changed []string
	for _, pair := range pairs {
		if pair == nil || strings.HasSuffix(pair.Key, "/") {
			continue
		}
		key := strings.TrimPrefix(pair.Key, prefix)
		next[key] = pair.ModifyIndex
		if old, ok := previous[key]; !ok || old != pair.ModifyIndex {
			changed = append(changed, key)
		}
	}
	for key := range previous {
		if _, ok := next[key]; !ok {
			changed = append(changed, key)
		}
	}
	sort.Strings(changed)
	return next, changed
}
