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

// Package memory provides an in-process kvstore.Store. It is used by tests
// and by deployments that only need local change fan-out.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/innovationmech/kvnotify/pkg/kvstore"
)

const storeName = "memory"

// Store is an in-memory key-value store that notifies subscribers of every
// change. Handlers run on the goroutine that made the change.
type Store struct {
	mu            sync.Mutex
	values        map[string][]byte
	unannounced   map[string]struct{}
	handlers      map[int]kvstore.NotificationHandler
	nextHandlerID int

	syncSupported bool
	syncErr       error
	syncCalls     int
}

var _ kvstore.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		values:        make(map[string][]byte),
		unannounced:   make(map[string]struct{}),
		handlers:      make(map[int]kvstore.NotificationHandler),
		syncSupported: true,
	}
}

// Name implements kvstore.Store.
func (s *Store) Name() string { return storeName }

// RequiredCapability names what a failed synchronize is missing.
func (s *Store) RequiredCapability() string { return "memory store synchronize support" }

// SetSynchronizeSupported controls the result of Synchronize.
func (s *Store) SetSynchronizeSupported(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncSupported = ok
}

// SetSynchronizeError makes Synchronize fail with err until cleared with nil.
func (s *Store) SetSynchronizeError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncErr = err
}

// SynchronizeCalls returns how many times Synchronize ran.
func (s *Store) SynchronizeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncCalls
}

// Synchronize announces seeded keys with kvstore.InitialSyncChange.
func (s *Store) Synchronize(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	s.syncCalls++
	if s.syncErr != nil {
		err := s.syncErr
		s.mu.Unlock()
		return false, err
	}
	if !s.syncSupported {
		s.mu.Unlock()
		return false, nil
	}
	keys := make([]string, 0, len(s.unannounced))
	for key := range s.unannounced {
		keys = append(keys, key)
	}
	s.unannounced = make(map[string]struct{})
	s.mu.Unlock()

	if len(keys) > 0 {
		sort.Strings(keys)
		s.Emit(kvstore.NewChangeNotification(storeName, keys, kvstore.InitialSyncChange))
	}
	return true, nil
}

// Subscribe implements kvstore.Store. Every subscriber receives every
// notification.
func (s *Store) Subscribe(_ context.Context, handler kvstore.NotificationHandler) (kvstore.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextHandlerID
	s.nextHandlerID++
	s.handlers[id] = handler

	var once sync.Once
	return kvstore.SubscriptionFunc(func() error {
		once.Do(func() {
			s.mu.Lock()
			delete(s.handlers, id)
			s.mu.Unlock()
		})
		return nil
	}), nil
}

// SubscriberCount returns the number of active subscriptions.
func (s *Store) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

// Seed stores a value without notifying. The key is announced by the next
// successful Synchronize.
func (s *Store) Seed(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.unannounced[key] = struct{}{}
}

// Get returns the value stored for key.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores a value and notifies with kvstore.ServerChange.
func (s *Store) Set(key string, value []byte) {
	s.mu.Lock()
	s.values[key] = value
	delete(s.unannounced, key)
	s.mu.Unlock()

	s.Emit(kvstore.NewChangeNotification(storeName, []string{key}, kvstore.ServerChange))
}

// Delete removes a key and notifies with kvstore.ServerChange.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	_, existed := s.values[key]
	delete(s.values, key)
	delete(s.unannounced, key)
	s.mu.Unlock()

	if existed {
		s.Emit(kvstore.NewChangeNotification(storeName, []string{key}, kvstore.ServerChange))
	}
}

// Emit sends n to every subscriber as is. It lets callers simulate any
// notification, including malformed ones.
func (s *Store) Emit(n kvstore.Notification) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.handlers))
	for id := range s.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]kvstore.NotificationHandler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, s.handlers[id])
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(n)
	}
}
