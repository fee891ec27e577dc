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

// Package filekv adapts a YAML file holding a flat key-value map to
// kvstore.Store. The file's directory is watched with fsnotify so that
// editors and tools that replace the file atomically are picked up.
package filekv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/innovationmech/kvnotify/pkg/kvstore"
	"github.com/innovationmech/kvnotify/pkg/logger"
)

const storeName = "file"

// Config holds the file store settings.
type Config struct {
	Path string `mapstructure:"path" yaml:"path" json:"path"`
}

// Store reports changes of the top-level keys of a YAML file.
type Store struct {
	path string
	log  *zap.Logger
}

var _ kvstore.Store = (*Store)(nil)

// New creates a store for config.Path.
func New(config Config) (*Store, error) {
	if config.Path == "" {
		return nil, errors.New("filekv: path is required")
	}
	path, err := filepath.Abs(config.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", config.Path, err)
	}
	return &Store{
		path: path,
		log:  logger.GetLogger().With(zap.String("store", storeName), zap.String("path", path)),
	}, nil
}

// Name implements kvstore.Store.
func (s *Store) Name() string { return storeName }

// RequiredCapability names what Synchronize checks.
func (s *Store) RequiredCapability() string {
	return fmt.Sprintf("watchable directory %s", filepath.Dir(s.path))
}

// Synchronize reports false when the directory of the file does not exist.
// A file that exists but cannot be parsed is a transient error.
func (s *Store) Synchronize(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	info, err := os.Stat(filepath.Dir(s.path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if !info.IsDir() {
		return false, nil
	}
	if _, err := s.load(); err != nil {
		return true, err
	}
	return true, nil
}

// Subscribe implements kvstore.Store. Keys present in the file when the
// subscription starts are reported with kvstore.InitialSyncChange.
func (s *Store) Subscribe(_ context.Context, handler kvstore.NotificationHandler) (kvstore.Subscription, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", filepath.Dir(s.path), err)
	}

	current, err := s.load()
	if err != nil {
		s.log.Warn("initial load failed; starting empty", zap.Error(err))
		current = map[string]interface{}{}
	}
	if keys := sortedKeys(current); len(keys) > 0 {
		handler(kvstore.NewChangeNotification(storeName, keys, kvstore.InitialSyncChange))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.watch(watcher, current, handler)
	}()

	var once sync.Once
	return kvstore.SubscriptionFunc(func() error {
		var err error
		once.Do(func() {
			err = watcher.Close()
			wg.Wait()
		})
		return err
	}), nil
}

func (s *Store) watch(watcher *fsnotify.Watcher, current map[string]interface{}, handler kvstore.NotificationHandler) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			next, err := s.load()
			if err != nil {
				s.log.Warn("failed to reload file", zap.String("op", event.Op.String()), zap.Error(err))
				continue
			}
			if changed := Diff(current, next); len(changed) > 0 {
				handler(kvstore.NewChangeNotification(storeName, changed, kvstore.ServerChange))
			}
			current = next

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("watcher error", zap.Error(err))
		}
	}
}

// load reads the file. A missing file is an empty map.
func (s *Store) load() (map[string]interface{}, error) {
	content, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]interface{}{}, nil
		}
		return nil, err
	}
	values := map[string]interface{}{}
	if err := yaml.Unmarshal(content, &values); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return values, nil
}

// Diff returns the sorted keys whose values differ between two snapshots,
// including keys present in only one of them.
func Diff(previous, next map[string]interface{}) []string {
	var changed []string
	for key, value := range next {
		old, ok := previous[key]
		if !ok || !reflect.DeepEqual(old, value) {
			changed = append(changed, key)
		}
	}
	for key := range previous {
		if _, ok := next[key]; !ok {
			changed = append(changed, key)
		}
	}
	sort.Strings(changed)
	return changed
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
