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
	"sync"

	"go.uber.org/zap"

	"github.com/innovationmech/kvnotify/pkg/kvstore"
	"github.com/innovationmech/kvnotify/pkg/logger"
)

// StoreFactory creates the store backing the shared Service.
type StoreFactory func() (kvstore.Store, error)

var (
	sharedMu      sync.Mutex
	sharedFactory StoreFactory
	sharedOptions []Option
	shared        *Service

	// fatal reports a startup fault of the shared Service. It ends the process.
	fatal = func(err error) {
		logger.GetLogger().Fatal("kvnotify cannot start", zap.Error(err))
	}
)

// SetStoreFactory installs the factory used by Shared. It has no effect
// once the shared Service exists.
func SetStoreFactory(factory StoreFactory, opts ...Option) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared != nil {
		return
	}
	sharedFactory = factory
	sharedOptions = opts
}

// Shared returns the process-wide Service, creating it on first use. A
// missing factory, a factory error or a store that cannot synchronize
// terminates the process.
func Shared() *Service {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if shared != nil {
		return shared
	}
	if sharedFactory == nil {
		fatal(errors.New("no store factory installed"))
		return nil
	}
	store, err := sharedFactory()
	if err != nil {
		fatal(err)
		return nil
	}
	svc, err := New(context.Background(), store, sharedOptions...)
	if err != nil {
		fatal(err)
		return nil
	}
	shared = svc
	return shared
}

// RegisterUpdateCallback registers callback on the shared Service. It does
// nothing when the shared Service could not be created.
func RegisterUpdateCallback(forKey string, callback UpdateCallback) {
	svc := Shared()
	if svc == nil {
		return
	}
	svc.RegisterUpdateCallback(forKey, callback)
}
