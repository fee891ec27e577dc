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

package kvstore

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by stores that have been closed.
	ErrClosed = errors.New("kvstore: store is closed")

	// ErrAlreadySubscribed is returned by stores that accept a single subscriber.
	ErrAlreadySubscribed = errors.New("kvstore: store already has a subscriber")
)

// NotificationHandler receives change notifications. Stores call it from
// their own goroutines.
type NotificationHandler func(Notification)

// Subscription is an active change subscription.
type Subscription interface {
	Unsubscribe() error
}

// Store is an external key-value store that reports changes.
type Store interface {
	// Name identifies the store in logs and notifications.
	Name() string

	// Synchronize asks the store to flush and pull pending changes. A false
	// result means the store lacks a capability kvnotify depends on and the
	// deployment is misconfigured. A non-nil error is a transient failure.
	Synchronize(ctx context.Context) (bool, error)

	// Subscribe starts delivering change notifications to handler until the
	// returned subscription is cancelled.
	Subscribe(ctx context.Context, handler NotificationHandler) (Subscription, error)
}

// SubscriptionFunc adapts a function to the Subscription interface.
type SubscriptionFunc func() error

// Unsubscribe calls f.
func (f SubscriptionFunc) Unsubscribe() error { return f() }
