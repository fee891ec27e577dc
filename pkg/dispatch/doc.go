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

// Package dispatch routes change reasons for a key to the callback
// registered for that key, and holds them in a pending cache until one is
// registered.
//
// All operations of a Core run one at a time on a single worker goroutine,
// in arrival order, so registration and delivery never interleave:
//
//	core := dispatch.NewCore()
//	defer core.Close()
//
//	core.Deliver("theme", kvstore.ServerChange)  // no callback yet: cached
//	core.Register("theme", func(r kvstore.Reason) error {
//		return reloadTheme()                       // replayed here, in order
//	})
//
// A callback that returns an error (or panics) while handling a delivery
// has its reason cached for replay on the next registration of that key.
// Failures during the replay itself are dropped unless the Core is built
// with FlushRequeueFailures.
//
// Callbacks run on the worker goroutine. A callback that calls back into
// the same Core synchronously is logged and ignored; goroutines it starts
// may use the Core normally.
package dispatch
