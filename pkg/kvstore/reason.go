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

import "strconv"

// Reason explains why a key changed. It is supplied by the external store
// and passed through to callbacks unchanged.
type Reason int

// Well-known reason codes. Stores may report other values.
const (
	// ServerChange means another device or process changed the value.
	ServerChange Reason = 0
	// InitialSyncChange means the value arrived during the first synchronization.
	InitialSyncChange Reason = 1
	// QuotaViolationChange means the store dropped or rejected values because it ran out of space.
	QuotaViolationChange Reason = 2
	// AccountChange means the account backing the store changed.
	AccountChange Reason = 3
)

// String returns a readable name for well-known reasons.
func (r Reason) String() string {
	switch r {
	case ServerChange:
		return "server_change"
	case InitialSyncChange:
		return "initial_sync_change"
	case QuotaViolationChange:
		return "quota_violation_change"
	case AccountChange:
		return "account_change"
	default:
		return "reason_" + strconv.Itoa(int(r))
	}
}

// ReasonAction tells a consumer which value it should adopt after a change.
type ReasonAction string

const (
	// DefaultValueAction resets the consumer to its default value.
	DefaultValueAction ReasonAction = "default_value"
	// CachedValueAction keeps whatever the consumer holds locally.
	CachedValueAction ReasonAction = "cached_value"
	// CloudValueAction reads the new value from the store.
	CloudValueAction ReasonAction = "cloud_value"
	// IgnoreAction drops the change.
	IgnoreAction ReasonAction = "ignore"
)

// ActionFor returns the conventional action for a reason.
func ActionFor(r Reason) ReasonAction {
	switch r {
	case ServerChange, InitialSyncChange:
		return CloudValueAction
	case QuotaViolationChange:
		return CachedValueAction
	case AccountChange:
		return DefaultValueAction
	default:
		return IgnoreAction
	}
}
