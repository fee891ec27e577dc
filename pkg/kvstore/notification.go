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

import "math"

// Payload keys of a change notification.
const (
	ChangeReasonKey = "reasonForChange"
	ChangedKeysKey  = "changedKeys"
)

// Notification is a change notification as delivered by a store. The
// payload is loosely typed because it comes from outside the process and
// must be validated before use.
type Notification struct {
	// Source names the store that emitted the notification.
	Source string
	// UserInfo carries ChangeReasonKey and ChangedKeysKey.
	UserInfo map[string]interface{}
}

// NewChangeNotification builds a well-formed notification.
func NewChangeNotification(source string, keys []string, reason Reason) Notification {
	changed := make([]string, len(keys))
	copy(changed, keys)
	return Notification{
		Source: source,
		UserInfo: map[string]interface{}{
			ChangeReasonKey: int(reason),
			ChangedKeysKey:  changed,
		},
	}
}

// ParseNotification extracts the changed keys and the shared reason. ok is
// false when either field is missing or has the wrong shape.
func ParseNotification(n Notification) (keys []string, reason Reason, ok bool) {
	if n.UserInfo == nil {
		return nil, 0, false
	}
	reason, ok = parseReason(n.UserInfo[ChangeReasonKey])
	if !ok {
		return nil, 0, false
	}
	keys, ok = parseKeys(n.UserInfo[ChangedKeysKey])
	if !ok {
		return nil, 0, false
	}
	return keys, reason, true
}

func parseReason(v interface{}) (Reason, bool) {
	switch r := v.(type) {
	case Reason:
		return r, true
	case int:
		return Reason(r), true
	case int8:
		return Reason(r), true
	case int16:
		return Reason(r), true
	case int32:
		return Reason(r), true
	case int64:
		if r < math.MinInt || r > math.MaxInt {
			return 0, false
		}
		return Reason(r), true
	case uint:
		return fromUnsigned(uint64(r))
	case uint8:
		return Reason(r), true
	case uint16:
		return Reason(r), true
	case uint32:
		return fromUnsigned(uint64(r))
	case uint64:
		return fromUnsigned(r)
	case uintptr:
		return fromUnsigned(uint64(r))
	case float64:
		// JSON decoding yields float64 for every number.
		if math.IsNaN(r) || math.IsInf(r, 0) || r != math.Trunc(r) {
			return 0, false
		}
		// float64(math.MaxInt) rounds up to -MinInt.
		if r < math.MinInt || r >= -float64(math.MinInt) {
			return 0, false
		}
		return Reason(int(r)), true
	default:
		return 0, false
	}
}

func fromUnsigned(u uint64) (Reason, bool) {
	if u > math.MaxInt {
		return 0, false
	}
	return Reason(int(u)), true
}

func parseKeys(v interface{}) ([]string, bool) {
	switch ks := v.(type) {
	case []string:
		out := make([]string, len(ks))
		copy(out, ks)
		return out, true
	case []interface{}:
		out := make([]string, 0, len(ks))
		for _, k := range ks {
			s, ok := k.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
