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
	"encoding/json"
	"fmt"
)

// EncodeEvent renders a change as the JSON object carried by event feeds:
//
//	{"changedKeys": ["theme"], "reasonForChange": 0}
func EncodeEvent(keys []string, reason Reason) ([]byte, error) {
	if keys == nil {
		keys = []string{}
	}
	return json.Marshal(map[string]interface{}{
		ChangedKeysKey:  keys,
		ChangeReasonKey: int(reason),
	})
}

// DecodeEvent turns a JSON object into a Notification. The payload fields
// are not checked here; ParseNotification does that.
func DecodeEvent(source string, data []byte) (Notification, error) {
	var info map[string]interface{}
	if err := json.Unmarshal(data, &info); err != nil {
		return Notification{}, fmt.Errorf("decode change event: %w", err)
	}
	return Notification{Source: source, UserInfo: info}, nil
}
