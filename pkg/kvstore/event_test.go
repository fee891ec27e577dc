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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeEvent(t *testing.T) {
	data, err := EncodeEvent([]string{"theme", "volume"}, QuotaViolationChange)
	require.NoError(t, err)
	assert.JSONEq(t, `{"changedKeys":["theme","volume"],"reasonForChange":2}`, string(data))

	n, err := DecodeEvent("kafka", data)
	require.NoError(t, err)
	assert.Equal(t, "kafka", n.Source)

	keys, reason, ok := ParseNotification(n)
	require.True(t, ok)
	assert.Equal(t, []string{"theme", "volume"}, keys)
	assert.Equal(t, QuotaViolationChange, reason)
}

func TestDecodeEvent_Malformed(t *testing.T) {
	_, err := DecodeEvent("kafka", []byte("not json"))
	assert.Error(t, err)

	tests := []string{
		`null`,
		`{"changedKeys":["theme"]}`,
		`{"changedKeys":["theme"],"reasonForChange":1.5}`,
		`{"changedKeys":"theme","reasonForChange":0}`,
		`{"changedKeys":["theme",7],"reasonForChange":0}`,
	}
	for _, payload := range tests {
		n, err := DecodeEvent("kafka", []byte(payload))
		require.NoError(t, err, payload)
		_, _, ok := ParseNotification(n)
		assert.False(t, ok, payload)
	}
}

func TestEncodeEvent_NilKeys(t *testing.T) {
	data, err := EncodeEvent(nil, ServerChange)
	require.NoError(t, err)
	assert.JSONEq(t, `{"changedKeys":[],"reasonForChange":0}`, string(data))
}
