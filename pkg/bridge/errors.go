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

package bridge

import (
	"errors"
	"fmt"
)

// ErrSynchronizeUnsupported is matched by every ConfigurationError.
var ErrSynchronizeUnsupported = errors.New("store does not support synchronize")

// ConfigurationError reports a store that lacks a capability kvnotify
// depends on. It is not retryable: the deployment has to be fixed.
type ConfigurationError struct {
	// Store is the name of the misconfigured store.
	Store string
	// Capability names what the store is missing.
	Capability string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("store %q cannot synchronize: missing %s", e.Store, e.Capability)
}

// Unwrap lets errors.Is match ErrSynchronizeUnsupported.
func (e *ConfigurationError) Unwrap() error {
	return ErrSynchronizeUnsupported
}

// CapabilityDescriber is implemented by stores that can name the
// capability they need for synchronize to succeed.
type CapabilityDescriber interface {
	RequiredCapability() string
}
