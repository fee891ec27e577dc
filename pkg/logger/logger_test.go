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

package logger

import (
	"testing"
)

func TestInitLogger(t *testing.T) {
	originalLogger := Logger

	defer func() {
		Logger = originalLogger
	}()

	Logger = nil

	InitLogger()

	if Logger == nil {
		t.Error("InitLogger() failed: Logger is nil after initialization")
	}

	if Logger.Core() == nil {
		t.Error("InitLogger() failed: Logger core is nil")
	}
}

func TestInitLoggerMultipleCalls(t *testing.T) {
	originalLogger := Logger

	defer func() {
		Logger = originalLogger
	}()

	ResetLogger()

	InitLogger()
	firstLogger := Logger

	InitLogger()
	secondLogger := Logger

	if firstLogger == nil || secondLogger == nil {
		t.Error("InitLogger() failed: Logger is nil after multiple calls")
	}

	if firstLogger != secondLogger {
		t.Error("InitLogger() should return the same logger instance on multiple calls")
	}
}

func TestGetLoggerInitializesOnDemand(t *testing.T) {
	originalLogger := Logger

	defer func() {
		Logger = originalLogger
	}()

	ResetLogger()

	if Logger != nil {
		t.Fatal("Logger should be nil after reset")
	}

	l := GetLogger()
	if l == nil {
		t.Fatal("GetLogger() returned nil")
	}
	if l != Logger {
		t.Error("GetLogger() should return the global logger")
	}
}

func TestSetLevel(t *testing.T) {
	original := GetLevel()
	defer func() {
		_ = SetLevel(original)
	}()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "debug", input: "debug", want: "debug"},
		{name: "upper case", input: "WARN", want: "warn"},
		{name: "padded", input: "  error ", want: "error"},
		{name: "invalid", input: "verbose", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SetLevel(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("SetLevel(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("SetLevel(%q): %v", tt.input, err)
			}
			if got := GetLevel(); got != tt.want {
				t.Fatalf("GetLevel() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSetLevelAppliesToInitializedLogger(t *testing.T) {
	originalLogger := Logger
	original := GetLevel()
	defer func() {
		Logger = originalLogger
		_ = SetLevel(original)
	}()

	ResetLogger()
	InitLogger()

	if err := SetLevel("error"); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	if Logger.Core().Enabled(-1) {
		t.Error("debug should be disabled at error level")
	}

	if err := SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	if !Logger.Core().Enabled(-1) {
		t.Error("debug should be enabled after SetLevel(debug)")
	}
}
