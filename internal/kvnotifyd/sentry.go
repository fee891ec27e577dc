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

package kvnotifyd

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/innovationmech/kvnotify/internal/kvnotifyd/cmd/version"
	"github.com/innovationmech/kvnotify/pkg/dispatch"
	"github.com/innovationmech/kvnotify/pkg/logger"
)

// SentryConfig configures error reporting.
type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
	Debug       bool    `mapstructure:"debug"`
}

// Reporter sends callback panics and store faults to Sentry. A nil
// Reporter discards everything.
type Reporter struct {
	hub *sentry.Hub
}

// NewReporter returns nil when reporting is disabled.
func NewReporter(cfg SentryConfig, beforeSend func(*sentry.Event, *sentry.EventHint) *sentry.Event) (*Reporter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          "kvnotify@" + version.Version,
		SampleRate:       cfg.SampleRate,
		Debug:            cfg.Debug,
		AttachStacktrace: true,
		BeforeSend:       beforeSend,
	})
	if err != nil {
		return nil, fmt.Errorf("init sentry: %w", err)
	}
	logger.GetLogger().Info("sentry reporting enabled", zap.String("environment", cfg.Environment))
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// PanicHandler reports recovered callback panics tagged with the key.
func (r *Reporter) PanicHandler() dispatch.PanicHandler {
	if r == nil {
		return nil
	}
	return func(key string, recovered interface{}) {
		r.hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("key", key)
			r.hub.Recover(recovered)
		})
	}
}

// CaptureError reports err with the given operation tag.
func (r *Reporter) CaptureError(op string, err error) {
	if r == nil || err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("operation", op)
		r.hub.CaptureException(err)
	})
}

// Flush waits for queued events up to timeout.
func (r *Reporter) Flush(timeout time.Duration) {
	if r == nil {
		return
	}
	r.hub.Flush(timeout)
}
