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
	"io"
	"sync"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/innovationmech/kvnotify/pkg/kvnotify"
	"github.com/innovationmech/kvnotify/pkg/kvstore"
	"github.com/innovationmech/kvnotify/pkg/logger"
)

// Printer writes one line per delivered change.
type Printer struct {
	mu      sync.Mutex
	out     io.Writer
	key     *color.Color
	reason  *color.Color
	actions map[kvstore.ReasonAction]*color.Color
}

// NewPrinter creates a Printer. colored forces ANSI colors on or off.
func NewPrinter(out io.Writer, colored bool) *Printer {
	p := &Printer{
		out:    out,
		key:    color.New(color.Bold),
		reason: color.New(color.FgHiBlack),
		actions: map[kvstore.ReasonAction]*color.Color{
			kvstore.CloudValueAction:   color.New(color.FgGreen),
			kvstore.CachedValueAction:  color.New(color.FgYellow),
			kvstore.DefaultValueAction: color.New(color.FgCyan),
			kvstore.IgnoreAction:       color.New(color.Faint),
		},
	}
	for _, c := range p.all() {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *Printer) all() []*color.Color {
	out := []*color.Color{p.key, p.reason}
	for _, c := range p.actions {
		out = append(out, c)
	}
	return out
}

// Callback returns the update callback printing changes of key. A failed
// write is returned so the change stays pending.
func (p *Printer) Callback(key string) kvnotify.UpdateCallback {
	return func(reason kvstore.Reason) error {
		action := kvstore.ActionFor(reason)
		logger.GetLogger().Info("key changed",
			zap.String("key", key),
			zap.String("reason", reason.String()),
			zap.String("action", string(action)))

		p.mu.Lock()
		defer p.mu.Unlock()
		_, err := fmt.Fprintf(p.out, "%s %s -> %s\n",
			p.key.Sprint(key),
			p.reason.Sprint(reason.String()),
			p.actions[action].Sprint(string(action)))
		return err
	}
}
