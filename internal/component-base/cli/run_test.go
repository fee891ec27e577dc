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

package cli

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
)

func TestRunContext(t *testing.T) {
	var got context.Context
	cmd := &cobra.Command{
		Use: "sample",
		RunE: func(cmd *cobra.Command, args []string) error {
			got = cmd.Context()
			return nil
		},
	}
	cmd.SetArgs([]string{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.NoError(t, RunContext(ctx, cmd))
	if assert.NotNil(t, got) {
		cancel()
		<-got.Done()
	}
}

func TestRunReturnsCommandError(t *testing.T) {
	cmd := &cobra.Command{
		Use:           "sample",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			return errors.New("boom")
		},
	}
	cmd.SetArgs([]string{})
	assert.EqualError(t, Run(cmd), "boom")
}
