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

package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/innovationmech/kvnotify/pkg/dispatch"
	"github.com/innovationmech/kvnotify/pkg/kvstore"
)

// ReasonView is the JSON form of a cached reason.
type ReasonView struct {
	Code   int                  `json:"code"`
	Name   string               `json:"name"`
	Action kvstore.ReasonAction `json:"action"`
}

// PendingView lists the reasons cached for one key.
type PendingView struct {
	Key     string       `json:"key"`
	Reasons []ReasonView `json:"reasons"`
}

// PendingList is the response of GET /v1/pending.
type PendingList struct {
	Keys  []PendingView  `json:"keys"`
	Stats dispatch.Stats `json:"stats"`
}

func (s *Server) health(c *gin.Context) {
	stats := s.source.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"store":           s.config.StoreName,
		"callbacks":       stats.Callbacks,
		"pending_reasons": stats.PendingReasons,
	})
}

func (s *Server) listPending(c *gin.Context) {
	keys := s.source.PendingKeys()
	out := PendingList{Keys: make([]PendingView, 0, len(keys))}
	for _, key := range keys {
		reasons := s.source.Pending(key)
		if len(reasons) == 0 {
			continue
		}
		out.Keys = append(out.Keys, PendingView{Key: key, Reasons: views(reasons)})
	}
	out.Stats = s.source.Stats()
	c.JSON(http.StatusOK, out)
}

func (s *Server) getPending(c *gin.Context) {
	// Keys may contain slashes, so the route uses a catch-all parameter.
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}
	reasons := s.source.Pending(key)
	if len(reasons) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending changes", "key": key})
		return
	}
	c.JSON(http.StatusOK, PendingView{Key: key, Reasons: views(reasons)})
}

func views(reasons []kvstore.Reason) []ReasonView {
	out := make([]ReasonView, len(reasons))
	for i, r := range reasons {
		out[i] = ReasonView{Code: int(r), Name: r.String(), Action: kvstore.ActionFor(r)}
	}
	return out
}
