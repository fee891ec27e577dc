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

package config

import (
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"

	"github.com/innovationmech/kvnotify/pkg/config/testutil"
)

type testConfig struct {
	Store struct {
		Type  string `mapstructure:"type"`
		Redis struct {
			Addr string `mapstructure:"addr"`
			DB   int    `mapstructure:"db"`
		} `mapstructure:"redis"`
	} `mapstructure:"store"`
	Dispatch struct {
		QueueSize   int    `mapstructure:"queue_size"`
		FlushPolicy string `mapstructure:"flush_policy"`
	} `mapstructure:"dispatch"`
}

func TestHierarchicalPrecedence(t *testing.T) {
	sb := testutil.NewSandbox(t)
	sb.SetEnv("KVNOTIFY_STORE_REDIS_ADDR", "redis-env:6379")
	sb.SetEnv("KVNOTIFY_DISPATCH_QUEUE_SIZE", "2048")

	sb.WriteFile("kvnotify.yaml", `
store:
  type: memory
  redis:
    addr: "redis-base:6379"
    db: 1
dispatch:
  queue_size: 16
  flush_policy: drop
`)

	sb.WriteFile("kvnotify.prod.yaml", `
store:
  type: redis
  redis:
    addr: "redis-prod:6379"
dispatch:
  flush_policy: requeue
`)

	sb.WriteFile("kvnotify.override.yaml", `
store:
  redis:
    addr: "redis-local:6379"
dispatch:
  queue_size: 512
`)

	m := NewManager(Options{
		WorkDir:            sb.Dir,
		ConfigBaseName:     "kvnotify",
		ConfigType:         "yaml",
		EnvironmentName:    "prod",
		OverrideFilename:   "kvnotify.override.yaml",
		EnvPrefix:          "KVNOTIFY",
		EnableAutomaticEnv: true,
	})

	m.SetDefault("store.redis.addr", "localhost:6379")
	m.SetDefault("dispatch.queue_size", 256)
	m.SetDefault("dispatch.flush_policy", "drop")

	if err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	var cfg testConfig
	if err := m.Unmarshal(&cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// defaults < base < prod < override < env vars
	if got, want := cfg.Store.Redis.Addr, "redis-env:6379"; got != want {
		t.Fatalf("store.redis.addr = %s, want %s", got, want)
	}
	if got, want := cfg.Dispatch.QueueSize, 2048; got != want {
		t.Fatalf("dispatch.queue_size = %d, want %d", got, want)
	}
	if got, want := cfg.Dispatch.FlushPolicy, "requeue"; got != want {
		t.Fatalf("dispatch.flush_policy = %s, want %s", got, want)
	}
	if got, want := cfg.Store.Type, "redis"; got != want {
		t.Fatalf("store.type = %s, want %s", got, want)
	}
	// Nested keys the upper layers leave alone survive the merge.
	if got, want := cfg.Store.Redis.DB, 1; got != want {
		t.Fatalf("store.redis.db = %d, want %d", got, want)
	}

	files := m.LoadedFiles()
	if len(files) != 3 {
		t.Fatalf("loaded files = %v, want 3 entries", files)
	}
	if got, want := files[1], filepath.Join(sb.Dir, "kvnotify.prod.yaml"); got != want {
		t.Fatalf("loaded[1] = %s, want %s", got, want)
	}
}

func TestMissingFilesAreIgnored(t *testing.T) {
	sb := testutil.NewSandbox(t)
	sb.WriteFile("kvnotify.yaml", `store: { type: "consul" }`)

	m := NewManager(DefaultOptions())
	m.options.WorkDir = sb.Dir
	m.options.EnvironmentName = "staging"

	if err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	var cfg testConfig
	if err := m.Unmarshal(&cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got, want := cfg.Store.Type, "consul"; got != want {
		t.Fatalf("store.type = %s, want %s", got, want)
	}
	if got := len(m.LoadedFiles()); got != 1 {
		t.Fatalf("loaded files = %d, want 1", got)
	}
}

func TestBrokenFileFailsLoad(t *testing.T) {
	sb := testutil.NewSandbox(t)
	sb.WriteFile("kvnotify.yaml", "store: [unterminated")

	m := NewManager(Options{WorkDir: sb.Dir})
	if err := m.Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestBindFlagWins(t *testing.T) {
	sb := testutil.NewSandbox(t)
	sb.WriteYAML("kvnotify.yaml", map[string]interface{}{
		"logging": map[string]interface{}{"level": "warn"},
	})

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("log-level", "info", "")
	if err := fs.Parse([]string{"--log-level=debug"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	m := NewManager(Options{WorkDir: sb.Dir})
	if err := m.BindFlag("logging.level", fs.Lookup("log-level")); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got, want := m.GetString("logging.level"), "debug"; got != want {
		t.Fatalf("logging.level = %s, want %s", got, want)
	}

	if err := m.BindFlag("missing", nil); err == nil {
		t.Fatalf("expected error for nil flag")
	}
}

func TestFilePath(t *testing.T) {
	m := NewManager(Options{WorkDir: "/etc/kvnotify", ConfigType: "yml"})
	if got, want := m.FilePath(BaseLayer), "/etc/kvnotify/kvnotify.yaml"; got != want {
		t.Fatalf("base = %s, want %s", got, want)
	}
	if got := m.FilePath(EnvironmentFileLayer); got != "" {
		t.Fatalf("env file without environment = %q, want empty", got)
	}
	if got, want := m.FilePath(OverrideFileLayer), "/etc/kvnotify/kvnotify.override.yaml"; got != want {
		t.Fatalf("override = %s, want %s", got, want)
	}
	if got, want := EnvironmentVariablesLayer.String(), "environment_variables"; got != want {
		t.Fatalf("layer name = %s, want %s", got, want)
	}
}

func TestUnmarshalNilTarget(t *testing.T) {
	m := NewManager(DefaultOptions())
	if err := m.Unmarshal(nil); err == nil {
		t.Fatalf("expected error for nil target")
	}
}
