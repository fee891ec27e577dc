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

// Package config loads layered kvnotify configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Layer is one level of the configuration hierarchy.
//
// Precedence (low to high): Defaults < Base < EnvironmentFile < OverrideFile < EnvironmentVariables
type Layer int

const (
	// DefaultsLayer holds values set via SetDefault.
	DefaultsLayer Layer = iota
	// BaseLayer is the base file, e.g. kvnotify.yaml.
	BaseLayer
	// EnvironmentFileLayer is the per-environment file, e.g. kvnotify.prod.yaml.
	EnvironmentFileLayer
	// OverrideFileLayer is the local override file, e.g. kvnotify.override.yaml.
	OverrideFileLayer
	// EnvironmentVariablesLayer holds KVNOTIFY_* variables.
	EnvironmentVariablesLayer
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case DefaultsLayer:
		return "defaults"
	case BaseLayer:
		return "base"
	case EnvironmentFileLayer:
		return "environment_file"
	case OverrideFileLayer:
		return "override_file"
	case EnvironmentVariablesLayer:
		return "environment_variables"
	default:
		return fmt.Sprintf("layer_%d", int(l))
	}
}

// Options configures the Manager.
type Options struct {
	// WorkDir resolves relative config file paths.
	WorkDir string

	// ConfigBaseName is the file name without extension (default: "kvnotify").
	ConfigBaseName string

	// ConfigType is yaml, yml or json. Default: "yaml".
	ConfigType string

	// EnvironmentName selects the environment file, e.g. "dev" for kvnotify.dev.yaml.
	EnvironmentName string

	// OverrideFilename defaults to "kvnotify.override.yaml".
	OverrideFilename string

	// EnvPrefix is the environment variable prefix (default: "KVNOTIFY").
	EnvPrefix string

	// EnableAutomaticEnv binds env vars with dots mapped to underscores.
	EnableAutomaticEnv bool
}

// DefaultOptions returns the options used by the kvnotify binary.
func DefaultOptions() Options {
	return Options{
		WorkDir:            ".",
		ConfigBaseName:     "kvnotify",
		ConfigType:         "yaml",
		OverrideFilename:   "kvnotify.override.yaml",
		EnvPrefix:          "KVNOTIFY",
		EnableAutomaticEnv: true,
	}
}

// Manager merges the configuration layers into one viper instance.
type Manager struct {
	mu      sync.RWMutex
	v       *viper.Viper
	options Options
	loaded  []string
}

// NewManager creates a Manager.
func NewManager(options Options) *Manager {
	v := viper.New()
	if options.ConfigType == "" {
		options.ConfigType = "yaml"
	}
	if options.ConfigBaseName == "" {
		options.ConfigBaseName = "kvnotify"
	}
	if options.WorkDir == "" {
		options.WorkDir = "."
	}

	if options.EnableAutomaticEnv {
		if options.EnvPrefix != "" {
			v.SetEnvPrefix(options.EnvPrefix)
		}
		v.AutomaticEnv()
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	}

	return &Manager{v: v, options: options}
}

// SetDefault sets the default for key.
func (m *Manager) SetDefault(key string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.v.SetDefault(key, value)
}

// SetDefaults sets every entry of defaults, keyed by dotted path.
func (m *Manager) SetDefaults(defaults map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range defaults {
		m.v.SetDefault(key, value)
	}
}

// BindFlag binds a command line flag to key. A flag the user set wins
// over every other layer.
func (m *Manager) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("bind %s: nil flag", key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.BindPFlag(key, flag)
}

// Load merges the file layers in precedence order. Missing files are
// skipped. Environment variables are applied on read.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = m.loaded[:0]

	if err := m.mergeFileIfExists(m.filePathFor(BaseLayer)); err != nil {
		return fmt.Errorf("load base config: %w", err)
	}

	if m.options.EnvironmentName != "" {
		if err := m.mergeFileIfExists(m.filePathFor(EnvironmentFileLayer)); err != nil {
			return fmt.Errorf("load env config: %w", err)
		}
	}

	if err := m.mergeFileIfExists(m.filePathFor(OverrideFileLayer)); err != nil {
		return fmt.Errorf("load override config: %w", err)
	}
	return nil
}

// LoadedFiles returns the files merged by the last Load, in order.
func (m *Manager) LoadedFiles() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.loaded))
	copy(out, m.loaded)
	return out
}

// Unmarshal decodes the merged settings into target.
func (m *Manager) Unmarshal(target interface{}) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if target == nil {
		return errors.New("target must not be nil")
	}
	return m.v.Unmarshal(target)
}

// Get returns the merged value of key.
func (m *Manager) Get(key string) interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.v.Get(key)
}

// GetString returns the merged value of key as a string.
func (m *Manager) GetString(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.v.GetString(key)
}

// AllSettings returns the merged settings.
func (m *Manager) AllSettings() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.v.AllSettings()
}

// MergeConfigMap merges settings below the file layers.
func (m *Manager) MergeConfigMap(settings map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.MergeConfigMap(settings)
}

// FilePath returns the file used for layer, or "" for layers without one.
func (m *Manager) FilePath(layer Layer) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filePathFor(layer)
}

func (m *Manager) filePathFor(layer Layer) string {
	dir := m.options.WorkDir
	base := m.options.ConfigBaseName
	switch layer {
	case BaseLayer:
		return filepath.Join(dir, fmt.Sprintf("%s.%s", base, m.normalizedConfigExt()))
	case EnvironmentFileLayer:
		if m.options.EnvironmentName == "" {
			return ""
		}
		env := m.options.EnvironmentName
		return filepath.Join(dir, fmt.Sprintf("%s.%s.%s", base, strings.ToLower(env), m.normalizedConfigExt()))
	case OverrideFileLayer:
		name := m.options.OverrideFilename
		if name == "" {
			name = fmt.Sprintf("%s.override.%s", base, m.normalizedConfigExt())
		}
		return filepath.Join(dir, name)
	default:
		return ""
	}
}

func (m *Manager) normalizedConfigExt() string {
	t := strings.ToLower(m.options.ConfigType)
	switch t {
	case "yml":
		return "yaml"
	case "yaml", "json":
		return t
	default:
		return "yaml"
	}
}

// mergeFileIfExists parses path into a scratch viper first so a broken
// file leaves the merged settings untouched.
func (m *Manager) mergeFileIfExists(path string) error {
	if path == "" {
		return nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	tmp := viper.New()
	tmp.SetConfigType(m.normalizedConfigExt())
	if err := tmp.ReadConfig(bytes.NewReader(content)); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if err := m.v.MergeConfigMap(tmp.AllSettings()); err != nil {
		return err
	}
	m.loaded = append(m.loaded, path)
	return nil
}
