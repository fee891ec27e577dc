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

// Package discovery registers the kvnotify status endpoint with Consul.
package discovery

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/consul/api"
)

// Config configures the Consul registration.
type Config struct {
	Enabled       bool          `mapstructure:"enabled"`
	Address       string        `mapstructure:"address"`
	ServiceName   string        `mapstructure:"service_name"`
	AdvertiseHost string        `mapstructure:"advertise_host"`
	Tags          []string      `mapstructure:"tags"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	CheckTimeout  time.Duration `mapstructure:"check_timeout"`
}

// ApplyDefaults fills the unset fields.
func (c *Config) ApplyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "kvnotify"
	}
	if c.AdvertiseHost == "" {
		c.AdvertiseHost = "127.0.0.1"
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 10 * time.Second
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = 5 * time.Second
	}
}

// Registrar registers one service instance and removes it again.
type Registrar struct {
	client *api.Client
	config Config

	mu sync.Mutex
	id string
}

// NewRegistrar creates a Registrar. An empty Address uses the Consul
// client default.
func NewRegistrar(config Config) (*Registrar, error) {
	config.ApplyDefaults()
	apiConfig := api.DefaultConfig()
	if config.Address != "" {
		apiConfig.Address = config.Address
	}
	client, err := api.NewClient(apiConfig)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return &Registrar{client: client, config: config}, nil
}

// ServiceID returns the id used for an instance listening on port.
func (r *Registrar) ServiceID(port int) string {
	return fmt.Sprintf("%s-%s-%d", r.config.ServiceName, r.config.AdvertiseHost, port)
}

// Register announces the instance listening on port with an HTTP check
// against healthPath.
func (r *Registrar) Register(port int, healthPath string) error {
	if port <= 0 {
		return errors.New("discovery: port must be positive")
	}
	id := r.ServiceID(port)
	registration := &api.AgentServiceRegistration{
		ID:      id,
		Name:    r.config.ServiceName,
		Address: r.config.AdvertiseHost,
		Port:    port,
		Tags:    r.config.Tags,
		Check: &api.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d%s", r.config.AdvertiseHost, port, healthPath),
			Interval:                       r.config.CheckInterval.String(),
			Timeout:                        r.config.CheckTimeout.String(),
			DeregisterCriticalServiceAfter: "1m",
		},
	}
	if err := r.client.Agent().ServiceRegister(registration); err != nil {
		return fmt.Errorf("register %s: %w", id, err)
	}
	r.mu.Lock()
	r.id = id
	r.mu.Unlock()
	return nil
}

// Deregister removes the registered instance. It is a no-op when nothing
// is registered.
func (r *Registrar) Deregister() error {
	r.mu.Lock()
	id := r.id
	r.id = ""
	r.mu.Unlock()
	if id == "" {
		return nil
	}
	if err := r.client.Agent().ServiceDeregister(id); err != nil {
		return fmt.Errorf("deregister %s: %w", id, err)
	}
	return nil
}

// Registered returns the current service id, or "".
func (r *Registrar) Registered() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}
