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

package watch

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/innovationmech/kvnotify/internal/kvnotifyd"
	"github.com/innovationmech/kvnotify/pkg/config"
	"github.com/innovationmech/kvnotify/pkg/discovery"
	"github.com/innovationmech/kvnotify/pkg/kvnotify"
	"github.com/innovationmech/kvnotify/pkg/kvstore"
	"github.com/innovationmech/kvnotify/pkg/logger"
	"github.com/innovationmech/kvnotify/pkg/metrics"
	"github.com/innovationmech/kvnotify/pkg/tracing"
)

// flagBindings maps watch flags to configuration keys.
var flagBindings = map[string]string{
	"log-level":     "logging.level",
	"store":         "store.type",
	"keys":          "watch.keys",
	"flush-policy":  "dispatch.flush_policy",
	"http":          "http.enabled",
	"http-addr":     "http.address",
	"sync-interval": "watch.sync_interval",
	"register":      "discovery.enabled",
	"trace":         "tracing.enabled",
}

// NewWatchCmd creates the watch command.
func NewWatchCmd() *cobra.Command {
	var (
		configDir string
		env       string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch keys of the configured store",
		Long: `Subscribe to the configured key-value store and print every change of
the watched keys. Changes of keys without a callback stay pending and can
be inspected through the status server.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			logger.InitLogger()
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := config.DefaultOptions()
			opts.WorkDir = configDir
			opts.EnvironmentName = env
			manager := config.NewManager(opts)

			for name, key := range flagBindings {
				if err := manager.BindFlag(key, cmd.Flags().Lookup(name)); err != nil {
					return err
				}
			}
			return run(cmd, manager)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configDir, "config-dir", ".", "directory holding kvnotify.yaml")
	flags.StringVar(&env, "env", "", "environment file to merge, e.g. prod for kvnotify.prod.yaml")
	flags.String("log-level", "info", "log level")
	flags.String("store", kvnotifyd.StoreMemory, "store type: memory, redis, nats, consul, file, sql, kafka or amqp")
	flags.StringSlice("keys", nil, "keys to watch")
	flags.String("flush-policy", "drop", "replay failure policy: drop or requeue")
	flags.Bool("http", false, "serve status endpoints")
	flags.String("http-addr", ":9464", "status server address")
	flags.Duration("sync-interval", 0, "synchronize periodically; 0 disables")
	flags.Bool("register", false, "register the status server with Consul")
	flags.Bool("trace", false, "export notification and callback spans")

	return cmd
}

func run(cmd *cobra.Command, manager *config.Manager) error {
	cfg, err := kvnotifyd.LoadConfig(manager)
	if err != nil {
		return err
	}
	if err := logger.SetLevel(cfg.Logging.Level); err != nil {
		return err
	}
	log := logger.GetLogger()
	log.Debug("configuration loaded", zap.Strings("files", manager.LoadedFiles()))

	reporter, err := kvnotifyd.NewReporter(cfg.Sentry, nil)
	if err != nil {
		return err
	}

	var registrar *discovery.Registrar
	if cfg.Discovery.Enabled {
		if registrar, err = discovery.NewRegistrar(cfg.Discovery); err != nil {
			return err
		}
	}

	tracer, err := tracing.New(cmd.Context(), cfg.Tracing)
	if err != nil {
		return err
	}

	collector := metrics.NewPrometheusCollector(&cfg.Metrics)
	kvnotify.SetStoreFactory(func() (kvstore.Store, error) {
		return kvnotifyd.OpenStore(cfg.Store)
	}, kvnotifyd.ServiceOptions(cfg, collector, reporter, tracer)...)

	// A store that cannot synchronize ends the process here.
	service := kvnotify.Shared()

	cfg.Watch.Color = cfg.Watch.Color && !color.NoColor
	app := kvnotifyd.NewApp(cfg, kvnotifyd.Deps{
		Service:   service,
		Collector: collector,
		Reporter:  reporter,
		Registrar: registrar,
		Tracing:   tracer,
		Out:       cmd.OutOrStdout(),
	})
	return app.Run(cmd.Context())
}
