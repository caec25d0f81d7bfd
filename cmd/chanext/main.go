package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bft-labs/chanext"
	"github.com/bft-labs/chanext/internal/cliconfig"
	logAdapter "github.com/bft-labs/chanext/pkg/log"
	"github.com/bft-labs/chanext/pkg/layer"
	"github.com/bft-labs/chanext/pkg/registry"
	"github.com/bft-labs/chanext/pkg/scope"
	"github.com/bft-labs/chanext/pkg/sites"
	"github.com/bft-labs/chanext/pkg/tracing"
	"github.com/bft-labs/chanext/pkg/worker"
	"github.com/bft-labs/chanext/plugins/configwatcher"
)

const helpDescription = `
chanext inspects and exercises channel layers.

  - Lists the layers configured under [layers.<alias>] in the config file.
  - Creates specific channel names and checks delivery through a layer.
  - Runs a channel worker with tracing and current-site middleware.
`

var exampleUsage = strings.TrimSpace(`
  chanext layers
  chanext ping --alias null --timeout 200ms
  chanext worker --channel thumbnails --channel mail --site-db /var/lib/chanext/sites
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// cli carries the resolved configuration and logger shared by subcommands.
type cli struct {
	cfg    cliconfig.Config
	logger *logAdapter.ZerologAdapter
	log    zerolog.Logger
	plugin *configwatcher.Plugin
}

func (c *cli) setLogger(level zerolog.Level) {
	c.logger = cliconfig.Logger(level)
	c.log = c.logger.Logger()
}

func main() {
	c := &cli{cfg: cliconfig.DefaultConfig()}
	c.setLogger(zerolog.InfoLevel)

	root := &cobra.Command{
		Use:           "chanext",
		Short:         "Inspect and exercise channel layers",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd)
		},
	}

	root.PersistentFlags().StringVar(&c.cfg.ConfigPath, "config", "", "path to config file (default: $HOME/.chanext/config.toml)")
	root.PersistentFlags().StringVar(&c.cfg.LogLevel, "log-level", c.cfg.LogLevel, "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&c.cfg.Alias, "alias", c.cfg.Alias, "channel layer alias")

	root.AddCommand(
		c.layersCmd(),
		c.newChannelCmd(),
		c.pingCmd(),
		c.workerCmd(),
		c.versionCmd(),
	)

	if err := root.Execute(); err != nil {
		c.log.Error().Err(err).Msg("chanext")
		os.Exit(1)
	}
}

// load resolves configuration: defaults < config file < environment < flags.
func (c *cli) load(cmd *cobra.Command) error {
	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if err := cliconfig.ApplyEnvConfig(&c.cfg, changed); err != nil {
		return err
	}

	cfgFile := c.cfg.ConfigPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}
	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(&c.cfg, fc, changed); err != nil {
			return err
		}
		// The environment wins over the file.
		if err := cliconfig.ApplyEnvConfig(&c.cfg, changed); err != nil {
			return err
		}
	}
	c.cfg.ConfigPath = cfgFile

	if err := c.cfg.Validate(); err != nil {
		return err
	}

	c.setLogger(c.cfg.Level())
	c.log.Debug().Interface("config", c.cfg).Msg("configuration")
	return nil
}

// registry builds the layer registry from the config file, optionally with
// the config watcher plugin.
func (c *cli) registry(watch bool) (*registry.Registry, error) {
	opts := []registry.Option{registry.WithLogger(c.logger)}
	if watch && c.cfg.Watch {
		c.plugin = configwatcher.New(configwatcher.Config{
			Path:          c.cfg.ConfigPath,
			DebounceDelay: c.cfg.DebounceDelay,
		})
		opts = append(opts, registry.WithPlugin(c.plugin))
	}
	r, err := chanext.Configure(c.cfg.ConfigPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("configure layers: %w", err)
	}
	return r, nil
}

func (c *cli) layersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "layers",
		Short: "List configured channel layers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.registry(false)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ALIAS\tBACKEND\tCAPACITY\tEXPIRY\tEXTENSIONS")
			for _, alias := range r.Aliases() {
				lc, _ := r.Lookup(alias)
				l, err := r.Get(alias)
				if err != nil {
					return err
				}
				cfg := lc.Layer.WithDefaults()
				exts := make([]string, 0, len(l.Extensions()))
				for _, ext := range l.Extensions() {
					exts = append(exts, string(ext))
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%ds\t%s\n", alias, lc.Backend, cfg.Capacity, cfg.Expiry, strings.Join(exts, ","))
			}
			return tw.Flush()
		},
	}
}

func (c *cli) newChannelCmd() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "new-channel",
		Short: "Print a fresh specific channel name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.registry(false); err != nil {
				return err
			}
			l, err := chanext.GetLayer(c.cfg.Alias)
			if err != nil {
				return err
			}
			name, err := l.NewChannel(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), name)
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", layer.DefaultPrefix, "channel name prefix")
	return cmd
}

func (c *cli) pingCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Send a message through a layer and wait for it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.registry(false); err != nil {
				return err
			}
			l, err := chanext.GetLayer(c.cfg.Alias)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			name, err := l.NewChannel(ctx, "ping")
			if err != nil {
				return err
			}
			start := time.Now()
			if err := l.Send(ctx, name, layer.Message{"type": "chanext.ping", "sent_at": start.UnixNano()}); err != nil {
				return fmt.Errorf("send: %w", err)
			}

			_, err = l.Receive(ctx, name)
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				fmt.Fprintf(cmd.OutOrStdout(), "%s: no delivery within %s on %s\n", c.cfg.Alias, timeout, name)
				return nil
			case err != nil:
				return fmt.Errorf("receive: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: delivered in %s on %s\n", c.cfg.Alias, time.Since(start), name)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Second, "how long to wait for delivery")
	return cmd
}

func (c *cli) workerCmd() *cobra.Command {
	var channels []string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume channels and log every message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(channels) == 0 {
				return errors.New("at least one --channel is required")
			}

			r, err := c.registry(true)
			if err != nil {
				return err
			}

			provider, closeStore, err := c.siteProvider()
			if err != nil {
				return err
			}
			defer closeStore()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := r.Start(ctx); err != nil {
				return fmt.Errorf("start registry: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = r.Close(shutdownCtx)
			}()

			binding := r.Bind(c.cfg.Alias)
			l, err := binding.Layer()
			if err != nil {
				return err
			}

			app := scope.Chain(c.logApp(),
				tracing.Middleware(),
				sites.Middleware(provider),
			)
			// The binding re-resolves the alias after every config reload.
			w := worker.New(l, app, channels,
				worker.WithSource(binding),
				worker.WithLogger(c.logger),
			)
			err = w.Run(ctx)
			if c.plugin != nil {
				c.log.Info().
					Int64("reloads", c.plugin.Reloads()).
					Int64("rejected", c.plugin.Failures()).
					Msg("config watcher summary")
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&channels, "channel", nil, "channel to consume (repeatable)")
	cmd.Flags().StringVar(&c.cfg.SiteDB, "site-db", c.cfg.SiteDB, "site store directory (default: in-memory store)")
	cmd.Flags().Int64Var(&c.cfg.SiteID, "site-id", c.cfg.SiteID, "site ID to attach; 0 resolves by host header")
	cmd.Flags().BoolVar(&c.cfg.Watch, "watch", c.cfg.Watch, "reload layers when the config file changes")
	cmd.Flags().DurationVar(&c.cfg.DebounceDelay, "debounce", c.cfg.DebounceDelay, "delay before reloading a changed config file")
	return cmd
}

// siteProvider opens the site store. Without --site-db an in-memory store
// seeded with a localhost site is used.
func (c *cli) siteProvider() (sites.Provider, func(), error) {
	storeLogger := sites.WithStoreLogger(c.logger)

	var (
		store *sites.Store
		err   error
	)
	if c.cfg.SiteDB != "" {
		store, err = sites.Open(c.cfg.SiteDB, storeLogger)
	} else {
		store, err = sites.OpenInMemory(storeLogger)
		if err == nil && c.cfg.SiteID > 0 {
			err = store.Put(context.Background(), sites.Site{ID: c.cfg.SiteID, Domain: "localhost", Name: "localhost"})
		}
	}
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, nil, err
	}
	return sites.NewCurrentProvider(store, c.cfg.SiteID), func() { _ = store.Close() }, nil
}

// logApp logs each message together with the site it was handled for.
func (c *cli) logApp() scope.Application {
	return scope.ApplicationFunc(func(ctx context.Context, s scope.Scope, receive scope.ReceiveFunc, send scope.SendFunc) error {
		msg, err := receive(ctx)
		if err != nil {
			return err
		}
		site, _ := sites.FromScope(s)
		c.log.Info().
			Str("channel", s.String("channel")).
			Str("site", site.Domain).
			Interface("type", msg["type"]).
			Msg("message received")
		return nil
	})
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print module versions",
		Args:  cobra.NoArgs,
		// version needs no configuration.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "chanext\t%s\t%s/%s\n", getVersion(), runtime.GOOS, runtime.GOARCH)
			for _, v := range chanext.Versions() {
				fmt.Fprintf(tw, "%s\t%s\t(min %s)\n", v.Name, v.Version, v.MinCompatibleVersion)
			}
			return tw.Flush()
		},
	}
}
