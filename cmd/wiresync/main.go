package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wiresync/internal/app"
	"github.com/vovakirdan/wiresync/internal/config"
	"github.com/vovakirdan/wiresync/internal/identity"
	applog "github.com/vovakirdan/wiresync/internal/log"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "wiresync",
		Short:         "Decentralized chat node with a local HTTP and WebSocket gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to the YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(newServeCmd(opts), newTokenCmd(opts))
	return root
}

// load reads the config file and environment, then applies the flag
// overrides.
func (o *rootOptions) load(overrides config.Config) (config.Config, *zerolog.Logger, error) {
	bootLogger := applog.NewWithWriter(o.logLevel, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	cfg, path, err := config.Load(bootLogger, o.configPath)
	if err != nil {
		return cfg, bootLogger, err
	}
	overrides.LogLevel = o.logLevel
	cfg.UpdateFrom(overrides)

	logger := applog.New(cfg.LogLevel)
	logger.Debug().Str("path", path).Msg("config loaded")
	return cfg, logger, nil
}

func newServeCmd(root *rootOptions) *cobra.Command {
	var flags config.Config
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the node and its gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load(flags)
			if err != nil {
				return err
			}

			application, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			if err := application.Run(cmd.Context()); err != nil {
				return fmt.Errorf("server exited with error: %w", err)
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.HTTP.Addr, "addr", "", "HTTP listen address")
	f.DurationVar(&flags.HTTP.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	f.StringVar(&flags.Network.Driver, "driver", "", "network driver (jetstream, gossip, memory)")
	f.StringVar(&flags.Network.JetStream.URL, "nats-url", "", "NATS server URL for the jetstream driver")
	f.StringSliceVar(&flags.Network.Gossip.BootstrapPeers, "bootstrap", nil, "libp2p bootstrap peer multiaddrs for the gossip driver")
	f.StringVar(&flags.Store.Path, "store", "", "SQLite message store path")
	f.StringVar(&flags.Wallet.Address, "wallet", "", "wallet address to connect on start")
	return cmd
}

func newTokenCmd(root *rootOptions) *cobra.Command {
	var (
		address string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a gateway bearer token for a wallet address",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := root.load(config.Config{})
			if err != nil {
				return err
			}
			tokens := app.TokenConfig(cfg.Auth)
			if ttl > 0 {
				tokens.TTL = ttl
			}

			token, err := identity.IssueToken(tokens, address, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "wallet address the token is bound to")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, defaults to auth.ttl")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}
