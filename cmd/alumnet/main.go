// Command alumnet is a terminal client for the alumni network: account
// session, direct messages with live delivery and typing indicators, the
// alumni directory and the events catalog.
//
//	alumnet login --email me@example.com
//	alumnet peers
//	alumnet chat 2
//	alumnet monitor --auto-reconnect
//
// Configuration is read from --config (or ALUMNET_CONFIG), a YAML file in
// the format of alumnet.Config. The session is kept in the store directory
// between invocations.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/alumnet-sdk-go/alumnet"
	"github.com/vovakirdan/alumnet-sdk-go/alumnet/store"
)

var (
	version = "dev"
	commit  = "none"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
	restURL    string
	wsURL      string
	storeDir   string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := buildRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:          "alumnet",
		Short:        "Alumni network client",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := parseLevel(opts.logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(newColorHandler(cmd.ErrOrStderr(), level)))
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", os.Getenv("ALUMNET_CONFIG"), "Path to YAML configuration file")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.restURL, "rest-url", "", "API base URL, overrides the config file")
	flags.StringVar(&opts.wsURL, "ws-url", "", "Broadcast server websocket URL, overrides the config file")
	flags.StringVar(&opts.storeDir, "store-dir", "", "Session store directory (default: user config dir)")

	root.AddCommand(
		buildLoginCmd(opts),
		buildRegisterCmd(opts),
		buildLogoutCmd(opts),
		buildWhoamiCmd(opts),
		buildPeersCmd(opts),
		buildHistoryCmd(opts),
		buildChatCmd(opts),
		buildMonitorCmd(opts),
		buildAlumniCmd(opts),
		buildEventsCmd(opts),
	)
	return root
}

// loadConfig resolves the SDK configuration from the file and flag overrides.
func (o *globalOptions) loadConfig() (alumnet.Config, error) {
	cfg := alumnet.DefaultConfig()
	if o.configPath != "" {
		loaded, err := alumnet.LoadConfig(o.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if o.restURL != "" {
		cfg.RESTBaseURL = o.restURL
	}
	if o.wsURL != "" {
		cfg.URL = o.wsURL
	}
	switch {
	case o.storeDir != "":
		cfg.StoreDir = o.storeDir
	case cfg.StoreDir == "":
		dir, err := os.UserConfigDir()
		if err != nil {
			return cfg, fmt.Errorf("locate config dir: %w", err)
		}
		cfg.StoreDir = filepath.Join(dir, "alumnet")
	}
	return cfg, nil
}

// newClient builds an SDK client logging through the default slog logger.
func (o *globalOptions) newClient() (*alumnet.Client, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return newClient(cfg)
}

func newClient(cfg alumnet.Config) (*alumnet.Client, error) {
	client, err := alumnet.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	client.SetLogger(alumnet.NewSlogLogger(slog.Default().With("component", "sdk")))
	return client, nil
}

// session builds a client and resumes the saved session.
func (o *globalOptions) session(ctx context.Context) (*alumnet.Client, error) {
	client, err := o.newClient()
	if err != nil {
		return nil, err
	}
	if _, err := client.Restore(ctx); err != nil && !alumnet.IsTransportError(err) {
		_ = client.Close()
		if alumnet.IsAuthError(err) || errors.Is(err, store.ErrNoSession) {
			return nil, errors.New("not logged in: run 'alumnet login' first")
		}
		return nil, err
	}
	return client, nil
}
