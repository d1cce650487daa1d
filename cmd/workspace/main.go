// Package main is the workspace command-line client. It drives the same
// directory, session and switcher units a UI would, over NATS.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/chat-workspace/internal/config"
	natsclient "github.com/capitalize-ai/chat-workspace/internal/nats"
	"github.com/capitalize-ai/chat-workspace/internal/workspace"
	"github.com/capitalize-ai/chat-workspace/pkg/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

type globalFlags struct {
	natsURL  string
	timeout  time.Duration
	logLevel string
}

var flags globalFlags

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "workspace",
	Short:         "Chat workspace client",
	Long:          `workspace lists, organizes and chats in conversations held by a workspaced daemon.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&flags.natsURL, "nats-url", "", "NATS server URL (default $NATS_URL)")
	rootCmd.PersistentFlags().DurationVar(&flags.timeout, "timeout", 0, "command timeout (default $COMMAND_TIMEOUT)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "log level written to stderr")
}

// conn is one CLI invocation's connection and workspace.
type conn struct {
	ws     *workspace.Workspace
	log    *logger.Logger
	client *natsclient.Client
}

func (s *conn) Close() {
	s.client.Close()
	s.log.Sync()
}

// connect loads configuration, applies flag overrides and builds a workspace
// over the NATS transport.
func connect(ctx context.Context) (*conn, error) {
	cfg := config.Load()
	if flags.natsURL != "" {
		cfg.NATSURL = flags.natsURL
	}
	if flags.timeout > 0 {
		cfg.CommandTimeout = flags.timeout
	}

	log, err := logger.NewWithOutput(flags.logLevel, "stderr")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	client, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		Name:     "workspace-cli",
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	ws := workspace.New(natsclient.NewTransport(client, cfg.CommandTimeout), log, workspace.Options{
		HistoryLimit: cfg.HistoryLimit,
	})
	return &conn{ws: ws, log: log, client: client}, nil
}

// withSession runs fn with a connection bound to the command's context.
func withSession(fn func(cmd *cobra.Command, args []string, s *conn) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()
		return fn(cmd, args, s)
	}
}
