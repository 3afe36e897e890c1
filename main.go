package main

import (
	"chatline/internal/commands"
	"chatline/internal/config"
	"chatline/internal/topic"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newLogger(level string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatline",
		Short:         "Live conversation client and local messaging platform",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "chat [channel|@user]",
			Short: "Open a conversation and chat from the terminal",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(config.ModeChat)
				if err != nil {
					return err
				}
				initial := "general"
				if len(args) == 1 {
					initial = args[0]
				}
				// The terminal belongs to the conversation, logs go to stderr.
				log := newLogger(cfg.LogLevel, cmd.ErrOrStderr())
				return commands.RunChat(cmd.Context(), cfg, initial, cmd.InOrStdin(), cmd.OutOrStdout(), log)
			},
		},
		&cobra.Command{
			Use:   "platform",
			Short: "Run the local dev messaging platform",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(config.ModePlatform)
				if err != nil {
					return err
				}
				return commands.RunPlatform(cmd.Context(), cfg, newLogger(cfg.LogLevel, cmd.ErrOrStderr()))
			},
		},
		newAddClientCmd(),
		&cobra.Command{
			Use:   "topic USER USER",
			Short: "Print the direct message topic of two users",
			Args:  cobra.ExactArgs(2),
			Run: func(cmd *cobra.Command, args []string) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), topic.DirectTopic(args[0], args[1]))
			},
		},
	)
	return root
}

func newAddClientCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "add-client NAME",
		Short: "Create a platform client through the admin API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.ModeCLI)
			if err != nil {
				return err
			}
			return commands.AddClient(args[0], id, cfg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "client id (generated when empty)")
	return cmd
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}
