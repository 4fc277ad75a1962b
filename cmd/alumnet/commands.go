package main

import (
	"strconv"

	"github.com/spf13/cobra"
)

// =============================================================================
// Session Commands
// =============================================================================

func buildLoginCmd(opts *globalOptions) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and save the session",
		Example: `  alumnet login --email jane@example.com
  ALUMNET_PASSWORD=secret alumnet login --email jane@example.com`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogin(cmd, opts, email, password)
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password (default: $ALUMNET_PASSWORD or prompt)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func buildRegisterCmd(opts *globalOptions) *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRegister(cmd, opts, name, email, password)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password (default: $ALUMNET_PASSWORD or prompt)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func buildLogoutCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the saved session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogout(cmd, opts)
		},
	}
}

func buildWhoamiCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWhoami(cmd, opts)
		},
	}
}

// =============================================================================
// Messaging Commands
// =============================================================================

func buildPeersCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List people you can message",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPeers(cmd, opts)
		},
	}
}

func buildHistoryCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history [peer-id]",
		Short: "Print the conversation with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runHistory(cmd, opts, peer)
		},
	}
}

func buildChatCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat [peer-id]",
		Short: "Chat with a peer interactively",
		Long: `Open a live conversation. Lines read from stdin are sent as messages;
incoming messages and typing indicators are printed as they arrive.
End with Ctrl+D or Ctrl+C.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runChat(cmd, opts, peer)
		},
	}
}

func buildMonitorCmd(opts *globalOptions) *cobra.Command {
	var mo monitorOptions
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch the realtime connection",
		Long: `Print every connection state change until interrupted.
Type "r" and Enter to reconnect manually.

With --channel the monitor also joins that channel and prints every
--event broadcast on it. Channels starting with "private-" are signed
through the API.`,
		Example: `  alumnet monitor --channel test-channel
  alumnet monitor --channel private-chat.2 --event MessageSent`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(cmd, opts, mo)
		},
	}
	cmd.Flags().BoolVar(&mo.autoReconnect, "auto-reconnect", false, "Retry with backoff after transport errors")
	cmd.Flags().BoolVar(&mo.metrics, "metrics", false, "Print SDK metrics on exit")
	cmd.Flags().StringVar(&mo.channel, "channel", "", "Channel to join and print events from")
	cmd.Flags().StringVar(&mo.event, "event", ".test-event", "Event to print on --channel (leading dot skips the namespace)")
	return cmd
}

// =============================================================================
// Directory Commands
// =============================================================================

func buildAlumniCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alumni",
		Short: "Browse the alumni directory",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List alumni",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runAlumniList(cmd, opts)
			},
		},
		&cobra.Command{
			Use:   "get [id]",
			Short: "Show one alumni record",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return runAlumniGet(cmd, opts, id)
			},
		},
		&cobra.Command{
			Use:   "delete [id]",
			Short: "Delete an alumni record (admin)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return runAlumniDelete(cmd, opts, id)
			},
		},
	)
	return cmd
}

func buildEventsCmd(opts *globalOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Browse and register for events",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List published events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEventsList(cmd, opts, all)
		},
	}
	list.Flags().BoolVar(&all, "all", false, "Include drafts (admin)")

	byID := func(use, short string, run func(*cobra.Command, *globalOptions, int64) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " [id]",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return run(cmd, opts, id)
			},
		}
	}

	cmd.AddCommand(
		list,
		byID("show", "Show one event", runEventShow),
		byID("register", "Register for an event", runEventRegister),
		byID("cancel", "Cancel your registration", runEventCancel),
		&cobra.Command{
			Use:   "mine",
			Short: "List events you registered for",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runEventsMine(cmd, opts)
			},
		},
	)
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidID(s)
	}
	return id, nil
}
