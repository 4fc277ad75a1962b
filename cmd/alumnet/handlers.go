package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vovakirdan/alumnet-sdk-go/alumnet"
	"github.com/vovakirdan/alumnet-sdk-go/alumnet/rest"
)

// =============================================================================
// Session Handlers
// =============================================================================

func runLogin(cmd *cobra.Command, opts *globalOptions, email, password string) error {
	password, err := resolvePassword(cmd, password)
	if err != nil {
		return err
	}
	client, err := opts.newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	user, err := client.Login(cmd.Context(), email, password)
	if user == nil {
		return err
	}
	reportRealtime(cmd, err)
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s <%s>\n", user.Name, user.Email)
	return nil
}

func runRegister(cmd *cobra.Command, opts *globalOptions, name, email, password string) error {
	password, err := resolvePassword(cmd, password)
	if err != nil {
		return err
	}
	client, err := opts.newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	user, err := client.Register(cmd.Context(), rest.RegisterRequest{
		Name:                 name,
		Email:                email,
		Password:             password,
		PasswordConfirmation: password,
	})
	if user == nil {
		return err
	}
	reportRealtime(cmd, err)
	fmt.Fprintf(cmd.OutOrStdout(), "Account created, signed in as %s\n", user.Name)
	return nil
}

func runLogout(cmd *cobra.Command, opts *globalOptions) error {
	client, err := opts.session(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Logout(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
	return nil
}

func runWhoami(cmd *cobra.Command, opts *globalOptions) error {
	client, err := opts.session(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	user := client.CurrentUser()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s <%s> (id %d)\n", user.Name, user.Email, user.ID)
	if user.Role != "" {
		fmt.Fprintf(out, "role: %s\n", user.Role)
	}
	cred := client.Connection().Credential()
	if !cred.ExpiresAt.IsZero() {
		fmt.Fprintf(out, "credential expires: %s\n", cred.ExpiresAt.Local().Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(out, "realtime: %s\n", client.Connection().State())
	return nil
}

// resolvePassword takes the flag, then $ALUMNET_PASSWORD, then prompts.
func resolvePassword(cmd *cobra.Command, password string) (string, error) {
	if password != "" {
		return password, nil
	}
	if env := os.Getenv("ALUMNET_PASSWORD"); env != "" {
		return env, nil
	}

	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		text, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimSpace(string(text)), nil
	}
	text, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	if text = strings.TrimSpace(text); text == "" {
		return "", errors.New("password is required")
	}
	return text, nil
}

// reportRealtime warns when the session started but live updates did not.
func reportRealtime(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(cmd.ErrOrStderr(), color.YellowString("live updates unavailable: %v", err))
}

func errInvalidID(s string) error {
	return fmt.Errorf("invalid id %q", s)
}

// stateColor renders a connection state for the terminal.
func stateColor(s alumnet.ConnectionState) string {
	switch s {
	case alumnet.StateConnected:
		return color.GreenString("%s", s.String())
	case alumnet.StateConnecting:
		return color.YellowString("%s", s.String())
	case alumnet.StateError:
		return color.RedString("%s", s.String())
	default:
		return color.WhiteString("%s", s.String())
	}
}
