package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"codestreak/backend/api"
	"codestreak/internal/auth"
	"codestreak/internal/credentials"
	"codestreak/internal/utils"
)

// newLoginCmd creates the 'login' subcommand
func newLoginCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "login [username]",
		Short: "Sign in and store the session token",
		Long:  "Sign in with your username and password. The password is read from the terminal without echo.",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(stdout, stderr, cfg, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			var username string
			if len(args) == 1 {
				username = args[0]
			} else {
				var err error
				if username, err = a.prompt.Ask("Username: "); err != nil {
					return fmt.Errorf("read username: %w", err)
				}
			}

			password, err := a.prompt.Password("Password: ")
			if err != nil {
				return err
			}

			st, err := a.auth.Login(ctx, username, password)
			if err != nil {
				return authFailure(err)
			}
			return a.reportSession(st, "Logged in as %s")
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// newRegisterCmd creates the 'register' subcommand
func newRegisterCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "register <username> <email>",
		Short: "Create an account and sign in",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(stdout, stderr, cfg, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			password, err := a.prompt.Password("Choose a password: ")
			if err != nil {
				return err
			}
			st, err := a.auth.Register(ctx, args[0], args[1], password)
			if err != nil {
				return authFailure(err)
			}
			return a.reportSession(st, "Account created, logged in as %s")
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// newLogoutCmd creates the 'logout' subcommand
func newLogoutCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear every cached entry",
		Args:  cobra.NoArgs,
		RunE: withApp(stdout, stderr, cfg, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if !a.auth.IsAuthenticated(ctx) {
				_, _ = fmt.Fprintln(a.stdout, "Not logged in")
				a.infoOnly()
				return nil
			}
			if err := a.auth.Logout(ctx); err != nil {
				return fmt.Errorf("logout: %w", err)
			}
			if a.jsonOutput() {
				return writeJSON(a.stdout, map[string]any{"authenticated": false, "result": ResultActionCompleted})
			}
			_, _ = fmt.Fprintln(a.stdout, "Logged out")
			a.actionCompleted()
			return nil
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// newAccountCmd creates the 'account' subcommand
func newAccountCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	accountCmd := &cobra.Command{
		Use:   "account",
		Short: "Manage your account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	accountCmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Permanently delete your account",
		Long:  "Delete your account on the server and clear every local trace of it. Asks for confirmation unless -y is given.",
		Args:  cobra.NoArgs,
		RunE: withApp(stdout, stderr, cfg, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(ctx); err != nil {
				return err
			}
			if !a.noPrompt() {
				name := a.auth.State().Username
				if name == "" {
					name = "this account"
				}
				if !a.prompt.Confirm(fmt.Sprintf("Permanently delete %s? This cannot be undone", name)) {
					_, _ = fmt.Fprintln(a.stdout, "Cancelled")
					return nil
				}
			}
			if err := a.auth.DeleteAccount(ctx); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(a.stdout, "Account deleted")
			a.actionCompleted()
			return nil
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	})

	return accountCmd
}

// newTokenCmd creates the 'token' subcommand for the stored session token
func newTokenCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect or import the session token",
		Long:  "Manage the session token kept in the system keyring.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	handler := func(a *app) *credentials.CLIHandler {
		return credentials.NewCLIHandler(a.tokens, a.prompt.Reader(), a.stdout)
	}

	tokenCmd.AddCommand(&cobra.Command{
		Use:   "import",
		Short: "Store a token created elsewhere",
		Args:  cobra.NoArgs,
		RunE: withApp(stdout, stderr, cfg, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			return handler(a).Import(ctx)
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	})
	tokenCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show where the token is read from",
		Args:  cobra.NoArgs,
		RunE: withApp(stdout, stderr, cfg, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			return handler(a).Status(ctx, a.jsonOutput())
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	})
	tokenCmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Remove the token without clearing the cache",
		Args:  cobra.NoArgs,
		RunE: withApp(stdout, stderr, cfg, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			return handler(a).Delete(ctx)
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	})

	return tokenCmd
}

// reportSession prints the signed-in user.
func (a *app) reportSession(st auth.State, format string) error {
	if a.jsonOutput() {
		return writeJSON(a.stdout, map[string]any{
			"authenticated": st.Authenticated,
			"username":      st.Username,
			"result":        ResultActionCompleted,
		})
	}
	_, _ = fmt.Fprintf(a.stdout, format+"\n", st.Username)
	a.actionCompleted()
	return nil
}

// authFailure maps a rejected login or registration to a suggestion.
// Server failures pass through unchanged.
func authFailure(err error) error {
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.IsServerError() {
		return err
	}
	reason := strings.TrimSpace(apiErr.Message)
	if reason == "" {
		reason = "invalid username or password"
	}
	return utils.ErrAuthenticationFailed(reason)
}
