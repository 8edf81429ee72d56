package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"codestreak/backend/api"
	"codestreak/internal/credentials"
	"codestreak/internal/notification"
	"codestreak/internal/utils"
)

// Version is set at build time
var Version = "dev"

// Result codes for CLI output (used in no-prompt mode)
const (
	ResultActionCompleted = "ACTION_COMPLETED"
	ResultInfoOnly        = "INFO_ONLY"
	ResultError           = "ERROR"
)

// Config holds application configuration
type Config struct {
	NoPrompt     bool
	Verbose      bool
	OutputFormat string
	ConfigPath   string                       // Path to config file (for testing)
	Keyring      credentials.Keyring          // Token store (for testing)
	Getenv       func(string) string          // Environment lookup for the token fallback (for testing)
	Stdin        io.Reader                    // Prompt input (for testing)
	AvatarDir    string                       // Avatar download directory (for testing)
	Notify       notification.CommandExecutor // Desktop notification runner (for testing)
}

// Execute runs the CLI with the given arguments and IO writers
func Execute(args []string, stdout, stderr io.Writer, cfg *Config) int {
	if cfg == nil {
		cfg = &Config{}
	}
	rootCmd := NewCodestreak(stdout, stderr, cfg)

	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if containsJSONFlag(args) || cfg.OutputFormat == "json" {
			outputErrorJSON(err, stdout)
		} else {
			_, _ = fmt.Fprintln(stderr, "Error:", err)
			if cfg.NoPrompt {
				_, _ = fmt.Fprintln(stdout, ResultError)
			}
		}
		return 1
	}
	return 0
}

// containsJSONFlag checks if args contain --json flag
func containsJSONFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--json" {
			return true
		}
	}
	return false
}

// NewCodestreak creates the root command with injectable IO
func NewCodestreak(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	if cfg == nil {
		cfg = &Config{}
	}

	cmd := &cobra.Command{
		Use:     "codestreak",
		Short:   "Track your coding streak from the terminal",
		Long:    "codestreak shows your streak, revision queue and friends, served from a local cache and refreshed in the background.",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "Path to the config file")
	cmd.PersistentFlags().BoolP("no-prompt", "y", false, "Disable interactive prompts")
	cmd.PersistentFlags().BoolP("verbose", "V", false, "Enable verbose/debug output")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")

	cmd.AddCommand(newLoginCmd(stdout, stderr, cfg))
	cmd.AddCommand(newRegisterCmd(stdout, stderr, cfg))
	cmd.AddCommand(newLogoutCmd(stdout, stderr, cfg))
	cmd.AddCommand(newAccountCmd(stdout, stderr, cfg))
	cmd.AddCommand(newHomeCmd(stdout, stderr, cfg))
	cmd.AddCommand(newFriendsCmd(stdout, stderr, cfg))
	cmd.AddCommand(newRevisionsCmd(stdout, stderr, cfg))
	cmd.AddCommand(newCacheCmd(stdout, stderr, cfg))
	cmd.AddCommand(newTokenCmd(stdout, stderr, cfg))
	cmd.AddCommand(newConfigCmd(stdout, stderr, cfg))
	cmd.AddCommand(newWatchCmd(stdout, stderr, cfg))
	cmd.AddCommand(newDashboardCmd(stdout, stderr, cfg))
	cmd.AddCommand(newNotifyCmd(stdout, stderr, cfg))
	cmd.AddCommand(newVersionCmd(stdout))

	return cmd
}

// newVersionCmd creates the 'version' subcommand
func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _ = fmt.Fprintf(stdout, "codestreak Version: %s\n", Version)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// applyFlags copies the global flags into cfg.
func applyFlags(cmd *cobra.Command, cfg *Config) {
	if noPrompt, _ := cmd.Flags().GetBool("no-prompt"); noPrompt {
		cfg.NoPrompt = true
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Verbose = true
	}
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		cfg.OutputFormat = "json"
	}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		cfg.ConfigPath = path
	}
}

// runFunc is the body of a command that needs the wired application.
type runFunc func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error

// withApp builds the application for one command run and tears it down afterwards.
func withApp(stdout, stderr io.Writer, cfg *Config, fn runFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		applyFlags(cmd, cfg)

		a, err := newApp(cmd.Context(), cfg, stdout, stderr)
		if err != nil {
			return err
		}
		runErr := fn(a.ctx, a, cmd, args)
		if err := a.Close(); err != nil {
			utils.Log().Debug().Err(err).Msg("shutdown incomplete")
		}
		return a.explain(runErr)
	}
}

// explain turns transport and session errors into errors with a suggestion.
func (a *app) explain(err error) error {
	if err == nil {
		return nil
	}
	var suggestion *utils.ErrorWithSuggestion
	if errors.As(err, &suggestion) {
		return err
	}

	switch {
	case errors.Is(err, api.ErrNoToken):
		return utils.ErrNotLoggedIn()
	case errors.Is(err, api.ErrUnauthorized):
		return utils.ErrSessionExpired()
	case errors.Is(err, api.ErrCircuitOpen):
		return utils.ErrServerOffline(a.client.BaseURL(), err.Error())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return utils.ErrServerOffline(a.client.BaseURL(), err.Error())
	}
	return err
}

// errorResponse is the --json error envelope.
type errorResponse struct {
	Error      string `json:"error"`
	Suggestion string `json:"suggestion,omitempty"`
	Code       int    `json:"code"`
	Result     string `json:"result"`
}

// outputErrorJSON outputs an error in JSON format
func outputErrorJSON(err error, stdout io.Writer) {
	response := errorResponse{
		Error:  err.Error(),
		Code:   1,
		Result: ResultError,
	}
	var suggestion *utils.ErrorWithSuggestion
	if errors.As(err, &suggestion) {
		response.Error = suggestion.Err.Error()
		response.Suggestion = suggestion.GetSuggestion()
	}

	jsonBytes, _ := json.Marshal(response)
	_, _ = fmt.Fprintln(stdout, string(jsonBytes))
}

// writeJSON prints v as one JSON document.
func writeJSON(w io.Writer, v any) error {
	out, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w, string(out))
	return nil
}

// infoOnly emits the no-prompt result code for read-only commands.
func (a *app) infoOnly() {
	if a.noPrompt() && !a.jsonOutput() {
		_, _ = fmt.Fprintln(a.stdout, ResultInfoOnly)
	}
}

// actionCompleted emits the no-prompt result code for mutating commands.
func (a *app) actionCompleted() {
	if a.noPrompt() && !a.jsonOutput() {
		_, _ = fmt.Fprintln(a.stdout, ResultActionCompleted)
	}
}
