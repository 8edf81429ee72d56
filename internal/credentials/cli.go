package credentials

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"codestreak/internal/utils"
)

// CLIHandler handles the 'codestreak token' commands
type CLIHandler struct {
	manager *Manager
	stdin   io.Reader
	stdout  io.Writer
}

// NewCLIHandler creates a new CLI handler for token commands
func NewCLIHandler(manager *Manager, stdin io.Reader, stdout io.Writer) *CLIHandler {
	return &CLIHandler{
		manager: manager,
		stdin:   stdin,
		stdout:  stdout,
	}
}

// Import reads a token from stdin and stores it in the keyring,
// for sessions created outside the CLI.
func (h *CLIHandler) Import(ctx context.Context) error {
	_, _ = fmt.Fprint(h.stdout, "Paste session token: ")
	scanner := bufio.NewScanner(h.stdin)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
		return errors.New("no input received")
	}
	token := strings.TrimSpace(scanner.Text())
	_, _ = fmt.Fprintln(h.stdout)

	if err := h.manager.SetToken(ctx, token); err != nil {
		if errors.Is(err, ErrKeyringNotAvailable) {
			return utils.ErrKeyringUnavailable(err)
		}
		return err
	}

	_, _ = fmt.Fprintln(h.stdout, "Token stored in system keyring")
	return nil
}

// Status reports where the token comes from without printing it.
func (h *CLIHandler) Status(ctx context.Context, jsonOutput bool) error {
	info, err := h.manager.Lookup(ctx)
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}

	if jsonOutput {
		out, err := info.JSON()
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(h.stdout, string(out))
		return nil
	}

	if !info.Found {
		_, _ = fmt.Fprintln(h.stdout, "No session token found")
		_, _ = fmt.Fprintln(h.stdout, "Searched:")
		_, _ = fmt.Fprintln(h.stdout, "  - System keyring: Not found")
		_, _ = fmt.Fprintf(h.stdout, "  - Environment variable %s: Not set\n", TokenEnvVar)
		_, _ = fmt.Fprintln(h.stdout, "\nSuggestion: Run 'codestreak login'")
		return nil
	}

	_, _ = fmt.Fprintf(h.stdout, "Source: %s\n", info.Source)
	_, _ = fmt.Fprintln(h.stdout, "Token: ******** (hidden)")
	_, _ = fmt.Fprintln(h.stdout, "Status: Available")
	return nil
}

// Delete removes the token from the keyring
func (h *CLIHandler) Delete(ctx context.Context) error {
	if err := h.manager.DeleteToken(ctx); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	_, _ = fmt.Fprintln(h.stdout, "Token removed from system keyring")
	return nil
}
