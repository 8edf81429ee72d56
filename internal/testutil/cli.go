// Package testutil provides shared test utilities: a fake codestreak API
// server, a wired client environment and the CLI harness.
package testutil

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"codestreak/cmd/codestreak/cmd"
	"codestreak/internal/credentials"
)

// testConfig points the CLI at the fake server and a temp store. Avatar
// download and the background log file are off so tests leave no files behind.
const testConfig = `api:
  base_url: %s
  max_retries: 1
  timeout: 5s
storage:
  driver: %s
  path: %s
avatar:
  enabled: false
logging:
  level: info
  background_enabled: false
`

// CLITest provides a test helper for running CLI commands in isolation.
// Every command of one CLITest shares the store, the keyring and the fake server.
type CLITest struct {
	t          *testing.T
	cfg        *cmd.Config
	tmpDir     string
	configPath string

	Fake    *FakeAPI
	Keyring *credentials.MockKeyring
}

// NewCLITest creates a CLI test helper over a sqlite store in a temp directory.
func NewCLITest(t *testing.T) *CLITest {
	t.Helper()
	return NewCLITestWithDriver(t, "sqlite")
}

// NewCLITestWithDriver creates a CLI test helper using the named store driver.
func NewCLITestWithDriver(t *testing.T, driver string) *CLITest {
	t.Helper()

	tmpDir := t.TempDir()
	fake := NewFakeAPI(t)
	kr := credentials.NewMockKeyring()

	storePath := filepath.Join(tmpDir, "cache.db")
	if driver == "badger" {
		storePath = filepath.Join(tmpDir, "badger")
	}

	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(fmt.Sprintf(testConfig, fake.URL(), driver, storePath)), 0644); err != nil {
		t.Fatalf("failed to create config file: %v", err)
	}

	cfg := &cmd.Config{
		NoPrompt:   true,
		ConfigPath: configPath,
		Keyring:    kr,
		Getenv:     func(string) string { return "" },
		AvatarDir:  filepath.Join(tmpDir, "avatar"),
	}

	return &CLITest{
		t:          t,
		cfg:        cfg,
		tmpDir:     tmpDir,
		configPath: configPath,
		Fake:       fake,
		Keyring:    kr,
	}
}

// Config returns the CLI config for direct manipulation.
func (c *CLITest) Config() *cmd.Config {
	return c.cfg
}

// TmpDir returns the temporary directory for the test.
func (c *CLITest) TmpDir() string {
	return c.tmpDir
}

// ConfigPath returns the path to the test config file.
func (c *CLITest) ConfigPath() string {
	return c.configPath
}

// AppendConfig appends raw YAML to the test config file.
func (c *CLITest) AppendConfig(yaml string) {
	c.t.Helper()
	f, err := os.OpenFile(c.configPath, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		c.t.Fatalf("failed to open config file: %v", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(yaml); err != nil {
		c.t.Fatalf("failed to write config file: %v", err)
	}
}

// SetStorage rewrites the config file to use another store.
func (c *CLITest) SetStorage(driver, path string) {
	c.t.Helper()
	if err := os.WriteFile(c.configPath, []byte(fmt.Sprintf(testConfig, c.Fake.URL(), driver, path)), 0644); err != nil {
		c.t.Fatalf("failed to write config file: %v", err)
	}
}

// SetStdin feeds input to the next command's prompts.
func (c *CLITest) SetStdin(input string) {
	c.cfg.Stdin = strings.NewReader(input)
}

// Login signs in through the 'login' command.
func (c *CLITest) Login(username, password string) {
	c.t.Helper()
	c.SetStdin(password + "\n")
	c.MustExecute("login", username)
}

// Token returns the stored session token, or "" when signed out.
func (c *CLITest) Token() string {
	token, err := c.Keyring.Get(credentials.ServiceName, credentials.TokenAccount)
	if err != nil {
		return ""
	}
	return token
}

// Execute runs a CLI command with the given arguments and returns stdout, stderr, and exit code.
func (c *CLITest) Execute(args ...string) (stdout, stderr string, exitCode int) {
	c.t.Helper()

	var stdoutBuf, stderrBuf bytes.Buffer
	exitCode = cmd.Execute(args, &stdoutBuf, &stderrBuf, c.cfg)
	return stdoutBuf.String(), stderrBuf.String(), exitCode
}

// MustExecute runs a CLI command and fails the test if exit code is non-zero.
func (c *CLITest) MustExecute(args ...string) string {
	c.t.Helper()

	stdout, stderr, exitCode := c.Execute(args...)
	if exitCode != 0 {
		c.t.Fatalf("expected exit code 0, got %d: stdout=%s stderr=%s", exitCode, stdout, stderr)
	}
	return stdout
}

// ExecuteAndFail runs a CLI command and fails the test if exit code is zero.
func (c *CLITest) ExecuteAndFail(args ...string) (stdout, stderr string) {
	c.t.Helper()

	stdout, stderr, exitCode := c.Execute(args...)
	if exitCode == 0 {
		c.t.Fatalf("expected non-zero exit code, got 0: stdout=%s", stdout)
	}
	return stdout, stderr
}

// AssertContains fails the test if output doesn't contain expected string.
func AssertContains(t *testing.T, output, expected string) {
	t.Helper()
	if !strings.Contains(output, expected) {
		t.Errorf("expected output to contain %q, got:\n%s", expected, output)
	}
}

// AssertNotContains fails the test if output contains unexpected string.
func AssertNotContains(t *testing.T, output, unexpected string) {
	t.Helper()
	if strings.Contains(output, unexpected) {
		t.Errorf("expected output NOT to contain %q, got:\n%s", unexpected, output)
	}
}

// AssertExitCode fails the test if exit code doesn't match expected.
func AssertExitCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("expected exit code %d, got %d", want, got)
	}
}

// AssertResultCode verifies that the output ends with the expected result code.
func AssertResultCode(t *testing.T, output, expectedCode string) {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) == 0 {
		t.Errorf("expected result code %q but output is empty", expectedCode)
		return
	}
	lastLine := strings.TrimSpace(lines[len(lines)-1])
	if lastLine != expectedCode {
		t.Errorf("expected result code %q, got %q\nFull output:\n%s", expectedCode, lastLine, output)
	}
}

// Result code constants for convenience.
const (
	ResultActionCompleted = cmd.ResultActionCompleted
	ResultInfoOnly        = cmd.ResultInfoOnly
	ResultError           = cmd.ResultError
)
