package notification

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// desktopChannel sends notifications via OS-native notification systems
type desktopChannel struct {
	executor CommandExecutor
	platform string
}

// NewDesktopChannel creates a channel for the current platform.
func NewDesktopChannel(opts ...Option) Channel {
	ch := &desktopChannel{platform: runtime.GOOS}
	for _, opt := range opts {
		opt(ch)
	}
	if ch.executor == nil {
		ch.executor = &realCommandExecutor{}
	}
	return ch
}

// Send sends a notification via the OS notification system
func (c *desktopChannel) Send(n Notification) error {
	switch c.platform {
	case "linux":
		return c.executor.Execute("notify-send", "--app-name=codestreak", n.Title, n.Message)
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`,
			escapeAppleScript(n.Message), escapeAppleScript(n.Title))
		return c.executor.Execute("osascript", "-e", script)
	case "windows":
		return c.executor.Execute("powershell", "-Command", windowsScript(n))
	default:
		return fmt.Errorf("unsupported platform: %s", c.platform)
	}
}

// escapeAppleScript escapes backslashes and double quotes for an AppleScript string literal.
func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// escapePowerShell escapes backticks, double quotes and dollar signs for a
// PowerShell double-quoted string.
func escapePowerShell(s string) string {
	s = strings.ReplaceAll(s, "`", "``")
	s = strings.ReplaceAll(s, `"`, "`\"")
	s = strings.ReplaceAll(s, "$", "`$")
	return s
}

func windowsScript(n Notification) string {
	return fmt.Sprintf(`
Add-Type -AssemblyName System.Windows.Forms
$notification = New-Object System.Windows.Forms.NotifyIcon
$notification.Icon = [System.Drawing.SystemIcons]::Information
$notification.BalloonTipTitle = "%s"
$notification.BalloonTipText = "%s"
$notification.Visible = $true
$notification.ShowBalloonTip(5000)
`, escapePowerShell(n.Title), escapePowerShell(n.Message))
}

// Close cleans up resources
func (c *desktopChannel) Close() error {
	return nil
}

// realCommandExecutor executes real system commands
type realCommandExecutor struct{}

// Execute runs a command
func (e *realCommandExecutor) Execute(cmd string, args ...string) error {
	return exec.Command(cmd, args...).Run()
}
