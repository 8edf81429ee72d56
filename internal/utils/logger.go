package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// Logger provides leveled logging with verbose mode support.
type Logger struct {
	mu      sync.RWMutex
	verbose bool
	out     io.Writer
	zl      zerolog.Logger
}

var (
	loggerInstance *Logger
	once           sync.Once
)

// GetLogger returns the process-wide logger instance.
func GetLogger() *Logger {
	once.Do(func() {
		loggerInstance = newLogger(os.Stderr, false)
	})
	return loggerInstance
}

func newLogger(out io.Writer, verbose bool) *Logger {
	l := &Logger{out: out}
	l.configure(verbose)
	return l
}

// configure rebuilds the zerolog logger (must be called with mu held or before publication).
func (l *Logger) configure(verbose bool) {
	l.verbose = verbose
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{
		Out:        l.out,
		TimeFormat: "15:04:05",
		NoColor:    true,
	}
	l.zl = zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

// SetVerboseMode sets the verbose mode globally.
func SetVerboseMode(verbose bool) {
	GetLogger().SetVerbose(verbose)
}

// SetOutput redirects the global logger (tests, background log files).
func SetOutput(w io.Writer) {
	l := GetLogger()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
	l.configure(l.verbose)
}

// SetVerbose sets the verbose mode for this logger instance.
func (l *Logger) SetVerbose(verbose bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configure(verbose)
}

// Zerolog returns the underlying structured logger.
func (l *Logger) Zerolog() zerolog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.zl
}

// Log returns the global structured logger for field-based logging:
//
//	utils.Log().Warn().Str("key", k).Err(err).Msg("cache decode failed")
func Log() *zerolog.Logger {
	zl := GetLogger().Zerolog()
	return &zl
}

// BackgroundLogger writes logs of background refreshes to a PID-specific file,
// so failures swallowed by the UI can still be inspected.
type BackgroundLogger struct {
	zl       zerolog.Logger
	logFile  *os.File
	enabled  bool
	filePath string
}

// NewBackgroundLoggerWithEnabled creates a background logger with explicit enabled control.
// Pass config.IsBackgroundLoggingEnabled() to honor the logging.background_enabled config.
func NewBackgroundLoggerWithEnabled(enabled bool) (*BackgroundLogger, error) {
	if !enabled {
		return &BackgroundLogger{zl: zerolog.Nop()}, nil
	}

	logPath := filepath.Join(os.TempDir(), fmt.Sprintf("codestreak-%d.log", os.Getpid()))
	return NewBackgroundLoggerWithPath(logPath)
}

// NewBackgroundLoggerWithPath creates a background logger with a custom path.
func NewBackgroundLoggerWithPath(path string) (*BackgroundLogger, error) {
	bl := &BackgroundLogger{
		filePath: path,
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		// Gracefully degrade to a no-op logger
		bl.zl = zerolog.Nop()
		return bl, err
	}

	bl.logFile = file
	bl.zl = zerolog.New(file).With().Timestamp().Int("pid", os.Getpid()).Logger()
	bl.enabled = true
	return bl, nil
}

// Logger returns the structured logger writing to the background file.
func (bl *BackgroundLogger) Logger() *zerolog.Logger {
	return &bl.zl
}

// Close closes the log file.
func (bl *BackgroundLogger) Close() {
	if bl.logFile != nil {
		_ = bl.logFile.Close()
		bl.logFile = nil
	}
	bl.zl = zerolog.Nop()
	bl.enabled = false
}

// Path returns the log file path, or "" when background logging is off.
func (bl *BackgroundLogger) Path() string {
	return bl.filePath
}

// IsEnabled returns whether background logging is enabled.
func (bl *BackgroundLogger) IsEnabled() bool {
	return bl.enabled
}
