/*
Copyright © 2025 Jayson Grace <jayson.e.grace@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

// Package logging provides the console logger used by containmint.
//
// All logging goes through context-based functions (InfoContext,
// WarnContext, ...) so that the logger configured by the command layer
// reaches the broker client, remote executor and registry sessions. Every
// line is passed through the logger's Masker before it is written, which
// keeps registry passwords and broker API keys out of CI logs.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
)

// LogLevel represents the severity level of a log message
type LogLevel int

// OutputType represents the output format for logs
type OutputType int

// Output types for different log formats
const (
	PlainOutput OutputType = iota
	ColorOutput
	JSONOutput
)

// Log levels, ordered from least to most severe.
const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "INFO"
	}
}

// CustomLogger wraps the logging functionality with custom formatting options.
type CustomLogger struct {
	mu            sync.Mutex
	LogLevel      slog.Level
	OutputType    OutputType
	Quiet         bool
	Verbose       bool
	ConsoleWriter io.Writer
	OutputWriter  io.Writer
	Masker        *Masker
}

// NewCustomLogger creates a new instance of CustomLogger.
func NewCustomLogger(level slog.Level) *CustomLogger {
	return &CustomLogger{
		LogLevel:      level,
		ConsoleWriter: os.Stderr,
		OutputWriter:  os.Stdout,
		OutputType:    PlainOutput,
		Masker:        NewMasker(),
	}
}

// NewCustomLoggerWithOptions creates a new CustomLogger with full configuration.
func NewCustomLoggerWithOptions(logLevelStr, outputFormat string, quiet, verbose bool) *CustomLogger {
	logLevel := DetermineLogLevel(logLevelStr)

	outputType := PlainOutput
	switch outputFormat {
	case "json":
		outputType = JSONOutput
	case "color":
		outputType = ColorOutput
	case "text", "plain":
		outputType = PlainOutput
	}

	if verbose && logLevel > slog.LevelDebug {
		logLevel = slog.LevelDebug
	}

	return &CustomLogger{
		LogLevel:      logLevel,
		OutputType:    outputType,
		Quiet:         quiet,
		Verbose:       verbose,
		ConsoleWriter: os.Stderr,
		OutputWriter:  os.Stdout,
		Masker:        NewMasker(),
	}
}

func (l *CustomLogger) formatMessage(level LogLevel, message string) string {
	switch l.OutputType {
	case ColorOutput:
		switch level {
		case DebugLevel:
			return color.HiBlackString("[DEBUG] %s", message)
		case InfoLevel:
			return color.HiGreenString("[INFO] %s", message)
		case WarnLevel:
			return color.HiYellowString("[WARN] %s", message)
		case ErrorLevel:
			return color.HiRedString("[ERROR] %s", message)
		}
	case JSONOutput:
		line, err := json.Marshal(map[string]string{
			"level": level.String(),
			"msg":   message,
		})
		if err == nil {
			return string(line)
		}
	}
	return message
}

// shouldShowOnConsoleLocked must be called while holding l.mu.
// Quiet shows errors only, verbose shows everything, otherwise the
// configured level decides.
func (l *CustomLogger) shouldShowOnConsoleLocked(level LogLevel) bool {
	if l.Quiet {
		return level == ErrorLevel
	}
	if l.Verbose {
		return true
	}
	return levelToSlog(level) >= l.LogLevel
}

func levelToSlog(level LogLevel) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *CustomLogger) log(level LogLevel, message string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.shouldShowOnConsoleLocked(level) || l.ConsoleWriter == nil {
		return
	}

	msg := l.Masker.Mask(fmt.Sprintf(message, args...))
	line := l.formatMessage(level, msg)
	if l.OutputType != JSONOutput {
		line = fmt.Sprintf("[%s] %s", time.Now().Format("2006-01-02 15:04:05"), line)
	}

	if _, err := fmt.Fprintln(l.ConsoleWriter, line); err != nil {
		fmt.Fprintln(os.Stderr, line)
	}
}

// SetQuiet enables or disables quiet mode.
func (l *CustomLogger) SetQuiet(quiet bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Quiet = quiet
}

// SetVerbose enables or disables verbose mode.
func (l *CustomLogger) SetVerbose(verbose bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Verbose = verbose
}

// IsQuiet returns whether the logger is in quiet mode.
func (l *CustomLogger) IsQuiet() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Quiet
}

// AddSecret registers a value that must never appear in output.
func (l *CustomLogger) AddSecret(secret string) {
	l.Masker.Add(secret)
}

// Info logs an informational message.
func (l *CustomLogger) Info(format string, args ...interface{}) {
	l.log(InfoLevel, format, args...)
}

// Warn logs a warning message.
func (l *CustomLogger) Warn(format string, args ...interface{}) {
	l.log(WarnLevel, format, args...)
}

// Debug logs a debug message.
func (l *CustomLogger) Debug(format string, args ...interface{}) {
	l.log(DebugLevel, format, args...)
}

// Error logs an error message. It accepts either an error, a format string,
// or any other value as the first argument.
func (l *CustomLogger) Error(firstArg interface{}, args ...interface{}) {
	switch v := firstArg.(type) {
	case error:
		l.log(ErrorLevel, "%s", v.Error())
	case string:
		l.log(ErrorLevel, v, args...)
	default:
		l.log(ErrorLevel, "%v", v)
	}
}

// Output writes a command result to stdout. JSON output encodes data,
// otherwise it is printed with fmt.
func (l *CustomLogger) Output(data interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.OutputType == JSONOutput {
		encoder := json.NewEncoder(l.OutputWriter)
		encoder.SetIndent("", "  ")
		return encoder.Encode(data)
	}
	_, err := fmt.Fprintln(l.OutputWriter, l.Masker.Mask(fmt.Sprint(data)))
	return err
}

// Print writes raw, already newline-terminated text to stdout.
func (l *CustomLogger) Print(data string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = fmt.Fprint(l.OutputWriter, l.Masker.Mask(data))
}

// DetermineLogLevel converts a string to slog.Level
func DetermineLogLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type loggerKeyType struct{}

var loggerKey = loggerKeyType{}

// WithLogger returns a new context with the provided logger.
func WithLogger(ctx context.Context, l *CustomLogger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext retrieves the logger from the context.
// If no logger is found in context, returns a new default logger instance.
func FromContext(ctx context.Context) *CustomLogger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(*CustomLogger); ok && l != nil {
			return l
		}
	}
	return NewCustomLogger(slog.LevelInfo)
}

// InfoContext logs an informational message using the logger from context.
func InfoContext(ctx context.Context, message string, args ...interface{}) {
	FromContext(ctx).Info(message, args...)
}

// WarnContext logs a warning message using the logger from context.
func WarnContext(ctx context.Context, message string, args ...interface{}) {
	FromContext(ctx).Warn(message, args...)
}

// DebugContext logs a debug message using the logger from context.
func DebugContext(ctx context.Context, message string, args ...interface{}) {
	FromContext(ctx).Debug(message, args...)
}

// ErrorContext logs an error message using the logger from context.
func ErrorContext(ctx context.Context, firstArg interface{}, args ...interface{}) {
	FromContext(ctx).Error(firstArg, args...)
}

// OutputContext writes a command result using the logger from context.
func OutputContext(ctx context.Context, data interface{}) error {
	return FromContext(ctx).Output(data)
}

// PrintContext writes raw output to stdout using the logger from context.
func PrintContext(ctx context.Context, data string) {
	FromContext(ctx).Print(data)
}

// AddSecretContext registers secret with the logger from context.
func AddSecretContext(ctx context.Context, secret string) {
	FromContext(ctx).AddSecret(secret)
}
