// Package logger builds the process-wide zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// StderrFile selects stderr as the log destination. The MCP stdio server
// owns stdout, so it logs here instead.
const StderrFile = "stderr"

// InitWithOptions builds the root logger. logFile picks the destination:
// empty for stdout, StderrFile for stderr, anything else is a file opened for
// append with JSON lines. pretty switches console destinations to
// zerolog.ConsoleWriter and is ignored for files.
// The level comes from LOG_LEVEL (trace, debug, info, warn, error).
func InitWithOptions(logFile string, pretty bool) (zerolog.Logger, error) {
	level := parseLogLevel(os.Getenv("LOG_LEVEL"))

	out, dest, err := openOutput(logFile, pretty)
	if err != nil {
		return zerolog.Logger{}, err
	}

	log := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", filepath.Base(os.Args[0])).
		Logger()
	log.Info().Str("output", dest).Str("level", level.String()).Msg("Logger initialized")
	return log, nil
}

func openOutput(logFile string, pretty bool) (io.Writer, string, error) {
	var console io.Writer = os.Stdout
	dest := "stdout"

	switch logFile {
	case "":
	case StderrFile:
		console, dest = os.Stderr, "stderr"
	default:
		//nolint:gosec // G304: User-specified log file path is intentional
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}
		return file, logFile, nil
	}

	if pretty {
		return zerolog.ConsoleWriter{Out: console}, dest + " (pretty)", nil
	}
	return console, dest, nil
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
