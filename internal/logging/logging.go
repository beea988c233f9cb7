package logging

import (
	"log/slog"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
	"golang.org/x/term"
)

// Setup initializes the global slog logger using charmbracelet/log as the backend.
// If the output is a terminal, uses colored text format. Otherwise, uses JSON format.
// Level resolution: verbose flag > LOG_LEVEL env > info.
func Setup(verbose bool) {
	handler := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
	})

	handler.SetLevel(resolveLevel(verbose))

	// Use plain format for non-TTY output
	if !isTerminal() || os.Getenv("NODE_ENV") == "production" {
		handler.SetFormatter(charmlog.JSONFormatter)
	}

	slog.SetDefault(slog.New(handler))
}

func resolveLevel(verbose bool) charmlog.Level {
	if verbose {
		return charmlog.DebugLevel
	}
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return charmlog.DebugLevel
	case "warn", "warning":
		return charmlog.WarnLevel
	case "error":
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}
