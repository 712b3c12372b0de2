package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const redacted = "[REDACTED]"

// sensitiveKeys never reach the log output verbatim.
var sensitiveKeys = map[string]bool{
	"token":          true,
	"auth_token":     true,
	"authorization":  true,
	"password":       true,
	"redis_password": true,
	"secret":         true,
}

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

var levelColors = map[string]string{
	"level=DEBUG": colorCyan,
	"level=INFO":  colorGreen,
	"level=WARN":  colorYellow,
	"level=ERROR": colorRed,
}

// colorWriter paints the level token of slog text lines when writing to a TTY.
type colorWriter struct {
	writer io.Writer
}

func (cw *colorWriter) Write(p []byte) (int, error) {
	text := string(p)
	for token, color := range levelColors {
		text = strings.Replace(text, token, color+token+colorReset, 1)
	}
	if _, err := cw.writer.Write([]byte(text)); err != nil {
		return 0, err
	}
	return len(p), nil
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := file.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// New builds the process logger on stdout.
// Local and dev environments get text output (colored on a terminal); the rest get JSON.
func New(appName, level, environment string) *slog.Logger {
	return NewWithWriter(os.Stdout, appName, level, environment)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, appName, level, environment string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(level),
		AddSource:   true,
		ReplaceAttr: redactAttr,
	}

	var handler slog.Handler
	if isDevelopment(environment) {
		out := w
		if isTerminal(w) {
			out = &colorWriter{writer: w}
		}
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler).With("app", appName)
}

func isDevelopment(environment string) bool {
	switch strings.ToLower(strings.TrimSpace(environment)) {
	case "local", "dev", "development", "test":
		return true
	}
	return false
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] && a.Value.Kind() != slog.KindGroup {
		return slog.String(a.Key, redacted)
	}
	return a
}

func parseLevel(level string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
