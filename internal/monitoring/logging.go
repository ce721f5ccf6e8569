package monitoring

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hengadev/credhub"
)

// Log formats accepted by NewLogger
const (
	FormatJSON    = "json"
	FormatText    = "text"
	FormatConsole = "console"
)

// ParseLevel converts a configured level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: unknown log level %q", credhub.ErrInvalidConfiguration, level)
	}
}

// NewLogger builds the process logger from configuration. Output defaults to
// stderr so command output on stdout stays machine readable.
func NewLogger(cfg credhub.LoggingConfig, output io.Writer) (*slog.Logger, error) {
	if output == nil {
		output = os.Stderr
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Customize timestamp format
			if a.Key == slog.TimeKey && len(groups) == 0 {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339Nano))
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "", FormatJSON:
		handler = slog.NewJSONHandler(output, opts)
	case FormatText:
		handler = slog.NewTextHandler(output, opts)
	case FormatConsole:
		handler = NewConsoleHandler(output, opts)
	default:
		return nil, fmt.Errorf("%w: unknown log format %q", credhub.ErrInvalidConfiguration, cfg.Format)
	}

	return slog.New(handler).With(
		slog.String("service", "credhub"),
		slog.String("version", credhub.Version),
	), nil
}

// ConsoleHandler provides colorized console output
type ConsoleHandler struct {
	opts   *slog.HandlerOptions
	attrs  []slog.Attr
	output io.Writer
}

// NewConsoleHandler creates a new console handler
func NewConsoleHandler(output io.Writer, opts *slog.HandlerOptions) *ConsoleHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &ConsoleHandler{opts: opts, output: output}
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if h.opts.Level != nil {
		min = h.opts.Level.Level()
	}
	return level >= min
}

func (h *ConsoleHandler) Handle(_ context.Context, record slog.Record) error {
	var levelStr string
	switch record.Level {
	case slog.LevelDebug:
		levelStr = "\033[36mDEBUG\033[0m" // Cyan
	case slog.LevelInfo:
		levelStr = "\033[32mINFO\033[0m" // Green
	case slog.LevelWarn:
		levelStr = "\033[33mWARN\033[0m" // Yellow
	case slog.LevelError:
		levelStr = "\033[31mERROR\033[0m" // Red
	default:
		levelStr = record.Level.String()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", record.Time.Format("15:04:05.000"), levelStr, record.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%s", a.Key, a.Value)
	}
	record.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%s", a.Key, a.Value)
		return true
	})
	b.WriteByte('\n')

	_, err := io.WriteString(h.output, b.String())
	return err
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ConsoleHandler{
		opts:   h.opts,
		attrs:  append(append([]slog.Attr(nil), h.attrs...), attrs...),
		output: h.output,
	}
}

// WithGroup is a no-op: console output is flat.
func (h *ConsoleHandler) WithGroup(string) slog.Handler {
	return h
}
