package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Key constants for structured log fields.
const (
	KeyComponent   = "component"
	KeyAttemptID   = "attemptId"
	KeySource      = "source"
	KeyDestination = "destination"
	KeyState       = "state"
	KeyError       = "error"
)

type contextKey struct{}

// handlerBox keeps the stored type fixed while the handler inside changes
// between text and JSON.
type handlerBox struct {
	h slog.Handler
}

// rootHandler forwards to whatever handler Init installed last, so loggers
// created by package-level vars before Init still end up configured.
type rootHandler struct {
	current *atomic.Pointer[handlerBox]
	attrs   []slog.Attr
	groups  []string
}

func (h *rootHandler) resolve() slog.Handler {
	handler := h.current.Load().h
	for _, group := range h.groups {
		handler = handler.WithGroup(group)
	}
	if len(h.attrs) > 0 {
		handler = handler.WithAttrs(h.attrs)
	}
	return handler
}

func (h *rootHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.resolve().Enabled(ctx, level)
}

func (h *rootHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.resolve().Handle(ctx, record)
}

func (h *rootHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &rootHandler{
		current: h.current,
		attrs:   append(append([]slog.Attr{}, h.attrs...), attrs...),
		groups:  append([]string{}, h.groups...),
	}
}

func (h *rootHandler) WithGroup(name string) slog.Handler {
	return &rootHandler{
		current: h.current,
		attrs:   append([]slog.Attr{}, h.attrs...),
		groups:  append(append([]string{}, h.groups...), name),
	}
}

var (
	installed     = newInstalled(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	defaultLogger = slog.New(&rootHandler{current: installed})
)

func newInstalled(h slog.Handler) *atomic.Pointer[handlerBox] {
	p := &atomic.Pointer[handlerBox]{}
	p.Store(&handlerBox{h: h})
	return p
}

func init() {
	slog.SetDefault(defaultLogger)
}

// Init installs the global handler. Call once after config is loaded.
// format: "json" or "text" (default "text")
// level: "debug", "info", "warn", "error" (default "info")
// output: writer to log to (nil = os.Stdout)
func Init(format, level string, output io.Writer) {
	if output == nil {
		output = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	installed.Store(&handlerBox{h: handler})
	slog.SetDefault(defaultLogger)
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return defaultLogger.With(slog.String(KeyComponent, component))
}

// WithAttempt returns a child logger carrying the start attempt's identity.
func WithAttempt(logger *slog.Logger, attemptID, source string) *slog.Logger {
	return logger.With(
		slog.String(KeyAttemptID, attemptID),
		slog.String(KeySource, source),
	)
}

// NewContext returns a new context carrying the given logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts the logger from context, falling back to the default.
// The fallback carries no component.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
