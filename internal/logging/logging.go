// Package logging builds the process logger. Output goes to stderr because stdout
// carries the MCP protocol when serving.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

const sentryFlushTimeout = 2 * time.Second

type Options struct {
	Level  string
	Format string // text or json

	SentryDSN   string
	Environment string
	Release     string
}

// New returns a logger writing to w. When a Sentry DSN is configured the logger also
// reports to Sentry; the returned flush func must run before exit.
func New(w io.Writer, opts Options) (*slog.Logger, func(), error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		handler = slog.NewTextHandler(w, handlerOpts)
	case "json":
		handler = slog.NewJSONHandler(w, handlerOpts)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q: must be text or json", opts.Format)
	}

	flush := func() {}
	if opts.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         opts.SentryDSN,
			Environment: opts.Environment,
			Release:     "uigen@" + opts.Release,
			BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
				if event.Request != nil {
					event.Request.Headers = filterSensitiveHeaders(event.Request.Headers)
				}
				return event
			},
		}); err != nil {
			return nil, nil, fmt.Errorf("failed to initialize Sentry: %w", err)
		}
		handler = NewSentryHandler(handler, sentry.CurrentHub())
		flush = func() { sentry.Flush(sentryFlushTimeout) }
	}

	return slog.New(handler), flush, nil
}

func ParseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q: must be debug, info, warn or error", s)
	}
	return level, nil
}

// Discard is a logger for tests and for components built without one.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SentryHandler forwards records to an inner handler and mirrors them to Sentry:
// Error records become events, Info and Warn records become breadcrumbs.
type SentryHandler struct {
	inner  slog.Handler
	hub    *sentry.Hub
	attrs  []slog.Attr
	groups []string
}

var _ slog.Handler = (*SentryHandler)(nil)

// NewSentryHandler wraps inner. Errors become Sentry events and info or warn records
// become breadcrumbs; everything is still passed to inner.
func NewSentryHandler(inner slog.Handler, hub *sentry.Hub) *SentryHandler {
	return &SentryHandler{inner: inner, hub: hub}
}

func (h *SentryHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *SentryHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.inner.Handle(ctx, r)

	if h.hub == nil || h.hub.Client() == nil {
		return err
	}

	data, cause := h.collect(r)
	switch {
	case r.Level >= slog.LevelError:
		// records arrive from concurrent calls; a cloned hub keeps this scope private
		hub := h.hub.Clone()
		hub.ConfigureScope(func(scope *sentry.Scope) {
			scope.SetLevel(sentry.LevelError)
			scope.SetContext("log", map[string]interface{}{"message": r.Message, "attrs": data})
			if sid, ok := data["session_id"].(string); ok {
				scope.SetTag("session_id", sid)
			}
		})
		if cause != nil {
			hub.CaptureException(cause)
		} else {
			hub.CaptureMessage(r.Message)
		}
	case r.Level >= slog.LevelInfo:
		level := sentry.LevelInfo
		if r.Level >= slog.LevelWarn {
			level = sentry.LevelWarning
		}
		h.hub.AddBreadcrumb(&sentry.Breadcrumb{
			Type:      "default",
			Category:  "log",
			Message:   r.Message,
			Data:      data,
			Level:     level,
			Timestamp: r.Time,
		}, nil)
	}

	return err
}

func (h *SentryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.inner = h.inner.WithAttrs(attrs)
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), h.qualify(attrs)...)
	return &clone
}

func (h *SentryHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.inner = h.inner.WithGroup(name)
	clone.groups = append(append([]string{}, h.groups...), name)
	return &clone
}

func (h *SentryHandler) qualify(attrs []slog.Attr) []slog.Attr {
	if len(h.groups) == 0 {
		return attrs
	}
	prefix := strings.Join(h.groups, ".") + "."
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = slog.Attr{Key: prefix + a.Key, Value: a.Value}
	}
	return out
}

// collect flattens the record attributes and picks out the first error value.
func (h *SentryHandler) collect(r slog.Record) (map[string]interface{}, error) {
	data := make(map[string]interface{}, len(h.attrs)+r.NumAttrs())
	var cause error

	add := func(a slog.Attr) {
		v := a.Value.Resolve()
		if e, ok := v.Any().(error); ok {
			if cause == nil {
				cause = e
			}
			data[a.Key] = e.Error()
			return
		}
		data[a.Key] = v.Any()
	}

	for _, a := range h.attrs {
		add(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		for _, q := range h.qualify([]slog.Attr{a}) {
			add(q)
		}
		return true
	})
	return data, cause
}

func filterSensitiveHeaders(headers map[string]string) map[string]string {
	filtered := make(map[string]string, len(headers))
	for k, v := range headers {
		switch strings.ToLower(k) {
		case "authorization", "cookie", "x-api-key":
			filtered[k] = "[REDACTED]"
		default:
			filtered[k] = v
		}
	}
	return filtered
}
