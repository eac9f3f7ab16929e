package logging

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
)

type capturedEvents struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (c *capturedEvents) beforeSend(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
	return nil
}

func (c *capturedEvents) all() []*sentry.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*sentry.Event(nil), c.events...)
}

func testHub(t *testing.T) (*sentry.Hub, *capturedEvents) {
	t.Helper()
	captured := &capturedEvents{}
	client, err := sentry.NewClient(sentry.ClientOptions{BeforeSend: captured.beforeSend})
	if err != nil {
		t.Fatalf("sentry.NewClient() error = %v", err)
	}
	return sentry.NewHub(client, sentry.NewScope()), captured
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger, flush, err := New(&buf, Options{Level: "warn", Format: "json"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer flush()

	logger.Info("hidden")
	logger.Warn("shown", "session_id", "s1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"session_id":"s1"`) {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestNew_Errors(t *testing.T) {
	if _, _, err := New(&bytes.Buffer{}, Options{Level: "loud"}); err == nil {
		t.Error("New() with unknown level should fail")
	}
	if _, _, err := New(&bytes.Buffer{}, Options{Format: "xml"}); err == nil {
		t.Error("New() with unknown format should fail")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}

func TestSentryHandler_ErrorBecomesEvent(t *testing.T) {
	hub, captured := testHub(t)
	var buf bytes.Buffer
	logger := slog.New(NewSentryHandler(slog.NewTextHandler(&buf, nil), hub))

	logger.Info("generation submitted", "session_id", "s1")
	logger.With("session_id", "s1").Error("poll failed repeatedly", "error", errors.New("connection refused"))

	if !strings.Contains(buf.String(), "poll failed repeatedly") {
		t.Errorf("inner handler did not receive the record: %s", buf.String())
	}

	events := captured.all()
	if len(events) != 1 {
		t.Fatalf("captured %d events, want 1", len(events))
	}
	ev := events[0]
	if len(ev.Exception) == 0 || ev.Exception[len(ev.Exception)-1].Value != "connection refused" {
		t.Errorf("exception not captured: %+v", ev.Exception)
	}
	if ev.Tags["session_id"] != "s1" {
		t.Errorf("session_id tag = %q", ev.Tags["session_id"])
	}
	if len(ev.Breadcrumbs) != 1 || ev.Breadcrumbs[0].Message != "generation submitted" {
		t.Errorf("breadcrumbs = %+v", ev.Breadcrumbs)
	}
}

func TestSentryHandler_ErrorWithoutCause(t *testing.T) {
	hub, captured := testHub(t)
	logger := slog.New(NewSentryHandler(slog.NewTextHandler(&bytes.Buffer{}, nil), hub))

	logger.Warn("resubscribing")
	logger.Error("event channel failed")

	events := captured.all()
	if len(events) != 1 {
		t.Fatalf("captured %d events, want 1", len(events))
	}
	if events[0].Message != "event channel failed" {
		t.Errorf("Message = %q", events[0].Message)
	}
	if len(events[0].Breadcrumbs) != 1 || events[0].Breadcrumbs[0].Level != sentry.LevelWarning {
		t.Errorf("breadcrumbs = %+v", events[0].Breadcrumbs)
	}
}

func TestSentryHandler_ConcurrentErrorsKeepTheirTags(t *testing.T) {
	hub, captured := testHub(t)
	logger := slog.New(NewSentryHandler(slog.NewTextHandler(io.Discard, nil), hub))

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sid := fmt.Sprintf("s%d", i)
			logger.With("session_id", sid).Error("wait failed", "error", errors.New(sid))
		}(i)
	}
	wg.Wait()

	events := captured.all()
	if len(events) != n {
		t.Fatalf("captured %d events, want %d", len(events), n)
	}
	for _, ev := range events {
		cause := ev.Exception[len(ev.Exception)-1].Value
		if ev.Tags["session_id"] != cause {
			t.Errorf("event for %s tagged session_id=%q", cause, ev.Tags["session_id"])
		}
	}

	hub.CaptureMessage("unrelated")
	events = captured.all()
	if tag, ok := events[len(events)-1].Tags["session_id"]; ok {
		t.Errorf("shared scope picked up session_id=%q", tag)
	}
}

func TestSentryHandler_NoClient(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewSentryHandler(slog.NewTextHandler(&buf, nil), sentry.NewHub(nil, sentry.NewScope())))

	logger.Error("still written")
	if !strings.Contains(buf.String(), "still written") {
		t.Error("record dropped without a Sentry client")
	}
}

func TestSentryHandler_Groups(t *testing.T) {
	h := NewSentryHandler(slog.NewTextHandler(&bytes.Buffer{}, nil), nil)
	grouped := h.WithGroup("wait").WithAttrs([]slog.Attr{slog.Int("attempt", 3)}).(*SentryHandler)

	if len(grouped.attrs) != 1 || grouped.attrs[0].Key != "wait.attempt" {
		t.Errorf("attrs = %+v", grouped.attrs)
	}
	if len(h.attrs) != 0 {
		t.Error("WithAttrs modified the parent handler")
	}
}

func TestFilterSensitiveHeaders(t *testing.T) {
	got := filterSensitiveHeaders(map[string]string{
		"Authorization": "Bearer secret",
		"x-api-key":     "secret",
		"Accept":        "application/json",
	})
	if got["Authorization"] != "[REDACTED]" || got["x-api-key"] != "[REDACTED]" {
		t.Errorf("sensitive headers not redacted: %v", got)
	}
	if got["Accept"] != "application/json" {
		t.Errorf("Accept = %q", got["Accept"])
	}
}
