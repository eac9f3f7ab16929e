package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manash/uigen/internal/provider"
)

// fakeHub accepts one connection, records control messages and plays frames to it.
type fakeHub struct {
	t        *testing.T
	frames   []interface{}
	controls chan controlMessage
	header   chan http.Header
}

func newFakeHub(t *testing.T, frames ...interface{}) *fakeHub {
	return &fakeHub{
		t:        t,
		frames:   frames,
		controls: make(chan controlMessage, 8),
		header:   make(chan http.Header, 1),
	}
}

func (h *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.header <- r.Header.Clone()

	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	var sub controlMessage
	if err := conn.ReadJSON(&sub); err != nil {
		return
	}
	h.controls <- sub

	for _, f := range h.frames {
		if err := conn.WriteJSON(f); err != nil {
			return
		}
	}

	for {
		var msg controlMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		h.controls <- msg
	}
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "session:abc", ChannelName("abc"))
}

func TestURLFromBase(t *testing.T) {
	tests := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{"https://api.uigen.dev", "wss://api.uigen.dev/api/events", false},
		{"http://localhost:8080/", "ws://localhost:8080/api/events", false},
		{"https://example.com/prefix", "wss://example.com/prefix/api/events", false},
		{"wss://events.example.com", "wss://events.example.com/api/events", false},
		{"ftp://example.com", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			got, err := URLFromBase(tt.base)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubscribe_DeliversSelection(t *testing.T) {
	hub := newFakeHub(t,
		map[string]interface{}{"type": "heartbeat"},
		map[string]interface{}{"type": "selection_made", "sessionId": "other", "code": "wrong"},
		map[string]interface{}{
			"type":           "selection_made",
			"sessionId":      "sess-1",
			"variationId":    "v2",
			"variationIndex": 2,
			"code":           "export function Hero() {}",
			"dependencies":   []string{"clsx"},
		},
	)
	server := httptest.NewServer(hub)
	defer server.Close()

	s := NewWebSocketSubscriber(wsURL(server), "secret", nil)
	sub, err := s.Subscribe(context.Background(), "sess-1")
	require.NoError(t, err)
	defer sub.Close()

	header := <-hub.header
	assert.Equal(t, "Bearer secret", header.Get("Authorization"))
	assert.Equal(t, controlMessage{Action: "subscribe", Channel: "session:sess-1"}, <-hub.controls)

	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "events channel closed early")
		assert.Equal(t, EventSelectionMade, ev.Type)
		require.NotNil(t, ev.Selection)
		assert.Equal(t, "sess-1", ev.Selection.SessionID)
		assert.Equal(t, 2, ev.Selection.VariationIndex)
		assert.Equal(t, "export function Hero() {}", ev.Selection.Code)
		assert.Equal(t, []string{"clsx"}, ev.Selection.Dependencies)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestSubscribe_CloseUnsubscribes(t *testing.T) {
	hub := newFakeHub(t)
	server := httptest.NewServer(hub)
	defer server.Close()

	s := NewWebSocketSubscriber(wsURL(server), "secret", nil)
	sub, err := s.Subscribe(context.Background(), "sess-2")
	require.NoError(t, err)
	<-hub.controls

	require.NoError(t, sub.Close())

	select {
	case msg := <-hub.controls:
		assert.Equal(t, controlMessage{Action: "unsubscribe", Channel: "session:sess-2"}, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no unsubscribe received")
	}

	_, ok := <-sub.Events()
	assert.False(t, ok, "events channel should be closed after Close")

	assert.NoError(t, sub.Close(), "second Close should be a no-op")
}

func TestSubscribe_DroppedConnectionClosesEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var sub controlMessage
		conn.ReadJSON(&sub)
		conn.Close()
	}))
	defer server.Close()

	s := NewWebSocketSubscriber(wsURL(server), "k", nil)
	sub, err := s.Subscribe(context.Background(), "sess-3")
	require.NoError(t, err)
	defer sub.Close()

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after drop")
	}
}

func TestSubscribe_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	s := NewWebSocketSubscriber(wsURL(server), "bad", nil)
	_, err := s.Subscribe(context.Background(), "sess-4")
	assert.ErrorIs(t, err, provider.ErrAuthentication)
}

func TestSubscribe_UnreachableIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := wsURL(server)
	server.Close()

	s := NewWebSocketSubscriber(url, "k", nil)
	_, err := s.Subscribe(context.Background(), "sess-5")
	assert.ErrorIs(t, err, provider.ErrTransient)
}

func TestWireEvent_ToEvent(t *testing.T) {
	ev, ok := (&wireEvent{Type: "session_expired", SessionID: "s"}).toEvent()
	require.True(t, ok)
	assert.Equal(t, EventSessionExpired, ev.Type)
	assert.Nil(t, ev.Selection)

	ev, ok = (&wireEvent{Type: "generation_failed", SessionID: "s", Message: "model overloaded"}).toEvent()
	require.True(t, ok)
	assert.Equal(t, "model overloaded", ev.Message)

	_, ok = (&wireEvent{Type: "progress"}).toEvent()
	assert.False(t, ok)
}
