// Package events subscribes to the per-session broadcast channel of the generation
// service. A Subscription is released with Close, which unsubscribes and drops the
// connection; callers defer it so every exit path releases the channel.
package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/manash/uigen/internal/provider"
	"github.com/manash/uigen/pkg/models"
)

const (
	writeTimeout     = 5 * time.Second
	handshakeTimeout = 15 * time.Second
	eventBuffer      = 8
)

type EventType string

const (
	EventSelectionMade    EventType = "selection_made"
	EventSessionExpired   EventType = "session_expired"
	EventGenerationFailed EventType = "generation_failed"
)

// Event is a decoded frame for one session. Selection is set for EventSelectionMade.
type Event struct {
	Type      EventType
	SessionID string
	Selection *models.SelectionResult
	Message   string
}

// Subscription is a live per-session feed. Events is closed when the connection drops
// or after Close.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string) (Subscription, error)
}

// ChannelName is the broadcast channel key for a session.
func ChannelName(sessionID string) string {
	return "session:" + sessionID
}

// URLFromBase derives the event endpoint from the service base URL.
func URLFromBase(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base URL scheme %q", u.Scheme)
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/api/events"
	return u.String(), nil
}

type controlMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

type wireEvent struct {
	Type           string   `json:"type"`
	SessionID      string   `json:"sessionId"`
	VariationID    string   `json:"variationId,omitempty"`
	VariationIndex int      `json:"variationIndex"`
	Code           string   `json:"code,omitempty"`
	Name           string   `json:"name,omitempty"`
	Dependencies   []string `json:"dependencies,omitempty"`
	Message        string   `json:"message,omitempty"`
}

func (w *wireEvent) toEvent() (Event, bool) {
	ev := Event{
		Type:      EventType(w.Type),
		SessionID: w.SessionID,
		Message:   w.Message,
	}

	switch ev.Type {
	case EventSelectionMade:
		ev.Selection = &models.SelectionResult{
			SessionID:      w.SessionID,
			VariationID:    w.VariationID,
			VariationIndex: w.VariationIndex,
			Code:           w.Code,
			Name:           w.Name,
			Dependencies:   w.Dependencies,
		}
	case EventSessionExpired, EventGenerationFailed:
	default:
		return Event{}, false
	}
	return ev, true
}

// WebSocketSubscriber dials the service event endpoint once per subscription.
type WebSocketSubscriber struct {
	url    string
	apiKey string
	dialer *websocket.Dialer
	logger *slog.Logger
}

var _ Subscriber = (*WebSocketSubscriber)(nil)

// NewWebSocketSubscriber dials eventsURL with apiKey for every Subscribe call.
func NewWebSocketSubscriber(eventsURL, apiKey string, logger *slog.Logger) *WebSocketSubscriber {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &WebSocketSubscriber{
		url:    eventsURL,
		apiKey: apiKey,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		logger: logger,
	}
}

// Subscribe opens a connection and subscribes to sessionID. A rejected credential
// returns provider.ErrAuthentication; other dial failures are transient.
func (s *WebSocketSubscriber) Subscribe(ctx context.Context, sessionID string) (Subscription, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.apiKey)
	header.Set("X-API-Key", s.apiKey)

	conn, resp, err := s.dialer.DialContext(ctx, s.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: event channel rejected credential (status %d)", provider.ErrAuthentication, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial event channel: %v", provider.ErrTransient, err)
	}

	channel := ChannelName(sessionID)
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(controlMessage{Action: "subscribe", Channel: channel}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", provider.ErrTransient, channel, err)
	}

	sub := &wsSubscription{
		conn:      conn,
		sessionID: sessionID,
		channel:   channel,
		events:    make(chan Event, eventBuffer),
		done:      make(chan struct{}),
		logger:    s.logger,
	}
	sub.wg.Add(1)
	go sub.readLoop()

	s.logger.Debug("subscribed to session events", "session_id", sessionID, "channel", channel)
	return sub, nil
}

type wsSubscription struct {
	conn      *websocket.Conn
	sessionID string
	channel   string
	events    chan Event
	done      chan struct{}
	logger    *slog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func (s *wsSubscription) Events() <-chan Event {
	return s.events
}

func (s *wsSubscription) readLoop() {
	defer s.wg.Done()
	defer close(s.events)

	for {
		var frame wireEvent
		if err := s.conn.ReadJSON(&frame); err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Warn("event channel dropped", "session_id", s.sessionID, "error", err)
			}
			return
		}

		if frame.SessionID != "" && frame.SessionID != s.sessionID {
			continue
		}

		ev, ok := frame.toEvent()
		if !ok {
			s.logger.Debug("ignoring event", "session_id", s.sessionID, "type", frame.Type)
			continue
		}
		if ev.SessionID == "" {
			ev.SessionID = s.sessionID
			if ev.Selection != nil {
				ev.Selection.SessionID = s.sessionID
			}
		}

		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

// Close unsubscribes, closes the connection and waits for the reader to exit.
// It is safe to call more than once.
func (s *wsSubscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		deadline := time.Now().Add(writeTimeout)
		s.conn.SetWriteDeadline(deadline)
		unsubErr := s.conn.WriteJSON(controlMessage{Action: "unsubscribe", Channel: s.channel})
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, closeMsg, deadline)

		connErr := s.conn.Close()
		s.wg.Wait()

		s.closeErr = errors.Join(ignoreClosed(unsubErr), ignoreClosed(connErr))
		s.logger.Debug("unsubscribed from session events", "session_id", s.sessionID)
	})
	return s.closeErr
}

func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
