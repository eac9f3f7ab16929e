package waiter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/manash/uigen/internal/events"
	"github.com/manash/uigen/internal/provider"
	"github.com/manash/uigen/pkg/models"
)

// Listener waits on the session event channel. The timeout timer and the subscription
// reader race to settle; whichever comes first wins and the other is ignored.
type Listener struct {
	subscriber events.Subscriber
	policy     Policy
	clock      clockwork.Clock
	logger     *slog.Logger
}

var _ Source = (*Listener)(nil)

// NewListener returns a Listener. A nil clock uses the real clock.
func NewListener(sub events.Subscriber, policy Policy, clock clockwork.Clock, logger *slog.Logger) *Listener {
	return &Listener{
		subscriber: sub,
		policy:     policy,
		clock:      clockOrReal(clock),
		logger:     loggerOrDiscard(logger),
	}
}

// Await subscribes to sessionID and returns the first terminal event, the timeout, or
// ctx's error. The subscription is closed before it returns.
func (l *Listener) Await(ctx context.Context, sessionID string) (*models.SelectionResult, error) {
	st := newSettler()
	log := l.logger.With("session_id", sessionID, "strategy", StrategyEvents)

	timer := l.clock.AfterFunc(l.policy.Timeout, func() {
		if st.fail(&provider.TimeoutError{SessionID: sessionID, Bound: l.policy.Timeout}) {
			log.Warn("no selection before timeout", "timeout", l.policy.Timeout)
		}
	})
	defer timer.Stop()

	consumeCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.consume(consumeCtx, sessionID, st, log)
	}()

	select {
	case <-st.done:
	case <-ctx.Done():
		st.fail(ctx.Err())
	}

	cancel()
	wg.Wait()
	return st.outcome()
}

// consume keeps a subscription open until the wait settles, re-dialing dropped
// channels within the grace window.
func (l *Listener) consume(ctx context.Context, sessionID string, st *settler, log *slog.Logger) {
	failures := 0

	for !st.isSettled() {
		received, err := l.listenOnce(ctx, sessionID, st, log)
		if st.isSettled() || ctx.Err() != nil {
			return
		}

		if received {
			failures = 0
		}

		if err != nil && !provider.IsTransient(err) {
			st.fail(err)
			return
		}

		failures++
		if failures > l.policy.GraceAttempts {
			if err == nil {
				err = fmt.Errorf("%w: event channel closed", provider.ErrTransient)
			}
			log.Error("event channel failed repeatedly", "failures", failures, "error", err)
			st.fail(fmt.Errorf("session %s: giving up after %d consecutive failures: %w", sessionID, failures, err))
			return
		}
		log.Warn("event channel unavailable, resubscribing", "failures", failures, "error", err)

		if !l.sleep(ctx, st) {
			return
		}
	}
}

// listenOnce holds one subscription. It returns when the wait settles, the context
// ends, or the channel drops. received reports whether any event arrived.
func (l *Listener) listenOnce(ctx context.Context, sessionID string, st *settler, log *slog.Logger) (received bool, err error) {
	sub, err := l.subscriber.Subscribe(ctx, sessionID)
	if err != nil {
		return false, err
	}
	defer func() {
		if closeErr := sub.Close(); closeErr != nil {
			log.Debug("unsubscribe failed", "error", closeErr)
		}
	}()

	for {
		select {
		case <-st.done:
			return received, nil
		case <-ctx.Done():
			return received, nil
		case ev, ok := <-sub.Events():
			if !ok {
				return received, nil
			}
			received = true
			l.handle(sessionID, ev, st, log)
		}
	}
}

func (l *Listener) handle(sessionID string, ev events.Event, st *settler, log *slog.Logger) {
	if st.isSettled() {
		log.Debug("dropping event after settle", "type", ev.Type)
		return
	}

	switch ev.Type {
	case events.EventSelectionMade:
		if ev.Selection == nil {
			log.Warn("selection event without payload")
			return
		}
		if err := ev.Selection.Validate(); err != nil {
			log.Warn("ignoring unusable selection", "error", err)
			return
		}
		sel := *ev.Selection
		sel.SessionID = sessionID
		st.resolve(&sel)
	case events.EventSessionExpired:
		st.fail(&provider.SessionError{SessionID: sessionID, Err: provider.ErrSessionExpired})
	case events.EventGenerationFailed:
		msg := ev.Message
		if msg == "" {
			msg = "service reported a failure"
		}
		st.fail(&provider.SessionError{
			SessionID: sessionID,
			Err:       fmt.Errorf("%w: %s", provider.ErrGenerationFailed, msg),
		})
	}
}

// sleep waits ResubscribeDelay. It returns false if the wait settled or ctx ended first.
func (l *Listener) sleep(ctx context.Context, st *settler) bool {
	if l.policy.ResubscribeDelay == 0 {
		return true
	}

	t := l.clock.NewTimer(l.policy.ResubscribeDelay)
	defer t.Stop()

	select {
	case <-t.Chan():
		return true
	case <-st.done:
		return false
	case <-ctx.Done():
		return false
	}
}
