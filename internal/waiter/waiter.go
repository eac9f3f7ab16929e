// Package waiter blocks until a human picks a generated variation in the gallery.
//
// A Source turns an externally resolved session into a synchronous call: it returns the
// selected artifact, a typed failure, or a timeout. Two sources exist. Poller reads the
// session on a fixed interval; Listener subscribes to the session event channel and runs
// its own timer. Both settle at most once, and both release their timer and subscription
// before Await returns, whatever the exit path.
package waiter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/manash/uigen/internal/events"
	"github.com/manash/uigen/pkg/models"
)

// Strategy selects how a wait learns about the selection.
type Strategy string

const (
	StrategyPoll   Strategy = "poll"
	StrategyEvents Strategy = "events"
)

// ValidStrategies returns every supported strategy, default first.
func ValidStrategies() []Strategy {
	return []Strategy{StrategyPoll, StrategyEvents}
}

// IsValid reports whether s is a known strategy.
func (s Strategy) IsValid() bool {
	return s == StrategyPoll || s == StrategyEvents
}

// Source waits for the terminal outcome of one session.
type Source interface {
	Await(ctx context.Context, sessionID string) (*models.SelectionResult, error)
}

// SessionReader is the part of the remote client the poller needs.
type SessionReader interface {
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
}

// Policy bounds a wait. The Poller uses the poll fields; the Listener uses Timeout and
// ResubscribeDelay. Both honour GraceAttempts.
type Policy struct {
	// PollInterval is the delay before each poll.
	PollInterval time.Duration
	// MaxAttempts caps the number of polls. The poll bound is PollInterval * MaxAttempts.
	MaxAttempts int
	// GraceAttempts is how many consecutive transient failures are tolerated.
	GraceAttempts int
	// Timeout bounds a Listener wait.
	Timeout time.Duration
	// ResubscribeDelay is the pause before a Listener re-dials a dropped channel.
	ResubscribeDelay time.Duration
}

// DefaultPolicy returns a five minute poll bound and a one hour listener timeout.
func DefaultPolicy() Policy {
	return Policy{
		PollInterval:     5 * time.Second,
		MaxAttempts:      60,
		GraceAttempts:    5,
		Timeout:          time.Hour,
		ResubscribeDelay: 2 * time.Second,
	}
}

// PollBound is the longest a Poller waits.
func (p Policy) PollBound() time.Duration {
	return p.PollInterval * time.Duration(p.MaxAttempts)
}

// Validate returns an error for non-positive bounds or negative counts.
func (p Policy) Validate() error {
	switch {
	case p.PollInterval <= 0:
		return fmt.Errorf("poll interval must be positive, got %s", p.PollInterval)
	case p.MaxAttempts < 1:
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	case p.GraceAttempts < 0:
		return fmt.Errorf("grace attempts cannot be negative, got %d", p.GraceAttempts)
	case p.Timeout <= 0:
		return fmt.Errorf("timeout must be positive, got %s", p.Timeout)
	case p.ResubscribeDelay < 0:
		return fmt.Errorf("resubscribe delay cannot be negative, got %s", p.ResubscribeDelay)
	}
	return nil
}

// New returns the source for strategy. The events strategy requires a subscriber.
func New(strategy Strategy, policy Policy, client SessionReader, sub events.Subscriber, clock clockwork.Clock, logger *slog.Logger) (Source, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid wait policy: %w", err)
	}

	switch strategy {
	case StrategyPoll:
		if client == nil {
			return nil, fmt.Errorf("poll strategy requires a session client")
		}
		return NewPoller(client, policy, clock, logger), nil
	case StrategyEvents:
		if sub == nil {
			return nil, fmt.Errorf("events strategy requires a subscriber")
		}
		return NewListener(sub, policy, clock, logger), nil
	default:
		return nil, fmt.Errorf("unknown wait strategy %q: must be one of %v", strategy, ValidStrategies())
	}
}

// settler holds the single outcome of a wait. The first settle wins; later calls from
// any source are dropped.
type settler struct {
	settled atomic.Bool
	done    chan struct{}
	result  *models.SelectionResult
	err     error
}

func newSettler() *settler {
	return &settler{done: make(chan struct{})}
}

func (s *settler) settle(result *models.SelectionResult, err error) bool {
	if !s.settled.CompareAndSwap(false, true) {
		return false
	}
	s.result = result
	s.err = err
	close(s.done)
	return true
}

func (s *settler) resolve(result *models.SelectionResult) bool {
	return s.settle(result, nil)
}

func (s *settler) fail(err error) bool {
	return s.settle(nil, err)
}

func (s *settler) isSettled() bool {
	return s.settled.Load()
}

// outcome blocks until settled.
func (s *settler) outcome() (*models.SelectionResult, error) {
	<-s.done
	return s.result, s.err
}

func clockOrReal(clock clockwork.Clock) clockwork.Clock {
	if clock == nil {
		return clockwork.NewRealClock()
	}
	return clock
}

func loggerOrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return logger
}
