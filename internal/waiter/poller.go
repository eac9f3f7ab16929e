package waiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/manash/uigen/internal/provider"
	"github.com/manash/uigen/pkg/models"
)

// Poller reads the session every PollInterval until a selection with code appears, the
// session turns terminal without one, or MaxAttempts polls have been spent.
type Poller struct {
	client SessionReader
	policy Policy
	clock  clockwork.Clock
	logger *slog.Logger
}

var _ Source = (*Poller)(nil)

// NewPoller returns a Poller. A nil clock uses the real clock.
func NewPoller(client SessionReader, policy Policy, clock clockwork.Clock, logger *slog.Logger) *Poller {
	return &Poller{
		client: client,
		policy: policy,
		clock:  clockOrReal(clock),
		logger: loggerOrDiscard(logger),
	}
}

// Await polls sessionID until it resolves, fails, or runs out of attempts.
func (p *Poller) Await(ctx context.Context, sessionID string) (*models.SelectionResult, error) {
	st := newSettler()

	stopWatch := context.AfterFunc(ctx, func() {
		st.fail(ctx.Err())
	})
	defer stopWatch()

	timer := p.clock.NewTimer(p.policy.PollInterval)
	defer timer.Stop()

	log := p.logger.With("session_id", sessionID, "strategy", StrategyPoll)
	failures := 0

	for attempt := 1; attempt <= p.policy.MaxAttempts; attempt++ {
		select {
		case <-st.done:
			return st.outcome()
		case <-timer.Chan():
		}

		sess, err := p.client.GetSession(ctx, sessionID)
		if st.isSettled() {
			return st.outcome()
		}

		if err != nil {
			if !provider.IsTransient(err) {
				st.fail(fatalPollError(sessionID, err))
				return st.outcome()
			}

			failures++
			if failures > p.policy.GraceAttempts {
				log.Error("poll failed repeatedly", "attempt", attempt, "failures", failures, "error", err)
				st.fail(fmt.Errorf("session %s: giving up after %d consecutive failures: %w", sessionID, failures, err))
				return st.outcome()
			}
			log.Warn("poll failed, retrying", "attempt", attempt, "failures", failures, "error", err)
		} else {
			failures = 0
			log.Debug("polled session", "attempt", attempt, "status", sess.Status)

			if result, terminal, err := evaluate(sessionID, sess); terminal {
				if err != nil {
					st.fail(err)
				} else {
					st.resolve(result)
				}
				return st.outcome()
			}
		}

		timer.Reset(p.policy.PollInterval)
	}

	log.Warn("poll attempts exhausted", "attempts", p.policy.MaxAttempts, "bound", p.policy.PollBound())
	st.fail(&provider.TimeoutError{SessionID: sessionID, Bound: p.policy.PollBound()})
	return st.outcome()
}

// evaluate inspects one session snapshot. terminal is false while the wait should go on.
func evaluate(sessionID string, sess *models.Session) (result *models.SelectionResult, terminal bool, err error) {
	if sess.Status == models.StatusExpired {
		return nil, true, &provider.SessionError{SessionID: sessionID, Err: provider.ErrSessionExpired}
	}

	if v, ok := sess.Selected(); ok {
		if v.Status == models.VariationFailed {
			return nil, true, &provider.SessionError{
				SessionID: sessionID,
				Err:       fmt.Errorf("%w: selected variation %d failed", provider.ErrGenerationFailed, v.Index),
			}
		}
		if sess.Status.CanSelect() && v.Code != "" {
			sel := models.SelectionFromVariation(sessionID, v)
			// a persisted bad index will not change on the next poll
			if err := sel.Validate(); err != nil {
				return nil, true, &provider.SessionError{
					SessionID: sessionID,
					Err:       fmt.Errorf("%w: unusable selection: %w", provider.ErrGenerationFailed, err),
				}
			}
			return sel, true, nil
		}
	}

	if sess.AllFailed() {
		return nil, true, &provider.SessionError{
			SessionID: sessionID,
			Err:       fmt.Errorf("%w: all %d variations failed", provider.ErrGenerationFailed, models.VariationCount),
		}
	}

	return nil, false, nil
}

func fatalPollError(sessionID string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, provider.ErrSessionExpired) || errors.Is(err, provider.ErrSessionNotFound) {
		return &provider.SessionError{SessionID: sessionID, Err: err}
	}
	return err
}
