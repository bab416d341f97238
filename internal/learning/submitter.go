// Package learning validates and submits predicted/real score pairs to the
// backend's learning endpoint.
package learning

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/example/scoreslip/internal/apperr"
	"github.com/example/scoreslip/internal/backend"
	"github.com/example/scoreslip/internal/logging"
)

// Client is the subset of the backend client the submitter needs.
type Client interface {
	Learn(ctx context.Context, req backend.LearnRequest) (*backend.LearnResponse, error)
}

// Outcome is a successful submission.
type Outcome struct {
	State           State    `json:"state"`
	Message         string   `json:"message"`
	NewDiffExpected *float64 `json:"newDiffExpected,omitempty"`
}

// Submitter runs one submission at a time per session. It never retries.
type Submitter struct {
	client Client
	logger *zap.Logger

	mu     sync.Mutex
	active map[string]*machine

	// OnTransition, when set, observes every state change.
	OnTransition func(session string, from, to State)
}

func NewSubmitter(client Client, logger *zap.Logger) *Submitter {
	return &Submitter{
		client: client,
		logger: logger.Named("learning_submitter"),
		active: make(map[string]*machine),
	}
}

// Submit validates the pair and, when valid, posts it. A ValidationError
// means nothing was sent. apperr.ErrInFlight means the pair was valid but
// the session already has a submission outstanding.
func (s *Submitter) Submit(ctx context.Context, session, predicted, real, homeTeam, awayTeam string) (*Outcome, error) {
	m := newMachine()
	s.step(session, m, StateValidating)
	sub, err := Validate(predicted, real)
	if err != nil {
		s.step(session, m, StateRejected)
		s.step(session, m, StateIdle)
		return nil, err
	}
	if err := s.acquire(session, m); err != nil {
		s.step(session, m, StateRejected)
		s.step(session, m, StateIdle)
		return nil, err
	}
	defer s.release(session, m)

	sub.HomeTeam = strings.TrimSpace(homeTeam)
	sub.AwayTeam = strings.TrimSpace(awayTeam)

	s.step(session, m, StateSubmitting)
	resp, err := s.client.Learn(ctx, backend.LearnRequest{
		Predicted: sub.Predicted,
		Real:      sub.Real,
		HomeTeam:  sub.HomeTeam,
		AwayTeam:  sub.AwayTeam,
	})
	if err != nil {
		s.step(session, m, StateFailed)
		opErr := logging.NewOperationError("learn", "", err)
		logging.WithSession(logging.WithOperation(s.logger, "learn", ""), session).Warn("learning submission failed",
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Error(err),
		)
		return nil, opErr
	}

	if resp.Skipped {
		s.step(session, m, StateSkipped)
		return &Outcome{State: StateSkipped, Message: resp.Message}, nil
	}
	s.step(session, m, StateAccepted)
	logging.WithSession(logging.WithOperation(s.logger, "learn", ""), session).Info("learning submission accepted",
		zap.String("predicted", sub.Predicted),
		zap.String("real", sub.Real),
	)
	return &Outcome{State: StateAccepted, Message: resp.Message, NewDiffExpected: resp.NewDiffExpected}, nil
}

// State returns the session's current state. Sessions with nothing
// outstanding are idle.
func (s *Submitter) State(session string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.active[session]; ok {
		return m.state
	}
	return StateIdle
}

func (s *Submitter) acquire(session string, m *machine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[session]; busy {
		return fmt.Errorf("learning for session %s: %w", session, apperr.ErrInFlight)
	}
	s.active[session] = m
	return nil
}

// release returns m to idle and frees the session slot. m must have
// reached a terminal state.
func (s *Submitter) release(session string, m *machine) {
	s.mu.Lock()
	ended := m.state.Terminal()
	s.mu.Unlock()
	if !ended {
		s.logger.Error("learning submission released before it ended", zap.String("session", session))
		s.step(session, m, StateFailed)
	}
	s.step(session, m, StateIdle)
	s.mu.Lock()
	delete(s.active, session)
	s.mu.Unlock()
}

func (s *Submitter) step(session string, m *machine, next State) {
	s.mu.Lock()
	from := m.state
	err := m.to(next)
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("learning state machine violated", zap.String("session", session), zap.Error(err))
		return
	}
	if s.OnTransition != nil {
		s.OnTransition(session, from, next)
	}
}
