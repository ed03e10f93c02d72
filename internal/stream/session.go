// ABOUTME: Streaming session state machine, independent of the socket library
// ABOUTME: Auth and generate run one at a time in arrival order; pings are answered at once

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/campaign-gateway/internal/auth"
	"github.com/2389/campaign-gateway/internal/pipeline"
	"github.com/2389/campaign-gateway/internal/session"
)

// ClosePolicyViolation is the close code sent after a failed auth message
const ClosePolicyViolation = 1008

// workQueueSize bounds how many auth/generate messages may wait behind the
// one being processed before Run stops reading input.
const workQueueSize = 8

// State is a streaming session's position in its lifecycle
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateInFlight
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateInFlight:
		return "in_flight"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrClosed is returned by Handle once the session has been closed
var ErrClosed = errors.New("stream session closed")

// Conn is the outbound half of a streaming transport
type Conn interface {
	Send(ctx context.Context, ev Event) error
	Close(code int, reason string) error
}

// Authenticator verifies the api_key of an auth message
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*auth.AuthContext, error)
}

// Session drives one streaming connection
type Session struct {
	conn   Conn
	authn  Authenticator
	stages *pipeline.Stages
	now    func() time.Time
	logger *slog.Logger

	mu     sync.Mutex
	state  State
	onBusy func(busy bool)
}

// NewSession creates a session in StateUnauthenticated
func NewSession(conn Conn, authn Authenticator, stages *pipeline.Stages) *Session {
	return &Session{
		conn:   conn,
		authn:  authn,
		stages: stages,
		now:    time.Now,
		logger: slog.Default().With("component", "stream"),
		state:  StateUnauthenticated,
	}
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// OnBusy registers fn to be called with true when a generation starts and
// false when it ends. Must be called before Run.
func (s *Session) OnBusy(fn func(busy bool)) {
	s.onBusy = fn
}

func (s *Session) notifyBusy(busy bool) {
	if s.onBusy != nil {
		s.onBusy(busy)
	}
}

// Run handles messages from in until it is closed, ctx ends, or the session
// closes. Pings are answered as soon as they arrive; all other messages are
// queued and handled one at a time in arrival order, so a ping sent during a
// generation is not held behind it. When in is closed, queued messages are
// still processed before Run returns. A send failure ends the session and is
// returned.
func (s *Session) Run(ctx context.Context, in <-chan []byte) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	work := make(chan []byte, workQueueSize)
	done := make(chan error, 1)
	go func() { done <- s.process(ctx, work) }()

	finish := func(err error) error {
		if errors.Is(err, ErrClosed) {
			return nil
		}
		return err
	}
	abort := func(err error) error {
		cancel()
		<-done
		return finish(err)
	}

	for {
		select {
		case <-ctx.Done():
			return abort(ctx.Err())
		case err := <-done:
			return finish(err)
		case msg, ok := <-in:
			if !ok {
				close(work)
				err := <-done
				s.setState(StateClosed)
				return finish(err)
			}
			if isPing(msg) {
				if err := s.Handle(ctx, msg); err != nil {
					return abort(err)
				}
				continue
			}
			select {
			case work <- msg:
			case err := <-done:
				return finish(err)
			case <-ctx.Done():
				return abort(ctx.Err())
			}
		}
	}
}

// process handles queued messages until work is closed or a message ends the session
func (s *Session) process(ctx context.Context, work <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-work:
			if !ok {
				return nil
			}
			if err := s.Handle(ctx, msg); err != nil {
				return err
			}
		}
	}
}

func isPing(raw []byte) bool {
	var msg inbound
	return json.Unmarshal(raw, &msg) == nil && msg.Type == TypePing
}

// Handle processes one inbound message. Processing failures are reported to
// the client as error events; only transport failures are returned.
func (s *Session) Handle(ctx context.Context, raw []byte) error {
	if s.State() == StateClosed {
		return ErrClosed
	}

	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return s.sendProcessingError(ctx, err)
	}

	switch msg.Type {
	case TypeAuth:
		return s.handleAuth(ctx, msg.APIKey)
	case TypeGenerate:
		return s.handleGenerate(ctx, msg.Data)
	case TypePing:
		return s.send(ctx, Event{Type: EventPong})
	default:
		s.logger.Debug("ignoring message", "type", msg.Type)
		return nil
	}
}

func (s *Session) handleAuth(ctx context.Context, apiKey string) error {
	authCtx, err := s.authn.Authenticate(ctx, apiKey)
	if err != nil {
		if !errors.Is(err, auth.ErrAuthFailed) {
			return s.sendProcessingError(ctx, err)
		}
		s.logger.Info("stream authentication failed")
		if err := s.send(ctx, Event{
			Type:    EventError,
			Message: "Invalid API key",
			Code:    CodeAuthenticationFailed,
		}); err != nil {
			return err
		}
		s.setState(StateClosed)
		if err := s.conn.Close(ClosePolicyViolation, "Authentication failed"); err != nil {
			s.logger.Debug("closing stream", "error", err)
		}
		return ErrClosed
	}

	s.logger.Debug("stream authenticated", "key", authCtx.KeyFingerprint)
	s.setState(StateAuthenticated)
	return s.send(ctx, Event{Type: EventConnectionEstablished})
}

func (s *Session) handleGenerate(ctx context.Context, data *pipeline.Request) error {
	if s.State() != StateAuthenticated {
		return s.send(ctx, Event{
			Type:    EventError,
			Message: "not authenticated",
			Code:    CodeAuthenticationFailed,
		})
	}

	var req pipeline.Request
	if data != nil {
		req = *data
	}
	if err := req.Validate(); err != nil {
		var vErr *pipeline.ValidationError
		details := map[string]any{}
		if errors.As(err, &vErr) {
			details["missing_fields"] = vErr.MissingFields
		}
		return s.send(ctx, Event{
			Type:    EventError,
			Message: "Missing required fields",
			Code:    CodeInvalidParameters,
			Details: details,
		})
	}

	s.setState(StateInFlight)
	s.notifyBusy(true)
	defer func() {
		if s.State() == StateInFlight {
			s.setState(StateAuthenticated)
		}
		s.notifyBusy(false)
	}()

	reg := s.stages.Registry()
	requestID := pipeline.NewRequestID()

	if err := s.send(ctx, Event{
		Type:    EventAgentMessage,
		Agent:   session.AgentContentCreator,
		Message: reg.CreateProgress(req.CampaignType),
	}); err != nil {
		return err
	}

	content, err := s.stages.Create(ctx, requestID, req)
	if err != nil {
		return s.sendProcessingError(ctx, err)
	}
	if err := s.send(ctx, Event{Type: EventContent, Content: &content}); err != nil {
		return err
	}

	if err := s.send(ctx, Event{
		Type:    EventAgentMessage,
		Agent:   session.AgentMarketingReviewer,
		Message: reg.ReviewProgress(),
	}); err != nil {
		return err
	}

	review, err := s.stages.Review(ctx, requestID, req, content)
	if err != nil {
		return s.sendProcessingError(ctx, err)
	}
	if err := s.send(ctx, Event{
		Type:            EventReview,
		Review:          &review.Review,
		Score:           &review.Score,
		ImprovedContent: &review.ImprovedContent,
	}); err != nil {
		return err
	}

	return s.send(ctx, Event{Type: EventComplete, RequestID: requestID})
}

func (s *Session) sendProcessingError(ctx context.Context, err error) error {
	s.logger.Warn("stream message failed", "error", err)
	return s.send(ctx, Event{
		Type:    EventError,
		Message: "Error processing message",
		Details: err.Error(),
	})
}

func (s *Session) send(ctx context.Context, ev Event) error {
	ev.Timestamp = s.now().UTC().Format(time.RFC3339)
	if err := s.conn.Send(ctx, ev); err != nil {
		s.setState(StateClosed)
		return fmt.Errorf("sending %s event: %w", ev.Type, err)
	}
	return nil
}
