// ABOUTME: Named session instances for the creator, reviewer and status roles
// ABOUTME: Each name maps to one live Session whose counters persist through the StateStore

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/campaign-gateway/internal/critique"
	"github.com/2389/campaign-gateway/internal/llm"
	"github.com/2389/campaign-gateway/internal/store"
)

// SystemStatusName is the session that reports gateway status
const SystemStatusName = "system_status"

// Agent names reported in status and progress events
const (
	AgentContentCreator    = "content_creator"
	AgentMarketingReviewer = "marketing_reviewer"
)

// ErrUpstream wraps failures of the model call
var ErrUpstream = errors.New("model call failed")

// CreatorName returns the session name for a request's creator stage
func CreatorName(requestID string) string {
	return "creator_" + requestID
}

// ReviewerName returns the session name for a request's reviewer stage
func ReviewerName(requestID string) string {
	return "reviewer_" + requestID
}

// Settings controls the model parameters and prompt language used by sessions
type Settings struct {
	Language            string
	MaxTokens           int
	CreatorTemperature  float64
	ReviewerTemperature float64
}

// DefaultSettings returns the Dutch prompts at temperatures 0.7 and 0.3
func DefaultSettings() Settings {
	return Settings{
		Language:            "nl",
		MaxTokens:           2000,
		CreatorTemperature:  0.7,
		ReviewerTemperature: 0.3,
	}
}

// CreateInput is the brief handed to the creator
type CreateInput struct {
	Prompt         string
	CampaignType   string
	BrandInfo      string
	TargetAudience string
}

// ReviewInput is the content and context handed to the reviewer
type ReviewInput struct {
	Content        string
	CampaignType   string
	BrandInfo      string
	TargetAudience string
}

// Review is the reviewer's raw answer and what could be parsed from it
type Review struct {
	Review          string `json:"review"`
	Score           int    `json:"score"`
	ImprovedContent string `json:"improved_content"`
}

// Status describes the gateway as seen by the system_status session
type Status struct {
	Agents            map[string]string
	Uptime            time.Duration
	RequestsProcessed int64
}

// Registry hands out one Session per name
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	states   store.StateStore
	model    llm.Model
	settings Settings
	prompts  promptSet
	now      func() time.Time
	logger   *slog.Logger
}

// NewRegistry creates a registry whose sessions call model and persist to states
func NewRegistry(states store.StateStore, model llm.Model, settings Settings) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		states:   states,
		model:    model,
		settings: settings,
		prompts:  promptsFor(settings.Language),
		now:      time.Now,
		logger:   slog.Default().With("component", "session"),
	}
}

// SetClock replaces the registry's time source. Intended for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// Get returns the live session for name, creating it on first use
func (r *Registry) Get(name string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[name]
	if !ok {
		s = &Session{name: name, reg: r}
		r.sessions[name] = s
	}
	return s
}

// Release drops the live instance for name. Its persisted state is kept.
func (r *Registry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, name)
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CreateProgress is the progress line announced before the creator runs
func (r *Registry) CreateProgress(campaignType string) string {
	return fmt.Sprintf(r.prompts.createProgress, campaignType)
}

// ReviewProgress is the progress line announced before the reviewer runs
func (r *Registry) ReviewProgress() string {
	return r.prompts.reviewProgress
}

// Session serialises the operations of one named instance
type Session struct {
	name string
	mu   sync.Mutex
	reg  *Registry
}

// Name returns the session's name
func (s *Session) Name() string {
	return s.name
}

// Create asks the model for campaign content and returns the first text block.
// The request counter is incremented only when the call succeeds.
func (s *Session) Create(ctx context.Context, in CreateInput) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.initStartTime(ctx); err != nil {
		return "", err
	}

	text, err := s.reg.model.Complete(ctx, llm.Request{
		System:      s.reg.prompts.creatorSystem,
		Messages:    []llm.Message{{Role: "user", Content: s.reg.prompts.creatorUserPrompt(in)}},
		Temperature: s.reg.settings.CreatorTemperature,
		MaxTokens:   s.reg.settings.MaxTokens,
	})
	if err != nil {
		s.reg.logger.Warn("create failed", "session", s.name, "error", err)
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	if err := s.recordSuccess(ctx); err != nil {
		return "", err
	}
	return text, nil
}

// Review asks the model to critique content and parses the answer.
// The request counter is incremented only when the call succeeds.
func (s *Session) Review(ctx context.Context, in ReviewInput) (*Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.initStartTime(ctx); err != nil {
		return nil, err
	}

	text, err := s.reg.model.Complete(ctx, llm.Request{
		System:      s.reg.prompts.reviewerSystem,
		Messages:    []llm.Message{{Role: "user", Content: s.reg.prompts.reviewerUserPrompt(in)}},
		Temperature: s.reg.settings.ReviewerTemperature,
		MaxTokens:   s.reg.settings.MaxTokens,
	})
	if err != nil {
		s.reg.logger.Warn("review failed", "session", s.name, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	parsed := critique.Parse(text)
	if err := s.recordSuccess(ctx); err != nil {
		return nil, err
	}
	return &Review{
		Review:          text,
		Score:           parsed.Score,
		ImprovedContent: parsed.ImprovedContent,
	}, nil
}

// Status reports both agents as active with this session's uptime and counter.
// start_time is set to now on the first call and persisted.
func (s *Session) Status(ctx context.Context) (*Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.reg.now()
	start, err := s.reg.states.InitStartTime(ctx, s.name, now)
	if err != nil {
		return nil, fmt.Errorf("initializing start time: %w", err)
	}
	state, err := s.reg.states.GetSessionState(ctx, s.name)
	if err != nil {
		return nil, fmt.Errorf("loading session state: %w", err)
	}

	uptime := now.Sub(start)
	if uptime < 0 {
		uptime = 0
	}
	return &Status{
		Agents: map[string]string{
			AgentContentCreator:    "active",
			AgentMarketingReviewer: "active",
		},
		Uptime:            uptime,
		RequestsProcessed: state.RequestsProcessed,
	}, nil
}

func (s *Session) initStartTime(ctx context.Context) error {
	if _, err := s.reg.states.InitStartTime(ctx, s.name, s.reg.now()); err != nil {
		return fmt.Errorf("initializing start time: %w", err)
	}
	return nil
}

// recordSuccess bumps this session's counter and the gateway-wide counter
// reported by system_status.
func (s *Session) recordSuccess(ctx context.Context) error {
	n, err := s.reg.states.IncrementRequests(ctx, s.name)
	if err != nil {
		return fmt.Errorf("recording request: %w", err)
	}
	if s.name != SystemStatusName {
		if _, err := s.reg.states.IncrementRequests(ctx, SystemStatusName); err != nil {
			return fmt.Errorf("recording request: %w", err)
		}
	}
	s.reg.logger.Debug("request processed", "session", s.name, "requests_processed", n)
	return nil
}
