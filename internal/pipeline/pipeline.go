// ABOUTME: Generation pipeline: validate, create, review, assemble and persist a result
// ABOUTME: Stages are exposed individually so the streaming session can report progress between them

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/campaign-gateway/internal/session"
	"github.com/2389/campaign-gateway/internal/store"
)

// ResultKeyPrefix namespaces stored results in the KV store
const ResultKeyPrefix = "results:"

// DefaultRetention is how long results are kept when no retention is configured
const DefaultRetention = 7 * 24 * time.Hour

var (
	// ErrInvalidParameters is matched by *ValidationError
	ErrInvalidParameters = errors.New("invalid parameters")

	// ErrGeneration wraps any failure after validation
	ErrGeneration = errors.New("error generating content")

	// ErrResultNotFound is returned by Get for unknown or expired ids
	ErrResultNotFound = errors.New("result not found")
)

// Request is a content generation brief. All fields are required.
type Request struct {
	Prompt         string `json:"prompt"`
	CampaignType   string `json:"campaign_type"`
	BrandInfo      string `json:"brand_info"`
	TargetAudience string `json:"target_audience"`
}

// ValidationError lists the required fields that were missing or blank
type ValidationError struct {
	MissingFields []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.MissingFields, ", ")
}

// Is makes errors.Is(err, ErrInvalidParameters) succeed
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidParameters
}

// Validate returns a *ValidationError naming every blank field, in request order
func (r Request) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"prompt", r.Prompt},
		{"campaign_type", r.CampaignType},
		{"brand_info", r.BrandInfo},
		{"target_audience", r.TargetAudience},
	}

	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{MissingFields: missing}
	}
	return nil
}

// Result is a completed generation, stored under results:<request_id>
type Result struct {
	RequestID       string `json:"request_id"`
	OriginalContent string `json:"original_content"`
	Review          string `json:"review"`
	Score           int    `json:"score"`
	ImprovedContent string `json:"improved_content"`
	CampaignType    string `json:"campaign_type"`
	Timestamp       string `json:"timestamp"`
}

// Stages runs the creator and reviewer steps for one request id
type Stages struct {
	reg *session.Registry
}

// NewStages creates stages backed by the session registry
func NewStages(reg *session.Registry) *Stages {
	return &Stages{reg: reg}
}

// Registry returns the session registry the stages run against
func (s *Stages) Registry() *session.Registry {
	return s.reg
}

// Create runs the creator_<id> session
func (s *Stages) Create(ctx context.Context, requestID string, req Request) (string, error) {
	name := session.CreatorName(requestID)
	defer s.reg.Release(name)

	return s.reg.Get(name).Create(ctx, session.CreateInput{
		Prompt:         req.Prompt,
		CampaignType:   req.CampaignType,
		BrandInfo:      req.BrandInfo,
		TargetAudience: req.TargetAudience,
	})
}

// Review runs the reviewer_<id> session on the creator's content
func (s *Stages) Review(ctx context.Context, requestID string, req Request, content string) (*session.Review, error) {
	name := session.ReviewerName(requestID)
	defer s.reg.Release(name)

	return s.reg.Get(name).Review(ctx, session.ReviewInput{
		Content:        content,
		CampaignType:   req.CampaignType,
		BrandInfo:      req.BrandInfo,
		TargetAudience: req.TargetAudience,
	})
}

// NewRequestID returns a fresh request id
func NewRequestID() string {
	return uuid.NewString()
}

// Pipeline runs complete generations and persists their results
type Pipeline struct {
	stages    *Stages
	kv        store.KV
	retention time.Duration
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger
}

// New creates a pipeline that keeps results in kv for retention
func New(stages *Stages, kv store.KV, retention time.Duration) *Pipeline {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Pipeline{
		stages:    stages,
		kv:        kv,
		retention: retention,
		now:       time.Now,
		newID:     NewRequestID,
		logger:    slog.Default().With("component", "pipeline"),
	}
}

// Stages returns the pipeline's individual steps
func (p *Pipeline) Stages() *Stages {
	return p.stages
}

// Run validates req, runs both stages and stores the result.
// No model call happens for an invalid request, and nothing is stored when a
// stage fails.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	requestID := p.newID()
	logger := p.logger.With("request_id", requestID)
	start := time.Now()

	content, err := p.stages.Create(ctx, requestID, req)
	if err != nil {
		logger.Error("creator stage failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	review, err := p.stages.Review(ctx, requestID, req, content)
	if err != nil {
		logger.Error("reviewer stage failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	result := &Result{
		RequestID:       requestID,
		OriginalContent: content,
		Review:          review.Review,
		Score:           review.Score,
		ImprovedContent: review.ImprovedContent,
		CampaignType:    req.CampaignType,
		Timestamp:       p.now().UTC().Format(time.RFC3339),
	}

	if err := store.PutJSON(ctx, p.kv, ResultKeyPrefix+requestID, result, p.retention); err != nil {
		logger.Error("storing result failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	logger.Info("generation complete", "score", result.Score, "duration", time.Since(start))
	return result, nil
}

// Get loads a stored result
func (p *Pipeline) Get(ctx context.Context, requestID string) (*Result, error) {
	var result Result
	err := store.GetJSON(ctx, p.kv, ResultKeyPrefix+requestID, &result)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading result %s: %w", requestID, err)
	}
	return &result, nil
}
