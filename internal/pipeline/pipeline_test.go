// ABOUTME: Tests for the generation pipeline
// ABOUTME: Covers validation, end-to-end runs, persistence with retention, and stage failures

package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/campaign-gateway/internal/llm"
	"github.com/2389/campaign-gateway/internal/session"
	"github.com/2389/campaign-gateway/internal/store"
)

type scriptedModel struct {
	mu      sync.Mutex
	calls   int
	replies []string
	failAt  int // 1-based call that fails, 0 never
	err     error
}

func (m *scriptedModel) Complete(_ context.Context, _ llm.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failAt == m.calls {
		return "", m.err
	}
	if len(m.replies) == 0 {
		return "", nil
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r, nil
}

type harness struct {
	pipeline *Pipeline
	kv       *store.MemoryStore
	model    *scriptedModel
	now      time.Time
}

func newHarness(t *testing.T, model *scriptedModel) *harness {
	t.Helper()
	kv := store.NewMemoryStore(0)
	t.Cleanup(func() { kv.Close() })

	h := &harness{kv: kv, model: model, now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	kv.SetClock(func() time.Time { return h.now })

	reg := session.NewRegistry(kv, model, session.DefaultSettings())
	h.pipeline = New(NewStages(reg), kv, 0)
	h.pipeline.now = func() time.Time { return h.now }
	return h
}

var validRequest = Request{
	Prompt:         "Nieuwe koffiebar",
	CampaignType:   "email",
	BrandInfo:      "Lokale branderij",
	TargetAudience: "Studenten",
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		missing []string
	}{
		{name: "complete", req: validRequest},
		{name: "all missing", req: Request{}, missing: []string{"prompt", "campaign_type", "brand_info", "target_audience"}},
		{
			name:    "blank counts as missing",
			req:     Request{Prompt: "  ", CampaignType: "email", BrandInfo: "\n", TargetAudience: "x"},
			missing: []string{"prompt", "brand_info"},
		},
		{
			name:    "only audience missing",
			req:     Request{Prompt: "p", CampaignType: "c", BrandInfo: "b"},
			missing: []string{"target_audience"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.missing == nil {
				assert.NoError(t, err)
				return
			}
			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr))
			assert.Equal(t, tt.missing, vErr.MissingFields)
			assert.ErrorIs(t, err, ErrInvalidParameters)
		})
	}
}

func TestRun_InvalidRequestMakesNoModelCalls(t *testing.T) {
	h := newHarness(t, &scriptedModel{})

	_, err := h.pipeline.Run(context.Background(), Request{Prompt: "p"})
	require.ErrorIs(t, err, ErrInvalidParameters)
	assert.Equal(t, 0, h.model.calls)
}

func TestRun_EndToEnd(t *testing.T) {
	h := newHarness(t, &scriptedModel{replies: []string{
		"Koffie voor studenten!",
		"Algemene indruk: 7/10\n\nVerbeterde versie\n\nVerse koffie, studentenprijs.",
	}})
	h.pipeline.newID = func() string { return "11111111-2222-3333-4444-555555555555" }
	ctx := context.Background()

	result, err := h.pipeline.Run(ctx, validRequest)
	require.NoError(t, err)

	assert.Equal(t, "11111111-2222-3333-4444-555555555555", result.RequestID)
	assert.Equal(t, "Koffie voor studenten!", result.OriginalContent)
	assert.Equal(t, 7, result.Score)
	assert.Equal(t, "Verse koffie, studentenprijs.", result.ImprovedContent)
	assert.Equal(t, "email", result.CampaignType)
	assert.Equal(t, "2024-05-01T12:00:00Z", result.Timestamp)
	assert.Equal(t, 2, h.model.calls)

	stored, err := h.pipeline.Get(ctx, result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, result, stored)

	// retained for seven days, then gone
	h.now = h.now.Add(7*24*time.Hour - time.Second)
	_, err = h.pipeline.Get(ctx, result.RequestID)
	require.NoError(t, err)

	h.now = h.now.Add(time.Second)
	_, err = h.pipeline.Get(ctx, result.RequestID)
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestRun_GeneratesUUIDs(t *testing.T) {
	h := newHarness(t, &scriptedModel{})

	a, err := h.pipeline.Run(context.Background(), validRequest)
	require.NoError(t, err)
	b, err := h.pipeline.Run(context.Background(), validRequest)
	require.NoError(t, err)

	assert.Len(t, a.RequestID, 36)
	assert.NotEqual(t, a.RequestID, b.RequestID)
}

func TestRun_StageFailureStoresNothing(t *testing.T) {
	tests := []struct {
		name   string
		failAt int
		err    error
	}{
		{"creator fails", 1, errors.New("boom")},
		{"reviewer fails", 2, errors.New("boom")},
		{"creator times out", 1, llm.ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &scriptedModel{failAt: tt.failAt, err: tt.err})
			h.pipeline.newID = func() string { return "req-1" }

			_, err := h.pipeline.Run(context.Background(), validRequest)
			require.ErrorIs(t, err, ErrGeneration)
			assert.ErrorIs(t, err, tt.err)

			_, err = h.pipeline.Get(context.Background(), "req-1")
			assert.ErrorIs(t, err, ErrResultNotFound)
		})
	}
}

func TestRun_ReleasesSessions(t *testing.T) {
	h := newHarness(t, &scriptedModel{})
	_, err := h.pipeline.Run(context.Background(), validRequest)
	require.NoError(t, err)
	assert.Equal(t, 0, h.pipeline.Stages().Registry().Len())
}
