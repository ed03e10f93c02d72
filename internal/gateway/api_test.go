// ABOUTME: Tests for the HTTP API surface through an httptest server
// ABOUTME: Covers CORS, routing, admission, the error envelope, generation and stored results

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/campaign-gateway/internal/auth"
	"github.com/2389/campaign-gateway/internal/config"
	"github.com/2389/campaign-gateway/internal/llm"
)

const validBrief = `{"prompt":"Lancering zomercollectie","campaign_type":"instagram","brand_info":"Duurzame kleding","target_audience":"25-35"}`

func (e *testEnv) do(t *testing.T, method, path, key, body string, headers ...string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func assertCORS(t *testing.T, resp *http.Response) {
	t.Helper()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, Authorization", resp.Header.Get("Access-Control-Allow-Headers"))
}

func TestRoot(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assertCORS(t, resp)

	body := decodeJSON[RootResponse](t, resp)
	assert.Equal(t, "online", body.Status)
	assert.NotEmpty(t, body.Message)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "OK", string(body))
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/", "/api/generate", "/does/not/exist"} {
		t.Run(path, func(t *testing.T) {
			resp := env.do(t, http.MethodOptions, path, "", "")
			assert.Equal(t, http.StatusNoContent, resp.StatusCode)
			assertCORS(t, resp)
		})
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/nope"},
		{http.MethodPost, "/"},
		{http.MethodGet, "/api/generate"},
		{http.MethodDelete, "/api/status"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp := env.do(t, tt.method, tt.path, testKey, "")
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
			body, _ := io.ReadAll(resp.Body)
			assert.Equal(t, "Not Found", strings.TrimSpace(string(body)))
			assertCORS(t, resp)
		})
	}
}

func TestStatus_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		headers []string
		message string
	}{
		{"missing header", nil, auth.MsgMissingKey},
		{"wrong scheme", []string{"Authorization", "Basic abc"}, auth.MsgMissingKey},
		{"unknown key", []string{"Authorization", "Bearer nope"}, auth.MsgInvalidKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, "/api/status", "", "", tt.headers...)
			require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assertCORS(t, resp)

			body := decodeJSON[ErrorEnvelope](t, resp)
			assert.Equal(t, "error", body.Status)
			assert.Equal(t, CodeAuthenticationFailed, body.Error.Code)
			assert.Equal(t, tt.message, body.Error.Message)
		})
	}
}

func TestStatus_Payload(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 2; i++ {
		resp := env.do(t, http.MethodGet, "/api/status", testKey, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeJSON[StatusResponse](t, resp)
		assert.Equal(t, "online", body.Status)
		assert.Equal(t, Version, body.Version)
		assert.Equal(t, map[string]string{
			"content_creator":    "active",
			"marketing_reviewer": "active",
		}, body.Agents)
		assert.GreaterOrEqual(t, body.Uptime, int64(0))
		assert.Zero(t, body.RequestsProcessed, "reading status must not count as a request")
		assert.NotEmpty(t, body.Timestamp)
	}

	resp := env.do(t, http.MethodGet, "/api/status", testKey, "")
	assert.Equal(t, "10", resp.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "7", resp.Header.Get("X-RateLimit-Remaining"))
}

func TestGenerate_Success(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/generate", testKey, validBrief)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assertCORS(t, resp)

	body := decodeJSON[GenerateResponse](t, resp)
	assert.Equal(t, "success", body.Status)
	require.NotNil(t, body.Data)
	assert.NotEmpty(t, body.RequestID)
	assert.Equal(t, body.RequestID, body.Data.RequestID)
	assert.Equal(t, env.model.content, body.Data.OriginalContent)
	assert.Equal(t, env.model.review, body.Data.Review)
	assert.Equal(t, 8, body.Data.Score)
	assert.Equal(t, "Zomer in de stad! Shop nu de nieuwe collectie.", body.Data.ImprovedContent)
	assert.Equal(t, "instagram", body.Data.CampaignType)
	assert.Equal(t, 2, env.model.callCount())

	stored := env.do(t, http.MethodGet, "/api/results/"+body.RequestID, testKey, "")
	require.Equal(t, http.StatusOK, stored.StatusCode)
	got := decodeJSON[map[string]any](t, stored)
	assert.Equal(t, body.RequestID, got["request_id"])
	assert.Equal(t, float64(8), got["score"])

	status := decodeJSON[StatusResponse](t, env.do(t, http.MethodGet, "/api/status", testKey, ""))
	assert.Equal(t, int64(2), status.RequestsProcessed, "creator and reviewer each count once")
}

func TestGenerate_MissingFields(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/generate", testKey, `{"prompt":"x","brand_info":"y","campaign_type":"  "}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeJSON[map[string]any](t, resp)
	assert.Equal(t, "error", body["status"])
	errBody := body["error"].(map[string]any)
	assert.Equal(t, CodeInvalidParameters, errBody["code"])
	assert.Equal(t, "Missing required fields", errBody["message"])
	assert.Equal(t, map[string]any{
		"missing_fields": []any{"campaign_type", "target_audience"},
	}, errBody["details"])

	assert.Zero(t, env.model.callCount(), "invalid requests must not reach the model")
	assert.Empty(t, env.reporter.capturedErrors())
}

func TestGenerate_MalformedJSON(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/generate", testKey, `{"prompt":`)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	body := decodeJSON[ErrorEnvelope](t, resp)
	assert.Equal(t, CodeInternalError, body.Error.Code)
	assert.Equal(t, "Error generating content", body.Error.Message)
	assert.NotEmpty(t, body.Error.Details)
	assert.Zero(t, env.model.callCount())
}

func TestGenerate_ModelFailure(t *testing.T) {
	env := newTestEnv(t)
	env.model.err = &llm.StatusError{StatusCode: 529, Body: "overloaded"}

	resp := env.do(t, http.MethodPost, "/api/generate", testKey, validBrief)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	body := decodeJSON[ErrorEnvelope](t, resp)
	assert.Equal(t, CodeInternalError, body.Error.Code)
	assert.Equal(t, "Error generating content", body.Error.Message)
	assert.Contains(t, fmt.Sprint(body.Error.Details), "overloaded")

	captured := env.reporter.capturedErrors()
	require.Len(t, captured, 1)
	var statusErr *llm.StatusError
	assert.True(t, errors.As(captured[0], &statusErr))
}

func TestGenerate_UpstreamTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.model.err = fmt.Errorf("%w after 120s", llm.ErrTimeout)

	resp := env.do(t, http.MethodPost, "/api/generate", testKey, validBrief)
	require.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)

	body := decodeJSON[ErrorEnvelope](t, resp)
	assert.Equal(t, CodeUpstreamTimeout, body.Error.Code)
	assert.Len(t, env.reporter.capturedErrors(), 1)
}

func TestRateLimit_EleventhRequestRejected(t *testing.T) {
	env := newTestEnv(t)

	for i := 1; i <= 10; i++ {
		resp := env.do(t, http.MethodGet, "/api/status", testKey, "")
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i)
	}

	resp := env.do(t, http.MethodGet, "/api/status", testKey, "")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assertCORS(t, resp)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))

	body := decodeJSON[ErrorEnvelope](t, resp)
	assert.Equal(t, CodeRateLimitExceeded, body.Error.Code)
	assert.Equal(t, auth.MsgRateLimited, body.Error.Message)
}

func TestRateLimit_UnauthenticatedRequestsDoNotCount(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 15; i++ {
		env.do(t, http.MethodGet, "/api/status", "wrong", "")
	}
	resp := env.do(t, http.MethodGet, "/api/status", testKey, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimit_TrustedProxyHeaders(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Server.TrustProxyHeaders = true })

	for i := 0; i < 10; i++ {
		resp := env.do(t, http.MethodGet, "/api/status", testKey, "", "X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := env.do(t, http.MethodGet, "/api/status", testKey, "", "X-Forwarded-For", "203.0.113.7")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/status", testKey, "", "CF-Connecting-IP", "198.51.100.2")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "a different client has its own window")
}

func TestResults_NotFound(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/results/unknown", testKey, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decodeJSON[ErrorEnvelope](t, resp)
	assert.Equal(t, CodeNotFound, body.Error.Code)
}

func TestResults_HTML(t *testing.T) {
	env := newTestEnv(t)
	env.model.content = "**Zomer** in de stad <script>alert(1)</script>"

	gen := decodeJSON[GenerateResponse](t, env.do(t, http.MethodPost, "/api/generate", testKey, validBrief))

	resp := env.do(t, http.MethodGet, "/api/results/"+gen.RequestID+"?format=html", testKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))

	page, _ := io.ReadAll(resp.Body)
	html := string(page)
	assert.Contains(t, html, "<h1>instagram</h1>")
	assert.Contains(t, html, "<strong>Zomer</strong>")
	assert.Contains(t, html, "score 8/10")
	assert.NotContains(t, html, "<script>")
}

func TestRecoverMiddleware(t *testing.T) {
	env := newTestEnv(t)

	h := env.gw.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeInternalError, body.Error.Code)
	assert.Len(t, env.reporter.capturedErrors(), 1)
}

func TestWriteError_StoreFailureIsInternal(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil).WithContext(context.Background())
	env.gw.writeError(rec, req, errors.New("connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "connection refused", body.Error.Details)
}
