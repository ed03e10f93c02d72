// ABOUTME: HTTP handlers for the root, health, status, generate and results endpoints
// ABOUTME: Responses are JSON except for /health and the HTML rendering of stored results

package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/yuin/goldmark"

	"github.com/2389/campaign-gateway/internal/pipeline"
	"github.com/2389/campaign-gateway/internal/session"
)

// maxRequestBody caps the size of a generation brief
const maxRequestBody = 1 << 20

// RootResponse is the JSON response for GET /.
type RootResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// StatusResponse is the JSON response for GET /api/status.
type StatusResponse struct {
	Status            string            `json:"status"`
	Version           string            `json:"version"`
	Agents            map[string]string `json:"agents"`
	Uptime            int64             `json:"uptime"` // milliseconds
	RequestsProcessed int64             `json:"requests_processed"`
	Timestamp         string            `json:"timestamp"`
}

// GenerateResponse is the JSON response for POST /api/generate.
type GenerateResponse struct {
	RequestID string           `json:"request_id"`
	Status    string           `json:"status"`
	Data      *pipeline.Result `json:"data"`
}

func (g *Gateway) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RootResponse{
		Status:  "online",
		Message: "Campaign Gateway API",
	})
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleStatus reports the agents, uptime and request counter of the
// system_status session. It never changes the counter.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := g.registry.Get(session.SystemStatusName).Status(r.Context())
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Status:            "online",
		Version:           Version,
		Agents:            status.Agents,
		Uptime:            status.Uptime.Milliseconds(),
		RequestsProcessed: status.RequestsProcessed,
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
	})
}

// handleGenerate runs the full pipeline for the posted brief.
// A body that is not valid JSON is reported as internal_error.
func (g *Gateway) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		g.writeError(w, r, fmt.Errorf("decoding request body: %w", err))
		return
	}

	result, err := g.pipeline.Run(r.Context(), req)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, GenerateResponse{
		RequestID: result.RequestID,
		Status:    "success",
		Data:      result,
	})
}

// handleGetResult returns a stored result as JSON, or as HTML with ?format=html.
func (g *Gateway) handleGetResult(w http.ResponseWriter, r *http.Request) {
	result, err := g.pipeline.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") != "html" {
		writeJSON(w, http.StatusOK, result)
		return
	}

	page, err := renderResultHTML(result)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page)
}

// renderResultHTML lays a result out as markdown and converts it with goldmark.
// Raw HTML in model output is not passed through.
func renderResultHTML(result *pipeline.Result) ([]byte, error) {
	var md strings.Builder
	fmt.Fprintf(&md, "# %s\n\n", result.CampaignType)
	fmt.Fprintf(&md, "_Request %s, %s_\n\n", result.RequestID, result.Timestamp)
	fmt.Fprintf(&md, "## Content\n\n%s\n\n", result.OriginalContent)
	fmt.Fprintf(&md, "## Review (score %d/10)\n\n%s\n\n", result.Score, result.Review)
	if result.ImprovedContent != "" {
		fmt.Fprintf(&md, "## Improved content\n\n%s\n", result.ImprovedContent)
	}

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md.String()), &buf); err != nil {
		return nil, fmt.Errorf("rendering result: %w", err)
	}
	return buf.Bytes(), nil
}
