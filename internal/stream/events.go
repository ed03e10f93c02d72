// ABOUTME: Inbound and outbound message shapes for streaming sessions
// ABOUTME: Every server event carries an RFC 3339 timestamp

package stream

import (
	"github.com/2389/campaign-gateway/internal/pipeline"
)

// Inbound message types
const (
	TypeAuth     = "auth"
	TypeGenerate = "generate"
	TypePing     = "ping"
)

// Outbound event types
const (
	EventConnectionEstablished = "connection_established"
	EventAgentMessage          = "agent_message"
	EventContent               = "content"
	EventReview                = "review"
	EventComplete              = "complete"
	EventPong                  = "pong"
	EventError                 = "error"
)

// Error codes carried by error events
const (
	CodeAuthenticationFailed = "authentication_failed"
	CodeInvalidParameters    = "invalid_parameters"
)

// inbound is any message a client may send
type inbound struct {
	Type   string            `json:"type"`
	APIKey string            `json:"api_key,omitempty"`
	Data   *pipeline.Request `json:"data,omitempty"`
}

// Event is a server-to-client message. Only the fields relevant to Type are set.
type Event struct {
	Type            string  `json:"type"`
	Message         string  `json:"message,omitempty"`
	Code            string  `json:"code,omitempty"`
	Details         any     `json:"details,omitempty"`
	Agent           string  `json:"agent,omitempty"`
	Content         *string `json:"content,omitempty"`
	Review          *string `json:"review,omitempty"`
	Score           *int    `json:"score,omitempty"`
	ImprovedContent *string `json:"improved_content,omitempty"`
	RequestID       string  `json:"request_id,omitempty"`
	Timestamp       string  `json:"timestamp"`
}
