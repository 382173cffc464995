// Package relay forwards call transcripts to the hosted chat-completion
// service behind a fixed assistant persona.
package relay

import (
	"errors"
	"fmt"

	"github.com/lexiqai/callbob/internal/transcript"
	"github.com/tidwall/gjson"
)

// Role of a relay message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one element of a relay request
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ErrorBody is the payload of a rejected or failed relay request
type ErrorBody struct {
	Error string `json:"error"`
}

var (
	// ErrUpstream means the relay answered with an {error} body instead of a completion
	ErrUpstream = errors.New("relay: upstream failure")

	// ErrNoCompletion means the response lacks choices[0].message.content
	ErrNoCompletion = errors.New("relay: response has no completion")

	// ErrInvalidRequest means the transcript cannot be forwarded as is
	ErrInvalidRequest = errors.New("relay: invalid request")
)

// UpstreamError is a non-2xx answer from the completion service
type UpstreamError struct {
	StatusCode int
	Body       []byte // raw response body, if any
	Err        error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream status %d: %v", e.StatusCode, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ErrorBody returns the upstream body when it is a JSON object with an
// "error" member, so it can be handed to clients unchanged
func (e *UpstreamError) ErrorBody() ([]byte, bool) {
	if len(e.Body) == 0 || !gjson.ValidBytes(e.Body) {
		return nil, false
	}
	body := gjson.ParseBytes(e.Body)
	if !body.IsObject() || !body.Get("error").Exists() {
		return nil, false
	}
	return e.Body, true
}

// FromTranscript maps transcript entries to relay messages
func FromTranscript(entries []transcript.Entry) []Message {
	out := make([]Message, 0, len(entries))
	for _, e := range entries {
		role := RoleUser
		if e.Sender == transcript.SenderAssistant {
			role = RoleAssistant
		}
		out = append(out, Message{Role: role, Content: e.Text})
	}
	return out
}
