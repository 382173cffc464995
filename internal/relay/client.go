package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// MessagePath is the relay route
const MessagePath = "/api/chat/message"

// Local asks the completer in-process, applying the same persona and
// validation as the HTTP relay.
type Local struct {
	completer Completer
}

// NewLocal creates an in-process relay client
func NewLocal(completer Completer) *Local {
	return &Local{completer: completer}
}

// Ask returns the assistant's reply to the transcript
func (l *Local) Ask(ctx context.Context, messages []Message) (string, error) {
	if err := Validate(messages); err != nil {
		return "", err
	}

	raw, err := l.completer.Complete(ctx, WithPersona(messages))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return ExtractReply(raw)
}

// HTTPClient calls a remote relay endpoint
type HTTPClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPClient creates a client for the relay served at baseURL
func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{
		endpoint:   strings.TrimRight(baseURL, "/") + MessagePath,
		httpClient: httpClient,
	}
}

// Ask posts the transcript and extracts the reply
func (c *HTTPClient) Ask(ctx context.Context, messages []Message) (string, error) {
	body, err := json.Marshal(messages)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: relay returned status %d", ErrUpstream, resp.StatusCode)
	}

	return ExtractReply(raw)
}
