package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/gjson"

	"github.com/lexiqai/callbob/internal/config"
	"github.com/lexiqai/callbob/internal/observability"
	"github.com/lexiqai/callbob/internal/resilience"
)

// Model is the fixed upstream model; clients cannot choose it
const Model = openai.ChatModelGPT4oMini

// Completer sends a full message sequence upstream and returns the raw completion JSON
type Completer interface {
	Complete(ctx context.Context, messages []Message) ([]byte, error)
}

// OpenAICompleter calls an OpenAI-compatible chat completions endpoint
type OpenAICompleter struct {
	client openai.Client
}

// NewOpenAICompleter creates a completer using the server-held credential.
// SDK retries are disabled; a failed call is reported once.
func NewOpenAICompleter(cfg *config.Config) *OpenAICompleter {
	return &OpenAICompleter{
		client: openai.NewClient(
			option.WithAPIKey(cfg.OpenAIAPIKey),
			option.WithBaseURL(cfg.OpenAIBaseURL),
			option.WithMaxRetries(0),
			option.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.RelayTimeout) * time.Second,
			}),
		),
	}
}

// Complete forwards messages as is; callers prepend the persona
func (c *OpenAICompleter) Complete(ctx context.Context, messages []Message) ([]byte, error) {
	params := openai.ChatCompletionNewParams{
		Model:    Model,
		Messages: toOpenAIMessages(messages),
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		observability.RecordRelayRequest(observability.RelayStatusError, latency)

		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("chat completion: %w", &UpstreamError{
				StatusCode: apiErr.StatusCode,
				Body:       upstreamBody(apiErr),
				Err:        err,
			})
		}
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	raw := resp.RawJSON()
	if raw == "" {
		observability.RecordRelayRequest(observability.RelayStatusError, latency)
		return nil, fmt.Errorf("chat completion: empty response body")
	}

	observability.RecordRelayRequest(observability.RelayStatusSuccess, latency)
	return []byte(raw), nil
}

// upstreamBody recovers the error response body. The SDK leaves the body
// readable on the error's response; its parsed error object is the fallback.
func upstreamBody(apiErr *openai.Error) []byte {
	if apiErr.Response != nil && apiErr.Response.Body != nil {
		body, err := io.ReadAll(io.LimitReader(apiErr.Response.Body, maxRequestBytes))
		if err == nil && len(body) > 0 {
			return body
		}
	}

	raw := apiErr.RawJSON()
	if raw == "" {
		return nil
	}
	if gjson.Get(raw, "error").Exists() {
		return []byte(raw)
	}
	return []byte(`{"error":` + raw + `}`)
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// BreakerCompleter rejects calls without reaching upstream while its circuit is open
type BreakerCompleter struct {
	next    Completer
	breaker *resilience.CircuitBreaker
}

// NewBreakerCompleter wraps next with breaker and reports breaker state to metrics
func NewBreakerCompleter(next Completer, breaker *resilience.CircuitBreaker) *BreakerCompleter {
	breaker.OnStateChange(func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
		logger := observability.WithComponent("relay")
		logger.Warn().
			Str("service", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Circuit breaker state changed")
	})
	observability.UpdateCircuitBreakerState(breaker.Name(), int(breaker.GetState()))

	return &BreakerCompleter{next: next, breaker: breaker}
}

// Complete implements Completer
func (b *BreakerCompleter) Complete(ctx context.Context, messages []Message) ([]byte, error) {
	if !b.breaker.Allow() {
		observability.RecordRelayRequest(observability.RelayStatusOpen, 0)
		return nil, resilience.ErrCircuitOpen
	}

	raw, err := b.next.Complete(ctx, messages)

	// A caller that hung up says nothing about upstream health
	if errors.Is(err, context.Canceled) {
		b.breaker.Release()
		return nil, err
	}

	b.breaker.RecordResult(err == nil)
	if err != nil {
		observability.IncrementCircuitBreakerFailures(b.breaker.Name())
	}
	return raw, err
}

// Healthy reports whether the breaker currently lets requests through.
// An open circuit, or a half-open one with every trial slot taken, is not ready.
func (b *BreakerCompleter) Healthy(ctx context.Context) (bool, error) {
	if b.breaker.GetState() == resilience.StateOpen || !b.breaker.Accepting() {
		return false, resilience.ErrCircuitOpen
	}
	return true, nil
}
