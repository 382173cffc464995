package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/lexiqai/callbob/internal/observability"
)

const (
	maxRequestBytes = 1 << 20

	msgMethodNotAllowed = "Method Not Allowed"
	msgSoftFailure      = "An error occurred"
)

// Handler serves POST /api/chat/message.
// Upstream failures are answered with 200 and an {error} body; callers must
// check for the absence of choices.
func Handler(completer Completer) http.HandlerFunc {
	logger := observability.WithComponent("relay")

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			observability.RecordRelayRequest(observability.RelayStatusRejected, 0)
			w.Header().Set("Allow", http.MethodPost)
			writeJSON(w, http.StatusMethodNotAllowed, ErrorBody{Error: msgMethodNotAllowed})
			return
		}

		messages, err := decodeMessages(w, r)
		if err != nil {
			observability.RecordRelayRequest(observability.RelayStatusRejected, 0)
			logger.Warn().Err(err).Msg("Rejected relay request")
			writeJSON(w, http.StatusBadRequest, ErrorBody{Error: err.Error()})
			return
		}

		raw, err := completer.Complete(r.Context(), WithPersona(messages))
		if err != nil {
			observability.RecordError("upstream_error", "relay")
			logger.Error().Err(err).Int("messages", len(messages)).Msg("Upstream completion failed")

			// An upstream {error} body is passed through as is
			var upErr *UpstreamError
			if errors.As(err, &upErr) {
				if body, ok := upErr.ErrorBody(); ok {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusOK)
					w.Write(body)
					return
				}
			}
			writeJSON(w, http.StatusOK, ErrorBody{Error: msgSoftFailure})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(raw)
	}
}

// decodeMessages reads the transcript body. Content-Type is not required.
func decodeMessages(w http.ResponseWriter, r *http.Request) ([]Message, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: request body too large", ErrInvalidRequest)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	var messages []Message
	if err := json.Unmarshal(body, &messages); err != nil {
		return nil, fmt.Errorf("%w: body must be a JSON array of {role, content}", ErrInvalidRequest)
	}

	if err := Validate(messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// SoftFailure answers with the generic soft error
func SoftFailure(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ErrorBody{Error: msgSoftFailure})
}
