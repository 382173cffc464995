package relay

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ExtractReply reads choices[0].message.content from a relay response.
// The relay passes the upstream body through unvalidated, so an {error} body,
// invalid JSON or a missing or blank content field are all reported as errors.
func ExtractReply(raw []byte) (string, error) {
	if !gjson.ValidBytes(raw) {
		return "", fmt.Errorf("%w: response is not valid JSON", ErrNoCompletion)
	}

	if e := gjson.GetBytes(raw, "error"); e.Exists() && e.Type != gjson.Null {
		msg := e.String()
		if m := e.Get("message"); m.Exists() {
			msg = m.String()
		}
		return "", fmt.Errorf("%w: %s", ErrUpstream, msg)
	}

	content := gjson.GetBytes(raw, "choices.0.message.content")
	if content.Type != gjson.String || strings.TrimSpace(content.Str) == "" {
		return "", ErrNoCompletion
	}
	return content.Str, nil
}
