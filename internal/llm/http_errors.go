package llm

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	iriserrors "iris/internal/errors"
	"iris/internal/jsonx"
)

// mapHTTPError classifies a non-2xx provider response. 429 and 5xx are
// transient; everything else is permanent.
func mapHTTPError(resp *http.Response, body []byte) error {
	detail := providerErrorMessage(body)
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}
	message := fmt.Sprintf("provider returned %d: %s", resp.StatusCode, detail)
	err := iriserrors.FromHTTPStatus(resp.StatusCode, message)
	if transient, ok := err.(*iriserrors.TransientError); ok {
		if seconds, convErr := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); convErr == nil {
			transient.RetryAfter = seconds
		}
	}
	return err
}

// providerErrorMessage extracts {"error":{"message":...}} or
// {"error":"..."} shapes shared by both providers.
func providerErrorMessage(body []byte) string {
	var payload struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if err := jsonx.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(truncate(string(body), 300))
	}
	switch value := payload.Error.(type) {
	case string:
		return value
	case map[string]any:
		if msg, ok := value["message"].(string); ok {
			return msg
		}
	}
	return payload.Message
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
