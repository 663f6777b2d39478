package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/JovieInc/jovie/internal/event"
)

// formatPayload returns the JSON request body for a delivery.
func formatPayload(e event.Event) []byte {
	payload := map[string]any{
		"event":     string(e.Type),
		"timestamp": e.Timestamp,
		"data":      e.Data,
	}
	body, _ := json.Marshal(payload)
	return body
}

// signature computes the tag receivers verify against the raw body:
// hex HMAC-SHA256 under the webhook's shared secret.
func signature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body) //nolint:errcheck
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
