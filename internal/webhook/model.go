// Package webhook delivers system events to subscribed HTTP endpoints.
package webhook

import (
	"time"

	"github.com/JovieInc/jovie/internal/event"
)

// Webhook represents a configured webhook endpoint. When Secret is set,
// deliveries carry an HMAC-SHA256 signature the receiver can verify.
type Webhook struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	URL       string       `json:"url"`
	Secret    string       `json:"secret,omitempty"`
	Events    []event.Type `json:"events"`
	Enabled   bool         `json:"enabled"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Subscribed reports whether the webhook wants the given event type. An
// empty subscription list means every event.
func (w *Webhook) Subscribed(t event.Type) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == t {
			return true
		}
	}
	return false
}
