package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/JovieInc/jovie/internal/event"
)

const (
	// maxAttempts bounds total tries per delivery, including the first.
	maxAttempts     = 3
	requestTimeout  = 10 * time.Second
	deliveryTimeout = time.Minute
)

// Dispatcher fans events out to the webhooks subscribed to them. Deliveries
// run in their own goroutines so a slow endpoint never stalls the event bus.
type Dispatcher struct {
	service    *Service
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDispatcher creates a dispatcher that delivers with a default HTTP client.
func NewDispatcher(service *Service, logger *slog.Logger) *Dispatcher {
	return NewDispatcherWithHTTPClient(service, &http.Client{Timeout: requestTimeout}, logger)
}

// NewDispatcherWithHTTPClient creates a dispatcher around the given HTTP
// client. Tests use it to point deliveries at an httptest server.
func NewDispatcherWithHTTPClient(service *Service, httpClient *http.Client, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		service:    service,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "webhook-dispatcher")),
	}
}

// Register subscribes the dispatcher to every known event type on the bus.
func (d *Dispatcher) Register(bus *event.Bus) {
	for _, t := range event.AllTypes() {
		bus.Subscribe(t, d.HandleEvent)
	}
}

// HandleEvent is an event.Handler that starts a delivery for each webhook
// subscribed to the event's type.
func (d *Dispatcher) HandleEvent(e event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	matched, err := d.service.ListByEvent(ctx, e.Type)
	if err != nil {
		d.logger.Error("listing webhooks for event", "type", string(e.Type), "error", err)
		return
	}
	for _, w := range matched {
		go d.deliver(w, e)
	}
}

// SendTest delivers a synthetic event to one webhook and reports the
// outcome, for the dashboard's test button. No retries.
func (d *Dispatcher) SendTest(ctx context.Context, w *Webhook) error {
	e := event.Event{
		Type:      "test",
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"webhook": w.Name},
	}
	return d.send(ctx, w, formatPayload(e), e.Type)
}

// deliver posts the event to one webhook, backing off exponentially between
// failed attempts.
func (d *Dispatcher) deliver(w Webhook, e event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	body := formatPayload(e)
	backoff := retry.WithMaxRetries(maxAttempts-1, retry.NewExponential(time.Second))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		reqCtx, reqCancel := context.WithTimeout(ctx, requestTimeout)
		defer reqCancel()

		if err := d.send(reqCtx, &w, body, e.Type); err != nil {
			d.logger.Warn("webhook delivery failed",
				"webhook", w.Name,
				"event", string(e.Type),
				"attempt", attempt,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		d.logger.Error("webhook delivery exhausted retries",
			"webhook", w.Name,
			"event", string(e.Type),
			"error", err,
		)
		return
	}
	d.logger.Debug("webhook delivered",
		"webhook", w.Name,
		"event", string(e.Type),
		"attempts", attempt,
	)
}

func (d *Dispatcher) send(ctx context.Context, w *Webhook, body []byte, eventType event.Type) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Jovie-Webhook/1.0")
	req.Header.Set("X-Jovie-Event", string(eventType))
	if w.Secret != "" {
		req.Header.Set("X-Jovie-Signature", signature(w.Secret, body))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()        //nolint:errcheck
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
