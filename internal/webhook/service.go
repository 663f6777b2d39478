package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JovieInc/jovie/internal/event"
)

// ErrNotFound is returned when no webhook matches the given ID.
var ErrNotFound = errors.New("webhook not found")

// webhookColumns is the column set every query reads or writes, in scan order.
const webhookColumns = "id, name, url, secret, events, enabled, created_at, updated_at"

// Service manages webhook persistence.
type Service struct {
	db *sql.DB
}

// NewService returns a Service backed by db.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Create validates and stores a new webhook, assigning its ID.
func (s *Service) Create(ctx context.Context, w *Webhook) error {
	if err := validate(w); err != nil {
		return err
	}
	eventsJSON, err := marshalEvents(w.Events)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	w.ID = uuid.New().String()
	w.CreatedAt = now
	w.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO webhooks ("+webhookColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		w.ID, w.Name, w.URL, w.Secret, eventsJSON, boolToInt(w.Enabled),
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting webhook: %w", err)
	}
	return nil
}

// getOne runs a single-row query with the standard column set. Callers map
// sql.ErrNoRows themselves since not-found means different things to them.
func (s *Service) getOne(ctx context.Context, where string, args ...any) (*Webhook, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+webhookColumns+" FROM webhooks WHERE "+where, args...)
	return scanWebhook(row)
}

// GetByID looks up one webhook, wrapping ErrNotFound for a missing ID.
func (s *Service) GetByID(ctx context.Context, id string) (*Webhook, error) {
	w, err := s.getOne(ctx, "id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting webhook: %w", err)
	}
	return w, nil
}

// GetByNameAndURL returns the webhook with the given name and URL, or nil
// when none exists. Settings import uses this to upsert instead of
// duplicating endpoints.
func (s *Service) GetByNameAndURL(ctx context.Context, name, url string) (*Webhook, error) {
	w, err := s.getOne(ctx, "name = ? AND url = ?", name, url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting webhook by name and url: %w", err)
	}
	return w, nil
}

// List returns every webhook, ordered by name.
func (s *Service) List(ctx context.Context) ([]Webhook, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+webhookColumns+" FROM webhooks ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing webhooks: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var webhooks []Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning webhook: %w", err)
		}
		webhooks = append(webhooks, *w)
	}
	return webhooks, rows.Err()
}

// ListByEvent returns all enabled webhooks subscribed to the given event
// type.
func (s *Service) ListByEvent(ctx context.Context, t event.Type) ([]Webhook, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var matched []Webhook
	for _, w := range all {
		if w.Enabled && w.Subscribed(t) {
			matched = append(matched, w)
		}
	}
	return matched, nil
}

// Update persists changes to an existing webhook.
func (s *Service) Update(ctx context.Context, w *Webhook) error {
	if err := validate(w); err != nil {
		return err
	}
	eventsJSON, err := marshalEvents(w.Events)
	if err != nil {
		return err
	}
	w.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx,
		"UPDATE webhooks SET name = ?, url = ?, secret = ?, events = ?, enabled = ?, updated_at = ? WHERE id = ?",
		w.Name, w.URL, w.Secret, eventsJSON, boolToInt(w.Enabled),
		w.UpdatedAt.Format(time.RFC3339), w.ID)
	if err != nil {
		return fmt.Errorf("updating webhook: %w", err)
	}
	return requireHit(result, w.ID)
}

// Delete removes the webhook with the given ID.
func (s *Service) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM webhooks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting webhook: %w", err)
	}
	return requireHit(result, id)
}

// requireHit converts a zero-row write into ErrNotFound.
func requireHit(result sql.Result, id string) error {
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func validate(w *Webhook) error {
	if w.Name == "" {
		return errors.New("name is required")
	}
	if w.URL == "" {
		return errors.New("url is required")
	}
	for _, e := range w.Events {
		if !knownEventType(e) {
			return fmt.Errorf("unknown event type %q", e)
		}
	}
	return nil
}

func knownEventType(t event.Type) bool {
	for _, known := range event.AllTypes() {
		if t == known {
			return true
		}
	}
	return false
}

func marshalEvents(events []event.Type) (string, error) {
	if events == nil {
		events = []event.Type{}
	}
	b, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("marshaling events: %w", err)
	}
	return string(b), nil
}

// scanWebhook reads one row, accepting either *sql.Row or *sql.Rows.
func scanWebhook(row interface{ Scan(...any) error }) (*Webhook, error) {
	var w Webhook
	var eventsJSON, createdAt, updatedAt string
	var enabled int

	if err := row.Scan(&w.ID, &w.Name, &w.URL, &w.Secret, &eventsJSON, &enabled, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	w.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(eventsJSON), &w.Events); err != nil {
		w.Events = nil
	}
	w.CreatedAt = parseTime(createdAt)
	w.UpdatedAt = parseTime(updatedAt)

	return &w, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}
