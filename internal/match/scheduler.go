package match

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/JovieInc/jovie/internal/provider"
)

// Scheduler periodically runs discovery for connected profiles whose
// platform slots are still open.
type Scheduler struct {
	db       *sql.DB
	engine   *Engine
	matches  *Service
	settings *provider.SettingsService
	logger   *slog.Logger
}

// NewScheduler creates a discovery scheduler.
func NewScheduler(db *sql.DB, engine *Engine, matches *Service, settings *provider.SettingsService, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		db:       db,
		engine:   engine,
		matches:  matches,
		settings: settings,
		logger:   logger.With(slog.String("component", "discovery-scheduler")),
	}
}

// Start blocks until the context is canceled, running a discovery sweep on
// each tick.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		s.logger.Error("discovery scheduler not started: non-positive interval", "interval", interval.String())
		return
	}
	s.logger.Info("discovery scheduler started", "interval", interval.String())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("discovery scheduler stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs discovery for every connected profile and available platform
// whose slot holds no live match yet. Platform hiccups are retried with
// backoff before the pair is skipped until the next tick.
func (s *Scheduler) sweep(ctx context.Context) {
	targets, err := s.listTargets(ctx)
	if err != nil {
		s.logger.Error("discovery sweep: listing profiles", "error", err)
		return
	}

	keys, err := s.settings.AvailableCatalogKeys(ctx)
	if err != nil {
		s.logger.Error("discovery sweep: listing platforms", "error", err)
		return
	}

	var ran, failed int
	for _, t := range targets {
		if ctx.Err() != nil {
			break
		}
		for _, key := range provider.AllCatalogKeys() {
			if !keys[key] {
				continue
			}
			if string(key) == t.homeProvider {
				continue
			}
			existing, err := s.matches.ActiveByProfileProvider(ctx, t.profileID, key)
			if err != nil {
				s.logger.Error("discovery sweep: checking slot",
					"profile_id", t.profileID, "provider", string(key), "error", err)
				continue
			}
			if existing != nil {
				continue
			}
			if err := s.discoverWithRetry(ctx, t.profileID, key); err != nil {
				failed++
				s.logger.Warn("discovery sweep: run failed",
					"profile_id", t.profileID, "provider", string(key), "error", err)
				continue
			}
			ran++
		}
	}
	s.logger.Info("discovery sweep complete", "ran", ran, "failed", failed)
}

type sweepTarget struct {
	profileID    string
	homeProvider string
}

// listTargets returns connected profiles that have at least one track with an
// ISRC, so sweeps never waste lookups on profiles with nothing to match.
func (s *Scheduler) listTargets(ctx context.Context) ([]sweepTarget, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.home_provider FROM profiles p
		WHERE p.connected = 1 AND EXISTS (
			SELECT 1 FROM releases r
			JOIN tracks t ON t.release_id = r.id
			WHERE r.profile_id = p.id AND t.isrc != ''
		)
		ORDER BY p.id`)
	if err != nil {
		return nil, fmt.Errorf("querying profiles: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var targets []sweepTarget
	for rows.Next() {
		var t sweepTarget
		if err := rows.Scan(&t.profileID, &t.homeProvider); err != nil {
			return nil, fmt.Errorf("scanning profile: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// discoverWithRetry runs one discovery attempt, retrying only when the
// platform itself reported a transient outage. A run already in flight for
// the pair counts as success.
func (s *Scheduler) discoverWithRetry(ctx context.Context, profileID string, key provider.Key) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(time.Second))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.engine.Discover(ctx, profileID, key)
		if errors.Is(err, ErrDiscoveryActive) {
			return nil
		}
		var unavailable *provider.ErrProviderUnavailable
		if errors.As(err, &unavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
}
