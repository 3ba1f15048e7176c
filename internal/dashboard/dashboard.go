// Package dashboard assembles the summary view: job counters and the most
// recent history records.
package dashboard

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/reconctl/api/schemas"
	"github.com/xkilldash9x/reconctl/internal/identity"
)

// CounterSource fetches the live counters.
type CounterSource interface {
	Counters(ctx context.Context, headers identity.Headers) (schemas.CounterSnapshot, error)
}

// HistorySource fetches normalized history for a principal.
type HistorySource interface {
	FetchHistory(ctx context.Context, p identity.Principal) ([]schemas.Record, error)
}

// Overview is one rendering of the dashboard.
type Overview struct {
	Counters schemas.CounterSnapshot
	// CountersLive is false when the backend did not answer and the
	// placeholder counters are shown.
	CountersLive bool
	CountersErr  error
	Recent       []schemas.Record
}

// Service builds dashboard overviews.
type Service struct {
	counters CounterSource
	history  HistorySource
	logger   *zap.Logger
}

// NewService creates a Service. history may be nil for a counters-only view.
func NewService(counters CounterSource, history HistorySource, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{counters: counters, history: history, logger: logger.Named("dashboard")}
}

// Counters returns the placeholder counters overlaid with whatever the backend
// reports. On failure the placeholders are returned together with the error.
func (s *Service) Counters(ctx context.Context, p identity.Principal) (schemas.CounterSnapshot, error) {
	defaults := schemas.DefaultCounters()
	headers, err := identity.BuildHeaders(ctx, p)
	if err != nil {
		return defaults, err
	}
	live, err := s.counters.Counters(ctx, headers)
	if err != nil {
		s.logger.Warn("Counter fetch failed, showing placeholders", zap.Error(err))
		return defaults, err
	}
	return defaults.Merge(live), nil
}

// Overview fetches counters and up to limit recent records concurrently. A
// counter failure degrades to placeholders; a history failure is returned.
// limit <= 0 keeps every record.
func (s *Service) Overview(ctx context.Context, p identity.Principal, limit int) (Overview, error) {
	var out Overview
	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		snap, err := s.Counters(groupCtx, p)
		out.Counters = snap
		out.CountersLive = err == nil
		out.CountersErr = err
		return nil
	})

	if s.history != nil {
		g.Go(func() error {
			records, err := s.history.FetchHistory(groupCtx, p)
			if err != nil {
				return err
			}
			if limit > 0 && len(records) > limit {
				records = records[:limit]
			}
			out.Recent = records
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}
