// Package history rebuilds past job records from the backend listing.
package history

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/xkilldash9x/reconctl/api/schemas"
	"github.com/xkilldash9x/reconctl/internal/identity"
	"github.com/xkilldash9x/reconctl/internal/normalize"
)

// Lister fetches the raw history listing for a principal id.
type Lister interface {
	History(ctx context.Context, principalID string, headers identity.Headers) ([]schemas.HistoryEntry, error)
}

// Reconciler turns the listing into uniform records.
type Reconciler struct {
	lister     Lister
	normalizer *normalize.Normalizer
	logger     *zap.Logger
}

// NewReconciler creates a Reconciler. A nil normalizer uses the default
// display policy.
func NewReconciler(lister Lister, normalizer *normalize.Normalizer, logger *zap.Logger) *Reconciler {
	if normalizer == nil {
		normalizer = normalize.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{lister: lister, normalizer: normalizer, logger: logger.Named("history")}
}

// FetchHistory lists the principal's jobs. The backend answers 401 when it
// has nothing for the principal, which is reported as an empty history.
func (r *Reconciler) FetchHistory(ctx context.Context, p identity.Principal) ([]schemas.Record, error) {
	headers, err := identity.BuildHeaders(ctx, p)
	if err != nil {
		return nil, err
	}

	entries, err := r.lister.History(ctx, p.ID(), headers)
	if err != nil {
		var jobErr *schemas.JobError
		if errors.As(err, &jobErr) && jobErr.Kind == schemas.ErrHistoryServer && jobErr.Status == http.StatusUnauthorized {
			r.logger.Debug("No history for principal", zap.Stringer("kind", p.Kind))
			return []schemas.Record{}, nil
		}
		r.logger.Warn("History fetch failed", zap.Error(err))
		return nil, err
	}

	records := make([]schemas.Record, 0, len(entries))
	for _, entry := range entries {
		records = append(records, r.normalizer.HistoryEntry(entry))
	}
	r.logger.Debug("History reconciled", zap.Int("records", len(records)))
	return records, nil
}
