// File: internal/service/initializers.go
package service

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/reconctl/api/schemas"
	"github.com/xkilldash9x/reconctl/internal/bus"
	"github.com/xkilldash9x/reconctl/internal/config"
	"github.com/xkilldash9x/reconctl/internal/identity"
	"github.com/xkilldash9x/reconctl/internal/reporting"
)

// InitializeIdentity builds the caller resolver and its session store from
// configuration.
func InitializeIdentity(cfg config.IdentityConfig, logger *zap.Logger) (*identity.Resolver, identity.SessionStore, error) {
	provider, err := identity.NewProviderFromConfig(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize identity provider: %w", err)
	}

	var store identity.SessionStore
	if cfg.SessionFile == "" {
		logger.Debug("No session file configured, guest sessions last for this process only.")
		store = identity.NewMemoryStore()
	} else {
		fs, err := identity.NewFileStore(cfg.SessionFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize session store: %w", err)
		}
		logger.Debug("Using session file.", zap.String("path", fs.Path()))
		store = fs
	}

	generator := identity.NewSessionIDGenerator(cfg.SessionMarkerOffset)
	return identity.NewResolver(provider, store, generator, logger), store, nil
}

// StartRecordCollector writes the record carried by every completion or
// failure event to reporter, then closes the reporter once the bus shuts
// down.
func StartRecordCollector(wg *sync.WaitGroup, jobs *bus.JobBus, reporter reporting.Reporter, logger *zap.Logger) {
	events, _ := jobs.Subscribe(bus.TypeCompleted, bus.TypeFailed)

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Debug("Starting record collector.")
		defer logger.Debug("Record collector shut down.")

		written := 0
		defer func() {
			if err := reporter.Close(); err != nil {
				logger.Error("Failed to finalize export. Data may be lost.", zap.Error(err), zap.Int("records", written))
				return
			}
			logger.Info("Export written.", zap.Int("records", written))
		}()

		// Ends only when Shutdown closes the channel, so runs that finish
		// during cancellation still reach the export.
		for ev := range events {
			if rec := recordOf(ev); rec != nil {
				if err := reporter.Write(*rec); err != nil {
					logger.Error("Failed to write record.", zap.Error(err), zap.String("task_id", ev.TaskID))
				} else {
					written++
				}
			}
			jobs.Acknowledge(ev)
		}
	}()
}

func recordOf(ev bus.Event) *schemas.Record {
	switch p := ev.Payload.(type) {
	case bus.Completion:
		return &p.Record
	case bus.Failure:
		return p.Record
	}
	return nil
}
