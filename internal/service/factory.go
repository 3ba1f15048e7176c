// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/reconctl/internal/backend"
	"github.com/xkilldash9x/reconctl/internal/bus"
	"github.com/xkilldash9x/reconctl/internal/config"
	"github.com/xkilldash9x/reconctl/internal/dashboard"
	"github.com/xkilldash9x/reconctl/internal/history"
	"github.com/xkilldash9x/reconctl/internal/normalize"
	"github.com/xkilldash9x/reconctl/internal/poller"
	"github.com/xkilldash9x/reconctl/internal/reporting"
)

// busBufferSize is the per-subscriber buffer of the job bus.
const busBufferSize = 64

// ComponentFactory creates the set of components a command needs.
// Returns interface{} so command tests can substitute their own set.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (interface{}, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct {
	toolVersion string
}

// NewComponentFactory creates a production factory. toolVersion is stamped
// into exports.
func NewComponentFactory(toolVersion string) ComponentFactory {
	return &concreteFactory{toolVersion: toolVersion}
}

// Create handles the full dependency injection and initialization.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (interface{}, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	components := &Components{polling: cfg.Polling(), logger: logger}
	var initializationErr error

	// Ensure partially built components are cleaned up on failure.
	defer func() {
		if initializationErr != nil {
			logger.Warn("Component initialization failed, cleaning up.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Identity.
	logger.Debug("Step 1: Initializing identity.")
	resolver, store, err := InitializeIdentity(cfg.Identity(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.Resolver = resolver
	components.SessionStore = store

	// 2. Backend client.
	logger.Debug("Step 2: Initializing backend client.", zap.String("base_url", cfg.Backend().BaseURL))
	client, err := backend.NewFromConfig(cfg.Backend(), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to create backend client: %w", err)
		return nil, initializationErr
	}
	components.Backend = client

	// 3. Poll engine, normalizer and the read side.
	logger.Debug("Step 3: Initializing poll engine and history services.")
	components.Engine = poller.NewEngine(logger)
	components.Normalizer = normalize.New(cfg.History())
	components.History = history.NewReconciler(client, components.Normalizer, logger)
	components.Dashboard = dashboard.NewService(client, components.History, logger)

	// 4. Job bus.
	logger.Debug("Step 4: Initializing job bus.")
	components.Bus = bus.New(logger, busBufferSize)

	// 5. Optional export of finished records.
	if exp := cfg.Export(); exp.Output != "" {
		logger.Debug("Step 5: Initializing record export.", zap.String("format", exp.Format), zap.String("output", exp.Output))
		reporter, err := reporting.New(exp.Format, exp.Output, f.toolVersion)
		if err != nil {
			initializationErr = fmt.Errorf("failed to create exporter: %w", err)
			return nil, initializationErr
		}
		components.exporter = reporter

		var wg sync.WaitGroup
		StartRecordCollector(&wg, components.Bus, reporter, logger)
		components.consumerWG = &wg
	}

	logger.Info("Components initialized.")
	return components, nil
}
