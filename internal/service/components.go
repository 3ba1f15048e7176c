// File: internal/service/components.go
package service

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/reconctl/api/schemas"
	"github.com/xkilldash9x/reconctl/internal/backend"
	"github.com/xkilldash9x/reconctl/internal/bus"
	"github.com/xkilldash9x/reconctl/internal/config"
	"github.com/xkilldash9x/reconctl/internal/dashboard"
	"github.com/xkilldash9x/reconctl/internal/history"
	"github.com/xkilldash9x/reconctl/internal/identity"
	"github.com/xkilldash9x/reconctl/internal/invocation"
	"github.com/xkilldash9x/reconctl/internal/normalize"
	"github.com/xkilldash9x/reconctl/internal/observability"
	"github.com/xkilldash9x/reconctl/internal/poller"
	"github.com/xkilldash9x/reconctl/internal/reporting"
)

// Components holds everything a command needs to talk to the backend.
// It centralizes the lifecycle of the shared services.
type Components struct {
	Resolver     *identity.Resolver
	SessionStore identity.SessionStore
	Backend      *backend.Client
	Engine       *poller.Engine
	Normalizer   *normalize.Normalizer
	History      *history.Reconciler
	Dashboard    *dashboard.Service
	Bus          *bus.JobBus

	polling config.PollingConfig
	logger  *zap.Logger

	// exporter is owned by the record collector once it starts.
	exporter reporting.Reporter

	// consumerWG waits for the record collector to finish draining.
	consumerWG *sync.WaitGroup
}

// Controller builds an invocation controller for kind using the configured
// poll budget.
func (c *Components) Controller(kind schemas.ToolKind) (*invocation.Controller, error) {
	budget, ok := c.polling.For(string(kind))
	if !ok {
		return nil, fmt.Errorf("no poll budget configured for %q", kind)
	}
	return invocation.NewController(kind, invocation.Deps{
		Resolver:   c.Resolver,
		Backend:    c.Backend,
		Engine:     c.Engine,
		Normalizer: c.Normalizer,
		Budget:     budget,
		Bus:        c.Bus,
		Logger:     c.logger,
	})
}

// Exporting reports whether finished records are being written to an export.
func (c *Components) Exporting() bool { return c.exporter != nil }

// Shutdown releases the components in order. Safe to call on a partially
// built set.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Stop the bus. Subscriber channels close, which lets the collector drain.
	if c.Bus != nil {
		c.Bus.Shutdown()
		logger.Debug("Job bus shut down.")
	}

	// 2. Wait for the collector to flush the export.
	if c.consumerWG != nil {
		c.consumerWG.Wait()
		logger.Debug("Record collector finished processing.")
	} else if c.exporter != nil {
		// Created but never handed to a collector.
		if err := c.exporter.Close(); err != nil {
			logger.Warn("Error closing export.", zap.Error(err))
		}
	}

	logger.Debug("All components shut down.")
}
