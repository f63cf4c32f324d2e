// Package app provides application initialization and dependency injection.
//
// App is the container that wires configuration, the database pool, Genkit,
// the provider registry, and the retrieval engine together. Construction is
// manual and ordered: tracing first, storage next, AI providers last.
package app

import (
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stoa-labs/stoa/internal/config"
	"github.com/stoa-labs/stoa/internal/knowledge"
	"github.com/stoa-labs/stoa/internal/log"
	"github.com/stoa-labs/stoa/internal/provider"
	"github.com/stoa-labs/stoa/internal/retrieval"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit    *genkit.Genkit
	DBPool    *pgxpool.Pool
	Registry  *provider.Registry
	Knowledge *knowledge.Store
	Retrieval *retrieval.Engine

	otelCleanup func()
}

// Close gracefully shuts down all resources.
// Safe to call on a partially constructed App.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	if a.DBPool != nil {
		a.DBPool.Close()
		if a.Logger != nil {
			a.Logger.Info("database pool closed")
		}
	}

	// Runs last so pool teardown spans still flush.
	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	return nil
}
