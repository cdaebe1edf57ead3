// Package app assembles the bot from its parts.
//
// Setup builds everything in dependency order: instance lock,
// tracing, database (with migrations), Genkit, model client, stores,
// ingestion pipeline, Discord bot and operator console. Close tears it
// down in reverse.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/genkit"
	"github.com/gofrs/flock"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/engibot/engi/internal/bot"
	"github.com/engibot/engi/internal/config"
	"github.com/engibot/engi/internal/console"
	"github.com/engibot/engi/internal/ingest"
	"github.com/engibot/engi/internal/knowledge"
	"github.com/engibot/engi/internal/model"
	"github.com/engibot/engi/internal/vector"
)

// App is the application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit    *genkit.Genkit
	DBPool    *pgxpool.Pool
	Model     *model.Client
	Knowledge *knowledge.Store
	Index     *vector.Index
	Ingestor  *ingest.Ingestor
	Bot       *bot.Bot
	Console   *console.Console

	lock        *flock.Flock
	otelCleanup func()
}

// Close releases everything Setup acquired. Safe to call on a
// partially initialized App.
func (a *App) Close() error {
	a.Logger.Info("shutting down")

	if a.Bot != nil {
		if err := a.Bot.Stop(); err != nil {
			a.Logger.Warn("stopping bot", "error", err)
		}
	}

	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Debug("database pool closed")
	}

	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	if a.lock != nil {
		if err := a.lock.Unlock(); err != nil {
			a.Logger.Warn("releasing instance lock", "error", err)
		}
	}

	return nil
}
