package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/gofrs/flock"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/engibot/engi/db"
	"github.com/engibot/engi/internal/bot"
	"github.com/engibot/engi/internal/config"
	"github.com/engibot/engi/internal/console"
	"github.com/engibot/engi/internal/ingest"
	"github.com/engibot/engi/internal/knowledge"
	"github.com/engibot/engi/internal/log"
	"github.com/engibot/engi/internal/model"
	"github.com/engibot/engi/internal/observability"
	"github.com/engibot/engi/internal/ratelimit"
	"github.com/engibot/engi/internal/session"
	"github.com/engibot/engi/internal/vector"
)

// ErrAlreadyRunning indicates another bot process holds the instance
// lock. Two gateway connections for one token fight over events.
var ErrAlreadyRunning = errors.New("another instance is already running")

// Setup builds the full application, gateway and console included. On
// failure everything already initialized is released; on success the
// caller owns Close.
func Setup(ctx context.Context, cfg *config.Config, shutdown func()) (_ *App, retErr error) {
	a := newApp(cfg)
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				a.Logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	lock, err := acquireInstanceLock()
	if err != nil {
		return nil, err
	}
	a.lock = lock

	if err := buildCore(ctx, a); err != nil {
		return nil, err
	}

	sessions := session.NewStore(cfg.HistoryWindow)
	limiter := ratelimit.New(time.Duration(cfg.CooldownSeconds)*time.Second, cfg.CooldownBurst)

	a.Bot, err = bot.New(bot.Options{
		Token:                cfg.DiscordToken,
		GuildID:              cfg.GuildID,
		BotName:              cfg.BotName,
		Presence:             cfg.Presence,
		Prefix:               cfg.Prefix,
		ChatCategoryID:       cfg.ChatCategoryID,
		ThreadChannelID:      cfg.ThreadChannelID,
		AllowedRoles:         cfg.AllowedRoles,
		DefaultKnowledgeBase: cfg.DefaultKnowledgeBase,
		ShowSources:          cfg.ShowSources,
		MaxMessageChars:      cfg.MaxMessageChars,
		RetrieveTopK:         cfg.RetrieveTopK,
	}, a.Model, a.Ingestor, a.Knowledge, a.Index, sessions, limiter, a.Logger)
	if err != nil {
		return nil, err
	}

	a.Console = console.New(os.Stdin, os.Stdout, a.Bot, shutdown, a.Logger)

	return a, nil
}

// SetupHeadless builds only the data path: database, model and
// ingestion pipeline. No gateway, no console, no instance lock, so it
// can run alongside a live bot. Used by the one-shot CLI commands.
func SetupHeadless(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	a := newApp(cfg)
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				a.Logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	if err := buildCore(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func newApp(cfg *config.Config) *App {
	return &App{
		Config: cfg,
		Logger: log.New(log.Config{
			Level: log.ParseLevel(cfg.LogLevel),
			JSON:  cfg.LogJSON,
		}),
	}
}

// buildCore wires tracing, storage, the model client and the ingestion
// pipeline into a.
func buildCore(ctx context.Context, a *App) error {
	cfg, logger := a.Config, a.Logger

	a.otelCleanup = provideTracing(ctx, cfg, logger)

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	a.DBPool = pool

	g, embedder, err := provideGenkit(ctx, cfg)
	if err != nil {
		return err
	}
	a.Genkit = g

	a.Model = model.NewClient(g, embedder, model.Options{
		ModelName:    cfg.FullModelName(),
		SystemPrompt: cfg.PersonaText,
		Persona:      cfg.Persona,
	}, logger)

	a.Knowledge = knowledge.New(pool, logger)
	a.Index = vector.New(pool, logger)
	a.Ingestor = ingest.New(a.Model, a.Index, ingest.Options{
		AllowedHosts: cfg.AllowedHosts,
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		Parallelism:  cfg.CrawlParallelism,
		Delay:        time.Duration(cfg.CrawlDelayMs) * time.Millisecond,
		Timeout:      time.Duration(cfg.CrawlTimeoutMs) * time.Millisecond,
	}, logger)

	return nil
}

// acquireInstanceLock takes an exclusive flock under the config
// directory so a second process fails fast instead of double-answering.
func acquireInstanceLock() (*flock.Flock, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}

	lock := flock.New(filepath.Join(dir, "engi.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring instance lock: %w", err)
	}
	if !locked {
		return nil, ErrAlreadyRunning
	}
	return lock, nil
}

func provideTracing(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	shutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Environment: cfg.Tracing.Environment,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil || shutdown == nil {
		return func() {}
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool runs migrations and opens the connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes Genkit with the Gemini plugin and looks up
// the configured embedder. GEMINI_API_KEY is read by the plugin.
func provideGenkit(ctx context.Context, cfg *config.Config) (*genkit.Genkit, ai.Embedder, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, nil, errors.New("initializing genkit")
	}

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}
	return g, embedder, nil
}
