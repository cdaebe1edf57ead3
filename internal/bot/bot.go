// Package bot connects the assistant to Discord.
//
// It owns the gateway session, registers the slash commands and routes
// events to the conversation and knowledge pipelines. Everything the
// bot depends on is an interface, so handlers are testable without a
// gateway connection.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/engibot/engi/internal/knowledge"
	"github.com/engibot/engi/internal/ratelimit"
	"github.com/engibot/engi/internal/session"
	"github.com/engibot/engi/internal/vector"
)

var (
	// ErrUnauthorized indicates the member lacks a required role.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrWrongChannel indicates the command came from outside the
	// configured chat category.
	ErrWrongChannel = errors.New("wrong channel")
)

// Model generates replies and embeddings.
type Model interface {
	Chat(ctx context.Context, history []session.Turn, prompt string) (string, error)
	Answer(ctx context.Context, passages []string, question string) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Ingestor loads documentation into a namespace.
type Ingestor interface {
	ValidateSource(rawURL string) (*url.URL, error)
	Ingest(ctx context.Context, rawURL string, namespace uuid.UUID) (int, error)
}

// KnowledgeStore is the registry of ingested sources.
type KnowledgeStore interface {
	Create(ctx context.Context, r knowledge.Record) error
	Get(ctx context.Context, id uuid.UUID) (knowledge.Record, error)
	GetByName(ctx context.Context, ownerID, name string) (knowledge.Record, error)
	ListByOwner(ctx context.Context, ownerID string) ([]knowledge.Record, error)
	Delete(ctx context.Context, ownerID string, id uuid.UUID) error
}

// Index searches and prunes passage namespaces.
type Index interface {
	Search(ctx context.Context, namespace uuid.UUID, embedding []float32, topK int) ([]vector.Match, error)
	DeleteNamespace(ctx context.Context, namespace uuid.UUID) (int64, error)
}

// Options carries the bot's Discord-facing configuration.
type Options struct {
	Token   string
	GuildID string

	BotName  string
	Presence string

	// Prefix marks messages addressed to other bots; the chat listener
	// ignores them. Empty disables the check.
	Prefix string

	// ChatCategoryID scopes chat and commands to one category. Empty
	// disables the check.
	ChatCategoryID string

	// ThreadChannelID is the channel whose new threads get a greeting.
	// Empty disables the greeter.
	ThreadChannelID string

	// AllowedRoles may run /ingest and /delete. Empty allows everyone.
	AllowedRoles []string

	// DefaultKnowledgeBase is the knowledge base /ask falls back to
	// when the caller names none. Optional.
	DefaultKnowledgeBase string

	ShowSources     bool
	MaxMessageChars int
	RetrieveTopK    int

	// RequestTimeout bounds a single model or ingestion call.
	RequestTimeout time.Duration
}

// Bot is the Discord front end.
type Bot struct {
	session  *discordgo.Session
	opts     Options
	model    Model
	ingestor Ingestor
	store    KnowledgeStore
	index    Index
	sessions *session.Store
	limiter  *ratelimit.Limiter
	logger   *slog.Logger

	commandIDs []string
}

// New creates a Bot and its gateway session. The session is not opened
// until Start.
func New(opts Options, model Model, ingestor Ingestor, store KnowledgeStore, index Index,
	sessions *session.Store, limiter *ratelimit.Limiter, logger *slog.Logger) (*Bot, error) {

	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxMessageChars <= 0 {
		opts.MaxMessageChars = 2000
	}
	if opts.RetrieveTopK <= 0 {
		opts.RetrieveTopK = 4
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 2 * time.Minute
	}

	dg, err := discordgo.New("Bot " + opts.Token)
	if err != nil {
		return nil, fmt.Errorf("creating gateway session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent

	b := &Bot{
		session:  dg,
		opts:     opts,
		model:    model,
		ingestor: ingestor,
		store:    store,
		index:    index,
		sessions: sessions,
		limiter:  limiter,
		logger:   logger,
	}

	dg.AddHandler(b.onReady)
	dg.AddHandler(b.onMessageCreate)
	dg.AddHandler(b.onInteractionCreate)
	dg.AddHandler(b.onThreadCreate)

	return b, nil
}

// Start opens the gateway connection and registers the slash commands.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("opening gateway connection: %w", err)
	}

	if err := b.registerCommands(); err != nil {
		if closeErr := b.session.Close(); closeErr != nil {
			b.logger.Warn("closing session after failed registration", "error", closeErr)
		}
		return err
	}

	if b.opts.Presence != "" {
		if err := b.session.UpdateGameStatus(0, b.opts.Presence); err != nil {
			b.logger.Warn("setting presence", "error", err)
		}
	}

	b.logger.Info("bot started",
		"guild", b.opts.GuildID,
		"name", b.opts.BotName,
		"commands", len(b.commandIDs))
	return nil
}

// Stop unregisters the commands and closes the gateway connection.
func (b *Bot) Stop() error {
	for _, id := range b.commandIDs {
		if err := b.session.ApplicationCommandDelete(b.session.State.User.ID, b.opts.GuildID, id); err != nil {
			b.logger.Warn("deleting command", "id", id, "error", err)
		}
	}
	if err := b.session.Close(); err != nil {
		return fmt.Errorf("closing gateway connection: %w", err)
	}
	b.logger.Info("bot stopped")
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.logger.Info("gateway ready",
		"user", r.User.Username,
		"session", r.SessionID,
		"guilds", len(r.Guilds))
}

// SetName updates the bot account's username. Driven by the operator
// console.
func (b *Bot) SetName(name string) error {
	if _, err := b.session.UserUpdate(name, "", ""); err != nil {
		return fmt.Errorf("updating username: %w", err)
	}
	return nil
}

// SetPresence updates the playing status.
func (b *Bot) SetPresence(presence string) error {
	if err := b.session.UpdateGameStatus(0, presence); err != nil {
		return fmt.Errorf("updating presence: %w", err)
	}
	return nil
}

// SetAvatar updates the bot account's avatar from a data URI.
func (b *Bot) SetAvatar(dataURI string) error {
	if _, err := b.session.UserUpdate("", dataURI, ""); err != nil {
		return fmt.Errorf("updating avatar: %w", err)
	}
	return nil
}

// ResyncCommands re-registers the slash commands in place.
func (b *Bot) ResyncCommands() error {
	return b.registerCommands()
}

// SessionCount reports how many conversations are active.
func (b *Bot) SessionCount() int { return b.sessions.Len() }

// ForgetSession drops a channel's conversation window.
func (b *Bot) ForgetSession(channelID string) { b.sessions.Forget(channelID) }

// TrackedUsers reports how many users the rate limiter has seen.
func (b *Bot) TrackedUsers() int { return b.limiter.Users() }
