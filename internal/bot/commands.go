package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/engibot/engi/internal/ingest"
	"github.com/engibot/engi/internal/knowledge"
)

func commandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "ask",
			Description: "Ask a question answered from ingested documentation",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "question",
					Description: "What do you want to know?",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "kb",
					Description: "Knowledge base name or id (defaults to the configured one)",
					Required:    false,
				},
			},
		},
		{
			Name:        "ingest",
			Description: "Crawl a documentation site into a knowledge base",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "url",
					Description: "Documentation root URL",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "name",
					Description: "Name for the new knowledge base",
					Required:    true,
				},
			},
		},
		{
			Name:        "list",
			Description: "List your knowledge bases",
		},
		{
			Name:        "delete",
			Description: "Delete one of your knowledge bases",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "name",
					Description: "Knowledge base name or id",
					Required:    true,
				},
			},
		},
		{
			Name:        "help",
			Description: "Show what the bot can do",
		},
	}
}

func (b *Bot) registerCommands() error {
	created, err := b.session.ApplicationCommandBulkOverwrite(
		b.session.State.User.ID, b.opts.GuildID, commandDefinitions())
	if err != nil {
		return fmt.Errorf("registering commands: %w", err)
	}

	b.commandIDs = b.commandIDs[:0]
	for _, cmd := range created {
		b.commandIDs = append(b.commandIDs, cmd.ID)
	}
	return nil
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	data := i.ApplicationCommandData()
	user := interactionUser(i)
	b.logger.Info("command received",
		"command", data.Name,
		"user", user.ID,
		"channel", i.ChannelID)

	ctx, cancel := context.WithTimeout(context.Background(), b.opts.RequestTimeout)
	defer cancel()

	var err error
	switch data.Name {
	case "ask":
		err = b.handleAsk(ctx, i)
	case "ingest":
		err = b.handleIngest(ctx, i)
	case "list":
		err = b.handleList(ctx, i)
	case "delete":
		err = b.handleDelete(ctx, i)
	case "help":
		err = b.handleHelp(i)
	default:
		err = fmt.Errorf("unknown command %q", data.Name)
	}

	if err != nil {
		b.logger.Error("command failed",
			"command", data.Name,
			"user", user.ID,
			"error", err)
		b.replyError(i, err)
	}
}

func (b *Bot) handleAsk(ctx context.Context, i *discordgo.InteractionCreate) error {
	if err := b.checkCategory(i.ChannelID); err != nil {
		return err
	}

	opts := optionMap(i)
	question := opts["question"]

	record, err := b.resolveKnowledgeBase(ctx, interactionUser(i).ID, opts["kb"])
	if err != nil {
		return err
	}

	if err := b.acknowledge(i, false); err != nil {
		return err
	}

	embedding, err := b.model.Embed(ctx, question)
	if err != nil {
		return err
	}
	matches, err := b.index.Search(ctx, record.ID, embedding, b.opts.RetrieveTopK)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return b.followUp(i, fmt.Sprintf("Knowledge base **%s** has nothing relevant to that question.", record.Name))
	}

	passages := make([]string, len(matches))
	for idx, m := range matches {
		passages[idx] = m.Content
	}
	answer, err := b.model.Answer(ctx, passages, question)
	if err != nil {
		return err
	}

	if b.opts.ShowSources {
		answer += formatSources(matches)
	}
	return b.followUpChunked(i, answer)
}

func (b *Bot) handleIngest(ctx context.Context, i *discordgo.InteractionCreate) error {
	if err := b.authorize(i); err != nil {
		return err
	}
	if err := b.checkCategory(i.ChannelID); err != nil {
		return err
	}

	opts := optionMap(i)
	rawURL, name := opts["url"], opts["name"]

	source, err := b.ingestor.ValidateSource(rawURL)
	if err != nil {
		return err
	}

	user := interactionUser(i)

	// Fail on a taken name before the crawl spends minutes of work.
	if _, err := b.store.GetByName(ctx, user.ID, name); err == nil {
		return fmt.Errorf("%w: %s", knowledge.ErrExists, name)
	} else if !errors.Is(err, knowledge.ErrNotFound) {
		return err
	}

	if err := b.acknowledge(i, false); err != nil {
		return err
	}

	namespace := uuid.New()
	count, err := b.ingestor.Ingest(ctx, rawURL, namespace)
	if err != nil {
		return err
	}

	// The registry row commits only after the vectors are stored; a
	// crash mid-crawl leaves orphan vectors, never a half-filled
	// knowledge base.
	record := knowledge.Record{
		ID:         namespace,
		OwnerID:    user.ID,
		OwnerName:  user.Username,
		Name:       name,
		SourceURL:  source.String(),
		IngestedAt: time.Now(),
	}
	if err := b.store.Create(ctx, record); err != nil {
		if _, delErr := b.index.DeleteNamespace(ctx, namespace); delErr != nil {
			b.logger.Warn("removing namespace after failed registration",
				"namespace", namespace, "error", delErr)
		}
		return err
	}

	return b.followUp(i, fmt.Sprintf(
		"Ingested <%s> into **%s** (%d passages). Ask about it with `/ask`.",
		record.SourceURL, record.Name, count))
}

func (b *Bot) handleList(ctx context.Context, i *discordgo.InteractionCreate) error {
	if err := b.checkCategory(i.ChannelID); err != nil {
		return err
	}
	if err := b.acknowledge(i, true); err != nil {
		return err
	}

	records, err := b.store.ListByOwner(ctx, interactionUser(i).ID)
	if err != nil {
		return err
	}
	return b.followUp(i, formatKnowledgeList(records))
}

func (b *Bot) handleDelete(ctx context.Context, i *discordgo.InteractionCreate) error {
	if err := b.authorize(i); err != nil {
		return err
	}
	if err := b.checkCategory(i.ChannelID); err != nil {
		return err
	}

	user := interactionUser(i)
	ref := optionMap(i)["name"]

	var record knowledge.Record
	var err error
	if id, parseErr := uuid.Parse(ref); parseErr == nil {
		record, err = b.store.Get(ctx, id)
	} else {
		record, err = b.store.GetByName(ctx, user.ID, ref)
	}
	if err != nil {
		return err
	}
	// Ownership must hold before the namespace is touched.
	if record.OwnerID != user.ID {
		return knowledge.ErrNotFound
	}

	if err := b.acknowledge(i, true); err != nil {
		return err
	}

	deleted, err := b.index.DeleteNamespace(ctx, record.ID)
	if err != nil {
		return err
	}
	if err := b.store.Delete(ctx, user.ID, record.ID); err != nil {
		return err
	}

	return b.followUp(i, fmt.Sprintf(
		"Deleted knowledge base **%s** (%d passages removed).", record.Name, deleted))
}

func (b *Bot) handleHelp(i *discordgo.InteractionCreate) error {
	if err := b.checkCategory(i.ChannelID); err != nil {
		return err
	}
	return b.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags:  discordgo.MessageFlagsEphemeral,
			Embeds: []*discordgo.MessageEmbed{helpEmbed(b.opts.BotName)},
		},
	})
}

// resolveKnowledgeBase picks the knowledge base for /ask: the named
// one, else the configured default.
func (b *Bot) resolveKnowledgeBase(ctx context.Context, userID, ref string) (knowledge.Record, error) {
	if ref != "" {
		if id, err := uuid.Parse(ref); err == nil {
			return b.store.Get(ctx, id)
		}
		return b.store.GetByName(ctx, userID, ref)
	}

	if b.opts.DefaultKnowledgeBase == "" {
		return knowledge.Record{}, fmt.Errorf(
			"%w: no knowledge base named and no default configured", knowledge.ErrNotFound)
	}
	id, err := uuid.Parse(b.opts.DefaultKnowledgeBase)
	if err != nil {
		return knowledge.Record{}, fmt.Errorf("invalid default knowledge base id: %w", err)
	}
	return b.store.Get(ctx, id)
}

// optionMap flattens the interaction's string options by name.
func optionMap(i *discordgo.InteractionCreate) map[string]string {
	opts := make(map[string]string)
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Type == discordgo.ApplicationCommandOptionString {
			opts[opt.Name] = opt.StringValue()
		}
	}
	return opts
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	if i.User != nil {
		return i.User
	}
	return &discordgo.User{}
}

// defer_ acknowledges the interaction so the handler gets more than
// Discord's 3-second response window.
func (b *Bot) acknowledge(i *discordgo.InteractionCreate, ephemeral bool) error {
	data := &discordgo.InteractionResponseData{}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := b.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("deferring interaction: %w", err)
	}
	return nil
}

func (b *Bot) followUp(i *discordgo.InteractionCreate, content string) error {
	_, err := b.session.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: content,
	})
	if err != nil {
		return fmt.Errorf("sending follow-up: %w", err)
	}
	return nil
}

// followUpChunked splits long answers across several follow-ups so
// fenced code blocks survive the platform's message size cap.
func (b *Bot) followUpChunked(i *discordgo.InteractionCreate, content string) error {
	for _, chunk := range b.chunks(content) {
		if err := b.followUp(i, chunk); err != nil {
			return err
		}
	}
	return nil
}

// replyError reports a failure to the user without leaking internals.
// Works whether or not the interaction was already acknowledged.
func (b *Bot) replyError(i *discordgo.InteractionCreate, cmdErr error) {
	content := userFacingError(cmdErr)

	err := b.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags:   discordgo.MessageFlagsEphemeral,
			Content: content,
		},
	})
	if err == nil {
		return
	}
	// Already acknowledged; fall back to a follow-up.
	if _, err := b.session.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Flags:   discordgo.MessageFlagsEphemeral,
		Content: content,
	}); err != nil {
		b.logger.Warn("delivering error reply", "error", err)
	}
}

// userFacingError maps internal errors to short user messages.
func userFacingError(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "You do not have permission to run that command."
	case errors.Is(err, ErrWrongChannel):
		return "That command only works in the bot's chat category."
	case errors.Is(err, knowledge.ErrNotFound):
		return "No such knowledge base. Use `/list` to see yours."
	case errors.Is(err, knowledge.ErrExists):
		return "You already have a knowledge base with that name. Pick another or `/delete` it first."
	case errors.Is(err, ingest.ErrInvalidSource):
		return "That URL cannot be ingested. Only allowed documentation hosts are supported."
	case errors.Is(err, ingest.ErrIngestion):
		return "Ingestion failed. The site may be unreachable or empty."
	default:
		return "Something went wrong. Try again in a moment."
	}
}
