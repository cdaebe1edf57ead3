// Package model adapts Genkit generation and embedding for the bot.
//
// It exposes two narrow capabilities: Chat, which turns a conversation
// window plus a new prompt into a reply, and Embed, which turns text
// into a vector for similarity search. Callers never see Genkit types.
package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"google.golang.org/genai"

	"github.com/engibot/engi/internal/session"
	"github.com/engibot/engi/internal/vector"
)

var (
	// ErrModelRequest indicates the model call itself failed.
	ErrModelRequest = errors.New("model request failed")

	// ErrNoResponse indicates the model returned an empty reply.
	ErrNoResponse = errors.New("model returned no response")

	// ErrEmptyEmbedding indicates the embedder returned no vector.
	ErrEmptyEmbedding = errors.New("empty embedding returned")
)

// Options configures a Client.
type Options struct {
	// ModelName is the provider-qualified chat model, for example
	// "googleai/gemini-2.5-flash".
	ModelName string

	// SystemPrompt is the persona text sent with every request.
	// The literal "{persona}" is replaced with Persona.
	SystemPrompt string
	Persona      string
}

// Client generates chat replies and embeddings.
type Client struct {
	g        *genkit.Genkit
	embedder ai.Embedder
	opts     Options
	system   string
	logger   *slog.Logger
}

// NewClient creates a Client using the given Genkit instance and
// embedder. logger may be nil.
func NewClient(g *genkit.Genkit, embedder ai.Embedder, opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		g:        g,
		embedder: embedder,
		opts:     opts,
		system:   strings.ReplaceAll(opts.SystemPrompt, "{persona}", opts.Persona),
		logger:   logger,
	}
}

// Chat sends the conversation window and the new prompt to the model
// and returns its reply.
func (c *Client) Chat(ctx context.Context, history []session.Turn, prompt string) (string, error) {
	messages := make([]*ai.Message, 0, len(history)+1)
	for _, turn := range history {
		switch turn.Role {
		case session.RoleModel:
			messages = append(messages, ai.NewModelMessage(ai.NewTextPart(turn.Text)))
		default:
			messages = append(messages, ai.NewUserMessage(ai.NewTextPart(turn.Text)))
		}
	}
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(prompt)))

	response, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.opts.ModelName),
		ai.WithSystem(c.system),
		ai.WithMessages(messages...),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrModelRequest, err)
	}

	text := response.Text()
	if strings.TrimSpace(text) == "" {
		return "", ErrNoResponse
	}

	c.logger.Debug("chat completed",
		"history_turns", len(history),
		"prompt_length", len(prompt),
		"reply_length", len(text))
	return text, nil
}

// Answer asks the model a question grounded in retrieved passages. The
// passages are injected as context ahead of the question; the model is
// instructed to answer from them.
func (c *Client) Answer(ctx context.Context, passages []string, question string) (string, error) {
	var b strings.Builder
	b.WriteString("Answer the question using the documentation excerpts below. ")
	b.WriteString("If the excerpts do not contain the answer, say so.\n")
	for i, p := range passages {
		fmt.Fprintf(&b, "\n--- Excerpt %d ---\n%s\n", i+1, p)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(question)

	return c.Chat(ctx, nil, b.String())
}

// Embed returns the embedding vector for text. Vectors are requested
// at the index's dimensionality; gemini-embedding-001 returns 3072
// dimensions unless told otherwise.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	dim := int32(vector.Dimensions)
	resp, err := c.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelRequest, err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return resp.Embeddings[0].Embedding, nil
}

// EmbedBatch embeds several texts in one request, preserving order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		docs[i] = ai.DocumentFromText(t, nil)
	}

	dim := int32(vector.Dimensions)
	resp, err := c.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   docs,
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelRequest, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts",
			ErrEmptyEmbedding, len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if len(e.Embedding) == 0 {
			return nil, fmt.Errorf("%w: text %d", ErrEmptyEmbedding, i)
		}
		vectors[i] = e.Embedding
	}
	return vectors, nil
}
