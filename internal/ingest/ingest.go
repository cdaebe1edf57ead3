// Package ingest crawls documentation sites and loads them into the
// vector index.
//
// The pipeline is crawl, extract, chunk, embed, upsert. Only hosts on
// the configured allowlist may be ingested; the crawl covers the root
// page and the pages it links to on the same host.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/engibot/engi/internal/split"
	"github.com/engibot/engi/internal/vector"
)

var (
	// ErrInvalidSource indicates a URL that is malformed or whose host
	// is not on the allowlist.
	ErrInvalidSource = errors.New("invalid ingestion source")

	// ErrIngestion indicates the crawl produced no usable content.
	ErrIngestion = errors.New("ingestion failed")
)

// embedBatchSize caps how many passages go into one embedding request.
const embedBatchSize = 64

// Embedder turns passages into vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Upserter receives the embedded passages.
type Upserter interface {
	Upsert(ctx context.Context, namespace uuid.UUID, passages []vector.Passage) error
}

// Options tunes the pipeline. Zero values fall back to defaults.
type Options struct {
	// AllowedHosts lists hosts that may be ingested. A host matches if
	// it equals an entry or is a subdomain of one.
	AllowedHosts []string

	ChunkSize    int
	ChunkOverlap int

	Parallelism int
	Delay       time.Duration
	Timeout     time.Duration
}

func (o *Options) applyDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = split.DefaultPassageSize
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		o.ChunkOverlap = split.DefaultPassageOverlap
	}
	if o.Parallelism <= 0 {
		o.Parallelism = 2
	}
	if o.Delay <= 0 {
		o.Delay = 500 * time.Millisecond
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
}

// Ingestor runs the documentation pipeline.
type Ingestor struct {
	embedder Embedder
	index    Upserter
	opts     Options
	logger   *slog.Logger
}

// New creates an Ingestor. logger may be nil.
func New(embedder Embedder, index Upserter, opts Options, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	opts.applyDefaults()
	return &Ingestor{
		embedder: embedder,
		index:    index,
		opts:     opts,
		logger:   logger,
	}
}

// ValidateSource checks that rawURL is an HTTP(S) URL on an allowed
// host. Returns the parsed URL.
func (ing *Ingestor) ValidateSource(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidSource, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidSource)
	}
	if !ing.hostAllowed(u.Hostname()) {
		return nil, fmt.Errorf("%w: host %q is not on the allowlist", ErrInvalidSource, u.Hostname())
	}
	return u, nil
}

func (ing *Ingestor) hostAllowed(host string) bool {
	host = strings.ToLower(host)
	for _, allowed := range ing.opts.AllowedHosts {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == "" {
			continue
		}
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// Ingest crawls rawURL and writes the embedded passages into the
// namespace. Returns the number of passages stored.
func (ing *Ingestor) Ingest(ctx context.Context, rawURL string, namespace uuid.UUID) (int, error) {
	root, err := ing.ValidateSource(rawURL)
	if err != nil {
		return 0, err
	}

	started := time.Now()
	pages, err := ing.crawl(ctx, root)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIngestion, err)
	}
	if len(pages) == 0 {
		return 0, fmt.Errorf("%w: no pages fetched from %s", ErrIngestion, root)
	}

	var passages []vector.Passage
	for _, p := range pages {
		chunks := split.Passages(p.Text, ing.opts.ChunkSize, ing.opts.ChunkOverlap)
		key := pageKey(p.URL)
		for i, chunk := range chunks {
			passages = append(passages, vector.Passage{
				ID:      fmt.Sprintf("%s-%04d", key, i),
				Content: chunk,
				Metadata: map[string]string{
					"source": p.URL,
					"title":  p.Title,
				},
			})
		}
	}
	if len(passages) == 0 {
		return 0, fmt.Errorf("%w: no text extracted from %s", ErrIngestion, root)
	}

	if err := ing.embedAndStore(ctx, namespace, passages); err != nil {
		return 0, err
	}

	ing.logger.Info("ingestion completed",
		"source", root.String(),
		"namespace", namespace,
		"pages", len(pages),
		"passages", len(passages),
		"elapsed", time.Since(started))
	return len(passages), nil
}

func (ing *Ingestor) embedAndStore(ctx context.Context, namespace uuid.UUID, passages []vector.Passage) error {
	for start := 0; start < len(passages); start += embedBatchSize {
		end := min(start+embedBatchSize, len(passages))
		batch := passages[start:end]

		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.Content
		}

		vectors, err := ing.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("%w: embedding batch at %d: %w", ErrIngestion, start, err)
		}
		for i := range batch {
			batch[i].Embedding = vectors[i]
		}

		if err := ing.index.Upsert(ctx, namespace, batch); err != nil {
			return fmt.Errorf("%w: storing batch at %d: %w", ErrIngestion, start, err)
		}
	}
	return nil
}

// pageKey derives a stable passage ID prefix from a page URL, so
// re-ingesting the same page replaces its passages.
func pageKey(pageURL string) string {
	sum := sha256.Sum256([]byte(pageURL))
	return hex.EncodeToString(sum[:6])
}
