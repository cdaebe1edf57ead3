// Package vector stores and searches passage embeddings with pgvector.
//
// Passages are partitioned by namespace (one namespace per knowledge
// base). Search never crosses namespaces, so two users ingesting the
// same docs cannot see each other's passages.
package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// ErrDimensionMismatch indicates an embedding with the wrong length.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Dimensions is the embedding width the passages schema declares.
const Dimensions = 768

// Passage is one embedded chunk of documentation.
type Passage struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  map[string]string
}

// Match is a search hit. Score is cosine similarity in [0, 1], higher
// is closer.
type Match struct {
	ID       string
	Content  string
	Metadata map[string]string
	Score    float64
}

// Querier is the subset of pgxpool.Pool the index needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Index reads and writes the passages table.
// Index is safe for concurrent use.
type Index struct {
	db     Querier
	logger *slog.Logger
}

// New creates an Index. logger may be nil.
func New(db Querier, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{db: db, logger: logger}
}

// Upsert writes passages into the namespace. An existing (namespace,
// id) pair is overwritten, so re-ingesting a page replaces its old
// passages; the same id under another namespace is a separate row.
func (x *Index) Upsert(ctx context.Context, namespace uuid.UUID, passages []Passage) error {
	if len(passages) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range passages {
		if len(p.Embedding) != Dimensions {
			return fmt.Errorf("%w: passage %q has %d dimensions, want %d",
				ErrDimensionMismatch, p.ID, len(p.Embedding), Dimensions)
		}

		metadata, err := json.Marshal(p.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for %q: %w", p.ID, err)
		}

		batch.Queue(
			`INSERT INTO passages (id, namespace, content, embedding, metadata)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (namespace, id) DO UPDATE
			 SET content = EXCLUDED.content,
			     embedding = EXCLUDED.embedding,
			     metadata = EXCLUDED.metadata`,
			p.ID, namespace, p.Content, pgvector.NewVector(p.Embedding), metadata,
		)
	}

	results := x.db.SendBatch(ctx, batch)
	defer func() {
		if err := results.Close(); err != nil {
			x.logger.Warn("closing upsert batch", "error", err)
		}
	}()

	for i := range passages {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upserting passage %q: %w", passages[i].ID, err)
		}
	}

	x.logger.Debug("passages upserted", "namespace", namespace, "count", len(passages))
	return nil
}

// Search returns the topK passages in the namespace closest to the
// query embedding, best first.
func (x *Index) Search(ctx context.Context, namespace uuid.UUID, embedding []float32, topK int) ([]Match, error) {
	if len(embedding) != Dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, want %d",
			ErrDimensionMismatch, len(embedding), Dimensions)
	}
	if topK <= 0 {
		topK = 4
	}

	rows, err := x.db.Query(ctx,
		`SELECT id, content, metadata, 1 - (embedding <=> $2) AS score
		 FROM passages
		 WHERE namespace = $1
		 ORDER BY embedding <=> $2
		 LIMIT $3`,
		namespace, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("searching namespace %s: %w", namespace, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m        Match
			metadata []byte
		)
		if err := rows.Scan(&m.ID, &m.Content, &metadata, &m.Score); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling metadata for %q: %w", m.ID, err)
			}
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating matches: %w", err)
	}
	return matches, nil
}

// DeleteNamespace removes every passage in the namespace and reports
// how many were deleted.
func (x *Index) DeleteNamespace(ctx context.Context, namespace uuid.UUID) (int64, error) {
	tag, err := x.db.Exec(ctx, `DELETE FROM passages WHERE namespace = $1`, namespace)
	if err != nil {
		return 0, fmt.Errorf("deleting namespace %s: %w", namespace, err)
	}

	x.logger.Debug("namespace deleted", "namespace", namespace, "passages", tag.RowsAffected())
	return tag.RowsAffected(), nil
}

// Count returns the number of passages in the namespace.
func (x *Index) Count(ctx context.Context, namespace uuid.UUID) (int, error) {
	var n int
	err := x.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM passages WHERE namespace = $1`, namespace).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting namespace %s: %w", namespace, err)
	}
	return n, nil
}
