// Package knowledge tracks ingested documentation sources.
//
// Each Record is one knowledge base: who ingested it, where it came
// from and which vector namespace holds its passages. The passages
// themselves live in the vector index (see internal/vector); this
// store is the registry users list and delete against.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates no knowledge base matched the lookup.
	ErrNotFound = errors.New("knowledge base not found")

	// ErrExists indicates the owner already has a knowledge base with
	// that name.
	ErrExists = errors.New("knowledge base already exists")
)

// Record is one ingested documentation source. ID doubles as the vector
// namespace holding the source's passages.
type Record struct {
	ID         uuid.UUID
	OwnerID    string
	OwnerName  string
	Name       string
	SourceURL  string
	IngestedAt time.Time
}

// Querier is the subset of pgxpool.Pool the store needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists knowledge base records in PostgreSQL.
// Store is safe for concurrent use.
type Store struct {
	db     Querier
	logger *slog.Logger
}

// New creates a Store. logger may be nil.
func New(db Querier, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Create registers a knowledge base. The name must be unique per owner;
// a clash returns ErrExists.
func (s *Store) Create(ctx context.Context, r Record) error {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM knowledge_bases WHERE owner_id = $1 AND name = $2)`,
		r.OwnerID, r.Name,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking knowledge base %q: %w", r.Name, err)
	}
	if exists {
		return fmt.Errorf("%w: %q for owner %s", ErrExists, r.Name, r.OwnerID)
	}

	if r.IngestedAt.IsZero() {
		r.IngestedAt = time.Now()
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO knowledge_bases (id, owner_id, owner_name, name, source_url, ingested_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.OwnerID, r.OwnerName, r.Name, r.SourceURL, r.IngestedAt,
	)
	if err != nil {
		return fmt.Errorf("creating knowledge base %q: %w", r.Name, err)
	}

	s.logger.Debug("knowledge base created",
		"id", r.ID, "owner", r.OwnerID, "name", r.Name, "source", r.SourceURL)
	return nil
}

// Get returns the knowledge base with the given ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, owner_id, owner_name, name, source_url, ingested_at
		 FROM knowledge_bases WHERE id = $1`, id)
	return scanRecord(row, id.String())
}

// GetByName returns the owner's knowledge base with the given name.
func (s *Store) GetByName(ctx context.Context, ownerID, name string) (Record, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, owner_id, owner_name, name, source_url, ingested_at
		 FROM knowledge_bases WHERE owner_id = $1 AND name = $2`, ownerID, name)
	return scanRecord(row, name)
}

func scanRecord(row pgx.Row, key string) (Record, error) {
	var r Record
	err := row.Scan(&r.ID, &r.OwnerID, &r.OwnerName, &r.Name, &r.SourceURL, &r.IngestedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return Record{}, fmt.Errorf("loading knowledge base %s: %w", key, err)
	}
	return r, nil
}

// ListByOwner returns the owner's knowledge bases, newest first.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]Record, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, owner_id, owner_name, name, source_url, ingested_at
		 FROM knowledge_bases WHERE owner_id = $1 ORDER BY ingested_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing knowledge bases for %s: %w", ownerID, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.OwnerName, &r.Name, &r.SourceURL, &r.IngestedAt); err != nil {
			return nil, fmt.Errorf("scanning knowledge base row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating knowledge bases: %w", err)
	}
	return records, nil
}

// Delete removes the owner's knowledge base with the given ID. Scoping
// to the owner means users can only delete their own entries.
func (s *Store) Delete(ctx context.Context, ownerID string, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM knowledge_bases WHERE owner_id = $1 AND id = $2`, ownerID, id)
	if err != nil {
		return fmt.Errorf("deleting knowledge base %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.logger.Debug("knowledge base deleted", "id", id, "owner", ownerID)
	return nil
}

// Count returns the total number of knowledge bases. Used by the
// operator console.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM knowledge_bases`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting knowledge bases: %w", err)
	}
	return n, nil
}
