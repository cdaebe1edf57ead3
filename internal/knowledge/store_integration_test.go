package knowledge_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/engibot/engi/internal/knowledge"
	"github.com/engibot/engi/internal/testutil"
)

func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	db := testutil.SetupTestDB(t)
	store := knowledge.New(db.Pool, nil)
	ctx := context.Background()

	record := knowledge.Record{
		ID:        uuid.New(),
		OwnerID:   "user-1",
		OwnerName: "alice",
		Name:      "colly-docs",
		SourceURL: "https://colly.readthedocs.io/en/latest/",
	}

	t.Run("create and get", func(t *testing.T) {
		if err := store.Create(ctx, record); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		got, err := store.Get(ctx, record.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Name != record.Name || got.OwnerID != record.OwnerID || got.SourceURL != record.SourceURL {
			t.Errorf("Get() = %+v, want fields of %+v", got, record)
		}
		if got.IngestedAt.IsZero() {
			t.Error("Get() returned zero IngestedAt")
		}
	})

	t.Run("duplicate name per owner is rejected", func(t *testing.T) {
		dup := record
		dup.ID = uuid.New()
		if err := store.Create(ctx, dup); !errors.Is(err, knowledge.ErrExists) {
			t.Errorf("Create(duplicate) = %v, want ErrExists", err)
		}
	})

	t.Run("same name for another owner is fine", func(t *testing.T) {
		other := record
		other.ID = uuid.New()
		other.OwnerID = "user-2"
		other.OwnerName = "bob"
		if err := store.Create(ctx, other); err != nil {
			t.Errorf("Create(other owner) error = %v", err)
		}
	})

	t.Run("get by name", func(t *testing.T) {
		got, err := store.GetByName(ctx, "user-1", "colly-docs")
		if err != nil {
			t.Fatalf("GetByName() error = %v", err)
		}
		if got.ID != record.ID {
			t.Errorf("GetByName() ID = %s, want %s", got.ID, record.ID)
		}

		if _, err := store.GetByName(ctx, "user-1", "no-such"); !errors.Is(err, knowledge.ErrNotFound) {
			t.Errorf("GetByName(missing) = %v, want ErrNotFound", err)
		}
	})

	t.Run("list is owner scoped and newest first", func(t *testing.T) {
		second := knowledge.Record{
			ID:         uuid.New(),
			OwnerID:    "user-1",
			OwnerName:  "alice",
			Name:       "pgx-docs",
			SourceURL:  "https://pgx.readthedocs.io/en/latest/",
			IngestedAt: time.Now().Add(time.Hour),
		}
		if err := store.Create(ctx, second); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		records, err := store.ListByOwner(ctx, "user-1")
		if err != nil {
			t.Fatalf("ListByOwner() error = %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("ListByOwner() returned %d records, want 2", len(records))
		}
		if records[0].Name != "pgx-docs" {
			t.Errorf("first record = %q, want newest (pgx-docs)", records[0].Name)
		}
	})

	t.Run("delete is owner scoped", func(t *testing.T) {
		// Wrong owner cannot delete.
		if err := store.Delete(ctx, "user-2", record.ID); !errors.Is(err, knowledge.ErrNotFound) {
			t.Errorf("Delete(wrong owner) = %v, want ErrNotFound", err)
		}

		if err := store.Delete(ctx, "user-1", record.ID); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := store.Get(ctx, record.ID); !errors.Is(err, knowledge.ErrNotFound) {
			t.Errorf("Get(deleted) = %v, want ErrNotFound", err)
		}

		// Second delete reports not found.
		if err := store.Delete(ctx, "user-1", record.ID); !errors.Is(err, knowledge.ErrNotFound) {
			t.Errorf("Delete(again) = %v, want ErrNotFound", err)
		}
	})

	t.Run("count", func(t *testing.T) {
		n, err := store.Count(ctx)
		if err != nil {
			t.Fatalf("Count() error = %v", err)
		}
		if n != 2 {
			t.Errorf("Count() = %d, want 2", n)
		}
	})
}
