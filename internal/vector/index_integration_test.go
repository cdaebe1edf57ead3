package vector_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/engibot/engi/internal/testutil"
	"github.com/engibot/engi/internal/vector"
)

// testVector returns a unit-ish vector whose first component dominates,
// so cosine ordering in tests is predictable.
func testVector(primary int) []float32 {
	v := make([]float32, vector.Dimensions)
	v[primary] = 1
	return v
}

func TestIndexIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	db := testutil.SetupTestDB(t)
	idx := vector.New(db.Pool, nil)
	ctx := context.Background()

	nsA := uuid.New()
	nsB := uuid.New()

	passagesA := []vector.Passage{
		{ID: "a-0", Content: "installing the library", Embedding: testVector(0),
			Metadata: map[string]string{"source": "https://docs.example/install"}},
		{ID: "a-1", Content: "configuring the client", Embedding: testVector(1)},
		{ID: "a-2", Content: "advanced usage", Embedding: testVector(2)},
	}

	t.Run("upsert and count", func(t *testing.T) {
		if err := idx.Upsert(ctx, nsA, passagesA); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if err := idx.Upsert(ctx, nsB, []vector.Passage{
			{ID: "b-0", Content: "other corpus", Embedding: testVector(0)},
		}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		n, err := idx.Count(ctx, nsA)
		if err != nil {
			t.Fatalf("Count() error = %v", err)
		}
		if n != 3 {
			t.Errorf("Count(nsA) = %d, want 3", n)
		}
	})

	t.Run("search ranks by similarity", func(t *testing.T) {
		matches, err := idx.Search(ctx, nsA, testVector(1), 2)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(matches) != 2 {
			t.Fatalf("Search() returned %d matches, want 2", len(matches))
		}
		if matches[0].ID != "a-1" {
			t.Errorf("best match = %q, want a-1", matches[0].ID)
		}
		if matches[0].Score < matches[1].Score {
			t.Errorf("matches out of order: %v then %v", matches[0].Score, matches[1].Score)
		}
		if matches[0].Score < 0.99 {
			t.Errorf("exact-direction match score = %v, want ~1", matches[0].Score)
		}
	})

	t.Run("search stays inside the namespace", func(t *testing.T) {
		matches, err := idx.Search(ctx, nsB, testVector(0), 10)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		for _, m := range matches {
			if m.ID != "b-0" {
				t.Errorf("match %q leaked from another namespace", m.ID)
			}
		}
	})

	t.Run("metadata round-trips", func(t *testing.T) {
		matches, err := idx.Search(ctx, nsA, testVector(0), 1)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if got := matches[0].Metadata["source"]; got != "https://docs.example/install" {
			t.Errorf("metadata source = %q", got)
		}
	})

	t.Run("upsert replaces existing id", func(t *testing.T) {
		updated := []vector.Passage{
			{ID: "a-0", Content: "installing the library, revised", Embedding: testVector(0)},
		}
		if err := idx.Upsert(ctx, nsA, updated); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		n, err := idx.Count(ctx, nsA)
		if err != nil {
			t.Fatalf("Count() error = %v", err)
		}
		if n != 3 {
			t.Errorf("Count() after replace = %d, want 3", n)
		}

		matches, err := idx.Search(ctx, nsA, testVector(0), 1)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if matches[0].Content != "installing the library, revised" {
			t.Errorf("content = %q, want revised text", matches[0].Content)
		}
	})

	t.Run("same ids in two namespaces stay disjoint", func(t *testing.T) {
		// Ingesting one URL into two knowledge bases produces identical
		// page-derived ids; each namespace must keep its own rows.
		ns1 := uuid.New()
		ns2 := uuid.New()
		ids := []string{"3f2a9c-0000", "3f2a9c-0001"}

		for i, id := range ids {
			if err := idx.Upsert(ctx, ns1, []vector.Passage{
				{ID: id, Content: "first ingest " + id, Embedding: testVector(i)},
			}); err != nil {
				t.Fatalf("Upsert(ns1) error = %v", err)
			}
			if err := idx.Upsert(ctx, ns2, []vector.Passage{
				{ID: id, Content: "second ingest " + id, Embedding: testVector(i)},
			}); err != nil {
				t.Fatalf("Upsert(ns2) error = %v", err)
			}
		}

		for _, ns := range []uuid.UUID{ns1, ns2} {
			n, err := idx.Count(ctx, ns)
			if err != nil {
				t.Fatalf("Count() error = %v", err)
			}
			if n != len(ids) {
				t.Errorf("Count(%s) = %d, want %d", ns, n, len(ids))
			}
		}

		matches, err := idx.Search(ctx, ns2, testVector(0), 1)
		if err != nil {
			t.Fatalf("Search(ns2) error = %v", err)
		}
		if matches[0].Content != "second ingest "+ids[0] {
			t.Errorf("ns2 content = %q, overwritten by the other namespace", matches[0].Content)
		}

		if _, err := idx.DeleteNamespace(ctx, ns1); err != nil {
			t.Fatalf("DeleteNamespace(ns1) error = %v", err)
		}
		n, err := idx.Count(ctx, ns2)
		if err != nil {
			t.Fatalf("Count(ns2) error = %v", err)
		}
		if n != len(ids) {
			t.Errorf("Count(ns2) after deleting ns1 = %d, want %d", n, len(ids))
		}
	})

	t.Run("dimension mismatch is rejected", func(t *testing.T) {
		err := idx.Upsert(ctx, nsA, []vector.Passage{
			{ID: "bad", Content: "x", Embedding: []float32{1, 2, 3}},
		})
		if !errors.Is(err, vector.ErrDimensionMismatch) {
			t.Errorf("Upsert(short vector) = %v, want ErrDimensionMismatch", err)
		}

		if _, err := idx.Search(ctx, nsA, []float32{1}, 1); !errors.Is(err, vector.ErrDimensionMismatch) {
			t.Errorf("Search(short vector) = %v, want ErrDimensionMismatch", err)
		}
	})

	t.Run("delete namespace", func(t *testing.T) {
		deleted, err := idx.DeleteNamespace(ctx, nsA)
		if err != nil {
			t.Fatalf("DeleteNamespace() error = %v", err)
		}
		if deleted != 3 {
			t.Errorf("DeleteNamespace() = %d, want 3", deleted)
		}

		// Other namespaces are untouched.
		n, err := idx.Count(ctx, nsB)
		if err != nil {
			t.Fatalf("Count() error = %v", err)
		}
		if n != 1 {
			t.Errorf("Count(nsB) after deleting nsA = %d, want 1", n)
		}
	})

	t.Run("large batch upsert", func(t *testing.T) {
		ns := uuid.New()
		passages := make([]vector.Passage, 200)
		for i := range passages {
			passages[i] = vector.Passage{
				ID:        fmt.Sprintf("bulk-%d", i),
				Content:   fmt.Sprintf("passage %d", i),
				Embedding: testVector(i % vector.Dimensions),
			}
		}
		if err := idx.Upsert(ctx, ns, passages); err != nil {
			t.Fatalf("Upsert(bulk) error = %v", err)
		}

		n, err := idx.Count(ctx, ns)
		if err != nil {
			t.Fatalf("Count() error = %v", err)
		}
		if n != 200 {
			t.Errorf("Count() = %d, want 200", n)
		}
	})
}
