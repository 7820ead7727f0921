package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/thyrook/fenvision/internal/fen"
	"github.com/thyrook/fenvision/internal/geometry"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func newTestStore(t *testing.T, maxRecords int) *ConversionStore {
	t.Helper()
	store, err := NewConversionStore(filepath.Join(t.TempDir(), "test.db"), maxRecords)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewConversionStore(t *testing.T) {
	store := newTestStore(t, 100)

	count, err := store.Count()
	if err != nil {
		t.Fatalf("Failed to count conversions: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected initial count 0, got %d", count)
	}
}

func TestPutGet(t *testing.T) {
	store := newTestStore(t, 100)

	image := []byte("png bytes")
	conv := &Conversion{
		FEN:         startFEN,
		SideHint:    "white_bottom",
		Corners:     geometry.RectCorners(0, 0, 800, 800),
		ImageSHA256: ImageDigest(image),
		Source:      "board.png",
		Warnings:    []string{"low contrast"},
		CreatedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	if err := store.Put(conv); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if conv.ID != 1 {
		t.Errorf("Expected ID 1, got %d", conv.ID)
	}

	got, err := store.Get(conv.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if diff := cmp.Diff(conv, got); diff != "" {
		t.Errorf("Conversion mismatch (-want +got):\n%s", diff)
	}

	if _, err := store.Get(42); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestPutValidation(t *testing.T) {
	store := newTestStore(t, 100)

	if err := store.Put(nil); err == nil {
		t.Error("Expected error for nil conversion")
	}
	if err := store.Put(&Conversion{}); err == nil {
		t.Error("Expected error for missing FEN")
	}
}

func TestPutSetsCreatedAt(t *testing.T) {
	store := newTestStore(t, 100)

	conv := &Conversion{FEN: startFEN}
	if err := store.Put(conv); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if conv.CreatedAt.IsZero() {
		t.Error("CreatedAt was not set")
	}
}

func TestListNewestFirst(t *testing.T) {
	store := newTestStore(t, 100)

	for i := 0; i < 5; i++ {
		if err := store.Put(&Conversion{FEN: fmt.Sprintf("8/8/8/8/8/8/8/8 w - - 0 %d", i+1)}); err != nil {
			t.Fatalf("Put %d failed: %v", i, err)
		}
	}

	list, err := store.List(3)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("Expected 3 conversions, got %d", len(list))
	}
	for i, want := range []uint64{5, 4, 3} {
		if list[i].ID != want {
			t.Errorf("list[%d].ID = %d, want %d", i, list[i].ID, want)
		}
	}

	all, err := store.List(0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("Expected 5 conversions, got %d", len(all))
	}
}

func TestFindByImage(t *testing.T) {
	store := newTestStore(t, 100)

	digest := ImageDigest([]byte("first image"))
	store.Put(&Conversion{FEN: "8/8/8/8/8/8/8/8 w - - 0 1", ImageSHA256: digest})
	store.Put(&Conversion{FEN: "8/8/8/8/8/8/8/K7 w - - 0 1", ImageSHA256: ImageDigest([]byte("other"))})
	store.Put(&Conversion{FEN: startFEN, ImageSHA256: digest})

	got, err := store.FindByImage(digest)
	if err != nil {
		t.Fatalf("FindByImage failed: %v", err)
	}
	if got.ID != 3 || got.FEN != startFEN {
		t.Errorf("Expected latest conversion 3, got %d %q", got.ID, got.FEN)
	}

	if _, err := store.FindByImage(ImageDigest([]byte("unknown"))); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestLookup(t *testing.T) {
	store := newTestStore(t, 100)

	digest := ImageDigest([]byte("board photo"))
	corners := geometry.RectCorners(10, 10, 400, 400)
	stored := &Conversion{
		FEN:         "8/pppppppp/8/8/8/8/PPPPPPPP/8 w - - 0 1",
		Corners:     corners,
		ImageSHA256: digest,
		Recognizer:  "abc123",
	}
	if err := store.Put(stored); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Lookup(digest, corners, "abc123")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got.ID != stored.ID {
		t.Errorf("Expected conversion %d, got %d", stored.ID, got.ID)
	}

	tests := []struct {
		name       string
		digest     string
		corners    geometry.CornerSet
		recognizer string
	}{
		{"other image", ImageDigest([]byte("other")), corners, "abc123"},
		{"other corners", digest, geometry.RectCorners(0, 0, 400, 400), "abc123"},
		{"other recognizer", digest, corners, "def456"},
		{"no recognizer", digest, corners, ""},
	}
	for _, tt := range tests {
		if _, err := store.Lookup(tt.digest, tt.corners, tt.recognizer); !errors.Is(err, ErrNotFound) {
			t.Errorf("%s: expected ErrNotFound, got %v", tt.name, err)
		}
	}
}

func TestFENWithReplacesMetadata(t *testing.T) {
	conv := &Conversion{ID: 7, FEN: "8/pppppppp/8/8/8/8/PPPPPPPP/8 w - - 0 1"}

	meta := fen.Metadata{SideToMove: 'b', Castling: "KQkq", EnPassant: "e3", Halfmove: 4, Fullmove: 30}
	got, err := conv.FENWith(meta)
	if err != nil {
		t.Fatalf("FENWith failed: %v", err)
	}
	if want := "8/pppppppp/8/8/8/8/PPPPPPPP/8 b KQkq e3 4 30"; got != want {
		t.Errorf("FENWith = %q, want %q", got, want)
	}
	if conv.FEN != "8/pppppppp/8/8/8/8/PPPPPPPP/8 w - - 0 1" {
		t.Errorf("Stored FEN changed to %q", conv.FEN)
	}

	bad := &Conversion{ID: 8, FEN: "8/8 w - - 0 1"}
	if _, err := bad.FENWith(fen.DefaultMetadata()); err == nil {
		t.Error("Expected error for a corrupt stored FEN")
	}
}

func TestPruning(t *testing.T) {
	store := newTestStore(t, 3)

	digests := make([]string, 5)
	for i := range digests {
		digests[i] = ImageDigest([]byte{byte(i)})
		if err := store.Put(&Conversion{FEN: startFEN, ImageSHA256: digests[i]}); err != nil {
			t.Fatalf("Put %d failed: %v", i, err)
		}
	}

	count, err := store.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("Expected 3 records after pruning, got %d", count)
	}

	if _, err := store.Get(1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Oldest record should be pruned, got %v", err)
	}
	if _, err := store.FindByImage(digests[0]); !errors.Is(err, ErrNotFound) {
		t.Errorf("Index of pruned record should be gone, got %v", err)
	}
	if _, err := store.FindByImage(digests[4]); err != nil {
		t.Errorf("Newest record should be indexed: %v", err)
	}

	stats, err := store.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	want := Stats{TotalStored: 5, Records: 3, MaxRecords: 3, DBPath: store.dbPath, Pruned: true}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("Stats mismatch (-want +got):\n%s", diff)
	}
}

func TestClear(t *testing.T) {
	store := newTestStore(t, 100)

	digest := ImageDigest([]byte("img"))
	store.Put(&Conversion{FEN: startFEN, ImageSHA256: digest})
	store.Put(&Conversion{FEN: startFEN})

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	count, _ := store.Count()
	if count != 0 {
		t.Errorf("Expected 0 records after clear, got %d", count)
	}
	if _, err := store.FindByImage(digest); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after clear, got %v", err)
	}

	conv := &Conversion{FEN: startFEN}
	if err := store.Put(conv); err != nil {
		t.Fatal(err)
	}
	if conv.ID != 3 {
		t.Errorf("IDs should keep increasing after clear, got %d", conv.ID)
	}
}

func TestPersistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "persist.db")

	store, err := NewConversionStore(dbPath, 10)
	if err != nil {
		t.Fatal(err)
	}
	store.Put(&Conversion{FEN: startFEN, Source: "a.png"})
	store.Close()

	store, err = NewConversionStore(dbPath, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	got, err := store.Get(1)
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.Source != "a.png" {
		t.Errorf("Expected source a.png, got %q", got.Source)
	}
}

func TestClosedStore(t *testing.T) {
	store, err := NewConversionStore(filepath.Join(t.TempDir(), "closed.db"), 10)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}

	if err := store.Put(&Conversion{FEN: startFEN}); !errors.Is(err, ErrClosed) {
		t.Errorf("Put: expected ErrClosed, got %v", err)
	}
	if _, err := store.List(1); !errors.Is(err, ErrClosed) {
		t.Errorf("List: expected ErrClosed, got %v", err)
	}
}
