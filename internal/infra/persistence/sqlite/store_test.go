package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"studiocore/pkg/domain"
)

func TestStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "studio.db")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if store.Path() != path || store.DB() == nil {
		t.Fatalf("unexpected store accessors")
	}
	if _, ok, err := store.LoadSession(ctx); err != nil || ok {
		t.Fatalf("fresh database: ok=%v err=%v", ok, err)
	}

	saved := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	first := domain.SessionSnapshot{Document: []byte("<PhysiCell_settings version=\"1\"/>"), Source: "one.xml", Revision: 1, SavedAt: saved}
	if err := store.SaveSession(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	second := first
	second.Document = []byte("<PhysiCell_settings version=\"2\"/>")
	second.Revision = 2
	if err := store.SaveSession(ctx, second); err != nil {
		t.Fatalf("save again: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	got, ok, err := reopened.LoadSession(ctx)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if string(got.Document) != string(second.Document) || got.Revision != 2 || got.Source != "one.xml" || !got.SavedAt.Equal(saved) {
		t.Fatalf("unexpected snapshot %+v", got)
	}

	var rows int
	if err := reopened.DB().QueryRow(`SELECT COUNT(*) FROM state`).Scan(&rows); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 2 {
		t.Fatalf("expected two bucket rows, got %d", rows)
	}
}

func TestSaveSessionHonoursCancelledContext(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "studio.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer func() { _ = store.Close() }()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.SaveSession(ctx, domain.SessionSnapshot{Document: []byte("<x/>")}); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}
