package memory

import (
	"context"
	"testing"
	"time"

	"studiocore/pkg/domain"
)

func TestStoreSaveAndLoadCopies(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	if _, ok, err := store.LoadSession(ctx); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	doc := []byte("<PhysiCell_settings/>")
	if err := store.SaveSession(ctx, domain.SessionSnapshot{Document: doc, Source: "a.xml", Revision: 2}); err != nil {
		t.Fatalf("save: %v", err)
	}
	doc[0] = 'X'

	got, ok, err := store.LoadSession(ctx)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if string(got.Document) != "<PhysiCell_settings/>" || got.Source != "a.xml" || got.Revision != 2 {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	got.Document[0] = 'Y'
	again, _, _ := store.LoadSession(ctx)
	if again.Document[0] != '<' {
		t.Fatalf("loaded snapshot aliases stored bytes")
	}
	if store.Saves() != 1 {
		t.Fatalf("saves = %d", store.Saves())
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestBucketsRoundTrip(t *testing.T) {
	saved := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	payloads, err := EncodeBuckets(domain.SessionSnapshot{Document: []byte("<a>\"x\"</a>"), Source: "b.xml", Revision: 7, SavedAt: saved})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(payloads) != len(Buckets) {
		t.Fatalf("expected %d buckets, got %d", len(Buckets), len(payloads))
	}
	snap, ok, err := DecodeBuckets(payloads)
	if err != nil || !ok {
		t.Fatalf("decode: ok=%v err=%v", ok, err)
	}
	if string(snap.Document) != "<a>\"x\"</a>" || snap.Revision != 7 || !snap.SavedAt.Equal(saved) {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	if _, ok, err := DecodeBuckets(map[string][]byte{BucketMeta: payloads[BucketMeta]}); ok || err != nil {
		t.Fatalf("missing document bucket: ok=%v err=%v", ok, err)
	}
	if _, _, err := DecodeBuckets(map[string][]byte{BucketDocument: []byte("{")}); err == nil {
		t.Fatalf("expected decode error")
	}
}
