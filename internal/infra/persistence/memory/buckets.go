package memory

import (
	"encoding/json"
	"fmt"

	"studiocore/pkg/domain"
)

// Bucket names used by the SQL-backed stores. Both buckets hold JSON so the
// payload fits a BLOB column as well as a JSONB one.
const (
	BucketDocument = "document"
	BucketMeta     = "meta"
)

// Buckets lists the bucket names in the order they are written.
var Buckets = []string{BucketDocument, BucketMeta}

// EncodeBuckets splits snapshot into per-bucket JSON payloads.
func EncodeBuckets(snapshot domain.SessionSnapshot) (map[string][]byte, error) {
	doc, err := json.Marshal(string(snapshot.Document))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", BucketDocument, err)
	}
	meta, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", BucketMeta, err)
	}
	return map[string][]byte{BucketDocument: doc, BucketMeta: meta}, nil
}

// DecodeBuckets rebuilds a snapshot from bucket payloads. ok is false when the
// document bucket is absent.
func DecodeBuckets(payloads map[string][]byte) (domain.SessionSnapshot, bool, error) {
	var snapshot domain.SessionSnapshot
	raw, ok := payloads[BucketDocument]
	if !ok {
		return snapshot, false, nil
	}
	var doc string
	if err := json.Unmarshal(raw, &doc); err != nil {
		return snapshot, false, fmt.Errorf("decode %s: %w", BucketDocument, err)
	}
	if meta, ok := payloads[BucketMeta]; ok {
		if err := json.Unmarshal(meta, &snapshot); err != nil {
			return snapshot, false, fmt.Errorf("decode %s: %w", BucketMeta, err)
		}
	}
	snapshot.Document = []byte(doc)
	return snapshot, true, nil
}
