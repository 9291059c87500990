package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"studiocore/internal/blob/core"
)

func TestMockStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMockForTests()
	if s.Driver() != core.DriverS3 {
		t.Fatalf("driver = %s", s.Driver())
	}

	info, err := s.Put(ctx, "runs/r1/PhysiCell_settings.xml", strings.NewReader("<PhysiCell_settings/>"), core.PutOptions{
		ContentType: "text/xml",
		Metadata:    map[string]string{"source": "PhysiCell_settings.xml"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len("<PhysiCell_settings/>")) || info.ContentType != "text/xml" || info.ETag != "etag123" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "runs/r1/PhysiCell_settings.xml", strings.NewReader("again"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	got, rc, err := s.Get(ctx, "runs/r1/PhysiCell_settings.xml")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "<PhysiCell_settings/>" || got.Metadata["source"] != "PhysiCell_settings.xml" {
		t.Fatalf("unexpected object %q %+v", body, got)
	}

	if _, err := s.Put(ctx, "runs/r2/output/final.svg", strings.NewReader("<svg/>"), core.PutOptions{}); err != nil {
		t.Fatalf("put second: %v", err)
	}
	list, err := s.List(ctx, "runs/")
	if err != nil || len(list) != 2 || list[0].Key != "runs/r1/PhysiCell_settings.xml" {
		t.Fatalf("list: %v %+v", err, list)
	}

	if ok, err := s.Delete(ctx, "runs/r2/output/final.svg"); err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if ok, err := s.Delete(ctx, "runs/r2/output/final.svg"); err != nil || ok {
		t.Fatalf("second delete: ok=%v err=%v", ok, err)
	}
	if _, err := s.Head(ctx, "runs/r2/output/final.svg"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from head, got %v", err)
	}
	if _, _, err := s.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
	t.Setenv("STUDIO_BLOB_S3_BUCKET", "")
	if _, err := OpenFromEnv(context.Background()); err == nil {
		t.Fatalf("expected missing env bucket error")
	}
}

func TestNewWithStaticCredentials(t *testing.T) {
	s, err := New(context.Background(), Config{Bucket: "runs", Endpoint: "http://localhost:9000", PathStyle: true, AccessKeyID: "minio", SecretAccessKey: "secret"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.bucket != "runs" {
		t.Fatalf("bucket = %s", s.bucket)
	}
}

func TestMockHeadReportsETag(t *testing.T) {
	if got := (mockObj{body: []byte("x")}).headers().Get("ETag"); got != `"etag123"` {
		t.Fatalf("canonical ETag lookup = %q", got)
	}
	ctx := context.Background()
	s := NewMockForTests()
	if _, err := s.Put(ctx, "runs/r1/a.txt", strings.NewReader("a"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	info, err := s.Head(ctx, "runs/r1/a.txt")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if info.ETag != "etag123" {
		t.Fatalf("head etag = %q", info.ETag)
	}
}
