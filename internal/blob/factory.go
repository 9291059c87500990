package blob

import (
	"context"
	"fmt"
	"os"

	"studiocore/internal/infra/blob/fs"
	memorystore "studiocore/internal/infra/blob/memory"
	infraS3 "studiocore/internal/infra/blob/s3"
)

// Open selects a blob.Store implementation using environment variables.
//
//	STUDIO_BLOB_DRIVER: fs|s3|memory (default fs)
//	STUDIO_BLOB_FS_ROOT: directory root when driver=fs (default ./archive)
//	STUDIO_BLOB_S3_*: see internal/infra/blob/s3
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("STUDIO_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(os.Getenv("STUDIO_BLOB_FS_ROOT"))
	case DriverS3:
		store, err := infraS3.OpenFromEnv(ctx)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewFilesystem constructs a filesystem-backed Store rooted at root.
func NewFilesystem(root string) (Store, error) {
	store, err := fs.New(root)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewMemory returns an in-memory Store suitable for tests.
func NewMemory() Store { return memorystore.New() }

// S3Config re-exports the infra S3 configuration type.
type S3Config = infraS3.Config

// NewS3 constructs an S3-backed Store from cfg.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	store, err := infraS3.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewMockS3ForTests exposes the in-memory S3 transport mock for cross-package tests.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests() }
