package core

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"studiocore/internal/blob"
)

// ArchivePrefix is the key prefix under which runs are archived.
const ArchivePrefix = "runs/"

// ArchiveRun uploads the run document and every file below outputDir to store
// under runs/<runID>/. The document keeps its base name; artifacts are stored
// below output/ with their relative paths. An empty outputDir uploads only the
// document.
func (s *Service) ArchiveRun(ctx context.Context, store blob.Store, runID, documentPath, outputDir string) ([]blob.Info, error) {
	var uploaded []blob.Info
	_, err := s.run(ctx, "archive_run", "", runID, func(ctx context.Context) (Result, error) {
		if runID == "" || strings.ContainsAny(runID, "/\\") {
			return Result{}, fmt.Errorf("archive: invalid run id %q", runID)
		}
		prefix := ArchivePrefix + runID + "/"

		info, err := archiveFile(ctx, store, prefix+filepath.Base(documentPath), documentPath)
		if err != nil {
			return Result{}, err
		}
		uploaded = append(uploaded, info)
		if outputDir == "" {
			return Result{}, nil
		}

		err = filepath.WalkDir(outputDir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(outputDir, p)
			if err != nil {
				return err
			}
			info, err := archiveFile(ctx, store, path.Join(prefix+"output", filepath.ToSlash(rel)), p)
			if err != nil {
				return err
			}
			uploaded = append(uploaded, info)
			return nil
		})
		if err != nil {
			return Result{}, fmt.Errorf("archive output: %w", err)
		}
		s.logger.Info("run archived", "run", runID, "objects", len(uploaded), "driver", store.Driver())
		return Result{}, nil
	})
	return uploaded, err
}

func archiveFile(ctx context.Context, store blob.Store, key, p string) (blob.Info, error) {
	f, err := os.Open(p)
	if err != nil {
		return blob.Info{}, fmt.Errorf("archive %s: %w", p, err)
	}
	defer func() { _ = f.Close() }()
	contentType := mime.TypeByExtension(filepath.Ext(p))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	info, err := store.Put(ctx, key, f, blob.PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"source": filepath.Base(p)},
	})
	if err != nil {
		return blob.Info{}, fmt.Errorf("archive %s: %w", key, err)
	}
	return info, nil
}
