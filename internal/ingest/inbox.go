package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/invoice-reconciler/internal/entity"
)

// processedDir receives files after they were handed to the pipeline. It is
// hidden, so the watcher and directory scans skip it.
const processedDir = ".processed"

// Uploader is the pipeline entry point the inbox feeds.
type Uploader interface {
	Upload(ctx context.Context, tenant, fileName string, content []byte) (*entity.Invoice, error)
}

// FileResult is the per-file ingest outcome.
type FileResult struct {
	Path      string
	InvoiceID string
	Err       string
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned   uint32
	Matched   uint32
	Succeeded uint32
	Failed    uint32
}

// Inbox uploads invoice files dropped into a directory on behalf of one tenant.
type Inbox struct {
	root     string
	tenant   string
	uploader Uploader
	logger   *slog.Logger
}

func NewInbox(root, tenant string, uploader Uploader, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{root: root, tenant: tenant, uploader: uploader, logger: logger}
}

// IngestPath uploads one file and moves it under the processed directory.
func (i *Inbox) IngestPath(ctx context.Context, path string) (FileResult, error) {
	out := FileResult{Path: path}
	if !allowedExt(filepath.Ext(path)) {
		return out, fmt.Errorf("unsupported or missing extension: %q", filepath.Ext(path))
	}
	content, err := os.ReadFile(path)
	if err != nil {
		i.logger.Error("inbox.read.failed", "path", path, "error", err)
		return out, err
	}
	inv, err := i.uploader.Upload(ctx, i.tenant, filepath.Base(path), content)
	if err != nil {
		i.logger.Error("inbox.upload.failed", "path", path, "error", err)
		return out, err
	}
	out.InvoiceID = inv.ID.String()

	if err := i.archive(path); err != nil {
		// the upload happened; leaving the file means it may be uploaded again
		i.logger.Warn("inbox.archive.failed", "path", path, "invoice_id", inv.ID, "error", err)
	}
	i.logger.Info("inbox.uploaded", "path", path, "invoice_id", inv.ID, "tenant_id", i.tenant)
	return out, nil
}

func (i *Inbox) archive(path string) error {
	dir := filepath.Join(i.root, processedDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	stamp := time.Now().UTC().Format("20060102T150405")
	return os.Rename(path, filepath.Join(dir, stamp+"-"+filepath.Base(path)))
}

// IngestDirectory walks the inbox once and uploads every matching file.
func (i *Inbox) IngestDirectory(ctx context.Context) ([]FileResult, DirStats, error) {
	if strings.TrimSpace(i.root) == "" {
		return nil, DirStats{}, errors.New("inbox root is required")
	}

	var results []FileResult
	var stats DirStats

	err := filepath.WalkDir(i.root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, FileResult{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if path != i.root && isHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !allowedExt(filepath.Ext(path)) {
			return nil
		}
		stats.Matched++

		r, err := i.IngestPath(ctx, path)
		if err != nil {
			results = append(results, FileResult{Path: path, Err: err.Error()})
			stats.Failed++
			return nil
		}
		results = append(results, r)
		stats.Succeeded++
		return nil
	})
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	return results, stats, nil
}

// Run watches the inbox until ctx is done, uploading existing files first.
func (i *Inbox) Run(ctx context.Context, debounce time.Duration) error {
	events, errs, err := StartWatcher(ctx, WatchConfig{Roots: []string{i.root}, InitialScan: true, Debounce: debounce}, i.logger)
	if err != nil {
		return err
	}
	i.logger.Info("inbox.watching", "root", i.root, "tenant_id", i.tenant)
	for {
		select {
		case <-ctx.Done():
			return nil
		case path, ok := <-events:
			if !ok {
				return nil
			}
			if _, err := os.Stat(path); err != nil {
				// renamed away (often by our own archive step)
				continue
			}
			_, _ = i.IngestPath(ctx, path)
		case err, ok := <-errs:
			if ok && err != nil {
				i.logger.Warn("inbox.watch.error", "error", err)
			}
		}
	}
}
