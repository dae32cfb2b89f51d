// Package ingest stores uploaded documents and feeds dropped files from an
// inbox directory into the processing pipeline.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/invoice-reconciler/internal/common"
)

// BlobStore keeps document bytes on disk addressed by their sha256.
// Identical uploads share one file.
type BlobStore struct {
	root   string
	logger *slog.Logger
}

func NewBlobStore(root string, logger *slog.Logger) (*BlobStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("blob store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &BlobStore{root: root, logger: logger}, nil
}

// Hash returns the hex sha256 used as the content address.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (b *BlobStore) path(hash string) string {
	return filepath.Join(b.root, hash[:2], hash)
}

// Put writes content unless a blob with the same hash exists. It reports
// whether the write was skipped.
func (b *BlobStore) Put(content []byte) (hash string, deduplicated bool, err error) {
	hash = Hash(content)
	dst := b.path(hash)
	if _, err := os.Stat(dst); err == nil {
		b.logger.Debug("blob.put.dedup", "hash", hash)
		return hash, true, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", false, err
	}

	// write-then-rename so readers never see a partial blob
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", false, err
	}
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", false, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", false, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return "", false, err
	}
	b.logger.Debug("blob.put.ok", "hash", hash, "bytes", len(content))
	return hash, false, nil
}

// Get returns the blob for hash.
func (b *BlobStore) Get(hash string) ([]byte, error) {
	if len(hash) != sha256.Size*2 {
		return nil, common.InvalidInputf("malformed content hash %q", hash)
	}
	data, err := os.ReadFile(b.path(hash))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, common.NotFoundf("document %s not found", hash)
	}
	return data, err
}
