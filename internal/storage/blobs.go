package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrBlobNotFound is returned when the blob behind a file record is missing
// from disk.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore writes uploaded file content to disk under a per-owner
// directory. File records keep the relative blob path, so the root can move
// between deployments without rewriting the datastore.
type BlobStore struct {
	root string
}

// NewBlobStore creates the blob root directory if needed.
func NewBlobStore(root string) (*BlobStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("blob root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve blob root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &BlobStore{root: abs}, nil
}

// Save streams content to disk and returns the relative blob path and the
// number of bytes written.
func (b *BlobStore) Save(ownerID, fileID string, content io.Reader) (string, int64, error) {
	if ownerID == "" || fileID == "" {
		return "", 0, errors.New("ownerID and fileID are required")
	}
	relative := filepath.Join(ownerID, fileID)
	target, err := b.resolve(relative)
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", 0, fmt.Errorf("create owner dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(target), "blob-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp blob: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, content)
	if err != nil {
		return "", 0, fmt.Errorf("write blob: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return "", 0, fmt.Errorf("sync blob: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", 0, fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return "", 0, fmt.Errorf("replace blob: %w", err)
	}
	success = true
	return relative, written, nil
}

// Open returns a reader over the blob at the stored relative path. The
// returned file supports seeking, so callers can serve ranged downloads.
func (b *BlobStore) Open(relative string) (*os.File, error) {
	target, err := b.resolve(relative)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return file, nil
}

// Remove deletes the blob at the stored relative path. A missing blob is not
// an error; the record cleanup should still proceed.
func (b *BlobStore) Remove(relative string) error {
	target, err := b.resolve(relative)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}

// RemoveOwner deletes every blob stored for the owner. Used when an account
// is deleted.
func (b *BlobStore) RemoveOwner(ownerID string) error {
	if ownerID == "" {
		return errors.New("ownerID is required")
	}
	target, err := b.resolve(ownerID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("remove owner blobs: %w", err)
	}
	return nil
}

// resolve joins the relative path under the root and rejects anything that
// escapes it.
func (b *BlobStore) resolve(relative string) (string, error) {
	if strings.TrimSpace(relative) == "" {
		return "", errors.New("blob path is required")
	}
	target := filepath.Join(b.root, filepath.Clean("/"+relative))
	if target != b.root && !strings.HasPrefix(target, b.root+string(filepath.Separator)) {
		return "", fmt.Errorf("blob path %q escapes store root", relative)
	}
	return target, nil
}
