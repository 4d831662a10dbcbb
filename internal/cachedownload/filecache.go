package cachedownload

import (
	"os"
	"path/filepath"

	"github.com/oniro-request/requestd/internal/filesystem"
)

// FileCache spills evicted RAM cache entries to an on-disk directory,
// bounded by a byte quota and real available disk space. Grounded on and
// reusing internal/filesystem's Allocator for the disk-space check.
type FileCache struct {
	dir       string
	quota     int64
	used      int64
	index     map[string]string // fingerprint -> file path
	allocator *filesystem.Allocator
}

func NewFileCache(dir string, quotaBytes int64) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileCache{
		dir:       dir,
		quota:     quotaBytes,
		index:     make(map[string]string),
		allocator: filesystem.NewAllocator(),
	}, nil
}

// Spill writes an evicted RAM entry to disk if the file-cache quota and
// real disk space allow it; otherwise the entry is discarded per §4.8.
func (fc *FileCache) Spill(e Entry) error {
	if fc.used+e.Size > fc.quota {
		return nil // quota exceeded, discard
	}
	if err := fc.allocator.HasSpace(fc.dir, e.Size); err != nil {
		return nil // insufficient real disk space, discard
	}

	path := filepath.Join(fc.dir, e.Fingerprint)
	if err := os.WriteFile(path, e.Bytes, 0644); err != nil {
		return err
	}
	fc.index[e.Fingerprint] = path
	fc.used += e.Size
	return nil
}

// Get reads a spilled entry back off disk, if present.
func (fc *FileCache) Get(fingerprint string) ([]byte, bool) {
	path, ok := fc.index[fingerprint]
	if !ok {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetQuota updates the byte quota (does not retroactively evict already
// spilled files; the next rebuild/spill cycle enforces the new bound).
func (fc *FileCache) SetQuota(bytes int64) {
	fc.quota = bytes
}

// Rebuild recreates the cache directory and invalidates the index, per
// §4.8's directory rebuilder ("an external directory monitor can signal
// deletion of the on-disk image-cache directory").
func (fc *FileCache) Rebuild() error {
	if err := os.RemoveAll(fc.dir); err != nil {
		return err
	}
	if err := os.MkdirAll(fc.dir, 0755); err != nil {
		return err
	}
	fc.index = make(map[string]string)
	fc.used = 0
	return nil
}
