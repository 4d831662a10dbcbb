package filesystem

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

// Allocator handles file pre-allocation and disk space checks, shared by
// any component that writes a task's bytes to disk: the (out-of-scope)
// download writer, and the cache-download engine's file-cache spill path.
type Allocator struct{}

func NewAllocator() *Allocator {
	return &Allocator{}
}

// AllocateFile reserves disk space for a download by truncating the
// destination to its final size up front, so fragmentation and late
// out-of-space failures are avoided.
func (a *Allocator) AllocateFile(path string, size int64) error {
	if err := a.HasSpace(filepath.Dir(path), size); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return fmt.Errorf("failed to open file for allocation: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("failed to pre-allocate space: %w", err)
	}

	return nil
}

// diskSpaceBuffer is held back from the reported free space for system
// stability.
const diskSpaceBuffer = 100 * 1024 * 1024

// HasSpace reports whether dir's volume has room for `required` bytes
// plus a safety buffer.
func (a *Allocator) HasSpace(dir string, required int64) error {
	usage, err := disk.Usage(dir)
	if err != nil {
		return fmt.Errorf("failed to check disk space: %w", err)
	}
	if int64(usage.Free) < (required + diskSpaceBuffer) {
		return fmt.Errorf("disk full: required %d bytes, available %d bytes", required, usage.Free)
	}
	return nil
}
