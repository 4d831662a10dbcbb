// Package cachedownload implements C8, the cache-download/preload engine:
// a process-wide singleton FIFO RAM+file cache with SHA-256 URL fingerprint
// dedup and in-flight fetch sharing (§4.8).
//
// Grounded on internal/core/verifier.go's FileVerifier (SHA-256 streaming
// hash) for fingerprinting, and internal/filesystem/allocator.go's
// gopsutil-backed disk space check for file-cache spill decisions. The FIFO
// RamCache itself is hand-rolled on container/list + map: no ordered-map or
// LRU library is reachable from the teacher's actual dependency graph
// (golang-lru/v2 only appears in unrelated pack repos, never imported here),
// and the spec's eviction order is FIFO, not LRU, so a plain doubly-linked
// list is the closer semantic fit regardless.
package cachedownload

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns the cache key for a URL, per §4.8: fingerprint =
// SHA-256(url).
func Fingerprint(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}
