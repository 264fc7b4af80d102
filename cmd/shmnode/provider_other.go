//go:build !unix

package main

import "github.com/lewesmint/shmreplica/internal/mapping"

// defaultProvider falls back to a heap-backed provider on platforms
// without a POSIX shared-memory implementation.
func defaultProvider() mapping.Provider {
	return mapping.NewMemoryProvider()
}
