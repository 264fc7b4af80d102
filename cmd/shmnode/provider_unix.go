//go:build unix

package main

import "github.com/lewesmint/shmreplica/internal/mapping"

// defaultProvider maps regions as real POSIX shared-memory segments
// under /dev/shm on unix hosts, so two shmnode processes on the same
// machine can actually share the pages a region describes.
func defaultProvider() mapping.Provider {
	return mapping.NewUnixProvider()
}
