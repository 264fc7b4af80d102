// Package mapping defines the shared-memory mapping-provider
// collaborator that spec.md treats as external: creating, opening,
// mapping and closing OS-level shared memory segments.
package mapping

import "errors"

// ErrNotFound is returned by Open when no segment of the given name
// exists.
var ErrNotFound = errors.New("mapping: segment not found")

// Handle is an opaque reference to a mapped segment. Providers are
// free to embed whatever OS resource (fd, HANDLE, ...) they need.
type Handle interface {
	// Close releases the handle's OS resources. Unmap must be called
	// first if the segment was mapped.
	Close() error
}

// Provider is the mapping-provider interface consumed by
// internal/region. It mirrors spec.md §6's
// create(name,size)/open(name)/map/unmap/close collaborator exactly.
type Provider interface {
	// Create allocates a new segment of exactly size bytes, zero-filled.
	// Creating a segment that already exists is provider-defined; the
	// Registry calls Create for any name not in its own table, which
	// includes a segment left behind by a Cleanup or made by another
	// process.
	Create(name string, size int) (Handle, error)
	// Open attaches to an existing segment of the given name. The
	// caller supplies size because most providers can't recover it
	// from the name alone (spec.md §9 open question).
	Open(name string, size int) (Handle, error)
	// Map returns a byte slice backed by the segment's memory.
	Map(h Handle, size int) ([]byte, error)
	// Unmap releases the mapping obtained from Map. Errors are logged
	// and swallowed by callers, per spec.md §4.1a.
	Unmap(b []byte) error
	// Close releases the handle itself.
	Close(h Handle) error
}

// MappingFailedError wraps a provider failure with the operation and
// region name that triggered it, so Registry.Initialize/Get can
// surface a single error kind (spec.md §7's MAPPING_FAILED) to callers.
type MappingFailedError struct {
	Op   string
	Name string
	Err  error
}

func (e *MappingFailedError) Error() string {
	return "mapping: " + e.Op + " " + e.Name + ": " + e.Err.Error()
}

func (e *MappingFailedError) Unwrap() error { return e.Err }
