// Package region owns named shared-memory regions: their mapped
// buffers, their version/dirty/last-modified metadata, and the local
// observer workers that watch for version bumps.
package region

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/lewesmint/shmreplica/internal/mapping"
)

// PollInterval is the poll period used by the observer worker,
// matching spec.md's POLL_INTERVAL constant.
const PollInterval = 10 * time.Millisecond

// MaxRegionName is the longest printable name a region may be
// registered under (spec.md §3).
const MaxRegionName = 63

// metadataPrefixSize is the byte width of the version/dirty/
// last_modified prefix fixed by original_source/memory_layout.h:
// uint64 version + bool dirty + uint64 last_modified, unpadded.
const metadataPrefixSize = 8 + 1 + 8

var (
	// ErrUnknownRegion reports an operation against a name the
	// Registry has never seen (spec.md §7 UNKNOWN_REGION).
	ErrUnknownRegion = errors.New("region: unknown region")
	// ErrNameTooLong reports a name over MaxRegionName bytes.
	ErrNameTooLong = errors.New("region: name exceeds 63 bytes")
)

// Observer is the capability object callers register to be notified
// when a region's version advances locally (spec.md §4.1a).
type Observer interface {
	OnChange(buf []byte)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(buf []byte)

// OnChange implements Observer.
func (f ObserverFunc) OnChange(buf []byte) { f(buf) }

// Region is a registered name bound to a mapped buffer. The version,
// dirty and last_modified metadata are fields of this struct; they are
// not stored in buf, so the whole of buf is application payload and a
// second process attached to the same segment does not see them.
type Region struct {
	mu   sync.Mutex
	name string
	size int
	buf  []byte

	handle   mapping.Handle
	provider mapping.Provider

	version       uint64
	dirty         bool
	lastModified  int64
	monitoring    bool
	observer      Observer
	observerGroup sync.WaitGroup
}

// Name returns the region's registered name.
func (r *Region) Name() string { return r.name }

// Buffer returns the borrowed byte slice backing this region. Callers
// must not retain it past a Cleanup.
func (r *Region) Buffer() []byte { return r.buf }

// Version returns the current version counter.
func (r *Region) Version() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// Dirty reports whether the region has unemitted changes.
func (r *Region) Dirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirty
}

// bumpVersion increments version, sets dirty and last_modified. Called
// by the Change Tracker under its own pending-lock discipline (spec.md
// §4.2's mark_region_changed).
func (r *Region) bumpVersion() {
	r.mu.Lock()
	r.version++
	r.dirty = true
	r.lastModified = time.Now().UnixNano()
	r.mu.Unlock()
}

// markSent clears dirty after the Synchronizer has emitted the
// region's pending changes (spec.md §4.3).
func (r *Region) markSent(sentVersion uint64) {
	r.mu.Lock()
	if r.version == sentVersion {
		r.dirty = false
	}
	r.mu.Unlock()
}

// Registry owns the name -> *Region map.
type Registry struct {
	provider mapping.Provider

	mu      sync.Mutex
	regions map[string]*Region
}

// New returns a Registry that maps segments through provider.
func New(provider mapping.Provider) *Registry {
	return &Registry{provider: provider, regions: make(map[string]*Region)}
}

// Initialize registers name with a buffer of exactly size bytes.
// Idempotent: re-initializing an already-registered name succeeds
// without remapping (spec.md §4.1).
func (reg *Registry) Initialize(name string, size int) error {
	if len(name) > MaxRegionName {
		return ErrNameTooLong
	}

	reg.mu.Lock()
	if _, ok := reg.regions[name]; ok {
		reg.mu.Unlock()
		return nil
	}
	reg.mu.Unlock()

	handle, err := reg.provider.Create(name, size)
	if err != nil {
		return &mapping.MappingFailedError{Op: "initialize", Name: name, Err: err}
	}
	buf, err := reg.provider.Map(handle, size)
	if err != nil {
		reg.provider.Close(handle)
		return &mapping.MappingFailedError{Op: "initialize", Name: name, Err: err}
	}

	r := &Region{name: name, size: size, buf: buf, handle: handle, provider: reg.provider}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if existing, ok := reg.regions[name]; ok {
		// Lost a race with a concurrent Initialize; keep the winner and
		// release what we just mapped.
		reg.provider.Unmap(buf)
		reg.provider.Close(handle)
		_ = existing
		return nil
	}
	reg.regions[name] = r
	return nil
}

// Get returns the region's buffer, attempting to attach to an
// existing segment of the given name if it isn't already registered.
// Attach maps exactly metadataPrefixSize bytes (growing a smaller
// segment to that size), per spec.md §9's open question: the correct payload
// size for an un-Initialize'd region can't be recovered from the name
// alone, so callers that need a specific payload size must call
// Initialize first.
func (reg *Registry) Get(name string) ([]byte, bool) {
	reg.mu.Lock()
	r, ok := reg.regions[name]
	reg.mu.Unlock()
	if ok {
		return r.buf, true
	}

	handle, err := reg.provider.Open(name, metadataPrefixSize)
	if err != nil {
		return nil, false
	}
	buf, err := reg.provider.Map(handle, metadataPrefixSize)
	if err != nil {
		reg.provider.Close(handle)
		return nil, false
	}

	attached := &Region{name: name, size: metadataPrefixSize, buf: buf, handle: handle, provider: reg.provider}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if existing, ok := reg.regions[name]; ok {
		reg.provider.Unmap(buf)
		reg.provider.Close(handle)
		return existing.buf, true
	}
	reg.regions[name] = attached
	return attached.buf, true
}

// region looks up the Region struct itself for internal callers
// (Change Tracker, Synchronizer) that need version/dirty access, not
// just the raw buffer.
func (reg *Registry) region(name string) (*Region, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.regions[name]
	return r, ok
}

// Region exposes the internal Region handle for a registered name.
// Exported for use by internal/tracker and internal/syncer, which are
// siblings of this package within the module and share its lock
// discipline (spec.md §5's registry lock).
func (reg *Registry) Region(name string) (*Region, bool) {
	return reg.region(name)
}

// BumpVersion increments name's version/dirty/last_modified. No-op
// (logged) if the region is unknown.
func (reg *Registry) BumpVersion(name string) error {
	r, ok := reg.region(name)
	if !ok {
		log.Printf("region: mark on unknown region %q", name)
		return ErrUnknownRegion
	}
	r.bumpVersion()
	return nil
}

// MarkSent clears dirty for name after an emission cycle that
// observed version sentVersion, per spec.md §4.3's DRAINING -> IDLE
// transition.
func (reg *Registry) MarkSent(name string, sentVersion uint64) {
	if r, ok := reg.region(name); ok {
		r.markSent(sentVersion)
	}
}

// HasChanged reports whether name's current version exceeds baseline.
func (reg *Registry) HasChanged(name string, baseline uint64) bool {
	r, ok := reg.region(name)
	if !ok {
		return false
	}
	return r.Version() > baseline
}

// RegisterObserver attaches obs to name and starts its dedicated
// polling worker if one isn't already running. At most one observer
// worker runs per region (spec.md §4.1).
func (reg *Registry) RegisterObserver(name string, obs Observer) error {
	r, ok := reg.region(name)
	if !ok {
		return ErrUnknownRegion
	}

	r.mu.Lock()
	if r.monitoring {
		r.observer = obs
		r.mu.Unlock()
		return nil
	}
	r.observer = obs
	r.monitoring = true
	snapshot := r.version
	r.mu.Unlock()

	r.observerGroup.Add(1)
	go reg.observe(r, snapshot)
	return nil
}

// observe is the per-region observer worker of spec.md §4.1a: poll
// every PollInterval, compare against a snapshot taken at
// registration, fire the callback on advance, terminate when
// monitoring is cleared.
func (reg *Registry) observe(r *Region, snapshot uint64) {
	defer r.observerGroup.Done()

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for range ticker.C {
		r.mu.Lock()
		if !r.monitoring {
			r.mu.Unlock()
			return
		}
		current := r.version
		obs := r.observer
		r.mu.Unlock()

		if current > snapshot {
			if obs != nil {
				obs.OnChange(r.buf)
			}
			snapshot = current
		}
	}
}

// Cleanup stops the observer if any, unmaps, closes and deregisters
// name. Safe to call on unknown names (no-op).
func (reg *Registry) Cleanup(name string) error {
	reg.mu.Lock()
	r, ok := reg.regions[name]
	if ok {
		delete(reg.regions, name)
	}
	reg.mu.Unlock()
	if !ok {
		return nil
	}

	r.mu.Lock()
	wasMonitoring := r.monitoring
	r.monitoring = false
	r.mu.Unlock()
	if wasMonitoring {
		r.observerGroup.Wait()
	}

	if err := reg.provider.Unmap(r.buf); err != nil {
		log.Printf("region: unmap %q: %v", name, err)
	}
	if err := reg.provider.Close(r.handle); err != nil {
		log.Printf("region: close %q: %v", name, err)
	}
	return nil
}

// Names returns every currently registered region name, in no
// defined order.
func (reg *Registry) Names() []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	names := make([]string, 0, len(reg.regions))
	for n := range reg.regions {
		names = append(names, n)
	}
	return names
}
