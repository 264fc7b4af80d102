// Package tracker implements the Change Tracker: the pending-change
// log that feeds the Synchronizer and the in-flight reassembly table
// that the Receiver drains.
package tracker

import (
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/lewesmint/shmreplica/internal/region"
	"github.com/lewesmint/shmreplica/internal/wire"
)

// UpdateTimeout bounds how long a partial multi-frame update may sit
// incomplete before it is discarded, per spec.md's UPDATE_TIMEOUT.
const UpdateTimeout = 5000 * time.Millisecond

// PendingChange is an (offset, size) range recorded by
// MarkRegionChanged, awaiting emission by the Synchronizer.
type PendingChange struct {
	Offset uint64
	Size   uint64
}

// NetworkUpdateCallback is the capability object invoked once per
// frame successfully applied to a region, whether from a SINGLE frame
// or as part of a completed multipart update (spec.md §4.4).
type NetworkUpdateCallback interface {
	OnNetworkUpdate(name string, offset, size uint64)
}

// NetworkUpdateFunc adapts a function to NetworkUpdateCallback.
type NetworkUpdateFunc func(name string, offset, size uint64)

// OnNetworkUpdate implements NetworkUpdateCallback.
func (f NetworkUpdateFunc) OnNetworkUpdate(name string, offset, size uint64) {
	f(name, offset, size)
}

type inFlightUpdate struct {
	regionName string
	frames     []wire.Frame
	started    time.Time
}

// Tracker owns the pending-changes log and the in-flight reassembly
// table, each behind its own lock per spec.md §5's lock-ordering rules
// (pending-lock, then in-flight-lock — never both at once here).
type Tracker struct {
	registry *region.Registry
	callback NetworkUpdateCallback

	pendingMu sync.Mutex
	pending   map[string][]PendingChange

	inFlightMu sync.Mutex
	inFlight   map[uint64]*inFlightUpdate

	lastIDMu sync.Mutex
	lastID   uint64
}

// New returns a Tracker that applies incoming updates to registry and
// reports each applied frame to cb.
func New(registry *region.Registry, cb NetworkUpdateCallback) *Tracker {
	return &Tracker{
		registry: registry,
		callback: cb,
		pending:  make(map[string][]PendingChange),
		inFlight: make(map[uint64]*inFlightUpdate),
	}
}

// MarkRegionChanged records a pending (offset, size) change for name
// and bumps the region's version/dirty flag. The append happens
// before the version bump so a racing Synchronizer that wakes on the
// version bump always finds the pending list populated (spec.md
// §4.2's ordering guarantee); if it happens to wake first and see an
// empty list, it falls back to a full-region SINGLE frame (§4.3).
func (t *Tracker) MarkRegionChanged(name string, offset, size uint64) {
	if _, ok := t.registry.Region(name); !ok {
		log.Printf("tracker: mark_region_changed on unknown region %q", name)
		return
	}

	t.pendingMu.Lock()
	t.pending[name] = append(t.pending[name], PendingChange{Offset: offset, Size: size})
	t.pendingMu.Unlock()

	if err := t.registry.BumpVersion(name); err != nil {
		log.Printf("tracker: bump version for %q: %v", name, err)
	}
}

// MarkFieldChanged is an alias for MarkRegionChanged, per spec.md §4.2.
func (t *Tracker) MarkFieldChanged(name string, fieldOffset, fieldSize uint64) {
	t.MarkRegionChanged(name, fieldOffset, fieldSize)
}

// DrainPending atomically captures and clears the pending-change list
// for name, for the Synchronizer's DRAINING phase.
func (t *Tracker) DrainPending(name string) []PendingChange {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	changes := t.pending[name]
	delete(t.pending, name)
	return changes
}

// GenerateUniqueID returns a 64-bit id combining a coarse monotonic
// tick in the high bits with a random value in the low bits,
// incrementing on collision with the immediately previous id
// (spec.md §3/§4.2, P4).
func (t *Tracker) GenerateUniqueID() uint64 {
	tick := uint64(time.Now().UnixMilli()) & 0xFFFFFFFF
	id := (tick << 32) | uint64(rand.Uint32())

	t.lastIDMu.Lock()
	defer t.lastIDMu.Unlock()
	if id == t.lastID {
		id++
	}
	t.lastID = id
	return id
}

// ApplySingle copies f's data into the target region and fires the
// network-update callback once. Applying to the reserved probe region
// "TEST" is a silent no-op; a frame for any other unknown region, or
// one whose range falls outside the buffer, is logged and dropped.
func (t *Tracker) ApplySingle(f wire.Frame) {
	if f.MemoryName == wire.ProbeRegion {
		return
	}
	r, ok := t.registry.Region(f.MemoryName)
	if !ok {
		log.Printf("tracker: apply_single on unknown region %q", f.MemoryName)
		return
	}
	buf := r.Buffer()
	end := f.Offset + f.Size
	if end > uint64(len(buf)) {
		log.Printf("tracker: apply_single out of range for %q: offset=%d size=%d bufsize=%d",
			f.MemoryName, f.Offset, f.Size, len(buf))
		return
	}
	copy(buf[f.Offset:end], f.Data[:f.Size])

	if t.callback != nil {
		t.callback.OnNetworkUpdate(f.MemoryName, f.Offset, f.Size)
	}
}

// BeginUpdate creates or extends an in-flight reassembly record for a
// START frame. Re-ordered STARTs (an id already present) append rather
// than overwrite, per spec.md §4.4.
func (t *Tracker) BeginUpdate(f wire.Frame) {
	t.inFlightMu.Lock()
	defer t.inFlightMu.Unlock()
	u, ok := t.inFlight[f.UpdateID]
	if !ok {
		u = &inFlightUpdate{regionName: f.MemoryName, started: time.Now()}
		t.inFlight[f.UpdateID] = u
	}
	u.frames = append(u.frames, f)
}

// AppendChunk appends a CHUNK frame to an existing in-flight update.
// Reports ok=false (UNKNOWN_UPDATE_ID) if id isn't known.
func (t *Tracker) AppendChunk(f wire.Frame) (ok bool) {
	t.inFlightMu.Lock()
	defer t.inFlightMu.Unlock()
	u, found := t.inFlight[f.UpdateID]
	if !found {
		return false
	}
	u.frames = append(u.frames, f)
	return true
}

// FinishUpdate appends the END frame, and if the id is known, applies
// the whole update in ascending-offset order and erases the record.
// If the id is unknown, it returns ok=false so the caller can fall
// back to ApplySingle on the END frame alone (spec.md §4.4/S4).
func (t *Tracker) FinishUpdate(f wire.Frame) (ok bool) {
	t.inFlightMu.Lock()
	u, found := t.inFlight[f.UpdateID]
	if !found {
		t.inFlightMu.Unlock()
		return false
	}
	u.frames = append(u.frames, f)
	delete(t.inFlight, f.UpdateID)
	t.inFlightMu.Unlock()

	t.applyMultipart(u)
	return true
}

// applyMultipart sorts an update's frames by offset ascending (the
// ordering tie-break of spec.md §4.2) and applies each in order.
func (t *Tracker) applyMultipart(u *inFlightUpdate) {
	frames := make([]wire.Frame, len(u.frames))
	copy(frames, u.frames)
	sortFramesByOffset(frames)
	for _, f := range frames {
		t.ApplySingle(f)
	}
}

func sortFramesByOffset(frames []wire.Frame) {
	// Small n (bounded by region_size / MAX_CHUNK_PAYLOAD); insertion
	// sort keeps this allocation-free and stable for duplicate offsets,
	// where spec.md says the last-applied (i.e. last received) wins.
	for i := 1; i < len(frames); i++ {
		j := i
		for j > 0 && frames[j-1].Offset > frames[j].Offset {
			frames[j-1], frames[j] = frames[j], frames[j-1]
			j--
		}
	}
}

// CheckUpdateTimeouts removes every in-flight update whose first
// frame arrived more than UpdateTimeout ago, discarding the partial
// payload silently, and returns the removed ids for logging by the
// caller (spec.md §4.2, P5, S3).
func (t *Tracker) CheckUpdateTimeouts() []uint64 {
	cutoff := time.Now().Add(-UpdateTimeout)

	t.inFlightMu.Lock()
	defer t.inFlightMu.Unlock()
	var expired []uint64
	for id, u := range t.inFlight {
		if u.started.Before(cutoff) {
			expired = append(expired, id)
			delete(t.inFlight, id)
		}
	}
	return expired
}

// InFlightCount reports how many updates are currently buffered,
// useful for bounding memory in a supervisor (spec.md §9).
func (t *Tracker) InFlightCount() int {
	t.inFlightMu.Lock()
	defer t.inFlightMu.Unlock()
	return len(t.inFlight)
}
