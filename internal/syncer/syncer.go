// Package syncer implements the Synchronizer: one worker per
// registered region that wakes on a version bump, drains pending
// changes into framed messages, and fans them out to every peer.
package syncer

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lewesmint/shmreplica/internal/peerset"
	"github.com/lewesmint/shmreplica/internal/region"
	"github.com/lewesmint/shmreplica/internal/tracker"
	"github.com/lewesmint/shmreplica/internal/vclog"
	"github.com/lewesmint/shmreplica/internal/wire"
)

// PollInterval is the IDLE-state poll period, spec.md's POLL_INTERVAL.
const PollInterval = 10 * time.Millisecond

// FrameLogger is the optional causal-logging hook invoked once per
// emitted frame.
type FrameLogger interface {
	Send(f wire.Frame)
}

// Supervisor owns one Synchronizer goroutine per region, started and
// stopped cooperatively through an errgroup.Group bound to a
// per-region context — replacing the source's forcible per-region
// thread termination with the cooperative shutdown spec.md §9 calls
// for.
type Supervisor struct {
	registry *region.Registry
	tracker  *tracker.Tracker
	roster   *peerset.Roster
	logger   FrameLogger

	mu      sync.Mutex
	workers map[string]*worker
}

type worker struct {
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewSupervisor returns a Supervisor wired to the given components.
func NewSupervisor(registry *region.Registry, tr *tracker.Tracker, roster *peerset.Roster, logger FrameLogger) *Supervisor {
	return &Supervisor{
		registry: registry,
		tracker:  tr,
		roster:   roster,
		logger:   logger,
		workers:  make(map[string]*worker),
	}
}

// Start launches the Synchronizer goroutine for name, if one isn't
// already running.
func (s *Supervisor) Start(name string) {
	s.mu.Lock()
	if _, ok := s.workers[name]; ok {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	w := &worker{cancel: cancel, group: g}
	s.workers[name] = w
	s.mu.Unlock()

	g.Go(func() error {
		s.run(gctx, name)
		return nil
	})
}

// Stop cancels and joins the Synchronizer for name. A no-op if no
// worker is running for that name.
func (s *Supervisor) Stop(name string) {
	s.mu.Lock()
	w, ok := s.workers[name]
	if ok {
		delete(s.workers, name)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	w.cancel()
	w.group.Wait()
}

// StopAll cancels and joins every running Synchronizer.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	names := make([]string, 0, len(s.workers))
	for name := range s.workers {
		names = append(names, name)
	}
	s.mu.Unlock()
	for _, name := range names {
		s.Stop(name)
	}
}

// run is the per-region state machine of spec.md §4.3: IDLE polls
// version/dirty every PollInterval; on advance it transitions to
// DRAINING, emits frames, then returns to IDLE with last_sent_version
// updated and dirty cleared.
func (s *Supervisor) run(ctx context.Context, name string) {
	var lastSent uint64
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		r, ok := s.registry.Region(name)
		if !ok {
			continue
		}
		version := r.Version()
		if version <= lastSent || !r.Dirty() {
			continue
		}

		s.drain(name, r, version)
		lastSent = version
		s.registry.MarkSent(name, version)
	}
}

// drain performs one DRAINING cycle: build the frame(s) for the
// currently pending changes (or the empty-pending fallback of
// spec.md §4.3/S5) and fan them out.
func (s *Supervisor) drain(name string, r *region.Region, version uint64) {
	changes := s.tracker.DrainPending(name)

	if len(changes) == 0 {
		// Dirty was observed with no pending entries: a valid
		// transient race (spec.md §4.3's empty-pending fallback).
		// Cover the whole buffer as one synthetic change so it goes
		// through the same chunking framesFor already does for any
		// change wider than a single frame's payload.
		changes = []tracker.PendingChange{{Offset: 0, Size: uint64(len(r.Buffer()))}}
	}

	frames := framesFor(name, s.tracker.GenerateUniqueID(), changes, r.Buffer())

	for _, f := range frames {
		s.emit(f)
	}
}

// changePiece is one wire.MaxChunkPayload-sized (or smaller) slice of
// a PendingChange, after splitting changes that don't fit in a single
// frame.
type changePiece struct {
	offset uint64
	size   uint64
}

// splitChanges flattens changes into pieces no larger than
// wire.MaxChunkPayload, so every resulting frame can actually encode
// regardless of how wide a single change (or the empty-pending
// fallback's whole-buffer change) is.
func splitChanges(changes []tracker.PendingChange, bufLen int) []changePiece {
	var pieces []changePiece
	for _, c := range changes {
		end := c.Offset + c.Size
		if end > uint64(bufLen) {
			end = uint64(bufLen)
		}
		for off := c.Offset; off < end; off += wire.MaxChunkPayload {
			pieceEnd := off + wire.MaxChunkPayload
			if pieceEnd > end {
				pieceEnd = end
			}
			pieces = append(pieces, changePiece{offset: off, size: pieceEnd - off})
		}
	}
	return pieces
}

// framesFor builds the frame sequence for one emission cycle: a
// single SINGLE frame if the changes fit in one piece, otherwise
// START/CHUNK*/END all sharing one UpdateId in insertion order
// (spec.md §4.3). Each change is split into wire.MaxChunkPayload-sized
// pieces first, so a change (or the whole-buffer fallback) wider than
// one frame's payload still produces frames that encode.
func framesFor(name string, updateID uint64, changes []tracker.PendingChange, buf []byte) []wire.Frame {
	pieces := splitChanges(changes, len(buf))

	frames := make([]wire.Frame, len(pieces))
	for i, p := range pieces {
		mt := wire.Chunk
		switch {
		case len(pieces) == 1:
			mt = wire.Single
		case i == 0:
			mt = wire.Start
		case i == len(pieces)-1:
			mt = wire.End
		}
		frames[i] = wire.Frame{
			MemoryName: name,
			MsgType:    mt,
			UpdateID:   updateID,
			Offset:     p.offset,
			Size:       p.size,
			Data:       append([]byte(nil), buf[p.offset:p.offset+p.size]...),
		}
	}
	return frames
}

// emit encodes and fans f out to every peer, logging the frame first.
func (s *Supervisor) emit(f wire.Frame) {
	f.Timestamp = uint32(time.Now().Unix())
	buf, err := wire.Encode(f)
	if err != nil {
		log.Printf("syncer: encode %s frame for %q: %v", f.MsgType, f.MemoryName, err)
		return
	}
	if s.logger != nil {
		s.logger.Send(f)
	}
	s.roster.FanOut(buf)
}

// _ ensures vclog.Log satisfies FrameLogger at compile time.
var _ FrameLogger = (*vclog.Log)(nil)
