package tracker

import (
	"testing"
	"time"

	"github.com/lewesmint/shmreplica/internal/mapping"
	"github.com/lewesmint/shmreplica/internal/region"
	"github.com/lewesmint/shmreplica/internal/wire"
)

func newTestFixture(t *testing.T) (*region.Registry, *Tracker, *[]string) {
	t.Helper()
	reg := region.New(mapping.NewMemoryProvider())
	if err := reg.Initialize("R", 64); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	var applied []string
	cb := NetworkUpdateFunc(func(name string, offset, size uint64) {
		applied = append(applied, name)
	})
	return reg, New(reg, cb), &applied
}

func TestMarkRegionChangedAppendsAndBumpsVersion(t *testing.T) {
	reg, tr, _ := newTestFixture(t)

	tr.MarkRegionChanged("R", 16, 4)
	r, _ := reg.Region("R")
	valueEqual(t, uint64(1), r.Version())
	trueEqual(t, r.Dirty())

	changes := tr.DrainPending("R")
	if len(changes) != 1 || changes[0].Offset != 16 || changes[0].Size != 4 {
		t.Fatalf("unexpected pending changes: %+v", changes)
	}
	valueEqual(t, 0, len(tr.DrainPending("R")))
}

func TestMarkRegionChangedUnknownRegionIsNoop(t *testing.T) {
	reg, tr, _ := newTestFixture(t)
	tr.MarkRegionChanged("nope", 0, 1)
	_, ok := reg.Region("nope")
	falseEqual(t, ok)
}

func TestGenerateUniqueIDNeverRepeatsConsecutively(t *testing.T) {
	_, tr, _ := newTestFixture(t)
	prev := tr.GenerateUniqueID()
	for i := 0; i < 1000; i++ {
		id := tr.GenerateUniqueID()
		if id == prev {
			t.Fatalf("consecutive ids collided: %d", id)
		}
		prev = id
	}
}

func TestApplySingleWritesAndCallsBack(t *testing.T) {
	reg, tr, applied := newTestFixture(t)
	f := wire.Frame{MemoryName: "R", Offset: 16, Size: 4, Data: []byte{0x2A, 0, 0, 0}}
	tr.ApplySingle(f)

	buf, _ := reg.Get("R")
	valueEqual(t, byte(0x2A), buf[16])
	if len(*applied) != 1 || (*applied)[0] != "R" {
		t.Fatalf("expected one callback for R, got %+v", *applied)
	}
}

func TestApplySingleOnProbeRegionIsNoop(t *testing.T) {
	_, tr, applied := newTestFixture(t)
	tr.ApplySingle(wire.Frame{MemoryName: wire.ProbeRegion, Offset: 0, Size: 0, Data: nil})
	valueEqual(t, 0, len(*applied))
}

func TestMultipartAppliesInAscendingOffsetOrder(t *testing.T) {
	reg, tr, _ := newTestFixture(t)
	id := uint64(7)

	start := wire.Frame{MemoryName: "R", MsgType: wire.Start, UpdateID: id, Offset: 32, Size: 4, Data: []byte{1, 1, 1, 1}}
	chunk := wire.Frame{MemoryName: "R", MsgType: wire.Chunk, UpdateID: id, Offset: 16, Size: 4, Data: []byte{2, 2, 2, 2}}
	end := wire.Frame{MemoryName: "R", MsgType: wire.End, UpdateID: id, Offset: 48, Size: 4, Data: []byte{3, 3, 3, 3}}

	tr.BeginUpdate(start)
	trueEqual(t, tr.AppendChunk(chunk))
	trueEqual(t, tr.FinishUpdate(end))

	buf, _ := reg.Get("R")
	if buf[16] != 2 || buf[32] != 1 || buf[48] != 3 {
		t.Fatalf("unexpected bytes: [16]=%d [32]=%d [48]=%d", buf[16], buf[32], buf[48])
	}
	valueEqual(t, 0, tr.InFlightCount())
}

func TestUnknownChunkIsDropped(t *testing.T) {
	_, tr, _ := newTestFixture(t)
	falseEqual(t, tr.AppendChunk(wire.Frame{UpdateID: 999}))
}

func TestUnknownEndFallsBackToApplySingle(t *testing.T) {
	reg, tr, applied := newTestFixture(t)
	end := wire.Frame{MemoryName: "R", MsgType: wire.End, UpdateID: 99, Offset: 16, Size: 4, Data: []byte{1, 2, 3, 4}}

	falseEqual(t, tr.FinishUpdate(end))
	tr.ApplySingle(end)

	buf, _ := reg.Get("R")
	if buf[16] != 1 || buf[17] != 2 || buf[18] != 3 || buf[19] != 4 {
		t.Fatalf("unexpected bytes at 16..20: %v", buf[16:20])
	}
	valueEqual(t, 1, len(*applied))
}

func TestCheckUpdateTimeoutsExpiresStaleUpdates(t *testing.T) {
	_, tr, _ := newTestFixture(t)
	tr.BeginUpdate(wire.Frame{MemoryName: "R", UpdateID: 42, Offset: 0, Size: 4})

	tr.inFlightMu.Lock()
	tr.inFlight[42].started = time.Now().Add(-UpdateTimeout - time.Millisecond)
	tr.inFlightMu.Unlock()

	expired := tr.CheckUpdateTimeouts()
	if len(expired) != 1 || expired[0] != 42 {
		t.Fatalf("expected [42] to expire, got %+v", expired)
	}
	valueEqual(t, 0, tr.InFlightCount())
}

func TestDuplicateOffsetsLastAppliedWins(t *testing.T) {
	reg, tr, _ := newTestFixture(t)
	id := uint64(1)
	start := wire.Frame{MemoryName: "R", MsgType: wire.Start, UpdateID: id, Offset: 8, Size: 1, Data: []byte{0xAA}}
	end := wire.Frame{MemoryName: "R", MsgType: wire.End, UpdateID: id, Offset: 8, Size: 1, Data: []byte{0xBB}}
	tr.BeginUpdate(start)
	tr.FinishUpdate(end)

	buf, _ := reg.Get("R")
	valueEqual(t, byte(0xBB), buf[8])
}
