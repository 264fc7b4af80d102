package region

import (
	"testing"
	"time"

	"github.com/lewesmint/shmreplica/internal/mapping"
)

func newTestRegistry() *Registry {
	return New(mapping.NewMemoryProvider())
}

func TestInitializeIsIdempotent(t *testing.T) {
	reg := newTestRegistry()
	nilEqual(t, reg.Initialize("R", 64))
	buf, ok := reg.Get("R")
	trueEqual(t, ok)
	buf[0] = 0xAB

	nilEqual(t, reg.Initialize("R", 64))
	buf2, _ := reg.Get("R")
	valueEqual(t, byte(0xAB), buf2[0])
}

func TestInitializeRejectsLongNames(t *testing.T) {
	reg := newTestRegistry()
	long := make([]byte, MaxRegionName+1)
	for i := range long {
		long[i] = 'a'
	}
	err := reg.Initialize(string(long), 8)
	valueEqual(t, ErrNameTooLong, err)
}

func TestGetUnknownRegionFails(t *testing.T) {
	reg := newTestRegistry()
	_, ok := reg.Get("nope")
	falseEqual(t, ok)
}

func TestBumpVersionAndHasChanged(t *testing.T) {
	reg := newTestRegistry()
	reg.Initialize("R", 64)

	r, ok := reg.Region("R")
	trueEqual(t, ok)
	baseline := r.Version()
	falseEqual(t, reg.HasChanged("R", baseline))
	nilEqual(t, reg.BumpVersion("R"))
	trueEqual(t, reg.HasChanged("R", baseline))
}

func TestBumpVersionUnknownRegion(t *testing.T) {
	reg := newTestRegistry()
	err := reg.BumpVersion("nope")
	valueEqual(t, ErrUnknownRegion, err)
}

func TestMarkSentClearsDirtyOnlyIfVersionUnchanged(t *testing.T) {
	reg := newTestRegistry()
	reg.Initialize("R", 64)
	reg.BumpVersion("R")
	r, _ := reg.Region("R")
	trueEqual(t, r.Dirty())

	reg.MarkSent("R", r.Version()+1) // stale sentVersion, should not clear
	trueEqual(t, r.Dirty())

	reg.MarkSent("R", r.Version())
	falseEqual(t, r.Dirty())
}

type recordingObserver struct {
	ch chan []byte
}

func (o *recordingObserver) OnChange(buf []byte) {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	o.ch <- cp
}

func TestObserverFiresOnVersionAdvance(t *testing.T) {
	reg := newTestRegistry()
	reg.Initialize("R", 8)

	obs := &recordingObserver{ch: make(chan []byte, 1)}
	nilEqual(t, reg.RegisterObserver("R", obs))

	buf, _ := reg.Get("R")
	buf[0] = 0x55
	reg.BumpVersion("R")

	select {
	case <-obs.ch:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("observer did not fire within timeout")
	}

	nilEqual(t, reg.Cleanup("R"))
}

func TestCleanupUnknownRegionIsNoop(t *testing.T) {
	reg := newTestRegistry()
	nilEqual(t, reg.Cleanup("nope"))
}
