// Package vclog wraps one GoVector causal logger per process, the
// same way the teacher's TreadMarks wraps a govec.GoLog around every
// message send/receive so that traffic can be replayed in causal
// order after the fact.
//
// The actual bytes that go out on the wire are the fixed-layout
// internal/wire.Frame encoding spec.md requires every peer to agree
// on; vclog never touches or resizes them. It records local vector-
// clock-timestamped events ("about to send X", "just classified Y")
// the way a production system layers tracing on top of a wire
// protocol it doesn't get to redefine.
package vclog

import (
	"github.com/DistributedClocks/GoVector/govec"

	"github.com/lewesmint/shmreplica/internal/wire"
)

// Log is a thin, frame-aware facade over govec.GoLog.
type Log struct {
	inner *govec.GoLog
	opts  govec.GoLogOptions
}

// New starts a GoVector logger identified by processID, mirroring
// TreadMarks.Initialize's "Proc:<port>" process naming.
func New(processID string) *Log {
	return &Log{
		inner: govec.InitGoVector(processID, processID, govec.GetDefaultConfig()),
		opts:  govec.GetDefaultLogOptions(),
	}
}

func describe(f wire.Frame) string {
	return f.MsgType.String() + " " + f.MemoryName
}

// Send records a causally-timestamped "emitting frame" event, called
// by the Synchronizer right before handing buf to the transport.
func (l *Log) Send(f wire.Frame) {
	l.inner.LogLocalEvent("send "+describe(f), l.opts)
}

// Receive records a causally-timestamped "classified frame" event,
// called by the Receiver right after Decode succeeds.
func (l *Log) Receive(f wire.Frame) {
	l.inner.LogLocalEvent("receive "+describe(f), l.opts)
}
