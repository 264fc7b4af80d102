// Package receiver implements the Receiver / Reassembler: the single
// inbound worker that classifies incoming frames, buffers multi-frame
// updates, applies them atomically in offset order, and ages out
// stalled updates.
package receiver

import (
	"context"
	"errors"
	"log"
	"net"
	"time"

	"github.com/lewesmint/shmreplica/internal/tracker"
	"github.com/lewesmint/shmreplica/internal/wire"
)

// PollInterval is the sleep between empty reads, spec.md's
// POLL_INTERVAL.
const PollInterval = 10 * time.Millisecond

// TimeoutCheckInterval matches spec.md §4.4: check_update_timeouts is
// called once per polling cycle.
const TimeoutCheckInterval = PollInterval

// Transport is the read side of the datagram collaborator.
type Transport interface {
	Recv() ([]byte, net.Addr, error)
}

// FrameLogger is the optional causal-logging hook invoked once per
// classified frame.
type FrameLogger interface {
	Receive(f wire.Frame)
}

// Receiver is the singleton worker bound to the inbound transport
// endpoint.
type Receiver struct {
	transport Transport
	tracker   *tracker.Tracker
	logger    FrameLogger
}

// New returns a Receiver that classifies frames from transport and
// applies them through tr.
func New(transport Transport, tr *tracker.Tracker, logger FrameLogger) *Receiver {
	return &Receiver{transport: transport, tracker: tr, logger: logger}
}

// Run drives the polling cycle of spec.md §4.4 until ctx is
// cancelled: read one frame (a timeout error is treated as an empty
// read), classify, then check for timed-out in-flight updates.
func (r *Receiver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		buf, _, err := r.transport.Recv()
		switch {
		case err == nil:
			r.handle(buf)
		case isTimeout(err):
			time.Sleep(PollInterval)
		case errors.Is(err, net.ErrClosed):
			return
		default:
			log.Printf("receiver: recv: %v", err)
			time.Sleep(PollInterval)
		}

		for _, id := range r.tracker.CheckUpdateTimeouts() {
			log.Printf("receiver: update %d timed out and was discarded", id)
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// handle classifies one wire buffer and drives it into the tracker's
// reassembly state machine, per spec.md §4.4.
func (r *Receiver) handle(buf []byte) {
	f, err := wire.Decode(buf)
	if err != nil {
		log.Printf("receiver: decode: %v", err)
		return
	}

	if r.logger != nil {
		r.logger.Receive(f)
	}

	switch f.MsgType {
	case wire.Single:
		r.tracker.ApplySingle(f)
	case wire.Start:
		r.tracker.BeginUpdate(f)
	case wire.Chunk:
		if !r.tracker.AppendChunk(f) {
			log.Printf("receiver: CHUNK for unknown update %d dropped", f.UpdateID)
		}
	case wire.End:
		if !r.tracker.FinishUpdate(f) {
			log.Printf("receiver: END for unknown update %d, applying as SINGLE", f.UpdateID)
			r.tracker.ApplySingle(f)
		}
	default:
		log.Printf("receiver: unknown message type %v", f.MsgType)
	}
}
