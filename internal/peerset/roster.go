// Package peerset implements the peer roster and the shared datagram
// transport used by every Synchronizer and the singleton Receiver.
package peerset

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/lewesmint/shmreplica/internal/wire"
)

// recvDeadline bounds each Recv call so a caller polling ctx.Done()
// between calls notices cancellation promptly instead of blocking on
// ReadFromUDP indefinitely.
const recvDeadline = 20 * time.Millisecond

// Peer is a (host, port) endpoint in the roster.
type Peer struct {
	Host string
	Port int
}

func (p Peer) String() string { return fmt.Sprintf("%s:%d", p.Host, p.Port) }

// Transport is the datagram collaborator consumed by the roster and
// the Receiver, matching spec.md §6's bind/send/recv/shutdown shape.
type Transport interface {
	Send(host string, port int, buf []byte) error
	Recv() ([]byte, net.Addr, error)
	Shutdown() error
}

// UDPTransport is the connectionless datagram transport spec.md §4.5
// requires: one shared send socket, one receive socket bound to
// (localIP, localPort) owned by the Receiver.
type UDPTransport struct {
	conn *net.UDPConn
}

// NewUDPTransport binds a UDP socket at localIP:localPort.
func NewUDPTransport(localIP string, localPort int) (*UDPTransport, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(localIP), Port: localPort}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("peerset: bind %s:%d: %w", localIP, localPort, err)
	}
	return &UDPTransport{conn: conn}, nil
}

// Send transmits buf as a single datagram to host:port. Blocking, but
// expected to complete promptly (spec.md §4.5).
func (t *UDPTransport) Send(host string, port int, buf []byte) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return fmt.Errorf("peerset: resolve %s:%d: %w", host, port, err)
	}
	_, err = t.conn.WriteToUDP(buf, addr)
	if err != nil {
		return fmt.Errorf("peerset: send %s:%d: %w", host, port, err)
	}
	return nil
}

// Recv waits for one datagram, up to recvDeadline. A deadline expiring
// with nothing to read surfaces as a net.Error with Timeout() true, so
// callers polling a context between calls (internal/receiver.Run) get
// control back promptly instead of blocking forever on a socket no one
// is writing to anymore.
func (t *UDPTransport) Recv() ([]byte, net.Addr, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(recvDeadline)); err != nil {
		return nil, nil, fmt.Errorf("peerset: set read deadline: %w", err)
	}
	buf := make([]byte, wire.Size)
	n, addr, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, err
	}
	return buf[:n], addr, nil
}

// Shutdown closes the underlying socket.
func (t *UDPTransport) Shutdown() error {
	return t.conn.Close()
}

// Roster is the set-valued peer table shared by every Synchronizer's
// fan-out and by connect()'s probe.
type Roster struct {
	transport Transport

	mu    sync.Mutex
	peers map[Peer]struct{}
}

// New returns an empty Roster bound to transport.
func New(transport Transport) *Roster {
	return &Roster{transport: transport, peers: make(map[Peer]struct{})}
}

// Connect inserts (host, port) into the roster and sends one
// connectivity probe frame (region-name "TEST", offset=0, size=0).
// A failed probe is logged (spec.md §7 PROBE_FAILED) but the peer
// stays in the roster, since the counterpart may connect later
// (spec.md §4.5, S6).
func (r *Roster) Connect(host string, port int) {
	p := Peer{Host: host, Port: port}
	r.mu.Lock()
	r.peers[p] = struct{}{}
	r.mu.Unlock()

	probe, err := wire.Encode(wire.Frame{MemoryName: wire.ProbeRegion, MsgType: wire.Single})
	if err != nil {
		log.Printf("peerset: encode probe for %s: %v", p, err)
		return
	}
	if err := r.transport.Send(host, port, probe); err != nil {
		log.Printf("peerset: probe %s failed: %v", p, err)
	}
}

// Peers returns a snapshot of the current roster.
func (r *Roster) Peers() []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Peer, 0, len(r.peers))
	for p := range r.peers {
		out = append(out, p)
	}
	return out
}

// FanOut sends buf to every peer in the roster. Per-peer send failures
// are logged (spec.md §7 TRANSPORT_FAILED) and do not abort the
// fan-out.
func (r *Roster) FanOut(buf []byte) {
	for _, p := range r.Peers() {
		if err := r.transport.Send(p.Host, p.Port, buf); err != nil {
			log.Printf("peerset: send to %s failed: %v", p, err)
		}
	}
}

// Shutdown clears the roster.
func (r *Roster) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers = make(map[Peer]struct{})
}
