package peerset

import (
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/lewesmint/shmreplica/internal/wire"
)

type fakeTransport struct {
	mu      sync.Mutex
	sent    []string
	failFor string
}

func (f *fakeTransport) Send(host string, port int, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	addr := Peer{Host: host, Port: port}.String()
	if addr == f.failFor {
		return errors.New("boom")
	}
	f.sent = append(f.sent, addr)
	return nil
}

func (f *fakeTransport) Recv() ([]byte, net.Addr, error) { return nil, nil, errors.New("not implemented") }
func (f *fakeTransport) Shutdown() error                 { return nil }

func TestConnectAddsPeerAndSendsProbe(t *testing.T) {
	ft := &fakeTransport{}
	r := New(ft)
	r.Connect("10.0.0.2", 9000)

	peers := r.Peers()
	if len(peers) != 1 || peers[0] != (Peer{Host: "10.0.0.2", Port: 9000}) {
		t.Fatalf("unexpected roster: %+v", peers)
	}
	if len(ft.sent) != 1 || ft.sent[0] != "10.0.0.2:9000" {
		t.Fatalf("expected exactly one probe send, got %+v", ft.sent)
	}
}

func TestConnectKeepsPeerOnProbeFailure(t *testing.T) {
	ft := &fakeTransport{failFor: "10.0.0.2:9000"}
	r := New(ft)
	r.Connect("10.0.0.2", 9000)

	valueEqual(t, 1, len(r.Peers()))
}

func TestFanOutSendsToEveryPeerDespiteFailures(t *testing.T) {
	ft := &fakeTransport{failFor: "b:2"}
	r := New(ft)
	r.Connect("a", 1)
	r.Connect("b", 2)
	ft.sent = nil // clear the probe sends

	buf, _ := wire.Encode(wire.Frame{MemoryName: "R", MsgType: wire.Single})
	r.FanOut(buf)

	if len(ft.sent) != 1 || ft.sent[0] != "a:1" {
		t.Fatalf("expected fan-out to reach a:1 despite b:2 failing, got %+v", ft.sent)
	}
}

func TestShutdownClearsRoster(t *testing.T) {
	ft := &fakeTransport{}
	r := New(ft)
	r.Connect("a", 1)
	r.Shutdown()
	valueEqual(t, 0, len(r.Peers()))
}
