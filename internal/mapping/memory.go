package mapping

import "sync"

// MemoryProvider is a heap-backed Provider: every "segment" is a plain
// Go byte slice held in a table keyed by name. It has no OS shared-
// memory semantics — the table is private to one MemoryProvider value,
// so Create/Open on the same name only see the same bytes when called
// on the *same* instance. Two independent MemoryProvider values (as
// core_test.go's peer pairs use, one per simulated process) never
// share segments; that mirrors a real deployment, where each process
// has its own address space and only the network path lets one peer's
// writes reach another's region (the table shape itself mirrors the
// teacher's VM.Memory backing array).
type MemoryProvider struct {
	mu       sync.Mutex
	segments map[string][]byte
}

// NewMemoryProvider returns a ready-to-use MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{segments: make(map[string][]byte)}
}

type memoryHandle struct {
	provider *MemoryProvider
	name     string
}

func (h *memoryHandle) Close() error { return nil }

func (p *MemoryProvider) Create(name string, size int) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.segments[name]; !ok {
		p.segments[name] = make([]byte, size)
	}
	return &memoryHandle{provider: p, name: name}, nil
}

func (p *MemoryProvider) Open(name string, size int) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf, ok := p.segments[name]
	if !ok {
		return nil, ErrNotFound
	}
	if len(buf) < size {
		grown := make([]byte, size)
		copy(grown, buf)
		p.segments[name] = grown
	}
	return &memoryHandle{provider: p, name: name}, nil
}

func (p *MemoryProvider) Map(h Handle, size int) ([]byte, error) {
	mh := h.(*memoryHandle)
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := p.segments[mh.name]
	if len(buf) < size {
		grown := make([]byte, size)
		copy(grown, buf)
		buf = grown
		p.segments[mh.name] = buf
	}
	return buf[:size], nil
}

func (p *MemoryProvider) Unmap(b []byte) error { return nil }

func (p *MemoryProvider) Close(h Handle) error { return nil }
