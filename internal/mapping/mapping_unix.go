//go:build unix

package mapping

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// UnixProvider maps segments as POSIX shared-memory objects under
// /dev/shm, following the same open+ftruncate+mmap shape as
// srediag-plugin-shm's MmapRegion and marmos91-dittofs's mmap helpers.
type UnixProvider struct {
	// Dir overrides the shared-memory directory; defaults to /dev/shm.
	Dir string
}

// NewUnixProvider returns a Provider backed by /dev/shm.
func NewUnixProvider() *UnixProvider {
	return &UnixProvider{Dir: "/dev/shm"}
}

type unixHandle struct {
	fd   int
	path string
}

func (h *unixHandle) Close() error {
	return unix.Close(h.fd)
}

func (p *UnixProvider) path(name string) string {
	dir := p.Dir
	if dir == "" {
		dir = "/dev/shm"
	}
	return filepath.Join(dir, name)
}

func (p *UnixProvider) Create(name string, size int) (Handle, error) {
	path := p.path(name)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0o600)
	if err != nil {
		return nil, &MappingFailedError{Op: "create", Name: name, Err: err}
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, &MappingFailedError{Op: "create", Name: name, Err: err}
	}
	return &unixHandle{fd: fd, path: path}, nil
}

func (p *UnixProvider) Open(name string, size int) (Handle, error) {
	path := p.path(name)
	fd, err := unix.Open(path, unix.O_RDWR, 0o600)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, &MappingFailedError{Op: "open", Name: name, Err: err}
	}
	var st unix.Stat_t
	err = unix.Fstat(fd, &st)
	if err == nil && st.Size < int64(size) {
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			unix.Close(fd)
			return nil, &MappingFailedError{Op: "open", Name: name, Err: err}
		}
	}
	return &unixHandle{fd: fd, path: path}, nil
}

func (p *UnixProvider) Map(h Handle, size int) ([]byte, error) {
	uh := h.(*unixHandle)
	b, err := unix.Mmap(uh.fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, &MappingFailedError{Op: "map", Name: uh.path, Err: err}
	}
	return b, nil
}

func (p *UnixProvider) Unmap(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("mapping: munmap: %w", err)
	}
	return nil
}

func (p *UnixProvider) Close(h Handle) error {
	return h.Close()
}
