// Command shmnode runs one replication peer: it registers a region,
// listens for peer traffic, and lets the caller drive Core's
// initialize, connect, mark-changed and cleanup operations from the
// command line (StopRegionSync is not exposed). Startup parameters are flags;
// ongoing operations (marking a byte range changed, tearing a region
// down) are a small stdin command loop standing in for the source's
// interactive menu. File-based configuration is treated as an
// external collaborator this module doesn't own.
package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/lewesmint/shmreplica/internal/core"
)

type peerList []string

func (p *peerList) String() string { return strings.Join(*p, ",") }

func (p *peerList) Set(value string) error {
	*p = append(*p, value)
	return nil
}

// setList holds repeated -set offset:hexbytes flags applied once,
// right after the region is registered, so a scripted run can seed a
// change without needing the stdin command loop.
type setList []string

func (s *setList) String() string { return strings.Join(*s, ",") }

func (s *setList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func main() {
	var (
		port       = flag.Int("port", 9000, "UDP port this node listens on")
		regionName = flag.String("region", "R", "name of the region to register")
		regionSize = flag.Int("size", 4096, "size in bytes of the region")
		peers      peerList
		sets       setList
	)
	flag.Var(&peers, "peer", "host:port of a peer to connect to at startup (repeatable)")
	flag.Var(&sets, "set", "offset:hexbytes to write into the region and mark changed at startup (repeatable)")
	flag.Parse()

	processID := fmt.Sprintf("shmnode:%d", *port)

	c, err := core.New(defaultProvider(), "0.0.0.0", *port, processID, core.NetworkUpdateFunc(onNetworkUpdate))
	if err != nil {
		log.Fatalf("shmnode: %v", err)
	}
	c.Start()

	if err := c.InitializeRegion(*regionName, *regionSize); err != nil {
		log.Fatalf("shmnode: initialize region %q: %v", *regionName, err)
	}

	for _, p := range peers {
		host, portStr, err := splitHostPort(p)
		if err != nil {
			log.Printf("shmnode: skipping malformed -peer %q: %v", p, err)
			continue
		}
		c.Connect(host, portStr)
	}

	for _, s := range sets {
		if err := applySet(c, *regionName, s); err != nil {
			log.Printf("shmnode: skipping malformed -set %q: %v", s, err)
		}
	}

	log.Printf("shmnode: listening on :%d, region %q (%d bytes), %d peer(s)", *port, *regionName, *regionSize, len(peers))
	log.Printf("shmnode: stdin commands: set <offset> <hexbytes> | cleanup | quit")

	done := make(chan struct{})
	go runCommandLoop(c, *regionName, done)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
	case <-done:
	}

	if err := c.Shutdown(); err != nil {
		log.Printf("shmnode: shutdown: %v", err)
	}
}

// runCommandLoop reads one command per line from stdin, driving
// exactly the operations Core exposes beyond startup: marking a byte
// range changed (the producer-write path) and cleaning a region up.
// It closes done on "quit" or on stdin reaching EOF.
func runCommandLoop(c *core.Core, regionName string, done chan<- struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "set":
			if len(fields) != 3 {
				log.Printf("shmnode: usage: set <offset> <hexbytes>")
				continue
			}
			if err := applySet(c, regionName, fields[1]+":"+fields[2]); err != nil {
				log.Printf("shmnode: set: %v", err)
			}
		case "cleanup":
			if err := c.Cleanup(regionName); err != nil {
				log.Printf("shmnode: cleanup %q: %v", regionName, err)
				continue
			}
			log.Printf("shmnode: cleaned up region %q", regionName)
		case "quit", "exit":
			return
		default:
			log.Printf("shmnode: unknown command %q (expected: set <offset> <hexbytes> | cleanup | quit)", fields[0])
		}
	}
}

// applySet parses an "offset:hexbytes" spec, writes the decoded bytes
// into the region's buffer, and marks the range changed so the
// Synchronizer picks it up — the CLI's equivalent of the source's
// "Update primary memory" menu item.
func applySet(c *core.Core, regionName, spec string) error {
	offsetStr, hexStr, ok := strings.Cut(spec, ":")
	if !ok {
		return fmt.Errorf("expected offset:hexbytes, got %q", spec)
	}
	offset, err := strconv.ParseUint(offsetStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid offset in %q: %w", spec, err)
	}
	data, err := hex.DecodeString(hexStr)
	if err != nil {
		return fmt.Errorf("invalid hex payload in %q: %w", spec, err)
	}

	buf, ok := c.Registry.Get(regionName)
	if !ok {
		return fmt.Errorf("region %q not registered", regionName)
	}
	if offset+uint64(len(data)) > uint64(len(buf)) {
		return fmt.Errorf("offset %d + %d bytes exceeds region size %d", offset, len(data), len(buf))
	}
	copy(buf[offset:], data)
	c.MarkChanged(regionName, offset, uint64(len(data)))
	log.Printf("shmnode: marked %q [%d..%d) changed", regionName, offset, offset+uint64(len(data)))
	return nil
}

func onNetworkUpdate(name string, offset, size uint64) {
	log.Printf("shmnode: applied remote update to %q [%d..%d)", name, offset, offset+size)
}

func splitHostPort(s string) (string, int, error) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return "", 0, fmt.Errorf("expected host:port, got %q", s)
	}
	port, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", s, err)
	}
	return s[:i], port, nil
}
