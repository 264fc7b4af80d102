// Package core wires the Region Registry, Change Tracker,
// Synchronizer supervisor, Receiver and peer roster into the single
// process-wide value spec.md §9 calls for, replacing the source's
// scattered global mutable state with one struct passed by reference
// to every worker.
package core

import (
	"context"
	"sync"

	"github.com/lewesmint/shmreplica/internal/mapping"
	"github.com/lewesmint/shmreplica/internal/peerset"
	"github.com/lewesmint/shmreplica/internal/receiver"
	"github.com/lewesmint/shmreplica/internal/region"
	"github.com/lewesmint/shmreplica/internal/syncer"
	"github.com/lewesmint/shmreplica/internal/tracker"
	"github.com/lewesmint/shmreplica/internal/vclog"
)

// Core is the process-wide value: one Registry, one Tracker, one
// Roster, one Synchronizer Supervisor and one Receiver, all sharing a
// mapping.Provider and a transport.
type Core struct {
	Registry   *region.Registry
	Tracker    *tracker.Tracker
	Roster     *peerset.Roster
	Supervisor *syncer.Supervisor
	Receiver   *receiver.Receiver

	transport peerset.Transport
	log       *vclog.Log

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NetworkUpdateCallback re-exports tracker.NetworkUpdateCallback so
// callers of this package don't need to import internal/tracker
// directly for the common case.
type NetworkUpdateCallback = tracker.NetworkUpdateCallback

// NetworkUpdateFunc re-exports tracker.NetworkUpdateFunc.
type NetworkUpdateFunc = tracker.NetworkUpdateFunc

// New assembles a Core bound to the given mapping provider, listening
// for inbound frames on localIP:localPort, identified as processID in
// the causal log. cb receives one call per frame received from a peer
// and applied to a region, whether a SINGLE frame or part of a
// completed multipart update; local MarkChanged calls do not invoke it.
func New(provider mapping.Provider, localIP string, localPort int, processID string, cb NetworkUpdateCallback) (*Core, error) {
	transport, err := peerset.NewUDPTransport(localIP, localPort)
	if err != nil {
		return nil, err
	}

	registry := region.New(provider)
	tr := tracker.New(registry, cb)
	roster := peerset.New(transport)
	vc := vclog.New(processID)
	sup := syncer.NewSupervisor(registry, tr, roster, vc)
	recv := receiver.New(transport, tr, vc)

	return &Core{
		Registry:   registry,
		Tracker:    tr,
		Roster:     roster,
		Supervisor: sup,
		Receiver:   recv,
		transport:  transport,
		log:        vc,
	}, nil
}

// InitializeRegion registers name with size bytes and starts its
// Synchronizer worker.
func (c *Core) InitializeRegion(name string, size int) error {
	if err := c.Registry.Initialize(name, size); err != nil {
		return err
	}
	c.Supervisor.Start(name)
	return nil
}

// MarkChanged records a producer's change to name and lets the
// region's Synchronizer pick it up on its next poll.
func (c *Core) MarkChanged(name string, offset, size uint64) {
	c.Tracker.MarkRegionChanged(name, offset, size)
}

// Connect adds a peer and probes it, per spec.md §4.5.
func (c *Core) Connect(host string, port int) {
	c.Roster.Connect(host, port)
}

// Run starts the singleton Receiver. It blocks until Shutdown is
// called; run it in its own goroutine.
func (c *Core) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	defer c.wg.Done()
	c.Receiver.Run(ctx)
}

// Start launches Run in a background goroutine and returns
// immediately.
func (c *Core) Start() {
	go c.Run()
}

// StopRegionSync cooperatively stops the Synchronizer for one region,
// the fast local-teardown case spec.md §9's open question calls for.
func (c *Core) StopRegionSync(name string) {
	c.Supervisor.Stop(name)
}

// Cleanup tears down one region: stops its Synchronizer, then
// deregisters it from the Registry.
func (c *Core) Cleanup(name string) error {
	c.Supervisor.Stop(name)
	return c.Registry.Cleanup(name)
}

// Shutdown stops the Receiver, every Synchronizer, and clears the
// peer roster and transport.
func (c *Core) Shutdown() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.Supervisor.StopAll()
	c.Roster.Shutdown()
	c.wg.Wait()
	return c.transport.Shutdown()
}
