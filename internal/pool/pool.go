// Package pool implements the fixed-capacity buffer pool shared between the
// reader tasks and the writer task. It is a direct translation of the
// free-queue/ready-queue pair in the original readflows.c (BuffInit,
// AddFreeBuff, GetFreeBuff, AddBuff, GetBuff) into two independently-locked
// FIFO queues guarded by sync.Mutex/sync.Cond instead of pthread primitives.
package pool

import (
	"net"
	"sync"
)

// Buffer is one pool-owned datagram slot. Exactly one holder (the pool, a
// reader, the ready queue, or the writer) owns it at any time.
type Buffer struct {
	Data          []byte // sized to cflowd.MaxDatagramSize, reused across datagrams
	Len           int    // bytes actually filled by the last read
	Router        net.IP // source IPv4 address of the last datagram
	DropDetection bool   // whether the owning port tracks sequence drops
}

// Pool is the bounded free/ready buffer pool described in spec.md §4.A.
type Pool struct {
	name     string
	capacity int

	freeMu   sync.Mutex
	freeCond *sync.Cond
	free     []*Buffer

	readyMu   sync.Mutex
	readyCond *sync.Cond
	ready     []*Buffer
	readySig  chan struct{} // buffered 1; lets TakeReadyOrShutdown select against a shutdown channel

	// onDropEnter/onDropRecover fire exactly once per transition into and
	// out of the "dropping" condition described in spec.md §4.A, rather
	// than once per exhausted acquire.
	onDropEnter   func()
	onDropRecover func()
}

// New allocates capacity buffers of payloadSize bytes, all starting on the
// free queue, matching BuffInit's behavior.
func New(capacity, payloadSize int, name string) *Pool {
	p := &Pool{name: name, capacity: capacity}
	p.freeCond = sync.NewCond(&p.freeMu)
	p.readyCond = sync.NewCond(&p.readyMu)
	p.readySig = make(chan struct{}, 1)

	p.free = make([]*Buffer, 0, capacity)
	for i := 0; i < capacity; i++ {
		p.free = append(p.free, &Buffer{Data: make([]byte, payloadSize)})
	}
	return p
}

// SetDropHooks installs the logging callbacks invoked exactly once per
// transition into/out of the "dropping" condition described in spec.md
// §4.A. Either argument may be nil.
func (p *Pool) SetDropHooks(onEnter, onRecover func()) {
	p.onDropEnter = onEnter
	p.onDropRecover = onRecover
}

// Name returns the pool's diagnostic name.
func (p *Pool) Name() string { return p.name }

// Cap returns the pool's fixed total capacity (F + B + I at all times).
func (p *Pool) Cap() int { return p.capacity }

// AcquireFree removes one buffer from the free queue. If the free queue is
// empty and wait is true, it blocks until a buffer is released. If the free
// queue is empty and wait is false, it steals the oldest buffer from the
// ready queue instead of blocking — dropping whatever queued-but-unprocessed
// work that buffer held. Readers in this daemon always call with wait=true;
// the non-waiting path exists for collaborators that explicitly opt into
// drop-on-exhaustion behavior.
func (p *Pool) AcquireFree(wait bool) *Buffer {
	p.freeMu.Lock()

	dropping := false
	for len(p.free) == 0 {
		if wait {
			p.freeCond.Wait()
			continue
		}

		// Release free_q_mutex before reaching into the ready queue —
		// the two mutexes must never be held simultaneously.
		p.freeMu.Unlock()

		if !dropping {
			if p.onDropEnter != nil {
				p.onDropEnter()
			}
			dropping = true
		}

		stolen := p.takeReadyOldest()

		p.freeMu.Lock()
		if stolen != nil {
			p.free = append(p.free, stolen)
		}
	}

	if dropping && p.onDropRecover != nil {
		p.onDropRecover()
	}

	buf := p.free[0]
	p.free = p.free[1:]
	p.freeMu.Unlock()
	return buf
}

// ReleaseFree returns a buffer to the free queue and wakes one waiter.
func (p *Pool) ReleaseFree(b *Buffer) {
	p.freeMu.Lock()
	p.free = append(p.free, b)
	p.freeCond.Signal()
	p.freeMu.Unlock()
}

// Submit appends a buffer to the ready queue and wakes one waiter.
func (p *Pool) Submit(b *Buffer) {
	p.readyMu.Lock()
	p.ready = append(p.ready, b)
	p.readyCond.Signal()
	p.readyMu.Unlock()

	select {
	case p.readySig <- struct{}{}:
	default:
	}
}

// TakeReady blocks until the ready queue is non-empty, then removes and
// returns the oldest entry.
func (p *Pool) TakeReady() *Buffer {
	p.readyMu.Lock()
	for len(p.ready) == 0 {
		p.readyCond.Wait()
	}
	b := p.ready[0]
	p.ready = p.ready[1:]
	p.readyMu.Unlock()
	return b
}

// TakeReadyOrShutdown blocks until either the ready queue is non-empty (in
// which case it returns the oldest entry and true) or shutdown is closed (in
// which case it returns nil, false without consuming anything). This is the
// writer's suspension point: cancellation is deferred until the next call,
// never mid-write (spec.md §5, §9).
func (p *Pool) TakeReadyOrShutdown(shutdown <-chan struct{}) (*Buffer, bool) {
	for {
		p.readyMu.Lock()
		if len(p.ready) > 0 {
			b := p.ready[0]
			p.ready = p.ready[1:]
			p.readyMu.Unlock()
			return b, true
		}
		p.readyMu.Unlock()

		select {
		case <-p.readySig:
			continue
		case <-shutdown:
			return nil, false
		}
	}
}

// takeReadyOldest is the non-blocking variant used by AcquireFree(wait=false):
// it removes and returns the oldest ready buffer, or nil if the ready queue
// is currently empty.
func (p *Pool) takeReadyOldest() *Buffer {
	p.readyMu.Lock()
	defer p.readyMu.Unlock()
	if len(p.ready) == 0 {
		return nil
	}
	b := p.ready[0]
	p.ready = p.ready[1:]
	return b
}

// Counts returns the current free-queue and ready-queue lengths, useful for
// asserting invariant I1 (F + B + I == capacity) in tests and stats
// reporting.
func (p *Pool) Counts() (free, ready int) {
	p.freeMu.Lock()
	free = len(p.free)
	p.freeMu.Unlock()

	p.readyMu.Lock()
	ready = len(p.ready)
	p.readyMu.Unlock()
	return
}
