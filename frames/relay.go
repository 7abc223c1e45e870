// Package frames provides a latest-frame handoff between the capture
// producer and UI consumers. The relay keeps exactly one frame: a slow
// consumer never creates backpressure on the producer, it just skips
// intermediate frames.
package frames

import (
	"sync"
	"time"
)

// Frame is one captured image plus its bookkeeping. Data layout is
// whatever the capture source produced (BGR24 for the preview pipeline);
// the relay never inspects it.
type Frame struct {
	Data   []byte
	Width  int
	Height int
	Seq    uint64
	Taken  time.Time
	// Stale marks a frame republished while the device is handed to the
	// encoder. Consumers render it dimmed or with a recording badge.
	Stale bool
}

// Stats counts relay traffic. Dropped is the number of published frames
// that were overwritten before any consumer read them.
type Stats struct {
	Published uint64
	Dropped   uint64
}

// Relay is a single-slot frame mailbox, safe for one producer and any
// number of consumers.
type Relay struct {
	mu      sync.RWMutex
	latest  Frame
	hasNew  bool
	nextSeq uint64
	stats   Stats
}

// NewRelay returns an empty relay.
func NewRelay() *Relay {
	return &Relay{nextSeq: 1}
}

// Publish replaces the held frame. The relay assigns the sequence number;
// callers must not reuse the Data slice after publishing.
func (r *Relay) Publish(f Frame) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hasNew {
		r.stats.Dropped++
	}
	f.Seq = r.nextSeq
	r.nextSeq++
	if f.Taken.IsZero() {
		f.Taken = time.Now()
	}
	r.latest = f
	r.hasNew = true
	r.stats.Published++
	return f.Seq
}

// Latest returns the most recent frame. ok is false only before the first
// Publish or after a Reset.
func (r *Relay) Latest() (Frame, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.latest.Seq == 0 {
		return Frame{}, false
	}
	return r.latest, true
}

// ReadIfNew returns the latest frame only if its sequence number is past
// lastSeq. Consumers track their own lastSeq, so multiple readers can pace
// themselves independently off the same relay.
func (r *Relay) ReadIfNew(lastSeq uint64) (Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.latest.Seq == 0 || r.latest.Seq <= lastSeq {
		return Frame{}, false
	}
	r.hasNew = false
	return r.latest, true
}

// Stats returns a copy of the traffic counters.
func (r *Relay) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// Reset drops the held frame and counters. Sequence numbers keep climbing
// so consumers holding an old lastSeq never mistake a post-reset frame for
// one they already saw.
func (r *Relay) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest = Frame{}
	r.hasNew = false
	r.stats = Stats{}
}
