// Package eventbus is a tiny in-memory fanout used to decouple services:
// tasks publish lifecycle events, the dispatcher publishes delivery results,
// the monitor publishes regime alerts. Nothing here persists or blocks.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published in this process. Data payloads are small structs or
// maps, ideally JSON-serializable for debug dumps.
const (
	TypeTaskStarted   = "task.started"
	TypeTaskSucceeded = "task.succeeded"
	TypeTaskFailed    = "task.failed"
	TypeTaskSkipped   = "task.skipped"
	TypeTaskDropped   = "task.dropped"

	TypeDispatchSent    = "dispatch.sent"
	TypeDispatchDropped = "dispatch.dropped"

	TypeRegimeAlert   = "regime.alert"
	TypeScanAborted   = "scan.aborted"
	TypeEmergencyStop = "emergency.stop"

	TypeConfigReloaded = "config.reloaded"
)

// Event is a lightweight, in-memory signal.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a fanout bus. It owns no background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks during sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery; slow subscribers drop. A concurrent
		// unsubscribe may close the channel, hence the recover.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
