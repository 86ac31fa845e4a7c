// Package fanout distributes canonical signal records to SSE subscribers:
// one bounded queue per device_id plus a shared UNKNOWN bucket that sees
// every record regardless of device, grounded on session.py's
// SessionManager.distribute_data/subscribe and the teacher's
// subscriber-map/non-blocking-send eventbus idiom.
package fanout

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/serena-health/breath-engine/internal/model"
)

// SubscriberQueueCapacity bounds each subscriber's buffered channel, matching
// the original's asyncio.Queue(maxsize=100).
const SubscriberQueueCapacity = 100

type bucket struct {
	mu     sync.Mutex
	subs   map[uint64]chan model.SignalRecord
	nextID uint64
}

func newBucket() *bucket {
	return &bucket{subs: make(map[uint64]chan model.SignalRecord)}
}

func (b *bucket) subscribe() (uint64, <-chan model.SignalRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan model.SignalRecord, SubscriberQueueCapacity)
	b.subs[id] = ch
	return id, ch
}

func (b *bucket) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// broadcast sends rec to every subscriber, dropping (and unsubscribing) any
// whose queue is full rather than blocking the publisher.
func (b *bucket) broadcast(rec model.SignalRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var full []uint64
	for id, ch := range b.subs {
		select {
		case ch <- rec:
		default:
			full = append(full, id)
		}
	}
	for _, id := range full {
		if ch, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
}

func (b *bucket) subscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Bus is the process-wide fan-out hub, one bucket per device_id.
type Bus struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	log     zerolog.Logger
}

// NewBus builds an empty Bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		buckets: make(map[string]*bucket),
		log:     log.With().Str("component", "fanout").Logger(),
	}
}

func (bus *Bus) bucketFor(deviceID string) *bucket {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	b, ok := bus.buckets[deviceID]
	if !ok {
		b = newBucket()
		bus.buckets[deviceID] = b
	}
	return b
}

// Publish delivers rec to its own device bucket (unless it already is the
// UNKNOWN bucket) and unconditionally to the shared UNKNOWN bucket, so a
// subscriber there sees every device's traffic.
func (bus *Bus) Publish(rec model.SignalRecord) {
	if rec.DeviceID != model.UnknownDeviceID {
		bus.bucketFor(rec.DeviceID).broadcast(rec)
	}
	bus.bucketFor(model.UnknownDeviceID).broadcast(rec)
}

// Subscribe registers a bounded queue against deviceID — pass
// model.UnknownDeviceID for the shared firehose — returning the receive
// channel and a cancel function to unsubscribe.
func (bus *Bus) Subscribe(deviceID string) (<-chan model.SignalRecord, func()) {
	b := bus.bucketFor(deviceID)
	id, ch := b.subscribe()
	return ch, func() { b.unsubscribe(id) }
}

// SubscriberCount reports the number of currently connected subscribers
// across every device bucket, read at scrape time by Component L.
func (bus *Bus) SubscriberCount() int {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	total := 0
	for _, b := range bus.buckets {
		total += b.subscriberCount()
	}
	return total
}
