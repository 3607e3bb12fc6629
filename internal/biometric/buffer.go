package biometric

import "sync"

// ringBuffer is a bounded, thread-safe event buffer. When full, the oldest
// events are dropped to make room for new ones so a stalled store never
// backpressures the capture path.
type ringBuffer struct {
	mu       sync.Mutex
	events   []Event
	head     int
	tail     int
	count    int
	capacity int

	dropped int64
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		capacity = 1024
	}
	return &ringBuffer{
		events:   make([]Event, capacity),
		capacity: capacity,
	}
}

// enqueue adds an event, dropping the oldest if necessary.
func (b *ringBuffer) enqueue(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count >= b.capacity {
		b.tail = (b.tail + 1) % b.capacity
		b.count--
		b.dropped++
	}

	b.events[b.head] = event
	b.head = (b.head + 1) % b.capacity
	b.count++
}

// requeue reinserts events at the oldest end, preserving order. When the
// buffer cannot hold them all, the oldest of the batch are dropped and
// counted, keeping the bound intact.
func (b *ringBuffer) requeue(events []Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room := b.capacity - b.count
	if len(events) > room {
		b.dropped += int64(len(events) - room)
		events = events[len(events)-room:]
	}
	for i := len(events) - 1; i >= 0; i-- {
		b.tail = (b.tail - 1 + b.capacity) % b.capacity
		b.events[b.tail] = events[i]
		b.count++
	}
}

// dequeueBatch removes up to n events from the buffer.
func (b *ringBuffer) dequeueBatch(n int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}
	if n > b.count {
		n = b.count
	}

	out := make([]Event, n)
	for i := 0; i < n; i++ {
		out[i] = b.events[b.tail]
		b.tail = (b.tail + 1) % b.capacity
	}
	b.count -= n
	return out
}

func (b *ringBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// droppedCount returns the total number of events discarded to make room.
func (b *ringBuffer) droppedCount() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
