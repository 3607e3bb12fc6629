package biometric

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"vkyc/internal/biometric/metrics"
	"vkyc/pkg/domain"
	dErrors "vkyc/pkg/domain-errors"
)

const flushBatchSize = 256

// Logger accepts telemetry events, enforces per-session timestamp ordering,
// and flushes batches to the store in the background.
type Logger struct {
	buffer  *ringBuffer
	store   Store
	log     *slog.Logger
	metrics *metrics.Metrics

	flushInterval time.Duration

	mu            sync.Mutex
	last          map[domain.SessionID]time.Time
	reportedDrops int64
}

func NewLogger(store Store, bufferSize int, flushInterval time.Duration, log *slog.Logger, m *metrics.Metrics) *Logger {
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &Logger{
		buffer:        newRingBuffer(bufferSize),
		store:         store,
		log:           log,
		metrics:       m,
		flushInterval: flushInterval,
		last:          make(map[domain.SessionID]time.Time),
	}
}

// Log accepts one event. Timestamps must be strictly increasing per
// session; an event at or before the session's last accepted timestamp is
// rejected so replayed or reordered telemetry never corrupts the trail.
func (l *Logger) Log(_ context.Context, event Event) error {
	l.mu.Lock()
	last, seen := l.last[event.SessionID]
	if seen && !event.CapturedAt.After(last) {
		l.mu.Unlock()
		if l.metrics != nil {
			l.metrics.Rejected.Inc()
		}
		return dErrors.New(dErrors.CodeInvalidInput, "event timestamp not after previous event")
	}
	l.last[event.SessionID] = event.CapturedAt
	l.mu.Unlock()

	l.buffer.enqueue(event)
	if l.metrics != nil {
		l.metrics.Accepted.WithLabelValues(string(event.Type)).Inc()
		l.metrics.BufferLen.Set(float64(l.buffer.len()))
	}
	return nil
}

// ForgetSession releases the ordering watermark for a finished session.
func (l *Logger) ForgetSession(id domain.SessionID) {
	l.mu.Lock()
	delete(l.last, id)
	l.mu.Unlock()
}

// Run drains the buffer to the store until ctx is done, then performs a
// final flush.
func (l *Logger) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.flush(context.Background())
			return ctx.Err()
		case <-ticker.C:
			l.flush(ctx)
		}
	}
}

func (l *Logger) flush(ctx context.Context) {
	for {
		batch := l.buffer.dequeueBatch(flushBatchSize)
		if len(batch) == 0 {
			break
		}
		if err := l.store.Append(ctx, batch); err != nil {
			l.log.Error("flush biometric events", "count", len(batch), "error", err)
			// The batch stays buffered for the next flush; the ring's
			// oldest-first bound still applies.
			l.buffer.requeue(batch)
			break
		}
	}
	if l.metrics != nil {
		l.metrics.BufferLen.Set(float64(l.buffer.len()))
		dropped := l.buffer.droppedCount()
		l.mu.Lock()
		delta := dropped - l.reportedDrops
		l.reportedDrops = dropped
		l.mu.Unlock()
		if delta > 0 {
			l.metrics.Dropped.Add(float64(delta))
		}
	}
}

// Dropped reports how many events were discarded under backpressure.
func (l *Logger) Dropped() int64 {
	return l.buffer.droppedCount()
}
