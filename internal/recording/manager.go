package recording

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"vkyc/internal/recording/metrics"
	"vkyc/pkg/domain"
	dErrors "vkyc/pkg/domain-errors"
)

const contentTypeWebM = "video/webm"

type activeRecording struct {
	rec    Recording
	buf    []byte
	capped bool
}

// Manager owns the per-session recording buffers. It enforces the duration
// cap by publishing a cap event the session engine consumes; the manager
// itself never touches session state.
type Manager struct {
	artifacts  ArtifactStore
	store      Store
	compressor Compressor
	capLimit   time.Duration
	keyPrefix  string

	capEvents chan domain.SessionID

	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   func() time.Time

	mu       sync.Mutex
	active   map[domain.SessionID]*activeRecording
	finished map[domain.SessionID]Recording
	wg       sync.WaitGroup
}

func NewManager(artifacts ArtifactStore, store Store, compressor Compressor, capLimit time.Duration, keyPrefix string, logger *slog.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		artifacts:  artifacts,
		store:      store,
		compressor: compressor,
		capLimit:   capLimit,
		keyPrefix:  keyPrefix,
		capEvents:  make(chan domain.SessionID, 64),
		logger:     logger,
		metrics:    m,
		clock:      time.Now,
		active:     make(map[domain.SessionID]*activeRecording),
		finished:   make(map[domain.SessionID]Recording),
	}
}

// WithClock overrides the time source for tests.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// CapEvents delivers the session ids whose recording hit the duration cap.
func (m *Manager) CapEvents() <-chan domain.SessionID {
	return m.capEvents
}

// Start opens a recording buffer for the session. Repeat calls are no-ops.
func (m *Manager) Start(id domain.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[id]; ok {
		return
	}
	m.active[id] = &activeRecording{
		rec: Recording{
			ID:        domain.NewRecordingID(),
			SessionID: id,
			StartedAt: m.clock(),
			Status:    StatusBuffering,
		},
	}
}

// AddChunk appends a video chunk. Buffered duration never exceeds the cap:
// a chunk that would cross it is discarded whole, the recording stops
// accepting chunks, and a cap event is published.
func (m *Manager) AddChunk(id domain.SessionID, data []byte, duration time.Duration) error {
	m.mu.Lock()
	entry, ok := m.active[id]
	if !ok || entry.rec.Status != StatusBuffering {
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.ChunksRejected.Inc()
		}
		return dErrors.New(dErrors.CodeConflict, "recording is not accepting chunks")
	}

	if entry.rec.Duration+duration > m.capLimit {
		entry.capped = true
		entry.rec.Status = StatusFinalizing
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.ChunksRejected.Inc()
		}
		m.emitCap(id)
		return dErrors.New(dErrors.CodeConflict, "recording duration cap reached")
	}

	entry.buf = append(entry.buf, data...)
	entry.rec.Chunks++
	entry.rec.Bytes += int64(len(data))
	entry.rec.Duration += duration

	capped := false
	if !entry.capped && entry.rec.Duration >= m.capLimit {
		entry.capped = true
		entry.rec.Status = StatusFinalizing
		capped = true
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ChunksAccepted.Inc()
		m.metrics.BytesBuffered.Add(float64(len(data)))
	}
	if capped {
		m.emitCap(id)
	}
	return nil
}

// emitCap publishes the cap event without blocking the chunk path.
func (m *Manager) emitCap(id domain.SessionID) {
	m.logger.Info("recording duration cap reached", "session_id", id)
	select {
	case m.capEvents <- id:
	default:
		m.logger.Error("cap event channel full, dropping event", "session_id", id)
	}
}

// Finalize closes the buffer and uploads the artifact in the background.
// Safe to call more than once and for sessions that never recorded.
func (m *Manager) Finalize(id domain.SessionID) {
	m.mu.Lock()
	entry, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.active, id)
	entry.rec.Status = StatusFinalizing
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.upload(entry)
	}()
}

func (m *Manager) upload(entry *activeRecording) {
	rec := entry.rec
	data := entry.buf
	contentType := contentTypeWebM
	key := m.keyPrefix + "/" + rec.SessionID.String() + ".webm"

	compressed, compressErr := m.compressor.Compress(data)
	if compressErr != nil {
		// The raw artifact is still uploaded for the audit trail, but the
		// recording itself ends up failed.
		m.logger.Warn("recording compression failed, storing raw",
			"session_id", rec.SessionID, "error", compressErr)
	} else {
		data = compressed
		key += m.compressor.Suffix()
		if m.compressor.Suffix() != "" {
			contentType = "application/gzip"
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := m.artifacts.Put(ctx, key, data, contentType); err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
		m.logger.Error("recording upload failed", "session_id", rec.SessionID, "error", err)
		m.markUpload("failure")
	} else if compressErr != nil {
		rec.Status = StatusFailed
		rec.Error = compressErr.Error()
		rec.ObjectKey = key
		m.markUpload("success")
	} else {
		rec.Status = StatusDone
		rec.ObjectKey = key
		m.logger.Info("recording stored",
			"session_id", rec.SessionID, "key", key, "duration", rec.Duration)
		m.markUpload("success")
	}
	if m.metrics != nil {
		m.metrics.Durations.Observe(rec.Duration.Seconds())
	}

	m.mu.Lock()
	m.finished[rec.SessionID] = rec
	m.mu.Unlock()

	// Fresh context: the upload one may already be spent on a timed-out put.
	saveCtx, saveCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer saveCancel()
	if err := m.store.Save(saveCtx, &rec); err != nil {
		m.logger.Error("persist recording metadata",
			"session_id", rec.SessionID, "error", err)
	}
}

func (m *Manager) markUpload(result string) {
	if m.metrics != nil {
		m.metrics.Uploads.WithLabelValues(result).Inc()
	}
}

// Get returns the recording metadata for a session, live or finished.
func (m *Manager) Get(id domain.SessionID) (Recording, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.active[id]; ok {
		return entry.rec, true
	}
	rec, ok := m.finished[id]
	return rec, ok
}

// Find returns the recording metadata for a session, falling back to the
// persistent store for recordings finished before a restart.
func (m *Manager) Find(ctx context.Context, id domain.SessionID) (*Recording, error) {
	if rec, ok := m.Get(id); ok {
		return &rec, nil
	}
	return m.store.Find(ctx, id)
}

// Wait blocks until pending uploads finish. Used on shutdown.
func (m *Manager) Wait() {
	m.wg.Wait()
}
