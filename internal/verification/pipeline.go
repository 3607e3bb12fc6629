package verification

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"vkyc/internal/verification/metrics"
	"vkyc/pkg/domain"
	dErrors "vkyc/pkg/domain-errors"
	"vkyc/pkg/platform/sentinel"
)

// OutcomeFunc receives terminal per-document statuses.
type OutcomeFunc func(ctx context.Context, id domain.SessionID, doc domain.DocumentType, status Status)

// RecaptureFunc asks the channel layer to request another capture after a
// low-confidence reading that still has attempts left.
type RecaptureFunc func(id domain.SessionID, doc domain.DocumentType, attempt int)

// Config tunes the pipeline's thresholds and retry budget.
// RegistryMaxRetries is the total registry attempt budget per document,
// counting the first call.
type Config struct {
	ConfidenceThreshold float64
	MaxAttempts         int
	RegistryMaxRetries  int
	RegistryBackoff     time.Duration
	OCRTimeout          time.Duration
	RegistryTimeout     time.Duration
}

// Pipeline processes captured document frames asynchronously. Each frame is
// handled by its own goroutine; at most one frame per (session, document)
// may be in flight at a time.
type Pipeline struct {
	ocr      OCRClient
	registry RegistryClient
	store    ResultStore
	cfg      Config

	onOutcome   OutcomeFunc
	onRecapture RecaptureFunc

	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   func() time.Time

	mu       sync.Mutex
	inflight map[resultKey]bool
	sessions map[domain.SessionID]sessionWork
	wg       sync.WaitGroup
}

type sessionWork struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func NewPipeline(ocr OCRClient, registry RegistryClient, store ResultStore, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		ocr:      ocr,
		registry: registry,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		clock:    time.Now,
		inflight: make(map[resultKey]bool),
		sessions: make(map[domain.SessionID]sessionWork),
	}
}

// SetCallbacks wires the outcome and recapture sinks. Must be called before
// the first Submit.
func (p *Pipeline) SetCallbacks(outcome OutcomeFunc, recapture RecaptureFunc) {
	p.onOutcome = outcome
	p.onRecapture = recapture
}

// Submit accepts a frame for async processing. A frame for a document that
// already has one in flight is rejected; a document that already reached a
// terminal status cannot be resubmitted.
func (p *Pipeline) Submit(ctx context.Context, frame CaptureFrame) error {
	existing, err := p.store.Find(ctx, frame.SessionID, frame.Document)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return err
	}
	if existing != nil && existing.Status.Terminal() {
		return dErrors.New(dErrors.CodeConflict, "document verification already settled")
	}
	attempts := 0
	if existing != nil {
		attempts = existing.Attempts
	}

	key := resultKey{frame.SessionID, frame.Document}

	p.mu.Lock()
	if p.inflight[key] {
		p.mu.Unlock()
		return dErrors.New(dErrors.CodeConflict, "verification already in flight for this document")
	}
	p.inflight[key] = true
	sctx := p.sessionContextLocked(frame.SessionID)
	p.mu.Unlock()

	p.adjustInFlight(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.adjustInFlight(-1)
		defer p.clearInFlight(key)
		p.process(sctx, frame, attempts+1)
	}()
	return nil
}

// sessionContextLocked returns the session's work context, creating it on
// first use. Derived from Background so it outlives the submitting request.
func (p *Pipeline) sessionContextLocked(id domain.SessionID) context.Context {
	if work, ok := p.sessions[id]; ok {
		return work.ctx
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.sessions[id] = sessionWork{ctx: ctx, cancel: cancel}
	return ctx
}

func (p *Pipeline) clearInFlight(key resultKey) {
	p.mu.Lock()
	delete(p.inflight, key)
	p.mu.Unlock()
}

// CancelSession aborts all in-flight work for a session. In-flight
// goroutines observe the canceled context and exit without reporting.
func (p *Pipeline) CancelSession(id domain.SessionID) {
	p.mu.Lock()
	work, ok := p.sessions[id]
	delete(p.sessions, id)
	p.mu.Unlock()
	if ok {
		work.cancel()
	}
}

// Statuses returns the per-document status snapshot for a session.
// Documents never captured are absent from the map.
func (p *Pipeline) Statuses(ctx context.Context, id domain.SessionID) (map[domain.DocumentType]Status, error) {
	results, err := p.store.BySession(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make(map[domain.DocumentType]Status, len(results))
	for _, r := range results {
		out[r.Document] = r.Status
	}
	return out, nil
}

// Results returns the full per-document records for a session.
func (p *Pipeline) Results(ctx context.Context, id domain.SessionID) ([]*Result, error) {
	return p.store.BySession(ctx, id)
}

// Wait blocks until all in-flight work finishes. Used on shutdown.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) adjustInFlight(delta float64) {
	if p.metrics != nil {
		p.metrics.InFlight.Add(delta)
	}
}

func (p *Pipeline) process(ctx context.Context, frame CaptureFrame, attempt int) {
	log := p.logger.With("session_id", frame.SessionID, "document", frame.Document, "attempt", attempt)

	extraction, err := p.extract(ctx, frame)
	if ctx.Err() != nil {
		return
	}
	if err != nil || extraction.Confidence < p.cfg.ConfidenceThreshold {
		if err != nil {
			log.Warn("ocr extraction failed", "error", err)
		} else {
			log.Info("ocr confidence below threshold", "confidence", extraction.Confidence)
		}
		p.handleLowConfidence(ctx, frame, extraction, attempt)
		return
	}
	if p.metrics != nil {
		p.metrics.OCRConfidence.Observe(extraction.Confidence)
	}

	decision, err := p.verifyWithRetries(ctx, frame.Document, extraction.Fields)
	if ctx.Err() != nil {
		return
	}

	var status Status
	switch {
	case err != nil:
		status = StatusUnavailable
		log.Warn("registry unavailable after retries", "error", err)
	case decision == DecisionMatch:
		status = StatusMatched
	default:
		status = StatusMismatched
	}

	p.settle(ctx, frame, extraction, attempt, status)
}

func (p *Pipeline) extract(ctx context.Context, frame CaptureFrame) (Extraction, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.OCRTimeout)
	defer cancel()
	return p.ocr.Extract(callCtx, frame.Document, frame.Image)
}

// handleLowConfidence either asks for another capture or, when attempts are
// exhausted, settles the document as low_confidence.
func (p *Pipeline) handleLowConfidence(ctx context.Context, frame CaptureFrame, extraction Extraction, attempt int) {
	if attempt >= p.cfg.MaxAttempts {
		p.settle(ctx, frame, extraction, attempt, StatusLowConfidence)
		return
	}
	p.record(ctx, frame, extraction, attempt, StatusPending)
	if p.onRecapture != nil {
		p.onRecapture(frame.SessionID, frame.Document, attempt)
	}
}

// verifyWithRetries calls the registry, retrying transient failures only
// within the total attempt budget. Definitive failures and exhausted budgets
// surface as the final error.
func (p *Pipeline) verifyWithRetries(ctx context.Context, doc domain.DocumentType, fields map[string]string) (Decision, error) {
	budget := p.cfg.RegistryMaxRetries
	if budget < 1 {
		budget = 1
	}
	var lastErr error
	for try := 1; try <= budget; try++ {
		if try > 1 {
			if p.metrics != nil {
				p.metrics.RegistryRetries.Inc()
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(p.cfg.RegistryBackoff << (try - 2)):
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.RegistryTimeout)
		decision, err := p.registry.Verify(callCtx, doc, fields)
		cancel()
		if err == nil {
			return decision, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			break
		}
	}
	return "", lastErr
}

// settle records a terminal status and notifies the outcome sink.
func (p *Pipeline) settle(ctx context.Context, frame CaptureFrame, extraction Extraction, attempt int, status Status) {
	p.record(ctx, frame, extraction, attempt, status)
	if p.metrics != nil {
		p.metrics.Outcomes.WithLabelValues(string(frame.Document), string(status)).Inc()
	}
	if p.onOutcome != nil {
		p.onOutcome(ctx, frame.SessionID, frame.Document, status)
	}
}

func (p *Pipeline) record(ctx context.Context, frame CaptureFrame, extraction Extraction, attempt int, status Status) {
	err := p.store.Upsert(ctx, &Result{
		SessionID:  frame.SessionID,
		Document:   frame.Document,
		Status:     status,
		Confidence: extraction.Confidence,
		Fields:     extraction.Fields,
		Attempts:   attempt,
		UpdatedAt:  p.clock(),
	})
	if err != nil && ctx.Err() == nil {
		p.logger.Error("persist verification result",
			"session_id", frame.SessionID, "document", frame.Document, "error", err)
	}
}
