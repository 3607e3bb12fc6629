package verification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vkyc/internal/platform/logger"
	"vkyc/pkg/domain"
	dErrors "vkyc/pkg/domain-errors"
)

type stubOCR struct {
	mu          sync.Mutex
	extractions []Extraction
	errs        []error
	calls       int
}

func (s *stubOCR) Extract(_ context.Context, _ domain.DocumentType, _ []byte) (Extraction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return Extraction{}, s.errs[i]
	}
	if i < len(s.extractions) {
		return s.extractions[i], nil
	}
	return Extraction{Confidence: 0.95, Fields: map[string]string{"id_number": "X123"}}, nil
}

type stubRegistry struct {
	mu        sync.Mutex
	decisions []Decision
	errs      []error
	calls     int
}

func (s *stubRegistry) Verify(_ context.Context, _ domain.DocumentType, _ map[string]string) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.decisions) {
		return s.decisions[i], nil
	}
	return DecisionMatch, nil
}

func (s *stubRegistry) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type outcomeRecorder struct {
	mu         sync.Mutex
	outcomes   []Status
	recaptures []int
	done       chan struct{}
}

func newOutcomeRecorder() *outcomeRecorder {
	return &outcomeRecorder{done: make(chan struct{}, 16)}
}

func (r *outcomeRecorder) outcome(_ context.Context, _ domain.SessionID, _ domain.DocumentType, status Status) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, status)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *outcomeRecorder) recapture(_ domain.SessionID, _ domain.DocumentType, attempt int) {
	r.mu.Lock()
	r.recaptures = append(r.recaptures, attempt)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *outcomeRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pipeline callback")
	}
}

func newTestPipeline(t *testing.T, ocr OCRClient, registry RegistryClient, cfg Config) (*Pipeline, *outcomeRecorder) {
	t.Helper()
	if cfg.OCRTimeout == 0 {
		cfg.OCRTimeout = time.Second
	}
	if cfg.RegistryTimeout == 0 {
		cfg.RegistryTimeout = time.Second
	}
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = 0.6
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	p := NewPipeline(ocr, registry, NewInMemoryResultStore(), cfg,
		logger.New("error"), nil)
	rec := newOutcomeRecorder()
	p.SetCallbacks(rec.outcome, rec.recapture)
	return p, rec
}

func frame(id domain.SessionID) CaptureFrame {
	return CaptureFrame{
		SessionID:  id,
		Document:   domain.DocumentPAN,
		Image:      []byte("frame"),
		CapturedAt: time.Now(),
	}
}

func TestPipelineMatch(t *testing.T) {
	id := domain.NewSessionID()
	p, rec := newTestPipeline(t, &stubOCR{}, &stubRegistry{}, Config{})

	require.NoError(t, p.Submit(context.Background(), frame(id)))
	rec.wait(t)
	p.Wait()

	assert.Equal(t, []Status{StatusMatched}, rec.outcomes)
	statuses, err := p.Statuses(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusMatched, statuses[domain.DocumentPAN])
}

func TestPipelineLowConfidenceRequestsRecapture(t *testing.T) {
	id := domain.NewSessionID()
	ocr := &stubOCR{extractions: []Extraction{{Confidence: 0.3}}}
	p, rec := newTestPipeline(t, ocr, &stubRegistry{}, Config{})

	require.NoError(t, p.Submit(context.Background(), frame(id)))
	rec.wait(t)
	p.Wait()

	assert.Equal(t, []int{1}, rec.recaptures)
	assert.Empty(t, rec.outcomes)

	statuses, err := p.Statuses(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, statuses[domain.DocumentPAN])
}

func TestPipelineLowConfidenceExhaustsAttempts(t *testing.T) {
	id := domain.NewSessionID()
	ocr := &stubOCR{extractions: []Extraction{
		{Confidence: 0.3}, {Confidence: 0.4}, {Confidence: 0.2},
	}}
	p, rec := newTestPipeline(t, ocr, &stubRegistry{}, Config{})

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Submit(context.Background(), frame(id)))
		rec.wait(t)
		p.Wait()
	}

	assert.Equal(t, []int{1, 2}, rec.recaptures)
	assert.Equal(t, []Status{StatusLowConfidence}, rec.outcomes)
}

func TestPipelineMismatchIsNotRetried(t *testing.T) {
	id := domain.NewSessionID()
	registry := &stubRegistry{decisions: []Decision{DecisionMismatch}}
	p, rec := newTestPipeline(t, &stubOCR{}, registry, Config{RegistryMaxRetries: 3})

	require.NoError(t, p.Submit(context.Background(), frame(id)))
	rec.wait(t)
	p.Wait()

	assert.Equal(t, []Status{StatusMismatched}, rec.outcomes)
	assert.Equal(t, 1, registry.callCount())
}

func TestPipelineTransientFailureRetriedThenMatches(t *testing.T) {
	id := domain.NewSessionID()
	registry := &stubRegistry{
		errs: []error{NewProviderError(ErrorTimeout, "registry", "verify", nil)},
	}
	p, rec := newTestPipeline(t, &stubOCR{}, registry,
		Config{RegistryMaxRetries: 2, RegistryBackoff: time.Millisecond})

	require.NoError(t, p.Submit(context.Background(), frame(id)))
	rec.wait(t)
	p.Wait()

	assert.Equal(t, []Status{StatusMatched}, rec.outcomes)
	assert.Equal(t, 2, registry.callCount())
}

func TestPipelineExhaustedRetriesReportUnavailable(t *testing.T) {
	id := domain.NewSessionID()
	outage := NewProviderError(ErrorProviderOutage, "registry", "verify", nil)
	registry := &stubRegistry{errs: []error{outage, outage, outage}}
	p, rec := newTestPipeline(t, &stubOCR{}, registry,
		Config{RegistryMaxRetries: 2, RegistryBackoff: time.Millisecond})

	require.NoError(t, p.Submit(context.Background(), frame(id)))
	rec.wait(t)
	p.Wait()

	assert.Equal(t, []Status{StatusUnavailable}, rec.outcomes)
	assert.Equal(t, 2, registry.callCount())
}

func TestPipelineRetryBudgetCountsEveryCall(t *testing.T) {
	id := domain.NewSessionID()
	timeout := NewProviderError(ErrorTimeout, "registry", "verify", nil)
	// A definitive answer only a third call would see; the budget of two
	// attempts means it is never reached.
	registry := &stubRegistry{
		errs:      []error{timeout, timeout},
		decisions: []Decision{"", "", DecisionMismatch},
	}
	p, rec := newTestPipeline(t, &stubOCR{}, registry,
		Config{RegistryMaxRetries: 2, RegistryBackoff: time.Millisecond})

	require.NoError(t, p.Submit(context.Background(), frame(id)))
	rec.wait(t)
	p.Wait()

	assert.Equal(t, []Status{StatusUnavailable}, rec.outcomes)
	assert.Equal(t, 2, registry.callCount())
}

func TestPipelineNonRetryableFailureStopsImmediately(t *testing.T) {
	id := domain.NewSessionID()
	registry := &stubRegistry{
		errs: []error{NewProviderError(ErrorAuthentication, "registry", "verify", nil)},
	}
	p, rec := newTestPipeline(t, &stubOCR{}, registry,
		Config{RegistryMaxRetries: 3, RegistryBackoff: time.Millisecond})

	require.NoError(t, p.Submit(context.Background(), frame(id)))
	rec.wait(t)
	p.Wait()

	assert.Equal(t, []Status{StatusUnavailable}, rec.outcomes)
	assert.Equal(t, 1, registry.callCount())
}

func TestPipelineRejectsDuplicateInFlight(t *testing.T) {
	id := domain.NewSessionID()
	blocked := make(chan struct{})
	ocr := &blockingOCR{release: blocked}
	p, _ := newTestPipeline(t, ocr, &stubRegistry{}, Config{})

	require.NoError(t, p.Submit(context.Background(), frame(id)))
	err := p.Submit(context.Background(), frame(id))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	close(blocked)
	p.Wait()
}

func TestPipelineRejectsSettledDocument(t *testing.T) {
	id := domain.NewSessionID()
	p, rec := newTestPipeline(t, &stubOCR{}, &stubRegistry{}, Config{})

	require.NoError(t, p.Submit(context.Background(), frame(id)))
	rec.wait(t)
	p.Wait()

	err := p.Submit(context.Background(), frame(id))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func TestPipelineCancelSessionSuppressesOutcome(t *testing.T) {
	id := domain.NewSessionID()
	blocked := make(chan struct{})
	ocr := &blockingOCR{release: blocked}
	p, rec := newTestPipeline(t, ocr, &stubRegistry{}, Config{})

	require.NoError(t, p.Submit(context.Background(), frame(id)))
	p.CancelSession(id)
	close(blocked)
	p.Wait()

	assert.Empty(t, rec.outcomes)
	assert.Empty(t, rec.recaptures)
}

type blockingOCR struct {
	release chan struct{}
}

func (b *blockingOCR) Extract(ctx context.Context, _ domain.DocumentType, _ []byte) (Extraction, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
		return Extraction{}, ctx.Err()
	}
	return Extraction{Confidence: 0.95, Fields: map[string]string{"id_number": "X123"}}, nil
}
