package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vkyc/internal/link"
	"vkyc/internal/platform/logger"
	"vkyc/internal/verification"
	"vkyc/pkg/domain"
	dErrors "vkyc/pkg/domain-errors"
)

type fakeVerifier struct {
	mu        sync.Mutex
	submitted []verification.CaptureFrame
	canceled  []domain.SessionID
}

func (f *fakeVerifier) Submit(_ context.Context, frame verification.CaptureFrame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, frame)
	return nil
}

func (f *fakeVerifier) CancelSession(id domain.SessionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, id)
}

type fakeResults struct {
	mu       sync.Mutex
	statuses map[domain.SessionID]map[domain.DocumentType]verification.Status
}

func (f *fakeResults) set(id domain.SessionID, doc domain.DocumentType, st verification.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statuses == nil {
		f.statuses = make(map[domain.SessionID]map[domain.DocumentType]verification.Status)
	}
	if f.statuses[id] == nil {
		f.statuses[id] = make(map[domain.DocumentType]verification.Status)
	}
	f.statuses[id][doc] = st
}

func (f *fakeResults) allMatched(id domain.SessionID) {
	for _, doc := range domain.RequiredDocuments() {
		f.set(id, doc, verification.StatusMatched)
	}
}

func (f *fakeResults) Statuses(_ context.Context, id domain.SessionID) (map[domain.DocumentType]verification.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[domain.DocumentType]verification.Status)
	for doc, st := range f.statuses[id] {
		out[doc] = st
	}
	return out, nil
}

type fakeRecorder struct {
	mu        sync.Mutex
	started   []domain.SessionID
	finalized []domain.SessionID
}

func (f *fakeRecorder) Start(id domain.SessionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, id)
}

func (f *fakeRecorder) Finalize(id domain.SessionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = append(f.finalized, id)
}

type fakeChannels struct {
	mu    sync.Mutex
	ended map[domain.SessionID]string
}

func (f *fakeChannels) SessionEnded(id domain.SessionID, category string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ended == nil {
		f.ended = make(map[domain.SessionID]string)
	}
	f.ended[id] = category
}

type engineFixture struct {
	engine   *Engine
	links    *link.Issuer
	verifier *fakeVerifier
	results  *fakeResults
	recorder *fakeRecorder
	channels *fakeChannels
	now      time.Time
	nowMu    sync.Mutex
}

func (f *engineFixture) clock() time.Time {
	f.nowMu.Lock()
	defer f.nowMu.Unlock()
	return f.now
}

func (f *engineFixture) advance(d time.Duration) {
	f.nowMu.Lock()
	defer f.nowMu.Unlock()
	f.now = f.now.Add(d)
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		verifier: &fakeVerifier{},
		results:  &fakeResults{},
		recorder: &fakeRecorder{},
		channels: &fakeChannels{},
		now:      time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	log := logger.New("error")
	f.links = link.NewIssuer(link.NewInMemoryStore(), "https://kyc.example.com", 24*time.Hour, log).
		WithClock(f.clock)
	f.engine = NewEngine(NewInMemoryStore(), f.links, f.verifier, f.results,
		f.recorder, 5*time.Minute, log, nil).
		WithClock(f.clock)
	f.engine.SetChannels(f.channels)
	return f
}

// newLink issues a link and returns its token.
func (f *engineFixture) newLink(t *testing.T) domain.LinkToken {
	t.Helper()
	l, err := f.links.Issue(context.Background(), domain.NewCustomerID())
	require.NoError(t, err)
	return l.Token
}

func (f *engineFixture) begun(t *testing.T) *Session {
	t.Helper()
	ctx := context.Background()
	sess, err := f.engine.Create(ctx, f.newLink(t))
	require.NoError(t, err)
	_, _, err = f.engine.ChooseMode(ctx, sess.ID, ModeImmediate, nil)
	require.NoError(t, err)
	sess, err = f.engine.Begin(ctx, sess.ID)
	require.NoError(t, err)
	return sess
}

func TestEngineHappyPath(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	sess := f.begun(t)
	assert.Equal(t, StateInProgress, sess.State)
	assert.NotNil(t, sess.StartedAt)
	assert.Equal(t, []domain.SessionID{sess.ID}, f.recorder.started)

	err := f.engine.RequestVerification(ctx, sess.ID, domain.DocumentPAN, []byte("img"), f.clock())
	require.NoError(t, err)
	sess, err = f.engine.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StateVerifying, sess.State)
	assert.Len(t, f.verifier.submitted, 1)

	f.results.allMatched(sess.ID)
	require.NoError(t, err)
	require.NoError(t, f.engine.Complete(ctx, sess.ID))

	sess, err = f.engine.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, sess.State)
	require.NotNil(t, sess.EndedAt)
	assert.Equal(t, "completed", f.channels.ended[sess.ID])
	assert.Equal(t, []domain.SessionID{sess.ID}, f.recorder.finalized)
}

func TestEngineCreateIsDuplicateGuarded(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	token := f.newLink(t)
	first, err := f.engine.Create(ctx, token)
	require.NoError(t, err)
	second, err := f.engine.Create(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestEngineCreateRejectsConsumedLink(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	sess := f.begun(t)
	require.NoError(t, f.engine.Fail(ctx, sess.ID, ReasonUserLeft))

	_, err := f.engine.Create(ctx, sess.LinkToken)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeLinkConsumed))
}

func TestEngineBeginIsIdempotent(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	sess := f.begun(t)
	started := *sess.StartedAt

	again, err := f.engine.Begin(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, again.State)
	assert.Equal(t, started, *again.StartedAt)
	assert.Len(t, f.recorder.started, 1)
}

func TestEngineBeginRequiresReadyToStart(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	sess, err := f.engine.Create(ctx, f.newLink(t))
	require.NoError(t, err)

	_, err = f.engine.Begin(ctx, sess.ID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func TestEngineScheduleIssuesFreshLink(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	sess, err := f.engine.Create(ctx, f.newLink(t))
	require.NoError(t, err)
	oldToken := sess.LinkToken

	at := f.clock().Add(2 * time.Hour)
	sess, fresh, err := f.engine.ChooseMode(ctx, sess.ID, ModeScheduled, &at)
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.Equal(t, StateScheduled, sess.State)
	assert.NotEqual(t, oldToken, sess.LinkToken)

	// The superseded link cannot begin anything anymore.
	err = f.links.Consume(ctx, oldToken)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeLinkConsumed))
}

func TestEngineScheduleRejectsPastTime(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	sess, err := f.engine.Create(ctx, f.newLink(t))
	require.NoError(t, err)

	at := f.clock().Add(-time.Minute)
	_, _, err = f.engine.ChooseMode(ctx, sess.ID, ModeScheduled, &at)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestEngineCompleteRequiresAllDocumentsMatched(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	sess := f.begun(t)
	require.NoError(t, f.engine.RequestVerification(ctx, sess.ID, domain.DocumentPAN, []byte("img"), f.clock()))
	f.results.set(sess.ID, domain.DocumentPAN, verification.StatusMatched)

	err := f.engine.Complete(ctx, sess.ID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeVerifyFailed))
}

func TestEngineFailSetsEndedAtExactlyOnce(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	sess := f.begun(t)
	require.NoError(t, f.engine.Fail(ctx, sess.ID, ReasonDisconnectTimeout))

	sess, err := f.engine.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, sess.EndedAt)
	ended := *sess.EndedAt

	f.advance(time.Minute)
	require.NoError(t, f.engine.Fail(ctx, sess.ID, ReasonUserLeft))

	sess, err = f.engine.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, ended, *sess.EndedAt)
	assert.Equal(t, ReasonDisconnectTimeout, sess.Reason)
	assert.Equal(t, []domain.SessionID{sess.ID}, f.verifier.canceled)
	assert.Equal(t, "disconnected", f.channels.ended[sess.ID])
}

func TestEngineVerificationOutcomeMismatchFailsSession(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	sess := f.begun(t)
	require.NoError(t, f.engine.RequestVerification(ctx, sess.ID, domain.DocumentPAN, []byte("img"), f.clock()))

	f.engine.HandleVerificationOutcome(ctx, sess.ID, domain.DocumentPAN, verification.StatusMismatched)

	sess, err := f.engine.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, sess.State)
	assert.Equal(t, ReasonRegistryMismatch, sess.Reason)
}

func TestEngineVerificationUnavailableKeepsSessionVerifying(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	sess := f.begun(t)
	require.NoError(t, f.engine.RequestVerification(ctx, sess.ID, domain.DocumentPAN, []byte("img"), f.clock()))

	f.engine.HandleVerificationOutcome(ctx, sess.ID, domain.DocumentPAN, verification.StatusUnavailable)

	sess, err := f.engine.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StateVerifying, sess.State)
	assert.Nil(t, sess.EndedAt)
}

func TestEngineCapReachedCompletesWhenAllMatched(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	sess := f.begun(t)
	require.NoError(t, f.engine.RequestVerification(ctx, sess.ID, domain.DocumentPAN, []byte("img"), f.clock()))
	f.results.allMatched(sess.ID)

	f.engine.HandleCapReached(ctx, sess.ID)

	sess, err := f.engine.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, sess.State)
}

func TestEngineCapReachedFailsWhenIncomplete(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	sess := f.begun(t)
	require.NoError(t, f.engine.RequestVerification(ctx, sess.ID, domain.DocumentPAN, []byte("img"), f.clock()))

	f.engine.HandleCapReached(ctx, sess.ID)

	sess, err := f.engine.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, sess.State)
	assert.Equal(t, ReasonVerificationIncomplete, sess.Reason)
}

func TestEngineRejectsCaptureWhenNotActive(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	sess := f.begun(t)
	require.NoError(t, f.engine.Fail(ctx, sess.ID, ReasonUserLeft))

	err := f.engine.RequestVerification(ctx, sess.ID, domain.DocumentPAN, []byte("img"), f.clock())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeSessionClosed))
}

func TestEngineSchedulerPromotesAndExpires(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	scheduled, err := f.engine.Create(ctx, f.newLink(t))
	require.NoError(t, err)
	at := f.clock().Add(time.Hour)
	_, _, err = f.engine.ChooseMode(ctx, scheduled.ID, ModeScheduled, &at)
	require.NoError(t, err)

	idle, err := f.engine.Create(ctx, f.newLink(t))
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	f.engine.sweep(ctx)

	got, err := f.engine.Get(ctx, scheduled.ID)
	require.NoError(t, err)
	assert.Equal(t, StateReadyToStart, got.State)

	// The idle session's 24h link is still valid.
	got, err = f.engine.Get(ctx, idle.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCreated, got.State)

	f.advance(23 * time.Hour)
	f.engine.sweep(ctx)

	got, err = f.engine.Get(ctx, idle.ID)
	require.NoError(t, err)
	assert.Equal(t, StateExpired, got.State)
	assert.Equal(t, ReasonLinkExpired, got.Reason)
	require.NotNil(t, got.EndedAt)
}

func TestEngineSchedulerFailsUnattendedSessions(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	sess := f.begun(t)
	f.advance(6 * time.Minute)
	f.engine.sweep(ctx)

	got, err := f.engine.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, ReasonWaitTimeout, got.Reason)
}

func TestEngineAssignedAgentStopsWaitTimeout(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	sess := f.begun(t)
	require.NoError(t, f.engine.AssignAgent(ctx, sess.ID, "EMP42"))

	f.advance(6 * time.Minute)
	f.engine.sweep(ctx)

	got, err := f.engine.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, got.State)
	assert.Equal(t, "EMP42", got.AgentID)
}

func TestEngineAssignAgentPreservesStartedAt(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	sess := f.begun(t)
	require.NotNil(t, sess.StartedAt)
	started := *sess.StartedAt

	f.advance(90 * time.Second)
	require.NoError(t, f.engine.AssignAgent(ctx, sess.ID, "EMP42"))

	got, err := f.engine.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.StartedAt)
	assert.Equal(t, started, *got.StartedAt)
}

func TestEngineAssignAgentRejectsTakeover(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	sess := f.begun(t)
	require.NoError(t, f.engine.AssignAgent(ctx, sess.ID, "EMP1"))

	err := f.engine.AssignAgent(ctx, sess.ID, "EMP2")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	// The holding agent may re-assert the claim.
	require.NoError(t, f.engine.AssignAgent(ctx, sess.ID, "EMP1"))

	got, err := f.engine.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "EMP1", got.AgentID)
}

func TestEngineReleasedAgentRestartsWaitClock(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	sess := f.begun(t)
	require.NoError(t, f.engine.AssignAgent(ctx, sess.ID, "EMP42"))

	f.advance(10 * time.Minute)
	require.NoError(t, f.engine.ReleaseAgent(ctx, sess.ID))
	f.engine.sweep(ctx)

	// The wait clock restarted on release, so the session is not timed out
	// yet despite the long attended stretch.
	got, err := f.engine.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, got.State)

	f.advance(6 * time.Minute)
	f.engine.sweep(ctx)

	got, err = f.engine.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, ReasonWaitTimeout, got.Reason)
}

func TestEngineRecoverOrphans(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	sess := f.begun(t)
	require.NoError(t, f.engine.RecoverOrphans(ctx))

	got, err := f.engine.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, ReasonProcessRestart, got.Reason)
}

func TestEngineWaitingListsUnassignedOnly(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	a := f.begun(t)
	b := f.begun(t)
	require.NoError(t, f.engine.AssignAgent(ctx, b.ID, "EMP42"))

	waiting, err := f.engine.Waiting(ctx)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, a.ID, waiting[0].ID)
}
