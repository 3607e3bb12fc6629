package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vkyc/internal/link"
	"vkyc/internal/session/metrics"
	"vkyc/internal/verification"
	"vkyc/pkg/domain"
	dErrors "vkyc/pkg/domain-errors"
	"vkyc/pkg/platform/sentinel"
)

// Verifier is the slice of the verification pipeline the engine drives.
type Verifier interface {
	Submit(ctx context.Context, frame verification.CaptureFrame) error
	CancelSession(id domain.SessionID)
}

// ResultReader exposes per-document verification status snapshots.
type ResultReader interface {
	Statuses(ctx context.Context, id domain.SessionID) (map[domain.DocumentType]verification.Status, error)
}

// RecordingControl is the slice of the recording manager the engine drives.
type RecordingControl interface {
	Start(id domain.SessionID)
	Finalize(id domain.SessionID)
}

// ChannelControl lets the engine tear down a session's signaling channel on
// terminal transitions. The channel layer reports the coarse category only;
// internal reason codes stay in the audit trail.
type ChannelControl interface {
	SessionEnded(id domain.SessionID, category string)
}

// Engine is the session state machine. It is the single writer for Session
// records: every mutation happens inside the per-session lock.
type Engine struct {
	store    Store
	links    *link.Issuer
	verifier Verifier
	results  ResultReader
	recorder RecordingControl
	channels ChannelControl
	required []domain.DocumentType

	waitTimeout time.Duration

	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   func() time.Time

	mu    sync.Mutex
	locks map[domain.SessionID]*sync.Mutex
}

// NewEngine builds the session engine. ChannelControl is attached later via
// SetChannels because the signaling hub needs the engine to authorize
// messages.
func NewEngine(
	store Store,
	links *link.Issuer,
	verifier Verifier,
	results ResultReader,
	recorder RecordingControl,
	waitTimeout time.Duration,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Engine {
	return &Engine{
		store:       store,
		links:       links,
		verifier:    verifier,
		results:     results,
		recorder:    recorder,
		required:    domain.RequiredDocuments(),
		waitTimeout: waitTimeout,
		logger:      logger,
		metrics:     m,
		clock:       time.Now,
		locks:       make(map[domain.SessionID]*sync.Mutex),
	}
}

// SetChannels attaches the signaling hub once it exists.
func (e *Engine) SetChannels(c ChannelControl) { e.channels = c }

// WithClock overrides the time source for tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// lockFor returns the per-session mutex, creating it on first use. Locks
// are never removed; terminal sessions stop being written shortly after.
func (e *Engine) lockFor(id domain.SessionID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// Create validates the link and returns a session in the created state. If
// the customer already has a live session, that session is returned instead
// so a re-clicked link never spawns a duplicate.
func (e *Engine) Create(ctx context.Context, token domain.LinkToken) (*Session, error) {
	l, err := e.links.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	existing, err := e.store.FindActiveByCustomer(ctx, l.CustomerID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, fmt.Errorf("duplicate-session guard: %w", err)
	}

	if l.Consumed {
		return nil, dErrors.New(dErrors.CodeLinkConsumed, "verification link already used")
	}

	sess := &Session{
		ID:            domain.NewSessionID(),
		CustomerID:    l.CustomerID,
		LinkToken:     token,
		LinkExpiresAt: l.ExpiresAt,
		State:         StateCreated,
		CreatedAt:     e.clock(),
	}
	if err := e.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	e.markTransition(StateCreated)
	e.logger.InfoContext(ctx, "session created",
		"session_id", sess.ID, "customer_id", sess.CustomerID)
	return sess, nil
}

// ChooseMode selects immediate or scheduled execution. Scheduling issues a
// fresh link for the scheduled occurrence; the old link is superseded and
// can no longer begin a session. The new link, if any, is returned so the
// transport layer can hand it to the notification collaborator.
func (e *Engine) ChooseMode(ctx context.Context, id domain.SessionID, mode Mode, scheduledAt *time.Time) (*Session, *link.VerificationLink, error) {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := e.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	switch mode {
	case ModeImmediate:
		if err := e.transition(ctx, sess, StateReadyToStart); err != nil {
			return nil, nil, err
		}
		sess.Mode = ModeImmediate
	case ModeScheduled:
		if scheduledAt == nil || !scheduledAt.After(e.clock()) {
			return nil, nil, dErrors.New(dErrors.CodeInvalidInput, "scheduled time must be in the future")
		}
		if err := e.transition(ctx, sess, StateScheduled); err != nil {
			return nil, nil, err
		}
		fresh, err := e.links.Issue(ctx, sess.CustomerID)
		if err != nil {
			return nil, nil, err
		}
		// The superseded link must not begin a session later.
		if err := e.links.Consume(ctx, sess.LinkToken); err != nil && !dErrors.HasCode(err, dErrors.CodeLinkConsumed) {
			return nil, nil, err
		}
		sess.Mode = ModeScheduled
		sess.ScheduledAt = scheduledAt
		sess.LinkToken = fresh.Token
		sess.LinkExpiresAt = fresh.ExpiresAt
		if err := e.save(ctx, sess); err != nil {
			return nil, nil, err
		}
		return sess, fresh, nil
	default:
		return nil, nil, dErrors.New(dErrors.CodeInvalidInput, "unknown session mode")
	}

	if err := e.save(ctx, sess); err != nil {
		return nil, nil, err
	}
	return sess, nil, nil
}

// Begin consumes the link, stamps started-at, and moves the session to
// in-progress. Repeating Begin on a session already in progress is a no-op
// so retransmitted start requests never spawn anything.
func (e *Engine) Begin(ctx context.Context, id domain.SessionID) (*Session, error) {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.State == StateInProgress || sess.State == StateVerifying {
		return sess, nil
	}
	if sess.State != StateReadyToStart {
		return nil, dErrors.New(dErrors.CodeInvalidState,
			fmt.Sprintf("cannot begin session from state %s", sess.State))
	}

	if err := e.links.Consume(ctx, sess.LinkToken); err != nil {
		return nil, err
	}
	now := e.clock()
	if sess.StartedAt == nil {
		sess.StartedAt = &now
	}
	sess.WaitingSince = &now
	if err := e.transition(ctx, sess, StateInProgress); err != nil {
		return nil, err
	}
	if err := e.save(ctx, sess); err != nil {
		return nil, err
	}
	e.adjustActive(1)
	e.recorder.Start(sess.ID)
	e.logger.InfoContext(ctx, "session begun", "session_id", sess.ID)
	return sess, nil
}

// RequestVerification accepts a captured document frame. The first capture
// moves the session to verifying; the frame itself is handed to the
// pipeline for async processing, so this returns as soon as the frame is
// accepted.
func (e *Engine) RequestVerification(ctx context.Context, id domain.SessionID, doc domain.DocumentType, image []byte, capturedAt time.Time) error {
	lock := e.lockFor(id)
	lock.Lock()

	sess, err := e.load(ctx, id)
	if err != nil {
		lock.Unlock()
		return err
	}
	if !sess.Active() {
		lock.Unlock()
		return dErrors.New(dErrors.CodeSessionClosed, "session is not active")
	}
	if sess.State == StateInProgress {
		if err := e.transition(ctx, sess, StateVerifying); err != nil {
			lock.Unlock()
			return err
		}
		if err := e.save(ctx, sess); err != nil {
			lock.Unlock()
			return err
		}
	}
	lock.Unlock()

	return e.verifier.Submit(ctx, verification.CaptureFrame{
		SessionID:  id,
		Document:   doc,
		Image:      image,
		CapturedAt: capturedAt,
	})
}

// HandleVerificationOutcome is the pipeline's completion callback.
func (e *Engine) HandleVerificationOutcome(ctx context.Context, id domain.SessionID, doc domain.DocumentType, status verification.Status) {
	switch status {
	case verification.StatusMatched:
		e.logger.InfoContext(ctx, "document verified",
			"session_id", id, "document", doc)
	case verification.StatusLowConfidence:
		e.fail(ctx, id, ReasonVerificationFailed)
	case verification.StatusMismatched:
		e.fail(ctx, id, ReasonRegistryMismatch)
	case verification.StatusUnavailable:
		// Registry unreachable is not fatal: the session stays in
		// verifying for the manual-review path.
		e.logger.WarnContext(ctx, "registry unavailable, session held for manual review",
			"session_id", id, "document", doc)
	}
}

// Complete finishes the session once every required document has a matched
// verification result.
func (e *Engine) Complete(ctx context.Context, id domain.SessionID) error {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	if sess.State == StateCompleted {
		return nil
	}
	if sess.State != StateVerifying {
		return dErrors.New(dErrors.CodeInvalidState,
			fmt.Sprintf("cannot complete session from state %s", sess.State))
	}

	ok, err := e.allMatched(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return dErrors.New(dErrors.CodeVerifyFailed, "required documents are not all verified")
	}

	if err := e.transition(ctx, sess, StateCompleted); err != nil {
		return err
	}
	e.stampEnded(sess, ReasonNone)
	if err := e.save(ctx, sess); err != nil {
		return err
	}
	e.finishSideEffects(ctx, sess)
	return nil
}

// Fail terminates the session from any non-terminal state with a reason
// code. Failing an already-terminal session is a no-op.
func (e *Engine) Fail(ctx context.Context, id domain.SessionID, reason Reason) error {
	return e.fail(ctx, id, reason)
}

func (e *Engine) fail(ctx context.Context, id domain.SessionID, reason Reason) error {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	if sess.State.Terminal() {
		return nil
	}
	if err := e.transition(ctx, sess, StateFailed); err != nil {
		return err
	}
	e.stampEnded(sess, reason)
	if err := e.save(ctx, sess); err != nil {
		return err
	}
	e.logger.WarnContext(ctx, "session failed",
		"session_id", sess.ID, "reason", reason)
	e.finishSideEffects(ctx, sess)
	return nil
}

// Expire terminates a session whose link lapsed before beginSession.
func (e *Engine) Expire(ctx context.Context, id domain.SessionID) error {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	if sess.State == StateExpired {
		return nil
	}
	if err := e.transition(ctx, sess, StateExpired); err != nil {
		return err
	}
	e.stampEnded(sess, ReasonLinkExpired)
	if err := e.save(ctx, sess); err != nil {
		return err
	}
	e.finishSideEffects(ctx, sess)
	return nil
}

// AssignAgent records the agent attached to an in-progress session. A
// session already held by a different agent cannot be taken over.
func (e *Engine) AssignAgent(ctx context.Context, id domain.SessionID, employeeID string) error {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	if !sess.Active() {
		return dErrors.New(dErrors.CodeSessionClosed, "session is not active")
	}
	if sess.AgentID != "" && sess.AgentID != employeeID {
		return dErrors.New(dErrors.CodeConflict, "session already claimed by another agent")
	}
	sess.AgentID = employeeID
	sess.WaitingSince = nil
	return e.save(ctx, sess)
}

// ReleaseAgent detaches the agent, returning the session to the waiting
// pool without changing lifecycle state. The wait clock restarts.
func (e *Engine) ReleaseAgent(ctx context.Context, id domain.SessionID) error {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	sess.AgentID = ""
	now := e.clock()
	sess.WaitingSince = &now
	return e.save(ctx, sess)
}

// Get returns a snapshot of the session.
func (e *Engine) Get(ctx context.Context, id domain.SessionID) (*Session, error) {
	return e.load(ctx, id)
}

// Waiting lists in-progress sessions that have no agent yet.
func (e *Engine) Waiting(ctx context.Context) ([]*Session, error) {
	sessions, err := e.store.ListByState(ctx, StateInProgress)
	if err != nil {
		return nil, err
	}
	var out []*Session
	for _, s := range sessions {
		if s.AgentID == "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// HandleCapReached reacts to the recording duration cap: complete if every
// required document already matched, otherwise fail with
// verification_incomplete.
func (e *Engine) HandleCapReached(ctx context.Context, id domain.SessionID) {
	if e.metrics != nil {
		e.metrics.CapReachedTotal.Inc()
	}

	sess, err := e.load(ctx, id)
	if err != nil || sess.State.Terminal() {
		return
	}
	ok, err := e.allMatched(ctx, id)
	if err == nil && ok && sess.State == StateVerifying {
		if err := e.Complete(ctx, id); err == nil {
			return
		}
	}
	_ = e.fail(ctx, id, ReasonVerificationIncomplete)
}

// RunCapWatcher consumes recording cap events until ctx is done.
func (e *Engine) RunCapWatcher(ctx context.Context, events <-chan domain.SessionID) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id, ok := <-events:
			if !ok {
				return nil
			}
			e.HandleCapReached(ctx, id)
		}
	}
}

// RunScheduler drives the wall-clock transitions: promoting scheduled
// sessions whose time has come, expiring lapsed links, and timing out
// sessions stuck waiting for an agent.
func (e *Engine) RunScheduler(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

func (e *Engine) sweep(ctx context.Context) {
	now := e.clock()

	scheduled, err := e.store.ListByState(ctx, StateScheduled)
	if err == nil {
		for _, sess := range scheduled {
			if sess.ScheduledAt != nil && !now.Before(*sess.ScheduledAt) {
				e.promote(ctx, sess.ID)
			}
		}
	}

	pending, err := e.store.ListByState(ctx, StateCreated, StateScheduled)
	if err == nil {
		for _, sess := range pending {
			if !now.Before(sess.LinkExpiresAt) {
				_ = e.Expire(ctx, sess.ID)
			}
		}
	}

	waiting, err := e.Waiting(ctx)
	if err == nil {
		for _, sess := range waiting {
			if sess.WaitingSince != nil && now.Sub(*sess.WaitingSince) > e.waitTimeout {
				_ = e.fail(ctx, sess.ID, ReasonWaitTimeout)
			}
		}
	}
}

func (e *Engine) promote(ctx context.Context, id domain.SessionID) {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := e.load(ctx, id)
	if err != nil || sess.State != StateScheduled {
		return
	}
	if err := e.transition(ctx, sess, StateReadyToStart); err != nil {
		return
	}
	_ = e.save(ctx, sess)
}

// RecoverOrphans fails sessions left mid-call by a process restart. Called
// once at startup before the signaling hub accepts connections.
func (e *Engine) RecoverOrphans(ctx context.Context) error {
	orphans, err := e.store.ListByState(ctx, StateInProgress, StateVerifying)
	if err != nil {
		return err
	}
	for _, sess := range orphans {
		if err := e.fail(ctx, sess.ID, ReasonProcessRestart); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) allMatched(ctx context.Context, id domain.SessionID) (bool, error) {
	statuses, err := e.results.Statuses(ctx, id)
	if err != nil {
		return false, err
	}
	for _, doc := range e.required {
		if statuses[doc] != verification.StatusMatched {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) load(ctx context.Context, id domain.SessionID) (*Session, error) {
	sess, err := e.store.FindByID(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}

func (e *Engine) save(ctx context.Context, sess *Session) error {
	if err := e.store.Update(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// transition applies a state change in memory, enforcing the edge table.
// Identical target states are a no-op.
func (e *Engine) transition(_ context.Context, sess *Session, to State) error {
	if sess.State == to {
		return nil
	}
	if !CanTransition(sess.State, to) {
		return dErrors.New(dErrors.CodeInvalidState,
			fmt.Sprintf("illegal transition %s -> %s", sess.State, to))
	}
	sess.State = to
	e.markTransition(to)
	return nil
}

// stampEnded sets ended-at exactly once, on the terminal transition.
func (e *Engine) stampEnded(sess *Session, reason Reason) {
	if sess.EndedAt == nil {
		now := e.clock()
		sess.EndedAt = &now
	}
	sess.Reason = reason
	if e.metrics != nil {
		e.metrics.Terminations.WithLabelValues(string(sess.State), string(reason)).Inc()
	}
}

func (e *Engine) markTransition(to State) {
	if e.metrics != nil {
		e.metrics.Transitions.WithLabelValues(string(to)).Inc()
	}
}

func (e *Engine) adjustActive(delta float64) {
	if e.metrics != nil {
		e.metrics.ActiveSessions.Add(delta)
	}
}

// finishSideEffects runs the teardown fan-out after a terminal transition
// has been persisted: cancel in-flight verification, finalize the
// recording, and close the signaling channel.
func (e *Engine) finishSideEffects(ctx context.Context, sess *Session) {
	e.verifier.CancelSession(sess.ID)
	if sess.StartedAt != nil {
		e.adjustActive(-1)
		e.recorder.Finalize(sess.ID)
	}
	if e.channels != nil {
		e.channels.SessionEnded(sess.ID, sess.Reason.Category())
	}
	_ = ctx
}
