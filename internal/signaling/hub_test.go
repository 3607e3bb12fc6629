package signaling

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vkyc/internal/biometric"
	"vkyc/internal/platform/logger"
	"vkyc/internal/session"
	"vkyc/pkg/domain"
)

type fakeSessions struct {
	mu        sync.Mutex
	active    map[domain.SessionID]bool
	assigned  map[domain.SessionID]string
	failed    map[domain.SessionID]session.Reason
	completed map[domain.SessionID]bool
	captures  []domain.DocumentType
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		active:    make(map[domain.SessionID]bool),
		assigned:  make(map[domain.SessionID]string),
		failed:    make(map[domain.SessionID]session.Reason),
		completed: make(map[domain.SessionID]bool),
	}
}

func (f *fakeSessions) Get(_ context.Context, id domain.SessionID) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := session.StateInProgress
	if !f.active[id] {
		state = session.StateFailed
	}
	return &session.Session{ID: id, State: state}, nil
}

func (f *fakeSessions) AssignAgent(_ context.Context, id domain.SessionID, employeeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assigned[id] = employeeID
	return nil
}

func (f *fakeSessions) ReleaseAgent(_ context.Context, id domain.SessionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.assigned, id)
	return nil
}

func (f *fakeSessions) Complete(_ context.Context, id domain.SessionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[id] = true
	return nil
}

func (f *fakeSessions) Fail(_ context.Context, id domain.SessionID, reason session.Reason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = reason
	f.active[id] = false
	return nil
}

func (f *fakeSessions) RequestVerification(_ context.Context, id domain.SessionID, doc domain.DocumentType, _ []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures = append(f.captures, doc)
	return nil
}

func (f *fakeSessions) failReason(id domain.SessionID) (session.Reason, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.failed[id]
	return r, ok
}

type fakeTelemetry struct {
	mu     sync.Mutex
	events []biometric.Event
	forgot []domain.SessionID
}

func (f *fakeTelemetry) Log(_ context.Context, e biometric.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakeTelemetry) ForgetSession(id domain.SessionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgot = append(f.forgot, id)
}

type fakeRecorder struct {
	mu     sync.Mutex
	chunks [][]byte
	total  time.Duration
}

func (f *fakeRecorder) AddChunk(_ domain.SessionID, data []byte, duration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, data)
	f.total += duration
	return nil
}

func newTestHub(grace time.Duration) (*Hub, *fakeSessions, *fakeTelemetry) {
	sessions := newFakeSessions()
	telemetry := &fakeTelemetry{}
	hub := NewHub(sessions, telemetry, &fakeRecorder{}, grace, logger.New("error"), nil)
	return hub, sessions, telemetry
}

func recvEnvelope(t *testing.T, p *peer) Envelope {
	t.Helper()
	select {
	case frame, ok := <-p.Outbox():
		require.True(t, ok, "outbox closed")
		var env Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		return env
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
		return Envelope{}
	}
}

func capturedFrame(t *testing.T, doc domain.DocumentType) Envelope {
	t.Helper()
	payload, err := json.Marshal(DocumentCapturedPayload{
		DocumentType: string(doc),
		ImageBase64:  base64.StdEncoding.EncodeToString([]byte("img")),
		CapturedAt:   time.Now(),
	})
	require.NoError(t, err)
	return Envelope{Type: TypeDocumentCaptured, Payload: payload}
}

func TestHubCaptureCommandRoundTrip(t *testing.T) {
	hub, sessions, _ := newTestHub(time.Minute)
	id := domain.NewSessionID()
	sessions.active[id] = true

	customer, err := hub.AttachCustomer(context.Background(), id)
	require.NoError(t, err)
	agent, err := hub.AttachAgent(context.Background(), id, "EMP1")
	require.NoError(t, err)
	recvEnvelope(t, customer) // peer_joined for the agent

	cmd, _ := json.Marshal(CapturePayload{DocumentType: "pan"})
	hub.HandleAgentMessage(context.Background(), id, Envelope{Type: TypeCaptureDocument, Payload: cmd})

	env := recvEnvelope(t, customer)
	assert.Equal(t, TypeCaptureDocument, env.Type)

	hub.HandleCustomerMessage(context.Background(), id, capturedFrame(t, domain.DocumentPAN))
	assert.Equal(t, []domain.DocumentType{domain.DocumentPAN}, sessions.captures)
	_ = agent
}

func TestHubRejectsUnrequestedFrame(t *testing.T) {
	hub, sessions, _ := newTestHub(time.Minute)
	id := domain.NewSessionID()
	sessions.active[id] = true

	customer, err := hub.AttachCustomer(context.Background(), id)
	require.NoError(t, err)

	hub.HandleCustomerMessage(context.Background(), id, capturedFrame(t, domain.DocumentPAN))

	env := recvEnvelope(t, customer)
	assert.Equal(t, TypeError, env.Type)
	assert.Empty(t, sessions.captures)
}

func TestHubRelaysWebRTCToOtherPeer(t *testing.T) {
	hub, sessions, _ := newTestHub(time.Minute)
	id := domain.NewSessionID()
	sessions.active[id] = true

	customer, err := hub.AttachCustomer(context.Background(), id)
	require.NoError(t, err)
	agent, err := hub.AttachAgent(context.Background(), id, "EMP1")
	require.NoError(t, err)
	recvEnvelope(t, customer) // peer_joined

	offer, _ := json.Marshal(map[string]string{"sdp": "v=0"})
	hub.HandleCustomerMessage(context.Background(), id, Envelope{Type: TypeWebRTCOffer, Payload: offer})

	env := recvEnvelope(t, agent)
	assert.Equal(t, TypeWebRTCOffer, env.Type)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(env.Payload))
}

func TestHubGracePeriodFailsSession(t *testing.T) {
	hub, sessions, _ := newTestHub(20 * time.Millisecond)
	id := domain.NewSessionID()
	sessions.active[id] = true

	customer, err := hub.AttachCustomer(context.Background(), id)
	require.NoError(t, err)
	hub.DetachCustomer(id, customer)

	require.Eventually(t, func() bool {
		reason, ok := sessions.failReason(id)
		return ok && reason == session.ReasonDisconnectTimeout
	}, time.Second, 5*time.Millisecond)
}

func TestHubReconnectWithinGraceKeepsSession(t *testing.T) {
	hub, sessions, _ := newTestHub(50 * time.Millisecond)
	id := domain.NewSessionID()
	sessions.active[id] = true

	customer, err := hub.AttachCustomer(context.Background(), id)
	require.NoError(t, err)
	hub.DetachCustomer(id, customer)

	_, err = hub.AttachCustomer(context.Background(), id)
	require.NoError(t, err)

	time.Sleep(120 * time.Millisecond)
	_, failed := sessions.failReason(id)
	assert.False(t, failed)
}

func TestHubAgentDetachReturnsSessionToWaiting(t *testing.T) {
	hub, sessions, _ := newTestHub(time.Minute)
	id := domain.NewSessionID()
	sessions.active[id] = true

	agent, err := hub.AttachAgent(context.Background(), id, "EMP1")
	require.NoError(t, err)
	assert.Equal(t, "EMP1", sessions.assigned[id])

	hub.DetachAgent(id, agent)

	sessions.mu.Lock()
	_, stillAssigned := sessions.assigned[id]
	sessions.mu.Unlock()
	assert.False(t, stillAssigned)
	_, failed := sessions.failReason(id)
	assert.False(t, failed)
}

func TestHubSessionEndedClosesPeersAndForgetsTelemetry(t *testing.T) {
	hub, sessions, telemetry := newTestHub(time.Minute)
	id := domain.NewSessionID()
	sessions.active[id] = true

	customer, err := hub.AttachCustomer(context.Background(), id)
	require.NoError(t, err)

	hub.SessionEnded(id, "completed")

	env := recvEnvelope(t, customer)
	assert.Equal(t, TypeSessionEnded, env.Type)

	_, open := <-customer.Outbox()
	assert.False(t, open)
	assert.Equal(t, []domain.SessionID{id}, telemetry.forgot)
}

func TestHubRecaptureRearmsPending(t *testing.T) {
	hub, sessions, _ := newTestHub(time.Minute)
	id := domain.NewSessionID()
	sessions.active[id] = true

	customer, err := hub.AttachCustomer(context.Background(), id)
	require.NoError(t, err)

	hub.RequestRecapture(id, domain.DocumentPAN, 1)

	env := recvEnvelope(t, customer)
	assert.Equal(t, TypeCaptureDocument, env.Type)
	var p CapturePayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, 2, p.Attempt)

	// The re-armed command lets the next frame through.
	hub.HandleCustomerMessage(context.Background(), id, capturedFrame(t, domain.DocumentPAN))
	assert.Equal(t, []domain.DocumentType{domain.DocumentPAN}, sessions.captures)
}

func TestHubCaptureCancelWithdrawsCommand(t *testing.T) {
	hub, sessions, _ := newTestHub(time.Minute)
	id := domain.NewSessionID()
	sessions.active[id] = true

	customer, err := hub.AttachCustomer(context.Background(), id)
	require.NoError(t, err)

	cmd, _ := json.Marshal(CapturePayload{DocumentType: "pan"})
	hub.HandleAgentMessage(context.Background(), id, Envelope{Type: TypeCaptureDocument, Payload: cmd})
	recvEnvelope(t, customer) // forwarded capture command

	hub.HandleAgentMessage(context.Background(), id, Envelope{Type: TypeCaptureCancel, Payload: cmd})
	env := recvEnvelope(t, customer)
	assert.Equal(t, TypeCaptureCancel, env.Type)

	// The canceled command no longer admits a frame.
	hub.HandleCustomerMessage(context.Background(), id, capturedFrame(t, domain.DocumentPAN))
	env = recvEnvelope(t, customer)
	assert.Equal(t, TypeError, env.Type)
	assert.Empty(t, sessions.captures)
}

func TestHubVideoChunksReachRecorder(t *testing.T) {
	sessions := newFakeSessions()
	recorder := &fakeRecorder{}
	hub := NewHub(sessions, &fakeTelemetry{}, recorder, time.Minute, logger.New("error"), nil)
	id := domain.NewSessionID()
	sessions.active[id] = true

	_, err := hub.AttachCustomer(context.Background(), id)
	require.NoError(t, err)

	payload, _ := json.Marshal(VideoChunkPayload{
		DataBase64: base64.StdEncoding.EncodeToString([]byte("chunk")),
		DurationMS: 2000,
	})
	hub.HandleCustomerMessage(context.Background(), id, Envelope{Type: TypeVideoChunk, Payload: payload})

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	require.Len(t, recorder.chunks, 1)
	assert.Equal(t, []byte("chunk"), recorder.chunks[0])
	assert.Equal(t, 2*time.Second, recorder.total)
}

func TestHubBiometricEventsReachSink(t *testing.T) {
	hub, sessions, telemetry := newTestHub(time.Minute)
	id := domain.NewSessionID()
	sessions.active[id] = true

	_, err := hub.AttachCustomer(context.Background(), id)
	require.NoError(t, err)

	payload, _ := json.Marshal(BiometricPayload{
		EventType:  "blink",
		CapturedAt: time.Now(),
		Data:       map[string]any{"count": float64(2)},
	})
	hub.HandleCustomerMessage(context.Background(), id, Envelope{Type: TypeBiometricEvent, Payload: payload})

	telemetry.mu.Lock()
	defer telemetry.mu.Unlock()
	require.Len(t, telemetry.events, 1)
	assert.Equal(t, biometric.EventBlink, telemetry.events[0].Type)
}
