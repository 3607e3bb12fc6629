package signaling

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"vkyc/internal/biometric"
	"vkyc/internal/session"
	"vkyc/internal/signaling/metrics"
	"vkyc/pkg/domain"
	dErrors "vkyc/pkg/domain-errors"
)

// SessionControl is the slice of the session engine the hub drives.
type SessionControl interface {
	Get(ctx context.Context, id domain.SessionID) (*session.Session, error)
	AssignAgent(ctx context.Context, id domain.SessionID, employeeID string) error
	ReleaseAgent(ctx context.Context, id domain.SessionID) error
	Complete(ctx context.Context, id domain.SessionID) error
	Fail(ctx context.Context, id domain.SessionID, reason session.Reason) error
	RequestVerification(ctx context.Context, id domain.SessionID, doc domain.DocumentType, image []byte, capturedAt time.Time) error
}

// TelemetrySink receives biometric events from customer connections.
type TelemetrySink interface {
	Log(ctx context.Context, event biometric.Event) error
	ForgetSession(id domain.SessionID)
}

// RecordingSink buffers the customer's media chunks.
type RecordingSink interface {
	AddChunk(id domain.SessionID, data []byte, duration time.Duration) error
}

// peer is one connected endpoint. The hub writes to Send; the transport
// layer drains it to the socket in order.
type peer struct {
	role Role
	send chan []byte
	// closeOnce guards the Send channel close.
	closeOnce sync.Once
}

func newPeer(role Role) *peer {
	return &peer{role: role, send: make(chan []byte, 64)}
}

// Outbox is the ordered stream of frames for this connection.
func (p *peer) Outbox() <-chan []byte { return p.send }

func (p *peer) close() {
	p.closeOnce.Do(func() { close(p.send) })
}

// deliver enqueues one frame, preserving per-connection order. A full
// outbox means the consumer stalled; the frame is dropped and the peer
// closed so the client reconnects cleanly.
func (p *peer) deliver(frame []byte) bool {
	select {
	case p.send <- frame:
		return true
	default:
		p.close()
		return false
	}
}

type room struct {
	customer *peer
	agent    *peer
	agentID  string
	// pendingCaptures holds document types the agent has requested but the
	// customer has not yet answered. A captured frame with no pending
	// request is rejected, which keeps command and frame causally paired.
	pendingCaptures map[domain.DocumentType]int
	graceTimer      *time.Timer
}

// Hub owns the per-session rooms. It is the only writer to room membership
// and pending-capture state.
type Hub struct {
	sessions  SessionControl
	telemetry TelemetrySink
	recorder  RecordingSink
	grace     time.Duration

	logger  *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	rooms map[domain.SessionID]*room
}

func NewHub(sessions SessionControl, telemetry TelemetrySink, recorder RecordingSink, grace time.Duration, logger *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		sessions:  sessions,
		telemetry: telemetry,
		recorder:  recorder,
		grace:     grace,
		logger:    logger,
		metrics:   m,
		rooms:     make(map[domain.SessionID]*room),
	}
}

func (h *Hub) roomLocked(id domain.SessionID) *room {
	r, ok := h.rooms[id]
	if !ok {
		r = &room{pendingCaptures: make(map[domain.DocumentType]int)}
		h.rooms[id] = r
	}
	return r
}

// AttachCustomer binds a customer connection to its session room. A
// reconnect replaces the previous connection and cancels the disconnect
// grace timer.
func (h *Hub) AttachCustomer(ctx context.Context, id domain.SessionID) (*peer, error) {
	sess, err := h.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.Active() {
		return nil, dErrors.New(dErrors.CodeSessionClosed, "session is not active")
	}

	p := newPeer(RoleCustomer)

	h.mu.Lock()
	r := h.roomLocked(id)
	if r.graceTimer != nil {
		r.graceTimer.Stop()
		r.graceTimer = nil
	}
	old := r.customer
	r.customer = p
	agent := r.agent
	h.mu.Unlock()

	if old != nil {
		old.close()
	}
	if agent != nil {
		agent.deliver(mustEnvelope(TypePeerJoined, map[string]string{"role": string(RoleCustomer)}))
	}
	h.markConnection(RoleCustomer, 1)
	return p, nil
}

// AttachAgent binds an agent connection to a session it has claimed.
func (h *Hub) AttachAgent(ctx context.Context, id domain.SessionID, agentID string) (*peer, error) {
	if err := h.sessions.AssignAgent(ctx, id, agentID); err != nil {
		return nil, err
	}

	p := newPeer(RoleAgent)

	h.mu.Lock()
	r := h.roomLocked(id)
	old := r.agent
	r.agent = p
	r.agentID = agentID
	customer := r.customer
	h.mu.Unlock()

	if old != nil {
		old.close()
	}
	if customer != nil {
		customer.deliver(mustEnvelope(TypePeerJoined, map[string]string{"role": string(RoleAgent)}))
	}
	h.markConnection(RoleAgent, 1)
	h.logger.InfoContext(ctx, "agent joined session", "session_id", id, "agent_id", agentID)
	return p, nil
}

// DetachCustomer handles a dropped customer connection. The session is not
// failed immediately: a grace timer gives the client time to reconnect.
func (h *Hub) DetachCustomer(id domain.SessionID, p *peer) {
	h.mu.Lock()
	r, ok := h.rooms[id]
	if !ok || r.customer != p {
		h.mu.Unlock()
		return
	}
	r.customer = nil
	agent := r.agent
	r.graceTimer = time.AfterFunc(h.grace, func() { h.graceExpired(id) })
	h.mu.Unlock()

	p.close()
	if agent != nil {
		agent.deliver(mustEnvelope(TypePeerLeft, map[string]string{"role": string(RoleCustomer)}))
	}
	h.markConnection(RoleCustomer, -1)
}

func (h *Hub) graceExpired(id domain.SessionID) {
	h.mu.Lock()
	r, ok := h.rooms[id]
	stillGone := ok && r.customer == nil
	h.mu.Unlock()
	if !stillGone {
		return
	}
	if h.metrics != nil {
		h.metrics.GraceTimeouts.Inc()
	}
	h.logger.Warn("customer did not reconnect within grace period", "session_id", id)
	_ = h.sessions.Fail(context.Background(), id, session.ReasonDisconnectTimeout)
}

// DetachAgent handles a dropped agent connection. The session goes back to
// the waiting pool rather than failing.
func (h *Hub) DetachAgent(id domain.SessionID, p *peer) {
	h.mu.Lock()
	r, ok := h.rooms[id]
	if !ok || r.agent != p {
		h.mu.Unlock()
		return
	}
	r.agent = nil
	r.agentID = ""
	customer := r.customer
	h.mu.Unlock()

	p.close()
	if customer != nil {
		customer.deliver(mustEnvelope(TypePeerLeft, map[string]string{"role": string(RoleAgent)}))
	}
	_ = h.sessions.ReleaseAgent(context.Background(), id)
	h.markConnection(RoleAgent, -1)
}

// HandleCustomerMessage processes one frame from the customer connection.
func (h *Hub) HandleCustomerMessage(ctx context.Context, id domain.SessionID, env Envelope) {
	h.markMessage(env.Type)
	switch env.Type {
	case TypeWebRTCOffer, TypeWebRTCAnswer, TypeWebRTCICE:
		h.relay(id, RoleAgent, env)
	case TypeDocumentCaptured:
		h.handleDocumentCaptured(ctx, id, env.Payload)
	case TypeBiometricEvent:
		h.handleBiometric(ctx, id, env.Payload)
	case TypeVideoChunk:
		h.handleVideoChunk(id, env.Payload)
	case TypeLeave:
		_ = h.sessions.Fail(ctx, id, session.ReasonUserLeft)
	case TypeHeartbeat:
		// Liveness is tracked at the socket layer via pong deadlines.
	default:
		h.reject(id, RoleCustomer, dErrors.New(dErrors.CodeBadRequest, "unknown message type"))
	}
}

// HandleAgentMessage processes one frame from the agent connection.
func (h *Hub) HandleAgentMessage(ctx context.Context, id domain.SessionID, env Envelope) {
	h.markMessage(env.Type)
	switch env.Type {
	case TypeWebRTCOffer, TypeWebRTCAnswer, TypeWebRTCICE:
		h.relay(id, RoleCustomer, env)
	case TypeCaptureDocument:
		h.handleCaptureCommand(id, env.Payload)
	case TypeCaptureCancel:
		h.handleCaptureCancel(id, env.Payload)
	case TypeKYCComplete:
		if err := h.sessions.Complete(ctx, id); err != nil {
			h.reject(id, RoleAgent, err)
		}
	case TypeKYCReject:
		_ = h.sessions.Fail(ctx, id, session.ReasonVerificationFailed)
	case TypeHeartbeat:
	default:
		h.reject(id, RoleAgent, dErrors.New(dErrors.CodeBadRequest, "unknown message type"))
	}
}

// relay forwards a WebRTC negotiation frame verbatim to the other peer.
func (h *Hub) relay(id domain.SessionID, to Role, env Envelope) {
	h.mu.Lock()
	r, ok := h.rooms[id]
	var target *peer
	if ok {
		if to == RoleAgent {
			target = r.agent
		} else {
			target = r.customer
		}
	}
	h.mu.Unlock()

	if target == nil {
		return
	}
	frame, _ := json.Marshal(env)
	target.deliver(frame)
}

// handleCaptureCommand records the pending capture and forwards the command
// to the customer.
func (h *Hub) handleCaptureCommand(id domain.SessionID, payload json.RawMessage) {
	var p CapturePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.reject(id, RoleAgent, dErrors.New(dErrors.CodeInvalidInput, "malformed capture command"))
		return
	}
	doc, err := domain.ParseDocumentType(p.DocumentType)
	if err != nil {
		h.reject(id, RoleAgent, err)
		return
	}

	h.mu.Lock()
	r := h.roomLocked(id)
	r.pendingCaptures[doc]++
	customer := r.customer
	h.mu.Unlock()

	if customer != nil {
		customer.deliver(mustEnvelope(TypeCaptureDocument, CapturePayload{DocumentType: string(doc)}))
	}
}

// handleCaptureCancel withdraws one outstanding capture command. A frame
// the customer sends afterwards is rejected like any unrequested frame.
func (h *Hub) handleCaptureCancel(id domain.SessionID, payload json.RawMessage) {
	var p CapturePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.reject(id, RoleAgent, dErrors.New(dErrors.CodeInvalidInput, "malformed cancel command"))
		return
	}
	doc, err := domain.ParseDocumentType(p.DocumentType)
	if err != nil {
		h.reject(id, RoleAgent, err)
		return
	}

	h.mu.Lock()
	r := h.roomLocked(id)
	if r.pendingCaptures[doc] > 0 {
		r.pendingCaptures[doc]--
	}
	customer := r.customer
	h.mu.Unlock()

	if customer != nil {
		customer.deliver(mustEnvelope(TypeCaptureCancel, CapturePayload{DocumentType: string(doc)}))
	}
}

// handleDocumentCaptured pairs the frame with its pending capture command
// and hands it to the session engine. A frame with no outstanding command
// is rejected, preserving command/frame causality.
func (h *Hub) handleDocumentCaptured(ctx context.Context, id domain.SessionID, payload json.RawMessage) {
	var p DocumentCapturedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.reject(id, RoleCustomer, dErrors.New(dErrors.CodeInvalidInput, "malformed captured frame"))
		return
	}
	if err := p.Validate(); err != nil {
		h.reject(id, RoleCustomer, err)
		return
	}
	doc, err := domain.ParseDocumentType(p.DocumentType)
	if err != nil {
		h.reject(id, RoleCustomer, err)
		return
	}

	h.mu.Lock()
	r := h.roomLocked(id)
	if r.pendingCaptures[doc] == 0 {
		h.mu.Unlock()
		h.reject(id, RoleCustomer, dErrors.New(dErrors.CodeConflict, "no capture was requested for this document"))
		return
	}
	r.pendingCaptures[doc]--
	h.mu.Unlock()

	image, err := base64.StdEncoding.DecodeString(p.ImageBase64)
	if err != nil {
		h.reject(id, RoleCustomer, dErrors.New(dErrors.CodeInvalidInput, "image is not valid base64"))
		return
	}
	if err := h.sessions.RequestVerification(ctx, id, doc, image, p.CapturedAt); err != nil {
		h.reject(id, RoleCustomer, err)
	}
}

func (h *Hub) handleBiometric(ctx context.Context, id domain.SessionID, payload json.RawMessage) {
	var p BiometricPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.reject(id, RoleCustomer, dErrors.New(dErrors.CodeInvalidInput, "malformed telemetry event"))
		return
	}
	if err := p.Validate(); err != nil {
		h.reject(id, RoleCustomer, err)
		return
	}
	eventType, ok := biometric.ParseEventType(p.EventType)
	if !ok {
		h.reject(id, RoleCustomer, dErrors.New(dErrors.CodeInvalidInput, "unknown telemetry event type"))
		return
	}
	err := h.telemetry.Log(ctx, biometric.Event{
		SessionID:  id,
		Type:       eventType,
		CapturedAt: p.CapturedAt,
		Payload:    p.Data,
	})
	if err != nil {
		h.reject(id, RoleCustomer, err)
	}
}

func (h *Hub) handleVideoChunk(id domain.SessionID, payload json.RawMessage) {
	var p VideoChunkPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.reject(id, RoleCustomer, dErrors.New(dErrors.CodeInvalidInput, "malformed video chunk"))
		return
	}
	if err := p.Validate(); err != nil {
		h.reject(id, RoleCustomer, err)
		return
	}
	data, err := base64.StdEncoding.DecodeString(p.DataBase64)
	if err != nil {
		h.reject(id, RoleCustomer, dErrors.New(dErrors.CodeInvalidInput, "chunk is not valid base64"))
		return
	}
	if err := h.recorder.AddChunk(id, data, time.Duration(p.DurationMS)*time.Millisecond); err != nil {
		h.reject(id, RoleCustomer, err)
	}
}

// NotifyVerification pushes a per-document outcome to both peers.
func (h *Hub) NotifyVerification(id domain.SessionID, doc domain.DocumentType, status string) {
	frame := mustEnvelope(TypeVerificationResult, VerificationResultPayload{
		DocumentType: string(doc),
		Status:       status,
	})
	h.broadcast(id, frame)
}

// RequestRecapture re-arms the pending capture and asks the customer for
// another frame.
func (h *Hub) RequestRecapture(id domain.SessionID, doc domain.DocumentType, attempt int) {
	h.mu.Lock()
	r := h.roomLocked(id)
	r.pendingCaptures[doc]++
	customer := r.customer
	h.mu.Unlock()

	if customer != nil {
		customer.deliver(mustEnvelope(TypeCaptureDocument, CapturePayload{
			DocumentType: string(doc),
			Attempt:      attempt + 1,
		}))
	}
}

// SessionEnded tears down the room on a terminal session transition. Both
// peers receive the coarse outcome category before their outboxes close.
func (h *Hub) SessionEnded(id domain.SessionID, category string) {
	h.mu.Lock()
	r, ok := h.rooms[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.rooms, id)
	if r.graceTimer != nil {
		r.graceTimer.Stop()
	}
	customer, agent := r.customer, r.agent
	h.mu.Unlock()

	frame := mustEnvelope(TypeSessionEnded, SessionEndedPayload{Category: category})
	for _, p := range []*peer{customer, agent} {
		if p != nil {
			p.deliver(frame)
			p.close()
		}
	}
	h.telemetry.ForgetSession(id)
}

func (h *Hub) broadcast(id domain.SessionID, frame []byte) {
	h.mu.Lock()
	r, ok := h.rooms[id]
	var customer, agent *peer
	if ok {
		customer, agent = r.customer, r.agent
	}
	h.mu.Unlock()

	for _, p := range []*peer{customer, agent} {
		if p != nil {
			p.deliver(frame)
		}
	}
}

// reject reports a refused message back to its sender.
func (h *Hub) reject(id domain.SessionID, to Role, err error) {
	if h.metrics != nil {
		h.metrics.Rejected.Inc()
	}
	frame := mustEnvelope(TypeError, ErrorPayload{
		Code:    string(dErrors.CodeOf(err)),
		Message: err.Error(),
	})
	h.mu.Lock()
	r, ok := h.rooms[id]
	var target *peer
	if ok {
		if to == RoleAgent {
			target = r.agent
		} else {
			target = r.customer
		}
	}
	h.mu.Unlock()
	if target != nil {
		target.deliver(frame)
	}
}

func (h *Hub) markConnection(role Role, delta float64) {
	if h.metrics != nil {
		h.metrics.Connections.WithLabelValues(string(role)).Add(delta)
	}
}

func (h *Hub) markMessage(msgType string) {
	if h.metrics != nil {
		h.metrics.Messages.WithLabelValues(msgType).Inc()
	}
}
