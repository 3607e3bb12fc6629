package signaling

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"vkyc/pkg/domain"
	dErrors "vkyc/pkg/domain-errors"
	"vkyc/pkg/platform/httputil"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = 50 * time.Second
	// Captured frames arrive base64-encoded inline.
	maxMessageSize = 8 << 20
)

// Handler terminates the WebSocket endpoints and pumps frames between the
// sockets and the hub.
type Handler struct {
	hub     *Hub
	tickets *TicketService
	logger  *slog.Logger

	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, tickets *TicketService, logger *slog.Logger) *Handler {
	return &Handler{
		hub:     hub,
		tickets: tickets,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Register mounts the socket endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Get("/ws/vkyc/{sessionID}", h.customerSocket)
	r.Get("/ws/agent/{sessionID}", h.agentSocket)
}

// authorize validates the join ticket for the addressed session.
func (h *Handler) authorize(r *http.Request, role Role, sessionID domain.SessionID) (*TicketClaims, error) {
	claims, err := h.tickets.Validate(r.URL.Query().Get("ticket"))
	if err != nil {
		return nil, err
	}
	if claims.Role != string(role) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "ticket role mismatch")
	}
	if claims.SessionID != sessionID.String() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "ticket is for a different session")
	}
	return claims, nil
}

func (h *Handler) customerSocket(w http.ResponseWriter, r *http.Request) {
	sessionID, err := domain.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if _, err := h.authorize(r, RoleCustomer, sessionID); err != nil {
		httputil.WriteError(w, err)
		return
	}

	p, err := h.hub.AttachCustomer(r.Context(), sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.DetachCustomer(sessionID, p)
		return
	}

	go h.writePump(conn, p)
	h.readPump(conn, func(env Envelope) {
		h.hub.HandleCustomerMessage(r.Context(), sessionID, env)
	})
	h.hub.DetachCustomer(sessionID, p)
}

func (h *Handler) agentSocket(w http.ResponseWriter, r *http.Request) {
	sessionID, err := domain.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	claims, err := h.authorize(r, RoleAgent, sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	p, err := h.hub.AttachAgent(r.Context(), sessionID, claims.AgentID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.DetachAgent(sessionID, p)
		return
	}

	go h.writePump(conn, p)
	h.readPump(conn, func(env Envelope) {
		h.hub.HandleAgentMessage(r.Context(), sessionID, env)
	})
	h.hub.DetachAgent(sessionID, p)
}

// readPump reads frames until the connection drops. Liveness is enforced
// with pong deadlines paired with the writePump's pings.
func (h *Handler) readPump(conn *websocket.Conn, handle func(Envelope)) {
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
			continue
		}
		handle(env)
	}
}

// writePump drains the peer outbox to the socket in order and keeps the
// connection alive with pings. Closing the outbox ends the connection.
func (h *Handler) writePump(conn *websocket.Conn, p *peer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame, ok := <-p.Outbox():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
