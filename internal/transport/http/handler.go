// Package http exposes the REST surface of the service: customer and link
// management, session lifecycle operations, the agent console endpoints,
// and ICE configuration.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vkyc/internal/agent"
	"vkyc/internal/biometric"
	"vkyc/internal/customer"
	"vkyc/internal/link"
	"vkyc/internal/platform/middleware"
	"vkyc/internal/recording"
	"vkyc/internal/session"
	"vkyc/internal/signaling"
	"vkyc/internal/verification"
	"vkyc/pkg/domain"
	"vkyc/pkg/platform/httputil"
)

// SessionEngine is the slice of the session engine used by the REST layer.
type SessionEngine interface {
	Create(ctx context.Context, token domain.LinkToken) (*session.Session, error)
	ChooseMode(ctx context.Context, id domain.SessionID, mode session.Mode, scheduledAt *time.Time) (*session.Session, *link.VerificationLink, error)
	Begin(ctx context.Context, id domain.SessionID) (*session.Session, error)
	Get(ctx context.Context, id domain.SessionID) (*session.Session, error)
	Waiting(ctx context.Context) ([]*session.Session, error)
}

// VerificationReader exposes stored per-document results.
type VerificationReader interface {
	Results(ctx context.Context, id domain.SessionID) ([]*verification.Result, error)
}

// TelemetryReader exposes the stored biometric trail.
type TelemetryReader interface {
	BySession(ctx context.Context, id domain.SessionID) ([]biometric.Event, error)
}

// RecordingReader exposes recording metadata.
type RecordingReader interface {
	Find(ctx context.Context, id domain.SessionID) (*recording.Recording, error)
}

// AgentDirectory records console operators on claim.
type AgentDirectory interface {
	Touch(ctx context.Context, employeeID, name string, at time.Time) (*agent.Agent, error)
}

// ICEServer is one TURN/STUN entry handed to clients.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Handler serves the REST API.
type Handler struct {
	customers  customer.Store
	links      *link.Issuer
	engine     SessionEngine
	results    VerificationReader
	telemetry  TelemetryReader
	recordings RecordingReader
	agents     AgentDirectory
	tickets    *signaling.TicketService

	wsBaseURL  string
	iceServers []ICEServer

	logger *slog.Logger
	clock  func() time.Time
}

// Deps bundles the handler's collaborators.
type Deps struct {
	Customers  customer.Store
	Links      *link.Issuer
	Engine     SessionEngine
	Results    VerificationReader
	Telemetry  TelemetryReader
	Recordings RecordingReader
	Agents     AgentDirectory
	Tickets    *signaling.TicketService
	WSBaseURL  string
	ICEServers []ICEServer
	Logger     *slog.Logger
}

func New(d Deps) *Handler {
	return &Handler{
		customers:  d.Customers,
		links:      d.Links,
		engine:     d.Engine,
		results:    d.Results,
		telemetry:  d.Telemetry,
		recordings: d.Recordings,
		agents:     d.Agents,
		tickets:    d.Tickets,
		wsBaseURL:  d.WSBaseURL,
		iceServers: d.ICEServers,
		logger:     d.Logger,
		clock:      time.Now,
	}
}

// Register mounts the API routes.
func (h *Handler) Register(r chi.Router) {
	api := chi.NewRouter()
	api.Use(middleware.Recovery(h.logger))
	api.Use(middleware.RequestID)
	api.Use(middleware.Logger(h.logger))
	api.Use(middleware.Timeout(30 * time.Second))

	api.Post("/customers", h.handleCreateCustomer)
	api.Get("/vkyc/{token}", h.handleResolveLink)
	api.Post("/vkyc/schedule", h.handleSchedule)
	api.Post("/vkyc/start", h.handleStart)
	api.Get("/sessions/{id}", h.handleSessionDetail)
	api.Get("/sessions/waiting", h.handleWaitingSessions)
	api.Post("/sessions/{id}/claim", h.handleClaimSession)
	api.Get("/turn-credentials", h.handleTURNCredentials)

	r.Mount("/api", api)
}

func (h *Handler) handleTURNCredentials(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"ice_servers": h.iceServers})
}
