package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vkyc/internal/agent"
	"vkyc/internal/session"
	"vkyc/pkg/domain"
	dErrors "vkyc/pkg/domain-errors"
	"vkyc/pkg/platform/httputil"
	"vkyc/pkg/platform/sentinel"
)

type sessionView struct {
	ID          string     `json:"id"`
	CustomerID  string     `json:"customer_id"`
	Mode        string     `json:"mode,omitempty"`
	State       string     `json:"state"`
	AgentID     string     `json:"agent_id,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Outcome     string     `json:"outcome,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toSessionView(s *session.Session) sessionView {
	v := sessionView{
		ID:          s.ID.String(),
		CustomerID:  s.CustomerID.String(),
		Mode:        string(s.Mode),
		State:       string(s.State),
		AgentID:     s.AgentID,
		ScheduledAt: s.ScheduledAt,
		StartedAt:   s.StartedAt,
		EndedAt:     s.EndedAt,
		CreatedAt:   s.CreatedAt,
	}
	if s.State.Terminal() {
		// External callers see the coarse category, never the internal
		// reason code.
		v.Outcome = s.Reason.Category()
	}
	return v
}

type documentView struct {
	DocumentType string    `json:"document_type"`
	Status       string    `json:"status"`
	Confidence   float64   `json:"confidence"`
	Attempts     int       `json:"attempts"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type telemetryView struct {
	Type       string         `json:"type"`
	CapturedAt time.Time      `json:"captured_at"`
	Data       map[string]any `json:"data,omitempty"`
}

type recordingView struct {
	Status    string `json:"status"`
	Duration  string `json:"duration"`
	ObjectKey string `json:"object_key,omitempty"`
}

type sessionDetailResponse struct {
	Session   sessionView     `json:"session"`
	Documents []documentView  `json:"documents"`
	Telemetry []telemetryView `json:"telemetry"`
	Recording *recordingView  `json:"recording,omitempty"`
}

// handleSessionDetail returns the session with its verification and
// telemetry audit trail.
func (h *Handler) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseSessionID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	sess, err := h.engine.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp := sessionDetailResponse{Session: toSessionView(sess)}

	results, err := h.results.Results(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "load verification results", "error", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "could not load audit trail"))
		return
	}
	for _, res := range results {
		resp.Documents = append(resp.Documents, documentView{
			DocumentType: string(res.Document),
			Status:       string(res.Status),
			Confidence:   res.Confidence,
			Attempts:     res.Attempts,
			UpdatedAt:    res.UpdatedAt,
		})
	}

	events, err := h.telemetry.BySession(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "load telemetry", "error", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "could not load audit trail"))
		return
	}
	for _, e := range events {
		resp.Telemetry = append(resp.Telemetry, telemetryView{
			Type:       string(e.Type),
			CapturedAt: e.CapturedAt,
			Data:       e.Payload,
		})
	}

	rec, err := h.recordings.Find(r.Context(), id)
	switch {
	case err == nil:
		resp.Recording = &recordingView{
			Status:    string(rec.Status),
			Duration:  rec.Duration.String(),
			ObjectKey: rec.ObjectKey,
		}
	case !errors.Is(err, sentinel.ErrNotFound):
		h.logger.ErrorContext(r.Context(), "load recording", "error", err)
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

// handleWaitingSessions lists in-progress sessions with no agent attached.
func (h *Handler) handleWaitingSessions(w http.ResponseWriter, r *http.Request) {
	waiting, err := h.engine.Waiting(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list waiting sessions", "error", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "could not list sessions"))
		return
	}
	views := make([]sessionView, 0, len(waiting))
	for _, s := range waiting {
		views = append(views, toSessionView(s))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

type claimRequest struct {
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name,omitempty"`
}

type claimResponse struct {
	SessionID string `json:"session_id"`
	WSURL     string `json:"ws_url"`
	Ticket    string `json:"ticket"`
}

// handleClaimSession lets an agent claim a waiting session. The actual
// attach happens when the returned websocket ticket is used.
func (h *Handler) handleClaimSession(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseSessionID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	employeeID, err := agent.NormalizeEmployeeID(req.EmployeeID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	sess, err := h.engine.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !sess.Active() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeSessionClosed, "session is not active"))
		return
	}
	if sess.AgentID != "" && sess.AgentID != employeeID {
		httputil.WriteError(w, dErrors.New(dErrors.CodeConflict, "session already claimed by another agent"))
		return
	}

	if _, err := h.agents.Touch(r.Context(), employeeID, req.Name, h.clock()); err != nil {
		h.logger.ErrorContext(r.Context(), "record agent", "error", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "could not record agent"))
		return
	}

	ticket, err := h.tickets.IssueAgent(employeeID, sess.ID.String())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "issue agent ticket", "error", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "could not issue ticket"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, claimResponse{
		SessionID: sess.ID.String(),
		WSURL:     fmt.Sprintf("%s/ws/agent/%s", h.wsBaseURL, sess.ID),
		Ticket:    ticket,
	})
}
