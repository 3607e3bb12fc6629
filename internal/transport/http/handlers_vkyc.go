package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"vkyc/internal/customer"
	"vkyc/internal/session"
	"vkyc/pkg/domain"
	dErrors "vkyc/pkg/domain-errors"
	"vkyc/pkg/platform/httputil"
)

type createCustomerRequest struct {
	Name   string `json:"name"`
	Mobile string `json:"mobile"`
	Email  string `json:"email,omitempty"`
}

type createCustomerResponse struct {
	CustomerID string    `json:"customer_id"`
	Link       string    `json:"verification_link"`
	ExpiresAt  time.Time `json:"link_expires_at"`
}

// handleCreateCustomer registers a customer and hands back their
// verification link. Delivery of the link is the caller's concern.
func (h *Handler) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req createCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "name is required"))
		return
	}
	mobile, err := customer.NormalizeMobile(req.Mobile)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	c := &customer.Customer{
		ID:        domain.NewCustomerID(),
		Name:      strings.TrimSpace(req.Name),
		Mobile:    mobile,
		Email:     strings.TrimSpace(req.Email),
		CreatedAt: h.clock(),
	}
	if err := h.customers.Create(r.Context(), c); err != nil {
		h.logger.ErrorContext(r.Context(), "create customer", "error", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "could not create customer"))
		return
	}

	l, err := h.links.Issue(r.Context(), c.ID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "issue link", "error", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "could not issue link"))
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, createCustomerResponse{
		CustomerID: c.ID.String(),
		Link:       h.links.URL(l.Token),
		ExpiresAt:  l.ExpiresAt,
	})
}

type resolveLinkResponse struct {
	SessionID string   `json:"session_id"`
	State     string   `json:"state"`
	Modes     []string `json:"modes"`
}

// handleResolveLink is the landing call when a customer opens their link:
// it creates (or returns the existing) session and offers the mode choice.
func (h *Handler) handleResolveLink(w http.ResponseWriter, r *http.Request) {
	token := domain.LinkToken(chi.URLParam(r, "token"))

	sess, err := h.engine.Create(r.Context(), token)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, resolveLinkResponse{
		SessionID: sess.ID.String(),
		State:     string(sess.State),
		Modes:     []string{string(session.ModeImmediate), string(session.ModeScheduled)},
	})
}

type scheduleRequest struct {
	SessionID   string    `json:"session_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

type scheduleResponse struct {
	SessionID   string    `json:"session_id"`
	State       string    `json:"state"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Link        string    `json:"verification_link"`
	ExpiresAt   time.Time `json:"link_expires_at"`
}

func (h *Handler) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	id, err := domain.ParseSessionID(req.SessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	sess, fresh, err := h.engine.ChooseMode(r.Context(), id, session.ModeScheduled, &req.ScheduledAt)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, scheduleResponse{
		SessionID:   sess.ID.String(),
		State:       string(sess.State),
		ScheduledAt: *sess.ScheduledAt,
		Link:        h.links.URL(fresh.Token),
		ExpiresAt:   fresh.ExpiresAt,
	})
}

type startRequest struct {
	SessionID string `json:"session_id"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	WSURL     string `json:"ws_url"`
	Ticket    string `json:"ticket"`
}

// handleStart moves an immediate-mode session into the call and returns the
// customer's websocket coordinates. Also used to join a scheduled session
// whose time has come.
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	id, err := domain.ParseSessionID(req.SessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	sess, err := h.engine.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if sess.State == session.StateCreated {
		if sess, _, err = h.engine.ChooseMode(r.Context(), id, session.ModeImmediate, nil); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	sess, err = h.engine.Begin(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	ticket, err := h.tickets.IssueCustomer(sess.ID.String())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "issue join ticket", "error", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "could not issue join ticket"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, startResponse{
		SessionID: sess.ID.String(),
		State:     string(sess.State),
		WSURL:     fmt.Sprintf("%s/ws/vkyc/%s", h.wsBaseURL, sess.ID),
		Ticket:    ticket,
	})
}
