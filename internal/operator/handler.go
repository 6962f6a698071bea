// Package operator exposes the internal HTTP API the human-agent side
// uses to work tickets: list, inspect, reply and change status.
package operator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ironlady-tech/wati-support/internal/lifecycle"
	"github.com/ironlady-tech/wati-support/internal/ticket"
)

// TicketReader is the read-side store surface the API serves from.
type TicketReader interface {
	GetByID(ctx context.Context, id string) (*ticket.Ticket, error)
	List(ctx context.Context, filter ticket.ListFilter) ([]*ticket.Ticket, error)
	Transcript(ctx context.Context, ticketID string) ([]*ticket.Message, error)
}

// Lifecycle is the mutation surface, backed by the lifecycle manager.
type Lifecycle interface {
	AgentReply(ctx context.Context, ticketID, agentName, body string) (*ticket.Ticket, error)
	UpdateStatus(ctx context.Context, ticketID string, next ticket.Status, by, notes string) (*ticket.Ticket, error)
}

// Handler serves the operator API.
type Handler struct {
	tickets   TicketReader
	lifecycle Lifecycle
	logger    *slog.Logger
}

func NewHandler(tickets TicketReader, lc Lifecycle, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{tickets: tickets, lifecycle: lc, logger: logger}
}

// Routes mounts the handler under /tickets.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.listTickets)
	r.Get("/{id}", h.getTicket)
	r.Post("/{id}/reply", h.reply)
	r.Patch("/{id}", h.updateStatus)
	return r
}

func (h *Handler) listTickets(w http.ResponseWriter, r *http.Request) {
	filter := ticket.ListFilter{Limit: 50}
	if s := r.URL.Query().Get("status"); s != "" {
		filter.Status = ticket.Status(s)
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			filter.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	tickets, err := h.tickets.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list tickets failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list tickets")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"tickets": tickets, "count": len(tickets)})
}

func (h *Handler) getTicket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tkt, err := h.tickets.GetByID(r.Context(), id)
	if errors.Is(err, ticket.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "ticket not found")
		return
	}
	if err != nil {
		h.logger.Error("get ticket failed", "ticket_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to load ticket")
		return
	}
	transcript, err := h.tickets.Transcript(r.Context(), id)
	if err != nil {
		h.logger.Error("load transcript failed", "ticket_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"ticket": tkt, "transcript": transcript})
}

type replyRequest struct {
	Agent string `json:"agent"`
	Body  string `json:"body"`
}

func (h *Handler) reply(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Body == "" {
		h.writeError(w, http.StatusBadRequest, "reply body is required")
		return
	}
	if req.Agent == "" {
		req.Agent = "counsellor"
	}

	tkt, err := h.lifecycle.AgentReply(r.Context(), id, req.Agent, req.Body)
	switch {
	case errors.Is(err, ticket.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "ticket not found")
	case errors.Is(err, lifecycle.ErrTicketClosed):
		h.writeError(w, http.StatusConflict, "ticket is already resolved")
	case errors.Is(err, lifecycle.ErrReplyWindowClosed):
		h.writeError(w, http.StatusConflict, "24h reply window has closed")
	case errors.Is(err, lifecycle.ErrGatewaySend):
		h.logger.Error("agent reply gateway failure", "ticket_id", id, "error", err)
		h.writeError(w, http.StatusBadGateway, "message could not be delivered, please retry")
	case err != nil:
		h.logger.Error("agent reply failed", "ticket_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to send reply")
	default:
		h.writeJSON(w, http.StatusOK, map[string]any{"ticket": tkt})
	}
}

type statusRequest struct {
	Status ticket.Status `json:"status"`
	By     string        `json:"by"`
	Notes  string        `json:"notes"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	tkt, err := h.lifecycle.UpdateStatus(r.Context(), id, req.Status, req.By, req.Notes)
	switch {
	case errors.Is(err, ticket.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "ticket not found")
	case errors.Is(err, ticket.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, "status transition not allowed")
	case err != nil:
		h.logger.Error("status update failed", "ticket_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to update status")
	default:
		h.writeJSON(w, http.StatusOK, map[string]any{"ticket": tkt})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encode response failed", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
