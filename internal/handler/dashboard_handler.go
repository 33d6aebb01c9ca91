// internal/handler/dashboard_handler.go
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/unclebandit/mailblast-backend/internal/httputil"
	"github.com/unclebandit/mailblast-backend/internal/model"
	"github.com/unclebandit/mailblast-backend/internal/repository"
)

type StatsProvider interface {
	DashboardStats(ctx context.Context) (*model.DashboardStats, error)
}

type RecipientService interface {
	ListRecipients(ctx context.Context) ([]model.Recipient, error)
	CreateRecipient(ctx context.Context, in model.NewRecipient) (*model.Recipient, error)
}

// DashboardHandler serves the read side used by the operator UI plus
// recipient registration and delivery log corrections.
type DashboardHandler struct {
	Logs       repository.DeliveryLogRepositoryInterface
	Stats      StatsProvider
	Recipients RecipientService
	Log        *logrus.Entry
}

// ListEmailLogs returns every delivery log entry, newest first.
func (h *DashboardHandler) ListEmailLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Logs.ListAll(r.Context())
	if err != nil {
		httputil.FromError(w, err, h.Log)
		return
	}
	httputil.OK(w, entries)
}

type statusUpdate struct {
	Status       model.DeliveryStatus `json:"status"`
	ErrorMessage *string              `json:"error_message"`
}

// UpdateEmailLogStatus corrects the status of a log entry. Unknown ids are
// accepted and change nothing.
func (h *DashboardHandler) UpdateEmailLogStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body statusUpdate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.BadRequest(w, "invalid body")
		return
	}
	if !body.Status.Valid() {
		httputil.BadRequest(w, "status must be one of sent, failed, pending")
		return
	}

	if err := h.Logs.UpdateStatus(r.Context(), id, body.Status, body.ErrorMessage); err != nil {
		httputil.FromError(w, err, h.Log)
		return
	}

	h.Log.WithFields(logrus.Fields{"log_id": id, "status": body.Status}).Info("delivery log status corrected")
	w.WriteHeader(http.StatusNoContent)
}

func (h *DashboardHandler) DashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Stats.DashboardStats(r.Context())
	if err != nil {
		httputil.FromError(w, err, h.Log)
		return
	}
	httputil.OK(w, stats)
}

func (h *DashboardHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	recipients, err := h.Recipients.ListRecipients(r.Context())
	if err != nil {
		httputil.FromError(w, err, h.Log)
		return
	}
	httputil.OK(w, recipients)
}

func (h *DashboardHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var body model.NewRecipient
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.BadRequest(w, "invalid body")
		return
	}

	rec, err := h.Recipients.CreateRecipient(r.Context(), body)
	if err != nil {
		httputil.FromError(w, err, h.Log)
		return
	}
	httputil.JSON(w, http.StatusCreated, rec)
}
