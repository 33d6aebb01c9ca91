// internal/controller/broadcast_controller.go
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/unclebandit/mailblast-backend/internal/httputil"
	"github.com/unclebandit/mailblast-backend/internal/model"
)

// BroadcastService is the part of service.BroadcastService the controller uses.
type BroadcastService interface {
	Send(ctx context.Context, msg model.Message) (*model.DispatchResult, error)
	Enqueue(ctx context.Context, msg model.Message) (*model.BroadcastJob, error)
	GetJob(ctx context.Context, id string) (*model.BroadcastJob, error)
}

type BroadcastController struct {
	Service BroadcastService
	Log     *logrus.Entry
}

type sendEmailResponse struct {
	Message string                `json:"message"`
	Results *model.DispatchResult `json:"results"`
}

type enqueueResponse struct {
	ID    string         `json:"id"`
	State model.JobState `json:"state"`
}

// SendEmail broadcasts the message to every recipient and waits for the tally.
func (c *BroadcastController) SendEmail(w http.ResponseWriter, r *http.Request) {
	var msg model.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		httputil.BadRequest(w, "invalid body")
		return
	}

	result, err := c.Service.Send(r.Context(), msg)
	if err != nil {
		httputil.FromError(w, err, c.Log)
		return
	}

	httputil.OK(w, sendEmailResponse{
		Message: fmt.Sprintf("Email sending completed. %d sent, %d failed.", result.Sent, result.Failed),
		Results: result,
	})
}

// CreateBroadcast queues the message and returns the job to poll.
func (c *BroadcastController) CreateBroadcast(w http.ResponseWriter, r *http.Request) {
	var msg model.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		httputil.BadRequest(w, "invalid body")
		return
	}

	job, err := c.Service.Enqueue(r.Context(), msg)
	if err != nil {
		httputil.FromError(w, err, c.Log)
		return
	}

	w.Header().Set("Location", "/api/broadcasts/"+job.ID)
	httputil.JSON(w, http.StatusAccepted, enqueueResponse{ID: job.ID, State: job.State})
}

func (c *BroadcastController) GetBroadcast(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := c.Service.GetJob(r.Context(), id)
	if err != nil {
		httputil.FromError(w, err, c.Log)
		return
	}
	// the body can be large and the caller already has it
	resp := *job
	resp.HTMLContent = ""
	httputil.OK(w, resp)
}
