package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"letterdrop/internal/core"
	"letterdrop/internal/types"
)

// idempotencyKeyHeader carries the client-supplied publish idempotency key.
const idempotencyKeyHeader = "Idempotency-Key"

// PublishService defines the issue publication operation used by the handler.
// Mirrors the concrete publish.Service.
type PublishService interface {
	Publish(ctx context.Context, draft types.IssueDraft, idempotencyKey string) (*types.PublishResult, error)
}

// IssueHandler serves the /issues routes.
type IssueHandler struct {
	service PublishService
}

// NewIssueHandler creates an IssueHandler.
func NewIssueHandler(service PublishService) *IssueHandler {
	return &IssueHandler{service: service}
}

// RegisterRoutes mounts issue routes on the provided chi.Router.
func (h *IssueHandler) RegisterRoutes(r chi.Router) {
	r.Route("/issues", func(r chi.Router) {
		r.Post("/", h.Publish)
	})
}

// PublishRequest is the request body for POST /issues.
type PublishRequest struct {
	Title    string `json:"title"`
	BodyHTML string `json:"body_html"`
	BodyText string `json:"body_text"`
}

// PublishResponse is the success payload for POST /issues.
type PublishResponse struct {
	IssueID       string `json:"issue_id"`
	TasksEnqueued int64  `json:"tasks_enqueued"`
	Deduplicated  bool   `json:"deduplicated"`
}

// Publish handles POST /issues. The Idempotency-Key header is required;
// replaying a key returns the stored response of the original publish
// rather than fanning out a second time. Returns 202 once the issue and its
// delivery tasks are durably enqueued.
func (h *IssueHandler) Publish(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(idempotencyKeyHeader)

	var req PublishRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	draft := types.IssueDraft{
		Title:    req.Title,
		BodyHTML: req.BodyHTML,
		BodyText: req.BodyText,
	}

	result, err := h.service.Publish(r.Context(), draft, key)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: PublishResponse{
		IssueID:       result.IssueID,
		TasksEnqueued: result.TasksEnqueued,
		Deduplicated:  result.Deduplicated,
	}})
}
