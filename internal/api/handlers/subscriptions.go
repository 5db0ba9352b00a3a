// Package handlers contains the HTTP handler implementations for the
// LetterDrop API. Handlers depend on narrow, locally defined service
// interfaces for testability and to avoid coupling to concrete
// implementations.
package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"letterdrop/internal/core"
	"letterdrop/internal/types"
)

// SubscriptionService defines the subscription lifecycle operations used by
// the handler. Mirrors the concrete subscriptions.Service methods.
type SubscriptionService interface {
	Subscribe(ctx context.Context, email, name string) (*types.Subscriber, error)
	Confirm(ctx context.Context, token string) (types.ConfirmOutcome, error)
	ResendConfirmation(ctx context.Context, email string) error
}

// SubscriptionHandler serves the /subscriptions routes.
type SubscriptionHandler struct {
	service SubscriptionService
}

// NewSubscriptionHandler creates a SubscriptionHandler.
func NewSubscriptionHandler(service SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{service: service}
}

// RegisterRoutes mounts subscription routes on the provided chi.Router.
func (h *SubscriptionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/subscriptions", func(r chi.Router) {
		r.Post("/", h.Subscribe)
		r.Get("/confirm", h.Confirm)
		r.Post("/resend", h.Resend)
	})
}

// SubscribeRequest is the request body for POST /subscriptions.
type SubscribeRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// SubscribeResponse is the success payload for POST /subscriptions.
type SubscribeResponse struct {
	SubscriberID string `json:"subscriber_id"`
	Status       string `json:"status"`
}

// Subscribe handles POST /subscriptions. A new subscriber is created in
// pending state and a confirmation email is dispatched. Returns 201 on
// success, 409 if the email is already subscribed.
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	sub, err := h.service.Subscribe(r.Context(), req.Email, req.Name)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: SubscribeResponse{
		SubscriberID: sub.ID,
		Status:       string(sub.Status),
	}})
}

// ConfirmResponse is the success payload for GET /subscriptions/confirm.
type ConfirmResponse struct {
	Status string `json:"status"`
}

// Confirm handles GET /subscriptions/confirm?token=...
// The endpoint is idempotent: replaying a consumed token for a confirmed
// subscriber returns 200 with status "already_confirmed". Unknown tokens
// return 404.
func (h *SubscriptionHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	outcome, err := h.service.Confirm(r.Context(), token)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if outcome == types.OutcomeTokenNotFound {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeNotFoundToken,
			"confirmation token not found",
			nil,
		))
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: ConfirmResponse{
		Status: string(outcome),
	}})
}

// ResendRequest is the request body for POST /subscriptions/resend.
type ResendRequest struct {
	Email string `json:"email"`
}

// Resend handles POST /subscriptions/resend. It always returns 202 for
// well-formed requests, regardless of whether the email is subscribed, so
// the endpoint cannot be used to enumerate subscribers.
func (h *SubscriptionHandler) Resend(w http.ResponseWriter, r *http.Request) {
	var req ResendRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.service.ResendConfirmation(r.Context(), req.Email); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: map[string]string{
		"status": "accepted",
	}})
}
