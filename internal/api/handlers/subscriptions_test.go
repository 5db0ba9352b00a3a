package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letterdrop/internal/core"
	"letterdrop/internal/types"
)

// mockSubscriptionService implements SubscriptionService with func fields.
type mockSubscriptionService struct {
	subscribeFn func(ctx context.Context, email, name string) (*types.Subscriber, error)
	confirmFn   func(ctx context.Context, token string) (types.ConfirmOutcome, error)
	resendFn    func(ctx context.Context, email string) error
}

func (m *mockSubscriptionService) Subscribe(ctx context.Context, email, name string) (*types.Subscriber, error) {
	if m.subscribeFn != nil {
		return m.subscribeFn(ctx, email, name)
	}
	return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "not configured", nil)
}

func (m *mockSubscriptionService) Confirm(ctx context.Context, token string) (types.ConfirmOutcome, error) {
	if m.confirmFn != nil {
		return m.confirmFn(ctx, token)
	}
	return types.OutcomeTokenNotFound, nil
}

func (m *mockSubscriptionService) ResendConfirmation(ctx context.Context, email string) error {
	if m.resendFn != nil {
		return m.resendFn(ctx, email)
	}
	return nil
}

func newSubscriptionRouter(svc SubscriptionService) *chi.Mux {
	r := chi.NewRouter()
	NewSubscriptionHandler(svc).RegisterRoutes(r)
	return r
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) core.APIErrorResponse {
	t.Helper()
	var body core.APIErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestSubscribe_Success(t *testing.T) {
	var gotEmail, gotName string
	svc := &mockSubscriptionService{
		subscribeFn: func(ctx context.Context, email, name string) (*types.Subscriber, error) {
			gotEmail, gotName = email, name
			return &types.Subscriber{
				ID:     "sub_123",
				Email:  email,
				Name:   name,
				Status: types.SubscriberPending,
			}, nil
		},
	}
	router := newSubscriptionRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/subscriptions",
		strings.NewReader(`{"email":"ada@example.com","name":"Ada"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "ada@example.com", gotEmail)
	assert.Equal(t, "Ada", gotName)

	var body struct {
		Data SubscribeResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "sub_123", body.Data.SubscriberID)
	assert.Equal(t, string(types.SubscriberPending), body.Data.Status)
}

func TestSubscribe_DuplicateEmail(t *testing.T) {
	svc := &mockSubscriptionService{
		subscribeFn: func(ctx context.Context, email, name string) (*types.Subscriber, error) {
			return nil, types.NewAppError(types.ErrCodeConflictEmail, "email already subscribed", nil)
		},
	}
	router := newSubscriptionRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/subscriptions",
		strings.NewReader(`{"email":"ada@example.com"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeErrorBody(t, rec)
	assert.Equal(t, string(types.ErrCodeConflictEmail), body.Error.Code)
}

func TestSubscribe_InvalidJSON(t *testing.T) {
	router := newSubscriptionRouter(&mockSubscriptionService{})

	req := httptest.NewRequest(http.MethodPost, "/subscriptions",
		strings.NewReader(`{"email":`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorBody(t, rec)
	assert.Equal(t, string(types.ErrCodeValidationInvalidJSON), body.Error.Code)
}

func TestSubscribe_UnknownField(t *testing.T) {
	router := newSubscriptionRouter(&mockSubscriptionService{})

	req := httptest.NewRequest(http.MethodPost, "/subscriptions",
		strings.NewReader(`{"email":"a@b.com","admin":true}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfirm_Confirmed(t *testing.T) {
	var gotToken string
	svc := &mockSubscriptionService{
		confirmFn: func(ctx context.Context, token string) (types.ConfirmOutcome, error) {
			gotToken = token
			return types.OutcomeConfirmed, nil
		},
	}
	router := newSubscriptionRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/subscriptions/confirm?token=tok_abc", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tok_abc", gotToken)

	var body struct {
		Data ConfirmResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "confirmed", body.Data.Status)
}

func TestConfirm_Replay(t *testing.T) {
	svc := &mockSubscriptionService{
		confirmFn: func(ctx context.Context, token string) (types.ConfirmOutcome, error) {
			return types.OutcomeAlreadyConfirmed, nil
		},
	}
	router := newSubscriptionRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/subscriptions/confirm?token=tok_abc", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data ConfirmResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "already_confirmed", body.Data.Status)
}

func TestConfirm_UnknownToken(t *testing.T) {
	svc := &mockSubscriptionService{
		confirmFn: func(ctx context.Context, token string) (types.ConfirmOutcome, error) {
			return types.OutcomeTokenNotFound, nil
		},
	}
	router := newSubscriptionRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/subscriptions/confirm?token=tok_missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeErrorBody(t, rec)
	assert.Equal(t, string(types.ErrCodeNotFoundToken), body.Error.Code)
}

func TestConfirm_MissingToken(t *testing.T) {
	svc := &mockSubscriptionService{
		confirmFn: func(ctx context.Context, token string) (types.ConfirmOutcome, error) {
			return types.OutcomeTokenNotFound, types.NewAppError(
				types.ErrCodeValidationMissingField, "token is required", nil)
		},
	}
	router := newSubscriptionRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/subscriptions/confirm", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResend_AlwaysAccepted(t *testing.T) {
	var gotEmail string
	svc := &mockSubscriptionService{
		resendFn: func(ctx context.Context, email string) error {
			gotEmail = email
			return nil
		},
	}
	router := newSubscriptionRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/subscriptions/resend",
		strings.NewReader(`{"email":"nobody@example.com"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "nobody@example.com", gotEmail)
}

func TestResend_ServiceError(t *testing.T) {
	svc := &mockSubscriptionService{
		resendFn: func(ctx context.Context, email string) error {
			return types.NewAppError(types.ErrCodeInternalDB, "database unavailable", nil)
		},
	}
	router := newSubscriptionRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/subscriptions/resend",
		strings.NewReader(`{"email":"a@b.com"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
