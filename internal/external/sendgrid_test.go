package external

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"letterdrop/internal/types"
)

// newSendGridTestClient points a SendGridClient at the given test server
// with retries disabled and no real sleeps.
func newSendGridTestClient(t *testing.T, serverURL string) *SendGridClient {
	t.Helper()
	base := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"sendgrid-test",
		RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: time.Millisecond},
		"LetterDrop-Test/1.0",
		WithSleepFunc(noopSleep),
	)
	return NewSendGridClientWithBase(base, SendGridClientConfig{
		APIKey:  "SG.test-key",
		BaseURL: serverURL,
	})
}

func sendGridTestInput() types.SendInput {
	return types.SendInput{
		To: "reader@example.com",
		From: types.EmailAddress{
			Name:    "LetterDrop Digest",
			Address: "digest@letterdrop.io",
		},
		Subject:     "Issue #42",
		BodyHTML:    "<p>Hello</p>",
		BodyText:    "Hello",
		ReferenceID: "task_001",
	}
}

func TestSendGridSend_Success(t *testing.T) {
	var capturedBody []byte
	var capturedAuth string
	var capturedPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedBody, _ = io.ReadAll(r.Body)
		capturedAuth = r.Header.Get("Authorization")
		capturedPath = r.URL.Path
		w.Header().Set("X-Message-Id", "sg-msg-xyz")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := newSendGridTestClient(t, server.URL)

	msgID, err := client.Send(context.Background(), sendGridTestInput())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if msgID != "sg-msg-xyz" {
		t.Errorf("message ID = %q, want sg-msg-xyz", msgID)
	}

	if capturedPath != "/v3/mail/send" {
		t.Errorf("path = %q, want /v3/mail/send", capturedPath)
	}
	if capturedAuth != "Bearer SG.test-key" {
		t.Errorf("authorization = %q", capturedAuth)
	}

	var payload sendGridMailPayload
	if err := json.Unmarshal(capturedBody, &payload); err != nil {
		t.Fatalf("failed to parse captured payload: %v", err)
	}
	if payload.Subject != "Issue #42" {
		t.Errorf("subject = %q", payload.Subject)
	}
	if payload.From.Email != "digest@letterdrop.io" || payload.From.Name != "LetterDrop Digest" {
		t.Errorf("unexpected from: %+v", payload.From)
	}
	if len(payload.Personalizations) != 1 || len(payload.Personalizations[0].To) != 1 ||
		payload.Personalizations[0].To[0].Email != "reader@example.com" {
		t.Errorf("unexpected personalizations: %+v", payload.Personalizations)
	}
	if len(payload.Content) != 2 {
		t.Fatalf("expected 2 content parts, got %d", len(payload.Content))
	}
	// text/plain must precede text/html.
	if payload.Content[0].Type != "text/plain" || payload.Content[0].Value != "Hello" {
		t.Errorf("unexpected first content part: %+v", payload.Content[0])
	}
	if payload.Content[1].Type != "text/html" || payload.Content[1].Value != "<p>Hello</p>" {
		t.Errorf("unexpected second content part: %+v", payload.Content[1])
	}
	if payload.CustomArgs["reference_id"] != "task_001" {
		t.Errorf("unexpected custom args: %v", payload.CustomArgs)
	}
}

func TestSendGridSend_NoReferenceIDOmitsCustomArgs(t *testing.T) {
	var capturedBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := newSendGridTestClient(t, server.URL)

	input := sendGridTestInput()
	input.ReferenceID = ""

	if _, err := client.Send(context.Background(), input); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(capturedBody, &raw); err != nil {
		t.Fatalf("failed to parse payload: %v", err)
	}
	if _, ok := raw["custom_args"]; ok {
		t.Error("expected custom_args to be omitted")
	}
}

func TestSendGridSend_TextOnlyContent(t *testing.T) {
	var capturedBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := newSendGridTestClient(t, server.URL)

	input := sendGridTestInput()
	input.BodyHTML = ""

	if _, err := client.Send(context.Background(), input); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	var payload sendGridMailPayload
	if err := json.Unmarshal(capturedBody, &payload); err != nil {
		t.Fatalf("failed to parse payload: %v", err)
	}
	if len(payload.Content) != 1 || payload.Content[0].Type != "text/plain" {
		t.Errorf("unexpected content: %+v", payload.Content)
	}
}

func TestSendGridSend_ForbiddenMapsToEmailBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"errors":[{"message":"recipient is on the suppression list"}]}`))
	}))
	defer server.Close()

	client := newSendGridTestClient(t, server.URL)

	_, err := client.Send(context.Background(), sendGridTestInput())
	assertAppErrorCode(t, err, types.ErrCodeEmailBlocked)
}

func TestSendGridSend_RateLimitedAfterRetries(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	base := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"sendgrid-test-429",
		RetryPolicy{MaxRetries: 2, MinWait: time.Millisecond, MaxWait: time.Millisecond},
		"LetterDrop-Test/1.0",
		WithSleepFunc(noopSleep),
	)
	client := NewSendGridClientWithBase(base, SendGridClientConfig{
		APIKey:  "SG.test-key",
		BaseURL: server.URL,
	})

	_, err := client.Send(context.Background(), sendGridTestInput())
	assertAppErrorCode(t, err, types.ErrCodeUpstreamRateLimited)

	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestSendGridSend_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newSendGridTestClient(t, server.URL)

	_, err := client.Send(context.Background(), sendGridTestInput())
	assertAppErrorCode(t, err, types.ErrCodeUpstreamUnavailable)
}

func TestSendGridSend_BadRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errors":[{"message":"the from email does not match a verified Sender Identity"}]}`))
	}))
	defer server.Close()

	client := newSendGridTestClient(t, server.URL)

	_, err := client.Send(context.Background(), sendGridTestInput())
	assertAppErrorCode(t, err, types.ErrCodeUpstreamEmailProvider)
}

func TestSendGridSend_NonJSONErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("upstream proxy error"))
	}))
	defer server.Close()

	client := newSendGridTestClient(t, server.URL)

	_, err := client.Send(context.Background(), sendGridTestInput())
	assertAppErrorCode(t, err, types.ErrCodeUpstreamEmailProvider)
}
