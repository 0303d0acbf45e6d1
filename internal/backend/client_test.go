package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"medintake/internal/faults"
)

func newTestClient(url string) *Client {
	return NewClient(Config{
		BaseURL:        url,
		RequestTimeout: 2 * time.Second,
		SubmitTimeout:  2 * time.Second,
		MaxAttempts:    3,
		RetryBase:      time.Millisecond,
	}, nil)
}

func TestInitiateIntakeSuccess(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/initiate-intake" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"joinUrl":"wss://call.example/join/abc","callId":"call-1"}`))
	}))
	defer server.Close()

	call, err := newTestClient(server.URL).InitiateIntake(context.Background())
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if call.CallID != "call-1" || !strings.HasPrefix(call.JoinURL, "wss://") {
		t.Fatalf("unexpected call session: %+v", call)
	}
}

func TestInitiateIntakeMissingFieldIsInvalidResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"joinUrl":"wss://call.example/join/abc"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).InitiateIntake(context.Background())
	if !errors.Is(err, faults.ErrInvalidResponse) {
		t.Fatalf("expected invalid response error, got %v", err)
	}
}

func TestSubmitTranscriptBackfillsSummaryFields(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Request-ID"); !strings.HasPrefix(got, "call-9-") {
			t.Errorf("unexpected request id: %q", got)
		}
		_, _ = w.Write([]byte(`{"message":"ok","summary":{"chiefComplaint":"Headache"}}`))
	}))
	defer server.Close()

	result, err := newTestClient(server.URL).SubmitTranscript(context.Background(), "call-9", "User: hi")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if result.Summary == nil || result.Summary.ChiefComplaint == nil || *result.Summary.ChiefComplaint != "Headache" {
		t.Fatalf("unexpected summary: %+v", result.Summary)
	}
	if result.Summary.Medications != nil || result.Summary.Allergies != nil || result.Summary.NotesOnInteraction != nil {
		t.Fatalf("absent fields must stay explicit nulls: %+v", result.Summary)
	}
	if result.Analysis != nil {
		t.Fatalf("missing analysis must normalize to null")
	}
}

func TestSubmitTranscriptBothAbsentIsInvalid(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).SubmitTranscript(context.Background(), "call-9", "User: hi")
	if !errors.Is(err, faults.ErrInvalidResponse) {
		t.Fatalf("expected invalid response, got %v", err)
	}
}

func TestRetriesServerErrorsThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"joinUrl":"wss://x","callId":"c"}`))
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL).InitiateIntake(context.Background()); err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"Missing transcript data."}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).SubmitTranscript(context.Background(), "c", "t")
	var status *faults.StatusError
	if !errors.As(err, &status) || status.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 status error, got %v", err)
	}
	if status.Detail != "Missing transcript data." {
		t.Fatalf("unexpected detail: %q", status.Detail)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not be retried, got %d attempts", calls.Load())
	}
}

func TestRetries429(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"detail":"Please wait a moment before starting another interview."}`))
			return
		}
		_, _ = w.Write([]byte(`{"joinUrl":"wss://x","callId":"c"}`))
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL).InitiateIntake(context.Background()); err != nil {
		t.Fatalf("expected success after 429 retry, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestHealthReportsStatusErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"detail":"warming up"}`))
	}))
	defer server.Close()

	err := newTestClient(server.URL).Health(context.Background())
	var status *faults.StatusError
	if !errors.As(err, &status) || status.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 status error, got %v", err)
	}
}
