package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	"medintake/internal/domain"
)

func TestClassifyWarmingUp503(t *testing.T) {
	t.Parallel()

	fault := Classify(&StatusError{Status: 503, Detail: "AI#2 service unavailable (key missing at call time)."})
	if fault.Category != domain.FaultAPI {
		t.Fatalf("unexpected category: %s", fault.Category)
	}
	if !fault.Recoverable {
		t.Fatalf("expected recoverable warm-up fault")
	}
	if !strings.Contains(fault.UserMessage, "10-15 seconds") {
		t.Fatalf("expected warm-up retry hint, got %q", fault.UserMessage)
	}
}

func TestClassifyRateLimited(t *testing.T) {
	t.Parallel()

	fault := Classify(&StatusError{Status: 429, Detail: "Please wait a moment before starting another interview."})
	if fault.Code != "rate_limited" || !fault.Recoverable {
		t.Fatalf("unexpected fault: %+v", fault)
	}
}

func TestClassifyServerErrorsRecoverableClientErrorsNot(t *testing.T) {
	t.Parallel()

	if fault := Classify(&StatusError{Status: 502}); !fault.Recoverable || fault.Category != domain.FaultAPI {
		t.Fatalf("unexpected 502 fault: %+v", fault)
	}
	if fault := Classify(&StatusError{Status: 400, Detail: "Missing transcript data."}); fault.Recoverable {
		t.Fatalf("400 must not be recoverable: %+v", fault)
	}
}

func TestClassifyPermission(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"microphone unavailable: exit status 1: Permission denied": "mic_denied",
		"microphone unavailable: no such device 'default'":         "mic_missing",
		"microphone unavailable: Device or resource busy":          "mic_in_use",
	}
	for detail, code := range cases {
		fault := Classify(errors.New(detail))
		if fault.Category != domain.FaultPermission {
			t.Fatalf("expected permission category for %q, got %s", detail, fault.Category)
		}
		if fault.Recoverable {
			t.Fatalf("permission faults must not be retry-recoverable: %+v", fault)
		}
		if fault.Code != code {
			t.Fatalf("unexpected code for %q: %s", detail, fault.Code)
		}
	}
}

func TestClassifyNetwork(t *testing.T) {
	t.Parallel()

	fault := Classify(fmt.Errorf("post failed: %w", context.DeadlineExceeded))
	if fault.Category != domain.FaultNetwork || !fault.Recoverable {
		t.Fatalf("unexpected timeout fault: %+v", fault)
	}
	if fault.Code != "request_timeout" {
		t.Fatalf("unexpected code: %s", fault.Code)
	}

	opErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	fault = Classify(opErr)
	if fault.Category != domain.FaultNetwork {
		t.Fatalf("unexpected category: %s", fault.Category)
	}
}

func TestClassifyVoiceErrors(t *testing.T) {
	t.Parallel()

	fault := Classify(&VoiceError{Scope: "Session", Err: errors.New("failed to read call event: unexpected EOF")})
	if fault.Category != domain.FaultUltravox || !fault.Recoverable {
		t.Fatalf("unexpected voice fault: %+v", fault)
	}

	fault = Classify(&VoiceError{Scope: "Reconnection", Err: ErrReconnectExhausted})
	if fault.Recoverable {
		t.Fatalf("exhausted reconnection must not be recoverable: %+v", fault)
	}

	// Transport-level dial failures inside the adapter classify as network.
	fault = Classify(&VoiceError{Scope: "Connection", Err: errors.New("dial tcp: connection refused")})
	if fault.Category != domain.FaultNetwork {
		t.Fatalf("expected network category, got %s", fault.Category)
	}
}

func TestClassifyValidationAndInvalidResponse(t *testing.T) {
	t.Parallel()

	fault := Classify(fmt.Errorf("%w: transcript has no user utterances", ErrTranscriptInvalid))
	if fault.Category != domain.FaultValidation || fault.Recoverable {
		t.Fatalf("unexpected validation fault: %+v", fault)
	}

	fault = Classify(fmt.Errorf("initiate-intake: %w", ErrInvalidResponse))
	if fault.Category != domain.FaultAPI || !fault.Recoverable {
		t.Fatalf("unexpected invalid-response fault: %+v", fault)
	}
}

func TestClassifyUnknown(t *testing.T) {
	t.Parallel()

	fault := Classify(errors.New("boom"))
	if fault.Category != domain.FaultUnknown || fault.Recoverable {
		t.Fatalf("unexpected fault: %+v", fault)
	}
	if fault.UserMessage == "" {
		t.Fatalf("every fault needs a user message")
	}
}
