// Package faults is the single place raw errors become user-facing,
// classified faults. Components funnel every failure through Classify
// before it reaches the intake controller; the controller never inspects
// raw error types itself.
package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"medintake/internal/domain"
)

// StatusError is a non-2xx backend response.
type StatusError struct {
	Status int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("backend returned HTTP %d: %s", e.Status, e.Detail)
}

// ErrInvalidResponse marks a 2xx response whose body is missing required
// fields.
var ErrInvalidResponse = errors.New("backend response is missing required fields")

// ErrReconnectExhausted marks a voice session that could not be restored
// within the configured attempt budget.
var ErrReconnectExhausted = errors.New("reconnection attempts exhausted")

// ErrTranscriptInvalid marks a transcript rejected before submission.
var ErrTranscriptInvalid = errors.New("transcript failed validation")

// VoiceError tags a failure raised inside the voice session adapter with
// the adapter scope it came from ("Connection", "Session", ...).
type VoiceError struct {
	Scope string
	Err   error
}

func (e *VoiceError) Error() string {
	return fmt.Sprintf("voice session %s error: %v", strings.ToLower(e.Scope), e.Err)
}

func (e *VoiceError) Unwrap() error { return e.Err }

// Classify maps any error to the fault taxonomy. Nil input returns a
// zero Fault.
func Classify(err error) domain.Fault {
	if err == nil {
		return domain.Fault{}
	}

	detail := err.Error()

	if errors.Is(err, ErrTranscriptInvalid) {
		return domain.Fault{
			Code:        "transcript_invalid",
			Category:    domain.FaultValidation,
			Recoverable: false,
			UserMessage: "The interview was too short to analyze. Please start a new interview and describe your symptoms.",
			Detail:      detail,
		}
	}

	if errors.Is(err, ErrInvalidResponse) {
		return domain.Fault{
			Code:        "invalid_response",
			Category:    domain.FaultAPI,
			Recoverable: true,
			UserMessage: "The intake service returned an unexpected response. Please try again.",
			Detail:      detail,
		}
	}

	var status *StatusError
	if errors.As(err, &status) {
		return classifyStatus(status, detail)
	}

	if fault, ok := classifyPermission(detail); ok {
		return fault
	}

	var voiceErr *VoiceError
	if errors.As(err, &voiceErr) {
		if fault, ok := classifyNetwork(err, voiceErr.Error()); ok {
			return fault
		}
		recoverable := !errors.Is(err, ErrReconnectExhausted)
		return domain.Fault{
			Code:        "voice_session",
			Category:    domain.FaultUltravox,
			Recoverable: recoverable,
			UserMessage: "The voice connection was interrupted. Please try again.",
			Detail:      voiceErr.Error(),
		}
	}

	if fault, ok := classifyNetwork(err, detail); ok {
		return fault
	}

	return domain.Fault{
		Code:        "unknown",
		Category:    domain.FaultUnknown,
		Recoverable: false,
		UserMessage: "Something went wrong. Please reset and try again.",
		Detail:      detail,
	}
}

func classifyStatus(status *StatusError, detail string) domain.Fault {
	lower := strings.ToLower(status.Detail)
	switch {
	case status.Status == 503 && (strings.Contains(status.Detail, "AI#2") || strings.Contains(status.Detail, "AI#3")):
		return domain.Fault{
			Code:        "service_warming_up",
			Category:    domain.FaultAPI,
			Recoverable: true,
			UserMessage: "The analysis service is still warming up. Please retry in 10-15 seconds.",
			Detail:      detail,
		}
	case status.Status == 429:
		message := "Please wait a moment before starting another interview."
		if strings.Contains(lower, "wait") {
			message = status.Detail
		}
		return domain.Fault{
			Code:        "rate_limited",
			Category:    domain.FaultAPI,
			Recoverable: true,
			UserMessage: message,
			Detail:      detail,
		}
	case status.Status >= 500:
		return domain.Fault{
			Code:        fmt.Sprintf("api_http_%d", status.Status),
			Category:    domain.FaultAPI,
			Recoverable: true,
			UserMessage: "The intake service is temporarily unavailable. Please try again shortly.",
			Detail:      detail,
		}
	default:
		return domain.Fault{
			Code:        fmt.Sprintf("api_http_%d", status.Status),
			Category:    domain.FaultAPI,
			Recoverable: false,
			UserMessage: "The intake service rejected the request.",
			Detail:      detail,
		}
	}
}

// Permission failures are not retryable in-app: the user has to change
// OS or device settings first.
func classifyPermission(detail string) (domain.Fault, bool) {
	lower := strings.ToLower(detail)
	switch {
	case strings.Contains(lower, "microphone unavailable"),
		strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "device or resource busy"),
		strings.Contains(lower, "no such device"):
	default:
		return domain.Fault{}, false
	}

	code := "mic_denied"
	message := "Microphone access was denied. Please allow microphone access in your system settings and try again."
	if strings.Contains(lower, "no such device") {
		code = "mic_missing"
		message = "No microphone was found. Please connect a microphone and try again."
	} else if strings.Contains(lower, "busy") {
		code = "mic_in_use"
		message = "Your microphone is in use by another application. Please close it and try again."
	}

	return domain.Fault{
		Code:        code,
		Category:    domain.FaultPermission,
		Recoverable: false,
		UserMessage: message,
		Detail:      detail,
	}, true
}

func classifyNetwork(err error, detail string) (domain.Fault, bool) {
	var netErr net.Error
	isNetwork := errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(detail, "connection refused") ||
		strings.Contains(detail, "connection reset") ||
		strings.Contains(detail, "no such host") ||
		strings.Contains(detail, "network is unreachable")
	if !isNetwork {
		return domain.Fault{}, false
	}

	code := "network_unreachable"
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		code = "request_timeout"
	}
	return domain.Fault{
		Code:        code,
		Category:    domain.FaultNetwork,
		Recoverable: true,
		UserMessage: "We couldn't reach the intake service. Please check your connection and retry.",
		Detail:      detail,
	}, true
}
