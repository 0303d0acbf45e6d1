package main

import (
	"errors"
	"testing"

	"medintake/internal/domain"
)

func TestPhaseReasonMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.PhaseReason]string{
		domain.ReasonAppReady:         "Ready",
		domain.ReasonMicRequested:     "Requesting microphone access...",
		domain.ReasonMicDenied:        "Microphone access was denied",
		domain.ReasonCallRequested:    "Connecting to the intake agent...",
		domain.ReasonCallFailed:       "Could not start the interview",
		domain.ReasonInterviewStarted: "Interview in progress",
		domain.ReasonInterviewEnded:   "Processing your answers...",
		domain.ReasonAgentConcluded:   "The interview is complete. Processing your answers...",
		domain.ReasonConnectionLost:   "Connection lost. Processing what was captured...",
		domain.ReasonEmptyTranscript:  "No conversation was captured",
		domain.ReasonSubmitSucceeded:  "Your intake summary is ready",
		domain.ReasonSubmitFailed:     "Could not process the transcript",
		domain.ReasonReset:            "Ready",
	}

	for reason, want := range cases {
		reason := reason
		want := want
		t.Run(string(reason), func(t *testing.T) {
			t.Parallel()
			if got := phaseReasonMessage(reason); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := phaseReasonMessage("unknown"); got != "" {
		t.Fatalf("expected empty unknown reason message, got %q", got)
	}
}

func TestAppRejectsCallsBeforeStartup(t *testing.T) {
	t.Parallel()

	app := NewApp()

	if _, err := app.StartInterview(); err == nil {
		t.Fatalf("expected error before startup")
	}
	if _, err := app.EndInterview(); err == nil {
		t.Fatalf("expected error before startup")
	}
	status := app.GetStatus()
	if status.Phase != domain.PhaseIdle || status.Active {
		t.Fatalf("unexpected pre-startup status: %+v", status)
	}
}

func TestAppSurfacesBootError(t *testing.T) {
	t.Parallel()

	app := NewApp()
	app.bootErr = errors.New("snapshot dir unavailable")

	if _, err := app.StartInterview(); err == nil {
		t.Fatalf("expected boot error propagation")
	}
	status := app.GetStatus()
	if status.Phase != domain.PhaseError {
		t.Fatalf("boot failure must surface as error phase, got %+v", status)
	}
	info := app.GetRuntimeInfo()
	if info["error"] == "" {
		t.Fatalf("runtime info must carry the boot error: %v", info)
	}
}

func TestVisibilityNotificationsAreSafeWithoutMonitor(t *testing.T) {
	t.Parallel()

	app := NewApp()
	app.NotifyHidden()
	app.NotifyVisible()
}
