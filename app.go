package main

import (
	"context"
	"fmt"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"medintake/internal/bootstrap"
	"medintake/internal/config"
	"medintake/internal/domain"
	"medintake/internal/ports"
	"medintake/internal/usecase"
	"medintake/internal/visibility"
)

const (
	eventPhase      = "medintake:phase"
	eventPartial    = "medintake:partial"
	eventTranscript = "medintake:transcript"
	eventResults    = "medintake:results"
	eventFault      = "medintake:fault"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	controller *usecase.IntakeController
	visibility *visibility.Monitor
	api        ports.IntakeAPI
	cfg        config.Config
	bootErr    error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.IntakeFault(domain.Fault{
			Code:        "startup_failed",
			Category:    domain.FaultUnknown,
			UserMessage: "The application failed to start. Please restart it.",
			Detail:      err.Error(),
		})
		return
	}

	a.cfg = services.Config
	a.controller = services.Controller
	a.api = services.API
	a.visibility = visibility.NewMonitor(visibility.Callbacks{
		OnHidden:  a.controller.HandleHidden,
		OnVisible: a.controller.HandleVisible,
	})
	a.PhaseChanged(domain.PhaseIdle, domain.ReasonAppReady)
}

// StartInterview begins a new intake interview.
func (a *App) StartInterview() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.StartInterview(a.ctx); err != nil {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

// EndInterview stops the call and submits the transcript for analysis.
func (a *App) EndInterview() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.EndInterview(a.ctx); err != nil {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

// ResetAll discards the current session and returns to idle.
func (a *App) ResetAll() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	a.controller.ResetAll(a.ctx)
	return a.controller.Status(), nil
}

// ResetAndStartNew discards the current session and immediately starts
// a fresh interview.
func (a *App) ResetAndStartNew() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.ResetAllAndStartNew(a.ctx); err != nil {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

// CheckBackendHealth pings the intake backend so the UI can warn about
// an unreachable or still-warming service before an interview starts.
func (a *App) CheckBackendHealth() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
	defer cancel()
	return a.api.Health(ctx)
}

// CheckMicrophone probes audio capture without starting an interview.
func (a *App) CheckMicrophone() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.CheckMicrophone(a.ctx)
}

// NotifyHidden is called by the frontend when the window loses
// visibility.
func (a *App) NotifyHidden() {
	if a.visibility != nil {
		a.visibility.MarkHidden()
	}
}

// NotifyVisible is called by the frontend when the window regains
// visibility.
func (a *App) NotifyVisible() {
	if a.visibility != nil {
		a.visibility.MarkVisible()
	}
}

// GetStatus returns the current interview status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Status{Phase: domain.PhaseError, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{Phase: domain.PhaseIdle, Active: false}
	}
	return a.controller.Status()
}

// GetResult returns the intake summary once the backend has produced one.
func (a *App) GetResult() *domain.IntakeResult {
	if a.controller == nil {
		return nil
	}
	return a.controller.Result()
}

// GetTranscript returns the utterances captured so far.
func (a *App) GetTranscript() []domain.Utterance {
	if a.controller == nil {
		return nil
	}
	return a.controller.Utterances()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"backendUrl":       a.cfg.Backend.BaseURL,
		"voiceProvider":    "Ultravox",
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
		"heartbeat":        a.cfg.Session.HeartbeatInterval.String(),
		"reconnectLimit":   fmt.Sprintf("%d", a.cfg.Session.ReconnectMaxAttempts),
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

var _ ports.EventSink = (*App)(nil)

// PhaseChanged emits interview lifecycle updates to the frontend.
func (a *App) PhaseChanged(phase domain.Phase, reason domain.PhaseReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventPhase, map[string]string{
		"phase":   string(phase),
		"reason":  string(reason),
		"message": phaseReasonMessage(reason),
	})
}

// PartialTranscript emits an in-flight utterance.
func (a *App) PartialTranscript(u domain.Utterance) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventPartial, map[string]string{
		"speaker": string(u.Speaker),
		"text":    u.Text,
	})
}

// TranscriptUpdated emits the full utterance list after a final arrives.
func (a *App) TranscriptUpdated(utterances []domain.Utterance) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventTranscript, utterances)
}

// ResultsReady emits the backend's summary and analysis.
func (a *App) ResultsReady(result domain.IntakeResult) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventResults, result)
}

// IntakeFault emits classified errors to the UI.
func (a *App) IntakeFault(fault domain.Fault) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventFault, map[string]any{
		"code":        string(fault.Code),
		"category":    string(fault.Category),
		"recoverable": fault.Recoverable,
		"message":     fault.UserMessage,
		"detail":      fault.Detail,
	})
}

func phaseReasonMessage(reason domain.PhaseReason) string {
	switch reason {
	case domain.ReasonAppReady:
		return "Ready"
	case domain.ReasonMicRequested:
		return "Requesting microphone access..."
	case domain.ReasonMicDenied:
		return "Microphone access was denied"
	case domain.ReasonCallRequested:
		return "Connecting to the intake agent..."
	case domain.ReasonCallFailed:
		return "Could not start the interview"
	case domain.ReasonInterviewStarted:
		return "Interview in progress"
	case domain.ReasonInterviewEnded:
		return "Processing your answers..."
	case domain.ReasonAgentConcluded:
		return "The interview is complete. Processing your answers..."
	case domain.ReasonConnectionLost:
		return "Connection lost. Processing what was captured..."
	case domain.ReasonEmptyTranscript:
		return "No conversation was captured"
	case domain.ReasonSubmitSucceeded:
		return "Your intake summary is ready"
	case domain.ReasonSubmitFailed:
		return "Could not process the transcript"
	case domain.ReasonReset:
		return "Ready"
	default:
		return ""
	}
}
