// Package usecase hosts the intake state machine: the single owner of
// the session phase, reacting to voice adapter events and user actions,
// and driving the backend client and transcript formatter.
package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"medintake/internal/domain"
	"medintake/internal/faults"
	"medintake/internal/ports"
	"medintake/internal/transcript"
)

var ErrInterviewActive = errors.New("an interview is already in progress")

// Config controls controller behavior.
type Config struct {
	Audio              ports.AudioConfig
	MinTranscriptChars int
	// CompletionGrace delays auto-termination after the agent signals
	// the interview is over, so trailing transcript can still arrive.
	CompletionGrace time.Duration
}

// IntakeController owns the session phase. All transitions happen here,
// synchronously with the event that caused them.
type IntakeController struct {
	api     ports.IntakeAPI
	adapter ports.VoiceAdapter
	mic     ports.AudioCapture
	events  ports.EventSink
	log     logrus.FieldLogger
	cfg     Config

	mu          sync.Mutex
	phase       domain.Phase
	call        domain.CallSession
	utterances  []domain.Utterance
	result      *domain.IntakeResult
	fault       *domain.Fault
	interviewID string
	submitting  bool
	graceTimer  *time.Timer
}

func NewIntakeController(
	api ports.IntakeAPI,
	adapter ports.VoiceAdapter,
	mic ports.AudioCapture,
	events ports.EventSink,
	log logrus.FieldLogger,
	cfg Config,
) *IntakeController {
	if cfg.CompletionGrace <= 0 {
		cfg.CompletionGrace = 2 * time.Second
	}
	c := &IntakeController{
		api:     api,
		adapter: adapter,
		mic:     mic,
		events:  events,
		log:     log,
		cfg:     cfg,
		phase:   domain.PhaseIdle,
	}

	adapter.SetCallbacks(ports.VoiceCallbacks{
		OnStatusChange:     c.handleStatusChange,
		OnTranscriptUpdate: c.handleTranscriptUpdate,
		OnPartial:          c.handlePartial,
		OnExperimental:     c.handleExperimental,
		OnSessionEnd:       c.handleSessionEnd,
		OnError:            c.handleVoiceError,
	})
	return c
}

// StartInterview runs idle -> requesting_permissions -> initiating ->
// interviewing. Any failure along the way classifies into a fault and
// lands in the error phase.
func (c *IntakeController) StartInterview(ctx context.Context) error {
	c.mu.Lock()
	switch c.phase {
	case domain.PhaseIdle, domain.PhaseError, domain.PhaseDisplayingResults:
	default:
		phase := c.phase
		c.mu.Unlock()
		if c.log != nil {
			c.log.WithField("phase", phase).Warn("start interview ignored")
		}
		return ErrInterviewActive
	}
	c.resetStateLocked()
	c.interviewID = uuid.NewString()
	c.mu.Unlock()

	c.transition(domain.PhaseRequestingPermissions, domain.ReasonMicRequested)

	if err := c.mic.Probe(ctx, c.cfg.Audio); err != nil {
		c.fail(err, domain.ReasonMicDenied)
		return err
	}

	c.transition(domain.PhaseInitiating, domain.ReasonCallRequested)

	call, err := c.api.InitiateIntake(ctx)
	if err != nil {
		c.fail(err, domain.ReasonCallFailed)
		return err
	}

	c.mu.Lock()
	c.call = call
	c.mu.Unlock()

	if err := c.adapter.Connect(ctx, call); err != nil {
		c.fail(err, domain.ReasonCallFailed)
		return err
	}

	c.transition(domain.PhaseInterviewing, domain.ReasonInterviewStarted)
	if c.log != nil {
		c.log.WithFields(logrus.Fields{"interview": c.interviewID, "call": call.CallID}).Info("interview started")
	}
	return nil
}

// EndInterview ends the voice session and submits the transcript. It is
// idempotent: a second call while processing or displaying results is a
// logged no-op, which keeps a manual end click and an adapter-driven
// auto-submit from racing each other.
func (c *IntakeController) EndInterview(ctx context.Context) error {
	return c.endInterview(ctx, domain.ReasonInterviewEnded, true)
}

func (c *IntakeController) endInterview(ctx context.Context, reason domain.PhaseReason, disconnect bool) error {
	c.mu.Lock()
	if c.submitting || c.phase == domain.PhaseProcessingTranscript || c.phase == domain.PhaseDisplayingResults {
		c.mu.Unlock()
		if c.log != nil {
			c.log.Debug("end interview ignored, submission already under way")
		}
		return nil
	}
	if c.phase != domain.PhaseInterviewing {
		phase := c.phase
		c.mu.Unlock()
		if c.log != nil {
			c.log.WithField("phase", phase).Debug("end interview ignored outside interviewing")
		}
		return nil
	}
	c.submitting = true
	c.stopGraceTimerLocked()
	call := c.call
	interviewID := c.interviewID
	utterances := append([]domain.Utterance(nil), c.utterances...)
	c.mu.Unlock()

	c.transition(domain.PhaseProcessingTranscript, reason)

	if disconnect {
		_ = c.adapter.Disconnect(ctx, false)
	}

	formatted := transcript.Format(utterances, c.cfg.MinTranscriptChars)
	for _, warning := range formatted.Warnings {
		if c.log != nil {
			c.log.Warn(warning)
		}
	}

	if !formatted.Valid {
		c.mu.Lock()
		c.submitting = false
		c.mu.Unlock()

		if len(utterances) == 0 {
			// Nothing was said; quietly return to idle rather than
			// burning a backend call or showing an error screen.
			c.transition(domain.PhaseIdle, domain.ReasonEmptyTranscript)
			return nil
		}
		err := faults.ErrTranscriptInvalid
		c.failWithDetail(err, formatted.InvalidReason, domain.ReasonSubmitFailed)
		return err
	}

	result, err := c.api.SubmitTranscript(ctx, call.CallID, formatted.Text)

	c.mu.Lock()
	c.submitting = false
	c.mu.Unlock()

	if err != nil {
		c.fail(err, domain.ReasonSubmitFailed)
		return err
	}

	c.mu.Lock()
	c.result = &result
	c.mu.Unlock()

	c.transition(domain.PhaseDisplayingResults, domain.ReasonSubmitSucceeded)
	c.events.ResultsReady(result)
	if c.log != nil {
		c.log.WithField("interview", interviewID).Info("intake results ready")
	}
	return nil
}

// ResetAll returns to idle from any phase, discarding session data.
func (c *IntakeController) ResetAll(ctx context.Context) {
	_ = c.adapter.Disconnect(ctx, false)

	c.mu.Lock()
	c.resetStateLocked()
	c.mu.Unlock()

	c.transition(domain.PhaseIdle, domain.ReasonReset)
}

// ResetAllAndStartNew resets and immediately begins a fresh interview.
func (c *IntakeController) ResetAllAndStartNew(ctx context.Context) error {
	c.ResetAll(ctx)
	return c.StartInterview(ctx)
}

// CheckMicrophone probes audio capture without starting an interview.
// A failed probe reports a fault but leaves the phase alone, so the UI
// can surface the warning while staying on the start screen.
func (c *IntakeController) CheckMicrophone(ctx context.Context) error {
	if err := c.mic.Probe(ctx, c.cfg.Audio); err != nil {
		c.events.IntakeFault(faults.Classify(err))
		return err
	}
	return nil
}

// HandleHidden pauses the voice session while the app is backgrounded.
func (c *IntakeController) HandleHidden() {
	if c.Phase() != domain.PhaseInterviewing {
		return
	}
	c.adapter.Pause()
}

// HandleVisible resumes a paused session. The adapter decides between a
// resume and a declared session end based on how long we were hidden.
func (c *IntakeController) HandleVisible(hiddenFor time.Duration) {
	if c.Phase() != domain.PhaseInterviewing {
		return
	}
	if err := c.adapter.Resume(context.Background(), hiddenFor); err != nil && c.log != nil {
		c.log.WithError(err).Warn("session resume failed")
	}
}

// Phase returns the current phase.
func (c *IntakeController) Phase() domain.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Status summarizes phase plus any fault message for the UI.
func (c *IntakeController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := domain.Status{Phase: c.phase}
	switch c.phase {
	case domain.PhaseIdle, domain.PhaseError, domain.PhaseDisplayingResults:
	default:
		status.Active = true
	}
	if c.fault != nil {
		status.Message = c.fault.UserMessage
	}
	return status
}

// Result returns the intake result once displaying_results is reached.
func (c *IntakeController) Result() *domain.IntakeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Fault returns the classified fault for the error phase, if any.
func (c *IntakeController) Fault() *domain.Fault {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fault
}

// Utterances returns a copy of the transcript so far.
func (c *IntakeController) Utterances() []domain.Utterance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Utterance(nil), c.utterances...)
}

func (c *IntakeController) handleStatusChange(status domain.ConnectionStatus) {
	if c.log != nil {
		c.log.WithField("status", status).Debug("voice connection status")
	}
}

func (c *IntakeController) handleTranscriptUpdate(utterances []domain.Utterance) {
	c.mu.Lock()
	c.utterances = utterances
	agentTail := ""
	if n := len(utterances); n > 0 && utterances[n-1].Speaker == domain.SpeakerAgent {
		agentTail = utterances[n-1].Text
	}
	c.mu.Unlock()

	c.events.TranscriptUpdated(utterances)

	if agentTail != "" && detectsCompletion(agentTail) {
		c.scheduleAutoTermination("agent closing phrase")
	}
}

func (c *IntakeController) handlePartial(u domain.Utterance) {
	c.events.PartialTranscript(u)
}

func (c *IntakeController) handleExperimental(message string) {
	if detectsCompletion(message) {
		c.scheduleAutoTermination("hang-up signal")
	}
}

// scheduleAutoTermination arms the grace timer once; the delay lets the
// last transcript fragments land before submission.
func (c *IntakeController) scheduleAutoTermination(cause string) {
	c.mu.Lock()
	if c.phase != domain.PhaseInterviewing || c.graceTimer != nil {
		c.mu.Unlock()
		return
	}
	c.graceTimer = time.AfterFunc(c.cfg.CompletionGrace, func() {
		_ = c.endInterview(context.Background(), domain.ReasonAgentConcluded, true)
	})
	c.mu.Unlock()

	if c.log != nil {
		c.log.WithField("cause", cause).Info("interview completion detected, ending after grace delay")
	}
}

// handleSessionEnd reacts to the voice session ending without an
// explicit user action: submit what we have, or return to idle when the
// interview never produced a transcript.
func (c *IntakeController) handleSessionEnd() {
	c.mu.Lock()
	interviewing := c.phase == domain.PhaseInterviewing
	hasTranscript := len(c.utterances) > 0
	c.stopGraceTimerLocked()
	c.mu.Unlock()

	if !interviewing {
		return
	}
	if !hasTranscript {
		c.transition(domain.PhaseIdle, domain.ReasonEmptyTranscript)
		return
	}
	_ = c.endInterview(context.Background(), domain.ReasonConnectionLost, false)
}

func (c *IntakeController) handleVoiceError(scope string, err error) {
	fault := faults.Classify(err)
	if c.log != nil {
		c.log.WithField("scope", scope).WithError(err).Warn("voice session fault")
	}
	// Terminal outcomes arrive separately via OnSessionEnd; surface the
	// fault without forcing a phase change here.
	c.events.IntakeFault(fault)
}

func (c *IntakeController) transition(phase domain.Phase, reason domain.PhaseReason) {
	c.mu.Lock()
	c.phase = phase
	c.mu.Unlock()
	c.events.PhaseChanged(phase, reason)
}

func (c *IntakeController) fail(err error, reason domain.PhaseReason) {
	c.failWithDetail(err, "", reason)
}

func (c *IntakeController) failWithDetail(err error, detail string, reason domain.PhaseReason) {
	fault := faults.Classify(err)
	if detail != "" {
		fault.Detail = detail
	}

	c.mu.Lock()
	c.fault = &fault
	c.mu.Unlock()

	c.events.IntakeFault(fault)
	c.transition(domain.PhaseError, reason)
}

func (c *IntakeController) resetStateLocked() {
	c.call = domain.CallSession{}
	c.utterances = nil
	c.result = nil
	c.fault = nil
	c.submitting = false
	c.stopGraceTimerLocked()
}

func (c *IntakeController) stopGraceTimerLocked() {
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
}
