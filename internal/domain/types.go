package domain

import "time"

// Phase is the single source of truth for what the UI renders.
type Phase string

const (
	PhaseIdle                  Phase = "idle"
	PhaseRequestingPermissions Phase = "requesting_permissions"
	PhaseInitiating            Phase = "initiating"
	PhaseInterviewing          Phase = "interviewing"
	PhaseProcessingTranscript  Phase = "processing_transcript"
	PhaseDisplayingResults     Phase = "displaying_results"
	PhaseError                 Phase = "error"
)

// PhaseReason provides a structured reason for phase transitions.
type PhaseReason string

const (
	ReasonAppReady         PhaseReason = "app_ready"
	ReasonMicRequested     PhaseReason = "mic_requested"
	ReasonMicDenied        PhaseReason = "mic_denied"
	ReasonCallRequested    PhaseReason = "call_requested"
	ReasonCallFailed       PhaseReason = "call_failed"
	ReasonInterviewStarted PhaseReason = "interview_started"
	ReasonInterviewEnded   PhaseReason = "interview_ended"
	ReasonAgentConcluded   PhaseReason = "agent_concluded"
	ReasonConnectionLost   PhaseReason = "connection_lost"
	ReasonEmptyTranscript  PhaseReason = "empty_transcript"
	ReasonSubmitSucceeded  PhaseReason = "submit_succeeded"
	ReasonSubmitFailed     PhaseReason = "submit_failed"
	ReasonReset            PhaseReason = "reset"
)

// ConnectionStatus is the voice adapter's normalized transport state.
type ConnectionStatus string

const (
	StatusIdle          ConnectionStatus = "idle"
	StatusConnecting    ConnectionStatus = "connecting"
	StatusConnected     ConnectionStatus = "connected"
	StatusReconnecting  ConnectionStatus = "reconnecting"
	StatusDisconnecting ConnectionStatus = "disconnecting"
	StatusDisconnected  ConnectionStatus = "disconnected"
	StatusFailed        ConnectionStatus = "failed"
)

// Speaker identifies one side of the interview.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// Utterance is one finalized speaker turn.
type Utterance struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// CallSession identifies one voice call, obtained from initiate-intake.
// A new interview always obtains a fresh identity.
type CallSession struct {
	CallID  string `json:"callId"`
	JoinURL string `json:"joinUrl"`
}

// Summary is the backend's structured interview summary. Fields the
// backend omits are normalized to explicit nulls, never dropped.
type Summary struct {
	ChiefComplaint          *string `json:"chiefComplaint"`
	HistoryOfPresentIllness *string `json:"historyOfPresentIllness"`
	AssociatedSymptoms      *string `json:"associatedSymptoms"`
	PastMedicalHistory      *string `json:"pastMedicalHistory"`
	Medications             *string `json:"medications"`
	Allergies               *string `json:"allergies"`
	NotesOnInteraction      *string `json:"notesOnInteraction"`
}

// IntakeResult is the submit-transcript response.
type IntakeResult struct {
	Message  string   `json:"message,omitempty"`
	Summary  *Summary `json:"summary"`
	Analysis *string  `json:"analysis"`
}

// SessionSnapshot preserves enough session state across a disconnection
// to reconnect without losing accumulated transcript.
type SessionSnapshot struct {
	CallID      string           `json:"callId"`
	JoinURL     string           `json:"joinUrl"`
	Status      ConnectionStatus `json:"status"`
	Transcripts []Utterance      `json:"transcripts"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Expired reports whether the snapshot is older than maxAge at now.
func (s SessionSnapshot) Expired(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(s.Timestamp) > maxAge
}

// FaultCategory drives whether the UI offers a retry affordance.
type FaultCategory string

const (
	FaultNetwork    FaultCategory = "network"
	FaultPermission FaultCategory = "permission"
	FaultAPI        FaultCategory = "api"
	FaultUltravox   FaultCategory = "ultravox"
	FaultValidation FaultCategory = "validation"
	FaultUnknown    FaultCategory = "unknown"
)

// Fault is a classified failure with a user-facing message.
type Fault struct {
	Code        string        `json:"code"`
	Category    FaultCategory `json:"category"`
	Recoverable bool          `json:"recoverable"`
	UserMessage string        `json:"userMessage"`
	Detail      string        `json:"detail,omitempty"`
}

// SessionEventKind identifies a normalized voice session event.
type SessionEventKind string

const (
	EventStatus       SessionEventKind = "status"
	EventUtterance    SessionEventKind = "utterance"
	EventExperimental SessionEventKind = "experimental"
)

// SessionEvent is the provider's normalized event stream payload.
type SessionEvent struct {
	Kind SessionEventKind

	// Kind == EventStatus
	State string

	// Kind == EventUtterance
	Utterance Utterance
	Final     bool

	// Kind == EventExperimental
	Message string
}

// Status summarizes the current runtime status for the UI.
type Status struct {
	Phase   Phase  `json:"phase"`
	Active  bool   `json:"active"`
	Message string `json:"message,omitempty"`
}
