package ports

import (
	"context"
	"io"
	"time"

	"medintake/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions. Probe opens and
// immediately releases the device; it is the microphone-permission check.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
	Probe(ctx context.Context, cfg AudioConfig) error
}

// VoiceStream is an active call transport session.
type VoiceStream interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.SessionEvent
	Wait() error
	Close() error
}

// VoiceDialer joins voice calls by their join URL.
type VoiceDialer interface {
	Join(ctx context.Context, call domain.CallSession) (VoiceStream, error)
}

// VoiceCallbacks is the adapter's normalized push contract. All callbacks
// are optional; nil callbacks are skipped.
type VoiceCallbacks struct {
	OnStatusChange     func(status domain.ConnectionStatus)
	OnTranscriptUpdate func(utterances []domain.Utterance)
	OnPartial          func(u domain.Utterance)
	OnExperimental     func(message string)
	OnSessionEnd       func()
	OnError            func(scope string, err error)
}

// VoiceAdapter owns one logical voice session at a time: connect guard,
// heartbeat, reconnection with backoff, and snapshot-based resume.
type VoiceAdapter interface {
	Connect(ctx context.Context, call domain.CallSession) error
	Disconnect(ctx context.Context, preserveForReconnection bool) error
	SetCallbacks(cb VoiceCallbacks)
	Pause()
	Resume(ctx context.Context, hiddenFor time.Duration) error
	Status() domain.ConnectionStatus
}

// IntakeAPI is the remote intake backend.
type IntakeAPI interface {
	Health(ctx context.Context) error
	InitiateIntake(ctx context.Context) (domain.CallSession, error)
	SubmitTranscript(ctx context.Context, callID string, transcript string) (domain.IntakeResult, error)
}

// SnapshotStore persists session snapshots across disconnections.
type SnapshotStore interface {
	Save(snapshot domain.SessionSnapshot) error
	Load() (domain.SessionSnapshot, bool, error)
	Clear() error
}

// EventSink emits intake lifecycle events to the UI.
type EventSink interface {
	PhaseChanged(phase domain.Phase, reason domain.PhaseReason)
	PartialTranscript(u domain.Utterance)
	TranscriptUpdated(utterances []domain.Utterance)
	ResultsReady(result domain.IntakeResult)
	IntakeFault(fault domain.Fault)
}
