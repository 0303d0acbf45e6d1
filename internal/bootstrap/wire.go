package bootstrap

import (
	"github.com/sirupsen/logrus"

	"medintake/internal/audio"
	"medintake/internal/backend"
	"medintake/internal/config"
	"medintake/internal/logging"
	"medintake/internal/ports"
	"medintake/internal/providers/ultravox"
	"medintake/internal/store"
	"medintake/internal/usecase"
	"medintake/internal/voice"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.IntakeController
	Adapter    ports.VoiceAdapter
	API        ports.IntakeAPI
	Config     config.Config
	Log        *logrus.Logger
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	log := logging.New()

	snapshots, err := store.NewFileStore(cfg.Session.SnapshotDir, cfg.Session.SnapshotMaxAge)
	if err != nil {
		return Services{}, err
	}

	api := backend.NewClient(backend.Config{
		BaseURL:        cfg.Backend.BaseURL,
		RequestTimeout: cfg.Backend.RequestTimeout,
		SubmitTimeout:  cfg.Backend.SubmitTimeout,
		MaxAttempts:    cfg.Backend.MaxAttempts,
		RetryBase:      cfg.Backend.RetryBase,
	}, log)

	audioCfg := ports.AudioConfig{
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
	}

	mic := audio.NewMicCapture(cfg.Audio.RecorderCommand)

	adapter := voice.NewAdapter(
		ultravox.NewDialer(ultravox.Config{
			ExperimentalMessages: cfg.Ultravox.ExperimentalMessages,
			JoinTimeout:          cfg.Ultravox.JoinTimeout,
		}),
		mic,
		snapshots,
		log,
		voice.Config{
			Audio:                audioCfg,
			ChunkSize:            cfg.Session.ChunkSize,
			HeartbeatInterval:    cfg.Session.HeartbeatInterval,
			HeartbeatTimeout:     cfg.Session.HeartbeatTimeout,
			ReconnectMaxAttempts: cfg.Session.ReconnectMaxAttempts,
			ReconnectBaseDelay:   cfg.Session.ReconnectBaseDelay,
			SnapshotMaxAge:       cfg.Session.SnapshotMaxAge,
		},
	)

	controller := usecase.NewIntakeController(
		api,
		adapter,
		mic,
		eventSink,
		log,
		usecase.Config{
			Audio:              audioCfg,
			MinTranscriptChars: cfg.Session.MinTranscriptChars,
			CompletionGrace:    cfg.Session.CompletionGrace,
		},
	)

	return Services{
		Controller: controller,
		Adapter:    adapter,
		API:        api,
		Config:     cfg,
		Log:        log,
	}, nil
}
