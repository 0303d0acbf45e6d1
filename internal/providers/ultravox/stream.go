package ultravox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"medintake/internal/domain"
	"medintake/internal/ports"
)

// Config controls the Ultravox data-channel connection.
type Config struct {
	// ExperimentalMessages asks the agent to forward tool-call and
	// debug messages over the data channel.
	ExperimentalMessages bool
	// JoinTimeout bounds the websocket dial.
	JoinTimeout time.Duration
}

// Dialer implements ports.VoiceDialer for Ultravox calls. Authentication
// is carried by the joinUrl itself; no API key is needed client-side.
type Dialer struct {
	cfg Config
}

func NewDialer(cfg Config) *Dialer {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 15 * time.Second
	}
	return &Dialer{cfg: cfg}
}

func (d *Dialer) Join(ctx context.Context, call domain.CallSession) (ports.VoiceStream, error) {
	if strings.TrimSpace(call.JoinURL) == "" {
		return nil, errors.New("call has no joinUrl")
	}

	wsURL, err := buildJoinURL(call.JoinURL, d.cfg)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, d.cfg.JoinTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to join Ultravox call: %w", err)
	}

	session := &callStream{
		conn:     conn,
		events:   make(chan domain.SessionEvent, 64),
		audio:    make(chan []byte, 32),
		done:     make(chan struct{}),
		sendStop: make(chan struct{}),
		closing:  make(chan struct{}),
	}

	session.wg.Add(2)
	go session.readLoop()
	go session.writeLoop()
	go func() {
		session.wg.Wait()
		close(session.events)
		close(session.done)
		_ = conn.Close()
	}()

	go func() {
		<-ctx.Done()
		_ = session.Close()
	}()

	return session, nil
}

type callStream struct {
	conn *websocket.Conn

	events chan domain.SessionEvent
	audio  chan []byte
	done   chan struct{}
	// sendStop ends the outbound audio side without closing the audio
	// channel, so a racing SendAudio can never hit a closed channel.
	sendStop chan struct{}
	// closing unblocks emit when the stream is torn down before its
	// consumer drains the event channel.
	closing chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeSendOnce sync.Once
	closeOnce     sync.Once
}

func (s *callStream) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	copied := append([]byte(nil), chunk...)
	select {
	case s.audio <- copied:
		return nil
	case <-s.sendStop:
		return errors.New("audio stream is already closed")
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return errors.New("call session closed")
	}
}

func (s *callStream) CloseSend() error {
	s.closeSendOnce.Do(func() {
		close(s.sendStop)
	})
	return nil
}

func (s *callStream) Events() <-chan domain.SessionEvent {
	return s.events
}

func (s *callStream) Wait() error {
	<-s.done
	return s.waitErr()
}

func (s *callStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		_ = s.CloseSend()
		_ = s.conn.Close()
	})
	<-s.done
	return s.waitErr()
}

func (s *callStream) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *callStream) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *callStream) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.sendStop:
			deadline := time.Now().Add(2 * time.Second)
			_ = s.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leaving call"),
				deadline,
			)
			return
		case chunk := <-s.audio:
			if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				s.setErr(fmt.Errorf("failed to send audio: %w", err))
				return
			}
		}
	}
}

func (s *callStream) readLoop() {
	defer s.wg.Done()

	for {
		kind, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("failed to read call event: %w", err))
			return
		}
		if kind == websocket.BinaryMessage {
			// Agent audio playback is out of scope for the intake engine.
			continue
		}

		// A type mismatch on one field (the bare-string "message"
		// variant) still yields a usable partial decode.
		var message dataMessage
		if err := json.Unmarshal(payload, &message); err != nil {
			var typeErr *json.UnmarshalTypeError
			if !errors.As(err, &typeErr) {
				continue
			}
		}

		switch strings.ToLower(message.Type) {
		case "state", "status":
			if state := strings.TrimSpace(message.State); state != "" {
				s.emit(domain.SessionEvent{Kind: domain.EventStatus, State: state})
			}
		case "transcript", "transcripts":
			s.emitTranscript(message)
		case "experimental_message", "debug":
			if text := extractExperimental(payload, message); text != "" {
				s.emit(domain.SessionEvent{Kind: domain.EventExperimental, Message: text})
			}
		case "error":
			detail := strings.TrimSpace(message.Message.Text)
			if detail == "" {
				detail = "ultravox returned an unknown error"
			}
			s.setErr(errors.New(detail))
			return
		}
	}
}

func (s *callStream) emitTranscript(message dataMessage) {
	text := extractTranscriptText(message)
	if text == "" {
		return
	}

	s.emit(domain.SessionEvent{
		Kind: domain.EventUtterance,
		Utterance: domain.Utterance{
			Speaker:   extractSpeaker(message),
			Text:      text,
			Timestamp: time.Now(),
		},
		Final: message.Final || message.IsFinal,
	})
}

// emit blocks until the consumer takes the event; transcript finals
// must never be dropped under backpressure. Teardown unblocks it via
// the closing channel.
func (s *callStream) emit(event domain.SessionEvent) {
	select {
	case s.events <- event:
	case <-s.closing:
	}
}

// dataMessage covers every payload shape Ultravox has shipped for the
// data channel; the vendor has renamed fields across API versions, so
// each accessor probes the known variants.
type dataMessage struct {
	Type  string `json:"type"`
	State string `json:"state"`

	Role    string `json:"role"`
	Speaker string `json:"speaker"`
	Medium  string `json:"medium"`

	Text       string `json:"text"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`

	Final   bool `json:"final"`
	IsFinal bool `json:"is_final"`

	Message struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
}

func extractTranscriptText(message dataMessage) string {
	if text := strings.TrimSpace(message.Text); text != "" {
		return text
	}
	if text := strings.TrimSpace(message.Transcript); text != "" {
		return text
	}
	return strings.TrimSpace(message.Delta)
}

func extractSpeaker(message dataMessage) domain.Speaker {
	role := strings.ToLower(strings.TrimSpace(message.Role))
	if role == "" {
		role = strings.ToLower(strings.TrimSpace(message.Speaker))
	}
	switch role {
	case "user", "human", "caller":
		return domain.SpeakerUser
	default:
		return domain.SpeakerAgent
	}
}

func extractExperimental(payload []byte, message dataMessage) string {
	if text := strings.TrimSpace(message.Message.Text); text != "" {
		return text
	}
	if message.Message.Type != "" {
		return message.Message.Type
	}

	// Some versions ship "message" as a bare string.
	var loose struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &loose); err == nil {
		return strings.TrimSpace(loose.Message)
	}
	return ""
}

func buildJoinURL(joinURL string, cfg Config) (string, error) {
	base := strings.TrimSpace(joinURL)
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid joinUrl: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("joinUrl has unsupported scheme %q", parsed.Scheme)
	}

	query := parsed.Query()
	if cfg.ExperimentalMessages {
		query.Set("experimentalMessages", "all")
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
