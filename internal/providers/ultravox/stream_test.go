package ultravox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"medintake/internal/domain"
)

func TestNewDialerDefaults(t *testing.T) {
	t.Parallel()

	d := NewDialer(Config{})
	if d.cfg.JoinTimeout <= 0 {
		t.Fatalf("expected default join timeout, got %v", d.cfg.JoinTimeout)
	}
}

func TestJoinRequiresJoinURL(t *testing.T) {
	t.Parallel()

	d := NewDialer(Config{})
	_, err := d.Join(context.Background(), domain.CallSession{CallID: "c1"})
	if err == nil {
		t.Fatalf("expected missing joinUrl error")
	}
}

func TestBuildJoinURLUpgradesScheme(t *testing.T) {
	t.Parallel()

	url, err := buildJoinURL("https://call.ultravox.ai/join/abc?token=t1", Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(url, "wss://call.ultravox.ai/join/abc") {
		t.Fatalf("expected wss upgrade: %s", url)
	}
	if !strings.Contains(url, "token=t1") {
		t.Fatalf("query must survive the upgrade: %s", url)
	}

	url, err = buildJoinURL("http://localhost:9000/join/abc", Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(url, "ws://localhost:9000/join/abc") {
		t.Fatalf("expected ws upgrade: %s", url)
	}
}

func TestBuildJoinURLExperimentalMessages(t *testing.T) {
	t.Parallel()

	url, err := buildJoinURL("wss://call.ultravox.ai/join/abc", Config{ExperimentalMessages: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(url, "experimentalMessages=all") {
		t.Fatalf("expected experimentalMessages flag: %s", url)
	}

	url, err = buildJoinURL("wss://call.ultravox.ai/join/abc", Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(url, "experimentalMessages") {
		t.Fatalf("flag must be absent when disabled: %s", url)
	}
}

func TestBuildJoinURLRejectsUnsupportedScheme(t *testing.T) {
	t.Parallel()

	if _, err := buildJoinURL("ftp://call.ultravox.ai/join", Config{}); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
	if _, err := buildJoinURL(":// bad", Config{}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestExtractTranscriptText(t *testing.T) {
	t.Parallel()

	if got := extractTranscriptText(dataMessage{Text: " hello "}); got != "hello" {
		t.Fatalf("unexpected text: %q", got)
	}
	if got := extractTranscriptText(dataMessage{Transcript: "from transcript"}); got != "from transcript" {
		t.Fatalf("unexpected text: %q", got)
	}
	if got := extractTranscriptText(dataMessage{Delta: "delta only"}); got != "delta only" {
		t.Fatalf("unexpected text: %q", got)
	}
	if got := extractTranscriptText(dataMessage{Text: "text wins", Delta: "delta"}); got != "text wins" {
		t.Fatalf("text must take precedence: %q", got)
	}
	if got := extractTranscriptText(dataMessage{}); got != "" {
		t.Fatalf("expected empty text, got %q", got)
	}
}

func TestExtractSpeaker(t *testing.T) {
	t.Parallel()

	cases := []struct {
		message dataMessage
		want    domain.Speaker
	}{
		{dataMessage{Role: "user"}, domain.SpeakerUser},
		{dataMessage{Role: "Human"}, domain.SpeakerUser},
		{dataMessage{Speaker: "caller"}, domain.SpeakerUser},
		{dataMessage{Role: "agent"}, domain.SpeakerAgent},
		{dataMessage{Role: "assistant"}, domain.SpeakerAgent},
		{dataMessage{}, domain.SpeakerAgent},
	}
	for _, tc := range cases {
		if got := extractSpeaker(tc.message); got != tc.want {
			t.Fatalf("extractSpeaker(%+v) = %q, want %q", tc.message, got, tc.want)
		}
	}
}

func TestExtractExperimental(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"type":"experimental_message","message":{"type":"tool_call","text":"hangUp invoked"}}`)
	var message dataMessage
	if err := json.Unmarshal(payload, &message); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got := extractExperimental(payload, message); got != "hangUp invoked" {
		t.Fatalf("unexpected experimental text: %q", got)
	}

	payload = []byte(`{"type":"debug","message":"bare string form"}`)
	message = dataMessage{}
	if got := extractExperimental(payload, message); got != "bare string form" {
		t.Fatalf("unexpected bare message: %q", got)
	}

	payload = []byte(`{"type":"debug","message":{"type":"tool_call"}}`)
	message = dataMessage{}
	if err := json.Unmarshal(payload, &message); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got := extractExperimental(payload, message); got != "tool_call" {
		t.Fatalf("expected type fallback, got %q", got)
	}
}

func newTestCallStream() *callStream {
	return &callStream{
		events:   make(chan domain.SessionEvent, 2),
		audio:    make(chan []byte, 1),
		done:     make(chan struct{}),
		sendStop: make(chan struct{}),
		closing:  make(chan struct{}),
	}
}

func TestCallStreamSendAudioClosed(t *testing.T) {
	t.Parallel()

	s := newTestCallStream()
	_ = s.CloseSend()
	if err := s.SendAudio([]byte("x")); err == nil {
		t.Fatalf("expected closed error")
	}
}

func TestCallStreamSendAudioIgnoresEmptyChunk(t *testing.T) {
	t.Parallel()

	s := newTestCallStream()
	_ = s.CloseSend()
	if err := s.SendAudio(nil); err != nil {
		t.Fatalf("empty chunk must be a no-op: %v", err)
	}
}

func TestCallStreamCloseSendIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestCallStream()
	if err := s.CloseSend(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.CloseSend(); err != nil {
		t.Fatalf("unexpected second error: %v", err)
	}
}

func TestCallStreamSendAudioRacesWithCloseSend(t *testing.T) {
	t.Parallel()

	for i := 0; i < 500; i++ {
		s := newTestCallStream()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.SendAudio([]byte("a"))
			_ = s.SendAudio([]byte("b"))
		}()
		go func() {
			defer wg.Done()
			_ = s.CloseSend()
		}()
		wg.Wait()
	}
}

func TestCallStreamEmitDeliversEveryEvent(t *testing.T) {
	t.Parallel()

	s := newTestCallStream()
	const total = 20

	go func() {
		for i := 0; i < total; i++ {
			s.emit(domain.SessionEvent{Kind: domain.EventUtterance, Final: true})
		}
		close(s.events)
	}()

	received := 0
	for range s.events {
		received++
	}
	if received != total {
		t.Fatalf("slow consumer lost events: got %d of %d", received, total)
	}
}

func TestCallStreamEmitUnblocksOnClose(t *testing.T) {
	t.Parallel()

	s := newTestCallStream()
	s.emit(domain.SessionEvent{Kind: domain.EventStatus, State: "listening"})
	s.emit(domain.SessionEvent{Kind: domain.EventStatus, State: "thinking"})
	close(s.closing)

	finished := make(chan struct{})
	go func() {
		// Buffer is full and nobody is draining; closing must unblock.
		s.emit(domain.SessionEvent{Kind: domain.EventStatus, State: "speaking"})
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatalf("emit stayed blocked after teardown")
	}
}

func TestCallStreamSetErrIgnoresCloseErrors(t *testing.T) {
	t.Parallel()

	s := &callStream{}
	s.setErr(&websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "closed"})
	if s.waitErr() != nil {
		t.Fatalf("expected close error to be ignored")
	}

	s.setErr(errors.New("boom"))
	if s.waitErr() == nil || s.waitErr().Error() != "boom" {
		t.Fatalf("expected non-close error to be captured")
	}
}

func TestCallStreamSetErrFirstWins(t *testing.T) {
	t.Parallel()

	s := &callStream{}
	s.setErr(errors.New("first"))
	s.setErr(errors.New("second"))
	if s.waitErr() == nil || s.waitErr().Error() != "first" {
		t.Fatalf("expected first error to win")
	}
}
