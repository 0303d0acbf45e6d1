// Package voice owns the lifecycle of the real-time call session: a
// single logical connection at a time, heartbeat liveness checking,
// reconnection with exponential backoff, and snapshot-based resume after
// the app was backgrounded. It hides the provider's event surface behind
// one normalized callback contract so the intake controller never talks
// to the vendor directly.
package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"medintake/internal/domain"
	"medintake/internal/faults"
	"medintake/internal/ports"
)

// Config tunes heartbeat, reconnection and snapshot behavior.
type Config struct {
	Audio     ports.AudioConfig
	ChunkSize int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	ReconnectMaxAttempts int
	ReconnectBaseDelay   time.Duration

	SnapshotMaxAge time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChunkSize < 256 {
		c.ChunkSize = 4096
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 10 * time.Second
	}
	if c.ReconnectMaxAttempts <= 0 {
		c.ReconnectMaxAttempts = 5
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.SnapshotMaxAge <= 0 {
		c.SnapshotMaxAge = 5 * time.Minute
	}
	return c
}

var (
	errConnectInFlight   = errors.New("a connect attempt is already in flight")
	errSessionSuperseded = errors.New("session was ended while connecting")
)

// Adapter implements ports.VoiceAdapter.
type Adapter struct {
	dialer ports.VoiceDialer
	mic    ports.AudioCapture
	store  ports.SnapshotStore
	log    logrus.FieldLogger
	cfg    Config

	mu          sync.Mutex
	cb          ports.VoiceCallbacks
	status      domain.ConnectionStatus
	call        domain.CallSession
	current     *liveSession
	connecting  bool
	paused      bool
	transcripts []domain.Utterance

	lastActivity time.Time

	// epoch invalidates in-flight establish attempts: Connect,
	// Disconnect and Pause bump it, and establish refuses to commit a
	// session dialed under an older epoch.
	epoch uint64

	reconnectAttempts int
	lastAttemptTime   time.Time
	reconnecting      bool
	reconnectCancel   chan struct{}
}

type liveSession struct {
	id         string
	stream     ports.VoiceStream
	audio      ports.AudioSession
	cancel     context.CancelFunc
	eventsDone chan struct{}
	audioDone  chan struct{}
	stopBeat   chan struct{}
}

func NewAdapter(
	dialer ports.VoiceDialer,
	mic ports.AudioCapture,
	store ports.SnapshotStore,
	log logrus.FieldLogger,
	cfg Config,
) *Adapter {
	return &Adapter{
		dialer: dialer,
		mic:    mic,
		store:  store,
		log:    log,
		cfg:    cfg.withDefaults(),
		status: domain.StatusIdle,
	}
}

// SetCallbacks must be called before Connect.
func (a *Adapter) SetCallbacks(cb ports.VoiceCallbacks) {
	a.mu.Lock()
	a.cb = cb
	a.mu.Unlock()
}

// Status returns the adapter's current connection status.
func (a *Adapter) Status() domain.ConnectionStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Transcripts returns a copy of the accumulated finalized utterances.
func (a *Adapter) Transcripts() []domain.Utterance {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Utterance(nil), a.transcripts...)
}

// Connect joins the given call. Only one connect may be in flight; a
// concurrent call fails fast instead of queueing. Connecting to a
// different call first tears the old session down.
func (a *Adapter) Connect(ctx context.Context, call domain.CallSession) error {
	a.mu.Lock()
	if a.connecting {
		a.mu.Unlock()
		return errConnectInFlight
	}
	a.connecting = true
	a.epoch++
	epoch := a.epoch
	previous := a.current
	a.current = nil
	sameCall := a.call.CallID == call.CallID
	if !sameCall {
		a.transcripts = nil
	}
	a.call = call
	a.mu.Unlock()

	if previous != nil {
		a.teardown(previous)
	}

	a.setStatus(domain.StatusConnecting)

	err := a.establish(ctx, call, epoch)

	a.mu.Lock()
	a.connecting = false
	a.mu.Unlock()

	if err != nil {
		if errors.Is(err, errSessionSuperseded) {
			return err
		}
		a.setStatus(domain.StatusFailed)
		a.emitError("Connection", err)
		return err
	}
	return nil
}

// establish dials the call, starts microphone capture and the worker
// goroutines, and resets reconnection counters on success. The caller
// reads the epoch under a.mu before calling; a Connect, Disconnect or
// Pause that lands while the dial is in flight bumps it, and the commit
// check below then discards the freshly dialed session instead of
// resurrecting a call the user already ended.
func (a *Adapter) establish(ctx context.Context, call domain.CallSession, epoch uint64) error {
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	stream, err := a.dialer.Join(sessionCtx, call)
	if err != nil {
		cancel()
		return err
	}

	audio, err := a.mic.Start(sessionCtx, a.cfg.Audio)
	if err != nil {
		_ = stream.Close()
		cancel()
		return err
	}

	session := &liveSession{
		id:         uuid.NewString(),
		stream:     stream,
		audio:      audio,
		cancel:     cancel,
		eventsDone: make(chan struct{}),
		audioDone:  make(chan struct{}),
		stopBeat:   make(chan struct{}),
	}

	a.mu.Lock()
	if a.epoch != epoch || a.paused {
		a.mu.Unlock()
		cancel()
		_ = audio.Stop()
		_ = stream.Close()
		return errSessionSuperseded
	}
	a.current = session
	a.reconnectAttempts = 0
	a.lastActivity = time.Now()
	a.mu.Unlock()

	go a.consumeEvents(session)
	go pumpMicAudio(session.audio, session.stream, a.cfg.ChunkSize, func(err error) {
		a.emitError("Session", err)
	}, session.audioDone)
	go a.heartbeat(session)

	a.setStatus(domain.StatusConnected)
	a.saveSnapshot(domain.StatusConnected)

	if a.log != nil {
		a.log.WithFields(logrus.Fields{"session": session.id, "call": call.CallID}).Info("voice session connected")
	}
	return nil
}

// Disconnect ends the current session. With preserveForReconnection the
// session state is snapshotted for a bounded window (the store expires
// it by age); otherwise the snapshot is cleared.
func (a *Adapter) Disconnect(ctx context.Context, preserveForReconnection bool) error {
	a.cancelReconnect()
	a.setStatus(domain.StatusDisconnecting)

	a.mu.Lock()
	a.epoch++
	session := a.current
	a.current = nil
	a.mu.Unlock()

	if preserveForReconnection {
		a.saveSnapshot(domain.StatusDisconnected)
	} else if a.store != nil {
		_ = a.store.Clear()
	}

	if session != nil {
		a.teardown(session)
	}

	a.setStatus(domain.StatusDisconnected)
	return nil
}

// Pause quietly suspends the session while the app is hidden: the
// session is snapshotted and released, and no reconnection is attempted
// until Resume.
func (a *Adapter) Pause() {
	a.cancelReconnect()

	a.mu.Lock()
	if a.paused {
		a.mu.Unlock()
		return
	}
	a.paused = true
	a.epoch++
	session := a.current
	a.current = nil
	a.mu.Unlock()

	a.saveSnapshot(domain.StatusDisconnected)
	if session != nil {
		a.teardown(session)
	}
	a.setStatus(domain.StatusDisconnected)

	if a.log != nil {
		a.log.Info("voice session paused for backgrounding")
	}
}

// Resume restores a paused session. If the app was hidden longer than
// the snapshot window the session is declared over instead of resumed.
func (a *Adapter) Resume(ctx context.Context, hiddenFor time.Duration) error {
	a.mu.Lock()
	if !a.paused {
		a.mu.Unlock()
		return nil
	}
	a.paused = false
	call := a.call
	epoch := a.epoch
	a.mu.Unlock()

	if hiddenFor > a.cfg.SnapshotMaxAge {
		if a.store != nil {
			_ = a.store.Clear()
		}
		a.setStatus(domain.StatusDisconnected)
		a.emitSessionEnd()
		return fmt.Errorf("session expired after %s in background", hiddenFor.Round(time.Second))
	}

	if a.store != nil {
		if snapshot, ok, _ := a.store.Load(); ok {
			call = domain.CallSession{CallID: snapshot.CallID, JoinURL: snapshot.JoinURL}
			a.mu.Lock()
			if len(snapshot.Transcripts) > len(a.transcripts) {
				a.transcripts = append([]domain.Utterance(nil), snapshot.Transcripts...)
			}
			a.call = call
			a.mu.Unlock()
		}
	}

	a.setStatus(domain.StatusReconnecting)
	if err := a.establish(ctx, call, epoch); err != nil {
		if errors.Is(err, errSessionSuperseded) {
			return err
		}
		a.emitError("Reconnection", err)
		a.scheduleReconnect()
		return err
	}
	a.emitTranscripts()
	return nil
}

func (a *Adapter) consumeEvents(session *liveSession) {
	defer close(session.eventsDone)

	for event := range session.stream.Events() {
		a.markActivity()

		switch event.Kind {
		case domain.EventStatus:
			// Provider agent states (listening/thinking/speaking) count
			// as liveness only; connection status is owned here.
		case domain.EventUtterance:
			a.handleUtterance(event)
		case domain.EventExperimental:
			a.emitExperimental(event.Message)
		}
	}

	close(session.stopBeat)
	a.handleStreamEnd(session)
}

func (a *Adapter) handleUtterance(event domain.SessionEvent) {
	if !event.Final {
		a.emitPartial(event.Utterance)
		return
	}

	a.mu.Lock()
	a.transcripts = append(a.transcripts, event.Utterance)
	a.mu.Unlock()
	a.emitTranscripts()
}

// handleStreamEnd decides whether a finished stream was an orderly end
// or a connection loss worth reconnecting from.
func (a *Adapter) handleStreamEnd(session *liveSession) {
	streamErr := session.stream.Wait()

	a.mu.Lock()
	stillCurrent := a.current == session
	if stillCurrent {
		a.current = nil
	}
	status := a.status
	a.mu.Unlock()

	if !stillCurrent || status == domain.StatusDisconnecting || status == domain.StatusDisconnected {
		// Adapter-initiated teardown; nothing more to do.
		return
	}

	_ = session.audio.Stop()
	session.cancel()

	if streamErr == nil {
		// Remote ended the call cleanly (agent hung up).
		if a.store != nil {
			_ = a.store.Clear()
		}
		a.setStatus(domain.StatusDisconnected)
		a.emitSessionEnd()
		return
	}

	a.saveSnapshot(domain.StatusDisconnected)
	a.emitError("Session", streamErr)
	a.scheduleReconnect()
}

// heartbeat watches for event silence. A session that produced no
// activity for a full interval plus the timeout is treated as lost even
// though the transport has not reported an error yet.
func (a *Adapter) heartbeat(session *liveSession) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-session.stopBeat:
			return
		case <-ticker.C:
		}

		a.mu.Lock()
		stillCurrent := a.current == session
		silence := time.Since(a.lastActivity)
		a.mu.Unlock()

		if !stillCurrent {
			return
		}
		if silence < a.cfg.HeartbeatInterval+a.cfg.HeartbeatTimeout {
			continue
		}

		if a.log != nil {
			a.log.WithField("silence", silence.Round(time.Second).String()).Warn("heartbeat timeout, treating session as lost")
		}

		a.mu.Lock()
		if a.current != session {
			a.mu.Unlock()
			return
		}
		a.current = nil
		a.mu.Unlock()

		a.saveSnapshot(domain.StatusDisconnected)
		a.teardown(session)
		a.emitError("Heartbeat", errors.New("no session activity within heartbeat window"))
		a.scheduleReconnect()
		return
	}
}

// scheduleReconnect runs the backoff loop in its own goroutine. Each
// attempt doubles the delay; exhausting the budget fails the session.
func (a *Adapter) scheduleReconnect() {
	a.mu.Lock()
	if a.reconnecting || a.paused {
		a.mu.Unlock()
		return
	}
	a.reconnecting = true
	cancel := make(chan struct{})
	a.reconnectCancel = cancel
	a.mu.Unlock()

	go a.reconnectLoop(cancel)
}

func (a *Adapter) reconnectLoop(cancel chan struct{}) {
	defer func() {
		a.mu.Lock()
		a.reconnecting = false
		a.mu.Unlock()
	}()

	for {
		a.mu.Lock()
		a.reconnectAttempts++
		attempt := a.reconnectAttempts
		a.lastAttemptTime = time.Now()
		call := a.call
		epoch := a.epoch
		a.mu.Unlock()

		if attempt > a.cfg.ReconnectMaxAttempts {
			a.setStatus(domain.StatusFailed)
			a.emitError("Reconnection", &faults.VoiceError{Scope: "Reconnection", Err: faults.ErrReconnectExhausted})
			a.emitSessionEnd()
			return
		}

		a.setStatus(domain.StatusReconnecting)
		delay := a.cfg.ReconnectBaseDelay << (attempt - 1)
		if a.log != nil {
			a.log.WithFields(logrus.Fields{"attempt": attempt, "delay": delay.String()}).Info("scheduling voice reconnect")
		}

		timer := time.NewTimer(delay)
		select {
		case <-cancel:
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := a.establish(context.Background(), call, epoch); err != nil {
			if errors.Is(err, errSessionSuperseded) {
				return
			}
			a.emitError("Reconnection", err)
			continue
		}

		// Hand the accumulated transcript back to the caller so nothing
		// said before the drop is lost.
		a.emitTranscripts()
		return
	}
}

func (a *Adapter) cancelReconnect() {
	a.mu.Lock()
	cancel := a.reconnectCancel
	a.reconnectCancel = nil
	a.mu.Unlock()
	if cancel != nil {
		select {
		case <-cancel:
		default:
			close(cancel)
		}
	}
}

func (a *Adapter) teardown(session *liveSession) {
	session.cancel()
	_ = session.audio.Stop()
	_ = session.stream.Close()
	<-session.eventsDone
	<-session.audioDone
}

func (a *Adapter) markActivity() {
	a.mu.Lock()
	a.lastActivity = time.Now()
	a.mu.Unlock()
}

func (a *Adapter) saveSnapshot(status domain.ConnectionStatus) {
	if a.store == nil {
		return
	}

	a.mu.Lock()
	snapshot := domain.SessionSnapshot{
		CallID:      a.call.CallID,
		JoinURL:     a.call.JoinURL,
		Status:      status,
		Transcripts: append([]domain.Utterance(nil), a.transcripts...),
		Timestamp:   time.Now(),
	}
	a.mu.Unlock()

	if err := a.store.Save(snapshot); err != nil && a.log != nil {
		a.log.WithError(err).Warn("failed to save session snapshot")
	}
}

func (a *Adapter) setStatus(status domain.ConnectionStatus) {
	a.mu.Lock()
	if a.status == status {
		a.mu.Unlock()
		return
	}
	a.status = status
	cb := a.cb.OnStatusChange
	a.mu.Unlock()

	if cb != nil {
		cb(status)
	}
}

func (a *Adapter) emitTranscripts() {
	a.mu.Lock()
	cb := a.cb.OnTranscriptUpdate
	utterances := append([]domain.Utterance(nil), a.transcripts...)
	a.mu.Unlock()

	if cb != nil {
		cb(utterances)
	}
}

func (a *Adapter) emitPartial(u domain.Utterance) {
	a.mu.Lock()
	cb := a.cb.OnPartial
	a.mu.Unlock()
	if cb != nil {
		cb(u)
	}
}

func (a *Adapter) emitExperimental(message string) {
	a.mu.Lock()
	cb := a.cb.OnExperimental
	a.mu.Unlock()
	if cb != nil {
		cb(message)
	}
}

func (a *Adapter) emitSessionEnd() {
	a.mu.Lock()
	cb := a.cb.OnSessionEnd
	a.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// emitError normalizes failures through the callback instead of letting
// them escape across the adapter boundary.
func (a *Adapter) emitError(scope string, err error) {
	if err == nil {
		return
	}
	var voiceErr *faults.VoiceError
	if !errors.As(err, &voiceErr) {
		err = &faults.VoiceError{Scope: scope, Err: err}
	}

	a.mu.Lock()
	cb := a.cb.OnError
	a.mu.Unlock()

	if a.log != nil {
		a.log.WithField("scope", scope).WithError(err).Warn("voice session error")
	}
	if cb != nil {
		cb(scope, err)
	}
}
