// Package session owns the control connection to the relay: capability
// negotiation, the readiness gate, audio queueing, response triggers, and
// reconnection.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rbright/voxrelay/internal/fsm"
	"github.com/rbright/voxrelay/internal/realtime"
	"github.com/rbright/voxrelay/internal/transcript"
)

var (
	ErrConnectTimeout     = errors.New("connection timeout")
	ErrNotReady           = errors.New("session not ready")
	ErrClosed             = errors.New("session closed")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

const (
	msgReconnecting  = "Connection lost. Reconnecting... (%d/%d)"
	msgExhausted     = "Connection failed after multiple attempts. Please try again."
	msgTimeout       = "Connection timeout. Please check your network and try again."
	msgConnectFailed = "Failed to connect to the relay. Please try again."
	msgNotReady      = "Session is still initializing; audio will be sent once ready."
)

// Outcome tells a Submit caller what happened to its chunk.
type Outcome int

const (
	// Queued means no result yet: the chunk waits for readiness.
	Queued Outcome = iota
	Sent
)

// UpstreamError is an error event reported by the realtime service.
type UpstreamError struct {
	Class  realtime.ErrorClass
	Detail *realtime.EventError
}

func (e *UpstreamError) Error() string {
	if e.Detail != nil && e.Detail.Message != "" {
		return fmt.Sprintf("%s: %s", e.Class, e.Detail.Message)
	}
	return string(e.Class)
}

// Stats counts audio and response traffic over the machine's lifetime.
type Stats struct {
	ChunksSent      int64
	ChunksDiscarded int64
	Responses       int64
	Connects        int64
}

// Machine is the session state machine. All exported methods are safe for
// concurrent use.
type Machine struct {
	cfg    Config
	logger *slog.Logger
	text   *transcript.Transcript
	policy *ReconnectPolicy

	mu               sync.Mutex
	state            fsm.State
	conn             *link
	gen              uint64
	dialing          bool
	userClosed       bool
	blockErr         error
	processing       bool
	lastErr          string
	warning          string
	pending          [][]int16
	flushQueue       [][]int16
	flushing         bool
	responsePending  bool
	audioUncommitted bool
	audioAcked       bool
	reconnectTimer   *time.Timer

	notifyMu sync.Mutex
	subMu    sync.Mutex
	nextSub  uint64
	subs     []statusSub

	chunksSent      atomic.Int64
	chunksDiscarded atomic.Int64
	responses       atomic.Int64
	connects        atomic.Int64
}

type statusSub struct {
	id uint64
	fn func(fsm.Status)
}

// New builds a disconnected machine writing into text (a fresh transcript when nil).
func New(cfg Config, text *transcript.Transcript, logger *slog.Logger) *Machine {
	cfg = cfg.withDefaults()
	if text == nil {
		text = transcript.New()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Machine{
		cfg:    cfg,
		logger: logger,
		text:   text,
		policy: NewReconnectPolicy(cfg.ReconnectAttempts, cfg.ReconnectBase, cfg.ReconnectCeiling),
		state:  fsm.StateDisconnected,
	}
}

// Transcript returns the buffers this machine writes incoming text into.
func (m *Machine) Transcript() *transcript.Transcript {
	return m.text
}

// State returns the current state snapshot.
func (m *Machine) State() fsm.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns state, processing flag, last error, and soft warning.
func (m *Machine) Status() fsm.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Machine) statusLocked() fsm.Status {
	return fsm.Status{
		State:      m.state,
		Processing: m.processing,
		Err:        m.lastErr,
		Warning:    m.warning,
	}
}

// Stats returns traffic counters.
func (m *Machine) Stats() Stats {
	return Stats{
		ChunksSent:      m.chunksSent.Load(),
		ChunksDiscarded: m.chunksDiscarded.Load(),
		Responses:       m.responses.Load(),
		Connects:        m.connects.Load(),
	}
}

// Subscribe registers fn for status changes. Listeners run synchronously and must
// not call Connect, Disconnect, Submit, or RequestResponse.
func (m *Machine) Subscribe(fn func(fsm.Status)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	m.subMu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs = append(m.subs, statusSub{id: id, fn: fn})
	m.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			for i, s := range m.subs {
				if s.id == id {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (m *Machine) notify() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	status := m.Status()
	m.subMu.Lock()
	subs := append([]statusSub(nil), m.subs...)
	m.subMu.Unlock()
	for _, s := range subs {
		s.fn(status)
	}
}

// transitionLocked applies one FSM event. Callers hold m.mu.
func (m *Machine) transitionLocked(event fsm.Event) error {
	next, err := fsm.Transition(m.state, event)
	if err != nil {
		return err
	}
	if next != m.state {
		m.logger.Debug("session transition", "from", m.state, "event", event, "to", next)
	}
	m.state = next
	return nil
}

// Connect opens the control connection and starts negotiation. It returns once
// the transport is open; readiness follows asynchronously (see WaitReady).
// Connect clears a terminal error and resets the reconnect policy.
func (m *Machine) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.userClosed = false
	m.blockErr = nil
	m.lastErr = ""
	m.warning = ""
	m.stopReconnectLocked()
	m.policy.Reset()
	m.mu.Unlock()

	return m.dial(ctx)
}

// dial opens one connection unless one exists or is already being opened.
func (m *Machine) dial(ctx context.Context) error {
	m.mu.Lock()
	if m.conn != nil || m.dialing {
		m.mu.Unlock()
		return nil
	}
	if err := m.transitionLocked(fsm.EventConnect); err != nil {
		m.mu.Unlock()
		return err
	}
	m.dialing = true
	m.mu.Unlock()
	m.notify()

	timeout := m.cfg.Timing.ConnectTimeout
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	conn, resp, err := m.cfg.Dialer.DialContext(dialCtx, m.cfg.URL, m.cfg.Header)
	timedOut := errors.Is(dialCtx.Err(), context.DeadlineExceeded)
	cancel()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	m.mu.Lock()
	m.dialing = false
	if err != nil {
		_ = m.transitionLocked(fsm.EventClosed)
		if timedOut {
			m.lastErr = msgTimeout
			err = fmt.Errorf("%w after %s", ErrConnectTimeout, timeout)
		} else {
			m.lastErr = msgConnectFailed
			err = fmt.Errorf("dial relay %s: %w", m.cfg.URL, err)
		}
		m.mu.Unlock()
		m.notify()
		m.logger.Warn("session connect failed", "url", m.cfg.URL, "error", err.Error())
		return err
	}
	if m.userClosed {
		_ = m.transitionLocked(fsm.EventClosed)
		m.mu.Unlock()
		_ = conn.Close()
		m.notify()
		return ErrClosed
	}

	m.gen++
	l := newLink(conn, m.gen)
	m.conn = l
	_ = m.transitionLocked(fsm.EventOpened)
	m.lastErr = ""
	m.audioAcked = false
	m.afterLocked(l, m.cfg.Timing.SettleDelay, func() { m.sendTextStep(l) })
	m.mu.Unlock()

	m.connects.Add(1)
	m.notify()
	m.logger.Info("session connected", "url", m.cfg.URL, "generation", l.gen)

	go m.readLoop(l)
	return nil
}

// WaitReady polls for readiness. The poll budget (attempts x interval) is
// counted on top of the configured negotiation delays. On timeout it records a
// soft warning and returns ErrNotReady; queued audio is kept.
func (m *Machine) WaitReady(ctx context.Context) error {
	deadline := time.NewTimer(m.readyWindow())
	defer deadline.Stop()
	ticker := time.NewTicker(m.cfg.Timing.ReadyPollInterval)
	defer ticker.Stop()

	for {
		if m.State() == fsm.StateReady {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			continue
		case <-deadline.C:
		}
		if m.State() == fsm.StateReady {
			return nil
		}
		m.mu.Lock()
		m.warning = msgNotReady
		m.mu.Unlock()
		m.notify()
		return ErrNotReady
	}
}

// readyWindow is settle + audio step + ready delay plus the poll budget.
func (m *Machine) readyWindow() time.Duration {
	t := m.cfg.Timing
	negotiation := t.SettleDelay + t.AudioStepDelay + t.ReadyDelay
	return negotiation + time.Duration(t.ReadyPollAttempts)*t.ReadyPollInterval
}

// Disconnect closes the session at the user's request: timers are cancelled,
// one final response is requested when uncommitted audio was sent, and the
// transport is closed with a normal-closure code. No reconnection follows.
func (m *Machine) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.userClosed = true
	m.stopReconnectLocked()
	m.pending = nil
	m.flushQueue = nil
	m.responsePending = false

	l := m.conn
	if l == nil {
		if m.dialing {
			_ = m.transitionLocked(fsm.EventClose)
		} else {
			_ = m.transitionLocked(fsm.EventClosed)
		}
		m.processing = false
		m.mu.Unlock()
		m.notify()
		return nil
	}

	final := m.state == fsm.StateReady && m.audioUncommitted
	m.audioUncommitted = false
	_ = m.transitionLocked(fsm.EventClose)
	l.quiesce()
	m.mu.Unlock()
	m.notify()

	if final {
		m.responses.Add(1)
		if err := l.write(realtime.CommitAudio()); err == nil {
			select {
			case <-ctx.Done():
			case <-time.After(m.cfg.Timing.CommitDelay):
			}
			if err := l.write(realtime.CreateResponse()); err != nil {
				m.logger.Debug("final response request failed", "error", err.Error())
			}
		}
	}

	if err := l.writeClose(websocket.CloseNormalClosure, "User requested disconnect"); err != nil {
		m.logger.Debug("write close frame failed", "error", err.Error())
	}

	m.mu.Lock()
	if m.conn == l {
		m.teardownLocked(l)
	}
	_ = m.transitionLocked(fsm.EventClosed)
	m.mu.Unlock()

	_ = l.conn.Close()
	m.notify()
	m.logger.Info("session disconnected", "generation", l.gen)
	return nil
}

// afterLocked schedules fn on l; teardown cancels it. Callers hold m.mu.
func (m *Machine) afterLocked(l *link, d time.Duration, fn func()) *time.Timer {
	t := time.AfterFunc(d, fn)
	l.timers = append(l.timers, t)
	return t
}

// teardownLocked releases l and resets every per-connection flag. Queued audio
// and a pending response request survive for the next connection. Callers
// hold m.mu.
func (m *Machine) teardownLocked(l *link) {
	l.quiesce()
	m.conn = nil
	m.flushQueue = nil
	m.flushing = false
	m.audioUncommitted = false
	m.audioAcked = false
	m.processing = false
}

func (m *Machine) stopReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}
