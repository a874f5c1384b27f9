package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rbright/voxrelay/internal/fsm"
	"github.com/rbright/voxrelay/internal/realtime"
)

// readLoop is the single consumer of l's inbound events.
func (m *Machine) readLoop(l *link) {
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			m.handleClose(l, err)
			return
		}
		m.handleMessage(l, data)
	}
}

func (m *Machine) handleMessage(l *link, data []byte) {
	ev, err := realtime.ParseServerEvent(data)
	if err != nil {
		m.logger.Debug("ignoring malformed event", "error", err.Error())
		return
	}

	m.mu.Lock()
	current := m.conn == l
	m.mu.Unlock()
	if !current {
		return
	}

	switch ev.Type {
	case realtime.EventSessionCreated, realtime.EventSessionUpdated:
		m.handleAck(l, ev)
	case realtime.EventTranscriptDelta:
		m.text.AppendTranscription(ev.DeltaText())
	case realtime.EventTranscriptDone:
		m.text.SetTranscription(ev.FinalText())
	case realtime.EventContentDelta:
		m.text.AppendResponse(ev.DeltaText())
	case realtime.EventContentDone:
		m.text.SetResponse(ev.FinalText())
	case realtime.EventAudioDelta:
		m.setProcessing(l, true)
	case realtime.EventAudioDone:
		m.setProcessing(l, false)
	case realtime.EventSpeechStarted, realtime.EventSpeechStopped:
		m.logger.Debug("speech boundary", "event", ev.Type)
	case realtime.EventTypeError:
		m.handleUpstreamError(l, ev)
	default:
		m.logger.Debug("ignoring event", "event", ev.Type)
	}
}

// handleAck starts the ready settle delay on the first acknowledgment that
// enables audio.
func (m *Machine) handleAck(l *link, ev realtime.ServerEvent) {
	if !ev.HasAudio() {
		m.logger.Debug("session acknowledged without audio", "event", ev.Type)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != l || m.audioAcked || m.state != fsm.StateNegotiating {
		return
	}
	m.audioAcked = true
	if l.stepTimer != nil {
		l.stepTimer.Stop()
		l.stepTimer = nil
	}
	m.logger.Debug("audio modality acknowledged", "event", ev.Type, "generation", l.gen)
	m.afterLocked(l, m.cfg.Timing.ReadyDelay, func() { m.enterReady(l) })
}

// enterReady marks the session Ready and flushes the newest queued chunks.
func (m *Machine) enterReady(l *link) {
	m.mu.Lock()
	if m.conn != l || m.state != fsm.StateNegotiating {
		m.mu.Unlock()
		return
	}
	if err := m.transitionLocked(fsm.EventReady); err != nil {
		m.mu.Unlock()
		m.logger.Warn("enter ready failed", "error", err.Error())
		return
	}
	m.policy.Reset()
	m.lastErr = ""
	m.warning = ""

	queued := m.pending
	m.pending = nil
	if over := len(queued) - m.cfg.FlushKeep; over > 0 {
		m.chunksDiscarded.Add(int64(over))
		queued = queued[over:]
	}
	m.flushQueue = append(queued, m.flushQueue...)
	m.flushing = true
	count := len(m.flushQueue)
	m.mu.Unlock()

	m.notify()
	m.logger.Info("session ready", "generation", l.gen, "flushing", count)
	go m.flush(l)
}

// handleClose reacts to the transport closing underneath the session.
func (m *Machine) handleClose(l *link, err error) {
	code := websocket.CloseAbnormalClosure
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		code = closeErr.Code
	}

	m.mu.Lock()
	if m.conn != l {
		m.mu.Unlock()
		return
	}
	m.teardownLocked(l)
	_ = m.transitionLocked(fsm.EventClosed)
	reconnect := !m.userClosed && code != websocket.CloseNormalClosure
	if reconnect {
		m.scheduleReconnectLocked()
	}
	m.mu.Unlock()

	_ = l.conn.Close()
	m.notify()
	m.logger.Info("session transport closed", "generation", l.gen, "code", code, "reconnect", reconnect)
}

// scheduleReconnectLocked consumes one policy attempt or marks the session
// terminally failed. Callers hold m.mu.
func (m *Machine) scheduleReconnectLocked() {
	attempt, delay, ok := m.policy.Next()
	if !ok {
		m.blockErr = ErrReconnectExhausted
		m.lastErr = msgExhausted
		m.pending = nil
		m.responsePending = false
		m.logger.Warn("reconnect attempts exhausted", "attempts", m.policy.MaxAttempts())
		return
	}
	m.lastErr = fmt.Sprintf(msgReconnecting, attempt, m.policy.MaxAttempts())
	m.logger.Info("scheduling reconnect", "attempt", attempt, "delay_ms", delay.Milliseconds())
	m.reconnectTimer = time.AfterFunc(delay, m.reconnect)
}

func (m *Machine) reconnect() {
	m.mu.Lock()
	m.reconnectTimer = nil
	if m.userClosed || m.blockErr != nil {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err := m.dial(context.Background()); err == nil {
		return
	}

	m.mu.Lock()
	if !m.userClosed && m.blockErr == nil && m.conn == nil && !m.dialing && m.reconnectTimer == nil {
		m.scheduleReconnectLocked()
	}
	m.mu.Unlock()
	m.notify()
}

// handleUpstreamError surfaces a classified upstream error and drops the
// connection without scheduling a reconnect. Non-transient classes block
// re-establishment until the next Connect.
func (m *Machine) handleUpstreamError(l *link, ev realtime.ServerEvent) {
	class := realtime.ClassifyEvent(ev.Error)

	m.mu.Lock()
	if m.conn != l {
		m.mu.Unlock()
		return
	}
	m.teardownLocked(l)
	m.pending = nil
	_ = m.transitionLocked(fsm.EventClosed)
	m.lastErr = class.Message()
	if !class.Transient() {
		m.blockErr = &UpstreamError{Class: class, Detail: ev.Error}
	}
	m.mu.Unlock()

	m.notify()
	attrs := []any{"class", string(class), "transient", class.Transient()}
	if ev.Error != nil {
		attrs = append(attrs, "detail", ev.Error.Error())
	}
	m.logger.Warn("upstream error", attrs...)

	_ = l.writeClose(websocket.CloseNormalClosure, "upstream error")
	_ = l.conn.Close()
}

func (m *Machine) setProcessing(l *link, processing bool) {
	m.mu.Lock()
	changed := m.conn == l && m.processing != processing
	if changed {
		m.processing = processing
	}
	m.mu.Unlock()
	if changed {
		m.notify()
	}
}
