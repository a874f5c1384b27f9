package session

import (
	"context"
	"time"

	"github.com/rbright/voxrelay/internal/fsm"
	"github.com/rbright/voxrelay/internal/pcm"
	"github.com/rbright/voxrelay/internal/realtime"
)

// Submit hands one PCM16 chunk to the session. In Ready the chunk is written
// immediately and Sent is returned. Otherwise it is queued (newest kept) and
// Queued is returned without error; a disconnected session starts
// re-establishing in the background.
func (m *Machine) Submit(ctx context.Context, chunk []int16) (Outcome, error) {
	if len(chunk) == 0 {
		return Queued, nil
	}

	m.mu.Lock()
	if m.userClosed {
		m.mu.Unlock()
		return Queued, ErrClosed
	}
	if m.blockErr != nil {
		err := m.blockErr
		m.mu.Unlock()
		return Queued, err
	}
	if m.state == fsm.StateReady && m.conn != nil && !m.flushing {
		l := m.conn
		m.mu.Unlock()
		if err := m.sendAudio(l, chunk); err != nil {
			return Queued, err
		}
		return Sent, nil
	}

	if m.flushing {
		m.flushQueue = append(m.flushQueue, chunk)
	} else {
		m.enqueueLocked(chunk)
	}
	redial := m.state == fsm.StateDisconnected && m.conn == nil && !m.dialing && m.reconnectTimer == nil
	m.mu.Unlock()

	if redial {
		m.logger.Info("re-establishing session for queued audio")
		go func() {
			_ = m.dial(context.WithoutCancel(ctx))
		}()
	}
	return Queued, nil
}

// SubmitAudio is Submit without the outcome.
func (m *Machine) SubmitAudio(ctx context.Context, chunk []int16) error {
	_, err := m.Submit(ctx, chunk)
	return err
}

// RequestResponse asks the upstream to finalize the appended audio and respond.
// Before Ready the request is remembered and replayed exactly once after the
// queued audio is flushed; only Disconnect forgets it. In Ready with nothing
// appended since the last commit it is a no-op.
func (m *Machine) RequestResponse(_ context.Context) error {
	m.mu.Lock()
	switch {
	case m.userClosed || m.state == fsm.StateClosing:
		m.mu.Unlock()
		return ErrClosed
	case m.blockErr != nil:
		err := m.blockErr
		m.mu.Unlock()
		return err
	case m.state != fsm.StateReady || m.flushing:
		m.responsePending = true
		m.mu.Unlock()
		return nil
	}
	if !m.audioUncommitted {
		m.mu.Unlock()
		return nil
	}
	m.audioUncommitted = false
	l := m.conn
	m.mu.Unlock()

	return m.sendResponse(l)
}

// enqueueLocked appends to the pending queue, evicting the oldest chunks past
// the limit. Callers hold m.mu.
func (m *Machine) enqueueLocked(chunk []int16) {
	m.pending = append(m.pending, chunk)
	if over := len(m.pending) - m.cfg.PendingLimit; over > 0 {
		m.pending = append(m.pending[:0:0], m.pending[over:]...)
		m.chunksDiscarded.Add(int64(over))
	}
}

func (m *Machine) sendAudio(l *link, chunk []int16) error {
	m.mu.Lock()
	if m.conn != l {
		m.mu.Unlock()
		return ErrNotReady
	}
	m.audioUncommitted = true
	changed := !m.processing
	m.processing = true
	m.mu.Unlock()
	if changed {
		m.notify()
	}

	if err := l.write(realtime.AppendAudio(pcm.Base64(chunk))); err != nil {
		m.logger.Warn("send audio chunk failed", "generation", l.gen, "error", err.Error())
		return err
	}
	m.chunksSent.Add(1)
	return nil
}

// sendResponse writes the commit and schedules the response request after
// the commit delay.
func (m *Machine) sendResponse(l *link) error {
	if err := l.write(realtime.CommitAudio()); err != nil {
		m.logger.Warn("commit audio failed", "generation", l.gen, "error", err.Error())
		return err
	}
	m.responses.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != l {
		return nil
	}
	m.afterLocked(l, m.cfg.Timing.CommitDelay, func() {
		if l.stopped() {
			return
		}
		if err := l.write(realtime.CreateResponse()); err != nil {
			m.logger.Warn("response request failed", "generation", l.gen, "error", err.Error())
		}
	})
	return nil
}

// flush drains the flush queue with pacing between chunks, then replays a
// response request that arrived before Ready.
func (m *Machine) flush(l *link) {
	pacing := m.cfg.Timing.FlushPacing
	first := true
	for {
		if !first {
			select {
			case <-l.done:
				return
			case <-time.After(pacing):
			}
		}

		m.mu.Lock()
		if m.conn != l || l.stopped() {
			m.mu.Unlock()
			return
		}
		if len(m.flushQueue) == 0 {
			m.flushing = false
			replay := m.responsePending
			m.responsePending = false
			m.audioUncommitted = false
			m.mu.Unlock()
			if replay {
				m.logger.Debug("replaying pending response request", "generation", l.gen)
				_ = m.sendResponse(l)
			}
			return
		}
		chunk := m.flushQueue[0]
		m.flushQueue = m.flushQueue[1:]
		m.mu.Unlock()

		first = false
		if err := m.sendAudio(l, chunk); err != nil {
			return
		}
	}
}

// sendTextStep sends the text-only negotiation message and schedules the
// audio step, unless audio is already acknowledged.
func (m *Machine) sendTextStep(l *link) {
	m.mu.Lock()
	skip := m.conn != l || m.state != fsm.StateNegotiating || m.audioAcked
	m.mu.Unlock()
	if skip {
		return
	}

	if err := l.write(realtime.TextSessionUpdate()); err != nil {
		m.logger.Warn("negotiation step failed", "step", 1, "error", err.Error())
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == l && !m.audioAcked {
		l.stepTimer = m.afterLocked(l, m.cfg.Timing.AudioStepDelay, func() { m.sendAudioStep(l) })
	}
}

func (m *Machine) sendAudioStep(l *link) {
	m.mu.Lock()
	skip := m.conn != l || m.state != fsm.StateNegotiating || m.audioAcked
	m.mu.Unlock()
	if skip {
		return
	}

	if err := l.write(realtime.AudioSessionUpdate(m.cfg.Voice)); err != nil {
		m.logger.Warn("negotiation step failed", "step", 2, "error", err.Error())
	}
}
