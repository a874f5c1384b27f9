// Package pipeline implements the turn-based backend: buffered audio is
// transcribed, then answered, through the relay's HTTP API.
package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/voxrelay/internal/assistant"
	"github.com/rbright/voxrelay/internal/fsm"
	"github.com/rbright/voxrelay/internal/pcm"
	"github.com/rbright/voxrelay/internal/transcript"
)

var (
	ErrNotReady = errors.New("pipeline not ready")
	ErrClosed   = errors.New("pipeline closed")
)

const (
	msgUnreachable     = "Failed to reach the relay API. Please try again."
	msgTranscribeError = "Failed to transcribe audio. Please try again."
	msgRespondError    = "Failed to get AI response. Please try again."
	turnFilename       = "turn.wav"
)

// Config describes how a Turn reaches the relay API.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	SampleRate int
	// RequestTimeout bounds each API call of a turn.
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = pcm.SampleRate
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	return c
}

// Stats counts turn outcomes.
type Stats struct {
	Turns    int64
	Failures int64
	Samples  int64
}

// Turn buffers submitted PCM16 chunks and runs one transcribe-then-respond
// exchange per RequestResponse, in request order.
type Turn struct {
	cfg    Config
	logger *slog.Logger
	api    *apiClient
	text   *transcript.Transcript

	mu         sync.Mutex
	state      fsm.State
	processing bool
	lastErr    string
	warning    string
	buffer     []int16
	history    []assistant.Message
	queue      [][]int16
	draining   bool
	wake       chan struct{}
	workerDone chan struct{}
	cancel     context.CancelFunc

	notifyMu sync.Mutex
	subMu    sync.Mutex
	nextSub  uint64
	subs     []statusSub

	turns    atomic.Int64
	failures atomic.Int64
	samples  atomic.Int64
}

type statusSub struct {
	id uint64
	fn func(fsm.Status)
}

// New builds a disconnected Turn writing into text (a fresh transcript when nil).
func New(cfg Config, text *transcript.Transcript, logger *slog.Logger) *Turn {
	cfg = cfg.withDefaults()
	if text == nil {
		text = transcript.New()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Turn{
		cfg:    cfg,
		logger: logger,
		api:    newAPIClient(cfg.BaseURL, cfg.HTTPClient),
		text:   text,
		state:  fsm.StateDisconnected,
	}
}

// Transcript returns the buffers this backend writes into.
func (t *Turn) Transcript() *transcript.Transcript {
	return t.text
}

// Status returns state, processing flag, last error, and soft warning.
func (t *Turn) Status() fsm.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fsm.Status{State: t.state, Processing: t.processing, Err: t.lastErr, Warning: t.warning}
}

// Stats returns turn counters.
func (t *Turn) Stats() Stats {
	return Stats{Turns: t.turns.Load(), Failures: t.failures.Load(), Samples: t.samples.Load()}
}

// History returns a copy of the chat history sent with the next turn.
func (t *Turn) History() []assistant.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]assistant.Message(nil), t.history...)
}

// Subscribe registers fn for status changes.
func (t *Turn) Subscribe(fn func(fsm.Status)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	t.subMu.Lock()
	t.nextSub++
	id := t.nextSub
	t.subs = append(t.subs, statusSub{id: id, fn: fn})
	t.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.subMu.Lock()
			defer t.subMu.Unlock()
			for i, s := range t.subs {
				if s.id == id {
					t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (t *Turn) notify() {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	status := t.Status()
	t.subMu.Lock()
	subs := append([]statusSub(nil), t.subs...)
	t.subMu.Unlock()
	for _, s := range subs {
		s.fn(status)
	}
}

func (t *Turn) transitionLocked(event fsm.Event) error {
	next, err := fsm.Transition(t.state, event)
	if err != nil {
		return err
	}
	t.state = next
	return nil
}

// Connect checks the relay API and starts the turn worker. The backend is
// ready as soon as the health check answers.
func (t *Turn) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.state != fsm.StateDisconnected {
		t.mu.Unlock()
		return nil
	}
	if err := t.transitionLocked(fsm.EventConnect); err != nil {
		t.mu.Unlock()
		return err
	}
	t.lastErr = ""
	t.warning = ""
	t.mu.Unlock()
	t.notify()

	if err := t.api.health(ctx); err != nil {
		t.mu.Lock()
		_ = t.transitionLocked(fsm.EventClosed)
		t.lastErr = msgUnreachable
		t.mu.Unlock()
		t.notify()
		t.logger.Warn("pipeline health check failed", "base_url", t.cfg.BaseURL, "error", err.Error())
		return fmt.Errorf("relay api health: %w", err)
	}

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	wake := make(chan struct{}, 1)
	done := make(chan struct{})

	t.mu.Lock()
	_ = t.transitionLocked(fsm.EventOpened)
	_ = t.transitionLocked(fsm.EventReady)
	t.buffer = nil
	t.history = nil
	t.queue = nil
	t.draining = false
	t.wake = wake
	t.workerDone = done
	t.cancel = cancel
	t.mu.Unlock()
	t.notify()

	go t.work(workerCtx, wake, done)
	t.logger.Info("pipeline connected", "base_url", t.cfg.BaseURL)
	return nil
}

// WaitReady reports whether Connect reached ready.
func (t *Turn) WaitReady(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == fsm.StateReady {
		return nil
	}
	return ErrNotReady
}

// SubmitAudio appends chunk to the buffer of the current turn.
func (t *Turn) SubmitAudio(_ context.Context, chunk []int16) error {
	if len(chunk) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case fsm.StateReady:
	case fsm.StateClosing:
		return ErrClosed
	default:
		return ErrNotReady
	}
	t.buffer = append(t.buffer, chunk...)
	t.samples.Add(int64(len(chunk)))
	return nil
}

// RequestResponse hands the buffered audio to the worker as one turn. An empty
// buffer is a no-op.
func (t *Turn) RequestResponse(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case fsm.StateReady:
	case fsm.StateClosing:
		return ErrClosed
	default:
		return ErrNotReady
	}
	if len(t.buffer) == 0 {
		return nil
	}
	t.queue = append(t.queue, t.buffer)
	t.buffer = nil
	t.signalLocked()
	return nil
}

func (t *Turn) signalLocked() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// State returns the current state snapshot.
func (t *Turn) State() fsm.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Disconnect stops accepting audio and waits for queued turns to finish. When
// ctx ends first, the turn in flight is cancelled.
func (t *Turn) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	if t.workerDone == nil {
		_ = t.transitionLocked(fsm.EventClosed)
		t.mu.Unlock()
		t.notify()
		return nil
	}
	_ = t.transitionLocked(fsm.EventClose)
	t.buffer = nil
	t.draining = true
	t.signalLocked()
	done, cancel := t.workerDone, t.cancel
	t.workerDone = nil
	t.mu.Unlock()
	t.notify()

	select {
	case <-done:
	case <-ctx.Done():
		cancel()
		<-done
	}
	cancel()

	t.mu.Lock()
	_ = t.transitionLocked(fsm.EventClosed)
	t.processing = false
	t.queue = nil
	t.mu.Unlock()
	t.notify()
	t.logger.Info("pipeline disconnected", "turns", t.turns.Load(), "failures", t.failures.Load())
	return nil
}

// work runs queued turns one at a time until the queue is drained after
// Disconnect, or ctx is cancelled.
func (t *Turn) work(ctx context.Context, wake <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		t.mu.Lock()
		if len(t.queue) == 0 {
			draining := t.draining
			t.mu.Unlock()
			if draining {
				return
			}
			select {
			case <-wake:
			case <-ctx.Done():
				return
			}
			continue
		}
		audio := t.queue[0]
		t.queue = t.queue[1:]
		t.mu.Unlock()

		t.setProcessing(true)
		err := t.run(ctx, audio)
		t.setProcessing(false)
		if err != nil {
			t.failures.Add(1)
			t.logger.Warn("pipeline turn failed", "error", err.Error(), "samples", len(audio))
			continue
		}
		t.turns.Add(1)
	}
}

func (t *Turn) run(ctx context.Context, audio []int16) error {
	var wav bytes.Buffer
	if err := pcm.WriteWAV(&wav, audio, t.cfg.SampleRate, 1); err != nil {
		return fmt.Errorf("encode turn audio: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, t.cfg.RequestTimeout)
	heard, err := t.api.transcribe(callCtx, base64.StdEncoding.EncodeToString(wav.Bytes()), turnFilename)
	cancel()
	if err != nil {
		t.fail(msgTranscribeError)
		return fmt.Errorf("transcribe: %w", err)
	}
	heard = strings.TrimSpace(heard)
	if heard == "" {
		t.logger.Debug("pipeline turn had no speech", "samples", len(audio))
		return nil
	}
	t.text.AppendTranscriptionTurn(heard)

	t.mu.Lock()
	t.history = append(t.history, assistant.Message{Role: assistant.RoleUser, Content: heard})
	history := append([]assistant.Message(nil), t.history...)
	t.mu.Unlock()

	callCtx, cancel = context.WithTimeout(ctx, t.cfg.RequestTimeout)
	reply, err := t.api.respond(callCtx, history)
	cancel()
	if err != nil {
		t.fail(msgRespondError)
		return fmt.Errorf("respond: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil
	}
	t.text.AppendResponseTurn(reply)

	t.mu.Lock()
	t.history = append(t.history, assistant.Message{Role: assistant.RoleAssistant, Content: reply})
	t.lastErr = ""
	t.mu.Unlock()
	t.notify()
	return nil
}

func (t *Turn) fail(message string) {
	t.mu.Lock()
	t.lastErr = message
	t.mu.Unlock()
	t.notify()
}

func (t *Turn) setProcessing(on bool) {
	t.mu.Lock()
	changed := t.processing != on
	t.processing = on
	t.mu.Unlock()
	if changed {
		t.notify()
	}
}
