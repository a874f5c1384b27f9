// Package conversation ties microphone capture, the chunker, and a backend
// session into one user-facing conversation.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/voxrelay/internal/audio"
	"github.com/rbright/voxrelay/internal/chunker"
	"github.com/rbright/voxrelay/internal/fsm"
	"github.com/rbright/voxrelay/internal/transcript"
)

var (
	ErrCaptureDenied    = errors.New("microphone access denied")
	ErrAlreadyConnected = errors.New("conversation already connected")
	ErrNotConnected     = errors.New("conversation not connected")
)

// MsgCaptureDenied is shown when the microphone cannot be opened.
const MsgCaptureDenied = "Microphone access denied. Please allow microphone access and try again."

// Backend is the capability set shared by the realtime session and the
// turn-based pipeline.
type Backend interface {
	Connect(ctx context.Context) error
	WaitReady(ctx context.Context) error
	SubmitAudio(ctx context.Context, chunk []int16) error
	RequestResponse(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Transcript() *transcript.Transcript
	Status() fsm.Status
	Subscribe(fn func(fsm.Status)) (cancel func())
}

// Capture is a running microphone stream.
type Capture interface {
	Frames() <-chan []float32
	Stop() error
	Device() audio.Device
	FramesDropped() int64
}

// CaptureFunc opens the microphone.
type CaptureFunc func(ctx context.Context) (Capture, error)

// Config tunes the orchestrator.
type Config struct {
	Chunker chunker.Config
	// Grace is how long capture and the backend stay up after the final
	// response request.
	Grace time.Duration
	// DumpDir, when set, receives one WAV file per conversation with every chunk
	// handed to the backend.
	DumpDir string
}

// View is a point-in-time picture of the conversation.
type View struct {
	Status    fsm.Status
	MicActive bool
	Text      transcript.Snapshot
}

// Orchestrator owns one conversation at a time.
type Orchestrator struct {
	cfg     Config
	logger  *slog.Logger
	backend Backend
	open    CaptureFunc

	// lifecycle serialises Connect and Disconnect.
	lifecycle sync.Mutex

	mu          sync.Mutex
	connected   bool
	micActive   bool
	lastErr     string
	capture     Capture
	chunker     *chunker.Chunker
	chunkerDone chan struct{}
	cancelRun   context.CancelFunc
	unsubscribe func()
	dump        *wavDump
	lastStats   chunker.Stats
	dropped     int64

	actions chan action
}

type action int

const actionStop action = iota + 1

// New builds an orchestrator over backend and the capture factory.
func New(backend Backend, open CaptureFunc, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		open:    open,
		actions: make(chan action, 1),
	}
}

// Backend returns the session this orchestrator drives.
func (o *Orchestrator) Backend() Backend {
	return o.backend
}

// View returns backend status, microphone flag, and transcript.
func (o *Orchestrator) View() View {
	status := o.backend.Status()
	o.mu.Lock()
	mic := o.micActive
	if o.lastErr != "" {
		status.Err = o.lastErr
	}
	o.mu.Unlock()
	return View{Status: status, MicActive: mic, Text: o.backend.Transcript().Snapshot()}
}

// Connected reports whether a conversation is in progress.
func (o *Orchestrator) Connected() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.connected
}

// Stats returns chunker counters of the current or last conversation.
func (o *Orchestrator) Stats() chunker.Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.chunker != nil {
		return o.chunker.Stats()
	}
	return o.lastStats
}

// Connect starts a new conversation: the transcript is cleared, the
// microphone opened, the backend connected, and audio chunking started.
// Readiness is awaited softly; a slow negotiation only leaves a warning.
func (o *Orchestrator) Connect(ctx context.Context) error {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	o.mu.Lock()
	if o.connected {
		o.mu.Unlock()
		return ErrAlreadyConnected
	}
	o.lastErr = ""
	o.mu.Unlock()

	o.backend.Transcript().Reset()

	capture, err := o.open(ctx)
	if err != nil {
		o.mu.Lock()
		o.lastErr = MsgCaptureDenied
		o.mu.Unlock()
		o.logger.Error("open microphone failed", "error", err.Error())
		return fmt.Errorf("%w: %v", ErrCaptureDenied, err)
	}
	o.mu.Lock()
	o.micActive = true
	o.mu.Unlock()

	if err := o.backend.Connect(ctx); err != nil {
		_ = capture.Stop()
		o.mu.Lock()
		o.micActive = false
		o.mu.Unlock()
		return fmt.Errorf("connect backend: %w", err)
	}

	unsubscribe := o.backend.Subscribe(func(s fsm.Status) {
		o.logger.Debug("backend status",
			"state", s.State,
			"connection", s.Connection(),
			"processing", s.Processing,
			"error", s.Err,
		)
	})

	if err := o.backend.WaitReady(ctx); err != nil {
		o.logger.Warn("backend not ready yet", "error", err.Error())
	}

	dump := o.openDump()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ch := chunker.New(o.cfg.Chunker, o.sendFunc(dump), func() {
		if err := o.backend.RequestResponse(runCtx); err != nil {
			o.logger.Debug("periodic response request failed", "error", err.Error())
		}
	}, o.logger)
	done := make(chan struct{})

	o.mu.Lock()
	o.connected = true
	o.capture = capture
	o.chunker = ch
	o.chunkerDone = done
	o.cancelRun = cancel
	o.unsubscribe = unsubscribe
	o.dump = dump
	o.mu.Unlock()

	// Drain actions left over from a previous conversation.
	select {
	case <-o.actions:
	default:
	}

	go func() {
		defer close(done)
		if err := ch.Run(runCtx, capture.Frames()); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Warn("chunker stopped", "error", err.Error())
		}
	}()

	o.logger.Info("conversation connected", "device", describeDevice(capture.Device()))
	return nil
}

func (o *Orchestrator) sendFunc(dump *wavDump) chunker.SendFunc {
	return func(ctx context.Context, chunk []int16) error {
		if dump != nil {
			if err := dump.write(chunk); err != nil {
				o.logger.Debug("audio dump write failed", "error", err.Error())
			}
		}
		return o.backend.SubmitAudio(ctx, chunk)
	}
}

// Disconnect ends the conversation in order: chunking stops, a final response
// is requested, the grace window elapses, then capture and backend are torn
// down. The transcript is kept.
func (o *Orchestrator) Disconnect(ctx context.Context) error {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	o.mu.Lock()
	if !o.connected {
		o.mu.Unlock()
		return nil
	}
	ch, capture, done, cancel := o.chunker, o.capture, o.chunkerDone, o.cancelRun
	unsubscribe, dump := o.unsubscribe, o.dump
	o.mu.Unlock()

	ch.Stop()

	if err := o.backend.RequestResponse(ctx); err != nil {
		o.logger.Debug("final response request failed", "error", err.Error())
	}

	if o.cfg.Grace > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(o.cfg.Grace):
		}
	}

	_ = capture.Stop()
	cancel()
	<-done

	var errs []error
	if err := o.backend.Disconnect(ctx); err != nil {
		errs = append(errs, fmt.Errorf("disconnect backend: %w", err))
	}
	unsubscribe()
	if dump != nil {
		if err := dump.close(); err != nil {
			errs = append(errs, fmt.Errorf("close audio dump: %w", err))
		} else {
			o.logger.Info("audio dump written", "path", dump.path)
		}
	}

	stats := ch.Stats()
	o.mu.Lock()
	o.connected = false
	o.micActive = false
	o.capture = nil
	o.chunker = nil
	o.lastStats = stats
	o.dropped = capture.FramesDropped()
	o.dump = nil
	o.mu.Unlock()

	if stats.CorrectedSamples > 0 {
		o.logger.Warn("corrected invalid capture samples", "corrected", stats.CorrectedSamples, "samples", stats.Samples)
	}
	o.logger.Info("conversation disconnected",
		"chunks", stats.Chunks,
		"finalizes", stats.Finalizes,
		"dropped_frames", stats.DroppedFrames,
		"capture_dropped_frames", o.dropped,
	)
	return errors.Join(errs...)
}

// describeDevice formats device metadata for logs and results.
func describeDevice(device audio.Device) string {
	description := strings.TrimSpace(device.Description)
	id := strings.TrimSpace(device.ID)
	if description == "" {
		return id
	}
	if id == "" {
		return description
	}
	return fmt.Sprintf("%s (%s)", description, id)
}
