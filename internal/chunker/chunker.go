// Package chunker batches live capture frames into fixed-interval PCM16 chunks and
// periodically asks the backend to respond.
package chunker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/voxrelay/internal/pcm"
)

// Config controls batching and finalize cadence.
type Config struct {
	BatchInterval    time.Duration
	FinalizeInterval time.Duration
	MinAudio         time.Duration
	MaxPendingFrames int
	SampleRate       int
}

// DefaultConfig mirrors the shipped configuration defaults.
func DefaultConfig() Config {
	return Config{
		BatchInterval:    500 * time.Millisecond,
		FinalizeInterval: 3 * time.Second,
		MinAudio:         2 * time.Second,
		MaxPendingFrames: 10,
		SampleRate:       pcm.SampleRate,
	}
}

// SendFunc hands one contiguous chunk to the backend.
type SendFunc func(context.Context, []int16) error

// FinalizeFunc asks the backend for a response to the audio sent so far.
type FinalizeFunc func()

// Stats summarizes one chunker lifetime.
type Stats struct {
	Frames           int64
	DroppedFrames    int64
	Chunks           int64
	Finalizes        int64
	Samples          int64
	CorrectedSamples int64
}

// Chunker owns the accumulation buffer between the capture callback and the backend.
type Chunker struct {
	cfg      Config
	logger   *slog.Logger
	send     SendFunc
	finalize FinalizeFunc
	encoder  pcm.Encoder

	accepting atomic.Bool

	mu     sync.Mutex
	frames [][]int16
	sent   time.Duration

	// sendMu is held across a send so Stop can wait out the one in flight.
	sendMu sync.Mutex

	stopOnce sync.Once
	stopCh   chan struct{}

	framesIn  atomic.Int64
	dropped   atomic.Int64
	chunks    atomic.Int64
	finalizes atomic.Int64
}

// New builds an accepting chunker. Zero config fields take DefaultConfig values.
func New(cfg Config, send SendFunc, finalize FinalizeFunc, logger *slog.Logger) *Chunker {
	def := DefaultConfig()
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = def.BatchInterval
	}
	if cfg.FinalizeInterval <= 0 {
		cfg.FinalizeInterval = def.FinalizeInterval
	}
	if cfg.MinAudio < 0 {
		cfg.MinAudio = def.MinAudio
	}
	if cfg.MaxPendingFrames <= 0 {
		cfg.MaxPendingFrames = def.MaxPendingFrames
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if send == nil {
		send = func(context.Context, []int16) error { return nil }
	}
	if finalize == nil {
		finalize = func() {}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &Chunker{
		cfg:      cfg,
		logger:   logger,
		send:     send,
		finalize: finalize,
		stopCh:   make(chan struct{}),
	}
	c.accepting.Store(true)
	return c
}

// Accept encodes one capture frame into the accumulator. It never blocks on the
// backend and reports false once the chunker has been stopped.
func (c *Chunker) Accept(frame []float32) bool {
	if !c.accepting.Load() {
		return false
	}
	encoded := c.encoder.Encode(frame)
	c.framesIn.Add(1)

	c.mu.Lock()
	c.frames = append(c.frames, encoded)
	if over := len(c.frames) - c.cfg.MaxPendingFrames; over > 0 {
		c.frames = append(c.frames[:0:0], c.frames[over:]...)
		c.dropped.Add(int64(over))
	}
	c.mu.Unlock()
	return true
}

// Run consumes frames and drives the batch and finalize tickers until ctx is done,
// Stop is called, or frames is closed.
func (c *Chunker) Run(ctx context.Context, frames <-chan []float32) error {
	batch := time.NewTicker(c.cfg.BatchInterval)
	defer batch.Stop()
	finalize := time.NewTicker(c.cfg.FinalizeInterval)
	defer finalize.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return nil
		case frame, ok := <-frames:
			if !ok {
				c.flush(ctx)
				return nil
			}
			c.Accept(frame)
		case <-batch.C:
			c.flush(ctx)
		case <-finalize.C:
			c.maybeFinalize()
		}
	}
}

// Stop flips the accepting flag immediately. Once it returns no chunk is handed
// to the backend.
func (c *Chunker) Stop() {
	c.stopOnce.Do(func() {
		c.accepting.Store(false)
		close(c.stopCh)
		c.mu.Lock()
		c.frames = nil
		c.mu.Unlock()
	})
	c.sendMu.Lock()
	c.sendMu.Unlock()
}

// Accepting reports whether frames are still being taken.
func (c *Chunker) Accepting() bool {
	return c.accepting.Load()
}

// Stats returns counters accumulated so far.
func (c *Chunker) Stats() Stats {
	return Stats{
		Frames:           c.framesIn.Load(),
		DroppedFrames:    c.dropped.Load(),
		Chunks:           c.chunks.Load(),
		Finalizes:        c.finalizes.Load(),
		Samples:          c.encoder.Samples(),
		CorrectedSamples: c.encoder.Corrected(),
	}
}

// flush concatenates accumulated frames into one chunk and sends it.
func (c *Chunker) flush(ctx context.Context) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	if len(c.frames) == 0 || !c.accepting.Load() {
		c.mu.Unlock()
		return
	}
	total := 0
	for _, f := range c.frames {
		total += len(f)
	}
	chunk := make([]int16, 0, total)
	for _, f := range c.frames {
		chunk = append(chunk, f...)
	}
	c.frames = nil
	c.sent += pcm.Duration(len(chunk), c.cfg.SampleRate)
	c.mu.Unlock()

	c.chunks.Add(1)
	if err := c.send(ctx, chunk); err != nil {
		c.logger.Debug("send audio chunk failed", "error", err.Error(), "samples", len(chunk))
	}
}

// maybeFinalize requests a response once enough audio has been sent since the last request.
func (c *Chunker) maybeFinalize() {
	c.mu.Lock()
	if !c.accepting.Load() || c.sent < c.cfg.MinAudio {
		c.mu.Unlock()
		return
	}
	sent := c.sent
	c.sent = 0
	c.mu.Unlock()

	c.finalizes.Add(1)
	c.logger.Debug("requesting response", "audio_ms", sent.Milliseconds())
	c.finalize()
}
