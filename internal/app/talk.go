package app

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
	"github.com/rbright/voxrelay/internal/config"
	"github.com/rbright/voxrelay/internal/conversation"
	"github.com/rbright/voxrelay/internal/fsm"
	"github.com/rbright/voxrelay/internal/ipc"
	"github.com/rbright/voxrelay/internal/pipeline"
	"github.com/rbright/voxrelay/internal/session"
)

func (r Runner) commandTalk(ctx context.Context, cfg config.Config, pipelineName string, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	backend, err := newBackend(cfg, pipelineName, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	owner, err := ipc.Acquire(ctx, socketPath, ipc.AcquireOptions{
		ProbeTimeout: 180 * time.Millisecond,
		Retries:      8,
		OnStale: func(path string) {
			logger.Warn("removed stale control socket", "path", path)
		},
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = owner.Close() }()

	convCfg, err := conversationConfig(cfg)
	if err != nil {
		logger.Warn("audio dump disabled", "error", err.Error())
	}
	orchestrator := conversation.New(backend, captureOpener(cfg, logger), convCfg, logger)

	unsubscribe := backend.Subscribe(connectionPrinter(r.Stderr))
	defer unsubscribe()

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(serverCtx, owner, orchestrator)
	}()

	result := orchestrator.Run(ctx)
	serverCancel()
	if serverErr := <-serverErrCh; serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}

	logConversationResult(logger, result)

	if text := strings.TrimSpace(result.Transcription); text != "" {
		fmt.Fprintf(r.Stdout, "you: %s\n", text)
	}
	if text := strings.TrimSpace(result.Response); text != "" {
		fmt.Fprintf(r.Stdout, "assistant: %s\n", text)
	}
	if result.Err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", result.Err)
		if errors.Is(result.Err, conversation.ErrCaptureDenied) {
			fmt.Fprintln(r.Stderr, conversation.MsgCaptureDenied)
		}
		return 1
	}
	return 0
}

// newBackend builds the conversation backend named by override, falling back
// to client.pipeline.
func newBackend(cfg config.Config, override string, logger *slog.Logger) (conversation.Backend, error) {
	name := strings.TrimSpace(override)
	if name == "" {
		name = cfg.Client.Pipeline
	}

	switch name {
	case config.PipelineRealtime:
		return session.New(sessionConfig(cfg), nil, logger.With("backend", name)), nil
	case config.PipelineTurn:
		return pipeline.New(pipeline.Config{
			BaseURL:    cfg.Client.APIURL,
			SampleRate: cfg.Audio.SampleRate,
		}, nil, logger.With("backend", name)), nil
	default:
		return nil, fmt.Errorf("unknown pipeline %q", name)
	}
}

func sessionConfig(cfg config.Config) session.Config {
	s := cfg.Session
	return session.Config{
		URL:   cfg.Client.RelayURL,
		Voice: cfg.Client.Voice,
		Timing: session.Timing{
			ConnectTimeout:    config.Millis(s.ConnectTimeoutMS),
			SettleDelay:       config.Millis(s.SettleDelayMS),
			AudioStepDelay:    config.Millis(s.AudioStepDelayMS),
			ReadyDelay:        config.Millis(s.ReadyDelayMS),
			FlushPacing:       config.Millis(s.FlushPacingMS),
			CommitDelay:       config.Millis(s.CommitDelayMS),
			ReadyPollInterval: config.Millis(s.ReadyPollIntervalMS),
			ReadyPollAttempts: s.ReadyPollAttempts,
		},
		PendingLimit:      s.PendingLimit,
		FlushKeep:         s.FlushKeep,
		ReconnectAttempts: cfg.Reconnect.MaxAttempts,
		ReconnectBase:     config.Millis(cfg.Reconnect.BaseDelayMS),
		ReconnectCeiling:  config.Millis(cfg.Reconnect.MaxDelayMS),
	}
}

// conversationConfig maps chunker, grace, and debug settings. The returned
// error only concerns the dump directory; the config is usable either way.
func conversationConfig(cfg config.Config) (conversation.Config, error) {
	out := conversation.Config{
		Chunker: chunker.Config{
			BatchInterval:    config.Millis(cfg.Chunker.BatchIntervalMS),
			FinalizeInterval: config.Millis(cfg.Chunker.FinalizeIntervalMS),
			MinAudio:         config.Millis(cfg.Chunker.MinAudioBeforeFinalizeMS),
			MaxPendingFrames: cfg.Chunker.MaxPendingFrames,
			SampleRate:       cfg.Audio.SampleRate,
		},
		Grace: config.Millis(cfg.Conversation.GraceMS),
	}
	if !cfg.Debug.AudioDump {
		return out, nil
	}
	dir, err := conversation.DebugDir()
	if err != nil {
		return out, err
	}
	out.DumpDir = dir
	return out, nil
}

// captureOpener selects the configured input source and starts recording.
func captureOpener(cfg config.Config, logger *slog.Logger) conversation.CaptureFunc {
	return func(ctx context.Context) (conversation.Capture, error) {
		selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
		if err != nil {
			return nil, err
		}
		if selection.Warning != "" {
			logger.Warn("audio device fallback", "warning", selection.Warning)
		}

		capture, err := audio.StartCapture(ctx, selection.Device, audio.CaptureConfig{
			SampleRate:   cfg.Audio.SampleRate,
			FrameSamples: cfg.Audio.FrameSamples,
		})
		if err != nil {
			return nil, err
		}
		return capture, nil
	}
}

// connectionPrinter writes one line per connection indicator change.
func connectionPrinter(w io.Writer) func(fsm.Status) {
	var (
		mu   sync.Mutex
		last string
		err  string
	)
	return func(s fsm.Status) {
		mu.Lock()
		defer mu.Unlock()
		if conn := s.Connection(); conn != last {
			last = conn
			fmt.Fprintf(w, "connection: %s\n", conn)
		}
		if s.Err != "" && s.Err != err {
			fmt.Fprintf(w, "warning: %s\n", s.Err)
		}
		err = s.Err
	}
}

func logConversationResult(logger *slog.Logger, result conversation.Result) {
	if logger == nil {
		return
	}
	fields := []any{
		"state", result.Status.State,
		"started_at", result.StartedAt.Format(time.RFC3339Nano),
		"finished_at", result.FinishedAt.Format(time.RFC3339Nano),
		"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
		"audio_device", result.AudioDevice,
		"chunks", result.Chunks,
		"finalizes", result.Finalizes,
		"dropped_frames", result.DroppedFrames,
		"corrected_samples", result.CorrectedSamples,
		"transcription_length", len(result.Transcription),
		"response_length", len(result.Response),
	}
	if !result.ConnectedAt.IsZero() {
		fields = append(fields, "connect_ms", result.ConnectedAt.Sub(result.StartedAt).Milliseconds())
	}

	if result.Err != nil {
		logger.Error("conversation failed", append(fields, "error", result.Err.Error())...)
		return
	}
	logger.Info("conversation complete", fields...)
}
