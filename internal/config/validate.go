package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Pipelines selectable with client.pipeline.
const (
	PipelineRealtime = "realtime"
	PipelineTurn     = "turn"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.Relay.Listen) == "" {
		return nil, fmt.Errorf("relay.listen must not be empty")
	}
	if !strings.HasPrefix(cfg.Relay.Path, "/") {
		return nil, fmt.Errorf("relay.path must start with '/'")
	}
	if err := requireURL("upstream.url", cfg.Upstream.URL, "ws", "wss"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Upstream.Model) == "" {
		return nil, fmt.Errorf("upstream.model must not be empty")
	}
	if strings.TrimSpace(cfg.Upstream.APIKeyEnv) == "" {
		return nil, fmt.Errorf("upstream.api_key_env must not be empty")
	}
	if cfg.Upstream.DialTimeoutMS <= 0 {
		return nil, fmt.Errorf("upstream.dial_timeout_ms must be > 0")
	}
	if cfg.Assistant.Temperature < 0 || cfg.Assistant.Temperature > 2 {
		return nil, fmt.Errorf("assistant.temperature must be between 0 and 2")
	}
	if cfg.Assistant.MaxRetries < 0 {
		return nil, fmt.Errorf("assistant.max_retries must be >= 0")
	}

	pipeline := strings.ToLower(strings.TrimSpace(cfg.Client.Pipeline))
	if pipeline != PipelineRealtime && pipeline != PipelineTurn {
		return nil, fmt.Errorf("client.pipeline must be one of: %s, %s", PipelineRealtime, PipelineTurn)
	}
	if err := requireURL("client.relay_url", cfg.Client.RelayURL, "ws", "wss"); err != nil {
		return nil, err
	}
	if err := requireURL("client.api_url", cfg.Client.APIURL, "http", "https"); err != nil {
		return nil, err
	}

	if cfg.Audio.SampleRate <= 0 {
		return nil, fmt.Errorf("audio.sample_rate must be > 0")
	}
	if cfg.Audio.FrameSamples <= 0 {
		return nil, fmt.Errorf("audio.frame_samples must be > 0")
	}
	if cfg.Audio.SampleRate != 24000 {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("audio.sample_rate=%d; the realtime service expects 24000", cfg.Audio.SampleRate)})
	}

	positive := []struct {
		name  string
		value int
	}{
		{"chunker.batch_interval_ms", cfg.Chunker.BatchIntervalMS},
		{"chunker.finalize_interval_ms", cfg.Chunker.FinalizeIntervalMS},
		{"chunker.max_pending_frames", cfg.Chunker.MaxPendingFrames},
		{"session.connect_timeout_ms", cfg.Session.ConnectTimeoutMS},
		{"session.ready_poll_attempts", cfg.Session.ReadyPollAttempts},
		{"session.ready_poll_interval_ms", cfg.Session.ReadyPollIntervalMS},
		{"session.pending_limit", cfg.Session.PendingLimit},
		{"session.flush_keep", cfg.Session.FlushKeep},
		{"reconnect.base_delay_ms", cfg.Reconnect.BaseDelayMS},
		{"reconnect.max_delay_ms", cfg.Reconnect.MaxDelayMS},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return nil, fmt.Errorf("%s must be > 0", p.name)
		}
	}

	nonNegative := []struct {
		name  string
		value int
	}{
		{"chunker.min_audio_before_finalize_ms", cfg.Chunker.MinAudioBeforeFinalizeMS},
		{"session.settle_delay_ms", cfg.Session.SettleDelayMS},
		{"session.audio_step_delay_ms", cfg.Session.AudioStepDelayMS},
		{"session.ready_delay_ms", cfg.Session.ReadyDelayMS},
		{"session.flush_pacing_ms", cfg.Session.FlushPacingMS},
		{"session.commit_delay_ms", cfg.Session.CommitDelayMS},
		{"reconnect.max_attempts", cfg.Reconnect.MaxAttempts},
		{"conversation.grace_ms", cfg.Conversation.GraceMS},
	}
	for _, p := range nonNegative {
		if p.value < 0 {
			return nil, fmt.Errorf("%s must be >= 0", p.name)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	if cfg.Chunker.FinalizeIntervalMS < cfg.Chunker.BatchIntervalMS {
		warnings = append(warnings, Warning{Message: "chunker.finalize_interval_ms is shorter than chunker.batch_interval_ms; responses may be requested before audio is sent"})
	}
	if cfg.Session.FlushKeep > cfg.Session.PendingLimit {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("session.flush_keep=%d exceeds session.pending_limit=%d", cfg.Session.FlushKeep, cfg.Session.PendingLimit)})
	}
	if cfg.Reconnect.MaxDelayMS < cfg.Reconnect.BaseDelayMS {
		warnings = append(warnings, Warning{Message: "reconnect.max_delay_ms is below reconnect.base_delay_ms; every retry waits the cap"})
	}

	return warnings, nil
}

func requireURL(name string, raw string, schemes ...string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", name)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s must use one of the schemes: %s", name, strings.Join(schemes, ", "))
}
