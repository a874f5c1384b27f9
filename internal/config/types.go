// Package config resolves, parses, validates, and defaults voxrelay configuration.
package config

import "time"

// Config is the fully materialized runtime configuration used by voxrelay.
type Config struct {
	Relay        RelayConfig        `yaml:"relay"`
	Upstream     UpstreamConfig     `yaml:"upstream"`
	Assistant    AssistantConfig    `yaml:"assistant"`
	Client       ClientConfig       `yaml:"client"`
	Audio        AudioConfig        `yaml:"audio"`
	Chunker      ChunkerConfig      `yaml:"chunker"`
	Session      SessionConfig      `yaml:"session"`
	Reconnect    ReconnectConfig    `yaml:"reconnect"`
	Conversation ConversationConfig `yaml:"conversation"`
	Logging      LoggingConfig      `yaml:"logging"`
	Debug        DebugConfig        `yaml:"debug"`

	// APIKey is read from the environment variable named by upstream.api_key_env.
	// It never appears in the file.
	APIKey string `yaml:"-"`
}

// RelayConfig controls the proxy server.
type RelayConfig struct {
	Listen         string   `yaml:"listen"`
	Path           string   `yaml:"path"`
	GRPCListen     string   `yaml:"grpc_listen"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// UpstreamConfig describes the realtime speech service behind the relay.
type UpstreamConfig struct {
	URL           string `yaml:"url"`
	Model         string `yaml:"model"`
	BetaHeader    string `yaml:"beta_header"`
	APIKeyEnv     string `yaml:"api_key_env"`
	DialTimeoutMS int    `yaml:"dial_timeout_ms"`
}

// AssistantConfig controls the transcription and chat calls of the HTTP API.
type AssistantConfig struct {
	BaseURL         string  `yaml:"base_url"`
	TranscribeModel string  `yaml:"transcribe_model"`
	ChatModel       string  `yaml:"chat_model"`
	Temperature     float64 `yaml:"temperature"`
	Instructions    string  `yaml:"instructions"`
	MaxRetries      int     `yaml:"max_retries"`
}

// ClientConfig tells the talk command where the relay lives.
type ClientConfig struct {
	RelayURL string `yaml:"relay_url"`
	APIURL   string `yaml:"api_url"`
	Pipeline string `yaml:"pipeline"`
	Voice    string `yaml:"voice"`
}

// AudioConfig controls input-source selection and the capture format.
type AudioConfig struct {
	Input        string `yaml:"input"`
	Fallback     string `yaml:"fallback"`
	SampleRate   int    `yaml:"sample_rate"`
	FrameSamples int    `yaml:"frame_samples"`
}

// ChunkerConfig controls batching and finalize cadence.
type ChunkerConfig struct {
	BatchIntervalMS          int `yaml:"batch_interval_ms"`
	FinalizeIntervalMS       int `yaml:"finalize_interval_ms"`
	MinAudioBeforeFinalizeMS int `yaml:"min_audio_before_finalize_ms"`
	MaxPendingFrames         int `yaml:"max_pending_frames"`
}

// SessionConfig holds negotiation delays and queue bounds.
type SessionConfig struct {
	ConnectTimeoutMS    int `yaml:"connect_timeout_ms"`
	SettleDelayMS       int `yaml:"settle_delay_ms"`
	AudioStepDelayMS    int `yaml:"audio_step_delay_ms"`
	ReadyDelayMS        int `yaml:"ready_delay_ms"`
	FlushPacingMS       int `yaml:"flush_pacing_ms"`
	CommitDelayMS       int `yaml:"commit_delay_ms"`
	ReadyPollAttempts   int `yaml:"ready_poll_attempts"`
	ReadyPollIntervalMS int `yaml:"ready_poll_interval_ms"`
	PendingLimit        int `yaml:"pending_limit"`
	FlushKeep           int `yaml:"flush_keep"`
}

// ReconnectConfig bounds automatic re-establishment.
type ReconnectConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseDelayMS int `yaml:"base_delay_ms"`
	MaxDelayMS  int `yaml:"max_delay_ms"`
}

// ConversationConfig controls the orchestrator.
type ConversationConfig struct {
	GraceMS int `yaml:"grace_ms"`
}

// LoggingConfig selects the runtime log sink.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Stderr bool   `yaml:"stderr"`
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	AudioDump bool `yaml:"audio_dump"`
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

// Millis converts a millisecond setting to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
