package config

// DefaultInstructions is the system prompt prepended to chat histories that lack one.
const DefaultInstructions = "You are a helpful, witty, and friendly AI assistant. " +
	"Act like a human, but remember that you aren't a human and that you can't do human things in the real world. " +
	"Your voice and personality should be warm and engaging, with a lively and playful tone. " +
	"Talk quickly and concisely."

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Relay: RelayConfig{
			Listen:     "127.0.0.1:3001",
			Path:       "/realtime-proxy",
			GRPCListen: "127.0.0.1:3002",
		},
		Upstream: UpstreamConfig{
			URL:           "wss://api.openai.com/v1/realtime",
			Model:         "gpt-4o-realtime-preview-2024-10-01",
			BetaHeader:    "realtime=v1",
			APIKeyEnv:     "OPENAI_API_KEY",
			DialTimeoutMS: 10000,
		},
		Assistant: AssistantConfig{
			TranscribeModel: "whisper-1",
			ChatModel:       "gpt-4o",
			Temperature:     0.8,
			Instructions:    DefaultInstructions,
			MaxRetries:      2,
		},
		Client: ClientConfig{
			RelayURL: "ws://127.0.0.1:3001/realtime-proxy",
			APIURL:   "http://127.0.0.1:3001",
			Pipeline: PipelineRealtime,
			Voice:    "alloy",
		},
		Audio: AudioConfig{
			Input:        "default",
			Fallback:     "default",
			SampleRate:   24000,
			FrameSamples: 2048,
		},
		Chunker: ChunkerConfig{
			BatchIntervalMS:          500,
			FinalizeIntervalMS:       3000,
			MinAudioBeforeFinalizeMS: 2000,
			MaxPendingFrames:         10,
		},
		Session: SessionConfig{
			ConnectTimeoutMS:    10000,
			SettleDelayMS:       300,
			AudioStepDelayMS:    1000,
			ReadyDelayMS:        2000,
			FlushPacingMS:       200,
			CommitDelayMS:       100,
			ReadyPollAttempts:   20,
			ReadyPollIntervalMS: 100,
			PendingLimit:        10,
			FlushKeep:           2,
		},
		Reconnect: ReconnectConfig{
			MaxAttempts: 3,
			BaseDelayMS: 1000,
			MaxDelayMS:  10000,
		},
		Conversation: ConversationConfig{GraceMS: 500},
		Logging:      LoggingConfig{Level: "info"},
	}
}
