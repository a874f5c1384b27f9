// Package assistant wraps the OpenAI REST endpoints behind the relay's
// transcribe-then-respond HTTP API.
package assistant

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var (
	ErrNoCredential = errors.New("openai api key not configured")
	ErrEmptyAudio   = errors.New("audio is empty")
	ErrNoMessages   = errors.New("messages are empty")
)

// Role values accepted in a chat history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat history entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config selects models and prompt defaults.
type Config struct {
	APIKey          string
	BaseURL         string
	TranscribeModel string
	ChatModel       string
	Temperature     float64
	Instructions    string
	MaxRetries      int
}

// Client performs transcription and chat completion calls.
type Client struct {
	cfg    Config
	api    openai.Client
	logger *slog.Logger
}

// New builds a client. It fails with ErrNoCredential when no key is configured.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoCredential
	}
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = openai.AudioModelWhisper1
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = openai.ChatModelGPT4o
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{cfg: cfg, api: openai.NewClient(opts...), logger: logger}, nil
}

// Transcribe sends one recorded utterance to the transcription model.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}
	if filename == "" {
		filename = "audio.wav"
	}

	res, err := c.api.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), filename, contentType(filename)),
		Model: c.cfg.TranscribeModel,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe %s: %w", filename, err)
	}
	c.logger.Debug("transcription complete", "bytes", len(audio), "chars", len(res.Text))
	return res.Text, nil
}

// Respond asks the chat model for the next assistant turn. The configured
// instructions are prepended when history carries no system message.
func (c *Client) Respond(ctx context.Context, history []Message) (string, error) {
	if len(history) == 0 {
		return "", ErrNoMessages
	}
	messages, err := chatMessages(WithSystemPrompt(history, c.cfg.Instructions))
	if err != nil {
		return "", err
	}

	res, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       c.cfg.ChatModel,
		Messages:    messages,
		Temperature: openai.Float(c.cfg.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(res.Choices) == 0 {
		return "", nil
	}
	return res.Choices[0].Message.Content, nil
}

// Probe verifies the credential by listing models.
func (c *Client) Probe(ctx context.Context) (int, error) {
	page, err := c.api.Models.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list models: %w", err)
	}
	return len(page.Data), nil
}

// StatusCode extracts the upstream HTTP status from an API error, or 0.
func StatusCode(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// WithSystemPrompt prepends a system message with instructions unless history
// already has one.
func WithSystemPrompt(history []Message, instructions string) []Message {
	if strings.TrimSpace(instructions) == "" {
		return history
	}
	for _, m := range history {
		if m.Role == RoleSystem {
			return history
		}
	}
	out := make([]Message, 0, len(history)+1)
	out = append(out, Message{Role: RoleSystem, Content: instructions})
	return append(out, history...)
}

func chatMessages(history []Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for i, m := range history {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			return nil, fmt.Errorf("message %d: unsupported role %q", i, m.Role)
		}
	}
	return out, nil
}

func contentType(filename string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
