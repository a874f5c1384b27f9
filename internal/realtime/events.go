// Package realtime models the JSON control messages exchanged with the realtime speech service.
package realtime

import (
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"
)

// Client event types.
const (
	EventSessionUpdate  = "session.update"
	EventAudioAppend    = "input_audio_buffer.append"
	EventAudioCommit    = "input_audio_buffer.commit"
	EventResponseCreate = "response.create"
)

// Server event types.
const (
	EventTypeError       = "error"
	EventSessionCreated  = "session.created"
	EventSessionUpdated  = "session.updated"
	EventTranscriptDelta = "response.audio_transcript.delta"
	EventTranscriptDone  = "response.audio_transcript.done"
	EventContentDelta    = "response.content.delta"
	EventContentDone     = "response.content.done"
	EventAudioDelta      = "response.audio.delta"
	EventAudioDone       = "response.audio.done"
	EventSpeechStarted   = "input_audio_buffer.speech_started"
	EventSpeechStopped   = "input_audio_buffer.speech_stopped"
)

// Modalities.
const (
	ModalityText  = "text"
	ModalityAudio = "audio"
)

// AudioFormatPCM16 is the only audio format negotiated by this client.
const AudioFormatPCM16 = "pcm16"

// SessionConfig is the body of a session.update request.
type SessionConfig struct {
	Modalities        []string `json:"modalities"`
	Voice             string   `json:"voice,omitempty"`
	InputAudioFormat  string   `json:"input_audio_format,omitempty"`
	OutputAudioFormat string   `json:"output_audio_format,omitempty"`
}

// ResponseConfig is the body of a response.create request.
type ResponseConfig struct {
	Modalities []string `json:"modalities"`
}

// ClientEvent is one outbound control message.
type ClientEvent struct {
	EventID  string          `json:"event_id,omitempty"`
	Type     string          `json:"type"`
	Session  *SessionConfig  `json:"session,omitempty"`
	Audio    string          `json:"audio,omitempty"`
	Response *ResponseConfig `json:"response,omitempty"`
}

// Marshal encodes the event, assigning an event id when missing.
func (e ClientEvent) Marshal() ([]byte, error) {
	if e.EventID == "" {
		e.EventID = NewEventID()
	}
	return json.Marshal(e)
}

// NewEventID returns an id of the form evt_ followed by 12 hex characters.
func NewEventID() string {
	id := uuid.New()
	return "evt_" + hex.EncodeToString(id[:6])
}

// TextSessionUpdate is the first negotiation step: text only.
func TextSessionUpdate() ClientEvent {
	return ClientEvent{
		Type:    EventSessionUpdate,
		Session: &SessionConfig{Modalities: []string{ModalityText}},
	}
}

// AudioSessionUpdate is the second negotiation step: text plus audio in PCM16.
func AudioSessionUpdate(voice string) ClientEvent {
	return ClientEvent{
		Type: EventSessionUpdate,
		Session: &SessionConfig{
			Modalities:        []string{ModalityText, ModalityAudio},
			Voice:             voice,
			InputAudioFormat:  AudioFormatPCM16,
			OutputAudioFormat: AudioFormatPCM16,
		},
	}
}

// AppendAudio wraps a base64 PCM16 payload.
func AppendAudio(audioBase64 string) ClientEvent {
	return ClientEvent{Type: EventAudioAppend, Audio: audioBase64}
}

// CommitAudio finalizes the current input buffer.
func CommitAudio() ClientEvent {
	return ClientEvent{Type: EventAudioCommit}
}

// CreateResponse asks the service to generate a text and audio reply.
func CreateResponse() ClientEvent {
	return ClientEvent{
		Type:     EventResponseCreate,
		Response: &ResponseConfig{Modalities: []string{ModalityText, ModalityAudio}},
	}
}
