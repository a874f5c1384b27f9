package realtime

import (
	"encoding/json"
	"fmt"
	"slices"
)

// ServerEvent is the subset of an inbound event this client acts on.
type ServerEvent struct {
	Type       string      `json:"type"`
	EventID    string      `json:"event_id,omitempty"`
	Session    *Session    `json:"session,omitempty"`
	Delta      Text        `json:"delta,omitempty"`
	Transcript string      `json:"transcript,omitempty"`
	Text       string      `json:"text,omitempty"`
	Content    Text        `json:"content,omitempty"`
	Item       *Item       `json:"item,omitempty"`
	Error      *EventError `json:"error,omitempty"`
}

// Session is the session resource echoed by session.created and session.updated.
type Session struct {
	ID         string   `json:"id,omitempty"`
	Model      string   `json:"model,omitempty"`
	Modalities []string `json:"modalities,omitempty"`
	Voice      string   `json:"voice,omitempty"`
}

// Item carries the final text of a turn in some event shapes.
type Item struct {
	Transcript string `json:"transcript,omitempty"`
	Content    Text   `json:"content,omitempty"`
}

// EventError is the payload of an error event.
type EventError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

func (e *EventError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("realtime: %s: %s", e.Code, e.Message)
	}
	if e.Type != "" {
		return fmt.Sprintf("realtime: %s: %s", e.Type, e.Message)
	}
	return "realtime: " + e.Message
}

// Text accepts either a JSON string or an object holding the text under
// transcript, content, or text. Other shapes decode to the empty string.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Text(s)
		return nil
	}

	var obj struct {
		Transcript string `json:"transcript"`
		Content    string `json:"content"`
		Text       string `json:"text"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		*t = Text(firstNonEmpty(obj.Transcript, obj.Content, obj.Text))
		return nil
	}

	*t = ""
	return nil
}

// ParseServerEvent decodes one inbound frame.
func ParseServerEvent(data []byte) (ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ServerEvent{}, fmt.Errorf("decode server event: %w", err)
	}
	if ev.Type == "" {
		return ServerEvent{}, fmt.Errorf("decode server event: missing type")
	}
	return ev, nil
}

// HasAudio reports whether a session acknowledgment enables the audio modality.
func (e ServerEvent) HasAudio() bool {
	return e.Session != nil && slices.Contains(e.Session.Modalities, ModalityAudio)
}

// DeltaText returns the incremental fragment of a delta event.
func (e ServerEvent) DeltaText() string {
	return string(e.Delta)
}

// FinalText returns the complete text carried by a done event.
func (e ServerEvent) FinalText() string {
	var itemTranscript, itemContent string
	if e.Item != nil {
		itemTranscript = e.Item.Transcript
		itemContent = string(e.Item.Content)
	}
	return firstNonEmpty(e.Transcript, e.Text, string(e.Content), itemTranscript, itemContent)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
