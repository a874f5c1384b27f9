// Package transcript holds the user transcription and assistant response text of one conversation.
package transcript

import (
	"strings"
	"sync"
)

// Snapshot is an immutable copy of both buffers.
type Snapshot struct {
	Transcription string
	Response      string
}

// Listener receives a snapshot after every change.
type Listener func(Snapshot)

// Transcript is the conversation text shared by a backend (writer) and its observers.
//
// Listeners run synchronously on the writer's goroutine, outside the lock, in
// registration order.
type Transcript struct {
	mu            sync.Mutex
	transcription string
	response      string

	nextID    uint64
	listeners []subscription
}

type subscription struct {
	id uint64
	fn Listener
}

// New returns an empty transcript.
func New() *Transcript {
	return &Transcript{}
}

// Subscribe registers fn and returns a function that removes it.
func (t *Transcript) Subscribe(fn Listener) (cancel func()) {
	if fn == nil {
		return func() {}
	}

	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.listeners = append(t.listeners, subscription{id: id, fn: fn})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			for i, s := range t.listeners {
				if s.id == id {
					t.listeners = append(t.listeners[:i:i], t.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Snapshot returns the current text of both buffers.
func (t *Transcript) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{Transcription: t.transcription, Response: t.response}
}

// AppendTranscription adds an incremental fragment to the transcription.
func (t *Transcript) AppendTranscription(delta string) {
	t.update(func() bool {
		if delta == "" {
			return false
		}
		t.transcription += delta
		return true
	})
}

// SetTranscription replaces the transcription with the final text of a turn.
func (t *Transcript) SetTranscription(full string) {
	t.update(func() bool {
		if full == "" {
			return false
		}
		t.transcription = full
		return true
	})
}

// AppendResponse adds an incremental fragment to the response.
func (t *Transcript) AppendResponse(delta string) {
	t.update(func() bool {
		if delta == "" {
			return false
		}
		t.response += delta
		return true
	})
}

// SetResponse replaces the response with the final text of a turn.
func (t *Transcript) SetResponse(full string) {
	t.update(func() bool {
		if full == "" {
			return false
		}
		t.response = full
		return true
	})
}

// AppendTranscriptionTurn adds a complete turn, separated from earlier text by one space.
func (t *Transcript) AppendTranscriptionTurn(turn string) {
	t.update(func() bool {
		return appendTurn(&t.transcription, turn)
	})
}

// AppendResponseTurn adds a complete reply, separated from earlier text by one space.
func (t *Transcript) AppendResponseTurn(turn string) {
	t.update(func() bool {
		return appendTurn(&t.response, turn)
	})
}

// Reset clears both buffers. Only a new conversation should call it.
func (t *Transcript) Reset() {
	t.update(func() bool {
		if t.transcription == "" && t.response == "" {
			return false
		}
		t.transcription = ""
		t.response = ""
		return true
	})
}

func (t *Transcript) update(mutate func() bool) {
	t.mu.Lock()
	if !mutate() {
		t.mu.Unlock()
		return
	}
	snap := Snapshot{Transcription: t.transcription, Response: t.response}
	listeners := make([]Listener, 0, len(t.listeners))
	for _, s := range t.listeners {
		listeners = append(listeners, s.fn)
	}
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

// appendTurn joins whitespace-normalized turn text onto buf.
func appendTurn(buf *string, turn string) bool {
	normalized := strings.Join(strings.Fields(turn), " ")
	if normalized == "" {
		return false
	}
	if *buf == "" {
		*buf = normalized
		return true
	}
	*buf = *buf + " " + normalized
	return true
}
