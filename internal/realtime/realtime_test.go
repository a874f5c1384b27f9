package realtime

import (
	"encoding/json"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientEventMarshalAssignsEventID(t *testing.T) {
	data, err := AppendAudio("AAEC").Marshal()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, EventAudioAppend, decoded["type"])
	require.Equal(t, "AAEC", decoded["audio"])
	require.Regexp(t, regexp.MustCompile(`^evt_[0-9a-f]{12}$`), decoded["event_id"])
	require.NotContains(t, decoded, "session")
	require.NotContains(t, decoded, "response")
}

func TestNegotiationMessages(t *testing.T) {
	data, err := TextSessionUpdate().Marshal()
	require.NoError(t, err)
	require.JSONEq(t, `{"modalities":["text"]}`, sessionJSON(t, data))

	data, err = AudioSessionUpdate("alloy").Marshal()
	require.NoError(t, err)
	require.JSONEq(t, `{
		"modalities":["text","audio"],
		"voice":"alloy",
		"input_audio_format":"pcm16",
		"output_audio_format":"pcm16"
	}`, sessionJSON(t, data))
}

func TestResponseMessages(t *testing.T) {
	data, err := CommitAudio().Marshal()
	require.NoError(t, err)
	var commit map[string]any
	require.NoError(t, json.Unmarshal(data, &commit))
	require.Equal(t, EventAudioCommit, commit["type"])

	data, err = CreateResponse().Marshal()
	require.NoError(t, err)
	var create struct {
		Type     string         `json:"type"`
		Response ResponseConfig `json:"response"`
	}
	require.NoError(t, json.Unmarshal(data, &create))
	require.Equal(t, EventResponseCreate, create.Type)
	require.Equal(t, []string{"text", "audio"}, create.Response.Modalities)
}

func TestParseServerEventTextShapes(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantDelta string
		wantFinal string
	}{
		{name: "string delta", raw: `{"type":"response.audio_transcript.delta","delta":"Hel"}`, wantDelta: "Hel"},
		{name: "object delta transcript", raw: `{"type":"response.audio_transcript.delta","delta":{"transcript":"lo"}}`, wantDelta: "lo"},
		{name: "object delta content", raw: `{"type":"response.content.delta","delta":{"content":"Hi"}}`, wantDelta: "Hi"},
		{name: "top-level transcript", raw: `{"type":"response.audio_transcript.done","transcript":"Hello world"}`, wantFinal: "Hello world"},
		{name: "item transcript", raw: `{"type":"response.audio_transcript.done","item":{"transcript":"From item"}}`, wantFinal: "From item"},
		{name: "item content", raw: `{"type":"response.content.done","item":{"content":"Answer"}}`, wantFinal: "Answer"},
		{name: "text field", raw: `{"type":"response.content.done","text":"Plain"}`, wantFinal: "Plain"},
		{name: "array delta ignored", raw: `{"type":"response.content.delta","delta":[1,2]}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := ParseServerEvent([]byte(tc.raw))
			require.NoError(t, err)
			require.Equal(t, tc.wantDelta, ev.DeltaText())
			require.Equal(t, tc.wantFinal, ev.FinalText())
		})
	}
}

func TestParseServerEventRejectsInvalid(t *testing.T) {
	_, err := ParseServerEvent([]byte("not-json"))
	require.Error(t, err)

	_, err = ParseServerEvent([]byte(`{"delta":"x"}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing type")
}

func TestHasAudio(t *testing.T) {
	ev, err := ParseServerEvent([]byte(`{"type":"session.updated","session":{"modalities":["text","audio"]}}`))
	require.NoError(t, err)
	require.True(t, ev.HasAudio())

	ev, err = ParseServerEvent([]byte(`{"type":"session.created","session":{"modalities":["text"]}}`))
	require.NoError(t, err)
	require.False(t, ev.HasAudio())

	ev, err = ParseServerEvent([]byte(`{"type":"session.created"}`))
	require.NoError(t, err)
	require.False(t, ev.HasAudio())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		errType   string
		want      ErrorClass
		transient bool
		message   string
	}{
		{errType: "server_error", want: ErrorServer, transient: true, message: "OpenAI server encountered an error"},
		{errType: "invalid_request_error", want: ErrorInvalidRequest, transient: false, message: "Invalid request"},
		{errType: "authentication_error", want: ErrorAuthentication, transient: false, message: "Authentication failed"},
		{errType: "rate_limit_error", want: ErrorRateLimit, transient: true, message: "Rate limit exceeded"},
		{errType: "something_new", want: ErrorUnknown, transient: true, message: "An error occurred"},
		{errType: "", want: ErrorUnknown, transient: true, message: "An error occurred"},
	}

	for _, tc := range tests {
		t.Run(tc.errType, func(t *testing.T) {
			class := Classify(tc.errType)
			require.Equal(t, tc.want, class)
			require.Equal(t, tc.transient, class.Transient())
			require.Contains(t, class.Message(), tc.message)
		})
	}

	require.Equal(t, ErrorUnknown, ClassifyEvent(nil))
	require.Equal(t, ErrorRateLimit, ClassifyEvent(&EventError{Type: "rate_limit_error"}))
}

func TestEventErrorString(t *testing.T) {
	require.Equal(t, "realtime: bad_value: nope", (&EventError{Code: "bad_value", Message: "nope"}).Error())
	require.Equal(t, "realtime: server_error: boom", (&EventError{Type: "server_error", Message: "boom"}).Error())
	require.Equal(t, "realtime: plain", (&EventError{Message: "plain"}).Error())
}

func sessionJSON(t *testing.T, data []byte) string {
	t.Helper()
	var decoded struct {
		Type    string          `json:"type"`
		Session json.RawMessage `json:"session"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, EventSessionUpdate, decoded.Type)
	return string(decoded.Session)
}

func TestParseErrorEvent(t *testing.T) {
	ev, err := ParseServerEvent([]byte(`{"type":"error","error":{"type":"rate_limit_error","code":"rate_limited","message":"slow down"}}`))
	require.NoError(t, err)
	require.Equal(t, EventTypeError, ev.Type)
	require.NotNil(t, ev.Error)
	require.Equal(t, ErrorRateLimit, ClassifyEvent(ev.Error))
	require.Equal(t, "realtime: rate_limited: slow down", ev.Error.Error())
}

func TestNewEventIDIsHexOfUUIDPrefix(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 16; i++ {
		id := NewEventID()
		require.Regexp(t, regexp.MustCompile(`^evt_[0-9a-f]{12}$`), id)
		seen[id] = true
	}
	require.Len(t, seen, 16)
}
