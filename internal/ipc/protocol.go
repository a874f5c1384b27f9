package ipc

// Commands understood by a running conversation.
const (
	CommandStatus = "status"
	CommandStop   = "stop"
)

// Request is one line-delimited JSON command. ID is echoed in the response so
// the client can pair them.
type Request struct {
	ID      string `json:"id,omitempty"`
	Command string `json:"command"`
}

// Response carries the outcome of one command. The conversation fields are
// filled for status requests.
type Response struct {
	ID      string `json:"id,omitempty"`
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`

	Connection    string `json:"connection,omitempty"`
	Processing    bool   `json:"processing,omitempty"`
	Warning       string `json:"warning,omitempty"`
	Transcription string `json:"transcription,omitempty"`
	Reply         string `json:"response,omitempty"`
}
