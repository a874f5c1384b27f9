package realtime

// ErrorClass groups upstream error events by how the client should react.
type ErrorClass string

const (
	ErrorServer         ErrorClass = "server_error"
	ErrorInvalidRequest ErrorClass = "invalid_request_error"
	ErrorAuthentication ErrorClass = "authentication_error"
	ErrorRateLimit      ErrorClass = "rate_limit_error"
	ErrorUnknown        ErrorClass = "unknown"
)

// Classify maps an error event type to its class.
func Classify(errorType string) ErrorClass {
	switch ErrorClass(errorType) {
	case ErrorServer, ErrorInvalidRequest, ErrorAuthentication, ErrorRateLimit:
		return ErrorClass(errorType)
	default:
		return ErrorUnknown
	}
}

// ClassifyEvent classifies an error event payload; nil counts as unknown.
func ClassifyEvent(e *EventError) ErrorClass {
	if e == nil {
		return ErrorUnknown
	}
	return Classify(e.Type)
}

// Message is the user-facing text for the class.
func (c ErrorClass) Message() string {
	switch c {
	case ErrorServer:
		return "OpenAI server encountered an error. This may be a temporary issue. Please try again."
	case ErrorInvalidRequest:
		return "Invalid request. Please check your configuration."
	case ErrorAuthentication:
		return "Authentication failed. Please check your API key."
	case ErrorRateLimit:
		return "Rate limit exceeded. Please wait a moment and try again."
	default:
		return "An error occurred while processing your request."
	}
}

// Transient reports whether a later audio submission may re-establish the session.
// Configuration and credential problems need an explicit reconnect instead.
func (c ErrorClass) Transient() bool {
	switch c {
	case ErrorInvalidRequest, ErrorAuthentication:
		return false
	default:
		return true
	}
}
