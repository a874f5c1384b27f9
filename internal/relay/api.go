package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rbright/voxrelay/internal/assistant"
)

const maxRequestBytes = 50 << 20

// Assistant performs the transcription and chat calls behind the HTTP API.
type Assistant interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
	Respond(ctx context.Context, history []assistant.Message) (string, error)
}

// TranscribeRequest is the body of POST /api/transcribe.
type TranscribeRequest struct {
	Audio    string `json:"audio"`
	Filename string `json:"filename,omitempty"`
}

// TranscribeResponse is the success body of POST /api/transcribe.
type TranscribeResponse struct {
	Transcription string `json:"transcription"`
}

// RespondRequest is the body of POST /api/respond.
type RespondRequest struct {
	Messages []assistant.Message `json:"messages"`
}

// RespondResponse is the success body of POST /api/respond.
type RespondResponse struct {
	Response string `json:"response"`
}

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}

	var req TranscribeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Audio == "" {
		writeError(w, http.StatusBadRequest, "Missing audio data", nil)
		return
	}
	audio, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil || len(audio) == 0 {
		writeError(w, http.StatusBadRequest, "Invalid base64 audio data", err)
		return
	}
	if s.assistant == nil {
		writeError(w, http.StatusServiceUnavailable, "OpenAI API key not configured", nil)
		return
	}

	text, err := s.assistant.Transcribe(r.Context(), audio, req.Filename)
	if err != nil {
		s.logger.Error("transcription failed", "bytes", len(audio), "error", err.Error())
		writeError(w, upstreamStatus(err), "Failed to transcribe audio", err)
		return
	}
	writeJSON(w, http.StatusOK, TranscribeResponse{Transcription: text})
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}

	var req RespondRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "Missing or invalid messages array", nil)
		return
	}
	if s.assistant == nil {
		writeError(w, http.StatusServiceUnavailable, "OpenAI API key not configured", nil)
		return
	}

	reply, err := s.assistant.Respond(r.Context(), req.Messages)
	if err != nil {
		s.logger.Error("chat completion failed", "messages", len(req.Messages), "error", err.Error())
		writeError(w, upstreamStatus(err), "Failed to get AI response", err)
		return
	}
	writeJSON(w, http.StatusOK, RespondResponse{Response: reply})
}

// upstreamStatus maps assistant failures to the API status code.
func upstreamStatus(err error) int {
	switch {
	case errors.Is(err, assistant.ErrEmptyAudio), errors.Is(err, assistant.ErrNoMessages):
		return http.StatusBadRequest
	case errors.Is(err, assistant.ErrNoCredential):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// instrument counts requests by endpoint and status.
func (s *Server) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.APIRequests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	body := ErrorResponse{Error: message}
	if err != nil {
		body.Details = err.Error()
	}
	writeJSON(w, status, body)
}
