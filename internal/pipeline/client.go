package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rbright/voxrelay/internal/assistant"
)

const maxResponseBytes = 1 << 20

// APIError is a non-2xx answer from the relay HTTP API.
type APIError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Details != "" {
		return fmt.Sprintf("relay api %d: %s: %s", e.StatusCode, msg, e.Details)
	}
	return fmt.Sprintf("relay api %d: %s", e.StatusCode, msg)
}

type transcribeRequest struct {
	Audio    string `json:"audio"`
	Filename string `json:"filename,omitempty"`
}

type transcribeResponse struct {
	Transcription string `json:"transcription"`
}

type respondRequest struct {
	Messages []assistant.Message `json:"messages"`
}

type respondResponse struct {
	Response string `json:"response"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// apiClient speaks the relay's JSON API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string, client *http.Client) *apiClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &apiClient{base: strings.TrimRight(base, "/"), http: client}
}

func (c *apiClient) health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	return c.do(req, nil)
}

func (c *apiClient) transcribe(ctx context.Context, audioBase64 string, filename string) (string, error) {
	var out transcribeResponse
	if err := c.postJSON(ctx, "/api/transcribe", transcribeRequest{Audio: audioBase64, Filename: filename}, &out); err != nil {
		return "", err
	}
	return out.Transcription, nil
}

func (c *apiClient) respond(ctx context.Context, history []assistant.Message) (string, error) {
	var out respondResponse
	if err := c.postJSON(ctx, "/api/respond", respondRequest{Messages: history}, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

func (c *apiClient) postJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *apiClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s response: %w", req.URL.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var body errorResponse
		if json.Unmarshal(data, &body) == nil {
			apiErr.Message = body.Error
			apiErr.Details = body.Details
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
