// Package doctor runs runtime readiness diagnostics for config, credential,
// audio, and the relay.
package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rbright/voxrelay/internal/assistant"
	"github.com/rbright/voxrelay/internal/audio"
	"github.com/rbright/voxrelay/internal/config"
	"github.com/rbright/voxrelay/internal/health"
)

const probeTimeout = 3 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	checks := []Check{}

	checks = append(checks, Check{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfg.Path),
	})
	checks = append(checks, checkEnvFile(cfg))
	checks = append(checks, checkCredential(cfg.Config))

	if cfg.Config.APIKey != "" {
		checks = append(checks, checkUpstreamAuth(ctx, cfg.Config))
	}

	checks = append(checks, checkAudioSelection(ctx, cfg.Config))
	checks = append(checks, checkRelayHTTP(ctx, cfg.Config.Client.APIURL))
	if target := strings.TrimSpace(cfg.Config.Relay.GRPCListen); target != "" {
		checks = append(checks, checkRelayGRPC(ctx, target))
	}

	return Report{Checks: checks}
}

// checkEnvFile reports whether a .env file contributed to the environment.
func checkEnvFile(cfg config.Loaded) Check {
	if cfg.EnvFile == "" {
		return Check{Name: "dotenv", Pass: true, Message: "no .env file in working directory"}
	}
	return Check{Name: "dotenv", Pass: true, Message: fmt.Sprintf("loaded %s", cfg.EnvFile)}
}

// checkCredential validates presence and shape of the upstream key.
func checkCredential(cfg config.Config) Check {
	name := cfg.Upstream.APIKeyEnv
	if cfg.APIKey == "" {
		return Check{Name: "credential", Pass: false, Message: fmt.Sprintf("%s is not set", name)}
	}
	if !strings.HasPrefix(cfg.APIKey, "sk-") {
		return Check{Name: "credential", Pass: true, Message: fmt.Sprintf("%s is set but does not start with sk-", name)}
	}
	return Check{Name: "credential", Pass: true, Message: fmt.Sprintf("%s is set", name)}
}

// checkUpstreamAuth lists models with the configured credential.
func checkUpstreamAuth(ctx context.Context, cfg config.Config) Check {
	client, err := assistant.New(assistant.Config{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.Assistant.BaseURL,
		MaxRetries: 0,
	}, nil)
	if err != nil {
		return Check{Name: "upstream.auth", Pass: false, Message: err.Error()}
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	count, err := client.Probe(probeCtx)
	if err != nil {
		if status := assistant.StatusCode(err); status != 0 {
			return Check{Name: "upstream.auth", Pass: false, Message: fmt.Sprintf("HTTP %d: %v", status, err)}
		}
		return Check{Name: "upstream.auth", Pass: false, Message: err.Error()}
	}
	return Check{Name: "upstream.auth", Pass: true, Message: fmt.Sprintf("credential accepted (%d models)", count)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkRelayHTTP probes the relay's /health endpoint.
func checkRelayHTTP(ctx context.Context, base string) Check {
	base = strings.TrimSpace(base)
	if base == "" {
		return Check{Name: "relay.http", Pass: false, Message: "client.api_url is empty"}
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	url := strings.TrimRight(base, "/") + "/health"
	reqCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return Check{Name: "relay.http", Pass: false, Message: fmt.Sprintf("build request: %v", err)}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Check{Name: "relay.http", Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Check{Name: "relay.http", Pass: false, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, url)}
	}

	var body struct {
		Status string `json:"status"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err := json.Unmarshal(data, &body); err != nil || body.Status != "ok" {
		return Check{Name: "relay.http", Pass: true, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, url)}
	}
	return Check{Name: "relay.http", Pass: true, Message: fmt.Sprintf("ok at %s", url)}
}

// checkRelayGRPC runs a standard health check against the relay's gRPC port.
func checkRelayGRPC(ctx context.Context, target string) Check {
	resp, err := health.Probe(ctx, target, "", probeTimeout)
	if err != nil {
		return Check{Name: "relay.grpc", Pass: false, Message: err.Error()}
	}
	return Check{Name: "relay.grpc", Pass: health.Serving(resp), Message: health.Render(resp)}
}
