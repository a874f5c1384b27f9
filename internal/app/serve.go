package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/rbright/voxrelay/internal/assistant"
	"github.com/rbright/voxrelay/internal/config"
	"github.com/rbright/voxrelay/internal/relay"
)

func (r Runner) commandServe(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	server, err := newRelayServer(cfg, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	httpLis, err := net.Listen("tcp", cfg.Relay.Listen)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: listen %s: %v\n", cfg.Relay.Listen, err)
		return 1
	}

	var grpcLis net.Listener
	if addr := strings.TrimSpace(cfg.Relay.GRPCListen); addr != "" {
		grpcLis, err = net.Listen("tcp", addr)
		if err != nil {
			_ = httpLis.Close()
			fmt.Fprintf(r.Stderr, "error: listen %s: %v\n", addr, err)
			return 1
		}
	}

	fmt.Fprintf(r.Stdout, "relay listening on ws://%s%s\n", httpLis.Addr(), cfg.Relay.Path)
	if cfg.APIKey == "" {
		fmt.Fprintf(r.Stderr, "warning: %s is not set; clients will be rejected\n", cfg.Upstream.APIKeyEnv)
	}

	if err := server.Run(ctx, httpLis, grpcLis); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("relay stopped", "error", err.Error())
		return 1
	}
	logger.Info("relay stopped")
	return 0
}

// newRelayServer maps config onto the relay. A missing credential leaves the
// HTTP API without an assistant and the websocket path rejecting clients.
func newRelayServer(cfg config.Config, logger *slog.Logger) (*relay.Server, error) {
	var api relay.Assistant
	client, err := assistant.New(assistant.Config{
		APIKey:          cfg.APIKey,
		BaseURL:         cfg.Assistant.BaseURL,
		TranscribeModel: cfg.Assistant.TranscribeModel,
		ChatModel:       cfg.Assistant.ChatModel,
		Temperature:     cfg.Assistant.Temperature,
		Instructions:    cfg.Assistant.Instructions,
		MaxRetries:      cfg.Assistant.MaxRetries,
	}, logger)
	switch {
	case err == nil:
		api = client
	case errors.Is(err, assistant.ErrNoCredential):
		logger.Warn("assistant disabled", "reason", err.Error())
	default:
		return nil, fmt.Errorf("build assistant: %w", err)
	}

	return relay.New(relay.Config{
		Path:           cfg.Relay.Path,
		AllowedOrigins: cfg.Relay.AllowedOrigins,
		UpstreamURL:    cfg.Upstream.URL,
		Model:          cfg.Upstream.Model,
		BetaHeader:     cfg.Upstream.BetaHeader,
		APIKey:         cfg.APIKey,
		DialTimeout:    config.Millis(cfg.Upstream.DialTimeoutMS),
	}, api, logger), nil
}
