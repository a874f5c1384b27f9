package session

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Timing holds the settling delays and bounds of the negotiation handshake.
type Timing struct {
	ConnectTimeout    time.Duration
	SettleDelay       time.Duration
	AudioStepDelay    time.Duration
	ReadyDelay        time.Duration
	FlushPacing       time.Duration
	CommitDelay       time.Duration
	ReadyPollInterval time.Duration
	ReadyPollAttempts int
}

// DefaultTiming returns the delays the upstream service is known to tolerate.
func DefaultTiming() Timing {
	return Timing{
		ConnectTimeout:    10 * time.Second,
		SettleDelay:       300 * time.Millisecond,
		AudioStepDelay:    time.Second,
		ReadyDelay:        2 * time.Second,
		FlushPacing:       200 * time.Millisecond,
		CommitDelay:       100 * time.Millisecond,
		ReadyPollInterval: 100 * time.Millisecond,
		ReadyPollAttempts: 20,
	}
}

// Config describes how a Machine reaches the relay and paces the session.
type Config struct {
	URL    string
	Header http.Header
	Voice  string
	Timing Timing

	// PendingLimit bounds the queue kept while not ready; FlushKeep is how many of
	// the newest queued chunks survive the flush on entering ready.
	PendingLimit int
	FlushKeep    int

	ReconnectAttempts int
	ReconnectBase     time.Duration
	ReconnectCeiling  time.Duration

	Dialer *websocket.Dialer
}

func (c Config) withDefaults() Config {
	def := DefaultTiming()
	t := &c.Timing
	if t.ConnectTimeout <= 0 {
		t.ConnectTimeout = def.ConnectTimeout
	}
	if t.SettleDelay < 0 {
		t.SettleDelay = def.SettleDelay
	}
	if t.AudioStepDelay < 0 {
		t.AudioStepDelay = def.AudioStepDelay
	}
	if t.ReadyDelay < 0 {
		t.ReadyDelay = def.ReadyDelay
	}
	if t.FlushPacing < 0 {
		t.FlushPacing = def.FlushPacing
	}
	if t.CommitDelay < 0 {
		t.CommitDelay = def.CommitDelay
	}
	if t.ReadyPollInterval <= 0 {
		t.ReadyPollInterval = def.ReadyPollInterval
	}
	if t.ReadyPollAttempts <= 0 {
		t.ReadyPollAttempts = def.ReadyPollAttempts
	}
	if c.Voice == "" {
		c.Voice = "alloy"
	}
	if c.PendingLimit <= 0 {
		c.PendingLimit = 10
	}
	if c.FlushKeep <= 0 {
		c.FlushKeep = 2
	}
	if c.Dialer == nil {
		c.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: t.ConnectTimeout,
		}
	}
	return c
}
