package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/rbright/voxrelay/internal/pcm"
)

const waitTimeout = 2 * time.Second

type received struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Session *struct {
		Modalities []string `json:"modalities"`
		Voice      string   `json:"voice"`
	} `json:"session"`
	Audio    string `json:"audio"`
	Response *struct {
		Modalities []string `json:"modalities"`
	} `json:"response"`

	at time.Time
}

func (r received) samples(t *testing.T) []int16 {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(r.Audio)
	require.NoError(t, err)
	return pcm.FromBytes(raw)
}

type closeInfo struct {
	code   int
	reason string
}

type relayConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	events  chan received
	closed  chan closeInfo
}

func (rc *relayConn) send(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	require.NoError(t, rc.conn.WriteMessage(websocket.TextMessage, data))
}

func (rc *relayConn) ackAudio(t *testing.T, eventType string) {
	t.Helper()
	rc.send(t, map[string]any{
		"type":    eventType,
		"session": map[string]any{"modalities": []string{"text", "audio"}},
	})
}

// drop kills the TCP connection without a close handshake.
func (rc *relayConn) drop() {
	_ = rc.conn.UnderlyingConn().Close()
}

func (rc *relayConn) next(t *testing.T) received {
	t.Helper()
	select {
	case ev := <-rc.events:
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for client event")
		return received{}
	}
}

func (rc *relayConn) nextOfType(t *testing.T, eventType string) received {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-rc.events:
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
			return received{}
		}
	}
}

// quiet asserts that no event of eventType arrives within d.
func (rc *relayConn) quiet(t *testing.T, eventType string, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case ev := <-rc.events:
			require.NotEqual(t, eventType, ev.Type, "unexpected %s", eventType)
		case <-deadline:
			return
		}
	}
}

func (rc *relayConn) waitClosed(t *testing.T) closeInfo {
	t.Helper()
	select {
	case info := <-rc.closed:
		return info
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for close")
		return closeInfo{}
	}
}

type fakeRelay struct {
	srv   *httptest.Server
	conns chan *relayConn
	delay time.Duration
}

func newFakeRelay(t *testing.T) *fakeRelay {
	return newSlowRelay(t, 0)
}

// newSlowRelay delays every websocket handshake by delay.
func newSlowRelay(t *testing.T, delay time.Duration) *fakeRelay {
	t.Helper()
	r := &fakeRelay{conns: make(chan *relayConn, 16), delay: delay}
	upgrader := websocket.Upgrader{}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.delay > 0 {
			time.Sleep(r.delay)
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		rc := &relayConn{
			conn:   conn,
			events: make(chan received, 256),
			closed: make(chan closeInfo, 1),
		}
		r.conns <- rc
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				info := closeInfo{code: websocket.CloseAbnormalClosure}
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					info = closeInfo{code: ce.Code, reason: ce.Text}
				}
				rc.closed <- info
				_ = conn.Close()
				return
			}
			var ev received
			if json.Unmarshal(data, &ev) == nil {
				ev.at = time.Now()
				rc.events <- ev
			}
		}
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *fakeRelay) url() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

func (r *fakeRelay) accept(t *testing.T) *relayConn {
	t.Helper()
	select {
	case rc := <-r.conns:
		return rc
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for client connection")
		return nil
	}
}

func (r *fakeRelay) noConnection(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case <-r.conns:
		t.Fatal("unexpected client connection")
	case <-time.After(d):
	}
}

func testTiming() Timing {
	return Timing{
		ConnectTimeout:    time.Second,
		SettleDelay:       0,
		AudioStepDelay:    50 * time.Millisecond,
		ReadyDelay:        20 * time.Millisecond,
		FlushPacing:       60 * time.Millisecond,
		CommitDelay:       0,
		ReadyPollInterval: 10 * time.Millisecond,
		ReadyPollAttempts: 200,
	}
}

func testConfig(url string) Config {
	return Config{
		URL:               url,
		Timing:            testTiming(),
		ReconnectAttempts: 3,
		ReconnectBase:     10 * time.Millisecond,
		ReconnectCeiling:  40 * time.Millisecond,
	}
}
