package conversation

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/voxrelay/internal/audio"
	"github.com/rbright/voxrelay/internal/chunker"
	"github.com/rbright/voxrelay/internal/fsm"
	"github.com/rbright/voxrelay/internal/ipc"
	"github.com/rbright/voxrelay/internal/transcript"
)

type call struct {
	name string
	at   time.Time
}

type fakeBackend struct {
	text *transcript.Transcript

	mu         sync.Mutex
	calls      []call
	samples    []int16
	state      fsm.State
	connectErr error
	readyErr   error
	subs       int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{text: transcript.New(), state: fsm.StateDisconnected}
}

func (b *fakeBackend) record(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call{name: name, at: time.Now()})
}

func (b *fakeBackend) Connect(context.Context) error {
	b.record("connect")
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connectErr != nil {
		return b.connectErr
	}
	b.state = fsm.StateReady
	return nil
}

func (b *fakeBackend) WaitReady(context.Context) error {
	b.record("wait_ready")
	return b.readyErr
}

func (b *fakeBackend) SubmitAudio(_ context.Context, chunk []int16) error {
	b.record("submit")
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, chunk...)
	return nil
}

func (b *fakeBackend) RequestResponse(context.Context) error {
	b.record("request_response")
	return nil
}

func (b *fakeBackend) Disconnect(context.Context) error {
	b.record("disconnect")
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = fsm.StateDisconnected
	return nil
}

func (b *fakeBackend) Transcript() *transcript.Transcript { return b.text }

func (b *fakeBackend) Status() fsm.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fsm.Status{State: b.state}
}

func (b *fakeBackend) Subscribe(func(fsm.Status)) func() {
	b.mu.Lock()
	b.subs++
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		b.subs--
		b.mu.Unlock()
	}
}

func (b *fakeBackend) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.calls))
	for _, c := range b.calls {
		out = append(out, c.name)
	}
	return out
}

func (b *fakeBackend) callAt(name string) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.calls) - 1; i >= 0; i-- {
		if b.calls[i].name == name {
			return b.calls[i].at
		}
	}
	return time.Time{}
}

func (b *fakeBackend) submitted() []int16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int16(nil), b.samples...)
}

type fakeCapture struct {
	frames chan []float32
	once   sync.Once

	mu        sync.Mutex
	stoppedAt time.Time
}

func newFakeCapture() *fakeCapture {
	return &fakeCapture{frames: make(chan []float32, 16)}
}

func (c *fakeCapture) Frames() <-chan []float32 { return c.frames }

func (c *fakeCapture) Stop() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.stoppedAt = time.Now()
		c.mu.Unlock()
		close(c.frames)
	})
	return nil
}

func (c *fakeCapture) Device() audio.Device {
	return audio.Device{ID: "mic-1", Description: "Desk Mic"}
}

func (c *fakeCapture) FramesDropped() int64 { return 0 }

func (c *fakeCapture) stopped() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stoppedAt
}

func testConfig() Config {
	return Config{
		Chunker: chunker.Config{
			BatchInterval:    10 * time.Millisecond,
			FinalizeInterval: time.Hour,
			MinAudio:         0,
			MaxPendingFrames: 10,
			SampleRate:       24000,
		},
		Grace: 50 * time.Millisecond,
	}
}

func newTestOrchestrator(backend *fakeBackend, capture *fakeCapture, cfg Config) *Orchestrator {
	return New(backend, func(context.Context) (Capture, error) { return capture, nil }, cfg, nil)
}

func TestConnectResetsTranscriptAndStreamsAudio(t *testing.T) {
	backend := newFakeBackend()
	backend.text.SetTranscription("old conversation")
	capture := newFakeCapture()
	o := newTestOrchestrator(backend, capture, testConfig())

	require.NoError(t, o.Connect(context.Background()))
	defer func() { _ = o.Disconnect(context.Background()) }()

	require.Empty(t, backend.text.Snapshot().Transcription)
	require.True(t, o.View().MicActive)
	require.True(t, o.Connected())

	capture.frames <- []float32{0.5, -0.5}
	require.Eventually(t, func() bool { return len(backend.submitted()) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []int16{16384, -16384}, backend.submitted())
	require.Equal(t, []string{"connect", "wait_ready"}, backend.names()[:2])
}

func TestConnectCaptureFailureIsDenied(t *testing.T) {
	backend := newFakeBackend()
	o := New(backend, func(context.Context) (Capture, error) {
		return nil, errors.New("permission denied")
	}, testConfig(), nil)

	err := o.Connect(context.Background())
	require.ErrorIs(t, err, ErrCaptureDenied)
	require.Empty(t, backend.names())

	view := o.View()
	require.Equal(t, MsgCaptureDenied, view.Status.Err)
	require.False(t, view.MicActive)
	require.False(t, o.Connected())
}

func TestConnectBackendFailureStopsCapture(t *testing.T) {
	backend := newFakeBackend()
	backend.connectErr = errors.New("dial refused")
	capture := newFakeCapture()
	o := newTestOrchestrator(backend, capture, testConfig())

	err := o.Connect(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "dial refused")
	require.False(t, capture.stopped().IsZero())
	require.False(t, o.View().MicActive)
	require.False(t, o.Connected())
}

func TestConnectToleratesSlowReadiness(t *testing.T) {
	backend := newFakeBackend()
	backend.readyErr = errors.New("session not ready")
	o := newTestOrchestrator(backend, newFakeCapture(), testConfig())

	require.NoError(t, o.Connect(context.Background()))
	require.True(t, o.Connected())
	require.NoError(t, o.Disconnect(context.Background()))
}

func TestConnectTwiceFails(t *testing.T) {
	backend := newFakeBackend()
	o := newTestOrchestrator(backend, newFakeCapture(), testConfig())

	require.NoError(t, o.Connect(context.Background()))
	defer func() { _ = o.Disconnect(context.Background()) }()
	require.ErrorIs(t, o.Connect(context.Background()), ErrAlreadyConnected)
}

func TestDisconnectOrdersShutdown(t *testing.T) {
	backend := newFakeBackend()
	capture := newFakeCapture()
	cfg := testConfig()
	cfg.Grace = 80 * time.Millisecond
	o := newTestOrchestrator(backend, capture, cfg)

	require.NoError(t, o.Connect(context.Background()))
	capture.frames <- []float32{0.1}
	require.Eventually(t, func() bool { return len(backend.submitted()) == 1 }, time.Second, 5*time.Millisecond)

	backend.text.AppendTranscription("hello")
	backend.text.AppendResponse("hi there")

	require.NoError(t, o.Disconnect(context.Background()))

	names := backend.names()
	require.Equal(t, []string{"request_response", "disconnect"}, names[len(names)-2:])

	requested := backend.callAt("request_response")
	stopped := capture.stopped()
	disconnected := backend.callAt("disconnect")
	require.GreaterOrEqual(t, stopped.Sub(requested), cfg.Grace)
	require.False(t, disconnected.Before(stopped))

	for i, name := range names {
		if name == "request_response" {
			require.NotContains(t, names[i+1:], "submit")
		}
	}

	view := o.View()
	require.False(t, view.MicActive)
	require.False(t, o.Connected())
	require.Equal(t, "hello", view.Text.Transcription)
	require.Equal(t, "hi there", view.Text.Response)
	require.Equal(t, int64(1), o.Stats().Chunks)

	backend.mu.Lock()
	require.Zero(t, backend.subs)
	backend.mu.Unlock()
}

func TestDisconnectWithoutConnectIsNoop(t *testing.T) {
	backend := newFakeBackend()
	o := newTestOrchestrator(backend, newFakeCapture(), testConfig())
	require.NoError(t, o.Disconnect(context.Background()))
	require.Empty(t, backend.names())
}

func TestHandleStatusReportsConversation(t *testing.T) {
	backend := newFakeBackend()
	o := newTestOrchestrator(backend, newFakeCapture(), testConfig())
	require.NoError(t, o.Connect(context.Background()))
	defer func() { _ = o.Disconnect(context.Background()) }()

	backend.text.AppendTranscription("what is the weather")
	backend.text.AppendResponse("sunny")

	resp := o.Handle(context.Background(), ipc.Request{Command: ipc.CommandStatus})
	require.True(t, resp.OK)
	require.Equal(t, "ready", resp.State)
	require.Equal(t, "connected", resp.Connection)
	require.Equal(t, "what is the weather", resp.Transcription)
	require.Equal(t, "sunny", resp.Reply)
}

func TestHandleStopAndUnknown(t *testing.T) {
	backend := newFakeBackend()
	o := newTestOrchestrator(backend, newFakeCapture(), testConfig())

	resp := o.Handle(context.Background(), ipc.Request{Command: ipc.CommandStop})
	require.False(t, resp.OK)
	require.Equal(t, ErrNotConnected.Error(), resp.Error)

	require.NoError(t, o.Connect(context.Background()))
	defer func() { _ = o.Disconnect(context.Background()) }()

	resp = o.Handle(context.Background(), ipc.Request{Command: ipc.CommandStop})
	require.True(t, resp.OK)
	require.Equal(t, "stop requested", resp.Message)

	resp = o.Handle(context.Background(), ipc.Request{Command: ipc.CommandStop})
	require.True(t, resp.OK)
	require.Equal(t, "stop already requested", resp.Message)

	resp = o.Handle(context.Background(), ipc.Request{Command: "toggle"})
	require.False(t, resp.OK)
	require.Equal(t, "unknown command: toggle", resp.Error)
}

func TestRunStopsOnStopRequest(t *testing.T) {
	backend := newFakeBackend()
	capture := newFakeCapture()
	o := newTestOrchestrator(backend, capture, testConfig())

	done := make(chan Result, 1)
	go func() { done <- o.Run(context.Background()) }()

	require.Eventually(t, o.Connected, time.Second, 5*time.Millisecond)
	capture.frames <- []float32{0.25}
	require.Eventually(t, func() bool { return len(backend.submitted()) == 1 }, time.Second, 5*time.Millisecond)
	backend.text.AppendTranscription("bye")

	resp := o.Handle(context.Background(), ipc.Request{Command: ipc.CommandStop})
	require.True(t, resp.OK)

	var result Result
	select {
	case result = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
	}
	require.NoError(t, result.Err)
	require.Equal(t, "Desk Mic (mic-1)", result.AudioDevice)
	require.Equal(t, "bye", result.Transcription)
	require.Equal(t, fsm.StateDisconnected, result.Status.State)
	require.Equal(t, int64(1), result.Chunks)
	require.False(t, result.ConnectedAt.IsZero())
	require.False(t, result.FinishedAt.Before(result.StartedAt))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	backend := newFakeBackend()
	o := newTestOrchestrator(backend, newFakeCapture(), testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, o.Connected, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case result := <-done:
		require.NoError(t, result.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
	}
	require.Contains(t, backend.names(), "disconnect")
}

func TestRunReportsConnectFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.connectErr = errors.New("relay down")
	o := newTestOrchestrator(backend, newFakeCapture(), testConfig())

	result := o.Run(context.Background())
	require.Error(t, result.Err)
	require.True(t, result.ConnectedAt.IsZero())
}

func TestAudioDumpWritesPatchedWAV(t *testing.T) {
	backend := newFakeBackend()
	capture := newFakeCapture()
	cfg := testConfig()
	cfg.DumpDir = filepath.Join(t.TempDir(), "debug")
	o := newTestOrchestrator(backend, capture, cfg)

	require.NoError(t, o.Connect(context.Background()))
	capture.frames <- []float32{0, 1}
	require.Eventually(t, func() bool { return len(backend.submitted()) == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, o.Disconnect(context.Background()))

	entries, err := os.ReadDir(cfg.DumpDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(cfg.DumpDir, entries[0].Name()))
	require.NoError(t, err)
	require.Len(t, data, 44+4)
	require.Equal(t, uint32(36+4), binary.LittleEndian.Uint32(data[4:8]))
	require.Equal(t, uint32(4), binary.LittleEndian.Uint32(data[40:44]))
	require.Equal(t, uint32(24000), binary.LittleEndian.Uint32(data[24:28]))
}

func TestDebugDir(t *testing.T) {
	state := t.TempDir()
	t.Setenv("XDG_STATE_HOME", state)
	dir, err := DebugDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(state, "voxrelay", "debug"), dir)

	home := t.TempDir()
	t.Setenv("XDG_STATE_HOME", "")
	t.Setenv("HOME", home)
	dir, err = DebugDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".local", "state", "voxrelay", "debug"), dir)
}

func TestDescribeDevice(t *testing.T) {
	require.Equal(t, "Elgato (alsa_input.wave3)", describeDevice(audio.Device{Description: "Elgato", ID: "alsa_input.wave3"}))
	require.Equal(t, "Elgato", describeDevice(audio.Device{Description: "Elgato"}))
	require.Equal(t, "alsa_input.wave3", describeDevice(audio.Device{ID: "alsa_input.wave3"}))
}
