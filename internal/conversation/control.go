package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/rbright/voxrelay/internal/fsm"
	"github.com/rbright/voxrelay/internal/ipc"
)

const disconnectTimeout = 15 * time.Second

// Result is the complete output of one Run invocation.
type Result struct {
	Status           fsm.Status
	Transcription    string
	Response         string
	Err              error
	AudioDevice      string
	Chunks           int64
	Finalizes        int64
	DroppedFrames    int64
	CorrectedSamples int64
	StartedAt        time.Time
	ConnectedAt      time.Time
	FinishedAt       time.Time
}

// Run connects, waits for ctx cancellation or a stop request, then
// disconnects gracefully.
func (o *Orchestrator) Run(ctx context.Context) Result {
	result := Result{StartedAt: time.Now()}

	if err := o.Connect(ctx); err != nil {
		result.Err = err
		return o.finish(result)
	}
	result.ConnectedAt = time.Now()
	o.mu.Lock()
	result.AudioDevice = describeDevice(o.capture.Device())
	o.mu.Unlock()

	select {
	case <-ctx.Done():
		o.logger.Info("conversation interrupted", "reason", context.Cause(ctx).Error())
	case <-o.actions:
		o.logger.Info("conversation stop requested")
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
	defer cancel()
	if err := o.Disconnect(stopCtx); err != nil {
		result.Err = err
	}
	return o.finish(result)
}

func (o *Orchestrator) finish(result Result) Result {
	view := o.View()
	stats := o.Stats()

	o.mu.Lock()
	dropped := o.dropped
	o.mu.Unlock()

	result.Status = view.Status
	result.Transcription = view.Text.Transcription
	result.Response = view.Text.Response
	result.Chunks = stats.Chunks
	result.Finalizes = stats.Finalizes
	result.DroppedFrames = stats.DroppedFrames + dropped
	result.CorrectedSamples = stats.CorrectedSamples
	result.FinishedAt = time.Now()
	return result
}

// Handle serves IPC commands for the running conversation.
func (o *Orchestrator) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		view := o.View()
		return ipc.Response{
			OK:            true,
			State:         string(view.Status.State),
			Message:       "status",
			Error:         view.Status.Err,
			Connection:    view.Status.Connection(),
			Processing:    view.Status.Processing,
			Warning:       view.Status.Warning,
			Transcription: view.Text.Transcription,
			Reply:         view.Text.Response,
		}
	case ipc.CommandStop:
		return o.requestStop()
	default:
		return ipc.Response{OK: false, State: string(o.backend.Status().State), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

// requestStop enqueues a stop action while a conversation is running.
func (o *Orchestrator) requestStop() ipc.Response {
	state := string(o.backend.Status().State)
	if !o.Connected() {
		return ipc.Response{OK: false, State: state, Error: ErrNotConnected.Error()}
	}

	select {
	case o.actions <- actionStop:
		return ipc.Response{OK: true, State: state, Message: "stop requested"}
	default:
		return ipc.Response{OK: true, State: state, Message: "stop already requested"}
	}
}
