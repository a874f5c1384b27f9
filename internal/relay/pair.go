package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/rbright/voxrelay/internal/realtime"
)

const controlTimeout = time.Second

var errPeerClosed = errors.New("peer closed")

// Pair couples one client connection with its upstream connection. Frames are
// forwarded in both directions until either side closes; the close is then
// propagated and both connections are released once.
type Pair struct {
	ID       string
	client   *endpoint
	upstream *endpoint
	metrics  *Metrics
	logger   *slog.Logger

	// done is set by whichever side ends the pair first.
	done atomic.Bool
}

type endpoint struct {
	side string
	conn *websocket.Conn

	closeOnce sync.Once
	sentClose sync.Once
}

// close writes a close frame (at most once) and releases the connection.
func (e *endpoint) close(code int, reason string) {
	e.sentClose.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = e.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlTimeout))
	})
	e.release()
}

func (e *endpoint) release() {
	e.closeOnce.Do(func() { _ = e.conn.Close() })
}

// NewPair wires client and upstream together; Run starts forwarding.
func NewPair(id string, client, upstream *websocket.Conn, metrics *Metrics, logger *slog.Logger) *Pair {
	return &Pair{
		ID:       id,
		client:   &endpoint{side: SideClient, conn: client},
		upstream: &endpoint{side: SideUpstream, conn: upstream},
		metrics:  metrics,
		logger:   logger,
	}
}

// Run forwards until either side closes or ctx is cancelled. It returns the
// first transport error that was not an orderly close.
func (p *Pair) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.pump(p.client, p.upstream, DirectionClientToUpstream)
	})
	g.Go(func() error {
		return p.pump(p.upstream, p.client, DirectionUpstreamToClient)
	})
	g.Go(func() error {
		<-gctx.Done()
		if p.done.CompareAndSwap(false, true) {
			p.client.close(websocket.CloseGoingAway, "relay shutting down")
			p.upstream.close(websocket.CloseGoingAway, "relay shutting down")
			return nil
		}
		p.client.release()
		p.upstream.release()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, errPeerClosed) {
		return nil
	}
	return err
}

// pump copies frames from src to dst. On a read failure the matching close is
// written to dst and an error is returned so the group tears the pair down.
func (p *Pair) pump(src, dst *endpoint, direction string) error {
	frames := p.metrics.Frames.WithLabelValues(direction)
	for {
		messageType, data, err := src.conn.ReadMessage()
		if err != nil {
			if !p.done.CompareAndSwap(false, true) {
				return errPeerClosed
			}
			code, reason := closeFrame(err)
			p.metrics.Closes.WithLabelValues(src.side, strconv.Itoa(code)).Inc()
			forward := forwardCode(code)
			if forward == websocket.CloseInternalServerErr && reason == "" && src.side == SideUpstream {
				reason = "upstream connection error"
			}
			p.logger.Info("relay side closed", "side", src.side, "code", code, "reason", reason, "forward_code", forward)
			dst.close(forward, reason)

			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return errPeerClosed
			}
			return errors.Join(errPeerClosed, err)
		}

		if src.side == SideUpstream {
			if messageType == websocket.BinaryMessage && utf8.Valid(data) {
				messageType = websocket.TextMessage
			}
			if messageType == websocket.TextMessage {
				p.inspect(data)
			}
		}

		// The other side already closed; nothing more crosses the pair.
		if p.done.Load() {
			return errPeerClosed
		}
		if err := dst.conn.WriteMessage(messageType, data); err != nil {
			if !p.done.CompareAndSwap(false, true) {
				return errPeerClosed
			}
			p.logger.Debug("relay forward failed", "direction", direction, "error", err.Error())
			src.close(websocket.CloseInternalServerErr, "relay forward failed")
			return errors.Join(errPeerClosed, err)
		}
		frames.Inc()
	}
}

// inspect logs selected upstream events. Content is never altered.
func (p *Pair) inspect(data []byte) {
	var ev struct {
		Type  string               `json:"type"`
		Error *realtime.EventError `json:"error"`
	}
	if json.Unmarshal(data, &ev) != nil {
		return
	}
	switch ev.Type {
	case realtime.EventTypeError:
		attrs := []any{"class", string(realtime.ClassifyEvent(ev.Error))}
		if ev.Error != nil {
			attrs = append(attrs, "detail", ev.Error.Error())
		}
		p.logger.Warn("upstream error event", attrs...)
	case realtime.EventSessionCreated, realtime.EventSessionUpdated:
		p.logger.Info("upstream session event", "event", ev.Type)
	}
}

// closeFrame extracts the close code and reason from a read error. Transport
// failures without a close frame count as abnormal closure. Codes the library
// synthesizes locally carry its own error text, never a peer reason, so that
// text is dropped.
func closeFrame(err error) (int, string) {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return websocket.CloseAbnormalClosure, ""
	}
	switch closeErr.Code {
	case websocket.CloseAbnormalClosure, websocket.CloseTLSHandshake, websocket.CloseNoStatusReceived:
		return closeErr.Code, ""
	}
	return closeErr.Code, closeErr.Text
}

// forwardCode maps codes that may not be sent on the wire to ones that may.
func forwardCode(code int) int {
	switch code {
	case websocket.CloseNoStatusReceived:
		return websocket.CloseNormalClosure
	case websocket.CloseAbnormalClosure, websocket.CloseTLSHandshake:
		return websocket.CloseInternalServerErr
	default:
		return code
	}
}
