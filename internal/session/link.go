package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rbright/voxrelay/internal/realtime"
)

const writeTimeout = 5 * time.Second

// link is one websocket connection to the relay. Everything scheduled for a link
// checks that the machine still owns it before acting, so callbacks outliving
// their connection are no-ops.
type link struct {
	conn *websocket.Conn
	gen  uint64

	writeMu sync.Mutex

	// timers and stepTimer are guarded by Machine.mu.
	timers    []*time.Timer
	stepTimer *time.Timer

	quiesceOnce sync.Once
	done        chan struct{}
}

func newLink(conn *websocket.Conn, gen uint64) *link {
	return &link{conn: conn, gen: gen, done: make(chan struct{})}
}

func (l *link) write(ev realtime.ClientEvent) error {
	data, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Type, err)
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", ev.Type, err)
	}
	return nil
}

func (l *link) writeClose(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	return l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// quiesce stops every pending timer and signals background work to stop.
// Callers hold Machine.mu.
func (l *link) quiesce() {
	for _, t := range l.timers {
		t.Stop()
	}
	l.timers = nil
	l.stepTimer = nil
	l.quiesceOnce.Do(func() { close(l.done) })
}

func (l *link) stopped() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}
