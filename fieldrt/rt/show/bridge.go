package show

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gekko3d/pulsefield"
)

var ErrQueueFull = errors.New("show: command queue full")

const DefaultQueueDepth = 64

type queued struct {
	session uuid.UUID
	cmd     Command
}

// Bridge serves websocket show-control connections. Each connection is read
// on its own goroutine; decoded commands wait in a bounded queue until the
// frame thread calls Drain.
type Bridge struct {
	log      pulsefield.Logger
	upgrader websocket.Upgrader
	cmds     chan queued

	mu     sync.Mutex
	conns  map[uuid.UUID]*websocket.Conn
	closed bool
	wg     sync.WaitGroup

	received atomic.Uint64
	dropped  atomic.Uint64
}

func NewBridge(queueDepth int, log pulsefield.Logger) *Bridge {
	if queueDepth < 1 {
		queueDepth = DefaultQueueDepth
	}
	return &Bridge{
		log: pulsefield.OrNop(log).Named("show"),
		upgrader: websocket.Upgrader{
			// Show controllers run on other hosts.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		cmds:  make(chan queued, queueDepth),
		conns: make(map[uuid.UUID]*websocket.Conn),
	}
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warnf("upgrade from %s: %v", r.RemoteAddr, err)
		return
	}

	session := uuid.New()
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.Close()
		return
	}
	b.conns[session] = conn
	b.wg.Add(1)
	b.mu.Unlock()

	b.log.Infof("session %s connected from %s", session, r.RemoteAddr)
	defer func() {
		b.mu.Lock()
		delete(b.conns, session)
		b.mu.Unlock()
		conn.Close()
		b.wg.Done()
		b.log.Infof("session %s closed", session)
	}()

	b.read(session, conn)
}

func (b *Bridge) read(session uuid.UUID, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.log.Debugf("session %s read: %v", session, err)
			}
			return
		}
		b.received.Add(1)

		var msg Message
		reply := Reply{Type: typeAck, Session: session.String()}
		if err := json.Unmarshal(data, &msg); err != nil {
			err = fmt.Errorf("%w: %v", ErrBadMessage, err)
			reply.Type, reply.Error = typeError, err.Error()
		} else {
			reply.Ref = msg.Type
			if err := b.enqueue(session, msg); err != nil {
				reply.Type, reply.Error = typeError, err.Error()
			}
		}
		if err := conn.WriteJSON(reply); err != nil {
			b.log.Debugf("session %s write: %v", session, err)
			return
		}
	}
}

func (b *Bridge) enqueue(session uuid.UUID, msg Message) error {
	cmd, err := Decode(msg)
	if err != nil {
		b.log.Debugf("session %s: %v", session, err)
		return err
	}
	select {
	case b.cmds <- queued{session: session, cmd: cmd}:
		return nil
	default:
		b.dropped.Add(1)
		b.log.Warnf("session %s: dropping %s, queue full", session, cmd.Type)
		return ErrQueueFull
	}
}

// Drain applies every queued command to t and returns how many ran. Call it
// from the thread that owns t.
func (b *Bridge) Drain(t Target) int {
	if b == nil {
		return 0
	}
	n := 0
	for {
		select {
		case q := <-b.cmds:
			if err := q.cmd.Apply(t); err != nil {
				b.log.Warnf("session %s: %s: %v", q.session, q.cmd.Type, err)
			}
			n++
		default:
			return n
		}
	}
}

func (b *Bridge) Pending() int { return len(b.cmds) }

func (b *Bridge) Received() uint64 { return b.received.Load() }

func (b *Bridge) Dropped() uint64 { return b.dropped.Load() }

func (b *Bridge) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// ListenAndServe serves path on addr until ctx is cancelled.
func (b *Bridge) ListenAndServe(ctx context.Context, addr, path string) error {
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.Handle(path, b)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		b.log.Infof("listening on ws://%s%s", addr, path)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("show: serving %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	b.Close()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close disconnects every session and waits for their readers to exit.
// Queued commands stay drainable.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	for _, c := range b.conns {
		c.Close()
	}
	b.mu.Unlock()
	b.wg.Wait()
}
