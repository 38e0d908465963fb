package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/hupe1980/agenttown/core"
	"github.com/hupe1980/agenttown/logging"
)

// HubOptions configures a Hub.
type HubOptions struct {
	// Buffer is the per-subscriber queue length. Events beyond it are dropped
	// for that subscriber only.
	Buffer       int
	WriteTimeout time.Duration
	Logger       logging.Logger
}

// Hub fans simulation events out to websocket subscribers. Publish never
// blocks.
type Hub struct {
	opts HubOptions

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	ch      chan core.Event
	dropped atomic.Int64
}

var _ core.Publisher = (*Hub)(nil)

// NewHub creates a hub without subscribers.
func NewHub(optFns ...func(o *HubOptions)) *Hub {
	opts := HubOptions{Buffer: 64, WriteTimeout: 5 * time.Second, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 1
	}
	return &Hub{opts: opts, subs: map[*subscriber]struct{}{}}
}

// Publish delivers e to every subscriber with room in its queue.
func (h *Hub) Publish(e core.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
	}
}

// Subscribe registers a new event queue. The returned cancel function
// unregisters it and must be called exactly once.
func (h *Hub) Subscribe() (<-chan core.Event, func()) {
	s := &subscriber{ch: make(chan core.Event, h.opts.Buffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s.ch, func() {
		h.mu.Lock()
		delete(h.subs, s)
		h.mu.Unlock()
		if n := s.dropped.Load(); n > 0 {
			h.opts.Logger.Warn("event subscriber dropped events", "dropped", n)
		}
	}
}

// Subscribers returns the number of registered queues.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request and streams events as JSON text messages
// until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		h.opts.Logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	// The feed is one-way; CloseRead handles control frames and cancels ctx
	// when the peer closes.
	ctx := conn.CloseRead(r.Context())

	events, cancel := h.Subscribe()
	defer cancel()
	h.opts.Logger.Debug("event subscriber connected", "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case e := <-events:
			if err := h.write(ctx, conn, e); err != nil {
				h.opts.Logger.Debug("event subscriber gone", "remote", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, e core.Event) error {
	ctx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, e)
}
