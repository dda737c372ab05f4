// Package server coordinates client registration, event dispatch into the
// chat engine, room-scoped fan-out, and connection cleanup via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// Hub owns the chat engine and every registered client. Its Run loop is the
// only goroutine that touches the engine: registrations, inbound events,
// disconnects and read-only queries are handled one at a time, each to
// completion including fan-out, before the next begins.
type Hub struct {
	engine         *chat.Engine
	clients        map[chat.ConnID]*Client
	inbound        chan InboundEvent
	register       chan *Client
	unregister     chan *Client
	queries        chan func(*chat.Engine)
	mutex          sync.RWMutex
	wg             sync.WaitGroup
	ctx            context.Context
	cancel         context.CancelFunc
	done           chan struct{}
	logger         *slog.Logger
	sendBuffer     int
	maxMessageSize int64
}

// NewHub creates a Hub around engine. The returned Hub is ready to manage
// WebSocket connections once Run is started.
func NewHub(engine *chat.Engine, cfg *Config, logger *slog.Logger) *Hub {
	if cfg == nil {
		cfg = NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		engine:         engine,
		clients:        make(map[chat.ConnID]*Client),
		inbound:        make(chan InboundEvent),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		queries:        make(chan func(*chat.Engine)),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		logger:         logger,
		sendBuffer:     cfg.SendBufferSize,
		maxMessageSize: cfg.MaxMessageSize,
	}
}

// GetRegisterChan returns the channel used for registering new clients to the hub.
func (h *Hub) GetRegisterChan() chan<- *Client {
	return h.register
}

// GetUnregisterChan returns the channel used for unregistering clients from the hub.
func (h *Hub) GetUnregisterChan() chan<- *Client {
	return h.unregister
}

// GetInboundChan returns the channel clients use to submit decoded events.
func (h *Hub) GetInboundChan() chan<- InboundEvent {
	return h.inbound
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("recovered from panic in safeSend", "panic", r)
		}
	}()

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.clients[client.id]; !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop. It should be called in a separate
// goroutine and returns once Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case in := <-h.inbound:
			h.handleInbound(in)

		case query := <-h.queries:
			query(h.engine)
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	if client == nil {
		h.logger.Warn("received nil client registration; skipping")
		return
	}

	h.mutex.Lock()
	client.closed = false
	h.clients[client.id] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()
	client.logger.Info("client registered", "clients", clientCount)

	if client.conn == nil {
		return
	}

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) handleUnregister(client *Client) {
	if client == nil {
		return
	}

	h.mutex.Lock()
	current, ok := h.clients[client.id]
	if !ok || current != client {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client.id)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	close(client.send)
	client.logger.Info("client unregistered", "clients", clientCount)

	h.dispatch(client.id, chat.Disconnect{})
}

func (h *Hub) handleInbound(in InboundEvent) {
	h.mutex.RLock()
	_, registered := h.clients[in.Conn]
	h.mutex.RUnlock()

	if !registered {
		h.logger.Debug("dropping event from unregistered connection", "conn", in.Conn, "event", in.Event.EventName())
		return
	}

	h.dispatch(in.Conn, in.Event)
}

// dispatch applies one event to the engine and delivers the resulting
// broadcasts. Clients dropped during delivery are disconnected through the
// engine within the same call.
func (h *Hub) dispatch(conn chat.ConnID, ev chat.Event) {
	pending := []InboundEvent{{Conn: conn, Event: ev}}
	for len(pending) > 0 {
		next := pending[0]
		pending = pending[1:]

		broadcasts := h.engine.Handle(next.Conn, next.Event)
		for _, dropped := range h.deliver(broadcasts) {
			pending = append(pending, InboundEvent{Conn: dropped, Event: chat.Disconnect{}})
		}
	}
}

// deliver encodes each broadcast once and queues it on every recipient's send
// channel. It returns the connections removed because their buffer was full.
func (h *Hub) deliver(broadcasts []chat.Broadcast) []chat.ConnID {
	var failed []*Client
	seen := make(map[chat.ConnID]struct{})

	for _, b := range broadcasts {
		frame, err := chat.EncodeOutbound(b.Event)
		if err != nil {
			h.logger.Error("encoding broadcast failed", "event", b.Event.EventName(), "room", b.Room, "error", err)
			continue
		}

		for _, id := range b.To {
			h.mutex.RLock()
			client, ok := h.clients[id]
			h.mutex.RUnlock()
			if !ok {
				continue
			}
			if _, already := seen[id]; already {
				continue
			}
			if !h.safeSend(client, frame) {
				seen[id] = struct{}{}
				failed = append(failed, client)
			}
		}
	}

	return h.removeFailedClients(failed)
}

// removeFailedClients removes clients that failed to receive messages and closes their channels
func (h *Hub) removeFailedClients(clientsToRemove []*Client) []chat.ConnID {
	if len(clientsToRemove) == 0 {
		return nil
	}

	h.mutex.Lock()
	var removed []*Client
	for _, client := range clientsToRemove {
		if current, exists := h.clients[client.id]; exists && current == client {
			delete(h.clients, client.id)
			client.closed = true
			removed = append(removed, client)
		}
	}
	h.mutex.Unlock()

	ids := make([]chat.ConnID, 0, len(removed))
	for _, client := range removed {
		close(client.send)
		client.logger.Warn("client removed due to full send buffer")
		ids = append(ids, client.id)
	}
	return ids
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	h.logger.Info("shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for id, client := range h.clients {
		clients = append(clients, client)
		client.closed = true
		delete(h.clients, id)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		close(client.send)
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					client.logger.Warn("closing client connection failed", "error", err)
				}
			}
		}
	}

	h.logger.Info("closed client connections", "clients", len(clients))
}

// Query runs fn on the hub goroutine, serialized with event handling, and
// waits for it to return. ctx bounds only the hand-off; once the hub has
// accepted the query, Query waits for fn to finish. fn must not retain the
// engine.
func (h *Hub) Query(ctx context.Context, fn func(*chat.Engine)) error {
	finished := make(chan struct{})
	query := func(e *chat.Engine) {
		defer close(finished)
		fn(e)
	}

	select {
	case h.queries <- query:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.ctx.Done():
		return ErrHubClosed
	}

	<-finished
	return nil
}

// RoomView returns the members and history of a room.
func (h *Hub) RoomView(ctx context.Context, room string) (chat.RoomView, error) {
	var view chat.RoomView
	err := h.Query(ctx, func(e *chat.Engine) {
		view = e.Snapshot(room)
	})
	return view, err
}

// Stats returns the engine statistics.
func (h *Hub) Stats(ctx context.Context) (chat.Stats, error) {
	var stats chat.Stats
	err := h.Query(ctx, func(e *chat.Engine) {
		stats = e.Stats()
	})
	return stats, err
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
