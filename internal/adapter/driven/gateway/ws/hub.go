package ws

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Wyydra/medsignal/internal/core/domain"
	"github.com/Wyydra/medsignal/internal/core/port"
)

type inbound struct {
	client *Client
	env    domain.Envelope
}

// Hub owns every live connection and serializes all signaling work onto the
// goroutine running Run. It implements port.Directory.
type Hub struct {
	mu      sync.RWMutex
	clients map[domain.ParticipantID]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	quit       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[domain.ParticipantID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 256),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Lookup(id domain.ParticipantID) (port.Participant, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	if !ok {
		return nil, false
	}
	return c, true
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run processes connection events until Stop is called.
func (h *Hub) Run(handler port.SignalHandler) {
	ctx := context.Background()
	defer close(h.done)

	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for id, client := range h.clients {
				client.shutdown()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			log.Info().Msg("Hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID()] = client
			h.mu.Unlock()
			log.Info().Str("client_id", client.ID().String()).Msg("Client registered")
			handler.Connected(ctx, client)

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client.ID()]
			delete(h.clients, client.ID())
			h.mu.Unlock()
			if ok {
				handler.Disconnected(ctx, client)
				client.shutdown()
				log.Info().Str("client_id", client.ID().String()).Msg("Client unregistered")
			}

		case msg := <-h.inbound:
			// frames still queued from a client that already left are stale
			if _, ok := h.Lookup(msg.client.ID()); !ok {
				continue
			}
			handler.Handle(ctx, msg.client, msg.env)
		}
	}
}

// Register hands a connection to the hub. It returns false once the hub has
// stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

func (h *Hub) dispatch(c *Client, env domain.Envelope) {
	select {
	case h.inbound <- inbound{client: c, env: env}:
	case <-h.quit:
	}
}

// Stop closes every connection and waits for Run to return.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
	<-h.done
}
