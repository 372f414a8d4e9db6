// Package broadcast maintains the set of connected streaming clients and
// fans out alerts to them, with subscribe-time replay and per-client
// non-blocking delivery.
package broadcast

import (
	"sync"

	"github.com/iff-guardian/siem-gateway/internal/alert"
	"github.com/iff-guardian/siem-gateway/pkg/logger"
)

// sendQueueSize bounds each client's pending-delivery backlog. Alerts for a
// client whose queue is full are dropped rather than allowed to stall the
// broadcast; the client itself stays subscribed.
const sendQueueSize = 256

// Client is a single subscriber's non-blocking delivery channel. The
// transport adapter (internal/httpapi) drains Send and forwards each alert
// as a websocket text frame.
type Client struct {
	Send chan alert.CanonicalAlert

	closeOnce sync.Once
}

func newClient() *Client {
	return &Client{Send: make(chan alert.CanonicalAlert, sendQueueSize)}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.Send)
	})
}

// ReplayFunc supplies the most recent N alerts, oldest first, for the
// subscribe-time replay batch.
type ReplayFunc func() []alert.CanonicalAlert

// Broadcaster owns the client set. All operations are serialized under a
// single mutex: this is what makes subscribe-then-replay an atomic step
// relative to concurrently arriving broadcasts.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	log     logger.Logger
}

// New creates an empty Broadcaster.
func New(log logger.Logger) *Broadcaster {
	return &Broadcaster{
		clients: make(map[*Client]struct{}),
		log:     log.With("component", "broadcaster"),
	}
}

// Subscribe registers a new client and replays the given batch to it before
// releasing the lock, so no concurrently-accepted broadcast can be observed
// by this client ahead of its replay.
func (b *Broadcaster) Subscribe(replay []alert.CanonicalAlert) *Client {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := newClient()
	b.clients[c] = struct{}{}
	for _, a := range replay {
		c.Send <- a
	}
	return c
}

// Unsubscribe removes a client from the set and drops any pending sends.
func (b *Broadcaster) Unsubscribe(c *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
}

// Broadcast delivers the alert to every current client, in the order this
// method is called. A client whose queue is full is logged and skipped; it
// does not block or affect delivery to any other client.
func (b *Broadcaster) Broadcast(a alert.CanonicalAlert) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for c := range b.clients {
		select {
		case c.Send <- a:
		default:
			b.log.Warn("client send queue full, dropping alert for client", "alert_id", a.ID)
		}
	}
}

// Count returns the number of currently connected clients.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}
