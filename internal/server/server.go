package server

import (
	"context"
	"log"
	"sync"

	"github.com/npezzotti/go-convo/internal/chat"
	"github.com/npezzotti/go-convo/internal/stats"
)

const (
	metricActiveClients = "NumActiveClients"
	metricSubscriptions = "NumSubscriptions"
	metricEvents        = "NumEvents"
	metricUpdates       = "NumUpdatesPushed"
)

// ChatServer tracks live connections and fans committed events out to
// them. It implements chat.Notifier.
type ChatServer struct {
	log         *log.Logger
	stats       stats.StatsProvider
	clients     map[*Client]struct{}
	userMap     map[int]map[*Client]struct{}
	clientsLock sync.RWMutex
	eventChan   chan chat.Event
	stop        chan stopReq
	// closed is closed when Run returns.
	closed chan struct{}
}

type stopReq struct {
	done chan struct{}
}

var _ chat.Notifier = (*ChatServer)(nil)

func NewChatServer(logger *log.Logger, su stats.StatsProvider) (*ChatServer, error) {
	cs := &ChatServer{
		log:       logger,
		stats:     su,
		clients:   make(map[*Client]struct{}),
		userMap:   make(map[int]map[*Client]struct{}),
		eventChan: make(chan chat.Event, 256),
		stop:      make(chan stopReq),
		closed:    make(chan struct{}),
	}

	for _, name := range []string{metricActiveClients, metricSubscriptions, metricEvents, metricUpdates} {
		su.RegisterMetric(name)
	}

	return cs, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case ev := <-cs.eventChan:
			cs.handleEvent(ev)
		case req := <-cs.stop:
			cs.log.Println("shutting down clients")
			cs.clientsLock.RLock()
			for c := range cs.clients {
				c.stopClient()
			}
			cs.clientsLock.RUnlock()

			close(cs.closed)
			close(req.done)
			return
		}
	}
}

// Publish queues ev for delivery. It blocks while the event buffer is full
// and returns immediately once the server has stopped.
func (cs *ChatServer) Publish(ev chat.Event) {
	select {
	case cs.eventChan <- ev:
	case <-cs.closed:
	}
}

func (cs *ChatServer) handleEvent(ev chat.Event) {
	cs.stats.Incr(metricEvents)

	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()
	for c := range cs.clients {
		c.notify(ev)
	}
}

func (cs *ChatServer) RegisterClient(c *Client) {
	cs.log.Printf("adding connection %s from user %d", c.id, c.user.Id)
	cs.addClient(c)
}

// UnregisterClient removes c and reports whether it was the user's last
// live connection.
func (cs *ChatServer) UnregisterClient(c *Client) bool {
	cs.log.Printf("removing connection %s from user %d", c.id, c.user.Id)
	return cs.removeClient(c)
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	cs.clients[c] = struct{}{}
	if _, ok := cs.userMap[c.user.Id]; !ok {
		cs.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	cs.userMap[c.user.Id][c] = struct{}{}
	cs.stats.Incr(metricActiveClients)
}

func (cs *ChatServer) removeClient(c *Client) bool {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; !ok {
		return false
	}
	delete(cs.clients, c)
	cs.stats.Decr(metricActiveClients)

	sessions := cs.userMap[c.user.Id]
	delete(sessions, c)
	if len(sessions) > 0 {
		return false
	}
	delete(cs.userMap, c.user.Id)
	return true
}

// Shutdown stops every client and the event loop, waiting until ctx is done.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	req := stopReq{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
