package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-convo/internal/chat"
	"github.com/npezzotti/go-convo/internal/types"
	"golang.org/x/crypto/blake2b"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingInterval    = (pongWait * 9) / 10
	maxMessageSize  = 1024
	refreshInterval = time.Second
)

type subscription struct {
	id    string
	name  string
	query query
	args  json.RawMessage
	deps  []string
	// digest fingerprints the last result delivered to the client.
	digest    [blake2b.Size256]byte
	delivered bool
}

func (s *subscription) dependsOn(ev chat.Event) bool {
	for _, k := range ev.Keys {
		if slices.Contains(s.deps, k) {
			return true
		}
	}
	return false
}

type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	svc        chat.ChatService
	log        *log.Logger
	user       types.User
	// ctx carries the connection's verified identity into service calls.
	ctx      context.Context
	send     chan *ServerMessage
	events   chan chat.Event
	subs     map[string]*subscription
	subsLock sync.Mutex
	// stale is set when an event was dropped; the next tick re-evaluates
	// every subscription.
	stale    atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(ident chat.Identity, user types.User, conn *websocket.Conn, cs *ChatServer, svc chat.ChatService, l *log.Logger) *Client {
	return &Client{
		id:         uuid.NewString(),
		conn:       conn,
		chatServer: cs,
		svc:        svc,
		log:        l,
		user:       user,
		ctx:        chat.WithIdentity(context.Background(), ident),
		send:       make(chan *ServerMessage, 256),
		events:     make(chan chat.Event, 64),
		subs:       make(map[string]*subscription),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	if err := c.svc.SetOnline(c.ctx); err != nil {
		c.log.Printf("set online for user %d: %v", c.user.Id, err)
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.Timestamp = Now()
		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *ClientMessage) {
	switch {
	case msg.Subscribe != nil:
		c.subscribe(msg)
	case msg.Unsubscribe != nil:
		c.unsubscribe(msg)
	case msg.Heartbeat != nil:
		c.heartbeat(msg)
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

// Watch re-evaluates subscriptions when a relevant event arrives or, for
// time-dependent queries, on every tick. It returns when the client stops.
func (c *Client) Watch() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-c.events:
			c.refresh(func(s *subscription) bool { return s.dependsOn(ev) })
		case <-ticker.C:
			if c.stale.CompareAndSwap(true, false) {
				c.refresh(func(*subscription) bool { return true })
				continue
			}
			c.refresh(func(s *subscription) bool { return s.query.timed })
		case <-c.stop:
			return
		}
	}
}

func (c *Client) notify(ev chat.Event) {
	select {
	case c.events <- ev:
	default:
		c.stale.Store(true)
	}
}

func (c *Client) subscribe(msg *ClientMessage) {
	select {
	case <-c.chatServer.closed:
		// no events will be delivered once the hub has stopped
		c.queueMessage(ErrServiceUnavailable(msg.Id))
		return
	default:
	}

	q, ok := queries[msg.Subscribe.Query]
	if !ok {
		c.queueMessage(ErrUnknownQuery(msg.Id))
		return
	}

	sub := &subscription{
		id:    uuid.NewString(),
		name:  msg.Subscribe.Query,
		query: q,
		args:  msg.Subscribe.Args,
	}

	c.subsLock.Lock()
	defer c.subsLock.Unlock()

	data, _, err := c.evaluate(sub)
	if err != nil {
		if errors.Is(err, chat.ErrInvalidArgument) {
			c.queueMessage(ErrInvalidArgs(msg.Id))
			return
		}
		c.log.Printf("evaluate %s: %v", sub.name, err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	c.subs[sub.id] = sub
	c.chatServer.stats.Incr(metricSubscriptions)
	c.queueMessage(NoErrOK(msg.Id, map[string]any{"sub_id": sub.id}))
	c.push(sub, data)
}

func (c *Client) unsubscribe(msg *ClientMessage) {
	c.subsLock.Lock()
	defer c.subsLock.Unlock()

	if _, ok := c.subs[msg.Unsubscribe.SubId]; !ok {
		c.queueMessage(ErrSubscriptionNotFound(msg.Id))
		return
	}

	delete(c.subs, msg.Unsubscribe.SubId)
	c.chatServer.stats.Decr(metricSubscriptions)
	c.queueMessage(NoErrAccepted(msg.Id))
}

func (c *Client) heartbeat(msg *ClientMessage) {
	if err := c.svc.SetOnline(c.ctx); err != nil {
		c.log.Printf("heartbeat for user %d: %v", c.user.Id, err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}
	c.queueMessage(NoErrAccepted(msg.Id))
}

func (c *Client) refresh(match func(*subscription) bool) {
	c.subsLock.Lock()
	defer c.subsLock.Unlock()

	for _, sub := range c.subs {
		if !match(sub) {
			continue
		}

		data, changed, err := c.evaluate(sub)
		if err != nil {
			c.log.Printf("refresh %s %s: %v", sub.name, sub.id, err)
			continue
		}
		if changed {
			c.push(sub, data)
		}
	}
}

// evaluate runs the subscription's query and reports whether the result
// differs from the last one delivered. Callers hold subsLock.
func (c *Client) evaluate(sub *subscription) (json.RawMessage, bool, error) {
	result, deps, err := sub.query.run(c.ctx, c.svc, c.user.Id, sub.args)
	if err != nil {
		return nil, false, err
	}
	sub.deps = deps

	data, err := json.Marshal(result)
	if err != nil {
		return nil, false, err
	}

	digest := blake2b.Sum256(data)
	if sub.delivered && digest == sub.digest {
		return data, false, nil
	}
	sub.digest = digest
	return data, true, nil
}

func (c *Client) push(sub *subscription, data json.RawMessage) {
	if !c.queueMessage(UpdateMessage(sub.id, data)) {
		sub.delivered = false
		c.stale.Store(true)
		return
	}
	sub.delivered = true
	c.chatServer.stats.Incr(metricUpdates)
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	last := c.chatServer.UnregisterClient(c)
	c.stopClient()

	c.subsLock.Lock()
	n := len(c.subs)
	clear(c.subs)
	c.subsLock.Unlock()
	if n > 0 {
		c.chatServer.stats.Add(metricSubscriptions, -n)
	}

	if last {
		if err := c.svc.SetOffline(c.ctx); err != nil {
			c.log.Printf("set offline for user %d: %v", c.user.Id, err)
		}
	}
}
