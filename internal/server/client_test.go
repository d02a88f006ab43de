package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/npezzotti/go-convo/internal/chat"
	"github.com/npezzotti/go-convo/internal/stats"
	"github.com/npezzotti/go-convo/internal/testutil"
	"github.com/npezzotti/go-convo/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, svc *chat.MockChatService, su *stats.MockStatsUpdater) *Client {
	cs := newTestChatServer(t, su)
	c := NewClient(chat.Identity{Subject: "ext_1"}, types.User{Id: 1, Name: "testuser"}, nil, cs, svc, testutil.TestLogger(t))
	return c
}

func nextMessage(t *testing.T, c *Client) *ServerMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	default:
		t.Fatal("expected a queued message")
		return nil
	}
}

func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Errorf("expected no queued message, got %+v", msg)
	default:
	}
}

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		res := c.queueMessage(&ServerMessage{})
		assert.True(t, res, "expected queueMessage to return true when channel is not full")

		select {
		case msg := <-c.send:
			assert.NotNil(t, msg, "expected a message to be sent to the client")
		default:
			t.Error("expected a message to be sent to the client, but none was sent")
		}
	})
	t.Run("channel full", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		c.send <- &ServerMessage{}
		res := c.queueMessage(&ServerMessage{})
		assert.False(t, res, "expected queueMessage to return false when channel is full")
	})
}

func Test_serializeMessage(t *testing.T) {
	message := &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        1,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: 200,
			Data:         "test data",
		},
	}

	expected := `{"id":1,"timestamp":"` + message.Timestamp.Format(time.RFC3339Nano) +
		`","response":{"response_code":200,"data":"test data"}}`

	bytes, err := serializeMessage(message)
	assert.NoError(t, err, "expected no error during serialization")
	assert.Equal(t, expected, string(bytes), "expected serialized message to match the expected format")

	update := UpdateMessage("sub-1", json.RawMessage(`{"unread":2}`))
	bytes, err = serializeMessage(update)
	require.NoError(t, err)
	assert.Contains(t, string(bytes), `"update":{"sub_id":"sub-1","result":{"unread":2}}`)
}

func Test_stopClient(t *testing.T) {
	c := &Client{
		stop: make(chan struct{}),
	}

	c.stopClient()
	assert.NotPanics(t, c.stopClient, "expected stopping twice to be safe")

	select {
	case <-c.stop:
	default:
		t.Error("expected stop channel to be closed")
	}
}

func Test_dependsOn(t *testing.T) {
	sub := &subscription{deps: []string{chat.ConversationKey(1), chat.UserKey(2)}}

	tcases := []struct {
		name string
		keys []string
		want bool
	}{
		{name: "conversation key", keys: []string{chat.ConversationKey(1)}, want: true},
		{name: "one of many", keys: []string{chat.MessageKey(9), chat.UserKey(2)}, want: true},
		{name: "other conversation", keys: []string{chat.ConversationKey(10)}, want: false},
		{name: "no keys", keys: nil, want: false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, sub.dependsOn(chat.Event{Keys: tc.keys}))
		})
	}
}

func Test_notify(t *testing.T) {
	c := &Client{events: make(chan chat.Event, 1)}

	c.notify(chat.Event{Keys: []string{"users"}})
	assert.False(t, c.stale.Load(), "expected first event to be buffered")

	c.notify(chat.Event{Keys: []string{"users"}})
	assert.True(t, c.stale.Load(), "expected overflow to mark the client stale")
}

func TestClient_dispatchInvalid(t *testing.T) {
	c := newTestClient(t, &chat.MockChatService{}, &stats.MockStatsUpdater{})

	c.dispatch(&ClientMessage{BaseMessage: BaseMessage{Id: 4}})

	msg := nextMessage(t, c)
	assert.Equal(t, 4, msg.Id)
	assert.Equal(t, http.StatusBadRequest, msg.Response.ResponseCode)
	assert.Equal(t, "invalid message format", msg.Response.Error)
}

func TestClient_subscribe(t *testing.T) {
	tcases := []struct {
		name     string
		query    string
		args     string
		setup    func(svc *chat.MockChatService, su *stats.MockStatsUpdater)
		wantCode int
		wantErr  string
	}{
		{
			name:     "unknown query",
			query:    "dropTables",
			wantCode: http.StatusBadRequest,
			wantErr:  "unknown query",
		},
		{
			name:     "malformed args",
			query:    "getConversation",
			args:     `{"conversation_id":"seven"}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid query arguments",
		},
		{
			name:  "service rejects cursor",
			query: "getMessages",
			args:  `{"conversation_id":7,"cursor":"bogus"}`,
			setup: func(svc *chat.MockChatService, _ *stats.MockStatsUpdater) {
				svc.On("GetMessages", mock.Anything, 7, "bogus", 0).Return(types.MessagePage{}, chat.ErrInvalidArgument).Once()
			},
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid query arguments",
		},
		{
			name:  "service failure",
			query: "getConversation",
			args:  `{"conversation_id":7}`,
			setup: func(svc *chat.MockChatService, _ *stats.MockStatsUpdater) {
				svc.On("GetConversation", mock.Anything, 7).Return(nil, errors.New("db down")).Once()
			},
			wantCode: http.StatusInternalServerError,
			wantErr:  "internal server error",
		},
		{
			name:  "success",
			query: "getConversation",
			args:  `{"conversation_id":7}`,
			setup: func(svc *chat.MockChatService, su *stats.MockStatsUpdater) {
				svc.On("GetConversation", mock.Anything, 7).Return(&types.Conversation{Id: 7, Name: "team"}, nil).Once()
				su.On("Incr", "NumSubscriptions").Once()
				su.On("Incr", "NumUpdatesPushed").Once()
			},
			wantCode: http.StatusOK,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &chat.MockChatService{}
			su := &stats.MockStatsUpdater{}
			defer svc.AssertExpectations(t)
			defer su.AssertExpectations(t)
			if tc.setup != nil {
				tc.setup(svc, su)
			}

			c := newTestClient(t, svc, su)
			c.dispatch(&ClientMessage{
				BaseMessage: BaseMessage{Id: 1},
				Subscribe:   &Subscribe{Query: tc.query, Args: json.RawMessage(tc.args)},
			})

			resp := nextMessage(t, c)
			require.NotNil(t, resp.Response)
			assert.Equal(t, 1, resp.Id)
			assert.Equal(t, tc.wantCode, resp.Response.ResponseCode)
			assert.Equal(t, tc.wantErr, resp.Response.Error)

			if tc.wantCode != http.StatusOK {
				assert.Empty(t, c.subs)
				assertNoMessage(t, c)
				return
			}

			data, ok := resp.Response.Data.(map[string]any)
			require.True(t, ok)
			subId, _ := data["sub_id"].(string)
			require.Contains(t, c.subs, subId)
			assert.Equal(t, []string{chat.ConversationKey(7), chat.UserKey(1)}, c.subs[subId].deps)

			update := nextMessage(t, c)
			require.NotNil(t, update.Update)
			assert.Equal(t, subId, update.Update.SubId)

			var conv types.Conversation
			require.NoError(t, json.Unmarshal(update.Update.Result, &conv))
			assert.Equal(t, "team", conv.Name)
		})
	}
}

func TestClient_refresh(t *testing.T) {
	svc := &chat.MockChatService{}
	su := &stats.MockStatsUpdater{}
	defer svc.AssertExpectations(t)
	defer su.AssertExpectations(t)

	svc.On("GetUnreadCount", mock.Anything, 3).Return(1, nil).Twice()
	svc.On("GetUnreadCount", mock.Anything, 3).Return(2, nil).Once()
	su.On("Incr", "NumSubscriptions").Once()
	su.On("Incr", "NumUpdatesPushed").Twice()

	c := newTestClient(t, svc, su)
	c.dispatch(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Subscribe:   &Subscribe{Query: "getUnreadCount", Args: json.RawMessage(`{"conversation_id":3}`)},
	})
	nextMessage(t, c)
	first := nextMessage(t, c)
	assert.JSONEq(t, "1", string(first.Update.Result))

	related := func(s *subscription) bool { return s.dependsOn(chat.Event{Keys: []string{chat.ConversationKey(3)}}) }
	unrelated := func(s *subscription) bool { return s.dependsOn(chat.Event{Keys: []string{chat.ConversationKey(4)}}) }

	c.refresh(unrelated)
	assertNoMessage(t, c)

	c.refresh(related)
	assertNoMessage(t, c)

	c.refresh(related)
	second := nextMessage(t, c)
	assert.Equal(t, first.Update.SubId, second.Update.SubId)
	assert.JSONEq(t, "2", string(second.Update.Result))
}

func TestClient_unsubscribe(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Decr", "NumSubscriptions").Once()
	defer su.AssertExpectations(t)

	c := newTestClient(t, &chat.MockChatService{}, su)
	c.subs["abc"] = &subscription{id: "abc"}

	c.dispatch(&ClientMessage{BaseMessage: BaseMessage{Id: 2}, Unsubscribe: &Unsubscribe{SubId: "abc"}})
	resp := nextMessage(t, c)
	assert.Equal(t, http.StatusAccepted, resp.Response.ResponseCode)
	assert.Empty(t, c.subs)

	c.dispatch(&ClientMessage{BaseMessage: BaseMessage{Id: 3}, Unsubscribe: &Unsubscribe{SubId: "abc"}})
	resp = nextMessage(t, c)
	assert.Equal(t, http.StatusNotFound, resp.Response.ResponseCode)
	assert.Equal(t, "subscription not found", resp.Response.Error)
}

func TestClient_heartbeat(t *testing.T) {
	tcases := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "refreshes presence", wantCode: http.StatusAccepted},
		{name: "store failure", err: errors.New("db down"), wantCode: http.StatusInternalServerError},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &chat.MockChatService{}
			defer svc.AssertExpectations(t)
			svc.On("SetOnline", mock.Anything).Return(tc.err).Once()

			c := newTestClient(t, svc, &stats.MockStatsUpdater{})
			c.dispatch(&ClientMessage{BaseMessage: BaseMessage{Id: 5}, Heartbeat: &Heartbeat{}})

			resp := nextMessage(t, c)
			assert.Equal(t, 5, resp.Id)
			assert.Equal(t, tc.wantCode, resp.Response.ResponseCode)
		})
	}
}

func TestClient_cleanup(t *testing.T) {
	svc := &chat.MockChatService{}
	su := &stats.MockStatsUpdater{}
	defer svc.AssertExpectations(t)
	defer su.AssertExpectations(t)

	su.On("Incr", "NumActiveClients").Twice()
	su.On("Decr", "NumActiveClients").Twice()
	su.On("Add", "NumSubscriptions", -1).Once()
	svc.On("SetOffline", mock.Anything).Return(nil).Once()

	first := newTestClient(t, svc, su)
	second := NewClient(chat.Identity{Subject: "ext_1"}, first.user, nil, first.chatServer, svc, first.log)
	first.chatServer.RegisterClient(first)
	first.chatServer.RegisterClient(second)
	first.subs["abc"] = &subscription{id: "abc"}

	first.cleanup()
	assert.Empty(t, first.subs)
	svc.AssertNotCalled(t, "SetOffline", mock.Anything)
	select {
	case <-first.stop:
	default:
		t.Error("expected client to be stopped")
	}

	second.cleanup()
	svc.AssertCalled(t, "SetOffline", mock.Anything)
}
