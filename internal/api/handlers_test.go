package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/npezzotti/go-convo/internal/chat"
	"github.com/npezzotti/go-convo/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func Test_fromServiceError(t *testing.T) {
	tcases := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{name: "unauthenticated", err: chat.ErrUnauthenticated, wantCode: http.StatusUnauthorized, wantMsg: "unauthenticated"},
		{name: "unauthorized", err: fmt.Errorf("conversation 3: %w", chat.ErrUnauthorized), wantCode: http.StatusForbidden, wantMsg: "conversation 3: unauthorized"},
		{name: "not found", err: fmt.Errorf("message 9: %w", chat.ErrNotFound), wantCode: http.StatusNotFound, wantMsg: "message 9: not found"},
		{name: "capacity", err: chat.ErrCapacity, wantCode: http.StatusUnprocessableEntity, wantMsg: "group capacity exceeded"},
		{name: "invalid argument", err: fmt.Errorf("empty content: %w", chat.ErrInvalidArgument), wantCode: http.StatusBadRequest, wantMsg: "empty content: invalid argument"},
		{name: "unexpected", err: errors.New("connection refused"), wantCode: http.StatusInternalServerError, wantMsg: "internal server error"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			apiErr := fromServiceError(tc.err)
			assert.Equal(t, tc.wantCode, apiErr.StatusCode)
			assert.Equal(t, tc.wantMsg, apiErr.Message)
			assert.ErrorIs(t, apiErr, tc.err)
		})
	}
}

func TestHandlers(t *testing.T) {
	removed := (*int)(nil)
	reactionId := 12

	tcases := []struct {
		name     string
		method   string
		path     string
		body     string
		anon     bool
		setup    func(svc *chat.MockChatService)
		wantCode int
		wantBody string
	}{
		{
			name:   "anonymous current user is null",
			method: http.MethodGet,
			path:   "/api/users/me",
			anon:   true,
			setup: func(svc *chat.MockChatService) {
				svc.On("GetCurrentUser", mock.Anything).Return(nil, nil).Once()
			},
			wantCode: http.StatusOK,
			wantBody: `null`,
		},
		{
			name:     "anonymous mutation is rejected",
			method:   http.MethodPost,
			path:     "/api/users",
			body:     `{"name":"Ada"}`,
			anon:     true,
			wantCode: http.StatusUnauthorized,
			wantBody: `{"status_code":401,"message":"unauthorized"}`,
		},
		{
			name:   "create or get user",
			method: http.MethodPost,
			path:   "/api/users",
			body:   `{"external_id":"ada","email":"ada@example.com","name":"Ada"}`,
			setup: func(svc *chat.MockChatService) {
				svc.On("CreateOrGetUser", mock.Anything, chat.CreateUserRequest{ExternalId: "ada", Email: "ada@example.com", Name: "Ada"}).
					Return(&types.User{Id: 1, ExternalId: "ada", Name: "Ada"}, nil).Once()
			},
			wantCode: http.StatusOK,
			wantBody: `{"id":1,"external_id":"ada","name":"Ada","created_at":"0001-01-01T00:00:00Z","updated_at":"0001-01-01T00:00:00Z"}`,
		},
		{
			name:     "malformed body",
			method:   http.MethodPost,
			path:     "/api/users",
			body:     `{"name":`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:   "search users",
			method: http.MethodGet,
			path:   "/api/users?search=car&cursor=15&limit=5",
			setup: func(svc *chat.MockChatService) {
				svc.On("SearchUsers", mock.Anything, "car", 15, 5).Return(types.UserPage{Users: []types.User{}}, nil).Once()
			},
			wantCode: http.StatusOK,
			wantBody: `{"users":[],"next_cursor":null}`,
		},
		{
			name:     "bad search cursor",
			method:   http.MethodGet,
			path:     "/api/users?cursor=abc",
			wantCode: http.StatusBadRequest,
		},
		{
			name:   "online users default to empty list",
			method: http.MethodGet,
			path:   "/api/presence",
			setup: func(svc *chat.MockChatService) {
				svc.On("GetOnlineUsers", mock.Anything).Return([]int(nil), nil).Once()
			},
			wantCode: http.StatusOK,
			wantBody: `{"user_ids":[]}`,
		},
		{
			name:   "set online",
			method: http.MethodPost,
			path:   "/api/presence/online",
			setup: func(svc *chat.MockChatService) {
				svc.On("SetOnline", mock.Anything).Return(nil).Once()
			},
			wantCode: http.StatusNoContent,
		},
		{
			name:   "get or create conversation",
			method: http.MethodPost,
			path:   "/api/conversations",
			body:   `{"current_user_id":1,"other_user_id":2}`,
			setup: func(svc *chat.MockChatService) {
				svc.On("GetOrCreateConversation", mock.Anything, 1, 2).Return(4, nil).Once()
			},
			wantCode: http.StatusOK,
			wantBody: `{"conversation_id":4}`,
		},
		{
			name:   "conversations default to the caller",
			method: http.MethodGet,
			path:   "/api/conversations?limit=10",
			setup: func(svc *chat.MockChatService) {
				svc.On("GetCurrentUser", mock.Anything).Return(&types.User{Id: 3}, nil).Once()
				svc.On("GetConversations", mock.Anything, 3, 0, 10).Return(types.ConversationPage{Conversations: []types.Conversation{}}, nil).Once()
			},
			wantCode: http.StatusOK,
			wantBody: `{"conversations":[],"next_cursor":null}`,
		},
		{
			name:   "anonymous conversations are empty",
			method: http.MethodGet,
			path:   "/api/conversations",
			anon:   true,
			setup: func(svc *chat.MockChatService) {
				svc.On("GetCurrentUser", mock.Anything).Return(nil, nil).Once()
			},
			wantCode: http.StatusOK,
			wantBody: `{"conversations":[],"next_cursor":null}`,
		},
		{
			name:   "delete conversation as non-member",
			method: http.MethodDelete,
			path:   "/api/conversations/8",
			setup: func(svc *chat.MockChatService) {
				svc.On("DeleteConversation", mock.Anything, 8).Return(fmt.Errorf("conversation 8: %w", chat.ErrUnauthorized)).Once()
			},
			wantCode: http.StatusForbidden,
			wantBody: `{"status_code":403,"message":"conversation 8: unauthorized"}`,
		},
		{
			name:   "create group",
			method: http.MethodPost,
			path:   "/api/groups",
			body:   `{"current_user_id":1,"member_ids":[2,3],"name":"team"}`,
			setup: func(svc *chat.MockChatService) {
				svc.On("CreateGroup", mock.Anything, 1, []int{2, 3}, "team").Return(5, nil).Once()
			},
			wantCode: http.StatusCreated,
			wantBody: `{"conversation_id":5}`,
		},
		{
			name:   "create group over capacity",
			method: http.MethodPost,
			path:   "/api/groups",
			body:   `{"current_user_id":1,"member_ids":[2],"name":"crowd"}`,
			setup: func(svc *chat.MockChatService) {
				svc.On("CreateGroup", mock.Anything, 1, []int{2}, "crowd").Return(0, chat.ErrCapacity).Once()
			},
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name:   "remove group member",
			method: http.MethodDelete,
			path:   "/api/groups/5/members/3",
			setup: func(svc *chat.MockChatService) {
				svc.On("RemoveGroupMember", mock.Anything, 5, 3).Return(nil).Once()
			},
			wantCode: http.StatusNoContent,
		},
		{
			name:     "invalid path id",
			method:   http.MethodDelete,
			path:     "/api/messages/abc",
			wantCode: http.StatusBadRequest,
		},
		{
			name:   "send message",
			method: http.MethodPost,
			path:   "/api/conversations/7/messages",
			body:   `{"sender_id":1,"content":"hello"}`,
			setup: func(svc *chat.MockChatService) {
				svc.On("SendMessage", mock.Anything, 7, 1, "hello").Return(11, nil).Once()
			},
			wantCode: http.StatusCreated,
			wantBody: `{"message_id":11}`,
		},
		{
			name:   "get messages with cursor",
			method: http.MethodGet,
			path:   "/api/conversations/7/messages?cursor=MTcwMDAwMDAwMDAwMDo3&limit=20",
			setup: func(svc *chat.MockChatService) {
				svc.On("GetMessages", mock.Anything, 7, "MTcwMDAwMDAwMDAwMDo3", 20).Return(types.MessagePage{Messages: []types.Message{}}, nil).Once()
			},
			wantCode: http.StatusOK,
			wantBody: `{"messages":[],"continue_cursor":null}`,
		},
		{
			name:   "unread count",
			method: http.MethodGet,
			path:   "/api/conversations/7/unread",
			setup: func(svc *chat.MockChatService) {
				svc.On("GetUnreadCount", mock.Anything, 7).Return(3, nil).Once()
			},
			wantCode: http.StatusOK,
			wantBody: `{"unread_count":3}`,
		},
		{
			name:   "add reaction",
			method: http.MethodPost,
			path:   "/api/messages/9/reactions",
			body:   `{"user_id":2,"emoji":"👍"}`,
			setup: func(svc *chat.MockChatService) {
				svc.On("AddReaction", mock.Anything, 9, 2, "👍").Return(&reactionId, nil).Once()
			},
			wantCode: http.StatusOK,
			wantBody: `{"reaction_id":12}`,
		},
		{
			name:   "toggle reaction off",
			method: http.MethodPost,
			path:   "/api/messages/9/reactions",
			body:   `{"user_id":2,"emoji":"👍"}`,
			setup: func(svc *chat.MockChatService) {
				svc.On("AddReaction", mock.Anything, 9, 2, "👍").Return(removed, nil).Once()
			},
			wantCode: http.StatusOK,
			wantBody: `{"reaction_id":null}`,
		},
		{
			name:   "typing users",
			method: http.MethodGet,
			path:   "/api/conversations/7/typing?exclude_user_id=2",
			setup: func(svc *chat.MockChatService) {
				svc.On("GetTypingUsers", mock.Anything, 7, 2).Return([]types.User(nil), nil).Once()
			},
			wantCode: http.StatusOK,
			wantBody: `[]`,
		},
		{
			name:   "set typing",
			method: http.MethodPut,
			path:   "/api/conversations/7/typing",
			body:   `{"user_id":2}`,
			setup: func(svc *chat.MockChatService) {
				svc.On("SetTyping", mock.Anything, 7, 2).Return(nil).Once()
			},
			wantCode: http.StatusNoContent,
		},
		{
			name:   "store failure",
			method: http.MethodPost,
			path:   "/api/conversations/7/read",
			body:   `{"user_id":2}`,
			setup: func(svc *chat.MockChatService) {
				svc.On("MarkMessagesAsRead", mock.Anything, 7, 2).Return(errors.New("connection reset")).Once()
			},
			wantCode: http.StatusInternalServerError,
			wantBody: `{"status_code":500,"message":"internal server error"}`,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &chat.MockChatService{}
			defer svc.AssertExpectations(t)
			if tc.setup != nil {
				tc.setup(svc)
			}

			app := newTestApp(t, svc, &mockPinger{})
			auth := ""
			if !tc.anon {
				auth = bearer(t, "ada")
			}

			rr := serve(app, tc.method, tc.path, tc.body, auth)
			assert.Equal(t, tc.wantCode, rr.Code, "body: %s", rr.Body.String())
			if tc.wantBody != "" {
				assert.JSONEq(t, tc.wantBody, rr.Body.String())
			}
		})
	}
}

func TestHandlers_LogsInternalErrors(t *testing.T) {
	svc := &chat.MockChatService{}
	defer svc.AssertExpectations(t)
	svc.On("DeleteMessage", mock.Anything, 4).Return(errors.New("disk full")).Once()

	app := newTestApp(t, svc, &mockPinger{})
	buf := &bytes.Buffer{}
	app.log.SetOutput(buf)

	rr := serve(app, http.MethodDelete, "/api/messages/4", "", bearer(t, "ada"))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, buf.String(), "DELETE /api/messages/4: disk full")
}

func TestHandlers_IdentityReachesService(t *testing.T) {
	svc := &chat.MockChatService{}
	defer svc.AssertExpectations(t)

	hasIdentity := mock.MatchedBy(func(ctx context.Context) bool {
		ident, ok := chat.IdentityFrom(ctx)
		return ok && ident.Subject == "ada" && ident.Email == "ada@example.com" && ident.Name == "ada"
	})
	svc.On("SetTyping", hasIdentity, 7, 1).Return(nil).Once()

	app := newTestApp(t, svc, &mockPinger{})
	rr := serve(app, http.MethodPut, "/api/conversations/7/typing", `{"user_id":1}`, bearer(t, "ada"))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}
