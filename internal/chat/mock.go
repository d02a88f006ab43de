package chat

import (
	"context"

	"github.com/npezzotti/go-convo/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockChatService struct {
	mock.Mock
}

var _ ChatService = (*MockChatService)(nil)

func (m *MockChatService) CreateOrGetUser(ctx context.Context, req CreateUserRequest) (*types.User, error) {
	args := m.Called(ctx, req)
	if u, ok := args.Get(0).(*types.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatService) UpdateUserByExternalId(ctx context.Context, req UpdateUserRequest) (*types.User, error) {
	args := m.Called(ctx, req)
	if u, ok := args.Get(0).(*types.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatService) GetCurrentUser(ctx context.Context) (*types.User, error) {
	args := m.Called(ctx)
	if u, ok := args.Get(0).(*types.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatService) GetUser(ctx context.Context, userId int) (*types.User, error) {
	args := m.Called(ctx, userId)
	if u, ok := args.Get(0).(*types.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatService) SearchUsers(ctx context.Context, search string, cursor, limit int) (types.UserPage, error) {
	args := m.Called(ctx, search, cursor, limit)
	return args.Get(0).(types.UserPage), args.Error(1)
}
func (m *MockChatService) GetOrCreateConversation(ctx context.Context, currentUserId, otherUserId int) (int, error) {
	args := m.Called(ctx, currentUserId, otherUserId)
	return args.Int(0), args.Error(1)
}
func (m *MockChatService) CreateGroup(ctx context.Context, currentUserId int, memberIds []int, name string) (int, error) {
	args := m.Called(ctx, currentUserId, memberIds, name)
	return args.Int(0), args.Error(1)
}
func (m *MockChatService) AddGroupMembers(ctx context.Context, conversationId int, memberIds []int) error {
	args := m.Called(ctx, conversationId, memberIds)
	return args.Error(0)
}
func (m *MockChatService) RemoveGroupMember(ctx context.Context, conversationId, memberId int) error {
	args := m.Called(ctx, conversationId, memberId)
	return args.Error(0)
}
func (m *MockChatService) DeleteGroup(ctx context.Context, conversationId int) error {
	args := m.Called(ctx, conversationId)
	return args.Error(0)
}
func (m *MockChatService) DeleteConversation(ctx context.Context, conversationId int) error {
	args := m.Called(ctx, conversationId)
	return args.Error(0)
}
func (m *MockChatService) GetConversations(ctx context.Context, userId, cursor, limit int) (types.ConversationPage, error) {
	args := m.Called(ctx, userId, cursor, limit)
	return args.Get(0).(types.ConversationPage), args.Error(1)
}
func (m *MockChatService) GetConversation(ctx context.Context, conversationId int) (*types.Conversation, error) {
	args := m.Called(ctx, conversationId)
	if c, ok := args.Get(0).(*types.Conversation); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatService) GetConversationMembers(ctx context.Context, conversationId int) ([]types.User, error) {
	args := m.Called(ctx, conversationId)
	return args.Get(0).([]types.User), args.Error(1)
}
func (m *MockChatService) GetMessages(ctx context.Context, conversationId int, cursor string, limit int) (types.MessagePage, error) {
	args := m.Called(ctx, conversationId, cursor, limit)
	return args.Get(0).(types.MessagePage), args.Error(1)
}
func (m *MockChatService) SendMessage(ctx context.Context, conversationId, senderId int, content string) (int, error) {
	args := m.Called(ctx, conversationId, senderId, content)
	return args.Int(0), args.Error(1)
}
func (m *MockChatService) DeleteMessage(ctx context.Context, messageId int) error {
	args := m.Called(ctx, messageId)
	return args.Error(0)
}
func (m *MockChatService) MarkMessagesAsRead(ctx context.Context, conversationId, userId int) error {
	args := m.Called(ctx, conversationId, userId)
	return args.Error(0)
}
func (m *MockChatService) GetUnreadCount(ctx context.Context, conversationId int) (int, error) {
	args := m.Called(ctx, conversationId)
	return args.Int(0), args.Error(1)
}
func (m *MockChatService) IncrementUnreadCount(ctx context.Context, conversationId, userId int) (int, error) {
	args := m.Called(ctx, conversationId, userId)
	return args.Int(0), args.Error(1)
}
func (m *MockChatService) AddReaction(ctx context.Context, messageId, userId int, emoji string) (*int, error) {
	args := m.Called(ctx, messageId, userId, emoji)
	if id, ok := args.Get(0).(*int); ok {
		return id, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatService) GetReactions(ctx context.Context, messageId int) ([]types.ReactionGroup, error) {
	args := m.Called(ctx, messageId)
	return args.Get(0).([]types.ReactionGroup), args.Error(1)
}
func (m *MockChatService) SetTyping(ctx context.Context, conversationId, userId int) error {
	args := m.Called(ctx, conversationId, userId)
	return args.Error(0)
}
func (m *MockChatService) ClearTyping(ctx context.Context, conversationId, userId int) error {
	args := m.Called(ctx, conversationId, userId)
	return args.Error(0)
}
func (m *MockChatService) GetTypingUsers(ctx context.Context, conversationId, excludeUserId int) ([]types.User, error) {
	args := m.Called(ctx, conversationId, excludeUserId)
	return args.Get(0).([]types.User), args.Error(1)
}
func (m *MockChatService) SetOnline(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockChatService) SetOffline(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockChatService) GetUserPresence(ctx context.Context, userId int) (*types.Presence, error) {
	args := m.Called(ctx, userId)
	if p, ok := args.Get(0).(*types.Presence); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatService) GetOnlineUsers(ctx context.Context) ([]int, error) {
	args := m.Called(ctx)
	return args.Get(0).([]int), args.Error(1)
}
