package database

import "time"

type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

type User struct {
	Id         int
	ExternalId string
	Email      string
	Name       string
	Avatar     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Conversation struct {
	Id         int
	ExternalId string
	Type       ConversationType
	Name       string
	// AdminUserId is zero for direct conversations.
	AdminUserId int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Member struct {
	Id             int
	ConversationId int
	UserId         int
	JoinedAt       time.Time
}

type Message struct {
	Id             int
	ConversationId int
	SenderId       int
	Content        string
	Deleted        bool
	Status         MessageStatus
	CreatedAt      time.Time
}

type Reaction struct {
	Id        int
	MessageId int
	UserId    int
	Emoji     string
	CreatedAt time.Time
}

type Unread struct {
	ConversationId int
	UserId         int
	Count          int
	// LastReadMessageId is the newest message of the conversation at the
	// time the user last marked it as read, zero if never.
	LastReadMessageId int
}

type Typing struct {
	ConversationId int
	UserId         int
	ExpiresAt      time.Time
}

type Presence struct {
	UserId   int
	Online   bool
	LastSeen time.Time
}

// Watermark identifies a position in a conversation's message log.
// Messages are totally ordered by (CreatedAt, Id).
type Watermark struct {
	CreatedAt time.Time
	Id        int
}

// After reports whether w sorts strictly after m.
func (w Watermark) After(m Message) bool {
	if m.CreatedAt.Equal(w.CreatedAt) {
		return m.Id < w.Id
	}
	return m.CreatedAt.Before(w.CreatedAt)
}

type CreateUserParams struct {
	ExternalId string
	Email      string
	Name       string
	Avatar     string
	CreatedAt  time.Time
}

type UpdateUserParams struct {
	Id        int
	Email     string
	Name      string
	Avatar    string
	UpdatedAt time.Time
}

type ListUsersParams struct {
	Search    string
	ExcludeId int
	Offset    int
	Limit     int
}

type CreateConversationParams struct {
	ExternalId  string
	Type        ConversationType
	Name        string
	AdminUserId int
	CreatedAt   time.Time
}

type CreateMessageParams struct {
	ConversationId int
	SenderId       int
	Content        string
	CreatedAt      time.Time
}

type ListMessagesParams struct {
	ConversationId int
	// Before, when set, restricts the page to messages older than the
	// watermark.
	Before *Watermark
	Limit  int
}
