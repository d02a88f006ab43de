package database

import (
	"context"
	"time"
)

// Repository is the conversation store. All reads and writes happen
// inside a Tx so that each mutation is applied atomically and each
// query observes a single snapshot.
type Repository interface {
	Ping() error
	Close() error
	// WithTx runs fn in a read-write transaction. The transaction is
	// committed if fn returns nil and rolled back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	// ReadTx runs fn against a consistent read-only snapshot.
	ReadTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes row-level operations. Lookups of a single row return
// sql.ErrNoRows when nothing matches.
type Tx interface {
	GetUser(ctx context.Context, id int) (User, error)
	GetUserByExternalId(ctx context.Context, externalId string) (User, error)
	GetUsersByIds(ctx context.Context, ids []int) ([]User, error)
	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	UpdateUser(ctx context.Context, params UpdateUserParams) (User, error)
	ListUsers(ctx context.Context, params ListUsersParams) ([]User, error)

	CreateConversation(ctx context.Context, params CreateConversationParams) (Conversation, error)
	GetConversation(ctx context.Context, id int) (Conversation, error)
	// LockConversation returns the conversation and holds a write lock
	// on it until the transaction ends.
	LockConversation(ctx context.Context, id int) (Conversation, error)
	// LockUserPair serializes transactions that operate on the same
	// unordered pair of users.
	LockUserPair(ctx context.Context, a, b int) error
	TouchConversation(ctx context.Context, id int, at time.Time) error
	// DeleteConversation removes the conversation row together with its
	// remaining members, unread counters and typing signals.
	DeleteConversation(ctx context.Context, id int) error

	GetMember(ctx context.Context, conversationId, userId int) (Member, error)
	ListMembers(ctx context.Context, conversationId int) ([]Member, error)
	ListMemberships(ctx context.Context, userId int) ([]Member, error)
	// CreateMember is a no-op returning the existing row when the user is
	// already a member.
	CreateMember(ctx context.Context, conversationId, userId int, joinedAt time.Time) (Member, error)
	DeleteMember(ctx context.Context, conversationId, userId int) (bool, error)
	DeleteMembers(ctx context.Context, conversationId int) error

	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetMessage(ctx context.Context, id int) (Message, error)
	// ListMessages returns up to params.Limit messages ordered newest first.
	ListMessages(ctx context.Context, params ListMessagesParams) ([]Message, error)
	LatestMessage(ctx context.Context, conversationId int) (Message, error)
	SetMessageDeleted(ctx context.Context, id int) error
	// MarkMessagesRead flips every message not sent by readerId to read
	// and returns the number of rows changed.
	MarkMessagesRead(ctx context.Context, conversationId, readerId int) (int, error)
	// DeleteMessages removes every message of the conversation and the
	// reactions attached to them.
	DeleteMessages(ctx context.Context, conversationId int) error

	FindReaction(ctx context.Context, messageId, userId int, emoji string) (Reaction, error)
	CreateReaction(ctx context.Context, messageId, userId int, emoji string, at time.Time) (Reaction, error)
	DeleteReaction(ctx context.Context, id int) error
	ListReactions(ctx context.Context, messageId int) ([]Reaction, error)

	GetUnread(ctx context.Context, conversationId, userId int) (Unread, error)
	IncrementUnread(ctx context.Context, conversationId, userId int) (int, error)
	ResetUnread(ctx context.Context, conversationId, userId, lastReadMessageId int) error
	// DecrementUnread lowers, never below zero, the counter of every
	// member other than the sender who was counted for msg and has not
	// read it yet.
	DecrementUnread(ctx context.Context, msg Message) error

	UpsertTyping(ctx context.Context, conversationId, userId int, expiresAt time.Time) error
	DeleteTyping(ctx context.Context, conversationId, userId int) error
	// PruneTyping deletes the conversation's signals that expired at or
	// before now.
	PruneTyping(ctx context.Context, conversationId int, now time.Time) (int, error)
	ListTyping(ctx context.Context, conversationId int) ([]Typing, error)

	GetPresence(ctx context.Context, userId int) (Presence, error)
	UpsertPresence(ctx context.Context, p Presence) error
	ListOnline(ctx context.Context, seenSince time.Time) ([]Presence, error)
}
