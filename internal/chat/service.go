package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/npezzotti/go-convo/internal/database"
	"github.com/npezzotti/go-convo/internal/types"
	"github.com/teris-io/shortid"
)

const (
	MaxGroupMembers = 20
	DefaultPageSize = 15
	MaxPageSize     = 100
	DefaultTyping   = 4 * time.Second
	DefaultPresence = 90 * time.Second
)

// ChatService is the full set of queries and mutations. Every method
// resolves the caller from the Identity stored in ctx.
type ChatService interface {
	CreateOrGetUser(ctx context.Context, req CreateUserRequest) (*types.User, error)
	UpdateUserByExternalId(ctx context.Context, req UpdateUserRequest) (*types.User, error)
	GetCurrentUser(ctx context.Context) (*types.User, error)
	GetUser(ctx context.Context, userId int) (*types.User, error)
	SearchUsers(ctx context.Context, search string, cursor, limit int) (types.UserPage, error)

	GetOrCreateConversation(ctx context.Context, currentUserId, otherUserId int) (int, error)
	CreateGroup(ctx context.Context, currentUserId int, memberIds []int, name string) (int, error)
	AddGroupMembers(ctx context.Context, conversationId int, memberIds []int) error
	RemoveGroupMember(ctx context.Context, conversationId, memberId int) error
	DeleteGroup(ctx context.Context, conversationId int) error
	DeleteConversation(ctx context.Context, conversationId int) error
	GetConversations(ctx context.Context, userId, cursor, limit int) (types.ConversationPage, error)
	GetConversation(ctx context.Context, conversationId int) (*types.Conversation, error)
	GetConversationMembers(ctx context.Context, conversationId int) ([]types.User, error)

	GetMessages(ctx context.Context, conversationId int, cursor string, limit int) (types.MessagePage, error)
	SendMessage(ctx context.Context, conversationId, senderId int, content string) (int, error)
	DeleteMessage(ctx context.Context, messageId int) error
	MarkMessagesAsRead(ctx context.Context, conversationId, userId int) error
	GetUnreadCount(ctx context.Context, conversationId int) (int, error)
	IncrementUnreadCount(ctx context.Context, conversationId, userId int) (int, error)

	AddReaction(ctx context.Context, messageId, userId int, emoji string) (*int, error)
	GetReactions(ctx context.Context, messageId int) ([]types.ReactionGroup, error)

	SetTyping(ctx context.Context, conversationId, userId int) error
	ClearTyping(ctx context.Context, conversationId, userId int) error
	GetTypingUsers(ctx context.Context, conversationId, excludeUserId int) ([]types.User, error)

	SetOnline(ctx context.Context) error
	SetOffline(ctx context.Context) error
	GetUserPresence(ctx context.Context, userId int) (*types.Presence, error)
	GetOnlineUsers(ctx context.Context) ([]int, error)
}

type Config struct {
	// TypingWindow is how long a typing signal stays valid after the
	// last keystroke.
	TypingWindow time.Duration
	// PresenceTTL is how long an online user stays online without a
	// heartbeat.
	PresenceTTL time.Duration
}

type Service struct {
	log          *log.Logger
	db           database.Repository
	notifier     Notifier
	typingWindow time.Duration
	presenceTTL  time.Duration
	now          func() time.Time
	newHandle    func() (string, error)
}

var _ ChatService = (*Service)(nil)

func NewService(logger *log.Logger, db database.Repository, notifier Notifier, cfg Config) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if cfg.TypingWindow <= 0 {
		cfg.TypingWindow = DefaultTyping
	}
	if cfg.PresenceTTL <= 0 {
		cfg.PresenceTTL = DefaultPresence
	}

	return &Service{
		log:          logger,
		db:           db,
		notifier:     notifier,
		typingWindow: cfg.TypingWindow,
		presenceTTL:  cfg.PresenceTTL,
		now:          Now,
		newHandle:    shortid.Generate,
	}
}

// Now is the store clock: UTC, millisecond precision.
func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

// mutate runs fn in a write transaction and publishes the event it
// returns once the transaction has committed.
func (s *Service) mutate(ctx context.Context, fn func(tx database.Tx) (Event, error)) error {
	var ev Event
	err := s.db.WithTx(ctx, func(tx database.Tx) error {
		var err error
		ev, err = fn(tx)
		return err
	})
	if database.IsForeignKeyViolation(err) {
		// a referenced row was deleted by a transaction that committed first
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if err != nil {
		return err
	}

	if len(ev.Keys) > 0 {
		s.notifier.Publish(ev)
	}
	return nil
}

// caller resolves the identity carried by ctx to its user row.
func (s *Service) caller(ctx context.Context, tx database.Tx) (database.User, error) {
	ident, ok := IdentityFrom(ctx)
	if !ok {
		return database.User{}, ErrUnauthenticated
	}

	u, err := tx.GetUserByExternalId(ctx, ident.Subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.User{}, fmt.Errorf("%w: no user for identity %q", ErrUnauthorized, ident.Subject)
		}
		return database.User{}, fmt.Errorf("get user by external id: %w", err)
	}

	return u, nil
}

// requireMember is the access guard consulted by every
// conversation-scoped operation.
func requireMember(ctx context.Context, tx database.Tx, conversationId, userId int) error {
	_, err := tx.GetMember(ctx, conversationId, userId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: user %d is not a member of conversation %d", ErrUnauthorized, userId, conversationId)
		}
		return fmt.Errorf("get member: %w", err)
	}
	return nil
}

// callerMember resolves the caller and checks membership in one step.
func (s *Service) callerMember(ctx context.Context, tx database.Tx, conversationId int) (database.User, error) {
	u, err := s.caller(ctx, tx)
	if err != nil {
		return database.User{}, err
	}

	if err := requireMember(ctx, tx, conversationId, u.Id); err != nil {
		return database.User{}, err
	}

	return u, nil
}

// requireSelf rejects calls where a client-supplied user id names
// someone other than the caller.
func requireSelf(caller database.User, userId int) error {
	if caller.Id != userId {
		return fmt.Errorf("%w: user %d cannot act as user %d", ErrUnauthorized, caller.Id, userId)
	}
	return nil
}

// lockConversation takes the conversation row lock. A conversation
// deleted after the caller's membership check reads as not found.
func lockConversation(ctx context.Context, tx database.Tx, conversationId int) (database.Conversation, error) {
	conv, err := tx.LockConversation(ctx, conversationId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Conversation{}, notFound("conversation", conversationId)
		}
		return database.Conversation{}, fmt.Errorf("lock conversation: %w", err)
	}
	return conv, nil
}

func notFound(what string, id int) error {
	return fmt.Errorf("%w: %s %d", ErrNotFound, what, id)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	return min(limit, MaxPageSize)
}
