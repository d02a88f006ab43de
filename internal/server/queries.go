package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/npezzotti/go-convo/internal/chat"
)

// queryFunc evaluates a live query for the user with id me and returns the
// result along with the event keys it depends on.
type queryFunc func(ctx context.Context, svc chat.ChatService, me int, args json.RawMessage) (any, []string, error)

type query struct {
	run queryFunc
	// timed queries can change without a mutation, e.g. when a typing
	// signal or heartbeat expires, and are re-evaluated on every tick.
	timed bool
}

type conversationArgs struct {
	ConversationId int `json:"conversation_id"`
}

type pageArgs struct {
	Cursor int `json:"cursor"`
	Limit  int `json:"limit"`
}

type searchArgs struct {
	Search string `json:"search"`
	pageArgs
}

type messagesArgs struct {
	ConversationId int    `json:"conversation_id"`
	Cursor         string `json:"cursor"`
	Limit          int    `json:"limit"`
}

type messageArgs struct {
	MessageId int `json:"message_id"`
}

type typingArgs struct {
	ConversationId int `json:"conversation_id"`
	ExcludeUserId  int `json:"exclude_user_id"`
}

type userArgs struct {
	UserId int `json:"user_id"`
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", chat.ErrInvalidArgument, err)
	}
	return nil
}

var queries = map[string]query{
	"getCurrentUser": {run: func(ctx context.Context, svc chat.ChatService, me int, _ json.RawMessage) (any, []string, error) {
		u, err := svc.GetCurrentUser(ctx)
		return u, []string{chat.UsersKey, chat.UserKey(me)}, err
	}},
	"searchUsers": {run: func(ctx context.Context, svc chat.ChatService, _ int, raw json.RawMessage) (any, []string, error) {
		var args searchArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, nil, err
		}
		page, err := svc.SearchUsers(ctx, args.Search, args.Cursor, args.Limit)
		return page, []string{chat.UsersKey}, err
	}},
	"getConversations": {run: func(ctx context.Context, svc chat.ChatService, me int, raw json.RawMessage) (any, []string, error) {
		var args pageArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, nil, err
		}
		page, err := svc.GetConversations(ctx, me, args.Cursor, args.Limit)
		return page, []string{chat.UserKey(me)}, err
	}},
	"getConversation": {run: func(ctx context.Context, svc chat.ChatService, me int, raw json.RawMessage) (any, []string, error) {
		var args conversationArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, nil, err
		}
		conv, err := svc.GetConversation(ctx, args.ConversationId)
		return conv, []string{chat.ConversationKey(args.ConversationId), chat.UserKey(me)}, err
	}},
	"getConversationMembers": {run: func(ctx context.Context, svc chat.ChatService, _ int, raw json.RawMessage) (any, []string, error) {
		var args conversationArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, nil, err
		}
		members, err := svc.GetConversationMembers(ctx, args.ConversationId)
		return members, []string{chat.ConversationKey(args.ConversationId)}, err
	}},
	"getMessages": {run: func(ctx context.Context, svc chat.ChatService, _ int, raw json.RawMessage) (any, []string, error) {
		var args messagesArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, nil, err
		}
		page, err := svc.GetMessages(ctx, args.ConversationId, args.Cursor, args.Limit)
		return page, []string{chat.ConversationKey(args.ConversationId)}, err
	}},
	"getReactions": {run: func(ctx context.Context, svc chat.ChatService, _ int, raw json.RawMessage) (any, []string, error) {
		var args messageArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, nil, err
		}
		groups, err := svc.GetReactions(ctx, args.MessageId)
		return groups, []string{chat.MessageKey(args.MessageId)}, err
	}},
	"getTypingUsers": {timed: true, run: func(ctx context.Context, svc chat.ChatService, _ int, raw json.RawMessage) (any, []string, error) {
		var args typingArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, nil, err
		}
		users, err := svc.GetTypingUsers(ctx, args.ConversationId, args.ExcludeUserId)
		return users, []string{chat.TypingKey(args.ConversationId)}, err
	}},
	"getUserPresence": {timed: true, run: func(ctx context.Context, svc chat.ChatService, _ int, raw json.RawMessage) (any, []string, error) {
		var args userArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, nil, err
		}
		p, err := svc.GetUserPresence(ctx, args.UserId)
		return p, []string{chat.PresenceKey(args.UserId)}, err
	}},
	"getUnreadCount": {run: func(ctx context.Context, svc chat.ChatService, me int, raw json.RawMessage) (any, []string, error) {
		var args conversationArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, nil, err
		}
		n, err := svc.GetUnreadCount(ctx, args.ConversationId)
		return n, []string{chat.ConversationKey(args.ConversationId), chat.UserKey(me)}, err
	}},
}
