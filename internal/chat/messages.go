package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/npezzotti/go-convo/internal/database"
	"github.com/npezzotti/go-convo/internal/types"
)

// toMessage converts a row to its wire form. Deleted messages keep their
// content in storage but never expose it.
func toMessage(m database.Message) types.Message {
	msg := types.Message{
		Id:             m.Id,
		ConversationId: m.ConversationId,
		SenderId:       m.SenderId,
		Content:        m.Content,
		Deleted:        m.Deleted,
		Status:         string(m.Status),
		CreatedAt:      m.CreatedAt,
	}
	if m.Deleted {
		msg.Content = ""
	}
	return msg
}

// GetMessages returns one page of the conversation's history in
// ascending order. An empty cursor selects the newest page;
// ContinueCursor points at the next older page and is nil once the
// history is exhausted.
func (s *Service) GetMessages(ctx context.Context, conversationId int, cursor string, limit int) (types.MessagePage, error) {
	limit = clampLimit(limit)
	res := types.MessagePage{Messages: []types.Message{}}

	err := s.db.ReadTx(ctx, func(tx database.Tx) error {
		if _, err := s.callerMember(ctx, tx, conversationId); err != nil {
			return err
		}

		before, err := DecodeCursor(cursor)
		if err != nil {
			return err
		}

		msgs, err := tx.ListMessages(ctx, database.ListMessagesParams{
			ConversationId: conversationId,
			Before:         before,
			Limit:          limit + 1,
		})
		if err != nil {
			return fmt.Errorf("list messages: %w", err)
		}

		if len(msgs) > limit {
			msgs = msgs[:limit]
			oldest := msgs[len(msgs)-1]
			next := EncodeCursor(database.Watermark{CreatedAt: oldest.CreatedAt, Id: oldest.Id})
			res.ContinueCursor = &next
		}

		slices.Reverse(msgs)
		for _, m := range msgs {
			res.Messages = append(res.Messages, toMessage(m))
		}
		return nil
	})
	if err != nil {
		if softFail(err) {
			return types.MessagePage{Messages: []types.Message{}}, nil
		}
		return types.MessagePage{}, err
	}

	return res, nil
}

// SendMessage appends a message to the conversation and counts it as
// unread for every other member.
func (s *Service) SendMessage(ctx context.Context, conversationId, senderId int, content string) (int, error) {
	var msgId int
	err := s.mutate(ctx, func(tx database.Tx) (Event, error) {
		u, err := s.callerMember(ctx, tx, conversationId)
		if err != nil {
			return Event{}, err
		}
		if err := requireSelf(u, senderId); err != nil {
			return Event{}, err
		}
		if strings.TrimSpace(content) == "" {
			return Event{}, fmt.Errorf("%w: message content is required", ErrInvalidArgument)
		}

		conv, err := lockConversation(ctx, tx, conversationId)
		if err != nil {
			return Event{}, err
		}

		at := s.tick(conv)
		msg, err := tx.CreateMessage(ctx, database.CreateMessageParams{
			ConversationId: conv.Id,
			SenderId:       senderId,
			Content:        content,
			CreatedAt:      at,
		})
		if err != nil {
			return Event{}, fmt.Errorf("create message: %w", err)
		}
		msgId = msg.Id

		if err := tx.TouchConversation(ctx, conv.Id, at); err != nil {
			return Event{}, fmt.Errorf("touch conversation: %w", err)
		}

		members, err := tx.ListMembers(ctx, conv.Id)
		if err != nil {
			return Event{}, fmt.Errorf("list members: %w", err)
		}
		for _, m := range members {
			if m.UserId == senderId {
				continue
			}
			if _, err := tx.IncrementUnread(ctx, conv.Id, m.UserId); err != nil {
				return Event{}, fmt.Errorf("increment unread: %w", err)
			}
		}

		ev := newEvent(ConversationKey(conv.Id))
		ev.addMembers(userIdsOf(members))
		return ev, nil
	})
	if err != nil {
		return 0, err
	}

	return msgId, nil
}

// DeleteMessage soft-deletes a message. Only its sender may delete it.
// Members who had not read it yet get their unread counter lowered.
func (s *Service) DeleteMessage(ctx context.Context, messageId int) error {
	return s.mutate(ctx, func(tx database.Tx) (Event, error) {
		u, err := s.caller(ctx, tx)
		if err != nil {
			return Event{}, err
		}

		msg, err := tx.GetMessage(ctx, messageId)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return Event{}, notFound("message", messageId)
			}
			return Event{}, fmt.Errorf("get message: %w", err)
		}
		if err := requireMember(ctx, tx, msg.ConversationId, u.Id); err != nil {
			return Event{}, err
		}
		if msg.SenderId != u.Id {
			return Event{}, fmt.Errorf("%w: only the sender can delete message %d", ErrUnauthorized, messageId)
		}

		if _, err := lockConversation(ctx, tx, msg.ConversationId); err != nil {
			return Event{}, err
		}
		// reread under the lock, a concurrent delete may have won
		msg, err = tx.GetMessage(ctx, messageId)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return Event{}, notFound("message", messageId)
			}
			return Event{}, fmt.Errorf("get message: %w", err)
		}
		if msg.Deleted {
			return Event{}, nil
		}

		if err := tx.SetMessageDeleted(ctx, msg.Id); err != nil {
			return Event{}, fmt.Errorf("set message deleted: %w", err)
		}
		if err := tx.DecrementUnread(ctx, msg); err != nil {
			return Event{}, fmt.Errorf("decrement unread: %w", err)
		}

		members, err := tx.ListMembers(ctx, msg.ConversationId)
		if err != nil {
			return Event{}, fmt.Errorf("list members: %w", err)
		}

		ev := newEvent(ConversationKey(msg.ConversationId), MessageKey(msg.Id))
		ev.addMembers(userIdsOf(members))
		return ev, nil
	})
}

// MarkMessagesAsRead zeroes the user's unread counter and marks every
// message from other senders as read.
func (s *Service) MarkMessagesAsRead(ctx context.Context, conversationId, userId int) error {
	return s.mutate(ctx, func(tx database.Tx) (Event, error) {
		u, err := s.callerMember(ctx, tx, conversationId)
		if err != nil {
			return Event{}, err
		}
		if err := requireSelf(u, userId); err != nil {
			return Event{}, err
		}

		if _, err := lockConversation(ctx, tx, conversationId); err != nil {
			return Event{}, err
		}

		changed, err := tx.MarkMessagesRead(ctx, conversationId, userId)
		if err != nil {
			return Event{}, fmt.Errorf("mark messages read: %w", err)
		}

		var lastId int
		latest, err := tx.LatestMessage(ctx, conversationId)
		switch {
		case err == nil:
			lastId = latest.Id
		case !errors.Is(err, sql.ErrNoRows):
			return Event{}, fmt.Errorf("latest message: %w", err)
		}

		prev, err := tx.GetUnread(ctx, conversationId, userId)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return Event{}, fmt.Errorf("get unread: %w", err)
		}
		if err := tx.ResetUnread(ctx, conversationId, userId, lastId); err != nil {
			return Event{}, fmt.Errorf("reset unread: %w", err)
		}

		if changed == 0 && prev.Count == 0 {
			return Event{}, nil
		}

		members, err := tx.ListMembers(ctx, conversationId)
		if err != nil {
			return Event{}, fmt.Errorf("list members: %w", err)
		}
		ev := newEvent(ConversationKey(conversationId))
		ev.addMembers(userIdsOf(members))
		return ev, nil
	})
}

// GetUnreadCount returns the caller's unread counter for the
// conversation.
func (s *Service) GetUnreadCount(ctx context.Context, conversationId int) (int, error) {
	var count int
	err := s.db.ReadTx(ctx, func(tx database.Tx) error {
		u, err := s.callerMember(ctx, tx, conversationId)
		if err != nil {
			return err
		}

		unread, err := tx.GetUnread(ctx, conversationId, u.Id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get unread: %w", err)
		}
		count = unread.Count
		return nil
	})
	if err != nil {
		if softFail(err) {
			return 0, nil
		}
		return 0, err
	}

	return count, nil
}

// IncrementUnreadCount atomically bumps userId's counter. Both the caller
// and userId must be members.
func (s *Service) IncrementUnreadCount(ctx context.Context, conversationId, userId int) (int, error) {
	var count int
	err := s.mutate(ctx, func(tx database.Tx) (Event, error) {
		if _, err := s.callerMember(ctx, tx, conversationId); err != nil {
			return Event{}, err
		}
		if err := requireMember(ctx, tx, conversationId, userId); err != nil {
			return Event{}, err
		}

		var err error
		count, err = tx.IncrementUnread(ctx, conversationId, userId)
		if err != nil {
			return Event{}, fmt.Errorf("increment unread: %w", err)
		}

		return newEvent(ConversationKey(conversationId), UserKey(userId)), nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}
