package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/npezzotti/go-convo/internal/database"
	"github.com/npezzotti/go-convo/internal/types"
)

// AddReaction toggles the user's emoji reaction on a message. It returns
// the id of the new reaction, or nil when an existing one was removed.
func (s *Service) AddReaction(ctx context.Context, messageId, userId int, emoji string) (*int, error) {
	emoji = strings.TrimSpace(emoji)

	var res *int
	err := s.mutate(ctx, func(tx database.Tx) (Event, error) {
		u, err := s.caller(ctx, tx)
		if err != nil {
			return Event{}, err
		}
		if err := requireSelf(u, userId); err != nil {
			return Event{}, err
		}
		if emoji == "" {
			return Event{}, fmt.Errorf("%w: emoji is required", ErrInvalidArgument)
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

		// toggles on the same message must not interleave
		conv, err := lockConversation(ctx, tx, msg.ConversationId)
		if err != nil {
			return Event{}, err
		}

		existing, err := tx.FindReaction(ctx, msg.Id, userId, emoji)
		switch {
		case err == nil:
			if err := tx.DeleteReaction(ctx, existing.Id); err != nil {
				return Event{}, fmt.Errorf("delete reaction: %w", err)
			}
		case errors.Is(err, sql.ErrNoRows):
			r, err := tx.CreateReaction(ctx, msg.Id, userId, emoji, s.tick(conv))
			if err != nil {
				return Event{}, fmt.Errorf("create reaction: %w", err)
			}
			res = &r.Id
		default:
			return Event{}, fmt.Errorf("find reaction: %w", err)
		}

		return newEvent(MessageKey(msg.Id)), nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// GetReactions groups a message's reactions by emoji. Groups appear in
// the order their emoji was first used and list users in reaction order.
func (s *Service) GetReactions(ctx context.Context, messageId int) ([]types.ReactionGroup, error) {
	res := []types.ReactionGroup{}
	err := s.db.ReadTx(ctx, func(tx database.Tx) error {
		u, err := s.caller(ctx, tx)
		if err != nil {
			return err
		}

		msg, err := tx.GetMessage(ctx, messageId)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("get message: %w", err)
		}
		if err := requireMember(ctx, tx, msg.ConversationId, u.Id); err != nil {
			return err
		}

		reactions, err := tx.ListReactions(ctx, msg.Id)
		if err != nil {
			return fmt.Errorf("list reactions: %w", err)
		}
		res = groupReactions(reactions)
		return nil
	})
	if err != nil {
		if softFail(err) {
			return []types.ReactionGroup{}, nil
		}
		return nil, err
	}

	return res, nil
}

func groupReactions(reactions []database.Reaction) []types.ReactionGroup {
	groups := []types.ReactionGroup{}
	index := make(map[string]int)

	for _, r := range reactions {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(groups)
			index[r.Emoji] = i
			groups = append(groups, types.ReactionGroup{Emoji: r.Emoji, UserIds: []int{}})
		}
		groups[i].Count++
		groups[i].UserIds = append(groups[i].UserIds, r.UserId)
	}

	return groups
}
