package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/npezzotti/go-convo/internal/database"
	"github.com/npezzotti/go-convo/internal/types"
)

// GetOrCreateConversation returns the direct conversation between the
// caller and otherUserId, creating it if none exists. Passing the
// caller's own id yields the caller's self-chat.
func (s *Service) GetOrCreateConversation(ctx context.Context, currentUserId, otherUserId int) (int, error) {
	var convId int
	err := s.mutate(ctx, func(tx database.Tx) (Event, error) {
		u, err := s.caller(ctx, tx)
		if err != nil {
			return Event{}, err
		}
		if err := requireSelf(u, currentUserId); err != nil {
			return Event{}, err
		}

		if otherUserId != currentUserId {
			if _, err := tx.GetUser(ctx, otherUserId); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return Event{}, notFound("user", otherUserId)
				}
				return Event{}, fmt.Errorf("get user: %w", err)
			}
		}

		if err := tx.LockUserPair(ctx, currentUserId, otherUserId); err != nil {
			return Event{}, fmt.Errorf("lock user pair: %w", err)
		}

		convId, err = findDirect(ctx, tx, currentUserId, otherUserId)
		if err != nil {
			return Event{}, err
		}
		if convId != 0 {
			return Event{}, nil
		}

		handle, err := s.newHandle()
		if err != nil {
			return Event{}, fmt.Errorf("generate conversation handle: %w", err)
		}

		now := s.now()
		conv, err := tx.CreateConversation(ctx, database.CreateConversationParams{
			ExternalId: handle,
			Type:       database.ConversationDirect,
			CreatedAt:  now,
		})
		if err != nil {
			return Event{}, fmt.Errorf("create conversation: %w", err)
		}
		convId = conv.Id

		for _, id := range uniqueIds([]int{currentUserId, otherUserId}, 0) {
			if _, err := tx.CreateMember(ctx, conv.Id, id, now); err != nil {
				return Event{}, fmt.Errorf("create member: %w", err)
			}
		}

		ev := newEvent(ConversationKey(conv.Id))
		ev.addMembers([]int{currentUserId, otherUserId})
		return ev, nil
	})
	if err != nil {
		return 0, err
	}

	return convId, nil
}

// findDirect looks through userId's direct conversations for the one
// shared with otherId. For a self-chat the membership must be exactly
// {userId}.
func findDirect(ctx context.Context, tx database.Tx, userId, otherId int) (int, error) {
	memberships, err := tx.ListMemberships(ctx, userId)
	if err != nil {
		return 0, fmt.Errorf("list memberships: %w", err)
	}

	for _, m := range memberships {
		conv, err := tx.GetConversation(ctx, m.ConversationId)
		if err != nil {
			return 0, fmt.Errorf("get conversation: %w", err)
		}
		if conv.Type != database.ConversationDirect {
			continue
		}

		members, err := tx.ListMembers(ctx, conv.Id)
		if err != nil {
			return 0, fmt.Errorf("list members: %w", err)
		}
		ids := userIdsOf(members)

		if userId == otherId {
			if len(ids) == 1 {
				return conv.Id, nil
			}
			continue
		}
		if slices.Contains(ids, otherId) {
			return conv.Id, nil
		}
	}

	return 0, nil
}

// CreateGroup creates a group administered by the caller containing the
// caller and memberIds.
func (s *Service) CreateGroup(ctx context.Context, currentUserId int, memberIds []int, name string) (int, error) {
	name = strings.TrimSpace(name)
	ids := uniqueIds(memberIds, currentUserId)

	var convId int
	err := s.mutate(ctx, func(tx database.Tx) (Event, error) {
		u, err := s.caller(ctx, tx)
		if err != nil {
			return Event{}, err
		}
		if err := requireSelf(u, currentUserId); err != nil {
			return Event{}, err
		}

		if name == "" {
			return Event{}, fmt.Errorf("%w: group name is required", ErrInvalidArgument)
		}
		if len(ids) == 0 {
			return Event{}, fmt.Errorf("%w: a group needs at least one member besides the admin", ErrInvalidArgument)
		}
		if 1+len(ids) > MaxGroupMembers {
			return Event{}, fmt.Errorf("%w: %d members requested, limit is %d", ErrCapacity, 1+len(ids), MaxGroupMembers)
		}

		if err := requireUsers(ctx, tx, ids); err != nil {
			return Event{}, err
		}

		handle, err := s.newHandle()
		if err != nil {
			return Event{}, fmt.Errorf("generate conversation handle: %w", err)
		}

		now := s.now()
		conv, err := tx.CreateConversation(ctx, database.CreateConversationParams{
			ExternalId:  handle,
			Type:        database.ConversationGroup,
			Name:        name,
			AdminUserId: currentUserId,
			CreatedAt:   now,
		})
		if err != nil {
			return Event{}, fmt.Errorf("create conversation: %w", err)
		}
		convId = conv.Id

		all := append([]int{currentUserId}, ids...)
		for _, id := range all {
			if _, err := tx.CreateMember(ctx, conv.Id, id, now); err != nil {
				return Event{}, fmt.Errorf("create member: %w", err)
			}
		}

		ev := newEvent(ConversationKey(conv.Id))
		ev.addMembers(all)
		return ev, nil
	})
	if err != nil {
		return 0, err
	}

	return convId, nil
}

// AddGroupMembers adds the users that are not members yet. Only the
// admin may add members.
func (s *Service) AddGroupMembers(ctx context.Context, conversationId int, memberIds []int) error {
	return s.mutate(ctx, func(tx database.Tx) (Event, error) {
		u, err := s.caller(ctx, tx)
		if err != nil {
			return Event{}, err
		}

		conv, err := s.lockGroup(ctx, tx, conversationId)
		if err != nil {
			return Event{}, err
		}
		if err := requireMember(ctx, tx, conv.Id, u.Id); err != nil {
			return Event{}, err
		}
		if conv.AdminUserId != u.Id {
			return Event{}, fmt.Errorf("%w: only the admin can add members", ErrUnauthorized)
		}

		members, err := tx.ListMembers(ctx, conv.Id)
		if err != nil {
			return Event{}, fmt.Errorf("list members: %w", err)
		}
		current := userIdsOf(members)

		var added []int
		for _, id := range uniqueIds(memberIds, 0) {
			if !slices.Contains(current, id) {
				added = append(added, id)
			}
		}
		if len(added) == 0 {
			return Event{}, nil
		}
		if len(current)+len(added) > MaxGroupMembers {
			return Event{}, fmt.Errorf("%w: group would have %d members, limit is %d",
				ErrCapacity, len(current)+len(added), MaxGroupMembers)
		}

		if err := requireUsers(ctx, tx, added); err != nil {
			return Event{}, err
		}

		now := s.tick(conv)
		for _, id := range added {
			if _, err := tx.CreateMember(ctx, conv.Id, id, now); err != nil {
				return Event{}, fmt.Errorf("create member: %w", err)
			}
		}
		if err := tx.TouchConversation(ctx, conv.Id, now); err != nil {
			return Event{}, fmt.Errorf("touch conversation: %w", err)
		}

		ev := newEvent(ConversationKey(conv.Id))
		ev.addMembers(current)
		ev.addMembers(added)
		return ev, nil
	})
}

// RemoveGroupMember removes memberId from the group. The admin may remove
// anyone; other members may only remove themselves. The last member
// cannot be removed, DeleteGroup ends a group.
func (s *Service) RemoveGroupMember(ctx context.Context, conversationId, memberId int) error {
	return s.mutate(ctx, func(tx database.Tx) (Event, error) {
		u, err := s.caller(ctx, tx)
		if err != nil {
			return Event{}, err
		}

		conv, err := s.lockGroup(ctx, tx, conversationId)
		if err != nil {
			return Event{}, err
		}
		if err := requireMember(ctx, tx, conv.Id, u.Id); err != nil {
			return Event{}, err
		}
		if conv.AdminUserId != u.Id && memberId != u.Id {
			return Event{}, fmt.Errorf("%w: only the admin can remove other members", ErrUnauthorized)
		}

		members, err := tx.ListMembers(ctx, conv.Id)
		if err != nil {
			return Event{}, fmt.Errorf("list members: %w", err)
		}
		current := userIdsOf(members)
		if !slices.Contains(current, memberId) {
			return Event{}, nil
		}
		if len(current) == 1 {
			return Event{}, fmt.Errorf("%w: cannot remove the last member of a group", ErrInvalidArgument)
		}

		if _, err := tx.DeleteMember(ctx, conv.Id, memberId); err != nil {
			return Event{}, fmt.Errorf("delete member: %w", err)
		}
		if err := tx.DeleteTyping(ctx, conv.Id, memberId); err != nil {
			return Event{}, fmt.Errorf("delete typing: %w", err)
		}
		if err := tx.TouchConversation(ctx, conv.Id, s.tick(conv)); err != nil {
			return Event{}, fmt.Errorf("touch conversation: %w", err)
		}

		ev := newEvent(ConversationKey(conv.Id), TypingKey(conv.Id))
		ev.addMembers(current)
		return ev, nil
	})
}

// DeleteGroup removes the group with its messages, reactions and
// memberships. Admin only.
func (s *Service) DeleteGroup(ctx context.Context, conversationId int) error {
	return s.mutate(ctx, func(tx database.Tx) (Event, error) {
		u, err := s.caller(ctx, tx)
		if err != nil {
			return Event{}, err
		}

		conv, err := s.lockGroup(ctx, tx, conversationId)
		if err != nil {
			return Event{}, err
		}
		if err := requireMember(ctx, tx, conv.Id, u.Id); err != nil {
			return Event{}, err
		}
		if conv.AdminUserId != u.Id {
			return Event{}, fmt.Errorf("%w: only the admin can delete the group", ErrUnauthorized)
		}

		return s.purge(ctx, tx, conv.Id, func() error {
			return tx.DeleteMembers(ctx, conv.Id)
		})
	})
}

// DeleteConversation removes the conversation for every member. Any
// member may call it.
func (s *Service) DeleteConversation(ctx context.Context, conversationId int) error {
	return s.mutate(ctx, func(tx database.Tx) (Event, error) {
		u, err := s.callerMember(ctx, tx, conversationId)
		if err != nil {
			return Event{}, err
		}

		if _, err := lockConversation(ctx, tx, conversationId); err != nil {
			return Event{}, err
		}

		return s.purge(ctx, tx, conversationId, func() error {
			_, err := tx.DeleteMember(ctx, conversationId, u.Id)
			return err
		})
	})
}

// purge deletes a conversation's messages, runs dropMembers and finally
// removes the conversation row, which takes any remaining membership,
// unread and typing rows with it.
func (s *Service) purge(ctx context.Context, tx database.Tx, conversationId int, dropMembers func() error) (Event, error) {
	members, err := tx.ListMembers(ctx, conversationId)
	if err != nil {
		return Event{}, fmt.Errorf("list members: %w", err)
	}

	if err := tx.DeleteMessages(ctx, conversationId); err != nil {
		return Event{}, fmt.Errorf("delete messages: %w", err)
	}
	if err := dropMembers(); err != nil {
		return Event{}, fmt.Errorf("delete members: %w", err)
	}
	if err := tx.DeleteConversation(ctx, conversationId); err != nil {
		return Event{}, fmt.Errorf("delete conversation: %w", err)
	}
	s.log.Printf("deleted conversation %d with %d members", conversationId, len(members))

	ev := newEvent(ConversationKey(conversationId), TypingKey(conversationId))
	ev.addMembers(userIdsOf(members))
	return ev, nil
}

// lockGroup locks the conversation and checks that it is a group.
func (s *Service) lockGroup(ctx context.Context, tx database.Tx, conversationId int) (database.Conversation, error) {
	conv, err := lockConversation(ctx, tx, conversationId)
	if err != nil {
		return database.Conversation{}, err
	}
	if conv.Type != database.ConversationGroup {
		return database.Conversation{}, fmt.Errorf("%w: conversation %d is not a group", ErrInvalidArgument, conversationId)
	}
	return conv, nil
}

// tick returns the timestamp for a write to conv. It never precedes the
// conversation's last update, so per-conversation times only move
// forward even if the clock steps back.
func (s *Service) tick(conv database.Conversation) time.Time {
	now := s.now()
	if now.Before(conv.UpdatedAt) {
		return conv.UpdatedAt
	}
	return now
}

// GetConversations lists the caller's conversations, most recently
// updated first, paginated by offset.
func (s *Service) GetConversations(ctx context.Context, userId, cursor, limit int) (types.ConversationPage, error) {
	limit = clampLimit(limit)
	cursor = max(cursor, 0)
	res := types.ConversationPage{Conversations: []types.Conversation{}}

	err := s.db.ReadTx(ctx, func(tx database.Tx) error {
		u, err := s.caller(ctx, tx)
		if err != nil {
			return err
		}
		if err := requireSelf(u, userId); err != nil {
			return err
		}

		memberships, err := tx.ListMemberships(ctx, u.Id)
		if err != nil {
			return fmt.Errorf("list memberships: %w", err)
		}

		convs := make([]database.Conversation, 0, len(memberships))
		for _, m := range memberships {
			conv, err := tx.GetConversation(ctx, m.ConversationId)
			if err != nil {
				return fmt.Errorf("get conversation: %w", err)
			}
			convs = append(convs, conv)
		}
		slices.SortFunc(convs, func(a, b database.Conversation) int {
			if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
				return c
			}
			return b.Id - a.Id
		})

		if cursor >= len(convs) {
			return nil
		}
		end := min(cursor+limit, len(convs))
		if end < len(convs) {
			res.NextCursor = &end
		}

		for _, conv := range convs[cursor:end] {
			c, err := s.enrich(ctx, tx, conv, u.Id)
			if err != nil {
				return err
			}
			res.Conversations = append(res.Conversations, c)
		}
		return nil
	})
	if err != nil {
		if softFail(err) {
			return types.ConversationPage{Conversations: []types.Conversation{}}, nil
		}
		return types.ConversationPage{}, err
	}

	return res, nil
}

// GetConversation returns the conversation enriched for the caller, or
// nil when the caller is not a member.
func (s *Service) GetConversation(ctx context.Context, conversationId int) (*types.Conversation, error) {
	var res *types.Conversation
	err := s.db.ReadTx(ctx, func(tx database.Tx) error {
		u, err := s.callerMember(ctx, tx, conversationId)
		if err != nil {
			return err
		}

		conv, err := tx.GetConversation(ctx, conversationId)
		if err != nil {
			return fmt.Errorf("get conversation: %w", err)
		}

		c, err := s.enrich(ctx, tx, conv, u.Id)
		if err != nil {
			return err
		}
		res = &c
		return nil
	})
	if err != nil {
		if softFail(err) {
			return nil, nil
		}
		return nil, err
	}

	return res, nil
}

func (s *Service) GetConversationMembers(ctx context.Context, conversationId int) ([]types.User, error) {
	res := []types.User{}
	err := s.db.ReadTx(ctx, func(tx database.Tx) error {
		if _, err := s.callerMember(ctx, tx, conversationId); err != nil {
			return err
		}

		users, err := conversationUsers(ctx, tx, conversationId)
		if err != nil {
			return err
		}
		res = toUsers(users)
		return nil
	})
	if err != nil {
		if softFail(err) {
			return []types.User{}, nil
		}
		return nil, err
	}

	return res, nil
}

// enrich attaches the members, latest message and the viewer's unread
// count to conv.
func (s *Service) enrich(ctx context.Context, tx database.Tx, conv database.Conversation, viewerId int) (types.Conversation, error) {
	c := types.Conversation{
		Id:          conv.Id,
		ExternalId:  conv.ExternalId,
		Type:        string(conv.Type),
		Name:        conv.Name,
		AdminUserId: conv.AdminUserId,
		CreatedAt:   conv.CreatedAt,
		UpdatedAt:   conv.UpdatedAt,
	}

	users, err := conversationUsers(ctx, tx, conv.Id)
	if err != nil {
		return types.Conversation{}, err
	}
	c.Members = toUsers(users)

	latest, err := tx.LatestMessage(ctx, conv.Id)
	switch {
	case err == nil:
		m := toMessage(latest)
		c.LatestMessage = &m
	case !errors.Is(err, sql.ErrNoRows):
		return types.Conversation{}, fmt.Errorf("latest message: %w", err)
	}

	unread, err := tx.GetUnread(ctx, conv.Id, viewerId)
	switch {
	case err == nil:
		c.UnreadCount = unread.Count
	case !errors.Is(err, sql.ErrNoRows):
		return types.Conversation{}, fmt.Errorf("get unread: %w", err)
	}

	return c, nil
}

func conversationUsers(ctx context.Context, tx database.Tx, conversationId int) ([]database.User, error) {
	members, err := tx.ListMembers(ctx, conversationId)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	users, err := tx.GetUsersByIds(ctx, userIdsOf(members))
	if err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	return users, nil
}

// requireUsers fails with ErrNotFound unless every id names a user.
func requireUsers(ctx context.Context, tx database.Tx, ids []int) error {
	users, err := tx.GetUsersByIds(ctx, ids)
	if err != nil {
		return fmt.Errorf("get users: %w", err)
	}
	if len(users) == len(ids) {
		return nil
	}

	for _, id := range ids {
		if !slices.ContainsFunc(users, func(u database.User) bool { return u.Id == id }) {
			return notFound("user", id)
		}
	}
	return nil
}

// uniqueIds returns ids without duplicates and without skip, keeping the
// order of first appearance.
func uniqueIds(ids []int, skip int) []int {
	res := make([]int, 0, len(ids))
	for _, id := range ids {
		if id == skip || slices.Contains(res, id) {
			continue
		}
		res = append(res, id)
	}
	return res
}
