package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/npezzotti/go-convo/internal/database"
	"github.com/npezzotti/go-convo/internal/types"
)

// SetTyping marks the user as typing for the next typing window. Expired
// signals of the conversation are pruned first.
func (s *Service) SetTyping(ctx context.Context, conversationId, userId int) error {
	return s.mutate(ctx, func(tx database.Tx) (Event, error) {
		u, err := s.callerMember(ctx, tx, conversationId)
		if err != nil {
			return Event{}, err
		}
		if err := requireSelf(u, userId); err != nil {
			return Event{}, err
		}

		now := s.now()
		if _, err := tx.PruneTyping(ctx, conversationId, now); err != nil {
			return Event{}, fmt.Errorf("prune typing: %w", err)
		}
		if err := tx.UpsertTyping(ctx, conversationId, userId, now.Add(s.typingWindow)); err != nil {
			return Event{}, fmt.Errorf("upsert typing: %w", err)
		}

		return newEvent(TypingKey(conversationId)), nil
	})
}

func (s *Service) ClearTyping(ctx context.Context, conversationId, userId int) error {
	return s.mutate(ctx, func(tx database.Tx) (Event, error) {
		u, err := s.callerMember(ctx, tx, conversationId)
		if err != nil {
			return Event{}, err
		}
		if err := requireSelf(u, userId); err != nil {
			return Event{}, err
		}

		if err := tx.DeleteTyping(ctx, conversationId, userId); err != nil {
			return Event{}, fmt.Errorf("delete typing: %w", err)
		}

		return newEvent(TypingKey(conversationId)), nil
	})
}

// GetTypingUsers lists the members currently typing, never including
// the caller or excludeUserId. Expired rows are filtered, not deleted.
func (s *Service) GetTypingUsers(ctx context.Context, conversationId, excludeUserId int) ([]types.User, error) {
	res := []types.User{}
	err := s.db.ReadTx(ctx, func(tx database.Tx) error {
		u, err := s.callerMember(ctx, tx, conversationId)
		if err != nil {
			return err
		}

		signals, err := tx.ListTyping(ctx, conversationId)
		if err != nil {
			return fmt.Errorf("list typing: %w", err)
		}

		now := s.now()
		var ids []int
		for _, sig := range signals {
			if sig.UserId == u.Id || sig.UserId == excludeUserId || !now.Before(sig.ExpiresAt) {
				continue
			}
			ids = append(ids, sig.UserId)
		}
		if len(ids) == 0 {
			return nil
		}

		users, err := tx.GetUsersByIds(ctx, ids)
		if err != nil {
			return fmt.Errorf("get users: %w", err)
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

func (s *Service) SetOnline(ctx context.Context) error {
	return s.setPresence(ctx, true)
}

func (s *Service) SetOffline(ctx context.Context) error {
	return s.setPresence(ctx, false)
}

func (s *Service) setPresence(ctx context.Context, online bool) error {
	return s.mutate(ctx, func(tx database.Tx) (Event, error) {
		u, err := s.caller(ctx, tx)
		if err != nil {
			return Event{}, err
		}

		err = tx.UpsertPresence(ctx, database.Presence{
			UserId:   u.Id,
			Online:   online,
			LastSeen: s.now(),
		})
		if err != nil {
			return Event{}, fmt.Errorf("upsert presence: %w", err)
		}

		return newEvent(PresenceKey(u.Id)), nil
	})
}

// GetUserPresence never fails for an unknown user; it reports offline
// with no last-seen time instead. An online row whose heartbeat is older
// than the presence TTL reads as offline.
func (s *Service) GetUserPresence(ctx context.Context, userId int) (*types.Presence, error) {
	res := &types.Presence{}
	err := s.db.ReadTx(ctx, func(tx database.Tx) error {
		if _, err := s.caller(ctx, tx); err != nil {
			return err
		}

		p, err := tx.GetPresence(ctx, userId)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get presence: %w", err)
		}

		lastSeen := p.LastSeen
		res.LastSeen = &lastSeen
		res.Online = p.Online && !lastSeen.Before(s.now().Add(-s.presenceTTL))
		return nil
	})
	if err != nil {
		if softFail(err) {
			return &types.Presence{}, nil
		}
		return nil, err
	}

	return res, nil
}

// GetOnlineUsers returns the ids of users with a live heartbeat.
func (s *Service) GetOnlineUsers(ctx context.Context) ([]int, error) {
	res := []int{}
	err := s.db.ReadTx(ctx, func(tx database.Tx) error {
		if _, err := s.caller(ctx, tx); err != nil {
			return err
		}

		online, err := tx.ListOnline(ctx, s.now().Add(-s.presenceTTL))
		if err != nil {
			return fmt.Errorf("list online: %w", err)
		}
		for _, p := range online {
			res = append(res, p.UserId)
		}
		return nil
	})
	if err != nil {
		if softFail(err) {
			return []int{}, nil
		}
		return nil, err
	}

	return res, nil
}
