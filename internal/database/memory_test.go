package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func mustWrite(t *testing.T, db *MemRepository, fn func(tx Tx) error) {
	t.Helper()
	require.NoError(t, db.WithTx(context.Background(), fn))
}

func seedUsers(ctx context.Context, tx Tx, externalIds ...string) ([]int, error) {
	ids := make([]int, 0, len(externalIds))
	for _, ext := range externalIds {
		u, err := tx.CreateUser(ctx, CreateUserParams{ExternalId: ext, Name: ext, CreatedAt: t0})
		if err != nil {
			return nil, err
		}
		ids = append(ids, u.Id)
	}
	return ids, nil
}

func TestMemRepository_Transactions(t *testing.T) {
	ctx := context.Background()
	db := NewMemRepository()
	require.NoError(t, db.Ping())

	t.Run("failed transaction rolls back", func(t *testing.T) {
		boom := errors.New("boom")
		err := db.WithTx(ctx, func(tx Tx) error {
			if _, err := tx.CreateUser(ctx, CreateUserParams{ExternalId: "ada", CreatedAt: t0}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		err = db.ReadTx(ctx, func(tx Tx) error {
			_, err := tx.GetUserByExternalId(ctx, "ada")
			return err
		})
		assert.ErrorIs(t, err, sql.ErrNoRows, "expected the user insert to be discarded")
	})

	t.Run("read transactions reject writes", func(t *testing.T) {
		err := db.ReadTx(ctx, func(tx Tx) error {
			_, err := tx.CreateUser(ctx, CreateUserParams{ExternalId: "ada"})
			return err
		})
		assert.ErrorIs(t, err, errReadOnly)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		called := false
		err := db.WithTx(cctx, func(tx Tx) error { called = true; return nil })
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})

	t.Run("duplicate external id", func(t *testing.T) {
		mustWrite(t, db, func(tx Tx) error {
			_, err := tx.CreateUser(ctx, CreateUserParams{ExternalId: "grace", CreatedAt: t0})
			return err
		})
		err := db.WithTx(ctx, func(tx Tx) error {
			_, err := tx.CreateUser(ctx, CreateUserParams{ExternalId: "grace", CreatedAt: t0})
			return err
		})
		assert.True(t, IsUniqueViolation(err))
	})
}

func TestMemRepository_ListMessages(t *testing.T) {
	ctx := context.Background()
	db := NewMemRepository()

	var convId int
	var ids []int
	mustWrite(t, db, func(tx Tx) error {
		conv, err := tx.CreateConversation(ctx, CreateConversationParams{Type: ConversationDirect, CreatedAt: t0})
		if err != nil {
			return err
		}
		convId = conv.Id
		// two messages share a timestamp to exercise the id tie-break
		for _, at := range []time.Time{t0, t0.Add(time.Second), t0.Add(time.Second), t0.Add(2 * time.Second)} {
			m, err := tx.CreateMessage(ctx, CreateMessageParams{ConversationId: conv.Id, SenderId: 1, Content: "x", CreatedAt: at})
			if err != nil {
				return err
			}
			ids = append(ids, m.Id)
		}
		return nil
	})

	err := db.ReadTx(ctx, func(tx Tx) error {
		newest, err := tx.ListMessages(ctx, ListMessagesParams{ConversationId: convId, Limit: 2})
		require.NoError(t, err)
		require.Len(t, newest, 2)
		assert.Equal(t, ids[3], newest[0].Id)
		assert.Equal(t, ids[2], newest[1].Id)

		w := Watermark{CreatedAt: newest[1].CreatedAt, Id: newest[1].Id}
		older, err := tx.ListMessages(ctx, ListMessagesParams{ConversationId: convId, Before: &w, Limit: 10})
		require.NoError(t, err)
		require.Len(t, older, 2)
		assert.Equal(t, ids[1], older[0].Id, "expected the same-millisecond sibling to follow")
		assert.Equal(t, ids[0], older[1].Id)

		latest, err := tx.LatestMessage(ctx, convId)
		require.NoError(t, err)
		assert.Equal(t, ids[3], latest.Id)

		_, err = tx.LatestMessage(ctx, convId+100)
		assert.ErrorIs(t, err, sql.ErrNoRows)
		return nil
	})
	require.NoError(t, err)
}

func TestMemRepository_Unread(t *testing.T) {
	ctx := context.Background()
	db := NewMemRepository()

	var (
		msg   Message
		users []int
	)
	mustWrite(t, db, func(tx Tx) error {
		var err error
		users, err = seedUsers(ctx, tx, "sender", "reader", "caught_up")
		if err != nil {
			return err
		}
		sender, reader, caughtUp := users[0], users[1], users[2]

		conv, err := tx.CreateConversation(ctx, CreateConversationParams{Type: ConversationGroup, AdminUserId: sender, CreatedAt: t0})
		if err != nil {
			return err
		}
		for _, uid := range users {
			if _, err := tx.CreateMember(ctx, conv.Id, uid, t0); err != nil {
				return err
			}
		}
		msg, err = tx.CreateMessage(ctx, CreateMessageParams{ConversationId: conv.Id, SenderId: sender, Content: "hi", CreatedAt: t0.Add(time.Second)})
		if err != nil {
			return err
		}
		for _, uid := range []int{reader, caughtUp} {
			if _, err := tx.IncrementUnread(ctx, conv.Id, uid); err != nil {
				return err
			}
		}
		// caughtUp has read the message already
		return tx.ResetUnread(ctx, conv.Id, caughtUp, msg.Id)
	})

	mustWrite(t, db, func(tx Tx) error {
		if err := tx.DecrementUnread(ctx, msg); err != nil {
			return err
		}
		return tx.DecrementUnread(ctx, msg)
	})

	err := db.ReadTx(ctx, func(tx Tx) error {
		reader, err := tx.GetUnread(ctx, msg.ConversationId, users[1])
		require.NoError(t, err)
		assert.Equal(t, 0, reader.Count, "expected the counter to floor at zero")

		caughtUp, err := tx.GetUnread(ctx, msg.ConversationId, users[2])
		require.NoError(t, err)
		assert.Equal(t, 0, caughtUp.Count)
		assert.Equal(t, msg.Id, caughtUp.LastReadMessageId)

		_, err = tx.GetUnread(ctx, msg.ConversationId, users[0])
		assert.ErrorIs(t, err, sql.ErrNoRows, "expected no counter for the sender")
		return nil
	})
	require.NoError(t, err)
}

func TestMemRepository_Cascades(t *testing.T) {
	ctx := context.Background()
	db := NewMemRepository()

	var convId, msgId int
	mustWrite(t, db, func(tx Tx) error {
		users, err := seedUsers(ctx, tx, "ada")
		if err != nil {
			return err
		}
		uid := users[0]

		conv, err := tx.CreateConversation(ctx, CreateConversationParams{Type: ConversationDirect, CreatedAt: t0})
		if err != nil {
			return err
		}
		convId = conv.Id
		if _, err := tx.CreateMember(ctx, conv.Id, uid, t0); err != nil {
			return err
		}
		m, err := tx.CreateMessage(ctx, CreateMessageParams{ConversationId: conv.Id, SenderId: uid, Content: "x", CreatedAt: t0})
		if err != nil {
			return err
		}
		msgId = m.Id
		if _, err := tx.CreateReaction(ctx, m.Id, uid, "👍", t0); err != nil {
			return err
		}
		return tx.UpsertTyping(ctx, conv.Id, uid, t0.Add(time.Minute))
	})

	mustWrite(t, db, func(tx Tx) error {
		if err := tx.DeleteMessages(ctx, convId); err != nil {
			return err
		}
		return tx.DeleteConversation(ctx, convId)
	})

	err := db.ReadTx(ctx, func(tx Tx) error {
		_, err := tx.GetConversation(ctx, convId)
		assert.ErrorIs(t, err, sql.ErrNoRows)

		_, err = tx.GetMessage(ctx, msgId)
		assert.ErrorIs(t, err, sql.ErrNoRows)

		reactions, err := tx.ListReactions(ctx, msgId)
		require.NoError(t, err)
		assert.Empty(t, reactions)

		members, err := tx.ListMembers(ctx, convId)
		require.NoError(t, err)
		assert.Empty(t, members)

		signals, err := tx.ListTyping(ctx, convId)
		require.NoError(t, err)
		assert.Empty(t, signals)
		return nil
	})
	require.NoError(t, err)
}

func TestMemRepository_Signals(t *testing.T) {
	ctx := context.Background()
	db := NewMemRepository()

	mustWrite(t, db, func(tx Tx) error {
		if err := tx.UpsertTyping(ctx, 1, 10, t0); err != nil {
			return err
		}
		if err := tx.UpsertTyping(ctx, 1, 11, t0.Add(time.Second)); err != nil {
			return err
		}
		if err := tx.UpsertTyping(ctx, 2, 10, t0); err != nil {
			return err
		}
		if err := tx.UpsertPresence(ctx, Presence{UserId: 10, Online: true, LastSeen: t0}); err != nil {
			return err
		}
		if err := tx.UpsertPresence(ctx, Presence{UserId: 11, Online: true, LastSeen: t0.Add(-time.Hour)}); err != nil {
			return err
		}
		return tx.UpsertPresence(ctx, Presence{UserId: 12, Online: false, LastSeen: t0})
	})

	mustWrite(t, db, func(tx Tx) error {
		n, err := tx.PruneTyping(ctx, 1, t0)
		assert.Equal(t, 1, n, "expected only the expired row of conversation 1 to go")
		return err
	})

	err := db.ReadTx(ctx, func(tx Tx) error {
		signals, err := tx.ListTyping(ctx, 1)
		require.NoError(t, err)
		require.Len(t, signals, 1)
		assert.Equal(t, 11, signals[0].UserId)

		other, err := tx.ListTyping(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, other, 1)

		online, err := tx.ListOnline(ctx, t0.Add(-time.Minute))
		require.NoError(t, err)
		require.Len(t, online, 1)
		assert.Equal(t, 10, online[0].UserId)
		return nil
	})
	require.NoError(t, err)
}
