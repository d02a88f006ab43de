package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const (
	userColumns         = "id, external_id, email, name, avatar, created_at, updated_at"
	conversationColumns = "id, external_id, type, name, admin_user_id, created_at, updated_at"
	memberColumns       = "id, conversation_id, user_id, joined_at"
	messageColumns      = "id, conversation_id, sender_id, content, deleted, status, created_at"
	reactionColumns     = "id, message_id, user_id, emoji, created_at"
)

type pgTx struct {
	tx *sql.Tx
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (User, error) {
	var u User
	err := row.Scan(
		&u.Id,
		&u.ExternalId,
		&u.Email,
		&u.Name,
		&u.Avatar,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}

func scanConversation(row scanner) (Conversation, error) {
	var (
		c       Conversation
		adminId sql.NullInt64
	)
	err := row.Scan(
		&c.Id,
		&c.ExternalId,
		&c.Type,
		&c.Name,
		&adminId,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if adminId.Valid {
		c.AdminUserId = int(adminId.Int64)
	}
	return c, err
}

func scanMember(row scanner) (Member, error) {
	var m Member
	err := row.Scan(&m.Id, &m.ConversationId, &m.UserId, &m.JoinedAt)
	return m, err
}

func scanMessage(row scanner) (Message, error) {
	var m Message
	err := row.Scan(
		&m.Id,
		&m.ConversationId,
		&m.SenderId,
		&m.Content,
		&m.Deleted,
		&m.Status,
		&m.CreatedAt,
	)
	return m, err
}

func scanReaction(row scanner) (Reaction, error) {
	var r Reaction
	err := row.Scan(&r.Id, &r.MessageId, &r.UserId, &r.Emoji, &r.CreatedAt)
	return r, err
}

func collect[T any](rows *sql.Rows, scan func(scanner) (T, error)) ([]T, error) {
	defer rows.Close()

	var out = make([]T, 0)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return out, nil
}

func nullableId(id int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(id), Valid: id != 0}
}

func (t *pgTx) GetUser(ctx context.Context, id int) (User, error) {
	return scanUser(t.tx.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1",
		id,
	))
}

func (t *pgTx) GetUserByExternalId(ctx context.Context, externalId string) (User, error) {
	return scanUser(t.tx.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE external_id = $1",
		externalId,
	))
}

func (t *pgTx) GetUsersByIds(ctx context.Context, ids []int) ([]User, error) {
	if len(ids) == 0 {
		return []User{}, nil
	}

	ids64 := make([]int64, len(ids))
	for i, id := range ids {
		ids64[i] = int64(id)
	}

	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ANY($1)",
		pq.Array(ids64),
	)
	if err != nil {
		return nil, err
	}

	found, err := collect(rows, scanUser)
	if err != nil {
		return nil, err
	}

	byId := make(map[int]User, len(found))
	for _, u := range found {
		byId[u.Id] = u
	}

	// keep the caller's ordering
	users := make([]User, 0, len(found))
	for _, id := range ids {
		if u, ok := byId[id]; ok {
			users = append(users, u)
		}
	}

	return users, nil
}

func (t *pgTx) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	return scanUser(t.tx.QueryRowContext(ctx,
		"INSERT INTO users (external_id, email, name, avatar, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5) RETURNING "+userColumns,
		params.ExternalId,
		params.Email,
		params.Name,
		params.Avatar,
		params.CreatedAt,
	))
}

func (t *pgTx) UpdateUser(ctx context.Context, params UpdateUserParams) (User, error) {
	return scanUser(t.tx.QueryRowContext(ctx,
		"UPDATE users SET email = $2, name = $3, avatar = $4, updated_at = $5 "+
			"WHERE id = $1 RETURNING "+userColumns,
		params.Id,
		params.Email,
		params.Name,
		params.Avatar,
		params.UpdatedAt,
	))
}

func (t *pgTx) ListUsers(ctx context.Context, params ListUsersParams) ([]User, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users "+
			"WHERE id <> $2 AND ($1 = '' OR strpos(lower(name), lower($1)) > 0 OR strpos(lower(email), lower($1)) > 0) "+
			"ORDER BY lower(name), id OFFSET $3 LIMIT $4",
		params.Search,
		params.ExcludeId,
		params.Offset,
		params.Limit,
	)
	if err != nil {
		return nil, err
	}

	return collect(rows, scanUser)
}

func (t *pgTx) CreateConversation(ctx context.Context, params CreateConversationParams) (Conversation, error) {
	return scanConversation(t.tx.QueryRowContext(ctx,
		"INSERT INTO conversations (external_id, type, name, admin_user_id, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5) RETURNING "+conversationColumns,
		params.ExternalId,
		params.Type,
		params.Name,
		nullableId(params.AdminUserId),
		params.CreatedAt,
	))
}

func (t *pgTx) GetConversation(ctx context.Context, id int) (Conversation, error) {
	return scanConversation(t.tx.QueryRowContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE id = $1",
		id,
	))
}

func (t *pgTx) LockConversation(ctx context.Context, id int) (Conversation, error) {
	return scanConversation(t.tx.QueryRowContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE id = $1 FOR UPDATE",
		id,
	))
}

func (t *pgTx) LockUserPair(ctx context.Context, a, b int) error {
	if a > b {
		a, b = b, a
	}
	_, err := t.tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1, $2)", int32(a), int32(b))
	return err
}

func (t *pgTx) TouchConversation(ctx context.Context, id int, at time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE conversations SET updated_at = $2 WHERE id = $1",
		id,
		at,
	)
	return err
}

func (t *pgTx) DeleteConversation(ctx context.Context, id int) error {
	// members, unread and typing rows cascade
	_, err := t.tx.ExecContext(ctx, "DELETE FROM conversations WHERE id = $1", id)
	return err
}

func (t *pgTx) GetMember(ctx context.Context, conversationId, userId int) (Member, error) {
	return scanMember(t.tx.QueryRowContext(ctx,
		"SELECT "+memberColumns+" FROM conversation_members WHERE conversation_id = $1 AND user_id = $2",
		conversationId,
		userId,
	))
}

func (t *pgTx) ListMembers(ctx context.Context, conversationId int) ([]Member, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+memberColumns+" FROM conversation_members WHERE conversation_id = $1 ORDER BY joined_at, id",
		conversationId,
	)
	if err != nil {
		return nil, err
	}

	return collect(rows, scanMember)
}

func (t *pgTx) ListMemberships(ctx context.Context, userId int) ([]Member, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+memberColumns+" FROM conversation_members WHERE user_id = $1 ORDER BY joined_at, id",
		userId,
	)
	if err != nil {
		return nil, err
	}

	return collect(rows, scanMember)
}

func (t *pgTx) CreateMember(ctx context.Context, conversationId, userId int, joinedAt time.Time) (Member, error) {
	m, err := scanMember(t.tx.QueryRowContext(ctx,
		"INSERT INTO conversation_members (conversation_id, user_id, joined_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT (conversation_id, user_id) DO NOTHING RETURNING "+memberColumns,
		conversationId,
		userId,
		joinedAt,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return t.GetMember(ctx, conversationId, userId)
	}

	return m, err
}

func (t *pgTx) DeleteMember(ctx context.Context, conversationId, userId int) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		"DELETE FROM conversation_members WHERE conversation_id = $1 AND user_id = $2",
		conversationId,
		userId,
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

func (t *pgTx) DeleteMembers(ctx context.Context, conversationId int) error {
	_, err := t.tx.ExecContext(ctx, "DELETE FROM conversation_members WHERE conversation_id = $1", conversationId)
	return err
}

func (t *pgTx) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	return scanMessage(t.tx.QueryRowContext(ctx,
		"INSERT INTO messages (conversation_id, sender_id, content, deleted, status, created_at) "+
			"VALUES ($1, $2, $3, FALSE, $4, $5) RETURNING "+messageColumns,
		params.ConversationId,
		params.SenderId,
		params.Content,
		MessageSent,
		params.CreatedAt,
	))
}

func (t *pgTx) GetMessage(ctx context.Context, id int) (Message, error) {
	return scanMessage(t.tx.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = $1",
		id,
	))
}

func (t *pgTx) ListMessages(ctx context.Context, params ListMessagesParams) ([]Message, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if params.Before != nil {
		rows, err = t.tx.QueryContext(ctx,
			"SELECT "+messageColumns+" FROM messages "+
				"WHERE conversation_id = $1 AND (created_at, id) < ($2, $3) "+
				"ORDER BY created_at DESC, id DESC LIMIT $4",
			params.ConversationId,
			params.Before.CreatedAt,
			params.Before.Id,
			params.Limit,
		)
	} else {
		rows, err = t.tx.QueryContext(ctx,
			"SELECT "+messageColumns+" FROM messages "+
				"WHERE conversation_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2",
			params.ConversationId,
			params.Limit,
		)
	}
	if err != nil {
		return nil, err
	}

	return collect(rows, scanMessage)
}

func (t *pgTx) LatestMessage(ctx context.Context, conversationId int) (Message, error) {
	return scanMessage(t.tx.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = $1 "+
			"ORDER BY created_at DESC, id DESC LIMIT 1",
		conversationId,
	))
}

func (t *pgTx) SetMessageDeleted(ctx context.Context, id int) error {
	_, err := t.tx.ExecContext(ctx, "UPDATE messages SET deleted = TRUE WHERE id = $1", id)
	return err
}

func (t *pgTx) MarkMessagesRead(ctx context.Context, conversationId, readerId int) (int, error) {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE messages SET status = $3 WHERE conversation_id = $1 AND sender_id <> $2 AND status <> $3",
		conversationId,
		readerId,
		MessageRead,
	)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	return int(n), err
}

func (t *pgTx) DeleteMessages(ctx context.Context, conversationId int) error {
	_, err := t.tx.ExecContext(ctx,
		"DELETE FROM reactions WHERE message_id IN (SELECT id FROM messages WHERE conversation_id = $1)",
		conversationId,
	)
	if err != nil {
		return err
	}

	_, err = t.tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = $1", conversationId)
	return err
}

func (t *pgTx) FindReaction(ctx context.Context, messageId, userId int, emoji string) (Reaction, error) {
	return scanReaction(t.tx.QueryRowContext(ctx,
		"SELECT "+reactionColumns+" FROM reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3",
		messageId,
		userId,
		emoji,
	))
}

func (t *pgTx) CreateReaction(ctx context.Context, messageId, userId int, emoji string, at time.Time) (Reaction, error) {
	return scanReaction(t.tx.QueryRowContext(ctx,
		"INSERT INTO reactions (message_id, user_id, emoji, created_at) VALUES ($1, $2, $3, $4) "+
			"RETURNING "+reactionColumns,
		messageId,
		userId,
		emoji,
		at,
	))
}

func (t *pgTx) DeleteReaction(ctx context.Context, id int) error {
	_, err := t.tx.ExecContext(ctx, "DELETE FROM reactions WHERE id = $1", id)
	return err
}

func (t *pgTx) ListReactions(ctx context.Context, messageId int) ([]Reaction, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+reactionColumns+" FROM reactions WHERE message_id = $1 ORDER BY id",
		messageId,
	)
	if err != nil {
		return nil, err
	}

	return collect(rows, scanReaction)
}

func (t *pgTx) GetUnread(ctx context.Context, conversationId, userId int) (Unread, error) {
	var u Unread
	err := t.tx.QueryRowContext(ctx,
		"SELECT conversation_id, user_id, count, last_read_id FROM unread "+
			"WHERE conversation_id = $1 AND user_id = $2",
		conversationId,
		userId,
	).Scan(&u.ConversationId, &u.UserId, &u.Count, &u.LastReadMessageId)

	return u, err
}

func (t *pgTx) IncrementUnread(ctx context.Context, conversationId, userId int) (int, error) {
	var count int
	err := t.tx.QueryRowContext(ctx,
		"INSERT INTO unread (conversation_id, user_id, count) VALUES ($1, $2, 1) "+
			"ON CONFLICT (conversation_id, user_id) DO UPDATE SET count = unread.count + 1 "+
			"RETURNING count",
		conversationId,
		userId,
	).Scan(&count)

	return count, err
}

func (t *pgTx) ResetUnread(ctx context.Context, conversationId, userId, lastReadMessageId int) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO unread (conversation_id, user_id, count, last_read_id) VALUES ($1, $2, 0, $3) "+
			"ON CONFLICT (conversation_id, user_id) DO UPDATE SET count = 0, "+
			"last_read_id = GREATEST(unread.last_read_id, EXCLUDED.last_read_id)",
		conversationId,
		userId,
		lastReadMessageId,
	)
	return err
}

func (t *pgTx) DecrementUnread(ctx context.Context, msg Message) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE unread u SET count = GREATEST(u.count - 1, 0) "+
			"FROM conversation_members m "+
			"WHERE u.conversation_id = $1 AND u.user_id <> $2 AND u.last_read_id < $3 "+
			"AND m.conversation_id = u.conversation_id AND m.user_id = u.user_id AND m.joined_at <= $4",
		msg.ConversationId,
		msg.SenderId,
		msg.Id,
		msg.CreatedAt,
	)
	return err
}

func (t *pgTx) UpsertTyping(ctx context.Context, conversationId, userId int, expiresAt time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO typing (conversation_id, user_id, expires_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT (conversation_id, user_id) DO UPDATE SET expires_at = EXCLUDED.expires_at",
		conversationId,
		userId,
		expiresAt,
	)
	return err
}

func (t *pgTx) DeleteTyping(ctx context.Context, conversationId, userId int) error {
	_, err := t.tx.ExecContext(ctx,
		"DELETE FROM typing WHERE conversation_id = $1 AND user_id = $2",
		conversationId,
		userId,
	)
	return err
}

func (t *pgTx) PruneTyping(ctx context.Context, conversationId int, now time.Time) (int, error) {
	res, err := t.tx.ExecContext(ctx,
		"DELETE FROM typing WHERE conversation_id = $1 AND expires_at <= $2",
		conversationId,
		now,
	)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	return int(n), err
}

func (t *pgTx) ListTyping(ctx context.Context, conversationId int) ([]Typing, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT conversation_id, user_id, expires_at FROM typing WHERE conversation_id = $1 ORDER BY expires_at, user_id",
		conversationId,
	)
	if err != nil {
		return nil, err
	}

	return collect(rows, func(row scanner) (Typing, error) {
		var ty Typing
		err := row.Scan(&ty.ConversationId, &ty.UserId, &ty.ExpiresAt)
		return ty, err
	})
}

func scanPresence(row scanner) (Presence, error) {
	var p Presence
	err := row.Scan(&p.UserId, &p.Online, &p.LastSeen)
	return p, err
}

func (t *pgTx) GetPresence(ctx context.Context, userId int) (Presence, error) {
	return scanPresence(t.tx.QueryRowContext(ctx,
		"SELECT user_id, online, last_seen FROM presence WHERE user_id = $1",
		userId,
	))
}

func (t *pgTx) UpsertPresence(ctx context.Context, p Presence) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO presence (user_id, online, last_seen) VALUES ($1, $2, $3) "+
			"ON CONFLICT (user_id) DO UPDATE SET online = EXCLUDED.online, last_seen = EXCLUDED.last_seen",
		p.UserId,
		p.Online,
		p.LastSeen,
	)
	return err
}

func (t *pgTx) ListOnline(ctx context.Context, seenSince time.Time) ([]Presence, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT user_id, online, last_seen FROM presence WHERE online AND last_seen >= $1 ORDER BY user_id",
		seenSince,
	)
	if err != nil {
		return nil, err
	}

	return collect(rows, scanPresence)
}
