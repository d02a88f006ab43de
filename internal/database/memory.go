package database

import (
	"context"
	"database/sql"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

type pairKey struct {
	a, b int
}

type memState struct {
	seq           int
	users         map[int]User
	conversations map[int]Conversation
	members       map[pairKey]Member
	messages      map[int]Message
	reactions     map[int]Reaction
	unread        map[pairKey]Unread
	typing        map[pairKey]Typing
	presence      map[int]Presence
}

func (s *memState) clone() *memState {
	return &memState{
		seq:           s.seq,
		users:         maps.Clone(s.users),
		conversations: maps.Clone(s.conversations),
		members:       maps.Clone(s.members),
		messages:      maps.Clone(s.messages),
		reactions:     maps.Clone(s.reactions),
		unread:        maps.Clone(s.unread),
		typing:        maps.Clone(s.typing),
		presence:      maps.Clone(s.presence),
	}
}

func (s *memState) nextId() int {
	s.seq++
	return s.seq
}

// MemRepository keeps every table in process memory. Write transactions
// are serialized behind a single lock and roll back by restoring the
// state they started from.
type MemRepository struct {
	mu    sync.RWMutex
	state *memState
}

func NewMemRepository() *MemRepository {
	return &MemRepository{
		state: &memState{
			users:         make(map[int]User),
			conversations: make(map[int]Conversation),
			members:       make(map[pairKey]Member),
			messages:      make(map[int]Message),
			reactions:     make(map[int]Reaction),
			unread:        make(map[pairKey]Unread),
			typing:        make(map[pairKey]Typing),
			presence:      make(map[int]Presence),
		},
	}
}

func (db *MemRepository) Ping() error  { return nil }
func (db *MemRepository) Close() error { return nil }

func (db *MemRepository) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := db.state.clone()
	if err := fn(&memTx{s: work}); err != nil {
		return err
	}

	db.state = work
	return nil
}

func (db *MemRepository) ReadTx(ctx context.Context, fn func(tx Tx) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	return fn(&memTx{s: db.state, readOnly: true})
}

type memTx struct {
	s        *memState
	readOnly bool
}

func (t *memTx) write() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func (t *memTx) GetUser(_ context.Context, id int) (User, error) {
	u, ok := t.s.users[id]
	if !ok {
		return User{}, sql.ErrNoRows
	}
	return u, nil
}

func (t *memTx) GetUserByExternalId(_ context.Context, externalId string) (User, error) {
	for _, u := range t.s.users {
		if u.ExternalId == externalId {
			return u, nil
		}
	}
	return User{}, sql.ErrNoRows
}

func (t *memTx) GetUsersByIds(_ context.Context, ids []int) ([]User, error) {
	users := make([]User, 0, len(ids))
	for _, id := range ids {
		if u, ok := t.s.users[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

func (t *memTx) CreateUser(_ context.Context, params CreateUserParams) (User, error) {
	if err := t.write(); err != nil {
		return User{}, err
	}
	for _, u := range t.s.users {
		if u.ExternalId == params.ExternalId {
			return User{}, ErrUniqueViolation
		}
	}

	u := User{
		Id:         t.s.nextId(),
		ExternalId: params.ExternalId,
		Email:      params.Email,
		Name:       params.Name,
		Avatar:     params.Avatar,
		CreatedAt:  params.CreatedAt,
		UpdatedAt:  params.CreatedAt,
	}
	t.s.users[u.Id] = u
	return u, nil
}

func (t *memTx) UpdateUser(_ context.Context, params UpdateUserParams) (User, error) {
	if err := t.write(); err != nil {
		return User{}, err
	}
	u, ok := t.s.users[params.Id]
	if !ok {
		return User{}, sql.ErrNoRows
	}

	u.Email = params.Email
	u.Name = params.Name
	u.Avatar = params.Avatar
	u.UpdatedAt = params.UpdatedAt
	t.s.users[u.Id] = u
	return u, nil
}

func (t *memTx) ListUsers(_ context.Context, params ListUsersParams) ([]User, error) {
	search := strings.ToLower(params.Search)

	var matched []User
	for _, u := range t.s.users {
		if u.Id == params.ExcludeId {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(u.Name), search) &&
			!strings.Contains(strings.ToLower(u.Email), search) {
			continue
		}
		matched = append(matched, u)
	}

	slices.SortFunc(matched, func(a, b User) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return a.Id - b.Id
	})

	return page(matched, params.Offset, params.Limit), nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return slices.Clone(items[offset:end])
}

func (t *memTx) CreateConversation(_ context.Context, params CreateConversationParams) (Conversation, error) {
	if err := t.write(); err != nil {
		return Conversation{}, err
	}

	c := Conversation{
		Id:          t.s.nextId(),
		ExternalId:  params.ExternalId,
		Type:        params.Type,
		Name:        params.Name,
		AdminUserId: params.AdminUserId,
		CreatedAt:   params.CreatedAt,
		UpdatedAt:   params.CreatedAt,
	}
	t.s.conversations[c.Id] = c
	return c, nil
}

func (t *memTx) GetConversation(_ context.Context, id int) (Conversation, error) {
	c, ok := t.s.conversations[id]
	if !ok {
		return Conversation{}, sql.ErrNoRows
	}
	return c, nil
}

// LockConversation needs no extra locking: write transactions already
// run one at a time.
func (t *memTx) LockConversation(ctx context.Context, id int) (Conversation, error) {
	if err := t.write(); err != nil {
		return Conversation{}, err
	}
	return t.GetConversation(ctx, id)
}

func (t *memTx) LockUserPair(_ context.Context, _, _ int) error {
	return t.write()
}

func (t *memTx) TouchConversation(_ context.Context, id int, at time.Time) error {
	if err := t.write(); err != nil {
		return err
	}
	c, ok := t.s.conversations[id]
	if !ok {
		return nil
	}
	c.UpdatedAt = at
	t.s.conversations[id] = c
	return nil
}

func (t *memTx) DeleteConversation(_ context.Context, id int) error {
	if err := t.write(); err != nil {
		return err
	}

	delete(t.s.conversations, id)
	maps.DeleteFunc(t.s.members, func(k pairKey, _ Member) bool { return k.a == id })
	maps.DeleteFunc(t.s.unread, func(k pairKey, _ Unread) bool { return k.a == id })
	maps.DeleteFunc(t.s.typing, func(k pairKey, _ Typing) bool { return k.a == id })
	return nil
}

func (t *memTx) GetMember(_ context.Context, conversationId, userId int) (Member, error) {
	m, ok := t.s.members[pairKey{conversationId, userId}]
	if !ok {
		return Member{}, sql.ErrNoRows
	}
	return m, nil
}

func sortMembers(members []Member) []Member {
	slices.SortFunc(members, func(a, b Member) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return a.Id - b.Id
	})
	return members
}

func (t *memTx) ListMembers(_ context.Context, conversationId int) ([]Member, error) {
	members := make([]Member, 0)
	for k, m := range t.s.members {
		if k.a == conversationId {
			members = append(members, m)
		}
	}
	return sortMembers(members), nil
}

func (t *memTx) ListMemberships(_ context.Context, userId int) ([]Member, error) {
	members := make([]Member, 0)
	for k, m := range t.s.members {
		if k.b == userId {
			members = append(members, m)
		}
	}
	return sortMembers(members), nil
}

func (t *memTx) CreateMember(_ context.Context, conversationId, userId int, joinedAt time.Time) (Member, error) {
	if err := t.write(); err != nil {
		return Member{}, err
	}

	key := pairKey{conversationId, userId}
	if m, ok := t.s.members[key]; ok {
		return m, nil
	}
	if _, ok := t.s.conversations[conversationId]; !ok {
		return Member{}, ErrForeignKeyViolation
	}
	if _, ok := t.s.users[userId]; !ok {
		return Member{}, ErrForeignKeyViolation
	}

	m := Member{
		Id:             t.s.nextId(),
		ConversationId: conversationId,
		UserId:         userId,
		JoinedAt:       joinedAt,
	}
	t.s.members[key] = m
	return m, nil
}

func (t *memTx) DeleteMember(_ context.Context, conversationId, userId int) (bool, error) {
	if err := t.write(); err != nil {
		return false, err
	}

	key := pairKey{conversationId, userId}
	if _, ok := t.s.members[key]; !ok {
		return false, nil
	}
	delete(t.s.members, key)
	return true, nil
}

func (t *memTx) DeleteMembers(_ context.Context, conversationId int) error {
	if err := t.write(); err != nil {
		return err
	}
	maps.DeleteFunc(t.s.members, func(k pairKey, _ Member) bool { return k.a == conversationId })
	return nil
}

func (t *memTx) CreateMessage(_ context.Context, params CreateMessageParams) (Message, error) {
	if err := t.write(); err != nil {
		return Message{}, err
	}
	if _, ok := t.s.conversations[params.ConversationId]; !ok {
		return Message{}, ErrForeignKeyViolation
	}

	m := Message{
		Id:             t.s.nextId(),
		ConversationId: params.ConversationId,
		SenderId:       params.SenderId,
		Content:        params.Content,
		Status:         MessageSent,
		CreatedAt:      params.CreatedAt,
	}
	t.s.messages[m.Id] = m
	return m, nil
}

func (t *memTx) GetMessage(_ context.Context, id int) (Message, error) {
	m, ok := t.s.messages[id]
	if !ok {
		return Message{}, sql.ErrNoRows
	}
	return m, nil
}

// newestFirst orders messages by (CreatedAt, Id) descending.
func newestFirst(a, b Message) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return b.Id - a.Id
}

func (t *memTx) ListMessages(_ context.Context, params ListMessagesParams) ([]Message, error) {
	var msgs []Message
	for _, m := range t.s.messages {
		if m.ConversationId != params.ConversationId {
			continue
		}
		if params.Before != nil && !params.Before.After(m) {
			continue
		}
		msgs = append(msgs, m)
	}

	slices.SortFunc(msgs, newestFirst)
	return page(msgs, 0, params.Limit), nil
}

func (t *memTx) LatestMessage(ctx context.Context, conversationId int) (Message, error) {
	msgs, _ := t.ListMessages(ctx, ListMessagesParams{ConversationId: conversationId, Limit: 1})
	if len(msgs) == 0 {
		return Message{}, sql.ErrNoRows
	}
	return msgs[0], nil
}

func (t *memTx) SetMessageDeleted(_ context.Context, id int) error {
	if err := t.write(); err != nil {
		return err
	}
	if m, ok := t.s.messages[id]; ok {
		m.Deleted = true
		t.s.messages[id] = m
	}
	return nil
}

func (t *memTx) MarkMessagesRead(_ context.Context, conversationId, readerId int) (int, error) {
	if err := t.write(); err != nil {
		return 0, err
	}

	var n int
	for id, m := range t.s.messages {
		if m.ConversationId != conversationId || m.SenderId == readerId || m.Status == MessageRead {
			continue
		}
		m.Status = MessageRead
		t.s.messages[id] = m
		n++
	}
	return n, nil
}

func (t *memTx) DeleteMessages(_ context.Context, conversationId int) error {
	if err := t.write(); err != nil {
		return err
	}

	maps.DeleteFunc(t.s.reactions, func(_ int, r Reaction) bool {
		m, ok := t.s.messages[r.MessageId]
		return ok && m.ConversationId == conversationId
	})
	maps.DeleteFunc(t.s.messages, func(_ int, m Message) bool {
		return m.ConversationId == conversationId
	})
	return nil
}

func (t *memTx) FindReaction(_ context.Context, messageId, userId int, emoji string) (Reaction, error) {
	for _, r := range t.s.reactions {
		if r.MessageId == messageId && r.UserId == userId && r.Emoji == emoji {
			return r, nil
		}
	}
	return Reaction{}, sql.ErrNoRows
}

func (t *memTx) CreateReaction(ctx context.Context, messageId, userId int, emoji string, at time.Time) (Reaction, error) {
	if err := t.write(); err != nil {
		return Reaction{}, err
	}
	if _, err := t.FindReaction(ctx, messageId, userId, emoji); err == nil {
		return Reaction{}, ErrUniqueViolation
	}

	r := Reaction{
		Id:        t.s.nextId(),
		MessageId: messageId,
		UserId:    userId,
		Emoji:     emoji,
		CreatedAt: at,
	}
	t.s.reactions[r.Id] = r
	return r, nil
}

func (t *memTx) DeleteReaction(_ context.Context, id int) error {
	if err := t.write(); err != nil {
		return err
	}
	delete(t.s.reactions, id)
	return nil
}

func (t *memTx) ListReactions(_ context.Context, messageId int) ([]Reaction, error) {
	reactions := make([]Reaction, 0)
	for _, r := range t.s.reactions {
		if r.MessageId == messageId {
			reactions = append(reactions, r)
		}
	}
	slices.SortFunc(reactions, func(a, b Reaction) int { return a.Id - b.Id })
	return reactions, nil
}

func (t *memTx) GetUnread(_ context.Context, conversationId, userId int) (Unread, error) {
	u, ok := t.s.unread[pairKey{conversationId, userId}]
	if !ok {
		return Unread{}, sql.ErrNoRows
	}
	return u, nil
}

func (t *memTx) IncrementUnread(_ context.Context, conversationId, userId int) (int, error) {
	if err := t.write(); err != nil {
		return 0, err
	}

	key := pairKey{conversationId, userId}
	u, ok := t.s.unread[key]
	if !ok {
		u = Unread{ConversationId: conversationId, UserId: userId}
	}
	u.Count++
	t.s.unread[key] = u
	return u.Count, nil
}

func (t *memTx) ResetUnread(_ context.Context, conversationId, userId, lastReadMessageId int) error {
	if err := t.write(); err != nil {
		return err
	}

	key := pairKey{conversationId, userId}
	u, ok := t.s.unread[key]
	if !ok {
		u = Unread{ConversationId: conversationId, UserId: userId}
	}
	u.Count = 0
	u.LastReadMessageId = max(u.LastReadMessageId, lastReadMessageId)
	t.s.unread[key] = u
	return nil
}

func (t *memTx) DecrementUnread(_ context.Context, msg Message) error {
	if err := t.write(); err != nil {
		return err
	}

	for key, u := range t.s.unread {
		if key.a != msg.ConversationId || key.b == msg.SenderId || u.LastReadMessageId >= msg.Id {
			continue
		}
		m, ok := t.s.members[key]
		if !ok || m.JoinedAt.After(msg.CreatedAt) {
			continue
		}
		u.Count = max(u.Count-1, 0)
		t.s.unread[key] = u
	}
	return nil
}

func (t *memTx) UpsertTyping(_ context.Context, conversationId, userId int, expiresAt time.Time) error {
	if err := t.write(); err != nil {
		return err
	}
	t.s.typing[pairKey{conversationId, userId}] = Typing{
		ConversationId: conversationId,
		UserId:         userId,
		ExpiresAt:      expiresAt,
	}
	return nil
}

func (t *memTx) DeleteTyping(_ context.Context, conversationId, userId int) error {
	if err := t.write(); err != nil {
		return err
	}
	delete(t.s.typing, pairKey{conversationId, userId})
	return nil
}

func (t *memTx) PruneTyping(_ context.Context, conversationId int, now time.Time) (int, error) {
	if err := t.write(); err != nil {
		return 0, err
	}

	before := len(t.s.typing)
	maps.DeleteFunc(t.s.typing, func(k pairKey, ty Typing) bool {
		return k.a == conversationId && !ty.ExpiresAt.After(now)
	})
	return before - len(t.s.typing), nil
}

func (t *memTx) ListTyping(_ context.Context, conversationId int) ([]Typing, error) {
	signals := make([]Typing, 0)
	for k, ty := range t.s.typing {
		if k.a == conversationId {
			signals = append(signals, ty)
		}
	}
	slices.SortFunc(signals, func(a, b Typing) int {
		if c := a.ExpiresAt.Compare(b.ExpiresAt); c != 0 {
			return c
		}
		return a.UserId - b.UserId
	})
	return signals, nil
}

func (t *memTx) GetPresence(_ context.Context, userId int) (Presence, error) {
	p, ok := t.s.presence[userId]
	if !ok {
		return Presence{}, sql.ErrNoRows
	}
	return p, nil
}

func (t *memTx) UpsertPresence(_ context.Context, p Presence) error {
	if err := t.write(); err != nil {
		return err
	}
	t.s.presence[p.UserId] = p
	return nil
}

func (t *memTx) ListOnline(_ context.Context, seenSince time.Time) ([]Presence, error) {
	online := make([]Presence, 0)
	for _, p := range t.s.presence {
		if p.Online && !p.LastSeen.Before(seenSince) {
			online = append(online, p)
		}
	}
	slices.SortFunc(online, func(a, b Presence) int { return a.UserId - b.UserId })
	return online, nil
}
