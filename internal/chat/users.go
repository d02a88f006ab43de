package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/npezzotti/go-convo/internal/database"
	"github.com/npezzotti/go-convo/internal/types"
)

type CreateUserRequest struct {
	ExternalId string `json:"external_id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar"`
}

type UpdateUserRequest struct {
	ExternalId string `json:"external_id"`
	Email      string `json:"email,omitempty"`
	Name       string `json:"name,omitempty"`
	Avatar     string `json:"avatar,omitempty"`
}

func toUser(u database.User) types.User {
	return types.User{
		Id:         u.Id,
		ExternalId: u.ExternalId,
		Email:      u.Email,
		Name:       u.Name,
		Avatar:     u.Avatar,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

func toUsers(users []database.User) []types.User {
	res := make([]types.User, 0, len(users))
	for _, u := range users {
		res = append(res, toUser(u))
	}
	return res
}

// CreateOrGetUser returns the user bound to the caller's identity,
// creating it on first login and syncing a diverged profile otherwise.
func (s *Service) CreateOrGetUser(ctx context.Context, req CreateUserRequest) (*types.User, error) {
	ident, ok := IdentityFrom(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}
	if req.ExternalId == "" {
		req.ExternalId = ident.Subject
	}
	if req.ExternalId != ident.Subject {
		return nil, fmt.Errorf("%w: cannot register identity %q", ErrUnauthorized, req.ExternalId)
	}

	var res database.User
	register := func(tx database.Tx) (Event, error) {
		now := s.now()

		u, err := tx.GetUserByExternalId(ctx, req.ExternalId)
		if errors.Is(err, sql.ErrNoRows) {
			res, err = tx.CreateUser(ctx, database.CreateUserParams{
				ExternalId: req.ExternalId,
				Email:      req.Email,
				Name:       req.Name,
				Avatar:     req.Avatar,
				CreatedAt:  now,
			})
			if err != nil {
				return Event{}, fmt.Errorf("create user: %w", err)
			}
			s.log.Printf("registered user %d for identity %q", res.Id, req.ExternalId)
			return newEvent(UsersKey), nil
		}
		if err != nil {
			return Event{}, fmt.Errorf("get user by external id: %w", err)
		}

		if u.Email == req.Email && u.Name == req.Name && u.Avatar == req.Avatar {
			res = u
			return Event{}, nil
		}

		res, err = tx.UpdateUser(ctx, database.UpdateUserParams{
			Id:        u.Id,
			Email:     req.Email,
			Name:      req.Name,
			Avatar:    req.Avatar,
			UpdatedAt: now,
		})
		if err != nil {
			return Event{}, fmt.Errorf("update user: %w", err)
		}

		return s.profileChanged(ctx, tx, u.Id)
	}

	err := s.mutate(ctx, register)
	if database.IsUniqueViolation(err) {
		// a concurrent first login inserted the row after our lookup
		s.log.Printf("identity %q registered concurrently, retrying", req.ExternalId)
		err = s.mutate(ctx, register)
	}
	if err != nil {
		return nil, err
	}

	user := toUser(res)
	return &user, nil
}

// UpdateUserByExternalId patches the non-empty fields of req. It returns
// nil when no user is bound to the external id.
func (s *Service) UpdateUserByExternalId(ctx context.Context, req UpdateUserRequest) (*types.User, error) {
	ident, ok := IdentityFrom(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}
	if req.ExternalId == "" {
		req.ExternalId = ident.Subject
	}
	if req.ExternalId != ident.Subject {
		return nil, fmt.Errorf("%w: cannot update identity %q", ErrUnauthorized, req.ExternalId)
	}

	var res *database.User
	err := s.mutate(ctx, func(tx database.Tx) (Event, error) {
		u, err := tx.GetUserByExternalId(ctx, req.ExternalId)
		if errors.Is(err, sql.ErrNoRows) {
			return Event{}, nil
		}
		if err != nil {
			return Event{}, fmt.Errorf("get user by external id: %w", err)
		}

		params := database.UpdateUserParams{
			Id:        u.Id,
			Email:     u.Email,
			Name:      u.Name,
			Avatar:    u.Avatar,
			UpdatedAt: s.now(),
		}
		if req.Email != "" {
			params.Email = req.Email
		}
		if req.Name != "" {
			params.Name = req.Name
		}
		if req.Avatar != "" {
			params.Avatar = req.Avatar
		}

		updated, err := tx.UpdateUser(ctx, params)
		if err != nil {
			return Event{}, fmt.Errorf("update user: %w", err)
		}
		res = &updated

		return s.profileChanged(ctx, tx, u.Id)
	})
	if err != nil || res == nil {
		return nil, err
	}

	user := toUser(*res)
	return &user, nil
}

// profileChanged builds the event for a user whose profile changed: the
// directory and every conversation that embeds the user.
func (s *Service) profileChanged(ctx context.Context, tx database.Tx, userId int) (Event, error) {
	ev := newEvent(UsersKey, UserKey(userId))

	memberships, err := tx.ListMemberships(ctx, userId)
	if err != nil {
		return Event{}, fmt.Errorf("list memberships: %w", err)
	}
	for _, m := range memberships {
		ev.add(ConversationKey(m.ConversationId))
		members, err := tx.ListMembers(ctx, m.ConversationId)
		if err != nil {
			return Event{}, fmt.Errorf("list members: %w", err)
		}
		ev.addMembers(userIdsOf(members))
	}

	return ev, nil
}

// GetCurrentUser returns the caller's user record, or nil when the caller
// is anonymous or has not registered yet.
func (s *Service) GetCurrentUser(ctx context.Context) (*types.User, error) {
	var res *types.User
	err := s.db.ReadTx(ctx, func(tx database.Tx) error {
		u, err := s.caller(ctx, tx)
		if err != nil {
			return err
		}
		user := toUser(u)
		res = &user
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

func (s *Service) GetUser(ctx context.Context, userId int) (*types.User, error) {
	var res *types.User
	err := s.db.ReadTx(ctx, func(tx database.Tx) error {
		if _, err := s.caller(ctx, tx); err != nil {
			return err
		}

		u, err := tx.GetUser(ctx, userId)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}
		user := toUser(u)
		res = &user
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

// SearchUsers lists users other than the caller whose name or email
// contains search, paginated by offset.
func (s *Service) SearchUsers(ctx context.Context, search string, cursor, limit int) (types.UserPage, error) {
	limit = clampLimit(limit)
	cursor = max(cursor, 0)
	res := types.UserPage{Users: []types.User{}}

	err := s.db.ReadTx(ctx, func(tx database.Tx) error {
		u, err := s.caller(ctx, tx)
		if err != nil {
			return err
		}

		// one extra row tells whether another page exists
		users, err := tx.ListUsers(ctx, database.ListUsersParams{
			Search:    search,
			ExcludeId: u.Id,
			Offset:    cursor,
			Limit:     limit + 1,
		})
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}

		if len(users) > limit {
			users = users[:limit]
			next := cursor + limit
			res.NextCursor = &next
		}
		res.Users = toUsers(users)
		return nil
	})
	if err != nil {
		if softFail(err) {
			return types.UserPage{Users: []types.User{}}, nil
		}
		return types.UserPage{}, err
	}

	return res, nil
}

func userIdsOf(members []database.Member) []int {
	ids := make([]int, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserId)
	}
	return ids
}
