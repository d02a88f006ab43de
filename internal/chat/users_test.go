package chat

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/npezzotti/go-convo/internal/database"
	"github.com/npezzotti/go-convo/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrGetUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := identityCtx("ext_123")

	created, err := env.svc.CreateOrGetUser(ctx, CreateUserRequest{
		ExternalId: "ext_123",
		Email:      "ada@example.com",
		Name:       "Ada",
		Avatar:     "https://example.com/ada.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "ext_123", created.ExternalId)
	assert.Equal(t, "Ada", created.Name)

	t.Run("existing user is returned", func(t *testing.T) {
		again, err := env.svc.CreateOrGetUser(ctx, CreateUserRequest{
			ExternalId: "ext_123",
			Email:      "ada@example.com",
			Name:       "Ada",
			Avatar:     "https://example.com/ada.png",
		})
		require.NoError(t, err)
		assert.Equal(t, created, again)
	})

	t.Run("diverged profile is synced", func(t *testing.T) {
		env.clock.Advance(time.Minute)
		synced, err := env.svc.CreateOrGetUser(ctx, CreateUserRequest{
			Email: "ada@lovelace.dev",
			Name:  "Ada Lovelace",
		})
		require.NoError(t, err)
		assert.Equal(t, created.Id, synced.Id)
		assert.Equal(t, "Ada Lovelace", synced.Name)
		assert.Equal(t, "ada@lovelace.dev", synced.Email)
		assert.Empty(t, synced.Avatar)
		assert.True(t, synced.UpdatedAt.After(created.UpdatedAt))
	})

	t.Run("identity mismatch", func(t *testing.T) {
		_, err := env.svc.CreateOrGetUser(ctx, CreateUserRequest{ExternalId: "someone_else"})
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestUpdateUserByExternalId(t *testing.T) {
	env := newTestEnv(t)
	ctx, u := env.register(t, "grace")

	tcases := []struct {
		name      string
		req       UpdateUserRequest
		wantName  string
		wantImage string
	}{
		{
			name:      "name only",
			req:       UpdateUserRequest{Name: "Grace Hopper"},
			wantName:  "Grace Hopper",
			wantImage: "",
		},
		{
			name:      "avatar only keeps name",
			req:       UpdateUserRequest{ExternalId: "grace", Avatar: "https://example.com/g.png"},
			wantName:  "Grace Hopper",
			wantImage: "https://example.com/g.png",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			updated, err := env.svc.UpdateUserByExternalId(ctx, tc.req)
			require.NoError(t, err)
			require.NotNil(t, updated)
			assert.Equal(t, u.Id, updated.Id)
			assert.Equal(t, tc.wantName, updated.Name)
			assert.Equal(t, tc.wantImage, updated.Avatar)
			assert.Equal(t, u.Email, updated.Email)
		})
	}

	t.Run("unknown identity returns nil", func(t *testing.T) {
		updated, err := env.svc.UpdateUserByExternalId(identityCtx("stranger"), UpdateUserRequest{Name: "x"})
		assert.NoError(t, err)
		assert.Nil(t, updated)
	})

	t.Run("cannot update someone else", func(t *testing.T) {
		_, err := env.svc.UpdateUserByExternalId(ctx, UpdateUserRequest{ExternalId: "stranger", Name: "x"})
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestGetUser(t *testing.T) {
	env := newTestEnv(t)
	aCtx, _ := env.register(t, "alice")
	_, b := env.register(t, "bob")

	got, err := env.svc.GetUser(aCtx, b.Id)
	require.NoError(t, err)
	assert.Equal(t, b, got)

	got, err = env.svc.GetUser(aCtx, 9999)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestSearchUsers(t *testing.T) {
	env := newTestEnv(t)
	ctx, _ := env.register(t, "alice")
	env.register(t, "dave")
	env.register(t, "Carol")
	env.register(t, "bob")

	t.Run("pages exclude the caller", func(t *testing.T) {
		first, err := env.svc.SearchUsers(ctx, "", 0, 2)
		require.NoError(t, err)
		require.Len(t, first.Users, 2)
		assert.Equal(t, "bob", first.Users[0].Name)
		assert.Equal(t, "Carol", first.Users[1].Name)
		require.NotNil(t, first.NextCursor)
		assert.Equal(t, 2, *first.NextCursor)

		second, err := env.svc.SearchUsers(ctx, "", *first.NextCursor, 2)
		require.NoError(t, err)
		require.Len(t, second.Users, 1)
		assert.Equal(t, "dave", second.Users[0].Name)
		assert.Nil(t, second.NextCursor)
	})

	tcases := []struct {
		name   string
		search string
		want   []string
	}{
		{name: "case insensitive name", search: "CAR", want: []string{"Carol"}},
		{name: "email", search: "dave@example", want: []string{"dave"}},
		{name: "self never matches", search: "alice", want: []string{}},
		{name: "no match", search: "zed", want: []string{}},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			page, err := env.svc.SearchUsers(ctx, tc.search, 0, 0)
			require.NoError(t, err)
			names := []string{}
			for _, u := range page.Users {
				names = append(names, u.Name)
			}
			assert.Equal(t, tc.want, names)
			assert.Nil(t, page.NextCursor)
		})
	}
}

// staleLookupRepo hides existing users from the first misses lookups by
// external id, the view a transaction gets when a concurrent login
// commits right after its read.
type staleLookupRepo struct {
	*database.MemRepository
	misses int
}

type staleLookupTx struct {
	database.Tx
	repo *staleLookupRepo
}

func (r *staleLookupRepo) WithTx(ctx context.Context, fn func(tx database.Tx) error) error {
	return r.MemRepository.WithTx(ctx, func(tx database.Tx) error {
		return fn(&staleLookupTx{Tx: tx, repo: r})
	})
}

func (tx *staleLookupTx) GetUserByExternalId(ctx context.Context, externalId string) (database.User, error) {
	if tx.repo.misses > 0 {
		tx.repo.misses--
		return database.User{}, sql.ErrNoRows
	}
	return tx.Tx.GetUserByExternalId(ctx, externalId)
}

func TestCreateOrGetUser_ConcurrentFirstLogin(t *testing.T) {
	db := database.NewMemRepository()
	var existing database.User
	err := db.WithTx(context.Background(), func(tx database.Tx) error {
		var err error
		existing, err = tx.CreateUser(context.Background(), database.CreateUserParams{
			ExternalId: "ext_race",
			Email:      "race@example.com",
			Name:       "Racer",
			CreatedAt:  time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		})
		return err
	})
	require.NoError(t, err)

	tcases := []struct {
		name    string
		misses  int
		wantErr bool
	}{
		{name: "lost insert is retried", misses: 1},
		{name: "retry happens once", misses: 2, wantErr: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &staleLookupRepo{MemRepository: db, misses: tc.misses}
			svc := NewService(testutil.TestLogger(t), repo, nil, Config{})

			u, err := svc.CreateOrGetUser(identityCtx("ext_race"), CreateUserRequest{
				Email: "race@example.com",
				Name:  "Racer",
			})
			if tc.wantErr {
				assert.True(t, database.IsUniqueViolation(err), "expected the second conflict to surface, got %v", err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, u)
			assert.Equal(t, existing.Id, u.Id)
		})
	}
}
