package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbqsrc/robust/internal/domain"
	redisclient "github.com/bbqsrc/robust/internal/redis"
	"github.com/bbqsrc/robust/internal/store"
)

func newTestUserStore(t *testing.T) (*store.UserStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redisclient.NewClient(redisclient.Config{
		Addr:         mr.Addr(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})

	return store.NewUserStore(client.RDB), mr
}

func testUser(t *testing.T, handle string) *domain.User {
	t.Helper()
	u, err := domain.NewUser("Test User", handle, -480)
	require.NoError(t, err)
	return u
}

func TestUserStore_Create(t *testing.T) {
	t.Run("round trips through FindByID", func(t *testing.T) {
		s, _ := newTestUserStore(t)
		u := testUser(t, "alice")
		u.Location = "Portland"
		u.Bio = "hi"
		u.TwitterUID = "12345"
		u.Channels = []string{"#general"}

		require.NoError(t, s.Create(context.Background(), u))

		got, err := s.FindByID(context.Background(), u.ID)
		require.NoError(t, err)
		assert.Equal(t, u, got)
	})

	t.Run("rejects duplicate handle", func(t *testing.T) {
		s, _ := newTestUserStore(t)
		ctx := context.Background()

		require.NoError(t, s.Create(ctx, testUser(t, "alice")))

		err := s.Create(ctx, testUser(t, "alice"))
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	})

	t.Run("rejects missing ID", func(t *testing.T) {
		s, _ := newTestUserStore(t)

		err := s.Create(context.Background(), &domain.User{Name: "x", Handle: "y"})
		assert.ErrorIs(t, err, domain.ErrEmptyID)
	})
}

func TestUserStore_FindByHandle(t *testing.T) {
	t.Run("resolves through index", func(t *testing.T) {
		s, _ := newTestUserStore(t)
		u := testUser(t, "bob")
		require.NoError(t, s.Create(context.Background(), u))

		got, err := s.FindByHandle(context.Background(), "bob")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
	})

	t.Run("unknown handle is not found", func(t *testing.T) {
		s, _ := newTestUserStore(t)

		_, err := s.FindByHandle(context.Background(), "nobody")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestUserStore_FindByExternalID(t *testing.T) {
	t.Run("resolves twitter uid", func(t *testing.T) {
		s, _ := newTestUserStore(t)
		u := testUser(t, "carol")
		u.TwitterUID = "98765"
		require.NoError(t, s.Create(context.Background(), u))

		got, err := s.FindByExternalID(context.Background(), store.ProviderTwitter, "98765")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
	})

	t.Run("unknown uid is not found", func(t *testing.T) {
		s, _ := newTestUserStore(t)

		_, err := s.FindByExternalID(context.Background(), store.ProviderGithub, "0")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("unknown provider is a validation error", func(t *testing.T) {
		s, _ := newTestUserStore(t)

		_, err := s.FindByExternalID(context.Background(), "myspace", "1")
		assert.ErrorIs(t, err, domain.ErrInvalidMessage)
	})
}

func TestUserStore_Save(t *testing.T) {
	t.Run("persists channel membership changes", func(t *testing.T) {
		s, _ := newTestUserStore(t)
		ctx := context.Background()
		u := testUser(t, "dave")
		require.NoError(t, s.Create(ctx, u))

		u.Channels = append(u.Channels, "#random")
		require.NoError(t, s.Save(ctx, u))

		got, err := s.FindByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"#random"}, got.Channels)
	})

	t.Run("indexes newly linked external identity", func(t *testing.T) {
		s, _ := newTestUserStore(t)
		ctx := context.Background()
		u := testUser(t, "erin")
		require.NoError(t, s.Create(ctx, u))

		u.GithubUID = "g-42"
		require.NoError(t, s.Save(ctx, u))

		got, err := s.FindByExternalID(ctx, store.ProviderGithub, "g-42")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
	})
}
