package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbqsrc/robust/internal/domain"
)

func TestNewUserRequiredFields(t *testing.T) {
	_, err := domain.NewUser("", "bob", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidMessage)

	_, err = domain.NewUser("Bob", "", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidMessage)

	u, err := domain.NewUser("Bob", "bob", -300)
	require.NoError(t, err)
	assert.False(t, u.ID.IsZero())
	assert.Equal(t, -300, u.Timezone)
	assert.Empty(t, u.Channels)
}

func TestUserProjections(t *testing.T) {
	u, err := domain.NewUser("Bob", "bob", 60)
	require.NoError(t, err)
	u.Bio = "hello"
	u.TwitterUID = "12345"
	u.IsServerAdmin = true
	u.Channels = []string{"#general"}

	full := u.WireFull()
	assert.Equal(t, u.ID.String(), full["id"])
	assert.Equal(t, "12345", full["twitter_uid"])
	assert.Equal(t, true, full["is_server_admin"])
	assert.Equal(t, []string{"#general"}, full["channels"])

	public := u.WirePublic()
	assert.Equal(t, "hello", public["bio"])
	assert.NotContains(t, public, "twitter_uid")
	assert.NotContains(t, public, "is_server_admin")
	assert.NotContains(t, public, "channels")
	assert.NotContains(t, public, "timezone")
}

func TestSenderRef(t *testing.T) {
	u, err := domain.NewUser("Bob", "bob", 0)
	require.NoError(t, err)

	ref := u.SenderRef()
	assert.Equal(t, domain.Sender{ID: u.ID.String(), Handle: "bob", Name: "Bob"}, ref)
}

func TestInChannel(t *testing.T) {
	u, err := domain.NewUser("Bob", "bob", 0)
	require.NoError(t, err)
	u.Channels = []string{"#general", "#random"}

	assert.True(t, u.InChannel("#random"))
	assert.False(t, u.InChannel("#missing"))
}
