package domain

import "fmt"

// User is a stored user record. The field set is closed: required fields
// (name, handle, timezone) are validated at creation, optional fields carry
// defaults. Wire shapes come from the explicit projection methods, never
// from marshalling the struct directly.
type User struct {
	ID       UserID
	Name     string
	Handle   string
	Timezone int // offset from UTC in minutes

	Location       string
	Bio            string
	DisplayPicture string
	TwitterUID     string
	FacebookUID    string
	GithubUID      string
	IsServerAdmin  bool
	Channels       []string
}

// NewUser creates a User with a fresh ID, validating the required fields.
// Optional fields keep their zero-value defaults and can be assigned after.
func NewUser(name, handle string, timezone int) (*User, error) {
	if name == "" {
		return nil, fmt.Errorf("user name is required: %w", ErrInvalidMessage)
	}
	if handle == "" {
		return nil, fmt.Errorf("user handle is required: %w", ErrInvalidMessage)
	}
	return &User{
		ID:       GenerateUserID(),
		Name:     name,
		Handle:   handle,
		Timezone: timezone,
		Channels: []string{},
	}, nil
}

// WireFull is the authorized/self projection: every declared field.
// Embedded in auth success replies, which always concern the session's
// own user.
func (u *User) WireFull() map[string]any {
	return map[string]any{
		"id":              u.ID.String(),
		"name":            u.Name,
		"handle":          u.Handle,
		"timezone":        u.Timezone,
		"location":        u.Location,
		"bio":             u.Bio,
		"display_picture": u.DisplayPicture,
		"twitter_uid":     u.TwitterUID,
		"facebook_uid":    u.FacebookUID,
		"github_uid":      u.GithubUID,
		"is_server_admin": u.IsServerAdmin,
		"channels":        u.Channels,
	}
}

// WirePublic is the third-party projection: profile fields only, no
// external identity IDs, no admin flag, no channel memberships.
func (u *User) WirePublic() map[string]any {
	return map[string]any{
		"id":              u.ID.String(),
		"name":            u.Name,
		"handle":          u.Handle,
		"location":        u.Location,
		"bio":             u.Bio,
		"display_picture": u.DisplayPicture,
	}
}

// SenderRef is the fixed sender projection embedded in persisted messages.
func (u *User) SenderRef() Sender {
	return Sender{
		ID:     u.ID.String(),
		Handle: u.Handle,
		Name:   u.Name,
	}
}

// InChannel reports whether the user's channel list contains target.
func (u *User) InChannel(target string) bool {
	for _, ch := range u.Channels {
		if ch == target {
			return true
		}
	}
	return false
}
