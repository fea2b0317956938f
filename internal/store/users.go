package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bbqsrc/robust/internal/domain"
	redisclient "github.com/bbqsrc/robust/internal/redis"
)

// Key patterns:
//
//	user:{id}                user record hash
//	user_handle:{handle}     handle -> id index
//	user_ext:{provider}:{uid} external identity -> id index
const (
	userKeyPrefix     = "user:"
	handleIndexPrefix = "user_handle:"
	extIndexPrefix    = "user_ext:"
)

// Providers recognized by FindByExternalID.
const (
	ProviderTwitter  = "twitter"
	ProviderFacebook = "facebook"
	ProviderGithub   = "github"
)

// UserStore persists user records in Redis hashes with secondary index
// keys for handle and external identity lookups.
type UserStore struct {
	cmd redisclient.Cmdable
}

// NewUserStore creates a UserStore that uses cmd for Redis operations.
func NewUserStore(cmd redisclient.Cmdable) *UserStore {
	return &UserStore{cmd: cmd}
}

// Create persists a new user. The handle index is claimed first with SETNX
// so two concurrent creations of the same handle cannot both succeed.
func (s *UserStore) Create(ctx context.Context, u *domain.User) error {
	ctx, span := tracer.Start(ctx, "store.users.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("user.handle", u.Handle),
	)

	if u.ID.IsZero() {
		return fmt.Errorf("user has no ID: %w", domain.ErrEmptyID)
	}
	if u.Name == "" || u.Handle == "" {
		return fmt.Errorf("user name and handle are required: %w", domain.ErrInvalidMessage)
	}

	claimed, err := s.cmd.SetNX(ctx, handleIndexPrefix+u.Handle, u.ID.String(), 0).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("claim handle %q: %w", u.Handle, err)
	}
	if !claimed {
		return fmt.Errorf("handle %q: %w", u.Handle, domain.ErrAlreadyExists)
	}

	if err := s.write(ctx, u); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Save updates an existing user record and refreshes its index keys.
func (s *UserStore) Save(ctx context.Context, u *domain.User) error {
	ctx, span := tracer.Start(ctx, "store.users.save")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "redis"))

	if u.ID.IsZero() {
		return fmt.Errorf("user has no ID: %w", domain.ErrEmptyID)
	}

	if err := s.cmd.Set(ctx, handleIndexPrefix+u.Handle, u.ID.String(), 0).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("index handle %q: %w", u.Handle, err)
	}

	if err := s.write(ctx, u); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (s *UserStore) write(ctx context.Context, u *domain.User) error {
	channels, err := json.Marshal(u.Channels)
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}

	fields := map[string]any{
		"id":              u.ID.String(),
		"name":            u.Name,
		"handle":          u.Handle,
		"timezone":        strconv.Itoa(u.Timezone),
		"location":        u.Location,
		"bio":             u.Bio,
		"display_picture": u.DisplayPicture,
		"twitter_uid":     u.TwitterUID,
		"facebook_uid":    u.FacebookUID,
		"github_uid":      u.GithubUID,
		"is_server_admin": strconv.FormatBool(u.IsServerAdmin),
		"channels":        string(channels),
	}
	if err := s.cmd.HSet(ctx, userKeyPrefix+u.ID.String(), fields).Err(); err != nil {
		return fmt.Errorf("write user %s: %w", u.ID, err)
	}

	for provider, uid := range map[string]string{
		ProviderTwitter:  u.TwitterUID,
		ProviderFacebook: u.FacebookUID,
		ProviderGithub:   u.GithubUID,
	} {
		if uid == "" {
			continue
		}
		key := extIndexPrefix + provider + ":" + uid
		if err := s.cmd.Set(ctx, key, u.ID.String(), 0).Err(); err != nil {
			return fmt.Errorf("index %s uid: %w", provider, err)
		}
	}

	return nil
}

// FindByID loads a user record by its ID.
func (s *UserStore) FindByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "store.users.find_by_id")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "HGETALL"),
	)

	fields, err := s.cmd.HGetAll(ctx, userKeyPrefix+id.String()).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load user %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	return fromHash(fields)
}

// FindByHandle resolves a handle through the index and loads the record.
func (s *UserStore) FindByHandle(ctx context.Context, handle string) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "store.users.find_by_handle")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "redis"))

	id, err := s.resolveIndex(ctx, handleIndexPrefix+handle)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("handle %q: %w", handle, err)
	}
	return s.FindByID(ctx, id)
}

// FindByExternalID resolves a provider identity through the index and
// loads the record. Unrecognized providers are a validation error.
func (s *UserStore) FindByExternalID(ctx context.Context, provider, uid string) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "store.users.find_by_external_id")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("identity.provider", provider),
	)

	switch provider {
	case ProviderTwitter, ProviderFacebook, ProviderGithub:
	default:
		return nil, fmt.Errorf("unknown identity provider %q: %w", provider, domain.ErrInvalidMessage)
	}

	id, err := s.resolveIndex(ctx, extIndexPrefix+provider+":"+uid)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%s uid %q: %w", provider, uid, err)
	}
	return s.FindByID(ctx, id)
}

func (s *UserStore) resolveIndex(ctx context.Context, key string) (domain.UserID, error) {
	raw, err := s.cmd.Get(ctx, key).Result()
	if errors.Is(err, redisclient.Nil) {
		return domain.UserID{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.UserID{}, err
	}
	return domain.NewUserID(raw)
}

func fromHash(fields map[string]string) (*domain.User, error) {
	id, err := domain.NewUserID(fields["id"])
	if err != nil {
		return nil, fmt.Errorf("stored user ID: %w", err)
	}

	timezone, err := strconv.Atoi(fields["timezone"])
	if err != nil {
		return nil, fmt.Errorf("stored timezone: %w", err)
	}

	isAdmin := false
	if raw := fields["is_server_admin"]; raw != "" {
		isAdmin, err = strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("stored admin flag: %w", err)
		}
	}

	channels := []string{}
	if raw := fields["channels"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &channels); err != nil {
			return nil, fmt.Errorf("stored channels: %w", err)
		}
	}

	return &domain.User{
		ID:             id,
		Name:           fields["name"],
		Handle:         fields["handle"],
		Timezone:       timezone,
		Location:       fields["location"],
		Bio:            fields["bio"],
		DisplayPicture: fields["display_picture"],
		TwitterUID:     fields["twitter_uid"],
		FacebookUID:    fields["facebook_uid"],
		GithubUID:      fields["github_uid"],
		IsServerAdmin:  isAdmin,
		Channels:       channels,
	}, nil
}
