package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bbqsrc/robust/internal/domain"
	"github.com/bbqsrc/robust/internal/errmap"
	"github.com/bbqsrc/robust/internal/identity"
	"github.com/bbqsrc/robust/pkg/protocol"
)

// tokenIssuer is the iss claim on minted credentials.
const tokenIssuer = "robust"

// AuthDeps carries the collaborators of the auth service.
type AuthDeps struct {
	Users        UserStore
	Challenges   *ChallengeRegistry
	Provider     *identity.Client
	Clock        domain.Clock
	Logger       *slog.Logger
	CallbackBase string
	TokenSecret  []byte
	Modes        []string
}

// AuthService implements the auth entry of the dispatch table and the
// bridge the identity HTTP handlers drive. Supported modes: oauth
// (redirect challenge flow, also accepting stored key/secret credentials)
// and token (signed JWT credential).
type AuthService struct {
	users        UserStore
	challenges   *ChallengeRegistry
	provider     *identity.Client
	clock        domain.Clock
	logger       *slog.Logger
	callbackBase string
	tokenSecret  []byte
	modes        map[string]HandlerFunc
}

// NewAuthService creates the auth service with the given enabled modes.
func NewAuthService(d AuthDeps) *AuthService {
	a := &AuthService{
		users:        d.Users,
		challenges:   d.Challenges,
		provider:     d.Provider,
		clock:        d.Clock,
		logger:       d.Logger,
		callbackBase: d.CallbackBase,
		tokenSecret:  d.TokenSecret,
		modes:        make(map[string]HandlerFunc),
	}
	for _, mode := range d.Modes {
		switch mode {
		case "oauth":
			a.modes["oauth"] = a.handleOAuth
		case "token":
			a.modes["token"] = a.handleToken
		}
	}
	return a
}

// Modes returns the enabled mode names, for the server option table.
func (a *AuthService) Modes() []string {
	names := make([]string, 0, len(a.modes))
	for _, candidate := range []string{"oauth", "token"} {
		if _, ok := a.modes[candidate]; ok {
			names = append(names, candidate)
		}
	}
	return names
}

// HandleAuth routes an auth envelope to its mode handler. Re-auth of an
// authenticated session is a protocol error and changes nothing.
func (a *AuthService) HandleAuth(ctx context.Context, s *Session, env protocol.Envelope) error {
	ctx, span := tracer.Start(ctx, "relay.auth")
	defer span.End()

	if s.Authenticated() {
		return domain.ErrAlreadyAuthenticated
	}

	mode, ok := env.String("mode")
	if !ok || mode == "" {
		return fmt.Errorf("auth mode required: %w", domain.ErrInvalidMessage)
	}
	h, ok := a.modes[mode]
	if !ok {
		return fmt.Errorf("unknown auth mode %q: %w", mode, domain.ErrInvalidMessage)
	}
	return h(ctx, s, env)
}

// handleOAuth either verifies stored key/secret credentials directly or
// issues a redirect challenge. A failed credential check re-issues a
// fresh challenge rather than terminating the flow.
func (a *AuthService) handleOAuth(ctx context.Context, s *Session, env protocol.Envelope) error {
	key, hasKey := env.String("key")
	secret, hasSecret := env.String("secret")

	if hasKey && hasSecret {
		ident, err := a.provider.Verify(ctx, key, secret)
		if err == nil {
			return a.bindIdentity(ctx, s, "oauth", ident)
		}
		if !errors.Is(err, domain.ErrBadCredentials) {
			return fmt.Errorf("verify stored credentials: %w", err)
		}
		a.recordOutcome(ctx, "oauth", "bad_credentials")
		a.logger.Info("stored credentials rejected, issuing challenge",
			slog.String("session_id", s.ID().String()),
		)
	}

	return a.issueChallenge(s)
}

func (a *AuthService) issueChallenge(s *Session) error {
	p := a.challenges.Issue(s.ID(), func(res ChallengeResult) {
		a.challengeResolved(s, res)
	})
	return s.Send(protocol.Envelope{
		"type": "auth",
		"mode": "oauth",
		"url":  identity.ChallengeURL(a.callbackBase, p.Nonce()),
	})
}

// challengeResolved is invoked by whatever goroutine resolves the
// challenge, usually the HTTP callback handler. The reply travels down
// the owning session's own connection.
func (a *AuthService) challengeResolved(s *Session, res ChallengeResult) {
	ctx := context.Background()
	if res.Err != nil {
		a.recordOutcome(ctx, "oauth", "challenge_failed")
		if err := s.Send(errmap.ToReply(res.Err)); err != nil {
			a.logger.Debug("challenge failure reply not delivered",
				slog.String("session_id", s.ID().String()),
			)
		}
		return
	}
	if err := a.bindIdentity(ctx, s, "oauth", res.Identity); err != nil {
		a.logger.Warn("challenge resolution failed",
			slog.String("session_id", s.ID().String()),
			slog.String("error", err.Error()),
		)
		if sendErr := s.Send(errmap.ToReply(err)); sendErr != nil {
			a.logger.Debug("challenge failure reply not delivered",
				slog.String("session_id", s.ID().String()),
			)
		}
	}
}

// handleToken authenticates with a signed credential minted out of band.
func (a *AuthService) handleToken(ctx context.Context, s *Session, env protocol.Envelope) error {
	credential, ok := env.String("credential")
	if !ok || credential == "" {
		return fmt.Errorf("credential required: %w", domain.ErrInvalidMessage)
	}

	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(credential, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.tokenSecret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(a.clock.Now))
	if err != nil || !tok.Valid {
		a.recordOutcome(ctx, "token", "bad_credentials")
		return fmt.Errorf("token rejected: %w", domain.ErrBadCredentials)
	}

	userID, err := domain.NewUserID(claims.Subject)
	if err != nil {
		return fmt.Errorf("token subject: %w", domain.ErrBadCredentials)
	}
	user, err := a.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("token subject unknown: %w", domain.ErrBadCredentials)
		}
		return fmt.Errorf("load token subject: %w", err)
	}

	return a.bindUser(ctx, s, "token", user)
}

// bindIdentity looks the verified identity up in the user store, creating
// a record on first authentication, and binds it.
func (a *AuthService) bindIdentity(ctx context.Context, s *Session, mode string, ident identity.Identity) error {
	user, err := a.users.FindByExternalID(ctx, ident.Provider, ident.UID)
	if errors.Is(err, domain.ErrNotFound) {
		user, err = a.createFromIdentity(ctx, ident)
	}
	if err != nil {
		return fmt.Errorf("resolve identity %s/%s: %w", ident.Provider, ident.UID, err)
	}
	return a.bindUser(ctx, s, mode, user)
}

func (a *AuthService) createFromIdentity(ctx context.Context, ident identity.Identity) (*domain.User, error) {
	user, err := domain.NewUser(ident.Name, ident.Handle, 0)
	if err != nil {
		return nil, err
	}
	switch ident.Provider {
	case "twitter":
		user.TwitterUID = ident.UID
	case "facebook":
		user.FacebookUID = ident.UID
	case "github":
		user.GithubUID = ident.UID
	default:
		return nil, fmt.Errorf("unknown identity provider %q: %w", ident.Provider, domain.ErrInvalidMessage)
	}
	if err := a.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// bindUser binds the user and pushes the success reply. The reply embeds
// the full projection: it always concerns the session's own user.
func (a *AuthService) bindUser(ctx context.Context, s *Session, mode string, user *domain.User) error {
	if err := s.BindUser(user); err != nil {
		return err
	}
	a.recordOutcome(ctx, mode, "success")
	a.logger.Info("session authenticated",
		slog.String("session_id", s.ID().String()),
		slog.String("mode", mode),
		slog.String("handle", user.Handle),
	)
	return s.Send(protocol.Envelope{
		"type":    "auth",
		"mode":    mode,
		"success": true,
		"user":    user.WireFull(),
	})
}

func (a *AuthService) recordOutcome(ctx context.Context, mode, outcome string) {
	authOutcomesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	))
}

// BindProviderToken implements identity.ChallengeBridge.
func (a *AuthService) BindProviderToken(_ context.Context, nonce domain.Nonce, providerToken string) error {
	return a.challenges.BindProviderToken(nonce, providerToken)
}

// CompleteProviderAuth implements identity.ChallengeBridge.
func (a *AuthService) CompleteProviderAuth(_ context.Context, providerToken string, ident identity.Identity) error {
	return a.challenges.ResolveByProviderToken(providerToken, ChallengeResult{Identity: ident})
}

// MintToken signs a credential for the token auth mode. Used by operator
// tooling and tests.
func MintToken(secret []byte, userID domain.UserID, ttl time.Duration, clock domain.Clock) (string, error) {
	now := clock.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Compile-time check: AuthService satisfies the HTTP bridge contract.
var _ identity.ChallengeBridge = (*AuthService)(nil)
