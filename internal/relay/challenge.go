package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bbqsrc/robust/internal/domain"
	"github.com/bbqsrc/robust/internal/identity"
)

// ChallengeResult is the outcome a pending challenge resolves with:
// either a verified identity or an error (expiry, failed verification).
type ChallengeResult struct {
	Identity identity.Identity
	Err      error
}

// PendingChallenge is the single-shot future joining an issued nonce to
// the session that must receive its resolution. It resolves exactly once;
// later attempts are no-ops.
type PendingChallenge struct {
	nonce     domain.Nonce
	owner     domain.SessionID
	createdAt time.Time
	once      sync.Once
	resolve   func(ChallengeResult)
}

// Nonce returns the challenge's correlation nonce.
func (p *PendingChallenge) Nonce() domain.Nonce { return p.nonce }

// Owner returns the session the resolution is delivered to.
func (p *PendingChallenge) Owner() domain.SessionID { return p.owner }

func (p *PendingChallenge) complete(res ChallengeResult) {
	p.once.Do(func() { p.resolve(res) })
}

// ChallengeRegistry is the process-wide correlation table for auth
// challenges. It holds two mappings: nonce to pending challenge, and the
// provider's short-lived request token back to the nonce, held until the
// HTTP callback arrives. Unresolved challenges expire after ttl.
type ChallengeRegistry struct {
	clock  domain.Clock
	ttl    time.Duration
	logger *slog.Logger

	mu              sync.Mutex
	byNonce         map[domain.Nonce]*PendingChallenge
	byProviderToken map[string]domain.Nonce
}

// NewChallengeRegistry creates an empty challenge registry.
func NewChallengeRegistry(clock domain.Clock, ttl time.Duration, logger *slog.Logger) *ChallengeRegistry {
	return &ChallengeRegistry{
		clock:           clock,
		ttl:             ttl,
		logger:          logger,
		byNonce:         make(map[domain.Nonce]*PendingChallenge),
		byProviderToken: make(map[string]domain.Nonce),
	}
}

// Issue mints a nonce and registers a pending challenge owned by the
// session. resolve is invoked exactly once, from whatever goroutine
// completes or expires the challenge.
func (r *ChallengeRegistry) Issue(owner domain.SessionID, resolve func(ChallengeResult)) *PendingChallenge {
	p := &PendingChallenge{
		nonce:     domain.GenerateNonce(),
		owner:     owner,
		createdAt: r.clock.Now(),
		resolve:   resolve,
	}
	r.mu.Lock()
	r.byNonce[p.nonce] = p
	r.mu.Unlock()
	return p
}

// BindProviderToken records the provider's request token against the
// nonce it was opened for, so the callback can find its way back.
func (r *ChallengeRegistry) BindProviderToken(nonce domain.Nonce, providerToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byNonce[nonce]
	if !ok {
		return domain.ErrChallengeNotFound
	}
	if r.expiredLocked(p) {
		r.removeLocked(p)
		return domain.ErrChallengeExpired
	}
	r.byProviderToken[providerToken] = nonce
	return nil
}

// ResolveByProviderToken consumes the challenge correlated to the token
// and resolves it. Both mappings are removed before resolve runs, so a
// nonce can authenticate exactly one session exactly once.
func (r *ChallengeRegistry) ResolveByProviderToken(providerToken string, res ChallengeResult) error {
	r.mu.Lock()
	nonce, ok := r.byProviderToken[providerToken]
	if !ok {
		r.mu.Unlock()
		return domain.ErrChallengeNotFound
	}
	p, ok := r.byNonce[nonce]
	if !ok {
		delete(r.byProviderToken, providerToken)
		r.mu.Unlock()
		return domain.ErrChallengeNotFound
	}
	expired := r.expiredLocked(p)
	r.removeLocked(p)
	r.mu.Unlock()

	if expired {
		p.complete(ChallengeResult{Err: domain.ErrChallengeExpired})
		return domain.ErrChallengeExpired
	}
	p.complete(res)
	return nil
}

// AbandonOwnedBy drops every challenge owned by a closing session.
func (r *ChallengeRegistry) AbandonOwnedBy(owner domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byNonce {
		if p.owner == owner {
			r.removeLocked(p)
		}
	}
}

// Len returns the number of pending challenges.
func (r *ChallengeRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byNonce)
}

// Sweep expires every pending challenge older than the TTL, resolving
// each with an expiry error so the owning session hears about it.
func (r *ChallengeRegistry) Sweep() {
	r.mu.Lock()
	var expired []*PendingChallenge
	for _, p := range r.byNonce {
		if r.expiredLocked(p) {
			expired = append(expired, p)
			r.removeLocked(p)
		}
	}
	r.mu.Unlock()

	for _, p := range expired {
		challengesExpiredTotal.Add(context.Background(), 1)
		r.logger.Info("auth challenge expired",
			slog.String("nonce", p.nonce.String()),
			slog.String("session_id", p.owner.String()),
		)
		p.complete(ChallengeResult{Err: domain.ErrChallengeExpired})
	}
}

// Run sweeps expired challenges on an interval until ctx is cancelled.
func (r *ChallengeRegistry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *ChallengeRegistry) expiredLocked(p *PendingChallenge) bool {
	return r.clock.Now().Sub(p.createdAt) > r.ttl
}

func (r *ChallengeRegistry) removeLocked(p *PendingChallenge) {
	delete(r.byNonce, p.nonce)
	for token, nonce := range r.byProviderToken {
		if nonce == p.nonce {
			delete(r.byProviderToken, token)
		}
	}
}
