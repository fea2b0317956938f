package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"

	"github.com/bbqsrc/robust/internal/domain"
)

var tracer = otel.Tracer("identity")

// ChallengeBridge is the relay-side contract the HTTP handlers drive.
// BindProviderToken records a provider request token against a pending
// challenge nonce; CompleteProviderAuth resolves the challenge owning the
// token with a verified identity.
type ChallengeBridge interface {
	BindProviderToken(ctx context.Context, nonce domain.Nonce, providerToken string) error
	CompleteProviderAuth(ctx context.Context, providerToken string, ident Identity) error
}

// Handler hosts the redirect and callback endpoints of the challenge flow.
type Handler struct {
	provider     *Client
	bridge       ChallengeBridge
	callbackBase string
	logger       *slog.Logger
}

// NewHandler creates the HTTP handler set for the identity flow.
func NewHandler(provider *Client, bridge ChallengeBridge, callbackBase string, logger *slog.Logger) *Handler {
	return &Handler{
		provider:     provider,
		bridge:       bridge,
		callbackBase: callbackBase,
		logger:       logger,
	}
}

// Register mounts the identity routes on the router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/auth", h.handleBegin).Methods(http.MethodGet)
	r.HandleFunc("/auth/callback", h.handleCallback).Methods(http.MethodGet)
}

// ChallengeURL returns the URL a client is told to visit for the nonce.
// The TCP auth handler embeds this in the generate_challenge reply.
func ChallengeURL(callbackBase string, nonce domain.Nonce) string {
	return fmt.Sprintf("%s/auth?robust_token=%s", callbackBase, url.QueryEscape(nonce.String()))
}

// handleBegin starts the provider redirect flow: it opens a request token,
// binds it to the pending challenge named by robust_token, and forwards the
// user agent to the provider's authorize page.
func (h *Handler) handleBegin(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "identity.begin")
	defer span.End()

	nonce, err := domain.NewNonce(r.URL.Query().Get("robust_token"))
	if err != nil {
		http.Error(w, "invalid or missing robust_token", http.StatusBadRequest)
		return
	}

	tok, err := h.provider.RequestNewToken(ctx, h.callbackBase+"/auth/callback")
	if err != nil {
		h.logger.Error("open provider request token", slog.String("error", err.Error()))
		http.Error(w, "identity provider unavailable", http.StatusBadGateway)
		return
	}

	if err := h.bridge.BindProviderToken(ctx, nonce, tok.Token); err != nil {
		h.logger.Warn("bind provider token",
			slog.String("nonce", nonce.String()),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, domain.ErrChallengeNotFound) || errors.Is(err, domain.ErrChallengeExpired) {
			http.Error(w, "challenge not found or expired", http.StatusGone)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, h.provider.AuthorizeRedirectURL(tok), http.StatusFound)
}

// handleCallback completes the flow: it verifies the identity with the
// provider and resolves the challenge owning the returned request token.
// The TCP session learns the outcome asynchronously.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "identity.callback")
	defer span.End()

	q := r.URL.Query()
	token := q.Get("oauth_token")
	verifier := q.Get("oauth_verifier")
	if token == "" {
		http.Error(w, "missing oauth_token", http.StatusBadRequest)
		return
	}

	ident, err := h.provider.Verify(ctx, token, verifier)
	if err != nil {
		h.logger.Warn("verify provider identity", slog.String("error", err.Error()))
		if errors.Is(err, domain.ErrBadCredentials) {
			http.Error(w, "identity verification failed", http.StatusUnauthorized)
			return
		}
		http.Error(w, "identity provider unavailable", http.StatusBadGateway)
		return
	}

	if err := h.bridge.CompleteProviderAuth(ctx, token, ident); err != nil {
		h.logger.Warn("complete challenge", slog.String("error", err.Error()))
		if errors.Is(err, domain.ErrChallengeNotFound) || errors.Is(err, domain.ErrChallengeExpired) {
			http.Error(w, "challenge not found or expired", http.StatusGone)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body>Authenticated. You can close this window and return to your client.</body></html>")
}
