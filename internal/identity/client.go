// Package identity talks to the external identity provider and hosts the
// HTTP side of the auth challenge flow: the browser redirect that starts a
// provider authorization, and the callback that completes it.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bbqsrc/robust/internal/domain"
)

// Identity is the verified external identity returned by the provider.
type Identity struct {
	Provider string `json:"provider"`
	UID      string `json:"uid"`
	Handle   string `json:"handle"`
	Name     string `json:"name"`
}

// RequestToken is a short-lived provider token pair opened at the start of
// a redirect flow. The token correlates the eventual callback.
type RequestToken struct {
	Token  string `json:"oauth_token"`
	Secret string `json:"oauth_token_secret"`
}

// Config holds the provider endpoints and consumer credentials.
type Config struct {
	ConsumerKey     string
	ConsumerSecret  string
	RequestTokenURL string
	AuthorizeURL    string
	VerifyURL       string
}

// Client is the HTTP client for the identity provider.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a provider client. httpClient may be nil, in which case
// a client with the default identity timeout is used.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: domain.IdentityHTTPTimeout}
	}
	return &Client{cfg: cfg, http: httpClient}
}

// RequestNewToken opens a request token with the provider, registering
// callbackURL as the redirect destination.
func (c *Client) RequestNewToken(ctx context.Context, callbackURL string) (RequestToken, error) {
	form := url.Values{}
	form.Set("oauth_consumer_key", c.cfg.ConsumerKey)
	form.Set("oauth_consumer_secret", c.cfg.ConsumerSecret)
	form.Set("oauth_callback", callbackURL)

	var tok RequestToken
	if err := c.postForm(ctx, c.cfg.RequestTokenURL, form, &tok); err != nil {
		return RequestToken{}, fmt.Errorf("request token: %w", err)
	}
	if tok.Token == "" {
		return RequestToken{}, fmt.Errorf("request token: provider returned empty token")
	}
	return tok, nil
}

// AuthorizeRedirectURL returns the provider page the user agent is sent to
// for the given request token.
func (c *Client) AuthorizeRedirectURL(tok RequestToken) string {
	return c.cfg.AuthorizeURL + "?oauth_token=" + url.QueryEscape(tok.Token)
}

// Verify exchanges a calling-back request token and verifier for the
// verified identity. A provider rejection maps to ErrBadCredentials.
func (c *Client) Verify(ctx context.Context, token, verifier string) (Identity, error) {
	form := url.Values{}
	form.Set("oauth_consumer_key", c.cfg.ConsumerKey)
	form.Set("oauth_consumer_secret", c.cfg.ConsumerSecret)
	form.Set("oauth_token", token)
	form.Set("oauth_verifier", verifier)

	var ident Identity
	if err := c.postForm(ctx, c.cfg.VerifyURL, form, &ident); err != nil {
		return Identity{}, fmt.Errorf("verify token: %w", err)
	}
	if ident.UID == "" {
		return Identity{}, fmt.Errorf("verify token: %w", domain.ErrBadCredentials)
	}
	return ident, nil
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.ErrBadCredentials
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("provider returned %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}
