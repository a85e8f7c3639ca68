package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quietlink/quietlink/crypto"
	"github.com/quietlink/quietlink/storage"
)

// TokenValidity is how long an issued token is trusted before a fresh
// signed-challenge exchange is performed.
const TokenValidity = 25 * time.Minute

// ErrUnprovisioned indicates a device with no userId/sharedSecret in its
// profile; no token can be obtained until the profile is initialized.
var ErrUnprovisioned = errors.New("device not provisioned")

// ChallengeAPI is the auth server's challenge exchange: fetch a
// challenge, return it encrypted under the profile's shared secret,
// receive a token.
type ChallengeAPI interface {
	GetChallenge(ctx context.Context, userID string) (string, error)
	PostChallenge(ctx context.Context, userID, encryptedChallenge string) (string, error)
}

func (c *HTTPClient) GetChallenge(ctx context.Context, userID string) (string, error) {
	var out struct {
		Challenge string `json:"challenge"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/auth/challenge/"+userID, "", nil, &out); err != nil {
		return "", err
	}
	return out.Challenge, nil
}

func (c *HTTPClient) PostChallenge(ctx context.Context, userID, encryptedChallenge string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	body := map[string]string{"cipher": encryptedChallenge}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/challenge/"+userID, "", body, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// TokenProvider caches the short-lived auth token in the store and
// refreshes it through the challenge exchange when it times out. Reads
// and writes of the cached token go through the store's collection lock.
type TokenProvider struct {
	store *storage.Store
	api   ChallengeAPI
}

// NewTokenProvider wires a token provider over the store and challenge
// endpoint.
func NewTokenProvider(store *storage.Store, api ChallengeAPI) *TokenProvider {
	return &TokenProvider{store: store, api: api}
}

var _ Authenticator = (*TokenProvider)(nil)

// Token returns a valid token, performing the signed-challenge exchange
// if the cached one is missing or stale.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	var token string
	err := p.store.WithLock(func() error {
		cached, issuedAt, err := p.store.GetToken()
		if err == nil && tokenFresh(issuedAt) {
			token = cached
			return nil
		}

		token, err = p.refresh(ctx)
		if err != nil {
			return err
		}
		return p.store.SaveToken(token, "")
	})
	return token, err
}

// refresh runs the challenge exchange: the server's random challenge is
// encrypted under the profile's shared secret, proving possession
// without disclosing it.
func (p *TokenProvider) refresh(ctx context.Context) (string, error) {
	profile, err := p.store.GetProfile()
	if err != nil {
		return "", fmt.Errorf("%w: no profile", ErrUnprovisioned)
	}
	if profile.UserID == "" || profile.SharedSecret == "" {
		return "", fmt.Errorf("%w: missing userId or shared secret", ErrUnprovisioned)
	}

	secret, err := crypto.KeyFromHex(profile.SharedSecret)
	if err != nil {
		return "", fmt.Errorf("bad profile secret: %w", err)
	}

	challenge, err := p.api.GetChallenge(ctx, profile.UserID)
	if err != nil {
		return "", err
	}

	encrypted, err := crypto.EncryptString(challenge, secret)
	if err != nil {
		return "", fmt.Errorf("encrypt challenge: %w", err)
	}

	token, err := p.api.PostChallenge(ctx, profile.UserID, encrypted)
	if err != nil {
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"function": "refresh",
		"user_id":  profile.UserID,
	}).Debug("Auth token refreshed")
	return token, nil
}

func tokenFresh(issuedAt string) bool {
	ts, err := time.Parse(time.RFC3339Nano, issuedAt)
	if err != nil {
		return false
	}
	return time.Since(ts) <= TokenValidity
}
