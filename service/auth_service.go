package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/layer-3/gatekeeper/core"
	"github.com/layer-3/gatekeeper/internal/eth"
	"github.com/layer-3/gatekeeper/ports"
)

// AuthOptions tunes the sign-in flow
type AuthOptions struct {
	Domain     string        // Expected challenge domain, empty accepts any
	ChainIDs   []int64       // Accepted chain ids, empty accepts any
	NonceTTL   time.Duration // Lifetime of an issued nonce and its draft session
	SessionTTL time.Duration // Upper bound of an authenticated session
	Now        func() time.Time
}

// AuthService handles wallet sign-in business logic
type AuthService struct {
	sessions ports.SessionStore
	nonces   ports.NonceStore
	eventPub ports.EventPublisher
	log      *slog.Logger
	opts     AuthOptions
}

// NewAuthService creates a new authentication service
func NewAuthService(
	sessions ports.SessionStore,
	nonces ports.NonceStore,
	eventPub ports.EventPublisher,
	log *slog.Logger,
	opts AuthOptions,
) *AuthService {
	if opts.NonceTTL <= 0 {
		opts.NonceTTL = time.Minute
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 7 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}

	return &AuthService{
		sessions: sessions,
		nonces:   nonces,
		eventPub: eventPub,
		log:      log,
		opts:     opts,
	}
}

// IssueNonce generates a single-use nonce, records it in the ledger and in a
// draft session cookie bound to this client.
func (s *AuthService) IssueNonce(ctx context.Context, w http.ResponseWriter) (string, error) {
	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(nonceBytes)

	if err := s.nonces.Put(ctx, nonce, s.opts.NonceTTL); err != nil {
		return "", fmt.Errorf("failed to record nonce: %w", err)
	}

	draft := &core.Session{
		Nonce:          nonce,
		ExpirationTime: s.opts.Now().Add(s.opts.NonceTTL).UTC(),
	}
	if err := s.sessions.Save(w, draft); err != nil {
		return "", fmt.Errorf("failed to save draft session: %w", err)
	}

	return nonce, nil
}

// Verify checks a signed sign-in message against the pending nonce and, on
// success, replaces the draft with an authenticated session. Any failure
// destroys the draft.
func (s *AuthService) Verify(ctx context.Context, w http.ResponseWriter, r *http.Request, message, signature string) (*core.Session, error) {
	session, err := s.verify(ctx, w, r, message, signature)
	if err != nil {
		s.sessions.Destroy(w)
		return nil, err
	}

	if err := s.sessions.Save(w, session); err != nil {
		s.sessions.Destroy(w)
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

func (s *AuthService) verify(ctx context.Context, w http.ResponseWriter, r *http.Request, message, signature string) (*core.Session, error) {
	draft, err := s.sessions.Load(w, r)
	if err != nil || draft.Nonce == "" {
		return nil, fmt.Errorf("%w: no pending nonce", core.ErrInvalidNonce)
	}

	challenge, err := eth.ParseChallenge(message)
	if err != nil {
		return nil, err
	}

	if challenge.Nonce != draft.Nonce {
		return nil, fmt.Errorf("%w: nonce does not match", core.ErrInvalidNonce)
	}
	if s.opts.Domain != "" && challenge.Domain != s.opts.Domain {
		return nil, fmt.Errorf("%w: unexpected domain %q", core.ErrMalformedChallenge, challenge.Domain)
	}
	if len(s.opts.ChainIDs) > 0 && !slices.Contains(s.opts.ChainIDs, challenge.ChainID) {
		return nil, fmt.Errorf("%w: %d", core.ErrChainMismatch, challenge.ChainID)
	}

	now := s.opts.Now()
	if !challenge.ExpirationTime.IsZero() && now.After(challenge.ExpirationTime) {
		return nil, core.ErrChallengeExpired
	}
	if !challenge.NotBefore.IsZero() && now.Before(challenge.NotBefore) {
		return nil, fmt.Errorf("%w: not valid before %s", core.ErrChallengeNotYetValid, challenge.NotBefore.Format(time.RFC3339))
	}

	sig, err := hexutil.Decode(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidSignature, err)
	}
	if !eth.VerifyPersonalSignature([]byte(message), sig, common.HexToAddress(challenge.Address)) {
		return nil, core.ErrInvalidSignature
	}

	// Consuming last lets concurrent replays race on the ledger, not on the cookie.
	if err := s.nonces.Consume(ctx, challenge.Nonce); err != nil {
		return nil, err
	}

	expiration := now.Add(s.opts.SessionTTL)
	if !challenge.ExpirationTime.IsZero() && challenge.ExpirationTime.Before(expiration) {
		expiration = challenge.ExpirationTime
	}

	return &core.Session{
		Address:        core.NormalizeAddress(challenge.Address),
		ChainID:        challenge.ChainID,
		Nonce:          challenge.Nonce,
		ExpirationTime: expiration.UTC().Truncate(time.Second),
	}, nil
}

// Session returns the authenticated session carried by the request
func (s *AuthService) Session(w http.ResponseWriter, r *http.Request) (*core.Session, error) {
	session, err := s.sessions.Load(w, r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrUnauthenticated, err)
	}
	if !session.Authenticated() {
		return nil, core.ErrUnauthenticated
	}
	return session, nil
}

// Logout destroys the session cookie. It never fails from the caller's point
// of view; publishing the logout event is best effort.
func (s *AuthService) Logout(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Load(w, r)
	s.sessions.Destroy(w)

	if err != nil || !session.Authenticated() {
		if err != nil && !errors.Is(err, core.ErrNoSession) {
			s.log.Debug("auth.logout_without_session", "error", err)
		}
		return
	}

	if err := s.eventPub.PublishLogout(ctx, session.Address, session.ChainID); err != nil {
		s.log.Warn("auth.logout_event_failed", "address", session.Address, "error", err)
	}
}
