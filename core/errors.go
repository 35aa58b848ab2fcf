package core

import "errors"

var (
	ErrNoSession            = errors.New("no session")
	ErrSessionExpired       = errors.New("session has expired")
	ErrInvalidSession       = errors.New("invalid session token")
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrInvalidNonce         = errors.New("invalid nonce")
	ErrMalformedChallenge   = errors.New("malformed challenge message")
	ErrChallengeExpired     = errors.New("challenge message has expired")
	ErrChallengeNotYetValid = errors.New("challenge message is not yet valid")
	ErrChainMismatch        = errors.New("chain id not supported")

	// ErrRelayUnavailable means no application signer is configured.
	ErrRelayUnavailable    = errors.New("gasless not available")
	ErrInvalidAppSignature = errors.New("invalid app signature")
	ErrSubmissionFailed    = errors.New("relay submission failed")
)
