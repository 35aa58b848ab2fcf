package tokenizer

import "github.com/golang-jwt/jwt/v5"

// SessionClaims combines standard claims with session-specific ones.
// The subject is the lowercase wallet address and the expiry is the session expiration time.
// ExpiresAtNano repeats the expiry at full precision since NumericDate keeps whole seconds.
type SessionClaims struct {
	jwt.RegisteredClaims
	ChainID       int64  `json:"chain_id,omitempty"`
	Nonce         string `json:"nonce,omitempty"`
	ExpiresAtNano int64  `json:"exp_ns,omitempty"`
}
