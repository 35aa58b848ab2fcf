package core

import (
	"strings"
	"time"
)

// Challenge is a parsed sign-in message the wallet signed.
type Challenge struct {
	Domain         string    // Host requesting the signature
	Address        string    // Ethereum address of the signer, lowercase hex
	Statement      string    // Optional human readable statement
	URI            string    // Resource the session is scoped to
	Version        string    // Message format version
	ChainID        int64     // Network the signature is scoped to
	Nonce          string    // Nonce previously issued by the server
	IssuedAt       time.Time // When the wallet created the message
	ExpirationTime time.Time // Optional, when the message stops being valid
	NotBefore      time.Time // Optional, when the message becomes valid
}

// Session represents the identity carried in the session cookie.
type Session struct {
	Address        string    `json:"address,omitempty"`
	ChainID        int64     `json:"chainId,omitempty"`
	Nonce          string    `json:"nonce,omitempty"`
	ExpirationTime time.Time `json:"expirationTime"`
}

// Authenticated reports whether all identity fields are present.
// A draft session holding only a nonce is not authenticated.
func (s *Session) Authenticated() bool {
	if s == nil {
		return false
	}
	return s.Address != "" && s.ChainID != 0 && !s.ExpirationTime.IsZero()
}

// Expired reports whether now is past the session expiration time.
func (s *Session) Expired(now time.Time) bool {
	if s == nil || s.ExpirationTime.IsZero() {
		return false
	}
	return now.After(s.ExpirationTime)
}

// NormalizeAddress lowercases a hex address and trims surrounding space.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
