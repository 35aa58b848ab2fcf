package ports

import (
	"context"
	"net/http"
	"time"

	"github.com/layer-3/gatekeeper/core"
)

// NonceStore is the single-use ledger of issued sign-in nonces
type NonceStore interface {
	Put(ctx context.Context, nonce string, ttl time.Duration) error
	// Consume removes the nonce, failing with core.ErrInvalidNonce if it was never issued,
	// has expired or was already used.
	Consume(ctx context.Context, nonce string) error
}

// SessionStore reads and writes the sealed session against the HTTP transport.
// Load never returns a session together with an error; every error means "absent".
type SessionStore interface {
	Load(w http.ResponseWriter, r *http.Request) (*core.Session, error)
	Save(w http.ResponseWriter, session *core.Session) error
	Destroy(w http.ResponseWriter)
}
