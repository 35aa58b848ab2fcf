package ports

import "github.com/layer-3/gatekeeper/core"

// Sealer converts between sessions and opaque tamper-evident tokens
type Sealer interface {
	Seal(session *core.Session) (string, error)
	Unseal(token string) (*core.Session, error)
}
