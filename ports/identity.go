package ports

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/layer-3/gatekeeper/core"
)

// SignerIdentity is the application key that co-signs relayed operations.
type SignerIdentity interface {
	Address() common.Address
	SignTypedData(data apitypes.TypedData) ([]byte, error)
}

// SubmitterIdentity pays fees and sends relayed transactions. Verification is
// performed through it because it owns the connection to the target network.
type SubmitterIdentity interface {
	Address() common.Address
	ChainID() int64
	VerifyTypedData(ctx context.Context, signer common.Address, data apitypes.TypedData, sig []byte) (bool, error)
	SubmitEdit(ctx context.Context, edit core.EditOperation, authorSig, appSig []byte) (common.Hash, error)
	Balance(ctx context.Context) (*big.Int, error)
}
