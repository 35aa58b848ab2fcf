package identity

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/layer-3/gatekeeper/core"
	"github.com/layer-3/gatekeeper/internal/eth"
)

const commentManagerABI = `[{
  "type": "function",
  "name": "editComment",
  "stateMutability": "payable",
  "inputs": [
    {"name": "edit", "type": "tuple", "components": [
      {"name": "commentId", "type": "bytes32"},
      {"name": "content", "type": "string"},
      {"name": "metadata", "type": "string"},
      {"name": "app", "type": "address"},
      {"name": "nonce", "type": "uint256"},
      {"name": "deadline", "type": "uint256"}
    ]},
    {"name": "authorSignature", "type": "bytes"},
    {"name": "appSignature", "type": "bytes"}
  ],
  "outputs": []
}]`

const erc1271ABI = `[{
  "type": "function",
  "name": "isValidSignature",
  "stateMutability": "view",
  "inputs": [
    {"name": "hash", "type": "bytes32"},
    {"name": "signature", "type": "bytes"}
  ],
  "outputs": [{"name": "magicValue", "type": "bytes4"}]
}]`

// erc1271MagicValue is returned by contract wallets for a valid signature.
var erc1271MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

var (
	commentManager = mustParseABI(commentManagerABI)
	erc1271        = mustParseABI(erc1271ABI)
)

// Backend is the chain connection of the submitter. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// editComment mirrors the comment manager's edit tuple for ABI packing.
type editComment struct {
	CommentId [32]byte
	Content   string
	Metadata  string
	App       common.Address
	Nonce     *big.Int
	Deadline  *big.Int
}

// ChainSubmitter pays fees for and sends relayed transactions.
type ChainSubmitter struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	chainID  *big.Int
	backend  Backend
	contract *bind.BoundContract
}

// NewChainSubmitter derives the submitter identity from a hex-encoded private key.
func NewChainSubmitter(secret string, chainID int64, manager common.Address, backend Backend) (*ChainSubmitter, error) {
	key, err := parseKey(secret)
	if err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, errors.New("chain backend is required")
	}

	return &ChainSubmitter{
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		chainID:  big.NewInt(chainID),
		backend:  backend,
		contract: bind.NewBoundContract(manager, commentManager, backend, backend, backend),
	}, nil
}

func (s *ChainSubmitter) Address() common.Address { return s.address }

func (s *ChainSubmitter) ChainID() int64 { return s.chainID.Int64() }

// VerifyTypedData checks sig against signer using this submitter's view of the chain.
func (s *ChainSubmitter) VerifyTypedData(ctx context.Context, signer common.Address, data apitypes.TypedData, sig []byte) (bool, error) {
	return VerifyTypedData(ctx, s.backend, signer, data, sig)
}

// SubmitEdit sends the edit transaction with the submitter as sender. It never retries.
func (s *ChainSubmitter) SubmitEdit(ctx context.Context, edit core.EditOperation, authorSig, appSig []byte) (common.Hash, error) {
	if edit.Nonce == nil || edit.Deadline == nil {
		return common.Hash{}, errors.New("edit nonce and deadline are required")
	}

	opts, err := bind.NewKeyedTransactorWithChainID(s.key, s.chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to create transactor: %w", err)
	}
	opts.Context = ctx

	tx, err := s.contract.Transact(opts, "editComment", editComment{
		CommentId: edit.CommentID,
		Content:   edit.Content,
		Metadata:  edit.Metadata,
		App:       edit.App,
		Nonce:     (*big.Int)(edit.Nonce),
		Deadline:  (*big.Int)(edit.Deadline),
	}, authorSig, appSig)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to send edit transaction: %w", err)
	}

	return tx.Hash(), nil
}

// Balance returns the submitter's balance in wei.
func (s *ChainSubmitter) Balance(ctx context.Context) (*big.Int, error) {
	return s.backend.BalanceAt(ctx, s.address, nil)
}

// VerifyTypedData accepts plain ECDSA signatures from signer and, when signer is
// a contract, signatures its ERC-1271 isValidSignature accepts.
func VerifyTypedData(ctx context.Context, caller bind.ContractCaller, signer common.Address, data apitypes.TypedData, sig []byte) (bool, error) {
	if eth.VerifyTypedDataSignature(data, sig, signer) {
		return true, nil
	}

	hash, err := eth.TypedDataHash(data)
	if err != nil {
		return false, nil
	}

	code, err := caller.CodeAt(ctx, signer, nil)
	if err != nil {
		return false, fmt.Errorf("failed to read signer code: %w", err)
	}
	if len(code) == 0 {
		return false, nil
	}

	input, err := erc1271.Pack("isValidSignature", common.BytesToHash(hash), sig)
	if err != nil {
		return false, nil
	}

	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &signer, Data: input}, nil)
	if err != nil {
		var reverted rpc.DataError
		if errors.As(err, &reverted) {
			return false, nil
		}
		return false, fmt.Errorf("failed to call isValidSignature: %w", err)
	}

	values, err := erc1271.Unpack("isValidSignature", out)
	if err != nil || len(values) != 1 {
		return false, nil
	}
	magic, ok := values[0].([4]byte)
	return ok && magic == erc1271MagicValue, nil
}

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return parsed
}
