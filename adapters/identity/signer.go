package identity

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/layer-3/gatekeeper/internal/eth"
)

// ErrNoSecret is returned when an identity is requested without a configured key.
var ErrNoSecret = errors.New("identity secret not configured")

// KeySigner is the application signing identity backed by a local private key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner derives the signer identity from a hex-encoded private key.
func NewKeySigner(secret string) (*KeySigner, error) {
	key, err := parseKey(secret)
	if err != nil {
		return nil, err
	}
	return &KeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *KeySigner) Address() common.Address { return s.address }

// SignTypedData returns an EIP-712 signature over data.
func (s *KeySigner) SignTypedData(data apitypes.TypedData) ([]byte, error) {
	return eth.SignTypedData(s.key, data)
}

func parseKey(secret string) (*ecdsa.PrivateKey, error) {
	secret = strings.TrimPrefix(strings.TrimSpace(secret), "0x")
	if secret == "" {
		return nil, ErrNoSecret
	}
	key, err := crypto.HexToECDSA(secret)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}
