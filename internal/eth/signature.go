// Package eth holds the Ethereum signature primitives used to authenticate wallets
// and to check application co-signatures on relayed operations.
package eth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var errSignatureLength = errors.New("signature must be 65 bytes")

// VerifyPersonalSignature reports whether sig is an EIP-191 personal_sign
// signature of message produced by addr.
func VerifyPersonalSignature(message, sig []byte, addr common.Address) bool {
	signer, err := recoverAddress(accounts.TextHash(message), sig)
	if err != nil {
		return false
	}
	return signer == addr
}

// VerifyTypedDataSignature reports whether sig is an EIP-712 signature of data produced by addr.
func VerifyTypedDataSignature(data apitypes.TypedData, sig []byte, addr common.Address) bool {
	signer, err := RecoverTypedDataSigner(data, sig)
	if err != nil {
		return false
	}
	return signer == addr
}

// RecoverTypedDataSigner returns the address that produced sig over data.
func RecoverTypedDataSigner(data apitypes.TypedData, sig []byte) (common.Address, error) {
	hash, err := TypedDataHash(data)
	if err != nil {
		return common.Address{}, err
	}
	return recoverAddress(hash, sig)
}

// TypedDataHash computes the EIP-712 digest of data. Malformed payloads
// return an error rather than panicking inside the encoder.
func TypedDataHash(data apitypes.TypedData) (hash []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			hash, err = nil, fmt.Errorf("encode typed data: %v", r)
		}
	}()

	hash, _, err = apitypes.TypedDataAndHash(NormalizeTypedData(data))
	if err != nil {
		return nil, fmt.Errorf("encode typed data: %w", err)
	}
	return hash, nil
}

// NormalizeTypedData returns a copy of data whose type set includes EIP712Domain.
// Wallet libraries usually derive the domain type from the populated domain
// fields and leave it out of the payload they send.
func NormalizeTypedData(data apitypes.TypedData) apitypes.TypedData {
	if _, ok := data.Types["EIP712Domain"]; ok {
		return data
	}

	types := make(apitypes.Types, len(data.Types)+1)
	for name, fields := range data.Types {
		types[name] = fields
	}

	var domain []apitypes.Type
	if data.Domain.Name != "" {
		domain = append(domain, apitypes.Type{Name: "name", Type: "string"})
	}
	if data.Domain.Version != "" {
		domain = append(domain, apitypes.Type{Name: "version", Type: "string"})
	}
	if data.Domain.ChainId != nil {
		domain = append(domain, apitypes.Type{Name: "chainId", Type: "uint256"})
	}
	if data.Domain.VerifyingContract != "" {
		domain = append(domain, apitypes.Type{Name: "verifyingContract", Type: "address"})
	}
	if data.Domain.Salt != "" {
		domain = append(domain, apitypes.Type{Name: "salt", Type: "bytes32"})
	}
	types["EIP712Domain"] = domain

	data.Types = types
	return data
}

// SignTypedData signs the EIP-712 digest of data with key. V is returned as 27/28.
func SignTypedData(key *ecdsa.PrivateKey, data apitypes.TypedData) ([]byte, error) {
	hash, err := TypedDataHash(data)
	if err != nil {
		return nil, err
	}
	return sign(key, hash)
}

// SignPersonal signs message with the EIP-191 personal_sign prefix.
func SignPersonal(key *ecdsa.PrivateKey, message []byte) ([]byte, error) {
	return sign(key, accounts.TextHash(message))
}

func sign(key *ecdsa.PrivateKey, hash []byte) ([]byte, error) {
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func recoverAddress(hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errSignatureLength
	}

	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	if normalized[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("invalid recovery id %d", sig[crypto.RecoveryIDOffset])
	}

	pub, err := crypto.SigToPub(hash, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
