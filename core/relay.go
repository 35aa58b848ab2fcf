package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EditOperation is the protocol payload of an edit relayed on behalf of an author.
type EditOperation struct {
	CommentID common.Hash           `json:"commentId"`
	Content   string                `json:"content"`
	Metadata  string                `json:"metadata"`
	App       common.Address        `json:"app"`
	Nonce     *math.HexOrDecimal256 `json:"nonce"`
	Deadline  *math.HexOrDecimal256 `json:"deadline"`
}

// RelayRequest is a gasless edit co-signed by the application and the author.
type RelayRequest struct {
	SignTypedDataParams apitypes.TypedData `json:"signTypedDataParams"`
	AppSignature        hexutil.Bytes      `json:"appSignature"`
	AuthorSignature     hexutil.Bytes      `json:"authorSignature"`
	Edit                EditOperation      `json:"edit"`
	ChainID             int64              `json:"chainId"`
}

// RelayStatus describes whether gasless relaying can be offered.
type RelayStatus struct {
	Available        bool   `json:"available"`
	ChainID          int64  `json:"chainId,omitempty"`
	Signer           string `json:"signer,omitempty"`
	Submitter        string `json:"submitter,omitempty"`
	SubmitterBalance string `json:"submitterBalance,omitempty"`
}
