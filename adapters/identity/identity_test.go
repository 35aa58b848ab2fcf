package identity

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func typedData() apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EditComment": {
				{Name: "commentId", Type: "bytes32"},
				{Name: "content", Type: "string"},
			},
		},
		PrimaryType: "EditComment",
		Domain: apitypes.TypedDataDomain{
			Name:    "Comments",
			Version: "1",
			ChainId: math.NewHexOrDecimal256(8453),
		},
		Message: apitypes.TypedDataMessage{
			"commentId": "0x0100000000000000000000000000000000000000000000000000000000000000",
			"content":   "hi",
		},
	}
}

type revertError struct{}

func (revertError) Error() string          { return "execution reverted" }
func (revertError) ErrorData() interface{} { return "0x" }

type stubCaller struct {
	code    []byte
	codeErr error
	out     []byte
	callErr error
	calls   int
}

func (s *stubCaller) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return s.code, s.codeErr
}

func (s *stubCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	s.calls++
	return s.out, s.callErr
}

func magicOutput(t *testing.T, magic [4]byte) []byte {
	t.Helper()
	out, err := erc1271.Methods["isValidSignature"].Outputs.Pack(magic)
	require.NoError(t, err)
	return out
}

func TestKeySigner(t *testing.T) {
	signer, err := NewKeySigner("0x" + testKey)
	require.NoError(t, err)

	key, err := crypto.HexToECDSA(testKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), signer.Address())

	sig, err := signer.SignTypedData(typedData())
	require.NoError(t, err)

	ok, err := VerifyTypedData(context.Background(), &stubCaller{}, signer.Address(), typedData(), sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewKeySignerErrors(t *testing.T) {
	_, err := NewKeySigner("")
	assert.ErrorIs(t, err, ErrNoSecret)

	_, err = NewKeySigner("0xnothex")
	assert.Error(t, err)
}

func TestVerifyTypedDataEOAMismatch(t *testing.T) {
	signer, err := NewKeySigner(testKey)
	require.NoError(t, err)
	sig, err := signer.SignTypedData(typedData())
	require.NoError(t, err)

	caller := &stubCaller{}
	ok, err := VerifyTypedData(context.Background(), caller, common.HexToAddress("0x01"), typedData(), sig)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, caller.calls, "no contract call for signers without code")
}

func TestVerifyTypedDataContractWallet(t *testing.T) {
	wallet := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	sig := hexutil.MustDecode("0x1234")

	valid := &stubCaller{code: []byte{0x60}, out: magicOutput(t, erc1271MagicValue)}
	ok, err := VerifyTypedData(context.Background(), valid, wallet, typedData(), sig)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, valid.calls)

	wrong := &stubCaller{code: []byte{0x60}, out: magicOutput(t, [4]byte{0xff, 0xff, 0xff, 0xff})}
	ok, err = VerifyTypedData(context.Background(), wrong, wallet, typedData(), sig)
	require.NoError(t, err)
	assert.False(t, ok)

	reverted := &stubCaller{code: []byte{0x60}, callErr: revertError{}}
	ok, err = VerifyTypedData(context.Background(), reverted, wallet, typedData(), sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyTypedDataRPCFailure(t *testing.T) {
	wallet := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	_, err := VerifyTypedData(context.Background(), &stubCaller{codeErr: errors.New("dial tcp: refused")}, wallet, typedData(), []byte{1})
	assert.Error(t, err)

	_, err = VerifyTypedData(context.Background(), &stubCaller{code: []byte{0x60}, callErr: errors.New("timeout")}, wallet, typedData(), []byte{1})
	assert.Error(t, err)
}
