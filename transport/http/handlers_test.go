package http

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/gatekeeper/adapters/cookie"
	"github.com/layer-3/gatekeeper/adapters/events"
	"github.com/layer-3/gatekeeper/adapters/store"
	"github.com/layer-3/gatekeeper/adapters/tokenizer"
	"github.com/layer-3/gatekeeper/core"
	"github.com/layer-3/gatekeeper/internal/eth"
	"github.com/layer-3/gatekeeper/ports"
	"github.com/layer-3/gatekeeper/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type keySigner struct{ key *ecdsa.PrivateKey }

func (s *keySigner) Address() common.Address { return crypto.PubkeyToAddress(s.key.PublicKey) }

func (s *keySigner) SignTypedData(data apitypes.TypedData) ([]byte, error) {
	return eth.SignTypedData(s.key, data)
}

type countingSubmitter struct {
	submitErr error
	submitted int
}

func (s *countingSubmitter) Address() common.Address {
	return common.HexToAddress("0x00000000000000000000000000000000000000aa")
}

func (s *countingSubmitter) ChainID() int64 { return 84532 }

func (s *countingSubmitter) VerifyTypedData(_ context.Context, signer common.Address, data apitypes.TypedData, sig []byte) (bool, error) {
	return eth.VerifyTypedDataSignature(data, sig, signer), nil
}

func (s *countingSubmitter) SubmitEdit(context.Context, core.EditOperation, []byte, []byte) (common.Hash, error) {
	s.submitted++
	if s.submitErr != nil {
		return common.Hash{}, s.submitErr
	}
	return common.HexToHash("0x1234"), nil
}

func (s *countingSubmitter) Balance(context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000_000_000_000), nil
}

// browser replays cookies between requests like a user agent would.
type browser struct {
	t       *testing.T
	engine  *gin.Engine
	cookies map[string]*http.Cookie
	headers map[string]string
}

func (b *browser) do(method, target string, body any) *httptest.ResponseRecorder {
	b.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, ok := body.(string)
		if !ok {
			encoded, err := json.Marshal(body)
			require.NoError(b.t, err)
			raw = string(encoded)
		}
		reader = strings.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range b.headers {
		req.Header.Set(k, v)
	}
	for _, c := range b.cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	b.engine.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
		} else {
			b.cookies[c.Name] = c
		}
	}
	return rec
}

type server struct {
	engine    *gin.Engine
	key       *ecdsa.PrivateKey
	signer    *keySigner
	submitter *countingSubmitter
	metrics   *Metrics
}

func newServer(t *testing.T, withSigner bool, upstream *url.URL) *server {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signerKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	s := &server{
		key:       key,
		signer:    &keySigner{key: signerKey},
		submitter: &countingSubmitter{},
		metrics:   NewMetrics(prometheus.NewRegistry()),
	}

	sealer, err := tokenizer.NewJWTSealer("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	sessions := cookie.NewStore(sealer, cookie.Options{}, discardLog)

	authService := service.NewAuthService(sessions, store.NewMemoryStore(), events.Discard{}, discardLog, service.AuthOptions{
		Domain:   "app.example.com",
		ChainIDs: []int64{84532},
	})

	var signer ports.SignerIdentity
	var submitter ports.SubmitterIdentity
	if withSigner {
		signer, submitter = s.signer, s.submitter
	}
	relayService := service.NewRelayService(signer, submitter, events.Discard{}, discardLog)

	s.engine = SetupRouter(authService, relayService, sessions, s.metrics, discardLog, RouterConfig{
		Gate:     GateConfig{Prefixes: []string{"/bookmarks"}, LoginPath: "/login"},
		Locale:   LocaleConfig{Prefix: "/docs", Locales: []string{"en", "es"}},
		Upstream: upstream,
	})
	return s
}

func (s *server) browser(t *testing.T) *browser {
	return &browser{t: t, engine: s.engine, cookies: map[string]*http.Cookie{}, headers: map[string]string{}}
}

// signIn runs the nonce and verify round trip.
func (s *server) signIn(t *testing.T, b *browser) {
	t.Helper()

	rec := b.do(http.MethodGet, "/auth/nonce", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var nonceResp struct {
		Nonce string `json:"nonce"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nonceResp))

	now := time.Now().UTC().Truncate(time.Second)
	msg, err := eth.FormatChallenge(&core.Challenge{
		Domain:         "app.example.com",
		Address:        crypto.PubkeyToAddress(s.key.PublicKey).Hex(),
		URI:            "https://app.example.com",
		Version:        eth.ChallengeVersion,
		ChainID:        84532,
		Nonce:          nonceResp.Nonce,
		IssuedAt:       now,
		ExpirationTime: now.Add(time.Hour),
	})
	require.NoError(t, err)
	sig, err := eth.SignPersonal(s.key, []byte(msg))
	require.NoError(t, err)

	rec = b.do(http.MethodPost, "/auth/verify", map[string]string{
		"message":   msg,
		"signature": hexutil.Encode(sig),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (s *server) relayRequest(t *testing.T) core.RelayRequest {
	t.Helper()

	data := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"EditComment": {
				{Name: "commentId", Type: "bytes32"},
				{Name: "content", Type: "string"},
			},
		},
		PrimaryType: "EditComment",
		Domain: apitypes.TypedDataDomain{
			Name:    "Comments",
			ChainId: math.NewHexOrDecimal256(84532),
		},
		Message: apitypes.TypedDataMessage{
			"commentId": "0x0000000000000000000000000000000000000000000000000000000000000001",
			"content":   "edited",
		},
	}
	appSig, err := s.signer.SignTypedData(data)
	require.NoError(t, err)

	return core.RelayRequest{
		SignTypedDataParams: data,
		AppSignature:        appSig,
		AuthorSignature:     hexutil.Bytes{0x01, 0x02},
		Edit: core.EditOperation{
			CommentID: common.HexToHash("0x01"),
			Content:   "edited",
			App:       s.signer.Address(),
			Nonce:     math.NewHexOrDecimal256(0),
			Deadline:  math.NewHexOrDecimal256(1_900_000_000),
		},
		ChainID: 84532,
	}
}

func TestAuthFlow(t *testing.T) {
	s := newServer(t, true, nil)
	b := s.browser(t)

	rec := b.do(http.MethodGet, "/auth/session", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	s.signIn(t, b)

	b.headers["X-Wallet-Connector"] = "io.rabby"
	rec = b.do(http.MethodGet, "/auth/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var session map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Equal(t, strings.ToLower(crypto.PubkeyToAddress(s.key.PublicKey).Hex()), session["address"])
	assert.Equal(t, float64(84532), session["chainId"])
	assert.Equal(t, "rabby", session["connector"])

	rec = b.do(http.MethodGet, "/bookmarks/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "gate passes, no upstream configured")

	rec = b.do(http.MethodPost, "/auth/logout", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = b.do(http.MethodGet, "/auth/session", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = b.do(http.MethodGet, "/bookmarks/1", nil)
	assert.Equal(t, http.StatusFound, rec.Code)

	assert.Contains(t, scrape(t, s.metrics), `gatekeeper_auth_logins_total{result="success"} 1`)
}

func TestVerifyRejections(t *testing.T) {
	s := newServer(t, true, nil)
	b := s.browser(t)

	rec := b.do(http.MethodPost, "/auth/verify", map[string]string{"message": "hello"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"signature":["Required"]}`, rec.Body.String())

	rec = b.do(http.MethodPost, "/auth/verify", map[string]string{"message": "hello", "signature": "0x00"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "no pending nonce")

	b.do(http.MethodGet, "/auth/nonce", nil)
	rec = b.do(http.MethodPost, "/auth/verify", map[string]string{"message": "hello", "signature": "0x00"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"message":["Malformed sign-in message"]}`, rec.Body.String())
	assert.Empty(t, b.cookies, "draft destroyed on failure")

	rec = b.do(http.MethodPost, "/auth/verify", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"body":["Malformed JSON"]}`, rec.Body.String())
}

func TestRelayEdit(t *testing.T) {
	s := newServer(t, true, nil)
	b := s.browser(t)

	// Unauthenticated callers never reach signature checks.
	rec := b.do(http.MethodPost, "/relay/edit", s.relayRequest(t))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Unauthenticated"}`, rec.Body.String())

	s.signIn(t, b)

	rec = b.do(http.MethodPost, "/relay/edit", s.relayRequest(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"txHash":"`+common.HexToHash("0x1234").Hex()+`"}`, rec.Body.String())
	assert.Equal(t, 1, s.submitter.submitted)

	tampered := s.relayRequest(t)
	tampered.AppSignature[3] ^= 0x80
	rec = b.do(http.MethodPost, "/relay/edit", tampered)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"signature":["Invalid app signature"]}`, rec.Body.String())
	assert.Equal(t, 1, s.submitter.submitted)

	incomplete := s.relayRequest(t)
	incomplete.AuthorSignature = nil
	incomplete.Edit.Deadline = nil
	rec = b.do(http.MethodPost, "/relay/edit", incomplete)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"authorSignature":["Required"],"edit.deadline":["Required"]}`, rec.Body.String())

	rec = b.do(http.MethodPost, "/relay/edit", `{"appSignature": 5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"appSignature"`)

	s.submitter.submitErr = errors.New("nonce too low")
	rec = b.do(http.MethodPost, "/relay/edit", s.relayRequest(t))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to relay transaction"}`, rec.Body.String())
	assert.Equal(t, 2, s.submitter.submitted)

	exposition := scrape(t, s.metrics)
	assert.Contains(t, exposition, `gatekeeper_relay_results_total{result="submitted"} 1`)
	assert.Contains(t, exposition, `gatekeeper_relay_results_total{result="invalid_signature"} 1`)
}

func TestRelayEditRequiresJSON(t *testing.T) {
	s := newServer(t, true, nil)
	b := s.browser(t)
	s.signIn(t, b)

	req := httptest.NewRequest(http.MethodPost, "/relay/edit", strings.NewReader("commentId=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestRelayUnavailable(t *testing.T) {
	s := newServer(t, false, nil)
	b := s.browser(t)
	s.signIn(t, b)

	// Even a malformed body reports the missing configuration first.
	rec := b.do(http.MethodPost, "/relay/edit", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Gasless not available"}`, rec.Body.String())

	rec = b.do(http.MethodPost, "/relay/authorize", map[string]any{"signTypedDataParams": s.relayRequest(t).SignTypedDataParams})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = b.do(http.MethodGet, "/relay/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"available":false}`, rec.Body.String())
}

func TestRelayAuthorizeAndStatus(t *testing.T) {
	s := newServer(t, true, nil)
	b := s.browser(t)
	s.signIn(t, b)

	data := s.relayRequest(t).SignTypedDataParams
	rec := b.do(http.MethodPost, "/relay/authorize", map[string]any{"signTypedDataParams": data})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		AppSignature hexutil.Bytes `json:"appSignature"`
		Signer       string        `json:"signer"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, s.signer.Address().Hex(), resp.Signer)
	assert.True(t, eth.VerifyTypedDataSignature(data, resp.AppSignature, s.signer.Address()))

	rec = b.do(http.MethodGet, "/relay/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status core.RelayStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Available)
	assert.Equal(t, "2", status.SubmitterBalance)
}

func TestPagesProxiedAfterGate(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "page "+r.URL.Path)
	}))
	defer upstream.Close()
	target, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	s := newServer(t, true, target)
	b := s.browser(t)

	rec := b.do(http.MethodGet, "/about", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "page /about", rec.Body.String())

	rec = b.do(http.MethodGet, "/bookmarks", nil)
	assert.Equal(t, http.StatusFound, rec.Code)

	rec = b.do(http.MethodGet, "/docs/guide", nil)
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/docs/en/guide", rec.Header().Get("Location"))

	s.signIn(t, b)
	rec = b.do(http.MethodGet, "/bookmarks", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "page /bookmarks", rec.Body.String())

	rec = b.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
