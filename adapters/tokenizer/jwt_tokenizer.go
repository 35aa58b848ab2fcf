package tokenizer

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/layer-3/gatekeeper/core"
	"github.com/layer-3/gatekeeper/ports"
	"golang.org/x/crypto/hkdf"
)

const AudienceSession = "session:cookie"

// MinSecretLength is the minimum length of the session secret in bytes.
const MinSecretLength = 32

// JWTSealer seals sessions as an HS256 JWT nested in a direct-key A256GCM JWE.
// The JWS makes the claims tamper-evident, the JWE keeps them private to the server.
type JWTSealer struct {
	signKey []byte
	encKey  []byte
	now     func() time.Time
}

// NewJWTSealer derives signing and encryption keys from secret
func NewJWTSealer(secret string) (ports.Sealer, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes", MinSecretLength)
	}

	signKey, err := deriveKey(secret, "gatekeeper session signing")
	if err != nil {
		return nil, err
	}
	encKey, err := deriveKey(secret, "gatekeeper session encryption")
	if err != nil {
		return nil, err
	}

	return &JWTSealer{signKey: signKey, encKey: encKey, now: time.Now}, nil
}

// Seal converts a Session to a sealed token
func (j *JWTSealer) Seal(session *core.Session) (string, error) {
	if session == nil {
		return "", errors.New("nil session")
	}

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  session.Address,
			ID:       uuid.New().String(),
			IssuedAt: jwt.NewNumericDate(j.now()),
			Audience: jwt.ClaimStrings{AudienceSession},
		},
		ChainID: session.ChainID,
		Nonce:   session.Nonce,
	}
	if !session.ExpirationTime.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(session.ExpirationTime)
		claims.ExpiresAtNano = session.ExpirationTime.UnixNano()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign session: %w", err)
	}

	encrypter, err := jose.NewEncrypter(
		jose.A256GCM,
		jose.Recipient{Algorithm: jose.DIRECT, Key: j.encKey},
		(&jose.EncrypterOptions{}).WithContentType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create encrypter: %w", err)
	}

	object, err := encrypter.Encrypt([]byte(signed))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt session: %w", err)
	}

	token, err := object.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize session: %w", err)
	}

	return token, nil
}

// Unseal converts a sealed token back to a Session. Expiry is not enforced
// here; callers compare the expiration time against their own clock.
func (j *JWTSealer) Unseal(tokenStr string) (*core.Session, error) {
	object, err := jose.ParseEncrypted(tokenStr, []jose.KeyAlgorithm{jose.DIRECT}, []jose.ContentEncryption{jose.A256GCM})
	if err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", core.ErrInvalidSession)
	}

	signed, err := object.Decrypt(j.encKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session: %w", core.ErrInvalidSession)
	}

	token, err := jwt.ParseWithClaims(string(signed), &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		return j.signKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("failed to verify session: %w", core.ErrInvalidSession)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type: %w", core.ErrInvalidSession)
	}
	if !slices.Contains(claims.Audience, AudienceSession) {
		return nil, fmt.Errorf("invalid audience: %w", core.ErrInvalidSession)
	}

	session := &core.Session{
		Address: claims.Subject,
		ChainID: claims.ChainID,
		Nonce:   claims.Nonce,
	}
	switch {
	case claims.ExpiresAtNano != 0:
		session.ExpirationTime = time.Unix(0, claims.ExpiresAtNano).UTC()
	case claims.ExpiresAt != nil:
		session.ExpirationTime = claims.ExpiresAt.Time.UTC()
	}

	return session, nil
}

func deriveKey(secret, info string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}
