package eth

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/gatekeeper/core"
	siwe "github.com/spruceid/siwe-go"
)

// ChallengeVersion is the only message version accepted.
const ChallengeVersion = "1"

// FormatChallenge renders c as an EIP-4361 sign-in message.
func FormatChallenge(c *core.Challenge) (string, error) {
	options := map[string]interface{}{
		"chainId":  int(c.ChainID),
		"issuedAt": c.IssuedAt.UTC().Format(time.RFC3339),
	}
	if c.Statement != "" {
		options["statement"] = c.Statement
	}
	if !c.ExpirationTime.IsZero() {
		options["expirationTime"] = c.ExpirationTime.UTC().Format(time.RFC3339)
	}
	if !c.NotBefore.IsZero() {
		options["notBefore"] = c.NotBefore.UTC().Format(time.RFC3339)
	}

	msg, err := siwe.InitMessage(c.Domain, common.HexToAddress(c.Address).Hex(), c.URI, c.Nonce, options)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrMalformedChallenge, err)
	}
	return msg.String(), nil
}

// ParseChallenge parses an EIP-4361 sign-in message. The returned address is lowercase.
// Time bounds are parsed but not enforced.
func ParseChallenge(message string) (*core.Challenge, error) {
	msg, err := siwe.ParseMessage(message)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedChallenge, err)
	}
	// The signed text must be exactly the rendered message, nothing more.
	if msg.String() != message {
		return nil, fmt.Errorf("%w: unexpected content", core.ErrMalformedChallenge)
	}
	if msg.GetVersion() != ChallengeVersion {
		return nil, fmt.Errorf("%w: unsupported version %q", core.ErrMalformedChallenge, msg.GetVersion())
	}
	if msg.GetChainID() <= 0 {
		return nil, fmt.Errorf("%w: invalid chain id %d", core.ErrMalformedChallenge, msg.GetChainID())
	}

	uri := msg.GetURI()
	c := &core.Challenge{
		Domain:  msg.GetDomain(),
		Address: core.NormalizeAddress(msg.GetAddress().Hex()),
		URI:     uri.String(),
		Version: msg.GetVersion(),
		ChainID: int64(msg.GetChainID()),
		Nonce:   msg.GetNonce(),
	}
	if statement := msg.GetStatement(); statement != nil {
		c.Statement = *statement
	}

	if c.IssuedAt, err = parseChallengeTime("issued at", msg.GetIssuedAt()); err != nil {
		return nil, err
	}
	if exp := msg.GetExpirationTime(); exp != nil {
		if c.ExpirationTime, err = parseChallengeTime("expiration time", *exp); err != nil {
			return nil, err
		}
	}
	if nbf := msg.GetNotBefore(); nbf != nil {
		if c.NotBefore, err = parseChallengeTime("not before", *nbf); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func parseChallengeTime(field, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid %s", core.ErrMalformedChallenge, field)
	}
	return t.UTC(), nil
}
