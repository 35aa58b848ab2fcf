// Package connector guesses which wallet software originated a request.
// The result is a display hint only; it takes nothing but request headers.
package connector

import (
	"net/http"
	"strings"
)

// Label names a wallet connector
type Label string

const (
	Unknown       Label = "unknown"
	Coinbase      Label = "coinbase"
	Rainbow       Label = "rainbow"
	Trust         Label = "trust"
	Rabby         Label = "rabby"
	MetaMask      Label = "metamask"
	WalletConnect Label = "walletconnect"
	Farcaster     Label = "farcaster"
)

// Header carries an explicit connector id set by the client
const Header = "X-Wallet-Connector"

type rule struct {
	label   Label
	needles []string
}

// rules are checked in order; the first match wins.
var rules = []rule{
	{Coinbase, []string{"coinbase", "cbwallet"}},
	{Rainbow, []string{"rainbow"}},
	{Trust, []string{"trust/", "trustwallet"}},
	{Rabby, []string{"rabby"}},
	{MetaMask, []string{"metamask"}},
	{WalletConnect, []string{"walletconnect", "reown"}},
	{Farcaster, []string{"warpcast", "farcaster"}},
}

// Detect returns the best-effort connector label for the request headers.
func Detect(h http.Header) Label {
	if explicit := normalize(h.Get(Header)); explicit != Unknown {
		return explicit
	}

	for _, source := range []string{h.Get("User-Agent"), h.Get("Referer")} {
		if label := match(strings.ToLower(source)); label != Unknown {
			return label
		}
	}

	return Unknown
}

func normalize(id string) Label {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return Unknown
	}
	// Connector ids are often reverse-dns ("io.metamask") or suffixed ("coinbaseWalletSDK").
	return match(id)
}

func match(s string) Label {
	if s == "" {
		return Unknown
	}
	for _, r := range rules {
		for _, needle := range r.needles {
			if strings.Contains(s, needle) {
				return r.label
			}
		}
	}
	return Unknown
}
