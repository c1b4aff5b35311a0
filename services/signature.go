package services

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const challengeTemplate = "Sign this message to authenticate: "

// ChallengeMessage is the exact text a wallet signs for the given nonce.
// It depends on the nonce alone so verify can rebuild it from stored state.
func ChallengeMessage(nonce string) string {
	return challengeTemplate + nonce
}

// RecoverAddress returns the address whose key produced signature over
// message, using the personal_sign (EIP-191) prefix wallets apply.
func RecoverAddress(message, signature string) (string, error) {
	if !strings.HasPrefix(signature, "0x") && !strings.HasPrefix(signature, "0X") {
		signature = "0x" + signature
	}
	sig, err := hexutil.Decode(strings.ToLower(signature))
	if err != nil || len(sig) != crypto.SignatureLength {
		return "", ErrMalformedSignature
	}

	// Wallets emit V as 27/28; the recovery routine expects 0/1.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return "", ErrMalformedSignature
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return "", ErrMalformedSignature
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// ValidAddress reports whether addr is a 0x-prefixed 20-byte hex address.
func ValidAddress(addr string) bool {
	return strings.HasPrefix(addr, "0x") && common.IsHexAddress(addr)
}

// NormalizeAddress returns the lowercase form used for storage and lookups.
func NormalizeAddress(addr string) string {
	return strings.ToLower(common.HexToAddress(addr).Hex())
}

// SameAddress compares hex addresses; case carries no meaning here.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
