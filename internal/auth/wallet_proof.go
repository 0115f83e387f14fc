package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrSignatureMismatch  = errors.New("signature does not match address")
	ErrMalformedSignature = errors.New("malformed signature")
)

// SignInMessage is the text a wallet signs with personal_sign to log in.
// Both sides must build it byte for byte the same way.
func SignInMessage(domain string, address common.Address, chainID int64, nonce string, issuedAt time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s wants you to sign in with your Ethereum account:\n", domain)
	b.WriteString(address.Hex())
	b.WriteString("\n\nSign in to the real estate escrow.\n\n")
	fmt.Fprintf(&b, "Chain ID: %d\n", chainID)
	fmt.Fprintf(&b, "Nonce: %s\n", nonce)
	fmt.Fprintf(&b, "Issued At: %s", issuedAt.UTC().Format(time.RFC3339))
	return b.String()
}

// VerifySignature checks an EIP-191 personal_sign signature over message and
// reports whether it was produced by expected. Wallets emit V as 27/28,
// go-ethereum expects 0/1; both are accepted.
func VerifySignature(message, signatureHex string, expected common.Address) error {
	sig, err := hexutil.Decode(signatureHex)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("%w: length %d", ErrMalformedSignature, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if recovered := crypto.PubkeyToAddress(*pub); recovered != expected {
		return fmt.Errorf("%w: recovered %s", ErrSignatureMismatch, recovered.Hex())
	}
	return nil
}
