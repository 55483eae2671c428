// Package crypto implements wallet signature verification and at-rest hashing of secrets.
package crypto

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"

	"github.com/teatribe/tribes/internal/errs"
)

// Verifier checks wallet signatures over a fixed challenge injected at startup.
type Verifier struct {
	challenge string
}

// NewVerifier constructs a verifier for the given challenge string.
func NewVerifier(challenge string) *Verifier { return &Verifier{challenge: challenge} }

// Challenge returns the string clients must sign.
func (v *Verifier) Challenge() string { return v.challenge }

// Verify checks signature over the configured challenge against address.
func (v *Verifier) Verify(address, signature string) (bool, error) {
	return VerifySignature(v.challenge, address, signature)
}

// VerifySignature recovers the signer of Keccak256(challenge) and compares it with address.
// A malformed address yields errs.ErrInvalidAddress; a malformed signature is just a failed verification.
func VerifySignature(challenge, address, signature string) (bool, error) {
	if !IsAddressValid(address) {
		return false, errs.ErrInvalidAddress
	}
	sig := common.FromHex(signature)
	if len(sig) != ethcrypto.SignatureLength {
		return false, nil
	}
	sig = append([]byte(nil), sig...)
	// wallets emit V as 27/28
	if sig[ethcrypto.RecoveryIDOffset] >= 27 {
		sig[ethcrypto.RecoveryIDOffset] -= 27
	}
	pub, err := ethcrypto.SigToPub(keccak([]byte(challenge)), sig)
	if err != nil {
		return false, nil
	}
	return ethcrypto.PubkeyToAddress(*pub) == common.HexToAddress(address), nil
}

// IsAddressValid reports whether address is a 0x-prefixed, 20-byte, EIP-55 checksummed hex address.
func IsAddressValid(address string) bool {
	if len(address) != 2+2*common.AddressLength || !common.IsHexAddress(address) {
		return false
	}
	return common.HexToAddress(address).Hex() == address
}

// HashMessage returns the lowercase hex Keccak-256 digest of s.
func HashMessage(s string) string {
	return hex.EncodeToString(keccak([]byte(s)))
}

func keccak(b []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	return h.Sum(nil)
}

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// RandomTokenHex returns a hex-encoded random token of n bytes.
func RandomTokenHex(n int) (string, error) {
	b, err := RandBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
