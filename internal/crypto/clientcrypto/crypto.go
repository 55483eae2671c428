// Package clientcrypto contains the client-side primitives of end-to-end encrypted
// tribe messages: content keys, body sealing, per-recipient key wrapping and the
// passphrase-protected wallet keystore.
package clientcrypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/ecies"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Params
const (
	ContentKeyLen = 32
	KEKLen        = 32
	SaltLen       = 16

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
)

func Rand(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// NewContentKey returns a fresh symmetric key for one message.
func NewContentKey() ([]byte, error) { return Rand(ContentKeyLen) }

// deriveKey derives a purpose-bound subkey ("body", "caption") from the content key.
func deriveKey(contentKey []byte, purpose string) ([]byte, error) {
	r := hkdf.New(sha256.New, contentKey, nil, []byte(purpose))
	key := make([]byte, chacha20poly1305.KeySize)
	_, err := io.ReadFull(r, key)
	return key, err
}

// Seal encrypts plaintext for purpose with AAD = tribeID, prefixing a random nonce.
func Seal(contentKey []byte, purpose, tribeID string, plaintext []byte) ([]byte, error) {
	key, err := deriveKey(contentKey, purpose)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce, err := Rand(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, []byte(tribeID)), nil
}

// Open reverses Seal.
func Open(contentKey []byte, purpose, tribeID string, blob []byte) ([]byte, error) {
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("blob too short")
	}
	key, err := deriveKey(contentKey, purpose)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce, ct := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ct, []byte(tribeID))
}

// PublicKeyHex renders the uncompressed secp256k1 public key the way accounts publish it.
func PublicKeyHex(priv *ecdsa.PrivateKey) string {
	return hex.EncodeToString(ethcrypto.FromECDSAPub(&priv.PublicKey))
}

// WrapKey encrypts contentKey to the member owning publicKeyHex (ECIES over secp256k1).
func WrapKey(publicKeyHex string, contentKey []byte) (string, error) {
	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return "", errors.New("bad public key encoding")
	}
	pub, err := ethcrypto.UnmarshalPubkey(raw)
	if err != nil {
		return "", err
	}
	ct, err := ecies.Encrypt(rand.Reader, ecies.ImportECDSAPublic(pub), contentKey, nil, nil)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(ct), nil
}

// UnwrapKey decrypts a key produced by WrapKey.
func UnwrapKey(priv *ecdsa.PrivateKey, wrapped string) ([]byte, error) {
	ct, err := hex.DecodeString(wrapped)
	if err != nil {
		return nil, errors.New("bad wrapped key encoding")
	}
	return ecies.ImportECDSA(priv).Decrypt(ct, nil, nil)
}

// DeriveKEK derives a KEK from passphrase and salt using Argon2id.
func DeriveKEK(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, KEKLen)
}

// Keystore is a wallet private key sealed under a passphrase.
type Keystore struct {
	Address string `json:"address"`
	Salt    []byte `json:"salt"`
	Wrapped []byte `json:"wrapped"`
}

// SealKeystore encrypts priv with a KEK derived from passphrase.
func SealKeystore(passphrase []byte, priv *ecdsa.PrivateKey) (*Keystore, error) {
	salt, err := Rand(SaltLen)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(DeriveKEK(passphrase, salt))
	if err != nil {
		return nil, err
	}
	nonce, err := Rand(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	addr := ethcrypto.PubkeyToAddress(priv.PublicKey).Hex()
	wrapped := aead.Seal(append([]byte(nil), nonce...), nonce, ethcrypto.FromECDSA(priv), []byte(addr))
	return &Keystore{Address: addr, Salt: salt, Wrapped: wrapped}, nil
}

// OpenKeystore decrypts ks. A wrong passphrase fails authentication.
func OpenKeystore(passphrase []byte, ks *Keystore) (*ecdsa.PrivateKey, error) {
	if len(ks.Wrapped) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("keystore too short")
	}
	aead, err := chacha20poly1305.NewX(DeriveKEK(passphrase, ks.Salt))
	if err != nil {
		return nil, err
	}
	nonce, ct := ks.Wrapped[:chacha20poly1305.NonceSizeX], ks.Wrapped[chacha20poly1305.NonceSizeX:]
	raw, err := aead.Open(nil, nonce, ct, []byte(ks.Address))
	if err != nil {
		return nil, errors.New("wrong passphrase or corrupted keystore")
	}
	return ethcrypto.ToECDSA(raw)
}

// SignChallenge signs the Keccak-256 digest of challenge with the 27/28 recovery id
// wallets emit.
func SignChallenge(priv *ecdsa.PrivateKey, challenge string) (string, error) {
	sig, err := ethcrypto.Sign(ethcrypto.Keccak256([]byte(challenge)), priv)
	if err != nil {
		return "", err
	}
	sig[ethcrypto.RecoveryIDOffset] += 27
	return "0x" + hex.EncodeToString(sig), nil
}
