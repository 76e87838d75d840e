// Package crypto defines the abstract cryptographic primitives a Telehash
// node needs and a default implementation backed by the Go standard
// library. The interface exists so the open-packet and line layers never
// construct a cipher or call into crypto/rsa directly — it is the seam
// through which a deterministic provider (fixed nonces, fixed EC keys) can
// be substituted.
//
// Grounded on the shape of the teacher's p2p/handshake_ecies.go (ephemeral
// key generation, ECDH, derived secrets) and pkg/crypto/ecies.go (AES-CTR +
// digest helpers), re-targeted at the RSA/P-256 primitives spec.md §6
// mandates for wire compatibility.
package crypto

import (
	stdcrypto "crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
)

// RSAKeyBits is the minimum RSA modulus size spec.md §6 requires.
const RSAKeyBits = 2048

// ErrInvalidECPublicKey is returned when decoding an X9.63 point fails.
var ErrInvalidECPublicKey = errors.New("crypto: invalid EC public key encoding")

// Provider is the abstract set of cryptographic operations the Telehash
// core depends on. Other packages import crypto/rsa and crypto/ecdsa only
// for their key types; the one direct cipher use outside this package is
// identity.FileStore's key-at-rest encryption, which calls crypto/aes.
type Provider interface {
	// GenerateRSAKey returns a fresh RSA keypair of at least RSAKeyBits.
	GenerateRSAKey() (*rsa.PrivateKey, error)

	// RSAEncryptOAEP encrypts msg for pub using RSA-OAEP with SHA-1/MGF1-SHA-1,
	// as spec.md §6 requires for wire compatibility with the reference
	// implementation.
	RSAEncryptOAEP(pub *rsa.PublicKey, msg []byte) ([]byte, error)

	// RSADecryptOAEP is the inverse of RSAEncryptOAEP.
	RSADecryptOAEP(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error)

	// RSASign produces an RSA-PKCS1v1.5 signature over SHA-256(msg).
	RSASign(priv *rsa.PrivateKey, msg []byte) ([]byte, error)

	// RSAVerify checks an RSA-PKCS1v1.5/SHA-256 signature.
	RSAVerify(pub *rsa.PublicKey, msg, sig []byte) error

	// GenerateECKey returns a fresh NIST P-256 keypair.
	GenerateECKey() (*ecdsa.PrivateKey, error)

	// EncodeECPublicKey returns the 65-byte ANSI X9.63 uncompressed encoding.
	EncodeECPublicKey(pub *ecdsa.PublicKey) []byte

	// DecodeECPublicKey parses a 65-byte ANSI X9.63 uncompressed P-256 point.
	DecodeECPublicKey(data []byte) (*ecdsa.PublicKey, error)

	// ECDH derives the shared secret x-coordinate (32 bytes, big-endian).
	ECDH(priv *ecdsa.PrivateKey, pub *ecdsa.PublicKey) ([]byte, error)

	// AESCTR XORs data against an AES-256-CTR keystream derived from key/iv.
	// CTR mode is an involution, so the same call encrypts and decrypts.
	AESCTR(key, iv, data []byte) ([]byte, error)

	// SHA256 returns the SHA-256 digest of the concatenation of parts.
	SHA256(parts ...[]byte) []byte

	// RandomBytes returns n cryptographically random bytes.
	RandomBytes(n int) ([]byte, error)
}

// Std is the default Provider, backed entirely by the Go standard library.
type Std struct{}

var _ Provider = Std{}

func (Std) GenerateRSAKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, RSAKeyBits)
}

func (Std) RSAEncryptOAEP(pub *rsa.PublicKey, msg []byte) ([]byte, error) {
	if pub == nil {
		return nil, errors.New("crypto: nil RSA public key")
	}
	return rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, msg, nil)
}

func (Std) RSADecryptOAEP(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	if priv == nil {
		return nil, errors.New("crypto: nil RSA private key")
	}
	return rsa.DecryptOAEP(sha1.New(), rand.Reader, priv, ciphertext, nil)
}

func (Std) RSASign(priv *rsa.PrivateKey, msg []byte) ([]byte, error) {
	if priv == nil {
		return nil, errors.New("crypto: nil RSA private key")
	}
	digest := sha256.Sum256(msg)
	return rsa.SignPKCS1v15(rand.Reader, priv, stdcrypto.SHA256, digest[:])
}

func (Std) RSAVerify(pub *rsa.PublicKey, msg, sig []byte) error {
	if pub == nil {
		return errors.New("crypto: nil RSA public key")
	}
	digest := sha256.Sum256(msg)
	return rsa.VerifyPKCS1v15(pub, stdcrypto.SHA256, digest[:], sig)
}

func (Std) GenerateECKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

func (Std) EncodeECPublicKey(pub *ecdsa.PublicKey) []byte {
	return elliptic.Marshal(elliptic.P256(), pub.X, pub.Y)
}

func (Std) DecodeECPublicKey(data []byte) (*ecdsa.PublicKey, error) {
	if len(data) != 65 || data[0] != 0x04 {
		return nil, ErrInvalidECPublicKey
	}
	curve := elliptic.P256()
	x, y := elliptic.Unmarshal(curve, data)
	if x == nil {
		return nil, ErrInvalidECPublicKey
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

func (Std) ECDH(priv *ecdsa.PrivateKey, pub *ecdsa.PublicKey) ([]byte, error) {
	if priv == nil || pub == nil {
		return nil, errors.New("crypto: nil key in ECDH")
	}
	if !priv.Curve.IsOnCurve(pub.X, pub.Y) {
		return nil, ErrInvalidECPublicKey
	}
	sx, _ := priv.Curve.ScalarMult(pub.X, pub.Y, priv.D.Bytes())
	shared := make([]byte, 32)
	b := sx.Bytes()
	copy(shared[32-len(b):], b)
	return shared, nil
}

func (Std) AESCTR(key, iv, data []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("crypto: AES-256 key must be 32 bytes, got %d", len(key))
	}
	if len(iv) != 16 {
		return nil, fmt.Errorf("crypto: IV must be 16 bytes, got %d", len(iv))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCTR(block, iv).XORKeyStream(out, data)
	return out, nil
}

func (Std) SHA256(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func (Std) RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// MarshalRSAPublicKeyDER returns the DER encoding of pub used to derive a
// hashname (spec.md §3: "A hashname equals SHA-256(DER(RSA public key))").
func MarshalRSAPublicKeyDER(pub *rsa.PublicKey) []byte {
	return x509.MarshalPKCS1PublicKey(pub)
}

// ParseRSAPublicKeyDER is the inverse of MarshalRSAPublicKeyDER.
func ParseRSAPublicKeyDER(der []byte) (*rsa.PublicKey, error) {
	return x509.ParsePKCS1PublicKey(der)
}

// EqualPublicKey reports whether two RSA public keys are identical.
func EqualPublicKey(a, b *rsa.PublicKey) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.E == b.E && a.N.Cmp(b.N) == 0
}
