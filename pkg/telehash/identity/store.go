package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/scrypt"

	tcrypto "github.com/telehash/telehash/pkg/telehash/crypto"
)

// ErrNotFound is returned by Store.Read when no identity exists under the
// given name (spec.md §6: "readIdentity(name) → Identity | NotFound").
var ErrNotFound = errors.New("identity: not found")

// Store is the collaborator spec.md §6 requires the core to consume:
// opaque byte blobs for public/private RSA keys, referenced by name. The
// core only ever calls these two methods.
type Store interface {
	Read(name string) (*Identity, error)
	Write(id *Identity, name string) error
}

// FileStore is the default Store, writing PEM-encoded RSA keys to
// <dir>/<name>.pub and <dir>/<name>.key. If Passphrase is non-empty the
// private key PEM is wrapped in scrypt-derived-key AES-256-CTR encryption
// before being written (key-at-rest, not a full KMS — see SPEC_FULL.md §4.9).
//
// Grounded on the teacher's pkg/crypto/keystore.go encrypted-key-at-rest
// shape, using the real scrypt KDF in place of its simplified hash loop.
type FileStore struct {
	Dir        string
	Passphrase string
	Provider   tcrypto.Provider
}

const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 16
)

func (s *FileStore) provider() tcrypto.Provider {
	if s.Provider != nil {
		return s.Provider
	}
	return tcrypto.Std{}
}

// Read loads an identity written by Write. Returns ErrNotFound if the
// key files do not exist.
func (s *FileStore) Read(name string) (*Identity, error) {
	keyPath := filepath.Join(s.Dir, name+".key")
	raw, err := os.ReadFile(keyPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("identity: read %s: %w", keyPath, err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("identity: %s: no PEM block found", keyPath)
	}

	der := block.Bytes
	if block.Type == "TELEHASH ENCRYPTED PRIVATE KEY" {
		der, err = decryptPEMBlock(block, s.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("identity: decrypt %s: %w", keyPath, err)
		}
	}

	priv, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("identity: parse private key: %w", err)
	}
	return FromPrivateKey(s.provider(), priv), nil
}

// Write persists id's keys under name, encrypting the private key if a
// Passphrase is configured.
func (s *FileStore) Write(id *Identity, name string) error {
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return fmt.Errorf("identity: mkdir %s: %w", s.Dir, err)
	}

	pubDER := x509.MarshalPKCS1PublicKey(id.Public)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(filepath.Join(s.Dir, name+".pub"), pubPEM, 0o644); err != nil {
		return fmt.Errorf("identity: write public key: %w", err)
	}

	privDER := x509.MarshalPKCS1PrivateKey(id.Private)
	var block *pem.Block
	if s.Passphrase != "" {
		var err error
		block, err = encryptPEMBlock(privDER, s.Passphrase)
		if err != nil {
			return fmt.Errorf("identity: encrypt private key: %w", err)
		}
	} else {
		block = &pem.Block{Type: "RSA PRIVATE KEY", Bytes: privDER}
	}
	privPEM := pem.EncodeToMemory(block)
	if err := os.WriteFile(filepath.Join(s.Dir, name+".key"), privPEM, 0o600); err != nil {
		return fmt.Errorf("identity: write private key: %w", err)
	}
	return nil
}

// encryptPEMBlock wraps der in scrypt(passphrase, salt)-keyed AES-256-CTR,
// storing salt and IV as PEM headers (hex-encoded, since pem.Block headers
// are textual).
func encryptPEMBlock(der []byte, passphrase string) (*pem.Block, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	ct := make([]byte, len(der))
	cipher.NewCTR(block, iv).XORKeyStream(ct, der)

	return &pem.Block{
		Type: "TELEHASH ENCRYPTED PRIVATE KEY",
		Headers: map[string]string{
			"Salt": hex.EncodeToString(salt),
			"IV":   hex.EncodeToString(iv),
		},
		Bytes: ct,
	}, nil
}

func decryptPEMBlock(block *pem.Block, passphrase string) ([]byte, error) {
	salt, err := hex.DecodeString(block.Headers["Salt"])
	if err != nil {
		return nil, fmt.Errorf("missing/invalid Salt header: %w", err)
	}
	iv, err := hex.DecodeString(block.Headers["IV"])
	if err != nil {
		return nil, fmt.Errorf("missing/invalid IV header: %w", err)
	}
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, err
	}
	aesBlock, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	der := make([]byte, len(block.Bytes))
	cipher.NewCTR(aesBlock, iv).XORKeyStream(der, block.Bytes)
	return der, nil
}

// ReadPublicKey loads just the public half written under name, for
// constructing a Node for a peer whose private key we will never hold.
func (s *FileStore) ReadPublicKey(name string) (*rsa.PublicKey, error) {
	pubPath := filepath.Join(s.Dir, name+".pub")
	raw, err := os.ReadFile(pubPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("identity: read %s: %w", pubPath, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("identity: %s: no PEM block found", pubPath)
	}
	return x509.ParsePKCS1PublicKey(block.Bytes)
}

var _ Store = (*FileStore)(nil)
