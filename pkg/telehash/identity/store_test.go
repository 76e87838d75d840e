package identity

import (
	"testing"

	tcrypto "github.com/telehash/telehash/pkg/telehash/crypto"
)

func TestFileStoreRoundTripPlain(t *testing.T) {
	p := tcrypto.Std{}
	id, err := Generate(p)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	store := &FileStore{Dir: t.TempDir(), Provider: p}

	if err := store.Write(id, "switch"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := store.Read("switch")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Hashname != id.Hashname {
		t.Fatalf("round-tripped hashname = %s, want %s", got.Hashname, id.Hashname)
	}
	if got.Private.D.Cmp(id.Private.D) != 0 {
		t.Fatal("round-tripped private key does not match original")
	}
}

func TestFileStoreRoundTripEncrypted(t *testing.T) {
	p := tcrypto.Std{}
	id, err := Generate(p)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	store := &FileStore{Dir: t.TempDir(), Passphrase: "correct horse battery staple", Provider: p}

	if err := store.Write(id, "switch"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := store.Read("switch")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Hashname != id.Hashname {
		t.Fatalf("round-tripped hashname = %s, want %s", got.Hashname, id.Hashname)
	}
}

func TestFileStoreReadWrongPassphraseFails(t *testing.T) {
	p := tcrypto.Std{}
	id, err := Generate(p)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	dir := t.TempDir()
	store := &FileStore{Dir: dir, Passphrase: "right", Provider: p}
	if err := store.Write(id, "switch"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	wrong := &FileStore{Dir: dir, Passphrase: "wrong", Provider: p}
	got, err := wrong.Read("switch")
	if err != nil {
		// Decryption with the wrong key may surface as a PKCS1 parse error.
		return
	}
	if got.Hashname == id.Hashname {
		t.Fatal("decrypting with the wrong passphrase produced the original key")
	}
}

func TestFileStoreReadMissingReturnsErrNotFound(t *testing.T) {
	store := &FileStore{Dir: t.TempDir(), Provider: tcrypto.Std{}}
	if _, err := store.Read("nope"); err != ErrNotFound {
		t.Fatalf("Read missing identity: err = %v, want ErrNotFound", err)
	}
}

func TestReadPublicKey(t *testing.T) {
	p := tcrypto.Std{}
	id, err := Generate(p)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	store := &FileStore{Dir: t.TempDir(), Provider: p}
	if err := store.Write(id, "peer"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	pub, err := store.ReadPublicKey("peer")
	if err != nil {
		t.Fatalf("ReadPublicKey: %v", err)
	}
	if DeriveHashname(p, pub) != id.Hashname {
		t.Fatal("ReadPublicKey returned a key that does not match the written identity")
	}
}

func TestReadPublicKeyMissingReturnsErrNotFound(t *testing.T) {
	store := &FileStore{Dir: t.TempDir(), Provider: tcrypto.Std{}}
	if _, err := store.ReadPublicKey("nope"); err != ErrNotFound {
		t.Fatalf("ReadPublicKey missing key: err = %v, want ErrNotFound", err)
	}
}
