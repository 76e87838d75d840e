package crypto

import "testing"

func TestRSAOAEPRoundTrip(t *testing.T) {
	p := Std{}
	priv, err := p.GenerateRSAKey()
	if err != nil {
		t.Fatalf("GenerateRSAKey: %v", err)
	}
	msg := []byte("telehash open packet inner AES key")

	ct, err := p.RSAEncryptOAEP(&priv.PublicKey, msg)
	if err != nil {
		t.Fatalf("RSAEncryptOAEP: %v", err)
	}
	pt, err := p.RSADecryptOAEP(priv, ct)
	if err != nil {
		t.Fatalf("RSADecryptOAEP: %v", err)
	}
	if string(pt) != string(msg) {
		t.Fatalf("round-trip = %q, want %q", pt, msg)
	}
}

func TestRSASignVerify(t *testing.T) {
	p := Std{}
	priv, err := p.GenerateRSAKey()
	if err != nil {
		t.Fatalf("GenerateRSAKey: %v", err)
	}
	msg := []byte("inner open packet bytes")

	sig, err := p.RSASign(priv, msg)
	if err != nil {
		t.Fatalf("RSASign: %v", err)
	}
	if err := p.RSAVerify(&priv.PublicKey, msg, sig); err != nil {
		t.Fatalf("RSAVerify: %v", err)
	}
	if err := p.RSAVerify(&priv.PublicKey, []byte("tampered"), sig); err == nil {
		t.Fatal("RSAVerify accepted a signature over the wrong message")
	}
}

func TestECPublicKeyEncodeDecodeRoundTrip(t *testing.T) {
	p := Std{}
	priv, err := p.GenerateECKey()
	if err != nil {
		t.Fatalf("GenerateECKey: %v", err)
	}
	enc := p.EncodeECPublicKey(&priv.PublicKey)
	if len(enc) != 65 || enc[0] != 0x04 {
		t.Fatalf("encoded EC public key len=%d prefix=%x, want 65 bytes, 0x04 prefix", len(enc), enc[0])
	}
	dec, err := p.DecodeECPublicKey(enc)
	if err != nil {
		t.Fatalf("DecodeECPublicKey: %v", err)
	}
	if dec.X.Cmp(priv.X) != 0 || dec.Y.Cmp(priv.Y) != 0 {
		t.Fatal("decoded EC public key does not match original")
	}
}

func TestDecodeECPublicKeyRejectsBadInput(t *testing.T) {
	p := Std{}
	if _, err := p.DecodeECPublicKey([]byte{0x04, 0x01, 0x02}); err != ErrInvalidECPublicKey {
		t.Fatalf("err = %v, want ErrInvalidECPublicKey", err)
	}
}

func TestECDHSymmetry(t *testing.T) {
	p := Std{}
	a, err := p.GenerateECKey()
	if err != nil {
		t.Fatalf("GenerateECKey: %v", err)
	}
	b, err := p.GenerateECKey()
	if err != nil {
		t.Fatalf("GenerateECKey: %v", err)
	}

	sharedA, err := p.ECDH(a, &b.PublicKey)
	if err != nil {
		t.Fatalf("ECDH(a, bPub): %v", err)
	}
	sharedB, err := p.ECDH(b, &a.PublicKey)
	if err != nil {
		t.Fatalf("ECDH(b, aPub): %v", err)
	}
	if len(sharedA) != 32 || string(sharedA) != string(sharedB) {
		t.Fatalf("ECDH not symmetric: a=%x b=%x", sharedA, sharedB)
	}
}

func TestAESCTRIsAnInvolution(t *testing.T) {
	p := Std{}
	key, err := p.RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes(key): %v", err)
	}
	iv, err := p.RandomBytes(16)
	if err != nil {
		t.Fatalf("RandomBytes(iv): %v", err)
	}
	plain := []byte("line packet plaintext payload")

	ct, err := p.AESCTR(key, iv, plain)
	if err != nil {
		t.Fatalf("AESCTR(encrypt): %v", err)
	}
	if string(ct) == string(plain) {
		t.Fatal("ciphertext equals plaintext")
	}
	pt, err := p.AESCTR(key, iv, ct)
	if err != nil {
		t.Fatalf("AESCTR(decrypt): %v", err)
	}
	if string(pt) != string(plain) {
		t.Fatalf("AESCTR round-trip = %q, want %q", pt, plain)
	}
}

func TestAESCTRRejectsWrongKeyLength(t *testing.T) {
	p := Std{}
	if _, err := p.AESCTR(make([]byte, 16), make([]byte, 16), []byte("x")); err == nil {
		t.Fatal("expected error for non-32-byte key")
	}
}

func TestSHA256ConcatenatesParts(t *testing.T) {
	p := Std{}
	whole := p.SHA256([]byte("ab"), []byte("cd"))
	split := p.SHA256([]byte("abcd"))
	if string(whole) != string(split) {
		t.Fatal("SHA256(parts...) did not hash the concatenation of parts")
	}
}

func TestMarshalParseRSAPublicKeyDERRoundTrip(t *testing.T) {
	p := Std{}
	priv, err := p.GenerateRSAKey()
	if err != nil {
		t.Fatalf("GenerateRSAKey: %v", err)
	}
	der := MarshalRSAPublicKeyDER(&priv.PublicKey)
	parsed, err := ParseRSAPublicKeyDER(der)
	if err != nil {
		t.Fatalf("ParseRSAPublicKeyDER: %v", err)
	}
	if !EqualPublicKey(&priv.PublicKey, parsed) {
		t.Fatal("round-tripped public key does not match original")
	}
}

func TestEqualPublicKeyHandlesNil(t *testing.T) {
	p := Std{}
	priv, err := p.GenerateRSAKey()
	if err != nil {
		t.Fatalf("GenerateRSAKey: %v", err)
	}
	if EqualPublicKey(nil, &priv.PublicKey) {
		t.Fatal("EqualPublicKey(nil, x) reported true")
	}
	if !EqualPublicKey(nil, nil) {
		t.Fatal("EqualPublicKey(nil, nil) reported false")
	}
}
