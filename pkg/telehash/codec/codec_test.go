package codec

import "testing"

func TestHexRoundTrip(t *testing.T) {
	in := []byte{0xde, 0xad, 0xbe, 0xef}
	s := ToHex(in)
	if s != "deadbeef" {
		t.Fatalf("ToHex = %q, want lowercase hex", s)
	}
	out, err := FromHex(s)
	if err != nil {
		t.Fatalf("FromHex: %v", err)
	}
	if string(out) != string(in) {
		t.Fatalf("FromHex(ToHex(x)) = %x, want %x", out, in)
	}
}

func TestFromHexAcceptsUppercase(t *testing.T) {
	out, err := FromHex("DEADBEEF")
	if err != nil {
		t.Fatalf("FromHex: %v", err)
	}
	if ToHex(out) != "deadbeef" {
		t.Fatalf("got %x", out)
	}
}

func TestBase64RoundTrip(t *testing.T) {
	in := []byte("telehash open packet signature bytes")
	s := ToBase64(in)
	out, err := FromBase64(s)
	if err != nil {
		t.Fatalf("FromBase64: %v", err)
	}
	if string(out) != string(in) {
		t.Fatalf("FromBase64(ToBase64(x)) = %q, want %q", out, in)
	}
}

func TestFromBase64TolerantOfMissingPadding(t *testing.T) {
	in := []byte("x")
	padded := ToBase64(in)
	unpadded := padded
	for len(unpadded) > 0 && unpadded[len(unpadded)-1] == '=' {
		unpadded = unpadded[:len(unpadded)-1]
	}
	out, err := FromBase64(unpadded)
	if err != nil {
		t.Fatalf("FromBase64(unpadded): %v", err)
	}
	if string(out) != string(in) {
		t.Fatalf("got %q, want %q", out, in)
	}
}

func TestConcat(t *testing.T) {
	got := Concat([]byte("ab"), nil, []byte("cd"), []byte(""))
	if string(got) != "abcd" {
		t.Fatalf("Concat = %q, want %q", got, "abcd")
	}
}

func TestConcatDoesNotAliasInputs(t *testing.T) {
	a := []byte("ab")
	got := Concat(a)
	got[0] = 'x'
	if a[0] != 'a' {
		t.Fatalf("Concat aliased its input slice")
	}
}
