package identity

import (
	"net"
	"testing"

	tcrypto "github.com/telehash/telehash/pkg/telehash/crypto"
)

func TestDeriveHashnameIsStableAndDistinct(t *testing.T) {
	p := tcrypto.Std{}
	a, err := Generate(p)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := Generate(p)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if DeriveHashname(p, a.Public) != a.Hashname {
		t.Fatal("DeriveHashname(a.Public) != a.Hashname")
	}
	if a.Hashname == b.Hashname {
		t.Fatal("two distinct keys produced the same hashname")
	}
	if len(a.Hashname.String()) != 64 {
		t.Fatalf("hashname hex length = %d, want 64", len(a.Hashname.String()))
	}
}

func TestNodeHashnameMatchesIdentity(t *testing.T) {
	p := tcrypto.Std{}
	id, err := Generate(p)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	ep := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 42424}
	node := NewNode(p, id.Public, ep)

	if node.Hashname(p) != id.Hashname {
		t.Fatalf("node hashname = %s, want %s", node.Hashname(p), id.Hashname)
	}
}

func TestNodeHashnameLazyComputation(t *testing.T) {
	p := tcrypto.Std{}
	id, err := Generate(p)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	// Constructed by literal assignment, not NewNode: hasHash defaults false.
	node := &Node{Public: id.Public}
	if node.Hashname(p) != id.Hashname {
		t.Fatalf("lazily computed hashname = %s, want %s", node.Hashname(p), id.Hashname)
	}
}

func TestWithEndpointDoesNotMutateOriginal(t *testing.T) {
	p := tcrypto.Std{}
	id, err := Generate(p)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	orig := NewNode(p, id.Public, nil)
	newEP := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1}
	updated := orig.WithEndpoint(newEP)

	if orig.Endpoint != nil {
		t.Fatal("WithEndpoint mutated the original node's endpoint")
	}
	if updated.Endpoint != newEP {
		t.Fatalf("updated.Endpoint = %v, want %v", updated.Endpoint, newEP)
	}
	if updated.Hashname(p) != orig.Hashname(p) {
		t.Fatal("WithEndpoint changed the derived hashname")
	}
}

func TestIsZero(t *testing.T) {
	var h Hashname
	if !h.IsZero() {
		t.Fatal("zero Hashname reported non-zero")
	}
	p := tcrypto.Std{}
	id, err := Generate(p)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if id.Hashname.IsZero() {
		t.Fatal("generated hashname reported zero")
	}
}
