// Package identity holds a node's long-lived RSA keypair and its derived
// hashname, and the Node type describing a remote peer (its public key
// plus an optional network endpoint). Grounded on the teacher's
// p2p/peer.go (address + identity bookkeeping) and spec.md §3.
package identity

import (
	"crypto/rsa"
	"fmt"
	"net"

	tcrypto "github.com/telehash/telehash/pkg/telehash/crypto"
)

// Hashname is the node's 32-byte stable overlay identity: SHA-256 of the
// DER-encoded RSA public key (spec.md §3).
type Hashname [32]byte

// String returns the 64-character lowercase hex form used on the wire.
func (h Hashname) String() string {
	return fmt.Sprintf("%x", h[:])
}

// IsZero reports whether h is the zero value.
func (h Hashname) IsZero() bool {
	return h == Hashname{}
}

// DeriveHashname computes SHA-256(DER(pub)) with the given provider.
func DeriveHashname(p tcrypto.Provider, pub *rsa.PublicKey) Hashname {
	der := tcrypto.MarshalRSAPublicKeyDER(pub)
	var h Hashname
	copy(h[:], p.SHA256(der))
	return h
}

// Identity is this process's own RSA keypair and derived hashname. It is
// created once per process and is immutable thereafter.
type Identity struct {
	Private  *rsa.PrivateKey
	Public   *rsa.PublicKey
	Hashname Hashname
}

// Generate creates a fresh Identity using the given Provider.
func Generate(p tcrypto.Provider) (*Identity, error) {
	priv, err := p.GenerateRSAKey()
	if err != nil {
		return nil, fmt.Errorf("identity: generate RSA key: %w", err)
	}
	return FromPrivateKey(p, priv), nil
}

// FromPrivateKey wraps an existing RSA private key as an Identity,
// deriving its hashname.
func FromPrivateKey(p tcrypto.Provider, priv *rsa.PrivateKey) *Identity {
	pub := &priv.PublicKey
	return &Identity{
		Private:  priv,
		Public:   pub,
		Hashname: DeriveHashname(p, pub),
	}
}

// Node is a remote peer: its RSA public key plus an optional network
// endpoint. The hashname is a derived attribute, never carried
// independently on the wire.
type Node struct {
	Public   *rsa.PublicKey
	Endpoint *net.UDPAddr // may be nil until discovered

	hashname Hashname
	hasHash  bool
}

// NewNode wraps a remote public key (and optional endpoint) as a Node.
func NewNode(p tcrypto.Provider, pub *rsa.PublicKey, endpoint *net.UDPAddr) *Node {
	n := &Node{Public: pub, Endpoint: endpoint}
	n.hashname = DeriveHashname(p, pub)
	n.hasHash = true
	return n
}

// Hashname returns the node's derived hashname, computing it lazily if the
// Node was constructed by literal assignment rather than NewNode.
func (n *Node) Hashname(p tcrypto.Provider) Hashname {
	if !n.hasHash {
		n.hashname = DeriveHashname(p, n.Public)
		n.hasHash = true
	}
	return n.hashname
}

// WithEndpoint returns a shallow copy of n with its endpoint replaced, used
// when routing learns a better address for an already-known node.
func (n *Node) WithEndpoint(ep *net.UDPAddr) *Node {
	cp := *n
	cp.Endpoint = ep
	return &cp
}
