// Package openpkt implements the Telehash open handshake: rendering and
// parsing of the "open" packet described in spec.md §4.2, including every
// RSA/ECDH/AES-CTR step it specifies.
//
// Grounded on the teacher's p2p/handshake_ecies.go (auth/ack message
// construction, DeriveSecrets, VerifyRemoteIdentity) and pkg/crypto/ecies.go
// (AES-CTR + HMAC helpers), re-targeted at spec.md's RSA-OAEP/PKCS1v1.5/
// P-256 wire format instead of ECIES-over-secp256k1.
package openpkt

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"net"
	"time"

	tcrypto "github.com/telehash/telehash/pkg/telehash/crypto"
	"github.com/telehash/telehash/pkg/telehash/codec"
	"github.com/telehash/telehash/pkg/telehash/identity"
	"github.com/telehash/telehash/pkg/telehash/packet"
)

// MaxOpenAge is the staleness bound from spec.md §4.2 step 8.
const MaxOpenAge = 24 * time.Hour

// RejectReason enumerates the OpenRejected reasons in spec.md §7.
type RejectReason string

const (
	ReasonStale            RejectReason = "stale"
	ReasonWrongDestination RejectReason = "wrong-destination"
	ReasonBadSignature     RejectReason = "bad-signature"
	ReasonDecryptFailure   RejectReason = "decrypt-failure"
	ReasonReplay           RejectReason = "replay"
)

// RejectedError is returned by Parse for any of the rejection conditions
// in spec.md §4.2.
type RejectedError struct {
	Reason RejectReason
	Err    error
}

func (e *RejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("open rejected (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("open rejected (%s)", e.Reason)
}

func (e *RejectedError) Unwrap() error { return e.Err }

func reject(reason RejectReason, err error) error {
	return &RejectedError{Reason: reason, Err: err}
}

// ReplayGuard is consulted by Parse to enforce spec.md §4.2 step 9: "at"
// must be strictly greater than the last accepted "at" from this sender.
// The initial value for an unseen sender is -infinity.
type ReplayGuard interface {
	LastOpen(hashname identity.Hashname) int64
	RecordOpen(hashname identity.Hashname, at int64)
}

// RenderInput holds everything Render needs to build an open packet. The
// ephemeral private key never appears here: only EphPub goes out on the
// wire, and the caller keeps the private half for its own later ECDH.
type RenderInput struct {
	Dest   *identity.Node
	Self   *identity.Identity
	At     int64 // ms since epoch
	Line   [16]byte
	EphPub *ecdsa.PublicKey
}

// Render builds the open packet with a freshly generated IV (spec.md §4.2,
// "IV ← 16 random bytes").
func Render(p tcrypto.Provider, in RenderInput) ([]byte, error) {
	iv, err := p.RandomBytes(16)
	if err != nil {
		return nil, fmt.Errorf("openpkt: generate IV: %w", err)
	}
	return RenderWithIV(p, in, iv)
}

// RenderWithIV builds the open packet using an externally supplied IV. It
// is not pure: the RSA-OAEP-encrypted "open" value is always computed here
// with randomness drawn from the provider, and cannot be supplied by the
// caller. Output is deterministic only with a deterministic Provider.
func RenderWithIV(p tcrypto.Provider, in RenderInput, iv []byte) ([]byte, error) {
	if len(iv) != 16 {
		return nil, fmt.Errorf("openpkt: IV must be 16 bytes, got %d", len(iv))
	}
	ephPubEnc := p.EncodeECPublicKey(in.EphPub)

	openParam, err := p.RSAEncryptOAEP(in.Dest.Public, ephPubEnc)
	if err != nil {
		return nil, fmt.Errorf("openpkt: RSA-OAEP encrypt ephemeral key: %w", err)
	}

	innerKey := p.SHA256(ephPubEnc)

	destHashname := in.Dest.Hashname(p)
	innerHdr := map[string]any{
		"at":   in.At,
		"to":   destHashname.String(),
		"line": codec.ToHex(in.Line[:]),
	}
	senderDER := tcrypto.MarshalRSAPublicKeyDER(in.Self.Public)
	inner, err := packet.Frame(innerHdr, senderDER)
	if err != nil {
		return nil, fmt.Errorf("openpkt: frame inner packet: %w", err)
	}

	encInner, err := p.AESCTR(innerKey, iv, inner)
	if err != nil {
		return nil, fmt.Errorf("openpkt: encrypt inner packet: %w", err)
	}

	signature, err := p.RSASign(in.Self.Private, encInner)
	if err != nil {
		return nil, fmt.Errorf("openpkt: sign: %w", err)
	}

	sigKey := p.SHA256(ephPubEnc, in.Line[:])
	encSig, err := p.AESCTR(sigKey, iv, signature)
	if err != nil {
		return nil, fmt.Errorf("openpkt: encrypt signature: %w", err)
	}

	outerHdr := map[string]any{
		"type": "open",
		"iv":   codec.ToHex(iv),
		"sig":  codec.ToBase64(encSig),
		"open": codec.ToBase64(openParam),
	}
	return packet.Frame(outerHdr, encInner)
}

// Parsed is the accepted result of Parse.
type Parsed struct {
	Source *identity.Node
	EphPub *ecdsa.PublicKey
	At     int64
	Line   [16]byte
}

// Parse verifies and decodes an inbound open packet per spec.md §4.2
// steps 1-13, returning a RejectedError for any failure at steps 1-12.
func Parse(p tcrypto.Provider, self *identity.Identity, raw []byte, origin *net.UDPAddr, guard ReplayGuard) (*Parsed, error) {
	pkt, err := packet.Parse(raw, origin)
	if err != nil {
		return nil, reject(ReasonDecryptFailure, err)
	}
	if pkt.Type != "open" {
		return nil, reject(ReasonDecryptFailure, fmt.Errorf("openpkt: not an open packet: %q", pkt.Type))
	}

	ivHex, _ := pkt.JSON["iv"].(string)
	iv, err := codec.FromHex(ivHex)
	if err != nil || len(iv) != 16 {
		return nil, reject(ReasonDecryptFailure, fmt.Errorf("openpkt: bad iv: %w", err))
	}
	sigB64, _ := pkt.JSON["sig"].(string)
	encSig, err := codec.FromBase64(sigB64)
	if err != nil {
		return nil, reject(ReasonDecryptFailure, fmt.Errorf("openpkt: bad sig encoding: %w", err))
	}
	openB64, _ := pkt.JSON["open"].(string)
	openParam, err := codec.FromBase64(openB64)
	if err != nil {
		return nil, reject(ReasonDecryptFailure, fmt.Errorf("openpkt: bad open encoding: %w", err))
	}

	ephPubEnc, err := p.RSADecryptOAEP(self.Private, openParam)
	if err != nil {
		return nil, reject(ReasonDecryptFailure, fmt.Errorf("openpkt: RSA-OAEP decrypt: %w", err))
	}
	ephPub, err := p.DecodeECPublicKey(ephPubEnc)
	if err != nil {
		return nil, reject(ReasonDecryptFailure, fmt.Errorf("openpkt: decode ephemeral key: %w", err))
	}

	innerKey := p.SHA256(ephPubEnc)
	inner, err := p.AESCTR(innerKey, iv, pkt.Body)
	if err != nil {
		return nil, reject(ReasonDecryptFailure, fmt.Errorf("openpkt: decrypt inner packet: %w", err))
	}
	innerHdr, senderDER, err := packet.Split(inner)
	if err != nil {
		return nil, reject(ReasonDecryptFailure, fmt.Errorf("openpkt: split inner packet: %w", err))
	}

	at, ok := jsonNumber(innerHdr["at"])
	if !ok {
		return nil, reject(ReasonDecryptFailure, fmt.Errorf("openpkt: missing/invalid \"at\""))
	}
	toHex, _ := innerHdr["to"].(string)
	to, err := codec.FromHex(toHex)
	if err != nil || len(to) != 32 {
		return nil, reject(ReasonDecryptFailure, fmt.Errorf("openpkt: bad \"to\": %w", err))
	}
	lineHex, _ := innerHdr["line"].(string)
	lineBytes, err := codec.FromHex(lineHex)
	if err != nil || len(lineBytes) != 16 {
		return nil, reject(ReasonDecryptFailure, fmt.Errorf("openpkt: bad \"line\": %w", err))
	}
	var line [16]byte
	copy(line[:], lineBytes)

	var toHash identity.Hashname
	copy(toHash[:], to)
	if toHash != self.Hashname {
		return nil, reject(ReasonWrongDestination, nil)
	}

	now := time.Now().UnixMilli()
	if abs64(now-at) > MaxOpenAge.Milliseconds() {
		return nil, reject(ReasonStale, nil)
	}

	senderPub, err := tcrypto.ParseRSAPublicKeyDER(senderDER)
	if err != nil {
		return nil, reject(ReasonDecryptFailure, fmt.Errorf("openpkt: parse sender public key: %w", err))
	}
	senderHashname := identity.DeriveHashname(p, senderPub)

	if guard != nil {
		if at <= guard.LastOpen(senderHashname) {
			return nil, reject(ReasonReplay, nil)
		}
	}

	sigKey := p.SHA256(ephPubEnc, line[:])
	signature, err := p.AESCTR(sigKey, iv, encSig)
	if err != nil {
		return nil, reject(ReasonDecryptFailure, fmt.Errorf("openpkt: decrypt signature: %w", err))
	}
	if err := p.RSAVerify(senderPub, pkt.Body, signature); err != nil {
		return nil, reject(ReasonBadSignature, err)
	}

	if guard != nil {
		guard.RecordOpen(senderHashname, at)
	}

	source := identity.NewNode(p, senderPub, origin)
	return &Parsed{Source: source, EphPub: ephPub, At: at, Line: line}, nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func jsonNumber(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
