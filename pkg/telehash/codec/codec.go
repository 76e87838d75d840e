// Package codec provides the small set of wire-encoding helpers the
// Telehash packet layer needs: lowercase hex, padding-tolerant base64, and
// byte-slice concatenation. The interfaces exist so call sites never touch
// encoding/hex or encoding/base64 directly; the implementations themselves
// are interchangeable, per spec.
package codec

import (
	"encoding/base64"
	"encoding/hex"
)

// ToHex returns the lowercase hex encoding of b.
func ToHex(b []byte) string {
	return hex.EncodeToString(b)
}

// FromHex decodes a lowercase (or uppercase) hex string.
func FromHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

// ToBase64 returns the standard, padded base64 encoding of b.
func ToBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// FromBase64 decodes standard base64, accepting input with or without the
// trailing '=' padding as required by spec.md §6.
func FromBase64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// Concat returns a new slice holding the concatenation of all parts, in
// order. It never aliases its inputs.
func Concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
