package auth

import (
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cuemby/formation/pkg/crdt"
)

// CRDTVerifier adapts secp256k1 recoverable-signature verification to
// crdt.Verifier, so every CRDT register write is authenticated with the
// same primitives as an HTTP request. A 65-byte
// signature is expected: 64 bytes R||S plus a trailing recovery id, the
// same layout VerifyAndRecover expects from the wire.
type CRDTVerifier struct{}

// Verify reports whether signature recovers to the address named by actor
// when applied over payload.
func (CRDTVerifier) Verify(actor crdt.Actor, payload, signature []byte) bool {
	if len(signature) != 65 {
		return false
	}
	h := digest(payload)
	pub, err := crypto.SigToPub(h[:], signature)
	if err != nil {
		return false
	}
	recovered := strings.ToLower(crypto.PubkeyToAddress(*pub).Hex())
	return recovered == strings.ToLower(string(actor))
}
