// Package auth implements secp256k1 (Ethereum-style) request signature
// authentication and the per-instance authorization model from
// the design.
package auth

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cuemby/formation/pkg/apierr"
)

// MaxTimestampAge is the replay window: signatures older than this are
// rejected.
const MaxTimestampAge = 5 * time.Minute

// Address is a 20-byte Ethereum-style address, lowercase hex with 0x prefix.
type Address string

// Signed is a parsed `Authorization: Signature <sig>.<recovery_id>.<message>`
// header, prior to verification.
type Signed struct {
	SigHex string // 128 hex chars, R||S
	RecoveryID byte // 0 or 1
	Message []byte
}

// ParseHeader parses the Authorization header value. It does not verify
// the signature; it only validates shape.
func ParseHeader(header string) (*Signed, error) {
	const prefix = "Signature "
	if !strings.HasPrefix(header, prefix) {
		return nil, apierr.ErrMissingSignature
	}
	parts := strings.SplitN(strings.TrimPrefix(header, prefix), ".", 3)
	if len(parts) != 3 {
		return nil, apierr.ErrInvalidSignatureForm
	}
	sigHex, recHex, msgHex := parts[0], parts[1], parts[2]

	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil || len(sigBytes) != 64 {
		return nil, apierr.ErrInvalidSignatureForm
	}

	recID, err := strconv.ParseUint(recHex, 16, 8)
	if err != nil || recID > 1 {
		return nil, apierr.ErrInvalidSignatureForm
	}

	message, err := hex.DecodeString(msgHex)
	if err != nil {
		return nil, apierr.ErrInvalidSignatureForm
	}

	return &Signed{SigHex: sigHex, RecoveryID: byte(recID), Message: message}, nil
}

// digest hashes the message bytes with SHA-256, matching
// original_source/form-auth/src/signature.rs's create_message_hash applied
// to the full message string (the Go header carries no separate timestamp
// field, so by convention every message embeds its timestamp as the final
// colon-separated component — see extractTimestamp).
func digest(message []byte) [32]byte {
	return sha256.Sum256(message)
}

// Recover verifies the signature and returns the recovered address.
func Recover(s *Signed) (Address, error) {
	sigBytes, err := hex.DecodeString(s.SigHex)
	if err != nil || len(sigBytes) != 64 {
		return "", apierr.ErrInvalidSignatureForm
	}
	full := make([]byte, 65)
	copy(full, sigBytes)
	full[64] = s.RecoveryID

	h := digest(s.Message)
	pub, err := crypto.SigToPub(h[:], full)
	if err != nil {
		return "", apierr.ErrInvalidSignature
	}
	addr := crypto.PubkeyToAddress(*pub)
	return Address(strings.ToLower(addr.Hex())), nil
}

// Signature65 returns the 65-byte R||S||V signature a parsed header carries,
// the layout crdt.Verifier implementations expect when a handler reuses the
// request's own signature as a CRDT op's signature.
func (s *Signed) Signature65() ([]byte, error) {
	sigBytes, err := hex.DecodeString(s.SigHex)
	if err != nil || len(sigBytes) != 64 {
		return nil, apierr.ErrInvalidSignatureForm
	}
	return append(sigBytes, s.RecoveryID), nil
}

// extractTimestamp parses the final ":"-delimited component of a message as
// a unix timestamp, the convention this package uses to carry a timestamp
// inside the signed message itself without a dedicated header field.
func extractTimestamp(message []byte) (int64, error) {
	s := string(message)
	idx := strings.LastIndex(s, ":")
	if idx < 0 || idx == len(s)-1 {
		return 0, apierr.ErrInvalidSignatureForm
	}
	ts, err := strconv.ParseInt(s[idx+1:], 10, 64)
	if err != nil {
		return 0, apierr.ErrInvalidSignatureForm
	}
	return ts, nil
}

// ValidateTimestamp reports whether ts is within MaxTimestampAge of now.
// Exactly MaxTimestampAge old is rejected; one second under is accepted.
func ValidateTimestamp(ts int64, now time.Time) bool {
	diff := now.Unix() - ts
	if diff < 0 {
		diff = -diff
	}
	return diff < int64(MaxTimestampAge.Seconds())
}

// VerifyAndRecover is the full pipeline: parse, recover, timestamp check.
func VerifyAndRecover(header string, now time.Time) (Address, error) {
	s, err := ParseHeader(header)
	if err != nil {
		return "", err
	}
	ts, err := extractTimestamp(s.Message)
	if err != nil {
		return "", err
	}
	if !ValidateTimestamp(ts, now) {
		return "", apierr.ErrTimestampExpired
	}
	return Recover(s)
}

// Sign produces the (sig_hex, recovery_id) pair for a message, the inverse
// of Recover. Used by tests and by internal components that must sign their
// own outbound requests (e.g. node-to-node bootstrap or join requests).
func Sign(priv *ecdsa.PrivateKey, message []byte) (sigHex string, recoveryID byte, err error) {
	h := digest(message)
	sig, err := crypto.Sign(h[:], priv)
	if err != nil {
		return "", 0, fmt.Errorf("sign message: %w", err)
	}
	return hex.EncodeToString(sig[:64]), sig[64], nil
}

// AddressFromPrivate derives the address corresponding to a private key.
func AddressFromPrivate(priv *ecdsa.PrivateKey) Address {
	addr := crypto.PubkeyToAddress(priv.PublicKey)
	return Address(strings.ToLower(addr.Hex()))
}

// BuildHeader assembles the Authorization header value for a signed message,
// the inverse of ParseHeader — used by internal clients and tests.
func BuildHeader(priv *ecdsa.PrivateKey, message []byte) (string, error) {
	sigHex, recID, err := Sign(priv, message)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Signature %s.%x.%s", sigHex, recID, hex.EncodeToString(message)), nil
}
