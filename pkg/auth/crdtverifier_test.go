package auth

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/formation/pkg/crdt"
)

func TestCRDTVerifierAcceptsMatchingSignature(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := AddressFromPrivate(priv)
	payload := []byte("payload bytes")

	sigHex, recID, err := Sign(priv, payload)
	require.NoError(t, err)
	sigBytes := mustDecodeHex(t, sigHex)
	full := append(sigBytes, recID)

	v := CRDTVerifier{}
	assert.True(t, v.Verify(crdt.Actor(addr), payload, full))
}

func TestCRDTVerifierRejectsWrongActor(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	payload := []byte("payload bytes")

	sigHex, recID, err := Sign(priv, payload)
	require.NoError(t, err)
	sigBytes := mustDecodeHex(t, sigHex)
	full := append(sigBytes, recID)

	v := CRDTVerifier{}
	assert.False(t, v.Verify(crdt.Actor("0xnotthesigner"), payload, full))
}

func TestCRDTVerifierRejectsShortSignature(t *testing.T) {
	v := CRDTVerifier{}
	assert.False(t, v.Verify(crdt.Actor("0xabc"), []byte("payload"), []byte{1, 2, 3}))
}

func mustDecodeHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}
