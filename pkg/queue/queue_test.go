package queue

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/formation/pkg/auth"
)

func openTestDB(t *testing.T) *bolt.DB {
	t.Helper()
	db, err := bolt.Open(t.TempDir()+"/queue.db", 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEnqueueReadRoundTrips(t *testing.T) {
	db := openTestDB(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	s := NewStore(db, key, auth.CRDTVerifier{})

	m1, err := s.Enqueue("vmm", []byte("create vm 1"), nil)
	require.NoError(t, err)
	m2, err := s.Enqueue("vmm", []byte("stop vm 1"), nil)
	require.NoError(t, err)

	msgs, err := s.Read("vmm")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, m1.Hash, msgs[0].Hash)
	assert.Equal(t, m2.Hash, msgs[1].Hash)
	assert.Contains(t, msgs[1].Deps, m1.Hash)
}

func TestEnqueueIsDeterministicallyContentAddressed(t *testing.T) {
	db := openTestDB(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s := NewStore(db, key, auth.CRDTVerifier{})

	m, err := s.Enqueue("t", []byte("hello"), nil)
	require.NoError(t, err)
	assert.Equal(t, computeHash(m.Content, m.Deps, m.Author), m.Hash)
}

func TestOutOfOrderDependencyIsHiddenUntilDepArrives(t *testing.T) {
	db := openTestDB(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s := NewStore(db, key, auth.CRDTVerifier{})

	m1, err := s.Enqueue("t", []byte("m1"), nil)
	require.NoError(t, err)
	m2, err := s.Enqueue("t", []byte("m2"), []Hash{m1.Hash})
	require.NoError(t, err)

	// Simulate a fresh replica that receives m2 before m1: rebuild from a
	// clean store and apply out of order.
	fresh := NewStore(openTestDB(t), key, auth.CRDTVerifier{})
	require.NoError(t, fresh.ApplyForeign("t", m2))

	msgs, err := fresh.Read("t")
	require.NoError(t, err)
	assert.Empty(t, msgs, "m2 must not be visible before its dep m1 arrives")

	require.NoError(t, fresh.ApplyForeign("t", m1))
	msgs, err = fresh.Read("t")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, m1.Hash, msgs[0].Hash)
	assert.Equal(t, m2.Hash, msgs[1].Hash)
}

func TestDuplicateMessageIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s := NewStore(db, key, auth.CRDTVerifier{})

	m, err := s.Enqueue("t", []byte("once"), nil)
	require.NoError(t, err)
	require.NoError(t, s.ApplyForeign("t", m))

	msgs, err := s.Read("t")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestApplyForeignRejectsTamperedContent(t *testing.T) {
	db := openTestDB(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s := NewStore(db, key, auth.CRDTVerifier{})

	m, err := s.Enqueue("t", []byte("original"), nil)
	require.NoError(t, err)
	m.Content = []byte("tampered")

	err = s.ApplyForeign("t", m)
	assert.Error(t, err)
}

func TestReadAfterReturnsOnlyLaterMessages(t *testing.T) {
	db := openTestDB(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s := NewStore(db, key, auth.CRDTVerifier{})

	for i := 0; i < 3; i++ {
		_, err := s.Enqueue("t", []byte{byte(i)}, nil)
		require.NoError(t, err)
	}

	after, err := s.ReadAfter("t", 0)
	require.NoError(t, err)
	assert.Len(t, after, 2)
}

func TestTopicHashIsStableForSameName(t *testing.T) {
	assert.Equal(t, TopicHash("vmm"), TopicHash("vmm"))
	assert.NotEqual(t, TopicHash("vmm"), TopicHash("dns.updates"))
}
