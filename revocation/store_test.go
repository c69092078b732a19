package revocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRevokeAndCheck(t *testing.T) {
	s := openTestStore(t)

	id := []byte{1, 2, 3, 4}
	revoked, err := s.IsRevoked(id)
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, s.Revoke(id))

	revoked, err = s.IsRevoked(id)
	require.NoError(t, err)
	assert.True(t, revoked)

	// Other ids are untouched
	revoked, err = s.IsRevoked([]byte{9, 9})
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRevokeAll(t *testing.T) {
	s := openTestStore(t)

	ids := [][]byte{{1}, {2}, {3}}
	require.NoError(t, s.RevokeAll(ids))

	for _, id := range ids {
		revoked, err := s.IsRevoked(id)
		require.NoError(t, err)
		assert.True(t, revoked)
	}
}

func TestRevokeRejectsEmptyID(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.Revoke(nil))
	assert.Error(t, s.RevokeAll([][]byte{{1}, nil}))
}

func TestEach(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.RevokeAll([][]byte{{1}, {2}}))

	var seen int
	err := s.Each(func(id []byte) error {
		seen++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, seen)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Revoke([]byte{7, 7}))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	revoked, err := s.IsRevoked([]byte{7, 7})
	require.NoError(t, err)
	assert.True(t, revoked)
}
