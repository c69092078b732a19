package datalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbolTableReservedRange(t *testing.T) {
	table := NewSymbolTable()

	id, ok := table.Lookup("read")
	require.True(t, ok)
	assert.Equal(t, uint64(0), id)

	id, ok = table.Lookup("operation")
	require.True(t, ok)
	assert.Equal(t, uint64(3), id)

	s, err := table.Str(4)
	require.NoError(t, err)
	assert.Equal(t, "right", s)
}

func TestSymbolTableUserIdsStartAtOffset(t *testing.T) {
	table := NewSymbolTable()

	id := table.Insert("file1")
	assert.Equal(t, uint64(ReservedSymbolOffset), id)

	// Idempotent insert
	assert.Equal(t, id, table.Insert("file1"))

	id2 := table.Insert("file2")
	assert.Equal(t, uint64(ReservedSymbolOffset+1), id2)

	s, err := table.Str(id2)
	require.NoError(t, err)
	assert.Equal(t, "file2", s)

	// Reserved strings resolve to reserved ids, not new ones
	assert.Equal(t, uint64(0), table.Insert("read"))
}

func TestSymbolTableUnknownId(t *testing.T) {
	table := NewSymbolTable()
	_, err := table.Str(ReservedSymbolOffset + 10)
	assert.ErrorIs(t, err, ErrUnknownSymbol)
	_, err = table.Str(500)
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestSymbolTableExtendRejectsOverlap(t *testing.T) {
	table := NewSymbolTable()
	require.NoError(t, table.Extend([]string{"a", "b"}))

	err := table.Extend([]string{"c", "b"})
	assert.ErrorIs(t, err, ErrSymbolTableOverlap)

	err = table.Extend([]string{"read"})
	assert.ErrorIs(t, err, ErrSymbolTableOverlap, "reserved strings cannot be redeclared")
}

func TestSymbolTableSplitOff(t *testing.T) {
	table := NewSymbolTable()
	table.Insert("a")
	n := table.Len()
	table.Insert("b")
	table.Insert("c")

	assert.Equal(t, []string{"b", "c"}, table.SplitOff(n))
	assert.Nil(t, table.SplitOff(3))
}

func TestPublicKeyTable(t *testing.T) {
	table := NewPublicKeyTable()

	k1 := []byte{1, 2, 3}
	k2 := []byte{4, 5, 6}

	id1 := table.Insert(k1)
	assert.Equal(t, uint64(0), id1)
	assert.Equal(t, id1, table.Insert(k1))
	assert.Equal(t, uint64(1), table.Insert(k2))

	got, err := table.Key(1)
	require.NoError(t, err)
	assert.Equal(t, k2, got)

	_, err = table.Key(5)
	assert.ErrorIs(t, err, ErrUnknownPublicKey)

	err = table.Extend([][]byte{k1})
	assert.ErrorIs(t, err, ErrPublicKeyTableOverlap)
}
