package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMappingTablePutAndLookup(t *testing.T) {
	table := NewMappingTable()
	table.Put(EntityResponsavel, "tmp-1", 10)
	table.Put(EntityAluno, "tmp-1", 20)

	id, ok := table.Lookup(EntityResponsavel, "tmp-1")
	assert.True(t, ok)
	assert.Equal(t, uint(10), id)

	// Same local id under a different entity is a distinct key.
	id, ok = table.Lookup(EntityAluno, "tmp-1")
	assert.True(t, ok)
	assert.Equal(t, uint(20), id)

	_, ok = table.Lookup(EntityTurma, "tmp-1")
	assert.False(t, ok)
}

func TestMappingTableResolve(t *testing.T) {
	table := NewMappingTable()
	table.Put(EntityAluno, "tmp-9", 42)
	// A mapping beats a numeric-looking local id.
	table.Put(EntityAluno, "7", 99)

	id, ok := table.Resolve(EntityAluno, "tmp-9")
	assert.True(t, ok)
	assert.Equal(t, uint(42), id)

	id, ok = table.Resolve(EntityAluno, "7")
	assert.True(t, ok)
	assert.Equal(t, uint(99), id)

	// Unmapped numeric values are already-canonical ids.
	id, ok = table.Resolve(EntityAluno, "123")
	assert.True(t, ok)
	assert.Equal(t, uint(123), id)

	// Unmapped non-numeric values are unresolved dependencies.
	_, ok = table.Resolve(EntityAluno, "tmp-unknown")
	assert.False(t, ok)

	_, ok = table.Resolve(EntityAluno, "")
	assert.False(t, ok)

	_, ok = table.Resolve(EntityAluno, "0")
	assert.False(t, ok)
}

func TestMappingTableRePut(t *testing.T) {
	table := NewMappingTable()
	table.Put(EntityResponsavel, "b", 2)
	// Re-putting an existing key keeps the latest canonical id.
	table.Put(EntityResponsavel, "b", 4)

	id, ok := table.Lookup(EntityResponsavel, "b")
	assert.True(t, ok)
	assert.Equal(t, uint(4), id)
}
