package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilityBitsAreDistinctPowersOfTwo(t *testing.T) {
	bits := []Bitmask{Read, Write, Delete, Restart, Shutdown, Snapshot, Console}
	var seen Bitmask
	for _, b := range bits {
		assert.Equal(t, Bitmask(0), b&(b-1), "bit %d is not a power of two", b)
		assert.Equal(t, Bitmask(0), seen&b, "bit %d reused", b)
		seen |= b
	}
}

func TestHasRequiresEveryBit(t *testing.T) {
	assert.True(t, Has(Read|Write, Read))
	assert.True(t, Has(Read|Write, Read|Write))
	assert.False(t, Has(Read, Write))
	assert.False(t, Has(Read, Read|Write))
	assert.True(t, Has(0, 0))
	assert.True(t, Has(Read|1<<40, Read))
}

func TestNamesListsKnownBits(t *testing.T) {
	assert.Equal(t, []string{"read", "write"}, (Read | Write).Names())
	assert.Empty(t, Bitmask(1<<50).Names())
}

func TestParseKind(t *testing.T) {
	for raw, want := range map[string]ResourceKind{"server": KindServer, "servers": KindServer, "VM": KindVM, " vms ": KindVM} {
		got, err := ParseKind(raw)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseKind("container")
	assert.ErrorIs(t, err, ErrInvalidKind)
}
