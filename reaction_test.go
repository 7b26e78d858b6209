package reactor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewChainMask_OrsValidIndices(t *testing.T) {
	m, err := NewChainMask(0, 3, 5)
	require.NoError(t, err)
	require.Equal(t, ChainMask(1<<0|1<<3|1<<5), m)
}

func TestNewChainMask_EmptyYieldsZero(t *testing.T) {
	m, err := NewChainMask()
	require.NoError(t, err)
	require.Equal(t, ChainMask(0), m)
}

func TestNewChainMask_RejectsOutOfRangeIndex(t *testing.T) {
	_, err := NewChainMask(0, 64)
	require.ErrorIs(t, err, ErrTooManyChains)

	_, err = NewChainMask(-1)
	require.ErrorIs(t, err, ErrTooManyChains)
}

func TestChainMask_Overlapping(t *testing.T) {
	a, err := NewChainMask(0, 1)
	require.NoError(t, err)
	b, err := NewChainMask(1, 2)
	require.NoError(t, err)
	c, err := NewChainMask(2)
	require.NoError(t, err)

	require.True(t, a.Overlapping(b))
	require.False(t, a.Overlapping(c))
}
