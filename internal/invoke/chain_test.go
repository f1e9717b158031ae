package invoke

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainChildIncrementsDepthAndHops(t *testing.T) {
	root := Root(time.Second, "trace-1")
	child, err := root.Child(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, 1, child.Hops)
	assert.Equal(t, "trace-1", child.TraceID)
}

func TestChainChildRejectsExceedingMaxDepth(t *testing.T) {
	c := Chain{MaxDepth: 1, Remaining: time.Second}
	_, err := c.Child(0, 0)
	require.NoError(t, err)

	c2 := Chain{Depth: 1, MaxDepth: 1, Remaining: time.Second}
	_, err = c2.Child(0, 0)
	assert.ErrorIs(t, err, ErrMaxDepthExceeded)
}

func TestChainChildRejectsExceedingMaxHops(t *testing.T) {
	c := Chain{Hops: 8, MaxHops: 8, Remaining: time.Second}
	_, err := c.Child(0, 0)
	assert.ErrorIs(t, err, ErrMaxHopsExceeded)
}

func TestChainChildNarrowsRemainingBudget(t *testing.T) {
	root := Root(time.Minute, "")
	child, err := root.Child(5*time.Second, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, child.Remaining)
}

func TestChainChildRejectsExhaustedBudget(t *testing.T) {
	root := Root(0, "")
	_, err := root.Child(0, 0)
	assert.ErrorIs(t, err, ErrBudgetExhausted)
}
