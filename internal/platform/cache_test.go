package platform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheGetSetDelete(t *testing.T) {
	c := NewCache()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("key", "value", 0)
	v, ok := c.Get("key")
	assert.True(t, ok)
	assert.Equal(t, "value", v)

	c.Delete("key")
	_, ok = c.Get("key")
	assert.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache()
	c.Set("key", "value", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("key")
	assert.False(t, ok, "expired entry must not be returned")
}
