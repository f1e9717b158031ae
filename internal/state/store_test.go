package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

func grantedSpec() execreq.StatePermission {
	return execreq.StatePermission{
		Namespaces: map[string]struct {
			Read  bool `yaml:"read,omitempty" json:"read,omitempty"`
			Write bool `yaml:"write,omitempty" json:"write,omitempty"`
		}{
			"cache": {Read: true, Write: true},
			"ro":    {Read: true, Write: false},
		},
	}
}

func TestScopedSetAndGet(t *testing.T) {
	s := NewScoped(New(), "plugin-a", grantedSpec())
	require.NoError(t, s.Set("cache", "k", "v"))
	v, ok, err := s.Get("cache", "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestScopedDeniesUngrantedNamespace(t *testing.T) {
	s := NewScoped(New(), "plugin-a", grantedSpec())
	_, _, err := s.Get("secrets", "k")
	assert.Error(t, err)
	assert.Error(t, s.Set("secrets", "k", "v"))
}

func TestScopedReadOnlyNamespaceDeniesWrite(t *testing.T) {
	s := NewScoped(New(), "plugin-a", grantedSpec())
	assert.Error(t, s.Set("ro", "k", "v"))
}

func TestScopedIsolatedPerPlugin(t *testing.T) {
	store := New()
	a := NewScoped(store, "plugin-a", grantedSpec())
	b := NewScoped(store, "plugin-b", grantedSpec())

	require.NoError(t, a.Set("cache", "k", "a-value"))
	_, ok, err := b.Get("cache", "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScopedDeleteAndKeys(t *testing.T) {
	s := NewScoped(New(), "plugin-a", grantedSpec())
	require.NoError(t, s.Set("cache", "k1", 1))
	require.NoError(t, s.Set("cache", "k2", 2))
	require.NoError(t, s.Delete("cache", "k1"))

	keys, err := s.Keys("cache")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"k2"}, keys)
}
