package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "offsets.db")

	s, err := Open(path)
	require.NoError(t, err)

	_, ok, err := s.Load("/var/log/nginx/access.log")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save("/var/log/nginx/access.log", 1024))
	require.NoError(t, s.Save("/var/log/nginx/other.log", 7))
	require.NoError(t, s.Save("/var/log/nginx/access.log", 2048))

	offset, ok, err := s.Load("/var/log/nginx/access.log")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2048), offset)

	all, err := s.All()
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{
		"/var/log/nginx/access.log": 2048,
		"/var/log/nginx/other.log":  7,
	}, all)

	require.NoError(t, s.Delete("/var/log/nginx/other.log"))
	_, ok, err = s.Load("/var/log/nginx/other.log")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Close())
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsets.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save("access.log", 99))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	offset, ok, err := s.Load("access.log")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(99), offset)
}
