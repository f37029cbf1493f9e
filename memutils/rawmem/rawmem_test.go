package rawmem_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/buddypool/memutils/rawmem"
)

func TestAnonymousAcquireRelease(t *testing.T) {
	buffer, err := rawmem.Anonymous{}.Acquire(1000)
	require.NoError(t, err)
	require.Len(t, buffer, 1000)

	for i := range buffer {
		require.Zero(t, buffer[i])
	}

	buffer[0] = 0xAB
	buffer[999] = 0xCD
	require.NoError(t, rawmem.Anonymous{}.Release(buffer))
}

func TestAcquireInvalidSize(t *testing.T) {
	_, err := rawmem.Anonymous{}.Acquire(0)
	require.Error(t, err)

	_, err = rawmem.Heap{}.Acquire(-1)
	require.Error(t, err)
}

func TestFileMappingPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.bin")

	mapping, err := rawmem.MapFile(path, 4096)
	require.NoError(t, err)
	require.Len(t, mapping.Bytes(), 4096)

	copy(mapping.Bytes()[100:], []byte("buddy"))
	require.NoError(t, mapping.Sync())
	require.NoError(t, mapping.Close())
	require.Nil(t, mapping.Bytes())
	require.Error(t, mapping.Close())

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, contents, 4096)
	require.Equal(t, "buddy", string(contents[100:105]))

	mapping, err = rawmem.MapFile(path, 4096)
	require.NoError(t, err)
	require.Equal(t, "buddy", string(mapping.Bytes()[100:105]))
	require.NoError(t, mapping.Release(mapping.Bytes()))
}
