// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package simulated

import (
	"bytes"
	"nvmesntl/pkg/common"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backingStores(t *testing.T, size uint64) map[string]BackingStore {
	file, err := NewFileBackingStore(filepath.Join(t.TempDir(), "namespace.img"), size)
	require.NoError(t, err)
	t.Cleanup(func() { _ = file.Close() })
	return map[string]BackingStore{
		"memory": NewMemoryBackingStore(size),
		"file":   file,
	}
}

func TestBackingStoreReadWrite(t *testing.T) {
	const size = 4 * memoryChunkSize
	for name, store := range backingStores(t, size) {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, uint64(size), store.Size())

			unwritten, err := store.Read(100, 300)
			require.NoError(t, err)
			assert.Equal(t, make([]byte, 300), unwritten)

			// Spans a chunk boundary.
			payload := bytes.Repeat([]byte{0xa5}, 1000)
			offset := uint64(memoryChunkSize - 500)
			require.NoError(t, store.Write(payload, offset))
			stored, err := store.Read(offset, 1000)
			require.NoError(t, err)
			assert.Equal(t, payload, stored)

			around, err := store.Read(offset-1, 1002)
			require.NoError(t, err)
			assert.Equal(t, byte(0), around[0])
			assert.Equal(t, byte(0), around[1001])

			require.NoError(t, store.Unmap(offset+100, 200))
			stored, err = store.Read(offset, 1000)
			require.NoError(t, err)
			assert.Equal(t, make([]byte, 200), stored[100:300])
			assert.Equal(t, payload[300:], stored[300:])
			require.NoError(t, store.DataSync())
		})
	}
}

func TestBackingStoreRange(t *testing.T) {
	for name, store := range backingStores(t, 8192) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Read(8000, 193)
			assert.True(t, errors.Is(err, common.ErrBadParams))
			err = store.Write(make([]byte, 2), 8191)
			assert.True(t, errors.Is(err, common.ErrBadParams))
			err = store.Unmap(^uint64(0), 2)
			assert.True(t, errors.Is(err, common.ErrBadParams))
			_, err = store.Read(8191, 1)
			assert.NoError(t, err)
		})
	}
}

func TestMemoryBackingStoreUnmapReleasesChunks(t *testing.T) {
	store := NewMemoryBackingStore(4 * memoryChunkSize)
	require.NoError(t, store.Write([]byte{1}, memoryChunkSize))
	require.NoError(t, store.Write([]byte{2}, 3*memoryChunkSize))
	assert.Len(t, store.chunks, 2)

	require.NoError(t, store.Unmap(0, 2*memoryChunkSize))
	assert.Len(t, store.chunks, 1)
	assert.Equal(t, "", store.GetPath())
}

func TestFileBackingStoreKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "namespace.img")
	store, err := NewFileBackingStore(path, 4096)
	require.NoError(t, err)
	require.NoError(t, store.Write([]byte("persisted"), 512))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), info.Size())

	store, err = NewFileBackingStore(path, 4096)
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, path, store.GetPath())
	stored, err := store.Read(512, 9)
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), stored)
}
