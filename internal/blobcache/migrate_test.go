package blobcache_test

import (
	"context"
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ferry/internal/blobcache"
)

// seedForm writes a blob under key the way older clients stored it.
type seedForm func(t *testing.T, cache *blobcache.Cache, key string, payload []byte)

func seedLegacy(t *testing.T, cache *blobcache.Cache, key string, payload []byte) {
	t.Helper()
	require.NoError(t, cache.Store().PutBytes(context.Background(), "blobs", key, payload))
}

func seedDataURL(t *testing.T, cache *blobcache.Cache, key string, payload []byte) {
	t.Helper()
	dataURL := "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(payload)
	stored := string(blobcache.InferCategory(key)) + "/" + key
	require.NoError(t, cache.Store().PutText(context.Background(), "blobs", stored, dataURL))
}

func readOnce(t *testing.T, cache *blobcache.Cache, key string) ([]byte, bool) {
	t.Helper()
	h, found, err := cache.Get(context.Background(), key)
	require.NoError(t, err)
	if !found {
		return nil, false
	}
	defer h.Release()
	data, err := h.Bytes()
	require.NoError(t, err)
	return data, true
}

func TestMutationAfterReadWinsOverMigration(t *testing.T) {
	forms := map[string]seedForm{
		"legacy":   seedLegacy,
		"data_url": seedDataURL,
	}
	mutations := map[string]struct {
		mutate func(t *testing.T, cache *blobcache.Cache, key string)
		want   []byte
	}{
		"delete": {
			mutate: func(t *testing.T, cache *blobcache.Cache, key string) {
				require.NoError(t, cache.Delete(context.Background(), key))
			},
		},
		"save": {
			mutate: func(t *testing.T, cache *blobcache.Cache, key string) {
				_, err := cache.Save(context.Background(), key, []byte("new"), "")
				require.NoError(t, err)
			},
			want: []byte("new"),
		},
		"garbage_collect": {
			mutate: func(t *testing.T, cache *blobcache.Cache, key string) {
				_, err := cache.GarbageCollect(context.Background(), map[string]struct{}{})
				require.NoError(t, err)
			},
		},
	}

	for formName, seed := range forms {
		for mutName, mut := range mutations {
			t.Run(formName+"/"+mutName, func(t *testing.T) {
				cache := openCache(t)
				for i := range 20 {
					key := fmt.Sprintf("sticker_%d", i)
					seed(t, cache, key, []byte("old"))

					got, found := readOnce(t, cache, key)
					require.True(t, found)
					require.Equal(t, []byte("old"), got)

					mut.mutate(t, cache, key)
					cache.Wait()

					got, found = readOnce(t, cache, key)
					if mut.want == nil {
						assert.False(t, found, "iteration %d: %q came back as %q", i, key, got)
						continue
					}
					require.True(t, found, "iteration %d", i)
					assert.Equal(t, mut.want, got, "iteration %d", i)
				}
			})
		}
	}
}

func TestMigrationStillAppliesWhenUntouched(t *testing.T) {
	cache := openCache(t)
	ctx := context.Background()
	seedLegacy(t, cache, "photo_quiet", []byte("quiet"))
	seedDataURL(t, cache, "sticker_quiet", []byte("quiet"))

	for _, key := range []string{"photo_quiet", "sticker_quiet"} {
		_, found := readOnce(t, cache, key)
		require.True(t, found, key)
	}
	cache.Wait()

	infos, err := cache.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	for _, info := range infos {
		assert.False(t, info.Legacy, info.StorageKey)
	}
	entry, found, err := cache.Store().GetEntry(ctx, "blobs", "sticker/sticker_quiet")
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, entry.Text)
	assert.Equal(t, []byte("quiet"), entry.Data)
}
