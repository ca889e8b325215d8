package s3

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/hupe1980/sparsego/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_Store(t *testing.T) {
	bucket := os.Getenv("S3_BUCKET")
	if bucket == "" {
		t.Skip("S3_BUCKET not set")
	}

	ctx := context.Background()
	store, err := New(ctx, bucket, fmt.Sprintf("sparsego-it-%d/", time.Now().UnixNano()))
	require.NoError(t, err)

	data := make([]byte, 256*1024)
	_, _ = rand.Read(data)

	w, err := store.Create(ctx, "segment_000001.sps")
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	got, err := blobstore.ReadAll(ctx, store, "segment_000001.sps")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	names, err := store.List(ctx, "segment_")
	require.NoError(t, err)
	assert.Equal(t, []string{"segment_000001.sps"}, names)

	require.NoError(t, store.Delete(ctx, "segment_000001.sps"))
	_, err = store.Open(ctx, "segment_000001.sps")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
