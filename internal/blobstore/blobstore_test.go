//go:build integration

package blobstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hbomb79/theapipe/internal/blobstore"
	"github.com/hbomb79/theapipe/internal/config"
	"github.com/stretchr/testify/require"
)

// newStoreFromEnv mirrors the teacher's NewS3StorageFromEnv skip-if-absent
// convention: this test only runs against a real S3-compatible endpoint,
// configured via environment variables, and is excluded from the default
// build (`go test ./...`) by its build tag.
func newStoreFromEnv(t *testing.T) *blobstore.Store {
	t.Helper()

	bucket := os.Getenv("BLOB_BUCKET")
	if bucket == "" {
		t.Skip("BLOB_BUCKET not set, skipping blob store integration test")
	}

	cfg := config.BlobConfig{
		Endpoint:        os.Getenv("BLOB_ENDPOINT"),
		Region:          os.Getenv("BLOB_REGION"),
		Bucket:          bucket,
		AccessKeyID:     os.Getenv("BLOB_ACCESS_KEY"),
		SecretAccessKey: os.Getenv("BLOB_SECRET_KEY"),
		UsePathStyle:    true,
		SignedURLTTL:    15 * time.Minute,
	}

	store, err := blobstore.New(context.Background(), cfg)
	require.NoError(t, err)
	return store
}

func TestPutGetDeleteRoundTrip(t *testing.T) {
	store := newStoreFromEnv(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "upload.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello blob store"), 0o644))

	key := "integration-test/upload.txt"
	require.NoError(t, store.PutFromDisk(ctx, key, src, blobstore.ACLPrivate))
	defer store.Delete(ctx, key)

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	require.True(t, exists)

	dst := filepath.Join(t.TempDir(), "download.txt")
	require.NoError(t, store.GetToDisk(ctx, key, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "hello blob store", string(got))

	require.NoError(t, store.Delete(ctx, key))

	exists, err = store.Exists(ctx, key)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestSignedURLIsNonEmpty(t *testing.T) {
	store := newStoreFromEnv(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "signed.txt")
	require.NoError(t, os.WriteFile(src, []byte("signed"), 0o644))

	key := "integration-test/signed.txt"
	require.NoError(t, store.PutFromDisk(ctx, key, src, blobstore.ACLPrivate))
	defer store.Delete(ctx, key)

	url, err := store.SignedURL(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, url)
}
