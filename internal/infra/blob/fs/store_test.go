package fs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"sliptacore/internal/blob/core"
)

func TestSanitizeKey(t *testing.T) {
	for _, key := range []string{"", "  ", "/abs/path", "../escape", "a/../../b", "a/b.meta"} {
		_, err := sanitizeKey(key)
		require.Error(t, err, "key %q", key)
	}
	clean, err := sanitizeKey("evidence//audit-1/./1.1/file.txt")
	require.NoError(t, err)
	require.Equal(t, "evidence/audit-1/1.1/file.txt", clean)
}

func TestPutWritesSidecarAndETag(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	require.NoError(t, err)
	require.Equal(t, root, store.Root())
	require.Equal(t, core.DriverFilesystem, store.Driver())

	info, err := store.Put(context.Background(), "evidence/a/1.1/photo.jpg", strings.NewReader("jpeg"), core.PutOptions{
		ContentType: "image/jpeg",
		Metadata:    map[string]string{"uploaded_by": "auditor-1"},
	})
	require.NoError(t, err)
	// sha256("jpeg")
	require.Len(t, info.ETag, 64)
	require.Equal(t, "auditor-1", info.Metadata["uploaded_by"])

	_, err = os.Stat(filepath.Join(root, "evidence", "a", "1.1", "photo.jpg.meta"))
	require.NoError(t, err)

	head, err := store.Head(context.Background(), "evidence/a/1.1/photo.jpg")
	require.NoError(t, err)
	require.Equal(t, info.ETag, head.ETag)
	require.Equal(t, "http://local.blob/evidence/a/1.1/photo.jpg", head.URL)

	url, err := store.PresignURL(context.Background(), "evidence/a/1.1/photo.jpg", core.SignedURLOptions{})
	require.NoError(t, err)
	require.Equal(t, head.URL, url)
	_, err = store.PresignURL(context.Background(), "evidence/a/1.1/photo.jpg", core.SignedURLOptions{Method: "PUT"})
	require.ErrorIs(t, err, core.ErrUnsupported)
}

func TestCancelledContext(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Put(ctx, "k", strings.NewReader("v"), core.PutOptions{})
	require.ErrorIs(t, err, context.Canceled)
	_, err = store.Head(ctx, "k")
	require.ErrorIs(t, err, context.Canceled)
}
