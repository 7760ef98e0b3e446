package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	id := uuid.MustParse("7b0b7c2e-6a51-4d3c-9a63-0f6b3f1d2a10")
	assert.Equal(t, "submissions/7b0b7c2e-6a51-4d3c-9a63-0f6b3f1d2a10/SE123456_A.docx", DocumentKey(id, "SE123456_A.docx"))
	assert.Equal(t, "submissions/7b0b7c2e-6a51-4d3c-9a63-0f6b3f1d2a10/images/image1.png", ImageKey(id, "word/media/image1.png"))
	assert.Equal(t, "submissions/7b0b7c2e-6a51-4d3c-9a63-0f6b3f1d2a10/images/evil.png", ImageKey(id, `..\..\evil.png`))
}

func TestLocalStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	key := "submissions/abc/images/image1.png"
	require.NoError(t, s.Put(ctx, key, strings.NewReader("png-bytes"), 9, "image/png"))

	rc, err := s.Open(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key), "deleting a missing object is not an error")
	_, err = s.Open(ctx, key)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	err = s.Put(context.Background(), "../outside.txt", strings.NewReader("x"), 1, "text/plain")
	assert.Error(t, err)
}

func TestPutFile(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "SE123456_A.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	n, err := PutFile(ctx, s, "submissions/x/SE123456_A.txt", src)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.FileExists(t, filepath.Join(s.Root, "submissions", "x", "SE123456_A.txt"))
}
