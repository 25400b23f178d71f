package objects

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/docchat/internal/domain"
)

func newLocal(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocal(filepath.Join(t.TempDir(), "objects"), "http://127.0.0.1:4100/files/")
	require.NoError(t, err)
	return s
}

func TestLocal_SaveOpenRoundTrip(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()

	name, err := s.Save(ctx, "Quarterly Report.PDF", strings.NewReader("%PDF-1.4 body"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(name, ".pdf"), "extension kept and lowercased: %s", name)
	assert.Len(t, name, 36+len(".pdf"))

	rc, err := s.Open(ctx, name)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 body", string(body))

	ok, err := s.Exists(ctx, name)
	require.NoError(t, err)
	assert.True(t, ok)

	size, err := s.Size(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, int64(len("%PDF-1.4 body")), size)

	assert.Equal(t, "http://127.0.0.1:4100/files/"+name, s.URL(name))
}

func TestLocal_SaveGivesUniqueNames(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()

	a, err := s.Save(ctx, "notes.txt", strings.NewReader("a"))
	require.NoError(t, err)
	b, err := s.Save(ctx, "notes.txt", strings.NewReader("b"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestLocal_MissingObject(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()

	_, err := s.Open(ctx, "missing.txt")
	assert.True(t, errors.Is(err, domain.ErrStorage))
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	ok, err := s.Exists(ctx, "missing.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	size, err := s.Size(ctx, "missing.txt")
	require.NoError(t, err)
	assert.Zero(t, size)

	assert.NoError(t, s.Delete(ctx, "missing.txt"), "deleting a missing object is not an error")
}

func TestLocal_Delete(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()

	name, err := s.Save(ctx, "a.md", strings.NewReader("# hi"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, name))

	ok, err := s.Exists(ctx, name)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocal_RejectsTraversal(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()

	for _, name := range []string{"", "..", "../secret", "a/b.txt", `a\b.txt`} {
		_, err := s.Open(ctx, name)
		assert.Error(t, err, "name %q", name)
	}
}

func TestLocal_SaveLeavesNoTempFiles(t *testing.T) {
	s := newLocal(t)
	_, err := s.Save(context.Background(), "x.txt", strings.NewReader("x"))
	require.NoError(t, err)

	entries, err := os.ReadDir(s.dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/pdf", ContentType("a.pdf"))
	assert.Contains(t, ContentType("a.txt"), "text/plain")
	assert.Contains(t, ContentType("a.md"), "markdown")
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.wordprocessingml.document", ContentType("a.docx"))
	assert.Equal(t, "application/octet-stream", ContentType("a.unknownext"))
}
