package filestore

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"droproom/internal/room"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(t.TempDir(), "http://files.test")
	require.NoError(t, err)
	return l
}

func TestLocalStoreOpenDelete(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	locator, err := l.Store(ctx, []byte("hello"), Metadata{OriginalName: "notes.txt", MimeType: "text/plain"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(locator, "/"+LocalPrefix))
	assert.True(t, strings.HasSuffix(locator, "-notes.txt"))

	obj, err := l.Open(locator)
	require.NoError(t, err)
	data, err := io.ReadAll(obj)
	require.NoError(t, err)
	require.NoError(t, obj.Close())
	assert.Equal(t, "hello", string(data))

	require.NoError(t, l.Delete(ctx, locator))
	_, err = l.Open(locator)
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	// Deleting again is not an error.
	require.NoError(t, l.Delete(ctx, locator))
	require.NoError(t, l.Delete(ctx, strings.TrimPrefix(locator, "/")))
}

func TestLocalStoreLeavesNoTempFiles(t *testing.T) {
	l := newTestLocal(t)
	_, err := l.Store(context.Background(), []byte("x"), Metadata{OriginalName: "a.bin"})
	require.NoError(t, err)

	entries, err := os.ReadDir(l.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, strings.HasPrefix(entries[0].Name(), "."))
}

func TestLocalStoreCanceled(t *testing.T) {
	l := newTestLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Store(ctx, []byte("x"), Metadata{OriginalName: "a.bin"})
	assert.ErrorIs(t, err, room.ErrStorage)
	entries, _ := os.ReadDir(l.Dir())
	assert.Empty(t, entries)
}

func TestLocalRejectsForeignLocators(t *testing.T) {
	l := newTestLocal(t)
	outside := filepath.Join(filepath.Dir(l.Dir()), "outside.txt")
	require.NoError(t, os.WriteFile(outside, []byte("keep"), 0o644))

	for _, locator := range []string{
		"uploads/../outside.txt",
		"uploads/",
		"other/file.txt",
		"https://res.cloudinary.com/demo/image/upload/v1/x.png",
	} {
		err := l.Delete(context.Background(), locator)
		assert.ErrorIs(t, err, room.ErrStorage, locator)
		assert.ErrorIs(t, err, ErrForeignLocator, locator)
	}
	_, err := os.Stat(outside)
	assert.NoError(t, err)
}

func TestLocalResolveDownloadURL(t *testing.T) {
	l := newTestLocal(t)
	got := l.ResolveDownloadURL("uploads/abc-report final.pdf", "report final.pdf")

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "files.test", u.Host)
	assert.Equal(t, "/uploads/abc-report final.pdf", u.Path)
	assert.Equal(t, "report final.pdf", u.Query().Get("download"))

	assert.Empty(t, l.ResolveDownloadURL("elsewhere/x", "x"))
}

func TestLocalRoundTripOverHTTP(t *testing.T) {
	l := newTestLocal(t)
	locator, err := l.Store(context.Background(), []byte("payload"), Metadata{OriginalName: "p.txt"})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		obj, err := l.Open(r.URL.Path)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer obj.Close()
		http.ServeContent(w, r, "", obj.ModTime(), obj)
	}))
	defer srv.Close()

	l.baseURL = srv.URL
	resp, err := http.Get(l.ResolveDownloadURL(locator, "p.txt"))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "payload", string(body))
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"report.pdf":         "report.pdf",
		"../../etc/passwd":   "passwd",
		"C:\\temp\\evil.exe": "evil.exe",
		".hidden":            "hidden",
		"":                   "unnamed",
		"a\x00b?.txt":        "ab_.txt",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeFilename(in), in)
	}

	long := strings.Repeat("x", 300) + ".txt"
	got := SanitizeFilename(long)
	assert.Len(t, []rune(got), maxNameLength)
	assert.True(t, strings.HasSuffix(got, ".txt"))
}

func TestNewSelectsBackend(t *testing.T) {
	dir := t.TempDir()
	b, err := New(Config{UploadDir: dir, PublicBaseURL: "http://x"})
	require.NoError(t, err)
	assert.Equal(t, "local", b.Name())

	b, err = New(Config{UploadDir: dir, Cloudinary: CloudinaryConfig{CloudName: "demo", APIKey: "k"}})
	require.NoError(t, err)
	assert.Equal(t, "local", b.Name(), "partial credentials fall back to local")

	b, err = New(Config{UploadDir: dir, Cloudinary: CloudinaryConfig{CloudName: "demo", APIKey: "k", APISecret: "s"}})
	require.NoError(t, err)
	assert.Equal(t, "cloudinary", b.Name())
}
