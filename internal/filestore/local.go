package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalPrefix is the directory segment of every Local locator. Locators
// double as the URL path the object is served from.
const LocalPrefix = "uploads/"

// ErrForeignLocator is returned for locators Local did not issue.
var ErrForeignLocator = errors.New("locator not issued by this backend")

// Local keeps files in a directory. Locators look like
// "/uploads/<uuid>-<sanitized name>".
type Local struct {
	dir     string
	baseURL string
}

func NewLocal(dir, baseURL string) (*Local, error) {
	if dir == "" {
		dir = "uploads"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &Local{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (l *Local) Name() string { return "local" }

// Dir is the directory holding the files.
func (l *Local) Dir() string { return l.dir }

func (l *Local) Store(ctx context.Context, data []byte, meta Metadata) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", storageErr("store", err)
	}
	name := fmt.Sprintf("%s-%s", uuid.NewString(), SanitizeFilename(meta.OriginalName))

	tmp, err := os.CreateTemp(l.dir, ".upload-*")
	if err != nil {
		return "", storageErr("store", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", storageErr("store", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", storageErr("store", err)
	}
	if err := ctx.Err(); err != nil {
		_ = os.Remove(tmpName)
		return "", storageErr("store", err)
	}
	if err := os.Rename(tmpName, filepath.Join(l.dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return "", storageErr("store", err)
	}
	return "/" + LocalPrefix + name, nil
}

func (l *Local) Delete(ctx context.Context, locator string) error {
	if err := ctx.Err(); err != nil {
		return storageErr("delete", err)
	}
	name, err := localName(locator)
	if err != nil {
		return storageErr("delete", err)
	}
	if err := os.Remove(filepath.Join(l.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storageErr("delete", err)
	}
	return nil
}

func (l *Local) ResolveDownloadURL(locator, filename string) string {
	name, err := localName(locator)
	if err != nil {
		return ""
	}
	if filename == "" {
		filename = name
	}
	return l.baseURL + "/" + LocalPrefix + url.PathEscape(name) + "?download=" + url.QueryEscape(filename)
}

type localObject struct {
	*os.File
	modTime time.Time
}

func (o localObject) ModTime() time.Time { return o.modTime }

// Open returns the stored file. Missing files match fs.ErrNotExist.
func (l *Local) Open(locator string) (Object, error) {
	name, err := localName(locator)
	if err != nil {
		return nil, fs.ErrNotExist
	}
	f, err := os.Open(filepath.Join(l.dir, name))
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, fs.ErrNotExist
	}
	return localObject{File: f, modTime: info.ModTime()}, nil
}

// localName extracts the file name from a locator, rejecting anything
// that could escape the upload directory.
func localName(locator string) (string, error) {
	locator = strings.TrimPrefix(locator, "/")
	if !strings.HasPrefix(locator, LocalPrefix) {
		return "", ErrForeignLocator
	}
	name := strings.TrimPrefix(locator, LocalPrefix)
	if name == "" || name != path.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, "\\\x00") || strings.HasPrefix(name, ".") {
		return "", ErrForeignLocator
	}
	return name, nil
}
