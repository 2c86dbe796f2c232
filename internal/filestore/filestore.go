// Package filestore stores uploaded file content. Two interchangeable
// backends exist: Local (a directory on disk) and Cloudinary. The
// choice is made once by New and injected wherever files are touched.
package filestore

import (
	"context"
	"fmt"
	"io"
	"time"

	"droproom/internal/room"
)

// Metadata describes an upload.
type Metadata struct {
	OriginalName string
	MimeType     string
}

// Backend is the storage capability used by uploads and the cleanup sweep.
// Locators are opaque strings meaningful only to the backend that made them.
type Backend interface {
	Name() string
	Store(ctx context.Context, data []byte, meta Metadata) (string, error)
	// Delete removes the object. A missing object is not an error.
	Delete(ctx context.Context, locator string) error
	// ResolveDownloadURL returns a URL that serves the object as an
	// attachment named filename.
	ResolveDownloadURL(locator, filename string) string
}

// Object is a locally served file.
type Object interface {
	io.ReadSeekCloser
	ModTime() time.Time
}

// Opener is implemented by backends whose objects are served by this
// process rather than by a remote host.
type Opener interface {
	Open(locator string) (Object, error)
}

// CloudinaryConfig holds remote store credentials.
type CloudinaryConfig struct {
	CloudName string `yaml:"cloud_name"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Folder    string `yaml:"folder"`
}

// Enabled reports whether every credential is present.
func (c CloudinaryConfig) Enabled() bool {
	return c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// Config selects and configures a backend.
type Config struct {
	UploadDir     string
	PublicBaseURL string
	Cloudinary    CloudinaryConfig
}

// New returns Cloudinary when its credentials are configured and Local otherwise.
func New(cfg Config) (Backend, error) {
	if cfg.Cloudinary.Enabled() {
		return NewCloudinary(cfg.Cloudinary)
	}
	return NewLocal(cfg.UploadDir, cfg.PublicBaseURL)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", room.ErrStorage, op, err)
}
