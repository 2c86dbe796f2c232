package filestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/google/uuid"
)

const (
	DefaultFolder = "fileshare-uploads"

	resourceImage = "image"
	resourceRaw   = "raw"

	deliveryHost = "res.cloudinary.com"
)

var versionSegment = regexp.MustCompile(`^v[0-9]+$`)

// cloudAPI is the subset of the Cloudinary upload API used here.
type cloudAPI interface {
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
	Destroy(ctx context.Context, params uploader.DestroyParams) (*uploader.DestroyResult, error)
}

// Cloudinary keeps files in a Cloudinary folder. The locator is the
// secure delivery URL; the public id and resource type are derived from it.
// Only assets of the configured cloud inside the folder are ever destroyed.
type Cloudinary struct {
	api    cloudAPI
	cloud  string
	folder string
}

func NewCloudinary(cfg CloudinaryConfig) (*Cloudinary, error) {
	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("cloudinary client: %w", err)
	}
	return newCloudinary(&cld.Upload, cfg.CloudName, cfg.Folder), nil
}

func newCloudinary(api cloudAPI, cloud, folder string) *Cloudinary {
	folder = strings.Trim(folder, "/")
	if folder == "" {
		folder = DefaultFolder
	}
	return &Cloudinary{api: api, cloud: cloud, folder: folder}
}

func (c *Cloudinary) Name() string { return "cloudinary" }

func (c *Cloudinary) Store(ctx context.Context, data []byte, meta Metadata) (string, error) {
	resourceType := resourceTypeFor(meta.MimeType)
	res, err := c.api.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
		PublicID:     c.publicID(meta.OriginalName, resourceType),
		ResourceType: resourceType,
	})
	if err != nil {
		return "", storageErr("store", err)
	}
	if res == nil || res.SecureURL == "" {
		return "", storageErr("store", errors.New("upload returned no url"))
	}
	return res.SecureURL, nil
}

func (c *Cloudinary) Delete(ctx context.Context, locator string) error {
	resourceType, publicID, err := c.owned(locator)
	if err != nil {
		return storageErr("delete", err)
	}
	res, err := c.api.Destroy(ctx, uploader.DestroyParams{
		PublicID:     publicID,
		ResourceType: resourceType,
	})
	if err != nil {
		return storageErr("delete", err)
	}
	if res == nil {
		return storageErr("delete", errors.New("destroy returned no result"))
	}
	switch res.Result {
	case "ok", "not found":
		return nil
	default:
		return storageErr("delete", fmt.Errorf("destroy %s: %q", publicID, res.Result))
	}
}

// ResolveDownloadURL adds an attachment flag to the delivery URL. Unknown
// locators are returned unchanged.
func (c *Cloudinary) ResolveDownloadURL(locator, filename string) string {
	const marker = "/upload/"
	i := strings.Index(locator, marker)
	if i < 0 {
		return locator
	}
	flag := "fl_attachment"
	if name := slug(strings.TrimSuffix(filename, path.Ext(filename))); name != "" {
		flag += ":" + name
	}
	head, tail := locator[:i+len(marker)], locator[i+len(marker):]
	tail = strings.TrimPrefix(tail, flagSegment(tail))
	return head + flag + "/" + tail
}

func (c *Cloudinary) publicID(originalName, resourceType string) string {
	name := SanitizeFilename(originalName)
	ext := path.Ext(name)
	stem := slug(strings.TrimSuffix(name, ext))
	id := uuid.NewString()
	if stem != "" {
		id += "-" + stem
	}
	// Raw resources keep their extension in the public id.
	if resourceType == resourceRaw {
		if e := slug(strings.TrimPrefix(ext, ".")); e != "" {
			id += "." + e
		}
	}
	return c.folder + "/" + id
}

func resourceTypeFor(mimeType string) string {
	if strings.HasPrefix(strings.ToLower(mimeType), "image/") {
		return resourceImage
	}
	return resourceRaw
}

// owned parses locator and rejects assets outside this cloud and folder.
func (c *Cloudinary) owned(locator string) (string, string, error) {
	cloud, resourceType, publicID, err := parseLocator(locator)
	if err != nil {
		return "", "", err
	}
	if (c.cloud != "" && cloud != c.cloud) || !strings.HasPrefix(publicID, c.folder+"/") {
		return "", "", fmt.Errorf("%w: %q", ErrForeignLocator, locator)
	}
	return resourceType, publicID, nil
}

// parseLocator turns a delivery URL such as
// https://res.cloudinary.com/<cloud>/image/upload/v1712/folder/id.png
// into its cloud name, resource type and public id.
func parseLocator(locator string) (cloud, resourceType, publicID string, err error) {
	u, err := url.Parse(locator)
	if err != nil || !strings.EqualFold(u.Host, deliveryHost) {
		return "", "", "", fmt.Errorf("%w: %q", ErrForeignLocator, locator)
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	idx := -1
	for i, s := range segments {
		if s == "upload" && i >= 1 {
			idx = i
			break
		}
	}
	// <cloud>/<resource type>/upload/...
	if idx != 2 || idx+1 >= len(segments) {
		return "", "", "", fmt.Errorf("%w: %q", ErrForeignLocator, locator)
	}
	cloud, resourceType = segments[0], segments[1]
	rest := segments[idx+1:]
	for len(rest) > 1 && (strings.HasPrefix(rest[0], "fl_") || versionSegment.MatchString(rest[0])) {
		rest = rest[1:]
	}
	publicID = strings.Join(rest, "/")
	if resourceType != resourceRaw {
		publicID = strings.TrimSuffix(publicID, path.Ext(publicID))
	}
	if publicID == "" || strings.Contains(publicID, "..") {
		return "", "", "", fmt.Errorf("%w: %q", ErrForeignLocator, locator)
	}
	return cloud, resourceType, publicID, nil
}

func flagSegment(tail string) string {
	if !strings.HasPrefix(tail, "fl_") {
		return ""
	}
	if i := strings.Index(tail, "/"); i >= 0 {
		return tail[:i+1]
	}
	return ""
}
