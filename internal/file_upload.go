package internal

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gorilla/mux"

	"droproom/internal/filestore"
)

// multipartSlack covers boundaries and part headers on top of the file.
const multipartSlack = 64 << 10

// UploadResponse describes a stored file. URL is the locator clients send
// back as the content of a file message.
type UploadResponse struct {
	URL          string `json:"url"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
	DownloadURL  string `json:"downloadUrl,omitempty"`
}

// HandleUpload stores the multipart "file" field with the configured
// backend and blocks until the backend has accepted it.
func (s *Server) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.uploadLimiter.Allow(s.clientIP(r)) {
		s.fail(w, errRateLimited)
		return
	}

	limit := s.cfg.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartSlack)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.fail(w, s.tooLarge())
			return
		}
		s.fail(w, errNoFile)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.fail(w, errNoFile)
		return
	}
	defer file.Close()

	if header.Size > limit {
		s.fail(w, s.tooLarge())
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		s.fail(w, fmt.Errorf("read upload: %w", err))
		return
	}
	if int64(len(data)) > limit {
		s.fail(w, s.tooLarge())
		return
	}

	meta := filestore.Metadata{
		OriginalName: originalName(header.Filename),
		MimeType:     detectMimeType(header.Header.Get("Content-Type"), data),
	}

	ctx, cancel := s.storageContext(r.Context())
	defer cancel()
	locator, err := s.files.Store(ctx, data, meta)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.pending.Set(locator, struct{}{})
	s.metrics.AddUpload(int64(len(data)))
	s.logger.Info("file stored",
		"backend", s.files.Name(),
		"name", meta.OriginalName,
		"size", humanize.Bytes(uint64(len(data))))

	writeJSON(w, http.StatusOK, UploadResponse{
		URL:          locator,
		OriginalName: meta.OriginalName,
		MimeType:     meta.MimeType,
		Size:         int64(len(data)),
		DownloadURL:  s.files.ResolveDownloadURL(locator, meta.OriginalName),
	})
}

// HandleDownload serves files kept by a local backend. The download query
// parameter forces an attachment with that file name.
func (s *Server) HandleDownload(w http.ResponseWriter, r *http.Request) {
	opener, ok := s.files.(filestore.Opener)
	if !ok {
		writeError(w, http.StatusNotFound, errNoRoute)
		return
	}
	name := mux.Vars(r)["name"]
	obj, err := opener.Open("/" + filestore.LocalPrefix + name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, errors.New("file not found"))
			return
		}
		s.fail(w, err)
		return
	}
	defer obj.Close()

	if download := r.URL.Query().Get("download"); download != "" {
		disposition := mime.FormatMediaType("attachment", map[string]string{"filename": download})
		if disposition == "" {
			disposition = "attachment"
		}
		w.Header().Set("Content-Disposition", disposition)
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, name, obj.ModTime(), obj)
}

func (s *Server) tooLarge() error {
	return fmt.Errorf("%w: limit is %s", errTooLarge, humanize.Bytes(uint64(s.cfg.MaxFileSize)))
}

// originalName keeps the client's name minus any directory part.
func originalName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "unnamed"
	}
	return name
}

// detectMimeType trusts the part header unless it is missing or generic.
func detectMimeType(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return mimetype.Detect(data).String()
}
