package server

import (
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/spf13/afero"

	"github.com/Kush-Singh-26/wasmserve/internal/mimetypes"
)

var indexPages = []string{"index.html", "index.htm"}

// FileHandler serves a document root: files, index pages and generated
// directory listings. Only GET and HEAD are served.
type FileHandler struct {
	root   afero.Fs
	types  *mimetypes.Table
	etags  *etagCache // nil disables ETags
	smart  bool       // smart Cache-Control on successful responses
	logger *slog.Logger
}

// FileOptions toggles the optional response headers of a FileHandler.
type FileOptions struct {
	ETag       bool
	SmartCache bool
}

// NewFileHandler serves root.
func NewFileHandler(root afero.Fs, types *mimetypes.Table, opts FileOptions, logger *slog.Logger) *FileHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &FileHandler{root: root, types: types, smart: opts.SmartCache, logger: logger}
	if opts.ETag {
		h.etags = newETagCache()
	}
	return h
}

func (h *FileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, r, nil, http.StatusNotImplemented)
		return
	}

	urlPath := r.URL.Path
	if strings.ContainsRune(urlPath, 0) {
		writeError(w, r, nil, http.StatusBadRequest)
		return
	}
	name := cleanRequestPath(urlPath)

	f, err := h.root.Open(name)
	if err != nil {
		h.fail(w, r, name, err)
		return
	}
	defer h.closeFile(f, name)

	info, err := f.Stat()
	if err != nil {
		h.fail(w, r, name, err)
		return
	}

	if info.IsDir() {
		if !strings.HasSuffix(urlPath, "/") {
			redirectToDir(w, r)
			return
		}
		index, indexInfo, indexName, ok := h.openIndex(name)
		if !ok {
			h.serveListing(w, r, name, f)
			return
		}
		defer h.closeFile(index, indexName)
		h.serveFile(w, r, indexName, index, indexInfo)
		return
	}

	// A trailing slash names a directory, never a file.
	if strings.HasSuffix(urlPath, "/") {
		writeError(w, r, h.root, http.StatusNotFound)
		return
	}
	h.serveFile(w, r, name, f, info)
}

func (h *FileHandler) openIndex(dir string) (afero.File, fs.FileInfo, string, bool) {
	for _, page := range indexPages {
		name := path.Join(dir, page)
		f, err := h.root.Open(name)
		if err != nil {
			continue
		}
		info, err := f.Stat()
		if err != nil || info.IsDir() {
			h.closeFile(f, name)
			continue
		}
		return f, info, name, true
	}
	return nil, nil, "", false
}

func (h *FileHandler) serveFile(w http.ResponseWriter, r *http.Request, name string, f afero.File, info fs.FileInfo) {
	w.Header().Set("Content-Type", h.types.TypeForPath(name))

	if h.etags != nil {
		tag, err := h.etags.lookup(name, info, f)
		if err != nil {
			h.fail(w, r, name, err)
			return
		}
		w.Header().Set("Etag", tag)
	}
	if h.smart {
		setSmartCacheHeaders(w.Header(), name)
	}

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (h *FileHandler) serveListing(w http.ResponseWriter, r *http.Request, name string, dir afero.File) {
	entries, err := dir.Readdir(-1)
	if err != nil {
		h.fail(w, r, name, err)
		return
	}
	body, err := renderListing(r.URL.Path, entries)
	if err != nil {
		h.fail(w, r, name, err)
		return
	}
	if h.smart {
		setSmartCacheHeaders(w.Header(), r.URL.Path)
	}
	writeHTML(w, r, http.StatusOK, body)
}

func (h *FileHandler) fail(w http.ResponseWriter, r *http.Request, name string, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Failed to serve path", "path", name, "error", err)
	}
	writeError(w, r, h.root, status)
}

func (h *FileHandler) closeFile(f io.Closer, name string) {
	if err := f.Close(); err != nil {
		h.logger.Warn("Failed to close file", "path", name, "error", err)
	}
}

// redirectToDir sends a directory request without a trailing slash to the
// same path with one, keeping the query.
func redirectToDir(w http.ResponseWriter, r *http.Request) {
	target := url.URL{Path: r.URL.Path + "/", RawQuery: r.URL.RawQuery}
	w.Header().Set("Location", target.String())
	w.WriteHeader(http.StatusMovedPermanently)
}
