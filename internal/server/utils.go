package server

import (
	"errors"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"syscall"
)

// cleanRequestPath turns a URL path into a slash path rooted at "/".
// ".." elements are resolved lexically, so the result never climbs above
// the document root.
func cleanRequestPath(urlPath string) string {
	if !strings.HasPrefix(urlPath, "/") {
		urlPath = "/" + urlPath
	}
	return path.Clean(urlPath)
}

// statusForError maps a filesystem error onto an HTTP status.
func statusForError(err error) int {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOTDIR):
		return http.StatusNotFound
	case errors.Is(err, fs.ErrPermission):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
