package server

import (
	"net/http"
	"path"
	"strings"

	"github.com/Kush-Singh-26/wasmserve/internal/config"
)

const (
	HeaderCOEP = "Cross-Origin-Embedder-Policy"
	HeaderCOOP = "Cross-Origin-Opener-Policy"
	HeaderCORP = "Cross-Origin-Resource-Policy"
)

// IsolationHeaders sets the cross-origin isolation headers before delegating,
// so they are present whatever next ends up writing. corp is optional.
func IsolationHeaders(next http.Handler, corp string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set(HeaderCOEP, "require-corp")
		h.Set(HeaderCOOP, "same-origin")
		if corp != "" {
			h.Set(HeaderCORP, corp)
		}
		next.ServeHTTP(w, r)
	})
}

// CachePolicy sets Cache-Control: no-cache on every response in CacheNoCache
// mode and returns next unchanged otherwise. CacheSmart depends on what the
// path resolves to, so FileHandler applies it once the target is found.
func CachePolicy(next http.Handler, mode string) http.Handler {
	if mode != config.CacheNoCache {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		next.ServeHTTP(w, r)
	})
}

func setSmartCacheHeaders(h http.Header, urlPath string) {
	filename := path.Base(urlPath)
	ext := strings.ToLower(path.Ext(filename))
	switch {
	case isHashedAsset(filename):
		h.Set("Cache-Control", "public, max-age=31536000, immutable")
	case strings.HasSuffix(urlPath, "/") || ext == "" || ext == ".html" || ext == ".htm":
		h.Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "0")
	default:
		h.Set("Cache-Control", "public, max-age=60")
	}
}

// isHashedAsset checks if filename contains a content hash (e.g., app.a1b2c3d4.wasm)
func isHashedAsset(filename string) bool {
	parts := strings.Split(filename, ".")
	if len(parts) < 3 {
		return false
	}
	hashPart := parts[len(parts)-2]
	if len(hashPart) < 8 || len(hashPart) > 12 {
		return false
	}
	for _, c := range hashPart {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
