// Package mimetypes maps file extensions to Content-Type values.
//
// The runtime's table (mime.TypeByExtension) is the base. Overrides win over
// it. ".wasm" is always mapped to application/wasm so browsers accept
// streaming compilation, and HTML files are sent as plain text/html.
package mimetypes

import (
	"fmt"
	"mime"
	"path"
	"strings"
)

// WASM is the Content-Type browsers require for WebAssembly.instantiateStreaming.
const WASM = "application/wasm"

// HTML is sent for .html and .htm files, without a charset parameter.
const HTML = "text/html"

// Fallback is used when no mapping exists for an extension.
const Fallback = "application/octet-stream"

// Table resolves extensions using a set of overrides on top of the runtime table.
type Table struct {
	overrides map[string]string
}

// New returns a table with the built-in overrides plus extra ones.
// Keys may be given with or without the leading dot.
func New(extra map[string]string) (*Table, error) {
	t := &Table{overrides: map[string]string{
		".wasm": WASM,
		".html": HTML,
		".htm":  HTML,
	}}
	for ext, typ := range extra {
		if err := t.Set(ext, typ); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Set adds or replaces an override.
func (t *Table) Set(ext, typ string) error {
	ext = normalizeExt(ext)
	if ext == "." {
		return fmt.Errorf("empty extension for type %q", typ)
	}
	if _, _, err := mime.ParseMediaType(typ); err != nil {
		return fmt.Errorf("invalid media type %q for %s: %w", typ, ext, err)
	}
	t.overrides[ext] = typ
	return nil
}

// Register pushes the overrides into the process-wide mime table, so code
// that calls mime.TypeByExtension directly agrees with the table.
func (t *Table) Register() error {
	for ext, typ := range t.overrides {
		if err := mime.AddExtensionType(ext, typ); err != nil {
			return fmt.Errorf("register %s: %w", ext, err)
		}
	}
	return nil
}

// TypeByExtension returns the Content-Type for ext, or "" when unknown.
func (t *Table) TypeByExtension(ext string) string {
	ext = normalizeExt(ext)
	if typ, ok := t.overrides[ext]; ok {
		return typ
	}
	return mime.TypeByExtension(ext)
}

// TypeForPath returns the Content-Type for the file name, falling back to
// application/octet-stream.
func (t *Table) TypeForPath(name string) string {
	if typ := t.TypeByExtension(path.Ext(name)); typ != "" {
		return typ
	}
	return Fallback
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
