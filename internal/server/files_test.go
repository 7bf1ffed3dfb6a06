package server

import (
	"bytes"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"

	"github.com/Kush-Singh-26/wasmserve/internal/config"
	"github.com/Kush-Singh-26/wasmserve/internal/mimetypes"
	"github.com/Kush-Singh-26/wasmserve/internal/testutil"
)

var wasmMagic = string([]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00})

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(t *testing.T, root afero.Fs, mutate func(*config.Config)) http.Handler {
	t.Helper()
	cfg := config.Default()
	cfg.Quiet = true
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	s, err := NewWithFs(cfg, root, "", quietLogger(), nil)
	if err != nil {
		t.Fatalf("NewWithFs() error = %v", err)
	}
	return s.Handler()
}

func do(h http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func assertIsolationHeaders(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	if got := rec.Header().Get(HeaderCOEP); got != "require-corp" {
		t.Errorf("%s = %q, want %q", HeaderCOEP, got, "require-corp")
	}
	if got := rec.Header().Get(HeaderCOOP); got != "same-origin" {
		t.Errorf("%s = %q, want %q", HeaderCOOP, got, "same-origin")
	}
}

func mediaType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	media, _, err := mime.ParseMediaType(rec.Header().Get("Content-Type"))
	if err != nil {
		t.Fatalf("Content-Type %q: %v", rec.Header().Get("Content-Type"), err)
	}
	return media
}

func TestServeIndexHTML(t *testing.T) {
	root := testutil.CreateTestFilesystemWithContent(t, map[string]string{
		"index.html": "<html></html>",
	})
	h := newTestHandler(t, root, nil)

	rec := do(h, http.MethodGet, "/index.html", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != "<html></html>" {
		t.Errorf("body = %q, want %q", got, "<html></html>")
	}
	if got := rec.Header().Get("Content-Type"); got != "text/html" {
		t.Errorf("Content-Type = %q, want text/html", got)
	}
	if got := rec.Header().Get("Content-Length"); got != "13" {
		t.Errorf("Content-Length = %q, want 13", got)
	}
	assertIsolationHeaders(t, rec)
}

func TestServeFiles(t *testing.T) {
	root := testutil.CreateTestFilesystemWithContent(t, map[string]string{
		"pkg/app_bg.wasm":  wasmMagic,
		"mq_js_bundle.js":  "console.log('hi')",
		"assets/style.css": "body{}",
		"notes":            "plain",
	})
	h := newTestHandler(t, root, nil)

	tests := []struct {
		name      string
		path      string
		wantBody  string
		wantMedia string
	}{
		{name: "wasm", path: "/pkg/app_bg.wasm", wantBody: wasmMagic, wantMedia: "application/wasm"},
		{name: "css", path: "/assets/style.css", wantBody: "body{}", wantMedia: "text/css"},
		{name: "no extension", path: "/notes", wantBody: "plain", wantMedia: "application/octet-stream"},
		{name: "query ignored", path: "/pkg/app_bg.wasm?v=3", wantBody: wasmMagic, wantMedia: "application/wasm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, http.MethodGet, tt.path, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			if !bytes.Equal(rec.Body.Bytes(), []byte(tt.wantBody)) {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if got := mediaType(t, rec); got != tt.wantMedia {
				t.Errorf("media type = %q, want %q", got, tt.wantMedia)
			}
			assertIsolationHeaders(t, rec)
		})
	}
}

func TestWasmContentTypeExact(t *testing.T) {
	root := testutil.CreateTestFilesystemWithContent(t, map[string]string{"app.wasm": wasmMagic})
	rec := do(newTestHandler(t, root, nil), http.MethodGet, "/app.wasm", nil)

	if got := rec.Header().Get("Content-Type"); got != mimetypes.WASM {
		t.Errorf("Content-Type = %q, want %q", got, mimetypes.WASM)
	}
}

func TestNotFound(t *testing.T) {
	root := testutil.CreateTestFilesystemWithContent(t, map[string]string{"index.html": "x"})
	h := newTestHandler(t, root, nil)

	rec := do(h, http.MethodGet, "/missing.wasm", nil)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := mediaType(t, rec); got != "text/html" {
		t.Errorf("media type = %q, want text/html", got)
	}
	if !strings.Contains(rec.Body.String(), "Error code: 404") {
		t.Errorf("body = %q, want minimal error page", rec.Body.String())
	}
	assertIsolationHeaders(t, rec)
}

func TestNotFoundCustomPage(t *testing.T) {
	root := testutil.CreateTestFilesystemWithContent(t, map[string]string{
		"404.html": "<h1>lost</h1>",
	})
	rec := do(newTestHandler(t, root, nil), http.MethodGet, "/nope", nil)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := rec.Body.String(); got != "<h1>lost</h1>" {
		t.Errorf("body = %q, want custom 404 page", got)
	}
	assertIsolationHeaders(t, rec)
}

func TestFileWithTrailingSlash(t *testing.T) {
	root := testutil.CreateTestFilesystemWithContent(t, map[string]string{"app.wasm": wasmMagic})
	rec := do(newTestHandler(t, root, nil), http.MethodGet, "/app.wasm/", nil)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	assertIsolationHeaders(t, rec)
}

func TestForbidden(t *testing.T) {
	base := testutil.CreateTestFilesystemWithContent(t, map[string]string{
		"secret.wasm": wasmMagic,
	})
	root := testutil.DenyFs{Fs: base, Denied: map[string]bool{"/secret.wasm": true}}
	rec := do(newTestHandler(t, root, nil), http.MethodGet, "/secret.wasm", nil)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if strings.Contains(rec.Body.String(), wasmMagic) {
		t.Error("forbidden response leaked file content")
	}
	assertIsolationHeaders(t, rec)
}

func TestUnsupportedMethod(t *testing.T) {
	root := testutil.CreateTestFilesystemWithContent(t, map[string]string{"index.html": "x"})
	h := newTestHandler(t, root, nil)

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			rec := do(h, method, "/index.html", nil)
			if rec.Code != http.StatusNotImplemented {
				t.Errorf("status = %d, want 501", rec.Code)
			}
			if got := rec.Header().Get("Allow"); got != "GET, HEAD" {
				t.Errorf("Allow = %q, want %q", got, "GET, HEAD")
			}
			assertIsolationHeaders(t, rec)
		})
	}
}

func TestHead(t *testing.T) {
	root := testutil.CreateTestFilesystemWithContent(t, map[string]string{"app.wasm": wasmMagic})
	rec := do(newTestHandler(t, root, nil), http.MethodHead, "/app.wasm", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("HEAD body length = %d, want 0", rec.Body.Len())
	}
	if got := rec.Header().Get("Content-Length"); got != strconv.Itoa(len(wasmMagic)) {
		t.Errorf("Content-Length = %q, want %d", got, len(wasmMagic))
	}
	if got := rec.Header().Get("Content-Type"); got != mimetypes.WASM {
		t.Errorf("Content-Type = %q, want %q", got, mimetypes.WASM)
	}
	assertIsolationHeaders(t, rec)
}

func TestRangeRequest(t *testing.T) {
	root := testutil.CreateTestFilesystemWithContent(t, map[string]string{"app.wasm": wasmMagic})
	rec := do(newTestHandler(t, root, nil), http.MethodGet, "/app.wasm", http.Header{"Range": {"bytes=0-3"}})

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if got := rec.Body.String(); got != wasmMagic[:4] {
		t.Errorf("body = %q, want %q", got, wasmMagic[:4])
	}
	assertIsolationHeaders(t, rec)
}

func TestDirectoryRedirect(t *testing.T) {
	root := testutil.CreateTestFilesystemWithContent(t, map[string]string{"pkg/app.wasm": wasmMagic})
	rec := do(newTestHandler(t, root, nil), http.MethodGet, "/pkg?x=1", nil)

	if rec.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d, want 301", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "/pkg/?x=1" {
		t.Errorf("Location = %q, want %q", got, "/pkg/?x=1")
	}
	assertIsolationHeaders(t, rec)
}

func TestDirectoryIndex(t *testing.T) {
	root := testutil.CreateTestFilesystemWithContent(t, map[string]string{
		"index.html":      "<html></html>",
		"demo/index.htm":  "<p>demo</p>",
		"demo/other.html": "other",
	})
	h := newTestHandler(t, root, nil)

	tests := []struct {
		path string
		want string
	}{
		{path: "/", want: "<html></html>"},
		{path: "/demo/", want: "<p>demo</p>"},
	}
	for _, tt := range tests {
		rec := do(h, http.MethodGet, tt.path, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", tt.path, rec.Code)
			continue
		}
		if got := rec.Body.String(); got != tt.want {
			t.Errorf("GET %s body = %q, want %q", tt.path, got, tt.want)
		}
		if got := mediaType(t, rec); got != "text/html" {
			t.Errorf("GET %s media type = %q, want text/html", tt.path, got)
		}
	}
}

func TestDirectoryListing(t *testing.T) {
	root := testutil.CreateTestFilesystemWithContent(t, map[string]string{
		"assets/b.css":         "b",
		"assets/A.js":          "a",
		"assets/app.wasm":      wasmMagic,
		"assets/sub/deep.txt":  "deep",
		"assets/with space.js": "s",
		"assets/<b>.txt":       "tag",
	})
	rec := do(newTestHandler(t, root, nil), http.MethodGet, "/assets/", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := mediaType(t, rec); got != "text/html" {
		t.Errorf("media type = %q, want text/html", got)
	}
	assertIsolationHeaders(t, rec)

	body := rec.Body.String()
	for _, want := range []string{
		"Directory listing for /assets/",
		`<a href="A.js">A.js</a>`,
		`<a href="b.css">b.css</a>`,
		`<a href="app.wasm">app.wasm</a>`,
		`<a href="sub/">sub/</a>`,
		`<a href="with%20space.js">with space.js</a>`,
		`&lt;b&gt;.txt`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("listing missing %q\n%s", want, body)
		}
	}
	if strings.Contains(body, "deep.txt") {
		t.Error("listing should only contain immediate children")
	}
	if strings.Contains(body, "<b>.txt") {
		t.Error("listing did not escape file names")
	}

	// Case-insensitive order: A.js, app.wasm, b.css, sub/
	order := []string{`href="A.js"`, `href="app.wasm"`, `href="b.css"`, `href="sub/"`}
	last := -1
	for _, s := range order {
		idx := strings.Index(body, s)
		if idx < last {
			t.Errorf("%s out of order in listing", s)
		}
		last = idx
	}
}

func TestRootListing(t *testing.T) {
	root := testutil.CreateTestFilesystemWithContent(t, map[string]string{
		"app.wasm": wasmMagic,
		"web/":     "",
	})
	rec := do(newTestHandler(t, root, nil), http.MethodGet, "/", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `href="app.wasm"`) || !strings.Contains(body, `href="web/"`) {
		t.Errorf("root listing missing entries:\n%s", body)
	}
}

func TestTraversalStaysInRoot(t *testing.T) {
	dir := t.TempDir()
	rootDir := filepath.Join(dir, "public")
	if err := os.Mkdir(rootDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("top secret"), 0644); err != nil {
		t.Fatal(err)
	}

	types, err := mimetypes.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	h := NewFileHandler(afero.NewBasePathFs(afero.NewOsFs(), rootDir), types, FileOptions{}, quietLogger())

	for _, target := range []string{"/../secret.txt", "/a/../../secret.txt", "/%2e%2e/secret.txt"} {
		rec := do(h, http.MethodGet, target, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", target, rec.Code)
		}
		if strings.Contains(rec.Body.String(), "top secret") {
			t.Errorf("GET %s escaped the document root", target)
		}
	}
}

func TestETag(t *testing.T) {
	root := testutil.CreateTestFilesystemWithContent(t, map[string]string{"app.wasm": wasmMagic})
	h := newTestHandler(t, root, func(c *config.Config) { c.ETag = true })

	first := do(h, http.MethodGet, "/app.wasm", nil)
	tag := first.Header().Get("Etag")
	if len(tag) != 34 || tag[0] != '"' || tag[33] != '"' {
		t.Fatalf("Etag = %q, want quoted 32 hex chars", tag)
	}
	if first.Body.String() != wasmMagic {
		t.Errorf("body changed by hashing: %q", first.Body.String())
	}

	second := do(h, http.MethodGet, "/app.wasm", http.Header{"If-None-Match": {tag}})
	if second.Code != http.StatusNotModified {
		t.Errorf("status = %d, want 304", second.Code)
	}
	assertIsolationHeaders(t, second)

	if err := afero.WriteFile(root, "/app.wasm", []byte(wasmMagic+"more"), 0644); err != nil {
		t.Fatal(err)
	}
	third := do(h, http.MethodGet, "/app.wasm", http.Header{"If-None-Match": {tag}})
	if third.Code != http.StatusOK {
		t.Errorf("status after change = %d, want 200", third.Code)
	}
	if got := third.Header().Get("Etag"); got == tag {
		t.Error("Etag did not change with content")
	}
}

func TestETagDisabledByDefault(t *testing.T) {
	root := testutil.CreateTestFilesystemWithContent(t, map[string]string{"app.wasm": wasmMagic})
	rec := do(newTestHandler(t, root, nil), http.MethodGet, "/app.wasm", nil)
	if got := rec.Header().Get("Etag"); got != "" {
		t.Errorf("Etag = %q, want none", got)
	}
}

func TestGzip(t *testing.T) {
	page := strings.Repeat("<p>hello wasm</p>\n", 200)
	root := testutil.CreateTestFilesystemWithContent(t, map[string]string{"big.html": page})
	h := newTestHandler(t, root, func(c *config.Config) { c.Gzip = true })

	plain := do(h, http.MethodGet, "/big.html", nil)
	if got := plain.Header().Get("Content-Encoding"); got != "" {
		t.Errorf("Content-Encoding without Accept-Encoding = %q, want none", got)
	}
	if plain.Body.String() != page {
		t.Error("uncompressed body mismatch")
	}

	rec := do(h, http.MethodGet, "/big.html", http.Header{"Accept-Encoding": {"gzip"}})
	if got := rec.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", got)
	}
	assertIsolationHeaders(t, rec)

	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip.NewReader() error = %v", err)
	}
	got, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("reading gzip body: %v", err)
	}
	if string(got) != page {
		t.Error("decompressed body mismatch")
	}
}

func TestCORPHeader(t *testing.T) {
	root := testutil.CreateTestFilesystemWithContent(t, map[string]string{"app.wasm": wasmMagic})

	rec := do(newTestHandler(t, root, nil), http.MethodGet, "/app.wasm", nil)
	if got := rec.Header().Get(HeaderCORP); got != "" {
		t.Errorf("%s = %q, want none by default", HeaderCORP, got)
	}

	h := newTestHandler(t, root, func(c *config.Config) { c.CORP = "same-origin" })
	rec = do(h, http.MethodGet, "/missing", nil)
	if got := rec.Header().Get(HeaderCORP); got != "same-origin" {
		t.Errorf("%s = %q, want same-origin", HeaderCORP, got)
	}
}

func TestGzipETagDiffersFromIdentity(t *testing.T) {
	page := strings.Repeat("<p>hello wasm</p>\n", 200)
	root := testutil.CreateTestFilesystemWithContent(t, map[string]string{"big.html": page})
	h := newTestHandler(t, root, func(c *config.Config) {
		c.Gzip = true
		c.ETag = true
	})

	plain := do(h, http.MethodGet, "/big.html", nil)
	plainTag := plain.Header().Get("Etag")
	if plainTag == "" {
		t.Fatal("uncompressed response has no Etag")
	}

	zipped := do(h, http.MethodGet, "/big.html", http.Header{"Accept-Encoding": {"gzip"}})
	if got := zipped.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", got)
	}
	zippedTag := zipped.Header().Get("Etag")
	if zippedTag == plainTag {
		t.Errorf("gzip and identity responses share Etag %s", plainTag)
	}
	if want := strings.TrimSuffix(plainTag, `"`) + gzipETagSuffix + `"`; zippedTag != want {
		t.Errorf("gzip Etag = %q, want %q", zippedTag, want)
	}
}
