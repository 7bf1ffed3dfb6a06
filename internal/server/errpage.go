package server

import (
	"bytes"
	"html/template"
	"net/http"
	"strconv"

	"github.com/spf13/afero"
)

var errorPage = template.Must(template.New("error").Parse(`<!DOCTYPE HTML>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Error response</title>
</head>
<body>
<h1>Error response</h1>
<p>Error code: {{.Code}}</p>
<p>Message: {{.Message}}</p>
</body>
</html>
`))

// writeError writes status with a minimal HTML body. For 404 the root's
// 404.html is used when present.
func writeError(w http.ResponseWriter, r *http.Request, root afero.Fs, status int) {
	var body []byte
	if status == http.StatusNotFound && root != nil {
		if content, err := afero.ReadFile(root, "/404.html"); err == nil {
			body = content
		}
	}
	if body == nil {
		var buf bytes.Buffer
		_ = errorPage.Execute(&buf, struct {
			Code    int
			Message string
		}{status, http.StatusText(status)})
		body = buf.Bytes()
	}

	h := w.Header()
	h.Del("Etag")
	h.Del("Last-Modified")
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}
