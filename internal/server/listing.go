package server

import (
	"bytes"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

var listingPage = template.Must(template.New("listing").Parse(`<!DOCTYPE HTML>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Directory listing for {{.Path}}</title>
</head>
<body>
<h1>Directory listing for {{.Path}}</h1>
<hr>
<ul>
{{range .Entries}}<li><a href="{{.Href}}">{{.Name}}</a></li>
{{end}}</ul>
<hr>
</body>
</html>
`))

type listingEntry struct {
	Name string // display name; directories end in "/", symlinks in "@"
	Href template.URL
	key  []byte
}

// listingEntries sorts case-insensitively and implements collate.Lister.
type listingEntries []listingEntry

func (l listingEntries) Len() int           { return len(l) }
func (l listingEntries) Swap(i, j int)      { l[i], l[j] = l[j], l[i] }
func (l listingEntries) Bytes(i int) []byte { return l[i].key }

func renderListing(urlPath string, infos []fs.FileInfo) ([]byte, error) {
	entries := make(listingEntries, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		display, link := name, name
		switch {
		case info.IsDir():
			display += "/"
			link += "/"
		case info.Mode()&fs.ModeSymlink != 0:
			display += "@"
		}
		// url.URL.String prefixes "./" when the first segment has a colon.
		href := (&url.URL{Path: link}).String()
		entries = append(entries, listingEntry{
			Name: display,
			Href: template.URL(href),
			key:  []byte(name),
		})
	}

	c := collate.New(language.Und, collate.IgnoreCase)
	c.Sort(entries)

	var buf bytes.Buffer
	err := listingPage.Execute(&buf, struct {
		Path    string
		Entries listingEntries
	}{urlPath, entries})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeHTML(w http.ResponseWriter, r *http.Request, status int, body []byte) {
	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}
