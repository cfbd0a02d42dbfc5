// Package web serves the single-page UI.
package web

import (
	"bytes"
	_ "embed"
	"html/template"
	"net/http"
)

//go:embed index.html
var indexHTML string

var indexTmpl = template.Must(template.New("index").Parse(indexHTML))

// PageData is the data rendered into the page.
type PageData struct {
	Title string
	Model string
}

// Render writes the page for data.
func Render(data PageData) ([]byte, error) {
	var buf bytes.Buffer
	if err := indexTmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Handler serves the rendered page. The page is rendered once up front.
func Handler(data PageData) (http.HandlerFunc, error) {
	page, err := Render(data)
	if err != nil {
		return nil, err
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(page)
	}, nil
}
