// Package web embeds the dashboard's static assets. The page is a single
// HTML file that renders the Leaflet map and talks to the JSON API.
package web

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static
var static embed.FS

// Handler serves the dashboard assets. The index page is served at "/".
func Handler() http.Handler {
	sub, err := fs.Sub(static, "static")
	if err != nil {
		// embed guarantees the directory exists; a failure here is a build defect.
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}
