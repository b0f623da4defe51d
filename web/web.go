// Package web embeds the browser front-end served at "/".
package web

import (
	"embed"
	"io/fs"
)

//go:embed static
var static embed.FS

// Assets is the front-end rooted at its index.html.
func Assets() fs.FS {
	sub, err := fs.Sub(static, "static")
	if err != nil {
		panic(err)
	}
	return sub
}
