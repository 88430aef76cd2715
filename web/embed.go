package web

import (
	"embed"
	"io/fs"
)

// docFiles bundles the static API documentation served at /docs/.
//
//go:embed docs/*
var docFiles embed.FS

// Docs returns a filesystem rooted at the bundled documentation assets.
func Docs() (fs.FS, error) {
	return fs.Sub(docFiles, "docs")
}
