// Package contenttype infers the Content-Type sent with each uploaded object.
package contenttype

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Default is used when nothing better is known.
const Default = "application/octet-stream"

// Resolver maps a local file path to a content type.
type Resolver func(path string) string

var known = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".avif": "image/avif",
	".ico":  "image/x-icon",
	".json": "application/json",
	".css":  "text/css",
	".js":   "text/javascript",
	".html": "text/html",
}

// Lookup is a pure extension lookup. It never touches the file.
func Lookup(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return Default
	}
	if ct, ok := known[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return Default
}

// Detect uses Lookup and falls back to sniffing the file header when the
// extension is unknown.
func Detect(path string) string {
	if ct := Lookup(path); ct != Default {
		return ct
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil || mt == nil {
		return Default
	}
	return mt.String()
}
