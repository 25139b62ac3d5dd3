// Package statics is the static file source backing the plain-HTTP fallback
// path of the WebSocket listener.
package statics

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var ErrNotFound = errors.New("statics: file not found")

// Source serves files from a single directory keyed by URL path.
type Source struct {
	Dir string
}

// Get resolves a URL path to file contents and a content type.
// "/" maps to "/index.html"; traversal outside Dir is refused.
func (s Source) Get(urlPath string) ([]byte, string, error) {
	if urlPath == "/" {
		urlPath = "/index.html"
	}

	cleaned := path.Clean("/" + urlPath)
	if strings.Contains(cleaned, "..") {
		return nil, "", ErrNotFound
	}

	content, err := os.ReadFile(filepath.Join(s.Dir, filepath.FromSlash(cleaned)))
	if err != nil {
		return nil, "", ErrNotFound
	}
	return content, ContentType(cleaned), nil
}

// ContentType picks a MIME type by file extension.
func ContentType(urlPath string) string {
	switch strings.ToLower(path.Ext(urlPath)) {
	case ".html":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "application/javascript; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}
