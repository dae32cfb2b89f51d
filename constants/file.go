package constants

import (
	"net/http"
	"strings"
)

// DocumentKind tells the extractor how page content is carried.
type DocumentKind string

const (
	PDF   DocumentKind = "pdf"   // text-bearing, one extraction call per page
	IMAGE DocumentKind = "image" // single page, sent as a data URL
)

// AllowedExtensions holds the file extensions accepted for invoice upload.
var AllowedExtensions = map[string]DocumentKind{
	"pdf":  PDF,
	"jpg":  IMAGE,
	"jpeg": IMAGE,
	"png":  IMAGE,
	"webp": IMAGE,
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// KindFromExt maps a file extension to a document kind.
func KindFromExt(ext string) (DocumentKind, bool) {
	k, ok := AllowedExtensions[NormalizeExt(ext)]
	return k, ok
}

// SniffKind inspects content when the extension is missing or unknown.
func SniffKind(content []byte) (DocumentKind, string, bool) {
	mime := http.DetectContentType(content)
	switch {
	case mime == "application/pdf":
		return PDF, mime, true
	case strings.HasPrefix(mime, "image/"):
		return IMAGE, mime, true
	}
	return "", mime, false
}
