package export

import (
	"mime"
	"regexp"
	"strings"
)

// MaxNameLen bounds the sanitized part of a document file name.
const MaxNameLen = 120

const fallbackName = "document"

var unsafeRun = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

var extensions = map[string]string{
	"application/pdf":  "pdf",
	"application/zip":  "zip",
	"application/json": "json",
	"text/plain":       "txt",
	"text/html":        "html",
	"image/png":        "png",
	"image/jpeg":       "jpg",
}

// SafeFilename replaces every run of characters outside [A-Za-z0-9._-] with a
// single underscore, trims leading and trailing '.', '_' and '-', and truncates
// to MaxNameLen. An empty result becomes "document".
func SafeFilename(name string) string {
	cleaned := strings.Trim(unsafeRun.ReplaceAllString(name, "_"), "._-")
	if cleaned == "" {
		return fallbackName
	}
	if len(cleaned) > MaxNameLen {
		cleaned = cleaned[:MaxNameLen]
	}
	return cleaned
}

// GuessExtension maps a Content-Type header value to a file extension,
// falling back to "bin".
func GuessExtension(contentType string) string {
	if contentType == "" {
		return "bin"
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	if ext, ok := extensions[mt]; ok {
		return ext
	}
	return "bin"
}

// DocumentFilename builds "{documentID}_{sanitized name}.{ext}".
func DocumentFilename(documentID, name, contentType string) string {
	return documentID + "_" + SafeFilename(name) + "." + GuessExtension(contentType)
}
