package cache

import (
	"net/url"
	"strings"
)

// Class is the resource class of an intercepted request. It selects the
// caching strategy.
type Class int

const (
	// ClassOther is anything not matched below: plain network-first.
	ClassOther Class = iota
	// ClassNavigation is a full-document request.
	ClassNavigation
	// ClassStyle is a stylesheet.
	ClassStyle
	// ClassScript is a script or framework bundle file.
	ClassScript
	// ClassFont is a web font.
	ClassFont
	// ClassImage is an image, same-origin or cross-origin.
	ClassImage
	// ClassAPI is a REST API call.
	ClassAPI
)

// String returns the class name for logging.
func (c Class) String() string {
	switch c {
	case ClassNavigation:
		return "navigation"
	case ClassStyle:
		return "style"
	case ClassScript:
		return "script"
	case ClassFont:
		return "font"
	case ClassImage:
		return "image"
	case ClassAPI:
		return "api"
	default:
		return "other"
	}
}

// Request is an intercepted resource fetch.
type Request struct {
	Method string
	// URL is absolute ("https://host/x") or origin-relative ("/x?y=z").
	URL string
	// Class drives strategy selection. Use Classify when the caller has
	// only a destination hint.
	Class Class
}

// destination hints mirror the fetch metadata a browser runtime attaches
// to a request.
var destinationClasses = map[string]Class{
	"document": ClassNavigation,
	"style":    ClassStyle,
	"script":   ClassScript,
	"font":     ClassFont,
	"image":    ClassImage,
}

// Classify derives a resource class from a destination hint and the URL.
// The destination wins when present; otherwise the path decides: /api/ is
// an API call, framework bundle paths are scripts, known image extensions
// are images.
func Classify(destination, rawURL string) Class {
	if c, ok := destinationClasses[destination]; ok {
		return c
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return ClassOther
	}
	path := u.Path

	switch {
	case strings.HasPrefix(path, "/api/"):
		return ClassAPI
	case strings.HasPrefix(path, "/_next/"):
		return ClassScript
	case hasSuffixAny(path, ".css"):
		return ClassStyle
	case hasSuffixAny(path, ".js", ".mjs"):
		return ClassScript
	case hasSuffixAny(path, ".woff", ".woff2", ".ttf", ".otf"):
		return ClassFont
	case hasSuffixAny(path, ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico"):
		return ClassImage
	}
	return ClassOther
}

func hasSuffixAny(s string, suffixes ...string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

// splitURL separates a request URL into its pathname and raw query.
func splitURL(rawURL string) (pathname, search string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	return u.Path, u.RawQuery, nil
}

// withoutQuery strips the query string from a URL.
func withoutQuery(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
