package resource

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	stdnet "cssbattle/std/net"
)

// Fetcher retrieves resources by URI.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (body []byte, contentType string, err error)
}

// DefaultFetcher serves data: URIs, local files and HTTP/HTTPS resources.
// Relative URIs are resolved against the base URL when one is set, and against
// the base directory otherwise.
type DefaultFetcher struct {
	baseURL string
	baseDir string
}

// NewFetcher creates a DefaultFetcher with the given base URL.
// Challenge images uploaded to the backend are referenced by relative path,
// so baseURL is usually the backend's API base.
func NewFetcher(baseURL string) *DefaultFetcher {
	return &DefaultFetcher{baseURL: baseURL}
}

// NewFileFetcher creates a DefaultFetcher resolving relative paths against dir.
func NewFileFetcher(dir string) *DefaultFetcher {
	return &DefaultFetcher{baseDir: dir}
}

// Fetch retrieves the resource at the given URI.
func (f *DefaultFetcher) Fetch(ctx context.Context, uri string) ([]byte, string, error) {
	uri = strings.TrimSpace(uri)
	switch {
	case uri == "":
		return nil, "", errors.New("empty URI")
	case IsDataURI(uri):
		return DecodeDataURI(uri)
	case stdnet.IsNetworkURL(uri):
		return stdnet.Fetch(ctx, uri)
	case strings.HasPrefix(uri, "file://"):
		u, err := url.Parse(uri)
		if err != nil {
			return nil, "", fmt.Errorf("parsing %s: %w", uri, err)
		}
		return readFile(u.Path)
	case f.baseURL != "":
		return stdnet.Fetch(ctx, stdnet.ResolveURL(f.baseURL, uri))
	default:
		path := uri
		if !filepath.IsAbs(path) && f.baseDir != "" {
			path = filepath.Join(f.baseDir, path)
		}
		return readFile(path)
	}
}

func readFile(path string) ([]byte, string, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	if len(body) > stdnet.MaxBodySize {
		return nil, "", fmt.Errorf("reading %s: %w", path, stdnet.ErrTooLarge)
	}
	return body, contentTypeByExt(path), nil
}

func contentTypeByExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".svg":
		return "image/svg+xml"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	default:
		return ""
	}
}

// IsDataURI reports whether uri uses the data: scheme.
func IsDataURI(uri string) bool {
	return strings.HasPrefix(uri, "data:")
}

// DecodeDataURI returns the payload and media type of a data: URI.
func DecodeDataURI(uri string) ([]byte, string, error) {
	if !IsDataURI(uri) {
		return nil, "", fmt.Errorf("not a data URI")
	}
	meta, payload, ok := strings.Cut(uri[len("data:"):], ",")
	if !ok {
		return nil, "", fmt.Errorf("malformed data URI: missing comma")
	}

	mediaType := meta
	isBase64 := false
	if strings.HasSuffix(meta, ";base64") {
		isBase64 = true
		mediaType = strings.TrimSuffix(meta, ";base64")
	}
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = mediaType[:i]
	}

	if isBase64 {
		body, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, "", fmt.Errorf("decoding base64 payload: %w", err)
		}
		return body, mediaType, nil
	}
	body, err := url.PathUnescape(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decoding payload: %w", err)
	}
	return []byte(body), mediaType, nil
}
