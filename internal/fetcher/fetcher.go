// Package fetcher downloads published spend files over HTTP and FTP and
// decodes them into rows.
package fetcher

import (
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrUnsupportedType is returned when a download is not a data file, for
// example an HTML landing page served in place of a CSV.
var ErrUnsupportedType = eris.New("fetcher: unsupported content type")

// ErrTooLarge is returned when a download exceeds the configured byte cap.
var ErrTooLarge = eris.New("fetcher: file too large")

// File is a downloaded file held in memory.
type File struct {
	URL         string
	ContentType string
	Body        []byte
}

// Ext returns the lowercased extension of the file URL path without the dot.
func (f *File) Ext() string {
	u, err := url.Parse(f.URL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
}

// Fetcher downloads a URL into memory.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*File, error)
}

// Mux dispatches on URL scheme: ftp:// goes to the FTP fetcher, everything
// else to HTTP.
type Mux struct {
	HTTP *HTTPFetcher
	FTP  *FTPFetcher
}

// Fetch implements Fetcher.
func (m *Mux) Fetch(ctx context.Context, rawURL string) (*File, error) {
	if strings.HasPrefix(strings.ToLower(rawURL), "ftp://") {
		if m.FTP == nil {
			return nil, eris.Errorf("fetcher: no ftp fetcher for %s", rawURL)
		}
		return m.FTP.Fetch(ctx, rawURL)
	}
	return m.HTTP.Fetch(ctx, rawURL)
}
