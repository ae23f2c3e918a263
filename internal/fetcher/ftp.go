package fetcher

import (
	"context"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
)

// FTPOptions configures the FTP fetcher.
type FTPOptions struct {
	Timeout  time.Duration
	MaxBytes int64
}

// FTPFetcher downloads files from anonymous FTP servers. A few councils
// still publish spend data this way.
type FTPFetcher struct {
	opts FTPOptions
}

// NewFTPFetcher creates an FTPFetcher.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBytes == 0 {
		opts.MaxBytes = 50 << 20
	}
	return &FTPFetcher{opts: opts}
}

// parseFTPURL extracts host:port and path from an FTP URL.
func parseFTPURL(rawURL string) (host string, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "fetcher: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("fetcher: expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}
	if u.Path == "" || u.Path == "/" {
		return "", "", eris.New("fetcher: empty path in ftp url")
	}
	return host, u.Path, nil
}

// Fetch logs in anonymously and retrieves the file at rawURL.
func (f *FTPFetcher) Fetch(ctx context.Context, rawURL string) (*File, error) {
	host, path, err := parseFTPURL(rawURL)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("fetcher: ftp connect", zap.String("host", host), zap.String("path", path))

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, resilience.NewExternalError("ftp", resilience.Typed(err), eris.Wrapf(err, "fetcher: ftp dial %s", host))
	}
	defer conn.Quit() //nolint:errcheck

	if err := conn.Login("anonymous", "anonymous@"); err != nil {
		return nil, eris.Wrap(err, "fetcher: ftp login")
	}

	resp, err := conn.Retr(path)
	if err != nil {
		return nil, resilience.NewExternalError("ftp", model.ErrNotFound, eris.Wrapf(err, "fetcher: ftp retrieve %s", path))
	}
	defer resp.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp, f.opts.MaxBytes+1))
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: ftp read %s", path)
	}
	if int64(len(body)) > f.opts.MaxBytes {
		return nil, eris.Wrapf(ErrTooLarge, "fetcher: %s exceeds %d bytes", rawURL, f.opts.MaxBytes)
	}
	return &File{URL: rawURL, Body: body}, nil
}
