// Package fetcher downloads geography and census source data over HTTP and
// FTP and unpacks the JSON, CSV and ZIP payloads those sources publish.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"

	"github.com/rotisserie/eris"
)

// Fetcher downloads remote resources.
type Fetcher interface {
	// Download returns the response body. The caller closes it.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile writes the resource to path and returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// SchemeFetcher routes ftp:// URLs to an FTP fetcher and everything else to
// an HTTP fetcher.
type SchemeFetcher struct {
	HTTP Fetcher
	FTP  Fetcher
}

// NewSchemeFetcher creates a SchemeFetcher.
func NewSchemeFetcher(httpF, ftpF Fetcher) *SchemeFetcher {
	return &SchemeFetcher{HTTP: httpF, FTP: ftpF}
}

func (s *SchemeFetcher) pick(rawURL string) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: parse url")
	}
	if u.Scheme == "ftp" {
		if s.FTP == nil {
			return nil, eris.Errorf("fetcher: no ftp fetcher for %s", rawURL)
		}
		return s.FTP, nil
	}
	return s.HTTP, nil
}

// Download implements Fetcher.
func (s *SchemeFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	f, err := s.pick(rawURL)
	if err != nil {
		return nil, err
	}
	return f.Download(ctx, rawURL)
}

// DownloadToFile implements Fetcher.
func (s *SchemeFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	f, err := s.pick(rawURL)
	if err != nil {
		return 0, err
	}
	return f.DownloadToFile(ctx, rawURL, path)
}

// writeFile copies body to path.
func writeFile(body io.Reader, path string) (int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, body)
	if err != nil {
		return n, eris.Wrap(err, "fetcher: write file")
	}
	return n, nil
}
