// Package transfer performs the HTTP side of a download: metadata probes
// (size, server filename, content type) and resumable byte transfers.
package transfer

import (
	"context"
	"time"
)

// Session is the transport used by the downloader. Implementations must be
// safe for concurrent use.
type Session interface {
	// GetFileSize returns the remote size in bytes, or -1 when unknown
	GetFileSize(ctx context.Context, url, referer string, throttle time.Duration) (int64, error)
	// GetFilename returns the filename the server suggests for url
	GetFilename(ctx context.Context, url, referer string, throttle time.Duration) (string, error)
	// GetContentType returns the remote content type
	GetContentType(ctx context.Context, url, referer string, throttle time.Duration) (string, error)
	// DownloadFile streams url into req.TempPath, resuming at req.ResumeOffset
	DownloadFile(ctx context.Context, req Request) error
}

// Request describes one transfer
type Request struct {
	URL      string
	Referer  string
	Throttle time.Duration
	// Range is the HTTP Range header value, e.g. "bytes=1024-". Empty for a fresh transfer.
	Range        string
	OriginalName string
	FinalName    string
	TempPath     string
	ResumeOffset int64
	ShowProgress bool
	Folder       string
	Collection   string
	// Proxy overrides the session proxy for this transfer
	Proxy string
}
