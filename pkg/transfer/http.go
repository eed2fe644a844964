package transfer

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"mediafetch/pkg/errors"
	"mediafetch/pkg/logger"
	"mediafetch/pkg/ratelimit"
	"mediafetch/pkg/ui"
)

// Options configures an HTTPSession
type Options struct {
	// ConnectTimeout bounds dialing and waiting for response headers
	ConnectTimeout time.Duration
	UserAgent      string
	// Proxy is the default proxy URL. Empty means the environment proxy.
	Proxy   string
	Limiter *ratelimit.HostLimiter
	Logger  logger.Logger
}

// HTTPSession implements Session over net/http
type HTTPSession struct {
	opts    Options
	headers map[string]string
	limiter *ratelimit.HostLimiter
	logger  logger.Logger

	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewHTTPSession creates a session
func NewHTTPSession(opts Options) *HTTPSession {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 15 * time.Second
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.NewHostLimiter()
	}

	headers := map[string]string{
		"Accept":          "*/*",
		"Accept-Language": "en-US,en;q=0.9",
	}
	if opts.UserAgent != "" {
		headers["User-Agent"] = opts.UserAgent
	}

	return &HTTPSession{
		opts:    opts,
		headers: headers,
		limiter: opts.Limiter,
		logger:  logger.OrDefault(opts.Logger),
		clients: make(map[string]*http.Client),
	}
}

// client returns the HTTP client for proxy, creating it on first use
func (s *HTTPSession) client(proxy string) (*http.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[proxy]; ok {
		return c, nil
	}

	proxyFunc := http.ProxyFromEnvironment
	if proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil {
			return nil, errors.Permanent(0, fmt.Sprintf("invalid proxy %q: %v", proxy, err))
		}
		proxyFunc = http.ProxyURL(u)
	}

	dialer := &net.Dialer{Timeout: s.opts.ConnectTimeout, KeepAlive: 30 * time.Second}
	c := &http.Client{
		Transport: &http.Transport{
			Proxy:                 proxyFunc,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   s.opts.ConnectTimeout,
			ResponseHeaderTimeout: s.opts.ConnectTimeout,
			MaxIdleConnsPerHost:   4,
			// byte offsets must refer to the stored representation
			DisableCompression: true,
			IdleConnTimeout:    90 * time.Second,
		},
	}
	s.clients[proxy] = c
	return c, nil
}

// doRequest paces, sends and status-checks a request. The caller closes the body.
func (s *HTTPSession) doRequest(ctx context.Context, method, rawURL, referer, rangeHeader, proxy string, throttle time.Duration) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, errors.Permanent(0, fmt.Sprintf("failed to create request: %v", err))
	}

	for key, value := range s.headers {
		req.Header.Set(key, value)
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	if proxy == "" {
		proxy = s.opts.Proxy
	}
	c, err := s.client(proxy)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Wait(ctx, req.URL.Host, throttle); err != nil {
		return nil, err
	}

	start := time.Now()
	s.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": method,
		"url":    rawURL,
		"range":  rangeHeader,
	})

	resp, err := c.Do(req)
	duration := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.DebugWithFields("HTTP request failed", map[string]interface{}{
			"method":   method,
			"url":      rawURL,
			"error":    err.Error(),
			"timeout":  IsTimeout(err),
			"duration": duration,
		})
		return nil, errors.Recoverable(err)
	}

	s.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   method,
		"url":      rawURL,
		"status":   resp.StatusCode,
		"duration": duration,
	})

	if err := checkResponseStatus(resp, rangeHeader != ""); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// checkResponseStatus accepts 200, and 206 or 416 for ranged requests
func checkResponseStatus(resp *http.Response, ranged bool) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case ranged && (resp.StatusCode == http.StatusPartialContent || resp.StatusCode == http.StatusRequestedRangeNotSatisfiable):
		return nil
	default:
		return errors.HTTPStatus(resp.StatusCode, resp.Request.URL.String())
	}
}

func (s *HTTPSession) head(ctx context.Context, rawURL, referer string, throttle time.Duration) (*http.Response, error) {
	resp, err := s.doRequest(ctx, http.MethodHead, rawURL, referer, "", "", throttle)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	return resp, nil
}

// GetFileSize returns the Content-Length reported for rawURL
func (s *HTTPSession) GetFileSize(ctx context.Context, rawURL, referer string, throttle time.Duration) (int64, error) {
	resp, err := s.head(ctx, rawURL, referer, throttle)
	if err != nil {
		return 0, err
	}
	return resp.ContentLength, nil
}

// GetFilename returns the filename from the Content-Disposition header
func (s *HTTPSession) GetFilename(ctx context.Context, rawURL, referer string, throttle time.Duration) (string, error) {
	resp, err := s.head(ctx, rawURL, referer, throttle)
	if err != nil {
		return "", err
	}

	disposition := resp.Header.Get("Content-Disposition")
	if disposition == "" {
		return "", errors.Skip("no content-disposition header")
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return "", errors.Skip(fmt.Sprintf("malformed content-disposition: %v", err))
	}
	name := path.Base(params["filename"])
	if name == "" || name == "." || name == "/" {
		return "", errors.Skip("content-disposition has no filename")
	}
	return name, nil
}

// GetContentType returns the Content-Type header for rawURL
func (s *HTTPSession) GetContentType(ctx context.Context, rawURL, referer string, throttle time.Duration) (string, error) {
	resp, err := s.head(ctx, rawURL, referer, throttle)
	if err != nil {
		return "", err
	}
	return resp.Header.Get("Content-Type"), nil
}

// DownloadFile streams req.URL into req.TempPath. A 206 response is
// appended to the existing partial file; a 200 response means the server
// ignored the range and the partial file is rewritten from the start.
func (s *HTTPSession) DownloadFile(ctx context.Context, req Request) error {
	resp, err := s.doRequest(ctx, http.MethodGet, req.URL, req.Referer, req.Range, req.Proxy, req.Throttle)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	log := s.logger.WithFields(map[string]interface{}{
		"url":        req.URL,
		"filename":   req.FinalName,
		"collection": req.Collection,
	})

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		if size, ok := unsatisfiedRangeSize(resp.Header.Get("Content-Range")); ok && size != req.ResumeOffset {
			log.WarnWithFields("partial file does not match remote size, restarting", map[string]interface{}{
				"offset":      req.ResumeOffset,
				"remote_size": size,
			})
			if err := os.Truncate(req.TempPath, 0); err != nil && !os.IsNotExist(err) {
				return errors.Recoverable(fmt.Errorf("failed to reset partial file: %w", err))
			}
			return errors.Recoverable(fmt.Errorf("partial file holds %d bytes, remote has %d", req.ResumeOffset, size))
		}
		// the partial file already holds every byte
		log.DebugWithFields("range not satisfiable, partial file is complete", map[string]interface{}{
			"offset": req.ResumeOffset,
		})
		return nil
	}

	flags := os.O_CREATE | os.O_WRONLY
	offset := req.ResumeOffset
	if resp.StatusCode == http.StatusPartialContent && offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
		offset = 0
	}

	file, err := os.OpenFile(req.TempPath, flags, 0644)
	if err != nil {
		return errors.Recoverable(fmt.Errorf("failed to open partial file: %w", err))
	}

	total := int64(-1)
	if resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	}
	bar := ui.NewTransferBar(req.FinalName, total, offset, req.ShowProgress)

	written, copyErr := io.Copy(io.MultiWriter(file, bar), resp.Body)
	closeErr := file.Close()
	_ = bar.Finish()

	if copyErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Recoverable(fmt.Errorf("transfer interrupted after %d bytes: %w", written, copyErr))
	}
	if closeErr != nil {
		return errors.Recoverable(fmt.Errorf("failed to close partial file: %w", closeErr))
	}
	if resp.ContentLength >= 0 && written < resp.ContentLength {
		return errors.Recoverable(fmt.Errorf("short body: got %d of %d bytes: %w", written, resp.ContentLength, io.ErrUnexpectedEOF))
	}

	log.DebugWithFields("transfer finished", map[string]interface{}{
		"bytes":  written,
		"offset": offset,
	})
	return nil
}

// IsTimeout reports whether err is a network timeout
func IsTimeout(err error) bool {
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

// unsatisfiedRangeSize parses the complete length from a 416 Content-Range
// header of the form "bytes */length"
func unsatisfiedRangeSize(header string) (int64, bool) {
	length, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes */")
	if !ok {
		return 0, false
	}
	size, err := strconv.ParseInt(length, 10, 64)
	if err != nil || size < 0 {
		return 0, false
	}
	return size, true
}
