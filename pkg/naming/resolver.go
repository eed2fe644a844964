package naming

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"mediafetch/pkg/errors"
	"mediafetch/pkg/logger"
	"mediafetch/pkg/media"
	"mediafetch/pkg/models"
)

// MaxFilenameLength caps the stem length of derived filenames
const MaxFilenameLength = 95

// queryMarker is cut from names taken from URL paths, e.g. "clip.mp4v=123"
const queryMarker = "v="

// Prober asks the remote server about a file when the URL is inconclusive
type Prober interface {
	GetFilename(ctx context.Context, url, referer string, throttle time.Duration) (string, error)
	GetContentType(ctx context.Context, url, referer string, throttle time.Duration) (string, error)
}

// Resolver derives a safe, extension-correct filename for a link
type Resolver struct {
	prober   Prober
	throttle *ThrottleTable
	base     time.Duration
	logger   logger.Logger
}

// NewResolver creates a resolver. base is the session's default throttle.
func NewResolver(prober Prober, throttle *ThrottleTable, base time.Duration, log logger.Logger) *Resolver {
	return &Resolver{
		prober:   prober,
		throttle: throttle,
		base:     base,
		logger:   logger.OrDefault(log),
	}
}

// Resolve returns the filename for link. Links whose name cannot be
// determined fail with a skip fault.
func (r *Resolver) Resolve(ctx context.Context, link models.Link) (string, error) {
	name := Sanitize(path.Base(link.URL.Path))
	if name == "." || name == "/" {
		name = ""
	}
	if i := strings.Index(name, queryMarker); i >= 0 {
		name = name[:i]
	}
	name = truncate(name)

	if !media.Known(media.Ext(name)) {
		resolved, err := r.probe(ctx, link, name)
		if err != nil {
			return "", err
		}
		name = resolved
	}

	return normalizeExt(name), nil
}

func (r *Resolver) probe(ctx context.Context, link models.Link, name string) (string, error) {
	rawURL := link.URL.String()
	referer := link.RefererString()
	throttle := r.throttle.For(link.URL.Host, r.base)

	headerName, err := r.prober.GetFilename(ctx, rawURL, referer, throttle)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if err == nil && headerName != "" {
		headerName = Sanitize(headerName)
		if media.Known(media.Ext(headerName)) {
			return headerName, nil
		}
		r.logger.DebugWithFields("no known extension in server filename", map[string]interface{}{
			"url":      rawURL,
			"filename": headerName,
		})
		name = headerName
	}

	contentType, err := r.prober.GetContentType(ctx, rawURL, referer, throttle)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if err != nil {
		r.logger.WithError(err).WarnWithFields("could not determine filename", map[string]interface{}{"url": rawURL})
		return "", errors.Skip(fmt.Sprintf("unresolvable filename for %s", rawURL))
	}
	if !strings.Contains(contentType, "image") {
		r.logger.DebugWithFields("unhandled content type", map[string]interface{}{
			"url":          rawURL,
			"content_type": contentType,
		})
		return "", errors.Skip(fmt.Sprintf("unresolvable filename for %s", rawURL))
	}

	subtype := contentType[strings.LastIndex(contentType, "/")+1:]
	if i := strings.Index(subtype, ";"); i >= 0 {
		subtype = subtype[:i]
	}
	subtype = strings.TrimSpace(subtype)
	if name == "" || subtype == "" {
		return "", errors.Skip(fmt.Sprintf("unresolvable filename for %s", rawURL))
	}
	return Sanitize(name + "." + subtype), nil
}

// truncate shortens the stem to MaxFilenameLength runes, keeping the extension
func truncate(name string) string {
	if utf8.RuneCountInString(name) <= MaxFilenameLength {
		return name
	}
	stem, ext := SplitExt(name)
	runes := []rune(stem)
	if len(runes) > MaxFilenameLength {
		runes = runes[:MaxFilenameLength]
	}
	return string(runes) + ext
}

// normalizeExt lower-cases the extension of name
func normalizeExt(name string) string {
	stem, ext := SplitExt(name)
	return stem + strings.ToLower(ext)
}
