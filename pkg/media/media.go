// Package media classifies files by extension and applies the user's
// category exclusions.
package media

import (
	"path"
	"strings"

	"mediafetch/pkg/config"
	"mediafetch/pkg/logger"
)

// Category groups file extensions for exclusion purposes
type Category string

const (
	Images  Category = "images"
	Videos  Category = "videos"
	Audio   Category = "audio"
	Other   Category = "other"
	Unknown Category = ""
)

var extensions = map[Category][]string{
	Images: {".jpg", ".jpeg", ".png", ".gif", ".gifv", ".webp", ".jpe", ".svg", ".jfif", ".tif", ".tiff", ".jif", ".bmp", ".heic", ".avif"},
	Videos: {".mpeg", ".avchd", ".webm", ".mpv", ".swf", ".avi", ".m4p", ".wmv", ".mp2", ".m4v", ".qt", ".mpe", ".mp4", ".flv", ".mov", ".mpg", ".ogg", ".mkv", ".mts", ".ts", ".f4v", ".3gp"},
	Audio:  {".mp3", ".flac", ".wav", ".m4a", ".opus", ".aac", ".wma", ".aiff"},
	Other:  {".json", ".torrent", ".zip", ".rar", ".7z", ".txt", ".pdf", ".epub", ".iso", ".gz", ".tar"},
}

var categoryByExt = func() map[string]Category {
	m := make(map[string]Category)
	for category, exts := range extensions {
		for _, ext := range exts {
			m[ext] = category
		}
	}
	return m
}()

// Ext returns the lower-cased extension of name including the dot
func Ext(name string) string {
	return strings.ToLower(path.Ext(name))
}

// CategoryOf returns the category of an extension such as ".JPG".
// Unknown extensions return Unknown.
func CategoryOf(ext string) Category {
	return categoryByExt[strings.ToLower(ext)]
}

// Known reports whether ext belongs to any category
func Known(ext string) bool {
	return CategoryOf(ext) != Unknown
}

// IsImage reports whether ext is an image extension
func IsImage(ext string) bool {
	return CategoryOf(ext) == Images
}

// ExclusionFilter decides whether a file should be skipped based on its category
type ExclusionFilter struct {
	exclude config.ExcludeConfig
	logger  logger.Logger
}

// NewExclusionFilter creates a filter from the configured exclude flags
func NewExclusionFilter(exclude config.ExcludeConfig, log logger.Logger) *ExclusionFilter {
	return &ExclusionFilter{exclude: exclude, logger: logger.OrDefault(log)}
}

// Keep returns false when filename belongs to an excluded category
func (f *ExclusionFilter) Keep(filename string) bool {
	category := CategoryOf(Ext(filename))
	if f.excluded(category) {
		f.logger.DebugWithFields("skipping excluded file", map[string]interface{}{
			"filename": filename,
			"category": string(category),
		})
		return false
	}
	return true
}

func (f *ExclusionFilter) excluded(c Category) bool {
	switch c {
	case Videos:
		return f.exclude.Videos
	case Images:
		return f.exclude.Images
	case Audio:
		return f.exclude.Audio
	case Other:
		return f.exclude.Other
	default:
		return false
	}
}
