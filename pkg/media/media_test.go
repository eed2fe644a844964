package media

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mediafetch/pkg/config"
	"mediafetch/pkg/logger"
)

func TestCategoryOf(t *testing.T) {
	tests := map[string]Category{
		".jpg":  Images,
		".JPEG": Images,
		".mp4":  Videos,
		".flac": Audio,
		".zip":  Other,
		".xyz":  Unknown,
		"":      Unknown,
	}
	for ext, want := range tests {
		assert.Equal(t, want, CategoryOf(ext), ext)
	}
}

func TestExt(t *testing.T) {
	assert.Equal(t, ".png", Ext("Photo.PNG"))
	assert.Equal(t, ".gz", Ext("archive.tar.gz"))
	assert.Equal(t, "", Ext("README"))
}

func TestKnownAndIsImage(t *testing.T) {
	assert.True(t, Known(".webm"))
	assert.False(t, Known(".php"))
	assert.True(t, IsImage(".gif"))
	assert.False(t, IsImage(".mp4"))
}

func TestExclusionFilter(t *testing.T) {
	log := logger.NewTestLogger()
	f := NewExclusionFilter(config.ExcludeConfig{Videos: true}, log)

	assert.False(t, f.Keep("clip.mp4"))
	assert.True(t, f.Keep("photo.jpg"))
	assert.True(t, f.Keep("song.mp3"))
	assert.True(t, f.Keep("mystery.bin"), "unknown categories are never excluded")
	assert.True(t, log.HasMessage("skipping excluded file"))

	all := NewExclusionFilter(config.ExcludeConfig{Videos: true, Images: true, Audio: true, Other: true}, nil)
	for _, name := range []string{"a.mov", "b.png", "c.wav", "d.rar"} {
		assert.False(t, all.Keep(name), name)
	}
}
