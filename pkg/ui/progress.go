package ui

import (
	"io"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// CollectionProgress counts finished files of one collection
type CollectionProgress struct {
	mu   sync.Mutex
	bar  *progressbar.ProgressBar
	done int64
}

// NewCollectionProgress creates a file counter bar for title. A disabled
// bar tracks counts without rendering.
func NewCollectionProgress(title string, total int, enabled bool) *CollectionProgress {
	if !enabled {
		return &CollectionProgress{bar: progressbar.DefaultSilent(int64(total), title)}
	}

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(title),
		progressbar.OptionSetItsString("FILE"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionOnCompletion(func() {
			_, _ = io.WriteString(os.Stderr, "\n")
		}),
	)
	return &CollectionProgress{bar: bar}
}

// Increment records one finished file
func (p *CollectionProgress) Increment() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	_ = p.bar.Add(1)
}

// Current returns the number of finished files
func (p *CollectionProgress) Current() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Finish completes the bar
func (p *CollectionProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.bar.Finish()
}

// NewTransferBar returns a byte counter for one file transfer. offset is the
// number of bytes already on disk when resuming. total may be -1 when the
// server does not report a length.
func NewTransferBar(description string, total, offset int64, enabled bool) *progressbar.ProgressBar {
	var bar *progressbar.ProgressBar
	if enabled {
		bar = progressbar.DefaultBytes(total, description)
	} else {
		bar = progressbar.DefaultBytesSilent(total, description)
	}
	if offset > 0 {
		_ = bar.Set64(offset)
	}
	return bar
}
