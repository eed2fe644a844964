package downloader

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"mediafetch/pkg/config"
	"mediafetch/pkg/ledger"
	"mediafetch/pkg/lock"
	"mediafetch/pkg/logger"
	"mediafetch/pkg/models"
	"mediafetch/pkg/naming"
	"mediafetch/pkg/storage"
	"mediafetch/pkg/transfer"
)

// Factory builds one Downloader per (host, collection) pair. All downloaders
// it creates share the session, ledger, lock registry and storage.
type Factory struct {
	cfg      *config.Config
	session  transfer.Session
	ledger   ledger.Ledger
	locks    *lock.Registry
	store    *storage.Manager
	throttle *naming.ThrottleTable
	mirrors  *MirrorSubstitution
	logger   logger.Logger
}

// NewFactory creates a factory. A nil lock registry gets a fresh one.
func NewFactory(cfg *config.Config, session transfer.Session, l ledger.Ledger, locks *lock.Registry, store *storage.Manager, log logger.Logger) *Factory {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if locks == nil {
		locks = lock.New()
	}
	return &Factory{
		cfg:      cfg,
		session:  session,
		ledger:   l,
		locks:    locks,
		store:    store,
		throttle: naming.NewThrottleTable(cfg.Download.HostThrottle),
		mirrors:  NewMirrorSubstitution(),
		logger:   logger.OrDefault(log),
	}
}

// WorkersFor returns the concurrency cap for host. Strict hosts get at most
// StrictHostWorkers.
func (f *Factory) WorkersFor(host string) int {
	workers := f.cfg.Download.Workers
	for _, strict := range f.cfg.Download.StrictHosts {
		if strict != "" && strings.Contains(host, strict) {
			if f.cfg.Download.StrictHostWorkers < workers {
				workers = f.cfg.Download.StrictHostWorkers
			}
			break
		}
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

// New creates the Downloader for one collection of host
func (f *Factory) New(host string, c *models.Collection) *Downloader {
	return New(Options{
		Host:       host,
		Collection: c,
		Workers:    f.WorkersFor(host),
		Config:     f.cfg,
		Session:    f.session,
		Ledger:     f.ledger,
		Locks:      f.locks,
		Storage:    f.store,
		Throttle:   f.throttle,
		Mirrors:    f.mirrors,
		Logger:     f.logger,
	})
}

// FromTree creates a Downloader for every collection in tree, in tree order
func (f *Factory) FromTree(tree *models.LinkTree) []*Downloader {
	var downloaders []*Downloader
	tree.Each(func(host string, c *models.Collection) {
		downloaders = append(downloaders, f.New(host, c))
	})
	return downloaders
}

// RunAll runs every downloader concurrently and merges their summaries.
// A failing commit does not stop the other collections.
func RunAll(ctx context.Context, downloaders []*Downloader) (Summary, error) {
	var (
		mu    sync.Mutex
		total Summary
		g     errgroup.Group
	)

	for _, d := range downloaders {
		d := d
		g.Go(func() error {
			summary, err := d.DownloadAll(ctx)
			mu.Lock()
			total.Merge(summary)
			mu.Unlock()
			return err
		})
	}

	err := g.Wait()
	return total, err
}
