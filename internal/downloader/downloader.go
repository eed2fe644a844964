package downloader

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"mediafetch/pkg/config"
	"mediafetch/pkg/errors"
	"mediafetch/pkg/ledger"
	"mediafetch/pkg/lock"
	"mediafetch/pkg/logger"
	"mediafetch/pkg/media"
	"mediafetch/pkg/models"
	"mediafetch/pkg/naming"
	"mediafetch/pkg/retry"
	"mediafetch/pkg/storage"
	"mediafetch/pkg/transfer"
	"mediafetch/pkg/ui"
)

// Outcome is the terminal state of one link
type Outcome int

const (
	// Completed means the file was transferred and finalized
	Completed Outcome = iota
	// Skipped covers ledger hits, exclusions, unresolvable names and
	// files already on disk
	Skipped
	// MarkedOnly means the link was recorded as downloaded without a transfer
	MarkedOnly
	// Failed means the link gave up after a permanent fault or its last attempt
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Skipped:
		return "skipped"
	case MarkedOnly:
		return "marked"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result reports what happened to one link
type Result struct {
	Link     models.Link
	Filename string
	Outcome  Outcome
	Reason   string
	Err      error
	Duration time.Duration
}

// Summary counts results of one or more collections
type Summary struct {
	Completed  int
	Skipped    int
	Failed     int
	MarkedOnly int
	// Failures holds the failed results in completion order
	Failures []Result
}

func (s *Summary) add(r Result) {
	switch r.Outcome {
	case Completed:
		s.Completed++
	case Skipped:
		s.Skipped++
	case MarkedOnly:
		s.MarkedOnly++
	case Failed:
		s.Failed++
		s.Failures = append(s.Failures, r)
	}
}

// Merge adds the counts of other to s
func (s *Summary) Merge(other Summary) {
	s.Completed += other.Completed
	s.Skipped += other.Skipped
	s.Failed += other.Failed
	s.MarkedOnly += other.MarkedOnly
	s.Failures = append(s.Failures, other.Failures...)
}

// Total returns the number of links accounted for
func (s Summary) Total() int {
	return s.Completed + s.Skipped + s.Failed + s.MarkedOnly
}

// Options wires a Downloader to its collaborators. Everything except Host,
// Collection and Workers is normally shared between downloaders.
type Options struct {
	Host       string
	Collection *models.Collection
	Workers    int

	Config   *config.Config
	Session  transfer.Session
	Ledger   ledger.Ledger
	Locks    *lock.Registry
	Storage  *storage.Manager
	Throttle *naming.ThrottleTable
	Mirrors  *MirrorSubstitution
	Logger   logger.Logger
}

// Downloader fetches every link of one collection with bounded concurrency
type Downloader struct {
	host    string
	title   string
	links   []models.Link
	workers int

	cfg      config.DownloadConfig
	session  transfer.Session
	ledger   ledger.Ledger
	locks    *lock.Registry
	store    *storage.Manager
	throttle *naming.ThrottleTable
	resolver *naming.Resolver
	filter   *media.ExclusionFilter
	policy   *retry.Policy
	gate     *semaphore.Weighted
	logger   logger.Logger
}

// New creates a Downloader for one collection
func New(opts Options) *Downloader {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	mirrors := opts.Mirrors
	if mirrors == nil {
		mirrors = NewMirrorSubstitution()
	}
	locks := opts.Locks
	if locks == nil {
		locks = lock.New()
	}

	var title string
	var links []models.Link
	if opts.Collection != nil {
		title = naming.DirName(opts.Collection.Title)
		links = opts.Collection.Links
	}

	log := logger.OrDefault(opts.Logger).WithFields(map[string]interface{}{
		"host":       opts.Host,
		"collection": title,
	})

	throttle := opts.Throttle
	if throttle == nil {
		throttle = naming.NewThrottleTable(cfg.Download.HostThrottle)
	}

	return &Downloader{
		host:     opts.Host,
		title:    title,
		links:    links,
		workers:  workers,
		cfg:      cfg.Download,
		session:  opts.Session,
		ledger:   opts.Ledger,
		locks:    locks,
		store:    opts.Storage,
		throttle: throttle,
		resolver: naming.NewResolver(opts.Session, throttle, cfg.Download.Throttle, log),
		filter:   media.NewExclusionFilter(cfg.Exclude, log),
		policy: retry.NewPolicy(
			cfg.Download.MaxAttempts,
			cfg.Download.UnlimitedAttempts,
			cfg.Download.RetryDelay,
			mirrors.Apply,
			log,
		),
		gate:   semaphore.NewWeighted(int64(workers)),
		logger: log,
	}
}

// Host returns the source host of the collection
func (d *Downloader) Host() string { return d.host }

// Title returns the collection title as used for its directory
func (d *Downloader) Title() string { return d.title }

// Workers returns the concurrency cap of this downloader
func (d *Downloader) Workers() int { return d.workers }

// DownloadAll launches every link at once. The gate bounds how many transfer
// concurrently. Once all links are done the ledger is committed.
func (d *Downloader) DownloadAll(ctx context.Context) (Summary, error) {
	start := time.Now()
	d.logger.InfoWithFields("collection started", map[string]interface{}{
		"links":   len(d.links),
		"workers": d.workers,
	})

	progress := ui.NewCollectionProgress(d.title, len(d.links), d.cfg.ShowProgress)
	results := make(chan Result, d.workers)

	var wg sync.WaitGroup
	for _, link := range d.links {
		wg.Add(1)
		go func(link models.Link) {
			defer wg.Done()
			results <- d.process(ctx, link)
		}(link)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var summary Summary
	for r := range results {
		summary.add(r)
		progress.Increment()
	}
	progress.Finish()

	if err := d.ledger.Commit(ctx); err != nil {
		d.logger.WithError(err).Error("failed to commit ledger")
		return summary, fmt.Errorf("commit ledger for %s: %w", d.title, err)
	}

	d.logger.InfoWithFields("collection finished", map[string]interface{}{
		"completed": summary.Completed,
		"skipped":   summary.Skipped,
		"failed":    summary.Failed,
		"marked":    summary.MarkedOnly,
		"duration":  time.Since(start),
	})
	return summary, nil
}

// process resolves, filters and downloads one link. It never panics the
// collection: every failure ends up in the Result.
func (d *Downloader) process(ctx context.Context, link models.Link) (res Result) {
	start := time.Now()
	res = Result{Link: link}
	log := d.logger.WithField("url", link.String())

	defer func() {
		if p := recover(); p != nil {
			res.Outcome = Failed
			res.Err = fmt.Errorf("panic while processing link: %v", p)
			log.Error(res.Err.Error())
		}
		res.Duration = time.Since(start)
	}()

	name, err := d.resolver.Resolve(ctx, link)
	if err != nil {
		res.Err = err
		if errors.IsSkip(err) {
			res.Outcome = Skipped
			res.Reason = "unresolvable filename"
			return res
		}
		res.Outcome = Failed
		log.WithError(err).Warn("filename resolution failed")
		return res
	}
	res.Filename = name

	if !d.filter.Keep(name) {
		res.Outcome = Skipped
		res.Reason = "excluded"
		return res
	}

	err = d.policy.Run(ctx, link.URL, func(ctx context.Context, target *url.URL) error {
		outcome, final, reason, err := d.downloadFile(ctx, link, target, name)
		res.Outcome, res.Reason = outcome, reason
		if final != "" {
			res.Filename = final
		}
		return err
	})
	if err != nil {
		res.Err = err
		if errors.IsSkip(err) {
			res.Outcome = Skipped
			return res
		}
		res.Outcome = Failed
		log.WithError(err).WarnWithFields("download failed", map[string]interface{}{
			"filename": res.Filename,
			"status":   errors.StatusCode(err),
		})
		return res
	}
	return res
}

// downloadFile runs one attempt for link against target, which may be a
// mirror of link.URL. Locks taken here are released before it returns.
func (d *Downloader) downloadFile(ctx context.Context, link models.Link, target *url.URL, original string) (Outcome, string, string, error) {
	dbPath := ledger.Path(link.URL)
	log := d.logger.WithFields(map[string]interface{}{
		"url":  target.String(),
		"path": dbPath,
	})

	if err := ctx.Err(); err != nil {
		return Failed, "", "", err
	}

	done, err := d.ledger.PathCompleted(ctx, dbPath)
	if err != nil {
		return Failed, "", "", errors.Recoverable(fmt.Errorf("ledger lookup: %w", err))
	}
	if done {
		log.DebugWithFields("found in ledger, skipping", map[string]interface{}{"filename": original})
		return Skipped, original, "already downloaded", nil
	}

	if err := d.gate.Acquire(ctx, 1); err != nil {
		return Failed, "", "", err
	}
	defer d.gate.Release(1)

	originalKey := d.store.CompletePath(d.title, original)
	if err := d.locks.Acquire(ctx, originalKey); err != nil {
		return Failed, "", "", err
	}
	defer d.locks.Release(originalKey)

	rawURL := target.String()
	referer := link.RefererString()
	throttle := d.throttle.For(target.Host, d.cfg.Throttle)

	filename := original
	if d.store.Occupied(d.title, original) {
		if size, ok := storage.FileSize(originalKey); ok {
			remote, err := d.session.GetFileSize(ctx, rawURL, referer, throttle)
			if err != nil {
				return Failed, "", "", d.classify(target, err)
			}
			if remote >= 0 && size == remote {
				if err := d.record(ctx, dbPath, original); err != nil {
					return Failed, "", "", err
				}
				log.DebugWithFields("file already exists with expected size", map[string]interface{}{"filename": original})
				return Skipped, original, "already on disk", nil
			}
		}

		alternate, err := d.claimName(ctx, dbPath, original)
		if err != nil {
			return Failed, "", "", err
		}
		if alternate != original {
			defer d.locks.Release(d.store.CompletePath(d.title, alternate))
		}
		filename = alternate
	}

	if err := d.ledger.InsertPending(ctx, dbPath, filename); err != nil {
		return Failed, "", "", errors.Recoverable(fmt.Errorf("ledger insert: %w", err))
	}

	if d.cfg.MarkDownloadedOnly {
		if err := d.ledger.MarkCompleted(ctx, dbPath, filename); err != nil {
			return Failed, "", "", errors.Recoverable(fmt.Errorf("ledger update: %w", err))
		}
		return MarkedOnly, filename, "", nil
	}

	if err := d.store.EnsureCollectionDir(d.title); err != nil {
		return Failed, "", "", errors.Permanent(0, err.Error())
	}

	temp := d.store.PartialPath(d.title, filename)
	req := transfer.Request{
		URL:          rawURL,
		Referer:      referer,
		Throttle:     throttle,
		OriginalName: original,
		FinalName:    filename,
		TempPath:     temp,
		// byte bars interleave when several transfers share the terminal
		ShowProgress: d.cfg.ShowProgress && d.workers == 1,
		Folder:       d.store.GetOutputDir(),
		Collection:   d.title,
		Proxy:        d.cfg.Proxy,
	}
	if size, ok := storage.FileSize(temp); ok && size > 0 {
		req.ResumeOffset = size
		req.Range = fmt.Sprintf("bytes=%d-", size)
		log.DebugWithFields("resuming partial file", map[string]interface{}{
			"filename": filename,
			"offset":   size,
		})
	}

	if err := d.ledger.InsertTempMarker(ctx, temp); err != nil {
		return Failed, "", "", errors.Recoverable(fmt.Errorf("ledger temp marker: %w", err))
	}

	if err := d.session.DownloadFile(ctx, req); err != nil {
		return Failed, filename, "", d.classify(target, err)
	}

	if err := d.store.Finalize(d.title, filename); err != nil {
		return Failed, filename, "", errors.Recoverable(err)
	}
	if err := d.ledger.MarkCompleted(ctx, dbPath, filename); err != nil {
		return Failed, filename, "", errors.Recoverable(fmt.Errorf("ledger update: %w", err))
	}

	log.DebugWithFields("finished", map[string]interface{}{"filename": filename})
	return Completed, filename, "", nil
}

// claimName picks the name for dbPath when original is taken on disk: the
// name the ledger already assigned, or the first free "stem (n).ext". The
// returned name is locked unless it equals original.
func (d *Downloader) claimName(ctx context.Context, dbPath, original string) (string, error) {
	assigned, err := d.ledger.AssignedName(ctx, dbPath)
	if err != nil {
		return "", errors.Recoverable(fmt.Errorf("ledger lookup: %w", err))
	}
	if assigned != "" {
		if assigned != original {
			if err := d.locks.Acquire(ctx, d.store.CompletePath(d.title, assigned)); err != nil {
				return "", err
			}
		}
		return assigned, nil
	}

	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		candidate := naming.Alternate(original, n)
		if d.store.Occupied(d.title, candidate) {
			continue
		}
		inUse, err := d.ledger.NameInUse(ctx, candidate)
		if err != nil {
			return "", errors.Recoverable(fmt.Errorf("ledger lookup: %w", err))
		}
		if inUse {
			continue
		}
		if !d.locks.TryAcquire(d.store.CompletePath(d.title, candidate)) {
			continue
		}
		return candidate, nil
	}
}

// record adopts an existing file into the ledger
func (d *Downloader) record(ctx context.Context, dbPath, filename string) error {
	if err := d.ledger.InsertPending(ctx, dbPath, filename); err != nil {
		return errors.Recoverable(fmt.Errorf("ledger insert: %w", err))
	}
	if err := d.ledger.MarkCompleted(ctx, dbPath, filename); err != nil {
		return errors.Recoverable(fmt.Errorf("ledger update: %w", err))
	}
	return nil
}

// classify turns a transfer failure into a permanent or recoverable fault
func (d *Downloader) classify(target *url.URL, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.Classify(err, target.Host, d.cfg.RetryAlwaysHosts)
}
