package downloader

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediafetch/pkg/config"
	"mediafetch/pkg/errors"
	"mediafetch/pkg/ledger"
	"mediafetch/pkg/lock"
	"mediafetch/pkg/logger"
	"mediafetch/pkg/models"
	"mediafetch/pkg/retry"
	"mediafetch/pkg/storage"
	"mediafetch/pkg/transfer"
)

// fakeSession serves in-memory content keyed by URL path
type fakeSession struct {
	mu       sync.Mutex
	content  map[string]string
	failures map[string][]error
	requests []transfer.Request
	probes   int
	delay    time.Duration

	active    map[string]int
	maxActive int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		content:  make(map[string]string),
		failures: make(map[string][]error),
		active:   make(map[string]int),
	}
}

func (s *fakeSession) serve(path, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content[path] = body
}

// failWith makes the next transfers of path fail with errs, in order
func (s *fakeSession) failWith(path string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = append(s.failures[path], errs...)
}

func (s *fakeSession) GetFileSize(_ context.Context, rawURL, _ string, _ time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes++
	u, _ := url.Parse(rawURL)
	body, ok := s.content[u.Path]
	if !ok {
		return -1, nil
	}
	return int64(len(body)), nil
}

func (s *fakeSession) GetFilename(context.Context, string, string, time.Duration) (string, error) {
	s.mu.Lock()
	s.probes++
	s.mu.Unlock()
	return "", errors.Skip("no content-disposition header")
}

func (s *fakeSession) GetContentType(context.Context, string, string, time.Duration) (string, error) {
	s.mu.Lock()
	s.probes++
	s.mu.Unlock()
	return "text/html", nil
}

func (s *fakeSession) DownloadFile(_ context.Context, req transfer.Request) error {
	u, _ := url.Parse(req.URL)

	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.active[req.FinalName]++
	if s.active[req.FinalName] > s.maxActive {
		s.maxActive = s.active[req.FinalName]
	}
	var failure error
	if queued := s.failures[u.Path]; len(queued) > 0 {
		failure = queued[0]
		if len(queued) > 1 {
			s.failures[u.Path] = queued[1:]
		}
	}
	body := s.content[u.Path]
	delay := s.delay
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active[req.FinalName]--
		s.mu.Unlock()
	}()

	time.Sleep(delay)
	if failure != nil {
		return failure
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	data := body
	if req.ResumeOffset > 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		data = body[req.ResumeOffset:]
	}
	f, err := os.OpenFile(req.TempPath, flags, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.WriteString(f, data)
	return err
}

func (s *fakeSession) transfers() []transfer.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transfer.Request(nil), s.requests...)
}

func (s *fakeSession) probeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probes
}

type harness struct {
	cfg     *config.Config
	session *fakeSession
	ledger  *ledger.MemoryLedger
	locks   *lock.Registry
	store   *storage.Manager
	log     *logger.TestLogger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Download.MaxAttempts = 3
	cfg.Download.RetryDelay = time.Millisecond
	cfg.Download.Throttle = 0
	cfg.Download.HostThrottle = nil
	cfg.Download.ShowProgress = false

	store, err := storage.NewManager(t.TempDir())
	require.NoError(t, err)

	return &harness{
		cfg:     cfg,
		session: newFakeSession(),
		ledger:  ledger.NewMemoryLedger(),
		locks:   lock.New(lock.WithPollInterval(5*time.Millisecond, 2*time.Millisecond, time.Millisecond)),
		store:   store,
		log:     logger.NewTestLogger(),
	}
}

func (h *harness) factory() *Factory {
	return NewFactory(h.cfg, h.session, h.ledger, h.locks, h.store, h.log)
}

func (h *harness) downloader(t *testing.T, host, title string, rawURLs ...string) *Downloader {
	t.Helper()
	c := &models.Collection{Title: title}
	for _, raw := range rawURLs {
		link, err := models.NewLink(raw, "https://"+host+"/a/"+title)
		require.NoError(t, err)
		c.Links = append(c.Links, link)
	}
	return h.factory().New(host, c)
}

func (h *harness) readFile(t *testing.T, title, name string) string {
	t.Helper()
	data, err := os.ReadFile(h.store.CompletePath(title, name))
	require.NoError(t, err)
	return string(data)
}

func TestDownloadCompletes(t *testing.T) {
	h := newHarness(t)
	h.session.serve("/files/a.jpg", "jpeg bytes")
	d := h.downloader(t, "cdn.example.com", "album", "https://cdn.example.com/files/a.jpg")

	summary, err := d.DownloadAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, "jpeg bytes", h.readFile(t, "album", "a.jpg"))
	assert.False(t, storage.Exists(h.store.PartialPath("album", "a.jpg")))

	done, err := h.ledger.PathCompleted(context.Background(), "/files/a.jpg")
	require.NoError(t, err)
	assert.True(t, done)

	markers, err := h.ledger.TempMarkers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{h.store.PartialPath("album", "a.jpg")}, markers)

	reqs := h.session.transfers()
	require.Len(t, reqs, 1)
	assert.Equal(t, "https://cdn.example.com/a/album", reqs[0].Referer)
	assert.Empty(t, reqs[0].Range)
	assert.Equal(t, 0, h.locks.Held())
}

func TestCollectionTitleStaysInsideOutputDir(t *testing.T) {
	tests := []struct {
		title string
		dir   string
	}{
		{"../escaped", ".._escaped"},
		{"a/b", "a_b"},
		{"..", "_"},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			h := newHarness(t)
			h.session.serve("/files/a.jpg", "jpeg bytes")
			d := h.downloader(t, "cdn.example.com", tt.title, "https://cdn.example.com/files/a.jpg")
			assert.Equal(t, tt.dir, d.Title())

			summary, err := d.DownloadAll(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, summary.Completed)

			root := h.store.GetOutputDir()
			data, err := os.ReadFile(filepath.Join(root, tt.dir, "a.jpg"))
			require.NoError(t, err)
			assert.Equal(t, "jpeg bytes", string(data))

			entries, err := os.ReadDir(root)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, tt.dir, entries[0].Name())
			assert.False(t, storage.Exists(filepath.Join(filepath.Dir(root), "escaped")))
		})
	}
}

func TestDedupSkipsWithoutNetwork(t *testing.T) {
	h := newHarness(t)
	h.session.serve("/files/a.jpg", "jpeg bytes")
	ctx := context.Background()
	require.NoError(t, h.ledger.InsertPending(ctx, "/files/a.jpg", "a.jpg"))
	require.NoError(t, h.ledger.MarkCompleted(ctx, "/files/a.jpg", "a.jpg"))

	d := h.downloader(t, "cdn.example.com", "album", "https://cdn.example.com/files/a.jpg")
	summary, err := d.DownloadAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, h.session.transfers())
	assert.Zero(t, h.session.probeCount())
	assert.False(t, storage.Exists(h.store.CompletePath("album", "a.jpg")))
}

func TestSecondRunIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.session.serve("/files/a.jpg", "one")
	h.session.serve("/files/b.png", "two")
	urls := []string{"https://cdn.example.com/files/a.jpg", "https://cdn.example.com/files/b.png"}

	first, err := h.downloader(t, "cdn.example.com", "album", urls...).DownloadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Completed)

	second, err := h.downloader(t, "cdn.example.com", "album", urls...).DownloadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, second.Skipped)
	assert.Len(t, h.session.transfers(), 2)
}

func TestExistingFileWithMatchingSizeIsAdopted(t *testing.T) {
	h := newHarness(t)
	h.session.serve("/files/a.jpg", "jpeg bytes")
	require.NoError(t, h.store.EnsureCollectionDir("album"))
	require.NoError(t, os.WriteFile(h.store.CompletePath("album", "a.jpg"), []byte("JPEG BYTES"), 0644))

	d := h.downloader(t, "cdn.example.com", "album", "https://cdn.example.com/files/a.jpg")
	summary, err := d.DownloadAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, h.session.transfers())
	done, err := h.ledger.PathCompleted(context.Background(), "/files/a.jpg")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestCollisionsGetNumberedNames(t *testing.T) {
	h := newHarness(t)
	h.session.serve("/x/a.jpg", "first")
	h.session.serve("/y/a.jpg", "second!")
	h.session.serve("/z/a.jpg", "the third")
	h.session.delay = 10 * time.Millisecond

	d := h.downloader(t, "cdn.example.com", "album",
		"https://cdn.example.com/x/a.jpg",
		"https://cdn.example.com/y/a.jpg",
		"https://cdn.example.com/z/a.jpg",
	)
	summary, err := d.DownloadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Completed)

	entries, err := os.ReadDir(h.store.CollectionDir("album"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	assert.Equal(t, []string{"a (1).jpg", "a (2).jpg", "a.jpg"}, names)

	var contents []string
	for _, n := range names {
		contents = append(contents, h.readFile(t, "album", n))
	}
	assert.ElementsMatch(t, []string{"first", "second!", "the third"}, contents)
	assert.Equal(t, 0, h.locks.Held())
}

func TestSameFilenameNeverTransfersConcurrently(t *testing.T) {
	h := newHarness(t)
	h.cfg.Download.Workers = 8
	h.session.delay = 5 * time.Millisecond

	var urls []string
	for _, dir := range []string{"a", "b", "c", "d", "e", "f"} {
		h.session.serve("/"+dir+"/clip.jpg", dir+" contents of differing length "+dir+dir)
		urls = append(urls, "https://cdn.example.com/"+dir+"/clip.jpg")
	}

	summary, err := h.downloader(t, "cdn.example.com", "album", urls...).DownloadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(urls), summary.Completed+summary.Skipped)
	assert.Equal(t, 1, h.session.maxActive)
}

func TestResumeFromPartialFile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.session.serve("/files/movie.mp4", "0123456789")
	require.NoError(t, h.store.EnsureCollectionDir("album"))
	require.NoError(t, os.WriteFile(h.store.PartialPath("album", "movie.mp4"), []byte("01234"), 0644))
	require.NoError(t, h.ledger.InsertPending(ctx, "/files/movie.mp4", "movie.mp4"))

	d := h.downloader(t, "cdn.example.com", "album", "https://cdn.example.com/files/movie.mp4")
	summary, err := d.DownloadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)

	reqs := h.session.transfers()
	require.Len(t, reqs, 1)
	assert.Equal(t, "bytes=5-", reqs[0].Range)
	assert.Equal(t, int64(5), reqs[0].ResumeOffset)
	assert.Equal(t, "0123456789", h.readFile(t, "album", "movie.mp4"))
}

func TestRetryStopsAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	h.session.serve("/files/a.jpg", "jpeg")
	h.session.failWith("/files/a.jpg", errors.Recoverable(io.ErrUnexpectedEOF))

	d := h.downloader(t, "cdn.example.com", "album", "https://cdn.example.com/files/a.jpg")
	summary, err := d.DownloadAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, h.session.transfers(), 3)
	require.Len(t, summary.Failures, 1)
	assert.ErrorIs(t, summary.Failures[0].Err, retry.ErrAttemptsExhausted)
	assert.Equal(t, 0, h.locks.Held())
}

func TestRecoverableFailureThenSuccess(t *testing.T) {
	h := newHarness(t)
	h.session.serve("/files/a.jpg", "jpeg")
	h.session.failWith("/files/a.jpg", errors.HTTPStatus(503, "a.jpg"), nil)

	d := h.downloader(t, "cdn.example.com", "album", "https://cdn.example.com/files/a.jpg")
	summary, err := d.DownloadAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Completed)
	assert.Len(t, h.session.transfers(), 2)
}

func TestClientErrorIsPermanent(t *testing.T) {
	h := newHarness(t)
	h.session.failWith("/files/a.jpg", errors.HTTPStatus(404, "a.jpg"))

	d := h.downloader(t, "cdn.example.com", "album", "https://cdn.example.com/files/a.jpg")
	summary, err := d.DownloadAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, h.session.transfers(), 1)
	assert.True(t, errors.IsPermanent(summary.Failures[0].Err))
	assert.Equal(t, 404, errors.StatusCode(summary.Failures[0].Err))
}

func TestClientErrorRetriedOnAllowListedHost(t *testing.T) {
	h := newHarness(t)
	h.session.failWith("/files/a.jpg", errors.HTTPStatus(403, "a.jpg"))

	d := h.downloader(t, "media-files.bunkr.ru", "album", "https://media-files.bunkr.ru/files/a.jpg")
	summary, err := d.DownloadAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, h.session.transfers(), 3)
}

func TestMirrorSubstitutionBetweenAttempts(t *testing.T) {
	h := newHarness(t)
	h.session.serve("/files/a.jpg", "jpeg")
	h.session.failWith("/files/a.jpg", errors.Recoverable(io.ErrUnexpectedEOF), nil)

	d := h.downloader(t, "fs-05.cyberdrop.me", "album", "https://fs-05.cyberdrop.me/files/a.jpg")
	summary, err := d.DownloadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)

	reqs := h.session.transfers()
	require.Len(t, reqs, 2)
	assert.Equal(t, "https://fs-05.cyberdrop.me/files/a.jpg", reqs[0].URL)
	assert.Equal(t, "https://img-01.cyberdrop.to/files/a.jpg", reqs[1].URL)
}

func TestExcludedFileIsNeverTouched(t *testing.T) {
	h := newHarness(t)
	h.cfg.Exclude.Videos = true
	h.session.serve("/files/clip.mp4", "video")

	d := h.downloader(t, "cdn.example.com", "album", "https://cdn.example.com/files/clip.mp4")
	summary, err := d.DownloadAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, h.session.transfers())
	assert.Zero(t, h.session.probeCount())
	assert.True(t, h.log.HasMessage("skipping excluded file"))

	records, err := h.ledger.Records(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestUnresolvableFilenameIsSkipped(t *testing.T) {
	h := newHarness(t)

	d := h.downloader(t, "cdn.example.com", "album", "https://cdn.example.com/files/download")
	summary, err := d.DownloadAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, h.session.transfers())
}

func TestMarkDownloadedOnly(t *testing.T) {
	h := newHarness(t)
	h.cfg.Download.MarkDownloadedOnly = true
	h.session.serve("/files/a.jpg", "jpeg")

	d := h.downloader(t, "cdn.example.com", "album", "https://cdn.example.com/files/a.jpg")
	summary, err := d.DownloadAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.MarkedOnly)
	assert.Empty(t, h.session.transfers())
	assert.False(t, storage.Exists(h.store.CompletePath("album", "a.jpg")))

	name, err := h.ledger.AssignedName(context.Background(), "/files/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "a.jpg", name)
	done, err := h.ledger.PathCompleted(context.Background(), "/files/a.jpg")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestCancelledContext(t *testing.T) {
	h := newHarness(t)
	h.session.serve("/files/a.jpg", "jpeg")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := h.downloader(t, "cdn.example.com", "album", "https://cdn.example.com/files/a.jpg")
	summary, _ := d.DownloadAll(ctx)

	assert.Equal(t, 1, summary.Failed)
	assert.Empty(t, h.session.transfers())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "completed", Completed.String())
	assert.Equal(t, "skipped", Skipped.String())
	assert.Equal(t, "marked", MarkedOnly.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "outcome(9)", Outcome(9).String())
}

func TestSummaryMerge(t *testing.T) {
	a := Summary{Completed: 1, Skipped: 2}
	a.Merge(Summary{Failed: 1, MarkedOnly: 3, Failures: []Result{{Outcome: Failed}}})

	assert.Equal(t, Summary{Completed: 1, Skipped: 2, Failed: 1, MarkedOnly: 3, Failures: []Result{{Outcome: Failed}}}, a)
	assert.Equal(t, 7, a.Total())
}

func TestLedgerPathNormalizedForAnonfiles(t *testing.T) {
	h := newHarness(t)
	h.session.serve("/abc/1651/name.jpg", "data")

	d := h.downloader(t, "anonfiles.com", "album", "https://anonfiles.com/abc/1651/name.jpg")
	_, err := d.DownloadAll(context.Background())
	require.NoError(t, err)

	done, err := h.ledger.PathCompleted(context.Background(), "/abc/name.jpg")
	require.NoError(t, err)
	assert.True(t, done)
	assert.True(t, storage.Exists(filepath.Join(h.store.CollectionDir("album"), "name.jpg")))
}
