package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"runtime/debug"
	"sync"
	"time"

	"github.com/maauso/clipvault-api/internal/clip"
	"github.com/maauso/clipvault-api/internal/lifecycle"
	"github.com/maauso/clipvault-api/internal/media"
	"github.com/maauso/clipvault-api/internal/metrics"
	"github.com/maauso/clipvault-api/internal/poller"
	"github.com/maauso/clipvault-api/internal/storage"
	"github.com/maauso/clipvault-api/internal/worker"
)

// Imported clips are filed under a fixed pseudo game.
const (
	importedGameID   = 999
	importedGameName = "YouTube Clip"
)

var (
	// ErrInvalidURL is returned when the source URL is not a supported clip URL.
	ErrInvalidURL = errors.New("ingest: unsupported clip URL")
	// ErrNotFound is returned when the worker cannot resolve the source.
	ErrNotFound = errors.New("ingest: source clip not found")
	// ErrForbidden is returned when the source channel is not allowed.
	ErrForbidden = errors.New("ingest: source channel not allowed")
	// ErrResolveFailed is returned when the worker could not be asked about the source.
	ErrResolveFailed = errors.New("ingest: could not resolve source")

	errRecordGone = errors.New("ingest: clip record deleted during ingestion")
)

var clipURLPattern = regexp.MustCompile(`^https://(www\.)?youtube\.com/clip/[A-Za-z0-9_-]+([/?#]\S*)?$`)

// ImportStatus is the synchronous outcome of an import.
type ImportStatus string

const (
	// StatusAccepted means a provisional record was created and ingestion started.
	StatusAccepted ImportStatus = "accepted"
	// StatusAlreadyImported means a record for the clip already exists.
	StatusAlreadyImported ImportStatus = "already_imported"
)

// ImportResult is returned by Import.
type ImportResult struct {
	Status   ImportStatus
	ClipName string
}

// Requester identifies the user importing a clip. They become its creator.
type Requester struct {
	ID          int64
	DisplayName string
}

// Awaiter waits for worker jobs.
type Awaiter interface {
	AwaitCompletion(ctx context.Context, jobID string, interval, maxWait time.Duration) (poller.JobResult, error)
}

// Uploader is the provider side of ingestion.
type Uploader interface {
	UploadAsset(ctx context.Context, name string, media io.ReaderAt, size int64) (string, error)
	Annotate(ctx context.Context, assetID, creator string) error
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Clips   clip.Store
	Locks   *clip.KeyedMutex
	Worker  worker.Client
	Poller  Awaiter
	Stream  Uploader
	Staging storage.Staging
	Ledger  Ledger
	Orphans lifecycle.OrphanQueue
	// Prober is optional; it fills in durations the worker did not report.
	Prober media.Prober
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPollInterval sets how often the worker queue is polled.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pipeline) {
		p.pollInterval = d
	}
}

// WithMaxWait bounds how long one worker job may take.
func WithMaxWait(d time.Duration) Option {
	return func(p *Pipeline) {
		p.maxWait = d
	}
}

// WithAllowedChannels restricts imports to the given source channel ids.
func WithAllowedChannels(ids ...string) Option {
	return func(p *Pipeline) {
		for _, id := range ids {
			p.allowedChannels[id] = struct{}{}
		}
	}
}

// Pipeline imports external clips.
type Pipeline struct {
	deps            Deps
	logger          *slog.Logger
	pollInterval    time.Duration
	maxWait         time.Duration
	allowedChannels map[string]struct{}
	now             func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

// NewPipeline creates a Pipeline. Background runs are bound to an internal
// context cancelled by Shutdown.
func NewPipeline(deps Deps, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Locks == nil {
		deps.Locks = clip.NewKeyedMutex()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		deps:            deps,
		logger:          logger,
		pollInterval:    5 * time.Second,
		maxWait:         10 * time.Minute,
		allowedChannels: make(map[string]struct{}),
		now:             time.Now,
		baseCtx:         ctx,
		cancel:          cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Import validates sourceURL, creates a provisional record and starts the
// background ingestion. It returns as soon as the record exists.
func (p *Pipeline) Import(ctx context.Context, user Requester, sourceURL string) (ImportResult, error) {
	if !clipURLPattern.MatchString(sourceURL) {
		metrics.ImportsTotal.WithLabelValues("invalid_url").Inc()
		return ImportResult{}, ErrInvalidURL
	}

	info, err := p.deps.Worker.ResolveInfo(ctx, sourceURL)
	if err != nil {
		if errors.Is(err, worker.ErrNotFound) {
			metrics.ImportsTotal.WithLabelValues("not_found").Inc()
			return ImportResult{}, ErrNotFound
		}
		metrics.ImportsTotal.WithLabelValues("resolve_failed").Inc()
		return ImportResult{}, fmt.Errorf("%w: %w", ErrResolveFailed, err)
	}
	if _, ok := p.allowedChannels[info.ChannelID]; !ok {
		metrics.ImportsTotal.WithLabelValues("forbidden").Inc()
		return ImportResult{}, fmt.Errorf("%w: %s", ErrForbidden, info.ChannelID)
	}

	unlock := p.deps.Locks.Lock(info.ID)
	defer unlock()

	if _, err := p.deps.Clips.Get(ctx, info.ID); err == nil {
		metrics.ImportsTotal.WithLabelValues("already_imported").Inc()
		return ImportResult{Status: StatusAlreadyImported, ClipName: info.ID}, nil
	} else if !errors.Is(err, clip.ErrNotFound) {
		return ImportResult{}, fmt.Errorf("ingest: look up %s: %w", info.ID, err)
	}

	now := p.now().UTC()
	record := &clip.Clip{
		ClipName:        info.ID,
		ContentName:     info.Title,
		GameID:          importedGameID,
		GameName:        importedGameName,
		CreatorID:       user.ID,
		CreatorName:     user.DisplayName,
		StreamStartedAt: info.ReleasedAt(now),
		ClipCreatedAt:   now,
		ClipDuration:    info.Duration,
		ClipLastEdited:  now,
		State:           clip.StateProvisional,
	}
	if err := p.deps.Clips.Create(ctx, record); err != nil {
		if errors.Is(err, clip.ErrAlreadyExists) {
			metrics.ImportsTotal.WithLabelValues("already_imported").Inc()
			return ImportResult{Status: StatusAlreadyImported, ClipName: info.ID}, nil
		}
		return ImportResult{}, fmt.Errorf("ingest: create record %s: %w", info.ID, err)
	}

	attempt := NewAttempt(info.ID, sourceURL, user.DisplayName)
	p.save(ctx, attempt)

	if !p.launch(attempt) {
		p.logger.Warn("import accepted during shutdown; attempt left for recovery",
			slog.String("attempt_id", attempt.ID),
			slog.String("clip_name", attempt.ClipName),
		)
	}

	metrics.ImportsTotal.WithLabelValues("accepted").Inc()
	p.logger.Info("clip import accepted",
		slog.String("attempt_id", attempt.ID),
		slog.String("clip_name", info.ID),
		slog.Int64("creator_id", user.ID),
	)
	return ImportResult{Status: StatusAccepted, ClipName: info.ID}, nil
}

// Recover restarts every non-terminal attempt found in the ledger at the
// step it had reached.
func (p *Pipeline) Recover(ctx context.Context) (int, error) {
	attempts, err := p.deps.Ledger.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("ingest: list active attempts: %w", err)
	}
	resumed := 0
	for _, a := range attempts {
		if p.launch(a) {
			resumed++
			p.logger.Info("resuming ingestion",
				slog.String("attempt_id", a.ID),
				slog.String("clip_name", a.ClipName),
				slog.String("status", string(a.Status)),
			)
		}
	}
	return resumed, nil
}

// Shutdown cancels in-flight runs and waits for them to stop or for ctx.
// Interrupted attempts stay in the ledger at their last step.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ingest: shutdown: %w", ctx.Err())
	}
}

// launch starts a background run unless the pipeline is shutting down.
func (p *Pipeline) launch(a *Attempt) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.wg.Add(1)
	p.mu.Unlock()

	metrics.ActiveIngestions.Inc()
	go func() {
		defer p.wg.Done()
		defer metrics.ActiveIngestions.Dec()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("ingestion panicked",
					slog.String("attempt_id", a.ID),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				p.abandon(p.baseCtx, a, fmt.Errorf("panic: %v", r))
			}
		}()
		_ = p.run(p.baseCtx, a)
	}()
	return true
}

// run drives the attempt step by step until it is terminal.
func (p *Pipeline) run(ctx context.Context, a *Attempt) error {
	for !a.IsTerminal() {
		var err error
		switch a.Status {
		case StatusPending:
			err = p.timed("submit", func() error { return p.submit(ctx, a) })
		case StatusExtracting:
			err = p.timed("extract", func() error { return p.await(ctx, a) })
		case StatusUploading, StatusFinalizing:
			err = p.deliver(ctx, a)
		default:
			err = fmt.Errorf("%w: unknown status %s", ErrInvalidTransition, a.Status)
		}
		if err != nil {
			return p.abandon(ctx, a, err)
		}
		p.save(ctx, a)
	}

	p.annotate(ctx, a)
	metrics.IngestionsTotal.WithLabelValues("ready").Inc()
	p.logger.Info("clip ingestion complete",
		slog.String("attempt_id", a.ID),
		slog.String("clip_name", a.ClipName),
		slog.String("asset_id", a.AssetID),
	)
	return nil
}

func (p *Pipeline) submit(ctx context.Context, a *Attempt) error {
	jobID, err := p.deps.Worker.SubmitDownload(ctx, a.SourceURL)
	if err != nil {
		return fmt.Errorf("submit download: %w", err)
	}
	return a.MarkExtracting(jobID)
}

func (p *Pipeline) await(ctx context.Context, a *Attempt) error {
	res, err := p.deps.Poller.AwaitCompletion(ctx, a.JobID, p.pollInterval, p.maxWait)
	if err != nil {
		return fmt.Errorf("await worker job %s: %w", a.JobID, err)
	}
	return a.MarkUploading(res.FileName)
}

// deliver uploads the staged file and finalizes the record. The staged file
// is removed once, whatever the outcome, unless the run was interrupted
// before finishing and will be resumed.
func (p *Pipeline) deliver(ctx context.Context, a *Attempt) (err error) {
	defer func() {
		if ctx.Err() != nil && a.Status != StatusReady {
			return
		}
		p.cleanup(ctx, a)
	}()

	if a.Status == StatusUploading {
		if err := p.timed("upload", func() error { return p.upload(ctx, a) }); err != nil {
			return err
		}
		p.save(ctx, a)
	}
	return p.timed("finalize", func() error { return p.finalize(ctx, a) })
}

func (p *Pipeline) upload(ctx context.Context, a *Attempt) error {
	f, err := p.deps.Staging.Open(ctx, a.FileName)
	if err != nil {
		return fmt.Errorf("open staged file: %w", err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat staged file: %w", err)
	}

	var duration float64
	if p.deps.Prober != nil {
		if d, perr := p.deps.Prober.Duration(ctx, f.Name()); perr == nil {
			duration = d
		} else {
			p.logger.Debug("duration probe failed",
				slog.String("attempt_id", a.ID),
				slog.String("error", perr.Error()),
			)
		}
	}

	assetID, err := p.deps.Stream.UploadAsset(ctx, a.FileName, f, st.Size())
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	return a.MarkFinalizing(assetID, duration)
}

func (p *Pipeline) finalize(ctx context.Context, a *Attempt) error {
	unlock := p.deps.Locks.Lock(a.ClipName)
	defer unlock()

	current, err := p.deps.Clips.Get(ctx, a.ClipName)
	if err != nil {
		if errors.Is(err, clip.ErrNotFound) {
			lifecycle.EnqueueOrphan(ctx, p.deps.Orphans, p.logger, a.AssetID, "ingest: record deleted before finalize")
			return errRecordGone
		}
		return fmt.Errorf("load record: %w", err)
	}

	ready := clip.StateReady
	patch := clip.Patch{ContentID: &a.AssetID, State: &ready}
	if current.ClipDuration <= 0 && a.Duration > 0 {
		patch.ClipDuration = &a.Duration
	}
	if _, err := p.deps.Clips.UpdateIfExists(ctx, a.ClipName, patch); err != nil {
		if errors.Is(err, clip.ErrNotFound) {
			lifecycle.EnqueueOrphan(ctx, p.deps.Orphans, p.logger, a.AssetID, "ingest: record deleted before finalize")
			return errRecordGone
		}
		return fmt.Errorf("update record: %w", err)
	}
	return a.MarkReady()
}

func (p *Pipeline) cleanup(ctx context.Context, a *Attempt) {
	if a.FileName == "" {
		return
	}
	if err := p.deps.Staging.Remove(context.WithoutCancel(ctx), a.FileName); err != nil {
		p.logger.Warn("failed to remove staged file",
			slog.String("attempt_id", a.ID),
			slog.String("file", a.FileName),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pipeline) annotate(ctx context.Context, a *Attempt) {
	if a.CreatorName == "" || a.AssetID == "" {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := p.deps.Stream.Annotate(actx, a.AssetID, a.CreatorName); err != nil {
		p.logger.Warn("failed to annotate asset",
			slog.String("asset_id", a.AssetID),
			slog.String("error", err.Error()),
		)
	}
}

// abandon records why the run stopped. Interrupted runs keep their step so
// Recover can resume them; other failures are terminal and leave the clip
// record provisional.
func (p *Pipeline) abandon(ctx context.Context, a *Attempt, cause error) error {
	if ctx.Err() != nil {
		p.save(ctx, a)
		metrics.IngestionsTotal.WithLabelValues("interrupted").Inc()
		p.logger.Info("ingestion interrupted; will resume on restart",
			slog.String("attempt_id", a.ID),
			slog.String("clip_name", a.ClipName),
			slog.String("status", string(a.Status)),
		)
		return cause
	}

	step := a.Status
	if err := a.Fail(cause.Error()); err != nil {
		p.logger.Error("cannot mark attempt failed",
			slog.String("attempt_id", a.ID),
			slog.String("status", string(a.Status)),
		)
	}
	p.save(ctx, a)
	metrics.IngestionsTotal.WithLabelValues("failed").Inc()
	p.logger.Error("ingestion abandoned; clip left provisional",
		slog.String("attempt_id", a.ID),
		slog.String("clip_name", a.ClipName),
		slog.String("step", string(step)),
		slog.String("error", cause.Error()),
	)
	return cause
}

func (p *Pipeline) save(ctx context.Context, a *Attempt) {
	if err := p.deps.Ledger.Save(context.WithoutCancel(ctx), a); err != nil {
		p.logger.Warn("failed to persist ingestion attempt",
			slog.String("attempt_id", a.ID),
			slog.String("status", string(a.Status)),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pipeline) timed(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.IngestionStageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	return err
}
