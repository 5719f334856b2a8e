// Package orchestrator drives the harvest: it expands seed keys into the
// full work graph (term listings, case details, argument documents, audio
// blobs), pushes every key through rate limiter, cache, fetcher, and
// normalizer with a bounded worker pool, and records every transition in the
// tracker. Failures are attributed per key and retried per policy; the run
// always ends with a report, never a crash.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scotusdata/harvester/internal/harvest"
	"github.com/scotusdata/harvester/internal/normalize"
	"github.com/scotusdata/harvester/internal/progress"
)

// Config holds the orchestration knobs.
type Config struct {
	// Workers bounds concurrent key processing.
	Workers int
	// QueueSize is the work channel capacity; expansion beyond it spills to
	// goroutines rather than deadlocking.
	QueueSize int
	// PageSize is the listing page size; a shorter page terminates
	// pagination for its term.
	PageSize int
	// Retry is the per-key retry policy for retryable fetch failures.
	Retry RetryPolicy
	// RetryRounds is how many whole-queue retry passes run after the initial
	// drain. Each round waits RetryRoundDelay times its round number.
	RetryRounds     int
	RetryRoundDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	if c.RetryRounds < 0 {
		c.RetryRounds = 0
	}
	if c.RetryRoundDelay <= 0 {
		c.RetryRoundDelay = 5 * time.Second
	}
	c.Retry.applyDefaults()
}

// Deps are the injected collaborators. All are required except Emitter,
// which defaults to a no-op.
type Deps struct {
	Fetcher    harvest.Fetcher
	Streamer   harvest.Streamer
	Cache      harvest.Cache
	Tracker    harvest.Tracker
	Limiter    harvest.Limiter
	Normalizer *normalize.Normalizer
	Sink       harvest.Sink
	Emitter    progress.Emitter
	Clock      harvest.Clock
	Logger     *zap.Logger
}

func (d *Deps) validate() error {
	switch {
	case d.Fetcher == nil:
		return errors.New("fetcher is required")
	case d.Streamer == nil:
		return errors.New("streamer is required")
	case d.Cache == nil:
		return errors.New("cache is required")
	case d.Tracker == nil:
		return errors.New("tracker is required")
	case d.Limiter == nil:
		return errors.New("limiter is required")
	case d.Normalizer == nil:
		return errors.New("normalizer is required")
	case d.Sink == nil:
		return errors.New("sink is required")
	case d.Clock == nil:
		return errors.New("clock is required")
	}
	if d.Emitter == nil {
		d.Emitter = progress.Nop{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return nil
}

// Orchestrator coordinates one harvest at a time. Safe to reuse across runs.
type Orchestrator struct {
	cfg  Config
	deps Deps
}

// New validates dependencies and constructs an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	cfg.applyDefaults()
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("orchestrator deps: %w", err)
	}
	return &Orchestrator{cfg: cfg, deps: deps}, nil
}

// Run harvests the given terms end to end and returns the report. The
// context cancels cooperatively: no new work starts, in-flight keys finish.
func (o *Orchestrator) Run(ctx context.Context, terms []string) (harvest.Report, error) {
	seeds := make([]harvest.WorkKey, 0, len(terms))
	for _, term := range terms {
		seeds = append(seeds, harvest.CaseListKey(term, 0))
	}
	return o.RunKeys(ctx, seeds)
}

// RunKeys harvests an explicit seed set; resumption feeds the previous run's
// unfinished keys back in here.
func (o *Orchestrator) RunKeys(ctx context.Context, seeds []harvest.WorkKey) (harvest.Report, error) {
	runID := uuid.New()
	r := &run{
		o:      o,
		ctx:    ctx,
		runID:  progress.UUIDToBytes(runID),
		seen:   make(map[string]bool),
		failed: make(map[string]failure),
		report: harvest.Report{
			RunID:   runID.String(),
			Started: o.deps.Clock.Now(),
			Failed:  make(map[string]string),
		},
	}

	o.deps.Logger.Info("harvest starting",
		zap.String("run_id", r.report.RunID),
		zap.Int("seeds", len(seeds)),
		zap.Int("workers", o.cfg.Workers),
	)
	r.emit(progress.Event{Stage: progress.StageRunStart})

	r.pool(seeds)
	o.retryRounds(r)

	r.mu.Lock()
	for id, f := range r.failed {
		r.report.Failed[id] = f.reason
		if f.retryable {
			r.report.FailedRetryable++
		}
	}
	sort.Strings(r.report.ShortPages)
	r.report.Finished = o.deps.Clock.Now()
	r.report.LimiterSaturated = o.deps.Limiter.Saturated()
	report := r.report
	r.mu.Unlock()

	r.emit(progress.Event{Stage: progress.StageRunDone, Dur: report.Finished.Sub(report.Started)})
	o.deps.Logger.Info("harvest finished",
		zap.String("run_id", report.RunID),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.FailureCount()),
		zap.Int("skipped_cached", report.SkippedCached),
		zap.Int("retries", report.Retries),
		zap.Bool("limiter_saturated", report.LimiterSaturated),
	)
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("harvest interrupted: %w", err)
	}
	return report, nil
}

// retryRounds re-queues retryable failures in whole-queue passes with
// growing spacing, stopping early when a pass fixes nothing.
func (o *Orchestrator) retryRounds(r *run) {
	for round := 1; round <= o.cfg.RetryRounds; round++ {
		if r.retryableCount() == 0 {
			return
		}
		// Keys leave the failure ledger only once the round actually starts;
		// a cancellation during the wait keeps them in the report.
		if !sleepCtx(r.ctx, time.Duration(round)*o.cfg.RetryRoundDelay) {
			return
		}
		keys := r.takeRetryable()
		if len(keys) == 0 {
			return
		}

		o.deps.Logger.Info("retry round starting",
			zap.Int("round", round),
			zap.Int("keys", len(keys)),
		)
		before := r.succeededCount()
		r.pool(keys)
		if r.succeededCount() == before {
			o.deps.Logger.Warn("retry round made no progress, stopping", zap.Int("round", round))
			return
		}
	}
}

// failure is a recorded per-key failure plus whether a retry round may
// re-attempt it.
type failure struct {
	key       harvest.WorkKey
	reason    string
	retryable bool
}

// run is the mutable state of one harvest run.
type run struct {
	o     *Orchestrator
	ctx   context.Context
	runID [16]byte

	queue chan harvest.WorkKey
	wg    sync.WaitGroup

	mu     sync.Mutex
	seen   map[string]bool
	failed map[string]failure
	report harvest.Report
}

// pool drains the given seeds plus everything they expand into through a
// bounded worker pool. Returns when the work graph is exhausted.
func (r *run) pool(seeds []harvest.WorkKey) {
	r.queue = make(chan harvest.WorkKey, r.o.cfg.QueueSize)
	for _, key := range seeds {
		r.enqueue(key)
	}

	go func() {
		r.wg.Wait()
		close(r.queue)
	}()

	var g errgroup.Group
	for i := 0; i < r.o.cfg.Workers; i++ {
		g.Go(func() error {
			for key := range r.queue {
				r.process(key)
				r.wg.Done()
			}
			return nil
		})
	}
	_ = g.Wait()
}

// enqueue adds a key to the work graph exactly once per run. A full queue
// spills to a goroutine so expansion never deadlocks the pool.
func (r *run) enqueue(key harvest.WorkKey) {
	r.mu.Lock()
	if r.seen[key.String()] {
		r.mu.Unlock()
		return
	}
	r.seen[key.String()] = true
	r.mu.Unlock()

	r.wg.Add(1)
	q := r.queue
	select {
	case q <- key:
	default:
		go func() {
			select {
			case q <- key:
			case <-r.ctx.Done():
				r.wg.Done()
			}
		}()
	}
}

// process runs one key through the full pipeline. Cancellation between
// transitions leaves the key pending for the next run.
func (r *run) process(key harvest.WorkKey) {
	if r.ctx.Err() != nil {
		return
	}
	started := r.o.deps.Clock.Now()
	r.emit(progress.Event{Stage: progress.StageKeyStart, Key: key.String(), Kind: string(key.Kind)})

	if err := r.o.deps.Tracker.MarkPending(r.ctx, key); err != nil {
		r.fail(key, err.Error(), false)
		return
	}

	if key.Kind == harvest.KindAudio {
		r.processAudio(key, started)
		return
	}

	doc, cached, err := r.loadDocument(key)
	if err != nil {
		var fe *harvest.FetchError
		retryable := errors.As(err, &fe) && fe.Retryable()
		r.fail(key, err.Error(), retryable)
		return
	}
	if cached {
		r.addSkipped()
		r.emit(progress.Event{Stage: progress.StageKeyCached, Key: key.String(), Kind: string(key.Kind)})
	}

	// Normalization failures leave the raw document cached so a later run
	// can re-normalize without re-fetching.
	if err := r.expand(key, doc); err != nil {
		r.fail(key, err.Error(), false)
		return
	}
	r.succeed(key, int64(len(doc.Body)), started)
}

// loadDocument returns the raw document for a key, from cache when possible,
// otherwise through the limiter-gated fetch-and-cache path.
func (r *run) loadDocument(key harvest.WorkKey) (harvest.RawDocument, bool, error) {
	if doc, err := r.o.deps.Cache.Get(r.ctx, key); err == nil {
		return doc, true, nil
	} else if !errors.Is(err, harvest.ErrCacheMiss) {
		r.o.deps.Logger.Warn("cache read failed, refetching",
			zap.String("key", key.String()), zap.Error(err))
	}

	if err := r.o.deps.Tracker.MarkInProgress(r.ctx, key); err != nil {
		return harvest.RawDocument{}, false, err
	}
	doc, err := r.fetchWithRetry(key)
	if err != nil {
		return harvest.RawDocument{}, false, err
	}
	if err := r.o.deps.Cache.Put(r.ctx, doc); err != nil {
		return harvest.RawDocument{}, false, err
	}
	return doc, false, nil
}

// fetchWithRetry performs limiter-gated attempts up to the policy cap.
// Every outcome is reported back to the limiter so pacing adapts.
func (r *run) fetchWithRetry(key harvest.WorkKey) (harvest.RawDocument, error) {
	policy := r.o.cfg.Retry
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if d := policy.Backoff(attempt); d > 0 {
			r.addRetry()
			r.emit(progress.Event{
				Stage: progress.StageKeyRetry, Key: key.String(),
				Kind: string(key.Kind), Attempt: attempt,
			})
			if !sleepCtx(r.ctx, d) {
				return harvest.RawDocument{}, fmt.Errorf("retry wait: %w", r.ctx.Err())
			}
		}
		if err := r.o.deps.Limiter.Acquire(r.ctx); err != nil {
			return harvest.RawDocument{}, err
		}

		doc, err := r.o.deps.Fetcher.Fetch(r.ctx, key)
		r.reportOutcome(err)
		if err == nil {
			return doc, nil
		}
		lastErr = err

		var fe *harvest.FetchError
		if !errors.As(err, &fe) || !fe.Retryable() {
			return harvest.RawDocument{}, err
		}
	}
	return harvest.RawDocument{}, lastErr
}

// reportOutcome translates a fetch result into limiter feedback. Responses
// the server actually produced (other than throttling) count as success for
// pacing purposes; only throttling and transport failures slow us down.
func (r *run) reportOutcome(err error) {
	if err == nil {
		r.o.deps.Limiter.Report(harvest.OutcomeSuccess)
		return
	}
	var fe *harvest.FetchError
	if !errors.As(err, &fe) {
		r.o.deps.Limiter.Report(harvest.OutcomeNetwork)
		r.emit(progress.Event{Stage: progress.StageLimiterBackoff})
		return
	}
	switch {
	case fe.RateLimited():
		r.o.deps.Limiter.Report(harvest.OutcomeRateLimited)
		r.emit(progress.Event{Stage: progress.StageLimiterBackoff})
	case fe.Kind == harvest.FetchNetwork || fe.Kind == harvest.FetchTimeout:
		r.o.deps.Limiter.Report(harvest.OutcomeNetwork)
		r.emit(progress.Event{Stage: progress.StageLimiterBackoff})
	default:
		r.o.deps.Limiter.Report(harvest.OutcomeSuccess)
	}
}

// expand normalizes a document and enqueues the keys it references.
func (r *run) expand(key harvest.WorkKey, doc harvest.RawDocument) error {
	switch key.Kind {
	case harvest.KindCaseList:
		return r.expandCaseList(key, doc)
	case harvest.KindCase:
		return r.expandCase(key, doc)
	case harvest.KindArgument:
		return r.expandArgument(key, doc)
	default:
		return fmt.Errorf("unexpected key kind %q", key.Kind)
	}
}

func (r *run) expandCaseList(key harvest.WorkKey, doc harvest.RawDocument) error {
	summaries, err := r.o.deps.Normalizer.Summaries(doc)
	if err != nil {
		return err
	}
	if len(summaries) == 0 && key.Page == 0 {
		return &harvest.NormalizationError{Field: "body", Reason: "term listing is empty"}
	}

	for _, s := range summaries {
		term := s.Term
		if term == "" {
			term = key.Term
		}
		r.enqueue(harvest.CaseKey(term, s.Docket))
	}

	if len(summaries) < r.o.cfg.PageSize {
		// Short page ends pagination for this term; surfaced, not hidden.
		if len(summaries) > 0 || key.Page > 0 {
			r.addShortPage(key.String())
		}
		return nil
	}
	r.enqueue(harvest.CaseListKey(key.Term, key.Page+1))
	return nil
}

func (r *run) expandCase(key harvest.WorkKey, doc harvest.RawDocument) error {
	c, err := r.o.deps.Normalizer.Case(doc)
	if err != nil {
		return err
	}
	if err := r.o.deps.Sink.ConsumeCase(r.ctx, c); err != nil {
		return fmt.Errorf("sink case %s: %w", c.ID, err)
	}
	for _, ref := range c.Arguments {
		ak := harvest.ArgumentKey(ref.Href)
		ak.Term = c.Term
		ak.Docket = c.Docket
		r.enqueue(ak)
	}
	return nil
}

func (r *run) expandArgument(key harvest.WorkKey, doc harvest.RawDocument) error {
	caseID := key.Term + "/" + key.Docket
	arg, rejected, err := r.o.deps.Normalizer.Argument(caseID, doc)
	r.addRejected(rejected)
	if err != nil {
		return err
	}
	if err := r.o.deps.Sink.ConsumeArgument(r.ctx, arg); err != nil {
		return fmt.Errorf("sink argument %s: %w", key, err)
	}
	if arg.Audio.URL != "" {
		audio := harvest.AudioKey(arg.Audio.URL)
		audio.Term = key.Term
		audio.Docket = key.Docket
		r.enqueue(audio)
	}
	return nil
}

// processAudio streams a recording into the cache. A warm cache entry skips
// the download entirely.
func (r *run) processAudio(key harvest.WorkKey, started time.Time) {
	if r.o.deps.Cache.Exists(r.ctx, key) {
		r.addSkipped()
		r.emit(progress.Event{Stage: progress.StageKeyCached, Key: key.String(), Kind: string(key.Kind)})
		r.succeed(key, 0, started)
		return
	}
	if err := r.o.deps.Tracker.MarkInProgress(r.ctx, key); err != nil {
		r.fail(key, err.Error(), false)
		return
	}

	policy := r.o.cfg.Retry
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if d := policy.Backoff(attempt); d > 0 {
			r.addRetry()
			r.emit(progress.Event{
				Stage: progress.StageKeyRetry, Key: key.String(),
				Kind: string(key.Kind), Attempt: attempt,
			})
			if !sleepCtx(r.ctx, d) {
				r.fail(key, fmt.Sprintf("retry wait: %v", r.ctx.Err()), true)
				return
			}
		}
		if err := r.o.deps.Limiter.Acquire(r.ctx); err != nil {
			r.fail(key, err.Error(), true)
			return
		}

		hash, err := r.downloadOnce(key)
		r.reportOutcome(err)
		if err == nil {
			r.o.deps.Logger.Debug("audio cached",
				zap.String("key", key.String()), zap.String("hash", hash))
			r.succeed(key, 0, started)
			return
		}
		lastErr = err

		var fe *harvest.FetchError
		if !errors.As(err, &fe) || !fe.Retryable() {
			r.fail(key, err.Error(), false)
			return
		}
	}
	r.fail(key, lastErr.Error(), true)
}

func (r *run) downloadOnce(key harvest.WorkKey) (string, error) {
	stream, err := r.o.deps.Streamer.Open(r.ctx, key)
	if err != nil {
		return "", err
	}
	defer stream.Body.Close()
	hash, err := r.o.deps.Cache.PutStream(r.ctx, key, stream.ContentType, stream.Body)
	if err != nil {
		// A broken body mid-stream is a transport failure, not a cache fault.
		return "", &harvest.FetchError{Kind: harvest.FetchNetwork, Key: key, Err: err}
	}
	return hash, nil
}

func (r *run) succeed(key harvest.WorkKey, bytes int64, started time.Time) {
	if err := r.o.deps.Tracker.MarkSucceeded(r.ctx, key); err != nil {
		r.fail(key, err.Error(), false)
		return
	}
	r.mu.Lock()
	r.report.Succeeded++
	delete(r.failed, key.String())
	r.mu.Unlock()
	r.emit(progress.Event{
		Stage: progress.StageKeyDone, Key: key.String(), Kind: string(key.Kind),
		Bytes: bytes, Dur: r.o.deps.Clock.Now().Sub(started),
	})
}

func (r *run) fail(key harvest.WorkKey, reason string, retryable bool) {
	if err := r.o.deps.Tracker.MarkFailed(r.ctx, key, reason); err != nil {
		r.o.deps.Logger.Error("tracker mark failed",
			zap.String("key", key.String()), zap.Error(err))
	}
	r.mu.Lock()
	r.failed[key.String()] = failure{key: key, reason: reason, retryable: retryable}
	r.mu.Unlock()
	r.o.deps.Logger.Warn("key failed",
		zap.String("key", key.String()),
		zap.String("reason", reason),
		zap.Bool("retryable", retryable),
	)
	r.emit(progress.Event{
		Stage: progress.StageKeyFailed, Key: key.String(),
		Kind: string(key.Kind), Note: reason,
	})
}

// takeRetryable removes retryable failures from the ledger and returns their
// keys cleared for re-enqueueing.
func (r *run) takeRetryable() []harvest.WorkKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	var keys []harvest.WorkKey
	for id, f := range r.failed {
		if !f.retryable {
			continue
		}
		keys = append(keys, f.key)
		delete(r.failed, id)
		delete(r.seen, id)
	}
	return keys
}

func (r *run) retryableCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.failed {
		if f.retryable {
			n++
		}
	}
	return n
}

func (r *run) succeededCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report.Succeeded
}

func (r *run) addSkipped() {
	r.mu.Lock()
	r.report.SkippedCached++
	r.mu.Unlock()
}

func (r *run) addRetry() {
	r.mu.Lock()
	r.report.Retries++
	r.mu.Unlock()
}

func (r *run) addRejected(n int) {
	if n == 0 {
		return
	}
	r.mu.Lock()
	r.report.RejectedUtterances += n
	r.mu.Unlock()
}

func (r *run) addShortPage(id string) {
	r.mu.Lock()
	r.report.ShortPages = append(r.report.ShortPages, id)
	r.mu.Unlock()
}

func (r *run) emit(evt progress.Event) {
	evt.RunID = r.runID
	evt.TS = r.o.deps.Clock.Now()
	r.o.deps.Emitter.Emit(evt)
}

// sleepCtx waits for d or until ctx cancels; reports whether the full wait
// elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
