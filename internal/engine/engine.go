// Package engine orchestrates reconciliation runs: fetching every enabled
// source, matching records to canonical representatives, merging field by
// field, and persisting cursors once the results are durable.
package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/civicgraph/repsync/internal/config"
	"github.com/civicgraph/repsync/internal/match"
	"github.com/civicgraph/repsync/internal/merge"
	"github.com/civicgraph/repsync/internal/model"
	"github.com/civicgraph/repsync/internal/resilience"
	"github.com/civicgraph/repsync/internal/source"
	"github.com/civicgraph/repsync/internal/store"
)

// Engine drives one reconciliation run across all enabled sources.
type Engine struct {
	store    store.Store
	adapters []source.Adapter
	matcher  *match.Matcher
	resolver *merge.Resolver
	cfg      *config.Config
	locks    *keyedMutex

	runMu sync.Mutex

	now func() time.Time
}

// RunOpts configures a single run.
type RunOpts struct {
	// Sources restricts the run to the named source systems; empty means all.
	Sources []string
	// DryRun computes every match and merge without writing anything.
	DryRun bool
	// FullResync ignores stored cursors and refetches each source from the start.
	FullResync bool
}

// New creates an Engine.
func New(st store.Store, adapters []source.Adapter, m *match.Matcher, r *merge.Resolver, cfg *config.Config) *Engine {
	return &Engine{
		store:    st,
		adapters: adapters,
		matcher:  m,
		resolver: r,
		cfg:      cfg,
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
}

// Run executes one reconciliation cycle. Each source runs as its own worker;
// a source that exhausts its retries is isolated and the run finishes as
// partially_completed rather than aborting the others.
func (e *Engine) Run(ctx context.Context, opts RunOpts) (*model.IngestRun, error) {
	log := zap.L().With(zap.String("component", "engine"))

	adapters, err := e.selectAdapters(opts.Sources)
	if err != nil {
		return nil, err
	}

	run := &model.IngestRun{
		RunID:        uuid.New().String(),
		Status:       model.RunStatusRunning,
		SourceStates: make(map[model.SourceSystem]model.SourceRunResult, len(adapters)),
		StartedAt:    e.now().UTC(),
	}
	for _, ad := range adapters {
		run.SourceStates[ad.System()] = model.SourceRunResult{
			SourceSystem: ad.System(),
			State:        model.SourceStateIdle,
		}
	}
	if !opts.DryRun {
		if err := e.persistRun(ctx, run); err != nil {
			return nil, err
		}
	}

	log.Info("run started",
		zap.String("run_id", run.RunID),
		zap.Int("sources", len(adapters)),
		zap.Bool("dry_run", opts.DryRun),
	)

	g, gCtx := errgroup.WithContext(ctx)
	if n := e.cfg.Ingest.Concurrency; n > 0 {
		g.SetLimit(n)
	}
	for _, ad := range adapters {
		ad := ad
		g.Go(func() error {
			if err := e.syncSource(gCtx, run, ad, opts); err != nil {
				e.updateSource(run, ad.System(), func(r *model.SourceRunResult) {
					r.State = model.SourceStateFailed
					r.Error = err.Error()
				})
				log.Error("source failed",
					zap.String("source", string(ad.System())),
					zap.Error(err),
				)
				// Cancellation must stop the whole group; everything else is
				// isolated to this source.
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
			}
			return nil
		})
	}
	waitErr := g.Wait()

	failed := run.FailedSources()
	if waitErr == nil && len(failed) == 0 && !opts.DryRun {
		if err := e.sweepDeactivations(ctx, run.RunID); err != nil {
			log.Error("deactivation sweep failed", zap.Error(err))
		}
	}

	switch {
	case waitErr != nil:
		run.Status = model.RunStatusCancelled
	case len(failed) > 0:
		run.Status = model.RunStatusPartiallyCompleted
	default:
		run.Status = model.RunStatusCompleted
	}
	finished := e.now().UTC()
	run.FinishedAt = &finished

	if !opts.DryRun {
		// Persist the terminal state on the parent context so a cancelled
		// group still records its outcome.
		if err := e.persistRun(context.WithoutCancel(ctx), run); err != nil {
			log.Error("persist run failed", zap.Error(err))
		}
	}

	log.Info("run finished",
		zap.String("run_id", run.RunID),
		zap.String("status", string(run.Status)),
		zap.Int("failed_sources", len(failed)),
	)
	return run, waitErr
}

func (e *Engine) selectAdapters(names []string) ([]source.Adapter, error) {
	if len(names) == 0 {
		return e.adapters, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []source.Adapter
	for _, ad := range e.adapters {
		if want[string(ad.System())] {
			out = append(out, ad)
			delete(want, string(ad.System()))
		}
	}
	for n := range want {
		return nil, eris.Errorf("engine: unknown or disabled source %q", n)
	}
	return out, nil
}

func (e *Engine) updateSource(run *model.IngestRun, sys model.SourceSystem, fn func(*model.SourceRunResult)) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	r := run.SourceStates[sys]
	fn(&r)
	run.SourceStates[sys] = r
}

func (e *Engine) persistRun(ctx context.Context, run *model.IngestRun) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.store.SaveRun(ctx, run)
}

func (e *Engine) syncSource(ctx context.Context, run *model.IngestRun, ad source.Adapter, opts RunOpts) error {
	sys := ad.System()
	log := zap.L().With(zap.String("source", string(sys)), zap.String("run_id", run.RunID))

	var cursor model.Cursor
	if !opts.FullResync {
		var err error
		cursor, err = e.store.GetCursor(ctx, sys)
		if err != nil {
			return err
		}
	}

	retryCfg := resilience.RetryConfig{
		MaxAttempts: e.cfg.Ingest.MaxRetries,
		OnRetry:     resilience.RetryLogger(string(sys), "fetch"),
	}

	start := e.now()
	for {
		e.updateSource(run, sys, func(r *model.SourceRunResult) { r.State = model.SourceStateFetching })

		page, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*source.Page, error) {
			return ad.Fetch(ctx, cursor)
		})
		if err != nil {
			// The cursor was last persisted after a durable page, so the next
			// run resumes exactly where this one left off.
			return eris.Wrapf(err, "engine: fetch %s", sys)
		}

		if !opts.DryRun && len(page.Records) > 0 {
			if err := e.store.AppendSourceRecords(ctx, page.Records); err != nil {
				return err
			}
		}

		e.updateSource(run, sys, func(r *model.SourceRunResult) {
			r.State = model.SourceStateMatching
			r.Fetched += len(page.Records)
			r.Skipped += len(page.Skipped)
		})
		for _, sk := range page.Skipped {
			log.Warn("record skipped",
				zap.String("source_id", sk.SourceID),
				zap.String("reason", sk.Reason),
			)
		}

		if err := e.processPage(ctx, run, sys, page.Records, opts); err != nil {
			return err
		}

		if !opts.DryRun {
			if err := e.store.PutCursor(ctx, sys, page.NextCursor, e.now().UTC()); err != nil {
				return err
			}
		}

		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	e.updateSource(run, sys, func(r *model.SourceRunResult) { r.State = model.SourceStateCompleted })
	if !opts.DryRun {
		if err := e.persistRun(ctx, run); err != nil {
			return err
		}
	}
	log.Info("source completed", zap.Duration("elapsed", e.now().Sub(start)))
	return nil
}

// processPage merges a page of records. Records are first grouped into
// identity components by shared external IDs so that a batch containing the
// same new representative under several sources mints exactly one canonical ID.
func (e *Engine) processPage(ctx context.Context, run *model.IngestRun, sys model.SourceSystem, records []model.SourceRecord, opts RunOpts) error {
	for _, comp := range match.IdentityComponents(records) {
		var mintedID string
		for _, idx := range comp {
			if err := e.processRecord(ctx, run, sys, &records[idx], &mintedID, opts); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) processRecord(ctx context.Context, run *model.IngestRun, sys model.SourceSystem, rec *model.SourceRecord, mintedID *string, opts RunOpts) error {
	prop, err := e.matcher.Match(ctx, rec)

	if prop == nil && err == nil && *mintedID == "" {
		// A record with no accepted candidate is about to mint a canonical ID.
		// Two workers first-reporting the same representative can both reach
		// this point before either commits, so minting serializes on the fuzzy
		// blocking key and the match re-runs under that lock. The lock is held
		// until the merge commits, so the second worker's re-match sees the
		// first worker's record instead of minting a duplicate.
		if key := match.RecordBlockingKey(rec); key != "" {
			unlockMint := e.locks.Lock("mint|" + key)
			defer unlockMint()
			prop, err = e.matcher.Match(ctx, rec)
		}
	}

	var ambErr *resilience.AmbiguousMatchError
	if errors.As(err, &ambErr) {
		e.updateSource(run, sys, func(r *model.SourceRunResult) { r.Ambiguous++ })
		if opts.DryRun {
			return nil
		}
		return e.enqueueAmbiguous(ctx, rec, ambErr)
	}
	if err != nil {
		return err
	}

	canonicalID := ""
	matchConf := 1.0
	method := model.MatchExactExternalID
	if prop != nil {
		canonicalID = prop.CanonicalID
		matchConf = prop.RawScore
		method = prop.Method
		e.updateSource(run, sys, func(r *model.SourceRunResult) { r.Matched++ })
	} else if *mintedID != "" {
		canonicalID = *mintedID
	} else {
		canonicalID = uuid.New().String()
		*mintedID = canonicalID
	}

	unlock := e.locks.Lock(canonicalID)
	defer unlock()

	for attempt := 0; ; attempt++ {
		existing, err := e.store.GetCanonical(ctx, canonicalID)
		if err != nil {
			return err
		}

		e.updateSource(run, sys, func(r *model.SourceRunResult) { r.State = model.SourceStateScoring })
		corr, err := e.corroboration(ctx, canonicalID, rec, existing != nil)
		if err != nil {
			return err
		}

		e.updateSource(run, sys, func(r *model.SourceRunResult) { r.State = model.SourceStateMerging })
		mut, err := e.resolver.Resolve(merge.Input{
			Existing:        existing,
			CanonicalID:     canonicalID,
			Record:          rec,
			MatchConfidence: matchConf,
			MatchMethod:     method,
			Corroboration:   corr,
			RunID:           run.RunID,
			Now:             e.now().UTC(),
		})
		if err != nil {
			return err
		}

		if !opts.DryRun {
			err = e.store.ApplyMerge(ctx, mut)
			if resilience.IsConflict(err) && attempt == 0 {
				// Lost a race with another process; one re-read settles it.
				continue
			}
			if err != nil {
				return err
			}
		}

		e.updateSource(run, sys, func(r *model.SourceRunResult) {
			if mut.Created {
				r.Created++
			} else if len(mut.Provenance) > 0 {
				r.Updated++
			}
		})
		return nil
	}
}

// corroboration counts, per incoming field, how many distinct sources
// currently report the same value, the incoming source included.
func (e *Engine) corroboration(ctx context.Context, canonicalID string, rec *model.SourceRecord, exists bool) (map[string]int, error) {
	counts := make(map[string]int, len(rec.RawFields))
	for name := range rec.RawFields {
		counts[name] = 1
	}
	if !exists {
		return counts, nil
	}

	latest, err := e.store.LatestSourceRecords(ctx, canonicalID)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: latest records %s", canonicalID)
	}
	for _, other := range latest {
		if other.SourceSystem == rec.SourceSystem {
			continue
		}
		for name, rf := range rec.RawFields {
			ov := other.Field(name)
			if ov != "" && strings.EqualFold(strings.TrimSpace(ov), strings.TrimSpace(rf.Value)) {
				counts[name]++
			}
		}
	}
	return counts, nil
}

func (e *Engine) enqueueAmbiguous(ctx context.Context, rec *model.SourceRecord, ambErr *resilience.AmbiguousMatchError) error {
	candidates := make([]model.ReviewCandidate, 0, len(ambErr.CandidateIDs))
	for i, id := range ambErr.CandidateIDs {
		cand := model.ReviewCandidate{CanonicalID: id}
		if i < len(ambErr.Scores) {
			cand.Score = ambErr.Scores[i]
		}
		if existing, err := e.store.GetCanonical(ctx, id); err == nil && existing != nil {
			cand.Name = existing.Name
		}
		candidates = append(candidates, cand)
	}

	item := model.ReviewItem{
		ID:         uuid.New().String(),
		Record:     *rec,
		Candidates: candidates,
		Reason:     ambErr.Error(),
		Status:     model.ReviewPending,
		CreatedAt:  e.now().UTC(),
	}
	return eris.Wrapf(e.store.EnqueueReview(ctx, item), "engine: enqueue review %s/%s", rec.SourceSystem, rec.SourceID)
}

// sweepDeactivations soft-deactivates active records no source has reported
// within the grace period. It only runs after a fully successful cycle so a
// source outage never reads as every one of its representatives vanishing.
func (e *Engine) sweepDeactivations(ctx context.Context, runID string) error {
	days := e.cfg.Ingest.DeactivateAfterDays
	if days <= 0 {
		return nil
	}
	cutoff := e.now().UTC().AddDate(0, 0, -days)

	stale, err := e.store.StaleActive(ctx, cutoff)
	if err != nil {
		return err
	}
	for i := range stale {
		rec := &stale[i]
		unlock := e.locks.Lock(rec.CanonicalID)

		err := func() error {
			fresh, err := e.store.GetCanonical(ctx, rec.CanonicalID)
			if err != nil {
				return err
			}
			if fresh == nil || !fresh.IsActive {
				return nil
			}
			mut := e.resolver.Deactivate(fresh, runID, e.now().UTC())
			return e.store.ApplyMerge(ctx, mut)
		}()
		unlock()
		if err != nil {
			return eris.Wrapf(err, "engine: deactivate %s", rec.CanonicalID)
		}
		zap.L().Info("representative deactivated",
			zap.String("canonical_id", rec.CanonicalID),
			zap.String("run_id", runID),
		)
	}
	return nil
}
