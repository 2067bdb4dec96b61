package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/collection-cli/internal/cache"
	"github.com/sells-group/collection-cli/internal/catalog"
	"github.com/sells-group/collection-cli/internal/events"
	"github.com/sells-group/collection-cli/internal/generate"
	"github.com/sells-group/collection-cli/internal/model"
	"github.com/sells-group/collection-cli/internal/prompt"
	"github.com/sells-group/collection-cli/internal/resilience"
	"github.com/sells-group/collection-cli/internal/store"
)

var (
	// ErrAlreadyRunning is returned when a run for the flow is active in this process.
	ErrAlreadyRunning = eris.New("flow is already running")
	// ErrCancelled is returned when the run context was cancelled mid-run.
	ErrCancelled = eris.New("run cancelled")
)

// Pair failure kinds that do not come from the generation invoker.
const (
	failureBuild = "build"
	failureCache = "cache"
)

// Options tunes an Orchestrator.
type Options struct {
	// Workers bounds concurrent pair attempts. Default: 4.
	Workers int
	// CacheTTL is the lifetime of each cached page. Default: cache.DefaultTTL.
	CacheTTL time.Duration
	// PairTimeout bounds one pair attempt, cache round trips included.
	// In-flight pairs keep running after cancellation until this elapses.
	// Default: 5m.
	PairTimeout time.Duration
}

// Orchestrator runs flows. It is safe for concurrent use; runs of different
// flows proceed independently, and a second run of the same flow in this
// process is refused.
type Orchestrator struct {
	opts    Options
	store   store.Store
	cache   cache.PageCache
	invoker generate.Invoker
	builder *prompt.Builder
	catalog *catalog.Catalog
	events  events.Publisher

	mu     sync.Mutex
	active map[string]bool
}

// New creates an Orchestrator. A nil publisher disables status events.
func New(
	opts Options,
	st store.Store,
	pageCache cache.PageCache,
	invoker generate.Invoker,
	builder *prompt.Builder,
	cat *catalog.Catalog,
	pub events.Publisher,
) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = cache.DefaultTTL
	}
	if opts.PairTimeout <= 0 {
		opts.PairTimeout = 5 * time.Minute
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Orchestrator{
		opts:    opts,
		store:   st,
		cache:   pageCache,
		invoker: invoker,
		builder: builder,
		catalog: cat,
		events:  pub,
		active:  make(map[string]bool),
	}
}

// Active reports whether flowID is being run by this orchestrator.
func (o *Orchestrator) Active(flowID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[flowID]
}

func (o *Orchestrator) acquire(flowID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active[flowID] {
		return false
	}
	o.active[flowID] = true
	return true
}

func (o *Orchestrator) release(flowID string) {
	o.mu.Lock()
	delete(o.active, flowID)
	o.mu.Unlock()
}

// Run executes one generation run for flowID and returns the persisted
// questionnaire. Per-pair failures degrade the result but do not fail the
// run; flow-level failures leave the flow in failed with a reason. Cancelling
// ctx stops new pairs from starting and ends the flow as failed/"cancelled".
func (o *Orchestrator) Run(ctx context.Context, flowID string) (q *model.Questionnaire, err error) {
	if !o.acquire(flowID) {
		return nil, eris.Wrapf(ErrAlreadyRunning, "flow %s", flowID)
	}
	defer o.release(flowID)

	log := zap.L().With(zap.String("flow_id", flowID))

	flow, err := o.store.GetFlow(ctx, flowID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load flow")
	}

	t := &tracker{
		flowID:  flowID,
		status:  flow.Status,
		flows:   o.store,
		events:  o.events,
		log:     log,
		started: time.Now(),
	}
	if err := o.reset(ctx, t); err != nil {
		return nil, err
	}
	if err := t.move(ctx, model.FlowStatusGenerating, ""); err != nil {
		return nil, err
	}
	log.Info("pipeline: run started",
		zap.Int("assets", len(flow.AssetIDs)),
		zap.Int("gaps", len(flow.Gaps)),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline: run panicked", zap.Any("panic", r), zap.Stack("stack"))
			t.fail(ctx, fmt.Sprintf("internal error: %v", r))
			q, err = nil, eris.Errorf("pipeline: panic: %v", r)
		}
	}()

	report, plan, err := o.generatePhase(ctx, flow, log)
	if report != nil {
		o.saveReport(ctx, t, report)
	}
	if ctx.Err() != nil {
		if err != nil {
			log.Info("pipeline: generation interrupted by cancellation", zap.Error(err))
		}
		t.fail(ctx, ReasonCancelled)
		return nil, eris.Wrapf(ErrCancelled, "flow %s", flowID)
	}
	if err != nil {
		t.fail(ctx, err.Error())
		return nil, err
	}

	if err := t.move(ctx, model.FlowStatusAggregating, ""); err != nil {
		return nil, err
	}

	pairs := plan.Pairs
	if pairs == nil {
		pairs = []Pair{}
	}
	agg := AggregatePages(ctx, o.cache, flowID, pairs)
	q = Dedupe(flowID, o.catalog, agg)
	if ctx.Err() != nil {
		t.fail(ctx, ReasonCancelled)
		return nil, eris.Wrapf(ErrCancelled, "flow %s", flowID)
	}

	if _, err := o.store.SaveQuestionnaire(ctx, q); err != nil {
		t.fail(ctx, "persist questionnaire: "+err.Error())
		return nil, eris.Wrap(err, "pipeline: persist questionnaire")
	}

	report.Questions = q.QuestionCount()
	report.DurationMs = time.Since(t.started).Milliseconds()
	o.saveReport(ctx, t, report)

	if err := t.move(ctx, model.FlowStatusReady, ""); err != nil {
		return nil, err
	}
	log.Info("pipeline: run complete",
		zap.Int("sections", len(q.Sections)),
		zap.Int("questions", q.Summary.DeduplicatedCount),
		zap.Int("duplicates_removed", q.Summary.DuplicatesRemoved),
		zap.Int("failed_pairs", len(report.Failed)),
		zap.Bool("degraded", report.Degraded()),
		zap.Int64("duration_ms", report.DurationMs),
	)
	return q, nil
}

// reset brings the flow back to pending. A flow stuck in an active status
// with no run in this process is left over from a crashed run; it is failed
// first so the transition history stays legal.
func (o *Orchestrator) reset(ctx context.Context, t *tracker) error {
	switch {
	case t.status == model.FlowStatusPending:
		return nil
	case t.status.Active():
		t.log.Warn("pipeline: recovering flow left active by an earlier run", zap.String("status", string(t.status)))
		if err := t.move(ctx, model.FlowStatusFailed, "interrupted: previous run did not finish"); err != nil {
			return err
		}
	}
	return t.move(ctx, model.FlowStatusPending, "")
}

func (o *Orchestrator) saveReport(ctx context.Context, t *tracker, report *model.RunReport) {
	if report.DurationMs == 0 {
		report.DurationMs = time.Since(t.started).Milliseconds()
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	if err := o.store.SaveReport(wctx, t.flowID, report); err != nil {
		t.log.Warn("pipeline: save run report", zap.Error(err))
	}
}

// generatePhase fetches the selected assets and attempts every planned pair.
// The returned error is flow-level fatal.
func (o *Orchestrator) generatePhase(ctx context.Context, flow *model.Flow, log *zap.Logger) (*model.RunReport, Plan, error) {
	if err := o.builder.CheckCatalog(); err != nil {
		return nil, Plan{}, eris.Wrap(err, "catalog misconfigured")
	}
	assets, err := o.store.GetAssets(ctx, flow.AssetIDs)
	if err != nil {
		return nil, Plan{}, eris.Wrap(err, "fetch assets")
	}
	byID := make(map[string]model.Asset, len(assets))
	for _, a := range assets {
		byID[a.ID] = a
	}
	var missing []string
	for _, id := range flow.AssetIDs {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, Plan{}, eris.Errorf("assets not found: %s", strings.Join(missing, ", "))
	}

	plan := BuildPlan(flow, o.catalog)
	for _, g := range plan.Unselected {
		log.Warn("pipeline: ignoring gap for unselected asset", zap.String("asset_id", g.AssetID), zap.String("attribute", g.Attribute))
	}
	for _, g := range plan.Unknown {
		log.Warn("pipeline: skipping attribute with no section", zap.String("asset_id", g.AssetID), zap.String("attribute", g.Attribute))
	}

	report := &model.RunReport{}
	var mu sync.Mutex
	record := func(fn func(r *model.RunReport)) {
		mu.Lock()
		fn(report)
		mu.Unlock()
	}

	g := new(errgroup.Group)
	g.SetLimit(o.opts.Workers)
	for _, p := range plan.Pairs {
		if ctx.Err() != nil {
			record(func(r *model.RunReport) { r.Skipped++ })
			continue
		}
		g.Go(func() (err error) {
			if ctx.Err() != nil {
				record(func(r *model.RunReport) { r.Skipped++ })
				return nil
			}
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("pipeline: pair panicked",
						zap.String("asset_id", p.AssetID),
						zap.String("section_id", p.SectionID),
						zap.Any("panic", rec),
						zap.Stack("stack"),
					)
					err = eris.Errorf("internal error in %s/%s: %v", p.AssetID, p.SectionID, rec)
				}
			}()
			outcome := o.runPair(ctx, flow, byID[p.AssetID], p, log)
			record(outcome.apply)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, plan, err
	}

	sort.SliceStable(report.Failed, func(i, j int) bool {
		return pairIndex(plan.Pairs, report.Failed[i]) < pairIndex(plan.Pairs, report.Failed[j])
	})
	log.Info("pipeline: generation phase done",
		zap.Int("pairs", len(plan.Pairs)),
		zap.Int("generated", report.Generated),
		zap.Int("cache_hits", report.CacheHits),
		zap.Int("failed", len(report.Failed)),
		zap.Int("skipped", report.Skipped),
	)
	return report, plan, nil
}

type pairOutcome struct {
	cacheHit  bool
	generated bool
	failure   *model.PairFailure
}

func (po pairOutcome) apply(r *model.RunReport) {
	r.Attempted++
	switch {
	case po.failure != nil:
		r.Failed = append(r.Failed, *po.failure)
	case po.cacheHit:
		r.CacheHits++
	case po.generated:
		r.Generated++
	}
}

// runPair attempts one pair. It runs on a context detached from ctx so an
// attempt that has started finishes and populates the cache even when the
// run is cancelled.
func (o *Orchestrator) runPair(ctx context.Context, flow *model.Flow, asset model.Asset, p Pair, log *zap.Logger) pairOutcome {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.PairTimeout)
	defer cancel()

	plog := log.With(zap.String("asset_id", p.AssetID), zap.String("section_id", p.SectionID))
	fail := func(kind string, err error) pairOutcome {
		plog.Warn("pipeline: pair failed",
			zap.String("kind", kind),
			zap.String("class", resilience.Classify(err)),
			zap.Error(err),
		)
		return pairOutcome{failure: &model.PairFailure{
			AssetID:   p.AssetID,
			SectionID: p.SectionID,
			Kind:      kind,
			Reason:    truncateReason(err.Error()),
		}}
	}

	_, found, err := o.cache.Get(pctx, flow.ID, p.AssetID, p.SectionID)
	if err != nil {
		plog.Warn("pipeline: cache read failed, regenerating", zap.Error(err))
	}
	if found {
		plog.Debug("pipeline: cache hit")
		return pairOutcome{cacheHit: true}
	}

	req, err := o.builder.Build(asset, p.SectionID, p.Attributes, flow.Tenant)
	if err != nil {
		return fail(failureBuild, err)
	}

	res := o.invoker.Generate(pctx, req)
	if !res.OK() {
		if res.Failure == nil {
			return fail(string(generate.FailureEmpty), errors.New("invoker returned no page"))
		}
		return fail(string(res.Failure.Kind), res.Failure)
	}

	if err := o.cache.Put(pctx, flow.ID, p.AssetID, p.SectionID, res.Page, o.opts.CacheTTL); err != nil {
		return fail(failureCache, err)
	}
	plog.Debug("pipeline: page cached", zap.Int("questions", len(res.Page.Questions)), zap.Int("attempts", res.Attempts))
	return pairOutcome{generated: true}
}

func pairIndex(pairs []Pair, f model.PairFailure) int {
	for i, p := range pairs {
		if p.AssetID == f.AssetID && p.SectionID == f.SectionID {
			return i
		}
	}
	return len(pairs)
}
