// Package pipeline drives a flow through questionnaire generation: it plans
// (asset, section) pairs, generates and caches a page per pair, then
// aggregates and deduplicates the cached pages into a questionnaire.
package pipeline

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/collection-cli/internal/events"
	"github.com/sells-group/collection-cli/internal/model"
	"github.com/sells-group/collection-cli/internal/store"
)

// MaxReasonBytes bounds the failure reason stored on a flow.
const MaxReasonBytes = 512

// ReasonCancelled is recorded when a run is cancelled externally.
const ReasonCancelled = "cancelled"

// statusWriteTimeout bounds status writes, which outlive a cancelled run.
const statusWriteTimeout = 10 * time.Second

// tracker owns the status of one flow for the duration of a run. Writes are
// detached from the run context so a cancelled run can still record its
// final state.
type tracker struct {
	flowID  string
	status  model.FlowStatus
	flows   store.FlowStore
	events  events.Publisher
	log     *zap.Logger
	started time.Time
}

func (t *tracker) move(ctx context.Context, to model.FlowStatus, reason string) error {
	from := t.status
	if !from.CanTransition(to) {
		return eris.Errorf("pipeline: illegal transition %s -> %s", from, to)
	}
	reason = truncateReason(reason)

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()

	if err := t.flows.TransitionFlow(wctx, t.flowID, from, to, reason); err != nil {
		return eris.Wrapf(err, "pipeline: %s -> %s", from, to)
	}
	t.status = to

	fields := []zap.Field{zap.String("from", string(from)), zap.String("to", string(to))}
	if reason != "" {
		fields = append(fields, zap.String("reason", reason))
	}
	t.log.Info("pipeline: flow status changed", fields...)

	ev := events.StatusEvent{FlowID: t.flowID, From: from, Status: to, Error: reason, At: time.Now().UTC()}
	if err := t.events.Publish(wctx, ev); err != nil {
		t.log.Warn("pipeline: publish status event", zap.Error(err))
	}
	return nil
}

// fail moves the flow to failed. It never returns an error: a failure to
// record failure is logged and the original cause is what the caller sees.
func (t *tracker) fail(ctx context.Context, reason string) {
	if t.status == model.FlowStatusFailed {
		return
	}
	if reason == "" {
		reason = "unknown error"
	}
	if err := t.move(ctx, model.FlowStatusFailed, reason); err != nil {
		t.log.Error("pipeline: could not record failure", zap.String("reason", reason), zap.Error(err))
	}
}

// truncateReason cuts s to MaxReasonBytes on a rune boundary.
func truncateReason(s string) string {
	if len(s) <= MaxReasonBytes {
		return s
	}
	cut := MaxReasonBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
