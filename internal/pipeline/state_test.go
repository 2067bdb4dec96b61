package pipeline

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/collection-cli/internal/model"
)

func TestTruncateReason(t *testing.T) {
	assert.Equal(t, "short", truncateReason("short"))

	long := strings.Repeat("é", 400)
	got := truncateReason(long)
	assert.LessOrEqual(t, len(got), MaxReasonBytes)
	assert.True(t, utf8.ValidString(got))

	ascii := strings.Repeat("x", 1000)
	assert.Len(t, truncateReason(ascii), MaxReasonBytes)
}

func TestTracker_RejectsIllegalTransition(t *testing.T) {
	f := newFixture(t)
	flow := f.createFlow(t, []string{"A1"}, gap("A1", "os_version"))

	tr := &tracker{flowID: flow.ID, status: model.FlowStatusPending, flows: f.store, events: f.events, log: zap.NewNop()}
	err := tr.move(context.Background(), model.FlowStatusReady, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal transition")
	assert.Empty(t, f.events.Events(flow.ID))
}

func TestTracker_FailStoresTruncatedReason(t *testing.T) {
	f := newFixture(t)
	flow := f.createFlow(t, []string{"A1"}, gap("A1", "os_version"))

	tr := &tracker{flowID: flow.ID, status: model.FlowStatusPending, flows: f.store, events: f.events, log: zap.NewNop()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr.fail(ctx, strings.Repeat("z", 2000))
	got := f.flow(t, flow.ID)
	assert.Equal(t, model.FlowStatusFailed, got.Status)
	assert.Len(t, got.Error, MaxReasonBytes)

	evs := f.events.Events(flow.ID)
	require.Len(t, evs, 1)
	assert.Equal(t, model.FlowStatusPending, evs[0].From)
	assert.Equal(t, model.FlowStatusFailed, evs[0].Status)

	tr.fail(ctx, "again")
	assert.Len(t, f.events.Events(flow.ID), 1, "already failed")
}
