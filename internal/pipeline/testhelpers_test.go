package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/collection-cli/internal/cache"
	"github.com/sells-group/collection-cli/internal/catalog"
	"github.com/sells-group/collection-cli/internal/events"
	"github.com/sells-group/collection-cli/internal/generate"
	"github.com/sells-group/collection-cli/internal/model"
	"github.com/sells-group/collection-cli/internal/prompt"
	"github.com/sells-group/collection-cli/internal/store"
)

// --- Invoker Mock ---

type mockInvoker struct {
	mock.Mock
}

func (m *mockInvoker) Generate(ctx context.Context, req prompt.Request) generate.Result {
	args := m.Called(ctx, req)
	return args.Get(0).(generate.Result)
}

func forPair(assetID, sectionID string) any {
	return mock.MatchedBy(func(r prompt.Request) bool {
		return r.AssetID == assetID && r.SectionID == sectionID
	})
}

// page builds the page the invoker would return for a pair, one question per
// field, stamped the way ParsePage stamps them.
func page(assetID, sectionID string, fields ...string) *model.SectionPage {
	p := &model.SectionPage{SectionID: sectionID, AssetID: assetID}
	for _, f := range fields {
		p.Questions = append(p.Questions, model.Question{
			FieldID:   f,
			Text:      "What is the " + f + " of " + assetID + "?",
			InputType: model.InputSelect,
			Options:   []model.Option{{Value: assetID + "-a", Label: assetID + " A"}, {Value: "other", Label: "Other"}},
			Required:  true,
			SectionID: sectionID,
			Metadata: model.QuestionMetadata{
				AssetIDs:             []string{assetID},
				AssetSpecificOptions: true,
				AppliesToCount:       1,
			},
		})
	}
	return p
}

func ok(assetID, sectionID string, fields ...string) generate.Result {
	return generate.Succeeded(page(assetID, sectionID, fields...))
}

// --- Store wrappers ---

type failingAssets struct {
	store.Store
	err error
}

func (f failingAssets) GetAssets(context.Context, []string) ([]model.Asset, error) {
	return nil, f.err
}

type flakyCache struct {
	cache.PageCache
	putErr error
	getErr error
}

func (c flakyCache) Put(ctx context.Context, flowID, assetID, sectionID string, p *model.SectionPage, ttl time.Duration) error {
	if c.putErr != nil && sectionID == catalog.SectionResilience {
		return c.putErr
	}
	return c.PageCache.Put(ctx, flowID, assetID, sectionID, p, ttl)
}

func (c flakyCache) Get(ctx context.Context, flowID, assetID, sectionID string) (*model.SectionPage, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	return c.PageCache.Get(ctx, flowID, assetID, sectionID)
}

// --- Fixture ---

type fixture struct {
	store   *store.SQLiteStore
	cache   *cache.MemoryCache
	invoker *mockInvoker
	events  *events.Recorder
	catalog *catalog.Catalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	_, err = st.UpsertAssets(context.Background(), []model.Asset{
		{ID: "A1", Name: "billing-db-01", Type: "database", CurrentFields: map[string]any{"operating_system": "RHEL"}},
		{ID: "A2", Name: "billing-web-01", Type: "server", CurrentFields: map[string]any{"operating_system": "Windows Server"}},
		{ID: "A3", Name: "reporting-app", Type: "application"},
	})
	require.NoError(t, err)

	mc := cache.NewMemory(time.Minute)
	t.Cleanup(func() { mc.Close() }) //nolint:errcheck

	inv := &mockInvoker{}
	t.Cleanup(func() { inv.AssertExpectations(t) })

	return &fixture{
		store:   st,
		cache:   mc,
		invoker: inv,
		events:  &events.Recorder{},
		catalog: catalog.Default(),
	}
}

func (f *fixture) orchestrator(opts Options) *Orchestrator {
	return f.orchestratorWith(opts, f.store, f.cache, f.invoker)
}

func (f *fixture) orchestratorWith(opts Options, st store.Store, pc cache.PageCache, inv generate.Invoker) *Orchestrator {
	return New(opts, st, pc, inv, prompt.NewBuilder(f.catalog), f.catalog, f.events)
}

func (f *fixture) createFlow(t *testing.T, assetIDs []string, gaps ...model.Gap) *model.Flow {
	t.Helper()
	flow := &model.Flow{AssetIDs: assetIDs, Gaps: gaps}
	require.NoError(t, f.store.CreateFlow(context.Background(), flow))
	return flow
}

func gap(assetID, attr string) model.Gap {
	return model.Gap{AssetID: assetID, Attribute: attr}
}

func (f *fixture) flow(t *testing.T, id string) *model.Flow {
	t.Helper()
	got, err := f.store.GetFlow(context.Background(), id)
	require.NoError(t, err)
	return got
}

var errBoom = errors.New("boom")

// cancellingAssets cancels the run context while the assets are being read.
type cancellingAssets struct {
	store.Store
	cancel context.CancelFunc
}

func (c cancellingAssets) GetAssets(ctx context.Context, ids []string) ([]model.Asset, error) {
	c.cancel()
	return c.Store.GetAssets(ctx, ids)
}
