package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/collection-cli/internal/catalog"
	"github.com/sells-group/collection-cli/internal/model"
)

func TestBuildPlan_Order(t *testing.T) {
	flow := &model.Flow{
		AssetIDs: []string{"B", "A"},
		Gaps: []model.Gap{
			gap("A", "business_owner"),
			gap("A", "os_version"),
			gap("B", "backup_frequency"),
			gap("B", "memory_gb"),
			gap("B", "os_version"),
			gap("B", "os_version"),
		},
	}

	plan := BuildPlan(flow, catalog.Default())
	require.Len(t, plan.Pairs, 4)

	var keys []string
	for _, p := range plan.Pairs {
		keys = append(keys, p.AssetID+"/"+p.SectionID)
	}
	assert.Equal(t, []string{
		"B/infrastructure",
		"B/resilience",
		"A/infrastructure",
		"A/business",
	}, keys)
	assert.Equal(t, []string{"os_version", "memory_gb"}, plan.Pairs[0].Attributes, "catalog order, duplicates dropped")
}

func TestBuildPlan_SkipsUnknownAndUnselected(t *testing.T) {
	flow := &model.Flow{
		AssetIDs: []string{"A1"},
		Gaps: []model.Gap{
			gap("A1", "shoe_size"),
			gap("A9", "os_version"),
		},
	}

	plan := BuildPlan(flow, catalog.Default())
	assert.Empty(t, plan.Pairs)
	assert.Equal(t, []model.Gap{gap("A9", "os_version")}, plan.Unselected)
	assert.Equal(t, []model.Gap{gap("A1", "shoe_size")}, plan.Unknown)
}

func TestBuildPlan_AlternateCatalog(t *testing.T) {
	cat, err := catalog.New([]catalog.Section{
		{ID: "ops", Title: "Operations", Attributes: []string{"os_version", "backup_frequency"}},
	})
	require.NoError(t, err)

	flow := &model.Flow{
		AssetIDs: []string{"A1"},
		Gaps:     []model.Gap{gap("A1", "backup_frequency"), gap("A1", "os_version")},
	}
	plan := BuildPlan(flow, cat)
	require.Len(t, plan.Pairs, 1)
	assert.Equal(t, "ops", plan.Pairs[0].SectionID)
	assert.Equal(t, []string{"os_version", "backup_frequency"}, plan.Pairs[0].Attributes)
}
