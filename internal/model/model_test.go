package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlowStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to FlowStatus
		want     bool
	}{
		{FlowStatusPending, FlowStatusGenerating, true},
		{FlowStatusPending, FlowStatusFailed, true},
		{FlowStatusPending, FlowStatusReady, false},
		{FlowStatusGenerating, FlowStatusAggregating, true},
		{FlowStatusGenerating, FlowStatusFailed, true},
		{FlowStatusGenerating, FlowStatusReady, false},
		{FlowStatusAggregating, FlowStatusReady, true},
		{FlowStatusAggregating, FlowStatusFailed, true},
		{FlowStatusAggregating, FlowStatusGenerating, false},
		{FlowStatusReady, FlowStatusPending, true},
		{FlowStatusReady, FlowStatusGenerating, false},
		{FlowStatusFailed, FlowStatusPending, true},
		{FlowStatusFailed, FlowStatusGenerating, false},
		{"bogus", FlowStatusPending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestFlowStatus_ActiveValid(t *testing.T) {
	assert.True(t, FlowStatusGenerating.Active())
	assert.True(t, FlowStatusAggregating.Active())
	assert.False(t, FlowStatusPending.Active())
	assert.False(t, FlowStatusReady.Active())
	assert.False(t, FlowStatusFailed.Active())

	for _, s := range []FlowStatus{FlowStatusPending, FlowStatusGenerating, FlowStatusAggregating, FlowStatusReady, FlowStatusFailed} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, FlowStatus("").Valid())
	assert.False(t, FlowStatus("done").Valid())
}

func TestRunReport_Degraded(t *testing.T) {
	var nilReport *RunReport
	assert.False(t, nilReport.Degraded())
	assert.False(t, (&RunReport{Attempted: 2, Generated: 2}).Degraded())
	assert.True(t, (&RunReport{Failed: []PairFailure{{AssetID: "A1", SectionID: "business", Kind: "timeout"}}}).Degraded())
}

func TestGapsByAsset(t *testing.T) {
	got := GapsByAsset([]Gap{
		{AssetID: "A1", Attribute: "os_version"},
		{AssetID: "A2", Attribute: "owner"},
		{AssetID: "A1", Attribute: "memory_gb"},
		{AssetID: "A1", Attribute: "os_version"},
		{AssetID: "", Attribute: "owner"},
		{AssetID: "A3", Attribute: ""},
	})
	assert.Equal(t, map[string][]string{
		"A1": {"os_version", "memory_gb"},
		"A2": {"owner"},
	}, got)
	assert.Empty(t, GapsByAsset(nil))
}

func TestTenantContext_IsZero(t *testing.T) {
	assert.True(t, TenantContext{}.IsZero())
	assert.False(t, TenantContext{Notes: "weekend cutover only"}.IsZero())
}

func TestInputType_RequiresOptions(t *testing.T) {
	for _, it := range []InputType{InputSelect, InputMultiSelect, InputRadio, InputCheckbox} {
		assert.True(t, it.RequiresOptions(), it)
	}
	for _, it := range []InputType{InputText, InputTextarea, InputNumber, InputDate, InputBoolean} {
		assert.False(t, it.RequiresOptions(), it)
	}
}

func TestQuestionnaire_Helpers(t *testing.T) {
	q := &Questionnaire{Sections: []QuestionnaireSection{
		{ID: "business", Questions: []Question{{FieldID: "owner"}}},
		{ID: "infrastructure", Questions: []Question{{FieldID: "os_version"}, {FieldID: "memory_gb"}}},
	}}
	assert.Equal(t, 3, q.QuestionCount())

	sec := q.Section("infrastructure")
	if assert.NotNil(t, sec) {
		assert.Len(t, sec.Questions, 2)
	}
	assert.Nil(t, q.Section("resilience"))
}
