package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoItemPlaybook(t *testing.T) *Playbook {
	t.Helper()
	return &Playbook{
		Gate:  GateAll,
		Order: OrderPriority,
		Items: []Item{
			{
				Condition: Condition{Type: TypeIndicator, Indicator: "rsi", Operator: OpCrossesBelow,
					Compare: Compare{Value: 30}, Symbol: "BTCUSDT", Timeframe: "1h"},
				Priority: 1, Logic: LogicAnd, Enabled: true, ValidityBars: 10,
			},
			{
				Condition: Condition{Type: TypePrice, Operator: OpCrossesAbove,
					Compare: Compare{Mode: CompareIndicator, Indicator: "ema",
						Settings: map[string]float64{"period": 50}},
					Symbol: "BTCUSDT", Timeframe: "1h"},
				Priority: 2, Logic: LogicAnd, Enabled: true,
			},
		},
	}
}

func TestPlaybook_CanonicalizeSortsByPriority(t *testing.T) {
	p := twoItemPlaybook(t)
	// Swap insertion order; priority ordering must restore it.
	p.Items[0], p.Items[1] = p.Items[1], p.Items[0]
	require.NoError(t, p.Canonicalize())
	assert.Equal(t, 1, p.Items[0].Priority)
	assert.Equal(t, 2, p.Items[1].Priority)
	assert.NotEmpty(t, p.Items[0].ItemFingerprint())
}

func TestPlaybook_FingerprintChangesWithStructure(t *testing.T) {
	base := twoItemPlaybook(t)
	require.NoError(t, base.Canonicalize())
	baseFP, err := base.Fingerprint()
	require.NoError(t, err)

	gateVariant := twoItemPlaybook(t)
	gateVariant.Gate = GateAny
	require.NoError(t, gateVariant.Canonicalize())
	gateFP, err := gateVariant.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, baseFP, gateFP)

	logicVariant := twoItemPlaybook(t)
	logicVariant.Items[1].Logic = LogicOr
	require.NoError(t, logicVariant.Canonicalize())
	logicFP, err := logicVariant.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, baseFP, logicFP)

	validityVariant := twoItemPlaybook(t)
	validityVariant.Items[0].ValidityBars = 5
	require.NoError(t, validityVariant.Canonicalize())
	validityFP, err := validityVariant.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, baseFP, validityFP)
}

func TestPlaybook_FingerprintStableAcrossEquivalentItems(t *testing.T) {
	a := twoItemPlaybook(t)
	require.NoError(t, a.Canonicalize())
	aFP, err := a.Fingerprint()
	require.NoError(t, err)

	b := twoItemPlaybook(t)
	// Spell an item with a synonym operator and explicit defaults.
	b.Items[0].Condition.Operator = "crosses_below_level"
	b.Items[0].Condition.Settings = map[string]float64{"period": 14}
	require.NoError(t, b.Canonicalize())
	bFP, err := b.Fingerprint()
	require.NoError(t, err)

	assert.Equal(t, aFP, bFP)
}

func TestPlaybook_RejectsBothValidityKinds(t *testing.T) {
	p := twoItemPlaybook(t)
	p.Items[0].ValidityMinutes = 30
	assert.Error(t, p.Canonicalize())
}

func TestPlaybook_RejectsEmpty(t *testing.T) {
	p := &Playbook{Gate: GateAll}
	assert.Error(t, p.Canonicalize())
}
