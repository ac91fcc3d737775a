package engine

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-options-engine/internal/models"
)

func TestSelectInstrument(t *testing.T) {
	snap := chainSpec{ts: sessionStart, und: 23010, atm: 23000}.build()

	tests := []struct {
		mode models.TradingMode
		dir  models.Direction
		want Instrument
	}{
		{models.ModeExpiry, models.DirectionBull, Instrument{23000, models.OptionCE}},
		{models.ModeExpiry, models.DirectionBear, Instrument{23000, models.OptionPE}},
		{models.ModeNormal, models.DirectionBull, Instrument{23050, models.OptionCE}},
		{models.ModeNormal, models.DirectionBear, Instrument{22950, models.OptionPE}},
		{models.ModeBigRally, models.DirectionBull, Instrument{23100, models.OptionCE}},
		{models.ModeBigRally, models.DirectionBear, Instrument{22900, models.OptionPE}},
	}
	for _, tt := range tests {
		got := SelectInstrument(tt.mode, tt.dir, &snap)
		require.NotNil(t, got, "%s %s", tt.mode, tt.dir)
		assert.Equal(t, tt.want, *got, "%s %s", tt.mode, tt.dir)
	}

	assert.Nil(t, SelectInstrument(models.ModeNormal, models.DirectionAuto, &snap))

	bad := snap
	bad.ATMStrike = 0
	assert.Nil(t, SelectInstrument(models.ModeNormal, models.DirectionBull, &bad))
}

func TestStrikeStepDefault(t *testing.T) {
	s := models.OptionChainSnapshot{ATMStrike: 23000, Rows: []models.SnapshotRow{{Strike: 23000}}}
	assert.Equal(t, models.DefaultStrikeStep, s.StrikeStep())
}

func TestDirectionSignal(t *testing.T) {
	snap := chainSpec{ts: sessionStart, und: 23000, atm: 23000, resist: models.Float(23050)}.build()
	dir, reasons := DirectionSignal(&snap, models.DirectionAuto)
	assert.Equal(t, models.DirectionBull, dir, "underlying at ATM counts as bull")
	assert.Len(t, reasons, 2, "proximity to resistance is noted")

	snap.Underlying.LTP = models.Float(22990)
	dir, _ = DirectionSignal(&snap, models.DirectionAuto)
	assert.Equal(t, models.DirectionBear, dir)

	dir, _ = DirectionSignal(&snap, models.DirectionBull)
	assert.Equal(t, models.DirectionBull, dir)

	snap.Underlying.LTP = nil
	dir, _ = DirectionSignal(&snap, models.DirectionAuto)
	assert.Empty(t, dir)
}

func buildupLeg(dLtp float64, dOI int64) *models.OptionLeg {
	return &models.OptionLeg{LTP: models.Float(100), DLTP: models.Float(dLtp), DOI: models.Int(dOI)}
}

func TestScoreBias(t *testing.T) {
	var history []models.OptionChainSnapshot
	for i := 0; i < 3; i++ {
		s := chainSpec{ts: sessionStart.Add(time.Duration(i) * 20 * time.Second), und: 23010, atm: 23000}.build()
		// CE buildup on one near strike, PE unwinding on another.
		s.Row(23050).CE = buildupLeg(2, 500)
		s.Row(22950).PE = buildupLeg(-1, -300)
		history = append(history, s)
	}

	res := ScoreBias(history, DefaultBiasParams())
	assert.Equal(t, 3, res.Snapshots)
	assert.InDelta(t, 3, res.CEBuildup, 1e-9)
	assert.InDelta(t, 1.5, res.PEUnwind, 1e-9)
	assert.InDelta(t, 4.5, res.BullishScore, 1e-9)
	assert.InDelta(t, -3, res.BearishScore, 1e-9)
	assert.Equal(t, models.BiasBuyCE, res.Action)
	assert.Equal(t, 85, res.Confidence)

	// Same flow but the underlying sits right under resistance.
	for i := range history {
		history[i].Levels.ResistanceStrike = models.Float(23050)
	}
	res = ScoreBias(history, DefaultBiasParams())
	assert.Equal(t, models.BiasNoTrade, res.Action)
	assert.Zero(t, res.Confidence)
	assert.NotEmpty(t, res.Reasons)
}

func TestScoreBiasWindowAndBand(t *testing.T) {
	old := chainSpec{ts: sessionStart, und: 23010, atm: 23000}.build()
	old.Row(23000).PE = buildupLeg(3, 900)
	cur := chainSpec{ts: sessionStart.Add(2 * time.Minute), und: 22990, atm: 23000}.build()
	// Outside four strikes of ATM.
	cur.Rows = append([]models.SnapshotRow{{Strike: 22750, PE: buildupLeg(3, 900)}}, cur.Rows...)

	res := ScoreBias([]models.OptionChainSnapshot{old, cur}, DefaultBiasParams())
	assert.Equal(t, 1, res.Snapshots, "snapshot older than the window is ignored")
	assert.Zero(t, res.PEBuildup, "strike beyond the band is ignored")
	assert.Equal(t, models.BiasNoTrade, res.Action)
}

func TestSnapshotAtOrBefore(t *testing.T) {
	var h []models.OptionChainSnapshot
	for i := 0; i < 5; i++ {
		h = append(h, chainSpec{ts: sessionStart.Add(time.Duration(i) * time.Minute), und: 23000, atm: 23000}.build())
	}
	assert.Equal(t, h[2].Timestamp, snapshotAtOrBefore(h, sessionStart.Add(2*time.Minute)).Timestamp)
	assert.Equal(t, h[2].Timestamp, snapshotAtOrBefore(h, sessionStart.Add(150*time.Second)).Timestamp)
	assert.Equal(t, h[0].Timestamp, snapshotAtOrBefore(h, sessionStart.Add(-time.Hour)).Timestamp, "falls back to oldest")
}

func TestShouldEnterNormalBreakout(t *testing.T) {
	sig := ShouldEnter(breakoutHistory(80), models.ModeNormal, models.DirectionAuto)
	require.True(t, sig.OK, "%v", sig.Reasons)
	assert.Equal(t, models.DirectionBull, sig.Direction)
	assert.Equal(t, Instrument{23050, models.OptionCE}, sig.Instrument)
	assert.InDelta(t, 80, sig.EntryPrice, 1e-9)
	require.NotNil(t, sig.BreakoutLevel)
	assert.InDelta(t, 23000, *sig.BreakoutLevel, 1e-9)

	sig = ShouldEnter(breakoutHistory(80), models.ModeNormal, models.DirectionBear)
	assert.False(t, sig.OK, "a bear override ignores a high break")
}

func TestShouldEnterNormalNeedsConfirmation(t *testing.T) {
	h := breakoutHistory(80)
	// ATM call only up 10% over two minutes.
	h[len(h)-1].Row(23000).CE.LTP = models.Float(110)
	sig := ShouldEnter(h, models.ModeNormal, models.DirectionAuto)
	assert.False(t, sig.OK)
	assert.NotEmpty(t, sig.Reasons)
}

func TestShouldEnterNormalUsesCandle(t *testing.T) {
	h := breakoutHistory(80)
	h[len(h)-1].Candle5m = &models.CandleRange{High: 23030, Low: 22950}
	sig := ShouldEnter(h, models.ModeNormal, models.DirectionAuto)
	assert.False(t, sig.OK, "23020 does not break a 23030 candle high")
}

func TestShouldEnterExpiry(t *testing.T) {
	h := []models.OptionChainSnapshot{
		chainSpec{ts: sessionStart, und: 23010, atm: 23000}.build(),
		chainSpec{ts: sessionStart.Add(5 * time.Minute), und: 23010, atm: 23000,
			prices: map[legKey]float64{{23000, models.OptionCE}: 149}}.build(),
	}
	sig := ShouldEnter(h, models.ModeExpiry, models.DirectionAuto)
	assert.False(t, sig.OK, "49% is below the 50% bar")

	h[1].Row(23000).CE.LTP = models.Float(150)
	sig = ShouldEnter(h, models.ModeExpiry, models.DirectionAuto)
	require.True(t, sig.OK, "%v", sig.Reasons)
	assert.Equal(t, Instrument{23000, models.OptionCE}, sig.Instrument)
	assert.Nil(t, sig.BreakoutLevel)
}

func TestShouldEnterBigRally(t *testing.T) {
	h := []models.OptionChainSnapshot{
		chainSpec{ts: sessionStart, und: 22980, atm: 23000}.build(),
		chainSpec{ts: sessionStart.Add(10 * time.Minute), und: 22980, atm: 23000,
			prices: map[legKey]float64{{22900, models.OptionPE}: 200}}.build(),
	}
	sig := ShouldEnter(h, models.ModeBigRally, models.DirectionAuto)
	require.True(t, sig.OK, "%v", sig.Reasons)
	assert.Equal(t, Instrument{22900, models.OptionPE}, sig.Instrument)
	assert.InDelta(t, 200, sig.EntryPrice, 1e-9)
}

func TestShouldEnterRejectsUnusableATM(t *testing.T) {
	h := breakoutHistory(80)
	h[len(h)-1].ATMStrike = 0
	sig := ShouldEnter(h, models.ModeNormal, models.DirectionAuto)
	assert.False(t, sig.OK)
	assert.NotEmpty(t, sig.Reasons)
}

// rallyHistory builds two snapshots ten minutes apart where the 2-OTM call
// moved optPct.
func rallyHistory(optPct float64) []models.OptionChainSnapshot {
	return []models.OptionChainSnapshot{
		chainSpec{ts: sessionStart, und: 23010, atm: 23000,
			prices: map[legKey]float64{{23100, models.OptionCE}: 40}}.build(),
		chainSpec{ts: sessionStart.Add(10 * time.Minute), und: 23010, atm: 23000,
			prices: map[legKey]float64{{23100, models.OptionCE}: 40 * (1 + optPct/100)}}.build(),
	}
}

func TestComputeAutoModeNeedsDayOpen(t *testing.T) {
	mode, _ := ComputeAutoMode(rallyHistory(150), nil, models.DirectionAuto)
	assert.Equal(t, models.ModeNormal, mode)
}

// Property: BIG_RALLY requires both the move from the day open and the OTM
// doubling; either one alone leaves the mode at NORMAL.
func TestProperty_ModePromotionRequiresTwoConditions(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("open move alone stays NORMAL", prop.ForAll(
		func(movePct, optPct float64) bool {
			open := 23010 / (1 + movePct/100)
			mode, _ := ComputeAutoMode(rallyHistory(optPct), &open, models.DirectionAuto)
			return mode == models.ModeNormal
		},
		gen.Float64Range(1.05, 5),
		gen.Float64Range(0, 95),
	))

	properties.Property("OTM doubling alone stays NORMAL", prop.ForAll(
		func(movePct, optPct float64) bool {
			open := 23010 / (1 + movePct/100)
			mode, _ := ComputeAutoMode(rallyHistory(optPct), &open, models.DirectionAuto)
			return mode == models.ModeNormal
		},
		gen.Float64Range(0, 0.95),
		gen.Float64Range(100.5, 400),
	))

	properties.Property("both conditions promote to BIG_RALLY", prop.ForAll(
		func(movePct, optPct float64) bool {
			open := 23010 / (1 + movePct/100)
			mode, _ := ComputeAutoMode(rallyHistory(optPct), &open, models.DirectionAuto)
			return mode == models.ModeBigRally
		},
		gen.Float64Range(1.05, 5),
		gen.Float64Range(100.5, 400),
	))

	properties.TestingRun(t)
}
