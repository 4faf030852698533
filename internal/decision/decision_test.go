package decision

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/accessmind/internal/config"
	"github.com/rcliao/accessmind/internal/model"
)

func newEngine() *Engine { return New(config.Default().Decision) }

func security(id, cp string, conf float64) model.Pattern {
	return model.Pattern{ID: id, Name: "Frequent Access", Category: model.PatternSecurity, Counterparty: cp, Confidence: conf}
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"no counterparty", Request{Category: model.CategoryLocation}},
		{"long counterparty", Request{Counterparty: string(make([]byte, 129)), Category: model.CategoryLocation}},
		{"invalid utf8", Request{Counterparty: "p\xff", Category: model.CategoryLocation}},
		{"no category", Request{Counterparty: "p"}},
		{"bad category", Request{Counterparty: "p", Category: model.DataCategory(99)}},
		{"negative duration", Request{Counterparty: "p", Category: model.CategoryLocation, Duration: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.req.Validate(), model.ErrInvalidInput)
		})
	}
	assert.NoError(t, Request{Counterparty: "p", Category: model.CategorySocial}.Validate())
}

func TestFee(t *testing.T) {
	assert.InDelta(t, 2.0, Fee(model.CategoryIdentity, 0), 1e-9)
	assert.InDelta(t, 3.0, Fee(model.CategoryLocation, 24*time.Hour), 1e-9)
	assert.InDelta(t, 5.0, Fee(model.CategorySocial, 30*24*time.Hour), 1e-9)
	assert.InDelta(t, 0.5, Fee(model.CategoryPayment, 0), 1e-9)
}

func TestFeeMonotonicInDuration(t *testing.T) {
	e := newEngine()
	for _, cat := range []model.DataCategory{model.CategoryLocation, model.CategoryBrowsing, model.CategoryPayment, model.CategoryCustom} {
		prev := -1.0
		for h := 0; h <= 24*10; h += 3 {
			d := e.Evaluate(Request{Counterparty: "p", Category: cat, Duration: time.Duration(h) * time.Hour}, nil)
			require.True(t, d.Approved)
			assert.GreaterOrEqual(t, d.Fee, prev, "%s at %dh", cat, h)
			prev = d.Fee
		}
	}
}

func TestSensitiveCategoriesNeverCharged(t *testing.T) {
	e := newEngine()
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		var ps []model.Pattern
		for j := 0; j < rng.Intn(5); j++ {
			ps = append(ps, model.Pattern{
				ID:           "p",
				Category:     model.PatternDataAccess,
				Confidence:   rng.Float64(),
				DataCategory: model.CategoryIdentity,
			})
		}
		for _, cat := range []model.DataCategory{model.CategoryIdentity, model.CategoryFinancial, model.CategoryBiometric} {
			d := e.Evaluate(Request{Counterparty: "p", Category: cat, Duration: time.Duration(rng.Intn(100)) * time.Hour}, ps)
			assert.False(t, d.Approved)
			assert.True(t, d.ProofSuggested)
			assert.Zero(t, d.Fee)
		}
	}
}

func TestEvaluateDeniesOnThreat(t *testing.T) {
	e := newEngine()
	ps := []model.Pattern{security("a", "x", 0.65), security("b", "y", 0.65), security("c", "z", 0.65)}
	d := e.Evaluate(Request{Counterparty: "p", Category: model.CategorySocial}, ps)
	assert.False(t, d.Approved)
	assert.Equal(t, "Threat detected: Data Breach Risk", d.Reason)
}

func TestEvaluateDeniesOnCounterpartySecurityPattern(t *testing.T) {
	e := newEngine()
	ps := []model.Pattern{security("frequent-access-P", "P", 0.9)}

	d := e.Evaluate(Request{Counterparty: "P", Category: model.CategorySocial, Duration: time.Hour}, ps)
	assert.False(t, d.Approved)
	assert.False(t, d.ProofSuggested)
	assert.Contains(t, d.Reason, "Security risk from P")

	other := e.Evaluate(Request{Counterparty: "Q", Category: model.CategorySocial, Duration: time.Hour}, ps)
	assert.True(t, other.Approved, "the pattern concerns another counterparty")
}

func TestNegotiate(t *testing.T) {
	e := newEngine()
	req := Request{Counterparty: "p", Category: model.CategoryLocation, Duration: 24 * time.Hour}
	fair := Fee(req.Category, req.Duration) // 3.0

	t.Run("accepts fair or better", func(t *testing.T) {
		for _, offered := range []float64{fair, fair + 0.01, 100} {
			n := e.Negotiate(req, offered, nil)
			assert.True(t, n.Accepted)
			assert.Nil(t, n.CounterOffer)
			assert.InDelta(t, fair, n.FairFee, 1e-9)
		}
	})

	t.Run("near offer keeps duration", func(t *testing.T) {
		n := e.Negotiate(req, 2.5, nil)
		assert.False(t, n.Accepted)
		require.NotNil(t, n.CounterOffer)
		assert.InDelta(t, 2.75, n.CounterOffer.Fee, 1e-9)
		assert.Equal(t, req.Duration, n.CounterOffer.Duration)
	})

	t.Run("low offer shrinks duration", func(t *testing.T) {
		n := e.Negotiate(req, 1.0, nil)
		require.NotNil(t, n.CounterOffer)
		assert.InDelta(t, 2.0, n.CounterOffer.Fee, 1e-9)
		assert.Equal(t, 8*time.Hour, n.CounterOffer.Duration)
	})

	t.Run("zero offer gets a paid counter", func(t *testing.T) {
		for _, cat := range []model.DataCategory{model.CategoryLocation, model.CategoryBrowsing, model.CategoryPayment} {
			for _, d := range []time.Duration{0, time.Minute, 7 * 24 * time.Hour} {
				n := e.Negotiate(Request{Counterparty: "p", Category: cat, Duration: d}, 0, nil)
				assert.False(t, n.Accepted)
				require.NotNil(t, n.CounterOffer)
				assert.Greater(t, n.CounterOffer.Fee, 0.0)
			}
		}
	})

	t.Run("rejection passes through", func(t *testing.T) {
		n := e.Negotiate(Request{Counterparty: "p", Category: model.CategoryIdentity}, 0, nil)
		assert.False(t, n.Accepted)
		assert.Nil(t, n.CounterOffer)
		assert.True(t, n.Decision.ProofSuggested)
	})
}

func TestValidateOffer(t *testing.T) {
	assert.NoError(t, ValidateOffer(0))
	assert.ErrorIs(t, ValidateOffer(-1), model.ErrInvalidInput)
	assert.ErrorIs(t, ValidateOffer(math.NaN()), model.ErrInvalidInput)
	assert.ErrorIs(t, ValidateOffer(math.Inf(1)), model.ErrInvalidInput)
}

func TestAnalyzeThreats(t *testing.T) {
	e := newEngine()
	assert.Empty(t, e.AnalyzeThreats([]model.Pattern{security("a", "x", 0.6)}))

	threats := e.AnalyzeThreats([]model.Pattern{security("a", "x", 0.7), security("b", "y", 0.9)})
	require.Len(t, threats, 1)
	th := threats[0]
	assert.Equal(t, "Data Breach Risk", th.Title)
	assert.InDelta(t, 0.7, th.Likelihood, 1e-9)
	assert.InDelta(t, 0.8, th.Impact, 1e-9)
	assert.Equal(t, model.TimeframeImmediate, th.Timeframe)
	assert.Equal(t, Mitigation, th.Mitigation)

	many := make([]model.Pattern, 10)
	for i := range many {
		many[i] = security("s", "x", 0.9)
	}
	assert.InDelta(t, 0.9, e.AnalyzeThreats(many)[0].Likelihood, 1e-9)
}

func TestUncategorizedPatternsAreNotThreats(t *testing.T) {
	e := newEngine()
	ps := []model.Pattern{
		{ID: "u1", Name: "Frequent Access", Counterparty: "x", Confidence: 0.95},
		{ID: "u2", Name: "Frequent Access", Counterparty: "x", Confidence: 0.95},
	}
	assert.Empty(t, e.AnalyzeThreats(ps))
	assert.Zero(t, ThreatLevel(e.AnalyzeThreats(ps)))
	assert.True(t, e.Evaluate(Request{Counterparty: "x", Category: model.CategoryLocation}, ps).Approved)
}

func TestRecommend(t *testing.T) {
	e := newEngine()

	recs := e.Recommend(nil)
	require.Len(t, recs, 1)
	assert.Equal(t, "Privacy Audit", recs[0].Title)
	assert.Equal(t, model.PriorityLow, recs[0].Priority)

	frequent := model.Pattern{ID: "f", Confidence: 0.8, DataCategory: model.CategoryLocation, Tags: []model.PatternTag{model.TagFrequent}}
	recs = e.Recommend([]model.Pattern{security("a", "x", 0.85), frequent})
	require.Len(t, recs, 3)
	assert.Equal(t, "Security Alert", recs[0].Title)
	assert.Equal(t, model.PriorityHigh, recs[0].Priority)
	assert.Equal(t, []string{"a"}, recs[0].RelatedPatterns)
	assert.Equal(t, "Oversharing Risk", recs[1].Title)
	assert.Contains(t, recs[1].Description, "location")
	assert.Equal(t, "Privacy Audit", recs[2].Title)

	recs = e.Recommend([]model.Pattern{security("a", "x", 0.65)})
	assert.Equal(t, model.PriorityMedium, recs[0].Priority)
}

func TestOptimize(t *testing.T) {
	e := newEngine()

	calm := e.Optimize([]model.Pattern{
		{ID: "l", Confidence: 0.85, DataCategory: model.CategoryLocation},
		{ID: "b", Confidence: 0.65, DataCategory: model.CategoryBrowsing},
	})
	assert.Len(t, calm.Categories, len(model.PolicyCategories))
	assert.Equal(t, model.TierStrict, calm.Categories[model.CategoryLocation].Tier)
	assert.Equal(t, "never", calm.Categories[model.CategoryLocation].Sharing)
	assert.Equal(t, model.TierElevated, calm.Categories[model.CategoryBrowsing].Tier)
	assert.Equal(t, model.TierStandard, calm.Categories[model.CategoryIdentity].Tier)
	require.Len(t, calm.ProofRecommendations, 1)
	assert.Equal(t, model.CategoryLocation, calm.ProofRecommendations[0].Category)
	assert.Zero(t, calm.ThreatLevel)
	assert.InDelta(t, 500, calm.StakeAllocation[model.StakeSecurity], 1e-9)
	assert.InDelta(t, 300, calm.StakeAllocation[model.StakeDataValidator], 1e-9)
	assert.InDelta(t, 200, calm.StakeAllocation[model.StakeService], 1e-9)

	tense := e.Optimize([]model.Pattern{security("a", "x", 0.9), security("b", "y", 0.9)})
	assert.InDelta(t, 0.56, tense.ThreatLevel, 1e-9) // 0.7 * 0.8
	assert.InDelta(t, 700, tense.StakeAllocation[model.StakeSecurity], 1e-9)
	assert.InDelta(t, 0, tense.StakeAllocation[model.StakeService], 1e-9)
}

func TestQueriesAreIdempotent(t *testing.T) {
	e := newEngine()
	ps := []model.Pattern{security("a", "x", 0.9), {ID: "f", Confidence: 0.8, Tags: []model.PatternTag{model.TagFrequent}}}
	assert.Equal(t, e.Recommend(ps), e.Recommend(ps))
	assert.Equal(t, e.AnalyzeThreats(ps), e.AnalyzeThreats(ps))
	assert.Equal(t, e.Optimize(ps), e.Optimize(ps))
}
