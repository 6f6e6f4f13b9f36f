package fbl

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func regDefaults() ModelParams {
	params := DefaultModelParams()
	params.Seed = 1
	return params
}

func onesVec(n int) []float64 {
	out := make([]float64, n)
	for ind := range out {
		out[ind] = 1.0
	}
	return out
}

func TestResolveRejectsBadParameters(t *testing.T) {
	nRow, nPred := 100, 4
	y := onesVec(nRow)

	cases := []struct {
		name   string
		mutate func(*ModelParams)
		task   Task
	}{
		{"zero min_samples_split", func(p *ModelParams) { p.MinSamplesSplit = 0 }, Regression},
		{"min_samples_split above n_rows", func(p *ModelParams) { p.MinSamplesSplit = nRow + 1 }, Regression},
		{"pred_prob above one", func(p *ModelParams) { p.PredProb = 1.5 }, Regression},
		{"negative pred_prob", func(p *ModelParams) { p.PredProb = -0.1 }, Regression},
		{"max_features above n_features", func(p *ModelParams) { p.MaxFeatures = nPred + 1 }, Regression},
		{"quantiles for classification", func(p *ModelParams) { p.QuantilesArr = []float64{0.5} }, Classification},
		{"quantile level outside unit interval", func(p *ModelParams) { p.QuantilesArr = []float64{0.5, 1.2} }, Regression},
		{"decreasing quantiles", func(p *ModelParams) { p.QuantilesArr = []float64{0.8, 0.2} }, Regression},
		{"class_weight for regression", func(p *ModelParams) { p.ClassWeight = &ClassWeight{Balanced: true} }, Regression},
		{"reg_mono for classification", func(p *ModelParams) { p.RegMono = []float64{1, 0, 0, 0} }, Classification},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := regDefaults()
			tc.mutate(&params)
			_, err := Resolve(params, tc.task, nRow, nPred, y, nil, nil)
			require.ErrorIs(t, err, ErrInvalidParameter)
		})
	}
}

func TestResolveRejectsBadWeightVectors(t *testing.T) {
	nRow, nPred := 10, 3
	y := onesVec(nRow)

	_, err := Resolve(regDefaults(), Regression, nRow, nPred, y, onesVec(nRow-1), nil)
	require.ErrorIs(t, err, ErrInvalidParameter, "short sample_weight")

	bad := onesVec(nRow)
	bad[3] = -1.0
	_, err = Resolve(regDefaults(), Regression, nRow, nPred, y, bad, nil)
	require.ErrorIs(t, err, ErrInvalidParameter, "negative sample_weight")

	_, err = Resolve(regDefaults(), Regression, nRow, nPred, y, nil, make([]float64, nPred))
	require.ErrorIs(t, err, ErrInvalidParameter, "all-zero feature_weight")
}

func TestResolveNToSampleDefaults(t *testing.T) {
	nRow, nPred := 100, 20
	y := onesVec(nRow)

	params := regDefaults()
	resolved, err := Resolve(params, Regression, nRow, nPred, y, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 100, resolved.NToSample)

	params.Bootstrap = false
	resolved, err = Resolve(params, Regression, nRow, nPred, y, nil, nil)
	require.NoError(t, err)
	//round(100 * (1 - e^-1)) = 63 expected distinct draws.
	assert.Equal(t, 63, resolved.NToSample)

	params.NToSample = 17
	resolved, err = Resolve(params, Regression, nRow, nPred, y, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 17, resolved.NToSample)
}

func TestResolveSplitCandidateDefaults(t *testing.T) {
	y := onesVec(50)

	//Narrow block: a fixed candidate count is derived, probability stays 0.
	resolved, err := Resolve(regDefaults(), Classification, 50, 9, y, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, resolved.MaxFeatures) //floor(sqrt(9))
	assert.Zero(t, resolved.PredProb)

	resolved, err = Resolve(regDefaults(), Regression, 50, 9, y, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, resolved.MaxFeatures) //max(floor(9/3), 1)
	assert.Zero(t, resolved.PredProb)

	resolved, err = Resolve(regDefaults(), Regression, 50, 2, y, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved.MaxFeatures) //floor(2/3) clamps to 1

	//Wide block: the trial probability is derived instead.
	resolved, err = Resolve(regDefaults(), Classification, 50, 25, y, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, resolved.MaxFeatures)
	assert.InDelta(t, 5.0/25.0, resolved.PredProb, 1e-12) //ceil(sqrt(25))/25

	resolved, err = Resolve(regDefaults(), Regression, 50, 25, y, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, resolved.MaxFeatures)
	assert.InDelta(t, 0.4, resolved.PredProb, 1e-12)

	//Explicit values are never overridden.
	params := regDefaults()
	params.MaxFeatures = 5
	resolved, err = Resolve(params, Regression, 50, 9, y, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, resolved.MaxFeatures)
	assert.Zero(t, resolved.PredProb)
}

func TestResolveProbArr(t *testing.T) {
	nRow, nPred := 40, 25
	y := onesVec(nRow)
	featureWeight := []float64{
		2, 1, 1, 1, 1,
		1, 1, 1, 1, 1,
		1, 1, 1, 1, 1,
		1, 1, 1, 1, 1,
		1, 1, 1, 1, 1,
	}

	resolved, err := Resolve(regDefaults(), Regression, nRow, nPred, y, nil, featureWeight)
	require.NoError(t, err)

	//prob_arr = feature_weight * nPred * pred_prob / sum(feature_weight).
	sum := 26.0
	assert.InDelta(t, 2.0*25.0*0.4/sum, resolved.ProbArr[0], 1e-12)
	assert.InDelta(t, 1.0*25.0*0.4/sum, resolved.ProbArr[1], 1e-12)

	//With a fixed candidate count the mean weight is 1.
	params := regDefaults()
	params.MaxFeatures = 4
	resolved, err = Resolve(params, Regression, nRow, nPred, y, nil, featureWeight)
	require.NoError(t, err)
	assert.InDelta(t, 2.0*25.0/sum, resolved.ProbArr[0], 1e-12)
}

func TestResolveBalancedClassWeights(t *testing.T) {
	//80 rows of class 0, 20 rows of class 1.
	nRow := 100
	y := make([]float64, nRow)
	for ind := 80; ind < nRow; ind++ {
		y[ind] = 1.0
	}

	params := regDefaults()
	params.ClassWeight = &ClassWeight{Balanced: true}
	resolved, err := Resolve(params, Classification, nRow, 4, y, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 2, resolved.NClasses)
	require.Equal(t, []float64{0.0, 1.0}, resolved.Classes)

	//Balanced per-class weights normalize to [0.2, 0.8]; the per-row jitter
	//is bounded by 0.25/nRow^2.
	jitter := 0.25 / float64(nRow*nRow)
	assert.InDelta(t, 0.2, resolved.ClassWeight[0], jitter+1e-12)
	assert.InDelta(t, 0.8, resolved.ClassWeight[99], jitter+1e-12)
}

func TestResolveExplicitClassWeights(t *testing.T) {
	y := []float64{0, 0, 1, 1, 2, 2}

	params := regDefaults()
	params.ClassWeight = &ClassWeight{ByLabel: map[float64]float64{0: 1, 1: 2}}
	_, err := Resolve(params, Classification, 6, 2, y, nil, nil)
	require.ErrorIs(t, err, ErrInvalidParameter, "incomplete class weighting")

	params.ClassWeight = &ClassWeight{ByLabel: map[float64]float64{0: 1, 1: -2, 2: 1}}
	_, err = Resolve(params, Classification, 6, 2, y, nil, nil)
	require.ErrorIs(t, err, ErrInvalidParameter, "negative class weighting")

	params.ClassWeight = &ClassWeight{ByLabel: map[float64]float64{0: 1, 1: 2, 2: 1}}
	resolved, err := Resolve(params, Classification, 6, 2, y, nil, nil)
	require.NoError(t, err)
	jitter := 0.25/36.0 + 1e-12
	assert.InDelta(t, 0.25, resolved.ClassWeight[0], jitter)
	assert.InDelta(t, 0.50, resolved.ClassWeight[2], jitter)
}

func TestResolveRegMono(t *testing.T) {
	y := onesVec(10)

	resolved, err := Resolve(regDefaults(), Regression, 10, 3, y, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, resolved.RegMono)

	params := regDefaults()
	params.RegMono = []float64{2.5, -0.3, 0}
	resolved, err = Resolve(params, Regression, 10, 3, y, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, -1, 0}, resolved.RegMono)
}

func TestResolveClassCountIsDistinctLabelCount(t *testing.T) {
	//Labels 0 and 7: two classes, not max(y)+1.
	y := []float64{7, 0, 7, 0, 7, 0}
	resolved, err := Resolve(regDefaults(), Classification, 6, 2, y, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, resolved.NClasses)
	assert.Equal(t, []float64{0, 7}, resolved.Classes)
	assert.Equal(t, []int{1, 0, 1, 0, 1, 0}, resolved.ClassIndex)
}

func TestResolveIsRepeatableFromRawInputs(t *testing.T) {
	y := make([]float64, 30)
	for ind := range y {
		y[ind] = math.Mod(float64(ind), 3)
	}

	first, err := Resolve(regDefaults(), Classification, 30, 5, y, nil, nil)
	require.NoError(t, err)
	second, err := Resolve(regDefaults(), Classification, 30, 5, y, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
