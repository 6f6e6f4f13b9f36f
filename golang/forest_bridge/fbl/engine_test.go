package fbl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

//stepData builds a one-predictor dataset split cleanly at 0.5: the low half
//responds lowValue, the high half highValue.
func stepData(nRow int, lowValue, highValue float64) (*mat.Dense, []float64) {
	data := make([]float64, nRow)
	y := make([]float64, nRow)
	for ind := 0; ind < nRow; ind++ {
		if ind < nRow/2 {
			data[ind] = float64(ind) / float64(nRow)
			y[ind] = lowValue
		} else {
			data[ind] = 1.0 + float64(ind)/float64(nRow)
			y[ind] = highValue
		}
	}
	return mat.NewDense(nRow, 1, data), y
}

//fitForest runs the full assembly pipeline and the reference trainer. The
//full deterministic bag (no bootstrap, every row sampled once) keeps the
//expectations exact.
func fitForest(t *testing.T, x *mat.Dense, y []float64, task Task, mutate func(*ModelParams)) (*TrainedForest, *ResolvedParams) {
	t.Helper()
	nRow, nPred := x.Dims()

	params := regDefaults()
	params.Bootstrap = false
	params.NToSample = nRow
	params.NEstimators = 5
	if mutate != nil {
		mutate(&params)
	}

	resolved, err := Resolve(params, task, nRow, nPred, y, nil, nil)
	require.NoError(t, err)

	block := NewPredictorBlock(x)
	rowRank, err := Presort(block.FlatFeatureMajor(), nPred, nRow, 1)
	require.NoError(t, err)

	response := y
	if task == Classification {
		response = make([]float64, nRow)
		for ind, classIdx := range resolved.ClassIndex {
			response[ind] = float64(classIdx)
		}
	}

	request, err := BuildTrainingRequest(block, rowRank, resolved, response)
	require.NoError(t, err)

	forest, err := NewForestTrainer().Train(request)
	require.NoError(t, err)
	return forest, resolved
}

func TestTrainerRecoversStepRegression(t *testing.T) {
	x, y := stepData(40, 1.0, 5.0)
	forest, _ := fitForest(t, x, y, Regression, nil)

	require.Equal(t, 5, forest.NumTrees())
	for treeIdx := 0; treeIdx < forest.NumTrees(); treeIdx++ {
		root := forest.TreeNodes(treeIdx)[0]
		require.False(t, root.IsLeaf(), "tree %d failed to split", treeIdx)
		assert.Equal(t, 0, root.Pred)
		assert.Greater(t, root.Threshold, 0.5)
		assert.Less(t, root.Threshold, 1.0)
	}

	prediction, err := DispatchPredict(NewForestWalker(), mat.NewDense(2, 1, []float64{0.0, 2.0}), forest, Regression, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, prediction.Values[0], 1e-9)
	assert.InDelta(t, 5.0, prediction.Values[1], 1e-9)
}

func TestTrainerHonorsMaxDepth(t *testing.T) {
	x, y := stepData(40, 1.0, 5.0)
	forest, _ := fitForest(t, x, y, Regression, func(p *ModelParams) { p.MaxDepth = 1 })

	for treeIdx := 0; treeIdx < forest.NumTrees(); treeIdx++ {
		//Depth one allows at most a root and two leaves.
		assert.LessOrEqual(t, len(forest.TreeNodes(treeIdx)), 3)
	}
}

func TestTrainerRejectsMonotoneViolations(t *testing.T) {
	//The response decreases with the predictor; a +1 constraint forbids
	//every cut, so trees collapse to a single leaf holding the global mean.
	x, y := stepData(40, 5.0, 1.0)
	forest, _ := fitForest(t, x, y, Regression, func(p *ModelParams) { p.RegMono = []float64{1} })

	for treeIdx := 0; treeIdx < forest.NumTrees(); treeIdx++ {
		nodes := forest.TreeNodes(treeIdx)
		require.Len(t, nodes, 1)
		require.True(t, nodes[0].IsLeaf())
	}

	prediction, err := DispatchPredict(NewForestWalker(), mat.NewDense(1, 1, []float64{0.0}), forest, Regression, nil)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, prediction.Values[0], 1e-9)

	//The mirrored constraint admits the same cuts the data suggests.
	forest, _ = fitForest(t, x, y, Regression, func(p *ModelParams) { p.RegMono = []float64{-1} })
	require.False(t, forest.TreeNodes(0)[0].IsLeaf())
}

func TestTrainerSeparatesClasses(t *testing.T) {
	x, rawY := stepData(40, 3.0, 8.0)
	forest, resolved := fitForest(t, x, rawY, Classification, nil)

	require.Equal(t, 2, forest.NClasses)
	require.Equal(t, []float64{3.0, 8.0}, resolved.Classes)

	newRows := mat.NewDense(2, 1, []float64{0.0, 2.0})
	prediction, err := DispatchPredict(NewForestWalker(), newRows, forest, Classification, resolved.Classes)
	require.NoError(t, err)

	assert.Equal(t, []float64{3.0, 8.0}, prediction.Labels)
	assert.Equal(t, []int{0, 1}, prediction.Indices)

	//Every tree votes for the winning class on a cleanly separated block.
	assert.InDelta(t, float64(forest.NumTrees()), prediction.Votes.At(0, 0), 1e-9)
	assert.InDelta(t, float64(forest.NumTrees()), prediction.Votes.At(1, 1), 1e-9)

	for rowIdx := 0; rowIdx < 2; rowIdx++ {
		rowSum := prediction.Proba.At(rowIdx, 0) + prediction.Proba.At(rowIdx, 1)
		assert.InDelta(t, 1.0, rowSum, 1e-9)
	}
	assert.InDelta(t, 1.0, prediction.Proba.At(0, 0), 1e-9)
	assert.InDelta(t, 1.0, prediction.Proba.At(1, 1), 1e-9)
}

func TestTrainerIsDeterministicUnderSeed(t *testing.T) {
	x, y := stepData(30, 1.0, 5.0)

	seeded := func(threads int) *TrainedForest {
		forest, _ := fitForest(t, x, y, Regression, func(p *ModelParams) {
			p.Bootstrap = true
			p.NToSample = 0
			p.Seed = 42
			p.ThreadsNum = threads
		})
		return forest
	}

	first := seeded(1)
	second := seeded(4)
	assert.Equal(t, first, second)
}

func TestDispatchGuardsUnfittedAndMismatchedInput(t *testing.T) {
	_, err := DispatchPredict(NewForestWalker(), mat.NewDense(1, 1, []float64{0.0}), nil, Regression, nil)
	require.ErrorIs(t, err, ErrUnfittedModel)

	x, y := stepData(20, 1.0, 5.0)
	forest, _ := fitForest(t, x, y, Regression, nil)
	_, err = DispatchPredict(NewForestWalker(), mat.NewDense(1, 2, []float64{0.0, 0.0}), forest, Regression, nil)
	require.ErrorIs(t, err, ErrFeatureCountMismatch)
}
