package fbl

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

//TrainingEngine is the boundary to a forest training engine. Implementations
//receive a fully-assembled request and return the opaque forest tables; they
//must not mutate the request. A failed call propagates unchanged to the
//caller, no retry is attempted at this layer.
type TrainingEngine interface {
	Train(request *TrainingRequest) (*TrainedForest, error)
}

//ForestTrainer is the in-process reference engine. It grows CART trees over
//the presorted row/rank tables: per-tree weighted row sampling, split scans
//along each candidate predictor's sorted order, variance gain for regression
//and Gini gain for classification. Trees are grown in TreeBlock batches on a
//worker pool; tree outputs land in disjoint slots, so no locking is needed.
type ForestTrainer struct{}

//NewForestTrainer returns the reference training engine.
func NewForestTrainer() ForestTrainer {
	return ForestTrainer{}
}

//treeDump is one finished tree before assembly into the flat forest tables.
type treeDump struct {
	nodes  []ForestNode
	leaves []LeafStat
}

//Train grows the forest described by the request.
func (ForestTrainer) Train(request *TrainingRequest) (*TrainedForest, error) {
	params := request.Params
	values, ok := request.Block.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("training block must hold float64 data: %w", ErrShapeMismatch)
	}

	//Effective per-row weight: the sample weight, scaled by the resolved
	//class weight for classification.
	rowWeight := append([]float64(nil), params.SampleWeight...)
	if params.Task == Classification {
		for ind := range rowWeight {
			rowWeight[ind] *= params.ClassWeight[ind]
		}
	}

	grower := &treeGrower{
		request:   request,
		params:    params,
		values:    values,
		rowWeight: rowWeight,
	}

	dumps := make([]treeDump, params.NEstimators)
	blockSize := params.TreeBlock
	if blockSize < 1 {
		blockSize = 1
	}

	taskPool := NewPool(params.ThreadsNum)
	for begin := 0; begin < params.NEstimators; begin += blockSize {
		end := begin + blockSize
		if end > params.NEstimators {
			end = params.NEstimators
		}
		localBegin, localEnd := begin, end
		taskPool.AddTask(TaskFunc(func() {
			for treeIdx := localBegin; treeIdx < localEnd; treeIdx++ {
				rng := rand.New(rand.NewSource(params.Seed + int64(treeIdx)))
				dumps[treeIdx] = grower.growTree(rng)
			}
		}))
	}
	taskPool.Close()
	taskPool.WaitAll()

	forest := &TrainedForest{
		Task:     params.Task,
		NPred:    params.NPred,
		NClasses: params.NClasses,
	}
	for _, dump := range dumps {
		forest.Origins = append(forest.Origins, len(forest.Nodes))
		forest.LeafOrigins = append(forest.LeafOrigins, len(forest.Leaves))
		forest.FacOrigins = append(forest.FacOrigins, len(forest.FacSplits))
		forest.Nodes = append(forest.Nodes, dump.nodes...)
		forest.Leaves = append(forest.Leaves, dump.leaves...)
	}
	return forest, nil
}

//treeGrower holds the read-only training state shared by all tree workers.
type treeGrower struct {
	request   *TrainingRequest
	params    *ResolvedParams
	values    []float64 //feature-major, values[p*nRow+row]
	rowWeight []float64
}

func (grower *treeGrower) growTree(rng *rand.Rand) treeDump {
	counts := grower.sampleRows(rng)
	dump := treeDump{}
	grower.buildNode(&dump, counts, 0, rng)
	return dump
}

//sampleRows draws the per-tree bag: NToSample weighted draws with
//replacement under bootstrap, otherwise a weighted sample without
//replacement. Returns per-row multiplicities.
func (grower *treeGrower) sampleRows(rng *rand.Rand) []int {
	nRow := grower.params.NRow
	counts := make([]int, nRow)

	if grower.params.Bootstrap {
		cumulative := make([]float64, nRow)
		running := 0.0
		for ind, weight := range grower.rowWeight {
			running += weight
			cumulative[ind] = running
		}
		for draw := 0; draw < grower.params.NToSample; draw++ {
			target := rng.Float64() * running
			counts[sort.SearchFloat64s(cumulative, target)]++
		}
		return counts
	}

	//Weighted sampling without replacement via exponential keys: the
	//NToSample rows with the smallest key survive.
	type keyed struct {
		key float64
		row int
	}
	keys := make([]keyed, 0, nRow)
	for row, weight := range grower.rowWeight {
		if weight <= 0.0 {
			continue
		}
		keys = append(keys, keyed{key: rng.ExpFloat64() / weight, row: row})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].key < keys[j].key })
	take := grower.params.NToSample
	if take > len(keys) {
		take = len(keys)
	}
	for ind := 0; ind < take; ind++ {
		counts[keys[ind].row]++
	}
	return counts
}

//buildNode recursively grows one node, appending to the tree-local slabs in
//the order the prediction walker expects. Returns the tree-local node index.
func (grower *treeGrower) buildNode(dump *treeDump, counts []int, depth int, rng *rand.Rand) int {
	params := grower.params

	distinct := 0
	for _, c := range counts {
		if c > 0 {
			distinct++
		}
	}

	depthExhausted := params.MaxDepth > 0 && depth >= params.MaxDepth
	var split *splitCandidate
	if !depthExhausted && distinct >= params.MinSamplesSplit {
		split = grower.findBestSplit(counts, rng)
	}

	if split == nil {
		return grower.appendLeaf(dump, counts)
	}

	nodeIdx := len(dump.nodes)
	dump.nodes = append(dump.nodes, ForestNode{
		Pred:      split.pred,
		Threshold: split.threshold,
		LeftIndex: -1, RightIndex: -1,
		LeafIndex: -1,
	})

	leftCounts := make([]int, len(counts))
	rightCounts := make([]int, len(counts))
	for row, c := range counts {
		if c == 0 {
			continue
		}
		if grower.values[split.pred*params.NRow+row] < split.threshold {
			leftCounts[row] = c
		} else {
			rightCounts[row] = c
		}
	}

	leftIdx := grower.buildNode(dump, leftCounts, depth+1, rng)
	dump.nodes[nodeIdx].LeftIndex = leftIdx
	rightIdx := grower.buildNode(dump, rightCounts, depth+1, rng)
	dump.nodes[nodeIdx].RightIndex = rightIdx
	return nodeIdx
}

func (grower *treeGrower) appendLeaf(dump *treeDump, counts []int) int {
	params := grower.params
	leaf := LeafStat{}

	if params.Task == Classification {
		leaf.ClassVotes = make([]float64, params.NClasses)
		for row, c := range counts {
			if c == 0 {
				continue
			}
			leaf.Count += c
			leaf.ClassVotes[params.ClassIndex[row]] += float64(c) * grower.rowWeight[row]
		}
		best := 0
		for classIdx, votes := range leaf.ClassVotes {
			if votes > leaf.ClassVotes[best] {
				best = classIdx
			}
		}
		leaf.Score = float64(best)
	} else {
		weightSum, valueSum := 0.0, 0.0
		for row, c := range counts {
			if c == 0 {
				continue
			}
			leaf.Count += c
			w := float64(c) * grower.rowWeight[row]
			weightSum += w
			valueSum += w * grower.request.Response[row]
		}
		if weightSum > 0.0 {
			leaf.Score = valueSum / weightSum
		}
	}

	leafIdx := len(dump.leaves)
	dump.leaves = append(dump.leaves, leaf)
	nodeIdx := len(dump.nodes)
	dump.nodes = append(dump.nodes, ForestNode{
		Pred: -1, LeftIndex: -1, RightIndex: -1,
		LeafIndex: leafIdx,
	})
	return nodeIdx
}

//splitCandidate is the outcome of a split scan over one node.
type splitCandidate struct {
	pred      int
	threshold float64
	gain      float64
}

//findBestSplit scans the trial predictors along their presorted orders and
//keeps the largest impurity gain whose ratio to the parent impurity clears
//MinInfoRatio. Returns nil when no admissible split exists.
func (grower *treeGrower) findBestSplit(counts []int, rng *rand.Rand) *splitCandidate {
	var best *splitCandidate
	for _, pred := range grower.trialPredictors(rng) {
		candidate := grower.scanPredictor(pred, counts)
		if candidate == nil {
			continue
		}
		if best == nil || candidate.gain > best.gain {
			best = candidate
		}
	}
	return best
}

//trialPredictors selects the split candidates for one node: a fixed-size
//weighted draw when MaxFeatures governs, otherwise an independent Bernoulli
//trial per predictor with its resolved probability. An empty outcome falls
//back to a single weighted draw so the node can still attempt a split.
func (grower *treeGrower) trialPredictors(rng *rand.Rand) []int {
	params := grower.params

	if params.MaxFeatures > 0 {
		return weightedDraw(rng, params.ProbArr, params.MaxFeatures)
	}

	var selected []int
	for pred, prob := range params.ProbArr {
		if prob > 1.0 {
			prob = 1.0
		}
		if rng.Float64() < prob {
			selected = append(selected, pred)
		}
	}
	if len(selected) == 0 {
		selected = weightedDraw(rng, params.ProbArr, 1)
	}
	return selected
}

//weightedDraw samples take distinct indices with probability proportional
//to the weights.
func weightedDraw(rng *rand.Rand, weights []float64, take int) []int {
	type keyed struct {
		key float64
		ind int
	}
	keys := make([]keyed, 0, len(weights))
	for ind, weight := range weights {
		if weight <= 0.0 {
			continue
		}
		keys = append(keys, keyed{key: rng.ExpFloat64() / weight, ind: ind})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].key < keys[j].key })
	if take > len(keys) {
		take = len(keys)
	}
	out := make([]int, take)
	for ind := 0; ind < take; ind++ {
		out[ind] = keys[ind].ind
	}
	sort.Ints(out)
	return out
}

//scanPredictor walks one predictor's sorted order restricted to the node's
//rows, accumulating left-side statistics and evaluating a cut at every value
//change. Tie runs never host a threshold, which is exactly what the rank
//table encodes.
func (grower *treeGrower) scanPredictor(pred int, counts []int) *splitCandidate {
	params := grower.params
	nRow := params.NRow
	order := grower.request.RowRank.PredRows(pred)
	column := grower.values[pred*nRow : (pred+1)*nRow]

	if params.Task == Classification {
		return grower.scanGini(pred, column, order, counts)
	}
	return grower.scanVariance(pred, column, order, counts)
}

func (grower *treeGrower) scanVariance(pred int, column []float64, order, counts []int) *splitCandidate {
	params := grower.params

	//Parent aggregates.
	var wTot, sTot, ssTot float64
	for row, c := range counts {
		if c == 0 {
			continue
		}
		w := float64(c) * grower.rowWeight[row]
		y := grower.request.Response[row]
		wTot += w
		sTot += w * y
		ssTot += w * y * y
	}
	parentImp := impurityVar(wTot, sTot, ssTot)
	if parentImp <= 0.0 || wTot <= 0.0 {
		return nil
	}

	mono := params.RegMono[pred]
	var best *splitCandidate
	var wLeft, sLeft, ssLeft float64
	prevValue := math.NaN()

	for _, row := range order {
		c := counts[row]
		if c == 0 {
			continue
		}
		value := column[row]
		if !math.IsNaN(prevValue) && value != prevValue && wLeft > 0.0 && wLeft < wTot {
			wRight := wTot - wLeft
			gain := parentImp - impurityVar(wLeft, sLeft, ssLeft) - impurityVar(wRight, sTot-sLeft, ssTot-ssLeft)
			if gain/parentImp >= params.MinInfoRatio && grower.monotoneAdmissible(mono, sLeft/wLeft, (sTot-sLeft)/wRight) {
				if best == nil || gain > best.gain {
					best = &splitCandidate{pred: pred, threshold: (prevValue + value) / 2.0, gain: gain}
				}
			}
		}
		w := float64(c) * grower.rowWeight[row]
		y := grower.request.Response[row]
		wLeft += w
		sLeft += w * y
		ssLeft += w * y * y
		prevValue = value
	}
	return best
}

func (grower *treeGrower) scanGini(pred int, column []float64, order, counts []int) *splitCandidate {
	params := grower.params

	parent := make([]float64, params.NClasses)
	wTot := 0.0
	for row, c := range counts {
		if c == 0 {
			continue
		}
		w := float64(c) * grower.rowWeight[row]
		parent[params.ClassIndex[row]] += w
		wTot += w
	}
	parentImp := impurityGini(parent, wTot)
	if parentImp <= 0.0 || wTot <= 0.0 {
		return nil
	}

	var best *splitCandidate
	left := make([]float64, params.NClasses)
	wLeft := 0.0
	prevValue := math.NaN()

	for _, row := range order {
		c := counts[row]
		if c == 0 {
			continue
		}
		value := column[row]
		if !math.IsNaN(prevValue) && value != prevValue && wLeft > 0.0 && wLeft < wTot {
			right := make([]float64, params.NClasses)
			for classIdx := range right {
				right[classIdx] = parent[classIdx] - left[classIdx]
			}
			gain := parentImp - impurityGini(left, wLeft) - impurityGini(right, wTot-wLeft)
			if gain/parentImp >= params.MinInfoRatio {
				if best == nil || gain > best.gain {
					best = &splitCandidate{pred: pred, threshold: (prevValue + value) / 2.0, gain: gain}
				}
			}
		}
		w := float64(c) * grower.rowWeight[row]
		left[params.ClassIndex[row]] += w
		wLeft += w
		prevValue = value
	}
	return best
}

//monotoneAdmissible rejects splits that would violate a per-feature sign
//constraint: the right side holds the larger feature values, so the response
//means must order accordingly.
func (grower *treeGrower) monotoneAdmissible(mono, leftMean, rightMean float64) bool {
	if mono == 0.0 {
		return true
	}
	return mono*(rightMean-leftMean) >= 0.0
}

//impurityVar is the weighted sum of squared deviations within a group.
func impurityVar(w, s, ss float64) float64 {
	if w <= 0.0 {
		return 0.0
	}
	return ss - s*s/w
}

//impurityGini is the weighted Gini impurity of a group.
func impurityGini(classWeights []float64, total float64) float64 {
	if total <= 0.0 {
		return 0.0
	}
	sumSquares := 0.0
	for _, w := range classWeights {
		sumSquares += w * w
	}
	return total * (1.0 - sumSquares/(total*total))
}
