package fbl

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

//PredictionEngine is the boundary to a forest prediction engine. The request
//is read-only; failures propagate unchanged.
type PredictionEngine interface {
	Predict(request *PredictionRequest) (*EnginePrediction, error)
}

//EnginePrediction is the raw engine output before label mapping. Values is
//filled for regression. Classification fills Indices with the winning class
//index per row, Votes with per-tree argmax counts and Proba with averaged
//leaf class distributions.
type EnginePrediction struct {
	Values  []float64
	Indices []int
	Votes   *mat.Dense
	Proba   *mat.Dense
}

//ForestWalker is the in-process reference prediction engine: it walks the
//flat node tables per row and per tree, averaging leaf scores for regression
//and aggregating votes for classification. Rows are independent units of
//work and could be batched by PvtBlock; the walker keeps a single pass since
//traversal is already cheap next to training.
type ForestWalker struct{}

//NewForestWalker returns the reference prediction engine.
func NewForestWalker() ForestWalker {
	return ForestWalker{}
}

//Predict traverses the forest for every row of the request block.
func (ForestWalker) Predict(request *PredictionRequest) (*EnginePrediction, error) {
	forest := request.Forest
	values, ok := request.Block.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("prediction block must hold float64 data: %w", ErrShapeMismatch)
	}

	if forest.Task == Classification {
		return predictClassification(request, values)
	}
	return predictRegression(request, values)
}

func predictRegression(request *PredictionRequest, values []float64) (*EnginePrediction, error) {
	forest := request.Forest
	out := &EnginePrediction{Values: make([]float64, request.NRow)}

	for rowIdx := 0; rowIdx < request.NRow; rowIdx++ {
		rowValues := values[rowIdx*request.NPred : (rowIdx+1)*request.NPred]
		total := 0.0
		for treeIdx := 0; treeIdx < forest.NumTrees(); treeIdx++ {
			leaf := walkTree(forest, treeIdx, rowValues)
			total += leaf.Score
		}
		out.Values[rowIdx] = total / float64(forest.NumTrees())
	}
	return out, nil
}

func predictClassification(request *PredictionRequest, values []float64) (*EnginePrediction, error) {
	forest := request.Forest
	nClasses := request.NClasses
	out := &EnginePrediction{
		Indices: make([]int, request.NRow),
		Votes:   mat.NewDense(request.NRow, nClasses, nil),
		Proba:   mat.NewDense(request.NRow, nClasses, nil),
	}

	for rowIdx := 0; rowIdx < request.NRow; rowIdx++ {
		rowValues := values[rowIdx*request.NPred : (rowIdx+1)*request.NPred]
		proba := make([]float64, nClasses)

		for treeIdx := 0; treeIdx < forest.NumTrees(); treeIdx++ {
			leaf := walkTree(forest, treeIdx, rowValues)

			leafTotal := 0.0
			argmax := 0
			for classIdx, votes := range leaf.ClassVotes {
				leafTotal += votes
				if votes > leaf.ClassVotes[argmax] {
					argmax = classIdx
				}
			}
			out.Votes.Set(rowIdx, argmax, out.Votes.At(rowIdx, argmax)+1)
			if leafTotal > 0.0 {
				for classIdx, votes := range leaf.ClassVotes {
					proba[classIdx] += votes / leafTotal
				}
			}
		}

		winner := 0
		probaTotal := 0.0
		for classIdx := 0; classIdx < nClasses; classIdx++ {
			probaTotal += proba[classIdx]
			if out.Votes.At(rowIdx, classIdx) > out.Votes.At(rowIdx, winner) {
				winner = classIdx
			}
		}
		out.Indices[rowIdx] = winner
		if probaTotal > 0.0 {
			for classIdx := 0; classIdx < nClasses; classIdx++ {
				out.Proba.Set(rowIdx, classIdx, proba[classIdx]/probaTotal)
			}
		}
	}
	return out, nil
}

//walkTree descends one tree's node slab for a single observation.
func walkTree(forest *TrainedForest, treeIdx int, rowValues []float64) LeafStat {
	nodes := forest.TreeNodes(treeIdx)
	leaves := forest.TreeLeaves(treeIdx)

	ind := 0
	for !nodes[ind].IsLeaf() {
		if rowValues[nodes[ind].Pred] < nodes[ind].Threshold {
			ind = nodes[ind].LeftIndex
		} else {
			ind = nodes[ind].RightIndex
		}
	}
	return leaves[nodes[ind].LeafIndex]
}
