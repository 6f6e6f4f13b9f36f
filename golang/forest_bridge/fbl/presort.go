package fbl

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

//RowRankTable holds, for every predictor, the stable ascending order of row
//indices, the dense rank of each sorted position and a tie-run counter. The
//three slices are feature-major: entries for predictor p occupy
//[p*NRow, (p+1)*NRow). The table is written once by Presort and read-only
//afterwards, so concurrent tree workers may share it without locking.
type RowRankTable struct {
	NPred int
	NRow  int

	//Row[p*NRow+i] is the row occupying sorted position i within predictor p.
	Row []int
	//Rank[p*NRow+i] is the dense rank of the value at sorted position i.
	//Equal values share a rank; ranks are non-decreasing over i.
	Rank []int
	//InvNum[p*NRow+i] counts earlier sorted positions inside the current tie
	//run: 0 on every value change, incrementing within the run.
	InvNum []int
}

//PredRows returns the sorted row order of one predictor.
func (rr *RowRankTable) PredRows(predIdx int) []int {
	return rr.Row[predIdx*rr.NRow : (predIdx+1)*rr.NRow]
}

//PredRanks returns the dense ranks of one predictor.
func (rr *RowRankTable) PredRanks(predIdx int) []int {
	return rr.Rank[predIdx*rr.NRow : (predIdx+1)*rr.NRow]
}

//PredInvNum returns the tie-run counters of one predictor.
func (rr *RowRankTable) PredInvNum(predIdx int) []int {
	return rr.InvNum[predIdx*rr.NRow : (predIdx+1)*rr.NRow]
}

//Presort builds the RowRankTable for a feature-major flattened predictor
//block: values[p*nRow+row] is the value of row in predictor p. Columns are
//independent, so they are sorted in parallel on threadsNum workers, each
//writing its own slice of the output.
func Presort(values []float64, nPred, nRow, threadsNum int) (*RowRankTable, error) {
	if nPred < 1 || nRow < 1 {
		return nil, fmt.Errorf("presort: nPred %d, nRow %d: %w", nPred, nRow, ErrDimensionMismatch)
	}
	if len(values) != nPred*nRow {
		return nil, fmt.Errorf("presort: flattened length %d, want %d: %w", len(values), nPred*nRow, ErrDimensionMismatch)
	}
	for ind, val := range values {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, fmt.Errorf("presort: value at flat index %d: %w", ind, ErrNonFiniteValue)
		}
	}

	rr := &RowRankTable{
		NPred:  nPred,
		NRow:   nRow,
		Row:    make([]int, nPred*nRow),
		Rank:   make([]int, nPred*nRow),
		InvNum: make([]int, nPred*nRow),
	}

	if threadsNum <= 1 || nPred == 1 {
		for predIdx := 0; predIdx < nPred; predIdx++ {
			presortColumn(values[predIdx*nRow:(predIdx+1)*nRow], rr, predIdx)
		}
		return rr, nil
	}

	taskPool := NewPool(threadsNum)
	for predIdx := 0; predIdx < nPred; predIdx++ {
		localIdx := predIdx
		taskPool.AddTask(TaskFunc(func() {
			presortColumn(values[localIdx*nRow:(localIdx+1)*nRow], rr, localIdx)
		}))
	}
	taskPool.Close()
	taskPool.WaitAll()

	return rr, nil
}

//PresortBlock flattens a row-major matrix into feature-major order and
//presorts it.
func PresortBlock(x *mat.Dense, threadsNum int) (*RowRankTable, error) {
	nRow, nPred := x.Dims()
	return Presort(flattenFeatureMajor(x), nPred, nRow, threadsNum)
}

//presortColumn fills one predictor's slice of the table: a stable argsort of
//the column, then one pass assigning dense ranks and tie-run counters.
func presortColumn(column []float64, rr *RowRankTable, predIdx int) {
	nRow := rr.NRow
	row := rr.PredRows(predIdx)
	rank := rr.PredRanks(predIdx)
	invNum := rr.PredInvNum(predIdx)

	for ind := range row {
		row[ind] = ind
	}
	sort.SliceStable(row, func(i, j int) bool {
		return column[row[i]] < column[row[j]]
	})

	currentRank := 0
	runLength := 0
	for pos := 0; pos < nRow; pos++ {
		if pos > 0 && column[row[pos]] != column[row[pos-1]] {
			currentRank++
			runLength = 0
		}
		rank[pos] = currentRank
		invNum[pos] = runLength
		runLength++
	}
}

//flattenFeatureMajor transposes a row-major matrix into the feature-major
//flattening the presort and training engines expect.
func flattenFeatureMajor(x *mat.Dense) []float64 {
	nRow, nPred := x.Dims()
	flat := make([]float64, nPred*nRow)
	for predIdx := 0; predIdx < nPred; predIdx++ {
		for rowIdx := 0; rowIdx < nRow; rowIdx++ {
			flat[predIdx*nRow+rowIdx] = x.At(rowIdx, predIdx)
		}
	}
	return flat
}

//flattenRowMajor copies a matrix into a row-major flat slice, the order the
//prediction engine expects for new data.
func flattenRowMajor(x *mat.Dense) []float64 {
	nRow, nPred := x.Dims()
	flat := make([]float64, nRow*nPred)
	for rowIdx := 0; rowIdx < nRow; rowIdx++ {
		for predIdx := 0; predIdx < nPred; predIdx++ {
			flat[rowIdx*nPred+predIdx] = x.At(rowIdx, predIdx)
		}
	}
	return flat
}
