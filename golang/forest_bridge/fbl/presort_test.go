package fbl

import (
	"errors"
	"math"
	"math/rand"
	"reflect"
	"testing"
)

func TestPresortOrdersRowsAscending(t *testing.T) {
	//One predictor: values 3.0, 1.0, 2.0 for rows 0, 1, 2.
	rr, err := Presort([]float64{3.0, 1.0, 2.0}, 1, 3, 1)
	if err != nil {
		t.Fatalf("presort failed: %v", err)
	}

	wantRow := []int{1, 2, 0}
	wantRank := []int{0, 1, 2}
	wantInv := []int{0, 0, 0}
	if !reflect.DeepEqual(rr.Row, wantRow) {
		t.Fatalf("row order %v, want %v", rr.Row, wantRow)
	}
	if !reflect.DeepEqual(rr.Rank, wantRank) {
		t.Fatalf("ranks %v, want %v", rr.Rank, wantRank)
	}
	if !reflect.DeepEqual(rr.InvNum, wantInv) {
		t.Fatalf("invNum %v, want %v", rr.InvNum, wantInv)
	}
}

func TestPresortTieRuns(t *testing.T) {
	//Values 5,5,3,5,3: sorted rows 2,4 (value 3) then 0,1,3 (value 5).
	rr, err := Presort([]float64{5, 5, 3, 5, 3}, 1, 5, 1)
	if err != nil {
		t.Fatalf("presort failed: %v", err)
	}

	wantRow := []int{2, 4, 0, 1, 3}
	wantRank := []int{0, 0, 1, 1, 1}
	wantInv := []int{0, 1, 0, 1, 2}
	if !reflect.DeepEqual(rr.Row, wantRow) {
		t.Fatalf("row order %v, want %v", rr.Row, wantRow)
	}
	if !reflect.DeepEqual(rr.Rank, wantRank) {
		t.Fatalf("ranks %v, want %v", rr.Rank, wantRank)
	}
	if !reflect.DeepEqual(rr.InvNum, wantInv) {
		t.Fatalf("invNum %v, want %v", rr.InvNum, wantInv)
	}
}

func TestPresortTotalTiesKeepStableOrder(t *testing.T) {
	//A fully tied column keeps the original row order and one long tie run.
	values := []float64{
		1, 2, 3, 4, //predictor 0
		7, 7, 7, 7, //predictor 1, all equal
	}
	rr, err := Presort(values, 2, 4, 1)
	if err != nil {
		t.Fatalf("presort failed: %v", err)
	}

	if !reflect.DeepEqual(rr.PredRows(1), []int{0, 1, 2, 3}) {
		t.Fatalf("tied column row order %v, want identity", rr.PredRows(1))
	}
	if !reflect.DeepEqual(rr.PredInvNum(1), []int{0, 1, 2, 3}) {
		t.Fatalf("tied column invNum %v, want 0,1,2,3", rr.PredInvNum(1))
	}
	if !reflect.DeepEqual(rr.PredRanks(1), []int{0, 0, 0, 0}) {
		t.Fatalf("tied column ranks %v, want all zero", rr.PredRanks(1))
	}
}

func TestPresortProperties(t *testing.T) {
	nPred, nRow := 7, 53
	rng := rand.New(rand.NewSource(17))
	values := make([]float64, nPred*nRow)
	for ind := range values {
		//Coarse values to force plenty of ties.
		values[ind] = math.Floor(rng.Float64() * 8)
	}

	rr, err := Presort(values, nPred, nRow, 1)
	if err != nil {
		t.Fatalf("presort failed: %v", err)
	}

	for predIdx := 0; predIdx < nPred; predIdx++ {
		row := rr.PredRows(predIdx)
		rank := rr.PredRanks(predIdx)
		invNum := rr.PredInvNum(predIdx)
		column := values[predIdx*nRow : (predIdx+1)*nRow]

		seen := make([]bool, nRow)
		for _, r := range row {
			if seen[r] {
				t.Fatalf("predictor %d: row %d appears twice", predIdx, r)
			}
			seen[r] = true
		}

		for pos := 1; pos < nRow; pos++ {
			if rank[pos] < rank[pos-1] {
				t.Fatalf("predictor %d: rank decreases at position %d", predIdx, pos)
			}
			equalValues := column[row[pos]] == column[row[pos-1]]
			equalRanks := rank[pos] == rank[pos-1]
			if equalValues != equalRanks {
				t.Fatalf("predictor %d: rank/value tie disagreement at position %d", predIdx, pos)
			}
			if equalRanks {
				if invNum[pos] != invNum[pos-1]+1 {
					t.Fatalf("predictor %d: invNum must increment inside a tie run at position %d", predIdx, pos)
				}
			} else if invNum[pos] != 0 {
				t.Fatalf("predictor %d: invNum must reset on value change at position %d", predIdx, pos)
			}
		}
	}
}

func TestPresortDeterministicAcrossWorkerCounts(t *testing.T) {
	nPred, nRow := 5, 40
	rng := rand.New(rand.NewSource(3))
	values := make([]float64, nPred*nRow)
	for ind := range values {
		values[ind] = math.Floor(rng.Float64() * 4)
	}

	serial, err := Presort(values, nPred, nRow, 1)
	if err != nil {
		t.Fatalf("serial presort failed: %v", err)
	}
	parallel, err := Presort(values, nPred, nRow, 8)
	if err != nil {
		t.Fatalf("parallel presort failed: %v", err)
	}

	if !reflect.DeepEqual(serial, parallel) {
		t.Fatalf("presort output depends on the worker count")
	}
}

func TestPresortRejectsBadShapes(t *testing.T) {
	if _, err := Presort([]float64{1, 2, 3}, 2, 2, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("want ErrDimensionMismatch, got %v", err)
	}
	if _, err := Presort(nil, 0, 4, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("want ErrDimensionMismatch for zero predictors, got %v", err)
	}
	if _, err := Presort([]float64{1, math.NaN()}, 1, 2, 1); !errors.Is(err, ErrNonFiniteValue) {
		t.Fatalf("want ErrNonFiniteValue, got %v", err)
	}
}
