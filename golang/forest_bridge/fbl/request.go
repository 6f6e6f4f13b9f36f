package fbl

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

//PredictorBlock is the immutable design matrix of one fit call, stored in
//the feature-major flattening the presort and training engines consume.
type PredictorBlock struct {
	nRow   int
	nPred  int
	values []float64
}

//NewPredictorBlock transposes a row-major matrix into a PredictorBlock.
func NewPredictorBlock(x *mat.Dense) *PredictorBlock {
	nRow, nPred := x.Dims()
	return &PredictorBlock{
		nRow:   nRow,
		nPred:  nPred,
		values: flattenFeatureMajor(x),
	}
}

func (block *PredictorBlock) NRow() int  { return block.nRow }
func (block *PredictorBlock) NPred() int { return block.nPred }

//FlatFeatureMajor exposes the flattening; values[p*NRow+row] is the value
//of row under predictor p. Callers must treat the slice as read-only.
func (block *PredictorBlock) FlatFeatureMajor() []float64 { return block.values }

//TrainingRequest is the single structure handed to a training engine: the
//flattened block, the response, the presorted row/rank tables and the
//resolved parameters. Assembled by BuildTrainingRequest, read-only after.
type TrainingRequest struct {
	//Block has shape (nPred, nRow): one predictor's values are contiguous.
	Block *tensor.Dense
	NRow  int
	NPred int

	//Response is the regression target, or the encoded class index cast to
	//float64 for classification.
	Response []float64

	RowRank *RowRankTable
	Params  *ResolvedParams
}

//BuildTrainingRequest performs structural assembly only: it packages the
//block into the engine's tensor layout and cross-checks every vector length
//against the dimensions recorded in the resolved parameters. Nothing the
//resolver decided is re-derived here.
func BuildTrainingRequest(block *PredictorBlock, rowRank *RowRankTable, params *ResolvedParams, response []float64) (*TrainingRequest, error) {
	nRow, nPred := params.NRow, params.NPred

	if block.nRow != nRow || block.nPred != nPred {
		return nil, fmt.Errorf("block is %dx%d, resolved %dx%d: %w", block.nRow, block.nPred, nRow, nPred, ErrShapeMismatch)
	}
	if rowRank.NRow != nRow || rowRank.NPred != nPred {
		return nil, fmt.Errorf("row-rank table is %dx%d, resolved %dx%d: %w", rowRank.NRow, rowRank.NPred, nRow, nPred, ErrShapeMismatch)
	}
	if len(response) != nRow {
		return nil, fmt.Errorf("response length %d, want %d: %w", len(response), nRow, ErrShapeMismatch)
	}
	if err := checkLength("sample_weight", len(params.SampleWeight), nRow); err != nil {
		return nil, err
	}
	if err := checkLength("prob_arr", len(params.ProbArr), nPred); err != nil {
		return nil, err
	}
	if params.Task == Classification {
		if err := checkLength("class_weight", len(params.ClassWeight), nRow); err != nil {
			return nil, err
		}
		if err := checkLength("class_index", len(params.ClassIndex), nRow); err != nil {
			return nil, err
		}
	} else {
		if err := checkLength("reg_mono", len(params.RegMono), nPred); err != nil {
			return nil, err
		}
	}

	blockTensor := tensor.New(
		tensor.WithShape(nPred, nRow),
		tensor.WithBacking(append([]float64(nil), block.values...)),
	)

	return &TrainingRequest{
		Block:    blockTensor,
		NRow:     nRow,
		NPred:    nPred,
		Response: append([]float64(nil), response...),
		RowRank:  rowRank,
		Params:   params,
	}, nil
}

//PredictionRequest carries new rows and the trained forest to a prediction
//engine. The block is row-major: one observation's values are contiguous.
type PredictionRequest struct {
	Block    *tensor.Dense
	NRow     int
	NPred    int
	Forest   *TrainedForest
	NClasses int
}

func checkLength(field string, got, want int) error {
	if got != want {
		return fmt.Errorf("%s length %d, want %d: %w", field, got, want, ErrShapeMismatch)
	}
	return nil
}
