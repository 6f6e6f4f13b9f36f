package fbl

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

//Prediction is the user-facing result of a predict call. Regression fills
//Values. Classification fills Labels (class labels in the ordering captured
//at fit time), Indices, per-tree Votes and posterior Proba estimates.
type Prediction struct {
	Values  []float64
	Labels  []float64
	Indices []int
	Votes   *mat.Dense
	Proba   *mat.Dense
}

//DispatchPredict builds the prediction-engine request for new rows and maps
//the engine output back to user-facing values. The forest must come from a
//successful fit; the new block must match the fitted predictor count.
func DispatchPredict(engine PredictionEngine, x *mat.Dense, forest *TrainedForest, task Task, classes []float64) (*Prediction, error) {
	if forest == nil {
		return nil, fmt.Errorf("predict before fit: %w", ErrUnfittedModel)
	}
	nRow, nPred := x.Dims()
	if nPred != forest.NPred {
		return nil, fmt.Errorf("new data has %d predictors, fitted %d: %w", nPred, forest.NPred, ErrFeatureCountMismatch)
	}

	request := &PredictionRequest{
		Block: tensor.New(
			tensor.WithShape(nRow, nPred),
			tensor.WithBacking(flattenRowMajor(x)),
		),
		NRow:     nRow,
		NPred:    nPred,
		Forest:   forest,
		NClasses: forest.NClasses,
	}

	raw, err := engine.Predict(request)
	if err != nil {
		return nil, err
	}

	if task != Classification {
		return &Prediction{Values: raw.Values}, nil
	}

	//The class-label ordering was fixed at fit time; the engine only ever
	//sees indices into it.
	labels := make([]float64, len(raw.Indices))
	for ind, classIdx := range raw.Indices {
		labels[ind] = classes[classIdx]
	}
	return &Prediction{
		Labels:  labels,
		Indices: raw.Indices,
		Votes:   raw.Votes,
		Proba:   raw.Proba,
	}, nil
}
