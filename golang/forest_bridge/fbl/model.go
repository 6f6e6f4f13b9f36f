package fbl

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"gonum.org/v1/gonum/mat"
)

//Model is the user-facing estimator: a task tag, the raw hyperparameters and
//the state captured by the last successful fit. The task is fixed at
//construction. Fitting re-resolves everything from the raw inputs, so a
//model can be refitted safely; the fitted tables themselves are never
//mutated.
type Model struct {
	Params ModelParams
	Task   Task

	//Fitted state. NPred and Classes are captured once per fit; Forest is
	//the opaque engine output.
	NPred   int
	Classes []float64
	Forest  *TrainedForest

	trainer   TrainingEngine
	predictor PredictionEngine
	resolved  *ResolvedParams
}

//NewRegressor creates an unfitted regression model backed by the reference
//engines.
func NewRegressor(params ModelParams) *Model {
	return &Model{
		Params:    params,
		Task:      Regression,
		trainer:   NewForestTrainer(),
		predictor: NewForestWalker(),
	}
}

//NewClassifier creates an unfitted classification model backed by the
//reference engines.
func NewClassifier(params ModelParams) *Model {
	return &Model{
		Params:    params,
		Task:      Classification,
		trainer:   NewForestTrainer(),
		predictor: NewForestWalker(),
	}
}

//SetEngines swaps in external training and prediction engines. Either
//argument may be nil to keep the current engine.
func (model *Model) SetEngines(trainer TrainingEngine, predictor PredictionEngine) {
	if trainer != nil {
		model.trainer = trainer
	}
	if predictor != nil {
		model.predictor = predictor
	}
}

//Fit trains the model on a row-major design matrix and its response.
func (model *Model) Fit(x *mat.Dense, y []float64) error {
	return model.FitWeighted(x, y, nil, nil)
}

//FitWeighted trains with optional per-row and per-predictor weights. The
//whole pipeline runs eagerly: resolution, presort, request assembly, then a
//single engine call. Any validation failure aborts before the engine is
//touched; no partial training state is kept on failure.
func (model *Model) FitWeighted(x *mat.Dense, y []float64, sampleWeight, featureWeight []float64) error {
	nRow, nPred := x.Dims()
	if len(y) != nRow {
		return fmt.Errorf("response length %d, X has %d rows: %w", len(y), nRow, ErrShapeMismatch)
	}

	resolved, err := Resolve(model.Params, model.Task, nRow, nPred, y, sampleWeight, featureWeight)
	if err != nil {
		return err
	}

	block := NewPredictorBlock(x)
	rowRank, err := Presort(block.FlatFeatureMajor(), nPred, nRow, resolved.ThreadsNum)
	if err != nil {
		return err
	}

	response := y
	if model.Task == Classification {
		//The engine sees encoded class indices, never raw labels.
		response = make([]float64, nRow)
		for ind, classIdx := range resolved.ClassIndex {
			response[ind] = float64(classIdx)
		}
	}

	request, err := BuildTrainingRequest(block, rowRank, resolved, response)
	if err != nil {
		return err
	}

	forest, err := model.trainer.Train(request)
	if err != nil {
		return err
	}

	model.NPred = nPred
	model.Classes = resolved.Classes
	model.Forest = forest
	model.resolved = resolved

	log.Printf("fitted %s forest: %d trees over %d rows x %d predictors", model.Task, forest.NumTrees(), nRow, nPred)
	return nil
}

//Predict returns per-row predictions for new data: values for regression,
//mapped class labels plus votes and probabilities for classification.
func (model *Model) Predict(x *mat.Dense) (*Prediction, error) {
	return DispatchPredict(model.predictor, x, model.Forest, model.Task, model.Classes)
}

//PredictProba returns the per-row posterior probability estimates of a
//classifier, one column per class in the fit-time label ordering.
func (model *Model) PredictProba(x *mat.Dense) (*mat.Dense, error) {
	if model.Task != Classification {
		return nil, fmt.Errorf("predict_proba is for classification only: %w", ErrInvalidParameter)
	}
	prediction, err := model.Predict(x)
	if err != nil {
		return nil, err
	}
	return prediction.Proba, nil
}

//PredictVotes returns the per-row vote counts of a classifier.
func (model *Model) PredictVotes(x *mat.Dense) (*mat.Dense, error) {
	if model.Task != Classification {
		return nil, fmt.Errorf("predict_votes is for classification only: %w", ErrInvalidParameter)
	}
	prediction, err := model.Predict(x)
	if err != nil {
		return nil, err
	}
	return prediction.Votes, nil
}

//Save dumps the fitted model to a JSON file.
func (model *Model) Save(filename string) error {
	dest, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() { HandleError(dest.Close()) }()

	modelByteRepr, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return err
	}
	_, err = dest.Write(modelByteRepr)
	return err
}

//LoadModel reads a model dumped by Save and rewires the reference engines.
func LoadModel(filename string) (*Model, error) {
	source, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func() { HandleError(source.Close()) }()

	model := &Model{}
	if err := json.NewDecoder(source).Decode(model); err != nil {
		return nil, err
	}
	model.trainer = NewForestTrainer()
	model.predictor = NewForestWalker()
	return model, nil
}
