package fbl

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
)

//Task selects between the classification and regression branches of the
//resolver and the prediction dispatcher. It is fixed when a model is
//constructed and never inferred mid-pipeline.
type Task int

const (
	Regression Task = iota
	Classification
)

func (task Task) String() string {
	if task == Classification {
		return "classification"
	}
	return "regression"
}

//ClassWeight describes how classification categories are weighted.
//The zero value means uniform weighting. Balanced weights categories
//inversely to their frequency. ByLabel supplies an explicit weight per
//class label and must cover every label present in the response.
type ClassWeight struct {
	Balanced bool
	ByLabel  map[float64]float64
}

//classWeightDump is the serialized form: float-keyed maps are not valid
//JSON, so explicit weights dump as label/weight pairs.
type classWeightDump struct {
	Balanced bool              `json:"balanced"`
	ByLabel  []labelWeightPair `json:"by_label,omitempty"`
}

type labelWeightPair struct {
	Label  float64 `json:"label"`
	Weight float64 `json:"weight"`
}

func (cw ClassWeight) MarshalJSON() ([]byte, error) {
	dump := classWeightDump{Balanced: cw.Balanced}
	labels := make([]float64, 0, len(cw.ByLabel))
	for label := range cw.ByLabel {
		labels = append(labels, label)
	}
	sort.Float64s(labels)
	for _, label := range labels {
		dump.ByLabel = append(dump.ByLabel, labelWeightPair{Label: label, Weight: cw.ByLabel[label]})
	}
	return json.Marshal(dump)
}

func (cw *ClassWeight) UnmarshalJSON(data []byte) error {
	var dump classWeightDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return err
	}
	cw.Balanced = dump.Balanced
	cw.ByLabel = nil
	if len(dump.ByLabel) > 0 {
		cw.ByLabel = make(map[float64]float64, len(dump.ByLabel))
		for _, pair := range dump.ByLabel {
			cw.ByLabel[pair.Label] = pair.Weight
		}
	}
	return nil
}

//ModelParams collects the raw hyperparameters of a forest model. Zero
//values are neutral sentinels that the resolver replaces with derived
//defaults; DefaultModelParams supplies the conventional starting point.
type ModelParams struct {
	NEstimators     int
	Bootstrap       bool
	ClassWeight     *ClassWeight
	MinInfoRatio    float64
	MinSamplesSplit int
	MaxDepth        int
	NToSample       int
	MaxFeatures     int
	PredProb        float64
	QuantilesArr    []float64
	QBin            int
	RegMono         []float64
	TreeBlock       int
	PvtBlock        int
	ThreadsNum      int
	Seed            int64
}

//DefaultModelParams returns the stock hyperparameters of the front end.
func DefaultModelParams() ModelParams {
	return ModelParams{
		NEstimators:     10,
		Bootstrap:       true,
		MinInfoRatio:    0.01,
		MinSamplesSplit: 2,
		QBin:            5000,
		TreeBlock:       1,
		PvtBlock:        8,
		ThreadsNum:      1,
	}
}

//ResolvedParams is the fully-resolved, validated parameter set consumed by
//the training request builder. It is built once per fit call and never
//mutated afterwards; refitting re-runs Resolve from the raw inputs.
type ResolvedParams struct {
	Task  Task
	NRow  int
	NPred int

	NEstimators     int
	Bootstrap       bool
	NToSample       int
	MinSamplesSplit int
	MinInfoRatio    float64
	MaxDepth        int

	//MaxFeatures is the fixed split-candidate count; zero means candidate
	//selection is governed by PredProb instead.
	MaxFeatures int
	PredProb    float64
	//ProbArr is the per-predictor trial probability, proportional to the
	//feature weights.
	ProbArr []float64

	SampleWeight []float64

	//Classification only.
	NClasses    int
	Classes     []float64
	ClassIndex  []int
	ClassWeight []float64

	//Regression only.
	RegMono      []float64
	QuantilesArr []float64
	QBin         int

	TreeBlock  int
	PvtBlock   int
	ThreadsNum int
	Seed       int64
}

//Resolve validates the raw hyperparameters against the dataset shape and
//derives every engine-facing quantity. It fails fast with a wrapped
//ErrInvalidParameter naming the offending field; no out-of-range value is
//silently coerced, and defaults substitute only for neutral sentinels.
func Resolve(raw ModelParams, task Task, nRow, nPred int, response, sampleWeight, featureWeight []float64) (*ResolvedParams, error) {
	if err := validateRaw(raw, task, nRow, nPred); err != nil {
		return nil, err
	}

	sampleWeight, err := resolveWeightVector(sampleWeight, nRow, "sample_weight")
	if err != nil {
		return nil, err
	}
	featureWeight, err = resolveWeightVector(featureWeight, nPred, "feature_weight")
	if err != nil {
		return nil, err
	}

	resolved := &ResolvedParams{
		Task:            task,
		NRow:            nRow,
		NPred:           nPred,
		NEstimators:     raw.NEstimators,
		Bootstrap:       raw.Bootstrap,
		MinSamplesSplit: raw.MinSamplesSplit,
		MinInfoRatio:    raw.MinInfoRatio,
		MaxDepth:        raw.MaxDepth,
		SampleWeight:    sampleWeight,
		QBin:            raw.QBin,
		TreeBlock:       raw.TreeBlock,
		PvtBlock:        raw.PvtBlock,
		ThreadsNum:      raw.ThreadsNum,
		Seed:            raw.Seed,
	}
	if resolved.Seed == 0 {
		resolved.Seed = time.Now().UnixNano()
	}
	if len(raw.QuantilesArr) > 0 {
		resolved.QuantilesArr = append([]float64(nil), raw.QuantilesArr...)
	}

	resolved.NToSample = raw.NToSample
	if raw.NToSample == 0 {
		if raw.Bootstrap {
			resolved.NToSample = nRow
		} else {
			resolved.NToSample = int(math.Round(float64(nRow) * (1.0 - math.Exp(-1.0))))
		}
	}

	//Split-candidate count and trial probability. The fixed count is
	//derived only for narrow blocks; the probability only when the count
	//stayed unset.
	resolved.MaxFeatures = raw.MaxFeatures
	resolved.PredProb = raw.PredProb
	if raw.MaxFeatures == 0 && raw.PredProb == 0.0 {
		if nPred < 16 {
			if task == Classification {
				resolved.MaxFeatures = int(math.Floor(math.Sqrt(float64(nPred))))
			} else {
				resolved.MaxFeatures = maxInt(int(math.Floor(float64(nPred)/3.0)), 1)
			}
		} else {
			if task == Classification {
				resolved.PredProb = math.Ceil(math.Sqrt(float64(nPred))) / float64(nPred)
			} else {
				resolved.PredProb = 0.4
			}
		}
	}

	//Per-predictor trial probability, proportional to feature weight. When
	//a fixed candidate count governs selection the mean weight is 1.
	meanWeight := 1.0
	if resolved.PredProb > 0.0 {
		meanWeight = resolved.PredProb
	}
	weightSum := floats.Sum(featureWeight)
	resolved.ProbArr = make([]float64, nPred)
	for ind, fw := range featureWeight {
		resolved.ProbArr[ind] = fw * float64(nPred) * meanWeight / weightSum
	}

	if task == Classification {
		if err := resolveClassification(raw, resolved, response); err != nil {
			return nil, err
		}
	} else {
		resolveRegression(raw, resolved)
	}

	return resolved, nil
}

func validateRaw(raw ModelParams, task Task, nRow, nPred int) error {
	if raw.NEstimators < 1 {
		return fmt.Errorf("n_estimators must be positive, got %d: %w", raw.NEstimators, ErrInvalidParameter)
	}
	if raw.MinSamplesSplit <= 0 || raw.MinSamplesSplit > nRow {
		return fmt.Errorf("min_samples_split %d outside (0, %d]: %w", raw.MinSamplesSplit, nRow, ErrInvalidParameter)
	}
	if len(raw.QuantilesArr) > 0 {
		if task != Regression {
			return fmt.Errorf("quantiles_arr is for regression only: %w", ErrInvalidParameter)
		}
		for ind, level := range raw.QuantilesArr {
			if level < 0.0 || level > 1.0 {
				return fmt.Errorf("quantiles_arr[%d]=%g outside [0,1]: %w", ind, level, ErrInvalidParameter)
			}
			if ind > 0 && level < raw.QuantilesArr[ind-1] {
				return fmt.Errorf("quantiles_arr must be non-decreasing: %w", ErrInvalidParameter)
			}
		}
	}
	if raw.PredProb < 0.0 || raw.PredProb > 1.0 {
		return fmt.Errorf("pred_prob %g outside [0,1]: %w", raw.PredProb, ErrInvalidParameter)
	}
	if raw.MaxFeatures > nPred {
		return fmt.Errorf("max_features %d exceeds n_features %d: %w", raw.MaxFeatures, nPred, ErrInvalidParameter)
	}
	if raw.MaxFeatures < 0 {
		return fmt.Errorf("max_features must not be negative, got %d: %w", raw.MaxFeatures, ErrInvalidParameter)
	}
	if task == Regression && raw.ClassWeight != nil {
		return fmt.Errorf("class_weight is for classification only: %w", ErrInvalidParameter)
	}
	if task == Classification {
		for _, sign := range raw.RegMono {
			if sign != 0.0 {
				return fmt.Errorf("reg_mono is for regression only: %w", ErrInvalidParameter)
			}
		}
	}
	return nil
}

//resolveWeightVector substitutes uniform ones for an absent weight vector
//and validates a supplied one: declared length, no negatives, positive sum.
func resolveWeightVector(weight []float64, wantLen int, field string) ([]float64, error) {
	if weight == nil {
		uniform := make([]float64, wantLen)
		for ind := range uniform {
			uniform[ind] = 1.0
		}
		return uniform, nil
	}
	if len(weight) != wantLen {
		return nil, fmt.Errorf("%s length %d, want %d: %w", field, len(weight), wantLen, ErrInvalidParameter)
	}
	for ind, w := range weight {
		if w < 0.0 {
			return nil, fmt.Errorf("%s[%d]=%g is negative: %w", field, ind, w, ErrInvalidParameter)
		}
	}
	if floats.Sum(weight) <= 0.0 {
		return nil, fmt.Errorf("%s sums to zero: %w", field, ErrInvalidParameter)
	}
	return append([]float64(nil), weight...), nil
}

//resolveClassification extracts the class set from the response and builds
//the per-row class weight vector.
func resolveClassification(raw ModelParams, resolved *ResolvedParams, response []float64) error {
	classes, classIndex := uniqueLabels(response)
	resolved.Classes = classes
	resolved.ClassIndex = classIndex
	//The category count is the number of distinct labels, never an
	//arithmetic function of the maximum label value.
	resolved.NClasses = len(classes)

	perClass, err := perClassWeights(raw.ClassWeight, classes, classIndex, resolved.NRow)
	if err != nil {
		return err
	}

	//Infinite weights (empty classes under balancing) are zeroed, then the
	//vector is normalized to sum 1.
	for ind, w := range perClass {
		if math.IsInf(w, 0) {
			perClass[ind] = 0.0
		}
	}
	total := floats.Sum(perClass)
	if total <= 0.0 {
		return fmt.Errorf("class_weight sums to zero: %w", ErrInvalidParameter)
	}
	floats.Scale(1.0/total, perClass)

	//Per-row weight with a small symmetric jitter, 0.5/nRow^2 in magnitude,
	//breaking sampling ties reproducibly under a fixed seed.
	rng := rand.New(rand.NewSource(resolved.Seed))
	nRow := float64(resolved.NRow)
	rowWeight := make([]float64, resolved.NRow)
	for rowIdx, classIdx := range classIndex {
		rowWeight[rowIdx] = perClass[classIdx] + (rng.Float64()-0.5)*0.5/(nRow*nRow)
	}
	resolved.ClassWeight = rowWeight
	return nil
}

func perClassWeights(cw *ClassWeight, classes []float64, classIndex []int, nRow int) ([]float64, error) {
	nClasses := len(classes)
	perClass := make([]float64, nClasses)

	switch {
	case cw == nil:
		for ind := range perClass {
			perClass[ind] = 1.0
		}
	case cw.Balanced:
		counts := make([]float64, nClasses)
		for _, classIdx := range classIndex {
			counts[classIdx]++
		}
		for ind := range perClass {
			perClass[ind] = float64(nRow) / (float64(nClasses) * counts[ind])
		}
	default:
		if len(cw.ByLabel) < nClasses {
			return nil, fmt.Errorf("class_weight misses %d of %d classes: %w", nClasses-len(cw.ByLabel), nClasses, ErrInvalidParameter)
		}
		for ind, label := range classes {
			weight, ok := cw.ByLabel[label]
			if !ok {
				return nil, fmt.Errorf("class_weight misses label %g: %w", label, ErrInvalidParameter)
			}
			if weight < 0.0 {
				return nil, fmt.Errorf("class_weight[%g]=%g is negative: %w", label, weight, ErrInvalidParameter)
			}
			perClass[ind] = weight
		}
	}
	return perClass, nil
}

//resolveRegression fills the monotonicity vector: absent means
//unconstrained, otherwise each entry collapses to its sign.
func resolveRegression(raw ModelParams, resolved *ResolvedParams) {
	resolved.RegMono = make([]float64, resolved.NPred)
	for ind, sign := range raw.RegMono {
		if ind >= resolved.NPred {
			break
		}
		switch {
		case sign > 0.0:
			resolved.RegMono[ind] = 1.0
		case sign < 0.0:
			resolved.RegMono[ind] = -1.0
		}
	}
}

//uniqueLabels returns the sorted distinct labels of a response together
//with the per-row index into that ordering. The ordering is captured once
//at fit time and reused verbatim at predict time.
func uniqueLabels(response []float64) (classes []float64, classIndex []int) {
	seen := make(map[float64]struct{}, len(response))
	for _, label := range response {
		if _, ok := seen[label]; !ok {
			seen[label] = struct{}{}
			classes = append(classes, label)
		}
	}
	sort.Float64s(classes)

	position := make(map[float64]int, len(classes))
	for ind, label := range classes {
		position[label] = ind
	}
	classIndex = make([]int, len(response))
	for ind, label := range response {
		classIndex[ind] = position[label]
	}
	return classes, classIndex
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
