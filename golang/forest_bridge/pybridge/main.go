// SPDX-License-Identifier: Apache-2.0

package main

/*
#cgo CFLAGS: -I.
#include <stdlib.h>
*/
import "C"

import (
	"errors"
	"io"
	"log"
	"sync"
	"unsafe"

	"github.com/tarstars/bridged_forest/golang/forest_bridge/fbl"
	"gonum.org/v1/gonum/mat"
)

var (
	handleMu   sync.Mutex
	nextHandle uint64 = 1
	models            = make(map[uint64]*fbl.Model)

	lastErrorMu sync.Mutex
	lastError   string

	logSilenceOnce sync.Once
)

func setLastError(err error) {
	lastErrorMu.Lock()
	defer lastErrorMu.Unlock()
	if err != nil {
		lastError = err.Error()
	} else {
		lastError = ""
	}
}

func getLastError() string {
	lastErrorMu.Lock()
	defer lastErrorMu.Unlock()
	return lastError
}

func storeModel(model *fbl.Model) uint64 {
	handleMu.Lock()
	defer handleMu.Unlock()
	handle := nextHandle
	models[handle] = model
	nextHandle++
	return handle
}

func fetchModel(handle uint64) (*fbl.Model, error) {
	handleMu.Lock()
	defer handleMu.Unlock()
	model, ok := models[handle]
	if !ok {
		return nil, errors.New("invalid model handle")
	}
	return model, nil
}

//export FreeModel
func FreeModel(handle C.ulonglong) {
	handleMu.Lock()
	defer handleMu.Unlock()
	delete(models, uint64(handle))
}

func copyFloatSlice(ptr *C.double, length int) ([]float64, error) {
	if length < 0 {
		return nil, errors.New("negative length")
	}
	if length == 0 {
		return nil, nil
	}
	if ptr == nil {
		return nil, errors.New("null pointer for non-empty slice")
	}
	src := unsafe.Slice((*float64)(unsafe.Pointer(ptr)), length)
	dst := make([]float64, length)
	copy(dst, src)
	return dst, nil
}

func sliceFromPtr(ptr *C.double, length int) ([]float64, error) {
	if length < 0 {
		return nil, errors.New("negative length")
	}
	if length == 0 {
		return nil, nil
	}
	if ptr == nil {
		return nil, errors.New("null pointer for non-empty slice")
	}
	return unsafe.Slice((*float64)(unsafe.Pointer(ptr)), length), nil
}

func buildDense(ptr *C.double, rows, cols C.int) (*mat.Dense, error) {
	r := int(rows)
	c := int(cols)
	if r < 0 || c < 0 {
		return nil, errors.New("invalid matrix dimensions")
	}
	if r == 0 || c == 0 {
		return mat.NewDense(r, c, nil), nil
	}
	data, err := copyFloatSlice(ptr, r*c)
	if err != nil {
		return nil, err
	}
	return mat.NewDense(r, c, data), nil
}

//bridgeParams gathers the scalar hyperparameters shared by both training
//entry points.
func bridgeParams(
	nEstimators C.int,
	bootstrap C.int,
	minInfoRatio C.double,
	minSamplesSplit C.int,
	maxDepth C.int,
	nToSample C.int,
	maxFeatures C.int,
	predProb C.double,
	treeBlock C.int,
	threadsNum C.int,
	seed C.longlong,
) fbl.ModelParams {
	params := fbl.DefaultModelParams()
	if nEstimators > 0 {
		params.NEstimators = int(nEstimators)
	}
	params.Bootstrap = bootstrap != 0
	if minInfoRatio > 0 {
		params.MinInfoRatio = float64(minInfoRatio)
	}
	if minSamplesSplit > 0 {
		params.MinSamplesSplit = int(minSamplesSplit)
	}
	params.MaxDepth = int(maxDepth)
	params.NToSample = int(nToSample)
	params.MaxFeatures = int(maxFeatures)
	params.PredProb = float64(predProb)
	if treeBlock > 0 {
		params.TreeBlock = int(treeBlock)
	}
	if threadsNum > 0 {
		params.ThreadsNum = int(threadsNum)
	}
	params.Seed = int64(seed)
	return params
}

func fitModel(
	model *fbl.Model,
	featuresPtr *C.double,
	rows, cols C.int,
	targetPtr, sampleWeightPtr, featureWeightPtr *C.double,
) C.ulonglong {
	logSilenceOnce.Do(func() {
		log.SetOutput(io.Discard)
	})

	if rows <= 0 {
		setLastError(errors.New("rows must be positive"))
		return 0
	}

	features, err := buildDense(featuresPtr, rows, cols)
	if err != nil {
		setLastError(err)
		return 0
	}
	target, err := copyFloatSlice(targetPtr, int(rows))
	if err != nil {
		setLastError(err)
		return 0
	}

	var sampleWeight, featureWeight []float64
	if sampleWeightPtr != nil {
		if sampleWeight, err = copyFloatSlice(sampleWeightPtr, int(rows)); err != nil {
			setLastError(err)
			return 0
		}
	}
	if featureWeightPtr != nil {
		if featureWeight, err = copyFloatSlice(featureWeightPtr, int(cols)); err != nil {
			setLastError(err)
			return 0
		}
	}

	if err := model.FitWeighted(features, target, sampleWeight, featureWeight); err != nil {
		setLastError(err)
		return 0
	}
	return C.ulonglong(storeModel(model))
}

//export TrainRegressor
func TrainRegressor(
	featuresPtr *C.double,
	rows C.int,
	cols C.int,
	targetPtr *C.double,
	sampleWeightPtr *C.double,
	featureWeightPtr *C.double,
	nEstimators C.int,
	bootstrap C.int,
	minInfoRatio C.double,
	minSamplesSplit C.int,
	maxDepth C.int,
	nToSample C.int,
	maxFeatures C.int,
	predProb C.double,
	regMonoPtr *C.double,
	treeBlock C.int,
	threadsNum C.int,
	seed C.longlong,
) C.ulonglong {
	setLastError(nil)

	params := bridgeParams(nEstimators, bootstrap, minInfoRatio, minSamplesSplit, maxDepth,
		nToSample, maxFeatures, predProb, treeBlock, threadsNum, seed)
	if regMonoPtr != nil {
		regMono, err := copyFloatSlice(regMonoPtr, int(cols))
		if err != nil {
			setLastError(err)
			return 0
		}
		params.RegMono = regMono
	}

	return fitModel(fbl.NewRegressor(params), featuresPtr, rows, cols, targetPtr, sampleWeightPtr, featureWeightPtr)
}

//export TrainClassifier
func TrainClassifier(
	featuresPtr *C.double,
	rows C.int,
	cols C.int,
	targetPtr *C.double,
	sampleWeightPtr *C.double,
	featureWeightPtr *C.double,
	nEstimators C.int,
	bootstrap C.int,
	balancedClasses C.int,
	minInfoRatio C.double,
	minSamplesSplit C.int,
	maxDepth C.int,
	nToSample C.int,
	maxFeatures C.int,
	predProb C.double,
	treeBlock C.int,
	threadsNum C.int,
	seed C.longlong,
) C.ulonglong {
	setLastError(nil)

	params := bridgeParams(nEstimators, bootstrap, minInfoRatio, minSamplesSplit, maxDepth,
		nToSample, maxFeatures, predProb, treeBlock, threadsNum, seed)
	if balancedClasses != 0 {
		params.ClassWeight = &fbl.ClassWeight{Balanced: true}
	}

	return fitModel(fbl.NewClassifier(params), featuresPtr, rows, cols, targetPtr, sampleWeightPtr, featureWeightPtr)
}

//export NumClasses
func NumClasses(handle C.ulonglong) C.int {
	setLastError(nil)
	model, err := fetchModel(uint64(handle))
	if err != nil {
		setLastError(err)
		return -1
	}
	return C.int(len(model.Classes))
}

//export Predict
func Predict(
	handle C.ulonglong,
	featuresPtr *C.double,
	rows C.int,
	cols C.int,
	outputPtr *C.double,
) C.int {
	setLastError(nil)
	model, err := fetchModel(uint64(handle))
	if err != nil {
		setLastError(err)
		return 1
	}

	features, err := buildDense(featuresPtr, rows, cols)
	if err != nil {
		setLastError(err)
		return 2
	}

	prediction, err := model.Predict(features)
	if err != nil {
		setLastError(err)
		return 3
	}

	outSlice, err := sliceFromPtr(outputPtr, int(rows))
	if err != nil {
		setLastError(err)
		return 4
	}
	if model.Task == fbl.Classification {
		copy(outSlice, prediction.Labels)
	} else {
		copy(outSlice, prediction.Values)
	}
	return 0
}

//export PredictProba
func PredictProba(
	handle C.ulonglong,
	featuresPtr *C.double,
	rows C.int,
	cols C.int,
	outputPtr *C.double,
) C.int {
	setLastError(nil)
	model, err := fetchModel(uint64(handle))
	if err != nil {
		setLastError(err)
		return 1
	}

	features, err := buildDense(featuresPtr, rows, cols)
	if err != nil {
		setLastError(err)
		return 2
	}

	proba, err := model.PredictProba(features)
	if err != nil {
		setLastError(err)
		return 3
	}

	outSlice, err := sliceFromPtr(outputPtr, int(rows)*len(model.Classes))
	if err != nil {
		setLastError(err)
		return 4
	}
	copy(outSlice, proba.RawMatrix().Data)
	return 0
}

//export SaveModel
func SaveModel(handle C.ulonglong, path *C.char) C.int {
	setLastError(nil)
	model, err := fetchModel(uint64(handle))
	if err != nil {
		setLastError(err)
		return 1
	}
	if err := model.Save(C.GoString(path)); err != nil {
		setLastError(err)
		return 2
	}
	return 0
}

//export LoadModel
func LoadModel(path *C.char) C.ulonglong {
	setLastError(nil)
	model, err := fbl.LoadModel(C.GoString(path))
	if err != nil {
		setLastError(err)
		return 0
	}
	return C.ulonglong(storeModel(model))
}

//export GetLastError
func GetLastError() *C.char {
	errStr := getLastError()
	if errStr == "" {
		return nil
	}
	return C.CString(errStr)
}

//export FreeCString
func FreeCString(str *C.char) {
	if str != nil {
		C.free(unsafe.Pointer(str))
	}
}

func main() {}
