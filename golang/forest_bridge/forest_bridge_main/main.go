package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/sbinet/npyio"
	"github.com/tarstars/bridged_forest/golang/forest_bridge/fbl"
	"gonum.org/v1/gonum/mat"
)

func decodeConfig(srcConfig string, out interface{}) {
	file, err := os.Open(srcConfig)
	fbl.HandleError(err)
	defer func() { fbl.HandleError(file.Close()) }()

	decoder := json.NewDecoder(file)
	fbl.HandleError(decoder.Decode(out))
}

type TrainConfig struct {
	FileNameFeatures      string    `json:"filename_features"`
	FileNameTarget        string    `json:"filename_target"`
	FileNameSampleWeight  string    `json:"filename_sample_weight"`
	FileNameFeatureWeight string    `json:"filename_feature_weight"`
	FileNameModel         string    `json:"filename_model"`
	Task                  string    `json:"task"`
	NEstimators           int       `json:"n_estimators"`
	Bootstrap             *bool     `json:"bootstrap"`
	BalancedClasses       bool      `json:"balanced_classes"`
	MinInfoRatio          float64   `json:"min_info_ratio"`
	MinSamplesSplit       int       `json:"min_samples_split"`
	MaxDepth              int       `json:"max_depth"`
	NToSample             int       `json:"n_to_sample"`
	MaxFeatures           int       `json:"max_features"`
	PredProb              float64   `json:"pred_prob"`
	RegMono               []float64 `json:"reg_mono"`
	TreeBlock             int       `json:"tree_block"`
	ThreadsNum            int       `json:"threads_num"`
	Seed                  int64     `json:"seed"`
}

func (trainConfig TrainConfig) modelParams() fbl.ModelParams {
	params := fbl.DefaultModelParams()
	if trainConfig.NEstimators != 0 {
		params.NEstimators = trainConfig.NEstimators
	}
	if trainConfig.Bootstrap != nil {
		params.Bootstrap = *trainConfig.Bootstrap
	}
	if trainConfig.BalancedClasses {
		params.ClassWeight = &fbl.ClassWeight{Balanced: true}
	}
	if trainConfig.MinInfoRatio != 0 {
		params.MinInfoRatio = trainConfig.MinInfoRatio
	}
	if trainConfig.MinSamplesSplit != 0 {
		params.MinSamplesSplit = trainConfig.MinSamplesSplit
	}
	params.MaxDepth = trainConfig.MaxDepth
	params.NToSample = trainConfig.NToSample
	params.MaxFeatures = trainConfig.MaxFeatures
	params.PredProb = trainConfig.PredProb
	params.RegMono = trainConfig.RegMono
	if trainConfig.TreeBlock != 0 {
		params.TreeBlock = trainConfig.TreeBlock
	}
	if trainConfig.ThreadsNum != 0 {
		params.ThreadsNum = trainConfig.ThreadsNum
	}
	params.Seed = trainConfig.Seed
	return params
}

func train(srcConfig string) {
	var trainConfig TrainConfig
	decodeConfig(srcConfig, &trainConfig)

	log.Println("load features from ", trainConfig.FileNameFeatures)
	features := fbl.ReadNpy(trainConfig.FileNameFeatures)
	log.Println("load target from ", trainConfig.FileNameTarget)
	target := fbl.ReadNpyVector(trainConfig.FileNameTarget)

	var sampleWeight, featureWeight []float64
	if trainConfig.FileNameSampleWeight != "" {
		sampleWeight = fbl.ReadNpyVector(trainConfig.FileNameSampleWeight)
	}
	if trainConfig.FileNameFeatureWeight != "" {
		featureWeight = fbl.ReadNpyVector(trainConfig.FileNameFeatureWeight)
	}

	var clf *fbl.Model
	if trainConfig.Task == "classification" {
		clf = fbl.NewClassifier(trainConfig.modelParams())
	} else {
		clf = fbl.NewRegressor(trainConfig.modelParams())
	}

	fbl.HandleError(clf.FitWeighted(features, target, sampleWeight, featureWeight))
	fbl.HandleError(clf.Save(trainConfig.FileNameModel))
}

type PredictConfig struct {
	FileNameFeatures   string `json:"filename_features"`
	ModelFileName      string `json:"filename_model"`
	PredictionFileName string `json:"filename_target"`
}

func predict(srcConfig string) {
	var predictConfig PredictConfig
	decodeConfig(srcConfig, &predictConfig)

	features := fbl.ReadNpy(predictConfig.FileNameFeatures)

	clf, err := fbl.LoadModel(predictConfig.ModelFileName)
	fbl.HandleError(err)

	prediction, err := clf.Predict(features)
	fbl.HandleError(err)

	values := prediction.Values
	if clf.Task == fbl.Classification {
		values = prediction.Labels
	}
	out := mat.NewDense(len(values), 1, values)

	dst, err := os.Create(predictConfig.PredictionFileName)
	fbl.HandleError(err)
	fbl.HandleError(npyio.Write(dst, out))
	fbl.HandleError(dst.Close())
}

type GraphConfig struct {
	ModelFileName     string `json:"filename_model"`
	FigureType        string `json:"figure_type"`
	PicturesDirectory string `json:"pictures_directory"`
	DumpPrefix        string `json:"dump_prefix"`
}

func graph(srcConfig string) {
	var graphConfig GraphConfig
	decodeConfig(srcConfig, &graphConfig)

	clf, err := fbl.LoadModel(graphConfig.ModelFileName)
	fbl.HandleError(err)
	clf.Forest.RenderTrees(graphConfig.DumpPrefix, graphConfig.FigureType, graphConfig.PicturesDirectory)
}

func main() {
	runMode := flag.String("mode", "train", "you can select either 'train', 'predict' or 'graph' modes")
	config := flag.String("config", "forest_config.json", "a config file for the run of the program")
	memprofile := flag.String("memprofile", "", "write memory profile to `file`")

	flag.Parse()

	map[string]func(string){
		"train":   train,
		"predict": predict,
		"graph":   graph,
	}[*runMode](*config)

	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		fbl.HandleError(err)
		defer func() { fbl.HandleError(f.Close()) }()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal("could not write memory profile: ", err)
		}
	}
}
