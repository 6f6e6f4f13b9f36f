package fbl

import (
	"errors"
	"log"
)

//Sentinel errors of the bridge. Validation wraps these with the name of the
//offending field; callers match with errors.Is.
var (
	//ErrInvalidParameter indicates a hyperparameter value or combination that fails validation.
	ErrInvalidParameter = errors.New("fbl: invalid parameter")

	//ErrDimensionMismatch indicates a flattened block whose length disagrees with the declared dimensions.
	ErrDimensionMismatch = errors.New("fbl: dimension mismatch")

	//ErrShapeMismatch indicates a vector whose length disagrees with the resolved nRow/nPred.
	ErrShapeMismatch = errors.New("fbl: shape mismatch")

	//ErrUnfittedModel indicates a predict call before any successful fit.
	ErrUnfittedModel = errors.New("fbl: model is not fitted")

	//ErrFeatureCountMismatch indicates predict-time data whose predictor count differs from fit time.
	ErrFeatureCountMismatch = errors.New("fbl: feature count mismatch")

	//ErrNonFiniteValue indicates a NaN or infinite predictor value.
	ErrNonFiniteValue = errors.New("fbl: non-finite value")
)

//HandleError interrupts the execution flow in the case of an error.
//Reserved for fatal IO paths in the CLI and rendering code; library
//operations return errors instead.
func HandleError(err error) {
	if err != nil {
		log.Panic(err)
	}
}
