package fbl

import (
	"log"
	"os"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

//ReadNpy reads the content of an npy file into a dense matrix.
func ReadNpy(fileName string) (denseMat *mat.Dense) {
	f, err := os.Open(fileName)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { HandleError(f.Close()) }()

	r, err := npyio.NewReader(f)
	if err != nil {
		log.Fatal(err)
	}

	denseMat = &mat.Dense{}
	HandleError(r.Read(denseMat))
	return
}

//ReadNpyVector reads an npy file holding a single column or row and returns
//it as a flat slice, the shape responses and weight vectors arrive in.
func ReadNpyVector(fileName string) []float64 {
	m := ReadNpy(fileName)
	h, w := m.Dims()
	if w == 1 {
		out := make([]float64, h)
		for ind := 0; ind < h; ind++ {
			out[ind] = m.At(ind, 0)
		}
		return out
	}
	if h != 1 {
		log.Fatalf("expected a vector in %s, got %dx%d", fileName, h, w)
	}
	out := make([]float64, w)
	for ind := 0; ind < w; ind++ {
		out[ind] = m.At(0, ind)
	}
	return out
}
