package hydro

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary holds descriptive statistics of the non-missing values of a column.
// With no values every field is NaN; with one value Std is NaN.
type Summary struct {
	Count int
	Mean  float64
	Std   float64
	Max   float64
	Min   float64
}

func Describe(values []float64) Summary {
	present := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			present = append(present, v)
		}
	}
	nan := math.NaN()
	s := Summary{Count: len(present), Mean: nan, Std: nan, Max: nan, Min: nan}
	if len(present) == 0 {
		return s
	}
	s.Mean = stat.Mean(present, nil)
	if len(present) > 1 {
		// StdDev is the unbiased estimate (n-1 denominator).
		s.Std = stat.StdDev(present, nil)
	}
	s.Max = floats.Max(present)
	s.Min = floats.Min(present)
	return s
}
