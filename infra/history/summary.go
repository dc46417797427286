package history

import (
	"math"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes the numeric states of a record set.
type Summary struct {
	Count   int     `json:"count"`
	Numeric int     `json:"numeric"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"stddev"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// Summarize computes statistics over the records whose state parses as a
// number. Non numeric states, such as unavailable, only count towards Count.
func Summarize(recs []Record) Summary {
	s := Summary{Count: len(recs)}
	values := make([]float64, 0, len(recs))
	for _, r := range recs {
		v, err := strconv.ParseFloat(r.State, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		values = append(values, v)
	}
	s.Numeric = len(values)
	if len(values) == 0 {
		return s
	}
	s.Min = floats.Min(values)
	s.Max = floats.Max(values)
	if len(values) == 1 {
		s.Mean = values[0]
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(values, nil)
	return s
}
