package stats

import "math"

// Bin is one histogram bucket. Lower is inclusive; Upper is exclusive
// except on the last bin.
type Bin struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// MaxBins is the largest bin count Histogram produces.
const MaxBins = 1000

// Histogram buckets the finite values into equal-width bins. bins <= 0
// picks a count with Sturges' rule and larger requests are clamped to
// MaxBins. When every value is equal a single bin holds them all.
func Histogram(values []float64, bins int) []Bin {
	finite := Finite(values)
	if len(finite) == 0 {
		return nil
	}

	lo, hi := finite[0], finite[0]
	for _, v := range finite[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	if lo == hi {
		return []Bin{{Lower: lo, Upper: hi, Count: len(finite)}}
	}

	if bins <= 0 {
		bins = int(math.Ceil(math.Log2(float64(len(finite))))) + 1
	}
	if bins > MaxBins {
		bins = MaxBins
	}

	width := (hi - lo) / float64(bins)
	out := make([]Bin, bins)
	for i := range out {
		out[i].Lower = lo + float64(i)*width
		out[i].Upper = lo + float64(i+1)*width
	}
	out[bins-1].Upper = hi

	for _, v := range finite {
		idx := int((v - lo) / width)
		if idx >= bins {
			idx = bins - 1
		}
		out[idx].Count++
	}
	return out
}
