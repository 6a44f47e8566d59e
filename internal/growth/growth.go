// Package growth holds the crop growth time series returned by the
// simulation service and the helpers that clean and summarize it.
package growth

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Sample is one simulated time step. Missing JSON fields decode as zero.
type Sample struct {
	HeightCm   float64 `json:"alt_cm"`
	BiomassTon float64 `json:"bio_ton"`
}

// IsZero reports whether both measurements are exactly zero.
func (s Sample) IsZero() bool {
	return s.HeightCm == 0 && s.BiomassTon == 0
}

// Normalize strips trailing all-zero samples. At least one sample is kept
// when the input is non-empty. A nil input yields an empty, non-nil slice.
// The input is never modified.
func Normalize(series []Sample) []Sample {
	if len(series) == 0 {
		return []Sample{}
	}
	end := len(series)
	for end > 1 && series[end-1].IsZero() {
		end--
	}
	out := make([]Sample, end)
	copy(out, series[:end])
	return out
}

// Summary describes a normalized series.
type Summary struct {
	Samples         int     `json:"samples"`
	PeakHeightCm    float64 `json:"peak_height_cm"`
	FinalBiomassTon float64 `json:"final_biomass_ton"`
	MeanBiomassGain float64 `json:"mean_biomass_gain"`
}

// Summarize computes headline numbers for series.
func Summarize(series []Sample) Summary {
	if len(series) == 0 {
		return Summary{}
	}
	heights := make([]float64, len(series))
	for i, s := range series {
		heights[i] = s.HeightCm
	}

	sum := Summary{
		Samples:         len(series),
		PeakHeightCm:    floats.Max(heights),
		FinalBiomassTon: series[len(series)-1].BiomassTon,
	}
	if len(series) > 1 {
		gains := make([]float64, len(series)-1)
		for i := 1; i < len(series); i++ {
			gains[i-1] = series[i].BiomassTon - series[i-1].BiomassTon
		}
		sum.MeanBiomassGain = stat.Mean(gains, nil)
	}
	return sum
}
