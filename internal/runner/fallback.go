package runner

import (
	"math"

	"github.com/explant/explant/internal/growth"
	"github.com/explant/explant/internal/simclient"
)

const fallbackSamples = 20

// Fallback returns the demonstration dataset used when the simulation
// service cannot be reached.
func Fallback() *simclient.SimulationResponse {
	series := make([]growth.Sample, fallbackSamples)
	for i := range series {
		series[i] = growth.Sample{
			HeightCm:   math.Min(120, float64(i)*6),
			BiomassTon: math.Min(15, float64(i)*0.75),
		}
	}
	return &simclient.SimulationResponse{
		Soil: &simclient.SoilMetrics{
			Efficiency:   simclient.Float(1.8),
			Stress:       simclient.Float(45),
			Productivity: simclient.Float(8.5),
		},
		Growth:    series,
		HasGrowth: true,
	}
}
