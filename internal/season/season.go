// Package season maps a scored simulation onto the tuning of the farm
// mini-game.
package season

import (
	"math"

	"github.com/shopspring/decimal"
)

// Parameters tune one farming season.
type Parameters struct {
	GrowthRatePerDay int     `json:"growth_rate_per_day"`
	WaterDrainPerDay int     `json:"water_drain_per_day"`
	YieldMultiplier  float64 `json:"yield_multiplier"`
}

// Default is the tuning used before any simulation has completed.
var Default = Parameters{GrowthRatePerDay: 6, WaterDrainPerDay: 4, YieldMultiplier: 1.0}

// Derive computes season parameters from a composite score, the season's
// water stress in mm and the number of growth samples. Pass math.Inf(1) for
// an unreported stress value.
func Derive(score int, stress float64, seriesLength int) Parameters {
	growth := float64(baseGrowth(score)) * lengthFactor(seriesLength)
	return Parameters{
		GrowthRatePerDay: int(math.Round(growth)),
		WaterDrainPerDay: waterDrain(stress),
		YieldMultiplier:  decimal.NewFromFloat(yieldMultiplier(score)).Round(2).InexactFloat64(),
	}
}

func baseGrowth(score int) int {
	switch {
	case score >= 90:
		return 12
	case score >= 75:
		return 9
	case score >= 60:
		return 7
	default:
		return 5
	}
}

func lengthFactor(n int) float64 {
	switch {
	case n >= 120:
		return 1.1
	case n >= 60:
		return 1.0
	default:
		return 0.9
	}
}

func waterDrain(stress float64) int {
	switch {
	case stress <= 50:
		return 3
	case stress <= 150:
		return 5
	default:
		return 7
	}
}

func yieldMultiplier(score int) float64 {
	switch {
	case score >= 90:
		return 1.8
	case score >= 75:
		return 1.4
	case score >= 60:
		return 1.1
	default:
		return 0.8
	}
}
