// Package scoring turns the soil totals of a simulated season into a
// 0-100 sustainability score and a badge tier.
package scoring

import (
	"math"
	"strings"
)

// Badge is a qualitative tier for a score.
type Badge string

const (
	Apprentice Badge = "Apprentice"
	BronzeTier Badge = "BronzeTier"
	SilverTier Badge = "SilverTier"
	GoldTier   Badge = "GoldTier"
)

// Title is the player-facing name of the badge.
func (b Badge) Title() string {
	switch b {
	case GoldTier:
		return "Water Guardian"
	case SilverTier:
		return "Sustainable Manager"
	case BronzeTier:
		return "Conscious Agronomist"
	default:
		return "Apprentice"
	}
}

// BadgeFor returns the highest tier score reaches.
func BadgeFor(score int) Badge {
	switch {
	case score >= 90:
		return GoldTier
	case score >= 75:
		return SilverTier
	case score >= 60:
		return BronzeTier
	default:
		return Apprentice
	}
}

// Band is an inclusive productivity range considered good for a crop.
type Band struct {
	GoodMin float64 `yaml:"good_min" json:"good_min"`
	GoodMax float64 `yaml:"good_max" json:"good_max"`
}

// DefaultBand applies to crops missing from the target table.
var DefaultBand = Band{GoodMin: 0, GoodMax: 999}

// Contains reports whether v lies inside the band, edges included.
func (b Band) Contains(v float64) bool {
	return v >= b.GoodMin && v <= b.GoodMax
}

// Distance is how far v lies outside the band, zero inside it.
func (b Band) Distance(v float64) float64 {
	switch {
	case v < b.GoodMin:
		return b.GoodMin - v
	case v > b.GoodMax:
		return v - b.GoodMax
	default:
		return 0
	}
}

// Metrics are the soil readings used for scoring. Absent readings are
// passed as zero.
type Metrics struct {
	Efficiency   float64
	Stress       float64
	Productivity float64
}

// Subscores are the per-factor percentages, rounded for display.
type Subscores struct {
	EfficiencyPct   int `json:"efficiency_pct"`
	StressPct       int `json:"stress_pct"`
	ProductivityPct int `json:"productivity_pct"`
}

// Result is the outcome of scoring one season.
type Result struct {
	Score     int       `json:"score"`
	Badge     Badge     `json:"badge"`
	Title     string    `json:"title"`
	Subscores Subscores `json:"subscores"`
}

const (
	weightEfficiency   = 0.40
	weightStress       = 0.35
	weightProductivity = 0.25
)

// Engine scores seasons against a crop target table.
type Engine struct {
	targets map[string]Band
}

// NewEngine builds an engine. Crop names are matched case-insensitively.
func NewEngine(targets map[string]Band) *Engine {
	e := &Engine{targets: make(map[string]Band, len(targets))}
	for name, band := range targets {
		e.targets[strings.ToLower(name)] = band
	}
	return e
}

// Band returns the target band for crop and whether it is known.
func (e *Engine) Band(crop string) (Band, bool) {
	b, ok := e.targets[strings.ToLower(strings.TrimSpace(crop))]
	if !ok {
		return DefaultBand, false
	}
	return b, true
}

// Score computes the weighted score for m grown as crop.
func (e *Engine) Score(m Metrics, crop string) Result {
	band, _ := e.Band(crop)

	eff := EfficiencyScore(m.Efficiency)
	stress := StressScore(m.Stress)
	prod := ProductivityScore(m.Productivity, band)

	score := int(math.Round(eff*weightEfficiency + stress*weightStress + prod*weightProductivity))
	badge := BadgeFor(score)

	return Result{
		Score: score,
		Badge: badge,
		Title: badge.Title(),
		Subscores: Subscores{
			EfficiencyPct:   int(math.Round(eff)),
			StressPct:       int(math.Round(stress)),
			ProductivityPct: int(math.Round(prod)),
		},
	}
}

// EfficiencyScore maps water-use efficiency (kg/m³) to 20-100.
func EfficiencyScore(e float64) float64 {
	switch {
	case e >= 2.0:
		return 100
	case e >= 1.5:
		return 80 + (e-1.5)/0.5*20
	default:
		return math.Max(20, e/1.5*80)
	}
}

// StressScore maps accumulated water stress (mm) to 20-100.
func StressScore(s float64) float64 {
	switch {
	case s <= 50:
		return 100
	case s <= 150:
		return 100 - (s-50)/100*60
	default:
		return 20
	}
}

// ProductivityScore is 100 inside band and loses 10 points per unit of
// distance outside it, never dropping below 30.
func ProductivityScore(p float64, band Band) float64 {
	if band.Contains(p) {
		return 100
	}
	return math.Max(30, 100-band.Distance(p)*10)
}
