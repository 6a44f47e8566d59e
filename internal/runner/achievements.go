package runner

import (
	"slices"

	"github.com/explant/explant/internal/scoring"
	"github.com/explant/explant/internal/simclient"
)

const (
	AchFirstRun = "first_run"
	AchScore75  = "score_75"
	AchScore90  = "score_90"
	AchEfic2    = "efic_2"
	AchStress50 = "stress_50"
)

// Achievement describes an unlockable milestone.
type Achievement struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// Achievements lists every milestone in display order.
var Achievements = []Achievement{
	{AchFirstRun, "First Harvest", "Run your first simulation."},
	{AchScore75, "Manager 75+", "Reach a score of 75 or more."},
	{AchScore90, "Guardian 90+", "Reach a score of 90 or more."},
	{AchEfic2, "Efficiency 2.0+", "Reach a water-use efficiency of 2.0 kg/m³."},
	{AchStress50, "Stress ≤ 50", "Keep water stress at or below 50 mm."},
}

// earned returns the ids whose conditions the outcome meets, in catalog
// order. Readings the service did not report never unlock anything.
func earned(score int, soil *simclient.SoilMetrics) []string {
	ids := []string{AchFirstRun}
	if score >= 75 {
		ids = append(ids, AchScore75)
	}
	if score >= 90 {
		ids = append(ids, AchScore90)
	}
	if soil != nil && soil.Efficiency != nil && *soil.Efficiency >= 2.0 {
		ids = append(ids, AchEfic2)
	}
	if soil != nil && soil.Stress != nil && *soil.Stress <= 50 {
		ids = append(ids, AchStress50)
	}
	return ids
}

// unlock merges earned ids into unlocked and returns the new set and the
// ids that were not there before. Existing ids are never removed.
func unlock(unlocked, earnedIDs []string) (all, newly []string) {
	all = slices.Clone(unlocked)
	for _, id := range earnedIDs {
		if !slices.Contains(all, id) {
			all = append(all, id)
			newly = append(newly, id)
		}
	}
	slices.Sort(all)
	return all, newly
}

const (
	TipLowEfficiency = "Low efficiency: try another region."
	TipHighStress    = "Very high stress: use more initial water (FC/SAT) or daily resolution."
	TipProductivity  = "Productivity outside the typical range: adjust crop or region."
)

// tips returns advice for readings the service actually reported.
func tips(soil *simclient.SoilMetrics, band scoring.Band, cropKnown bool) []string {
	out := []string{}
	if soil == nil {
		return out
	}
	if soil.Efficiency != nil && *soil.Efficiency < 1.5 {
		out = append(out, TipLowEfficiency)
	}
	if soil.Stress != nil && *soil.Stress > 200 {
		out = append(out, TipHighStress)
	}
	if cropKnown && soil.Productivity != nil && !band.Contains(*soil.Productivity) {
		out = append(out, TipProductivity)
	}
	return out
}
