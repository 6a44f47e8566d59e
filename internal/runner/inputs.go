package runner

import (
	"math"
	"strconv"
	"strings"

	"github.com/explant/explant/internal/config"
	"github.com/explant/explant/internal/simclient"
)

// Inputs are the player's choices for one simulation.
type Inputs struct {
	RegionID int    `json:"region_id"`
	Crop     string `json:"crop"`
	Daily    bool   `json:"daily"`
	// Water is a preset token (FC, WP, SAT) or a percentage from 0 to 100.
	Water string `json:"water"`
}

// QuickStartInputs returns the configured one-click inputs.
func QuickStartInputs(cfg *config.Config) Inputs {
	qs := cfg.Simulation.QuickStart
	return Inputs{RegionID: qs.Region, Crop: qs.Crop, Daily: qs.Daily, Water: qs.Water}
}

// buildRequest validates in against the catalog and returns the request to
// send, or an *InvalidInputError.
func buildRequest(cfg *config.Config, in Inputs) (simclient.SimulationRequest, error) {
	if in.RegionID == 0 {
		return simclient.SimulationRequest{}, &InvalidInputError{Field: "region", Message: "select a region"}
	}
	if _, ok := cfg.Region(in.RegionID); !ok {
		return simclient.SimulationRequest{}, &InvalidInputError{Field: "region", Message: "unknown region " + strconv.Itoa(in.RegionID)}
	}

	water, err := normalizeWater(cfg, in.Water)
	if err != nil {
		return simclient.SimulationRequest{}, err
	}

	crop := strings.TrimSpace(in.Crop)
	if crop == "" {
		crop = cfg.Simulation.DefaultCrop
	}

	start, end, err := cfg.Window()
	if err != nil {
		return simclient.SimulationRequest{}, err
	}

	return simclient.SimulationRequest{
		RegionID:  in.RegionID,
		StartDate: start,
		EndDate:   end,
		Daily:     in.Daily,
		Water:     water,
		Crop:      crop,
	}, nil
}

func normalizeWater(cfg *config.Config, raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", &InvalidInputError{Field: "water", Message: "choose a water preset or a percentage"}
	}
	if cfg.IsWaterPreset(v) {
		return strings.ToUpper(v), nil
	}
	pct, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return "", &InvalidInputError{Field: "water", Message: "unknown preset " + strconv.Quote(v)}
	}
	if math.IsNaN(pct) || pct < 0 || pct > 100 {
		return "", &InvalidInputError{Field: "water", Message: "percentage must be between 0 and 100"}
	}
	return strconv.FormatFloat(pct, 'f', -1, 64), nil
}
