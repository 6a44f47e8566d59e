package api

import (
	"github.com/explant/explant/internal/config"
	"github.com/explant/explant/internal/runner"
	"github.com/explant/explant/internal/store"
)

// APIError represents a structured error response with context
type APIError struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// Error implements the error interface
func (e APIError) Error() string {
	return e.Message
}

// Error types
const (
	ErrTypeValidation    = "validation_error"
	ErrTypeInvalidParams = "invalid_params"
	ErrTypeNotFound      = "not_found"
	ErrTypeConflict      = "conflict"
	ErrTypeRunInProgress = "run_in_progress"
	ErrTypeResponseShape = "response_shape"
	ErrTypeTimeout       = "timeout"
	ErrTypeInternal      = "internal_error"
)

// VersionInfo contains build version information
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}

// CatalogResponse lists everything the input form offers.
type CatalogResponse struct {
	Regions      []config.Region      `json:"regions"`
	Crops        []config.Crop        `json:"crops"`
	WaterPresets []string             `json:"water_presets"`
	QuickStart   runner.Inputs        `json:"quick_start"`
	Defaults     runner.Inputs        `json:"defaults"`
	StartDate    string               `json:"start_date"`
	EndDate      string               `json:"end_date"`
	Achievements []runner.Achievement `json:"achievements"`
}

// ProgressResponse is the player's progress with the achievement catalog.
type ProgressResponse struct {
	runner.Progress
	Achievements []runner.Achievement `json:"achievements"`
}

// RunsResponse is a page of run history.
type RunsResponse struct {
	Runs  []store.Run `json:"runs"`
	Count int         `json:"count"`
}

// FarmActionRequest selects the tile for plant and harvest.
type FarmActionRequest struct {
	Tile int `json:"tile"`
}
