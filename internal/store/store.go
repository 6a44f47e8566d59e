// Package store persists player progress and the history of simulation
// runs.
package store

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
)

// ProgressStore keeps the best score and the unlocked achievement ids.
type ProgressStore interface {
	GetBestScore(ctx context.Context) (int, error)
	SetBestScore(ctx context.Context, score int) error
	GetUnlockedAchievements(ctx context.Context) ([]string, error)
	SetUnlockedAchievements(ctx context.Context, ids []string) error
	ResetProgress(ctx context.Context) error
}

// RunStore records completed simulation runs.
type RunStore interface {
	SaveRun(ctx context.Context, run Run) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

// Store is the full persistence surface used by the servers.
type Store interface {
	ProgressStore
	RunStore
	Close() error
}

// Run is one completed simulation as kept in history.
type Run struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	RegionID  int       `json:"region_id"`
	Crop      string    `json:"crop"`
	Water     string    `json:"water"`
	Daily     bool      `json:"daily"`
	Score     int       `json:"score"`
	Badge     string    `json:"badge"`
	Degraded  bool      `json:"degraded"`

	// Soil readings; nil when the service did not report them.
	Efficiency   *float64 `json:"efficiency,omitempty"`
	Stress       *float64 `json:"stress,omitempty"`
	Productivity *float64 `json:"productivity,omitempty"`

	Samples         int     `json:"samples"`
	GrowthRate      int     `json:"growth_rate"`
	WaterDrain      int     `json:"water_drain"`
	YieldMultiplier float64 `json:"yield_multiplier"`
}

type csvRun struct {
	ID              string  `csv:"id"`
	CreatedAt       string  `csv:"created_at"`
	RegionID        int     `csv:"region_id"`
	Crop            string  `csv:"crop"`
	Water           string  `csv:"water"`
	Daily           bool    `csv:"daily"`
	Score           int     `csv:"score"`
	Badge           string  `csv:"badge"`
	Degraded        bool    `csv:"degraded"`
	Efficiency      string  `csv:"efficiency"`
	Stress          string  `csv:"stress"`
	Productivity    string  `csv:"productivity"`
	Samples         int     `csv:"samples"`
	GrowthRate      int     `csv:"growth_rate"`
	WaterDrain      int     `csv:"water_drain"`
	YieldMultiplier float64 `csv:"yield_multiplier"`
}

// WriteCSV writes runs to w as CSV, header included.
func WriteCSV(w io.Writer, runs []Run) error {
	records := make([]csvRun, 0, len(runs))
	for _, r := range runs {
		records = append(records, csvRun{
			ID:              r.ID.String(),
			CreatedAt:       r.CreatedAt.UTC().Format(time.RFC3339),
			RegionID:        r.RegionID,
			Crop:            r.Crop,
			Water:           r.Water,
			Daily:           r.Daily,
			Score:           r.Score,
			Badge:           r.Badge,
			Degraded:        r.Degraded,
			Efficiency:      optional(r.Efficiency),
			Stress:          optional(r.Stress),
			Productivity:    optional(r.Productivity),
			Samples:         r.Samples,
			GrowthRate:      r.GrowthRate,
			WaterDrain:      r.WaterDrain,
			YieldMultiplier: r.YieldMultiplier,
		})
	}
	if err := gocsv.Marshal(records, w); err != nil {
		return fmt.Errorf("store: write csv: %w", err)
	}
	return nil
}

// ExportCSV writes up to limit runs from s, newest first.
func ExportCSV(ctx context.Context, s RunStore, w io.Writer, limit int) error {
	runs, err := s.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	return WriteCSV(w, runs)
}

func optional(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}
