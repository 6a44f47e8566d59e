// Package farm implements the tile-based farming mini-game whose pace is
// tuned by the latest simulation.
package farm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/explant/explant/internal/season"
)

const (
	Cols = 5
	Size = Cols * Cols

	StartWater   = 50
	MaxWater     = 100
	WaterPerUse  = 15
	GrowthTarget = 100.0
	BaseHarvest  = 5
)

var (
	ErrTileOutOfRange = errors.New("farm: tile out of range")
	ErrTileNotEmpty   = errors.New("farm: tile is not empty")
	ErrTileNotReady   = errors.New("farm: tile is not ready")
	ErrUnknownAction  = errors.New("farm: unknown action")
)

type TileState string

const (
	Empty   TileState = "empty"
	Planted TileState = "planted"
	Growing TileState = "growing"
	Ready   TileState = "ready"
)

// Tile is one plot of the grid.
type Tile struct {
	State  TileState `json:"state"`
	Growth float64   `json:"growth"`
}

// Progress returns the growth percentage capped at 100.
func (t Tile) Progress() int {
	p := int(decimal.NewFromFloat(t.Growth * 100 / GrowthTarget).Round(0).IntPart())
	if p > 100 {
		return 100
	}
	return p
}

// Snapshot is a copy of the farm state.
type Snapshot struct {
	Day        int               `json:"day"`
	WaterLevel int               `json:"water_level"`
	Coins      int64             `json:"coins"`
	Tiles      []Tile            `json:"tiles"`
	Season     season.Parameters `json:"season"`
}

// Farm is safe for concurrent use.
type Farm struct {
	mu     sync.Mutex
	day    int
	water  int
	coins  decimal.Decimal
	tiles  [Size]Tile
	season season.Parameters
}

// New returns a fresh farm on day 1 with default season tuning.
func New() *Farm {
	f := &Farm{
		day:    1,
		water:  StartWater,
		coins:  decimal.Zero,
		season: season.Default,
	}
	for i := range f.tiles {
		f.tiles[i] = Tile{State: Empty}
	}
	return f
}

// ApplySeason replaces the season tuning.
func (f *Farm) ApplySeason(p season.Parameters) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.season = p
}

// Season returns the current tuning.
func (f *Farm) Season() season.Parameters {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.season
}

// Plant seeds an empty tile.
func (f *Farm) Plant(idx int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := checkIndex(idx); err != nil {
		return err
	}
	if f.tiles[idx].State != Empty {
		return ErrTileNotEmpty
	}
	f.tiles[idx] = Tile{State: Planted}
	return nil
}

// Water tops up the shared water level and returns the new level.
func (f *Farm) Water() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.water = min(MaxWater, f.water+WaterPerUse)
	return f.water
}

// Harvest clears a ready tile and returns the coins earned.
func (f *Farm) Harvest(idx int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := checkIndex(idx); err != nil {
		return 0, err
	}
	if f.tiles[idx].State != Ready {
		return 0, ErrTileNotReady
	}
	earned := HarvestValue(f.season.YieldMultiplier)
	f.coins = f.coins.Add(decimal.NewFromInt(earned))
	f.tiles[idx] = Tile{State: Empty}
	return earned, nil
}

// HarvestValue is the coin reward for one tile at the given multiplier,
// never less than one.
func HarvestValue(yieldMultiplier float64) int64 {
	v := decimal.NewFromInt(BaseHarvest).Mul(decimal.NewFromFloat(yieldMultiplier)).Round(0).IntPart()
	return max(1, v)
}

// Apply runs a named tile action: plant, water or harvest.
func (f *Farm) Apply(action string, idx int) (Snapshot, error) {
	var err error
	switch action {
	case "plant":
		err = f.Plant(idx)
	case "water":
		f.Water()
	case "harvest":
		_, err = f.Harvest(idx)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return f.Snapshot(), err
}

// NextDay drains water, grows planted tiles and advances the day counter.
func (f *Farm) NextDay() Snapshot {
	f.mu.Lock()
	f.water = max(0, f.water-f.season.WaterDrainPerDay)
	factor := waterFactor(f.water)
	for i := range f.tiles {
		t := &f.tiles[i]
		if t.State != Planted && t.State != Growing {
			continue
		}
		t.Growth += float64(f.season.GrowthRatePerDay) * factor
		if t.Growth >= GrowthTarget {
			t.State = Ready
		} else {
			t.State = Growing
		}
	}
	f.day++
	f.mu.Unlock()
	return f.Snapshot()
}

// Snapshot returns a copy of the current state.
func (f *Farm) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	tiles := make([]Tile, Size)
	copy(tiles, f.tiles[:])
	return Snapshot{
		Day:        f.day,
		WaterLevel: f.water,
		Coins:      f.coins.IntPart(),
		Tiles:      tiles,
		Season:     f.season,
	}
}

// Run advances one day per interval until ctx is done. onTick, if set,
// receives the state after each day.
func (f *Farm) Run(ctx context.Context, interval time.Duration, onTick func(Snapshot)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap := f.NextDay()
			if onTick != nil {
				onTick(snap)
			}
		}
	}
}

func waterFactor(level int) float64 {
	switch {
	case level >= 50:
		return 1.0
	case level >= 25:
		return 0.7
	default:
		return 0.4
	}
}

func checkIndex(idx int) error {
	if idx < 0 || idx >= Size {
		return fmt.Errorf("%w: %d", ErrTileOutOfRange, idx)
	}
	return nil
}
