// Package runner sequences one simulation: input validation, the remote
// call with its offline fallback, growth cleanup, scoring, season tuning,
// achievements and persistence.
package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/explant/explant/internal/config"
	"github.com/explant/explant/internal/growth"
	"github.com/explant/explant/internal/scoring"
	"github.com/explant/explant/internal/season"
	"github.com/explant/explant/internal/simclient"
	"github.com/explant/explant/internal/store"
	"github.com/explant/explant/internal/telemetry"
)

// Transport performs the remote simulation call.
type Transport interface {
	Simulate(ctx context.Context, req simclient.SimulationRequest) (*simclient.SimulationResponse, error)
}

// SeasonApplier receives new season tuning after every run.
type SeasonApplier interface {
	ApplySeason(p season.Parameters)
}

// Options wires a Runner. Catalog, Transport and Progress are required.
type Options struct {
	Catalog   *config.Config
	Transport Transport
	Progress  store.ProgressStore
	Runs      store.RunStore
	Farm      SeasonApplier
	Sink      telemetry.Sink

	// Now and NewID default to time.Now and uuid.New.
	Now   func() time.Time
	NewID func() uuid.UUID
}

// Progress is the player's persisted state.
type Progress struct {
	BestScore int      `json:"best_score"`
	Unlocked  []string `json:"unlocked"`
}

// Report is everything the UI needs after a run.
type Report struct {
	RunID      uuid.UUID                   `json:"run_id"`
	Request    simclient.SimulationRequest `json:"request"`
	RegionName string                      `json:"region_name"`

	Soil *simclient.SoilMetrics `json:"soil,omitempty"`
	// MissingMetrics names soil readings the service did not report.
	MissingMetrics []string        `json:"missing_metrics,omitempty"`
	Growth         []growth.Sample `json:"growth"`
	GrowthSummary  growth.Summary  `json:"growth_summary"`

	Score  scoring.Result    `json:"score"`
	Season season.Parameters `json:"season"`

	Degraded       bool   `json:"degraded"`
	DegradedReason string `json:"degraded_reason,omitempty"`

	Tips            []string `json:"tips"`
	NewAchievements []string `json:"new_achievements"`
	Progress        Progress `json:"progress"`
	NewBest         bool     `json:"new_best"`
	ProgressSaved   bool     `json:"progress_saved"`

	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}

// Runner executes simulations one at a time.
type Runner struct {
	cfg       *config.Config
	engine    *scoring.Engine
	transport Transport
	progress  store.ProgressStore
	runs      store.RunStore
	farm      SeasonApplier
	sink      telemetry.Sink
	now       func() time.Time
	newID     func() uuid.UUID

	mu sync.Mutex
}

// New builds a Runner from opts.
func New(opts Options) (*Runner, error) {
	if opts.Catalog == nil {
		return nil, errors.New("runner: catalog is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("runner: transport is required")
	}
	if opts.Progress == nil {
		return nil, errors.New("runner: progress store is required")
	}
	sink := opts.Sink
	if sink == nil {
		sink = telemetry.Nop{}
	}
	r := &Runner{
		cfg:       opts.Catalog,
		engine:    scoring.NewEngine(opts.Catalog.CropTargets()),
		transport: opts.Transport,
		progress:  opts.Progress,
		runs:      opts.Runs,
		farm:      opts.Farm,
		sink:      telemetry.Safe(sink),
		now:       opts.Now,
		newID:     opts.NewID,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = uuid.New
	}
	return r, nil
}

// Run executes one simulation. It fails fast with ErrRunInProgress when
// another run is executing. Transport failures never surface: the fallback
// dataset is used and the report is marked degraded. A reply that arrived
// with the wrong structure fails with ResponseShapeError. Cancelling ctx
// aborts the run with ctx's error.
func (r *Runner) Run(ctx context.Context, in Inputs) (*Report, error) {
	if !r.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer r.mu.Unlock()

	req, err := buildRequest(r.cfg, in)
	if err != nil {
		r.fail(ctx, err)
		return nil, err
	}

	id := r.newID()
	ctx = telemetry.WithRunID(ctx, id.String())
	started := r.now()
	telemetry.Emit(ctx, r.sink, telemetry.Event{
		Kind:    telemetry.KindRunStarted,
		Message: fmt.Sprintf("region=%d crop=%s water=%s daily=%t", req.RegionID, req.Crop, req.Water, req.Daily),
	})

	rep := &Report{RunID: id, Request: req, StartedAt: started}
	if region, ok := r.cfg.Region(req.RegionID); ok {
		rep.RegionName = region.Name
	}

	resp, err := r.transport.Simulate(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			r.fail(ctx, ctxErr)
			return nil, ctxErr
		}
		var shapeErr *simclient.ShapeError
		if errors.As(err, &shapeErr) {
			err := &ResponseShapeError{Reason: shapeErr.Reason}
			r.fail(ctx, err)
			return nil, err
		}
		telemetry.Emit(ctx, r.sink, telemetry.Event{
			Kind:    telemetry.KindFallback,
			Class:   telemetry.ClassOf(err),
			Message: err.Error(),
		})
		resp = Fallback()
		rep.Degraded = true
		rep.DegradedReason = err.Error()
	}
	if !resp.HasData() {
		err := &ResponseShapeError{Reason: "neither soil nor growth data present"}
		r.fail(ctx, err)
		return nil, err
	}

	rep.Soil = resp.Soil
	rep.MissingMetrics = missingMetrics(resp.Soil)
	rep.Growth = growth.Normalize(resp.Growth)
	rep.GrowthSummary = growth.Summarize(rep.Growth)

	metrics := scoring.Metrics{}
	stress := math.Inf(1)
	if s := resp.Soil; s != nil {
		metrics = scoring.Metrics{
			Efficiency:   simclient.ValueOr(s.Efficiency, 0),
			Stress:       simclient.ValueOr(s.Stress, 0),
			Productivity: simclient.ValueOr(s.Productivity, 0),
		}
		stress = simclient.ValueOr(s.Stress, math.Inf(1))
	}
	rep.Score = r.engine.Score(metrics, req.Crop)

	rep.Season = season.Derive(rep.Score.Score, stress, max(1, len(rep.Growth)))
	if r.farm != nil {
		r.farm.ApplySeason(rep.Season)
	}

	band, known := r.engine.Band(req.Crop)
	rep.Tips = tips(resp.Soil, band, known)

	r.updateProgress(ctx, rep)
	r.recordRun(ctx, rep)

	rep.DurationMs = r.now().Sub(started).Milliseconds()
	telemetry.Emit(ctx, r.sink, telemetry.Event{
		Kind:      telemetry.KindRunCompleted,
		ElapsedMs: rep.DurationMs,
		Message:   fmt.Sprintf("score=%d badge=%s degraded=%t", rep.Score.Score, rep.Score.Badge, rep.Degraded),
	})
	return rep, nil
}

// updateProgress merges the run into stored progress and writes back what
// changed. Storage failures are reported to the sink and leave
// rep.ProgressSaved false.
func (r *Runner) updateProgress(ctx context.Context, rep *Report) {
	best, errBest := r.progress.GetBestScore(ctx)
	unlocked, errAch := r.progress.GetUnlockedAchievements(ctx)
	if err := multierr.Combine(errBest, errAch); err != nil {
		r.persistFailed(ctx, fmt.Errorf("runner: load progress: %w", err))
		rep.NewAchievements = []string{}
		rep.NewBest = false
		rep.Progress = Progress{Unlocked: []string{}}
		return
	}

	all, newly := unlock(unlocked, earned(rep.Score.Score, rep.Soil))
	rep.NewAchievements = nonNil(newly)
	rep.NewBest = rep.Score.Score > best
	if rep.NewBest {
		best = rep.Score.Score
	}
	rep.Progress = Progress{BestScore: best, Unlocked: all}

	var err error
	if rep.NewBest {
		err = multierr.Append(err, r.progress.SetBestScore(ctx, best))
	}
	if len(newly) > 0 {
		err = multierr.Append(err, r.progress.SetUnlockedAchievements(ctx, all))
	}
	if err != nil {
		r.persistFailed(ctx, fmt.Errorf("runner: save progress: %w", err))
		return
	}
	rep.ProgressSaved = true
}

func (r *Runner) recordRun(ctx context.Context, rep *Report) {
	if r.runs == nil {
		return
	}
	run := store.Run{
		ID:              rep.RunID,
		CreatedAt:       rep.StartedAt,
		RegionID:        rep.Request.RegionID,
		Crop:            rep.Request.Crop,
		Water:           rep.Request.Water,
		Daily:           rep.Request.Daily,
		Score:           rep.Score.Score,
		Badge:           string(rep.Score.Badge),
		Degraded:        rep.Degraded,
		Samples:         len(rep.Growth),
		GrowthRate:      rep.Season.GrowthRatePerDay,
		WaterDrain:      rep.Season.WaterDrainPerDay,
		YieldMultiplier: rep.Season.YieldMultiplier,
	}
	if s := rep.Soil; s != nil {
		run.Efficiency, run.Stress, run.Productivity = s.Efficiency, s.Stress, s.Productivity
	}
	if err := r.runs.SaveRun(ctx, run); err != nil {
		r.persistFailed(ctx, fmt.Errorf("runner: save run: %w", err))
	}
}

// Progress returns the stored progress.
func (r *Runner) Progress(ctx context.Context) (Progress, error) {
	best, err := r.progress.GetBestScore(ctx)
	if err != nil {
		return Progress{}, err
	}
	unlocked, err := r.progress.GetUnlockedAchievements(ctx)
	if err != nil {
		return Progress{}, err
	}
	return Progress{BestScore: best, Unlocked: nonNil(unlocked)}, nil
}

// ResetProgress clears the best score and achievements, waiting for an
// in-flight run to finish first.
func (r *Runner) ResetProgress(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.progress.ResetProgress(ctx); err != nil {
		return fmt.Errorf("runner: reset progress: %w", err)
	}
	return nil
}

func (r *Runner) fail(ctx context.Context, err error) {
	telemetry.Emit(ctx, r.sink, telemetry.Event{
		Kind:    telemetry.KindRunFailed,
		Class:   telemetry.ClassOf(err),
		Message: err.Error(),
	})
}

func (r *Runner) persistFailed(ctx context.Context, err error) {
	telemetry.Emit(ctx, r.sink, telemetry.Event{
		Kind:    telemetry.KindPersistFailed,
		Class:   telemetry.ClassOf(err),
		Message: err.Error(),
	})
}

func missingMetrics(s *simclient.SoilMetrics) []string {
	if s == nil {
		return []string{"efficiency", "stress", "productivity"}
	}
	var out []string
	if s.Efficiency == nil {
		out = append(out, "efficiency")
	}
	if s.Stress == nil {
		out = append(out, "stress")
	}
	if s.Productivity == nil {
		out = append(out, "productivity")
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
