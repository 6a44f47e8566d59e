package runner

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/explant/explant/internal/config"
	"github.com/explant/explant/internal/growth"
	"github.com/explant/explant/internal/scoring"
	"github.com/explant/explant/internal/season"
	"github.com/explant/explant/internal/simclient"
	"github.com/explant/explant/internal/store"
	"github.com/explant/explant/internal/telemetry"
)

type transportFunc func(ctx context.Context, req simclient.SimulationRequest) (*simclient.SimulationResponse, error)

func (f transportFunc) Simulate(ctx context.Context, req simclient.SimulationRequest) (*simclient.SimulationResponse, error) {
	return f(ctx, req)
}

func reply(soil *simclient.SoilMetrics, series ...growth.Sample) transportFunc {
	return func(context.Context, simclient.SimulationRequest) (*simclient.SimulationResponse, error) {
		return &simclient.SimulationResponse{Soil: soil, Growth: series, HasGrowth: series != nil}, nil
	}
}

func soil(efic, stress, prod float64) *simclient.SoilMetrics {
	return &simclient.SoilMetrics{
		Efficiency:   simclient.Float(efic),
		Stress:       simclient.Float(stress),
		Productivity: simclient.Float(prod),
	}
}

type farmRecorder struct {
	mu     sync.Mutex
	params []season.Parameters
}

func (f *farmRecorder) ApplySeason(p season.Parameters) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, p)
}

type eventLog struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (l *eventLog) Record(_ context.Context, ev telemetry.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []telemetry.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]telemetry.Kind, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Kind
	}
	return out
}

type brokenStore struct{ store.Memory }

func (b *brokenStore) SetBestScore(context.Context, int) error { return errors.New("disk full") }

type unreadableStore struct{ store.Memory }

func (u *unreadableStore) GetBestScore(context.Context) (int, error) {
	return 0, errors.New("database is locked")
}

type fixture struct {
	runner *Runner
	mem    *store.Memory
	farm   *farmRecorder
	events *eventLog
}

func newFixture(t *testing.T, tr Transport) *fixture {
	t.Helper()
	cfg, err := config.Defaults()
	require.NoError(t, err)

	f := &fixture{mem: store.NewMemory(), farm: &farmRecorder{}, events: &eventLog{}}
	f.runner, err = New(Options{
		Catalog:   cfg,
		Transport: tr,
		Progress:  f.mem,
		Runs:      f.mem,
		Farm:      f.farm,
		Sink:      f.events,
	})
	require.NoError(t, err)
	return f
}

var maize = Inputs{RegionID: 60, Crop: "Maize", Water: "FC"}

func TestRunPerfectSeason(t *testing.T) {
	f := newFixture(t, reply(soil(2.0, 50, 10), growth.Sample{HeightCm: 10, BiomassTon: 1}, growth.Sample{}))

	rep, err := f.runner.Run(context.Background(), maize)
	require.NoError(t, err)

	assert.Equal(t, 100, rep.Score.Score)
	assert.Equal(t, scoring.GoldTier, rep.Score.Badge)
	assert.False(t, rep.Degraded)
	assert.Equal(t, "Darling Downs-Queensland", rep.RegionName)
	assert.Len(t, rep.Growth, 1, "trailing zero sample trimmed")
	assert.Empty(t, rep.Tips)
	assert.Empty(t, rep.MissingMetrics)
	assert.ElementsMatch(t, []string{AchFirstRun, AchScore75, AchScore90, AchEfic2, AchStress50}, rep.NewAchievements)
	assert.True(t, rep.NewBest)
	assert.True(t, rep.ProgressSaved)
	assert.Equal(t, 100, rep.Progress.BestScore)

	best, _ := f.mem.GetBestScore(context.Background())
	assert.Equal(t, 100, best)

	require.Len(t, f.farm.params, 1)
	assert.Equal(t, rep.Season, f.farm.params[0])
	assert.Equal(t, season.Parameters{GrowthRatePerDay: 11, WaterDrainPerDay: 3, YieldMultiplier: 1.8}, rep.Season)

	runs, _ := f.mem.ListRuns(context.Background(), 0)
	require.Len(t, runs, 1)
	assert.Equal(t, rep.RunID, runs[0].ID)

	assert.Equal(t, telemetry.KindRunStarted, f.events.kinds()[0])
	assert.Contains(t, f.events.kinds(), telemetry.KindRunCompleted)
}

func TestRunFallsBackOnTransportFailure(t *testing.T) {
	called := 0
	f := newFixture(t, transportFunc(func(context.Context, simclient.SimulationRequest) (*simclient.SimulationResponse, error) {
		called++
		return nil, &simclient.TimeoutError{Timeout: time.Second, Attempt: 4}
	}))

	rep, err := f.runner.Run(context.Background(), maize)
	require.NoError(t, err)

	assert.Equal(t, 1, called)
	assert.True(t, rep.Degraded)
	assert.Contains(t, rep.DegradedReason, "timed out")
	assert.Len(t, rep.Growth, 20)
	assert.Equal(t, 97, rep.Score.Score)
	assert.Equal(t, season.Parameters{GrowthRatePerDay: 11, WaterDrainPerDay: 3, YieldMultiplier: 1.8}, rep.Season)
	assert.Contains(t, rep.NewAchievements, AchStress50)
	assert.NotContains(t, rep.NewAchievements, AchEfic2)
	assert.Equal(t, 97, rep.Progress.BestScore, "degraded runs still count")
	assert.Contains(t, f.events.kinds(), telemetry.KindFallback)
}

func TestFallbackDataset(t *testing.T) {
	fb := Fallback()
	require.Len(t, fb.Growth, 20)
	assert.Equal(t, growth.Sample{}, fb.Growth[0])
	assert.Equal(t, growth.Sample{HeightCm: 114, BiomassTon: 14.25}, fb.Growth[19])
	assert.Equal(t, 1.8, *fb.Soil.Efficiency)
	assert.Equal(t, 45.0, *fb.Soil.Stress)
	assert.Equal(t, 8.5, *fb.Soil.Productivity)
}

func TestRunCancelledDoesNotFallBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, transportFunc(func(ctx context.Context, _ simclient.SimulationRequest) (*simclient.SimulationResponse, error) {
		cancel()
		return nil, ctx.Err()
	}))

	rep, err := f.runner.Run(ctx, maize)
	assert.Nil(t, rep)
	assert.ErrorIs(t, err, context.Canceled)

	best, _ := f.mem.GetBestScore(context.Background())
	assert.Zero(t, best)
	assert.Contains(t, f.events.kinds(), telemetry.KindRunFailed)
}

func TestRunRejectsEmptyResponse(t *testing.T) {
	f := newFixture(t, reply(nil))

	_, err := f.runner.Run(context.Background(), maize)

	var shapeErr *ResponseShapeError
	require.ErrorAs(t, err, &shapeErr)
	assert.Empty(t, f.farm.params)
	ids, _ := f.mem.GetUnlockedAchievements(context.Background())
	assert.Empty(t, ids)
}

func TestRunRejectsMalformedReply(t *testing.T) {
	f := newFixture(t, transportFunc(func(context.Context, simclient.SimulationRequest) (*simclient.SimulationResponse, error) {
		return nil, &simclient.ShapeError{Reason: "solo is not an object"}
	}))

	rep, err := f.runner.Run(context.Background(), maize)
	assert.Nil(t, rep)

	var shapeErr *ResponseShapeError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, "solo is not an object", shapeErr.Reason)
	assert.NotContains(t, f.events.kinds(), telemetry.KindFallback)
	assert.Contains(t, f.events.kinds(), telemetry.KindRunFailed)
	assert.Empty(t, f.farm.params)
}

func TestRunRejectsMalformedReplyOverHTTP(t *testing.T) {
	bodies := map[string]string{
		"root array":      `[]`,
		"solo string":     `{"solo":"unavailable"}`,
		"growth false":    `{"crescimento":false}`,
		"growth zero":     `{"crescimento":0}`,
		"growth empty":    `{"crescimento":""}`,
		"solo null alone": `{"solo":null}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			var attempts atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts.Add(1)
				w.Write([]byte(body))
			}))
			defer server.Close()

			client := simclient.NewClient(simclient.Config{
				Endpoint:       server.URL,
				MaxRetries:     2,
				BaseRetryDelay: simclient.MinBaseRetryDelay,
			})
			f := newFixture(t, client)

			rep, err := f.runner.Run(context.Background(), maize)
			assert.Nil(t, rep)

			var shapeErr *ResponseShapeError
			require.ErrorAs(t, err, &shapeErr)
			assert.Equal(t, int32(1), attempts.Load(), "malformed replies are not retried")
			assert.NotContains(t, f.events.kinds(), telemetry.KindFallback)
			best, _ := f.mem.GetBestScore(context.Background())
			assert.Zero(t, best)
		})
	}
}

func TestRunAcceptsGrowthOnly(t *testing.T) {
	f := newFixture(t, transportFunc(func(context.Context, simclient.SimulationRequest) (*simclient.SimulationResponse, error) {
		return &simclient.SimulationResponse{HasGrowth: true}, nil
	}))

	rep, err := f.runner.Run(context.Background(), maize)
	require.NoError(t, err)

	assert.NotNil(t, rep.Growth)
	assert.Empty(t, rep.Growth)
	assert.Equal(t, []string{"efficiency", "stress", "productivity"}, rep.MissingMetrics)
	assert.Equal(t, 7, rep.Season.WaterDrainPerDay)
	assert.Equal(t, []string{AchFirstRun}, rep.NewAchievements)
}

func TestRunValidation(t *testing.T) {
	tests := []struct {
		name  string
		in    Inputs
		field string
	}{
		{"no region", Inputs{Water: "FC"}, "region"},
		{"unknown region", Inputs{RegionID: 99, Water: "FC"}, "region"},
		{"water above range", Inputs{RegionID: 60, Water: "150"}, "water"},
		{"negative water", Inputs{RegionID: 60, Water: "-1"}, "water"},
		{"unknown preset", Inputs{RegionID: 60, Water: "FLOOD"}, "water"},
		{"empty water", Inputs{RegionID: 60}, "water"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			f := newFixture(t, transportFunc(func(context.Context, simclient.SimulationRequest) (*simclient.SimulationResponse, error) {
				called = true
				return nil, nil
			}))

			_, err := f.runner.Run(context.Background(), tt.in)

			var inputErr *InvalidInputError
			require.ErrorAs(t, err, &inputErr)
			assert.Equal(t, tt.field, inputErr.Field)
			assert.False(t, called, "no network activity on invalid input")
		})
	}
}

func TestRunNormalizesInputs(t *testing.T) {
	var got simclient.SimulationRequest
	f := newFixture(t, transportFunc(func(_ context.Context, req simclient.SimulationRequest) (*simclient.SimulationResponse, error) {
		got = req
		return &simclient.SimulationResponse{Soil: soil(1.6, 80, 5)}, nil
	}))

	_, err := f.runner.Run(context.Background(), Inputs{RegionID: 20, Water: "45.0", Daily: true})
	require.NoError(t, err)

	assert.Equal(t, "Maize", got.Crop)
	assert.Equal(t, "45", got.Water)
	assert.True(t, got.Daily)
	assert.Equal(t, "2024-10-15", got.StartDate.Format(simclient.DateLayout))
	assert.Equal(t, "2025-10-03", got.EndDate.Format(simclient.DateLayout))

	_, err = f.runner.Run(context.Background(), Inputs{RegionID: 20, Water: "sat"})
	require.NoError(t, err)
	assert.Equal(t, "SAT", got.Water)
}

func TestAchievementsAreMonotone(t *testing.T) {
	results := []*simclient.SoilMetrics{soil(2.0, 50, 10), soil(0.5, 400, 0)}
	i := 0
	f := newFixture(t, transportFunc(func(context.Context, simclient.SimulationRequest) (*simclient.SimulationResponse, error) {
		s := results[i]
		i++
		return &simclient.SimulationResponse{Soil: s}, nil
	}))

	first, err := f.runner.Run(context.Background(), maize)
	require.NoError(t, err)
	second, err := f.runner.Run(context.Background(), maize)
	require.NoError(t, err)

	assert.Less(t, second.Score.Score, first.Score.Score)
	assert.False(t, second.NewBest)
	assert.Empty(t, second.NewAchievements)
	assert.Equal(t, first.Progress.Unlocked, second.Progress.Unlocked)
	assert.Equal(t, 100, second.Progress.BestScore)

	stored, _ := f.mem.GetUnlockedAchievements(context.Background())
	assert.Len(t, stored, 5)
}

func TestTips(t *testing.T) {
	f := newFixture(t, reply(soil(1.0, 300, 1)))

	rep, err := f.runner.Run(context.Background(), Inputs{RegionID: 20, Crop: "Wheat", Water: "WP"})
	require.NoError(t, err)

	assert.Equal(t, 46, rep.Score.Score)
	assert.Equal(t, scoring.Apprentice, rep.Score.Badge)
	assert.Equal(t, []string{TipLowEfficiency, TipHighStress, TipProductivity}, rep.Tips)
}

func TestTipsIgnoreAbsentReadings(t *testing.T) {
	f := newFixture(t, reply(&simclient.SoilMetrics{Productivity: simclient.Float(10)}))

	rep, err := f.runner.Run(context.Background(), Inputs{RegionID: 20, Crop: "Quinoa", Water: "WP"})
	require.NoError(t, err)

	assert.Empty(t, rep.Tips, "unknown crop and absent readings produce no advice")
	assert.Equal(t, []string{"efficiency", "stress"}, rep.MissingMetrics)
	assert.NotContains(t, rep.NewAchievements, AchStress50)
	assert.Equal(t, 7, rep.Season.WaterDrainPerDay)
}

func TestRunInProgress(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	f := newFixture(t, transportFunc(func(context.Context, simclient.SimulationRequest) (*simclient.SimulationResponse, error) {
		close(entered)
		<-release
		return &simclient.SimulationResponse{Soil: soil(2, 10, 10)}, nil
	}))

	done := make(chan error, 1)
	go func() {
		_, err := f.runner.Run(context.Background(), maize)
		done <- err
	}()
	<-entered

	_, err := f.runner.Run(context.Background(), maize)
	assert.ErrorIs(t, err, ErrRunInProgress)

	resetDone := make(chan error, 1)
	go func() { resetDone <- f.runner.ResetProgress(context.Background()) }()

	select {
	case <-resetDone:
		t.Fatal("reset must wait for the in-flight run")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-done)
	require.NoError(t, <-resetDone)

	p, err := f.runner.Progress(context.Background())
	require.NoError(t, err)
	assert.Zero(t, p.BestScore)
	assert.Empty(t, p.Unlocked)
}

func TestPersistFailureKeepsReport(t *testing.T) {
	cfg, err := config.Defaults()
	require.NoError(t, err)
	events := &eventLog{}
	r, err := New(Options{
		Catalog:   cfg,
		Transport: reply(soil(2.0, 50, 10)),
		Progress:  &brokenStore{},
		Sink:      events,
	})
	require.NoError(t, err)

	rep, err := r.Run(context.Background(), maize)
	require.NoError(t, err)

	assert.False(t, rep.ProgressSaved)
	assert.Equal(t, 100, rep.Score.Score)
	assert.Contains(t, events.kinds(), telemetry.KindPersistFailed)
}

func TestProgressLoadFailureLeavesSnapshotEmpty(t *testing.T) {
	cfg, err := config.Defaults()
	require.NoError(t, err)
	events := &eventLog{}
	r, err := New(Options{
		Catalog:   cfg,
		Transport: reply(soil(2.0, 50, 10)),
		Progress:  &unreadableStore{},
		Sink:      events,
	})
	require.NoError(t, err)

	rep, err := r.Run(context.Background(), maize)
	require.NoError(t, err)

	assert.Equal(t, 100, rep.Score.Score)
	assert.False(t, rep.ProgressSaved)
	assert.False(t, rep.NewBest)
	assert.Zero(t, rep.Progress.BestScore)
	assert.Empty(t, rep.Progress.Unlocked)
	assert.Empty(t, rep.NewAchievements)
	assert.Contains(t, events.kinds(), telemetry.KindPersistFailed)
}

func TestNewRequiresDependencies(t *testing.T) {
	cfg, err := config.Defaults()
	require.NoError(t, err)

	_, err = New(Options{Transport: reply(nil), Progress: store.NewMemory()})
	assert.Error(t, err)
	_, err = New(Options{Catalog: cfg, Progress: store.NewMemory()})
	assert.Error(t, err)
	_, err = New(Options{Catalog: cfg, Transport: reply(nil)})
	assert.Error(t, err)
}
