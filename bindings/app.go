package bindings

import (
	"bytes"
	"context"

	"github.com/explant/explant/internal/api"
	"github.com/explant/explant/internal/farm"
	"github.com/explant/explant/internal/runner"
	"github.com/explant/explant/internal/store"
)

// EndpointStatus is the frontend view of the simulation endpoint.
type EndpointStatus struct {
	Endpoint string `json:"endpoint"`
	HasToken bool   `json:"hasToken"`
}

func (a *App) GetCatalog() api.CatalogResponse {
	return api.Catalog(a.stack.Config)
}

// RunSimulation runs one simulation. Only one may run at a time; a second
// call fails with runner.ErrRunInProgress.
func (a *App) RunSimulation(in runner.Inputs) (*runner.Report, error) {
	ctx, cancel := context.WithCancel(a.context())
	defer cancel()

	a.runMu.Lock()
	if a.runCancel != nil {
		a.runMu.Unlock()
		return nil, runner.ErrRunInProgress
	}
	a.runCancel = cancel
	a.runMu.Unlock()

	defer func() {
		a.runMu.Lock()
		a.runCancel = nil
		a.runMu.Unlock()
	}()
	return a.stack.Runner.Run(ctx, in)
}

// QuickStart runs the configured quick-start inputs.
func (a *App) QuickStart() (*runner.Report, error) {
	return a.RunSimulation(runner.QuickStartInputs(a.stack.Config))
}

// CancelSimulation aborts the running simulation, if any. It reports whether
// one was running.
func (a *App) CancelSimulation() bool {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.runCancel == nil {
		return false
	}
	a.runCancel()
	return true
}

func (a *App) GetProgress() (runner.Progress, error) {
	return a.stack.Runner.Progress(a.context())
}

func (a *App) ResetProgress() error {
	return a.stack.Runner.ResetProgress(a.context())
}

// ListRuns returns up to limit runs, newest first.
func (a *App) ListRuns(limit int) ([]store.Run, error) {
	runs, err := a.stack.Store.ListRuns(a.context(), limit)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []store.Run{}
	}
	return runs, nil
}

// ExportRunsCSV returns the full run history as CSV text.
func (a *App) ExportRunsCSV() (string, error) {
	var buf bytes.Buffer
	if err := store.ExportCSV(a.context(), a.stack.Store, &buf, 0); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (a *App) GetFarm() farm.Snapshot {
	return a.stack.Farm.Snapshot()
}

// FarmAction applies plant, water or harvest to tile.
func (a *App) FarmAction(action string, tile int) (farm.Snapshot, error) {
	return a.stack.Farm.Apply(action, tile)
}

func (a *App) NextDay() farm.Snapshot {
	return a.stack.Farm.NextDay()
}

func (a *App) GetEndpointStatus() EndpointStatus {
	_, err := a.stack.Credentials.Token()
	return EndpointStatus{
		Endpoint: a.stack.Client.Endpoint(),
		HasToken: err == nil,
	}
}

// SetEndpointToken stores the bearer token for the simulation endpoint. An
// empty token removes it.
func (a *App) SetEndpointToken(token string) (EndpointStatus, error) {
	if err := a.stack.SetEndpointToken(token); err != nil {
		return a.GetEndpointStatus(), err
	}
	return a.GetEndpointStatus(), nil
}
