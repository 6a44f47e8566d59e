package bindings

import (
	"context"
	"log"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/explant/explant/internal/app"
	"github.com/explant/explant/internal/farm"
)

// Frontend event names.
const (
	EventSimulation = "simulation:event"
	EventFarmTick   = "farm:tick"
)

// Emitter publishes a named event to the frontend.
type Emitter func(ctx context.Context, name string, data ...interface{})

// Option configures an App.
type Option func(*App)

// WithEmitter replaces the Wails event emitter.
func WithEmitter(e Emitter) Option {
	return func(a *App) { a.emit = e }
}

// App is the Wails-bound facade over the simulation stack.
type App struct {
	ctx   context.Context
	stack *app.Stack
	emit  Emitter

	runCancel context.CancelFunc
	runMu     sync.Mutex

	stop context.CancelFunc
	wg   sync.WaitGroup
}

func New(stack *app.Stack, opts ...Option) *App {
	a := &App{stack: stack, emit: runtime.EventsEmit}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Startup stores the Wails context and starts forwarding simulation events
// and farm ticks to the frontend.
func (a *App) Startup(ctx context.Context) {
	a.ctx = ctx
	bg, cancel := context.WithCancel(ctx)
	a.stop = cancel

	events, unsubscribe := a.stack.Hub.Subscribe(64)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		defer unsubscribe()
		for {
			select {
			case <-bg.Done():
				return
			case ev := <-events:
				a.emit(ctx, EventSimulation, ev)
			}
		}
	}()
	go func() {
		defer a.wg.Done()
		_ = a.stack.RunFarm(bg, func(s farm.Snapshot) {
			a.emit(ctx, EventFarmTick, s)
		})
	}()
	log.Printf("explant ready (store=%T, endpoint=%s)", a.stack.Store, a.stack.Client.Endpoint())
}

// Shutdown stops the forwarders, cancels a running simulation and closes
// storage.
func (a *App) Shutdown(ctx context.Context) error {
	a.CancelSimulation()
	if a.stop != nil {
		a.stop()
	}
	a.wg.Wait()
	return a.stack.Close()
}

func (a *App) context() context.Context {
	if a.ctx == nil {
		return context.Background()
	}
	return a.ctx
}
