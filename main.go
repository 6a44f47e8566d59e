package main

import (
	"context"
	"embed"
	"errors"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/logger"
	"github.com/wailsapp/wails/v2/pkg/menu"
	"github.com/wailsapp/wails/v2/pkg/menu/keys"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/linux"
	"github.com/wailsapp/wails/v2/pkg/options/mac"
	"github.com/wailsapp/wails/v2/pkg/options/windows"
	wruntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/explant/explant/bindings"
	"github.com/explant/explant/internal/app"
	"github.com/explant/explant/internal/config"
)

//go:embed all:frontend/dist
var assets embed.FS

const (
	appConfigDirName = "explant"
	configFileName   = "config.yaml"
	dbFileName       = "explant.db"
	docsURL          = "https://github.com/explant/explant/blob/main/README.md"
)

var (
	appCtx   context.Context
	appCtxMu sync.RWMutex
)

func buildWindowsOptions() *windows.Options {
	return &windows.Options{
		BackdropType: windows.Mica,
		Theme:        windows.SystemDefault,
		CustomTheme: &windows.ThemeSettings{
			DarkModeTitleBar:   windows.RGB(22, 40, 28),
			DarkModeTitleText:  windows.RGB(226, 240, 226),
			DarkModeBorder:     windows.RGB(46, 84, 56),
			LightModeTitleBar:  windows.RGB(244, 250, 240),
			LightModeTitleText: windows.RGB(20, 44, 24),
			LightModeBorder:    windows.RGB(214, 232, 210),
		},
		DisablePinchZoom:     false,
		IsZoomControlEnabled: false,
		ZoomFactor:           1.0,
		WindowClassName:      "ExplantWindow",
	}
}

func buildMacOptions() *mac.Options {
	iconData, err := assets.ReadFile("frontend/dist/assets/logo.png")
	var aboutIcon []byte
	if err == nil {
		aboutIcon = iconData
	}

	return &mac.Options{
		TitleBar: &mac.TitleBar{
			HideToolbarSeparator: true,
		},
		About: &mac.AboutInfo{
			Title: "Explant",
			Message: "A farming game driven by crop simulations.\n\n" +
				"Runs fall back to bundled data when the simulation service is unreachable.",
			Icon: aboutIcon,
		},
	}
}

func buildLinuxOptions() *linux.Options {
	iconData, err := assets.ReadFile("frontend/dist/assets/logo.png")
	var windowIcon []byte
	if err == nil {
		windowIcon = iconData
	}

	return &linux.Options{
		Icon:             windowIcon,
		WebviewGpuPolicy: linux.WebviewGpuPolicyOnDemand,
		ProgramName:      "explant",
	}
}

func main() {
	log.Printf("Starting Explant (Go %s)...", runtime.Version())

	dataDir := appDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Printf("appdata mkdir failed: %v; using working directory", err)
		dataDir = "."
	}

	cfg, err := config.Load(userConfigPath(dataDir))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if _, set := os.LookupEnv("EXPLANT_DB"); !set {
		cfg.Storage.Path = filepath.Join(dataDir, dbFileName)
	}

	stack, err := app.Build(context.Background(), cfg, app.Options{Logger: slog.Default()})
	if err != nil {
		log.Fatalf("init failed: %v", err)
	}
	explant := bindings.New(stack)

	startup := func(ctx context.Context) {
		setAppContext(ctx)
		explant.Startup(ctx)
	}

	beforeClose := func(ctx context.Context) (prevent bool) {
		if err := explant.Shutdown(ctx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		setAppContext(nil)
		log.Println("Application is closing")
		return false
	}

	if err := wails.Run(&options.App{
		Title:            "Explant",
		Width:            1200,
		Height:           800,
		MinWidth:         960,
		MinHeight:        680,
		WindowStartState: options.Normal,
		BackgroundColour: &options.RGBA{R: 22, G: 40, B: 28, A: 255},

		AssetServer: &assetserver.Options{
			Assets: assets,
		},

		OnStartup:     startup,
		OnBeforeClose: beforeClose,
		OnShutdown: func(ctx context.Context) {
			log.Println("Application shutdown complete")
		},

		Menu: buildAppMenu(),
		Bind: []interface{}{explant},

		LogLevel:           logger.INFO,
		LogLevelProduction: logger.ERROR,

		EnableDefaultContextMenu: false,

		ErrorFormatter: func(err error) any {
			if err == nil {
				return nil
			}
			return err.Error()
		},

		SingleInstanceLock: &options.SingleInstanceLock{
			UniqueId: "5b8f1c2e-7d44-4e0a-9a51-explant",
			OnSecondInstanceLaunch: func(data options.SecondInstanceData) {
				log.Printf("Second instance launch prevented. Args: %v", data.Args)
			},
		},

		DragAndDrop: &options.DragAndDrop{
			DisableWebViewDrop: true,
		},

		Windows: buildWindowsOptions(),
		Mac:     buildMacOptions(),
		Linux:   buildLinuxOptions(),
	}); err != nil {
		log.Fatalf("Error running Wails app: %v", err)
	}

	log.Println("Application exited normally")
}

// appDataDir returns an OS-appropriate writable directory.
func appDataDir() string {
	if d, err := os.UserConfigDir(); err == nil && d != "" {
		return filepath.Join(d, appConfigDirName)
	}
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		return filepath.Join(h, "."+appConfigDirName)
	}
	return "."
}

// userConfigPath returns the user's config file, or "" when there is none.
func userConfigPath(dir string) string {
	p := filepath.Join(dir, configFileName)
	if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
		return ""
	}
	return p
}

func buildAppMenu() *menu.Menu {
	rootMenu := menu.NewMenu()

	if runtime.GOOS == "darwin" {
		if appMenu := menu.AppMenu(); appMenu != nil {
			rootMenu.Append(appMenu)
		}
	}

	fileMenu := menu.NewMenu()
	fileMenu.AddText("Quit", keys.CmdOrCtrl("q"), func(_ *menu.CallbackData) {
		withAppContext(func(ctx context.Context) {
			wruntime.Quit(ctx)
		})
	})
	rootMenu.Append(menu.SubMenu("File", fileMenu))

	viewMenu := menu.NewMenu()
	viewMenu.AddText("Reload Frontend", keys.CmdOrCtrl("r"), func(_ *menu.CallbackData) {
		withAppContext(func(ctx context.Context) {
			wruntime.WindowReloadApp(ctx)
		})
	})
	rootMenu.Append(menu.SubMenu("View", viewMenu))

	helpMenu := menu.NewMenu()
	helpMenu.AddText("Documentation", nil, func(_ *menu.CallbackData) {
		withAppContext(func(ctx context.Context) {
			wruntime.BrowserOpenURL(ctx, docsURL)
		})
	})
	rootMenu.Append(menu.SubMenu("Help", helpMenu))

	return rootMenu
}

func setAppContext(ctx context.Context) {
	appCtxMu.Lock()
	defer appCtxMu.Unlock()
	appCtx = ctx
}

func withAppContext(action func(context.Context)) {
	appCtxMu.RLock()
	ctx := appCtx
	appCtxMu.RUnlock()
	if ctx == nil {
		log.Println("application context not initialised; ignoring menu action")
		return
	}
	action(ctx)
}
