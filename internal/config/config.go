// Package config provides configuration loading and access for the
// simulation client, catalog tables and servers.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/explant/explant/internal/scoring"
	"github.com/explant/explant/internal/simclient"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all application settings.
type Config struct {
	Client      ClientConfig      `yaml:"client" json:"-"`
	Simulation  SimulationConfig  `yaml:"simulation" json:"simulation"`
	Regions     []Region          `yaml:"regions" json:"regions"`
	Crops       []Crop            `yaml:"crops" json:"crops"`
	Server      ServerConfig      `yaml:"server" json:"-"`
	Storage     StorageConfig     `yaml:"storage" json:"-"`
	Farm        FarmConfig        `yaml:"farm" json:"-"`
	Credentials CredentialsConfig `yaml:"credentials" json:"-"`
}

// ClientConfig configures the simulation service client.
type ClientConfig struct {
	Endpoint    string            `yaml:"endpoint"`
	Headers     map[string]string `yaml:"headers"`
	TimeoutMs   int               `yaml:"timeout_ms"`
	MaxRetries  int               `yaml:"max_retries"`
	RetryBaseMs int               `yaml:"retry_base_ms"`
}

// SimulationConfig holds the fixed simulation window and input defaults.
type SimulationConfig struct {
	StartDate     string     `yaml:"start_date" json:"start_date"`
	EndDate       string     `yaml:"end_date" json:"end_date"`
	DefaultRegion int        `yaml:"default_region" json:"default_region"`
	DefaultCrop   string     `yaml:"default_crop" json:"default_crop"`
	WaterPresets  []string   `yaml:"water_presets" json:"water_presets"`
	QuickStart    QuickStart `yaml:"quick_start" json:"quick_start"`
}

// QuickStart is the one-click input set offered to new players.
type QuickStart struct {
	Region int    `yaml:"region" json:"region"`
	Crop   string `yaml:"crop" json:"crop"`
	Daily  bool   `yaml:"daily" json:"daily"`
	Water  string `yaml:"water" json:"water"`
}

// Region is a simulated location.
type Region struct {
	ID   int    `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	Soil string `yaml:"soil" json:"soil"`
}

// Crop is a crop with its typical productivity band.
type Crop struct {
	Name    string  `yaml:"name" json:"name"`
	GoodMin float64 `yaml:"good_min" json:"good_min"`
	GoodMax float64 `yaml:"good_max" json:"good_max"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type FarmConfig struct {
	TickMs int `yaml:"tick_ms"`
}

// CredentialsConfig names the keychain entry holding the endpoint token.
type CredentialsConfig struct {
	Service string `yaml:"service"`
	User    string `yaml:"user"`
}

// Load loads configuration from a YAML file, merging with embedded defaults,
// then applies EXPLANT_* environment overrides. If path is empty, only
// embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg, err := Defaults()
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		// Only keys present in the file are overwritten.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the embedded configuration without overrides.
func Defaults() (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("config: parse embedded defaults: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("config: %s: %w", key, err))
			return
		}
		*dst = n
	}

	str("EXPLANT_ENDPOINT", &c.Client.Endpoint)
	num("EXPLANT_TIMEOUT_MS", &c.Client.TimeoutMs)
	num("EXPLANT_MAX_RETRIES", &c.Client.MaxRetries)
	num("EXPLANT_RETRY_BASE_MS", &c.Client.RetryBaseMs)
	str("EXPLANT_ADDR", &c.Server.Addr)
	str("EXPLANT_DB", &c.Storage.Path)
	return errs
}

// Validate reports every inconsistency in the catalog and window.
func (c *Config) Validate() error {
	var errs error
	start, end, err := c.Window()
	if err != nil {
		errs = multierr.Append(errs, err)
	} else if end.Before(start) {
		errs = multierr.Append(errs, fmt.Errorf("config: simulation end %s before start %s", c.Simulation.EndDate, c.Simulation.StartDate))
	}
	if len(c.Regions) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("config: no regions configured"))
	}
	seen := make(map[int]bool, len(c.Regions))
	for _, r := range c.Regions {
		if seen[r.ID] {
			errs = multierr.Append(errs, fmt.Errorf("config: duplicate region %d", r.ID))
		}
		seen[r.ID] = true
	}
	if _, ok := c.Region(c.Simulation.DefaultRegion); !ok {
		errs = multierr.Append(errs, fmt.Errorf("config: default region %d not in region table", c.Simulation.DefaultRegion))
	}
	if c.Simulation.DefaultCrop == "" {
		errs = multierr.Append(errs, fmt.Errorf("config: default crop is empty"))
	}
	for _, crop := range c.Crops {
		if crop.GoodMin > crop.GoodMax {
			errs = multierr.Append(errs, fmt.Errorf("config: crop %s has good_min > good_max", crop.Name))
		}
	}
	if len(c.Simulation.WaterPresets) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("config: no water presets configured"))
	}
	return errs
}

// Window returns the parsed simulation start and end dates.
func (c *Config) Window() (time.Time, time.Time, error) {
	start, err := time.Parse(simclient.DateLayout, c.Simulation.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("config: start_date: %w", err)
	}
	end, err := time.Parse(simclient.DateLayout, c.Simulation.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("config: end_date: %w", err)
	}
	return start, end, nil
}

// Region looks up a region by id.
func (c *Config) Region(id int) (Region, bool) {
	for _, r := range c.Regions {
		if r.ID == id {
			return r, true
		}
	}
	return Region{}, false
}

// IsWaterPreset reports whether tok is a configured preset (case-insensitive).
func (c *Config) IsWaterPreset(tok string) bool {
	return slices.ContainsFunc(c.Simulation.WaterPresets, func(p string) bool {
		return strings.EqualFold(p, tok)
	})
}

// CropTargets returns the crop table keyed by name, for the score engine.
func (c *Config) CropTargets() map[string]scoring.Band {
	out := make(map[string]scoring.Band, len(c.Crops))
	for _, crop := range c.Crops {
		out[crop.Name] = scoring.Band{GoodMin: crop.GoodMin, GoodMax: crop.GoodMax}
	}
	return out
}

// SimClient converts the client section for simclient.NewClient.
func (c *Config) SimClient() simclient.Config {
	return simclient.Config{
		Endpoint:       c.Client.Endpoint,
		Headers:        c.Client.Headers,
		Timeout:        time.Duration(c.Client.TimeoutMs) * time.Millisecond,
		MaxRetries:     c.Client.MaxRetries,
		BaseRetryDelay: time.Duration(c.Client.RetryBaseMs) * time.Millisecond,
	}
}

// TickInterval is the farm's day length.
func (c *Config) TickInterval() time.Duration {
	if c.Farm.TickMs <= 0 {
		return 4 * time.Second
	}
	return time.Duration(c.Farm.TickMs) * time.Millisecond
}
