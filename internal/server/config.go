package server

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config holds all dashboard configuration.
type Config struct {
	mu sync.RWMutex

	// Adapter connection and polling
	OBD OBDConfig `yaml:"obd" json:"obd"`

	// Display preferences
	Display DisplayConfig `yaml:"display" json:"display"`

	// CSV recording
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

type OBDConfig struct {
	Transport     string   `yaml:"transport" json:"transport"`          // "serial", "tcp" or "demo"
	PortPath      string   `yaml:"port_path" json:"portPath"`           // e.g. /dev/ttyUSB0
	BaudRate      int      `yaml:"baud_rate" json:"baudRate"`           // ELM327 default 38400
	Driver        string   `yaml:"driver" json:"driver"`                // "bugst" or "goburrow"
	Address       string   `yaml:"address" json:"address"`              // Wi-Fi adapters, host:port
	Mode          int      `yaml:"mode" json:"mode"`                    // default diagnostic mode
	PollHz        int      `yaml:"poll_hz" json:"pollHz"`               // full PID sweeps per second
	PIDs          []string `yaml:"pids" json:"pids"`                    // catalog names polled each sweep
	TimeoutMs     int      `yaml:"timeout_ms" json:"timeoutMs"`         // per-command reply timeout
	CloseProtocol bool     `yaml:"close_protocol" json:"closeProtocol"` // send ATPC on shutdown
	Debug         bool     `yaml:"debug" json:"debug"`                  // log every command
}

type DisplayConfig struct {
	Units      UnitsConfig     `yaml:"units" json:"units"`
	Thresholds ThresholdConfig `yaml:"thresholds" json:"thresholds"`
	Layout     string          `yaml:"layout" json:"layout"` // "classic", "minimal"
}

type UnitsConfig struct {
	Temperature string `yaml:"temperature" json:"temperature"` // "C" or "F"
	Speed       string `yaml:"speed" json:"speed"`             // "kph" or "mph"
}

type ThresholdConfig struct {
	RPMWarn   int     `yaml:"rpm_warn" json:"rpmWarn"`
	RPMDanger int     `yaml:"rpm_danger" json:"rpmDanger"`
	RPMMax    int     `yaml:"rpm_max" json:"rpmMax"`
	CLTWarn   int     `yaml:"clt_warn" json:"cltWarn"`     // °C
	CLTDanger int     `yaml:"clt_danger" json:"cltDanger"` // °C
	BattLow   float64 `yaml:"batt_low" json:"battLow"`
	BattHigh  float64 `yaml:"batt_high" json:"battHigh"`
	FuelLow   float64 `yaml:"fuel_low" json:"fuelLow"` // %
}

type LoggingConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Path     string `yaml:"path" json:"path"`
	Interval int    `yaml:"interval_ms" json:"intervalMs"` // ms between rows per parameter
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		OBD: OBDConfig{
			Transport:     "demo",
			PortPath:      "/dev/ttyUSB0",
			BaudRate:      38400,
			Driver:        "bugst",
			Address:       "192.168.0.10:35000",
			Mode:          0x01,
			PollHz:        4,
			PIDs:          []string{"rpm", "speed", "coolant", "tps", "load", "voltage"},
			TimeoutMs:     1000,
			CloseProtocol: true,
		},
		Display: DisplayConfig{
			Units: UnitsConfig{
				Temperature: "C",
				Speed:       "kph",
			},
			Thresholds: ThresholdConfig{
				RPMWarn:   5500,
				RPMDanger: 6500,
				RPMMax:    7000,
				CLTWarn:   100,
				CLTDanger: 110,
				BattLow:   12.0,
				BattHigh:  15.0,
				FuelLow:   12,
			},
			Layout: "classic",
		},
		Logging: LoggingConfig{
			Enabled:  false,
			Path:     "/var/log/goobd",
			Interval: 250,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// .env next to the config wins over one in the CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: OBD_TRANSPORT, OBD_PORT, OBD_BAUD, OBD_DRIVER, OBD_ADDRESS,
// OBD_MODE, OBD_POLL_HZ, OBD_PIDS, OBD_TIMEOUT_MS, OBD_DEBUG, LISTEN_ADDR,
// TEMP_UNIT, SPEED_UNIT, LOG_ENABLED, LOG_PATH, LOG_INTERVAL_MS
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OBD_TRANSPORT"); v != "" {
		c.OBD.Transport = v
	}
	if v := os.Getenv("OBD_PORT"); v != "" {
		c.OBD.PortPath = v
	}
	if v := os.Getenv("OBD_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.OBD.BaudRate = n
		}
	}
	if v := os.Getenv("OBD_DRIVER"); v != "" {
		c.OBD.Driver = v
	}
	if v := os.Getenv("OBD_ADDRESS"); v != "" {
		c.OBD.Address = v
	}
	if v := os.Getenv("OBD_MODE"); v != "" {
		// Accepts "1", "01" or "0x01"
		if n, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(v), "0x"), 16, 8); err == nil {
			c.OBD.Mode = int(n)
		}
	}
	if v := os.Getenv("OBD_POLL_HZ"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.OBD.PollHz = n
		}
	}
	if v := os.Getenv("OBD_PIDS"); v != "" {
		var names []string
		for _, n := range strings.Split(v, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
		c.OBD.PIDs = names
	}
	if v := os.Getenv("OBD_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.OBD.TimeoutMs = n
		}
	}
	if v := os.Getenv("OBD_DEBUG"); v != "" {
		c.OBD.Debug = truthy(v)
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("TEMP_UNIT"); v != "" {
		c.Display.Units.Temperature = v
	}
	if v := os.Getenv("SPEED_UNIT"); v != "" {
		c.Display.Units.Speed = v
	}
	// Logging
	if v := os.Getenv("LOG_ENABLED"); v != "" {
		c.Logging.Enabled = truthy(v)
	}
	if v := os.Getenv("LOG_PATH"); v != "" {
		c.Logging.Path = v
	}
	if v := os.Getenv("LOG_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Logging.Interval = n
		}
	}
}

func truthy(v string) bool {
	return v == "1" || v == "true" || v == "yes"
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string { return c.path }

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	path := c.path
	if path == "" {
		path = "/etc/goobd/config.yaml"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// DisplaySnapshot returns a copy of the display settings.
func (c *Config) DisplaySnapshot() DisplayConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Display
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
