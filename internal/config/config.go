package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigURL       = "https://api.steampowered.com/ISteamApps/GetSDRConfig/v1?appid=440"
	DefaultNamespace       = "SteamRouteTool"
	DefaultLegacyNamespace = "TF2RoutingTool"
	DefaultBackend         = "auto"
	DefaultIPTablesChain   = "STEAMROUTETOOL"
	DefaultPortRange       = "27015-27202"
	DefaultProbeTimeoutMs  = 1000
	DefaultGoodMs          = 50
	DefaultWarnMs          = 100
	DefaultListen          = "127.0.0.1:8787"
	DefaultReprobeSec      = 0
	DefaultLogLevel        = "info"
)

// DefaultSTUNServers are used by doctor when none are configured.
var DefaultSTUNServers = []string{"stun.l.google.com:19302", "stun.cloudflare.com:3478"}

var portRangeRe = regexp.MustCompile(`^\d{1,5}-\d{1,5}$`)

// Config holds every tunable of the tool. All fields are optional.
type Config struct {
	ConfigURL       string     `yaml:"config_url"`
	Namespace       string     `yaml:"namespace"`
	LegacyNamespace string     `yaml:"legacy_namespace"`
	Backend         string     `yaml:"backend"`
	IPTablesChain   string     `yaml:"iptables_chain"`
	PortRange       string     `yaml:"port_range"`
	Probe           Probe      `yaml:"probe"`
	Thresholds      Thresholds `yaml:"thresholds"`
	STUNServers     []string   `yaml:"stun_servers"`
	Listen          string     `yaml:"listen"`
	ReprobeSec      int        `yaml:"reprobe_sec"`
	LogLevel        string     `yaml:"log_level"`
}

// Probe configures the ICMP prober.
type Probe struct {
	TimeoutMs int `yaml:"timeout_ms"`
	// Workers caps concurrent route probes. Zero means one goroutine per route.
	Workers    int  `yaml:"workers"`
	Privileged bool `yaml:"privileged"`
}

// Thresholds bound the latency severity buckets, in milliseconds.
type Thresholds struct {
	GoodMs int `yaml:"good_ms"`
	WarnMs int `yaml:"warn_ms"`
}

// Default returns a config with every default applied.
func Default() Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return cfg
}

// Load reads and parses a YAML config file. An empty path yields defaults.
// Environment overrides are applied in both cases.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	ApplyDefaults(&cfg)
	return cfg, nil
}

// LoadDotEnv loads a .env file into the process environment if present.
func LoadDotEnv(paths ...string) {
	if err := godotenv.Load(paths...); err != nil {
		log.Debug("no .env file loaded", "err", err)
	}
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks the values that cannot be defaulted.
func Validate(cfg Config) error {
	if cfg.Namespace == "" {
		return fmt.Errorf("namespace is required")
	}
	if strings.Contains(cfg.Namespace, "-") {
		return fmt.Errorf("namespace %q must not contain '-'", cfg.Namespace)
	}
	if cfg.LegacyNamespace != "" && cfg.LegacyNamespace == cfg.Namespace {
		return fmt.Errorf("legacy_namespace must differ from namespace")
	}
	switch cfg.Backend {
	case "auto", "iptables", "netsh", "memory":
	default:
		return fmt.Errorf("backend must be auto, iptables, netsh or memory (got %q)", cfg.Backend)
	}
	if !portRangeRe.MatchString(cfg.PortRange) {
		return fmt.Errorf("port_range must look like 27015-27202 (got %q)", cfg.PortRange)
	}
	lo, hi, _ := strings.Cut(cfg.PortRange, "-")
	loN, _ := strconv.Atoi(lo)
	hiN, _ := strconv.Atoi(hi)
	if loN < 1 || hiN > 65535 || loN > hiN {
		return fmt.Errorf("port_range %q out of bounds", cfg.PortRange)
	}
	if cfg.Probe.TimeoutMs <= 0 {
		return fmt.Errorf("probe.timeout_ms must be positive")
	}
	if cfg.Probe.Workers < 0 {
		return fmt.Errorf("probe.workers must not be negative")
	}
	if cfg.Thresholds.GoodMs <= 0 || cfg.Thresholds.WarnMs < cfg.Thresholds.GoodMs {
		return fmt.Errorf("thresholds must satisfy 0 < good_ms <= warn_ms")
	}
	if cfg.ReprobeSec < 0 {
		return fmt.Errorf("reprobe_sec must not be negative")
	}
	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.ConfigURL == "" {
		cfg.ConfigURL = DefaultConfigURL
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.LegacyNamespace == "" {
		cfg.LegacyNamespace = DefaultLegacyNamespace
	}
	if cfg.Backend == "" {
		cfg.Backend = DefaultBackend
	}
	if cfg.IPTablesChain == "" {
		cfg.IPTablesChain = DefaultIPTablesChain
	}
	if cfg.PortRange == "" {
		cfg.PortRange = DefaultPortRange
	}
	if cfg.Probe.TimeoutMs == 0 {
		cfg.Probe.TimeoutMs = DefaultProbeTimeoutMs
	}
	if cfg.Thresholds.GoodMs == 0 {
		cfg.Thresholds.GoodMs = DefaultGoodMs
	}
	if cfg.Thresholds.WarnMs == 0 {
		cfg.Thresholds.WarnMs = DefaultWarnMs
	}
	if len(cfg.STUNServers) == 0 {
		cfg.STUNServers = append([]string(nil), DefaultSTUNServers...)
	}
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
}

func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv("SRT_CONFIG_URL")); v != "" {
		cfg.ConfigURL = v
	}
	if v := strings.TrimSpace(os.Getenv("SRT_BACKEND")); v != "" {
		cfg.Backend = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("SRT_NAMESPACE")); v != "" {
		cfg.Namespace = v
	}
	if v := strings.TrimSpace(os.Getenv("SRT_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("SRT_PROBE_TIMEOUT_MS")); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SRT_PROBE_TIMEOUT_MS: %w", err)
		}
		cfg.Probe.TimeoutMs = ms
	}
	return nil
}
