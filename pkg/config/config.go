// Package config loads formationd's operator configuration with one
// explicit precedence order: defaults, then the config file, then
// FORMATION_* environment variables, then CLI flags. The order is
// resolved once here in Load rather than reconstructed per-flag the way
// cobra's per-command GetString/GetBool calls would otherwise invite.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/formation/pkg/log"
)

// RelayMode controls whether a node offers itself as a WireGuard relay
// for peers that exhaust their NAT traversal candidates.
type RelayMode string

const (
	RelayAuto RelayMode = "auto"
	RelayOn   RelayMode = "on"
	RelayOff  RelayMode = "off"
)

// Config is the fully resolved set of options a formationd process runs
// with, after defaults, file, environment, and flags have been merged.
type Config struct {
	SecretKeyHex   string    `yaml:"secret_key"`
	BootstrapNodes []string  `yaml:"bootstrap_nodes"`
	ListenPort     int       `yaml:"listen_port"`
	Region         string    `yaml:"region"`
	GeoIPDBPath    string    `yaml:"geoip_db_path"`
	RelayMode      RelayMode `yaml:"relay_enabled"`
	DataDir        string    `yaml:"data_dir"`
	LogLevel       log.Level `yaml:"log_level"`
	LogJSON        bool      `yaml:"log_json"`
	StateAddr      string    `yaml:"state_addr"`
	QueueAddr      string    `yaml:"queue_addr"`
	HealthAddr     string    `yaml:"health_addr"`
}

// Defaults returns the compiled-in baseline every other layer overrides.
func Defaults() Config {
	return Config{
		ListenPort: 51820,
		RelayMode:  RelayAuto,
		DataDir:    "/var/lib/formationd",
		LogLevel:   log.InfoLevel,
		LogJSON:    false,
		StateAddr:  ":3004",
		QueueAddr:  ":53333",
		HealthAddr: "127.0.0.1:9090",
	}
}

// RegisterFlags binds the CLI flags formationd accepts, one flag per
// option in the PersistentFlags-per-option style used throughout the
// pack's CLI commands. Flags left unset at their zero value do not
// override a lower layer; Load checks fs.Changed before applying one.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to the operator config file")
	fs.String("secret-key", "", "hex-encoded secp256k1 signing key")
	fs.StringSlice("bootstrap-nodes", nil, "host:port peers to dial for bootstrap/full_state on cold start")
	fs.Int("listen-port", 0, "WireGuard listen port")
	fs.String("region", "", "region advertised in node heartbeats, used by DNS geo sort")
	fs.String("geoip-db-path", "", "MaxMind GeoIP2 City database path")
	fs.String("relay-enabled", "", "relay mode: auto, on, or off")
	fs.String("data-dir", "", "bbolt database directory")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.Bool("log-json", false, "output logs in JSON format")
	fs.String("state-addr", "", "state store HTTP listen address")
	fs.String("queue-addr", "", "queue HTTP listen address")
	fs.String("health-addr", "", "health/ready/metrics listen address")
}

// Load resolves the fully layered configuration: Defaults, then the
// file named by --config (or FORMATION_CONFIG) if present, then
// FORMATION_* environment variables, then flags explicitly set on fs.
// A missing config file is not an error; a malformed one is.
func Load(fs *pflag.FlagSet) (*Config, error) {
	cfg := Defaults()

	path, _ := fs.GetString("config")
	if path == "" {
		path = os.Getenv("FORMATION_CONFIG")
	}
	if path != "" {
		if err := mergeFile(&cfg, path); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	mergeEnv(&cfg)
	mergeFlags(&cfg, fs)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func mergeEnv(cfg *Config) {
	if v, ok := os.LookupEnv("FORMATION_SECRET_KEY"); ok {
		cfg.SecretKeyHex = v
	}
	if v, ok := os.LookupEnv("FORMATION_BOOTSTRAP_NODES"); ok {
		cfg.BootstrapNodes = splitList(v)
	}
	if v, ok := os.LookupEnv("FORMATION_LISTEN_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ListenPort = n
		}
	}
	if v, ok := os.LookupEnv("FORMATION_REGION"); ok {
		cfg.Region = v
	}
	if v, ok := os.LookupEnv("FORMATION_GEOIP_DB_PATH"); ok {
		cfg.GeoIPDBPath = v
	}
	if v, ok := os.LookupEnv("FORMATION_RELAY_ENABLED"); ok {
		cfg.RelayMode = RelayMode(v)
	}
	if v, ok := os.LookupEnv("FORMATION_DATA_DIR"); ok {
		cfg.DataDir = v
	}
	if v, ok := os.LookupEnv("FORMATION_LOG_LEVEL"); ok {
		cfg.LogLevel = log.Level(v)
	}
	if v, ok := os.LookupEnv("FORMATION_LOG_JSON"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LogJSON = b
		}
	}
	if v, ok := os.LookupEnv("FORMATION_STATE_ADDR"); ok {
		cfg.StateAddr = v
	}
	if v, ok := os.LookupEnv("FORMATION_QUEUE_ADDR"); ok {
		cfg.QueueAddr = v
	}
	if v, ok := os.LookupEnv("FORMATION_HEALTH_ADDR"); ok {
		cfg.HealthAddr = v
	}
}

func mergeFlags(cfg *Config, fs *pflag.FlagSet) {
	if fs.Changed("secret-key") {
		cfg.SecretKeyHex, _ = fs.GetString("secret-key")
	}
	if fs.Changed("bootstrap-nodes") {
		cfg.BootstrapNodes, _ = fs.GetStringSlice("bootstrap-nodes")
	}
	if fs.Changed("listen-port") {
		cfg.ListenPort, _ = fs.GetInt("listen-port")
	}
	if fs.Changed("region") {
		cfg.Region, _ = fs.GetString("region")
	}
	if fs.Changed("geoip-db-path") {
		cfg.GeoIPDBPath, _ = fs.GetString("geoip-db-path")
	}
	if fs.Changed("relay-enabled") {
		v, _ := fs.GetString("relay-enabled")
		cfg.RelayMode = RelayMode(v)
	}
	if fs.Changed("data-dir") {
		cfg.DataDir, _ = fs.GetString("data-dir")
	}
	if fs.Changed("log-level") {
		v, _ := fs.GetString("log-level")
		cfg.LogLevel = log.Level(v)
	}
	if fs.Changed("log-json") {
		cfg.LogJSON, _ = fs.GetBool("log-json")
	}
	if fs.Changed("state-addr") {
		cfg.StateAddr, _ = fs.GetString("state-addr")
	}
	if fs.Changed("queue-addr") {
		cfg.QueueAddr, _ = fs.GetString("queue-addr")
	}
	if fs.Changed("health-addr") {
		cfg.HealthAddr, _ = fs.GetString("health-addr")
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validate(cfg *Config) error {
	if cfg.SecretKeyHex == "" {
		return fmt.Errorf("secret_key is required (set via config file, FORMATION_SECRET_KEY, or --secret-key)")
	}
	switch cfg.RelayMode {
	case RelayAuto, RelayOn, RelayOff:
	default:
		return fmt.Errorf("relay_enabled must be one of auto, on, off, got %q", cfg.RelayMode)
	}
	switch cfg.LogLevel {
	case log.DebugLevel, log.InfoLevel, log.WarnLevel, log.ErrorLevel:
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", cfg.LogLevel)
	}
	if cfg.ListenPort <= 0 || cfg.ListenPort > 65535 {
		return fmt.Errorf("listen_port out of range: %d", cfg.ListenPort)
	}
	return nil
}
