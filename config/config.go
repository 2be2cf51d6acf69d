package config

import (
	"fmt"
	"log"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultConfigFile is read when no --config flag is given.
const DefaultConfigFile = "testbench.toml"

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Output string `toml:"output"` // Log output: "stderr", "stdout", "syslog", or file path
	Format string `toml:"format"` // Log format: "json" or "console"
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", "error"
}

// PathsConfig locates the files the test bench reads and writes.
type PathsConfig struct {
	SitesFile   string `toml:"sites_file"`   // Site registry (default: "sites.json")
	SettingsDir string `toml:"settings_dir"` // Directory holding mail settings JSON files (default: "settings")
}

// APIConfig holds REST client configuration for the site under test.
type APIConfig struct {
	Timeout string `toml:"timeout"` // Per-request timeout (default: "30s")
}

// TunnelConfig controls how SMTP/IMAP endpoints are rewritten to reach a
// local mail server through TCP tunnels.
type TunnelConfig struct {
	Provider          string `toml:"provider"`            // "service" (default) or "ngrok"
	ServiceURL        string `toml:"service_url"`         // Tunnel service base URL, overridden by TUNNEL_SERVICE_URL
	TCPTunnels        string `toml:"tcp_tunnels"`         // Whitespace separated host:port list, overridden by TCP_TUNNELS
	FirstDebuggerPort int    `toml:"first_debugger_port"` // Debugger port of the first tunnel (default: 4300)
	RequestTimeout    string `toml:"request_timeout"`     // HTTP timeout per lookup (default: "10s")
}

// ReplyConfig holds reply-to-mail engine configuration
type ReplyConfig struct {
	IMAPUser     string `toml:"imap_user"`     // Mailbox login when settings carry no abe_imap_username
	MessageDelay string `toml:"message_delay"` // Pause between messages (default: "100ms")
	DialTimeout  string `toml:"dial_timeout"`  // IMAP connect timeout (default: "30s")
	IMAPDebug    bool   `toml:"imap_debug"`    // Log the IMAP protocol exchange (credentials masked)
	Attempts     int    `toml:"attempts"`      // Runs to try until a reply is sent (default: 1)
	AttemptWait  string `toml:"attempt_wait"`  // Wait between runs (default: "5s")
	InitialWait  string `toml:"initial_wait"`  // Wait before the first run (default: none)
}

// DeliveryConfig holds SMTP reply delivery configuration
type DeliveryConfig struct {
	Timeout                   string `toml:"timeout"`                      // SMTP dial and command timeout (default: "30s")
	CircuitBreakerThreshold   int    `toml:"circuit_breaker_threshold"`    // Consecutive failures before opening circuit; 0 disables the breaker (default: 0)
	CircuitBreakerTimeout     string `toml:"circuit_breaker_timeout"`      // Recovery test interval (default: "30s")
	CircuitBreakerMaxRequests int    `toml:"circuit_breaker_max_requests"` // Max requests in half-open state (default: 1)
}

// MetricsConfig controls the optional prometheus textfile export.
type MetricsConfig struct {
	TextfilePath string `toml:"textfile_path"` // Written after each command when set
}

// Config holds all configuration for the test bench.
type Config struct {
	Logging  LoggingConfig  `toml:"logging"`
	Paths    PathsConfig    `toml:"paths"`
	API      APIConfig      `toml:"api"`
	Tunnel   TunnelConfig   `toml:"tunnel"`
	Reply    ReplyConfig    `toml:"reply"`
	Delivery DeliveryConfig `toml:"delivery"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// NewDefaultConfig creates a Config struct with default values.
func NewDefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Paths: PathsConfig{
			SitesFile:   "sites.json",
			SettingsDir: "settings",
		},
		API: APIConfig{
			Timeout: "30s",
		},
		Tunnel: TunnelConfig{
			Provider:          "service",
			FirstDebuggerPort: 4300,
			RequestTimeout:    "10s",
		},
		Reply: ReplyConfig{
			IMAPUser:     "receiver@example.test",
			MessageDelay: "100ms",
			DialTimeout:  "30s",
			Attempts:     1,
			AttemptWait:  "5s",
		},
		Delivery: DeliveryConfig{
			Timeout:                   "30s",
			CircuitBreakerThreshold:   0,
			CircuitBreakerTimeout:     "30s",
			CircuitBreakerMaxRequests: 1,
		},
	}
}

// ApplyEnvironment overrides tunnel settings from TUNNEL_SERVICE_URL and
// TCP_TUNNELS when those variables are set.
func (c *Config) ApplyEnvironment() {
	if v := strings.TrimSpace(os.Getenv("TUNNEL_SERVICE_URL")); v != "" {
		c.Tunnel.ServiceURL = v
	}
	if v := strings.TrimSpace(os.Getenv("TCP_TUNNELS")); v != "" {
		c.Tunnel.TCPTunnels = v
	}
}

// UsesNgrok reports whether the legacy ngrok API resolves tunnels.
func (t *TunnelConfig) UsesNgrok() bool {
	return strings.EqualFold(t.Provider, "ngrok")
}

// GetFirstDebuggerPort returns the first debugger port with default
func (t *TunnelConfig) GetFirstDebuggerPort() int {
	if t.FirstDebuggerPort <= 0 {
		return 4300
	}
	return t.FirstDebuggerPort
}

// GetRequestTimeout parses the tunnel lookup timeout
func (t *TunnelConfig) GetRequestTimeout() (time.Duration, error) {
	return parseDurationDefault(t.RequestTimeout, 10*time.Second)
}

// GetTimeout parses the REST request timeout
func (a *APIConfig) GetTimeout() (time.Duration, error) {
	return parseDurationDefault(a.Timeout, 30*time.Second)
}

// GetMessageDelay parses the pause between processed messages
func (r *ReplyConfig) GetMessageDelay() (time.Duration, error) {
	return parseDurationDefault(r.MessageDelay, 100*time.Millisecond)
}

// GetDialTimeout parses the IMAP connect timeout
func (r *ReplyConfig) GetDialTimeout() (time.Duration, error) {
	return parseDurationDefault(r.DialTimeout, 30*time.Second)
}

// GetAttemptWait parses the wait between engine runs
func (r *ReplyConfig) GetAttemptWait() (time.Duration, error) {
	return parseDurationDefault(r.AttemptWait, 5*time.Second)
}

// GetInitialWait parses the wait before the first run; zero when unset.
func (r *ReplyConfig) GetInitialWait() (time.Duration, error) {
	return parseDurationDefault(r.InitialWait, 0)
}

// GetAttempts returns the number of runs with default
func (r *ReplyConfig) GetAttempts() int {
	if r.Attempts <= 0 {
		return 1
	}
	return r.Attempts
}

// GetTimeout parses the SMTP timeout
func (d *DeliveryConfig) GetTimeout() (time.Duration, error) {
	return parseDurationDefault(d.Timeout, 30*time.Second)
}

// GetCircuitBreakerThreshold returns the circuit breaker failure threshold.
// Zero means no breaker is used.
func (d *DeliveryConfig) GetCircuitBreakerThreshold() int {
	if d.CircuitBreakerThreshold <= 0 {
		return 0
	}
	return d.CircuitBreakerThreshold
}

// GetCircuitBreakerTimeout returns the circuit breaker timeout with default
func (d *DeliveryConfig) GetCircuitBreakerTimeout() (time.Duration, error) {
	return parseDurationDefault(d.CircuitBreakerTimeout, 30*time.Second)
}

// GetCircuitBreakerMaxRequests returns the max requests in half-open state with default
func (d *DeliveryConfig) GetCircuitBreakerMaxRequests() int {
	if d.CircuitBreakerMaxRequests <= 0 {
		return 1
	}
	return d.CircuitBreakerMaxRequests
}

func parseDurationDefault(value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid duration %q: must not be negative", value)
	}
	return d, nil
}

// LoadConfigFromFile loads configuration from a TOML file and trims whitespace from all string fields.
// Unknown keys produce warnings rather than errors.
func LoadConfigFromFile(configPath string, cfg *Config) error {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	metadata, err := toml.Decode(string(content), cfg)
	if err != nil {
		return enhanceConfigError(err)
	}

	// Warn about unknown keys (might be typos or deprecated settings)
	if len(metadata.Undecoded()) > 0 {
		log.Printf("WARNING: Configuration file '%s' contains unknown keys that will be ignored:", configPath)
		for _, key := range metadata.Undecoded() {
			log.Printf("WARNING:   - %s", key)
		}
	}

	trimStringFields(reflect.ValueOf(cfg).Elem())
	return nil
}

// Load reads configPath into a default Config. A missing file is only an
// error when the path was given explicitly; otherwise defaults are used.
// Environment overrides are applied last.
func Load(configPath string, explicit bool) (Config, error) {
	cfg := NewDefaultConfig()
	if configPath == "" {
		configPath = DefaultConfigFile
	}
	if err := LoadConfigFromFile(configPath, &cfg); err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("error parsing configuration file '%s': %w", configPath, err)
		}
		if explicit {
			return cfg, fmt.Errorf("specified configuration file '%s' not found: %w", configPath, err)
		}
		log.Printf("WARNING: default configuration file '%s' not found. Using defaults.", configPath)
	}
	cfg.ApplyEnvironment()
	return cfg, nil
}

// enhanceConfigError provides more helpful error messages for common TOML parsing issues
func enhanceConfigError(err error) error {
	errMsg := err.Error()

	if strings.Contains(errMsg, "has already been defined") {
		return fmt.Errorf("%w\n\nHINT: You have a duplicate configuration key in your TOML file.\n"+
			"Please remove or comment out the duplicate entry.", err)
	}

	if strings.Contains(errMsg, "expected value but found \"f\"") ||
		strings.Contains(errMsg, "expected value but found \"t\"") {
		return fmt.Errorf("%w\n\nHINT: Invalid boolean value in your TOML configuration file\n"+
			"In TOML, boolean values must be exactly 'true' or 'false' (lowercase, unquoted)", err)
	}

	if strings.Contains(errMsg, "expected") || strings.Contains(errMsg, "invalid") {
		return fmt.Errorf("%w\n\nHINT: There is a syntax error in your TOML configuration file.\n"+
			"Please check:\n"+
			"  - All strings are properly quoted\n"+
			"  - All brackets and braces are balanced\n"+
			"  - Durations are quoted strings such as \"5s\" or \"100ms\"", err)
	}

	return err
}

// trimStringFields recursively trims whitespace from all string fields in a struct
func trimStringFields(v reflect.Value) {
	if !v.IsValid() || !v.CanSet() {
		return
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(strings.TrimSpace(v.String()))
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			trimStringFields(v.Index(i))
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if field := v.Field(i); field.CanSet() {
				trimStringFields(field)
			}
		}
	case reflect.Ptr:
		if !v.IsNil() {
			trimStringFields(v.Elem())
		}
	}
}
