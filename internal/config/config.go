package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/samber/lo"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv
const EnvPrefix = "NIGHTDESK"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  *DatabaseConfig  `json:"database" envconfig:"database"`
	Store     *StoreConfig     `json:"store" envconfig:"store"`
	HTTP      *HTTPConfig      `json:"http" envconfig:"http"`
	WebSocket *WebSocketConfig `json:"websocket" envconfig:"websocket"`
	Chat      *ChatConfig      `json:"chat" envconfig:"chat"`
	Log       *LogConfig       `json:"log" envconfig:"log"`
}

// FUNCTIONAL DISCOVERY: Database configuration supports SQLite optimizations
type DatabaseConfig struct {
	Path            string        `json:"path" envconfig:"path"`
	Timeout         time.Duration `json:"timeout" envconfig:"timeout"` // busy timeout
	MaxConnections  int           `json:"max_connections" envconfig:"max_connections"`
	WriteRetryDelay time.Duration `json:"write_retry_delay" envconfig:"write_retry_delay"` // 0 disables the retry
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Backend        string        `json:"backend" envconfig:"backend"` // sqlite, badger or none
	BadgerPath     string        `json:"badger_path" envconfig:"badger_path"`
	BadgerInMemory bool          `json:"badger_in_memory" envconfig:"badger_in_memory"`
	QueueSize      int           `json:"queue_size" envconfig:"queue_size"`
	WriteTimeout   time.Duration `json:"write_timeout" envconfig:"write_timeout"`
}

// FUNCTIONAL DISCOVERY: HTTP configuration balances performance and reliability
type HTTPConfig struct {
	Port         int           `json:"port" envconfig:"port"`
	ReadTimeout  time.Duration `json:"read_timeout" envconfig:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" envconfig:"write_timeout"`
	Host         string        `json:"host" envconfig:"host"`
}

// WebSocketConfig tunes the socket handler and the per-connection writer
type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval" envconfig:"ping_interval"`
	ReadTimeout    time.Duration `json:"read_timeout" envconfig:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout" envconfig:"write_timeout"`
	BufferSize     int           `json:"buffer_size" envconfig:"buffer_size"`
	MaxFrameBytes  int64         `json:"max_frame_bytes" envconfig:"max_frame_bytes"`
	AllowedOrigins []string      `json:"allowed_origins" envconfig:"allowed_origins"`
}

// ChatConfig holds the routing rules
type ChatConfig struct {
	ManagerName   string        `json:"manager_name" envconfig:"manager_name"`
	HistoryLimit  int           `json:"history_limit" envconfig:"history_limit"`
	RateLimit     int           `json:"rate_limit" envconfig:"rate_limit"` // 0 disables
	RateWindow    time.Duration `json:"rate_window" envconfig:"rate_window"`
	HubQueueSize  int           `json:"hub_queue_size" envconfig:"hub_queue_size"`
	TextMax       int           `json:"text_max" envconfig:"text_max"`
	BranchMax     int           `json:"branch_max" envconfig:"branch_max"`
	GuestNameMax  int           `json:"guest_name_max" envconfig:"guest_name_max"`
	SenderNameMax int           `json:"sender_name_max" envconfig:"sender_name_max"`
}

// LogConfig selects the slog level and handler
type LogConfig struct {
	Level  string `json:"level" envconfig:"level"`   // debug, info, warn or error
	Format string `json:"format" envconfig:"format"` // text or json
}

// Store backends and log settings accepted by Validate
var (
	storeBackends = []string{"sqlite", "badger", "none"}
	logLevels     = []string{"debug", "info", "warn", "error"}
	logFormats    = []string{"text", "json"}
)

// FUNCTIONAL DISCOVERY: Production-ready defaults for a single front desk
// SQLite on local filesystem, HTTP on standard port, WebSocket with 30s heartbeat
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:           "./data/nightdesk.db",
			Timeout:        5 * time.Second,
			MaxConnections: 10,
		},
		Store: &StoreConfig{
			Backend:      "sqlite",
			BadgerPath:   "./data/badger",
			QueueSize:    1024,
			WriteTimeout: 5 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval:  30 * time.Second,
			ReadTimeout:   60 * time.Second,
			WriteTimeout:  10 * time.Second,
			BufferSize:    100,
			MaxFrameBytes: 32 * 1024,
		},
		Chat: &ChatConfig{
			ManagerName:   "Night Manager",
			HistoryLimit:  200,
			RateLimit:     100,
			RateWindow:    time.Minute,
			HubQueueSize:  1024,
			TextMax:       2000,
			BranchMax:     60,
			GuestNameMax:  40,
			SenderNameMax: 60,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
// Critical for preventing runtime failures in production deployment
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}
	if c.Database.WriteRetryDelay < 0 {
		return fmt.Errorf("database write retry delay cannot be negative")
	}

	if c.Store == nil {
		return fmt.Errorf("store configuration is required")
	}
	if !lo.Contains(storeBackends, c.Store.Backend) {
		return fmt.Errorf("store backend must be one of %v, got %q", storeBackends, c.Store.Backend)
	}
	if c.Store.Backend == "badger" && c.Store.BadgerPath == "" && !c.Store.BadgerInMemory {
		return fmt.Errorf("badger path cannot be empty unless running in memory")
	}
	if c.Store.QueueSize <= 0 {
		return fmt.Errorf("store queue size must be positive")
	}
	if c.Store.WriteTimeout <= 0 {
		return fmt.Errorf("store write timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	// Port 0 binds any free port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxFrameBytes <= 0 {
		return fmt.Errorf("WebSocket max frame size must be positive")
	}

	if c.Chat == nil {
		return fmt.Errorf("chat configuration is required")
	}
	if c.Chat.ManagerName == "" {
		return fmt.Errorf("manager name cannot be empty")
	}
	if c.Chat.HistoryLimit < 0 {
		return fmt.Errorf("history limit cannot be negative")
	}
	if c.Chat.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}
	if c.Chat.RateLimit > 0 && c.Chat.RateWindow <= 0 {
		return fmt.Errorf("rate window must be positive when rate limiting is enabled")
	}
	if c.Chat.HubQueueSize <= 0 {
		return fmt.Errorf("hub queue size must be positive")
	}
	if c.Chat.TextMax <= 0 || c.Chat.BranchMax <= 0 || c.Chat.GuestNameMax <= 0 || c.Chat.SenderNameMax <= 0 {
		return fmt.Errorf("field length caps must be positive")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	if !lo.Contains(logLevels, c.Log.Level) {
		return fmt.Errorf("log level must be one of %v, got %q", logLevels, c.Log.Level)
	}
	if !lo.Contains(logFormats, c.Log.Format) {
		return fmt.Errorf("log format must be one of %v, got %q", logFormats, c.Log.Format)
	}

	return nil
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
// Variables are NIGHTDESK_<SECTION>_<FIELD>, e.g. NIGHTDESK_HTTP_PORT; unset
// variables keep the value already in cfg
func LoadFromEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	return nil
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	Store     *StoreConfigFile     `json:"store"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Chat      *ChatConfigFile      `json:"chat"`
	Log       *LogConfig           `json:"log"`
}

type DatabaseConfigFile struct {
	Path            string `json:"path"`
	Timeout         string `json:"timeout"`
	MaxConnections  int    `json:"max_connections"`
	WriteRetryDelay string `json:"write_retry_delay"`
}

type StoreConfigFile struct {
	Backend        string `json:"backend"`
	BadgerPath     string `json:"badger_path"`
	BadgerInMemory *bool  `json:"badger_in_memory"`
	QueueSize      int    `json:"queue_size"`
	WriteTimeout   string `json:"write_timeout"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

type WebSocketConfigFile struct {
	PingInterval   string   `json:"ping_interval"`
	ReadTimeout    string   `json:"read_timeout"`
	WriteTimeout   string   `json:"write_timeout"`
	BufferSize     int      `json:"buffer_size"`
	MaxFrameBytes  int64    `json:"max_frame_bytes"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type ChatConfigFile struct {
	ManagerName   string `json:"manager_name"`
	HistoryLimit  *int   `json:"history_limit"`
	RateLimit     *int   `json:"rate_limit"`
	RateWindow    string `json:"rate_window"`
	HubQueueSize  int    `json:"hub_queue_size"`
	TextMax       int    `json:"text_max"`
	BranchMax     int    `json:"branch_max"`
	GuestNameMax  int    `json:"guest_name_max"`
	SenderNameMax int    `json:"sender_name_max"`
}

// FUNCTIONAL DISCOVERY: File-based configuration supports complex deployment scenarios
// JSON format chosen for readability and tooling support
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := applyFile(cfg, path); err != nil {
		return nil, err
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// applyFile overlays the values present in the file onto cfg
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Durations are collected and parsed together so one bad value names its field
	var durations []durationField

	if f := file.Database; f != nil {
		setString(&cfg.Database.Path, f.Path)
		setInt(&cfg.Database.MaxConnections, f.MaxConnections)
		durations = append(durations,
			durationField{"database.timeout", f.Timeout, &cfg.Database.Timeout},
			durationField{"database.write_retry_delay", f.WriteRetryDelay, &cfg.Database.WriteRetryDelay},
		)
	}

	if f := file.Store; f != nil {
		setString(&cfg.Store.Backend, f.Backend)
		setString(&cfg.Store.BadgerPath, f.BadgerPath)
		if f.BadgerInMemory != nil {
			cfg.Store.BadgerInMemory = *f.BadgerInMemory
		}
		setInt(&cfg.Store.QueueSize, f.QueueSize)
		durations = append(durations, durationField{"store.write_timeout", f.WriteTimeout, &cfg.Store.WriteTimeout})
	}

	if f := file.HTTP; f != nil {
		setInt(&cfg.HTTP.Port, f.Port)
		setString(&cfg.HTTP.Host, f.Host)
		durations = append(durations,
			durationField{"http.read_timeout", f.ReadTimeout, &cfg.HTTP.ReadTimeout},
			durationField{"http.write_timeout", f.WriteTimeout, &cfg.HTTP.WriteTimeout},
		)
	}

	if f := file.WebSocket; f != nil {
		setInt(&cfg.WebSocket.BufferSize, f.BufferSize)
		if f.MaxFrameBytes > 0 {
			cfg.WebSocket.MaxFrameBytes = f.MaxFrameBytes
		}
		if f.AllowedOrigins != nil {
			cfg.WebSocket.AllowedOrigins = f.AllowedOrigins
		}
		durations = append(durations,
			durationField{"websocket.ping_interval", f.PingInterval, &cfg.WebSocket.PingInterval},
			durationField{"websocket.read_timeout", f.ReadTimeout, &cfg.WebSocket.ReadTimeout},
			durationField{"websocket.write_timeout", f.WriteTimeout, &cfg.WebSocket.WriteTimeout},
		)
	}

	if f := file.Chat; f != nil {
		setString(&cfg.Chat.ManagerName, f.ManagerName)
		if f.HistoryLimit != nil {
			cfg.Chat.HistoryLimit = *f.HistoryLimit
		}
		if f.RateLimit != nil {
			cfg.Chat.RateLimit = *f.RateLimit
		}
		setInt(&cfg.Chat.HubQueueSize, f.HubQueueSize)
		setInt(&cfg.Chat.TextMax, f.TextMax)
		setInt(&cfg.Chat.BranchMax, f.BranchMax)
		setInt(&cfg.Chat.GuestNameMax, f.GuestNameMax)
		setInt(&cfg.Chat.SenderNameMax, f.SenderNameMax)
		durations = append(durations, durationField{"chat.rate_window", f.RateWindow, &cfg.Chat.RateWindow})
	}

	if f := file.Log; f != nil {
		setString(&cfg.Log.Level, f.Level)
		setString(&cfg.Log.Format, f.Format)
	}

	for _, d := range durations {
		if err := d.apply(); err != nil {
			return fmt.Errorf("config file %s: %w", path, err)
		}
	}
	return nil
}

type durationField struct {
	name  string
	value string
	dst   *time.Duration
}

func (d durationField) apply() error {
	if d.value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(d.value)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %w", d.name, err)
	}
	*d.dst = parsed
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults
// A .env file in the working directory is loaded into the environment first;
// variables already set in the process win over it
func LoadConfigWithPrecedence(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := DefaultConfig()
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
