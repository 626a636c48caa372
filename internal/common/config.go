package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Browser     BrowserConfig   `toml:"browser"`
	Scraper     ScraperConfig   `toml:"scraper"`
	Worker      WorkerConfig    `toml:"worker"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Recycle     RecycleConfig   `toml:"recycle"`
	Targets     []TargetConfig  `toml:"targets"` // Initial target set, overridden by the persisted set
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Enabled        bool   `toml:"enabled"`
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// BrowserConfig controls how Chrome sessions are launched and driven
type BrowserConfig struct {
	Headless        bool              `toml:"headless"`
	NoSandbox       bool              `toml:"no_sandbox"`
	DisableGPU      bool              `toml:"disable_gpu"`
	IgnoreCertError bool              `toml:"ignore_cert_errors"`
	Stealth         bool              `toml:"stealth"`
	Shared          bool              `toml:"shared"` // One Chrome process, one isolated browser context per target
	UserAgent       string            `toml:"user_agent"`
	ExecPath        string            `toml:"exec_path"`
	LocatorTemplate string            `toml:"locator_template"` // {line} and {stop} are substituted
	Selectors       SelectorsConfig   `toml:"selectors"`
	ExtraFlags      map[string]string `toml:"extra_flags"`
}

// SelectorsConfig holds the markup details of the remote page
type SelectorsConfig struct {
	Control     string `toml:"control"`      // Button that requests fresh data
	ResultTable string `toml:"result_table"` // Table holding arrival rows
	ArrivalText string `toml:"arrival_text"` // Element holding the arrival estimate inside a row
	TimePrefix  string `toml:"time_prefix"`  // Prefix stripped from the arrival text
}

// ScraperConfig holds the per-target loop timings
type ScraperConfig struct {
	NavigationTimeout time.Duration `toml:"navigation_timeout"`
	ControlTimeout    time.Duration `toml:"control_timeout"`
	ResultTimeout     time.Duration `toml:"result_timeout"`
	SettleDelay       time.Duration `toml:"settle_delay"`
	PollInterval      time.Duration `toml:"poll_interval"`
	RetryDelay        time.Duration `toml:"retry_delay"`
	CooldownDelay     time.Duration `toml:"cooldown_delay"`
	MaxErrors         int           `toml:"max_errors"`
	StartStagger      time.Duration `toml:"start_stagger"` // Delay between loop starts
	NoServiceText     string        `toml:"no_service_text"`
}

// WorkerConfig controls how the worker pool is hosted
type WorkerConfig struct {
	Mode       string        `toml:"mode"`        // "process" (child process) or "inproc"
	Binary     string        `toml:"binary"`      // Executable for process mode, defaults to os.Executable()
	AckTimeout time.Duration `toml:"ack_timeout"` // How long reconfigure/shutdown wait for the worker ack
}

// WebSocketConfig contains configuration for live update subscribers
type WebSocketConfig struct {
	BufferSize   int           `toml:"buffer_size"` // Per-subscriber queue length before it is dropped
	WriteTimeout time.Duration `toml:"write_timeout"`
	PingInterval time.Duration `toml:"ping_interval"`
}

// RecycleConfig schedules periodic browser recycling
type RecycleConfig struct {
	Schedule string `toml:"schedule"` // Cron expression, empty disables recycling
}

// TargetConfig is one configured target
type TargetConfig struct {
	ID   string `toml:"id" json:"id"`
	Line string `toml:"line" json:"line"`
	Stop string `toml:"stop" json:"stop"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 3000,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Enabled: true,
				Path:    "./data",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Browser: BrowserConfig{
			Headless:        true,
			NoSandbox:       true,
			DisableGPU:      true,
			IgnoreCertError: true,
			Stealth:         true,
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			LocatorTemplate: "https://www.ego.gov.tr/tr/otobusnerede/index?durak_no={stop}&hat_no={line}",
			Selectors: SelectorsConfig{
				Control:     `input.btn.red[value="Otobus Nerede?"]`,
				ResultTable: "table.list",
				ArrivalText: `b[style*="color"]`,
				TimePrefix:  "Tahmini Varış Süresi:",
			},
		},
		Scraper: ScraperConfig{
			NavigationTimeout: 30 * time.Second,
			ControlTimeout:    10 * time.Second,
			ResultTimeout:     15 * time.Second,
			SettleDelay:       2 * time.Second,
			PollInterval:      500 * time.Millisecond,
			RetryDelay:        3 * time.Second,
			CooldownDelay:     30 * time.Second,
			MaxErrors:         3,
			StartStagger:      1 * time.Second,
			NoServiceText:     "Sefer Yok",
		},
		Worker: WorkerConfig{
			Mode:       "process",
			AckTimeout: 60 * time.Second,
		},
		WebSocket: WebSocketConfig{
			BufferSize:   64,
			WriteTimeout: 10 * time.Second,
			PingInterval: 30 * time.Second,
		},
		Targets: []TargetConfig{
			{ID: "bus-1", Line: "561", Stop: "50782"},
			{ID: "bus-2", Line: "540", Stop: "50781"},
			{ID: "bus-3", Line: "561", Stop: "50780"},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards by ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// A targets array in a file replaces the defaults rather than merging index by index
		peek := struct {
			Targets []TargetConfig `toml:"targets"`
		}{}
		if err := toml.Unmarshal(data, &peek); err == nil && peek.Targets != nil {
			config.Targets = nil
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("TRANSITWATCH_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("TRANSITWATCH_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("TRANSITWATCH_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("TRANSITWATCH_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if enabled := os.Getenv("TRANSITWATCH_BADGER_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Storage.Badger.Enabled = b
		}
	}

	// Logging configuration
	if level := os.Getenv("TRANSITWATCH_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("TRANSITWATCH_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Browser configuration
	if headless := os.Getenv("TRANSITWATCH_BROWSER_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = h
		}
	}
	if execPath := os.Getenv("TRANSITWATCH_BROWSER_EXEC_PATH"); execPath != "" {
		config.Browser.ExecPath = execPath
	}
	if userAgent := os.Getenv("TRANSITWATCH_BROWSER_USER_AGENT"); userAgent != "" {
		config.Browser.UserAgent = userAgent
	}
	if shared := os.Getenv("TRANSITWATCH_BROWSER_SHARED"); shared != "" {
		if s, err := strconv.ParseBool(shared); err == nil {
			config.Browser.Shared = s
		}
	}

	// Scraper configuration
	if maxErrors := os.Getenv("TRANSITWATCH_SCRAPER_MAX_ERRORS"); maxErrors != "" {
		if me, err := strconv.Atoi(maxErrors); err == nil {
			config.Scraper.MaxErrors = me
		}
	}
	if cooldown := os.Getenv("TRANSITWATCH_SCRAPER_COOLDOWN_DELAY"); cooldown != "" {
		if d, err := time.ParseDuration(cooldown); err == nil {
			config.Scraper.CooldownDelay = d
		}
	}
	if poll := os.Getenv("TRANSITWATCH_SCRAPER_POLL_INTERVAL"); poll != "" {
		if d, err := time.ParseDuration(poll); err == nil {
			config.Scraper.PollInterval = d
		}
	}

	// Worker configuration
	if mode := os.Getenv("TRANSITWATCH_WORKER_MODE"); mode != "" {
		config.Worker.Mode = mode
	}
	if binary := os.Getenv("TRANSITWATCH_WORKER_BINARY"); binary != "" {
		config.Worker.Binary = binary
	}

	// Recycle configuration
	if schedule := os.Getenv("TRANSITWATCH_RECYCLE_SCHEDULE"); schedule != "" {
		config.Recycle.Schedule = schedule
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks values that would otherwise fail deep inside the engine
func (c *Config) Validate() error {
	switch c.Worker.Mode {
	case "process", "inproc":
	default:
		return fmt.Errorf("invalid worker mode %q: expected \"process\" or \"inproc\"", c.Worker.Mode)
	}
	if c.Scraper.MaxErrors <= 0 {
		return fmt.Errorf("scraper.max_errors must be greater than 0, got: %d", c.Scraper.MaxErrors)
	}
	if !strings.Contains(c.Browser.LocatorTemplate, "{stop}") {
		return fmt.Errorf("browser.locator_template must contain {stop}")
	}
	if c.Recycle.Schedule != "" {
		if err := ValidateRecycleSchedule(c.Recycle.Schedule); err != nil {
			return err
		}
	}
	return nil
}

// ValidateRecycleSchedule validates a cron schedule expression used for browser recycling
func ValidateRecycleSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid recycle schedule: %w", err)
	}
	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// DeepCloneConfig creates a deep copy of the Config struct
func DeepCloneConfig(c *Config) *Config {
	if c == nil {
		return nil
	}

	clone := *c

	if len(c.Logging.Output) > 0 {
		clone.Logging.Output = make([]string, len(c.Logging.Output))
		copy(clone.Logging.Output, c.Logging.Output)
	}

	if len(c.Targets) > 0 {
		clone.Targets = make([]TargetConfig, len(c.Targets))
		copy(clone.Targets, c.Targets)
	}

	if len(c.Browser.ExtraFlags) > 0 {
		clone.Browser.ExtraFlags = make(map[string]string, len(c.Browser.ExtraFlags))
		for k, v := range c.Browser.ExtraFlags {
			clone.Browser.ExtraFlags[k] = v
		}
	}

	return &clone
}
