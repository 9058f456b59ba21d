package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Guardrail GuardrailConfig `mapstructure:"guardrail"`
	Status    StatusConfig    `mapstructure:"status"`
	Email     EmailConfig     `mapstructure:"email"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug      bool          `mapstructure:"debug"`
	RunTimeout time.Duration `mapstructure:"run_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	JWTSecret       string        `mapstructure:"jwt_secret"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Normalize() ServerConfig {
	s.Address = strings.TrimSpace(s.Address)
	if s.Address == "" {
		s.Address = ":8080"
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = 10 * time.Second
	}
	return s
}

// LLMConfig selects the chat completion provider and the model per capability.
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Attempts    int           `mapstructure:"attempts"` // re-asks after malformed structured output
	Temperature float64       `mapstructure:"temperature"`
	Models      LLMModels     `mapstructure:"models"`
}

// LLMModels maps each capability to a model name
type LLMModels struct {
	Guardrail string `mapstructure:"guardrail"`
	Clarifier string `mapstructure:"clarifier"`
	Planner   string `mapstructure:"planner"`
	Searcher  string `mapstructure:"searcher"`
	Writer    string `mapstructure:"writer"`
}

func (c LLMConfig) Normalize() LLMConfig {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Timeout <= 0 {
		c.Timeout = 90 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Attempts <= 0 {
		c.Attempts = 2
	}
	fallback := func(v, def string) string {
		if strings.TrimSpace(v) == "" {
			return def
		}
		return strings.TrimSpace(v)
	}
	c.Models.Guardrail = fallback(c.Models.Guardrail, "gpt-4o-mini")
	c.Models.Clarifier = fallback(c.Models.Clarifier, "gpt-4o-mini")
	c.Models.Planner = fallback(c.Models.Planner, "gpt-4o-mini")
	c.Models.Searcher = fallback(c.Models.Searcher, "gpt-4o-mini")
	c.Models.Writer = fallback(c.Models.Writer, "gpt-4o")
	return c
}

func (c LLMConfig) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("llm.api_key is required (or set OPENAI_API_KEY)")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("llm.base_url is invalid: %w", err)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0, 2]")
	}
	return nil
}

// SearchConfig configures web discovery and page extraction
type SearchConfig struct {
	Provider     string        `mapstructure:"provider"` // serper or brave
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxResults   int           `mapstructure:"max_results"`
	FetchPages   int           `mapstructure:"fetch_pages"`
	Fetcher      string        `mapstructure:"fetcher"` // http or chromedp
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	MaxPageChars int           `mapstructure:"max_page_chars"`
	CacheSize    int           `mapstructure:"cache_size"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// APIKey returns the key of the selected provider.
func (s SearchConfig) APIKey() string {
	if s.Provider == "brave" {
		return s.BraveAPIKey
	}
	return s.SerperAPIKey
}

func (s SearchConfig) Normalize() SearchConfig {
	s.Provider = strings.ToLower(strings.TrimSpace(s.Provider))
	if s.Provider == "" {
		s.Provider = "serper"
	}
	s.Fetcher = strings.ToLower(strings.TrimSpace(s.Fetcher))
	if s.Fetcher == "" {
		s.Fetcher = "http"
	}
	if s.Timeout <= 0 {
		s.Timeout = 20 * time.Second
	}
	if s.MaxResults <= 0 {
		s.MaxResults = 8
	}
	if s.FetchPages < 0 {
		s.FetchPages = 0
	}
	if s.FetchTimeout <= 0 {
		s.FetchTimeout = 15 * time.Second
	}
	if s.MaxPageChars <= 0 {
		s.MaxPageChars = 6000
	}
	if s.CacheSize <= 0 {
		s.CacheSize = 128
	}
	if s.CacheTTL <= 0 {
		s.CacheTTL = 30 * time.Minute
	}
	return s
}

func (s SearchConfig) Validate() error {
	switch s.Provider {
	case "serper", "brave":
	default:
		return fmt.Errorf("search.provider must be serper or brave, got %q", s.Provider)
	}
	switch s.Fetcher {
	case "http", "chromedp":
	default:
		return fmt.Errorf("search.fetcher must be http or chromedp, got %q", s.Fetcher)
	}
	if strings.TrimSpace(s.APIKey()) == "" {
		return fmt.Errorf("search api key for %s is required", s.Provider)
	}
	return nil
}

// PipelineConfig tunes the research manager
type PipelineConfig struct {
	NumSearches      int    `mapstructure:"num_searches"`
	ParallelSearches bool   `mapstructure:"parallel_searches"`
	MaxParallel      int    `mapstructure:"max_parallel"`
	MinReportWords   int    `mapstructure:"min_report_words"`
	WriteAttempts    int    `mapstructure:"write_attempts"`
	OutputGuardrail  bool   `mapstructure:"output_guardrail"`
	ReportTitle      string `mapstructure:"report_title"`
	SubjectPrefix    string `mapstructure:"subject_prefix"`
}

func (p PipelineConfig) Normalize() PipelineConfig {
	if p.NumSearches <= 0 {
		p.NumSearches = 3
	}
	if p.MaxParallel <= 0 {
		p.MaxParallel = p.NumSearches
	}
	if p.WriteAttempts <= 0 {
		p.WriteAttempts = 1
	}
	if strings.TrimSpace(p.ReportTitle) == "" {
		p.ReportTitle = "Research Report"
	}
	if p.SubjectPrefix == "" {
		p.SubjectPrefix = "Research Report: "
	}
	return p
}

func (p PipelineConfig) Validate() error {
	if p.NumSearches > 10 {
		return fmt.Errorf("pipeline.num_searches must be <= 10")
	}
	if p.MinReportWords < 0 {
		return fmt.Errorf("pipeline.min_report_words cannot be negative")
	}
	return nil
}

// GuardrailConfig points at the flag policy
type GuardrailConfig struct {
	PolicyFile   string `mapstructure:"policy_file"`
	BlockOnVague bool   `mapstructure:"block_on_vague"`
}

// StatusConfig selects the status bus backend and the stream loop timing
type StatusConfig struct {
	Backend       string        `mapstructure:"backend"` // memory or redis
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	DrainTimeout  time.Duration `mapstructure:"drain_timeout"`
	DrainAttempts int           `mapstructure:"drain_attempts"`
	StreamPrefix  string        `mapstructure:"stream_prefix"`
	StreamMaxLen  int64         `mapstructure:"stream_max_len"`
	StreamTTL     time.Duration `mapstructure:"stream_ttl"`
}

func (s StatusConfig) Normalize() StatusConfig {
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	if s.Backend == "" {
		s.Backend = "memory"
	}
	if s.PollInterval <= 0 {
		s.PollInterval = 300 * time.Millisecond
	}
	if s.DrainTimeout <= 0 {
		s.DrainTimeout = 50 * time.Millisecond
	}
	if s.DrainAttempts <= 0 {
		s.DrainAttempts = 5
	}
	return s
}

func (s StatusConfig) Validate() error {
	switch s.Backend {
	case "memory", "redis":
		return nil
	default:
		return fmt.Errorf("status.backend must be memory or redis, got %q", s.Backend)
	}
}

// EmailConfig contains SendGrid settings
type EmailConfig struct {
	APIKey   string `mapstructure:"api_key"`
	From     string `mapstructure:"from"`
	FromName string `mapstructure:"from_name"`
}

// StorageConfig contains connections to backing stores
type StorageConfig struct {
	Postgres   PostgresConfig `mapstructure:"postgres"`
	Redis      RedisConfig    `mapstructure:"redis"`
	Migrations string         `mapstructure:"migrations"`
}

// PostgresConfig holds run history database settings
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// Enabled reports whether run history is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.URL) != "" || (strings.TrimSpace(p.Host) != "" && strings.TrimSpace(p.DBName) != "")
}

// DSN returns the URL when set, otherwise assembles one from parts.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	if !p.Enabled() {
		return ""
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     p.Host + ":" + port,
		Path:     "/" + p.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(ssl),
	}
	return u.String()
}

// RedisConfig holds the status bus connection
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Addr) == "" {
		return fmt.Errorf("storage.redis.addr is required when status.backend is redis")
	}
	if r.DB < 0 {
		return fmt.Errorf("storage.redis.db cannot be negative")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// Validate checks cross-section rules after normalisation.
func (c *Config) Validate() error {
	var errs []error
	for _, err := range []error{
		c.LLM.Validate(),
		c.Search.Validate(),
		c.Pipeline.Validate(),
		c.Status.Validate(),
	} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if c.Status.Backend == "redis" {
		if err := c.Storage.Redis.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Normalize fills defaults on every section.
func (c *Config) Normalize() {
	c.Server = c.Server.Normalize()
	c.LLM = c.LLM.Normalize()
	c.Search = c.Search.Normalize()
	c.Pipeline = c.Pipeline.Normalize()
	c.Status = c.Status.Normalize()
	if c.General.RunTimeout <= 0 {
		c.General.RunTimeout = 15 * time.Minute
	}
	if strings.TrimSpace(c.Storage.Migrations) == "" {
		c.Storage.Migrations = "file://migrations"
	}
	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		c.Telemetry.ServiceName = "deepresearch"
	}
}

// envBindings are the provider variables honoured without the prefix.
var envBindings = map[string]string{
	"llm.api_key":             "OPENAI_API_KEY",
	"email.api_key":           "SENDGRID_API_KEY",
	"search.brave_api_key":    "BRAVE_API_KEY",
	"search.serper_api_key":   "SERPER_API_KEY",
	"storage.postgres.url":    "DATABASE_URL",
	"storage.redis.addr":      "REDIS_ADDR",
	"telemetry.otlp_endpoint": "OTEL_EXPORTER_OTLP_ENDPOINT",
}

// Load reads the configuration without validating it. A missing config file
// is not an error when path is empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	v.SetDefault("server.address", ":8080")
	v.SetDefault("status.backend", "memory")
	v.SetDefault("search.provider", "serper")
	v.SetDefault("search.fetcher", "http")
	v.SetDefault("search.fetch_pages", 2)
	v.SetDefault("pipeline.num_searches", 3)
	v.SetDefault("pipeline.output_guardrail", false)
	v.SetDefault("email.from_name", "Deep Research")

	if path == "" {
		v.AddConfigPath("./config") // path to look for the config file in
		v.AddConfigPath(".")        // optionally look for config in the working directory
		if exe, err := os.Executable(); err == nil {
			v.AddConfigPath(filepath.Dir(exe))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("DEEPRESEARCH")
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv() // read in environment variables that match (DEEPRESEARCH_*)
	for key, env := range envBindings {
		prefixed := "DEEPRESEARCH_" + strings.ToUpper(replacer.Replace(key))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	config.Normalize()
	return &config, nil
}

// LoadConfig loads and validates the configuration.
func LoadConfig(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
