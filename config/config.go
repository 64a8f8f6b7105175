// Package config loads doctrans settings from a YAML file, a .env file and
// the environment. Environment variables use the DOCTRANS_ prefix
// (DOCTRANS_DEEPL_API_KEY for deepl.api_key); the historical DEEPL_*
// variable names are honored as well.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileName is the default config file name.
const FileName = "doctrans.yaml"

// ---------------------------------------------------------------------------
// Schema
// ---------------------------------------------------------------------------

// Config is the resolved configuration.
type Config struct {
	DeepL   DeepL   `mapstructure:"deepl" yaml:"deepl"`
	Pricing Pricing `mapstructure:"pricing" yaml:"pricing"`
	Dirs    Dirs    `mapstructure:"dirs" yaml:"dirs"`
	HTTP    HTTP    `mapstructure:"http" yaml:"http"`
	Poll    Poll    `mapstructure:"poll" yaml:"poll"`
	Text    Text    `mapstructure:"text" yaml:"text"`
	Batch   Batch   `mapstructure:"batch" yaml:"batch"`
	PDF     PDF     `mapstructure:"pdf" yaml:"pdf"`
	OCR     OCR     `mapstructure:"ocr" yaml:"ocr"`
	Uploads Uploads `mapstructure:"uploads" yaml:"uploads"`
	Server  Server  `mapstructure:"server" yaml:"server"`
	Cleanup Cleanup `mapstructure:"cleanup" yaml:"cleanup"`
	Outputs Outputs `mapstructure:"outputs" yaml:"outputs"`
	Log     Log     `mapstructure:"log" yaml:"log"`
}

type DeepL struct {
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`
	GlossaryID string `mapstructure:"glossary_id" yaml:"glossary_id"`
}

type Pricing struct {
	PerMillion float64 `mapstructure:"per_million" yaml:"per_million"`
	Currency   string  `mapstructure:"currency" yaml:"currency"`
}

// Dirs are the working areas. Uploads are read-only to the orchestrator,
// downloads receive outputs, temp holds intermediate files and data holds
// the job database and the history ledger.
type Dirs struct {
	Uploads   string `mapstructure:"uploads" yaml:"uploads"`
	Downloads string `mapstructure:"downloads" yaml:"downloads"`
	Temp      string `mapstructure:"temp" yaml:"temp"`
	Data      string `mapstructure:"data" yaml:"data"`
}

type HTTP struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Proxy          string        `mapstructure:"proxy" yaml:"proxy"`
}

type Poll struct {
	Interactive time.Duration `mapstructure:"interactive" yaml:"interactive"`
	Batch       time.Duration `mapstructure:"batch" yaml:"batch"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
}

type Text struct {
	ChunkSize int `mapstructure:"chunk_size" yaml:"chunk_size"`
}

type Batch struct {
	MaxChars    int           `mapstructure:"max_chars" yaml:"max_chars"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
}

type PDF struct {
	Font string `mapstructure:"font" yaml:"font"`
}

type OCR struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Languages string `mapstructure:"languages" yaml:"languages"`
}

type Uploads struct {
	MaxBytes int64 `mapstructure:"max_bytes" yaml:"max_bytes"`
}

type Server struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type Cleanup struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxAge   time.Duration `mapstructure:"max_age" yaml:"max_age"`
}

type Outputs struct {
	GCSBucket string `mapstructure:"gcs_bucket" yaml:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix" yaml:"gcs_prefix"`
}

type Log struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// Default returns the built-in configuration rooted at dir.
func Default(dir string) Config {
	return Config{
		Pricing: Pricing{PerMillion: 25, Currency: "USD"},
		Dirs: Dirs{
			Uploads:   filepath.Join(dir, "uploads"),
			Downloads: filepath.Join(dir, "downloads"),
			Temp:      filepath.Join(dir, "tmp"),
			Data:      filepath.Join(dir, "data"),
		},
		HTTP:    HTTP{ConnectTimeout: 15 * time.Second, Timeout: 60 * time.Second},
		Poll:    Poll{Interactive: 1500 * time.Millisecond, Batch: 4 * time.Second, MaxAttempts: 300},
		Text:    Text{ChunkSize: 4500},
		Batch:   Batch{MaxChars: 30000, MaxAttempts: 5, BaseDelay: time.Second},
		OCR:     OCR{Enabled: true, Languages: "jpn+eng"},
		Uploads: Uploads{MaxBytes: 20 << 20},
		Server:  Server{Addr: ":8080"},
		Cleanup: Cleanup{Interval: time.Hour, MaxAge: 24 * time.Hour},
		Log:     Log{Level: "info", Format: "text"},
	}
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("deepl.api_key", "")
	v.SetDefault("deepl.base_url", "")
	v.SetDefault("deepl.glossary_id", "")
	v.SetDefault("pricing.per_million", d.Pricing.PerMillion)
	v.SetDefault("pricing.currency", d.Pricing.Currency)
	v.SetDefault("dirs.uploads", d.Dirs.Uploads)
	v.SetDefault("dirs.downloads", d.Dirs.Downloads)
	v.SetDefault("dirs.temp", d.Dirs.Temp)
	v.SetDefault("dirs.data", d.Dirs.Data)
	v.SetDefault("http.connect_timeout", d.HTTP.ConnectTimeout)
	v.SetDefault("http.timeout", d.HTTP.Timeout)
	v.SetDefault("http.proxy", "")
	v.SetDefault("poll.interactive", d.Poll.Interactive)
	v.SetDefault("poll.batch", d.Poll.Batch)
	v.SetDefault("poll.max_attempts", d.Poll.MaxAttempts)
	v.SetDefault("text.chunk_size", d.Text.ChunkSize)
	v.SetDefault("batch.max_chars", d.Batch.MaxChars)
	v.SetDefault("batch.max_attempts", d.Batch.MaxAttempts)
	v.SetDefault("batch.base_delay", d.Batch.BaseDelay)
	v.SetDefault("pdf.font", "")
	v.SetDefault("ocr.enabled", d.OCR.Enabled)
	v.SetDefault("ocr.languages", d.OCR.Languages)
	v.SetDefault("uploads.max_bytes", d.Uploads.MaxBytes)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("cleanup.interval", d.Cleanup.Interval)
	v.SetDefault("cleanup.max_age", d.Cleanup.MaxAge)
	v.SetDefault("outputs.gcs_bucket", "")
	v.SetDefault("outputs.gcs_prefix", "")
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// legacyEnv maps the environment variable names used by earlier
// deployments to config keys. The first variable set wins.
var legacyEnv = map[string][]string{
	"deepl.api_key":       {"DEEPL_API_KEY", "DEEPL_AUTH_KEY"},
	"deepl.base_url":      {"DEEPL_API_BASE"},
	"deepl.glossary_id":   {"DEEPL_GLOSSARY_ID"},
	"pricing.per_million": {"DEEPL_PRICE_PER_MILLION"},
	"pricing.currency":    {"DEEPL_PRICE_CCY"},
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load resolves the configuration. path names a YAML file; when empty,
// doctrans.yaml in dir is used if it exists. A .env file in dir is loaded
// into the environment first without overriding variables already set.
func Load(dir, path string) (*Config, error) {
	envFile := filepath.Join(dir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
		log.WithField("file", envFile).Debug("Loaded environment file")
	}

	v := viper.New()
	setDefaults(v, Default(dir))

	v.SetEnvPrefix("DOCTRANS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range legacyEnv {
		args := append([]string{key, "DOCTRANS_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if path == "" {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		log.WithField("file", path).Debug("Loaded config file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the rest of the program cannot work with. A
// missing API key is not an error here; commands that call the provider
// report it.
func (c *Config) Validate() error {
	if c.Pricing.PerMillion < 0 {
		return fmt.Errorf("pricing.per_million must not be negative")
	}
	if c.Poll.MaxAttempts <= 0 {
		return fmt.Errorf("poll.max_attempts must be positive")
	}
	if c.Text.ChunkSize <= 0 {
		return fmt.Errorf("text.chunk_size must be positive")
	}
	if c.Uploads.MaxBytes <= 0 {
		return fmt.Errorf("uploads.max_bytes must be positive")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	for name, d := range map[string]string{
		"dirs.uploads":   c.Dirs.Uploads,
		"dirs.downloads": c.Dirs.Downloads,
		"dirs.temp":      c.Dirs.Temp,
		"dirs.data":      c.Dirs.Data,
	} {
		if strings.TrimSpace(d) == "" {
			return fmt.Errorf("%s must not be empty", name)
		}
	}
	return nil
}

// EnsureDirs creates every working directory.
func (c *Config) EnsureDirs() error {
	for _, d := range []string{c.Dirs.Uploads, c.Dirs.Downloads, c.Dirs.Temp, c.Dirs.Data} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", d, err)
		}
	}
	return nil
}

// DatabasePath is the job database.
func (c *Config) DatabasePath() string { return filepath.Join(c.Dirs.Data, "jobs.db") }

// HistoryPath is the CSV history ledger.
func (c *Config) HistoryPath() string { return filepath.Join(c.Dirs.Data, "history.csv") }

// ---------------------------------------------------------------------------
// Writing
// ---------------------------------------------------------------------------

const defaultHeader = `# doctrans configuration.
#
# Every key can be overridden with an environment variable: prefix it with
# DOCTRANS_ and replace dots with underscores (deepl.api_key becomes
# DOCTRANS_DEEPL_API_KEY). DEEPL_API_KEY, DEEPL_API_BASE, DEEPL_GLOSSARY_ID,
# DEEPL_PRICE_PER_MILLION and DEEPL_PRICE_CCY are also read.
#
# Prefer "doctrans auth set" over storing the API key here.

`

// WriteDefault writes a commented default config file to path. It refuses
// to overwrite an existing file unless force is set.
func WriteDefault(path, dir string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	var buf bytes.Buffer
	buf.WriteString(defaultHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	cfg := Default(dir)
	if err := enc.Encode(&cfg); err != nil {
		return fmt.Errorf("encoding defaults: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding defaults: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}
