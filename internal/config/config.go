package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"boardhealth/internal/classify"
)

// Config holds service configuration derived from defaults, an optional YAML
// file and environment variables, in increasing precedence.
type Config struct {
	HTTPPort        string
	DBPath          string
	ConfigPath      string
	Classifier      string
	ThresholdCutoff float64
	ClassColumn     string
	IgnoreColumns   []string
	RowCap          int
	ProgressEvery   int
	MaxUploadMB     int
	InboxDir        string
	EnableWatcher   bool
	WorkerCount     int
	JobQueueSize    int
	JobTimeoutSec   int
	LogLevel        string
	StrictConfig    bool

	// Warnings collects non-fatal problems found while loading; the caller
	// logs them once a logger exists.
	Warnings []string
}

type fileConfig struct {
	HTTPPort        string   `yaml:"http_port"`
	DBPath          string   `yaml:"db_path"`
	Classifier      string   `yaml:"classifier"`
	ThresholdCutoff *float64 `yaml:"threshold_cutoff"`
	ClassColumn     string   `yaml:"class_column"`
	IgnoreColumns   []string `yaml:"ignore_columns"`
	RowCap          *int     `yaml:"row_cap"`
	ProgressEvery   *int     `yaml:"progress_every"`
	MaxUploadMB     *int     `yaml:"max_upload_mb"`
	InboxDir        string   `yaml:"inbox_dir"`
	EnableWatcher   *bool    `yaml:"enable_watcher"`
	LogLevel        string   `yaml:"log_level"`
}

const (
	defaultPort          = ":8080"
	defaultConfigPath    = "config/config.yaml"
	defaultDBPath        = "data/database.sqlite"
	defaultClassifier    = "threshold"
	defaultCutoff        = classify.DefaultCutoff
	defaultClassColumn   = "Reading"
	defaultRowCap        = 20000
	maxRowCap            = 1000000
	defaultProgressEvery = 500
	defaultMaxUploadMB   = 32
	defaultWorkerCount   = 1
	defaultQueueSize     = 16
	maxQueueSize         = 1024
	defaultJobTimeoutSec = 300
	defaultLogLevel      = "info"
)

func defaultIgnoreColumns() []string {
	return []string{"", "index", "Unnamed: 0"}
}

// Load reads .env, then CONFIG_PATH (default config/config.yaml), then the
// environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return LoadFrom(getEnv("CONFIG_PATH", defaultConfigPath))
}

// LoadFrom is Load with an explicit config file path.
func LoadFrom(configPath string) (Config, error) {
	cfg := Config{
		HTTPPort:        defaultPort,
		DBPath:          defaultDBPath,
		ConfigPath:      configPath,
		Classifier:      defaultClassifier,
		ThresholdCutoff: defaultCutoff,
		ClassColumn:     defaultClassColumn,
		IgnoreColumns:   defaultIgnoreColumns(),
		RowCap:          defaultRowCap,
		ProgressEvery:   defaultProgressEvery,
		MaxUploadMB:     defaultMaxUploadMB,
		WorkerCount:     defaultWorkerCount,
		JobQueueSize:    defaultQueueSize,
		JobTimeoutSec:   defaultJobTimeoutSec,
		LogLevel:        defaultLogLevel,
		StrictConfig:    parseBoolEnv("STRICT_CONFIG"),
	}

	fileCfg, err := loadFileConfig(configPath)
	if err != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("config load failed (%s): %w", configPath, err)
		}
		cfg.warnf("config load failed (%s): %v (using defaults)", configPath, err)
	}
	cfg.applyFile(fileCfg)

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	cfg.normalize()
	return cfg, nil
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fc, nil
	}
	if err != nil {
		return fc, err
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return fc, nil
}

func (c *Config) applyFile(fc fileConfig) {
	c.HTTPPort = firstNonEmpty(fc.HTTPPort, c.HTTPPort)
	c.DBPath = firstNonEmpty(fc.DBPath, c.DBPath)
	c.Classifier = firstNonEmpty(fc.Classifier, c.Classifier)
	c.ClassColumn = firstNonEmpty(fc.ClassColumn, c.ClassColumn)
	c.InboxDir = firstNonEmpty(fc.InboxDir, c.InboxDir)
	c.LogLevel = firstNonEmpty(fc.LogLevel, c.LogLevel)
	if fc.IgnoreColumns != nil {
		c.IgnoreColumns = fc.IgnoreColumns
	}
	if fc.ThresholdCutoff != nil {
		c.ThresholdCutoff = *fc.ThresholdCutoff
	}
	if fc.RowCap != nil {
		c.RowCap = *fc.RowCap
	}
	if fc.ProgressEvery != nil {
		c.ProgressEvery = *fc.ProgressEvery
	}
	if fc.MaxUploadMB != nil {
		c.MaxUploadMB = *fc.MaxUploadMB
	}
	if fc.EnableWatcher != nil {
		c.EnableWatcher = *fc.EnableWatcher
	}
}

func (c *Config) applyEnv() error {
	c.HTTPPort = firstNonEmpty(os.Getenv("HTTP_PORT"), c.HTTPPort)
	if legacyPort := os.Getenv("PORT"); legacyPort != "" && os.Getenv("HTTP_PORT") == "" {
		c.HTTPPort = legacyPort
	}
	c.DBPath = firstNonEmpty(os.Getenv("DB_PATH"), c.DBPath)
	c.Classifier = firstNonEmpty(os.Getenv("CLASSIFIER"), c.Classifier)
	c.ClassColumn = firstNonEmpty(os.Getenv("CLASS_COLUMN"), c.ClassColumn)
	c.InboxDir = firstNonEmpty(os.Getenv("INBOX_DIR"), c.InboxDir)
	c.LogLevel = firstNonEmpty(os.Getenv("LOG_LEVEL"), c.LogLevel)
	if v, ok := os.LookupEnv("IGNORE_COLUMNS"); ok {
		c.IgnoreColumns = splitList(v)
	}
	if _, ok := os.LookupEnv("ENABLE_WATCHER"); ok {
		c.EnableWatcher = parseBoolEnv("ENABLE_WATCHER")
	}

	if v := os.Getenv("THRESHOLD_CUTOFF"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			if c.StrictConfig {
				return fmt.Errorf("invalid THRESHOLD_CUTOFF: %w", err)
			}
			c.warnf("invalid THRESHOLD_CUTOFF=%q, using %v", v, c.ThresholdCutoff)
		} else {
			c.ThresholdCutoff = f
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"ROW_CAP", &c.RowCap},
		{"PROGRESS_EVERY", &c.ProgressEvery},
		{"MAX_UPLOAD_MB", &c.MaxUploadMB},
		{"WORKER_COUNT", &c.WorkerCount},
		{"JOB_QUEUE_SIZE", &c.JobQueueSize},
		{"JOB_TIMEOUT_SEC", &c.JobTimeoutSec},
	}
	for _, it := range ints {
		v, ok, err := parseIntEnv(it.key)
		if err != nil {
			if c.StrictConfig {
				return fmt.Errorf("invalid %s: %w", it.key, err)
			}
			c.warnf("invalid %s: %v (using %d)", it.key, err, *it.dst)
			continue
		}
		if ok {
			*it.dst = v
		}
	}
	return nil
}

func (c *Config) normalize() {
	if !strings.HasPrefix(c.HTTPPort, ":") && !strings.Contains(c.HTTPPort, ":") {
		c.HTTPPort = ":" + c.HTTPPort
	}
	if c.RowCap <= 0 {
		c.warnf("row cap must be positive, using default %d", defaultRowCap)
		c.RowCap = defaultRowCap
	}
	if c.RowCap > maxRowCap {
		c.warnf("row cap capped at %d (was %d)", maxRowCap, c.RowCap)
		c.RowCap = maxRowCap
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = defaultProgressEvery
	}
	if c.MaxUploadMB <= 0 {
		c.MaxUploadMB = defaultMaxUploadMB
	}
	if c.WorkerCount <= 0 {
		c.warnf("WORKER_COUNT must be positive, using default %d", defaultWorkerCount)
		c.WorkerCount = defaultWorkerCount
	}
	if c.JobQueueSize < c.WorkerCount {
		c.JobQueueSize = max(defaultQueueSize, c.WorkerCount)
	}
	if c.JobQueueSize > maxQueueSize {
		c.JobQueueSize = maxQueueSize
	}
	if c.JobTimeoutSec <= 0 {
		c.JobTimeoutSec = defaultJobTimeoutSec
	}
}

// JobTimeout returns the per-job timeout for watcher ingestion.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSec) * time.Second
}

// MaxUploadBytes is the multipart body limit for /upload.
func (c Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// WatcherEnabled reports whether the inbox watcher should run.
func (c Config) WatcherEnabled() bool {
	return c.EnableWatcher && strings.TrimSpace(c.InboxDir) != ""
}

func (c *Config) warnf(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseBoolEnv(key string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return b
}

func parseIntEnv(key string) (int, bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Now returns utc time helper for deterministic timestamps.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
