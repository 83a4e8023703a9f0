// Package config loads exporter settings from a .env file and the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Recruitee RecruiteeConfig
	Output    OutputConfig
	S3        S3Config
	Logging   LoggingConfig
}

type RecruiteeConfig struct {
	BaseURL string

	// Concurrency caps in-flight profile fetches; 0 is unbounded.
	Concurrency int

	// DownloadConcurrency caps records downloading at once; 0 is unbounded.
	DownloadConcurrency int

	// Timeout bounds each profile fetch.
	Timeout time.Duration
}

type OutputConfig struct {
	// Dir overrides the default run directory.
	Dir string
}

// S3Config selects the object store sink when Bucket is set.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

type LoggingConfig struct {
	Level  string
	Pretty bool
}

// Enabled reports whether uploads go to the object store.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// Load reads an optional .env file from the working directory, then the
// environment. Variables already set in the environment take precedence
// over the file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	timeout, err := getEnvDuration("RECRUITEE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Recruitee: RecruiteeConfig{
			BaseURL:             getEnv("RECRUITEE_BASE_URL", "https://api.recruitee.com"),
			Concurrency:         getEnvInt("RECRUITEE_CONCURRENCY", 0),
			DownloadConcurrency: getEnvInt("RECRUITEE_DOWNLOAD_CONCURRENCY", 0),
			Timeout:             timeout,
		},
		Output: OutputConfig{
			Dir: getEnv("RECRUITEE_OUTPUT_DIR", ""),
		},
		S3: S3Config{
			Endpoint:  getEnv("S3_ENDPOINT", ""),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
			Bucket:    getEnv("S3_BUCKET", ""),
			Region:    getEnv("S3_REGION", ""),
			UseSSL:    getEnvBool("S3_USE_SSL", true),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Pretty: getEnvBool("LOG_PRETTY", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Recruitee.BaseURL == "" {
		return fmt.Errorf("RECRUITEE_BASE_URL is required")
	}
	if c.Recruitee.Concurrency < 0 {
		return fmt.Errorf("RECRUITEE_CONCURRENCY must not be negative")
	}
	if c.Recruitee.DownloadConcurrency < 0 {
		return fmt.Errorf("RECRUITEE_DOWNLOAD_CONCURRENCY must not be negative")
	}
	if c.Recruitee.Timeout < 0 {
		return fmt.Errorf("RECRUITEE_TIMEOUT must not be negative")
	}
	if c.S3.Enabled() {
		if c.S3.Endpoint == "" {
			return fmt.Errorf("S3_ENDPOINT is required when S3_BUCKET is set")
		}
		if c.S3.AccessKey == "" || c.S3.SecretKey == "" {
			return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY are required when S3_BUCKET is set")
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("45s") and bare seconds ("45").
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, value)
	}
	return d, nil
}
