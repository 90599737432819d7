package s3

import (
	"errors"
	"time"
)

// Config represents the configuration for the AWS S3 client
type Config struct {
	// Region is required by the SDK even for S3-compatible endpoints
	Region string `mapstructure:"region"`

	// Endpoint overrides the AWS endpoint, e.g. "http://localhost:9000" (optional)
	Endpoint string `mapstructure:"endpoint"`

	// UsePathStyle addresses buckets as endpoint/bucket instead of bucket.endpoint
	UsePathStyle bool `mapstructure:"use_path_style"`

	// Static credentials. When empty the default AWS credential chain is used.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`

	// StorageClass is applied to every uploaded object, e.g. "GLACIER" or "DEEP_ARCHIVE"
	StorageClass string `mapstructure:"storage_class"`

	// MaxAttempts bounds SDK level retries of one request
	MaxAttempts int `mapstructure:"max_attempts"`

	// RequestTimeout is the timeout for individual non-streaming requests
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Region:         "us-east-1",
		StorageClass:   "GLACIER",
		MaxAttempts:    5,
		RequestTimeout: 30 * time.Second,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Region == "" {
		return errors.New("s3: region is required")
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return errors.New("s3: access_key_id and secret_access_key must be set together")
	}
	if c.MaxAttempts < 0 {
		return errors.New("s3: max_attempts must be >= 0")
	}
	return nil
}
