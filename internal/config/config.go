// Package config loads process configuration from an optional YAML file
// overlaid with environment variables.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/jacentio/loyalty/event"
	"github.com/jacentio/loyalty/ledger"
	"github.com/jacentio/loyalty/order"
	"github.com/jacentio/loyalty/store"
	"github.com/jacentio/loyalty/stream"
)

// FileEnv names the environment variable holding the YAML file path.
const FileEnv = "LOYALTY_CONFIG_FILE"

// Event sinks.
const (
	SinkEventBridge = "eventbridge"
	SinkLog         = "log"
	SinkNone        = "none"
)

// Config is the process configuration. Zero values fall back to the
// defaults of each component.
type Config struct {
	Region       string `yaml:"region"`
	TableName    string `yaml:"tableName"`
	Endpoint     string `yaml:"dynamodbEndpoint"`
	ScanPageSize int32  `yaml:"scanPageSize"`

	EventBusName string `yaml:"eventBusName"`
	EventSource  string `yaml:"eventSource"`

	// EventSink selects where events go: "eventbridge", "log" or "none".
	EventSink string `yaml:"eventSink"`

	LogLevel string `yaml:"logLevel"`

	// AWSMaxAttempts bounds SDK transport retries.
	AWSMaxAttempts int `yaml:"awsMaxAttempts"`

	LedgerMaxAttempts int    `yaml:"ledgerMaxAttempts"`
	StatusShards      int    `yaml:"orderStatusShards"`
	DefaultCurrency   string `yaml:"defaultCurrency"`

	// PointsPerUnit is a decimal string such as "1" or "1.5".
	PointsPerUnit string `yaml:"pointsPerCurrencyUnit"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		TableName:       store.DefaultConfig().TableName,
		ScanPageSize:    store.DefaultConfig().ScanPageSize,
		EventBusName:    "default",
		EventSource:     event.DefaultSource,
		EventSink:       SinkEventBridge,
		LogLevel:        "info",
		AWSMaxAttempts:  3,
		DefaultCurrency: order.DefaultConfig().DefaultCurrency,
		PointsPerUnit:   "1",
	}
}

// Load reads the YAML file named by LOYALTY_CONFIG_FILE, if any, and then
// applies environment overrides.
func Load() (*Config, error) {
	return load(os.Getenv, os.ReadFile)
}

func load(getenv func(string) string, readFile func(string) ([]byte, error)) (*Config, error) {
	c := Default()
	if path := getenv(FileEnv); path != "" {
		data, err := readFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := c.applyEnv(getenv); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"AWS_REGION":          &c.Region,
		"DYNAMODB_TABLE_NAME": &c.TableName,
		"DYNAMODB_ENDPOINT":   &c.Endpoint,
		"EVENT_BUS_NAME":      &c.EventBusName,
		"EVENT_SOURCE":        &c.EventSource,
		"EVENT_SINK":          &c.EventSink,
		"LOG_LEVEL":           &c.LogLevel,
		"DEFAULT_CURRENCY":    &c.DefaultCurrency,

		"POINTS_PER_CURRENCY_UNIT": &c.PointsPerUnit,
	}
	for name, dst := range strs {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"AWS_MAX_ATTEMPTS":    &c.AWSMaxAttempts,
		"LEDGER_MAX_ATTEMPTS": &c.LedgerMaxAttempts,
		"ORDER_STATUS_SHARDS": &c.StatusShards,
	}
	for name, dst := range ints {
		v := strings.TrimSpace(getenv(name))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
	}

	if v := strings.TrimSpace(getenv("SCAN_PAGE_SIZE")); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("SCAN_PAGE_SIZE: %w", err)
		}
		c.ScanPageSize = int32(n)
	}
	return nil
}

func (c *Config) validate() error {
	switch c.EventSink {
	case SinkEventBridge, SinkLog, SinkNone:
	default:
		return fmt.Errorf("unknown event sink %q", c.EventSink)
	}
	if _, err := c.pointsPerUnit(); err != nil {
		return err
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}

func (c *Config) pointsPerUnit() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.PointsPerUnit)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("points per currency unit %q: %w", c.PointsPerUnit, err)
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("points per currency unit must be positive, got %s", d)
	}
	return d, nil
}

// Level returns the configured log level, defaulting to info.
func (c *Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// StoreConfig returns the table adapter configuration.
func (c *Config) StoreConfig() store.Config {
	return store.Config{TableName: c.TableName, ScanPageSize: c.ScanPageSize}
}

// LedgerConfig returns the ledger configuration.
func (c *Config) LedgerConfig() ledger.Config {
	lc := ledger.DefaultConfig()
	if c.LedgerMaxAttempts > 0 {
		lc.MaxAttempts = c.LedgerMaxAttempts
	}
	return lc
}

// OrderConfig returns the order service configuration.
func (c *Config) OrderConfig() order.Config {
	return order.Config{StatusShards: c.StatusShards, DefaultCurrency: c.DefaultCurrency}
}

// StreamConfig returns the accrual handler configuration.
func (c *Config) StreamConfig() stream.Config {
	d, err := c.pointsPerUnit()
	if err != nil {
		return stream.DefaultConfig()
	}
	return stream.Config{PointsPerUnit: d}
}

// AWS loads the shared AWS configuration with the configured region and
// SDK retry budget.
func (c *Config) AWS(ctx context.Context) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.Region))
	}
	if c.AWSMaxAttempts > 0 {
		opts = append(opts, awsconfig.WithRetryMaxAttempts(c.AWSMaxAttempts))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// DynamoDBOptions applies the endpoint override used for local tables.
func (c *Config) DynamoDBOptions(o *dynamodb.Options) {
	if c.Endpoint != "" {
		o.BaseEndpoint = aws.String(c.Endpoint)
	}
}
