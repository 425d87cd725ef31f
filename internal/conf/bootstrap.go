// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// Bootstrap is the root configuration of the routing engine.
type Bootstrap struct {
	Server     *Server
	Data       *Data
	Metrics    *Metrics
	Breaker    *Breaker
	SLA        *SLA
	Anomaly    *Anomaly
	Failover   *Failover
	Notify     *Notify
	Connectors []*ConnectorEndpoint
	Log        *Log
}

// Server holds transport configuration.
type Server struct {
	HTTP *ServerHTTP
}

// ServerHTTP holds the HTTP listener configuration.
type ServerHTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds backing store configuration.
type Data struct {
	Database *Database
	Redis    *Redis
}

// Database holds the MySQL connection configuration.
type Database struct {
	Driver string
	Source string
}

// Redis holds the Redis connection configuration.
type Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Metrics holds the external metrics source configuration used by the SLA
// evaluator.
type Metrics struct {
	BaseURL      string
	QueryPath    string
	QueryTimeout *durationpb.Duration
}

// Breaker holds circuit breaker tuning.
type Breaker struct {
	FailureThreshold int
	ResetTimeout     *durationpb.Duration
	ProbeTimeout     *durationpb.Duration
}

// SLA holds evaluator tuning.
type SLA struct {
	EvaluateInterval *durationpb.Duration
}

// Anomaly holds the anomaly detector tuning.
type Anomaly struct {
	Enabled       bool
	SweepInterval *durationpb.Duration
	AutoThreshold float64
	Cooldown      *durationpb.Duration
	RecentWindow  *durationpb.Duration
}

// Failover holds failover execution tuning.
type Failover struct {
	ExecuteTimeout *durationpb.Duration
}

// ConnectorEndpoint describes one registered settlement connector.
type ConnectorEndpoint struct {
	ID               string `mapstructure:"id"`
	URL              string `mapstructure:"url"`
	SupportsReversal bool   `mapstructure:"supports_reversal"`
}

// Notify holds webhook notification configuration. Webhooks maps a scope
// name (ops, routing, failover, sla, ticketing) to a delivery URL; scopes
// without a URL are logged instead of delivered.
type Notify struct {
	Webhooks map[string]string
	Timeout  *durationpb.Duration
	// SigningSecret, when set, enables HMAC signing of webhook payloads.
	SigningSecret string
}

// Log holds logging configuration.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies
// defaults, and allows overrides from environment variables prefixed with
// ROUTEGUARD_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Required environment variables:
//   - MYSQL_DSN or ROUTEGUARD_DATA_DATABASE_SOURCE: MySQL connection string
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Enable environment variable support with ROUTEGUARD_ prefix
	v.SetEnvPrefix("ROUTEGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names (without ROUTEGUARD_ prefix)
	// for compatibility with deployment manifests
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "ROUTEGUARD_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "ROUTEGUARD_DATA_REDIS_ADDR")
	_ = v.BindEnv("metrics.base_url", "METRICS_BASE_URL", "ROUTEGUARD_METRICS_BASE_URL")
	_ = v.BindEnv("notify.signing_secret", "WEBHOOK_SIGNING_SECRET", "ROUTEGUARD_NOTIFY_SIGNING_SECRET")

	// Load configuration file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// If config file is specified but not found, return error
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	// Parse configuration into Bootstrap structure
	bc := &Bootstrap{
		Server: &Server{
			HTTP: &ServerHTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
		},
		Data: &Data{
			Database: &Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
		},
		Metrics: &Metrics{
			BaseURL:      v.GetString("metrics.base_url"),
			QueryPath:    v.GetString("metrics.query_path"),
			QueryTimeout: durationpb.New(v.GetDuration("metrics.query_timeout")),
		},
		Breaker: &Breaker{
			FailureThreshold: v.GetInt("breaker.failure_threshold"),
			ResetTimeout:     durationpb.New(v.GetDuration("breaker.reset_timeout")),
			ProbeTimeout:     durationpb.New(v.GetDuration("breaker.probe_timeout")),
		},
		SLA: &SLA{
			EvaluateInterval: durationpb.New(v.GetDuration("sla.evaluate_interval")),
		},
		Anomaly: &Anomaly{
			Enabled:       v.GetBool("anomaly.enabled"),
			SweepInterval: durationpb.New(v.GetDuration("anomaly.sweep_interval")),
			AutoThreshold: v.GetFloat64("anomaly.auto_threshold"),
			Cooldown:      durationpb.New(v.GetDuration("anomaly.cooldown")),
			RecentWindow:  durationpb.New(v.GetDuration("anomaly.recent_window")),
		},
		Failover: &Failover{
			ExecuteTimeout: durationpb.New(v.GetDuration("failover.execute_timeout")),
		},
		Notify: &Notify{
			Webhooks:      v.GetStringMapString("notify.webhooks"),
			Timeout:       durationpb.New(v.GetDuration("notify.timeout")),
			SigningSecret: v.GetString("notify.signing_secret"),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	if err := v.UnmarshalKey("connectors", &bc.Connectors); err != nil {
		return nil, fmt.Errorf("failed to parse connectors configuration: %w", err)
	}

	// Validate required fields
	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", time.Minute)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is required from environment

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Metrics source defaults
	v.SetDefault("metrics.query_path", "/api/v1/query/scalar")
	v.SetDefault("metrics.query_timeout", 3*time.Second)

	// Breaker defaults follow the connector SDK breaker tuning:
	// 5 consecutive failures open the circuit, 60s before a trial probe.
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout", 60*time.Second)
	v.SetDefault("breaker.probe_timeout", 30*time.Second)

	// SLA evaluator defaults
	v.SetDefault("sla.evaluate_interval", 60*time.Second)

	// Anomaly detector defaults
	v.SetDefault("anomaly.enabled", true)
	v.SetDefault("anomaly.sweep_interval", 60*time.Second)
	v.SetDefault("anomaly.auto_threshold", 0.8)
	v.SetDefault("anomaly.cooldown", 15*time.Minute)
	v.SetDefault("anomaly.recent_window", 10*time.Minute)

	// Failover defaults
	v.SetDefault("failover.execute_timeout", 5*time.Minute)

	// Notification defaults
	v.SetDefault("notify.timeout", 5*time.Second)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all missing required fields.
func Validate(bc *Bootstrap) error {
	var missingFields []string

	// Check required database configuration
	if bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "" {
		missingFields = append(missingFields, "data.database.source (MYSQL_DSN)")
	}

	// Check required metrics source configuration
	if bc.Metrics == nil || bc.Metrics.BaseURL == "" {
		missingFields = append(missingFields, "metrics.base_url (METRICS_BASE_URL)")
	}

	if len(missingFields) > 0 {
		return fmt.Errorf("missing required configuration fields: %s", strings.Join(missingFields, ", "))
	}

	if bc.Breaker != nil && bc.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive, got %d", bc.Breaker.FailureThreshold)
	}

	if bc.Anomaly != nil && (bc.Anomaly.AutoThreshold < 0 || bc.Anomaly.AutoThreshold > 1) {
		return fmt.Errorf("anomaly.auto_threshold must be within [0,1], got %v", bc.Anomaly.AutoThreshold)
	}

	return nil
}
