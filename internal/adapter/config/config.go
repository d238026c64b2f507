// Package config provides configuration management for the control panel.
// It supports environment variables, a YAML config file and defaults.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/nexus-edge/protolink-panel/internal/domain"
	"github.com/spf13/viper"
)

// Config holds all configuration for the control panel.
type Config struct {
	// Environment is the deployment environment (development, production)
	Environment string `mapstructure:"environment"`

	// Device connection
	Device DeviceConfig `mapstructure:"device"`

	// Polling cadence and trend window
	Polling PollingConfig `mapstructure:"polling"`

	// Connect circuit breaker
	Breaker BreakerConfig `mapstructure:"breaker"`

	// HTTP server configuration
	HTTP HTTPConfig `mapstructure:"http"`

	// MQTT configuration
	MQTT MQTTConfig `mapstructure:"mqtt"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// DeviceConfig holds the Modbus TCP device settings.
type DeviceConfig struct {
	Host        string           `mapstructure:"host"`
	Port        int              `mapstructure:"port"`
	UnitID      int              `mapstructure:"unit_id"`
	Timeout     time.Duration    `mapstructure:"timeout"`
	IdleTimeout time.Duration    `mapstructure:"idle_timeout"`
	WordOrder   domain.WordOrder `mapstructure:"word_order"`
	AutoConnect bool             `mapstructure:"auto_connect"`
}

// Endpoint returns the configured device endpoint.
func (d DeviceConfig) Endpoint() domain.Endpoint {
	return domain.Endpoint{Host: strings.TrimSpace(d.Host), Port: d.Port}
}

// PollingConfig holds polling configuration.
type PollingConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	TrendCapacity int           `mapstructure:"trend_capacity"`
}

// BreakerConfig holds the connect circuit breaker configuration.
type BreakerConfig struct {
	// MaxFailures consecutive failed connects open the breaker; 0 disables it
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// APIKey protects mutating endpoints when set
	APIKey             string   `mapstructure:"api_key"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	MaxRequestBodySize int64    `mapstructure:"max_request_body_size"`
}

// MQTTConfig holds MQTT client configuration.
type MQTTConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BrokerURL      string        `mapstructure:"broker_url"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	CleanSession   bool          `mapstructure:"clean_session"`
	QoS            byte          `mapstructure:"qos"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	Commands       bool          `mapstructure:"commands"`

	// TLS settings; the broker URL should use ssl:// or tls://
	TLSEnabled  bool   `mapstructure:"tls_enabled"`
	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`
	TLSCAFile   string `mapstructure:"tls_ca_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or console
	Output     string `mapstructure:"output"` // stdout, stderr, or file path
	TimeFormat string `mapstructure:"time_format"`
}

// Load loads configuration from files and environment variables.
// An empty path searches the default locations for config.yaml.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/protolink-panel")
	}

	// Read config file (optional unless given explicitly)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: error reading config file: %v", domain.ErrConfig, err)
		}
	}

	// Environment variable binding
	v.SetEnvPrefix("PANEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind specific environment variables
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("%w: error unmarshaling config: %v", domain.ErrConfig, err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// decodeHook extends viper's default hooks with word order parsing.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		wordOrderHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

var wordOrderType = reflect.TypeOf(domain.WordOrder(""))

var wordOrderHook mapstructure.DecodeHookFuncType = func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != wordOrderType || from.Kind() != reflect.String {
		return data, nil
	}
	return domain.ParseWordOrder(reflect.ValueOf(data).String())
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Environment
	v.SetDefault("environment", "development")

	// Device
	v.SetDefault("device.host", "192.168.68.111")
	v.SetDefault("device.port", domain.DefaultPort)
	v.SetDefault("device.unit_id", 1)
	v.SetDefault("device.timeout", 2*time.Second)
	v.SetDefault("device.idle_timeout", 60*time.Second)
	v.SetDefault("device.word_order", string(domain.WordOrderHighLow))
	v.SetDefault("device.auto_connect", false)

	// Polling
	v.SetDefault("polling.interval", 500*time.Millisecond)
	v.SetDefault("polling.trend_capacity", 120)

	// Breaker
	v.SetDefault("breaker.max_failures", 5)
	v.SetDefault("breaker.open_timeout", 10*time.Second)

	// HTTP
	v.SetDefault("http.enabled", true)
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.api_key", "")
	v.SetDefault("http.allowed_origins", []string{})
	v.SetDefault("http.max_request_body_size", 1<<20)

	// MQTT
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker_url", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "protolink-panel")
	v.SetDefault("mqtt.clean_session", true)
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.keep_alive", 30*time.Second)
	v.SetDefault("mqtt.connect_timeout", 10*time.Second)
	v.SetDefault("mqtt.publish_timeout", 2*time.Second)
	v.SetDefault("mqtt.reconnect_delay", 5*time.Second)
	v.SetDefault("mqtt.topic_prefix", "protolink/panel")
	v.SetDefault("mqtt.commands", true)
	v.SetDefault("mqtt.tls_enabled", false)
	v.SetDefault("mqtt.tls_cert_file", "")
	v.SetDefault("mqtt.tls_key_file", "")
	v.SetDefault("mqtt.tls_ca_file", "")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.time_format", time.RFC3339)
}

// bindEnvVars binds environment variables to config keys.
func bindEnvVars(v *viper.Viper) {
	// Device
	_ = v.BindEnv("device.host", "DEVICE_HOST")
	_ = v.BindEnv("device.port", "DEVICE_PORT")

	// MQTT environment variables
	_ = v.BindEnv("mqtt.broker_url", "MQTT_BROKER_URL")
	_ = v.BindEnv("mqtt.username", "MQTT_USERNAME")
	_ = v.BindEnv("mqtt.password", "MQTT_PASSWORD")
	_ = v.BindEnv("mqtt.client_id", "MQTT_CLIENT_ID")

	// General environment variables
	_ = v.BindEnv("environment", "ENVIRONMENT")

	// HTTP
	_ = v.BindEnv("http.port", "HTTP_PORT")
	_ = v.BindEnv("http.api_key", "HTTP_API_KEY")

	// Logging
	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("logging.format", "LOG_FORMAT")
}

// Validate validates the configuration. Errors wrap domain.ErrConfig.
func (c *Config) Validate() error {
	if c.Device.AutoConnect {
		if err := c.Device.Endpoint().Validate(); err != nil {
			return err
		}
	} else if c.Device.Port < 1 || c.Device.Port > 65535 {
		return fmt.Errorf("%w: %w: %d", domain.ErrConfig, domain.ErrInvalidPort, c.Device.Port)
	}
	if c.Device.UnitID < 1 || c.Device.UnitID > 247 {
		return fmt.Errorf("%w: %w: %d", domain.ErrConfig, domain.ErrInvalidUnitID, c.Device.UnitID)
	}
	if c.Device.Timeout <= 0 {
		return fmt.Errorf("%w: device timeout must be positive", domain.ErrConfig)
	}
	if _, err := domain.ParseWordOrder(string(c.Device.WordOrder)); err != nil {
		return err
	}
	if c.Polling.Interval <= 0 {
		return fmt.Errorf("%w: polling interval must be positive", domain.ErrConfig)
	}
	if c.Polling.TrendCapacity <= 0 {
		return fmt.Errorf("%w: trend capacity must be positive", domain.ErrConfig)
	}
	if c.HTTP.Enabled && (c.HTTP.Port <= 0 || c.HTTP.Port > 65535) {
		return fmt.Errorf("%w: invalid HTTP port: %d", domain.ErrConfig, c.HTTP.Port)
	}
	if c.MQTT.Enabled {
		if c.MQTT.BrokerURL == "" {
			return fmt.Errorf("%w: MQTT broker URL is required", domain.ErrConfig)
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("%w: invalid MQTT QoS: %d", domain.ErrConfig, c.MQTT.QoS)
		}
		if (c.MQTT.TLSCertFile == "") != (c.MQTT.TLSKeyFile == "") {
			return fmt.Errorf("%w: MQTT TLS client certificate and key must be set together", domain.ErrConfig)
		}
		if strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
			return fmt.Errorf("%w: MQTT topic prefix must not contain wildcards", domain.ErrConfig)
		}
	}

	return nil
}
