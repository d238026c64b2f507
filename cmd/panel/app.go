package main

import (
	"context"
	"fmt"
	"io"

	"github.com/nexus-edge/protolink-panel/internal/adapter/config"
	"github.com/nexus-edge/protolink-panel/internal/adapter/modbus"
	"github.com/nexus-edge/protolink-panel/internal/adapter/mqtt"
	"github.com/nexus-edge/protolink-panel/internal/api"
	"github.com/nexus-edge/protolink-panel/internal/domain"
	"github.com/nexus-edge/protolink-panel/internal/health"
	"github.com/nexus-edge/protolink-panel/internal/metrics"
	"github.com/nexus-edge/protolink-panel/internal/service"
	"github.com/nexus-edge/protolink-panel/pkg/logging"
	"github.com/rs/zerolog"
)

// app holds every long-lived component of the process.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	logCloser io.Closer
	metrics   *metrics.Registry
	dialer    *modbus.Dialer
	panel     *service.Panel
	checker   *health.HealthChecker
	publisher *mqtt.Publisher
	commands  *service.CommandHandler
	server    *api.Server
}

// loadConfig loads the config file and applies flag overrides.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.host != "" {
		cfg.Device.Host = flags.host
	}
	if flags.port != 0 {
		cfg.Device.Port = flags.port
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig) (zerolog.Logger, io.Closer) {
	return logging.NewWithConfig(serviceName, version, logging.LogConfig{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		TimeFormat: cfg.TimeFormat,
	})
}

// newApp wires the panel and its collaborators. Nothing is started.
func newApp(cfg *config.Config, logger zerolog.Logger) *app {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewRegistry(),
	}

	a.dialer = modbus.NewDialer(modbus.DialerConfig{
		UnitID:             byte(cfg.Device.UnitID),
		Timeout:            cfg.Device.Timeout,
		IdleTimeout:        cfg.Device.IdleTimeout,
		BreakerMaxFailures: cfg.Breaker.MaxFailures,
		BreakerOpenTimeout: cfg.Breaker.OpenTimeout,
	}, logger, a.metrics)

	a.panel = service.NewPanel(service.PollingConfig{
		Interval:      cfg.Polling.Interval,
		WordOrder:     cfg.Device.WordOrder,
		TrendCapacity: cfg.Polling.TrendCapacity,
	}, a.dialer, logger, a.metrics)

	a.checker = health.NewChecker(health.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
	})
	// An operator may leave the panel disconnected on purpose.
	a.checker.AddCheck("device", a.panel, false)

	if cfg.MQTT.Enabled {
		a.publisher = mqtt.NewPublisher(mqtt.Config{
			BrokerURL:      cfg.MQTT.BrokerURL,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			CleanSession:   cfg.MQTT.CleanSession,
			QoS:            cfg.MQTT.QoS,
			KeepAlive:      cfg.MQTT.KeepAlive,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
			ReconnectDelay: cfg.MQTT.ReconnectDelay,
			PublishTimeout: cfg.MQTT.PublishTimeout,
			TopicPrefix:    cfg.MQTT.TopicPrefix,
			TLSEnabled:     cfg.MQTT.TLSEnabled,
			TLSCertFile:    cfg.MQTT.TLSCertFile,
			TLSKeyFile:     cfg.MQTT.TLSKeyFile,
			TLSCAFile:      cfg.MQTT.TLSCAFile,
		}, logger, a.metrics)
		a.checker.AddCheck("mqtt", a.publisher, true)

		a.panel.OnSnapshot(func(snap domain.DeviceSnapshot) {
			if err := a.publisher.PublishSnapshot(snap); err != nil {
				a.logger.Debug().Err(err).Msg("Snapshot not queued for MQTT")
			}
		})
		a.panel.OnStateChange(func(state domain.ConnectionState) {
			if err := a.publisher.PublishState(state, a.panel.Endpoint()); err != nil {
				a.logger.Debug().Err(err).Msg("State not queued for MQTT")
			}
		})
	}

	if cfg.HTTP.Enabled {
		mw := api.MiddlewareConfig{
			APIKey:             cfg.HTTP.APIKey,
			AllowedOrigins:     cfg.HTTP.AllowedOrigins,
			MaxRequestBodySize: cfg.HTTP.MaxRequestBodySize,
		}
		router := api.NewRouter(api.NewHandler(a.panel, logger, a.metrics), a.checker, a.metrics, mw, logger)
		a.server = api.NewServer(api.ServerConfig{
			Port:            cfg.HTTP.Port,
			ReadTimeout:     cfg.HTTP.ReadTimeout,
			WriteTimeout:    cfg.HTTP.WriteTimeout,
			IdleTimeout:     cfg.HTTP.IdleTimeout,
			ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		}, router, logger)
	}

	return a
}

// start brings up MQTT, the HTTP server and, if configured, the device
// connection. A failed auto-connect is logged; the operator can retry.
func (a *app) start(ctx context.Context) error {
	if a.publisher != nil {
		if err := a.publisher.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		_ = a.publisher.PublishState(a.panel.ConnectionState(), a.panel.Endpoint())

		if a.cfg.MQTT.Commands {
			a.commands = service.NewCommandHandler(a.publisher.Client(), a.panel, service.CommandConfig{
				TopicPrefix:           a.cfg.MQTT.TopicPrefix,
				QoS:                   a.cfg.MQTT.QoS,
				EnableAcknowledgement: true,
			}, a.logger, a.metrics)
			if err := a.commands.Start(); err != nil {
				a.logger.Warn().Err(err).Msg("Failed to start command handler (MQTT commands disabled)")
				a.commands = nil
			}
		}
	}

	if a.server != nil {
		if err := a.server.Start(); err != nil {
			return err
		}
	}

	if a.cfg.Device.AutoConnect {
		ep := a.cfg.Device.Endpoint()
		if err := a.panel.Connect(ctx, ep.Host, ep.Port); err != nil {
			a.logger.Error().Err(err).Str("endpoint", ep.String()).Msg("Auto-connect failed")
		}
	}

	a.logger.Info().
		Str("device", a.cfg.Device.Endpoint().String()).
		Bool("http", a.server != nil).
		Bool("mqtt", a.publisher != nil).
		Msg("Control panel started")
	return nil
}

// stop shuts components down in reverse order.
func (a *app) stop(ctx context.Context) {
	if a.commands != nil {
		if err := a.commands.Stop(); err != nil {
			a.logger.Error().Err(err).Msg("Error stopping command handler")
		}
	}

	if err := a.panel.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Error closing device connection")
	}

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error().Err(err).Msg("Error shutting down HTTP server")
		}
	}

	if a.publisher != nil {
		a.publisher.Disconnect()
	}

	a.logger.Info().Msg("Control panel stopped")
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}
