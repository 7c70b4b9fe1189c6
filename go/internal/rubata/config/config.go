// Package config loads the rubata server settings: a YAML file for the
// rules and transports, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mcdev12/rubata/go/internal/dbconfig"
	"github.com/mcdev12/rubata/go/internal/rubata/broadcast"
	"github.com/mcdev12/rubata/go/internal/rubata/engine"
	"github.com/mcdev12/rubata/go/internal/rubata/gateway"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	LogLevel  string          `yaml:"log_level" env:"RUBATA_LOG_LEVEL"`
	HTTP      HTTPConfig      `yaml:"http"`
	Rules     RulesConfig     `yaml:"rules"`
	Roster    RosterConfig    `yaml:"roster"`
	Storage   StorageConfig   `yaml:"storage"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"RUBATA_HTTP_ADDR"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"RUBATA_ALLOWED_ORIGINS" envSeparator:","`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"RUBATA_HTTP_READ_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"RUBATA_SHUTDOWN_TIMEOUT"`
}

// RulesConfig are the per-deployment timing rules.
type RulesConfig struct {
	OfferingSeconds int  `yaml:"offering_seconds" env:"RUBATA_OFFERING_SECONDS"`
	AuctionSeconds  int  `yaml:"auction_seconds" env:"RUBATA_AUCTION_SECONDS"`
	ResetTimerOnBid bool `yaml:"reset_timer_on_bid" env:"RUBATA_RESET_TIMER_ON_BID"`
}

// RosterConfig holds the budget given to members a league roster has not seen
// and the per-category slot capacity.
type RosterConfig struct {
	DefaultBudget int64          `yaml:"default_budget" env:"RUBATA_DEFAULT_BUDGET"`
	Capacity      map[string]int `yaml:"capacity"`
}

type StorageConfig struct {
	Driver     string          `yaml:"driver" env:"RUBATA_STORAGE_DRIVER"`
	SQLitePath string          `yaml:"sqlite_path" env:"RUBATA_SQLITE_PATH"`
	Postgres   dbconfig.Config `yaml:"postgres"`
}

type BroadcastConfig struct {
	QueueSize  int            `yaml:"queue_size" env:"RUBATA_BROADCAST_QUEUE_SIZE"`
	MaxRetries int            `yaml:"max_retries" env:"RUBATA_BROADCAST_MAX_RETRIES"`
	RetryDelay time.Duration  `yaml:"retry_delay" env:"RUBATA_BROADCAST_RETRY_DELAY"`
	NATS       NATSConfig     `yaml:"nats"`
	PGNotify   PGNotifyConfig `yaml:"pg_notify"`
}

// NATSConfig enables the JetStream publisher. With Relay set, local websocket
// clients are fed from the stream instead of directly by the engine.
type NATSConfig struct {
	Enabled       bool          `yaml:"enabled" env:"RUBATA_NATS_ENABLED"`
	Relay         bool          `yaml:"relay" env:"RUBATA_NATS_RELAY"`
	URL           string        `yaml:"url" env:"NATS_URL"`
	StreamName    string        `yaml:"stream_name" env:"RUBATA_NATS_STREAM"`
	SubjectPrefix string        `yaml:"subject_prefix" env:"RUBATA_NATS_SUBJECT_PREFIX"`
	ConsumerName  string        `yaml:"consumer_name" env:"RUBATA_NATS_CONSUMER"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// PGNotifyConfig enables pg_notify publishing. It needs the postgres driver.
type PGNotifyConfig struct {
	Enabled bool   `yaml:"enabled" env:"RUBATA_PG_NOTIFY_ENABLED"`
	Relay   bool   `yaml:"relay" env:"RUBATA_PG_NOTIFY_RELAY"`
	Channel string `yaml:"channel" env:"RUBATA_PG_NOTIFY_CHANNEL"`
}

// Default returns a single-node setup: in-memory storage and direct
// websocket delivery.
func Default() Config {
	rules := engine.DefaultRules()
	async := broadcast.DefaultAsyncConfig()
	js := broadcast.DefaultJetStreamConfig()
	consumer := gateway.DefaultJetStreamConsumerConfig()
	return Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			AllowedOrigins:  []string{"*"},
			ReadTimeout:     10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Rules: RulesConfig{
			OfferingSeconds: int(rules.OfferingDuration / time.Second),
			AuctionSeconds:  int(rules.AuctionDuration / time.Second),
			ResetTimerOnBid: rules.ResetTimerOnBid,
		},
		Roster: RosterConfig{
			DefaultBudget: 100,
			Capacity:      map[string]int{},
		},
		Storage: StorageConfig{
			Driver:     DriverMemory,
			SQLitePath: "rubata.db",
			Postgres:   dbconfig.Default(),
		},
		Broadcast: BroadcastConfig{
			QueueSize:  async.QueueSize,
			MaxRetries: async.MaxRetries,
			RetryDelay: async.RetryDelay,
			NATS: NATSConfig{
				URL:           js.URL,
				StreamName:    js.StreamName,
				SubjectPrefix: js.SubjectPrefix,
				ConsumerName:  consumer.ConsumerName,
				ReconnectWait: js.ReconnectWait,
			},
			PGNotify: PGNotifyConfig{
				Channel: gateway.DefaultPGRelayConfig().NotifyChannel,
			},
		},
	}
}

// Load reads path over the defaults, then applies environment overrides. An
// empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Rules.OfferingSeconds <= 0 || c.Rules.AuctionSeconds <= 0 {
		errs = append(errs, errors.New("rules: offering_seconds and auction_seconds must be positive"))
	}
	if c.Roster.DefaultBudget < 0 {
		errs = append(errs, errors.New("roster.default_budget must not be negative"))
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite driver"))
		}
	case DriverPostgres:
		if err := c.Storage.Postgres.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("storage.postgres: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of memory, sqlite, postgres", c.Storage.Driver))
	}
	if c.Broadcast.QueueSize <= 0 {
		errs = append(errs, errors.New("broadcast.queue_size must be positive"))
	}
	if c.Broadcast.NATS.Relay && !c.Broadcast.NATS.Enabled {
		errs = append(errs, errors.New("broadcast.nats.relay requires broadcast.nats.enabled"))
	}
	if c.Broadcast.PGNotify.Enabled && c.Storage.Driver != DriverPostgres {
		errs = append(errs, errors.New("broadcast.pg_notify requires the postgres storage driver"))
	}
	if c.Broadcast.PGNotify.Relay && !c.Broadcast.PGNotify.Enabled {
		errs = append(errs, errors.New("broadcast.pg_notify.relay requires broadcast.pg_notify.enabled"))
	}
	if c.Broadcast.NATS.Relay && c.Broadcast.PGNotify.Relay {
		errs = append(errs, errors.New("only one of nats.relay and pg_notify.relay may be set"))
	}
	return errors.Join(errs...)
}

// Level returns the zerolog level, defaulting to info.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func (c Config) EngineRules() engine.Rules {
	return engine.Rules{
		OfferingDuration: time.Duration(c.Rules.OfferingSeconds) * time.Second,
		AuctionDuration:  time.Duration(c.Rules.AuctionSeconds) * time.Second,
		ResetTimerOnBid:  c.Rules.ResetTimerOnBid,
	}
}

func (c Config) AsyncConfig() broadcast.AsyncConfig {
	return broadcast.AsyncConfig{
		QueueSize:  c.Broadcast.QueueSize,
		MaxRetries: c.Broadcast.MaxRetries,
		RetryDelay: c.Broadcast.RetryDelay,
	}
}

func (c Config) JetStreamConfig() broadcast.JetStreamConfig {
	js := broadcast.DefaultJetStreamConfig()
	n := c.Broadcast.NATS
	js.URL = n.URL
	js.StreamName = n.StreamName
	js.SubjectPrefix = n.SubjectPrefix
	js.ReconnectWait = n.ReconnectWait
	return js
}

func (c Config) JetStreamConsumerConfig() gateway.JetStreamConsumerConfig {
	jc := gateway.DefaultJetStreamConsumerConfig()
	n := c.Broadcast.NATS
	jc.URL = n.URL
	jc.StreamName = n.StreamName
	jc.ConsumerName = n.ConsumerName
	jc.SubjectFilter = n.SubjectPrefix + ".>"
	jc.ReconnectWait = n.ReconnectWait
	return jc
}

func (c Config) PGRelayConfig() gateway.PGRelayConfig {
	rc := gateway.DefaultPGRelayConfig()
	rc.DatabaseURL = c.Storage.Postgres.DSN()
	rc.NotifyChannel = c.Broadcast.PGNotify.Channel
	return rc
}
