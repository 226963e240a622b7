package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the service configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	ServiceBus ServiceBusConfig
	Elastic    ElasticConfig
	NewRelic   NewRelicConfig
	Worker     WorkerConfig
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Port int
	Mode string // debug, release, test
}

// DatabaseConfig holds the database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds the Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// ServiceBusConfig holds the Azure Service Bus configuration
type ServiceBusConfig struct {
	ConnectionString string
	QueueName        string
}

// ElasticConfig holds the Elasticsearch configuration
type ElasticConfig struct {
	URL        string
	Username   string
	Password   string
	EventIndex string
	Enabled    bool
}

// NewRelicConfig holds the New Relic configuration
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// WorkerConfig holds the background worker configuration
type WorkerConfig struct {
	OverdueInterval time.Duration
	IndexInterval   time.Duration
	IndexBatchSize  int
}

// InitConfig initializes the configuration using Viper
func InitConfig(cfgFile string) error {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/stocktake-service")
		viper.SetConfigName("config")
	}

	// STOCKTAKE_SERVER_PORT overrides server.port, etc.
	viper.SetEnvPrefix("STOCKTAKE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		// Missing config file is fine, defaults and env vars apply
	}

	return nil
}

// Load returns the effective configuration
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetInt("server.port"),
			Mode: viper.GetString("server.mode"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("database.host"),
			Port:     viper.GetInt("database.port"),
			User:     viper.GetString("database.user"),
			Password: viper.GetString("database.password"),
			DBName:   viper.GetString("database.dbname"),
			SSLMode:  viper.GetString("database.sslmode"),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("redis.host"),
			Port:     viper.GetInt("redis.port"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		ServiceBus: ServiceBusConfig{
			ConnectionString: viper.GetString("servicebus.connection_string"),
			QueueName:        viper.GetString("servicebus.queue_name"),
		},
		Elastic: ElasticConfig{
			URL:        viper.GetString("elastic.url"),
			Username:   viper.GetString("elastic.username"),
			Password:   viper.GetString("elastic.password"),
			EventIndex: viper.GetString("elastic.event_index"),
			Enabled:    viper.GetBool("elastic.enabled"),
		},
		NewRelic: NewRelicConfig{
			AppName:    viper.GetString("newrelic.app_name"),
			LicenseKey: viper.GetString("newrelic.license_key"),
			Enabled:    viper.GetBool("newrelic.enabled"),
		},
		Worker: WorkerConfig{
			OverdueInterval: viper.GetDuration("worker.overdue_interval"),
			IndexInterval:   viper.GetDuration("worker.index_interval"),
			IndexBatchSize:  viper.GetInt("worker.index_batch_size"),
		},
	}

	if cfg.Server.Port <= 0 {
		return nil, fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	return cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "release")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.dbname", "stocktake")
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("servicebus.queue_name", "stocktake-events")

	viper.SetDefault("elastic.event_index", "stocktake-events")
	viper.SetDefault("elastic.enabled", false)

	viper.SetDefault("newrelic.app_name", "stocktake-service")
	viper.SetDefault("newrelic.enabled", false)

	viper.SetDefault("worker.overdue_interval", "5m")
	viper.SetDefault("worker.index_interval", "30s")
	viper.SetDefault("worker.index_batch_size", 100)
}
