package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	Health struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"health"`
	Database struct {
		PostgresDSN         string `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool   `mapstructure:"postgresAutoMigrate"`
	} `mapstructure:"database"`
	Redis struct {
		URL           string        `mapstructure:"url"`
		SessionPrefix string        `mapstructure:"sessionPrefix"`
		SessionTTL    time.Duration `mapstructure:"sessionTTL"`
	} `mapstructure:"redis"`
	NATS struct {
		URL         string `mapstructure:"url"`
		EventStream string `mapstructure:"eventStream"`
		MaxAgeDays  int    `mapstructure:"maxAgeDays"`
	} `mapstructure:"nats"`
	Agency struct {
		ID string `mapstructure:"id"`
	} `mapstructure:"agency"`
	Import  ImportConfig `mapstructure:"import"`
	Invites InviteConfig `mapstructure:"invites"`
	Sweeper SweeperConfig `mapstructure:"sweeper"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
}

// ImportConfig holds tunables for the chunked import pipeline
type ImportConfig struct {
	ChunkSize     int           `mapstructure:"chunkSize"`     // Data rows per chunk submission
	ChunkInterval time.Duration `mapstructure:"chunkInterval"` // Pause between chunk submissions
	MaxBodyBytes  int64         `mapstructure:"maxBodyBytes"`  // Upper bound on a chunk request body
}

// InviteConfig holds tunables for the seat-limited invitation service
type InviteConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`           // Invitation validity window
	LockAttempts  int           `mapstructure:"lockAttempts"`  // Advisory lock acquisition attempts
	LockRetryWait time.Duration `mapstructure:"lockRetryWait"` // Wait between acquisition attempts
}

// SweeperConfig holds configuration for the maintenance sweeper pool
type SweeperConfig struct {
	PoolSize    int           `mapstructure:"poolSize"`    // Number of workers
	Interval    time.Duration `mapstructure:"interval"`    // Sweep period
	OrphanAge   time.Duration `mapstructure:"orphanAge"`   // Processing jobs untouched longer than this are stalled
	ExpiryGrace time.Duration `mapstructure:"expiryGrace"` // Keep expired invitations around this long before purge
	ExpiryTime  time.Duration `mapstructure:"expiryTime"`  // Idle worker expiry time
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("health.port", 8081)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("redis.sessionPrefix", "session:")
	v.SetDefault("redis.sessionTTL", 24*time.Hour)
	v.SetDefault("nats.eventStream", "CRM_EVENTS")
	v.SetDefault("nats.maxAgeDays", 7)

	// Import defaults
	v.SetDefault("import.chunkSize", 1000)
	v.SetDefault("import.chunkInterval", 100*time.Millisecond)
	v.SetDefault("import.maxBodyBytes", int64(10<<20))

	// Invitation defaults
	v.SetDefault("invites.ttl", 7*24*time.Hour)
	v.SetDefault("invites.lockAttempts", 5)
	v.SetDefault("invites.lockRetryWait", 200*time.Millisecond)

	// Sweeper defaults
	v.SetDefault("sweeper.poolSize", 4)
	v.SetDefault("sweeper.interval", 5*time.Minute)
	v.SetDefault("sweeper.orphanAge", 30*time.Minute)
	v.SetDefault("sweeper.expiryGrace", 24*time.Hour)
	v.SetDefault("sweeper.expiryTime", time.Minute)

	// Config file settings
	v.SetConfigName("default")
	v.SetConfigType("yaml")

	// Add lookup paths
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("$HOME/.agency-crm-service")
	v.AddConfigPath("/etc/agency-crm-service")

	// Try to read from config file
	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file is not found, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map environment variables to config fields
	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("database.postgresDSN", dsn)
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		v.Set("redis.url", redisURL)
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		v.Set("nats.url", natsURL)
	}
	if lgLevel := os.Getenv("LOG_LEVEL"); lgLevel != "" {
		v.Set("logLevel", lgLevel)
	}
	if agency := os.Getenv("AGENCY_ID"); agency != "" {
		v.Set("agency.id", agency)
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &config, nil
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		path := append(parts, tag)
		key := strings.Join(path, ".")

		// If it's a struct, recursively bind its fields
		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		_ = v.BindEnv(key)
	}
}
