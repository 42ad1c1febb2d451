package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/joho/godotenv"
)

// Driver names accepted by STORE_DRIVER, BROKER_DRIVER and DIRECTORY_DRIVER.
const (
	DriverMemory = "memory"
	DriverScylla = "scylla"
	DriverSQLite = "sqlite"
	DriverKafka  = "kafka"
	DriverMongo  = "mongo"
)

// Config holds service configuration loaded from the environment.
type Config struct {
	Env      string
	HTTPAddr string

	StoreDriver     string
	BrokerDriver    string
	DirectoryDriver string

	StoreOwnsClock   bool
	HistoryTimeout   time.Duration
	StoreCallTimeout time.Duration
	SubscriberBuffer int
	CORSOrigins      []string

	ScyllaHosts       []string
	ScyllaKeyspace    string
	ScyllaUsername    string
	ScyllaPassword    string
	ScyllaConsistency gocql.Consistency
	ScyllaTimeout     time.Duration
	ReplicationFactor int

	SQLitePath string

	KafkaBrokers     []string
	KafkaTopic       string
	KafkaGroupPrefix string

	MongoURI string
	MongoDB  string

	DirectoryFixtures string
}

// Load reads an optional .env file (ENV_FILE, default ".env") and parses the
// environment. A missing .env file is not an error.
func Load() (Config, error) {
	path := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", path, err)
	}
	return FromEnv()
}

// FromEnv parses configuration from the current environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		Env:               getEnv("APP_ENV", "dev"),
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		StoreDriver:       strings.ToLower(getEnv("STORE_DRIVER", DriverMemory)),
		BrokerDriver:      strings.ToLower(getEnv("BROKER_DRIVER", DriverMemory)),
		DirectoryDriver:   strings.ToLower(getEnv("DIRECTORY_DRIVER", DriverMemory)),
		CORSOrigins:       splitAndTrim(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		ScyllaHosts:       splitAndTrim(getEnv("SCYLLA_HOSTS", "localhost")),
		ScyllaKeyspace:    strings.TrimSpace(getEnv("SCYLLA_KEYSPACE", "campus_messaging")),
		ScyllaUsername:    strings.TrimSpace(os.Getenv("SCYLLA_USERNAME")),
		ScyllaPassword:    strings.TrimSpace(os.Getenv("SCYLLA_PASSWORD")),
		ReplicationFactor: parseIntWithDefault(strings.TrimSpace(os.Getenv("SCYLLA_REPLICATION_FACTOR")), 1),
		SQLitePath:        getEnv("SQLITE_PATH", "messages.db"),
		KafkaBrokers:      splitAndTrim(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:        getEnv("KAFKA_TOPIC", "messages.inserted"),
		KafkaGroupPrefix:  getEnv("KAFKA_GROUP_PREFIX", "campus-messaging"),
		MongoURI:          os.Getenv("MONGO_URI"),
		MongoDB:           getEnv("MONGO_DB", "campus"),
		DirectoryFixtures: os.Getenv("DIRECTORY_FIXTURES"),
		SubscriberBuffer:  parseIntWithDefault(strings.TrimSpace(os.Getenv("SUBSCRIBER_BUFFER")), 64),
	}

	var err error
	if cfg.StoreOwnsClock, err = parseBoolEnv("STORE_OWNS_CLOCK", true); err != nil {
		return Config{}, err
	}
	if cfg.HistoryTimeout, err = parseDurationEnv("HISTORY_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.StoreCallTimeout, err = parseDurationEnv("STORE_CALL_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ScyllaTimeout, err = parseDurationEnv("SCYLLA_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ScyllaConsistency, err = parseConsistency(getEnv("SCYLLA_CONSISTENCY", "quorum")); err != nil {
		return Config{}, err
	}
	if cfg.ReplicationFactor < 1 {
		cfg.ReplicationFactor = 1
	}
	if cfg.SubscriberBuffer < 1 {
		cfg.SubscriberBuffer = 64
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case DriverMemory, DriverSQLite:
	case DriverScylla:
		if c.ScyllaKeyspace == "" {
			return fmt.Errorf("SCYLLA_KEYSPACE is required")
		}
		if len(c.ScyllaHosts) == 0 {
			return fmt.Errorf("SCYLLA_HOSTS is required")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER: %s", c.StoreDriver)
	}
	switch c.BrokerDriver {
	case DriverMemory:
	case DriverKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required")
		}
	default:
		return fmt.Errorf("unsupported BROKER_DRIVER: %s", c.BrokerDriver)
	}
	switch c.DirectoryDriver {
	case DriverMemory:
	case DriverMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required")
		}
	default:
		return fmt.Errorf("unsupported DIRECTORY_DRIVER: %s", c.DirectoryDriver)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseBoolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "yes", "y", "on":
		return true, nil
	case "0", "f", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s boolean: %q", key, raw)
	}
}

func parseIntWithDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v == 0 {
		return def
	}
	return v
}

func parseConsistency(raw string) (gocql.Consistency, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "quorum":
		return gocql.Quorum, nil
	case "one":
		return gocql.One, nil
	case "local_quorum", "localquorum":
		return gocql.LocalQuorum, nil
	case "all":
		return gocql.All, nil
	default:
		return gocql.Quorum, fmt.Errorf("unsupported SCYLLA_CONSISTENCY: %s", raw)
	}
}
