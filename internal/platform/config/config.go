package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	strutil "shadowrt/pkg/platform/strings"
)

// Store drivers accepted by SHADOW_STORE.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config is everything a shadowrt service reads from its environment.
type Config struct {
	App      string
	Addr     string
	LogLevel string

	// GRPCAddr, when set, makes the payment service also accept labeled
	// charges over gRPC.
	GRPCAddr string
	// PayGRPCTarget, when set, makes the shop send charges over gRPC instead
	// of HTTP. Deletion still uses the HTTP destination.
	PayGRPCTarget string

	Store StoreConfig

	// LabelSecret switches label headers to signed JWTs when set.
	LabelSecret string
	// HashKey switches payload hashing to keyed BLAKE2b when set.
	HashKey string

	DeleteTimeout time.Duration
	Destinations  []Destination
	DomainDB      string

	Redis   RedisConfig
	Kafka   KafkaConfig
	Archive ArchiveConfig
}

// StoreConfig selects the provenance store.
type StoreConfig struct {
	Driver      string
	SQLitePath  string
	DatabaseURL string
}

// Destination is one downstream service a cascade calls back.
type Destination struct {
	Name string
	URL  string
}

// RedisConfig configures the shared cascade lock. An empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the provenance event mirror. No brokers disables it.
type KafkaConfig struct {
	Brokers           []string
	Topic             string
	Partitions        int32
	ReplicationFactor int16
	ConsumerGroup     string
}

// ArchiveConfig configures the S3 export target used by provctl.
type ArchiveConfig struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	UsePathStyle bool
}

func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	return Load(os.Getenv)
}

// Load builds a Config from getenv.
func Load(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		App:         get("SHADOW_APP_NAME", "Shop"),
		Addr:        get("SHADOW_ADDR", ":8080"),
		LogLevel:    get("LOG_LEVEL", "info"),
		GRPCAddr:    getenv("SHADOW_GRPC_ADDR"),
		LabelSecret: getenv("SHADOW_LABEL_SECRET"),
		HashKey:     getenv("SHADOW_HASH_KEY"),
		DomainDB:    get("SHADOW_DOMAIN_DB", "domain.db"),

		PayGRPCTarget: getenv("SHADOW_PAY_GRPC"),
		Store: StoreConfig{
			Driver:      get("SHADOW_STORE", StoreSQLite),
			SQLitePath:  get("SHADOW_SQLITE_PATH", "provenance.db"),
			DatabaseURL: getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			URL:          getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:           strutil.Dedupe(strutil.SplitList(getenv("KAFKA_BROKERS"))),
			Topic:             get("SHADOW_KAFKA_TOPIC", "shadowrt.provenance"),
			Partitions:        1,
			ReplicationFactor: 1,
			ConsumerGroup:     get("SHADOW_KAFKA_GROUP", "shadowrt-collector"),
		},
		Archive: ArchiveConfig{
			Bucket:       getenv("SHADOW_ARCHIVE_BUCKET"),
			Prefix:       get("SHADOW_ARCHIVE_PREFIX", "provenance"),
			Region:       get("AWS_REGION", "us-east-1"),
			Endpoint:     getenv("SHADOW_S3_ENDPOINT"),
			UsePathStyle: getenv("SHADOW_S3_PATH_STYLE") == "true",
		},
	}

	timeout, err := time.ParseDuration(get("SHADOW_DELETE_TIMEOUT", "5s"))
	if err != nil || timeout <= 0 {
		return Config{}, fmt.Errorf("SHADOW_DELETE_TIMEOUT: invalid duration %q", getenv("SHADOW_DELETE_TIMEOUT"))
	}
	cfg.DeleteTimeout = timeout

	if v := getenv("SHADOW_KAFKA_PARTITIONS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("SHADOW_KAFKA_PARTITIONS: invalid value %q", v)
		}
		cfg.Kafka.Partitions = int32(n)
	}

	dests, err := parseDestinations(getenv("SHADOW_DESTINATIONS"))
	if err != nil {
		return Config{}, err
	}
	cfg.Destinations = dests

	switch cfg.Store.Driver {
	case StoreSQLite, StoreMemory:
	case StorePostgres:
		if cfg.Store.DatabaseURL == "" {
			return Config{}, fmt.Errorf("SHADOW_STORE=postgres requires DATABASE_URL")
		}
	default:
		return Config{}, fmt.Errorf("SHADOW_STORE: unknown driver %q", cfg.Store.Driver)
	}
	return cfg, nil
}

// parseDestinations reads "Pay=http://pay:8081,Ship=http://ship:8082".
func parseDestinations(raw string) ([]Destination, error) {
	var out []Destination
	seen := make(map[string]bool)
	for _, item := range strutil.SplitList(raw) {
		name, url, ok := strings.Cut(item, "=")
		name, url = strings.TrimSpace(name), strings.TrimSpace(url)
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("SHADOW_DESTINATIONS: expected Name=url, got %q", item)
		}
		if seen[name] {
			return nil, fmt.Errorf("SHADOW_DESTINATIONS: duplicate destination %q", name)
		}
		seen[name] = true
		out = append(out, Destination{Name: name, URL: url})
	}
	return out, nil
}
