package store

import (
	"context"
	"fmt"
	"time"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"
)

// Backend names accepted by Open
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendDynamoDB = "dynamodb"
	BackendRedis    = "redis"
)

// Config selects and configures a checkpoint backend
type Config struct {
	Backend  string         `koanf:"backend"`
	Dir      string         `koanf:"dir"`
	DynamoDB DynamoDBConfig `koanf:"dynamodb"`
	Redis    RedisConfig    `koanf:"redis"`
}

// DynamoDBConfig configures the DynamoDB backend
type DynamoDBConfig struct {
	Table    string        `koanf:"table"`
	Region   string        `koanf:"region"`
	Endpoint string        `koanf:"endpoint"`
	TTL      time.Duration `koanf:"ttl"`
}

// RedisConfig configures the Redis backend
type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Prefix   string        `koanf:"prefix"`
	TTL      time.Duration `koanf:"ttl"`
}

// Open builds the configured backend. The returned close function releases
// any client the store owns and is never nil.
func Open(ctx context.Context, cfg Config) (fairiagent.CheckpointStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), noop, nil

	case BackendFile:
		s, err := NewFileStore(cfg.Dir)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil

	case BackendDynamoDB:
		if cfg.DynamoDB.Table == "" {
			return nil, noop, fmt.Errorf("dynamodb backend requires a table name")
		}
		client, err := newDynamoDBClient(ctx, cfg.DynamoDB)
		if err != nil {
			return nil, noop, err
		}
		var opts []DynamoDBOption
		if cfg.DynamoDB.TTL > 0 {
			opts = append(opts, WithTTL(cfg.DynamoDB.TTL))
		}
		return NewDynamoDBStore(client, cfg.DynamoDB.Table, opts...), noop, nil

	case BackendRedis:
		if cfg.Redis.Addr == "" {
			return nil, noop, fmt.Errorf("redis backend requires an address")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, noop, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		var opts []RedisOption
		if cfg.Redis.Prefix != "" {
			opts = append(opts, WithKeyPrefix(cfg.Redis.Prefix))
		}
		if cfg.Redis.TTL > 0 {
			opts = append(opts, WithExpiration(cfg.Redis.TTL))
		}
		return NewRedisStore(client, opts...), client.Close, nil

	default:
		return nil, noop, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

func newDynamoDBClient(ctx context.Context, cfg DynamoDBConfig) (*dynamodb.Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}
