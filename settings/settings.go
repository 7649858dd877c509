// Package settings loads application configuration for the fairiagent
// command and server.
package settings

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
	"github.com/ElderMedic/FAIRiAgent-sub001/engine"
	"github.com/ElderMedic/FAIRiAgent-sub001/gate"
	"github.com/ElderMedic/FAIRiAgent-sub001/memory"
	"github.com/ElderMedic/FAIRiAgent-sub001/store"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "FAIRI_"

const maxConfigFileSize = 1024 * 1024

// Config is the full application configuration
type Config struct {
	Log        LogConfig        `koanf:"log"`
	Controller ControllerConfig `koanf:"controller"`
	Gate       GateConfig       `koanf:"gate"`
	Memory     memory.Config    `koanf:"memory"`
	Checkpoint store.Config     `koanf:"checkpoint"`
	Server     ServerConfig     `koanf:"server"`
}

// LogConfig selects the log level and output format
type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

// ControllerConfig holds workflow controller settings. MaxRetries follows
// StageConfig: zero keeps the default and a negative value disables retries.
type ControllerConfig struct {
	MaxRetries    int                      `koanf:"max_retries"`
	StageTimeout  time.Duration            `koanf:"stage_timeout"`
	RetryDelay    time.Duration            `koanf:"retry_delay"`
	Backoff       string                   `koanf:"backoff"`
	DisableMemory bool                     `koanf:"disable_memory"`
	MemoryK       int                      `koanf:"memory_k"`
	MemoryTimeout time.Duration            `koanf:"memory_timeout"`
	SummaryLimit  int                      `koanf:"summary_limit"`
	Workers       int                      `koanf:"workers"`
	Stages        map[string]StageOverride `koanf:"stages"`
}

// StageOverride replaces controller defaults for a single stage
type StageOverride struct {
	MaxRetries int           `koanf:"max_retries"`
	Timeout    time.Duration `koanf:"timeout"`
	RetryDelay time.Duration `koanf:"retry_delay"`
	Backoff    string        `koanf:"backoff"`
}

// GateConfig points at the quality gate rules
type GateConfig struct {
	CriteriaFile     string `koanf:"criteria_file"`
	EscalateOnRepeat bool   `koanf:"escalate_on_repeat"`
}

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Load reads configuration from an optional YAML file, then applies
// FAIRI_ environment overrides.
//
// Environment variables map onto section.field keys by their first
// underscore:
//
//	FAIRI_CONTROLLER_MAX_RETRIES -> controller.max_retries
//	FAIRI_LOG_LEVEL              -> log.level
//	FAIRI_CHECKPOINT_REDIS_ADDR  -> checkpoint.redis.addr
//
// An empty path skips the file. A path that does not exist is an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}

	return io.ReadAll(f)
}

// Sections whose values are nested one level deeper
var nestedSections = map[string][]string{
	"checkpoint": {"dynamodb", "redis"},
}

func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}

	for _, sub := range nestedSections[section] {
		if rest, found := strings.CutPrefix(field, sub+"_"); found {
			return section + "." + sub + "." + rest
		}
	}
	return section + "." + field
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	c := &cfg.Controller
	if c.StageTimeout == 0 {
		c.StageTimeout = fairiagent.DefaultStageConfig.Timeout()
	}
	if c.Backoff == "" {
		c.Backoff = string(fairiagent.DefaultStageConfig.RetryBackoff)
	}
	if c.MemoryK == 0 {
		c.MemoryK = engine.DefaultConfig.MemoryK
	}
	if c.MemoryTimeout == 0 {
		c.MemoryTimeout = engine.DefaultConfig.MemoryTimeout
	}
	if c.SummaryLimit == 0 {
		c.SummaryLimit = engine.DefaultConfig.SummaryLimit
	}
	if c.Workers == 0 {
		c.Workers = engine.DefaultConfig.MaxConcurrentSessions
	}

	if cfg.Memory.Backend == "" {
		cfg.Memory.Backend = memory.BackendChromem
	}
	if cfg.Memory.Backend == memory.BackendChromem && cfg.Memory.Dir == "" {
		cfg.Memory.Dir = ".fairiagent/memory"
	}
	if cfg.Checkpoint.Backend == "" {
		cfg.Checkpoint.Backend = store.BackendFile
	}
	if cfg.Checkpoint.Backend == store.BackendFile && cfg.Checkpoint.Dir == "" {
		cfg.Checkpoint.Dir = ".fairiagent/checkpoints"
	}
	if cfg.Checkpoint.Redis.Prefix == "" {
		cfg.Checkpoint.Redis.Prefix = "fairiagent:"
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}

	ctl := c.Controller
	if ctl.StageTimeout < time.Second {
		return fmt.Errorf("controller.stage_timeout must be at least 1s, got %s", ctl.StageTimeout)
	}
	if ctl.RetryDelay < 0 {
		return fmt.Errorf("controller.retry_delay cannot be negative")
	}
	if err := validBackoff(ctl.Backoff); err != nil {
		return fmt.Errorf("controller.backoff: %w", err)
	}
	if ctl.MemoryK < 0 {
		return fmt.Errorf("controller.memory_k cannot be negative")
	}
	if ctl.Workers < 0 {
		return fmt.Errorf("controller.workers cannot be negative")
	}
	for name, o := range ctl.Stages {
		if o.Timeout < 0 || o.RetryDelay < 0 {
			return fmt.Errorf("controller.stages.%s: negative timeout or retry delay", name)
		}
		if o.Timeout > 0 && o.Timeout < time.Second {
			return fmt.Errorf("controller.stages.%s: timeout must be at least 1s", name)
		}
		if o.Backoff != "" {
			if err := validBackoff(o.Backoff); err != nil {
				return fmt.Errorf("controller.stages.%s.backoff: %w", name, err)
			}
		}
	}

	switch c.Memory.Backend {
	case memory.BackendChromem, memory.BackendLocal, memory.BackendNone:
	default:
		return fmt.Errorf("unknown memory backend %q", c.Memory.Backend)
	}

	switch c.Checkpoint.Backend {
	case store.BackendMemory, store.BackendFile:
	case store.BackendDynamoDB:
		if c.Checkpoint.DynamoDB.Table == "" {
			return fmt.Errorf("checkpoint.dynamodb.table is required for the dynamodb backend")
		}
	case store.BackendRedis:
		if c.Checkpoint.Redis.Addr == "" {
			return fmt.Errorf("checkpoint.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown checkpoint backend %q", c.Checkpoint.Backend)
	}

	return nil
}

func validBackoff(s string) error {
	switch fairiagent.BackoffStrategy(strings.ToUpper(s)) {
	case fairiagent.BackoffNone, fairiagent.BackoffLinear, fairiagent.BackoffExponential:
		return nil
	}
	return fmt.Errorf("unknown backoff strategy %q", s)
}

// StageDefaults returns the pipeline-wide stage config
func (c *Config) StageDefaults() fairiagent.StageConfig {
	ctl := c.Controller
	return fairiagent.StageConfig{
		MaxRetries:     ctl.MaxRetries,
		RetryDelayMs:   int(ctl.RetryDelay.Milliseconds()),
		RetryBackoff:   fairiagent.BackoffStrategy(strings.ToUpper(ctl.Backoff)),
		TimeoutSeconds: int(ctl.StageTimeout.Seconds()),
	}
}

// EngineConfig returns the controller config
func (c *Config) EngineConfig() engine.Config {
	ctl := c.Controller
	cfg := engine.Config{
		MemoryEnabled:         !ctl.DisableMemory,
		MemoryK:               ctl.MemoryK,
		MemoryTimeout:         ctl.MemoryTimeout,
		SummaryLimit:          ctl.SummaryLimit,
		MaxConcurrentSessions: ctl.Workers,
	}

	if len(ctl.Stages) > 0 {
		cfg.Stages = make(map[string]fairiagent.StageConfig, len(ctl.Stages))
		for name, o := range ctl.Stages {
			cfg.Stages[name] = fairiagent.StageConfig{
				MaxRetries:     o.MaxRetries,
				RetryDelayMs:   int(o.RetryDelay.Milliseconds()),
				RetryBackoff:   fairiagent.BackoffStrategy(strings.ToUpper(o.Backoff)),
				TimeoutSeconds: int(o.Timeout.Seconds()),
			}
		}
	}
	return cfg
}

// GateOptions loads the criteria file, if any, into critic options
func (c *Config) GateOptions() ([]gate.Option, error) {
	var opts []gate.Option
	if c.Gate.CriteriaFile != "" {
		cf, err := gate.LoadCriteria(c.Gate.CriteriaFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, cf.Options()...)
	}
	if c.Gate.EscalateOnRepeat {
		opts = append(opts, gate.WithEscalateOnRepeat(true))
	}
	return opts, nil
}

// NewLogger builds the application logger writing to w
func (c *Config) NewLogger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	out := w
	if c.Log.Pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Logger().Level(level)
}
