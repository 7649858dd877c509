package settings

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
	"github.com/ElderMedic/FAIRiAgent-sub001/memory"
	"github.com/ElderMedic/FAIRiAgent-sub001/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fairiagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 120*time.Second, cfg.Controller.StageTimeout)
	assert.Equal(t, "NONE", cfg.Controller.Backoff)
	assert.Equal(t, 5, cfg.Controller.MemoryK)
	assert.Equal(t, 4, cfg.Controller.Workers)
	assert.Equal(t, memory.BackendChromem, cfg.Memory.Backend)
	assert.Equal(t, store.BackendFile, cfg.Checkpoint.Backend)
	assert.NotEmpty(t, cfg.Checkpoint.Dir)
	assert.Equal(t, ":8080", cfg.Server.Addr)

	sc := cfg.StageDefaults()
	assert.Equal(t, 0, sc.MaxRetries)
	assert.Equal(t, 120, sc.TimeoutSeconds)
	assert.Equal(t, fairiagent.BackoffNone, sc.RetryBackoff)
	assert.Equal(t, 2, sc.Merge(fairiagent.DefaultStageConfig).RetryCap())

	ec := cfg.EngineConfig()
	assert.True(t, ec.MemoryEnabled)
	assert.NoError(t, ec.Validate())
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  pretty: true
controller:
  max_retries: 3
  stage_timeout: 30s
  retry_delay: 250ms
  backoff: exponential
  memory_k: 2
  workers: 8
  stages:
    generate-output:
      max_retries: -1
      timeout: 10s
memory:
  backend: local
checkpoint:
  backend: redis
  redis:
    addr: localhost:6379
    ttl: 24h
server:
  addr: 127.0.0.1:9000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)
	assert.Equal(t, 30*time.Second, cfg.Controller.StageTimeout)
	assert.Equal(t, memory.BackendLocal, cfg.Memory.Backend)
	assert.Empty(t, cfg.Memory.Dir)
	assert.Equal(t, "localhost:6379", cfg.Checkpoint.Redis.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Checkpoint.Redis.TTL)
	assert.Equal(t, "fairiagent:", cfg.Checkpoint.Redis.Prefix)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)

	sc := cfg.StageDefaults()
	assert.Equal(t, 3, sc.MaxRetries)
	assert.Equal(t, 250, sc.RetryDelayMs)
	assert.Equal(t, fairiagent.BackoffExponential, sc.RetryBackoff)
	assert.Equal(t, 30, sc.TimeoutSeconds)

	ec := cfg.EngineConfig()
	assert.Equal(t, 2, ec.MemoryK)
	assert.Equal(t, 8, ec.MaxConcurrentSessions)
	require.Contains(t, ec.Stages, "generate-output")
	assert.Equal(t, 0, ec.Stages["generate-output"].RetryCap())
	assert.Equal(t, 10, ec.Stages["generate-output"].TimeoutSeconds)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
controller:
  memory_k: 2
checkpoint:
  backend: dynamodb
  dynamodb:
    table: from-file
`)

	t.Setenv("FAIRI_CONTROLLER_MEMORY_K", "7")
	t.Setenv("FAIRI_CONTROLLER_DISABLE_MEMORY", "true")
	t.Setenv("FAIRI_CHECKPOINT_DYNAMODB_TABLE", "from-env")
	t.Setenv("FAIRI_CHECKPOINT_DYNAMODB_REGION", "eu-west-1")
	t.Setenv("FAIRI_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Controller.MemoryK)
	assert.True(t, cfg.Controller.DisableMemory)
	assert.False(t, cfg.EngineConfig().MemoryEnabled)
	assert.Equal(t, "from-env", cfg.Checkpoint.DynamoDB.Table)
	assert.Equal(t, "eu-west-1", cfg.Checkpoint.DynamoDB.Region)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"FAIRI_LOG_LEVEL":               "log.level",
		"FAIRI_CONTROLLER_MAX_RETRIES":  "controller.max_retries",
		"FAIRI_CHECKPOINT_REDIS_ADDR":   "checkpoint.redis.addr",
		"FAIRI_CHECKPOINT_DYNAMODB_TTL": "checkpoint.dynamodb.ttl",
		"FAIRI_CHECKPOINT_DIR":          "checkpoint.dir",
		"FAIRI_MEMORY_BACKEND":          "memory.backend",
		"FAIRI_VERBOSE":                 "verbose",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"log level", "log:\n  level: loud\n", "invalid log level"},
		{"short timeout", "controller:\n  stage_timeout: 500ms\n", "stage_timeout"},
		{"backoff", "controller:\n  backoff: random\n", "unknown backoff"},
		{"negative k", "controller:\n  memory_k: -1\n", "memory_k"},
		{"stage backoff", "controller:\n  stages:\n    parse:\n      backoff: spiral\n", "controller.stages.parse.backoff"},
		{"memory backend", "memory:\n  backend: qdrant\n", "unknown memory backend"},
		{"checkpoint backend", "checkpoint:\n  backend: s3\n", "unknown checkpoint backend"},
		{"dynamodb table", "checkpoint:\n  backend: dynamodb\n", "checkpoint.dynamodb.table"},
		{"redis addr", "checkpoint:\n  backend: redis\n", "checkpoint.redis.addr"},
		{"yaml", "controller: [\n", "failed to load config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open config file")
}

func TestConfig_GateOptions(t *testing.T) {
	criteria := filepath.Join(t.TempDir(), "criteria.yaml")
	require.NoError(t, os.WriteFile(criteria, []byte(`
version: "1"
stages:
  parse:
    required: [title]
`), 0600))

	cfg := &Config{Gate: GateConfig{CriteriaFile: criteria, EscalateOnRepeat: true}}
	opts, err := cfg.GateOptions()
	require.NoError(t, err)
	assert.NotEmpty(t, opts)

	cfg.Gate.CriteriaFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = cfg.GateOptions()
	assert.Error(t, err)
}

func TestConfig_NewLogger(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "warn"}}

	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf)
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)
}
