// Package memory provides session-scoped memory backends for the workflow
// controller: a chromem-go vector store, an in-process store, and a Guard
// that degrades failures to an empty context.
package memory

import (
	"context"
	"fmt"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
	"github.com/rs/zerolog"
)

// Supported backends
const (
	BackendChromem = "chromem"
	BackendLocal   = "local"
	BackendNone    = "none"
)

// Config selects and configures a memory backend
type Config struct {
	Backend    string `koanf:"backend"`
	Dir        string `koanf:"dir"`
	Compress   bool   `koanf:"compress"`
	Dimensions int    `koanf:"dimensions"`
}

// Open builds the configured backend. An empty backend selects chromem.
func Open(cfg Config, logger zerolog.Logger) (fairiagent.MemoryService, error) {
	switch cfg.Backend {
	case "", BackendChromem:
		opts := []ChromemOption{
			WithEmbedder(NewHashEmbedder(cfg.Dimensions)),
			WithLogger(logger),
		}
		if cfg.Dir != "" {
			opts = append(opts, WithPersistence(cfg.Dir, cfg.Compress))
		}
		return NewChromemStore(opts...)
	case BackendLocal:
		return NewLocalStore(), nil
	case BackendNone:
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
}

// Noop is a MemoryService that stores nothing
type Noop struct{}

var _ fairiagent.MemoryService = Noop{}

func (Noop) Retrieve(context.Context, string, string, string, int) ([]fairiagent.MemoryEntry, error) {
	return []fairiagent.MemoryEntry{}, nil
}

func (Noop) Add(_ context.Context, sessionID, stage, summary string, score float64) (fairiagent.MemoryEntry, error) {
	return fairiagent.MemoryEntry{SessionID: sessionID, StageName: stage, Summary: summary, Score: score}, nil
}

func (Noop) Clear(context.Context, string) error {
	return nil
}
