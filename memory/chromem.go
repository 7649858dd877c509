package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"github.com/rs/zerolog"
)

// Metadata keys stored with every chromem document
const (
	metaSessionID = "session_id"
	metaStage     = "stage"
	metaScore     = "score"
	metaCreatedAt = "created_at"
)

// ChromemStore is a MemoryService backed by chromem-go. Each session owns
// its own collection, so a query can never see another session's entries.
type ChromemStore struct {
	db       *chromem.DB
	embedder Embedder
	logger   zerolog.Logger
	now      func() time.Time

	dir      string
	compress bool
}

var _ fairiagent.MemoryService = (*ChromemStore)(nil)

// ChromemOption configures a ChromemStore
type ChromemOption func(*ChromemStore)

// WithPersistence stores collections under dir so they survive restarts
func WithPersistence(dir string, compress bool) ChromemOption {
	return func(s *ChromemStore) {
		s.dir = dir
		s.compress = compress
	}
}

// WithEmbedder replaces the default HashEmbedder
func WithEmbedder(e Embedder) ChromemOption {
	return func(s *ChromemStore) {
		s.embedder = e
	}
}

// WithLogger sets the store logger
func WithLogger(logger zerolog.Logger) ChromemOption {
	return func(s *ChromemStore) {
		s.logger = logger
	}
}

// NewChromemStore opens an in-memory or persistent chromem database
func NewChromemStore(opts ...ChromemOption) (*ChromemStore, error) {
	s := &ChromemStore{
		embedder: NewHashEmbedder(DefaultDimensions),
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.embedder == nil {
		return nil, fmt.Errorf("chromem store requires an embedder")
	}

	if s.dir == "" {
		s.db = chromem.NewDB()
		return s, nil
	}

	db, err := chromem.NewPersistentDB(s.dir, s.compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem database at %s: %w", s.dir, err)
	}
	s.db = db
	s.logger.Debug().Str("path", s.dir).Msg("Chromem database loaded")
	return s, nil
}

// collectionName maps a session to its collection
func collectionName(sessionID string) string {
	return "session-" + sessionID
}

// embeddingFunc adapts the Embedder. chromem falls back to OpenAI when
// given a nil func, so one is always passed.
func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.Embed(ctx, text)
	}
}

// Add implements MemoryService
func (s *ChromemStore) Add(ctx context.Context, sessionID, stage, summary string, score float64) (fairiagent.MemoryEntry, error) {
	if err := validateEntry(sessionID, summary, score); err != nil {
		return fairiagent.MemoryEntry{}, err
	}

	collection, err := s.db.GetOrCreateCollection(collectionName(sessionID), nil, s.embeddingFunc())
	if err != nil {
		return fairiagent.MemoryEntry{}, fmt.Errorf("getting collection for session %s: %w", sessionID, err)
	}

	entry := fairiagent.MemoryEntry{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		StageName: stage,
		Summary:   summary,
		Score:     score,
		CreatedAt: s.now().UTC(),
	}

	doc := chromem.Document{
		ID:      entry.ID,
		Content: summary,
		Metadata: map[string]string{
			metaSessionID: sessionID,
			metaStage:     stage,
			metaScore:     strconv.FormatFloat(score, 'f', -1, 64),
			metaCreatedAt: entry.CreatedAt.Format(time.RFC3339Nano),
		},
	}
	if err := collection.AddDocument(ctx, doc); err != nil {
		return fairiagent.MemoryEntry{}, fmt.Errorf("adding memory to session %s: %w", sessionID, err)
	}

	s.logger.Debug().
		Str("session_id", sessionID).
		Str("stage", stage).
		Str("entry_id", entry.ID).
		Msg("Memory added")

	return entry, nil
}

// Retrieve implements MemoryService
func (s *ChromemStore) Retrieve(ctx context.Context, sessionID, stage, query string, k int) ([]fairiagent.MemoryEntry, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}
	if k <= 0 {
		return []fairiagent.MemoryEntry{}, nil
	}

	collection := s.db.GetCollection(collectionName(sessionID), s.embeddingFunc())
	if collection == nil {
		return []fairiagent.MemoryEntry{}, nil
	}

	// chromem requires nResults <= document count
	count := collection.Count()
	if count == 0 {
		return []fairiagent.MemoryEntry{}, nil
	}
	if k > count {
		k = count
	}

	text := strings.TrimSpace(stage + " " + query)
	if text == "" {
		return nil, fmt.Errorf("memory query for session %s is empty", sessionID)
	}

	results, err := collection.Query(ctx, text, k, map[string]string{metaSessionID: sessionID}, nil)
	if err != nil {
		return nil, fmt.Errorf("querying memory for session %s: %w", sessionID, err)
	}

	entries := make([]fairiagent.MemoryEntry, 0, len(results))
	for _, r := range results {
		entries = append(entries, entryFromResult(r))
	}

	s.logger.Debug().
		Str("session_id", sessionID).
		Int("k", k).
		Int("results", len(entries)).
		Msg("Memory retrieved")

	return entries, nil
}

// Clear implements MemoryService
func (s *ChromemStore) Clear(_ context.Context, sessionID string) error {
	name := collectionName(sessionID)
	if s.db.GetCollection(name, s.embeddingFunc()) == nil {
		return nil
	}
	if err := s.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("clearing memory for session %s: %w", sessionID, err)
	}
	return nil
}

// Count returns the number of entries stored for a session
func (s *ChromemStore) Count(sessionID string) int {
	collection := s.db.GetCollection(collectionName(sessionID), s.embeddingFunc())
	if collection == nil {
		return 0
	}
	return collection.Count()
}

func entryFromResult(r chromem.Result) fairiagent.MemoryEntry {
	entry := fairiagent.MemoryEntry{
		ID:        r.ID,
		SessionID: r.Metadata[metaSessionID],
		StageName: r.Metadata[metaStage],
		Summary:   r.Content,
	}
	if score, err := strconv.ParseFloat(r.Metadata[metaScore], 64); err == nil {
		entry.Score = score
	}
	if ts, err := time.Parse(time.RFC3339Nano, r.Metadata[metaCreatedAt]); err == nil {
		entry.CreatedAt = ts
	}
	return entry
}

func validateEntry(sessionID, summary string, score float64) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if strings.TrimSpace(summary) == "" {
		return fmt.Errorf("memory summary cannot be empty")
	}
	if score < 0 || score > 1 {
		return fmt.Errorf("memory score %v outside [0, 1]", score)
	}
	return nil
}
