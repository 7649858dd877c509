// Package stages provides the built-in FAIR metadata extraction stages. They
// are deterministic and need no model provider, so the command line tool and
// tests can run offline. Model-backed stages plug into the same pipeline by
// implementing fairiagent.Stage.
package stages

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
)

// Stage names
const (
	Parse             = "parse"
	RetrieveKnowledge = "retrieve-knowledge"
	GenerateOutput    = "generate-output"
)

// Order is the stage order of the default pipeline
var Order = []string{Parse, RetrieveKnowledge, GenerateOutput}

// MaxKeywords bounds the keywords extracted from a document
const MaxKeywords = 10

// ParsedDocument is the accepted output of the parse stage
type ParsedDocument struct {
	Title     string   `json:"title"`
	Sections  []string `json:"sections"`
	Keywords  []string `json:"keywords"`
	WordCount int      `json:"word_count"`
}

// Knowledge is the accepted output of the retrieve-knowledge stage
type Knowledge struct {
	Keywords []string `json:"keywords"`
	Terms    []Term   `json:"terms"`
	Context  []string `json:"context,omitempty"`
}

// MetadataField is one generated metadata value with the text that
// supports it
type MetadataField struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Evidence string `json:"evidence,omitempty"`
}

// Metadata is the accepted output of the generate-output stage
type Metadata struct {
	Title    string          `json:"title"`
	Keywords []string        `json:"keywords"`
	Fields   []MetadataField `json:"fields"`
}

// NewParseStage extracts a title, section headings and keywords from the
// document text
func NewParseStage(opts ...fairiagent.StageOption) fairiagent.Stage {
	return fairiagent.NewStage(Parse, "Extract title, sections and keywords from the document", parseDocument, opts...)
}

func parseDocument(ctx context.Context, in fairiagent.StageInput) (ParsedDocument, fairiagent.ProposalMetadata, error) {
	content := in.State.Document.Content

	out := ParsedDocument{
		Sections: []string{},
		Keywords: keywords(content, MaxKeywords),
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		heading := strings.HasPrefix(line, "#")
		text := strings.TrimSpace(strings.TrimLeft(line, "#"))
		if text == "" {
			continue
		}
		if out.Title == "" {
			out.Title = text
			continue
		}
		if heading {
			out.Sections = append(out.Sections, text)
		}
	}
	out.WordCount = len(tokenize(content))

	meta := fairiagent.ProposalMetadata{
		Summary: fmt.Sprintf("parsed %q: %d sections, keywords %s", out.Title, len(out.Sections), strings.Join(out.Keywords, ", ")),
	}
	return out, meta, nil
}

// NewRetrieveKnowledgeStage maps parsed keywords and document terms onto
// the built-in vocabulary. Session memory is carried along as context.
func NewRetrieveKnowledgeStage(opts ...fairiagent.StageOption) fairiagent.Stage {
	opts = append([]fairiagent.StageOption{fairiagent.WithRequires(Parse)}, opts...)
	return fairiagent.NewStage(RetrieveKnowledge, "Look up ontology terms for the document keywords", retrieveKnowledge, opts...)
}

func retrieveKnowledge(ctx context.Context, in fairiagent.StageInput) (Knowledge, fairiagent.ProposalMetadata, error) {
	parsed, err := fairiagent.GetTypedOutput[ParsedDocument](in.State, Parse)
	if err != nil {
		return Knowledge{}, fairiagent.ProposalMetadata{}, err
	}

	out := Knowledge{
		Keywords: parsed.Keywords,
		Terms:    lookupTerms(tokenize(in.State.Document.Content)),
	}
	for _, m := range in.Memory {
		out.Context = append(out.Context, m.Summary)
	}

	meta := fairiagent.ProposalMetadata{
		Summary: fmt.Sprintf("matched %d vocabulary terms", len(out.Terms)),
	}
	return out, meta, nil
}

// NewGenerateOutputStage assembles the final metadata record
func NewGenerateOutputStage(opts ...fairiagent.StageOption) fairiagent.Stage {
	opts = append([]fairiagent.StageOption{fairiagent.WithRequires(Parse, RetrieveKnowledge)}, opts...)
	return fairiagent.NewStage(GenerateOutput, "Generate the FAIR metadata record", generateOutput, opts...)
}

func generateOutput(ctx context.Context, in fairiagent.StageInput) (Metadata, fairiagent.ProposalMetadata, error) {
	parsed, err := fairiagent.GetTypedOutput[ParsedDocument](in.State, Parse)
	if err != nil {
		return Metadata{}, fairiagent.ProposalMetadata{}, err
	}
	knowledge, err := fairiagent.GetTypedOutput[Knowledge](in.State, RetrieveKnowledge)
	if err != nil {
		return Metadata{}, fairiagent.ProposalMetadata{}, err
	}

	out := Metadata{
		Title:    parsed.Title,
		Keywords: parsed.Keywords,
		Fields:   []MetadataField{{Name: "title", Value: parsed.Title, Evidence: "first line"}},
	}
	if in.State.Document.Reference != "" {
		out.Fields = append(out.Fields, MetadataField{Name: "source", Value: in.State.Document.Reference})
	}
	for _, t := range knowledge.Terms {
		out.Fields = append(out.Fields, MetadataField{
			Name:     t.Field,
			Value:    t.Label + " [" + t.ID + "]",
			Evidence: t.Keyword,
		})
	}

	// No matched terms leaves only document-level fields
	confidence := 0.6
	if len(knowledge.Terms) > 0 {
		confidence = 0.9
	}

	meta := fairiagent.ProposalMetadata{
		Confidence: confidence,
		Summary:    fmt.Sprintf("generated %d metadata fields for %q", len(out.Fields), out.Title),
	}
	return out, meta, nil
}

// Default returns the three built-in stages in pipeline order
func Default() []fairiagent.Stage {
	return []fairiagent.Stage{
		NewParseStage(),
		NewRetrieveKnowledgeStage(),
		NewGenerateOutputStage(),
	}
}

var stopWords = map[string]bool{
	"about": true, "after": true, "also": true, "been": true, "between": true,
	"from": true, "have": true, "into": true, "more": true, "other": true,
	"such": true, "than": true, "that": true, "their": true,
	"there": true, "these": true, "this": true, "were": true, "which": true,
	"while": true, "with": true, "within": true, "using": true, "used": true,
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// keywords returns the most frequent content words, ties broken
// alphabetically
func keywords(text string, limit int) []string {
	counts := make(map[string]int)
	for _, tok := range tokenize(text) {
		if len([]rune(tok)) < 4 || stopWords[tok] || isNumber(tok) {
			continue
		}
		counts[tok]++
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	slices.SortFunc(words, func(a, b string) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})

	if len(words) > limit {
		words = words[:limit]
	}
	return words
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
