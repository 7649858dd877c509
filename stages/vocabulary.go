package stages

// Term is an ontology term matched in the document
type Term struct {
	Keyword string `json:"keyword"`
	Field   string `json:"field"`
	Label   string `json:"label"`
	ID      string `json:"id"`
}

type vocabularyEntry struct {
	field string
	label string
	id    string
}

// Curated subset of ENVO, NCBITaxon and OBI terms common in sequencing
// study descriptions
var vocabulary = map[string]vocabularyEntry{
	"soil":          {"environment", "soil", "ENVO:00001998"},
	"seawater":      {"environment", "sea water", "ENVO:00002149"},
	"marine":        {"environment", "marine biome", "ENVO:00000447"},
	"freshwater":    {"environment", "freshwater biome", "ENVO:00000873"},
	"sediment":      {"environment", "sediment", "ENVO:00002007"},
	"gut":           {"environment", "intestine environment", "ENVO:2100002"},
	"human":         {"organism", "Homo sapiens", "NCBITaxon:9606"},
	"mouse":         {"organism", "Mus musculus", "NCBITaxon:10090"},
	"arabidopsis":   {"organism", "Arabidopsis thaliana", "NCBITaxon:3702"},
	"zebrafish":     {"organism", "Danio rerio", "NCBITaxon:7955"},
	"coli":          {"organism", "Escherichia coli", "NCBITaxon:562"},
	"yeast":         {"organism", "Saccharomyces cerevisiae", "NCBITaxon:4932"},
	"metagenome":    {"investigation_type", "metagenome", "OBI:0002623"},
	"metagenomic":   {"investigation_type", "metagenome", "OBI:0002623"},
	"transcriptome": {"assay", "transcription profiling", "OBI:0000424"},
	"rnaseq":        {"assay", "RNA-seq assay", "OBI:0001271"},
	"amplicon":      {"assay", "amplicon sequencing assay", "OBI:0002767"},
	"proteomics":    {"assay", "protein identification assay", "OBI:0000615"},
	"illumina":      {"instrument", "Illumina sequencer", "OBI:0000759"},
	"nanopore":      {"instrument", "Oxford Nanopore sequencer", "OBI:0002750"},
}

// lookupTerms maps tokens onto vocabulary terms. Each term is reported once,
// in first-occurrence order.
func lookupTerms(tokens []string) []Term {
	terms := []Term{}
	seen := make(map[string]bool)

	for i, tok := range tokens {
		key := tok
		// "RNA-seq" tokenizes as "rna", "seq"
		if tok == "rna" && i+1 < len(tokens) && tokens[i+1] == "seq" {
			key = "rnaseq"
		}

		entry, ok := vocabulary[key]
		if !ok || seen[entry.id] {
			continue
		}
		seen[entry.id] = true
		terms = append(terms, Term{Keyword: key, Field: entry.field, Label: entry.label, ID: entry.id})
	}
	return terms
}
