package gate

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CrossRef requires the value at Field to match the value at TargetField in
// an earlier stage's accepted output. A list target matches when it contains
// the value.
type CrossRef struct {
	Field       string `yaml:"field"`
	Stage       string `yaml:"stage"`
	TargetField string `yaml:"target_field"`
}

// Criteria are the acceptance rules for one stage. Field names are dotted
// paths into the output object.
type Criteria struct {
	Required    []string   `yaml:"required"`
	Recommended []string   `yaml:"recommended"`
	CrossRefs   []CrossRef `yaml:"cross_refs"`
	MinScore    float64    `yaml:"min_score"`
}

// CriteriaFile is the on-disk layout of gate rules
type CriteriaFile struct {
	Version          string              `yaml:"version"`
	EscalateOnRepeat bool                `yaml:"escalate_on_repeat"`
	Default          Criteria            `yaml:"default"`
	Stages           map[string]Criteria `yaml:"stages"`
}

// LoadCriteria reads gate rules from a YAML file
func LoadCriteria(path string) (*CriteriaFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read criteria file: %w", err)
	}
	return ParseCriteria(data)
}

// ParseCriteria decodes and validates YAML gate rules
func ParseCriteria(data []byte) (*CriteriaFile, error) {
	var cf CriteriaFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse criteria file: %w", err)
	}
	if err := cf.Validate(); err != nil {
		return nil, err
	}
	return &cf, nil
}

// Validate checks every stage's rules
func (cf *CriteriaFile) Validate() error {
	if err := cf.Default.Validate(); err != nil {
		return fmt.Errorf("default criteria: %w", err)
	}
	for stage, c := range cf.Stages {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("criteria for stage %s: %w", stage, err)
		}
	}
	return nil
}

// Options converts the file into critic options
func (cf *CriteriaFile) Options() []Option {
	opts := []Option{
		WithDefaultCriteria(cf.Default),
		WithEscalateOnRepeat(cf.EscalateOnRepeat),
	}
	for stage, c := range cf.Stages {
		opts = append(opts, WithCriteria(stage, c))
	}
	return opts
}

// Validate checks that the rules are usable
func (c Criteria) Validate() error {
	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("min_score %v outside [0, 1]", c.MinScore)
	}
	for _, f := range append(append([]string{}, c.Required...), c.Recommended...) {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("empty field name")
		}
	}
	for _, ref := range c.CrossRefs {
		if ref.Field == "" || ref.Stage == "" || ref.TargetField == "" {
			return fmt.Errorf("cross reference needs field, stage and target_field")
		}
	}
	return nil
}
