package builder

import (
	"fmt"
	"regexp"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
)

var stageNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidatePipeline performs comprehensive validation on a pipeline
func ValidatePipeline(p *fairiagent.Pipeline) error {
	if p.Len() == 0 {
		return fmt.Errorf("pipeline has no stages")
	}

	if err := ValidateStageNames(p); err != nil {
		return err
	}

	if err := ValidateRequires(p); err != nil {
		return err
	}

	return ValidateStageConfigs(p)
}

// ValidateStageNames ensures stage names are usable as storage keys and
// metric labels
func ValidateStageNames(p *fairiagent.Pipeline) error {
	for _, name := range p.Order() {
		if !stageNamePattern.MatchString(name) {
			return fmt.Errorf("stage name %q must match %s", name, stageNamePattern)
		}
	}
	return nil
}

// ValidateRequires ensures every declared upstream stage runs earlier
func ValidateRequires(p *fairiagent.Pipeline) error {
	position := make(map[string]int, p.Len())
	for i, name := range p.Order() {
		position[name] = i
	}

	for i, name := range p.Order() {
		stage, err := p.GetStage(name)
		if err != nil {
			return err
		}
		for _, dep := range stage.Config().Requires {
			at, ok := position[dep]
			switch {
			case !ok:
				return fmt.Errorf("stage %s requires unregistered stage %s", name, dep)
			case dep == name:
				return fmt.Errorf("stage %s requires itself", name)
			case at > i:
				return fmt.Errorf("stage %s requires %s, which runs later", name, dep)
			}
		}
	}

	return nil
}

// ValidateStageConfigs rejects configs the controller cannot honour
func ValidateStageConfigs(p *fairiagent.Pipeline) error {
	for _, name := range p.Order() {
		cfg := p.StageConfigFor(name)
		if cfg.TimeoutSeconds < 0 {
			return fmt.Errorf("stage %s has negative timeout", name)
		}
		if cfg.RetryDelayMs < 0 {
			return fmt.Errorf("stage %s has negative retry delay", name)
		}
		switch cfg.RetryBackoff {
		case fairiagent.BackoffLinear, fairiagent.BackoffExponential, fairiagent.BackoffNone:
		default:
			return fmt.Errorf("stage %s has unknown backoff %q", name, cfg.RetryBackoff)
		}
	}
	return nil
}
