// Package risk maps a fused prediction to a coarse clinical risk tier.
//
// The mapping is an ordered rule list evaluated top to bottom. The
// confidence gate is the first rule, so a low-confidence NORMAL prediction
// is Indeterminate rather than No Risk.
package risk

import (
	"fmt"

	"github.com/Brownie44l1/cxr-api/internal/model"
)

// DefaultThreshold is the confidence percentage below which no tier is
// assigned.
const DefaultThreshold = 70.0

// Tier is a human-facing severity level.
type Tier int

const (
	Unknown Tier = iota
	Indeterminate
	NoRisk
	MediumRisk
	HighRisk
)

func (t Tier) String() string {
	switch t {
	case Indeterminate:
		return "Indeterminate"
	case NoRisk:
		return "No Risk"
	case MediumRisk:
		return "Medium Risk"
	case HighRisk:
		return "High Risk"
	default:
		return "Unknown"
	}
}

// MarshalText renders the tier name in JSON and YAML.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Rule assigns Tier when Matches holds.
type Rule struct {
	Name    string
	Matches func(label model.Label, confidence float64) bool
	Tier    Tier
}

// Policy is an immutable ordered rule list. The zero value has no rules and
// stratifies everything as Unknown.
type Policy struct {
	threshold float64
	rules     []Rule
}

// NewPolicy builds the standard policy with the given confidence gate.
func NewPolicy(threshold float64) (*Policy, error) {
	if threshold < 0 || threshold > 100 {
		return nil, fmt.Errorf("confidence threshold %v outside [0,100]", threshold)
	}
	return &Policy{
		threshold: threshold,
		rules: []Rule{
			{
				Name:    "low-confidence",
				Matches: func(_ model.Label, confidence float64) bool { return !(confidence >= threshold) }, // NaN fails the gate
				Tier:    Indeterminate,
			},
			labelRule(model.Normal, NoRisk),
			labelRule(model.ViralPneumonia, MediumRisk),
			labelRule(model.BacterialPneumonia, HighRisk),
		},
	}, nil
}

// DefaultPolicy uses DefaultThreshold.
func DefaultPolicy() *Policy {
	p, _ := NewPolicy(DefaultThreshold)
	return p
}

func labelRule(l model.Label, tier Tier) Rule {
	return Rule{
		Name:    string(l),
		Matches: func(label model.Label, _ float64) bool { return label == l },
		Tier:    tier,
	}
}

// Threshold returns the confidence gate.
func (p *Policy) Threshold() float64 { return p.threshold }

// Rules returns a copy of the rules in evaluation order.
func (p *Policy) Rules() []Rule {
	return append([]Rule(nil), p.rules...)
}

// Stratify returns the tier of the first matching rule, or Unknown. It is
// pure and defined for every input.
func (p *Policy) Stratify(label model.Label, confidence float64) Tier {
	for _, r := range p.rules {
		if r.Matches(label, confidence) {
			return r.Tier
		}
	}
	return Unknown
}
