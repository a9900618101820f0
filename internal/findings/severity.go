package findings

import "sliptacore/pkg/domain"

// SeverityStrategy maps a non-conforming answer to a finding severity.
type SeverityStrategy interface {
	Name() string
	Severity(answer domain.Answer, weight domain.Weight) domain.FindingSeverity
}

// WeightTiered grades N as high and P by weight: medium for weight 3, low
// otherwise. It is used when a single response is stored.
type WeightTiered struct{}

// Name implements SeverityStrategy.
func (WeightTiered) Name() string { return "weight_tiered" }

// Severity implements SeverityStrategy.
func (WeightTiered) Severity(answer domain.Answer, weight domain.Weight) domain.FindingSeverity {
	if answer == domain.AnswerNo {
		return domain.FindingHigh
	}
	if weight == domain.WeightMajor {
		return domain.FindingMedium
	}
	return domain.FindingLow
}

// Binary grades N as high and P as medium regardless of weight. It is used
// by batch reconciliation.
type Binary struct{}

// Name implements SeverityStrategy.
func (Binary) Name() string { return "binary" }

// Severity implements SeverityStrategy.
func (Binary) Severity(answer domain.Answer, _ domain.Weight) domain.FindingSeverity {
	if answer == domain.AnswerNo {
		return domain.FindingHigh
	}
	return domain.FindingMedium
}
