package detection

import (
	"fmt"

	"defect-inspection/internal/domain"
	"defect-inspection/internal/domain/model"
)

// SeverityBands are ascending confidence cut points. A confidence below Medium
// is low; at or above Critical it is critical.
type SeverityBands struct {
	Medium   float64 `yaml:"medium" json:"medium"`
	High     float64 `yaml:"high" json:"high"`
	Critical float64 `yaml:"critical" json:"critical"`
}

func DefaultSeverityBands() SeverityBands {
	return SeverityBands{Medium: 0.70, High: 0.85, Critical: 0.95}
}

func (b SeverityBands) Validate() error {
	if b.Medium < 0 || b.Critical > 1 {
		return fmt.Errorf("%w: severity bands must lie within [0,1]", domain.ErrInvalidArgument)
	}
	if !(b.Medium <= b.High && b.High <= b.Critical) {
		return fmt.Errorf("%w: severity bands must be ascending (medium=%.2f high=%.2f critical=%.2f)",
			domain.ErrInvalidArgument, b.Medium, b.High, b.Critical)
	}
	return nil
}

// Classify is monotonic: a higher confidence never yields a lower severity.
func (b SeverityBands) Classify(confidence float64) model.Severity {
	switch {
	case confidence >= b.Critical:
		return model.SeverityCritical
	case confidence >= b.High:
		return model.SeverityHigh
	case confidence >= b.Medium:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}
