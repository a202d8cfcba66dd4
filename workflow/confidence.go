package workflow

import (
	"encoding/json"
	"math"
	"slices"
)

// FactType is the category of an extracted fact.
type FactType string

// Fact types.
const (
	FactTypeEntity       FactType = "entity"
	FactTypeEvent        FactType = "event"
	FactTypeRelationship FactType = "relationship"
	FactTypeMetric       FactType = "metric"
	FactTypeDecision     FactType = "decision"
	FactTypeRequirement  FactType = "requirement"
	FactTypeRisk         FactType = "risk"
	FactTypeOther        FactType = "other"
)

var factTypes = []FactType{
	FactTypeEntity,
	FactTypeEvent,
	FactTypeRelationship,
	FactTypeMetric,
	FactTypeDecision,
	FactTypeRequirement,
	FactTypeRisk,
	FactTypeOther,
}

// FactTypes returns every known fact type.
func FactTypes() []FactType {
	return slices.Clone(factTypes)
}

// ParseFactType validates s as a known fact type.
func ParseFactType(s string) (FactType, error) {
	v := FactType(s)
	if !slices.Contains(factTypes, v) {
		return "", ErrInvalidFactType
	}
	return v, nil
}

// UnmarshalJSON rejects unknown fact types.
func (t *FactType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := ParseFactType(raw)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// SourceType identifies where a fact was extracted from.
type SourceType string

// Source types. SourceNone covers facts with no recorded provenance.
const (
	SourceNone          SourceType = ""
	SourceDocument      SourceType = "document"
	SourceCommunication SourceType = "communication"
)

// ParseSourceType validates s as document or communication.
func ParseSourceType(s string) (SourceType, error) {
	switch SourceType(s) {
	case SourceDocument, SourceCommunication:
		return SourceType(s), nil
	}
	return "", ErrInvalidSourceType
}

// Flags are the metadata switches that influence confidence.
type Flags struct {
	Verified  bool `json:"verified,omitempty"`
	Uncertain bool `json:"uncertain,omitempty"`
	Automated bool `json:"automated,omitempty"`
}

const (
	documentFactor      = 1.1
	communicationFactor = 0.9
	verifiedFactor      = 1.2
	uncertainFactor     = 0.8
	automatedFactor     = 0.9
)

// AdjustConfidence applies the source and metadata multipliers to base, in
// that order, and clamps the result to [0, 1]. NaN collapses to 0.
func AdjustConfidence(base float64, flags Flags, source SourceType) float64 {
	v := base

	switch source {
	case SourceDocument:
		v *= documentFactor
	case SourceCommunication:
		v *= communicationFactor
	}

	if flags.Verified {
		v *= verifiedFactor
	}
	if flags.Uncertain {
		v *= uncertainFactor
	}
	if flags.Automated {
		v *= automatedFactor
	}

	return clamp(v)
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Bucket is a coarse confidence band.
type Bucket string

// Confidence bands.
const (
	BucketHigh   Bucket = "high"
	BucketMedium Bucket = "medium"
	BucketLow    Bucket = "low"
)

const (
	highThreshold   = 0.8
	mediumThreshold = 0.5
)

// BucketFor maps a confidence to its band: >= 0.8 high, >= 0.5 medium,
// otherwise low. Both boundaries are inclusive on the upper band.
func BucketFor(confidence float64) Bucket {
	switch {
	case confidence >= highThreshold:
		return BucketHigh
	case confidence >= mediumThreshold:
		return BucketMedium
	default:
		return BucketLow
	}
}

// ValidConfidence reports whether c lies in [0, 1].
func ValidConfidence(c float64) bool {
	return !math.IsNaN(c) && c >= 0 && c <= 1
}
