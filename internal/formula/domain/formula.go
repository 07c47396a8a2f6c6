package formula

import (
	"encoding/json"
	"regexp"
	"time"
)

// Category classifies what a formula computes.
type Category string

const (
	CategoryBilanzierung   Category = "BILANZIERUNG"
	CategoryNetznutzung    Category = "NETZNUTZUNG"
	CategoryEigenverbrauch Category = "EIGENVERBRAUCH"
	CategoryVerluste       Category = "VERLUSTE"
	CategoryAggregation    Category = "AGGREGATION"
)

// KnownCategory reports whether c is a recognized formula category.
func KnownCategory(c Category) bool {
	switch c {
	case CategoryBilanzierung, CategoryNetznutzung, CategoryEigenverbrauch, CategoryVerluste, CategoryAggregation:
		return true
	default:
		return false
	}
}

// Formula is the registrable unit exchanged between market participants.
type Formula struct {
	FormulaID        string             `json:"formulaId"`
	Name             string             `json:"name"`
	Description      string             `json:"description,omitempty"`
	Expression       *FormulaExpression `json:"expression"`
	InputTimeSeries  []string           `json:"inputTimeSeries"`
	OutputUnit       string             `json:"outputUnit"`
	OutputResolution string             `json:"outputResolution"`
	OutputOBISCode   string             `json:"outputObisCode,omitempty"`
	Category         Category           `json:"category,omitempty"`
	Version          int                `json:"version,omitempty"`
	LossFactor       *float64           `json:"lossFactor,omitempty"`
	Metadata         map[string]any     `json:"metadata,omitempty"`
}

// Clone returns a deep copy via the wire codec.
func (f *Formula) Clone() (*Formula, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	var copy Formula
	if err := json.Unmarshal(data, &copy); err != nil {
		return nil, err
	}
	copy.Version = f.Version
	return &copy, nil
}

// resolutions maps recognized ISO-8601 output resolutions to durations.
var resolutions = map[string]time.Duration{
	"PT15M": 15 * time.Minute,
	"PT30M": 30 * time.Minute,
	"PT1H":  time.Hour,
	"P1D":   24 * time.Hour,
}

// ParseResolution resolves a recognized ISO-8601 duration token.
func ParseResolution(s string) (time.Duration, bool) {
	d, ok := resolutions[s]
	return d, ok
}

// obisPattern matches the A-B:C.D.E[*F] OBIS structure.
var obisPattern = regexp.MustCompile(`^\d{1,3}-\d{1,3}:\d{1,3}\.\d{1,3}\.\d{1,3}(\*\d{1,3})?$`)

// ValidOBISCode reports whether code is a well-formed OBIS identifier.
func ValidOBISCode(code string) bool {
	return obisPattern.MatchString(code)
}
