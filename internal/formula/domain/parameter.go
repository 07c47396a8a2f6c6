package formula

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// ParameterType tags the variant carried by a FormulaParameter.
type ParameterType string

const (
	ParameterConstant      ParameterType = "constant"
	ParameterTimeSeriesRef ParameterType = "timeseries_ref"
	ParameterString        ParameterType = "string"
	ParameterExpression    ParameterType = "expression"
)

// FormulaParameter is a tagged union: exactly one of Constant, Reference,
// Literal or Expression is populated, selected by Type.
type FormulaParameter struct {
	Name          string
	Type          ParameterType
	Constant      decimal.Decimal
	Reference     string
	Literal       string
	Expression    *FormulaExpression
	ScalingFactor *float64
	OBISCode      string
}

// NewConstant builds a constant parameter.
func NewConstant(value decimal.Decimal) FormulaParameter {
	return FormulaParameter{Type: ParameterConstant, Constant: value}
}

// NewSeriesRef builds a time-series reference parameter.
func NewSeriesRef(name string) FormulaParameter {
	return FormulaParameter{Type: ParameterTimeSeriesRef, Reference: name}
}

// NewScaledSeriesRef builds a reference parameter with a scaling factor.
func NewScaledSeriesRef(name string, factor float64) FormulaParameter {
	return FormulaParameter{Type: ParameterTimeSeriesRef, Reference: name, ScalingFactor: &factor}
}

// NewString builds a string literal parameter (comparators and tokens).
func NewString(literal string) FormulaParameter {
	return FormulaParameter{Type: ParameterString, Literal: literal}
}

// NewNested builds a nested expression parameter.
func NewNested(expr *FormulaExpression) FormulaParameter {
	return FormulaParameter{Type: ParameterExpression, Expression: expr}
}

// Scale returns the scaling factor as a decimal, defaulting to 1.
func (p FormulaParameter) Scale() decimal.Decimal {
	if p.ScalingFactor == nil {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromFloat(*p.ScalingFactor)
}

type parameterWire struct {
	Name          string          `json:"name,omitempty"`
	Type          ParameterType   `json:"type"`
	Value         json.RawMessage `json:"value"`
	ScalingFactor *float64        `json:"scalingFactor,omitempty"`
	OBISCode      string          `json:"obisCode,omitempty"`
}

// MarshalJSON encodes the parameter in the wire shape {type, value, ...}.
// Constant values are emitted as JSON numbers, not strings.
func (p FormulaParameter) MarshalJSON() ([]byte, error) {
	wire := parameterWire{
		Name:          p.Name,
		Type:          p.Type,
		ScalingFactor: p.ScalingFactor,
		OBISCode:      p.OBISCode,
	}
	switch p.Type {
	case ParameterConstant:
		wire.Value = json.RawMessage(p.Constant.String())
	case ParameterTimeSeriesRef:
		value, err := json.Marshal(p.Reference)
		if err != nil {
			return nil, err
		}
		wire.Value = value
	case ParameterString:
		value, err := json.Marshal(p.Literal)
		if err != nil {
			return nil, err
		}
		wire.Value = value
	case ParameterExpression:
		if p.Expression == nil {
			return nil, fmt.Errorf("formula: expression parameter %q has nil value", p.Name)
		}
		value, err := json.Marshal(p.Expression)
		if err != nil {
			return nil, err
		}
		wire.Value = value
	default:
		return nil, fmt.Errorf("formula: unknown parameter type %q", p.Type)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes a parameter and verifies the declared type tag
// matches the shape of the value. Cross-tree checks are the validator's job.
func (p *FormulaParameter) UnmarshalJSON(data []byte) error {
	var wire parameterWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	decoded := FormulaParameter{
		Name:          wire.Name,
		Type:          wire.Type,
		ScalingFactor: wire.ScalingFactor,
		OBISCode:      wire.OBISCode,
	}
	switch wire.Type {
	case ParameterConstant:
		var value decimal.Decimal
		if err := json.Unmarshal(wire.Value, &value); err != nil {
			return fmt.Errorf("formula: constant parameter %q: %w", wire.Name, err)
		}
		decoded.Constant = value
	case ParameterTimeSeriesRef:
		var value string
		if err := json.Unmarshal(wire.Value, &value); err != nil {
			return fmt.Errorf("formula: timeseries_ref parameter %q: %w", wire.Name, err)
		}
		if value == "" {
			return fmt.Errorf("formula: timeseries_ref parameter %q: empty reference", wire.Name)
		}
		decoded.Reference = value
	case ParameterString:
		var value string
		if err := json.Unmarshal(wire.Value, &value); err != nil {
			return fmt.Errorf("formula: string parameter %q: %w", wire.Name, err)
		}
		decoded.Literal = value
	case ParameterExpression:
		var value FormulaExpression
		if err := json.Unmarshal(wire.Value, &value); err != nil {
			return fmt.Errorf("formula: expression parameter %q: %w", wire.Name, err)
		}
		decoded.Expression = &value
	default:
		return fmt.Errorf("formula: unknown parameter type %q", wire.Type)
	}
	*p = decoded
	return nil
}
