package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// AxisValue is a respondent's answer to one axis: a single string for text
// and select axes, a list for multiselect. It keeps the shape it was read
// with so records round-trip unchanged.
type AxisValue struct {
	Values []string
	Multi  bool
}

func Single(v string) AxisValue {
	return AxisValue{Values: []string{v}}
}

func Multiple(vs ...string) AxisValue {
	return AxisValue{Values: append([]string{}, vs...), Multi: true}
}

func (v AxisValue) IsEmpty() bool {
	for _, s := range v.Values {
		if s != "" {
			return false
		}
	}
	return true
}

func (v AxisValue) MarshalJSON() ([]byte, error) {
	if v.Multi {
		values := v.Values
		if values == nil {
			values = []string{}
		}
		return json.Marshal(values)
	}
	if len(v.Values) == 0 {
		return []byte(`""`), nil
	}
	return json.Marshal(v.Values[0])
}

func (v *AxisValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*v = AxisValue{}
		return nil
	case len(data) > 0 && data[0] == '[':
		var values []string
		if err := json.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("axis value list: %w", err)
		}
		*v = AxisValue{Values: values, Multi: true}
		return nil
	default:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("axis value: %w", err)
		}
		*v = Single(s)
		return nil
	}
}
