package pollengine

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// FieldType is the data type of a driver field.
type FieldType uint8

// Field types. The zero value is not a valid type.
const (
	FieldTypeBool FieldType = iota + 1
	FieldTypeCard
	FieldTypeInt
	FieldTypeFloat
	FieldTypeString
	FieldTypeStringList
	FieldTypeTime
)

var fieldTypeNames = map[FieldType]string{
	FieldTypeBool:       "bool",
	FieldTypeCard:       "card",
	FieldTypeInt:        "int",
	FieldTypeFloat:      "float",
	FieldTypeString:     "string",
	FieldTypeStringList: "stringlist",
	FieldTypeTime:       "time",
}

// String returns the wire name of the type.
func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// IsValid reports whether t is a known field type.
func (t FieldType) IsValid() bool {
	_, ok := fieldTypeNames[t]
	return ok
}

// MarshalText encodes the type as its wire name.
func (t FieldType) MarshalText() ([]byte, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("unknown field type %d", t)
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes a wire name.
func (t *FieldType) UnmarshalText(text []byte) error {
	parsed, err := ParseFieldType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseFieldType converts a wire name ("bool", "card", ...) to a FieldType.
func ParseFieldType(s string) (FieldType, error) {
	lower := strings.ToLower(strings.TrimSpace(s))
	for t, name := range fieldTypeNames {
		if name == lower {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown field type %q", s)
}

// Value is a typed field value. Exactly one of the payload members is
// meaningful, selected by the type tag. The zero Value has no type and
// means "no value yet".
//
// Values are immutable once built; the string-list payload is copied on the
// way in and on the way out.
type Value struct {
	typ  FieldType
	b    bool
	u    uint64
	i    int64
	f    float64
	s    string
	list []string
	t    time.Time
}

// BoolValue returns a boolean Value.
func BoolValue(v bool) Value { return Value{typ: FieldTypeBool, b: v} }

// CardValue returns an unsigned Value.
func CardValue(v uint64) Value { return Value{typ: FieldTypeCard, u: v} }

// IntValue returns a signed Value.
func IntValue(v int64) Value { return Value{typ: FieldTypeInt, i: v} }

// FloatValue returns a floating point Value.
func FloatValue(v float64) Value { return Value{typ: FieldTypeFloat, f: v} }

// StringValue returns a string Value.
func StringValue(v string) Value { return Value{typ: FieldTypeString, s: v} }

// StringListValue returns a string-list Value. The slice is copied.
func StringListValue(v []string) Value {
	return Value{typ: FieldTypeStringList, list: slices.Clone(v)}
}

// TimeValue returns a time Value, normalised to UTC.
func TimeValue(v time.Time) Value { return Value{typ: FieldTypeTime, t: v.UTC()} }

// Type returns the type tag, or 0 for the zero Value.
func (v Value) Type() FieldType { return v.typ }

// IsZero reports whether v carries no value.
func (v Value) IsZero() bool { return v.typ == 0 }

// Bool returns the boolean payload.
func (v Value) Bool() bool { return v.b }

// Card returns the unsigned payload.
func (v Value) Card() uint64 { return v.u }

// Int returns the signed payload.
func (v Value) Int() int64 { return v.i }

// Float returns the floating point payload.
func (v Value) Float() float64 { return v.f }

// Str returns the string payload.
func (v Value) Str() string { return v.s }

// StringList returns a copy of the string-list payload.
func (v Value) StringList() []string { return slices.Clone(v.list) }

// Time returns the time payload.
func (v Value) Time() time.Time { return v.t }

// Float64 converts numeric and boolean values to float64 for telemetry.
// The second result is false for strings, lists and times.
func (v Value) Float64() (float64, bool) {
	switch v.typ {
	case FieldTypeBool:
		if v.b {
			return 1, true
		}
		return 0, true
	case FieldTypeCard:
		return float64(v.u), true
	case FieldTypeInt:
		return float64(v.i), true
	case FieldTypeFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// Equal reports whether two values have the same type and payload.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case FieldTypeBool:
		return v.b == o.b
	case FieldTypeCard:
		return v.u == o.u
	case FieldTypeInt:
		return v.i == o.i
	case FieldTypeFloat:
		// NaN never equals itself, which would bump the serial on every poll.
		if math.IsNaN(v.f) && math.IsNaN(o.f) {
			return true
		}
		return v.f == o.f
	case FieldTypeString:
		return v.s == o.s
	case FieldTypeStringList:
		return slices.Equal(v.list, o.list)
	case FieldTypeTime:
		return v.t.Equal(o.t)
	default:
		return true
	}
}

// clone returns a copy that shares no mutable storage with v.
func (v Value) clone() Value {
	if v.list != nil {
		v.list = slices.Clone(v.list)
	}
	return v
}

// Format renders the value as text, the same form ParseValue accepts and
// the form writes are sent to the host in.
func (v Value) Format() string {
	switch v.typ {
	case FieldTypeBool:
		return strconv.FormatBool(v.b)
	case FieldTypeCard:
		return strconv.FormatUint(v.u, 10)
	case FieldTypeInt:
		return strconv.FormatInt(v.i, 10)
	case FieldTypeFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case FieldTypeString:
		return v.s
	case FieldTypeStringList:
		return formatList(v.list)
	case FieldTypeTime:
		return v.t.Format(time.RFC3339Nano)
	default:
		return ""
	}
}

// String implements fmt.Stringer.
func (v Value) String() string {
	if v.typ == 0 {
		return "<none>"
	}
	return v.Format()
}

// valueJSON is the wire form of a Value: the type name and the text form.
type valueJSON struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// MarshalJSON encodes the value as {"type": ..., "value": ...}. The zero
// Value encodes as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.typ == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(valueJSON{Type: v.typ.String(), Value: v.Format()})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Value{}
		return nil
	}
	var raw valueJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding value: %w", err)
	}
	typ, err := ParseFieldType(raw.Type)
	if err != nil {
		return fmt.Errorf("decoding value: %w", err)
	}
	parsed, err := ParseValue(typ, raw.Value)
	if err != nil {
		return fmt.Errorf("decoding value: %w", err)
	}
	*v = parsed
	return nil
}

// ParseValue parses text as a value of the given type.
func ParseValue(typ FieldType, text string) (Value, error) {
	switch typ {
	case FieldTypeBool:
		b, err := parseBool(text)
		if err != nil {
			return Value{}, err
		}
		return BoolValue(b), nil
	case FieldTypeCard:
		u, err := strconv.ParseUint(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parsing card %q: %w", text, err)
		}
		return CardValue(u), nil
	case FieldTypeInt:
		i, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parsing int %q: %w", text, err)
		}
		return IntValue(i), nil
	case FieldTypeFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return Value{}, fmt.Errorf("parsing float %q: %w", text, err)
		}
		return FloatValue(f), nil
	case FieldTypeString:
		return StringValue(text), nil
	case FieldTypeStringList:
		list, err := parseList(text)
		if err != nil {
			return Value{}, err
		}
		return StringListValue(list), nil
	case FieldTypeTime:
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(text))
		if err != nil {
			return Value{}, fmt.Errorf("parsing time %q: %w", text, err)
		}
		return TimeValue(t), nil
	default:
		return Value{}, fmt.Errorf("unknown field type %d", typ)
	}
}

func parseBool(text string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("parsing bool %q: not a boolean", text)
	}
}

// String lists use a single CSV record so elements may contain commas.
func formatList(list []string) string {
	if len(list) == 0 {
		return ""
	}
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	//nolint:errcheck // strings.Builder writes cannot fail
	w.Write(list)
	w.Flush()
	return strings.TrimRight(sb.String(), "\r\n")
}

func parseList(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return []string{}, nil
	}
	r := csv.NewReader(strings.NewReader(text))
	r.TrimLeadingSpace = true
	list, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("parsing string list %q: %w", text, err)
	}
	return list, nil
}
