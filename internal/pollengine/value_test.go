package pollengine

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func TestParseValue(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		typ     FieldType
		text    string
		want    Value
		wantErr bool
	}{
		{"bool true", FieldTypeBool, "true", BoolValue(true), false},
		{"bool on", FieldTypeBool, "On", BoolValue(true), false},
		{"bool zero", FieldTypeBool, "0", BoolValue(false), false},
		{"bool junk", FieldTypeBool, "maybe", Value{}, true},
		{"card", FieldTypeCard, " 42 ", CardValue(42), false},
		{"card negative", FieldTypeCard, "-1", Value{}, true},
		{"int", FieldTypeInt, "-17", IntValue(-17), false},
		{"float", FieldTypeFloat, "21.5", FloatValue(21.5), false},
		{"float junk", FieldTypeFloat, "warm", Value{}, true},
		{"string keeps spaces", FieldTypeString, " heat ", StringValue(" heat "), false},
		{"list", FieldTypeStringList, `a, "b,c", d`, StringListValue([]string{"a", "b,c", "d"}), false},
		{"empty list", FieldTypeStringList, "", StringListValue([]string{}), false},
		{"time", FieldTypeTime, "2026-03-01T12:30:00Z", TimeValue(ts), false},
		{"unknown type", FieldType(99), "1", Value{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseValue(tt.typ, tt.text)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseValue() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ParseValue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValue_FormatParsesBack(t *testing.T) {
	values := []Value{
		BoolValue(true),
		CardValue(math.MaxUint64),
		IntValue(math.MinInt64),
		FloatValue(-0.125),
		StringValue("living room"),
		StringListValue([]string{"one", "two, three", `say "hi"`}),
		TimeValue(time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)),
	}
	for _, v := range values {
		t.Run(v.Type().String(), func(t *testing.T) {
			back, err := ParseValue(v.Type(), v.Format())
			if err != nil {
				t.Fatalf("ParseValue(%q) error = %v", v.Format(), err)
			}
			if !back.Equal(v) {
				t.Errorf("parsed %v, want %v", back, v)
			}
		})
	}
}

func TestValue_Equal(t *testing.T) {
	if !FloatValue(math.NaN()).Equal(FloatValue(math.NaN())) {
		t.Error("NaN should equal NaN so the serial does not churn")
	}
	if IntValue(1).Equal(CardValue(1)) {
		t.Error("values of different types should not be equal")
	}
	if !(Value{}).Equal(Value{}) {
		t.Error("zero values should be equal")
	}
	a := TimeValue(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	b := TimeValue(time.Date(2026, 1, 1, 1, 0, 0, 0, time.FixedZone("CET", 3600)))
	if !a.Equal(b) {
		t.Error("same instant in different zones should be equal")
	}
}

func TestValue_StringListIsCopied(t *testing.T) {
	in := []string{"a", "b"}
	v := StringListValue(in)
	in[0] = "changed"

	out := v.StringList()
	if out[0] != "a" {
		t.Errorf("value aliased its input: %v", out)
	}
	out[1] = "changed"
	if v.StringList()[1] != "b" {
		t.Error("value aliased its output")
	}
}

func TestValue_Float64(t *testing.T) {
	tests := []struct {
		v      Value
		want   float64
		wantOK bool
	}{
		{BoolValue(true), 1, true},
		{CardValue(7), 7, true},
		{IntValue(-3), -3, true},
		{FloatValue(2.5), 2.5, true},
		{StringValue("x"), 0, false},
		{Value{}, 0, false},
	}
	for _, tt := range tests {
		got, ok := tt.v.Float64()
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("%v.Float64() = %v, %v, want %v, %v", tt.v, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestValue_JSON(t *testing.T) {
	v := StringListValue([]string{"a", "b"})
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `{"type":"stringlist","value":"a,b"}` {
		t.Errorf("Marshal() = %s", data)
	}

	var back Value
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !back.Equal(v) {
		t.Errorf("Unmarshal() = %v, want %v", back, v)
	}

	if data, _ := json.Marshal(Value{}); string(data) != "null" {
		t.Errorf("zero value marshals as %s, want null", data)
	}
	if err := json.Unmarshal([]byte(`{"type":"int","value":"x"}`), &back); err == nil {
		t.Error("Unmarshal() of a bad int should fail")
	}
}

func TestFieldDef_JSONUsesNames(t *testing.T) {
	data, err := json.Marshal(defTargetTemp)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"name":"TargetTemp","id":11,"type":"int","access":"rw"}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}

	var back FieldDef
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back != defTargetTemp {
		t.Errorf("Unmarshal() = %+v", back)
	}
}

func TestParseFieldName(t *testing.T) {
	tests := []struct {
		name        string
		wantMoniker string
		wantField   string
		wantErr     bool
	}{
		{"Kitchen.Temperature", "Kitchen", "Temperature", false},
		{"HVAC-1.Zone#2:SetPoint", "HVAC-1", "Zone#2:SetPoint", false},
		{"Lights.Room.Level", "Lights", "Room.Level", false},
		{"NoDot", "", "", true},
		{".Field", "", "", true},
		{"Kitchen.", "", "", true},
		{"Kit chen.Temp", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, f, err := ParseFieldName(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFieldName() error = %v, wantErr %v", err, tt.wantErr)
			}
			if m != tt.wantMoniker || f != tt.wantField {
				t.Errorf("ParseFieldName() = %q, %q", m, f)
			}
		})
	}
}

func TestParseAccess(t *testing.T) {
	for in, want := range map[string]Access{"r": AccessRead, "W": AccessWrite, "rw": AccessReadWrite, "readwrite": AccessReadWrite} {
		got, err := ParseAccess(in)
		if err != nil || got != want {
			t.Errorf("ParseAccess(%q) = %v, %v, want %v", in, got, err, want)
		}
	}
	if _, err := ParseAccess("x"); err == nil {
		t.Error("ParseAccess(x) should fail")
	}
}
