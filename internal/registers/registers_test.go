package registers

import (
	"errors"
	"strconv"
	"testing"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		key  string
		want Kind
	}{
		{"__T46AA2571_REAL_.1f", KindReal},
		{"__T2BA2EA36_BOOL_i", KindBool},
		{"__T47138CF2_INT_.1f", KindInt},
		{"__t46aa2571_REAL_.1f", KindUnknown},
		{"__T46aa2571_REAL_.0f", KindReal},
		{"__T46AA257_REAL_.1f", KindUnknown},
		{"__T46AA2571_TEXT_.1f", KindUnknown},
		{"__T46AA2571_REAL", KindUnknown},
		{"__T_CURRENT_BOILER_MODE_INT_", KindUnknown},
		{"USER", KindUnknown},
		{"", KindUnknown},
		{"__T46AA2571_REAL_.1f_extra", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := ParseKind(tt.key); got != tt.want {
				t.Errorf("ParseKind(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		key       string
		want      Format
		ok        bool
		precision int
	}{
		{"__T46AA2571_REAL_.1f", ".1f", true, 1},
		{"__TA725D6FD_REAL_.0f", ".0f", true, 0},
		{"__TD50B2FF2_REAL_.2f", ".2f", true, 2},
		{"__T2BA2EA36_BOOL_i", "i", true, 0},
		{"__T2BA2EA36_BOOL_", "", true, -1},
		{"not-a-key", "", false, -1},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := ParseFormat(tt.key)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParseFormat(%q) = (%q, %v), want (%q, %v)", tt.key, got, ok, tt.want, tt.ok)
			}
			if p := got.Precision(); p != tt.precision {
				t.Errorf("Precision() = %d, want %d", p, tt.precision)
			}
		})
	}
}

func TestCoerceBool(t *testing.T) {
	inputs := []string{"1", "0", "", " 1", "1 ", "true", "TRUE", "yes", "2", "-1", "01", "\x00", "\xff"}
	for _, in := range inputs {
		want := in == "1"
		if got := CoerceBool(in); got != want {
			t.Errorf("CoerceBool(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCoerceReal(t *testing.T) {
	tests := []struct {
		raw     string
		want    float64
		wantErr bool
	}{
		{"21.5", 21.5, false},
		{" 21.5 ", 21.5, false},
		{"-3.2", -3.2, false},
		{"0", 0, false},
		{"1e2", 100, false},
		{"", 0, true},
		{"21,5", 0, true},
		{"abc", 0, true},
		{"NaN", 0, true},
		{"Inf", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := CoerceReal(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CoerceReal(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if err != nil {
				var vfe *ValueFormatError
				if !errors.As(err, &vfe) {
					t.Fatalf("CoerceReal(%q) error type = %T, want *ValueFormatError", tt.raw, err)
				}
				if vfe.Kind != KindReal || vfe.Raw != tt.raw {
					t.Errorf("ValueFormatError = %+v, want Kind REAL and Raw %q", vfe, tt.raw)
				}
				return
			}
			if got != tt.want {
				t.Errorf("CoerceReal(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestCoerceInt(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{"3", 3, false},
		{"-1", -1, false},
		{" 4\n", 4, false},
		{"1.0", 0, true},
		{"", 0, true},
		{"0x10", 0, true},
		{"99999999999999999999", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := CoerceInt(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CoerceInt(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("CoerceInt(%q) = %v, want %v", tt.raw, got, tt.want)
			}
			if err != nil && !IsValueFormatError(err) {
				t.Errorf("IsValueFormatError(%v) = false, want true", err)
			}
		})
	}
}

func TestCoerceInt_RangeErrorUnwraps(t *testing.T) {
	_, err := CoerceInt("99999999999999999999")
	if !errors.Is(err, strconv.ErrRange) {
		t.Errorf("errors.Is(err, strconv.ErrRange) = false for %v", err)
	}
}

func TestFormatForWrite(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{21.5, "21.5"},
		{21, "21"},
		{0, "0"},
		{-2.25, "-2.25"},
		{1234567.5, "1234567.5"},
		{1e21, "1000000000000000000000"},
	}

	for _, tt := range tests {
		if got := FormatForWrite(tt.in); got != tt.want {
			t.Errorf("FormatForWrite(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatSetpoint(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{21.5, "21.5"},
		{21, "21.0"},
		{21.54, "21.5"},
		{21.56, "21.6"},
		{-0.04, "0.0"},
		{-3.26, "-3.3"},
	}

	for _, tt := range tests {
		if got := FormatSetpoint(tt.in); got != tt.want {
			t.Errorf("FormatSetpoint(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecode(t *testing.T) {
	v, err := Decode("__T46AA2571_REAL_.1f", "21.54")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if v.Real != 21.54 || v.String() != "21.5" {
		t.Errorf("Decode() = %v (%s), want 21.54 rendered as 21.5", v.Real, v.String())
	}

	v, err = Decode("__T2BA2EA36_BOOL_i", "garbage")
	if err != nil {
		t.Fatalf("Decode(BOOL) error = %v, want nil", err)
	}
	if v.Bool || v.String() != "off" {
		t.Errorf("Decode(BOOL garbage) = %v, want off", v.Bool)
	}

	_, err = Decode("__T46AA2571_REAL_.1f", "--")
	var vfe *ValueFormatError
	if !errors.As(err, &vfe) {
		t.Fatalf("Decode(bad REAL) error = %v, want *ValueFormatError", err)
	}
	if vfe.Key != "__T46AA2571_REAL_.1f" {
		t.Errorf("ValueFormatError.Key = %q, want the register key", vfe.Key)
	}

	v, err = Decode("SOMETHING", "raw text")
	if err != nil || v.Kind != KindUnknown || v.String() != "raw text" {
		t.Errorf("Decode(unknown) = %+v, %v; want raw pass-through", v, err)
	}
}

func TestCatalogLookup(t *testing.T) {
	reg, ok := Lookup("Indoor Setpoint")
	if !ok {
		t.Fatal("Lookup(\"Indoor Setpoint\") not found")
	}
	if reg.WriteKey != "__TBEC2C30E_REAL_.1f" {
		t.Errorf("WriteKey = %q, want __TBEC2C30E_REAL_.1f", reg.WriteKey)
	}

	if _, ok := Lookup("does_not_exist"); ok {
		t.Error("Lookup(does_not_exist) found a register")
	}

	byKey, ok := LookupKey("__T3B27E86E_REAL_.1f")
	if !ok || byKey.Name != "boiler_setpoint" {
		t.Errorf("LookupKey(write key) = %v, %v; want boiler_setpoint", byKey.Name, ok)
	}

	seen := make(map[string]bool)
	for _, r := range All() {
		if seen[r.Name] {
			t.Errorf("duplicate catalog name %s", r.Name)
		}
		seen[r.Name] = true
		if r.Kind == KindUnknown {
			t.Errorf("register %s has no declared kind", r.Name)
		}
		if k := ParseKind(r.Key); k != KindUnknown && k != r.Kind {
			t.Errorf("register %s declared %v but key says %v", r.Name, r.Kind, k)
		}
	}
	if len(Names()) != len(All()) {
		t.Errorf("Names() has %d entries, want %d", len(Names()), len(All()))
	}
}

func TestRegisterValidate(t *testing.T) {
	setpoint, _ := Lookup("indoor_setpoint")
	mode, _ := Lookup("boiler_mode")
	sensor, _ := Lookup("indoor_temperature")
	halfStep := setpoint
	halfStep.Step = 0.5

	tests := []struct {
		name    string
		reg     Register
		value   float64
		wantErr bool
	}{
		{"setpoint in range", setpoint, 21.5, false},
		{"setpoint lower bound", setpoint, 7, false},
		{"setpoint too low", setpoint, 6.9, true},
		{"setpoint too high", setpoint, 35.1, true},
		{"mode valid option", mode, 4, false},
		{"mode invalid option", mode, 5, true},
		{"read-only sensor", sensor, 20, true},
		{"setpoint rounded onto step", setpoint, 21.54, false},
		{"half step on step", halfStep, 21.5, false},
		{"half step rounded onto step", halfStep, 21.46, false},
		{"half step off step", halfStep, 21.3, true},
		{"half step rounded off step", halfStep, 21.26, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.reg.Validate(tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%v) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestRegisterEncodeWrite(t *testing.T) {
	setpoint, _ := Lookup("boiler_setpoint")
	if got := setpoint.EncodeWrite(45.26); got != "45.3" {
		t.Errorf("EncodeWrite(45.26) = %q, want 45.3", got)
	}

	mode, _ := Lookup("operating_mode")
	if got := mode.EncodeWrite(2); got != "2" {
		t.Errorf("EncodeWrite(2) = %q, want 2", got)
	}
	if v, ok := mode.OptionValue("Heating Only"); !ok || v != 1 {
		t.Errorf("OptionValue(Heating Only) = %v, %v; want 1, true", v, ok)
	}
	if l, ok := mode.OptionLabel(3); !ok || l != "off" {
		t.Errorf("OptionLabel(3) = %q, %v; want off, true", l, ok)
	}
}

func TestRegisterDecode_IntRenderedAsReal(t *testing.T) {
	mode, _ := Lookup("operating_mode")
	v, err := mode.Decode("1.0")
	if err != nil {
		t.Fatalf("Decode(1.0) error = %v", err)
	}
	if v.Int != 1 {
		t.Errorf("Decode(1.0).Int = %d, want 1", v.Int)
	}

	if _, err := mode.Decode("1.5"); err == nil {
		t.Error("Decode(1.5) error = nil, want ValueFormatError")
	}
}

func TestRegisterParseInput(t *testing.T) {
	tests := []struct {
		reg     string
		input   string
		want    float64
		wantErr bool
	}{
		{"indoor_setpoint", " 21.5 ", 21.5, false},
		{"boiler_mode", "Heat-Pump", 4, false},
		{"operating_mode", "2", 2, false},
		{"operating_mode", "sideways", 0, true},
		{"boiler_setpoint", "", 0, true},
		{"boiler_setpoint", "hot", 0, true},
	}

	for _, tt := range tests {
		reg, _ := Lookup(tt.reg)
		got, err := reg.ParseInput(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s.ParseInput(%q) error = %v, wantErr %v", tt.reg, tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("%s.ParseInput(%q) = %v, want %v", tt.reg, tt.input, got, tt.want)
		}
	}
}
