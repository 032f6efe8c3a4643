package registers

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrNotNumber is wrapped by ValueFormatError when the raw value parses but
// is not a finite number.
var ErrNotNumber = errors.New("not a finite number")

// ValueFormatError reports a raw register value that cannot be coerced to
// the kind it was read as
type ValueFormatError struct {
	Key  string // Register key (may be empty when coercing a bare value)
	Raw  string // Raw string as returned by the device
	Kind Kind   // Kind the value was coerced to
	Err  error  // Underlying strconv error
}

// Error implements the error interface
func (e *ValueFormatError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("register %s: cannot read %q as %s: %v", e.Key, e.Raw, e.Kind, e.Err)
	}
	return fmt.Sprintf("cannot read %q as %s: %v", e.Raw, e.Kind, e.Err)
}

// Unwrap returns the underlying parse error
func (e *ValueFormatError) Unwrap() error {
	return e.Err
}

// IsValueFormatError reports whether err is or wraps a ValueFormatError
func IsValueFormatError(err error) bool {
	var vfe *ValueFormatError
	return errors.As(err, &vfe)
}

// CoerceBool converts a raw flag. Only "1" is true.
func CoerceBool(raw string) bool {
	return raw == "1"
}

// CoerceReal parses a raw REAL value.
func CoerceReal(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &ValueFormatError{Raw: raw, Kind: KindReal, Err: unwrapNumError(err)}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ValueFormatError{Raw: raw, Kind: KindReal, Err: ErrNotNumber}
	}
	return v, nil
}

// CoerceInt parses a raw INT value.
func CoerceInt(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &ValueFormatError{Raw: raw, Kind: KindInt, Err: unwrapNumError(err)}
	}
	return v, nil
}

func unwrapNumError(err error) error {
	var numErr *strconv.NumError
	if errors.As(err, &numErr) {
		return numErr.Err
	}
	return err
}

// FormatForWrite renders v as a plain decimal string the controller accepts:
// no grouping, no exponent, no trailing zeros.
func FormatForWrite(v float64) string {
	if v == 0 {
		// avoid "-0"
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatSetpoint rounds a temperature setpoint to one decimal place (half
// away from zero) and renders it with exactly one decimal.
func FormatSetpoint(v float64) string {
	r := math.Round(v*10) / 10
	if r == 0 {
		return "0.0"
	}
	return strconv.FormatFloat(r, 'f', 1, 64)
}

// FormatInt renders an INT register value.
func FormatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

// FormatBool renders a BOOL register value as "1" or "0".
func FormatBool(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// Value is a raw register value decoded according to its kind
type Value struct {
	Key    string
	Kind   Kind
	Format Format
	Raw    string
	Real   float64
	Int    int64
	Bool   bool
}

// Decode coerces raw according to the kind embedded in key. Keys of unknown
// kind decode to a Value carrying only Raw.
func Decode(key, raw string) (Value, error) {
	return DecodeAs(ParseKind(key), key, raw)
}

// DecodeAs coerces raw as kind. It is used for literal keys whose kind is
// known from the catalog rather than from the key itself.
func DecodeAs(kind Kind, key, raw string) (Value, error) {
	format, _ := ParseFormat(key)
	v := Value{Key: key, Kind: kind, Format: format, Raw: raw}

	switch kind {
	case KindBool:
		v.Bool = CoerceBool(raw)
	case KindReal:
		f, err := CoerceReal(raw)
		if err != nil {
			return v, withKey(err, key)
		}
		v.Real = f
	case KindInt:
		n, err := CoerceInt(raw)
		if err != nil {
			return v, withKey(err, key)
		}
		v.Int = n
		v.Real = float64(n)
	}
	return v, nil
}

func withKey(err error, key string) error {
	var vfe *ValueFormatError
	if errors.As(err, &vfe) {
		vfe.Key = key
	}
	return err
}

// Float returns the numeric value of v. Bools map to 0/1.
func (v Value) Float() (float64, bool) {
	switch v.Kind {
	case KindReal, KindInt:
		return v.Real, true
	case KindBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// String renders v using the precision from its key format.
func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		if v.Bool {
			return "on"
		}
		return "off"
	case KindInt:
		return FormatInt(v.Int)
	case KindReal:
		if p := v.Format.Precision(); p >= 0 {
			return strconv.FormatFloat(v.Real, 'f', p, 64)
		}
		return FormatForWrite(v.Real)
	default:
		return v.Raw
	}
}
