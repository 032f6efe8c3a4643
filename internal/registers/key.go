package registers

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind is the storage type embedded in a register key
type Kind int

const (
	// KindUnknown is returned for keys that do not follow the register pattern
	KindUnknown Kind = iota
	// KindReal is a floating point register
	KindReal
	// KindBool is a 0/1 flag register
	KindBool
	// KindInt is an integer register
	KindInt
)

// String returns the kind as it appears inside a key
func (k Kind) String() string {
	switch k {
	case KindReal:
		return "REAL"
	case KindBool:
		return "BOOL"
	case KindInt:
		return "INT"
	default:
		return "UNKNOWN"
	}
}

// keyPattern matches __T<8 hex>_<KIND>_<FORMAT>
var keyPattern = regexp.MustCompile(`^__T[0-9A-Fa-f]{8}_([A-Z]+)_([^_]*)$`)

// ParseKind returns the kind embedded in key, or KindUnknown when key does
// not follow the register pattern. It never fails.
func ParseKind(key string) Kind {
	m := keyPattern.FindStringSubmatch(key)
	if m == nil {
		return KindUnknown
	}
	return kindFromName(m[1])
}

func kindFromName(name string) Kind {
	switch name {
	case "REAL":
		return KindReal
	case "BOOL":
		return KindBool
	case "INT":
		return KindInt
	default:
		return KindUnknown
	}
}

// Format is the display spec carried at the end of a key (".1f", "i", ...)
type Format string

// ParseFormat extracts the display spec from key.
func ParseFormat(key string) (Format, bool) {
	m := keyPattern.FindStringSubmatch(key)
	if m == nil || kindFromName(m[1]) == KindUnknown {
		return "", false
	}
	return Format(m[2]), true
}

// Precision returns the number of digits after the decimal point, or -1 when
// the format does not say.
func (f Format) Precision() int {
	s := string(f)
	if s == "i" {
		return 0
	}
	if !strings.HasPrefix(s, ".") || !strings.HasSuffix(s, "f") {
		return -1
	}
	n, err := strconv.Atoi(s[1 : len(s)-1])
	if err != nil || n < 0 {
		return -1
	}
	return n
}
