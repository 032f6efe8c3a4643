package device

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sort"
	"time"

	"github.com/muurk/acond/internal/registers"
)

// ErrKeyMissing is returned by typed reads of keys not in the snapshot
var ErrKeyMissing = errors.New("key not present in snapshot")

// Snapshot is an immutable set of register values read from the controller
// at one point in time. The zero value is an empty snapshot.
type Snapshot struct {
	values    map[string]string
	fetchedAt time.Time
}

// NewSnapshot copies values into a new snapshot
func NewSnapshot(values map[string]string, fetchedAt time.Time) Snapshot {
	return Snapshot{values: maps.Clone(values), fetchedAt: fetchedAt}
}

// FetchedAt returns when the values were read
func (s Snapshot) FetchedAt() time.Time {
	return s.fetchedAt
}

// Get returns the raw value of key
func (s Snapshot) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Len returns the number of keys
func (s Snapshot) Len() int {
	return len(s.values)
}

// Keys returns the keys in sorted order
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a copy of the values
func (s Snapshot) Map() map[string]string {
	if s.values == nil {
		return map[string]string{}
	}
	return maps.Clone(s.values)
}

// Merge returns a snapshot holding the keys of both; other wins on conflict
// and supplies the timestamp.
func (s Snapshot) Merge(other Snapshot) Snapshot {
	out := make(map[string]string, len(s.values)+len(other.values))
	maps.Copy(out, s.values)
	maps.Copy(out, other.values)
	at := other.fetchedAt
	if at.IsZero() {
		at = s.fetchedAt
	}
	return Snapshot{values: out, fetchedAt: at}
}

// Equal reports whether both snapshots hold the same values. Timestamps are
// ignored.
func (s Snapshot) Equal(other Snapshot) bool {
	return maps.Equal(s.values, other.values)
}

// Real reads key as a REAL value
func (s Snapshot) Real(key string) (float64, error) {
	raw, ok := s.values[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrKeyMissing, key)
	}
	v, err := registers.CoerceReal(raw)
	if err != nil {
		var vfe *registers.ValueFormatError
		if errors.As(err, &vfe) {
			vfe.Key = key
		}
		return 0, err
	}
	return v, nil
}

// Int reads key as an INT value
func (s Snapshot) Int(key string) (int64, error) {
	raw, ok := s.values[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrKeyMissing, key)
	}
	v, err := registers.CoerceInt(raw)
	if err != nil {
		var vfe *registers.ValueFormatError
		if errors.As(err, &vfe) {
			vfe.Key = key
		}
		return 0, err
	}
	return v, nil
}

// Bool reads key as a BOOL value
func (s Snapshot) Bool(key string) (bool, error) {
	raw, ok := s.values[key]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrKeyMissing, key)
	}
	return registers.CoerceBool(raw), nil
}

// Register decodes the catalog register reg from the snapshot
func (s Snapshot) Register(reg registers.Register) (registers.Value, error) {
	raw, ok := s.values[reg.Key]
	if !ok {
		return registers.Value{}, fmt.Errorf("%w: %s", ErrKeyMissing, reg.Key)
	}
	return reg.Decode(raw)
}

// MarshalJSON encodes the values as a JSON object
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Map())
}

// UnmarshalJSON decodes a JSON object of string values
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	s.values = values
	return nil
}
