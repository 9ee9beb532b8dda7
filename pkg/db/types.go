package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSON column types. Each is stored as JSON text so the same schema works on
// SQLite, PostgreSQL and MySQL; a nil value is stored as NULL.

// JSONStringSlice holds a []string, used for tags and resource id lists.
type JSONStringSlice []string

func (s *JSONStringSlice) Scan(value any) error { return scanJSON("JSONStringSlice", value, s) }
func (s JSONStringSlice) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return valueJSON([]string(s))
}

// JSONAny holds a free-form object.
type JSONAny map[string]any

func (m *JSONAny) Scan(value any) error { return scanJSON("JSONAny", value, m) }
func (m JSONAny) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return valueJSON(map[string]any(m))
}

// JSONSteps keeps the exact step list of a test case version snapshot.
type JSONSteps []map[string]any

func (s *JSONSteps) Scan(value any) error { return scanJSON("JSONSteps", value, s) }
func (s JSONSteps) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return valueJSON([]map[string]any(s))
}

// JSONVector is an embedding on databases without a native vector type.
type JSONVector []float32

func (v *JSONVector) Scan(value any) error { return scanJSON("JSONVector", value, v) }
func (v JSONVector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return valueJSON([]float32(v))
}

// scanJSON decodes a driver value into dst, which must point at a nil-able
// type; NULL leaves it zeroed.
func scanJSON[T any](name string, value any, dst *T) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		var zero T
		*dst = zero
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("db: cannot scan %T into %s", value, name)
	}
	return json.Unmarshal(raw, dst)
}

func valueJSON(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
