package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
)

// Document is an opaque JSON object kept verbatim for audit, such as a
// broker postback body or session metadata.
type Document map[string]any

// Value implements driver.Valuer.
func (d Document) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (d *Document) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*d = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported document source %T", src)
	}
	if len(raw) == 0 {
		*d = nil
		return nil
	}
	return json.Unmarshal(raw, d)
}

// String returns the value at key as a string, accepting JSON numbers too.
func (d Document) String(key string) (string, bool) {
	switch v := d[key].(type) {
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case json.Number:
		return v.String(), true
	}
	return "", false
}

// Float returns the value at key as a float64, accepting numeric strings.
func (d Document) Float(key string) (float64, bool) {
	switch v := d[key].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}
