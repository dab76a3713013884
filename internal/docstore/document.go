package docstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeLayout is the stored form of timestamps. It is fixed width and UTC so
// stored timestamps order lexicographically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

type serverTimestamp struct{}

// ServerTimestamp is replaced by the store clock when a document is written.
var ServerTimestamp = serverTimestamp{}

type Fields map[string]any

type Document struct {
	ID     string
	Fields Fields
}

func (d Document) String(key string) string {
	s, _ := d.Fields[key].(string)
	return s
}

func (d Document) Bool(key string) bool {
	b, _ := d.Fields[key].(bool)
	return b
}

// Time converts a stored timestamp back to time.Time. Missing or malformed
// values yield the zero time.
func (d Document) Time(key string) time.Time {
	t, _ := d.timeValue(key)
	return t
}

func (d Document) TimePtr(key string) *time.Time {
	t, ok := d.timeValue(key)
	if !ok {
		return nil
	}
	return &t
}

func (d Document) timeValue(key string) (time.Time, bool) {
	s, ok := d.Fields[key].(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func encodeValue(v any, now time.Time) any {
	switch val := v.(type) {
	case serverTimestamp:
		return FormatTime(now)
	case time.Time:
		if val.IsZero() {
			return nil
		}
		return FormatTime(val)
	case *time.Time:
		if val == nil || val.IsZero() {
			return nil
		}
		return FormatTime(*val)
	case *string:
		if val == nil {
			return nil
		}
		return *val
	}
	return v
}

func encodeFields(fields Fields, now time.Time) Fields {
	out := make(Fields, len(fields))
	for k, v := range fields {
		out[k] = encodeValue(v, now)
	}
	return out
}

func marshalFields(fields Fields, now time.Time) ([]byte, error) {
	b, err := json.Marshal(encodeFields(fields, now))
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	return b, nil
}

func unmarshalFields(raw []byte) (Fields, error) {
	fields := Fields{}
	if len(raw) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return fields, nil
}

// normalizeValue gives a filter value the same shape it has after a JSON
// round trip through the store.
func normalizeValue(v any) (any, error) {
	b, err := json.Marshal(encodeValue(v, time.Time{}))
	if err != nil {
		return nil, fmt.Errorf("encode filter value: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode filter value: %w", err)
	}
	return out, nil
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode value: %w", err)
	}
	return string(b), nil
}
