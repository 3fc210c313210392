// Package parser converts raw source records into normalized alerts using
// the field schema configured for the record's alert type.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"alertflow/internal/model"

	"github.com/google/uuid"
)

var (
	// ErrMalformedPayload is returned when the raw record is not valid JSON.
	ErrMalformedPayload = errors.New("parser: malformed payload")

	// ErrEmptySchema is returned when no schema exists for the alert type.
	ErrEmptySchema = errors.New("parser: no schema for alert type")
)

// datetimeFormats is the ordered list of formats tried for datetime fields.
// First match wins.
var datetimeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05",
	"02/Jan/2006:15:04:05 -0700",
	"Jan 2 15:04:05 2006",
	"2006-01-02",
}

// Parser normalizes raw records against per-alert-type schemas. Parsing is
// deterministic: the same payload and schema always yield the same field map.
type Parser struct {
	now func() time.Time
}

// New creates a new Parser.
func New() *Parser {
	return &Parser{now: time.Now}
}

// NewWithClock creates a Parser with a fixed clock, for tests.
func NewWithClock(now func() time.Time) *Parser {
	return &Parser{now: now}
}

// Parse resolves every schema field against the raw payload, coerces present
// values per their declared type, and assembles an Alert. The canonical
// timestamp and subtype fields are promoted; everything else lands only in
// the normalized field map. A missing or unparseable timestamp falls back to
// ingestion time.
func (p *Parser) Parse(raw []byte, alertType int, schema []model.FieldDef) (*model.Alert, error) {
	if len(schema) == 0 {
		return nil, ErrEmptySchema
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	now := p.now().UTC()
	alert := &model.Alert{
		ID:         uuid.New(),
		AlertType:  alertType,
		Timestamp:  now,
		Raw:        string(raw),
		Fields:     make(map[string]any, len(schema)),
		Status:     model.AlertStatusNew,
		IngestedAt: now,
	}

	for _, field := range schema {
		rawVal, ok := resolvePath(payload, field.Path)
		if !ok || rawVal == nil {
			continue
		}

		switch field.Name {
		case model.FieldTimestamp:
			if ts, ok := coerceDatetime(rawVal); ok {
				alert.Timestamp = ts
			}
			continue
		case model.FieldSubtype:
			alert.Subtype = fmt.Sprintf("%v", rawVal)
			continue
		}

		val, ok := coerce(rawVal, field.Type)
		if !ok {
			continue
		}
		alert.Fields[field.Name] = val
	}

	promoteWellKnown(alert)
	return alert, nil
}

// resolvePath walks a dot-separated path through nested JSON objects.
func resolvePath(payload map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var current any = payload
	for _, seg := range segments {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// coerce converts a decoded JSON value to the field's declared type.
// Returns false when the value cannot be represented in that type.
func coerce(v any, t model.DataType) (any, bool) {
	switch t {
	case model.TypeString:
		return fmt.Sprintf("%v", v), true

	case model.TypeInteger:
		if n, ok := toInt64(v); ok {
			return int(n), true
		}
		return nil, false

	case model.TypeLong:
		if n, ok := toInt64(v); ok {
			return n, true
		}
		return nil, false

	case model.TypeDouble:
		switch n := v.(type) {
		case float64:
			return n, true
		case string:
			if f, err := strconv.ParseFloat(n, 64); err == nil {
				return f, true
			}
		}
		return nil, false

	case model.TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, true
		case string:
			if parsed, err := strconv.ParseBool(b); err == nil {
				return parsed, true
			}
		}
		return nil, false

	case model.TypeDatetime:
		if ts, ok := coerceDatetime(v); ok {
			return ts, true
		}
		return nil, false

	case model.TypeArray:
		if arr, ok := v.([]any); ok {
			return arr, true
		}
		return []any{v}, true

	case model.TypeJSON:
		return v, true
	}
	return nil, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case string:
		if parsed, err := strconv.ParseInt(n, 10, 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

// coerceDatetime tries the known formats in order; also accepts numeric
// epoch seconds or milliseconds.
func coerceDatetime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		for _, format := range datetimeFormats {
			if ts, err := time.Parse(format, t); err == nil {
				return ts.UTC(), true
			}
		}
	case float64:
		// Heuristic: values past year 9999 in seconds are millis.
		if t > 1e12 {
			return time.UnixMilli(int64(t)).UTC(), true
		}
		return time.Unix(int64(t), 0).UTC(), true
	}
	return time.Time{}, false
}

// promoteWellKnown lifts fields the rest of the pipeline keys on out of the
// normalized map into the alert's top-level attributes. The map entries stay
// in place; rule evaluation resolves the map first.
func promoteWellKnown(a *model.Alert) {
	if v, ok := a.Fields["source_ip"]; ok {
		a.SourceIP = fmt.Sprintf("%v", v)
	}
	if v, ok := a.Fields["dest_ip"]; ok {
		a.DestIP = fmt.Sprintf("%v", v)
	}
	if v, ok := a.Fields["title"]; ok {
		a.Title = fmt.Sprintf("%v", v)
	}
	if v, ok := a.Fields["description"]; ok {
		a.Description = fmt.Sprintf("%v", v)
	}
	if v, ok := a.Fields["severity"]; ok {
		a.Severity = strings.ToUpper(fmt.Sprintf("%v", v))
	}
	if v, ok := a.Fields["priority"]; ok {
		switch n := v.(type) {
		case int:
			a.Priority = n
		case int64:
			a.Priority = int(n)
		case float64:
			a.Priority = int(n)
		}
	}
}
