package parser

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"alertflow/internal/model"
)

func testSchema() []model.FieldDef {
	return []model.FieldDef{
		{Name: "timestamp", Type: model.TypeDatetime, Path: "ts", DisplayOrder: 0},
		{Name: "subtype", Type: model.TypeString, Path: "event.kind", DisplayOrder: 1},
		{Name: "source_ip", Type: model.TypeString, Path: "network.src", DisplayOrder: 2},
		{Name: "title", Type: model.TypeString, Path: "title", DisplayOrder: 3},
		{Name: "severity", Type: model.TypeString, Path: "severity", DisplayOrder: 4},
		{Name: "bytes", Type: model.TypeLong, Path: "network.bytes", DisplayOrder: 5},
		{Name: "score", Type: model.TypeDouble, Path: "score", DisplayOrder: 6},
		{Name: "blocked", Type: model.TypeBoolean, Path: "blocked", DisplayOrder: 7},
	}
}

func TestParseNormalizesFields(t *testing.T) {
	raw := []byte(`{
		"ts": "2026-08-30T10:00:00Z",
		"event": {"kind": "bruteforce"},
		"network": {"src": "10.1.2.3", "bytes": 4096},
		"title": "SSH brute force",
		"severity": "high",
		"score": "7.5",
		"blocked": true
	}`)

	p := New()
	alert, err := p.Parse(raw, 1, testSchema())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if alert.AlertType != 1 {
		t.Errorf("AlertType = %d, want 1", alert.AlertType)
	}
	if alert.Subtype != "bruteforce" {
		t.Errorf("Subtype = %q, want bruteforce", alert.Subtype)
	}
	want := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	if !alert.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", alert.Timestamp, want)
	}
	if alert.SourceIP != "10.1.2.3" {
		t.Errorf("SourceIP = %q, want 10.1.2.3", alert.SourceIP)
	}
	if alert.Title != "SSH brute force" {
		t.Errorf("Title = %q", alert.Title)
	}
	if alert.Severity != "HIGH" {
		t.Errorf("Severity = %q, want HIGH", alert.Severity)
	}
	if got := alert.Fields["bytes"]; got != int64(4096) {
		t.Errorf("bytes = %v (%T), want int64 4096", got, got)
	}
	if got := alert.Fields["score"]; got != 7.5 {
		t.Errorf("score = %v, want 7.5", got)
	}
	if got := alert.Fields["blocked"]; got != true {
		t.Errorf("blocked = %v, want true", got)
	}
	if alert.Status != model.AlertStatusNew {
		t.Errorf("Status = %q, want %q", alert.Status, model.AlertStatusNew)
	}
}

func TestParseDeterministic(t *testing.T) {
	raw := []byte(`{"ts": "2026-08-30 10:00:00", "event": {"kind": "scan"}, "title": "x"}`)
	fixed := func() time.Time { return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC) }

	p := NewWithClock(fixed)
	first, err := p.Parse(raw, 2, testSchema())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	second, err := p.Parse(raw, 2, testSchema())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if !reflect.DeepEqual(first.Fields, second.Fields) {
		t.Errorf("field maps differ:\n%v\n%v", first.Fields, second.Fields)
	}
	if first.Subtype != second.Subtype || !first.Timestamp.Equal(second.Timestamp) {
		t.Error("repeated parse produced different normalized values")
	}
}

func TestParseMalformedPayload(t *testing.T) {
	p := New()
	_, err := p.Parse([]byte(`{not json`), 1, testSchema())
	if !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("error = %v, want ErrMalformedPayload", err)
	}
}

func TestParseEmptySchema(t *testing.T) {
	p := New()
	_, err := p.Parse([]byte(`{}`), 1, nil)
	if !errors.Is(err, ErrEmptySchema) {
		t.Errorf("error = %v, want ErrEmptySchema", err)
	}
}

func TestParseTimestampFallback(t *testing.T) {
	fixed := time.Date(2026, 8, 31, 9, 30, 0, 0, time.UTC)
	p := NewWithClock(func() time.Time { return fixed })

	tests := []struct {
		name string
		raw  string
	}{
		{"missing timestamp", `{"title": "no ts"}`},
		{"unparseable timestamp", `{"ts": "not a date", "title": "bad ts"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alert, err := p.Parse([]byte(tt.raw), 1, testSchema())
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if !alert.Timestamp.Equal(fixed) {
				t.Errorf("Timestamp = %v, want ingestion time %v", alert.Timestamp, fixed)
			}
		})
	}
}

func TestParseMissingFieldsSkipped(t *testing.T) {
	p := New()
	alert, err := p.Parse([]byte(`{"title": "sparse"}`), 1, testSchema())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if _, ok := alert.Fields["bytes"]; ok {
		t.Error("absent field should not appear in the field map")
	}
	if _, ok := alert.Fields["source_ip"]; ok {
		t.Error("absent nested field should not appear in the field map")
	}
}

func TestParseTypeMismatchSkipped(t *testing.T) {
	p := New()
	alert, err := p.Parse([]byte(`{"network": {"bytes": "many"}, "title": "x"}`), 1, testSchema())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if _, ok := alert.Fields["bytes"]; ok {
		t.Error("uncoercible value should be skipped, not stored")
	}
}

func TestCoerceDatetime(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  time.Time
		ok    bool
	}{
		{"rfc3339", "2026-01-15T08:30:00Z", time.Date(2026, 1, 15, 8, 30, 0, 0, time.UTC), true},
		{"space separated", "2026-01-15 08:30:00", time.Date(2026, 1, 15, 8, 30, 0, 0, time.UTC), true},
		{"date only", "2026-01-15", time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), true},
		{"epoch seconds", float64(1768465800), time.Unix(1768465800, 0).UTC(), true},
		{"epoch millis", float64(1768465800123), time.UnixMilli(1768465800123).UTC(), true},
		{"garbage", "soon", time.Time{}, false},
		{"wrong type", true, time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := coerceDatetime(tt.input)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolvePath(t *testing.T) {
	payload := map[string]any{
		"a": map[string]any{
			"b": map[string]any{"c": "deep"},
		},
		"flat": 1.0,
	}

	tests := []struct {
		path string
		want any
		ok   bool
	}{
		{"flat", 1.0, true},
		{"a.b.c", "deep", true},
		{"a.b", map[string]any{"c": "deep"}, true},
		{"a.missing", nil, false},
		{"flat.deeper", nil, false},
	}
	for _, tt := range tests {
		got, ok := resolvePath(payload, tt.path)
		if ok != tt.ok {
			t.Errorf("resolvePath(%q) ok = %v, want %v", tt.path, ok, tt.ok)
			continue
		}
		if ok && !reflect.DeepEqual(got, tt.want) {
			t.Errorf("resolvePath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
