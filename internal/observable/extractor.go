package observable

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"alertflow/internal/model"

	"github.com/google/uuid"
)

// Store persists observables and their alert mappings. Find-or-create must
// be atomic per (type, value); mapping creation must be idempotent per
// (alert, observable) pair.
type Store interface {
	// FindOrCreate returns the observable for (type, value), creating it
	// when absent. The boolean reports whether it was created. Creation does
	// not bump the occurrence count; that happens per detecting alert via
	// RecordSighting.
	FindOrCreate(ctx context.Context, t model.ObservableType, value string) (*model.Observable, bool, error)

	// SaveMapping records the (alert, observable) join once. Returns false
	// when the mapping already existed.
	SaveMapping(ctx context.Context, m model.AlertObservableMapping) (bool, error)

	// RecordSighting increments the occurrence count and refreshes last-seen.
	// Called exactly once per distinct (alert, observable) pair.
	RecordSighting(ctx context.Context, t model.ObservableType, value string) error

	// ObservableIDs returns the ids of all observables mapped to the alert.
	ObservableIDs(ctx context.Context, alertID uuid.UUID) ([]uuid.UUID, error)
}

// Extractor detects indicators in alerts and persists them through a Store.
// Extraction runs asynchronously relative to the ingestion loop; failures are
// logged and never touch alert status.
type Extractor struct {
	store  Store
	logger *slog.Logger

	// OnPersisted is called once per persisted (alert, observable) mapping,
	// optional.
	OnPersisted func()
}

// NewExtractor creates an Extractor.
func NewExtractor(store Store, logger *slog.Logger) *Extractor {
	return &Extractor{store: store, logger: logger}
}

// Extract runs the three detection passes over an alert and returns the
// union, deduplicated by (type, value). A detection carrying a role wins
// over the same pair without one.
func (x *Extractor) Extract(alert *model.Alert) []model.Detection {
	var all []model.Detection

	// Pass 1: free-text scan of the raw payload.
	all = append(all, scanText(alert.Raw, "raw")...)

	// Pass 2: structured walk of the normalized field map.
	for name, value := range alert.Fields {
		all = append(all, scanField(name, value)...)
	}

	// Pass 3: well-known top-level fields with roles.
	if alert.SourceIP != "" && ValidIP(alert.SourceIP) {
		all = append(all, model.Detection{
			Type: model.ObservableIP, Value: alert.SourceIP,
			SourcePath: "source_ip", Role: model.RoleAttacker,
		})
	}
	if alert.DestIP != "" && ValidIP(alert.DestIP) {
		all = append(all, model.Detection{
			Type: model.ObservableIP, Value: alert.DestIP,
			SourcePath: "dest_ip", Role: model.RoleVictim,
		})
	}
	all = append(all, scanText(alert.Title, "title")...)
	all = append(all, scanText(alert.Description, "description")...)

	return dedupe(all)
}

// scanField scans one normalized field. Leaf strings and arrays of strings
// get the generic patterns; a name hint forces a typed extraction of the
// whole value when the pattern scan alone would be ambiguous.
func scanField(name string, value any) []model.Detection {
	var out []model.Detection

	leaves := stringLeaves(value)
	for _, leaf := range leaves {
		out = append(out, scanText(leaf, name)...)

		hinted, ok := hintType(name)
		if !ok {
			continue
		}
		d := model.Detection{Type: hinted, Value: strings.TrimSpace(leaf), SourcePath: name}
		switch hinted {
		case model.ObservableMD5, model.ObservableSHA1, model.ObservableSHA256:
			// Hash hints are disambiguated by exact hex length.
			if t, ok := hashTypeByLength(d.Value); ok {
				d.Type = t
				d.Value = strings.ToLower(d.Value)
				out = append(out, d)
			}
		case model.ObservableCVE:
			d.Value = strings.ToUpper(d.Value)
			if ValidCVE(d.Value) {
				out = append(out, d)
			}
		default:
			if Valid(d) {
				if d.Type != model.ObservableFilePath && d.Type != model.ObservableURL {
					d.Value = strings.ToLower(d.Value)
				}
				out = append(out, d)
			}
		}
	}
	return out
}

func stringLeaves(value any) []string {
	switch v := value.(type) {
	case string:
		return []string{v}
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	}
	return nil
}

func dedupe(detections []model.Detection) []model.Detection {
	index := make(map[string]int, len(detections))
	out := make([]model.Detection, 0, len(detections))
	for _, d := range detections {
		key := string(d.Type) + "\x00" + d.Value
		if i, ok := index[key]; ok {
			if out[i].Role == model.RoleUnknown && d.Role != model.RoleUnknown {
				out[i].Role = d.Role
				out[i].SourcePath = d.SourcePath
			}
			continue
		}
		index[key] = len(out)
		out = append(out, d)
	}
	return out
}

// Process extracts and persists all observables for an alert. Each accepted
// (type, value) is found-or-created and mapped to the alert once, which
// keeps extraction idempotent under redelivery.
func (x *Extractor) Process(ctx context.Context, alert *model.Alert) error {
	detections := x.Extract(alert)
	if len(detections) == 0 {
		return nil
	}

	var firstErr error
	persisted := 0
	for _, d := range detections {
		obs, created, err := x.store.FindOrCreate(ctx, d.Type, d.Value)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("find-or-create %s %q: %w", d.Type, d.Value, err)
			}
			continue
		}

		added, err := x.store.SaveMapping(ctx, model.AlertObservableMapping{
			AlertID:      alert.ID,
			ObservableID: obs.ID,
			SourcePath:   d.SourcePath,
			Role:         d.Role,
			CreatedAt:    alert.IngestedAt,
		})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("save mapping %s: %w", obs.ID, err)
			}
			continue
		}
		persisted++
		if x.OnPersisted != nil {
			x.OnPersisted()
		}

		// Count sightings per distinct alert: a redelivered alert maps to
		// an existing pair and must not bump the count again.
		if added {
			if err := x.store.RecordSighting(ctx, d.Type, d.Value); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("record sighting %s %q: %w", d.Type, d.Value, err)
			}
		}

		if created {
			x.logger.Debug("new observable",
				"type", d.Type,
				"value", d.Value,
				"alert_id", alert.ID,
			)
		}
	}

	x.logger.Debug("extraction complete",
		"alert_id", alert.ID,
		"detected", len(detections),
		"persisted", persisted,
	)
	return firstErr
}

// DomainsIn returns the validated domains detected across an alert's
// normalized fields, title and description. The correlation engine uses this
// for event domain aggregation.
func DomainsIn(alert *model.Alert) []string {
	seen := make(map[string]bool)
	var out []string
	collect := func(ds []model.Detection) {
		for _, d := range ds {
			if d.Type == model.ObservableDomain && !seen[d.Value] {
				seen[d.Value] = true
				out = append(out, d.Value)
			}
		}
	}
	for name, value := range alert.Fields {
		collect(scanField(name, value))
	}
	collect(scanText(alert.Title, "title"))
	collect(scanText(alert.Description, "description"))
	return out
}
