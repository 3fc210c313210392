package model

import (
	"time"

	"github.com/google/uuid"
)

// ObservableType classifies an indicator of compromise.
type ObservableType string

const (
	ObservableIP       ObservableType = "ip"
	ObservableDomain   ObservableType = "domain"
	ObservableURL      ObservableType = "url"
	ObservableEmail    ObservableType = "email"
	ObservableMD5      ObservableType = "md5"
	ObservableSHA1     ObservableType = "sha1"
	ObservableSHA256   ObservableType = "sha256"
	ObservableCVE      ObservableType = "cve"
	ObservableFilePath ObservableType = "file_path"
)

// ObservableRole marks which side of an attack an observable sat on, when
// determinable from its extraction source.
type ObservableRole string

const (
	RoleAttacker ObservableRole = "ATTACKER"
	RoleVictim   ObservableRole = "VICTIM"
	RoleUnknown  ObservableRole = ""
)

// Observable is a deduplicated indicator keyed by (type, value). Re-detection
// updates the existing record in place; the pair is globally unique.
type Observable struct {
	ID          uuid.UUID      `json:"id"`
	Type        ObservableType `json:"type"`
	Value       string         `json:"value"`
	DisplayName string         `json:"display_name,omitempty"`
	Category    string         `json:"category,omitempty"`
	Count       int64          `json:"count"`
	FirstSeen   time.Time      `json:"first_seen"`
	LastSeen    time.Time      `json:"last_seen"`

	// Enrichment fields, populated externally.
	RiskScore float64 `json:"risk_score,omitempty"`
	Malicious bool    `json:"malicious,omitempty"`
}

// AlertObservableMapping joins an alert to an observable detected in it,
// with the extraction source path and role when known. Created once per
// (alert, observable) pair.
type AlertObservableMapping struct {
	AlertID      uuid.UUID      `json:"alert_id"`
	ObservableID uuid.UUID      `json:"observable_id"`
	SourcePath   string         `json:"source_path,omitempty"`
	Role         ObservableRole `json:"role,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Detection is one accepted extraction hit before persistence: the typed
// value plus where in the alert it was found.
type Detection struct {
	Type       ObservableType
	Value      string
	SourcePath string
	Role       ObservableRole
}
