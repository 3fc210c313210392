package storage

import (
	"context"
	"encoding/json"
	"time"

	"alertflow/internal/model"

	"github.com/google/uuid"
)

// AlertRepository reads and rewrites alerts in ClickHouse. Reads use FINAL so
// the latest replacing-merge version of each alert wins; Save re-inserts the
// alert with a fresh ingested_at, which the merge engine collapses on top of
// the original row.
type AlertRepository struct {
	client *ClickHouseClient
}

// NewAlertRepository creates an AlertRepository.
func NewAlertRepository(client *ClickHouseClient) *AlertRepository {
	return &AlertRepository{client: client}
}

// FindUnfiltered returns unfiltered alerts within [from, to]. alertType 0
// matches all types; an empty subtype matches all subtypes.
func (r *AlertRepository) FindUnfiltered(ctx context.Context, alertType int, subtype string, from, to time.Time) ([]*model.Alert, error) {
	query := `
		SELECT id, alert_type, subtype, timestamp, ingested_at,
		       source_id, topic, partition, offset,
		       source_ip, dest_ip, title, description, severity, priority,
		       is_filtered, filter_rule_id, filter_reason, tags,
		       event_id, correlation_key, status, fields, raw
		FROM alerts FINAL
		WHERE is_filtered = 0
		  AND timestamp >= ?
		  AND timestamp <= ?
	`
	args := []any{from, to}

	if alertType != 0 {
		query += " AND alert_type = ?"
		args = append(args, int32(alertType))
	}
	if subtype != "" {
		query += " AND subtype = ?"
		args = append(args, subtype)
	}
	query += " ORDER BY timestamp ASC"

	rows, err := r.client.Query(ctx, query, args...)
	if err != nil {
		return nil, WrapQueryError("FindUnfiltered", "alerts", err)
	}
	defer rows.Close()

	var alerts []*model.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, WrapQueryError("FindUnfiltered", "alerts", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapQueryError("FindUnfiltered", "alerts", err)
	}
	return alerts, nil
}

// Save rewrites an alert row, typically after correlation linkage. The
// ingested_at bump makes this row the surviving version on merge.
func (r *AlertRepository) Save(ctx context.Context, alert *model.Alert) error {
	alert.IngestedAt = time.Now().UTC()

	fields, _ := json.Marshal(alert.Fields)
	filtered := uint8(0)
	if alert.IsFiltered {
		filtered = 1
	}

	err := r.client.Exec(ctx, `
		INSERT INTO alerts (
			id, alert_type, subtype, timestamp, ingested_at,
			source_id, topic, partition, offset,
			source_ip, dest_ip, title, description, severity, priority,
			is_filtered, filter_rule_id, filter_reason, tags,
			event_id, correlation_key, status, fields, raw
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		alert.ID, int32(alert.AlertType), alert.Subtype, alert.Timestamp, alert.IngestedAt,
		alert.SourceID, alert.Topic, int32(alert.Partition), alert.Offset,
		alert.SourceIP, alert.DestIP, alert.Title, alert.Description, alert.Severity, int32(alert.Priority),
		filtered, alert.FilterRuleID, alert.FilterReason, alert.Tags,
		alert.EventID, alert.CorrelationKey, string(alert.Status), string(fields), alert.Raw,
	)
	if err != nil {
		return WrapQueryError("Save", "alerts", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(rows rowScanner) (*model.Alert, error) {
	var (
		a         model.Alert
		alertType int32
		partition int32
		priority  int32
		filtered  uint8
		status    string
		fields    string
	)
	err := rows.Scan(
		&a.ID, &alertType, &a.Subtype, &a.Timestamp, &a.IngestedAt,
		&a.SourceID, &a.Topic, &partition, &a.Offset,
		&a.SourceIP, &a.DestIP, &a.Title, &a.Description, &a.Severity, &priority,
		&filtered, &a.FilterRuleID, &a.FilterReason, &a.Tags,
		&a.EventID, &a.CorrelationKey, &status, &fields, &a.Raw,
	)
	if err != nil {
		return nil, err
	}

	a.AlertType = int(alertType)
	a.Partition = int(partition)
	a.Priority = int(priority)
	a.IsFiltered = filtered != 0
	a.Status = model.AlertStatus(status)
	if fields != "" {
		_ = json.Unmarshal([]byte(fields), &a.Fields)
	}
	return &a, nil
}

// EventRepository reads and writes correlated events in ClickHouse. Events
// are versioned by updated_at; every Save inserts a new version and the
// latest wins on merge.
type EventRepository struct {
	client *ClickHouseClient
}

// NewEventRepository creates an EventRepository.
func NewEventRepository(client *ClickHouseClient) *EventRepository {
	return &EventRepository{client: client}
}

// FindByCorrelationKey returns the latest version of the event for the given
// key, or nil when no event exists yet.
func (r *EventRepository) FindByCorrelationKey(ctx context.Context, key string) (*model.Event, error) {
	rows, err := r.client.Query(ctx, `
		SELECT id, correlation_key, rule_id, name, description, event_type,
		       start_time, end_time, alert_count, alert_ids,
		       attacker_ips, victim_ips, domains,
		       severity, priority, risk_score, confidence, status,
		       created_at, updated_at
		FROM events
		WHERE correlation_key = ?
		ORDER BY updated_at DESC
		LIMIT 1
	`, key)
	if err != nil {
		return nil, WrapQueryError("FindByCorrelationKey", "events", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, WrapQueryError("FindByCorrelationKey", "events", err)
		}
		return nil, nil
	}

	var (
		e          model.Event
		alertCount int32
		priority   int32
		status     string
	)
	err = rows.Scan(
		&e.ID, &e.CorrelationKey, &e.RuleID, &e.Name, &e.Description, &e.EventType,
		&e.StartTime, &e.EndTime, &alertCount, &e.AlertIDs,
		&e.AttackerIPs, &e.VictimIPs, &e.Domains,
		&e.Severity, &priority, &e.RiskScore, &e.Confidence, &status,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, WrapQueryError("FindByCorrelationKey", "events", err)
	}

	e.AlertCount = int(alertCount)
	e.Priority = int(priority)
	e.Status = model.EventStatus(status)
	return &e, nil
}

// Save inserts an event version.
func (r *EventRepository) Save(ctx context.Context, event *model.Event) error {
	if event.AlertIDs == nil {
		event.AlertIDs = []uuid.UUID{}
	}
	err := r.client.Exec(ctx, `
		INSERT INTO events (
			id, correlation_key, rule_id, name, description, event_type,
			start_time, end_time, alert_count, alert_ids,
			attacker_ips, victim_ips, domains,
			severity, priority, risk_score, confidence, status,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID, event.CorrelationKey, event.RuleID, event.Name, event.Description, event.EventType,
		event.StartTime, event.EndTime, int32(event.AlertCount), event.AlertIDs,
		event.AttackerIPs, event.VictimIPs, event.Domains,
		event.Severity, int32(event.Priority), event.RiskScore, event.Confidence, string(event.Status),
		event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		return WrapQueryError("Save", "events", err)
	}
	return nil
}
