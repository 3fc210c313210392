package storage

import (
	"context"
	"fmt"
	"log/slog"
)

// Table DDL. Alerts append-only; events versioned by updated_at so the
// latest row per correlation key wins on merge.
const (
	alertsTableDDL = `
CREATE TABLE IF NOT EXISTS alerts (
    id UUID,
    alert_type Int32,
    subtype String,
    timestamp DateTime64(3, 'UTC'),
    ingested_at DateTime64(3, 'UTC'),
    source_id String,
    topic String,
    partition Int32,
    offset Int64,
    source_ip String,
    dest_ip String,
    title String,
    description String,
    severity String,
    priority Int32,
    is_filtered UInt8,
    filter_rule_id String,
    filter_reason String,
    tags Array(String),
    event_id Nullable(UUID),
    correlation_key String,
    status String,
    fields String,
    raw String
) ENGINE = ReplacingMergeTree(ingested_at)
PARTITION BY toYYYYMM(timestamp)
ORDER BY (alert_type, subtype, timestamp, id)
TTL toDateTime(timestamp) + INTERVAL 90 DAY
`

	eventsTableDDL = `
CREATE TABLE IF NOT EXISTS events (
    id UUID,
    correlation_key String,
    rule_id String,
    name String,
    description String,
    event_type String,
    start_time DateTime64(3, 'UTC'),
    end_time DateTime64(3, 'UTC'),
    alert_count Int32,
    alert_ids Array(UUID),
    attacker_ips Array(String),
    victim_ips Array(String),
    domains Array(String),
    severity String,
    priority Int32,
    risk_score Float64,
    confidence Float64,
    status String,
    created_at DateTime64(3, 'UTC'),
    updated_at DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree(updated_at)
ORDER BY (correlation_key, id)
`
)

// Migrator provisions the analytical store tables.
type Migrator struct {
	client *ClickHouseClient
	logger *slog.Logger
}

// NewMigrator creates a Migrator.
func NewMigrator(client *ClickHouseClient, logger *slog.Logger) *Migrator {
	return &Migrator{client: client, logger: logger}
}

// Run creates the database and tables if missing. Safe to run on every
// startup.
func (m *Migrator) Run(ctx context.Context) error {
	if err := m.client.EnsureDatabase(ctx); err != nil {
		return fmt.Errorf("ensure database: %w", err)
	}

	for name, ddl := range map[string]string{
		"alerts": alertsTableDDL,
		"events": eventsTableDDL,
	} {
		if err := m.client.Exec(ctx, ddl); err != nil {
			return WrapQueryError("Migrate", name, err)
		}
		m.logger.Debug("table ensured", "table", name)
	}

	m.logger.Info("analytical store migrated", "database", m.client.Database())
	return nil
}
