package model

import "time"

// ConnectionStatus is the last-known state of a source's stream connection.
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionError        ConnectionStatus = "error"
)

// SourceConfig describes one streaming data source. Configs are created and
// edited externally; the consumer manager polls them and reconciles running
// consumers against the enabled set.
type SourceConfig struct {
	ID            string   `json:"id" validate:"required"`
	Name          string   `json:"name" validate:"required,max=256"`
	AlertType     int      `json:"alert_type" validate:"required,min=1"`
	Brokers       []string `json:"brokers" validate:"required,min=1,dive,hostname_port"`
	Topic         string   `json:"topic" validate:"required"`
	ConsumerGroup string   `json:"consumer_group" validate:"required"`
	DataFormat    string   `json:"data_format,omitempty"`
	Enabled       bool     `json:"enabled"`

	// OffsetReset selects where a new consumer group starts: earliest or
	// latest. Defaults to latest.
	OffsetReset string `json:"offset_reset,omitempty" validate:"omitempty,oneof=earliest latest"`

	// SecurityProtocol: PLAINTEXT, SSL, SASL_PLAINTEXT, SASL_SSL.
	SecurityProtocol string `json:"security_protocol,omitempty" validate:"omitempty,oneof=PLAINTEXT SSL SASL_PLAINTEXT SASL_SSL"`

	// SASLMechanism: PLAIN, SCRAM-SHA-256, SCRAM-SHA-512.
	SASLMechanism string `json:"sasl_mechanism,omitempty" validate:"omitempty,oneof=PLAIN SCRAM-SHA-256 SCRAM-SHA-512"`
	SASLUsername  string `json:"sasl_username,omitempty"`
	SASLPassword  string `json:"sasl_password,omitempty"`

	Status    ConnectionStatus `json:"status,omitempty"`
	CreatedAt time.Time        `json:"created_at,omitempty"`
	UpdatedAt time.Time        `json:"updated_at,omitempty"`
}
