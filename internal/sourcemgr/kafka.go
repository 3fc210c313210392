// Package sourcemgr runs one Kafka consumer per enabled source config and
// reconciles the running set against the desired set on a fixed interval.
package sourcemgr

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"alertflow/internal/config"
	"alertflow/internal/model"
)

// newReader builds a kafka.Reader for a source, combining the source's
// connection settings with process-wide consumer defaults.
func newReader(src *model.SourceConfig, defaults config.KafkaConfig, logger *slog.Logger) (*kafka.Reader, error) {
	dialer, err := newDialer(src, defaults.DialTimeout)
	if err != nil {
		return nil, err
	}

	startOffset := kafka.LastOffset
	if src.OffsetReset == "earliest" {
		startOffset = kafka.FirstOffset
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:           src.Brokers,
		GroupID:           src.ConsumerGroup,
		Topic:             src.Topic,
		Dialer:            dialer,
		MinBytes:          defaults.FetchMinBytes,
		MaxBytes:          defaults.FetchMaxBytes,
		MaxWait:           defaults.FetchMaxWait,
		StartOffset:       startOffset,
		HeartbeatInterval: defaults.HeartbeatInterval,
		SessionTimeout:    defaults.SessionTimeout,
		RebalanceTimeout:  defaults.RebalanceTimeout,
		ReadBackoffMin:    100 * time.Millisecond,
		ReadBackoffMax:    time.Second,
		// CommitInterval stays zero: commits are synchronous, issued by the
		// consume loop only after a batch has been processed.
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...), "component", "kafka-reader", "source_id", src.ID)
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-reader", "source_id", src.ID)
		}),
	})
	return reader, nil
}

// newDialer configures TLS and SASL for a source's security protocol.
func newDialer(src *model.SourceConfig, timeout time.Duration) (*kafka.Dialer, error) {
	dialer := &kafka.Dialer{
		Timeout:   timeout,
		DualStack: true,
	}

	switch src.SecurityProtocol {
	case "SSL", "SASL_SSL":
		dialer.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	switch src.SecurityProtocol {
	case "SASL_PLAINTEXT", "SASL_SSL":
		mechanism, err := saslMechanism(src)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", src.ID, err)
		}
		dialer.SASLMechanism = mechanism
	}

	return dialer, nil
}

func saslMechanism(src *model.SourceConfig) (sasl.Mechanism, error) {
	switch src.SASLMechanism {
	case "PLAIN":
		return plain.Mechanism{
			Username: src.SASLUsername,
			Password: src.SASLPassword,
		}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, src.SASLUsername, src.SASLPassword)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, src.SASLUsername, src.SASLPassword)
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", src.SASLMechanism)
	}
}
