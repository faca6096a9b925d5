// Package audit implements the Audit Stream (§4.K): a best-effort Kafka
// mirror of terminal transaction outcomes for downstream analytics and
// compliance consumers, published by the Worker Loop right after its own
// store commit.
//
// Adapted from the teacher's cmd/kafka-worker/main.go, which consumed
// Debezium CDC events off Postgres for the same analytics purpose. That
// shape assumed a separate CDC connector was already running; this system
// has no CDC pipeline, so the worker publishes the event directly instead
// of relying on change-data-capture, reusing only the sarama producer/
// consumer-group-version plumbing and the "analytics is best-effort,
// scoring is not" split from the teacher's file.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"

	"github.com/riskshield/txscore/configs"
	"github.com/riskshield/txscore/internal/applog"
	"github.com/riskshield/txscore/internal/models"
)

// event is the wire shape published to the audit topic.
type event struct {
	CorrelationID   string    `json:"correlation_id"`
	SenderAccount   string    `json:"sender_account"`
	ReceiverAccount string    `json:"receiver_account"`
	Amount          float64   `json:"amount"`
	TransactionType string    `json:"transaction_type"`
	Status          string    `json:"status"`
	Alerts          []string  `json:"alerts"`
	Timestamp       time.Time `json:"timestamp"`
}

// Stream publishes terminal outcomes to Kafka. When disabled it is a
// no-op, so callers never need to branch on configuration.
type Stream struct {
	producer sarama.SyncProducer
	topic    string
	enabled  bool
}

// New connects a Stream. When cfg.Enabled is false, no broker connection
// is attempted and Publish becomes a no-op.
func New(cfg configs.AuditConfig) (*Stream, error) {
	if !cfg.Enabled {
		return &Stream{enabled: false}, nil
	}

	scfg := sarama.NewConfig()
	scfg.Producer.Return.Successes = true
	scfg.Producer.RequiredAcks = sarama.WaitForLocal
	scfg.Producer.Retry.Max = 3
	scfg.Version = sarama.V3_0_0_0

	producer, err := sarama.NewSyncProducer(cfg.Brokers, scfg)
	if err != nil {
		return nil, err
	}

	return &Stream{producer: producer, topic: cfg.Topic, enabled: true}, nil
}

// Publish mirrors tx's terminal state to the audit topic. Failures are
// logged, never surfaced: a lost audit event must not affect scoring.
func (s *Stream) Publish(ctx context.Context, tx *models.Transaction) {
	if !s.enabled {
		return
	}

	payload, err := json.Marshal(event{
		CorrelationID:   tx.CorrelationID,
		SenderAccount:   tx.SenderAccount,
		ReceiverAccount: tx.ReceiverAccount,
		Amount:          tx.Amount,
		TransactionType: string(tx.TransactionType),
		Status:          string(tx.Status),
		Alerts:          tx.Alerts,
		Timestamp:       tx.Timestamp,
	})
	if err != nil {
		applog.Log(applog.Event{Stage: "audit_publish_error", Component: "audit_stream", Tx: tx, Level: applog.Error,
			Extra: map[string]interface{}{"error": err.Error()}})
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(tx.CorrelationID),
		Value: sarama.ByteEncoder(payload),
	}

	if _, _, err := s.producer.SendMessage(msg); err != nil {
		applog.Log(applog.Event{Stage: "audit_publish_error", Component: "audit_stream", Tx: tx, Level: applog.Error,
			Extra: map[string]interface{}{"error": err.Error()}})
	}
}

// Close releases the underlying producer, if one was opened.
func (s *Stream) Close() error {
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}
