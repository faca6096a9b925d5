// Package applog threads the structured event logging required by §6's
// "Log format" through every stage transition: one JSON object per line
// with the fixed field set timestamp/stage/component/correlation_id/
// sender/receiver/amount/transaction_type/status/alerts, plus any extra
// fields, and level in {INFO, WARN, ERROR}.
//
// Grounded on the teacher's zerolog usage (cmd/api-server/main.go's
// setupLogging, internal/scoring/engine.go's chained .Str()/.Float64()
// event building) and on original_source/logger.py's log_event, which
// names the exact field set this package must reproduce.
package applog

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/riskshield/txscore/internal/models"
)

func init() {
	zerolog.TimestampFieldName = "timestamp"
}

// Setup configures the global zerolog logger. In "development" it writes a
// human-readable console format; otherwise flat JSON lines, matching the
// teacher's dev/prod split in cmd/api-server/main.go.
func Setup(environment string) {
	if environment == "development" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	zerolog.LevelFieldMarshalFunc = func(l zerolog.Level) string { return strings.ToUpper(l.String()) }
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// Level is the severity of one logged event.
type Level string

const (
	Info  Level = "INFO"
	Warn  Level = "WARN"
	Error Level = "ERROR"
)

// Event is one stage-transition log line. When Tx is nil the transaction
// fields are omitted entirely; when it is set, all of them are written,
// zero values included.
type Event struct {
	Stage     string
	Component string
	Tx        *models.Transaction
	Level     Level
	Extra     map[string]interface{}
}

// Log emits one structured event matching §6's field schema.
func Log(e Event) {
	lvl := e.Level
	if lvl == "" {
		lvl = Info
	}

	var zl *zerolog.Event
	switch lvl {
	case Error:
		zl = log.Error()
	case Warn:
		zl = log.Warn()
	default:
		zl = log.Info()
	}

	zl = zl.Str("stage", e.Stage).Str("component", e.Component)

	if e.Tx != nil {
		zl = zl.Str("correlation_id", e.Tx.CorrelationID).
			Str("sender", e.Tx.SenderAccount).
			Str("receiver", e.Tx.ReceiverAccount).
			Float64("amount", e.Tx.Amount).
			Str("transaction_type", string(e.Tx.TransactionType)).
			Str("status", string(e.Tx.Status)).
			Str("alerts", e.Tx.AlertsJoined())
	}

	for k, v := range e.Extra {
		zl = zl.Interface(k, v)
	}

	zl.Send()
}
