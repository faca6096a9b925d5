// Package notify implements the Notifier (§4.I): per-channel deduplicated,
// bounded-retry outbound alert delivery, synchronous with the worker's
// outcome persistence.
//
// Grounded on original_source/notifications.py's send_telegram_alert /
// send_email_alert (module-level dedup set, fixed per-channel backoff,
// give-up-silently-after-N-attempts) and on the teacher's structured
// zerolog event idiom for notify_sent/notify_retry/notify_error/
// notify_skipped; the dedup set here is a real sync.Mutex-guarded map
// instead of the source's bare (and, for mail, even function-local and
// therefore non-functional) module set, per the Design Notes' "Global
// mutable sets" entry.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/riskshield/txscore/internal/applog"
	"github.com/riskshield/txscore/internal/models"
)

// Transport delivers one alert over a concrete channel. A nil error means
// the transport-specific success condition was met (HTTP 200, SMTP
// accepted).
type Transport interface {
	Send(ctx context.Context, tx *models.Transaction, reason string) error
}

// channel pairs a Transport with its own delivered-set and backoff.
type channel struct {
	name      string
	transport Transport
	backoff   time.Duration

	mu        sync.Mutex
	delivered map[string]struct{}
}

// Notifier dispatches one fired reason to every registered channel.
type Notifier struct {
	channels []*channel
	retries  int
}

// New constructs a Notifier that retries each channel up to retries total
// attempts before giving up silently.
func New(retries int) *Notifier {
	if retries < 1 {
		retries = 1
	}
	return &Notifier{retries: retries}
}

// Register adds a channel with its own fixed backoff between retry
// attempts (1s chat, 2s mail, per §4.I).
func (n *Notifier) Register(name string, transport Transport, backoff time.Duration) {
	n.channels = append(n.channels, &channel{
		name:      name,
		transport: transport,
		backoff:   backoff,
		delivered: make(map[string]struct{}),
	})
}

// Dispatch sends reason on every registered channel, synchronously. The
// worker loop calls this after its own store commit, preserving "store
// commit precedes send".
func (n *Notifier) Dispatch(ctx context.Context, tx *models.Transaction, reason string) {
	for _, ch := range n.channels {
		ch.send(ctx, tx, reason, n.retries)
	}
}

func (ch *channel) alreadyDelivered(correlationID string) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	_, ok := ch.delivered[correlationID]
	return ok
}

func (ch *channel) markDelivered(correlationID string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.delivered[correlationID] = struct{}{}
}

func (ch *channel) send(ctx context.Context, tx *models.Transaction, reason string, retries int) {
	if ch.alreadyDelivered(tx.CorrelationID) {
		applog.Log(applog.Event{Stage: "notify_skipped", Component: "notifier", Tx: tx,
			Extra: map[string]interface{}{"channel": ch.name}})
		return
	}

	for attempt := 1; attempt <= retries; attempt++ {
		err := ch.transport.Send(ctx, tx, reason)
		if err == nil {
			ch.markDelivered(tx.CorrelationID)
			applog.Log(applog.Event{Stage: "notify_sent", Component: "notifier", Tx: tx,
				Extra: map[string]interface{}{"channel": ch.name, "attempt": attempt}})
			return
		}

		if attempt < retries {
			applog.Log(applog.Event{Stage: "notify_retry", Component: "notifier", Tx: tx, Level: applog.Warn,
				Extra: map[string]interface{}{"channel": ch.name, "attempt": attempt, "error": err.Error()}})
			time.Sleep(ch.backoff)
			continue
		}

		applog.Log(applog.Event{Stage: "notify_error", Component: "notifier", Tx: tx, Level: applog.Error,
			Extra: map[string]interface{}{"channel": ch.name, "attempt": attempt, "error": err.Error()}})
	}
}
