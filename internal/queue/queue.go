// Package queue implements the in-memory FIFO Queue (§4.G): a strictly
// ordered, mutex-protected buffer between the ingest gate (many producers)
// and the worker loop (one consumer). Contents are ephemeral by design — a
// process restart loses whatever is still queued, which the spec documents
// as acceptable.
//
// This deliberately does not reuse the teacher's Redis Streams queue
// (its RedisStreamClient, not carried into this tree): that queue is durable across restarts and consumer-group based, which
// conflicts with §4.G's ephemeral, single-consumer contract. See DESIGN.md
// for the full justification.
package queue

import (
	"sync"

	"github.com/riskshield/txscore/internal/models"
)

// Queue is a FIFO buffer of in-flight transactions. All methods are safe
// for concurrent use by multiple producers and one consumer.
type Queue struct {
	mu    sync.Mutex
	items []*models.Transaction
	index map[string]struct{}
}

// New constructs an empty Queue.
func New() *Queue {
	return &Queue{
		items: make([]*models.Transaction, 0),
		index: make(map[string]struct{}),
	}
}

// Enqueue appends tx to the back of the queue. Non-blocking.
func (q *Queue) Enqueue(tx *models.Transaction) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, tx)
	q.index[tx.CorrelationID] = struct{}{}
}

// Contains reports whether an entry with this correlation id is currently
// queued. The ingest gate uses this for the duplicate_in_queue check.
func (q *Queue) Contains(correlationID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.index[correlationID]
	return ok
}

// Dequeue pops the oldest item. ok is false when the queue is empty; the
// worker loop is expected to poll on a fixed cadence in that case rather
// than block indefinitely.
func (q *Queue) Dequeue() (tx *models.Transaction, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	tx = q.items[0]
	q.items = q.items[1:]
	delete(q.index, tx.CorrelationID)
	return tx, true
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
