// Package persistence batches audit writes so the decision path never waits
// on sqlite.
package persistence

import (
	"database/sql"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"trading-bridge/pkg/logger"
)

// WriteOp represents a database write operation.
type WriteOp struct {
	Query string
	Args  []any
}

// BatchWriter batches database writes for improved throughput on the audit
// tables. Single-row position upserts stay synchronous in pkg/db; this is
// for the high-volume trade and reconciliation trails.
type BatchWriter struct {
	db          *sql.DB
	buffer      []WriteOp
	mu          sync.Mutex
	maxSize     int
	flushIntval time.Duration
	done        chan struct{}
	wg          sync.WaitGroup
	log         *logrus.Entry
}

// NewBatchWriter creates a batch writer.
// maxSize: max operations before auto-flush; interval: time-based flush.
func NewBatchWriter(db *sql.DB, maxSize int, interval time.Duration) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	bw := &BatchWriter{
		db:          db,
		buffer:      make([]WriteOp, 0, maxSize),
		maxSize:     maxSize,
		flushIntval: interval,
		done:        make(chan struct{}),
		log:         logger.Component("persistence"),
	}

	bw.wg.Add(1)
	go bw.backgroundFlush()

	return bw
}

// WriteQuery queues one write.
func (bw *BatchWriter) WriteQuery(query string, args ...any) {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, WriteOp{Query: query, Args: args})
	shouldFlush := len(bw.buffer) >= bw.maxSize
	bw.mu.Unlock()

	if shouldFlush {
		bw.Flush()
	}
}

// Flush writes the buffered operations in one transaction.
func (bw *BatchWriter) Flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	batch := bw.buffer
	bw.buffer = make([]WriteOp, 0, bw.maxSize)
	bw.mu.Unlock()

	tx, err := bw.db.Begin()
	if err != nil {
		bw.log.WithError(err).Error("batch begin failed, dropping batch")
		return
	}
	for _, op := range batch {
		if _, err := tx.Exec(op.Query, op.Args...); err != nil {
			bw.log.WithError(err).Warn("batched write failed")
		}
	}
	if err := tx.Commit(); err != nil {
		bw.log.WithError(err).Error("batch commit failed")
	}
}

func (bw *BatchWriter) backgroundFlush() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.flushIntval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			bw.Flush()
		case <-bw.done:
			bw.Flush()
			return
		}
	}
}

// Close flushes outstanding writes and stops the background loop.
func (bw *BatchWriter) Close() {
	close(bw.done)
	bw.wg.Wait()
}
