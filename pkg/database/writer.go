package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hervehildenbrand/origin-guard/pkg/models"
	"github.com/lib/pq"
)

const (
	batchSize     = 50
	batchInterval = 2 * time.Second
	queueSize     = 10000
)

// Schema creates the hijack_events table written by VerdictWriter.
const Schema = `
CREATE TABLE IF NOT EXISTS hijack_events (
	id              BIGSERIAL PRIMARY KEY,
	event_id        TEXT NOT NULL,
	run_id          TEXT NOT NULL,
	country_code    TEXT NOT NULL,
	event_type      TEXT NOT NULL,
	severity        TEXT NOT NULL,
	affected_prefix TEXT NOT NULL,
	affected_asn    BIGINT NOT NULL,
	hijacking_asn   BIGINT NOT NULL,
	legal_origins   BIGINT[] NOT NULL,
	details         JSONB NOT NULL DEFAULT '{}',
	detected_at     TIMESTAMPTZ NOT NULL,
	last_seen_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS hijack_events_signature
	ON hijack_events (affected_prefix, hijacking_asn, run_id);
`

var severityOrder = map[string]int{
	models.SeverityLow:      0,
	models.SeverityMedium:   1,
	models.SeverityHigh:     2,
	models.SeverityCritical: 3,
}

// VerdictWriter batches hijack events into PostgreSQL.  A repeated
// (prefix, hijacker, run) signature refreshes the existing row instead of
// adding a new one.
type VerdictWriter struct {
	db      *sql.DB
	queue   chan models.BGPEvent
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stopped bool

	written atomic.Uint64
	updated atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
	batches atomic.Uint64
}

// NewVerdictWriter connects to the database at databaseURL.
func NewVerdictWriter(databaseURL string) (*VerdictWriter, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	log.Infof("Connected to PostgreSQL database")
	return NewVerdictWriterFromDB(db), nil
}

// NewVerdictWriterFromDB wraps an open database handle.  The writer owns
// the handle and closes it on Stop.
func NewVerdictWriterFromDB(db *sql.DB) *VerdictWriter {
	return &VerdictWriter{
		db:    db,
		queue: make(chan models.BGPEvent, queueSize),
		done:  make(chan struct{}),
	}
}

// DB returns the underlying handle.
func (w *VerdictWriter) DB() *sql.DB {
	return w.db
}

// EnsureSchema creates the events table if it does not exist.
func (w *VerdictWriter) EnsureSchema() error {
	_, err := w.db.Exec(Schema)
	return err
}

// Start begins the background writer goroutine.
func (w *VerdictWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running || w.stopped {
		return
	}
	w.running = true

	w.wg.Add(1)
	go w.writerLoop()
	log.Infof("Verdict writer started")
}

// Stop flushes queued events and closes the database.
func (w *VerdictWriter) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	wasRunning := w.running
	w.running = false
	close(w.done)
	w.mu.Unlock()

	if wasRunning {
		w.wg.Wait()
	}
	w.db.Close()
	log.Infof("Verdict writer stopped (written=%d, updated=%d, dropped=%d, batches=%d)",
		w.written.Load(), w.updated.Load(), w.dropped.Load(), w.batches.Load())
}

// Write queues an event.  Events are dropped when the queue is full or the
// writer has stopped.
func (w *VerdictWriter) Write(event models.BGPEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		w.dropped.Add(1)
		return
	}
	select {
	case w.queue <- event:
	default:
		if n := w.dropped.Add(1); n%1000 == 1 {
			log.Warnf("Event queue full, dropped %d events", n)
		}
	}
}

// Stats returns writer statistics.
func (w *VerdictWriter) Stats() map[string]interface{} {
	return map[string]interface{}{
		"events_written":  w.written.Load(),
		"events_updated":  w.updated.Load(),
		"events_dropped":  w.dropped.Load(),
		"events_failed":   w.failed.Load(),
		"batches_written": w.batches.Load(),
		"queue_len":       len(w.queue),
		"queue_cap":       cap(w.queue),
	}
}

func (w *VerdictWriter) writerLoop() {
	defer w.wg.Done()

	batch := make([]models.BGPEvent, 0, batchSize)
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-w.queue:
			batch = append(batch, event)
			if len(batch) >= batchSize {
				w.writeBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.writeBatch(batch)
				batch = batch[:0]
			}

		case <-w.done:
			// Write and Stop share the mutex, so nothing is sent after done.
			for {
				select {
				case event := <-w.queue:
					batch = append(batch, event)
					if len(batch) >= batchSize {
						w.writeBatch(batch)
						batch = batch[:0]
					}
				default:
					w.writeBatch(batch)
					return
				}
			}
		}
	}
}

func (w *VerdictWriter) writeBatch(batch []models.BGPEvent) {
	if len(batch) == 0 {
		return
	}

	tx, err := w.db.Begin()
	if err != nil {
		w.failed.Add(uint64(len(batch)))
		log.Errorf("Failed to begin transaction: %v", err)
		return
	}
	defer tx.Rollback()

	var written, updated uint64
	for _, event := range batch {
		isUpdate, err := writeEvent(tx, event)
		if err != nil {
			w.failed.Add(1)
			log.Errorf("Failed to write event %s for %s: %v", event.ID,
				event.AffectedPrefix, err)
			continue
		}
		if isUpdate {
			updated++
		} else {
			written++
		}
	}

	if err := tx.Commit(); err != nil {
		w.failed.Add(uint64(len(batch)))
		log.Errorf("Failed to commit batch: %v", err)
		return
	}

	w.written.Add(written)
	w.updated.Add(updated)
	w.batches.Add(1)
}

// writeEvent inserts the event or refreshes the row with the same
// signature.  The bool result reports whether an existing row was updated.
func writeEvent(tx *sql.Tx, event models.BGPEvent) (bool, error) {
	var existingID int64
	var existingSeverity string
	err := tx.QueryRow(`
		SELECT id, severity FROM hijack_events
		WHERE affected_prefix = $1
		AND hijacking_asn = $2
		AND run_id = $3
		LIMIT 1
	`, event.AffectedPrefix, int64(event.HijackingASN), event.RunID).Scan(&existingID, &existingSeverity)

	if err == nil {
		newSeverity := existingSeverity
		if severityOrder[event.Severity] > severityOrder[existingSeverity] {
			newSeverity = event.Severity
		}
		_, err = tx.Exec(`
			UPDATE hijack_events
			SET last_seen_at = $1, severity = $2
			WHERE id = $3
		`, event.DetectedAt, newSeverity, existingID)
		return true, err
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}

	detailsJSON, err := json.Marshal(event.Details)
	if err != nil || event.Details == nil {
		detailsJSON = []byte("{}")
	}
	legal := make(pq.Int64Array, len(event.LegalOrigins))
	for i, asn := range event.LegalOrigins {
		legal[i] = int64(asn)
	}

	_, err = tx.Exec(`
		INSERT INTO hijack_events (
			event_id, run_id, country_code, event_type, severity,
			affected_prefix, affected_asn, hijacking_asn, legal_origins,
			details, detected_at, last_seen_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		event.ID,
		event.RunID,
		event.CountryCode,
		event.EventType,
		event.Severity,
		event.AffectedPrefix,
		int64(event.AffectedASN),
		int64(event.HijackingASN),
		legal,
		detailsJSON,
		event.DetectedAt,
		event.DetectedAt,
	)
	return false, err
}
