package database

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hervehildenbrand/origin-guard/pkg/models"
)

func hijackEvent(prefix string, hijacker uint32, severity string) models.BGPEvent {
	return models.BGPEvent{
		ID:             "ev-" + prefix,
		RunID:          "run-1",
		CountryCode:    "NL",
		EventType:      models.EventTypeHijack,
		Severity:       severity,
		AffectedASN:    65001,
		HijackingASN:   hijacker,
		AffectedPrefix: prefix,
		LegalOrigins:   []uint32{65001},
		Details:        map[string]interface{}{"collector": "rrc00"},
		DetectedAt:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newMockWriter(t *testing.T) (*VerdictWriter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewVerdictWriterFromDB(db), mock
}

func TestVerdictWriter_InsertAndUpdate(t *testing.T) {
	w, mock := newMockWriter(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, severity FROM hijack_events").
		WithArgs("10.0.0.0/8", int64(65002), "run-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "severity"}))
	mock.ExpectExec("INSERT INTO hijack_events").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT id, severity FROM hijack_events").
		WithArgs("192.0.2.0/24", int64(65003), "run-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "severity"}).AddRow(7, models.SeverityMedium))
	mock.ExpectExec("UPDATE hijack_events").
		WithArgs(sqlmock.AnyArg(), models.SeverityHigh, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectClose()

	w.Write(hijackEvent("10.0.0.0/8", 65002, models.SeverityMedium))
	w.Write(hijackEvent("192.0.2.0/24", 65003, models.SeverityHigh))
	w.Start()
	w.Stop()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
	stats := w.Stats()
	if stats["events_written"] != uint64(1) || stats["events_updated"] != uint64(1) {
		t.Errorf("stats = %v, want one insert and one update", stats)
	}
	if stats["batches_written"] != uint64(1) {
		t.Errorf("batches_written = %v, want 1", stats["batches_written"])
	}
}

func TestVerdictWriter_SeverityNeverDowngrades(t *testing.T) {
	w, mock := newMockWriter(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, severity FROM hijack_events").
		WillReturnRows(sqlmock.NewRows([]string{"id", "severity"}).AddRow(3, models.SeverityCritical))
	mock.ExpectExec("UPDATE hijack_events").
		WithArgs(sqlmock.AnyArg(), models.SeverityCritical, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w.writeBatch([]models.BGPEvent{hijackEvent("10.0.0.0/8", 65002, models.SeverityMedium)})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestVerdictWriter_Failures(t *testing.T) {
	w, mock := newMockWriter(t)

	mock.ExpectBegin().WillReturnError(errors.New("no connection"))
	w.writeBatch([]models.BGPEvent{hijackEvent("10.0.0.0/8", 65002, models.SeverityMedium)})

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, severity FROM hijack_events").
		WillReturnError(errors.New("relation does not exist"))
	mock.ExpectCommit()
	w.writeBatch([]models.BGPEvent{hijackEvent("10.0.0.0/8", 65002, models.SeverityMedium)})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
	stats := w.Stats()
	if stats["events_failed"] != uint64(2) {
		t.Errorf("events_failed = %v, want 2", stats["events_failed"])
	}
	if stats["events_written"] != uint64(0) {
		t.Errorf("events_written = %v, want 0", stats["events_written"])
	}
}

func TestVerdictWriter_Drops(t *testing.T) {
	w, mock := newMockWriter(t)
	mock.ExpectClose()

	for i := 0; i < queueSize+3; i++ {
		w.Write(hijackEvent("10.0.0.0/8", 65002, models.SeverityMedium))
	}
	if got := w.Stats()["events_dropped"]; got != uint64(3) {
		t.Errorf("events_dropped = %v, want 3", got)
	}

	// Stop without Start must not block or write.
	w.Stop()
	w.Write(hijackEvent("10.0.0.0/8", 65002, models.SeverityMedium))
	if got := w.Stats()["events_dropped"]; got != uint64(4) {
		t.Errorf("events_dropped after stop = %v, want 4", got)
	}
	w.Start()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestVerdictWriter_EnsureSchema(t *testing.T) {
	w, mock := newMockWriter(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS hijack_events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := w.EnsureSchema(); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
