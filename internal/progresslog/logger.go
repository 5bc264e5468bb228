package progresslog

import (
	"sync"
	"time"

	"github.com/decred/slog"
)

// logInterval is the minimum time between two unforced progress lines.
const logInterval = 10 * time.Second

// pickNoun returns the singular or plural form of a noun depending
// on the provided count.
func pickNoun(n uint64, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}

// Logger provides periodic logging of ingestion progress.  It is safe for
// concurrent use.
type Logger struct {
	sync.Mutex
	subsystemLogger slog.Logger
	progressAction  string

	// lastLogTime tracks the last time a log statement was shown.
	lastLogTime time.Time

	// These fields accumulate counts between log statements.
	receivedRecords uint64
	receivedSkipped uint64
	lastSource      string

	// totalRecords is never reset.
	totalRecords uint64
}

// New returns a new ingestion progress logger.
//
// The progress message is templated as follows:
//
//	{progressAction} {numRecords} {records|record} in the last {timePeriod}
//	({numSkipped} skipped, {total} total, last source {source})
func New(progressAction string, logger slog.Logger) *Logger {
	return &Logger{
		lastLogTime:     time.Now(),
		progressAction:  progressAction,
		subsystemLogger: logger,
	}
}

// LogProgress accounts for records read from source, skipped of which were
// rejected, and logs a summary line when ten seconds have passed since the
// previous one or forceLog is set.
func (l *Logger) LogProgress(source string, records, skipped uint64, forceLog bool) {
	l.Lock()
	defer l.Unlock()

	l.receivedRecords += records
	l.receivedSkipped += skipped
	l.totalRecords += records
	l.lastSource = source
	now := time.Now()
	duration := now.Sub(l.lastLogTime)
	if !forceLog && duration < logInterval {
		return
	}

	l.subsystemLogger.Infof("%s %d %s in the last %0.2fs (%d skipped, %d total, "+
		"last source %s)", l.progressAction, l.receivedRecords,
		pickNoun(l.receivedRecords, "record", "records"), duration.Seconds(),
		l.receivedSkipped, l.totalRecords, l.lastSource)

	l.receivedRecords = 0
	l.receivedSkipped = 0
	l.lastLogTime = now
}

// Total returns the number of records accounted for since creation.
func (l *Logger) Total() uint64 {
	l.Lock()
	defer l.Unlock()
	return l.totalRecords
}

// SetLastLogTime updates the last time data was logged to the provided time.
func (l *Logger) SetLastLogTime(time time.Time) {
	l.Lock()
	l.lastLogTime = time
	l.Unlock()
}
