// Package ingest reads evidence files into an evidence trie.
//
// Every source is read into its own shard trie concurrently.  The shards are
// then merged into one trie in the order the sources were given, so the
// result does not depend on scheduling.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hervehildenbrand/origin-guard/internal/progresslog"
	"github.com/hervehildenbrand/origin-guard/pkg/evidence"
	"github.com/hervehildenbrand/origin-guard/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// progressBatch is the number of rows a shard accumulates before reporting
// to the progress logger.
const progressBatch = 10000

// Source is a named evidence input.
type Source struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// FileSource returns a source reading the file at path.
func FileSource(path string) Source {
	return Source{
		Name: path,
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

// ReaderSource wraps an already open reader.
func ReaderSource(name string, r io.Reader) Source {
	return Source{
		Name: name,
		Open: func() (io.ReadCloser, error) { return io.NopCloser(r), nil },
	}
}

// Stats summarizes an ingestion run.
type Stats struct {
	Sources       int
	FailedSources []string
	Read          uint64
	Inserted      uint64
	Skipped       map[ErrorKind]uint64

	// Discarded counts rows that were valid but belonged to a source that
	// failed part way through, so they never reached the merged trie.
	Discarded uint64
}

// TotalSkipped returns the number of rows rejected for any reason.
func (s *Stats) TotalSkipped() uint64 {
	var total uint64
	for _, n := range s.Skipped {
		total += n
	}
	return total
}

// Config tunes an Ingestor.
type Config struct {
	// Workers bounds the number of sources read at once.  Zero or less
	// reads every source concurrently.
	Workers int

	// DateFromName makes rows without a date inherit the date embedded in
	// their source name.
	DateFromName bool
}

// Ingestor builds an evidence trie from evidence sources.
type Ingestor struct {
	cfg      Config
	progress *progresslog.Logger
}

// New returns an Ingestor.
func New(cfg Config) *Ingestor {
	return &Ingestor{
		cfg:      cfg,
		progress: progresslog.New("Ingested", log),
	}
}

type shard struct {
	trie     *evidence.Trie
	read     uint64
	inserted uint64
	skipped  map[ErrorKind]uint64
	err      error
}

// Run reads every source and returns the merged trie.  A source that cannot
// be opened or read is logged and listed in Stats.FailedSources without
// aborting the others.  Only context cancellation fails the run.
func (i *Ingestor) Run(ctx context.Context, sources []Source) (*evidence.Trie, Stats, error) {
	shards := make([]shard, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	if i.cfg.Workers > 0 {
		g.SetLimit(i.cfg.Workers)
	}
	for idx := range sources {
		idx := idx
		g.Go(func() error {
			shards[idx] = i.readSource(gctx, sources[idx])
			if errors.Is(shards[idx].err, context.Canceled) ||
				errors.Is(shards[idx].err, context.DeadlineExceeded) {
				return shards[idx].err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Stats{}, err
	}

	stats := Stats{Sources: len(sources), Skipped: make(map[ErrorKind]uint64)}
	trie := evidence.New()
	for idx := range shards {
		s := &shards[idx]
		stats.Read += s.read
		for kind, n := range s.skipped {
			stats.Skipped[kind] += n
		}
		if s.err != nil {
			log.Errorf("Evidence source %s failed: %v", sources[idx].Name, s.err)
			stats.FailedSources = append(stats.FailedSources, sources[idx].Name)
			stats.Discarded += s.inserted
			continue
		}
		stats.Inserted += s.inserted
		trie.Merge(s.trie)
	}

	i.progress.LogProgress("", 0, 0, true)
	log.Infof("Ingested %d sources (%d failed): %d rows read, %d inserted, "+
		"%d skipped, %d discarded, %d prefixes", stats.Sources,
		len(stats.FailedSources), stats.Read, stats.Inserted,
		stats.TotalSkipped(), stats.Discarded, trie.Prefixes())
	for _, kind := range sortedKinds(stats.Skipped) {
		log.Debugf("Skipped %d rows: %s", stats.Skipped[kind], kind)
	}
	return trie, stats, nil
}

func sortedKinds(m map[ErrorKind]uint64) []ErrorKind {
	kinds := make([]ErrorKind, 0, len(m))
	for kind := range m {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// readSource reads one source into a fresh shard.  A failed shard keeps its
// counters but its trie is discarded by the caller.
func (i *Ingestor) readSource(ctx context.Context, src Source) shard {
	s := shard{trie: evidence.New(), skipped: make(map[ErrorKind]uint64)}

	rc, err := src.Open()
	if err != nil {
		s.err = fmt.Errorf("open: %w", err)
		return s
	}
	defer rc.Close()

	fallback, hasFallback := DateFromName(filepath.Base(src.Name))
	hasFallback = hasFallback && i.cfg.DateFromName

	var pendingRead, pendingSkipped uint64
	flush := func() {
		i.progress.LogProgress(src.Name, pendingRead, pendingSkipped, false)
		pendingRead, pendingSkipped = 0, 0
	}

	r := NewReader(rc)
	for {
		if s.read%progressBatch == 0 {
			if err := ctx.Err(); err != nil {
				s.err = err
				return s
			}
		}

		raw, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var ierr Error
		if err != nil && !errors.As(err, &ierr) {
			s.err = fmt.Errorf("read: %w", err)
			return s
		}

		s.read++
		pendingRead++
		if err == nil {
			err = i.insert(s.trie, raw, fallback, hasFallback)
		}
		if err != nil {
			kind := ErrMalformedRecord
			if errors.As(err, &ierr) {
				if k, ok := ierr.Err.(ErrorKind); ok {
					kind = k
				}
			}
			s.skipped[kind]++
			pendingSkipped++
			metrics.EvidenceRecords.WithLabelValues(string(kind)).Inc()
			log.Tracef("%s: skipping row: %v", src.Name, err)
		} else {
			s.inserted++
			metrics.EvidenceRecords.WithLabelValues("inserted").Inc()
		}

		if pendingRead >= progressBatch {
			flush()
		}
	}
	flush()
	return s
}

func (i *Ingestor) insert(trie *evidence.Trie, raw Raw, fallback time.Time, hasFallback bool) error {
	ev, err := Normalize(raw)
	if err != nil {
		return err
	}
	if ev.Date.IsZero() && hasFallback {
		ev.Date = fallback
	}
	return trie.InsertEvidence(ev)
}
