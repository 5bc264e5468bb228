// Package database persists hijack verdicts to PostgreSQL and resolves the
// country of the networks involved.
package database

import (
	"bufio"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hervehildenbrand/origin-guard/pkg/models"
)

const (
	refreshInterval = 15 * time.Minute // Refresh ASN mapping every 15 minutes

	// UnknownCountry is reported when no resolver knows the ASN.  "GL"
	// would be Greenland.
	UnknownCountry = "XX"
)

// CountryResolver provides ASN-to-country lookups.
type CountryResolver interface {
	// Resolve returns the country code for an ASN, or "" if unknown.
	Resolve(asn uint32) string
	// ResolveAny returns the country of the first ASN with a known country.
	ResolveAny(asns []uint32) string
	// Count returns the number of ASNs in the mapping.
	Count() int
	// Start begins any background refresh operations.
	Start()
	// Stop stops any background operations.
	Stop()
}

// Enrich sets the country code of a hijack event from the victim, then the
// hijacker, falling back to UnknownCountry.  An already set code is kept.
func Enrich(r CountryResolver, event *models.BGPEvent) {
	if event.CountryCode != "" {
		return
	}
	asns := make([]uint32, 0, len(event.LegalOrigins)+2)
	if event.AffectedASN != 0 {
		asns = append(asns, event.AffectedASN)
	}
	asns = append(asns, event.LegalOrigins...)
	if event.HijackingASN != 0 {
		asns = append(asns, event.HijackingASN)
	}
	event.CountryCode = r.ResolveAny(asns)
	if event.CountryCode == "" {
		event.CountryCode = UnknownCountry
	}
}

// mapping is a lock-protected ASN to country table shared by the resolvers.
type mapping struct {
	mu  sync.RWMutex
	asn map[uint32]string
}

func (m *mapping) Resolve(asn uint32) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.asn[asn]
}

func (m *mapping) ResolveAny(asns []uint32) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, asn := range asns {
		if country, ok := m.asn[asn]; ok {
			return country
		}
	}
	return ""
}

func (m *mapping) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.asn)
}

func (m *mapping) replace(asn map[uint32]string) {
	m.mu.Lock()
	m.asn = asn
	m.mu.Unlock()
}

// NullResolver knows no country; events get UnknownCountry.
type NullResolver struct{}

// NewNullResolver creates a new null resolver.
func NewNullResolver() *NullResolver {
	return &NullResolver{}
}

func (r *NullResolver) Resolve(asn uint32) string  { return "" }
func (r *NullResolver) ResolveAny([]uint32) string { return "" }
func (r *NullResolver) Count() int                 { return 0 }
func (r *NullResolver) Start()                     {}
func (r *NullResolver) Stop()                      {}

// FileResolver loads ASN-to-country mappings from a CSV file.
// Expected format: asn,country_code (e.g., "13335,US").  A header row is
// optional.
type FileResolver struct {
	mapping
	filePath string
}

// NewFileResolver creates a resolver that loads mappings from a CSV file.
func NewFileResolver(filePath string) (*FileResolver, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	asn, err := parseCountryCSV(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	r := &FileResolver{filePath: filePath}
	r.replace(asn)
	log.Infof("Loaded %d ASN country mappings from %s", len(asn), filePath)
	return r, nil
}

func parseCountryCSV(r io.Reader) (map[uint32]string, error) {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.FieldsPerRecord = -1

	out := make(map[uint32]string)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(record) < 2 {
			continue
		}
		// Non-numeric first columns are headers or junk.
		asn, err := strconv.ParseUint(strings.TrimSpace(record[0]), 10, 32)
		if err != nil {
			continue
		}
		country := strings.ToUpper(strings.TrimSpace(record[1]))
		if len(country) == 2 {
			out[uint32(asn)] = country
		}
	}
	return out, nil
}

func (r *FileResolver) Start() {}
func (r *FileResolver) Stop()  {}

var tableNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// DatabaseResolver loads ASN-to-country mappings from a database table and
// refreshes them periodically.
// Uses a simple schema: SELECT asn, country_code FROM asn_countries
type DatabaseResolver struct {
	mapping
	db        *sql.DB
	tableName string
	done      chan struct{}
	wg        sync.WaitGroup
	once      sync.Once
}

// NewDatabaseResolver creates a resolver that loads mappings from a database.
// tableName defaults to "asn_countries" if empty.
func NewDatabaseResolver(db *sql.DB, tableName string) (*DatabaseResolver, error) {
	if tableName == "" {
		tableName = "asn_countries"
	}
	if !tableNameRE.MatchString(tableName) {
		return nil, fmt.Errorf("invalid table name %q", tableName)
	}
	return &DatabaseResolver{
		db:        db,
		tableName: tableName,
		done:      make(chan struct{}),
	}, nil
}

// Start loads the mapping and begins periodic refresh.
func (r *DatabaseResolver) Start() {
	if err := r.Refresh(); err != nil {
		log.Warnf("Unable to load ASN countries from %s: %v", r.tableName, err)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := r.Refresh(); err != nil {
					log.Warnf("Unable to refresh ASN countries from %s: %v", r.tableName, err)
				}
			case <-r.done:
				return
			}
		}
	}()
}

// Stop stops the resolver.
func (r *DatabaseResolver) Stop() {
	r.once.Do(func() { close(r.done) })
	r.wg.Wait()
}

// Refresh reloads the mapping.  The previous mapping is kept on error.
func (r *DatabaseResolver) Refresh() error {
	start := time.Now()

	query := "SELECT asn, country_code FROM " + r.tableName +
		" WHERE country_code IS NOT NULL AND country_code != ''"
	rows, err := r.db.Query(query)
	if err != nil {
		return fmt.Errorf("query %s: %w", r.tableName, err)
	}
	defer rows.Close()

	asn := make(map[uint32]string)
	for rows.Next() {
		var n int64
		var country string
		if err := rows.Scan(&n, &country); err != nil {
			continue
		}
		if n <= 0 || n > 1<<32-1 {
			continue
		}
		asn[uint32(n)] = strings.ToUpper(country)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", r.tableName, err)
	}

	r.replace(asn)
	log.Debugf("Loaded %d ASN country mappings in %v", len(asn), time.Since(start))
	return nil
}
