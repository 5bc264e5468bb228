package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hervehildenbrand/origin-guard/pkg/models"
	"github.com/hervehildenbrand/origin-guard/pkg/prefix"
)

// Columns is the canonical header of an evidence file.
var Columns = []string{"prefix", "origin", "source", "announced", "date", "peer"}

// Raw is one evidence row as read from a file, before validation.
type Raw struct {
	Prefix    string
	Origin    string
	Source    string
	Announced string
	Date      string
	Peer      string
}

var dateLayouts = []string{"2006-01-02", "20060102"}

// Normalize validates a raw row and converts it into an evidence tuple.
func Normalize(raw Raw) (models.Evidence, error) {
	bits, family, err := prefix.ToBits(raw.Prefix)
	if err != nil {
		return models.Evidence{}, makeError(ErrInvalidPrefix, err.Error())
	}
	if family != prefix.IPv4 {
		str := fmt.Sprintf("prefix %s is not IPv4", raw.Prefix)
		return models.Evidence{}, makeError(ErrUnsupportedFamily, str)
	}

	origin, err := ParseASN(raw.Origin)
	if err != nil {
		return models.Evidence{}, makeError(ErrInvalidOrigin, err.Error())
	}

	kind, err := models.ParseSourceKind(raw.Source)
	if err != nil {
		return models.Evidence{}, makeError(ErrInvalidSource, err.Error())
	}

	announced := true
	if s := strings.TrimSpace(raw.Announced); s != "" {
		announced, err = strconv.ParseBool(s)
		if err != nil {
			str := fmt.Sprintf("announced flag %q is not a boolean", s)
			return models.Evidence{}, makeError(ErrInvalidAnnounced, str)
		}
	}

	var date time.Time
	if s := strings.TrimSpace(raw.Date); s != "" {
		date, err = parseDate(s)
		if err != nil {
			return models.Evidence{}, makeError(ErrInvalidDate, err.Error())
		}
	}

	peer := strings.TrimSpace(raw.Peer)
	if peer == "-" {
		peer = ""
	}

	return models.Evidence{
		PrefixBits: bits,
		Origin:     origin,
		Kind:       kind,
		Announced:  announced,
		Date:       date,
		Peer:       peer,
	}, nil
}

// ParseASN parses an ASN with an optional AS prefix.  Zero is rejected.
func ParseASN(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if len(s) > 2 && strings.EqualFold(s[:2], "as") {
		s = s[2:]
	}
	asn, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("origin %q is not an ASN", s)
	}
	if asn == 0 {
		return 0, errors.New("origin ASN must be positive")
	}
	return uint32(asn), nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q is neither YYYY-MM-DD nor YYYYMMDD", s)
}

var nameDate = regexp.MustCompile(`\d{4}[-_]\d{1,2}[-_]\d{1,2}|\d{8}`)

// DateFromName extracts the first date embedded in a file name such as
// rrc00_updates.20170105.1200.gz.  Rows without a date of their own inherit
// it.
func DateFromName(name string) (time.Time, bool) {
	for _, candidate := range nameDate.FindAllString(name, -1) {
		parts := strings.FieldsFunc(candidate, func(r rune) bool { return r == '-' || r == '_' })
		var y, m, d int
		if len(parts) == 3 {
			y, _ = strconv.Atoi(parts[0])
			m, _ = strconv.Atoi(parts[1])
			d, _ = strconv.Atoi(parts[2])
		} else {
			y, _ = strconv.Atoi(candidate[:4])
			m, _ = strconv.Atoi(candidate[4:6])
			d, _ = strconv.Atoi(candidate[6:8])
		}
		t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
		if t.Year() == y && int(t.Month()) == m && t.Day() == d {
			return t, true
		}
	}
	return time.Time{}, false
}

// Reader reads Raw rows from CSV input.  A first row whose prefix column
// reads "prefix" is taken as a header and skipped.
type Reader struct {
	r     *csv.Reader
	first bool
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	cr.ReuseRecord = true
	return &Reader{r: cr, first: true}
}

// Next returns the next row.  It returns io.EOF at the end of input and an
// Error of kind ErrMalformedRecord for rows with fewer than three columns;
// reading may continue after such an error.
func (r *Reader) Next() (Raw, error) {
	for {
		fields, err := r.r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Raw{}, io.EOF
			}
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return Raw{}, makeError(ErrMalformedRecord, err.Error())
			}
			return Raw{}, err
		}
		if r.first {
			r.first = false
			if len(fields) > 0 && strings.EqualFold(strings.TrimSpace(fields[0]), Columns[0]) {
				continue
			}
		}
		if len(fields) < 3 {
			line, _ := r.r.FieldPos(0)
			str := fmt.Sprintf("line %d has %d columns, want at least 3", line, len(fields))
			return Raw{}, makeError(ErrMalformedRecord, str)
		}

		raw := Raw{Prefix: fields[0], Origin: fields[1], Source: fields[2]}
		if len(fields) > 3 {
			raw.Announced = fields[3]
		}
		if len(fields) > 4 {
			raw.Date = fields[4]
		}
		if len(fields) > 5 {
			raw.Peer = fields[5]
		}
		return raw, nil
	}
}
