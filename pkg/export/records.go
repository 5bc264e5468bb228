// Package export reads and writes the files exchanged between pipeline
// stages: PO-score records, cloud-parameter reports and announcement lists.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/hervehildenbrand/origin-guard/pkg/cloud"
	"github.com/hervehildenbrand/origin-guard/pkg/decision"
	"github.com/hervehildenbrand/origin-guard/pkg/evidence"
)

// Record is the exported form of one scored PO pair.
type Record struct {
	PrefixBits        string                `json:"prefix_bits"`
	Origin            uint32                `json:"origin"`
	Sources           []string              `json:"sources"`
	HasLiveTable      bool                  `json:"has_live_table"`
	PeerCount         int                   `json:"peer_count"`
	TimeVector        [evidence.NumDays]int `json:"time_vector"`
	TimePersistence   float64               `json:"time_persistence"`
	SpaceConsistency  float64               `json:"space_consistency"`
	SourceConsistency float64               `json:"source_consistency"`
	TimeUncertainty   float64               `json:"time_uncertainty"`
	SpaceUncertainty  float64               `json:"space_uncertainty"`
	SourceUncertainty float64               `json:"source_uncertainty"`
	TotalUncertainty  float64               `json:"total_uncertainty"`
	Confidence        float64               `json:"confidence"`
}

// round6 rounds the exact binary value of v to six decimals, ties to even.
// Scaling by 1e6 first would round twice and can turn 3.5e-06, whose exact
// value lies below the tie, into 4e-06.
func round6(v float64) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 6, 64), 64)
	if err != nil {
		return v
	}
	return r
}

// Records converts scored pairs into records.  Uncertainties are rounded to
// six decimals and confidence is the rounded complement of the unrounded
// total.
func Records(scored []cloud.Scored) []Record {
	records := make([]Record, 0, len(scored))
	for i := range scored {
		p, s := &scored[i].Pair, &scored[i].Score
		sources := make([]string, len(p.Sources))
		for j, k := range p.Sources {
			sources[j] = k.String()
		}
		records = append(records, Record{
			PrefixBits:        p.PrefixBits,
			Origin:            p.Origin,
			Sources:           sources,
			HasLiveTable:      p.HasLiveTable,
			PeerCount:         p.PeerCount,
			TimeVector:        p.TimeVector,
			TimePersistence:   p.TimePersistence,
			SpaceConsistency:  p.SpaceConsistency,
			SourceConsistency: p.SourceConsistency,
			TimeUncertainty:   round6(s.Time),
			SpaceUncertainty:  round6(s.Space),
			SourceUncertainty: round6(s.Source),
			TotalUncertainty:  round6(s.Total),
			Confidence:        round6(1 - s.Total),
		})
	}
	return records
}

// Candidates returns the records as decision candidates, preserving order.
func Candidates(records []Record) []decision.Candidate {
	cands := make([]decision.Candidate, len(records))
	for i := range records {
		cands[i] = decision.Candidate{
			PrefixBits: records[i].PrefixBits,
			Origin:     records[i].Origin,
			Confidence: records[i].Confidence,
		}
	}
	return cands
}

// WriteRecords writes records as an indented JSON array.
func WriteRecords(w io.Writer, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	return nil
}

// ReadRecords reads a JSON array written by WriteRecords.
func ReadRecords(r io.Reader) ([]Record, error) {
	var records []Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return records, nil
}
