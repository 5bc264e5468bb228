package rislive

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/hervehildenbrand/origin-guard/pkg/models"
)

// RISMessage is the top-level message from RIS Live.
type RISMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// RISUpdateData is the BGP update data from RIS Live.
type RISUpdateData struct {
	Timestamp     float64           `json:"timestamp"`
	PeerASN       json.RawMessage   `json:"peer_asn"` // Can be string or number
	Path          json.RawMessage   `json:"path"`
	Announcements []RISAnnouncement `json:"announcements"`
	Withdrawals   []string          `json:"withdrawals"`
}

// RISAnnouncement represents announced prefixes.
type RISAnnouncement struct {
	Prefixes []string `json:"prefixes"`
}

// ParseMessage parses a RIS Live WebSocket message into one announcement
// per announced prefix.  Withdrawals, non-update frames and updates whose
// origin is an AS_SET of more than one member yield no announcements.
func ParseMessage(data []byte, collector string) ([]models.Announcement, error) {
	var msg RISMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}

	// Only process ris_message type
	if msg.Type != "ris_message" {
		return nil, nil
	}

	var update RISUpdateData
	if err := json.Unmarshal(msg.Data, &update); err != nil {
		return nil, fmt.Errorf("unmarshal update data: %w", err)
	}
	if len(update.Announcements) == 0 {
		return nil, nil
	}

	origin, err := parseOrigin(update.Path)
	if err != nil {
		return nil, fmt.Errorf("parse AS path: %w", err)
	}
	if origin == 0 {
		return nil, nil
	}

	peerASN := parseASN(update.PeerASN)
	secs := int64(update.Timestamp)
	timestamp := time.Unix(secs, int64((update.Timestamp-float64(secs))*1e9)).UTC()

	var anns []models.Announcement
	for _, ann := range update.Announcements {
		for _, pfx := range ann.Prefixes {
			anns = append(anns, models.Announcement{
				Timestamp: timestamp,
				Prefix:    pfx,
				OriginASN: origin,
				PeerASN:   peerASN,
				Collector: collector,
			})
		}
	}
	return anns, nil
}

// parseASN parses an ASN that can be either a string or number.
func parseASN(data json.RawMessage) uint32 {
	if len(data) == 0 {
		return 0
	}

	var num uint32
	if err := json.Unmarshal(data, &num); err == nil {
		return num
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		val, _ := strconv.ParseUint(str, 10, 32)
		return uint32(val)
	}
	return 0
}

// parseOrigin returns the last hop of an AS path.  The path may contain
// nested arrays for AS_SET segments, e.g. [174, [3356, 65001]].  A trailing
// set only names an origin when it has a single member; otherwise 0 is
// returned.
func parseOrigin(data json.RawMessage) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}

	var hops []json.RawMessage
	if err := json.Unmarshal(data, &hops); err != nil {
		return 0, fmt.Errorf("cannot parse path: %w", err)
	}
	if len(hops) == 0 {
		return 0, nil
	}

	last := hops[len(hops)-1]
	var num uint32
	if err := json.Unmarshal(last, &num); err == nil {
		return num, nil
	}
	var set []uint32
	if err := json.Unmarshal(last, &set); err != nil {
		return 0, fmt.Errorf("cannot parse path element %s: %w", last, err)
	}
	if len(set) == 1 {
		return set[0], nil
	}
	return 0, nil
}
