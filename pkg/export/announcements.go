package export

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hervehildenbrand/origin-guard/pkg/detector"
	"github.com/hervehildenbrand/origin-guard/pkg/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/announcements.schema.json
var announcementsSchema []byte

const announcementsSchemaURL = "https://origin-guard.local/schema/announcements.json"

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.AssertFormat = true
		if err := compiler.AddResource(announcementsSchemaURL, bytes.NewReader(announcementsSchema)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile(announcementsSchemaURL)
		if compileErr != nil {
			compileErr = fmt.Errorf("compile schema: %w", compileErr)
		}
	})
	return compiledSchema, compileErr
}

// ASN decodes an origin given either as a JSON number or as a string with an
// optional AS prefix.
type ASN uint32

// UnmarshalJSON implements json.Unmarshaler.
func (a *ASN) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if len(s) > 2 && strings.EqualFold(s[:2], "as") {
			s = s[2:]
		}
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return fmt.Errorf("origin %q is not an ASN", s)
		}
		*a = ASN(v)
		return nil
	}
	var v uint32
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*a = ASN(v)
	return nil
}

// AnnouncementInput is one entry of an announcement list.
type AnnouncementInput struct {
	Prefix    string    `json:"prefix"`
	Origin    ASN       `json:"origin"`
	Peer      uint32    `json:"peer,omitempty"`
	Collector string    `json:"collector,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ReadAnnouncements reads a JSON announcement list.  See ParseAnnouncements.
func ReadAnnouncements(r io.Reader) ([]detector.Input, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read announcements: %w", err)
	}
	return ParseAnnouncements(raw)
}

// ParseAnnouncements decodes a JSON announcement list.  Only a document
// that is not a JSON array fails as a whole.  Every entry is validated
// against the embedded schema on its own, and an entry that fails keeps its
// slot with Err set and whatever prefix and origin could still be read.
func ParseAnnouncements(raw []byte) ([]detector.Input, error) {
	sch, err := schema()
	if err != nil {
		return nil, err
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode announcements: %w", err)
	}
	items, ok := doc.([]interface{})
	if !ok {
		return nil, fmt.Errorf("announcements must be a JSON array")
	}
	var rawItems []json.RawMessage
	if err := json.Unmarshal(raw, &rawItems); err != nil {
		return nil, fmt.Errorf("decode announcements: %w", err)
	}

	inputs := make([]detector.Input, len(items))
	for i, item := range items {
		inputs[i] = parseEntry(sch, item, rawItems[i])
	}
	return inputs, nil
}

func parseEntry(sch *jsonschema.Schema, item interface{}, raw json.RawMessage) detector.Input {
	// The schema describes the whole list, so a lone entry is checked as a
	// list of one.
	if err := sch.Validate([]interface{}{item}); err != nil {
		return detector.Input{Announcement: salvage(raw), Err: fmt.Errorf("invalid announcement: %w", err)}
	}
	var in AnnouncementInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return detector.Input{Announcement: salvage(raw), Err: fmt.Errorf("decode announcement: %w", err)}
	}
	return detector.Input{Announcement: models.Announcement{
		Timestamp: in.Timestamp,
		Prefix:    in.Prefix,
		OriginASN: uint32(in.Origin),
		PeerASN:   in.Peer,
		Collector: in.Collector,
	}}
}

// salvage recovers the prefix and origin of a rejected entry for reporting.
func salvage(raw json.RawMessage) models.Announcement {
	var fields struct {
		Prefix json.RawMessage `json:"prefix"`
		Origin json.RawMessage `json:"origin"`
	}
	var ann models.Announcement
	if json.Unmarshal(raw, &fields) != nil {
		return ann
	}
	_ = json.Unmarshal(fields.Prefix, &ann.Prefix)
	var origin ASN
	if len(fields.Origin) > 0 && origin.UnmarshalJSON(fields.Origin) == nil {
		ann.OriginASN = uint32(origin)
	}
	return ann
}
