package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/hervehildenbrand/origin-guard/pkg/cloud"
	"github.com/hervehildenbrand/origin-guard/pkg/decision"
	"github.com/hervehildenbrand/origin-guard/pkg/evidence"
	"github.com/hervehildenbrand/origin-guard/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScored() []cloud.Scored {
	return []cloud.Scored{{
		Pair: evidence.PoPair{
			PrefixBits:        "00001010",
			Origin:            65001,
			Sources:           []models.SourceKind{models.SourceLiveTable, models.SourceRegistry},
			HasLiveTable:      true,
			PeerCount:         2,
			TimeVector:        [evidence.NumDays]int{2, 1, 0, 0, 0},
			TimePersistence:   0.868,
			SpaceConsistency:  1.0986,
			SourceConsistency: 0.62,
		},
		Score: cloud.Score{Time: 0.1234564, Space: 0.2, Source: 0, Total: 0.1078188, Confidence: 0.8921812},
	}, {
		Pair:  evidence.PoPair{PrefixBits: "1100", Origin: 65003, Sources: []models.SourceKind{models.SourceAttestation}},
		Score: cloud.Score{Time: 1, Space: 0.9, Source: 0.5, Total: 0.8, Confidence: 0.19999999999999996},
	}}
}

func TestRecords(t *testing.T) {
	records := Records(testScored())
	require.Len(t, records, 2)

	r := records[0]
	assert.Equal(t, "00001010", r.PrefixBits)
	assert.Equal(t, []string{"live-table", "registry"}, r.Sources)
	assert.Equal(t, 0.123456, r.TimeUncertainty)
	assert.Equal(t, 0.107819, r.TotalUncertainty)
	assert.Equal(t, 0.892181, r.Confidence)
	assert.Equal(t, 0.868, r.TimePersistence)

	assert.Equal(t, 0.2, records[1].Confidence)
	assert.Equal(t, []string{"attestation"}, records[1].Sources)
}

func TestRecords_RoundTripAndCandidates(t *testing.T) {
	records := Records(testScored())

	var buf bytes.Buffer
	require.NoError(t, WriteRecords(&buf, records))
	assert.Contains(t, buf.String(), `"has_live_table": true`)

	back, err := ReadRecords(&buf)
	require.NoError(t, err)
	assert.Equal(t, records, back)

	cands := Candidates(back)
	assert.Equal(t, []decision.Candidate{
		{PrefixBits: "00001010", Origin: 65001, Confidence: 0.892181},
		{PrefixBits: "1100", Origin: 65003, Confidence: 0.2},
	}, cands)

	trie, stats := decision.Build(cands, decision.DefaultThreshold, decision.Options{})
	assert.Equal(t, 1, stats.Inserted)
	verdict, _, err := trie.Classify("10.0.0.0/8", 65001)
	require.NoError(t, err)
	assert.Equal(t, models.VerdictLegit, verdict)
}

func TestWriteRecords_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRecords(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestModel_Formats(t *testing.T) {
	m := &cloud.Model{
		Time:   cloud.Params{Ex: 0.8, En: 0.1, He: 0.01, N: 10},
		Space:  cloud.Params{Ex: 1.5, En: 0.3, He: 0.05, N: 7},
		Source: cloud.Params{Ex: 0.6, En: cloud.Epsilon, He: 0, N: 7},
		Meta:   cloud.Meta{Pairs: 10, LiveTablePairs: 7, SpaceSamples: 7, SourceSamples: 7, LiveTableOnly: true},
	}
	for _, format := range []Format{FormatJSON, FormatYAML} {
		var buf bytes.Buffer
		require.NoError(t, WriteModel(&buf, m, format))
		assert.Contains(t, buf.String(), "live_table_pairs")

		back, err := ReadModel(&buf, format)
		require.NoError(t, err, format)
		assert.Equal(t, m, back, format)
	}

	assert.Error(t, WriteModel(&bytes.Buffer{}, m, Format("xml")))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("YML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)
	_, err = ParseFormat("toml")
	assert.Error(t, err)

	assert.Equal(t, FormatYAML, FormatForPath("out/cloud_params.yaml"))
	assert.Equal(t, FormatJSON, FormatForPath("out/cloud_params.json"))
	assert.Equal(t, FormatJSON, FormatForPath("out/cloud_params"))
}

func TestRound6(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0.1234564, 0.123456},
		{0.1234566, 0.123457},
		{3.5e-06, 3e-06},
		{5.5e-06, 5e-06},
		{1.35e-05, 1.3e-05},
		{0.868, 0.868},
		{0, 0},
		{1, 1},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, round6(test.in), "round6(%v)", test.in)
	}
}

func TestReadAnnouncements(t *testing.T) {
	doc := `[
		{"prefix": "10.0.0.0/8", "origin": 65001},
		{"prefix": "192.168.0.0/16", "origin": "AS65003", "peer": 3333, "collector": "rrc00"},
		{"prefix": "2001:db8::/32", "origin": "65002", "timestamp": "2024-07-01T12:00:00Z"}
	]`
	inputs, err := ReadAnnouncements(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, inputs, 3)
	for _, in := range inputs {
		assert.NoError(t, in.Err)
	}
	assert.Equal(t, uint32(65001), inputs[0].Announcement.OriginASN)
	assert.Equal(t, uint32(65003), inputs[1].Announcement.OriginASN)
	assert.Equal(t, uint32(3333), inputs[1].Announcement.PeerASN)
	assert.Equal(t, "rrc00", inputs[1].Announcement.Collector)
	assert.Equal(t, 2024, inputs[2].Announcement.Timestamp.Year())
}

func TestReadAnnouncements_InvalidDocument(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `[{`},
		{"not an array", `{"prefix": "10.0.0.0/8", "origin": 1}`},
		{"null", `null`},
	}
	for _, test := range tests {
		_, err := ReadAnnouncements(strings.NewReader(test.doc))
		assert.Error(t, err, test.name)
	}
}

func TestReadAnnouncements_InvalidEntries(t *testing.T) {
	tests := []struct {
		name   string
		entry  string
		prefix string
		origin uint32
	}{
		{"missing origin", `{"prefix": "10.0.0.0/8"}`, "10.0.0.0/8", 0},
		{"zero origin", `{"prefix": "10.0.0.0/8", "origin": 0}`, "10.0.0.0/8", 0},
		{"bad origin string", `{"prefix": "10.0.0.0/8", "origin": "ASX"}`, "10.0.0.0/8", 0},
		{"origin too large", `{"prefix": "10.0.0.0/8", "origin": 4294967296}`, "10.0.0.0/8", 0},
		{"origin string too large", `{"prefix": "10.0.0.0/8", "origin": "AS99999999999"}`, "10.0.0.0/8", 0},
		{"empty prefix", `{"prefix": "", "origin": 1}`, "", 1},
		{"bad timestamp", `{"prefix": "10.0.0.0/8", "origin": 1, "timestamp": "yesterday"}`, "10.0.0.0/8", 1},
		{"not an object", `"10.0.0.0/8"`, "", 0},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			doc := `[{"prefix": "1.0.0.0/8", "origin": 65001}, ` + test.entry +
				`, {"prefix": "2.0.0.0/8", "origin": "AS65002"}]`
			inputs, err := ReadAnnouncements(strings.NewReader(doc))
			require.NoError(t, err)
			require.Len(t, inputs, 3)

			assert.NoError(t, inputs[0].Err)
			assert.Equal(t, uint32(65001), inputs[0].Announcement.OriginASN)
			assert.NoError(t, inputs[2].Err)
			assert.Equal(t, uint32(65002), inputs[2].Announcement.OriginASN)

			assert.Error(t, inputs[1].Err)
			assert.Equal(t, test.prefix, inputs[1].Announcement.Prefix)
			assert.Equal(t, test.origin, inputs[1].Announcement.OriginASN)
		})
	}
}
