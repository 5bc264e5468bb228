package decision

import (
	"bytes"
	"errors"
	"testing"

	"github.com/hervehildenbrand/origin-guard/pkg/models"
	"github.com/hervehildenbrand/origin-guard/pkg/prefix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustBits(t *testing.T, s string) string {
	t.Helper()
	bits, _, err := prefix.ToBits(s)
	require.NoError(t, err)
	return bits
}

func TestBuild_Threshold(t *testing.T) {
	cands := []Candidate{
		{PrefixBits: mustBits(t, "10.0.0.0/8"), Origin: 65001, Confidence: 0.9},
		{PrefixBits: mustBits(t, "192.168.0.0/16"), Origin: 65003, Confidence: 0.55},
		{PrefixBits: mustBits(t, "172.16.0.0/12"), Origin: 65004, Confidence: 0.6},
	}
	trie, stats := Build(cands, DefaultThreshold, Options{})

	assert.Equal(t, 3, stats.Considered)
	assert.Equal(t, 1, stats.BelowThreshold)
	assert.Equal(t, 2, stats.Inserted)
	assert.Equal(t, 2, stats.Accepted())
	assert.Equal(t, 2, trie.Prefixes())

	tests := []struct {
		prefix string
		origin uint32
		want   models.Verdict
	}{
		{"10.0.0.0/8", 65001, models.VerdictLegit},
		{"10.0.0.0/8", 65009, models.VerdictHijack},
		{"10.1.2.3/8", 65001, models.VerdictLegit},
		{"10.1.0.0/16", 65001, models.VerdictUnknownPrefix},
		{"192.168.0.0/16", 65003, models.VerdictUnknownPrefix},
		{"172.16.0.0/12", 65004, models.VerdictLegit},
		{"2001:db8::/32", 65001, models.VerdictUnknownPrefix},
	}
	for _, test := range tests {
		got, _, err := trie.Classify(test.prefix, test.origin)
		require.NoError(t, err)
		assert.Equal(t, test.want, got, "%s AS%d", test.prefix, test.origin)
	}
}

func TestBuild_BelowThresholdOriginIsHijack(t *testing.T) {
	bits := mustBits(t, "10.0.0.0/8")
	trie, stats := Build([]Candidate{
		{PrefixBits: bits, Origin: 65001, Confidence: 0.9},
		{PrefixBits: bits, Origin: 65002, Confidence: 0.55},
	}, DefaultThreshold, Options{})

	assert.Equal(t, 1, stats.Inserted)
	assert.Equal(t, 1, stats.BelowThreshold)
	assert.Zero(t, stats.Rejected)
	assert.Zero(t, trie.ConflictCount(), "an excluded pair is not a conflict")

	verdict, legal, err := trie.Classify("10.0.0.0/8", 65002)
	require.NoError(t, err)
	assert.Equal(t, models.VerdictHijack, verdict)
	assert.Equal(t, []uint32{65001}, legal)

	verdict, _, err = trie.Classify("10.0.0.0/8", 65001)
	require.NoError(t, err)
	assert.Equal(t, models.VerdictLegit, verdict)
}

func TestInsert_FirstWriterWins(t *testing.T) {
	bits := mustBits(t, "10.0.0.0/8")
	trie := New(Options{})

	res, err := trie.Insert(bits, 65001)
	require.NoError(t, err)
	assert.Equal(t, Inserted, res)

	res, err = trie.Insert(bits, 65002)
	require.NoError(t, err)
	assert.Equal(t, Rejected, res)

	res, err = trie.Insert(bits, 65001)
	require.NoError(t, err)
	assert.Equal(t, AlreadyLegal, res)

	legal, ok := trie.Lookup(bits)
	require.True(t, ok)
	assert.Equal(t, []uint32{65001}, legal)

	verdict, legal := trie.ClassifyBits(bits, 65002)
	assert.Equal(t, models.VerdictHijack, verdict)
	assert.Equal(t, []uint32{65001}, legal)

	assert.Equal(t, map[string][]uint32{bits: {65001, 65002}}, trie.Conflicts())

	_, err = trie.Insert(bits, 65003)
	require.NoError(t, err)
	assert.Equal(t, []uint32{65001, 65002, 65003}, trie.Conflicts()[bits])
	assert.Equal(t, 1, trie.ConflictCount())
}

func TestInsert_MultipleOrigins(t *testing.T) {
	bits := mustBits(t, "10.0.0.0/8")
	trie := New(Options{AllowMultipleOrigins: true})

	for _, asn := range []uint32{65002, 65001, 65002} {
		_, err := trie.Insert(bits, asn)
		require.NoError(t, err)
	}
	legal, ok := trie.Lookup(bits)
	require.True(t, ok)
	assert.Equal(t, []uint32{65001, 65002}, legal)
	assert.Zero(t, trie.ConflictCount())

	verdict, _ := trie.ClassifyBits(bits, 65002)
	assert.Equal(t, models.VerdictLegit, verdict)
}

func TestInsert_Invalid(t *testing.T) {
	trie := New(Options{})

	_, err := trie.Insert("01x", 65001)
	assert.ErrorIs(t, err, ErrInvalidPrefixBits)

	_, err = trie.Insert("01", 0)
	assert.ErrorIs(t, err, ErrInvalidOrigin)

	assert.Equal(t, 1, trie.Len())
}

func TestInsert_Root(t *testing.T) {
	trie := New(Options{})
	_, err := trie.Insert("", 65001)
	require.NoError(t, err)

	verdict, _, err := trie.Classify("0.0.0.0/0", 65001)
	require.NoError(t, err)
	assert.Equal(t, models.VerdictLegit, verdict)
}

func TestClassify_InvalidPrefix(t *testing.T) {
	trie := New(Options{})
	_, _, err := trie.Classify("not-a-prefix", 65001)
	assert.ErrorIs(t, err, ErrInvalidPrefix)

	var derr Error
	assert.True(t, errors.As(err, &derr))
}

func TestLookup_Copy(t *testing.T) {
	trie := New(Options{})
	_, err := trie.Insert("1", 65001)
	require.NoError(t, err)

	legal, _ := trie.Lookup("1")
	legal[0] = 1
	again, _ := trie.Lookup("1")
	assert.Equal(t, []uint32{65001}, again)

	_, ok := trie.Lookup("0")
	assert.False(t, ok)
	_, ok = trie.Lookup("1a")
	assert.False(t, ok)
}

func TestBuild_OrderDeterminesWinner(t *testing.T) {
	bits := mustBits(t, "10.0.0.0/8")
	a := []Candidate{{bits, 65001, 0.9}, {bits, 65002, 0.95}}
	b := []Candidate{{bits, 65002, 0.95}, {bits, 65001, 0.9}}

	ta, sa := Build(a, DefaultThreshold, Options{})
	tb, _ := Build(b, DefaultThreshold, Options{})

	la, _ := ta.Lookup(bits)
	lb, _ := tb.Lookup(bits)
	assert.Equal(t, []uint32{65001}, la)
	assert.Equal(t, []uint32{65002}, lb)
	assert.Equal(t, 1, sa.Rejected)
	assert.Equal(t, ta.Conflicts(), tb.Conflicts())

	again, _ := Build(a, DefaultThreshold, Options{})
	assert.Equal(t, ta, again)
}

func TestBuild_InvalidCandidate(t *testing.T) {
	_, stats := Build([]Candidate{{"012", 65001, 1}, {"01", 0, 1}}, DefaultThreshold, Options{})
	assert.Equal(t, 2, stats.Invalid)
	assert.Zero(t, stats.Inserted)
}

func TestSerialize_RoundTrip(t *testing.T) {
	bits := mustBits(t, "10.0.0.0/8")
	trie, _ := Build([]Candidate{
		{bits, 65001, 0.9},
		{bits, 65002, 0.9},
		{mustBits(t, "172.16.0.0/12"), 65004, 0.7},
	}, DefaultThreshold, Options{})

	blob, err := trie.Bytes()
	require.NoError(t, err)

	loaded, err := FromBytes(blob)
	require.NoError(t, err)
	assert.Equal(t, trie.Len(), loaded.Len())
	assert.Equal(t, trie.Conflicts(), loaded.Conflicts())
	assert.Equal(t, trie.Options(), loaded.Options())

	for _, c := range []struct {
		prefix string
		origin uint32
	}{{"10.0.0.0/8", 65001}, {"10.0.0.0/8", 65002}, {"172.16.0.0/12", 65004}, {"8.8.8.0/24", 15169}} {
		want, _, _ := trie.Classify(c.prefix, c.origin)
		got, _, err := loaded.Classify(c.prefix, c.origin)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestLoad_Corrupt(t *testing.T) {
	_, err := FromBytes(nil)
	assert.ErrorIs(t, err, ErrCorruptTrie)

	_, err = FromBytes([]byte("OGEV\x01garbage"))
	assert.ErrorIs(t, err, ErrCorruptTrie)

	_, err = FromBytes([]byte("OGDT\x09"))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	_, err = FromBytes([]byte("OGDT\x01not snappy"))
	assert.ErrorIs(t, err, ErrCorruptTrie)

	trie := New(Options{})
	_, err = trie.Insert("10", 65001)
	require.NoError(t, err)
	blob, err := trie.Bytes()
	require.NoError(t, err)
	_, err = Load(bytes.NewReader(blob[:len(blob)-3]))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	root := wireNode{Children: [2]int32{noChild, noChild}}
	tests := []struct {
		name string
		wt   wireTrie
		ok   bool
	}{
		{"empty", wireTrie{}, false},
		{"root only", wireTrie{Nodes: []wireNode{root}}, true},
		{"self loop", wireTrie{Nodes: []wireNode{{Children: [2]int32{0, noChild}}}}, false},
		{"out of range", wireTrie{Nodes: []wireNode{{Children: [2]int32{5, noChild}}}}, false},
		{"unreachable", wireTrie{Nodes: []wireNode{root, root}}, false},
		{"zero origin", wireTrie{Nodes: []wireNode{{Children: root.Children, Legal: []uint32{0}}}}, false},
		{"unsorted", wireTrie{Nodes: []wireNode{{Children: root.Children, Legal: []uint32{2, 1}}},
			AllowMultipleOrigins: true}, false},
		{"multi without policy", wireTrie{Nodes: []wireNode{{Children: root.Children, Legal: []uint32{1, 2}}}}, false},
		{"multi with policy", wireTrie{Nodes: []wireNode{{Children: root.Children, Legal: []uint32{1, 2}}},
			AllowMultipleOrigins: true}, true},
		{"bad conflict", wireTrie{Nodes: []wireNode{root}, Conflicts: map[string][]uint32{"2": {1, 2}}}, false},
	}
	for _, test := range tests {
		err := validate(&test.wt)
		if test.ok {
			assert.NoError(t, err, test.name)
		} else {
			assert.ErrorIs(t, err, ErrCorruptTrie, test.name)
		}
	}
}
