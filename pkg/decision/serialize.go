package decision

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/hervehildenbrand/origin-guard/pkg/prefix"
)

var magic = [4]byte{'O', 'G', 'D', 'T'}

const formatVersion = 1

type wireNode struct {
	Children [2]int32
	Legal    []uint32
}

type wireTrie struct {
	Nodes                []wireNode
	Conflicts            map[string][]uint32
	AllowMultipleOrigins bool
}

// Save writes the trie, its conflict log and its policy as a header
// followed by a snappy-compressed gob.
func (t *Trie) Save(w io.Writer) error {
	wt := wireTrie{
		Nodes:                make([]wireNode, len(t.nodes)),
		Conflicts:            t.Conflicts(),
		AllowMultipleOrigins: t.opts.AllowMultipleOrigins,
	}
	for i := range t.nodes {
		wt.Nodes[i] = wireNode{Children: t.nodes[i].children, Legal: t.nodes[i].legal}
	}

	if _, err := w.Write(append(magic[:], formatVersion)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	zw := snappy.NewBufferedWriter(w)
	if err := gob.NewEncoder(zw).Encode(&wt); err != nil {
		return fmt.Errorf("encode trie: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flush compressed stream: %w", err)
	}
	log.Debugf("Saved decision trie with %d nodes and %d conflicts",
		len(wt.Nodes), len(wt.Conflicts))
	return nil
}

// Bytes returns the serialized trie.
func (t *Trie) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Save(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load reads a trie written by Save.
func Load(r io.Reader) (*Trie, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, makeError(ErrCorruptTrie, fmt.Sprintf("read header: %v", err))
	}
	if !bytes.Equal(header[:4], magic[:]) {
		return nil, makeError(ErrCorruptTrie, "not a decision trie")
	}
	if header[4] != formatVersion {
		str := fmt.Sprintf("format version %d is not supported", header[4])
		return nil, makeError(ErrUnsupportedVersion, str)
	}

	var wt wireTrie
	if err := gob.NewDecoder(snappy.NewReader(r)).Decode(&wt); err != nil {
		return nil, makeError(ErrCorruptTrie, fmt.Sprintf("decode trie: %v", err))
	}
	if err := validate(&wt); err != nil {
		return nil, err
	}

	t := &Trie{
		nodes:     make([]node, len(wt.Nodes)),
		conflicts: make(map[string]map[uint32]struct{}, len(wt.Conflicts)),
		opts:      Options{AllowMultipleOrigins: wt.AllowMultipleOrigins},
	}
	for i := range wt.Nodes {
		t.nodes[i] = node{children: wt.Nodes[i].Children, legal: wt.Nodes[i].Legal}
	}
	for bits, asns := range wt.Conflicts {
		set := make(map[uint32]struct{}, len(asns))
		for _, asn := range asns {
			set[asn] = struct{}{}
		}
		t.conflicts[bits] = set
	}
	log.Debugf("Loaded decision trie with %d nodes", len(t.nodes))
	return t, nil
}

// FromBytes decodes a trie from a serialized blob.
func FromBytes(b []byte) (*Trie, error) {
	return Load(bytes.NewReader(b))
}

// validate checks that the arena is a single tree rooted at index 0 whose
// legal sets are strictly ascending positive ASNs, and that the policy
// holds for every set.
func validate(wt *wireTrie) error {
	nodes := wt.Nodes
	if len(nodes) == 0 {
		return makeError(ErrCorruptTrie, "trie has no root")
	}
	seen := make([]bool, len(nodes))
	seen[0] = true
	stack := []int32{0}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range nodes[i].Children {
			if c == noChild {
				continue
			}
			if c <= 0 || int(c) >= len(nodes) || seen[c] {
				str := fmt.Sprintf("node %d has invalid child index %d", i, c)
				return makeError(ErrCorruptTrie, str)
			}
			seen[c] = true
			stack = append(stack, c)
		}

		legal := nodes[i].Legal
		if len(legal) > 1 && !wt.AllowMultipleOrigins {
			str := fmt.Sprintf("node %d has %d legal origins", i, len(legal))
			return makeError(ErrCorruptTrie, str)
		}
		for j, asn := range legal {
			if asn == 0 || (j > 0 && legal[j-1] >= asn) {
				str := fmt.Sprintf("node %d has an invalid legal set", i)
				return makeError(ErrCorruptTrie, str)
			}
		}
	}
	for i, ok := range seen {
		if !ok {
			return makeError(ErrCorruptTrie, fmt.Sprintf("node %d is unreachable", i))
		}
	}
	for bits, asns := range wt.Conflicts {
		if !prefix.ValidBits(bits) || len(asns) < 2 {
			str := fmt.Sprintf("conflict entry %q is malformed", bits)
			return makeError(ErrCorruptTrie, str)
		}
	}
	return nil
}
