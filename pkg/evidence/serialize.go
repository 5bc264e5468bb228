package evidence

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/hervehildenbrand/origin-guard/pkg/models"
)

// magic identifies a serialized evidence trie.
var magic = [4]byte{'O', 'G', 'E', 'V'}

// formatVersion is the current serialization format.
const formatVersion = 1

// wireNode mirrors node with exported fields for gob.
type wireNode struct {
	Children [2]int32
	Terminal bool
	Sources  map[uint32]map[uint8]DayBitmap
	Written  map[uint32]map[uint8]DayBitmap
	Peers    map[uint32]map[string]DayBitmap
}

func kindsToWire(m map[uint32]map[models.SourceKind]DayBitmap) map[uint32]map[uint8]DayBitmap {
	if len(m) == 0 {
		return nil
	}
	out := make(map[uint32]map[uint8]DayBitmap, len(m))
	for origin, kinds := range m {
		cp := make(map[uint8]DayBitmap, len(kinds))
		for k, v := range kinds {
			cp[uint8(k)] = v
		}
		out[origin] = cp
	}
	return out
}

func kindsFromWire(m map[uint32]map[uint8]DayBitmap) map[uint32]map[models.SourceKind]DayBitmap {
	if len(m) == 0 {
		return nil
	}
	out := make(map[uint32]map[models.SourceKind]DayBitmap, len(m))
	for origin, kinds := range m {
		cp := make(map[models.SourceKind]DayBitmap, len(kinds))
		for k, v := range kinds {
			cp[models.SourceKind(k)] = v
		}
		out[origin] = cp
	}
	return out
}

// Save writes the trie as a header followed by a snappy-compressed gob of
// the flat node arena.
func (t *Trie) Save(w io.Writer) error {
	nodes := make([]wireNode, len(t.nodes))
	for i := range t.nodes {
		n := &t.nodes[i]
		nodes[i] = wireNode{
			Children: n.children,
			Terminal: n.terminal,
			Sources:  kindsToWire(n.sources),
			Written:  kindsToWire(n.written),
			Peers:    n.peers,
		}
	}

	if _, err := w.Write(append(magic[:], formatVersion)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	zw := snappy.NewBufferedWriter(w)
	if err := gob.NewEncoder(zw).Encode(nodes); err != nil {
		return fmt.Errorf("encode nodes: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flush compressed stream: %w", err)
	}
	log.Debugf("Saved evidence trie with %d nodes", len(nodes))
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

// Load reads a trie written by Save.  A blob that fails to decode or
// validate yields an error and no trie.
func Load(r io.Reader) (*Trie, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, makeError(ErrCorruptTrie, fmt.Sprintf("read header: %v", err))
	}
	if !bytes.Equal(header[:4], magic[:]) {
		return nil, makeError(ErrCorruptTrie, "not an evidence trie")
	}
	if header[4] != formatVersion {
		str := fmt.Sprintf("format version %d is not supported", header[4])
		return nil, makeError(ErrUnsupportedVersion, str)
	}

	var nodes []wireNode
	if err := gob.NewDecoder(snappy.NewReader(r)).Decode(&nodes); err != nil {
		return nil, makeError(ErrCorruptTrie, fmt.Sprintf("decode nodes: %v", err))
	}
	if err := validateArena(nodes); err != nil {
		return nil, err
	}

	t := &Trie{nodes: make([]node, len(nodes))}
	for i := range nodes {
		wn := &nodes[i]
		t.nodes[i] = node{
			children: wn.Children,
			terminal: wn.Terminal,
			sources:  kindsFromWire(wn.Sources),
			written:  kindsFromWire(wn.Written),
			peers:    wn.Peers,
		}
	}
	log.Debugf("Loaded evidence trie with %d nodes", len(nodes))
	return t, nil
}

// FromBytes decodes a trie from a serialized blob.
func FromBytes(b []byte) (*Trie, error) {
	return Load(bytes.NewReader(b))
}

// validateArena checks that nodes form a single tree rooted at index 0 and
// carry only defined kinds and binary day flags.
func validateArena(nodes []wireNode) error {
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
		if err := validateKinds(i, nodes[i].Sources); err != nil {
			return err
		}
		if err := validateKinds(i, nodes[i].Written); err != nil {
			return err
		}
	}
	for i, ok := range seen {
		if !ok {
			return makeError(ErrCorruptTrie, fmt.Sprintf("node %d is unreachable", i))
		}
	}
	return nil
}

func validateKinds(i int32, m map[uint32]map[uint8]DayBitmap) error {
	for origin, kinds := range m {
		if origin == 0 {
			return makeError(ErrCorruptTrie, fmt.Sprintf("node %d has origin 0", i))
		}
		for k, days := range kinds {
			if !models.SourceKind(k).Valid() || !binaryDays(days) {
				str := fmt.Sprintf("node %d has invalid source entry", i)
				return makeError(ErrCorruptTrie, str)
			}
		}
	}
	return nil
}

func binaryDays(days DayBitmap) bool {
	for _, v := range days {
		if v > 1 {
			return false
		}
	}
	return true
}
