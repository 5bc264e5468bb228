package evidence

// Merge folds other into t node by node as if other's records had been
// inserted after t's.  A source day slot that other wrote replaces the slot
// in t, withdrawals included; slots other never wrote are kept.  Peer
// bitmaps are OR-combined and the kind and peer key sets are unioned.
// Merging shard tries in source order therefore equals inserting every
// record into a single trie in that order.  other is not modified.
func (t *Trie) Merge(other *Trie) {
	type pair struct{ src, dst int32 }
	stack := []pair{{0, 0}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		src := &other.nodes[p.src]
		for slot, c := range src.children {
			if c == noChild {
				continue
			}
			dst := t.child(p.dst, byte('0'+slot), true)
			stack = append(stack, pair{c, dst})
		}
		if src.terminal {
			t.mergeNode(p.dst, src)
		}
	}
	log.Tracef("Merged trie of %d nodes, now %d nodes", other.Len(), t.Len())
}

func (t *Trie) mergeNode(idx int32, src *node) {
	dst := &t.nodes[idx]
	dst.terminal = true
	for origin, kinds := range src.sources {
		dstKinds := dst.originSources(origin)
		dstWritten := dst.originWritten(origin)
		for kind, days := range kinds {
			mask, ok := src.written[origin][kind]
			if !ok {
				mask = days
			}
			dstKinds[kind] = overlayDays(dstKinds[kind], days, mask)
			dstWritten[kind] = orDays(dstWritten[kind], mask)
		}
	}
	for origin, peers := range src.peers {
		dstPeers := dst.originPeers(origin)
		for peer, days := range peers {
			dstPeers[peer] = orDays(dstPeers[peer], days)
		}
	}
}

func orDays(a, b DayBitmap) DayBitmap {
	for d := range a {
		a[d] |= b[d]
	}
	return a
}

// overlayDays copies the slots of b flagged in mask onto a.
func overlayDays(a, b, mask DayBitmap) DayBitmap {
	for d := range a {
		if mask[d] != 0 {
			a[d] = b[d]
		}
	}
	return a
}
