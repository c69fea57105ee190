package clock

import (
	"maps"
	"slices"
)

// Entry is one peer's position in its hash chain. Heads holds more than one
// hash only when two histories with the same counter were merged (a fork);
// the next tick by that peer folds them back into one head.
type Entry struct {
	Counter uint64   `json:"counter"`
	Heads   []string `json:"heads"`
}

// Head returns the smallest head, used as the entry's tie-break key.
func (e Entry) Head() string {
	if len(e.Heads) == 0 {
		return ""
	}
	return e.Heads[0]
}

// Forked reports whether the entry retains more than one head.
func (e Entry) Forked() bool { return len(e.Heads) > 1 }

func (e Entry) clone() Entry {
	return Entry{Counter: e.Counter, Heads: slices.Clone(e.Heads)}
}

// joinEntry returns the least upper bound of a and b.
func joinEntry(a, b Entry) Entry {
	switch {
	case a.Counter > b.Counter:
		return a.clone()
	case b.Counter > a.Counter:
		return b.clone()
	}
	heads := make([]string, 0, len(a.Heads)+len(b.Heads))
	heads = append(heads, a.Heads...)
	heads = append(heads, b.Heads...)
	slices.Sort(heads)
	return Entry{Counter: a.Counter, Heads: slices.Compact(heads)}
}

// State is the merged clock view: the latest known entry of every peer.
type State struct {
	Peers map[string]Entry `json:"peers"`
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := State{Peers: make(map[string]Entry, len(s.Peers))}
	for id, e := range s.Peers {
		out.Peers[id] = e.clone()
	}
	return out
}

// Join merges two states peer by peer. The result does not alias either
// argument.
func Join(a, b State) State {
	out := a.Clone()
	for id, e := range b.Peers {
		if cur, ok := out.Peers[id]; ok {
			out.Peers[id] = joinEntry(cur, e)
		} else {
			out.Peers[id] = e.clone()
		}
	}
	return out
}

// Equal reports whether two states hold the same entries.
func (s State) Equal(o State) bool {
	return maps.EqualFunc(s.Peers, o.Peers, func(a, b Entry) bool {
		return a.Counter == b.Counter && slices.Equal(a.Heads, b.Heads)
	})
}

// Dominates reports whether s already contains everything in o, i.e.
// Join(s, o) equals s.
func (s State) Dominates(o State) bool {
	return Join(s, o).Equal(s)
}
