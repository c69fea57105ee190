package scheduler

import (
	"strconv"

	"github.com/Iron-Ham/gotmesh/internal/errors"
)

const nilIndex int32 = -1

// Handle identifies an entry in a Heap. The zero Handle is never valid.
type Handle struct {
	index int32
	gen   uint32
}

// Stats counts the structural work performed by a Heap. The counters are
// cumulative and exist so that amortized bounds can be checked without
// timing anything.
type Stats struct {
	Inserts       uint64
	Extracts      uint64
	DecreaseKeys  uint64
	Links         uint64 // trees merged during consolidation
	RootsScanned  uint64 // roots visited by consolidation
	Cuts          uint64 // nodes moved to the root list by decrease-key
	CascadingCuts uint64 // marked ancestors cut recursively
}

type entry struct {
	priority int
	seq      uint64
	floor    bool // sorts below every priority; set by Delete
	value    string

	degree int
	mark   bool
	live   bool
	gen    uint32

	parent, child, left, right int32
}

// Heap is a min-ordered Fibonacci heap keyed by (priority, insertion order).
// It is not safe for concurrent use.
type Heap struct {
	nodes []entry
	free  []int32
	min   int32
	size  int
	seq   uint64
	stats Stats

	degrees []int32 // scratch table reused by consolidate
}

// NewHeap returns an empty heap.
func NewHeap() *Heap {
	return &Heap{min: nilIndex}
}

// Len returns the number of live entries.
func (h *Heap) Len() int { return h.size }

// IsEmpty reports whether the heap holds no entries.
func (h *Heap) IsEmpty() bool { return h.size == 0 }

// Stats returns the cumulative operation counters.
func (h *Heap) Stats() Stats { return h.stats }

// Insert adds value with the given priority and returns its handle.
func (h *Heap) Insert(priority int, value string) Handle {
	h.seq++
	x := h.alloc()
	n := &h.nodes[x]
	n.priority = priority
	n.seq = h.seq
	n.floor = false
	n.value = value
	n.degree = 0
	n.mark = false
	n.live = true
	n.parent, n.child = nilIndex, nilIndex
	n.left, n.right = x, x

	h.addRoot(x)
	if h.min == nilIndex || h.less(x, h.min) {
		h.min = x
	}
	h.size++
	h.stats.Inserts++
	return Handle{index: x, gen: n.gen}
}

// FindMin returns the most urgent entry without removing it.
func (h *Heap) FindMin() (value string, priority int, ok bool) {
	if h.min == nilIndex {
		return "", 0, false
	}
	n := &h.nodes[h.min]
	return n.value, n.priority, true
}

// ExtractMin removes and returns the most urgent entry.
func (h *Heap) ExtractMin() (value string, priority int, ok bool) {
	z := h.min
	if z == nilIndex {
		return "", 0, false
	}

	// Promote children to the root list.
	if c := h.nodes[z].child; c != nilIndex {
		for {
			next := h.nodes[c].right
			h.nodes[c].parent = nilIndex
			h.nodes[c].mark = false
			h.unlink(c)
			h.addRoot(c)
			if next == c {
				break
			}
			c = next
		}
		h.nodes[z].child = nilIndex
	}

	right := h.nodes[z].right
	h.unlink(z)
	if right == z {
		h.min = nilIndex
	} else {
		h.min = right
		h.consolidate()
	}

	n := &h.nodes[z]
	value, priority = n.value, n.priority
	h.release(z)
	h.size--
	h.stats.Extracts++
	return value, priority, true
}

// DecreaseKey lowers the priority of the entry behind handle. Raising a
// priority, or using a handle whose entry was already extracted, returns an
// *errors.InvalidKeyError. Setting the same priority is a no-op.
func (h *Heap) DecreaseKey(handle Handle, priority int) error {
	x, err := h.lookup(handle)
	if err != nil {
		return err
	}
	n := &h.nodes[x]
	if priority > n.priority {
		return errors.NewInvalidKeyError(n.value,
			"new priority "+strconv.Itoa(priority)+" is greater than current "+strconv.Itoa(n.priority),
			errors.ErrInvalidKey)
	}
	h.stats.DecreaseKeys++
	if priority == n.priority {
		return nil
	}
	n.priority = priority
	h.restore(x)
	return nil
}

// Delete removes the entry behind handle by decreasing it below every other
// key and extracting the minimum.
func (h *Heap) Delete(handle Handle) error {
	x, err := h.lookup(handle)
	if err != nil {
		return err
	}
	h.nodes[x].floor = true
	h.restore(x)
	h.ExtractMin()
	return nil
}

// Priority returns the current priority of the entry behind handle.
func (h *Heap) Priority(handle Handle) (int, bool) {
	x, err := h.lookup(handle)
	if err != nil {
		return 0, false
	}
	return h.nodes[x].priority, true
}

// restore re-establishes heap order after x's key decreased.
func (h *Heap) restore(x int32) {
	if p := h.nodes[x].parent; p != nilIndex && h.less(x, p) {
		h.cut(x, p)
		h.cascadingCut(p)
	}
	if h.less(x, h.min) {
		h.min = x
	}
}

// cut moves x from p's child list to the root list.
func (h *Heap) cut(x, p int32) {
	pn := &h.nodes[p]
	if pn.child == x {
		if h.nodes[x].right == x {
			pn.child = nilIndex
		} else {
			pn.child = h.nodes[x].right
		}
	}
	pn.degree--
	h.unlink(x)
	h.addRoot(x)
	h.nodes[x].parent = nilIndex
	h.nodes[x].mark = false
	h.stats.Cuts++
}

// cascadingCut walks up from y: an unmarked non-root is marked and the walk
// stops; a marked one is cut and the walk continues with its parent.
func (h *Heap) cascadingCut(y int32) {
	for {
		z := h.nodes[y].parent
		if z == nilIndex {
			return
		}
		if !h.nodes[y].mark {
			h.nodes[y].mark = true
			return
		}
		h.cut(y, z)
		h.stats.CascadingCuts++
		y = z
	}
}

// consolidate links roots of equal degree until all root degrees differ,
// then recomputes min. h.min must point at some root on entry.
func (h *Heap) consolidate() {
	var roots []int32
	for r := h.min; ; {
		roots = append(roots, r)
		r = h.nodes[r].right
		if r == h.min {
			break
		}
	}
	h.stats.RootsScanned += uint64(len(roots))

	table := h.degrees[:0]
	for _, w := range roots {
		x := w
		d := h.nodes[x].degree
		for {
			for d >= len(table) {
				table = append(table, nilIndex)
			}
			y := table[d]
			if y == nilIndex {
				break
			}
			if h.less(y, x) {
				x, y = y, x
			}
			h.link(y, x)
			table[d] = nilIndex
			d++
		}
		table[d] = x
	}

	h.min = nilIndex
	for i, r := range table {
		if r == nilIndex {
			continue
		}
		if h.min == nilIndex || h.less(r, h.min) {
			h.min = r
		}
		table[i] = nilIndex
	}
	h.degrees = table
}

// link makes root y a child of root x.
func (h *Heap) link(y, x int32) {
	h.unlink(y)
	yn := &h.nodes[y]
	yn.parent = x
	yn.mark = false

	xn := &h.nodes[x]
	if xn.child == nilIndex {
		xn.child = y
		yn.left, yn.right = y, y
	} else {
		h.spliceAfter(xn.child, y)
	}
	xn.degree++
	h.stats.Links++
}

// addRoot splices x into the root list next to min. It does not update min.
func (h *Heap) addRoot(x int32) {
	if h.min == nilIndex {
		h.nodes[x].left, h.nodes[x].right = x, x
		// Callers set h.min when the list was empty.
		h.min = x
		return
	}
	h.spliceAfter(h.min, x)
}

// spliceAfter inserts x into the circular list right after anchor.
func (h *Heap) spliceAfter(anchor, x int32) {
	next := h.nodes[anchor].right
	h.nodes[x].left = anchor
	h.nodes[x].right = next
	h.nodes[anchor].right = x
	h.nodes[next].left = x
}

// unlink removes x from its circular sibling list, leaving it a singleton.
func (h *Heap) unlink(x int32) {
	l, r := h.nodes[x].left, h.nodes[x].right
	h.nodes[l].right = r
	h.nodes[r].left = l
	h.nodes[x].left, h.nodes[x].right = x, x
}

// less orders entries by floor flag, priority, then insertion sequence.
func (h *Heap) less(a, b int32) bool {
	an, bn := &h.nodes[a], &h.nodes[b]
	if an.floor != bn.floor {
		return an.floor
	}
	if an.priority != bn.priority {
		return an.priority < bn.priority
	}
	return an.seq < bn.seq
}

func (h *Heap) alloc() int32 {
	if n := len(h.free); n > 0 {
		x := h.free[n-1]
		h.free = h.free[:n-1]
		return x
	}
	h.nodes = append(h.nodes, entry{gen: 1})
	return int32(len(h.nodes) - 1)
}

func (h *Heap) release(x int32) {
	n := &h.nodes[x]
	n.live = false
	n.value = ""
	n.gen++
	h.free = append(h.free, x)
}

func (h *Heap) lookup(handle Handle) (int32, error) {
	x := handle.index
	if x < 0 || int(x) >= len(h.nodes) || !h.nodes[x].live || h.nodes[x].gen != handle.gen {
		return nilIndex, errors.NewInvalidKeyError(strconv.Itoa(int(x)), "handle does not refer to a live entry", errors.ErrStaleHandle)
	}
	return x, nil
}
