package forest

// MergeTree is a complete binary tree of merge_tree_size leaves, each
// node a Fiber_Buffer. Node 0 is the root; node p's children are
// 2p+1, 2p+2; leaves occupy the last size-1..2*size-2 slots. Data
// flows from the leaves (filled by block-multiplying an Input_Fiber)
// up one level per cycle: each level models a single shared merger,
// so Step advances at most the first eligible pair per level rather
// than every pair at every level at once.
//
// Grounded on merge_tree.cpp's update_level, §4.7 "One merge/cycle
// per level".
type MergeTree struct {
	size  int
	width int

	nodes  []FiberBuffer
	Inputs []InputFiber

	rrInput int

	Adds uint64
}

// NewMergeTree builds a tree with the given leaf count (merge_tree_size,
// assumed a power of two) and merger width (merge_tree_merger_width).
func NewMergeTree(size, width int) *MergeTree {
	return &MergeTree{
		size:   size,
		width:  width,
		nodes:  make([]FiberBuffer, 2*size-1),
		Inputs: make([]InputFiber, size),
	}
}

func (t *MergeTree) leafIdx(i int) int { return t.size - 1 + i }
func (t *MergeTree) isLeaf(i int) bool { return i >= t.size-1 }

// Root returns the tree's root buffer, the attachment point for a
// Task_Output or a dynamic node's Fiber_Source.
func (t *MergeTree) Root() *FiberBuffer { return &t.nodes[0] }

// Reset clears every node and input for reuse across tasks/runs.
func (t *MergeTree) Reset() {
	for i := range t.nodes {
		t.nodes[i].Reset()
	}
	for i := range t.Inputs {
		t.Inputs[i] = InputFiber{}
	}
	t.rrInput = 0
}

// mergeStep performs one element of a two-way sorted merge from l, r
// into parent: the minimum head wins; equal keys add and consume
// both. Returns whether any progress was made; t.Adds is incremented
// on an add. Shared with DynamicNode's identical reduction, which
// tracks its own Adds counter instead.
func (t *MergeTree) mergeStep(parent, l, r *FiberBuffer) bool {
	progressed, added := mergeBuffersStep(parent, l, r)
	if added {
		t.Adds++
	}
	return progressed
}

// mergeBuffersStep is the do_merge_add element-level step both a
// merge tree's internal nodes and a dynamic node run: grounded on
// Merge_Tree_Manager::do_merge_add (merge_tree_manager.cpp), which is
// this exact algorithm shared between the two call sites there too.
func mergeBuffersStep(parent, l, r *FiberBuffer) (progressed, added bool) {
	lk, lv, lok := l.Head()
	rk, rv, rok := r.Head()

	switch {
	case !lok && !rok:
		if l.Last && r.Last {
			parent.Last = true
		}
		return false, false
	case !lok:
		if !l.Last {
			return false, false
		}
		parent.Append(rk, rv)
		r.Pop()
	case !rok:
		if !r.Last {
			return false, false
		}
		parent.Append(lk, lv)
		l.Pop()
	case lk == rk:
		parent.Append(lk, lv+rv)
		l.Pop()
		r.Pop()
		added = true
	case lk < rk:
		parent.Append(lk, lv)
		l.Pop()
	default:
		parent.Append(rk, rv)
		r.Pop()
	}
	if l.Len() == 0 && r.Len() == 0 && l.Last && r.Last {
		parent.Last = true
	}
	return true, added
}

// mergeInto attempts node p's merge: gated on p having room for
// another width-sized batch and both children being ready_to_merge.
// Returns whether it actually merged, so a level can stop at its
// first eligible pair.
func (t *MergeTree) mergeInto(p int) bool {
	l, r := 2*p+1, 2*p+2
	parent := &t.nodes[p]
	if parent.Len() > t.width {
		return false
	}
	lc, rc := &t.nodes[l], &t.nodes[r]
	if !lc.ReadyToMerge(t.width) || !rc.ReadyToMerge(t.width) {
		return false
	}
	return t.mergeStep(parent, lc, rc)
}

// mergeLevel advances at most one pair in the level spanning node
// indices [start,end] — the first one ready to merge — modeling one
// shared merger serving the whole level per cycle.
func (t *MergeTree) mergeLevel(start, end int) {
	for p := start; p <= end; p++ {
		if t.mergeInto(p) {
			return
		}
	}
}

// mergeRoot is the root's merge, gated by the attached task's output
// headroom instead of the root buffer's own occupancy.
func (t *MergeTree) mergeRoot(outputRoom int) bool {
	if outputRoom < t.width {
		return false
	}
	l, r := &t.nodes[1], &t.nodes[2]
	if !l.ReadyToMerge(t.width) || !r.ReadyToMerge(t.width) {
		return false
	}
	return t.mergeStep(&t.nodes[0], l, r)
}

// fillLeaves fills at most one leaf per cycle, round-robin over
// inputs with buffered B data, with a block multiply against the
// input's A scalar.
func (t *MergeTree) fillLeaves() {
	for try := 0; try < t.size; try++ {
		i := (t.rrInput + try) % t.size
		in := &t.Inputs[i]
		t.rrInput = (i + 1) % t.size
		if len(in.Buf) == 0 {
			continue
		}
		leaf := &t.nodes[t.leafIdx(i)]
		if leaf.Len() > t.width {
			continue
		}
		n := t.width
		if n > len(in.Buf) {
			n = len(in.Buf)
		}
		for k := 0; k < n; k++ {
			leaf.Append(in.Buf[k].ColIdx, in.AValue*in.Buf[k].Value)
		}
		in.Buf = in.Buf[n:]
		if len(in.Buf) == 0 && in.Finished {
			leaf.Last = true
		}
		return
	}
}

// Step runs one cycle: one merge per internal level (root-adjacent
// level first), the root's output-gated merge, then one leaf fill.
//
// Grounded on merge_tree.cpp's update_level: each level is one shared
// merger, so only the first eligible pair in a level advances per
// cycle — not every pair at every level at once.
func (t *MergeTree) Step(outputRoom int) {
	for start, end := 1, 2; end <= t.size-2; start, end = 2*start+1, 2*end+2 {
		t.mergeLevel(start, end)
	}
	t.mergeRoot(outputRoom)
	t.fillLeaves()
}
