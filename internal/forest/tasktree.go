package forest

import "github.com/RuiPMaia/mergeforest-sim/internal/memproto"

// RowInputSource supplies the (A_value, B_row_span) pair at a flat
// preprocessed-array index, the same contract internal/rowsource.Source
// implements for both accelerators.
type RowInputSource interface {
	BInput(idx uint32) (aValue float64, begin, end memproto.Address, ok bool)
	Advance(n uint32)
}

// TaskTree walks one A row down to a sequence of merge_tree_size-radix
// tasks, level by level, until one root remains — the same walk
// internal/baseline.TaskTree performs for a PE's radix, grounded the
// same way on Task_Tree::init/get_new_task (PE_manager.cpp), adapted
// here to merge_tree_size in place of PE::radix. See that type's doc
// comment for the level-0/level-N split and the n-1 floor fix.
type TaskTree struct {
	r    uint32
	base uint32
	dest TaskDest

	treeLevel        uint32
	numLevels        uint32
	bRowsFirstLevel  uint32
	bRowsSecondLevel uint32
	rawConsumed      uint32
	levelPartials    [][]uint32
	done             bool
}

// NewTaskTree creates a task tree over the n B rows starting at flat
// preprocessed-array index base, radix r (merge_tree_size), writing
// its root to dest when finished. Callers must only construct one
// when n > r.
func NewTaskTree(r, base, n uint32, dest TaskDest) *TaskTree {
	secondLevelNumRows := nearestPowFloor(n-1, r)
	bRowsFirstLevel := divCeil((n-secondLevelNumRows)*r, r-1)
	bRowsSecondLevel := n - bRowsFirstLevel
	numLevels := logCeil(n, r)
	return &TaskTree{
		r:                r,
		base:             base,
		dest:             dest,
		numLevels:        numLevels,
		bRowsFirstLevel:  bRowsFirstLevel,
		bRowsSecondLevel: bRowsSecondLevel,
		levelPartials:    make([][]uint32, numLevels),
	}
}

// Done reports whether the root task has already been emitted.
func (t *TaskTree) Done() bool {
	return t.done
}

// Next emits the next task in the walk, or (Task{}, false) if a
// resource guard failed — the caller retries on a later cycle.
func (t *TaskTree) Next(src RowInputSource, pool *PartialPool) (Task, bool) {
	if t.done {
		return Task{}, false
	}
	lastLevel := t.numLevels - 1
	switch {
	case t.treeLevel == 0:
		return t.nextLevelZero(src, pool)
	case t.treeLevel == lastLevel:
		return t.nextRoot(src, pool)
	default:
		return t.nextFold(src, pool)
	}
}

func (t *TaskTree) nextLevelZero(src RowInputSource, pool *PartialPool) (Task, bool) {
	batch := t.bRowsFirstLevel
	if batch > t.r {
		batch = t.r
	}
	raw, ok := t.peekRaw(src, batch)
	if !ok {
		return Task{}, false
	}
	idx, ok := pool.Alloc()
	if !ok {
		return Task{}, false
	}
	t.commitRaw(src, batch)
	t.bRowsFirstLevel -= batch

	dest := TaskDest{Kind: DestPartial, PartialIdx: idx}
	t.levelPartials[0] = append(t.levelPartials[0], idx)
	if uint32(len(t.levelPartials[0])) == t.r || t.bRowsFirstLevel == 0 {
		t.treeLevel = 1
	}
	return Task{Valid: true, Inputs: raw, Dest: dest}, true
}

func (t *TaskTree) nextFold(src RowInputSource, pool *PartialPool) (Task, bool) {
	srcLevel := t.treeLevel - 1
	queued := uint32(len(t.levelPartials[srcLevel]))
	needRaw := t.r - queued

	raw, ok := t.peekRaw(src, needRaw)
	if !ok {
		return Task{}, false
	}
	idx, ok := pool.Alloc()
	if !ok {
		return Task{}, false
	}
	t.commitRaw(src, needRaw)

	inputs := t.partialInputs(srcLevel)
	inputs = append(inputs, raw...)
	t.levelPartials[srcLevel] = t.levelPartials[srcLevel][:0]

	dest := TaskDest{Kind: DestPartial, PartialIdx: idx}
	t.levelPartials[t.treeLevel] = append(t.levelPartials[t.treeLevel], idx)

	switch {
	case uint32(len(t.levelPartials[t.treeLevel])) == t.r:
		t.treeLevel++
	case t.bRowsFirstLevel > 0:
		t.treeLevel = 0
	case srcLevel != 0:
		t.treeLevel = 1
	}

	return Task{Valid: true, Inputs: inputs, Dest: dest}, true
}

func (t *TaskTree) nextRoot(src RowInputSource, pool *PartialPool) (Task, bool) {
	lastLevel := t.numLevels - 1
	if lastLevel == 1 {
		raw, ok := t.peekRaw(src, t.bRowsSecondLevel)
		if !ok {
			return Task{}, false
		}
		t.commitRaw(src, t.bRowsSecondLevel)
		inputs := t.partialInputs(0)
		inputs = append(inputs, raw...)
		t.levelPartials[0] = t.levelPartials[0][:0]
		t.bRowsSecondLevel = 0
		t.done = true
		return Task{Valid: true, Inputs: inputs, Dest: t.dest}, true
	}

	inputs := t.partialInputs(lastLevel - 1)
	t.levelPartials[lastLevel-1] = t.levelPartials[lastLevel-1][:0]
	t.done = true
	return Task{Valid: true, Inputs: inputs, Dest: t.dest}, true
}

func (t *TaskTree) peekRaw(src RowInputSource, count uint32) ([]InputFiber, bool) {
	if count == 0 {
		return nil, true
	}
	inputs := make([]InputFiber, 0, count)
	for i := uint32(0); i < count; i++ {
		aVal, begin, end, ok := src.BInput(t.base + t.rawConsumed + i)
		if !ok {
			return nil, false
		}
		inputs = append(inputs, InputFiber{Kind: InputBSlice, AValue: aVal, Begin: begin, End: end, HeadPtr: InvalidHeadPtr})
	}
	return inputs, true
}

func (t *TaskTree) commitRaw(src RowInputSource, count uint32) {
	if count == 0 {
		return
	}
	src.Advance(count)
	t.rawConsumed += count
}

// partialInputs builds the input fibers draining every partial queued
// at the given level, in order.
func (t *TaskTree) partialInputs(level uint32) []InputFiber {
	indices := t.levelPartials[level]
	inputs := make([]InputFiber, 0, len(indices))
	for _, idx := range indices {
		inputs = append(inputs, InputFiber{Kind: InputPartial, AValue: 1.0, PartialIdx: idx, HeadPtr: InvalidHeadPtr})
	}
	return inputs
}

// divCeil(a, b) — ceil(a/b) — already exists package-wide in
// llcache.go.

// nearestPowFloor returns the largest power of base that is <= v.
func nearestPowFloor(v, base uint32) uint32 {
	result := uint32(1)
	for {
		aux := result * base
		if aux > v {
			break
		}
		result = aux
	}
	return result
}

// logCeil returns the smallest k such that base^k >= v (0 for v<=1).
func logCeil(v, base uint32) uint32 {
	if v <= 1 {
		return 0
	}
	var levels uint32
	cap := uint64(1)
	for cap < uint64(v) {
		cap *= uint64(base)
		levels++
	}
	return levels
}
