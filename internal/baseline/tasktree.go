package baseline

import "github.com/RuiPMaia/mergeforest-sim/internal/memproto"

// RowInputSource supplies the (A_value, B_row_span) pair at a flat
// preprocessed-array index, returning ok=false when the backing array
// fetcher has not yet delivered that element.
type RowInputSource interface {
	BInput(idx uint32) (aValue float64, begin, end memproto.Address, ok bool)
	// Advance marks the next n flat B-input entries, starting at the
	// generator's current global cursor, as consumed: the backing
	// array fetchers pop them from their windows. Called only after
	// every BInput in the batch has already succeeded.
	Advance(n uint32)
}

// TaskTree walks one wide A row (more matching B rows than the PE
// radix) down to a sequence of radix-sized merge tasks, level by
// level, until one root remains.
//
// Grounded on Task_Tree::init and PE_Manager::get_new_task
// (PE_manager.cpp), §4.5. Rows split into two groups: B_rows_first_level
// raw rows get pre-batched into radix-sized level-0 partials; the
// remaining B_rows_second_level rows are folded in raw, one radix-wide
// group at a time, alongside already-produced partials, as the walk
// climbs levels 1..num_levels-1. Every task above level 0 merges
// exactly radix inputs; the root at num_levels==2 is the one exception,
// merging whatever count of level-0 partials is left plus enough raw
// rows to reach radix (PE_manager.cpp:616's
// B_rows_second_level+num_C_partials_level[0]==radix assertion).
//
// second_level_num_rows is computed from n-1 rather than n: with n
// itself (nearest_pow_floor(n, r) == n whenever n is an exact power of
// r), B_rows_first_level collapses to div_ceil(0, r-1), leaving level 0
// nothing to batch and violating the very assertion the original
// guards with (B_rows_first_level > 0). Flooring against n-1 always
// leaves a positive remainder, so B_rows_first_level is always >= 1.
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
// preprocessed-array index base, radix r, writing its root to dest
// when finished. Callers must only construct one when n > r.
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
// resource guard failed (not enough fetched B data, or no free pool
// slot) — the caller retries on a later cycle. Callers must not call
// Next once Done reports true.
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

// nextLevelZero batches up to r raw B rows into a fresh level-0
// partial, pulling from B_rows_first_level. Grounded on
// PE_manager.cpp's tree_level==0 branch.
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

	dest := TaskDest{PartialIdx: idx, WriteAddr: pool.Get(idx).Begin}
	t.levelPartials[0] = append(t.levelPartials[0], idx)
	if uint32(len(t.levelPartials[0])) == t.r || t.bRowsFirstLevel == 0 {
		t.treeLevel = 1
	}
	return Task{Valid: true, Inputs: raw, Dest: dest}, true
}

// nextFold merges the partials queued at level treeLevel-1 — padded
// out to radix with freshly pulled raw rows when treeLevel is 1 and
// the queue fell short — into a new partial one level up. Grounded on
// PE_manager.cpp's tree_level==1-not-last and tree_level>=2 branches,
// which share this same shape once B_rows_merge is read as "radix
// minus whatever the source level already queued" (zero once that
// level actually holds a full radix batch).
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

	inputs := t.partialInputs(srcLevel, pool)
	inputs = append(inputs, raw...)
	t.levelPartials[srcLevel] = t.levelPartials[srcLevel][:0]

	dest := TaskDest{PartialIdx: idx, WriteAddr: pool.Get(idx).Begin}
	t.levelPartials[t.treeLevel] = append(t.levelPartials[t.treeLevel], idx)

	switch {
	case uint32(len(t.levelPartials[t.treeLevel])) == t.r:
		t.treeLevel++
	case t.bRowsFirstLevel > 0:
		t.treeLevel = 0
	case srcLevel != 0:
		t.treeLevel = 1
	}
	// srcLevel == 0 with B_rows_first_level == 0 falls through with
	// treeLevel left at 1: the next call re-enters this same branch to
	// pull more raw rows directly, since level 0 has nothing left.

	return Task{Valid: true, Inputs: inputs, Dest: dest}, true
}

// nextRoot emits the final task, writing to the tree's destination.
// At num_levels==2 the root merges level 0's leftover partials plus
// B_rows_second_level raw rows (PE_manager.cpp:616); otherwise it
// merges exactly radix partials from the level below with no raw
// padding (PE_manager.cpp:663).
func (t *TaskTree) nextRoot(src RowInputSource, pool *PartialPool) (Task, bool) {
	lastLevel := t.numLevels - 1
	if lastLevel == 1 {
		raw, ok := t.peekRaw(src, t.bRowsSecondLevel)
		if !ok {
			return Task{}, false
		}
		t.commitRaw(src, t.bRowsSecondLevel)
		inputs := t.partialInputs(0, pool)
		inputs = append(inputs, raw...)
		t.levelPartials[0] = t.levelPartials[0][:0]
		t.bRowsSecondLevel = 0
		t.done = true
		return Task{Valid: true, Inputs: inputs, Dest: t.dest}, true
	}

	inputs := t.partialInputs(lastLevel-1, pool)
	t.levelPartials[lastLevel-1] = t.levelPartials[lastLevel-1][:0]
	t.done = true
	return Task{Valid: true, Inputs: inputs, Dest: t.dest}, true
}

// peekRaw fetches count raw B rows starting at the tree's current
// cursor without advancing it, so a failed pool allocation right
// after never loses data already peeked.
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
		inputs = append(inputs, InputFiber{Kind: InputBSlice, AValue: aVal, Begin: begin, End: end})
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
func (t *TaskTree) partialInputs(level uint32, pool *PartialPool) []InputFiber {
	indices := t.levelPartials[level]
	inputs := make([]InputFiber, 0, len(indices))
	for _, idx := range indices {
		inputs = append(inputs, InputFiber{Kind: InputPartial, AValue: 1.0, FiberIdx: idx, Begin: pool.Get(idx).Begin})
	}
	return inputs
}

// divCeil returns ceil(a/b). The original computes this as
// (a-1)/b+1, which underflows when a is 0 since these are unsigned
// quantities; this form is well-defined for every a.
func divCeil(a, b uint32) uint32 {
	return (a + b - 1) / b
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
