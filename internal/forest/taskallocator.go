package forest

// allocSource is one entry in a TaskAllocator's pairing queue: a
// source that is ready (or will be, once its tree/node finishes) plus
// its reduction depth — the original's "generation" counter, bumped
// every time two adjacent sources fold into a new dynamic node.
type allocSource struct {
	src FiberSource
	gen int
}

// TaskAllocator splits one batch of up to NumMergeTrees*MergeTreeSize
// input fibers — raw B rows and/or C-partial fibers, handed down by
// the manager's outer task tree — across the shared merge trees,
// MergeTreeSize inputs at a time, then repeatedly pairs adjacent
// same-generation sources into the shared dynamic-node layer until one
// source carries the whole batch's result to its destination. A batch
// that fits in a single tree skips the dynamic-node layer entirely.
//
// Grounded on Task_Allocator (merge_tree_manager.{hpp,cpp}), §4.7's
// "splitting one wide row across K trees" mechanism.
type TaskAllocator struct {
	pending  []InputFiber
	dest     TaskDest
	single   bool
	treeUsed []bool
	sources  []allocSource
}

func newTaskAllocator(numTrees int) *TaskAllocator {
	return &TaskAllocator{treeUsed: make([]bool, numTrees)}
}

// start loads a fresh batch. Whether it needs the dynamic-node layer
// at all is decided up front, against the per-tree radix.
func (a *TaskAllocator) start(inputs []InputFiber, dest TaskDest, treeSize int) {
	a.pending = inputs
	a.dest = dest
	a.single = len(inputs) <= treeSize
	for i := range a.treeUsed {
		a.treeUsed[i] = false
	}
	a.sources = a.sources[:0]
}

// Empty reports whether this allocator has no batch in flight.
func (a *TaskAllocator) Empty() bool {
	return len(a.pending) == 0 && len(a.sources) == 0
}

func (a *TaskAllocator) allRowsAllocated() bool {
	return len(a.pending) == 0
}

// lastMerge reports whether the next pairing is the batch's final
// fold: exactly two sources left and nothing more to allocate, so its
// output goes straight to the batch's destination instead of becoming
// a new intermediate source.
func (a *TaskAllocator) lastMerge() bool {
	return len(a.sources) == 2 && a.allRowsAllocated()
}
