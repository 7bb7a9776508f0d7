package forest

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("MergeTree", func() {
	It("advances at most one pair per internal level each cycle", func() {
		tree := NewMergeTree(8, 1)

		// Seed every leaf pair feeding level 2 (nodes 3-6) with a
		// ready-to-merge element each, skipping fillLeaves entirely so
		// every pair at that level is simultaneously eligible.
		for leaf := 7; leaf <= 14; leaf += 2 {
			l, r := &tree.nodes[leaf], &tree.nodes[leaf+1]
			l.Append(uint32(leaf), float64(leaf))
			r.Append(uint32(leaf+1), float64(leaf+1))
			l.Last, r.Last = true, true
		}

		tree.Step(8)

		merged := 0
		for p := 3; p <= 6; p++ {
			if tree.nodes[p].Len() > 0 {
				merged++
			}
		}
		Expect(merged).To(Equal(1), "only the level's first eligible pair should advance in one cycle")
	})
})
