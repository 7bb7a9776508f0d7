package matrix

import (
	"fmt"
	"math/rand"
	"os"
	"sort"
)

type edge struct{ x, y uint32 }

// GenRMat generates a random graph by recursive descent into a 2x2
// probability matrix [A B; C D] (D = 1-(A+B+C)), per Chakrabarti,
// Zhan & Faloutsos, "R-MAT: A Recursive Model for Graph Mining"
// (SIAM Data Mining 2004), and writes it out as a pattern/general
// Matrix Market file.
//
// Grounded on gen_RMat (gen_matrix.cpp): A+B+C must be < 1; self-loop
// and duplicate edges are resampled until numEdges unique edges are
// placed; each of 128 recursion-depth levels gets its own
// independently jittered (a,b,c,d) partition, renormalized, so deeper
// levels of the same run are not identical distributions.
func GenRMat(outPath string, numNodes, numEdges uint32, a, b, c float64, seed int64) error {
	if a+b+c >= 1.0 {
		return fmt.Errorf("matrix: invalid R-MAT parameters: A+B+C must be < 1.0")
	}

	rnd := rand.New(rand.NewSource(seed))

	const depthLevels = 128
	sumA := make([]float64, depthLevels)
	sumAB := make([]float64, depthLevels)
	sumAC := make([]float64, depthLevels)
	sumABC := make([]float64, depthLevels)
	for i := 0; i < depthLevels; i++ {
		ja := a * (0.5 + rnd.Float64())
		jb := b * (0.5 + rnd.Float64())
		jc := c * (0.5 + rnd.Float64())
		jd := (1.0 - (a + b + c)) * (0.5 + rnd.Float64())
		total := ja + jb + jc + jd
		sumA[i] = ja / total
		sumAB[i] = (ja + jb) / total
		sumAC[i] = (ja + jc) / total
		sumABC[i] = (ja + jb + jc) / total
	}

	edges := make([]edge, 0, numEdges)
	var collisions uint32
	for uint32(len(edges)) < numEdges {
		rngX, rngY := numNodes, numNodes
		var offX, offY uint32
		depth := 0
		for rngX > 1 || rngY > 1 {
			p := rnd.Float64()
			switch {
			case rngX > 1 && rngY > 1:
				switch {
				case p < sumA[depth]:
					rngX /= 2
					rngY /= 2
				case p < sumAB[depth]:
					offX += rngX / 2
					rngX -= rngX / 2
					rngY /= 2
				case p < sumABC[depth]:
					offY += rngY / 2
					rngX /= 2
					rngY -= rngY / 2
				default:
					offX += rngX / 2
					offY += rngY / 2
					rngX -= rngX / 2
					rngY -= rngY / 2
				}
			case rngX > 1:
				if p < sumAC[depth] {
					rngX /= 2
					rngY /= 2
				} else {
					offX += rngX / 2
					rngX -= rngX / 2
					rngY /= 2
				}
			default:
				if p < sumAB[depth] {
					rngX /= 2
					rngY /= 2
				} else {
					offY += rngY / 2
					rngX /= 2
					rngY -= rngY / 2
				}
			}
			depth++
		}

		if offX == offY {
			collisions++
			continue
		}
		newEdge := edge{offX, offY}
		idx := sort.Search(len(edges), func(i int) bool { return !edgeLess(edges[i], newEdge) })
		if idx < len(edges) && edges[idx] == newEdge {
			collisions++
			continue
		}
		edges = append(edges, edge{})
		copy(edges[idx+1:], edges[idx:])
		edges[idx] = newEdge
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("matrix: creating %q: %w", outPath, err)
	}
	defer f.Close()

	fmt.Fprintf(f, "%%%%MatrixMarket matrix coordinate pattern general\n")
	fmt.Fprintf(f, "%%seed: %d\n", seed)
	fmt.Fprintf(f, "%d %d %d\n", numNodes, numNodes, numEdges)
	for _, e := range edges {
		fmt.Fprintf(f, "%d %d\n", e.x+1, e.y+1)
	}
	return nil
}

func edgeLess(a, b edge) bool {
	if a.x != b.x {
		return a.x < b.x
	}
	return a.y < b.y
}
