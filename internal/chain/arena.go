package chain

import (
	"github.com/manifoldchain/manifoldchain/pkg/hash"
)

// node is one DAG position. A block referenced by several parents occupies
// one node per (parent, block) edge, so the structure stays a tree; the
// byHash index ties the occurrences together. longest is the height of the
// deepest descendant (the node itself if it is a leaf).
type node struct {
	hash     hash.H256
	parent   int // arena index, -1 for the root
	children []int
	height   int
	longest  int
	dead     bool
}

// arena owns the DAG nodes. Pruned slots are marked dead and recycled
// through the free list.
type arena struct {
	nodes  []node
	free   []int
	byHash map[hash.H256][]int
	root   int
}

func newArena(genesis hash.H256) *arena {
	a := &arena{byHash: make(map[hash.H256][]int)}
	a.root = a.alloc(node{hash: genesis, parent: -1})
	return a
}

func (a *arena) alloc(n node) int {
	var idx int
	if len(a.free) > 0 {
		idx = a.free[len(a.free)-1]
		a.free = a.free[:len(a.free)-1]
		a.nodes[idx] = n
	} else {
		idx = len(a.nodes)
		a.nodes = append(a.nodes, n)
	}
	a.byHash[n.hash] = append(a.byHash[n.hash], idx)
	return idx
}

// occurrences returns the live arena slots holding the given block hash.
func (a *arena) occurrences(h hash.H256) []int {
	return a.byHash[h]
}

// first returns the earliest-inserted occurrence of h, or -1.
func (a *arena) first(h hash.H256) int {
	occ := a.byHash[h]
	if len(occ) == 0 {
		return -1
	}
	return occ[0]
}

// insert hangs child under the given parent occurrence. If the edge already
// exists the existing index is returned with grew=false. The longest-height
// mark is propagated up the ancestor chain.
func (a *arena) insert(parentIdx int, child hash.H256) (idx int, grew bool) {
	p := &a.nodes[parentIdx]
	for _, c := range p.children {
		if a.nodes[c].hash == child {
			return c, false
		}
	}
	idx = a.alloc(node{
		hash:    child,
		parent:  parentIdx,
		height:  p.height + 1,
		longest: p.height + 1,
	})
	a.nodes[parentIdx].children = append(a.nodes[parentIdx].children, idx)
	for anc := parentIdx; anc != -1; anc = a.nodes[anc].parent {
		if a.nodes[anc].longest < a.nodes[idx].longest {
			a.nodes[anc].longest = a.nodes[idx].longest
		} else {
			break
		}
	}
	return idx, true
}

// leavesOf collects the hashes of every leaf in the subtree rooted at idx.
func (a *arena) leavesOf(idx int) []hash.H256 {
	n := &a.nodes[idx]
	if len(n.children) == 0 {
		return []hash.H256{n.hash}
	}
	var res []hash.H256
	for _, c := range n.children {
		res = append(res, a.leavesOf(c)...)
	}
	return res
}

// pathTo returns genesis-to-target hashes for the deepest occurrence of h,
// or nil if absent.
func (a *arena) pathTo(h hash.H256) []hash.H256 {
	best := -1
	for _, idx := range a.byHash[h] {
		if best == -1 || a.nodes[idx].height > a.nodes[best].height {
			best = idx
		}
	}
	if best == -1 {
		return nil
	}
	var rev []hash.H256
	for idx := best; idx != -1; idx = a.nodes[idx].parent {
		rev = append(rev, a.nodes[idx].hash)
	}
	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}
	return rev
}

// tip scans for the deepest leaf; equal heights resolve to the lesser hash
// so every replica picks the same tip.
func (a *arena) tip() (hash.H256, int) {
	bestHash := a.nodes[a.root].hash
	bestHeight := a.nodes[a.root].height
	for i := range a.nodes {
		n := &a.nodes[i]
		if n.dead {
			continue
		}
		if n.height > bestHeight || (n.height == bestHeight && n.hash.Less(bestHash)) {
			bestHeight = n.height
			bestHash = n.hash
		}
	}
	return bestHash, bestHeight
}

// longestVerified walks only Verified nodes from the root and returns the
// deepest reachable one, lesser hash on ties.
func (a *arena) longestVerified(status map[hash.H256]VerStatus) (hash.H256, int) {
	return a.longestVerifiedFrom(a.root, status)
}

func (a *arena) longestVerifiedFrom(idx int, status map[hash.H256]VerStatus) (hash.H256, int) {
	n := &a.nodes[idx]
	bestHash, bestHeight := n.hash, n.height
	for _, c := range n.children {
		child := &a.nodes[c]
		if status[child.hash] != Verified {
			continue
		}
		h, ht := a.longestVerifiedFrom(c, status)
		if ht > bestHeight || (ht == bestHeight && h.Less(bestHash)) {
			bestHash, bestHeight = h, ht
		}
	}
	return bestHash, bestHeight
}

// prune removes every subtree rooted at an occurrence of h and returns the
// hashes whose last occurrence disappeared.
func (a *arena) prune(h hash.H256) []hash.H256 {
	targets := append([]int(nil), a.byHash[h]...)
	if len(targets) == 0 {
		return nil
	}
	removed := make(map[hash.H256]bool)
	for _, idx := range targets {
		if a.nodes[idx].dead || idx == a.root {
			continue
		}
		parent := a.nodes[idx].parent
		if parent != -1 {
			kept := a.nodes[parent].children[:0]
			for _, c := range a.nodes[parent].children {
				if c != idx {
					kept = append(kept, c)
				}
			}
			a.nodes[parent].children = kept
		}
		a.release(idx, removed)
	}
	a.recomputeLongest(a.root)
	var gone []hash.H256
	for hh := range removed {
		if len(a.byHash[hh]) == 0 {
			gone = append(gone, hh)
		}
	}
	return gone
}

func (a *arena) release(idx int, removed map[hash.H256]bool) {
	n := &a.nodes[idx]
	for _, c := range n.children {
		a.release(c, removed)
	}
	occ := a.byHash[n.hash][:0]
	for _, o := range a.byHash[n.hash] {
		if o != idx {
			occ = append(occ, o)
		}
	}
	if len(occ) == 0 {
		delete(a.byHash, n.hash)
	} else {
		a.byHash[n.hash] = occ
	}
	removed[n.hash] = true
	n.dead = true
	n.children = nil
	a.free = append(a.free, idx)
}

func (a *arena) recomputeLongest(idx int) int {
	n := &a.nodes[idx]
	longest := n.height
	for _, c := range n.children {
		if l := a.recomputeLongest(c); l > longest {
			longest = l
		}
	}
	n.longest = longest
	return longest
}

// confirmDepth is the longest-descendant depth past any occurrence of h;
// -1 when the hash is unknown.
func (a *arena) confirmDepth(h hash.H256) int {
	best := -1
	for _, idx := range a.byHash[h] {
		n := &a.nodes[idx]
		if d := n.longest - n.height; d > best {
			best = d
		}
	}
	return best
}

// heightOf is the height of the first occurrence, or -1.
func (a *arena) heightOf(h hash.H256) int {
	idx := a.first(h)
	if idx == -1 {
		return -1
	}
	return a.nodes[idx].height
}

// onLongestChain reports whether some occurrence of h heads a subtree as
// deep as the whole DAG.
func (a *arena) onLongestChain(h hash.H256, chainHeight int) bool {
	for _, idx := range a.byHash[h] {
		if a.nodes[idx].longest == chainHeight {
			return true
		}
	}
	return false
}

// size counts live nodes.
func (a *arena) size() int {
	n := 0
	for i := range a.nodes {
		if !a.nodes[i].dead {
			n++
		}
	}
	return n
}
