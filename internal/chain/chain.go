package chain

import (
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/manifoldchain/manifoldchain/internal/block"
	"github.com/manifoldchain/manifoldchain/internal/config"
	"github.com/manifoldchain/manifoldchain/internal/store"
	"github.com/manifoldchain/manifoldchain/internal/types"
	"github.com/manifoldchain/manifoldchain/pkg/hash"
)

// VerStatus is a block's verification state in this shard's DAG.
type VerStatus uint8

const (
	// Unverified: a foreign header-only block waiting for a
	// data-availability sample.
	Unverified VerStatus = iota
	// Verified: executed locally or vouched for by samples.
	Verified
	// Pruned: removed; the hash may never be re-inserted.
	Pruned
)

func (v VerStatus) String() string {
	switch v {
	case Unverified:
		return "unverified"
	case Verified:
		return "verified"
	case Pruned:
		return "pruned"
	default:
		return "unknown"
	}
}

var (
	// ErrUnknownParent: the named parent is absent or pruned.
	ErrUnknownParent = errors.New("chain: unknown parent")
	// ErrInvalidParent: the parent exists but the block does not reference it.
	ErrInvalidParent = errors.New("chain: block does not reference parent")
	// ErrAlreadyPresent: the (parent, block) edge was inserted before.
	ErrAlreadyPresent = errors.New("chain: already present")
	// ErrUnknownBlock: no such block in this shard's DAG.
	ErrUnknownBlock = errors.New("chain: unknown block")
	// ErrNotUnverified: verification requested for a block not in the
	// Unverified state.
	ErrNotUnverified = errors.New("chain: block is not unverified")
)

// ConfirmEvent names the block k below the tip of the longest verified
// chain (genesis while that chain is shorter than k), reported each time
// the verified height advances.
type ConfirmEvent struct {
	Block  *block.Block
	Height int
}

// TxLocation points at one inclusion of a transaction.
type TxLocation struct {
	BlockHash hash.H256
	Index     int
}

// Blockchain is one shard's block DAG with per-block UTXO state. All
// methods are safe for a single goroutine; Multichain adds the locking.
type Blockchain struct {
	cfg     *config.Config
	shardID int
	logger  *zap.Logger

	arena  *arena
	blocks map[hash.H256]*block.Block
	states map[hash.H256]State
	status map[hash.H256]VerStatus

	// txIndex records every inclusion; a transaction can sit in blocks on
	// competing forks.
	txIndex map[hash.H256][]TxLocation

	// unverified tracks foreign header-only blocks pending samples,
	// hash -> originating shard.
	unverified map[hash.H256]uint32

	// edges de-duplicates (parent, child) pairs; inclusive blocks may
	// arrive once per cited tip.
	edges map[[2]hash.H256]bool

	leaves             []hash.H256
	longestHash        hash.H256
	longestVerified    hash.H256
	height             int
	verifiedHeight     int

	genesisHash hash.H256

	// Optional write-through persistence.
	blockStore *store.Store[*block.Block]
	stateStore *store.Store[StateRecord]
}

// Option configures a Blockchain.
type Option func(*Blockchain)

// WithStores attaches durable block and state stores.
func WithStores(blocks *store.Store[*block.Block], states *store.Store[StateRecord]) Option {
	return func(bc *Blockchain) {
		bc.blockStore = blocks
		bc.stateStore = states
	}
}

// New creates a chain holding only the shard's genesis block, with an empty
// state, already Verified.
func New(cfg *config.Config, shardID int, logger *zap.Logger, opts ...Option) *Blockchain {
	genesis := block.Genesis(uint32(shardID))
	gh := genesis.Hash()
	bc := &Blockchain{
		cfg:             cfg,
		shardID:         shardID,
		logger:          logger,
		arena:           newArena(gh),
		blocks:          map[hash.H256]*block.Block{gh: genesis},
		states:          map[hash.H256]State{gh: make(State)},
		status:          map[hash.H256]VerStatus{gh: Verified},
		txIndex:         make(map[hash.H256][]TxLocation),
		unverified:      make(map[hash.H256]uint32),
		edges:           make(map[[2]hash.H256]bool),
		leaves:          []hash.H256{gh},
		longestHash:     gh,
		longestVerified: gh,
		genesisHash:     gh,
	}
	for _, opt := range opts {
		opt(bc)
	}
	bc.persistBlock(genesis)
	bc.persistState(gh, bc.states[gh])
	return bc
}

// GenesisHash returns the shard's genesis hash.
func (bc *Blockchain) GenesisHash() hash.H256 {
	return bc.genesisHash
}

// validParents lists the parents blk may legally extend in this shard:
// present, not pruned, and named by the block (inter-parents, or the
// global-parent entry for this shard).
func (bc *Blockchain) validParents(blk *block.Block) []hash.H256 {
	candidates := blk.ParentsInShard(uint32(bc.shardID))
	valid := make([]hash.H256, 0, len(candidates))
	for _, p := range candidates {
		if _, ok := bc.blocks[p]; !ok {
			continue
		}
		if bc.status[p] == Pruned {
			continue
		}
		valid = append(valid, p)
	}
	return valid
}

// Insert hangs blk under parent. The parent must be one of the block's
// legal parents in this shard. On success it may return a confirmation
// event; one is returned whenever the longest verified chain grew.
func (bc *Blockchain) Insert(blk *block.Block, parent hash.H256) (*ConfirmEvent, error) {
	blkHash := blk.Hash()
	if bc.edges[[2]hash.H256{parent, blkHash}] {
		return nil, ErrAlreadyPresent
	}
	if bc.status[blkHash] == Pruned {
		return nil, ErrAlreadyPresent
	}
	if _, ok := bc.blocks[parent]; !ok || bc.status[parent] == Pruned {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParent, parent)
	}
	valid := bc.validParents(blk)
	found := false
	for _, p := range valid {
		if p == parent {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: parent %s", ErrInvalidParent, parent)
	}

	parentIdx := bc.arena.first(parent)
	idx, grew := bc.arena.insert(parentIdx, blkHash)
	if !grew {
		return nil, ErrAlreadyPresent
	}
	bc.edges[[2]hash.H256{parent, blkHash}] = true

	// Blocks originated by the holder's own shard (and full blocks, which
	// were executed locally) start Verified; anything else waits for
	// data-availability samples.
	if _, seen := bc.status[blkHash]; !seen {
		if blk.Kind.IsFull() || int(blk.ShardID()) == bc.cfg.ShardID {
			bc.status[blkHash] = Verified
		} else {
			bc.status[blkHash] = Unverified
			bc.unverified[blkHash] = blk.ShardID()
		}
	}
	bc.blocks[blkHash] = blk
	bc.persistBlock(blk)

	// Fork-local snapshot: shared by every occurrence of the same block.
	if _, ok := bc.states[blkHash]; !ok {
		st := bc.states[parent].Clone()
		if txs, err := blk.Txs(); err == nil {
			tmys := blk.Testimonies()
			for i := range txs {
				tx := &txs[i]
				txHash := tx.Hash()
				bc.txIndex[txHash] = append(bc.txIndex[txHash], TxLocation{BlockHash: blkHash, Index: i})
				st.Apply(tx, tmys, bc.shardID, bc.cfg.ShardNum)
			}
		}
		bc.states[blkHash] = st
		bc.persistState(blkHash, st)
	}

	nodeHeight := bc.arena.nodes[idx].height
	if nodeHeight > bc.height || (nodeHeight == bc.height && blkHash.Less(bc.longestHash)) {
		bc.height = nodeHeight
		bc.longestHash = blkHash
	}

	return bc.refreshVerified(), nil
}

// refreshVerified recomputes the longest verified chain and the candidate
// leaves past it, returning a confirmation event if the verified height
// advanced.
func (bc *Blockchain) refreshVerified() *ConfirmEvent {
	vh, vheight := bc.arena.longestVerified(bc.status)
	bc.longestVerified = vh
	var ev *ConfirmEvent
	if vheight > bc.verifiedHeight {
		bc.verifiedHeight = vheight
		history := bc.arena.pathTo(vh)
		confirmedIdx := 0
		if vheight >= bc.cfg.K {
			confirmedIdx = vheight - bc.cfg.K
		}
		if confirmedIdx < len(history) {
			confirmedHash := history[confirmedIdx]
			if blk, ok := bc.blocks[confirmedHash]; ok {
				ev = &ConfirmEvent{Block: blk, Height: confirmedIdx}
			}
		}
	} else {
		bc.verifiedHeight = vheight
	}
	bc.leaves = bc.leavesFromVerified()
	return ev
}

func (bc *Blockchain) leavesFromVerified() []hash.H256 {
	idx := bc.arena.first(bc.longestVerified)
	if idx == -1 {
		return nil
	}
	// Deepest occurrence wins; the first one may sit on a shallower edge.
	for _, o := range bc.arena.occurrences(bc.longestVerified) {
		if bc.arena.nodes[o].height > bc.arena.nodes[idx].height {
			idx = o
		}
	}
	return bc.arena.leavesOf(idx)
}

// MarkVerified flips an Unverified block to Verified after its samples
// check out, and may emit a confirmation event.
func (bc *Blockchain) MarkVerified(h hash.H256) (*ConfirmEvent, error) {
	st, ok := bc.status[h]
	if !ok {
		return nil, ErrUnknownBlock
	}
	if st != Unverified {
		return nil, ErrNotUnverified
	}
	bc.status[h] = Verified
	delete(bc.unverified, h)
	bc.logger.Info("block verified", zap.Stringer("block", h), zap.Int("shard", bc.shardID))
	return bc.refreshVerified(), nil
}

// Prune removes the subtree rooted at h together with its blocks and
// states, then recomputes every derived quantity.
func (bc *Blockchain) Prune(h hash.H256) {
	gone := bc.arena.prune(h)
	if len(gone) == 0 {
		return
	}
	for _, bh := range gone {
		delete(bc.blocks, bh)
		delete(bc.states, bh)
		delete(bc.unverified, bh)
		bc.status[bh] = Pruned
		if bc.blockStore != nil {
			_ = bc.blockStore.Delete(bh)
		}
		if bc.stateStore != nil {
			_ = bc.stateStore.Delete(bh)
		}
		for txHash, locs := range bc.txIndex {
			kept := locs[:0]
			for _, loc := range locs {
				if loc.BlockHash != bh {
					kept = append(kept, loc)
				}
			}
			if len(kept) == 0 {
				delete(bc.txIndex, txHash)
			} else {
				bc.txIndex[txHash] = kept
			}
		}
	}
	bc.longestHash, bc.height = bc.arena.tip()
	vh, vheight := bc.arena.longestVerified(bc.status)
	bc.longestVerified = vh
	bc.verifiedHeight = vheight
	bc.leaves = bc.leavesFromVerified()
	bc.logger.Info("pruned fork",
		zap.Stringer("root", h),
		zap.Int("blocks", len(gone)),
		zap.Int("shard", bc.shardID),
	)
}

// Tip is the deepest block of the DAG, lesser hash on equal heights.
func (bc *Blockchain) Tip() hash.H256 {
	return bc.longestHash
}

// Height is the longest-chain height.
func (bc *Blockchain) Height() int {
	return bc.height
}

// LongestVerifiedTip is the deepest block on an all-Verified path.
func (bc *Blockchain) LongestVerifiedTip() hash.H256 {
	return bc.longestVerified
}

// VerifiedHeight is the height of the longest verified chain.
func (bc *Blockchain) VerifiedHeight() int {
	return bc.verifiedHeight
}

// Leaves are the candidate parents for a miner: every leaf of the subtree
// rooted at the longest verified tip.
func (bc *Blockchain) Leaves() []hash.H256 {
	return append([]hash.H256(nil), bc.leaves...)
}

// LeavesFrom lists all leaves under the subtree rooted at h.
func (bc *Blockchain) LeavesFrom(h hash.H256) []hash.H256 {
	best := -1
	for _, o := range bc.arena.occurrences(h) {
		if best == -1 || bc.arena.nodes[o].height > bc.arena.nodes[best].height {
			best = o
		}
	}
	if best == -1 {
		return nil
	}
	return bc.arena.leavesOf(best)
}

// Block returns the block by hash.
func (bc *Blockchain) Block(h hash.H256) (*block.Block, bool) {
	blk, ok := bc.blocks[h]
	return blk, ok
}

// Status returns the verification status of h.
func (bc *Blockchain) Status(h hash.H256) (VerStatus, bool) {
	st, ok := bc.status[h]
	return st, ok
}

// StateOf returns the fork-local snapshot as of block h.
func (bc *Blockchain) StateOf(h hash.H256) (State, bool) {
	st, ok := bc.states[h]
	return st, ok
}

// BlockHeight is the DAG height of h, or false if absent.
func (bc *Blockchain) BlockHeight(h hash.H256) (int, bool) {
	ht := bc.arena.heightOf(h)
	if ht < 0 {
		return 0, false
	}
	return ht, true
}

// LongestChain lists the block hashes of the longest chain, genesis first.
func (bc *Blockchain) LongestChain() []hash.H256 {
	return bc.arena.pathTo(bc.longestHash)
}

// ChainTo lists genesis-to-h, or nil if h is absent.
func (bc *Blockchain) ChainTo(h hash.H256) []hash.H256 {
	return bc.arena.pathTo(h)
}

// IsConfirmed reports whether the longest chain extends at least k blocks
// past h.
func (bc *Blockchain) IsConfirmed(h hash.H256) bool {
	return bc.arena.confirmDepth(h) >= bc.cfg.K
}

// OnLongestChain reports whether h lies on the longest chain.
func (bc *Blockchain) OnLongestChain(h hash.H256) bool {
	return bc.arena.onLongestChain(h, bc.height)
}

// UnverifiedBlocks lists the foreign blocks still awaiting samples as
// (hash, originating shard) pairs.
func (bc *Blockchain) UnverifiedBlocks() []SampleTarget {
	res := make([]SampleTarget, 0, len(bc.unverified))
	for h, shard := range bc.unverified {
		res = append(res, SampleTarget{BlockHash: h, ShardID: shard})
	}
	return res
}

// SampleTarget identifies an unverified foreign block.
type SampleTarget struct {
	BlockHash hash.H256
	ShardID   uint32
}

// BlockWithTx returns the earliest longest-chain block containing the
// transaction, with its index.
func (bc *Blockchain) BlockWithTx(txHash hash.H256) (*block.Block, int, bool) {
	locs, ok := bc.txIndex[txHash]
	if !ok {
		return nil, 0, false
	}
	onChain := make(map[hash.H256]bool)
	for _, h := range bc.LongestChain() {
		onChain[h] = true
	}
	for _, loc := range locs {
		if onChain[loc.BlockHash] {
			return bc.blocks[loc.BlockHash], loc.Index, true
		}
	}
	return nil, 0, false
}

// TxInLongestChain fetches a transaction included on the longest chain.
func (bc *Blockchain) TxInLongestChain(txHash hash.H256) (*types.Transaction, bool) {
	blk, idx, ok := bc.BlockWithTx(txHash)
	if !ok {
		return nil, false
	}
	txs, err := blk.Txs()
	if err != nil || idx >= len(txs) {
		return nil, false
	}
	return &txs[idx], true
}

// AllTxsInLongestChain walks the longest chain and concatenates every full
// block's transactions.
func (bc *Blockchain) AllTxsInLongestChain() []types.Transaction {
	var res []types.Transaction
	for _, h := range bc.LongestChain() {
		blk := bc.blocks[h]
		if blk == nil {
			continue
		}
		if txs, err := blk.Txs(); err == nil {
			res = append(res, txs...)
		}
	}
	return res
}

// ForkingRate is longest-chain length over total block count, a health
// signal for experiments.
func (bc *Blockchain) ForkingRate() float64 {
	total := bc.arena.size()
	if total == 0 {
		return 0
	}
	return float64(len(bc.LongestChain())) / float64(total)
}

func (bc *Blockchain) persistBlock(blk *block.Block) {
	if bc.blockStore == nil {
		return
	}
	if err := bc.blockStore.Put(blk.Hash(), blk); err != nil {
		bc.logger.Warn("persist block", zap.Error(err))
	}
}

func (bc *Blockchain) persistState(h hash.H256, st State) {
	if bc.stateStore == nil {
		return
	}
	if err := bc.stateStore.Put(h, st.toRecord()); err != nil {
		bc.logger.Warn("persist state", zap.Error(err))
	}
}

// StoredState loads a persisted snapshot, bypassing the in-memory map.
func (bc *Blockchain) StoredState(h hash.H256) (State, error) {
	if bc.stateStore == nil {
		return nil, store.ErrNotFound
	}
	rec, err := bc.stateStore.Get(h)
	if err != nil {
		return nil, err
	}
	return rec.toState(), nil
}

// OpenStores opens the two per-shard stores under dir.
func OpenStores(dir string, logger *zap.Logger) (*store.Store[*block.Block], *store.Store[StateRecord], error) {
	blocks, err := store.Open[*block.Block](filepath.Join(dir, "blocks.db"), "blocks", logger)
	if err != nil {
		return nil, nil, err
	}
	states, err := store.Open[StateRecord](filepath.Join(dir, "states.db"), "states", logger)
	if err != nil {
		blocks.Close()
		return nil, nil, err
	}
	return blocks, states, nil
}
