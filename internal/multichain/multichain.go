package multichain

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/manifoldchain/manifoldchain/internal/block"
	"github.com/manifoldchain/manifoldchain/internal/chain"
	"github.com/manifoldchain/manifoldchain/internal/config"
	"github.com/manifoldchain/manifoldchain/internal/types"
	"github.com/manifoldchain/manifoldchain/pkg/hash"
)

// Multichain is the fixed array of per-shard chains a node tracks: its own
// shard's plus a header-level copy of every other. Each chain is guarded by
// its own mutex; lock nesting across components is Multichain -> Mempool ->
// Confirmation and nothing here takes another component's lock.
type Multichain struct {
	cfg    *config.Config
	logger *zap.Logger

	mus    []sync.Mutex
	chains []*chain.Blockchain
}

// New builds shardNum chains, each holding its genesis.
func New(cfg *config.Config, logger *zap.Logger, opts ...func(shardID int) []chain.Option) *Multichain {
	chains := make([]*chain.Blockchain, cfg.ShardNum)
	for i := 0; i < cfg.ShardNum; i++ {
		var chainOpts []chain.Option
		for _, f := range opts {
			chainOpts = append(chainOpts, f(i)...)
		}
		chains[i] = chain.New(cfg, i, logger.With(zap.Int("chain_shard", i)), chainOpts...)
	}
	return &Multichain{
		cfg:    cfg,
		logger: logger,
		mus:    make([]sync.Mutex, cfg.ShardNum),
		chains: chains,
	}
}

// OwnShard is the shard this node validates and mines.
func (m *Multichain) OwnShard() int {
	return m.cfg.ShardID
}

// ShardNum is the number of shards.
func (m *Multichain) ShardNum() int {
	return m.cfg.ShardNum
}

func (m *Multichain) with(shardID int, fn func(bc *chain.Blockchain)) error {
	if shardID < 0 || shardID >= len(m.chains) {
		return fmt.Errorf("multichain: shard %d out of range", shardID)
	}
	m.mus[shardID].Lock()
	defer m.mus[shardID].Unlock()
	fn(m.chains[shardID])
	return nil
}

// InsertBlock inserts block under parent into the given shard's chain.
func (m *Multichain) InsertBlock(blk *block.Block, parent hash.H256, shardID int) (*chain.ConfirmEvent, error) {
	var ev *chain.ConfirmEvent
	var insErr error
	if err := m.with(shardID, func(bc *chain.Blockchain) {
		ev, insErr = bc.Insert(blk, parent)
	}); err != nil {
		return nil, err
	}
	return ev, insErr
}

// MarkVerified flips an unverified block in the given shard.
func (m *Multichain) MarkVerified(h hash.H256, shardID int) (*chain.ConfirmEvent, error) {
	var ev *chain.ConfirmEvent
	var verr error
	if err := m.with(shardID, func(bc *chain.Blockchain) {
		ev, verr = bc.MarkVerified(h)
	}); err != nil {
		return nil, err
	}
	return ev, verr
}

// PruneFork removes the subtree at h in the given shard.
func (m *Multichain) PruneFork(h hash.H256, shardID int) {
	_ = m.with(shardID, func(bc *chain.Blockchain) {
		bc.Prune(h)
	})
}

// Tip returns the own shard's longest-chain tip.
func (m *Multichain) Tip() hash.H256 {
	var h hash.H256
	_ = m.with(m.cfg.ShardID, func(bc *chain.Blockchain) { h = bc.Tip() })
	return h
}

// TipOf returns a shard's longest-chain tip.
func (m *Multichain) TipOf(shardID int) hash.H256 {
	var h hash.H256
	_ = m.with(shardID, func(bc *chain.Blockchain) { h = bc.Tip() })
	return h
}

// Height returns the own shard's longest-chain height.
func (m *Multichain) Height() int {
	var n int
	_ = m.with(m.cfg.ShardID, func(bc *chain.Blockchain) { n = bc.Height() })
	return n
}

// VerifiedHeight returns the own shard's longest verified chain height.
func (m *Multichain) VerifiedHeight() int {
	var n int
	_ = m.with(m.cfg.ShardID, func(bc *chain.Blockchain) { n = bc.VerifiedHeight() })
	return n
}

// LongestVerifiedTip returns the own shard's deepest fully-verified block.
func (m *Multichain) LongestVerifiedTip() hash.H256 {
	return m.LongestVerifiedTipOf(m.cfg.ShardID)
}

// LongestVerifiedTipOf returns a shard's deepest fully-verified block.
func (m *Multichain) LongestVerifiedTipOf(shardID int) hash.H256 {
	var h hash.H256
	_ = m.with(shardID, func(bc *chain.Blockchain) { h = bc.LongestVerifiedTip() })
	return h
}

// InterParentCandidates are the own shard's leaves past the longest
// verified prefix: the parents a miner may cite.
func (m *Multichain) InterParentCandidates() []hash.H256 {
	var leaves []hash.H256
	_ = m.with(m.cfg.ShardID, func(bc *chain.Blockchain) { leaves = bc.Leaves() })
	return leaves
}

// GlobalParentCandidates assembles the global-parent tuple an inclusive
// block commits to: every shard's current leaves, in shard order.
func (m *Multichain) GlobalParentCandidates() []block.ShardParents {
	res := make([]block.ShardParents, m.cfg.ShardNum)
	for i := 0; i < m.cfg.ShardNum; i++ {
		var leaves []hash.H256
		_ = m.with(i, func(bc *chain.Blockchain) { leaves = bc.Leaves() })
		res[i] = block.ShardParents{ShardID: uint32(i), Parents: leaves}
	}
	return res
}

// Block fetches a block from the own shard.
func (m *Multichain) Block(h hash.H256) (*block.Block, bool) {
	return m.BlockOf(h, m.cfg.ShardID)
}

// BlockOf fetches a block from a shard.
func (m *Multichain) BlockOf(h hash.H256, shardID int) (*block.Block, bool) {
	var blk *block.Block
	var ok bool
	_ = m.with(shardID, func(bc *chain.Blockchain) { blk, ok = bc.Block(h) })
	return blk, ok
}

// StatusOf returns a block's verification status in a shard.
func (m *Multichain) StatusOf(h hash.H256, shardID int) (chain.VerStatus, bool) {
	var st chain.VerStatus
	var ok bool
	_ = m.with(shardID, func(bc *chain.Blockchain) { st, ok = bc.Status(h) })
	return st, ok
}

// StateOf returns the own shard's snapshot as of block h.
func (m *Multichain) StateOf(h hash.H256) (chain.State, bool) {
	var st chain.State
	var ok bool
	_ = m.with(m.cfg.ShardID, func(bc *chain.Blockchain) { st, ok = bc.StateOf(h) })
	return st, ok
}

// BlockHeightOf returns h's height in a shard's DAG.
func (m *Multichain) BlockHeightOf(h hash.H256, shardID int) (int, bool) {
	var ht int
	var ok bool
	_ = m.with(shardID, func(bc *chain.Blockchain) { ht, ok = bc.BlockHeight(h) })
	return ht, ok
}

// IsBlockConfirmed reports k-deep confirmation in a shard.
func (m *Multichain) IsBlockConfirmed(h hash.H256, shardID int) bool {
	var ok bool
	_ = m.with(shardID, func(bc *chain.Blockchain) { ok = bc.IsConfirmed(h) })
	return ok
}

// IsBlockInLongestChain reports longest-chain membership in a shard.
func (m *Multichain) IsBlockInLongestChain(h hash.H256, shardID int) bool {
	var ok bool
	_ = m.with(shardID, func(bc *chain.Blockchain) { ok = bc.OnLongestChain(h) })
	return ok
}

// TxInLongestChain looks up an included transaction in the own shard.
func (m *Multichain) TxInLongestChain(txHash hash.H256) (*types.Transaction, bool) {
	var tx *types.Transaction
	var ok bool
	_ = m.with(m.cfg.ShardID, func(bc *chain.Blockchain) { tx, ok = bc.TxInLongestChain(txHash) })
	return tx, ok
}

// BlockWithTx locates the longest-chain inclusion of a transaction in the
// own shard.
func (m *Multichain) BlockWithTx(txHash hash.H256) (*block.Block, int, bool) {
	var blk *block.Block
	var idx int
	var ok bool
	_ = m.with(m.cfg.ShardID, func(bc *chain.Blockchain) { blk, idx, ok = bc.BlockWithTx(txHash) })
	return blk, idx, ok
}

// ChainTo lists genesis-to-h in the own shard.
func (m *Multichain) ChainTo(h hash.H256) []hash.H256 {
	return m.ChainToOf(h, m.cfg.ShardID)
}

// ChainToOf lists genesis-to-h in a shard.
func (m *Multichain) ChainToOf(h hash.H256, shardID int) []hash.H256 {
	var path []hash.H256
	_ = m.with(shardID, func(bc *chain.Blockchain) { path = bc.ChainTo(h) })
	return path
}

// LongestChain lists the own shard's longest chain, genesis first.
func (m *Multichain) LongestChain() []hash.H256 {
	var path []hash.H256
	_ = m.with(m.cfg.ShardID, func(bc *chain.Blockchain) { path = bc.LongestChain() })
	return path
}

// UnverifiedBlocks gathers sample targets across every shard.
func (m *Multichain) UnverifiedBlocks() []chain.SampleTarget {
	var res []chain.SampleTarget
	for i := 0; i < m.cfg.ShardNum; i++ {
		_ = m.with(i, func(bc *chain.Blockchain) {
			res = append(res, bc.UnverifiedBlocks()...)
		})
	}
	return res
}

// GenesisHashOf returns a shard's genesis hash.
func (m *Multichain) GenesisHashOf(shardID int) hash.H256 {
	var h hash.H256
	_ = m.with(shardID, func(bc *chain.Blockchain) { h = bc.GenesisHash() })
	return h
}

// ForkingRate is the own shard's longest-chain share of all blocks.
func (m *Multichain) ForkingRate() float64 {
	var r float64
	_ = m.with(m.cfg.ShardID, func(bc *chain.Blockchain) { r = bc.ForkingRate() })
	return r
}
