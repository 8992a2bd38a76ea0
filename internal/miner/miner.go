package miner

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/manifoldchain/manifoldchain/internal/block"
	"github.com/manifoldchain/manifoldchain/internal/chain"
	"github.com/manifoldchain/manifoldchain/internal/config"
	"github.com/manifoldchain/manifoldchain/internal/mempool"
	"github.com/manifoldchain/manifoldchain/internal/metrics"
	"github.com/manifoldchain/manifoldchain/internal/multichain"
	"github.com/manifoldchain/manifoldchain/internal/types"
	"github.com/manifoldchain/manifoldchain/internal/validator"
	"github.com/manifoldchain/manifoldchain/pkg/hash"
)

// Event is one mined block together with the artifacts derived from it:
// per-shard testimonies for the cross-shard transactions it includes, and
// the Output reply transactions for its Input transactions.
type Event struct {
	Block       *block.Block
	Testimonies map[int][]*types.Testimony
	OutputTxs   map[int][]*types.Transaction
}

type signal uint8

const (
	sigStart signal = iota
	sigPause
)

type control struct {
	sig    signal
	lambda time.Duration
}

// Miner assembles candidate blocks from the mempool and runs PoW over
// them. It repackages whenever any of the three parent fingerprints (own
// verified tip, inter-parent set, global-parent tuple) changes.
type Miner struct {
	multichain *multichain.Multichain
	mempool    *mempool.Mempool
	validator  *validator.Validator
	cfg        *config.Config
	logger     *zap.Logger

	ctrl   chan control
	events chan Event
	rng    *rand.Rand

	// candidate currently being mined
	preVerifiedParent hash.H256
	preInterParents   hash.H256
	preGlobalParents  hash.H256
	candidate         *candidate
}

// candidate is a packaged block body awaiting a winning nonce.
type candidate struct {
	cons          block.Consensus
	txBlock       *block.TxBlock
	interParents  []hash.H256
	globalParents []block.ShardParents
}

// New creates a paused miner.
func New(mc *multichain.Multichain, mp *mempool.Mempool, val *validator.Validator, cfg *config.Config, logger *zap.Logger) *Miner {
	return &Miner{
		multichain: mc,
		mempool:    mp,
		validator:  val,
		cfg:        cfg,
		logger:     logger,
		ctrl:       make(chan control, 4),
		events:     make(chan Event, 16),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Events is the stream of mined blocks for the worker to drain.
func (m *Miner) Events() <-chan Event {
	return m.events
}

// StartMining switches the loop to continuous mining with the given pause
// between attempts.
func (m *Miner) StartMining(lambda time.Duration) {
	m.ctrl <- control{sig: sigStart, lambda: lambda}
}

// Pause stops PoW attempts until the next StartMining.
func (m *Miner) Pause() {
	m.ctrl <- control{sig: sigPause}
}

// Run drives the mining loop until ctx is cancelled. Start it on its own
// goroutine.
func (m *Miner) Run(ctx context.Context) {
	m.logger.Info("miner initialized into paused mode")
	running := false
	var lambda time.Duration
	for {
		if !running {
			select {
			case <-ctx.Done():
				return
			case c := <-m.ctrl:
				if c.sig == sigStart {
					running = true
					lambda = c.lambda
					m.logger.Info("miner starting", zap.Duration("lambda", lambda))
				}
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case c := <-m.ctrl:
			if c.sig == sigPause {
				running = false
				m.logger.Info("miner paused")
				continue
			}
			lambda = c.lambda
		default:
		}
		if lambda > 0 {
			time.Sleep(lambda)
		}
		m.Step()
	}
}

// Step performs one mining iteration: refresh parents, repackage if they
// moved, then a single PoW attempt.
func (m *Miner) Step() {
	verifiedParent := m.multichain.LongestVerifiedTip()
	interParents := m.multichain.InterParentCandidates()
	globalParents := m.multichain.GlobalParentCandidates()

	interFingerprint := hash.MultiHash(interParents)
	globalFingerprint := block.GlobalParentRoot(globalParents)

	if verifiedParent != m.preVerifiedParent ||
		interFingerprint != m.preInterParents ||
		globalFingerprint != m.preGlobalParents {
		m.logger.Debug("repackaging candidate block")
		m.repackage(verifiedParent, interParents, globalParents)
		m.preVerifiedParent = verifiedParent
		m.preInterParents = interFingerprint
		m.preGlobalParents = globalFingerprint
	}
	if m.candidate == nil {
		return
	}

	nonce := uint32(m.rng.Int63())
	m.candidate.cons.Header.Nonce = nonce
	hashVal := m.candidate.cons.Hash()
	if !hashVal.LessOrEqual(m.cfg.Difficulty) {
		return
	}

	var mined *block.Block
	if hashVal.LessOrEqual(m.cfg.Threshold) {
		m.logger.Info("mined inclusive block", zap.Stringer("hash", hashVal), zap.Int("shard", m.cfg.ShardID))
		mined = block.NewInclusiveFull(m.candidate.cons, hashVal, m.candidate.interParents, m.candidate.globalParents, m.candidate.txBlock)
		metrics.BlocksMined.WithLabelValues("inclusive").Inc()
	} else {
		m.logger.Info("mined exclusive block", zap.Stringer("hash", hashVal), zap.Int("shard", m.cfg.ShardID))
		mined = block.NewExclusiveFull(m.candidate.cons, hashVal, m.candidate.interParents, m.candidate.txBlock)
		metrics.BlocksMined.WithLabelValues("exclusive").Inc()
	}

	tmys, outputTxs := m.deriveArtifacts(mined)
	m.events <- Event{Block: mined, Testimonies: tmys, OutputTxs: outputTxs}

	// Force a repackage next iteration.
	m.preVerifiedParent = hash.H256{}
	m.preInterParents = hash.H256{}
	m.preGlobalParents = hash.H256{}
	m.candidate = nil
}

// repackage returns the old candidate's transactions to the mempool, then
// pulls up to blockSize fresh ones that survive re-validation. Survivors
// short of a full block are padded with Empty transactions.
func (m *Miner) repackage(verifiedParent hash.H256, interParents []hash.H256, globalParents []block.ShardParents) {
	if m.candidate != nil {
		for i := range m.candidate.txBlock.Txs {
			if m.candidate.txBlock.Txs[i].Flag == types.FlagEmpty {
				continue
			}
			tx := m.candidate.txBlock.Txs[i]
			m.mempool.Insert(&tx)
		}
		for i := range m.candidate.txBlock.Testimonies {
			m.mempool.AddTestimony(&m.candidate.txBlock.Testimonies[i])
		}
		m.candidate = nil
	}

	tip := m.multichain.Tip()
	tipState, ok := m.multichain.StateOf(tip)
	if !ok {
		return
	}

	txs, tmys := m.selectTxs(tip, tipState)
	for len(txs) < m.cfg.BlockSize {
		txs = append(txs, *types.NewEmptyTx(m.cfg.UserSize, m.cfg.NumTxReceivers))
	}

	txBlock := block.NewTxBlock(uint32(m.cfg.ShardID), txs, tmys)
	cons := block.Consensus{
		Header: block.Header{
			Parent:       verifiedParent,
			Difficulty:   m.cfg.Difficulty,
			ShardID:      uint32(m.cfg.ShardID),
			Timestamp:    time.Now().UnixNano(),
			TxMerkleRoot: txBlock.TxMerkleRoot(),
		},
		TestimonyMerkleRoot:    txBlock.TestimonyMerkleRoot(),
		InterParentMerkleRoot:  block.InterParentRoot(interParents),
		GlobalParentMerkleRoot: block.GlobalParentRoot(globalParents),
	}
	m.candidate = &candidate{
		cons:          cons,
		txBlock:       txBlock,
		interParents:  interParents,
		globalParents: globalParents,
	}
}

// selectTxs pops mempool transactions until blockSize survivors are found.
// Each candidate is re-checked: not already on the longest chain, testimony
// complete for the flags that need one, valid against the tip state, and no
// intra-block double spend. Rejects go back to the pool.
func (m *Miner) selectTxs(tip hash.H256, tipState chain.State) ([]types.Transaction, []types.Testimony) {
	var txs []types.Transaction
	var tmys []types.Testimony
	var rejectedTxs []*types.Transaction
	var rejectedTmys []*types.Testimony
	seenInputs := make(map[hash.H256]bool)

	for len(txs) < m.cfg.BlockSize {
		tx, tmy := m.mempool.PopOne()
		if tx == nil {
			break
		}
		if tx.Flag == types.FlagInitial {
			txs = append(txs, *tx)
			continue
		}
		if _, ok := m.multichain.TxInLongestChain(tx.Hash()); ok {
			rejectedTxs = append(rejectedTxs, tx)
			if tmy != nil {
				rejectedTmys = append(rejectedTmys, tmy)
			}
			continue
		}
		if tx.Flag == types.FlagOutput || tx.Flag == types.FlagAccept || tx.Flag == types.FlagReject {
			if tmy == nil || !completeTestimony(tx, tmy) {
				rejectedTxs = append(rejectedTxs, tx)
				if tmy != nil {
					rejectedTmys = append(rejectedTmys, tmy)
				}
				continue
			}
		}
		if proof := m.validator.CheckTxFromState(tx, tmy, tip, tipState); proof != nil {
			rejectedTxs = append(rejectedTxs, tx)
			if tmy != nil {
				rejectedTmys = append(rejectedTmys, tmy)
			}
			continue
		}
		if tx.Flag == types.FlagInput || tx.Flag == types.FlagDomestic {
			doubleSpent := false
			for i := range tx.Inputs {
				if seenInputs[tx.Inputs[i].Hash()] {
					doubleSpent = true
					break
				}
			}
			if doubleSpent {
				rejectedTxs = append(rejectedTxs, tx)
				if tmy != nil {
					rejectedTmys = append(rejectedTmys, tmy)
				}
				continue
			}
			for i := range tx.Inputs {
				seenInputs[tx.Inputs[i].Hash()] = true
			}
		}
		txs = append(txs, *tx)
		if tmy != nil {
			tmys = append(tmys, *tmy)
		}
	}

	for _, tx := range rejectedTxs {
		m.mempool.Insert(tx)
	}
	for _, tmy := range rejectedTmys {
		m.mempool.AddTestimony(tmy)
	}
	return txs, tmys
}

// completeTestimony checks that every required unit is present: one per
// input for an Output, one per output for Accept and Reject.
func completeTestimony(tx *types.Transaction, tmy *types.Testimony) bool {
	switch tx.Flag {
	case types.FlagOutput:
		for i := range tx.Inputs {
			if _, ok := tmy.Unit(tx.Inputs[i].Hash()); !ok {
				return false
			}
		}
	case types.FlagAccept, types.FlagReject:
		for i := range tx.Outputs {
			if _, ok := tmy.Unit(tx.Outputs[i].Hash()); !ok {
				return false
			}
		}
	default:
		return false
	}
	return true
}

// deriveArtifacts synthesizes, for every Input transaction in the mined
// block, a testimony plus an Output reply addressed at each receiver shard,
// and for every Output transaction a testimony addressed at each sender
// shard. Artifacts for the local shard land directly in the mempool.
func (m *Miner) deriveArtifacts(mined *block.Block) (map[int][]*types.Testimony, map[int][]*types.Transaction) {
	tmysByShard := make(map[int][]*types.Testimony)
	outputsByShard := make(map[int][]*types.Transaction)
	txs, err := mined.Txs()
	if err != nil {
		return tmysByShard, outputsByShard
	}
	for idx := range txs {
		tx := &txs[idx]
		switch tx.Flag {
		case types.FlagInput:
			tmy, ok := block.GenerateTestimony(tx, mined, idx, m.cfg.ShardID, m.cfg.ShardNum, true)
			if !ok {
				continue
			}
			outputTx := tx.WithFlag(types.FlagOutput)
			for i := range tx.Outputs {
				shard := types.ShardOfAddr(tx.Outputs[i].ReceiverAddr, m.cfg.ShardNum)
				tmysByShard[shard] = append(tmysByShard[shard], tmy)
				outputsByShard[shard] = append(outputsByShard[shard], outputTx)
				if shard == m.cfg.ShardID {
					m.mempool.AddTestimony(tmy)
					m.mempool.Insert(outputTx)
				}
			}
		case types.FlagOutput:
			tmy, ok := block.GenerateTestimony(tx, mined, idx, m.cfg.ShardID, m.cfg.ShardNum, true)
			if !ok {
				continue
			}
			for i := range tx.Inputs {
				shard := types.ShardOfAddr(tx.Inputs[i].SenderAddr, m.cfg.ShardNum)
				tmysByShard[shard] = append(tmysByShard[shard], tmy)
				if shard == m.cfg.ShardID {
					m.mempool.AddTestimony(tmy)
				}
			}
		}
	}
	return tmysByShard, outputsByShard
}
